// Package bedrock adapts the AWS Bedrock Converse API to the
// llmclient.Provider interface: split system vs. conversational messages,
// encode tool schemas into Bedrock's ToolConfiguration, and translate
// Converse responses (text + tool_use blocks) back into llmclient's
// provider-agnostic shapes.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime/document"
	brtypes "github.com/aws/aws-sdk-go-v2/service/bedrockruntime/types"
	smithy "github.com/aws/smithy-go"
	smithyhttp "github.com/aws/smithy-go/transport/http"

	"github.com/coactrun/coact/internal/llmclient"
)

// RuntimeClient mirrors the subset of the AWS Bedrock runtime client
// required by the adapter, matching *bedrockruntime.Client so callers can
// pass either the real client or a mock in tests.
type RuntimeClient interface {
	Converse(ctx context.Context, params *bedrockruntime.ConverseInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.ConverseOutput, error)
}

// Provider implements llmclient.Provider on top of the Bedrock Converse API.
type Provider struct {
	runtime RuntimeClient
}

// New constructs a Provider.
func New(runtime RuntimeClient) *Provider {
	return &Provider{runtime: runtime}
}

// Complete issues a plain chat completion.
func (p *Provider) Complete(ctx context.Context, model string, messages []llmclient.Message, maxTokens int, temperature float64, thinkingMode bool) (string, error) {
	msg, err := p.complete(ctx, model, messages, nil, maxTokens, temperature)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

// CompleteWithTools issues a tool-calling chat completion.
func (p *Provider) CompleteWithTools(ctx context.Context, model string, messages []llmclient.Message, tools []llmclient.ToolSpec, maxTokens int, temperature float64, thinkingMode bool) (llmclient.AssistantMessage, error) {
	return p.complete(ctx, model, messages, tools, maxTokens, temperature)
}

func (p *Provider) complete(ctx context.Context, model string, messages []llmclient.Message, tools []llmclient.ToolSpec, maxTokens int, temperature float64) (llmclient.AssistantMessage, error) {
	canonToSan, sanToCanon, toolConfig, err := encodeTools(tools)
	if err != nil {
		return llmclient.AssistantMessage{}, err
	}
	conversation, system, err := encodeMessages(messages, canonToSan)
	if err != nil {
		return llmclient.AssistantMessage{}, err
	}

	input := &bedrockruntime.ConverseInput{
		ModelId:  aws.String(model),
		Messages: conversation,
	}
	if len(system) > 0 {
		input.System = system
	}
	if toolConfig != nil {
		input.ToolConfig = toolConfig
	}
	var cfg brtypes.InferenceConfiguration
	if maxTokens > 0 {
		cfg.MaxTokens = aws.Int32(int32(maxTokens))
	}
	if temperature > 0 {
		cfg.Temperature = aws.Float32(float32(temperature))
	}
	if cfg.MaxTokens != nil || cfg.Temperature != nil {
		input.InferenceConfig = &cfg
	}

	output, err := p.runtime.Converse(ctx, input)
	if err != nil {
		if isRateLimited(err) {
			return llmclient.AssistantMessage{}, fmt.Errorf("bedrock converse: rate limit: %w", err)
		}
		return llmclient.AssistantMessage{}, fmt.Errorf("bedrock converse: %w", err)
	}
	return translateResponse(output, sanToCanon)
}

func encodeMessages(msgs []llmclient.Message, nameMap map[string]string) ([]brtypes.Message, []brtypes.SystemContentBlock, error) {
	conversation := make([]brtypes.Message, 0, len(msgs))
	var system []brtypes.SystemContentBlock

	for _, m := range msgs {
		switch m.Role {
		case llmclient.RoleSystem:
			if m.Content != "" {
				system = append(system, &brtypes.SystemContentBlockMemberText{Value: m.Content})
			}
			continue

		case llmclient.RoleUser:
			conversation = append(conversation, brtypes.Message{
				Role:    brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberText{Value: m.Content}},
			})

		case llmclient.RoleAssistant:
			var blocks []brtypes.ContentBlock
			if m.Content != "" {
				blocks = append(blocks, &brtypes.ContentBlockMemberText{Value: m.Content})
			}
			for _, tc := range m.ToolCalls {
				sanitized, ok := nameMap[tc.Name]
				if !ok {
					sanitized = sanitizeToolName(tc.Name)
				}
				blocks = append(blocks, &brtypes.ContentBlockMemberToolUse{Value: brtypes.ToolUseBlock{
					ToolUseId: aws.String(tc.ID),
					Name:      aws.String(sanitized),
					Input:     toDocument(tc.ArgumentsJSON),
				}})
			}
			if len(blocks) == 0 {
				continue
			}
			conversation = append(conversation, brtypes.Message{Role: brtypes.ConversationRoleAssistant, Content: blocks})

		case llmclient.RoleTool:
			conversation = append(conversation, brtypes.Message{
				Role: brtypes.ConversationRoleUser,
				Content: []brtypes.ContentBlock{&brtypes.ContentBlockMemberToolResult{Value: brtypes.ToolResultBlock{
					ToolUseId: aws.String(m.ToolCallID),
					Content:   []brtypes.ToolResultContentBlock{&brtypes.ToolResultContentBlockMemberText{Value: m.Content}},
				}}},
			})
		}
	}
	if len(conversation) == 0 {
		return nil, nil, errors.New("bedrock: at least one user/assistant message is required")
	}
	return conversation, system, nil
}

func encodeTools(tools []llmclient.ToolSpec) (canonToSan, sanToCanon map[string]string, cfg *brtypes.ToolConfiguration, err error) {
	if len(tools) == 0 {
		return nil, nil, nil, nil
	}
	canonToSan = make(map[string]string, len(tools))
	sanToCanon = make(map[string]string, len(tools))
	list := make([]brtypes.Tool, 0, len(tools))
	for _, t := range tools {
		sanitized := sanitizeToolName(t.Name)
		if prev, ok := sanToCanon[sanitized]; ok && prev != t.Name {
			return nil, nil, nil, fmt.Errorf("bedrock: tool name %q sanitizes to %q which collides with %q", t.Name, sanitized, prev)
		}
		canonToSan[t.Name] = sanitized
		sanToCanon[sanitized] = t.Name
		list = append(list, &brtypes.ToolMemberToolSpec{Value: brtypes.ToolSpecification{
			Name:        aws.String(sanitized),
			Description: aws.String(t.Description),
			InputSchema: &brtypes.ToolInputSchemaMemberJson{Value: toDocument(string(t.Schema))},
		}})
	}
	return canonToSan, sanToCanon, &brtypes.ToolConfiguration{Tools: list}, nil
}

// sanitizeToolName maps a tool name to characters allowed by Bedrock's
// [a-zA-Z0-9_-]+ constraint, replacing any disallowed rune with '_'.
func sanitizeToolName(in string) string {
	out := make([]rune, 0, len(in))
	for _, r := range in {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}

func translateResponse(output *bedrockruntime.ConverseOutput, nameMap map[string]string) (llmclient.AssistantMessage, error) {
	if output == nil {
		return llmclient.AssistantMessage{}, errors.New("bedrock: response is nil")
	}
	var result llmclient.AssistantMessage
	msg, ok := output.Output.(*brtypes.ConverseOutputMemberMessage)
	if !ok {
		return result, nil
	}
	for _, block := range msg.Value.Content {
		switch v := block.(type) {
		case *brtypes.ContentBlockMemberText:
			result.Content += v.Value
		case *brtypes.ContentBlockMemberToolUse:
			name := ""
			if v.Value.Name != nil {
				name = *v.Value.Name
				if canonical, ok := nameMap[name]; ok {
					name = canonical
				}
			}
			var id string
			if v.Value.ToolUseId != nil {
				id = *v.Value.ToolUseId
			}
			result.ToolCalls = append(result.ToolCalls, llmclient.ToolCall{
				ID:            id,
				Name:          name,
				ArgumentsJSON: string(decodeDocument(v.Value.Input)),
			})
		}
	}
	return result, nil
}

func toDocument(raw string) document.Interface {
	var decoded any = map[string]any{"type": "object"}
	if raw != "" {
		_ = json.Unmarshal([]byte(raw), &decoded)
	}
	return document.NewLazyDocument(&decoded)
}

func decodeDocument(doc document.Interface) json.RawMessage {
	if doc == nil {
		return nil
	}
	data, err := doc.MarshalSmithyDocument()
	if err != nil {
		return nil
	}
	return json.RawMessage(data)
}

// isRateLimited reports whether err represents a provider rate-limiting
// condition (HTTP 429 or a Throttling/TooManyRequests error code), so the
// caller can apply the rate-limit backoff rather than the generic one.
func isRateLimited(err error) bool {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ThrottlingException", "TooManyRequestsException":
			return true
		}
	}
	var respErr *smithyhttp.ResponseError
	if errors.As(err, &respErr) && respErr.HTTPStatusCode() == 429 {
		return true
	}
	return strings.Contains(strings.ToLower(err.Error()), "rate limit")
}
