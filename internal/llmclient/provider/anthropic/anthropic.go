// Package anthropic adapts the Anthropic Messages API to the
// llmclient.Provider interface.
package anthropic

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/coactrun/coact/internal/llmclient"
)

// Provider implements llmclient.Provider on top of
// github.com/anthropics/anthropic-sdk-go.
type Provider struct {
	client anthropic.Client
}

// New constructs a Provider.
func New(apiKey, baseURL string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: anthropic.NewClient(opts...)}
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
	systemContent, converted := convertMessages(messages)

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages:  converted,
	}
	if len(systemContent) > 0 {
		params.System = systemContent
	}
	if converted := convertTools(tools); len(converted) > 0 {
		params.Tools = converted
	}
	params.Temperature = anthropic.Float(temperature)

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return llmclient.AssistantMessage{}, fmt.Errorf("anthropic chat with tools: %w", err)
	}

	result := llmclient.AssistantMessage{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			result.Content += block.Text
		case "tool_use":
			result.ToolCalls = append(result.ToolCalls, llmclient.ToolCall{
				ID:            block.ID,
				Name:          block.Name,
				ArgumentsJSON: string(block.Input),
			})
		}
	}
	return result, nil
}

// convertMessages extracts system content and converts messages to
// Anthropic format: Anthropic requires system messages to be passed
// separately, not in the messages array, and tool results are user
// messages carrying tool_result content blocks.
func convertMessages(msgs []llmclient.Message) ([]anthropic.TextBlockParam, []anthropic.MessageParam) {
	var systemContent []anthropic.TextBlockParam
	messages := make([]anthropic.MessageParam, 0, len(msgs))

	for _, msg := range msgs {
		switch msg.Role {
		case llmclient.RoleSystem:
			systemContent = append(systemContent, anthropic.TextBlockParam{Type: "text", Text: msg.Content})

		case llmclient.RoleUser:
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewTextBlock(msg.Content)},
			})

		case llmclient.RoleAssistant:
			var content []anthropic.ContentBlockParamUnion
			if msg.Content != "" {
				content = append(content, anthropic.NewTextBlock(msg.Content))
			}
			for _, tc := range msg.ToolCalls {
				content = append(content, anthropic.ContentBlockParamUnion{
					OfToolUse: &anthropic.ToolUseBlockParam{
						Type:  "tool_use",
						ID:    tc.ID,
						Name:  tc.Name,
						Input: []byte(tc.ArgumentsJSON),
					},
				})
			}
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleAssistant,
				Content: content,
			})

		case llmclient.RoleTool:
			messages = append(messages, anthropic.MessageParam{
				Role:    anthropic.MessageParamRoleUser,
				Content: []anthropic.ContentBlockParamUnion{anthropic.NewToolResultBlock(msg.ToolCallID, msg.Content, false)},
			})
		}
	}
	return systemContent, messages
}

func convertTools(tools []llmclient.ToolSpec) []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		inputSchema := anthropic.ToolInputSchemaParam{Type: "object"}
		if len(t.Schema) > 0 {
			var props map[string]any
			if err := json.Unmarshal(t.Schema, &props); err == nil {
				if p, ok := props["properties"]; ok {
					inputSchema.Properties = p
				}
			}
		}
		result[i] = anthropic.ToolUnionParam{
			OfTool: &anthropic.ToolParam{
				Name:        t.Name,
				Description: anthropic.String(t.Description),
				InputSchema: inputSchema,
			},
		}
	}
	return result
}
