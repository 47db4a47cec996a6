// Package openai adapts the OpenAI chat-completions API to the
// llmclient.Provider interface.
package openai

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/coactrun/coact/internal/llmclient"
)

// Provider implements llmclient.Provider on top of github.com/openai/openai-go.
type Provider struct {
	client openai.Client
}

// New constructs a Provider. baseURL may be empty to use the default
// OpenAI endpoint (useful for pointing at OpenAI-compatible gateways).
func New(apiKey, baseURL string) *Provider {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &Provider{client: openai.NewClient(opts...)}
}

// Complete issues a plain chat completion.
func (p *Provider) Complete(ctx context.Context, model string, messages []llmclient.Message, maxTokens int, temperature float64, thinkingMode bool) (string, error) {
	params := openai.ChatCompletionNewParams{
		Model:               model,
		Messages:            convertMessages(messages),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Temperature:         openai.Float(temperature),
	}
	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("openai chat: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("openai chat: no choices in response")
	}
	return resp.Choices[0].Message.Content, nil
}

// CompleteWithTools issues a tool-calling chat completion.
func (p *Provider) CompleteWithTools(ctx context.Context, model string, messages []llmclient.Message, tools []llmclient.ToolSpec, maxTokens int, temperature float64, thinkingMode bool) (llmclient.AssistantMessage, error) {
	params := openai.ChatCompletionNewParams{
		Model:               model,
		Messages:            convertMessages(messages),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Temperature:         openai.Float(temperature),
	}
	if converted := convertTools(tools); len(converted) > 0 {
		params.Tools = converted
	}

	resp, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return llmclient.AssistantMessage{}, fmt.Errorf("openai chat with tools: %w", err)
	}
	if len(resp.Choices) == 0 {
		return llmclient.AssistantMessage{}, fmt.Errorf("openai chat with tools: no choices in response")
	}

	choice := resp.Choices[0]
	result := llmclient.AssistantMessage{Content: choice.Message.Content}
	for _, tc := range choice.Message.ToolCalls {
		result.ToolCalls = append(result.ToolCalls, llmclient.ToolCall{
			ID:            tc.ID,
			Name:          tc.Function.Name,
			ArgumentsJSON: tc.Function.Arguments,
		})
	}
	return result, nil
}

func convertMessages(msgs []llmclient.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch msg.Role {
		case llmclient.RoleSystem:
			result = append(result, openai.SystemMessage(msg.Content))
		case llmclient.RoleUser:
			result = append(result, openai.UserMessage(msg.Content))
		case llmclient.RoleAssistant:
			if len(msg.ToolCalls) > 0 {
				toolCalls := make([]openai.ChatCompletionMessageToolCallParam, len(msg.ToolCalls))
				for i, tc := range msg.ToolCalls {
					toolCalls[i] = openai.ChatCompletionMessageToolCallParam{
						ID:   tc.ID,
						Type: "function",
						Function: openai.ChatCompletionMessageToolCallFunctionParam{
							Name:      tc.Name,
							Arguments: tc.ArgumentsJSON,
						},
					}
				}
				result = append(result, openai.ChatCompletionMessageParamUnion{
					OfAssistant: &openai.ChatCompletionAssistantMessageParam{
						Content:   openai.ChatCompletionAssistantMessageParamContentUnion{OfString: openai.String(msg.Content)},
						ToolCalls: toolCalls,
					},
				})
			} else {
				result = append(result, openai.AssistantMessage(msg.Content))
			}
		case llmclient.RoleTool:
			result = append(result, openai.ToolMessage(msg.Content, msg.ToolCallID))
		}
	}
	return result
}

func convertTools(tools []llmclient.ToolSpec) []openai.ChatCompletionToolParam {
	result := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		var params shared.FunctionParameters
		if len(t.Schema) > 0 {
			_ = json.Unmarshal(t.Schema, &params)
		}
		result[i] = openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		}
	}
	return result
}
