package llmclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/coactrun/coact/internal/telemetry"
)

// ToolSpec is the provider-facing shape of a registered tool: a name,
// description, and JSON-schema parameter description, fed verbatim into
// the chat-completions request.
type ToolSpec struct {
	Name        string
	Description string
	Schema      json.RawMessage
}

// AssistantMessage is the result of ChatWithTools: either a plain content
// reply or a tool-calling reply.
type AssistantMessage struct {
	Content          string
	ToolCalls        []ToolCall
	ReasoningContent string
}

// Provider is the wire-level transport a Client drives. Concrete adapters
// live under internal/llmclient/provider/{openai,anthropic,bedrock} and
// translate to/from each vendor's native request/response shape.
type Provider interface {
	// Complete issues a plain chat completion and returns the assistant's
	// text content.
	Complete(ctx context.Context, model string, messages []Message, maxTokens int, temperature float64, thinkingMode bool) (string, error)

	// CompleteWithTools issues a tool-calling chat completion.
	CompleteWithTools(ctx context.Context, model string, messages []Message, tools []ToolSpec, maxTokens int, temperature float64, thinkingMode bool) (AssistantMessage, error)
}

// ErrLLMCallFailed wraps the last underlying error after retry exhaustion.
type ErrLLMCallFailed struct {
	Attempts int
	Err      error
}

func (e *ErrLLMCallFailed) Error() string {
	return fmt.Sprintf("chat with LLM failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *ErrLLMCallFailed) Unwrap() error { return e.Err }

// ContextLengthError marks a provider rejection due to exceeding its
// context window. Recovery (see callWithRetry) shrinks the retained
// history budget and retries without spending a retry-budget attempt.
type ContextLengthError struct{ Err error }

func (e *ContextLengthError) Error() string { return e.Err.Error() }
func (e *ContextLengthError) Unwrap() error { return e.Err }

// Config holds the configuration knobs recognized by the LLM client,
// mirroring the original's environment-variable-driven ChatLLM fields.
type Config struct {
	Model                    string
	MaxTokens                int
	Temperature              float64
	ThinkingMode             bool
	MaxMessages              int
	MaxToolContentLength     int
	EnableContextCompression bool
	MaxContextTokens         int
	CompressionThreshold     float64
	KeepInitialTurns         int
	KeepRecentTurns          int
	// MaxContextLengthShrinks bounds the number of context-length
	// recovery shrinks attempted before giving up — a defensive cap
	// absent from the original (see DESIGN.md Open Question #2).
	MaxContextLengthShrinks int
}

// DefaultConfig returns the configuration defaults named in spec.md §6.
func DefaultConfig() Config {
	return Config{
		MaxTokens:               8192,
		MaxMessages:             20,
		MaxToolContentLength:    50000,
		MaxContextTokens:        128000,
		CompressionThreshold:    0.8,
		KeepInitialTurns:        2,
		KeepRecentTurns:         3,
		MaxContextLengthShrinks: 10,
	}
}

// Client implements the two-operation LLM contract (Chat, ChatWithTools)
// on top of a Provider, applying retry/backoff, argument repair, and
// context-window management per spec.md §4.2.
type Client struct {
	provider  Provider
	cfg       Config
	tokenizer Tokenizer
	logger    telemetry.Logger
	tracer    telemetry.Tracer

	// retainedMaxMessages tracks the (possibly shrunk) message-count
	// budget used for fallback truncation; it only ever decreases, via
	// context-length error recovery, mirroring self.max_messages in the
	// original.
	retainedMaxMessages int
}

// New constructs a Client. If tokenizer is nil, a deterministic heuristic
// (Chinese ≈1.5 chars/token, other ≈4 chars/token) is used.
func New(provider Provider, cfg Config, tokenizer Tokenizer, logger telemetry.Logger, tracer telemetry.Tracer) *Client {
	if tokenizer == nil {
		tokenizer = heuristicTokenizer{}
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Client{
		provider:            provider,
		cfg:                 cfg,
		tokenizer:           tokenizer,
		logger:              logger,
		tracer:              tracer,
		retainedMaxMessages: cfg.MaxMessages,
	}
}

// Chat issues a plain completion, applying the same context-management
// pipeline as ChatWithTools.
func (c *Client) Chat(ctx context.Context, messages []Message) (string, error) {
	return c.chatRaw(ctx, messages)
}

func (c *Client) chatRaw(ctx context.Context, messages []Message) (string, error) {
	ctx, span := c.tracer.Start(ctx, "llmclient.Chat")
	defer span.End()

	prepared := c.prepareMessages(ctx, messages)

	var result string
	err := c.callWithRetry(ctx, func(attemptMessages []Message) error {
		out, err := c.provider.Complete(ctx, c.cfg.Model, attemptMessages, c.cfg.MaxTokens, c.cfg.Temperature, c.cfg.ThinkingMode)
		if err != nil {
			return err
		}
		result = stripThinkTag(out)
		return nil
	}, prepared)
	return result, err
}

// ChatWithTools issues a tool-calling completion. On success, tool-call
// arguments that fail to parse as JSON are repaired per spec.md §4.2
// before the response is returned.
func (c *Client) ChatWithTools(ctx context.Context, messages []Message, tools []ToolSpec) (AssistantMessage, error) {
	ctx, span := c.tracer.Start(ctx, "llmclient.ChatWithTools")
	defer span.End()

	prepared := c.prepareMessages(ctx, messages)

	var result AssistantMessage
	err := c.callWithRetry(ctx, func(attemptMessages []Message) error {
		out, err := c.provider.CompleteWithTools(ctx, c.cfg.Model, attemptMessages, tools, c.cfg.MaxTokens, c.cfg.Temperature, c.cfg.ThinkingMode)
		if err != nil {
			return err
		}
		out.Content = stripThinkTag(out.Content)
		result = out
		return nil
	}, prepared)
	if err != nil {
		return AssistantMessage{}, err
	}

	c.repairToolArguments(ctx, &result)
	return result, nil
}

func (c *Client) prepareMessages(ctx context.Context, messages []Message) []Message {
	prepared := ensureReasoningContent(messages, c.cfg.ThinkingMode)

	if should, tokens := c.shouldCompress(prepared); should {
		c.logger.Info(ctx, "triggering context compression", "tokens", tokens)
		prepared = c.compressContext(ctx, prepared)
		prepared = ensureReasoningContent(prepared, c.cfg.ThinkingMode)
	}
	return prepared
}

// callWithRetry drives up to 5 attempts, applying the error-class-specific
// backoff from spec.md §4.2, and context-length shrink-retries that do not
// count against the retry budget.
func (c *Client) callWithRetry(ctx context.Context, attempt func([]Message) error, messages []Message) error {
	const maxRetries = 5
	shrinks := 0
	lastErr := error(nil)

	for i := 0; i < maxRetries; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		err := attempt(messages)
		if err == nil {
			return nil
		}
		lastErr = err

		if isContextLengthError(err) && shrinks < c.cfg.MaxContextLengthShrinks {
			shrinks++
			c.retainedMaxMessages = max(5, c.retainedMaxMessages-5)
			shrunkCfg := c.cfg
			shrunkCfg.MaxMessages = c.retainedMaxMessages
			withShrunk := *c
			withShrunk.cfg = shrunkCfg
			messages = withShrunk.truncateMessages(messages)
			c.logger.Warn(ctx, "context length exceeded, truncating more aggressively", "max_messages", c.retainedMaxMessages)
			sleep(ctx, 2*time.Second)
			i-- // does not count against the retry budget
			continue
		}

		if i == maxRetries-1 {
			c.logger.Error(ctx, "LLM call failed after retries", "attempts", maxRetries, "error", err)
			return &ErrLLMCallFailed{Attempts: maxRetries, Err: err}
		}

		delay := backoffFor(err)
		c.logger.Warn(ctx, "chat with LLM error, retrying", "attempt", i+1, "error", err, "delay", delay)
		sleep(ctx, delay)
	}
	return &ErrLLMCallFailed{Attempts: maxRetries, Err: lastErr}
}

func backoffFor(err error) time.Duration {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "tpm limit"):
		return 60 * time.Second
	case strings.Contains(msg, "rate limit"):
		return 30 * time.Second
	case strings.Contains(msg, "timeout"):
		return 10 * time.Second
	default:
		return 3 * time.Second
	}
}

func isContextLengthError(err error) bool {
	var cle *ContextLengthError
	if errors.As(err, &cle) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "maximum context length") || strings.Contains(msg, "context length")
}

func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func stripThinkTag(content string) string {
	if idx := strings.LastIndex(content, "</think>"); idx >= 0 {
		return strings.Trim(content[idx+len("</think>"):], "\n")
	}
	return content
}

// repairToolArguments validates each tool call's ArgumentsJSON, issuing up
// to 3 LLM-assisted repair calls on parse failure; if all fail, arguments
// are replaced with "{}" and execution continues. This mirrors
// check_and_fix_tool_call_params, generalized to every tool call in the
// response rather than only the first (the original only repairs
// tool_calls[0]; repairing every call is a faithfulness-preserving
// strengthening since spec.md §4.2 speaks of "each tool call").
func (c *Client) repairToolArguments(ctx context.Context, msg *AssistantMessage) {
	for i := range msg.ToolCalls {
		tc := &msg.ToolCalls[i]
		if json.Valid([]byte(tc.ArgumentsJSON)) {
			continue
		}
		fixed := false
		for attempt := 0; attempt < 3; attempt++ {
			c.logger.Warn(ctx, "tool call arguments JSON decode error", "attempt", attempt+1, "tool", tc.Name)
			prompt := fmt.Sprintf("The following JSON string is malformed. Please fix it. Important: output only the corrected string.\n%s", tc.ArgumentsJSON)
			candidate, err := c.chatRaw(ctx, []Message{{Role: RoleUser, Content: prompt}})
			if err == nil && json.Valid([]byte(candidate)) {
				tc.ArgumentsJSON = candidate
				c.logger.Info(ctx, "fixed tool call arguments", "attempt", attempt+1, "tool", tc.Name)
				fixed = true
				break
			}
			c.logger.Error(ctx, "failed to fix tool call arguments", "attempt", attempt+1, "tool", tc.Name, "error", err)
		}
		if !fixed {
			tc.ArgumentsJSON = "{}"
			c.logger.Warn(ctx, "using empty JSON object as fallback for tool call arguments", "tool", tc.Name)
		}
	}
}

func max(a, b int) int {
	if a > b {
		return a
	}
	return b
}
