// Package actor implements the bounded agentic loop that executes a single
// plan step: call the model with the current toolbox, dispatch any
// requested tool calls concurrently, and repeat until the model signals
// completion (via mark_step or terminate) or the iteration budget is
// exhausted.
package actor

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coactrun/coact/internal/llmclient"
	"github.com/coactrun/coact/internal/plan"
	"github.com/coactrun/coact/internal/telemetry"
	"github.com/coactrun/coact/internal/tools"
)

// DefaultMaxIterations bounds an Actor loop when the caller does not
// override it, mirroring base_agent.py's execute(..., max_iteration=20).
const DefaultMaxIterations = 20

// terminatingTools are the tool names whose invocation ends the loop
// immediately, regardless of what else the model requested in the same
// turn — matching _process_response's check for "terminate" / "mark_step".
var terminatingTools = map[string]bool{
	"terminate": true,
	"mark_step": true,
}

// Actor drives one step's execution loop against an LLM client and a
// bounded tool registry.
type Actor struct {
	llm           *llmclient.Client
	registry      *tools.Registry
	logger        telemetry.Logger
	tracer        telemetry.Tracer
	metrics       telemetry.Metrics
	maxIterations int
}

// New constructs an Actor. If maxIterations is 0, DefaultMaxIterations is
// used.
func New(llm *llmclient.Client, registry *tools.Registry, logger telemetry.Logger, tracer telemetry.Tracer, maxIterations int) *Actor {
	if maxIterations <= 0 {
		maxIterations = DefaultMaxIterations
	}
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	return &Actor{llm: llm, registry: registry, logger: logger, tracer: tracer, maxIterations: maxIterations}
}

// SetMetrics attaches a Metrics recorder used to time each step's
// execution. Safe to skip; an Actor with no Metrics attached simply
// records nothing.
func (a *Actor) SetMetrics(m telemetry.Metrics) {
	a.metrics = m
}

// Execute runs the loop for one step and returns the step's final content.
// stepIndex and p are threaded through so tool handlers (in particular
// mark_step) can record execution history against the right step; p may be
// nil for Actor runs not tied to a plan (e.g., standalone tool tests).
//
// Mirrors task_actor_agent.py's act(): the step is marked in_progress
// before anything else runs, and — whichever path the loop below returns
// through — if the step is still in_progress afterward it is marked
// completed with the returned content as notes, or blocked with the error
// text as notes if the run failed. Monotonic status transitions
// (not_started -> in_progress -> {completed, blocked}) hold across every
// return path, not just the happy path.
func (a *Actor) Execute(ctx context.Context, messages []llmclient.Message, stepIndex int, p *plan.Plan) (string, error) {
	ctx, span := a.tracer.Start(ctx, "actor.Execute")
	defer span.End()

	a.markInProgress(ctx, p, stepIndex)

	var content string
	err := telemetry.Timed(a.metrics, "actor.step", nil, func() error {
		var runErr error
		content, runErr = a.run(ctx, messages, stepIndex, p)
		return runErr
	})

	a.finalizeStep(ctx, p, stepIndex, content, err)
	return content, err
}

// run executes the iteration loop proper, recovering any panic into an
// error so finalizeStep can mark the step blocked rather than letting the
// panic unwind past the step boundary — the Go analogue of
// task_actor_agent.py's act() wrapping execute() in try/except Exception.
func (a *Actor) run(ctx context.Context, messages []llmclient.Message, stepIndex int, p *plan.Plan) (content string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("actor panicked: %v", rec)
			content = err.Error()
		}
	}()

	specs := a.registry.Specs()
	toolSpecs := make([]llmclient.ToolSpec, len(specs))
	for i, s := range specs {
		toolSpecs[i] = llmclient.ToolSpec{Name: s.Name, Description: s.Description, Schema: s.Schema}
	}

	for i := 0; i < a.maxIterations; i++ {
		response, chatErr := a.llm.ChatWithTools(ctx, messages, toolSpecs)
		if chatErr != nil {
			a.logger.Warn(ctx, "actor iteration LLM call failed, retrying with error context", "iteration", i, "error", chatErr)
			messages = appendErrorContext(messages, chatErr)
			continue
		}

		responseContent, toolMessages, terminated := a.processResponse(ctx, response, stepIndex, p)
		messages = append(messages, buildAssistantMessage(response))
		messages = append(messages, toolMessages...)
		if terminated {
			return responseContent, nil
		}
	}

	return a.handleMaxIterations(ctx, messages, stepIndex, p)
}

// markInProgress transitions stepIndex to in_progress before any model or
// tool call runs, matching task_actor_agent.py's act() calling
// self.plan.mark_step(step_index, "in_progress") as its first statement.
func (a *Actor) markInProgress(ctx context.Context, p *plan.Plan, stepIndex int) {
	if p == nil {
		return
	}
	status := plan.StatusInProgress
	if err := p.MarkStep(stepIndex, &status, nil); err != nil {
		a.logger.Warn(ctx, "failed to mark step in_progress", "step", stepIndex, "error", err)
	}
}

// finalizeStep closes out the monotonic status transition left open by
// markInProgress: if the step is still in_progress after run() returns
// (through any path — plain content, max-iteration fallback, or a
// recovered panic), it is marked completed with content as notes, or
// blocked with err's text as notes if the run failed. A status other than
// in_progress (e.g. the model itself called mark_step with "blocked")
// is left untouched.
func (a *Actor) finalizeStep(ctx context.Context, p *plan.Plan, stepIndex int, content string, err error) {
	if p == nil {
		return
	}
	steps := p.Steps()
	if stepIndex < 0 || stepIndex >= len(steps) || steps[stepIndex].Status != plan.StatusInProgress {
		return
	}

	if err != nil {
		blocked := plan.StatusBlocked
		notes := err.Error()
		if markErr := p.MarkStep(stepIndex, &blocked, &notes); markErr != nil {
			a.logger.Warn(ctx, "failed to mark step blocked", "step", stepIndex, "error", markErr)
		}
		return
	}

	completed := plan.StatusCompleted
	notes := content
	if markErr := p.MarkStep(stepIndex, &completed, &notes); markErr != nil {
		a.logger.Warn(ctx, "failed to mark step completed", "step", stepIndex, "error", markErr)
	}
}

// appendErrorContext mirrors base_agent.py's execute(), which on an LLM
// call exception mutates the last message's content to carry the error
// forward and retries rather than aborting the whole step.
func appendErrorContext(messages []llmclient.Message, err error) []llmclient.Message {
	if len(messages) == 0 {
		return messages
	}
	out := make([]llmclient.Message, len(messages))
	copy(out, messages)
	last := &out[len(out)-1]
	last.Content = fmt.Sprintf("%s\n\n(previous attempt failed: %v)", last.Content, err)
	return out
}

func buildAssistantMessage(response llmclient.AssistantMessage) llmclient.Message {
	msg := llmclient.Message{
		Role:      llmclient.RoleAssistant,
		Content:   response.Content,
		ToolCalls: response.ToolCalls,
	}
	if response.ReasoningContent != "" {
		rc := response.ReasoningContent
		msg.ReasoningContent = &rc
	}
	return msg
}

// processResponse dispatches any tool calls in response and reports
// whether the step is finished — either because the model returned plain
// content with no tool calls, or because one of the dispatched calls was a
// terminating tool (mark_step or terminate), matching
// base_agent.py's _process_response.
func (a *Actor) processResponse(ctx context.Context, response llmclient.AssistantMessage, stepIndex int, p *plan.Plan) (content string, toolMessages []llmclient.Message, terminated bool) {
	if len(response.ToolCalls) == 0 {
		return response.Content, nil, true
	}

	requests := make([]tools.Request, len(response.ToolCalls))
	for i, tc := range response.ToolCalls {
		requests[i] = tools.Request{ID: tc.ID, Name: tc.Name, ArgumentsJSON: tc.ArgumentsJSON}
	}
	results := a.registry.Dispatch(ctx, requests)

	toolMessages = make([]llmclient.Message, len(results))
	for i, r := range results {
		toolMessages[i] = llmclient.Message{
			Role:       llmclient.RoleTool,
			Name:       r.Name,
			Content:    r.Content,
			ToolCallID: r.ID,
		}
		a.recordToolExecution(p, stepIndex, requests[i], r)
	}

	for i, r := range results {
		if terminatingTools[r.Name] {
			return r.Content, toolMessages, true
		}
		_ = i
	}
	return "", toolMessages, false
}

func (a *Actor) recordToolExecution(p *plan.Plan, stepIndex int, req tools.Request, result tools.Result) {
	if p == nil {
		return
	}
	var args map[string]any
	if req.ArgumentsJSON != "" {
		_ = json.Unmarshal([]byte(req.ArgumentsJSON), &args)
	}
	if err := p.RecordToolExecution(stepIndex, result.Name, args, result.Content); err != nil {
		a.logger.Warn(context.Background(), "failed to record tool execution", "step", stepIndex, "tool", result.Name, "error", err)
	}
}

// handleMaxIterations forces a termination turn once the iteration budget
// is exhausted: the model is asked to summarize and call mark_step, with
// every other tool removed from its toolbox, matching
// base_agent.py's _handle_max_iteration.
func (a *Actor) handleMaxIterations(ctx context.Context, messages []llmclient.Message, stepIndex int, p *plan.Plan) (string, error) {
	messages = append(messages, llmclient.Message{
		Role:    llmclient.RoleUser,
		Content: "Summarize the above conversation, use mark_step to mark the step",
	})

	restricted := []llmclient.ToolSpec{{Name: "mark_step", Description: "Mark the current step's status.", Schema: json.RawMessage(`{"type":"object"}`)}}
	for _, s := range a.registry.Specs() {
		if s.Name == "mark_step" {
			restricted = []llmclient.ToolSpec{{Name: s.Name, Description: s.Description, Schema: s.Schema}}
			break
		}
	}

	response, err := a.llm.ChatWithTools(ctx, messages, restricted)
	if err != nil {
		if len(messages) > 0 {
			return messages[len(messages)-1].Content, nil
		}
		return "", err
	}

	content, _, terminated := a.processResponse(ctx, response, stepIndex, p)
	if terminated {
		return content, nil
	}
	if len(messages) > 0 {
		return messages[len(messages)-1].Content, nil
	}
	return "", nil
}
