// Package planner implements the Planner loop's three meta-operations —
// create_plan, re_plan, and finalize_plan — each a single LLM call forced
// to produce a structured tool call, with invariant enforcement layered on
// top of whatever the model proposes.
package planner

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coactrun/coact/internal/llmclient"
	"github.com/coactrun/coact/internal/plan"
	"github.com/coactrun/coact/internal/telemetry"
)

const (
	createPlanSchema = `{
		"type": "object",
		"properties": {
			"title": {"type": "string"},
			"steps": {"type": "array", "items": {"type": "string"}},
			"dependencies": {"type": "object"}
		},
		"required": ["title", "steps"]
	}`

	finalizePlanSchema = `{
		"type": "object",
		"properties": {
			"answer": {"type": "string"}
		},
		"required": ["answer"]
	}`
)

// ErrInvariantViolation is returned when every re_plan proposal from the
// model, up to the configured number of retries, is rejected by
// plan.Update (for example because it deletes a started step, or its
// dependencies are out of range or cyclic). Dependencies are not compared
// with the previous plan's, so dropping a dependency among preserved steps
// is not a violation.
type ErrInvariantViolation struct {
	Err error
}

func (e *ErrInvariantViolation) Error() string {
	return fmt.Sprintf("re-plan proposal violated invariants: %v", e.Err)
}
func (e *ErrInvariantViolation) Unwrap() error { return e.Err }

// ErrEmptyPlan is returned by CreatePlan when every creation attempt
// produces a plan with no ready steps.
type ErrEmptyPlan struct{ Attempts int }

func (e *ErrEmptyPlan) Error() string {
	return fmt.Sprintf("create_plan produced an empty/unready plan after %d attempts", e.Attempts)
}

// proposal is the shape both create_plan and re_plan ask the model to
// produce.
type proposal struct {
	Title        string           `json:"title"`
	Steps        []string         `json:"steps"`
	Dependencies map[string][]int `json:"dependencies"`
}

func (p proposal) dependencyMap() map[int][]int {
	if len(p.Dependencies) == 0 {
		return nil
	}
	out := make(map[int][]int, len(p.Dependencies))
	for k, v := range p.Dependencies {
		var idx int
		if _, err := fmt.Sscanf(k, "%d", &idx); err != nil {
			continue
		}
		out[idx] = v
	}
	return out
}

// Config controls Planner behavior for the Open Questions resolved in
// DESIGN.md.
type Config struct {
	// ReplanOnlyOnBlocked, when true, skips re_plan on waves that
	// completed without producing any blocked step (the opt-in
	// alternative to the default "re-plan every wave" behavior).
	ReplanOnlyOnBlocked bool
	// MaxCreateAttempts bounds create_plan retries when the proposed
	// plan has no ready steps. Defaults to 3.
	MaxCreateAttempts int
	// MaxInvariantRetries bounds re_plan retries when the model's
	// proposal violates a preservation invariant. Defaults to 3.
	MaxInvariantRetries int
}

// DefaultConfig returns sensible defaults matching the original's retry
// counts.
func DefaultConfig() Config {
	return Config{MaxCreateAttempts: 3, MaxInvariantRetries: 3}
}

// Planner drives the plan-creation, re-planning, and finalization LLM
// calls.
type Planner struct {
	llm    *llmclient.Client
	cfg    Config
	logger telemetry.Logger
}

// New constructs a Planner.
func New(llm *llmclient.Client, cfg Config, logger telemetry.Logger) *Planner {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Planner{llm: llm, cfg: cfg, logger: logger}
}

// CreatePlan asks the model to decompose task into a DAG of steps,
// retrying up to MaxCreateAttempts times if the resulting plan has no
// ready steps (e.g., every step depends on something, or dependencies form
// a cycle the model keeps proposing), feeding the prior failure back into
// the next attempt's prompt — matching manus.py's Manus.execute retry loop
// around create_plan.
func (pl *Planner) CreatePlan(ctx context.Context, task string) (*plan.Plan, error) {
	maxAttempts := pl.cfg.MaxCreateAttempts
	if maxAttempts <= 0 {
		maxAttempts = 3
	}

	p := plan.New(task)
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		prompt := buildCreatePlanPrompt(task, lastErr)
		prop, err := pl.proposeStructured(ctx, prompt, "create_plan", createPlanSchema)
		if err != nil {
			lastErr = err
			continue
		}
		if err := p.Update(prop.Title, prop.Steps, prop.dependencyMap()); err != nil {
			lastErr = err
			continue
		}
		if len(p.ReadySteps()) > 0 {
			return p, nil
		}
		lastErr = fmt.Errorf("plan has no ready steps")
	}
	return nil, &ErrEmptyPlan{Attempts: maxAttempts}
}

func buildCreatePlanPrompt(task string, lastErr error) string {
	prompt := fmt.Sprintf(
		"Decompose the following task into a DAG of steps using the create_plan tool. "+
			"Each step should be a concrete, independently actionable unit of work. "+
			"Use the dependencies object (step index -> list of prerequisite step indices) "+
			"only where genuinely required; prefer parallelizable steps.\n\nTask: %s", task)
	if lastErr != nil {
		prompt += fmt.Sprintf("\n\nThe previous attempt failed: %v. Produce a plan with at least one step that has no dependencies.", lastErr)
	}
	return prompt
}

// RePlan asks the model to revise p given its current progress, notes, and
// facts, enforcing in code (see plan.Update) that the proposal never
// deletes a not-not_started step and keeps the status, notes, and history
// of every started step it re-lists. The proposal's dependency lists are
// taken as given: they are checked for range and cycles but not against
// the previous dependencies, so dependencies among preserved steps are not
// enforced. If the model's proposal is rejected by plan.Update, RePlan
// retries up to MaxInvariantRetries times before giving up.
//
// When Config.ReplanOnlyOnBlocked is set, RePlan is a no-op for any wave
// that completed without leaving a blocked step behind — the opt-in
// alternative to the default "re-plan every wave" behavior (see
// plan.Plan.HasBlockedSteps).
func (pl *Planner) RePlan(ctx context.Context, p *plan.Plan) error {
	if pl.cfg.ReplanOnlyOnBlocked && !p.HasBlockedSteps() {
		return nil
	}

	maxRetries := pl.cfg.MaxInvariantRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		prompt := buildRePlanPrompt(p, lastErr)
		prop, err := pl.proposeStructured(ctx, prompt, "re_plan", createPlanSchema)
		if err != nil {
			lastErr = err
			continue
		}
		if err := p.Update(prop.Title, prop.Steps, prop.dependencyMap()); err != nil {
			lastErr = err
			pl.logger.Warn(ctx, "re_plan proposal violated invariants, retrying", "attempt", attempt, "error", err)
			continue
		}
		return nil
	}
	return &ErrInvariantViolation{Err: lastErr}
}

func buildRePlanPrompt(p *plan.Plan, lastErr error) string {
	prompt := fmt.Sprintf(
		"Given the current plan state below, revise it using the re_plan tool if new information "+
			"changes what remains to be done. You must re-list every already-started or completed step "+
			"exactly as given (same description, same relative order) — only not_started steps may be "+
			"added, removed, or reworded. Preserve dependencies involving preserved steps.\n\n%s",
		p.Format(true))
	if lastErr != nil {
		prompt += fmt.Sprintf("\n\nThe previous re_plan proposal was rejected: %v. Re-list every started/completed step unchanged.", lastErr)
	}
	return prompt
}

// finalizeProposal is the shape finalize_plan asks the model to produce.
type finalizeProposal struct {
	Answer string `json:"answer"`
}

// FinalizePlan asks the model to synthesize a final answer from the
// completed plan's accumulated facts and step notes.
func (pl *Planner) FinalizePlan(ctx context.Context, p *plan.Plan) (string, error) {
	prompt := fmt.Sprintf(
		"All actionable steps are done or blocked. Using the finalize_plan tool, "+
			"synthesize a final answer to the original task from the plan's results below.\n\n%s\n\nFacts:\n%s",
		p.Format(true), p.Facts())

	toolSpecs := []llmclient.ToolSpec{{
		Name:        "finalize_plan",
		Description: "Produce the final answer to the task.",
		Schema:      jsonRaw(finalizePlanSchema),
	}}
	response, err := pl.llm.ChatWithTools(ctx, []llmclient.Message{{Role: llmclient.RoleUser, Content: prompt}}, toolSpecs)
	if err != nil {
		return "", fmt.Errorf("finalize_plan: %w", err)
	}

	if len(response.ToolCalls) == 0 {
		return response.Content, nil
	}
	var fp finalizeProposal
	if err := json.Unmarshal([]byte(response.ToolCalls[0].ArgumentsJSON), &fp); err != nil {
		return response.Content, nil
	}
	return fp.Answer, nil
}

// proposeStructured issues a single forced-tool-call LLM request and
// decodes the result into a proposal, falling back to parsing the plain
// content as JSON if the provider/model did not emit a tool call.
func (pl *Planner) proposeStructured(ctx context.Context, prompt, toolName, schema string) (proposal, error) {
	toolSpecs := []llmclient.ToolSpec{{
		Name:        toolName,
		Description: "Propose the plan's title, ordered steps, and step dependencies.",
		Schema:      jsonRaw(schema),
	}}
	response, err := pl.llm.ChatWithTools(ctx, []llmclient.Message{{Role: llmclient.RoleUser, Content: prompt}}, toolSpecs)
	if err != nil {
		return proposal{}, err
	}

	var raw string
	if len(response.ToolCalls) > 0 {
		raw = response.ToolCalls[0].ArgumentsJSON
	} else {
		raw = response.Content
	}

	var prop proposal
	if err := json.Unmarshal([]byte(raw), &prop); err != nil {
		return proposal{}, fmt.Errorf("%s: decode proposal: %w", toolName, err)
	}
	if len(prop.Steps) == 0 {
		return proposal{}, fmt.Errorf("%s: proposal has no steps", toolName)
	}
	return prop, nil
}

func jsonRaw(s string) json.RawMessage { return json.RawMessage(s) }
