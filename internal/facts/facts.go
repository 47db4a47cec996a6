// Package facts maintains the plan's running fact sheet: a single prose
// summary of what has been learned so far, re-synthesized after every step
// completes.
package facts

import (
	"context"
	"fmt"

	"github.com/coactrun/coact/internal/llmclient"
	"github.com/coactrun/coact/internal/plan"
)

// Tracker synthesizes an updated fact sheet after each step, folding the
// step's result into the plan's existing facts via a plain (non-tool) LLM
// call, then writes the result back onto the Plan.
type Tracker struct {
	llm *llmclient.Client
}

// New constructs a Tracker bound to llm.
func New(llm *llmclient.Client) *Tracker {
	return &Tracker{llm: llm}
}

// Update asks the model to fold stepResult into p's existing facts and
// stores the synthesized text back on p. The fact sheet is always replaced
// wholesale, never appended to — it is one evolving summary, not a log.
func (t *Tracker) Update(ctx context.Context, p *plan.Plan, stepResult string) error {
	prompt := buildUpdateFactsPrompt(stepResult, p.Facts())
	result, err := t.llm.Chat(ctx, []llmclient.Message{{Role: llmclient.RoleUser, Content: prompt}})
	if err != nil {
		return fmt.Errorf("update facts: %w", err)
	}
	p.UpdateFacts(result)
	return nil
}

func buildUpdateFactsPrompt(stepResult, existingFacts string) string {
	return fmt.Sprintf(
		"Revise the running fact sheet for this task given the latest step result. "+
			"Produce the complete, updated fact sheet as plain prose — do not just append, "+
			"fold the new information in and drop anything the new result supersedes or invalidates.\n\n"+
			"Existing fact sheet:\n%s\n\nLatest step result:\n%s",
		existingFacts, stepResult)
}
