// Package builtin provides the two tools every Actor's toolbox always
// carries: mark_step (update the current step's status/notes) and
// terminate (end the Actor loop early with a final answer).
package builtin

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/coactrun/coact/internal/plan"
	"github.com/coactrun/coact/internal/tools"
)

// MarkStepSchema is the JSON schema advertised to the model for mark_step.
const MarkStepSchema = `{
	"type": "object",
	"properties": {
		"status": {"type": "string", "enum": ["completed", "blocked", "in_progress"]},
		"notes": {"type": "string"}
	},
	"required": ["status"]
}`

// TerminateSchema is the JSON schema advertised to the model for terminate.
const TerminateSchema = `{
	"type": "object",
	"properties": {
		"message": {"type": "string"}
	},
	"required": ["message"]
}`

// MarkStep returns a registerable Spec+Handler pair that records the
// outcome of stepIndex on p. The Actor loop treats a mark_step call as a
// termination signal for the current iteration regardless of its handler
// result, mirroring base_agent.py's _process_response.
func MarkStep(p *plan.Plan, stepIndex int) (tools.Spec, tools.Handler) {
	spec := tools.Spec{
		Name:        "mark_step",
		Description: "Mark the current step's status and optionally record notes (including any file paths produced).",
		Schema:      json.RawMessage(MarkStepSchema),
	}
	handler := func(ctx context.Context, args map[string]any) (string, error) {
		statusStr, _ := args["status"].(string)
		status := plan.Status(statusStr)
		var notesPtr *string
		if notes, ok := args["notes"].(string); ok {
			notesPtr = &notes
		}
		if err := p.MarkStep(stepIndex, &status, notesPtr); err != nil {
			return "", err
		}
		return fmt.Sprintf("step %d marked %s", stepIndex, status), nil
	}
	return spec, handler
}

// Terminate returns a registerable Spec+Handler pair for ending an Actor
// loop early with a final message. The handler is a pure echo: the Actor
// loop is responsible for recognizing the tool name and returning the
// message as the step's result.
func Terminate() (tools.Spec, tools.Handler) {
	spec := tools.Spec{
		Name:        "terminate",
		Description: "End this step now with a final message, skipping remaining iterations.",
		Schema:      json.RawMessage(TerminateSchema),
	}
	handler := func(ctx context.Context, args map[string]any) (string, error) {
		message, _ := args["message"].(string)
		return message, nil
	}
	return spec, handler
}
