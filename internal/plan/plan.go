// Package plan implements the DAG-of-steps data model that the Planner
// builds and Actors mutate: status, dependencies, notes, and tool-execution
// history for every step of a run.
package plan

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/coactrun/coact/internal/workspace"
)

// Status is a step's position in its monotonic state machine.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusBlocked    Status = "blocked"
)

func (s Status) glyph() string {
	switch s {
	case StatusInProgress:
		return "[→]"
	case StatusCompleted:
		return "[✓]"
	case StatusBlocked:
		return "[!]"
	default:
		return "[ ]"
	}
}

// FileRef is a file path discovered in a step's notes, rewritten relative
// to the active workspace folder.
type FileRef = workspace.FileRef

// ToolExecution records one tool invocation attributed to a step. Appended,
// never mutated.
type ToolExecution struct {
	ToolName  string
	Arguments map[string]any
	Result    string
	Timestamp time.Time
}

// Step is one addressable unit of work inside a Plan, identified by its
// position in Plan.Steps.
type Step struct {
	Description    string
	Status         Status
	Notes          string
	ToolHistory    []ToolExecution
	FilesExtracted []FileRef
}

// Progress summarizes step counts by status.
type Progress struct {
	Total      int
	Completed  int
	InProgress int
	Blocked    int
	NotStarted int
}

// Plan is the ordered list of steps plus the dependency DAG, a running
// fact sheet, and a terminal result string. All mutating methods are
// serialized under a single mutex; readers observe a consistent snapshot.
type Plan struct {
	mu sync.RWMutex

	Title        string
	steps        []Step
	dependencies map[int][]int
	facts        string
	result       string

	// workspaceFolder names the directory used to rewrite file references
	// found in step notes (see internal/workspace). Empty disables rewriting.
	workspaceFolder string
}

// New constructs an empty Plan. WorkspaceFolder may be set later via
// SetWorkspaceFolder.
func New(title string) *Plan {
	return &Plan{Title: title, dependencies: map[int][]int{}}
}

// SetWorkspaceFolder configures the folder name used by mark_step's note
// rewriting (internal/workspace.ExtractFiles).
func (p *Plan) SetWorkspaceFolder(folder string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.workspaceFolder = folder
}

// Steps returns a copy of the current step slice.
func (p *Plan) Steps() []Step {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Step, len(p.steps))
	copy(out, p.steps)
	return out
}

// Dependencies returns a copy of the dependency adjacency map.
func (p *Plan) Dependencies() map[int][]int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make(map[int][]int, len(p.dependencies))
	for k, v := range p.dependencies {
		cp := make([]int, len(v))
		copy(cp, v)
		out[k] = cp
	}
	return out
}

// Facts returns the current fact sheet.
func (p *Plan) Facts() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.facts
}

// Result returns the terminal answer, if set.
func (p *Plan) Result() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.result
}

// SetResult stores the terminal answer string.
func (p *Plan) SetResult(result string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.result = result
}

// ReadySteps returns every index whose status is not_started and whose
// dependencies are all non-not_started, in index order.
func (p *Plan) ReadySteps() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.readyStepsLocked()
}

func (p *Plan) readyStepsLocked() []int {
	var ready []int
	for i := range p.steps {
		if p.steps[i].Status != StatusNotStarted {
			continue
		}
		allStarted := true
		for _, dep := range p.dependencies[i] {
			if dep < 0 || dep >= len(p.steps) {
				continue
			}
			if p.steps[dep].Status == StatusNotStarted {
				allStarted = false
				break
			}
		}
		if allStarted {
			ready = append(ready, i)
		}
	}
	return ready
}

// HasBlockedSteps reports whether any step is currently blocked.
func (p *Plan) HasBlockedSteps() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	for _, s := range p.steps {
		if s.Status == StatusBlocked {
			return true
		}
	}
	return false
}

// ProgressCounts returns step counts by status.
func (p *Plan) ProgressCounts() Progress {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.progressLocked()
}

func (p *Plan) progressLocked() Progress {
	pr := Progress{Total: len(p.steps)}
	for _, s := range p.steps {
		switch s.Status {
		case StatusCompleted:
			pr.Completed++
		case StatusInProgress:
			pr.InProgress++
		case StatusBlocked:
			pr.Blocked++
		default:
			pr.NotStarted++
		}
	}
	return pr
}

// ErrInvalidStepIndex reports an out-of-range step index.
type ErrInvalidStepIndex struct {
	Index, Len int
}

func (e *ErrInvalidStepIndex) Error() string {
	return fmt.Sprintf("invalid step_index: %d, valid indices range from 0 to %d", e.Index, e.Len-1)
}

// ErrCyclicDependency reports a cycle in the dependency graph.
type ErrCyclicDependency struct{}

func (e *ErrCyclicDependency) Error() string { return "cyclic dependency in plan" }

// ErrUnknownStepDescription reports a dependency referencing an
// out-of-range step index.
type ErrUnknownStepDescription struct {
	Index int
}

func (e *ErrUnknownStepDescription) Error() string {
	return fmt.Sprintf("dependency references unknown step index %d", e.Index)
}

// ErrStartedStepDropped reports that Update's new step list omits a step
// that was already in_progress, completed, or blocked. Re-planning may
// only add, remove, or reword not_started steps.
type ErrStartedStepDropped struct {
	Description string
}

func (e *ErrStartedStepDropped) Error() string {
	return fmt.Sprintf("re-plan dropped already-started step %q", e.Description)
}

// MarkStep validates the index, updates status and notes, and — when notes
// are provided — rewrites file references found in them.
func (p *Plan) MarkStep(index int, status *Status, notes *string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.steps) {
		return &ErrInvalidStepIndex{Index: index, Len: len(p.steps)}
	}
	if status != nil {
		p.steps[index].Status = *status
	}
	if notes != nil {
		rewritten, refs := workspace.ExtractFiles(*notes, p.workspaceFolder)
		p.steps[index].Notes = rewritten
		p.steps[index].FilesExtracted = refs
	}
	return nil
}

// RecordToolExecution appends a ToolExecution to the step's history. Never
// overwrites prior entries.
func (p *Plan) RecordToolExecution(index int, toolName string, args map[string]any, result string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if index < 0 || index >= len(p.steps) {
		return &ErrInvalidStepIndex{Index: index, Len: len(p.steps)}
	}
	p.steps[index].ToolHistory = append(p.steps[index].ToolHistory, ToolExecution{
		ToolName:  toolName,
		Arguments: args,
		Result:    result,
		Timestamp: time.Now(),
	})
	return nil
}

// UpdateFacts overwrites the fact sheet.
func (p *Plan) UpdateFacts(text string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.facts = text
}

// Update replaces title/steps/dependencies while preserving the status,
// notes, and tool history of any step whose description survives and was
// already non-not_started.
func (p *Plan) Update(title string, steps []string, dependencies map[int][]int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	nextSteps := p.steps
	if len(steps) > 0 {
		byDescription := make(map[string]Step, len(p.steps))
		seen := make(map[string]bool, len(steps))
		for _, s := range p.steps {
			byDescription[s.Description] = s
		}
		for _, desc := range steps {
			seen[desc] = true
		}
		for _, s := range p.steps {
			if s.Status != StatusNotStarted && !seen[s.Description] {
				return &ErrStartedStepDropped{Description: s.Description}
			}
		}

		newSteps := make([]Step, 0, len(steps))
		for _, desc := range steps {
			if existing, ok := byDescription[desc]; ok && existing.Status != StatusNotStarted {
				newSteps = append(newSteps, existing)
				continue
			}
			if existing, ok := byDescription[desc]; ok {
				existing.Status = StatusNotStarted
				existing.ToolHistory = nil
				newSteps = append(newSteps, existing)
				continue
			}
			newSteps = append(newSteps, Step{Description: desc, Status: StatusNotStarted})
		}
		nextSteps = newSteps
	}

	var newDeps map[int][]int
	if len(dependencies) > 0 {
		newDeps = make(map[int][]int, len(dependencies))
		for k, v := range dependencies {
			cp := make([]int, len(v))
			copy(cp, v)
			newDeps[k] = cp
		}
	} else if len(nextSteps) > 1 {
		newDeps = make(map[int][]int, len(nextSteps)-1)
		for i := 1; i < len(nextSteps); i++ {
			newDeps[i] = []int{i - 1}
		}
	} else {
		newDeps = map[int][]int{}
	}

	if err := validate(nextSteps, newDeps); err != nil {
		return err
	}
	if title != "" {
		p.Title = title
	}
	p.steps = nextSteps
	p.dependencies = newDeps
	return nil
}

func validate(steps []Step, dependencies map[int][]int) error {
	n := len(steps)
	for i, deps := range dependencies {
		if i < 0 || i >= n {
			return &ErrUnknownStepDescription{Index: i}
		}
		for _, d := range deps {
			if d < 0 || d >= n {
				return &ErrUnknownStepDescription{Index: d}
			}
		}
	}
	if hasCycle(n, dependencies) {
		return &ErrCyclicDependency{}
	}
	return nil
}

func hasCycle(n int, dependencies map[int][]int) bool {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make([]int, n)
	var visit func(i int) bool
	visit = func(i int) bool {
		color[i] = gray
		for _, dep := range dependencies[i] {
			switch color[dep] {
			case gray:
				return true
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		color[i] = black
		return false
	}
	for i := 0; i < n; i++ {
		if color[i] == white {
			if visit(i) {
				return true
			}
		}
	}
	return false
}

// Format renders a stable textual representation of the plan: title,
// progress counts, each step's status glyph, dependencies, notes, and
// (with detail) its tool-execution history. This text is fed back to the
// LLM on re-plan and finalize, so its shape is part of the contract.
func (p *Plan) Format(withDetail bool) string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	var b strings.Builder
	header := fmt.Sprintf("Plan: %s\n", p.Title)
	b.WriteString(header)
	b.WriteString(strings.Repeat("=", len(header)-1))
	b.WriteString("\n\n")

	progress := p.progressLocked()
	pct := 0.0
	if progress.Total > 0 {
		pct = float64(progress.Completed) / float64(progress.Total) * 100
	}
	fmt.Fprintf(&b, "Progress: %d/%d steps completed (%.1f%%)\n", progress.Completed, progress.Total, pct)
	fmt.Fprintf(&b, "Status: %d completed, %d in progress, %d blocked, %d not started\n\n",
		progress.Completed, progress.InProgress, progress.Blocked, progress.NotStarted)
	b.WriteString("Steps:\n")

	for i, s := range p.steps {
		deps := append([]int{}, p.dependencies[i]...)
		sort.Ints(deps)
		depStr := ""
		if len(deps) > 0 {
			strs := make([]string, len(deps))
			for j, d := range deps {
				strs[j] = fmt.Sprintf("%d", d)
			}
			depStr = fmt.Sprintf(" (depends on: %s)", strings.Join(strs, ", "))
		}
		fmt.Fprintf(&b, "Step%d :%s %s%s\n", i, s.Status.glyph(), s.Description, depStr)

		if withDetail && len(s.ToolHistory) > 0 {
			b.WriteString("   Tool Execution History:\n")
			for _, exec := range s.ToolHistory {
				result := exec.Result
				if len(result) > 100 {
					result = result[:100]
				}
				fmt.Fprintf(&b, "     -Tool: %s (args: %v) (%s): %s\n", exec.ToolName, exec.Arguments, exec.Timestamp.Format(time.RFC3339), result)
			}
		}

		if s.Notes != "" {
			if withDetail {
				fmt.Fprintf(&b, "   Notes: %s\n", s.Notes)
			} else {
				fmt.Fprintf(&b, "   Notes: %s\n", s.Notes)
			}
		}
	}

	return b.String()
}
