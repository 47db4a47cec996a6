package plan_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coactrun/coact/internal/plan"
)

func TestReadyStepsEmptyPlan(t *testing.T) {
	p := plan.New("empty")
	assert.Empty(t, p.ReadySteps())
}

func TestReadyStepsRespectsDependencies(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a", "b", "c"}, map[int][]int{1: {0}, 2: {1}}))

	assert.Equal(t, []int{0}, p.ReadySteps())

	completed := plan.StatusCompleted
	require.NoError(t, p.MarkStep(0, &completed, nil))
	assert.Equal(t, []int{1}, p.ReadySteps())
}

func TestUpdateRejectsCycle(t *testing.T) {
	p := plan.New("t")
	err := p.Update("t", []string{"a", "b"}, map[int][]int{0: {1}, 1: {0}})
	require.Error(t, err)
	assert.IsType(t, &plan.ErrCyclicDependency{}, err)
}

func TestUpdateRejectsOutOfRangeDependency(t *testing.T) {
	p := plan.New("t")
	err := p.Update("t", []string{"a"}, map[int][]int{0: {5}})
	require.Error(t, err)
	assert.IsType(t, &plan.ErrUnknownStepDescription{}, err)
}

func TestMarkStepInvalidIndex(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a"}, nil))
	status := plan.StatusCompleted
	err := p.MarkStep(5, &status, nil)
	require.Error(t, err)
	assert.IsType(t, &plan.ErrInvalidStepIndex{}, err)
}

func TestUpdatePreservesStartedSteps(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a", "b"}, nil))

	inProgress := plan.StatusInProgress
	notes := "partial progress"
	require.NoError(t, p.MarkStep(0, &inProgress, &notes))
	require.NoError(t, p.RecordToolExecution(0, "search", map[string]any{"q": "x"}, "result"))

	// Re-plan keeps step "a" (non-not_started) and introduces "c".
	require.NoError(t, p.Update("t", []string{"a", "c"}, nil))

	steps := p.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, plan.StatusInProgress, steps[0].Status)
	assert.Equal(t, notes, steps[0].Notes)
	assert.Len(t, steps[0].ToolHistory, 1)
	assert.Equal(t, plan.StatusNotStarted, steps[1].Status)
}

func TestUpdateResetsUnstartedStepToolHistory(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a"}, nil))
	require.NoError(t, p.RecordToolExecution(0, "search", nil, "r"))

	// "a" is still not_started (mark_step was never called), so a re-plan
	// that re-lists it resets its tool history.
	require.NoError(t, p.Update("t", []string{"a"}, nil))
	steps := p.Steps()
	assert.Empty(t, steps[0].ToolHistory)
}

func TestToolHistoryMonotonicallyGrows(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a"}, nil))

	prevLen := 0
	for i := 0; i < 5; i++ {
		require.NoError(t, p.RecordToolExecution(0, "tool", nil, "r"))
		steps := p.Steps()
		assert.GreaterOrEqual(t, len(steps[0].ToolHistory), prevLen)
		prevLen = len(steps[0].ToolHistory)
	}
}

func TestFormatIsStableAndRoundTrips(t *testing.T) {
	p := plan.New("Report")
	require.NoError(t, p.Update("Report", []string{"gather", "outline"}, map[int][]int{1: {0}}))

	out1 := p.Format(false)
	out2 := p.Format(false)
	assert.Equal(t, out1, out2)
	assert.Contains(t, out1, "Plan: Report")
	assert.Contains(t, out1, "Step0 :[ ] gather")
	assert.Contains(t, out1, "Step1 :[ ] outline (depends on: 0)")
}

func TestHasBlockedSteps(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a"}, nil))
	assert.False(t, p.HasBlockedSteps())

	blocked := plan.StatusBlocked
	require.NoError(t, p.MarkStep(0, &blocked, nil))
	assert.True(t, p.HasBlockedSteps())
}

func TestUpdateRejectsDroppingStartedStep(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a", "b"}, nil))
	inProgress := plan.StatusInProgress
	require.NoError(t, p.MarkStep(0, &inProgress, nil))

	err := p.Update("t", []string{"b", "c"}, nil)
	require.Error(t, err)
	assert.IsType(t, &plan.ErrStartedStepDropped{}, err)

	// The plan is left unchanged on rejection.
	steps := p.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, "a", steps[0].Description)
}

func TestReadyStepsOnlyNotStarted(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a", "b"}, nil))
	completed := plan.StatusCompleted
	require.NoError(t, p.MarkStep(0, &completed, nil))
	for _, i := range p.ReadySteps() {
		steps := p.Steps()
		assert.Equal(t, plan.StatusNotStarted, steps[i].Status)
	}
}
