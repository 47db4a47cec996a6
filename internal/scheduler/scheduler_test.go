package scheduler_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coactrun/coact/internal/actor"
	"github.com/coactrun/coact/internal/llmclient"
	"github.com/coactrun/coact/internal/plan"
	"github.com/coactrun/coact/internal/scheduler"
	"github.com/coactrun/coact/internal/tools"
	"github.com/coactrun/coact/internal/tools/builtin"
)

// markStepProvider always replies with a single mark_step tool call marking
// its step completed, regardless of which step's Actor is calling it —
// each Actor instance only ever sees the tool it was registered with.
type markStepProvider struct{}

func (markStepProvider) Complete(ctx context.Context, model string, messages []llmclient.Message, maxTokens int, temperature float64, thinkingMode bool) (string, error) {
	return "", nil
}

func (markStepProvider) CompleteWithTools(ctx context.Context, model string, messages []llmclient.Message, toolSpecs []llmclient.ToolSpec, maxTokens int, temperature float64, thinkingMode bool) (llmclient.AssistantMessage, error) {
	return llmclient.AssistantMessage{ToolCalls: []llmclient.ToolCall{{
		ID:            "1",
		Name:          "mark_step",
		ArgumentsJSON: `{"status":"completed","notes":"done"}`,
	}}}, nil
}

func TestRunWaveExecutesEveryReadyStepConcurrently(t *testing.T) {
	p := plan.New("t")
	// Explicit empty dependency lists: with no dependencies at all, Update
	// chains the steps linearly and only step 0 would be ready.
	require.NoError(t, p.Update("t", []string{"a", "b", "c"}, map[int][]int{1: {}, 2: {}}))

	llm := llmclient.New(markStepProvider{}, llmclient.DefaultConfig(), nil, nil, nil)

	newActor := func(stepIndex int) *actor.Actor {
		registry := tools.NewRegistry()
		spec, handler := builtin.MarkStep(p, stepIndex)
		require.NoError(t, registry.Register(spec, handler))
		tSpec, tHandler := builtin.Terminate()
		require.NoError(t, registry.Register(tSpec, tHandler))
		return actor.New(llm, registry, nil, nil, 5)
	}
	buildPrompt := func(stepIndex int) []llmclient.Message {
		return []llmclient.Message{{Role: llmclient.RoleUser, Content: fmt.Sprintf("do step %d", stepIndex)}}
	}

	s := scheduler.New(p, newActor, buildPrompt, nil, nil, nil)
	results, err := s.RunWave(context.Background(), p.ReadySteps())
	require.NoError(t, err)
	assert.Len(t, results, 3)

	for _, step := range p.Steps() {
		assert.Equal(t, plan.StatusCompleted, step.Status)
	}
}

func TestRunWaveWithNoReadyStepsReturnsNil(t *testing.T) {
	p := plan.New("t")
	llm := llmclient.New(markStepProvider{}, llmclient.DefaultConfig(), nil, nil, nil)
	s := scheduler.New(p, func(int) *actor.Actor { return nil }, func(int) []llmclient.Message { return nil }, nil, nil, nil)
	results, err := s.RunWave(context.Background(), nil)
	require.NoError(t, err)
	assert.Nil(t, results)
	_ = llm
}
