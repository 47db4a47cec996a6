package planner_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coactrun/coact/internal/llmclient"
	"github.com/coactrun/coact/internal/plan"
	"github.com/coactrun/coact/internal/planner"
)

type scriptedProvider struct {
	toolResponses []string
	textResponses []string
	toolCall      int
	textCall      int
}

func (s *scriptedProvider) Complete(ctx context.Context, model string, messages []llmclient.Message, maxTokens int, temperature float64, thinkingMode bool) (string, error) {
	r := s.textResponses[s.textCall]
	s.textCall++
	return r, nil
}

func (s *scriptedProvider) CompleteWithTools(ctx context.Context, model string, messages []llmclient.Message, tools []llmclient.ToolSpec, maxTokens int, temperature float64, thinkingMode bool) (llmclient.AssistantMessage, error) {
	args := s.toolResponses[s.toolCall]
	s.toolCall++
	return llmclient.AssistantMessage{ToolCalls: []llmclient.ToolCall{{ID: "1", Name: tools[0].Name, ArgumentsJSON: args}}}, nil
}

func TestCreatePlanSucceedsFirstTry(t *testing.T) {
	provider := &scriptedProvider{toolResponses: []string{
		`{"title":"Report","steps":["gather","write"],"dependencies":{"1":[0]}}`,
	}}
	llm := llmclient.New(provider, llmclient.DefaultConfig(), nil, nil, nil)
	pl := planner.New(llm, planner.DefaultConfig(), nil)

	p, err := pl.CreatePlan(context.Background(), "write a report")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, p.ReadySteps())
}

func TestCreatePlanRetriesOnEmptyReadySteps(t *testing.T) {
	provider := &scriptedProvider{toolResponses: []string{
		// First attempt: every step depends on something unlisted-but-valid in
		// a way that still yields no ready steps (cyclic dependency rejected
		// by plan.Update, forcing a retry).
		`{"title":"t","steps":["a","b"],"dependencies":{"0":[1],"1":[0]}}`,
		`{"title":"t","steps":["a","b"],"dependencies":{"1":[0]}}`,
	}}
	llm := llmclient.New(provider, llmclient.DefaultConfig(), nil, nil, nil)
	pl := planner.New(llm, planner.DefaultConfig(), nil)

	p, err := pl.CreatePlan(context.Background(), "t")
	require.NoError(t, err)
	assert.Equal(t, []int{0}, p.ReadySteps())
	assert.Equal(t, 2, provider.toolCall)
}

func TestCreatePlanFailsAfterMaxAttempts(t *testing.T) {
	provider := &scriptedProvider{toolResponses: []string{
		`{"title":"t","steps":["a","b"],"dependencies":{"0":[1],"1":[0]}}`,
		`{"title":"t","steps":["a","b"],"dependencies":{"0":[1],"1":[0]}}`,
		`{"title":"t","steps":["a","b"],"dependencies":{"0":[1],"1":[0]}}`,
	}}
	llm := llmclient.New(provider, llmclient.DefaultConfig(), nil, nil, nil)
	pl := planner.New(llm, planner.DefaultConfig(), nil)

	_, err := pl.CreatePlan(context.Background(), "t")
	require.Error(t, err)
	assert.IsType(t, &planner.ErrEmptyPlan{}, err)
}

func TestRePlanPreservesStartedStepsAndRetriesOnViolation(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a", "b"}, nil))
	inProgress := plan.StatusInProgress
	require.NoError(t, p.MarkStep(0, &inProgress, nil))

	provider := &scriptedProvider{toolResponses: []string{
		// Violates invariant: drops the in-progress step "a".
		`{"title":"t","steps":["b","c"]}`,
		// Valid: re-lists "a" first.
		`{"title":"t","steps":["a","c"]}`,
	}}
	llm := llmclient.New(provider, llmclient.DefaultConfig(), nil, nil, nil)
	pl := planner.New(llm, planner.DefaultConfig(), nil)

	err := pl.RePlan(context.Background(), p)
	require.NoError(t, err)
	steps := p.Steps()
	assert.Equal(t, plan.StatusInProgress, steps[0].Status)
}

func TestRePlanSkipsWhenOnlyOnBlockedAndNoStepsBlocked(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a", "b"}, nil))
	completed := plan.StatusCompleted
	require.NoError(t, p.MarkStep(0, &completed, nil))

	provider := &scriptedProvider{}
	llm := llmclient.New(provider, llmclient.DefaultConfig(), nil, nil, nil)
	cfg := planner.DefaultConfig()
	cfg.ReplanOnlyOnBlocked = true
	pl := planner.New(llm, cfg, nil)

	require.NoError(t, pl.RePlan(context.Background(), p))
	assert.Equal(t, 0, provider.toolCall)
}

func TestRePlanRunsWhenOnlyOnBlockedAndAStepIsBlocked(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a", "b"}, nil))
	blocked := plan.StatusBlocked
	require.NoError(t, p.MarkStep(0, &blocked, nil))

	provider := &scriptedProvider{toolResponses: []string{
		`{"title":"t","steps":["a","b"]}`,
	}}
	llm := llmclient.New(provider, llmclient.DefaultConfig(), nil, nil, nil)
	cfg := planner.DefaultConfig()
	cfg.ReplanOnlyOnBlocked = true
	pl := planner.New(llm, cfg, nil)

	require.NoError(t, pl.RePlan(context.Background(), p))
	assert.Equal(t, 1, provider.toolCall)
}

func TestFinalizePlanReturnsAnswerFromToolCall(t *testing.T) {
	p := plan.New("t")
	require.NoError(t, p.Update("t", []string{"a"}, nil))
	provider := &scriptedProvider{toolResponses: []string{
		`{"answer":"the final answer"}`,
	}}
	llm := llmclient.New(provider, llmclient.DefaultConfig(), nil, nil, nil)
	pl := planner.New(llm, planner.DefaultConfig(), nil)

	answer, err := pl.FinalizePlan(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "the final answer", answer)
}
