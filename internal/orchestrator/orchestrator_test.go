package orchestrator_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coactrun/coact/internal/actor"
	"github.com/coactrun/coact/internal/events"
	"github.com/coactrun/coact/internal/facts"
	"github.com/coactrun/coact/internal/llmclient"
	"github.com/coactrun/coact/internal/plan"
	"github.com/coactrun/coact/internal/planner"
	"github.com/coactrun/coact/internal/scheduler"
	"github.com/coactrun/coact/internal/tools"
	"github.com/coactrun/coact/internal/tools/builtin"
)

// This exercises the same wiring orchestrator.Execute performs, without
// depending on a live provider: create_plan -> run wave -> re_plan (no
// ready steps left) -> finalize_plan.

type scriptedProvider struct {
	toolResponses []string
	textResponses []string
	toolCall      int
	textCall      int
}

func (s *scriptedProvider) Complete(ctx context.Context, model string, messages []llmclient.Message, maxTokens int, temperature float64, thinkingMode bool) (string, error) {
	r := s.textResponses[s.textCall%len(s.textResponses)]
	s.textCall++
	return r, nil
}

func (s *scriptedProvider) CompleteWithTools(ctx context.Context, model string, messages []llmclient.Message, toolSpecs []llmclient.ToolSpec, maxTokens int, temperature float64, thinkingMode bool) (llmclient.AssistantMessage, error) {
	switch toolSpecs[0].Name {
	case "mark_step":
		return llmclient.AssistantMessage{ToolCalls: []llmclient.ToolCall{{ID: "1", Name: "mark_step", ArgumentsJSON: `{"status":"completed","notes":"done"}`}}}, nil
	default:
		r := s.toolResponses[s.toolCall%len(s.toolResponses)]
		s.toolCall++
		return llmclient.AssistantMessage{ToolCalls: []llmclient.ToolCall{{ID: "1", Name: toolSpecs[0].Name, ArgumentsJSON: r}}}, nil
	}
}

func TestFullRunFromCreatePlanToFinalAnswer(t *testing.T) {
	provider := &scriptedProvider{
		toolResponses: []string{
			`{"title":"t","steps":["a","b"]}`,
			`{"answer":"the final answer"}`,
		},
		textResponses: []string{"updated facts"},
	}
	llm := llmclient.New(provider, llmclient.DefaultConfig(), nil, nil, nil)
	pl := planner.New(llm, planner.DefaultConfig(), nil)
	tracker := facts.New(llm)
	bus := events.NewBus(nil)

	var published []events.EventType
	_, err := bus.Register(events.SubscriberFunc(func(ctx context.Context, e events.Event) error {
		published = append(published, e.Type())
		return nil
	}))
	require.NoError(t, err)

	p, err := pl.CreatePlan(context.Background(), "write a report")
	require.NoError(t, err)
	bus.Publish(context.Background(), events.NewPlanCreatedEvent(p.Title, len(p.Steps())))

	newActor := func(stepIndex int) *actor.Actor {
		registry := tools.NewRegistry()
		spec, handler := builtin.MarkStep(p, stepIndex)
		require.NoError(t, registry.Register(spec, handler))
		tSpec, tHandler := builtin.Terminate()
		require.NoError(t, registry.Register(tSpec, tHandler))
		return actor.New(llm, registry, nil, nil, actor.DefaultMaxIterations)
	}
	buildPrompt := func(stepIndex int) []llmclient.Message {
		return []llmclient.Message{{Role: llmclient.RoleUser, Content: "do it"}}
	}

	sched := scheduler.New(p, newActor, buildPrompt, tracker, bus, nil)

	for {
		ready := p.ReadySteps()
		if len(ready) == 0 {
			break
		}
		_, err := sched.RunWave(context.Background(), ready)
		require.NoError(t, err)
		require.NoError(t, pl.RePlan(context.Background(), p))
	}

	answer, err := pl.FinalizePlan(context.Background(), p)
	require.NoError(t, err)
	assert.Equal(t, "the final answer", answer)
	assert.Contains(t, published, events.PlanCreated)

	for _, s := range p.Steps() {
		assert.Equal(t, plan.StatusCompleted, s.Status)
	}
}
