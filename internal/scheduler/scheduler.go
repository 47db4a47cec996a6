// Package scheduler drives one wave of ready steps to completion: it fans
// out a bounded number of concurrent Actor executions over the steps the
// Plan currently reports ready, waits for all of them, and reports results
// keyed by step index.
package scheduler

import (
	"context"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/coactrun/coact/internal/actor"
	"github.com/coactrun/coact/internal/events"
	"github.com/coactrun/coact/internal/facts"
	"github.com/coactrun/coact/internal/llmclient"
	"github.com/coactrun/coact/internal/plan"
	"github.com/coactrun/coact/internal/telemetry"
)

// maxConcurrentSteps bounds wave fan-out, matching manus.py's
// execute_steps: Semaphore(min(5, len(ready_steps))).
const maxConcurrentSteps = 5

// ActorFactory constructs a fresh Actor for one step's execution, mirroring
// the original's "each thread creates its own TaskActorAgent instance" —
// Actors carry no cross-step state, so a new instance per step avoids any
// possibility of leaking state between concurrent steps.
type ActorFactory func(stepIndex int) *actor.Actor

// PromptBuilder builds the initial message history handed to a step's
// Actor, typically embedding the original task and the current plan
// format.
type PromptBuilder func(stepIndex int) []llmclient.Message

// Scheduler runs waves of ready steps to completion against a single Plan.
type Scheduler struct {
	plan        *plan.Plan
	newActor    ActorFactory
	buildPrompt PromptBuilder
	facts       *facts.Tracker
	bus         *events.Bus
	logger      telemetry.Logger
}

// New constructs a Scheduler for a single plan run. facts and bus may both
// be nil, in which case fact synthesis and event publication are skipped.
func New(p *plan.Plan, newActor ActorFactory, buildPrompt PromptBuilder, tracker *facts.Tracker, bus *events.Bus, logger telemetry.Logger) *Scheduler {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	return &Scheduler{plan: p, newActor: newActor, buildPrompt: buildPrompt, facts: tracker, bus: bus, logger: logger}
}

// RunWave executes every step in readySteps concurrently, each in its own
// Actor instance, bounded by maxConcurrentSteps, and returns each step's
// resulting content keyed by step index. Each goroutine writes only its own
// slot of a per-wave slice, and the result map is built from that slice
// after every goroutine has returned (errgroup.Wait), so neither needs a
// lock of its own — the Go realization of the original's per-thread Queue
// drained only after every Thread.join() completes.
func (s *Scheduler) RunWave(ctx context.Context, readySteps []int) (map[int]string, error) {
	if len(readySteps) == 0 {
		return nil, nil
	}

	limit := len(readySteps)
	if limit > maxConcurrentSteps {
		limit = maxConcurrentSteps
	}
	sem := semaphore.NewWeighted(int64(limit))

	g, gctx := errgroup.WithContext(ctx)
	contents := make([]string, len(readySteps))
	ran := make([]bool, len(readySteps))

	for i, stepIndex := range readySteps {
		i, stepIndex := i, stepIndex
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)
			contents[i] = s.runStep(gctx, stepIndex)
			ran[i] = true
			return nil
		})
	}

	err := g.Wait()
	results := make(map[int]string, len(readySteps))
	for i, stepIndex := range readySteps {
		if ran[i] {
			results[stepIndex] = contents[i]
		}
	}
	if err != nil {
		return results, err
	}
	return results, nil
}

// runStep executes a single step's Actor to completion. Errors are
// recorded on the plan by the Actor itself (mark_step/blocked) rather than
// surfaced here, matching the original's per-step try/except that never
// aborts the wave for one failing step.
func (s *Scheduler) runStep(ctx context.Context, stepIndex int) string {
	s.publish(ctx, events.NewStepStartedEvent(stepIndex))
	s.logger.Info(ctx, "starting step execution", "step", stepIndex)

	a := s.newActor(stepIndex)
	messages := s.buildPrompt(stepIndex)
	content, err := a.Execute(ctx, messages, stepIndex, s.plan)
	if err != nil {
		s.logger.Error(ctx, "step execution failed", "step", stepIndex, "error", err)
	} else {
		s.logger.Info(ctx, "completed step execution", "step", stepIndex)
	}

	if s.facts != nil {
		if ferr := s.facts.Update(ctx, s.plan, content); ferr != nil {
			s.logger.Warn(ctx, "fact synthesis failed", "step", stepIndex, "error", ferr)
		}
	}

	s.publish(ctx, events.NewStepCompletedEvent(stepIndex, content, err))
	return content
}

func (s *Scheduler) publish(ctx context.Context, evt events.Event) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(ctx, evt)
}
