// Package orchestrator wires the Plan, LLM Client, Tool Registry, Actor
// loop, Planner loop, Scheduler, Fact Tracker, and Event Bus into the
// single external entry point: Execute.
package orchestrator

import (
	"context"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"
	"github.com/redis/go-redis/v9"

	"github.com/coactrun/coact/internal/actor"
	"github.com/coactrun/coact/internal/config"
	"github.com/coactrun/coact/internal/events"
	"github.com/coactrun/coact/internal/facts"
	"github.com/coactrun/coact/internal/llmclient"
	"github.com/coactrun/coact/internal/llmclient/provider/anthropic"
	"github.com/coactrun/coact/internal/llmclient/provider/bedrock"
	"github.com/coactrun/coact/internal/llmclient/provider/openai"
	"github.com/coactrun/coact/internal/plan"
	"github.com/coactrun/coact/internal/planner"
	"github.com/coactrun/coact/internal/scheduler"
	"github.com/coactrun/coact/internal/telemetry"
	"github.com/coactrun/coact/internal/tools"
	"github.com/coactrun/coact/internal/tools/builtin"
)

// Orchestrator runs one task from natural-language request to final
// answer, driving the Planner/Scheduler loop until no ready steps remain.
type Orchestrator struct {
	llm        *llmclient.Client
	planner    *planner.Planner
	facts      *facts.Tracker
	bus        *events.Bus
	logger     telemetry.Logger
	metrics    telemetry.Metrics
	planLogger *PlanLogger
	workspace  string
}

// New constructs an Orchestrator from cfg, selecting and building the
// configured LLM provider adapter and wiring the optional Redis event
// mirror, the per-step/per-tool timing metrics, and the workspace-gated
// plan.log audit trail. metrics may be nil, in which case step and tool
// timing (SPEC_FULL.md's ported time_record decorator) is skipped.
func New(ctx context.Context, cfg *config.Config, logger telemetry.Logger, tracer telemetry.Tracer, metrics telemetry.Metrics) (*Orchestrator, error) {
	if logger == nil {
		logger = telemetry.NewNoopLogger()
	}
	if tracer == nil {
		tracer = telemetry.NewNoopTracer()
	}
	if metrics == nil {
		metrics = telemetry.NewNoopMetrics()
	}

	provider, err := buildProvider(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("building LLM provider: %w", err)
	}

	llmCfg := llmclient.DefaultConfig()
	llmCfg.Model = cfg.Model
	llmCfg.MaxMessages = cfg.MaxMessages
	llmCfg.MaxToolContentLength = cfg.MaxToolContentLength
	llmCfg.EnableContextCompression = cfg.EnableContextCompression
	llmCfg.MaxContextTokens = cfg.MaxContextTokens
	llmCfg.CompressionThreshold = cfg.CompressionThreshold
	llmCfg.KeepInitialTurns = cfg.KeepInitialTurns
	llmCfg.KeepRecentTurns = cfg.KeepRecentTurns

	llm := llmclient.New(provider, llmCfg, nil, logger, tracer)

	bus := events.NewBus(logger)
	if cfg.RedisURL != "" {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisURL})
		if _, err := bus.Register(events.NewRedisStreamMirror(client, cfg.RedisStream)); err != nil {
			return nil, fmt.Errorf("registering redis event mirror: %w", err)
		}
	}

	return &Orchestrator{
		llm:        llm,
		planner:    planner.New(llm, planner.DefaultConfig(), logger),
		facts:      facts.New(llm),
		bus:        bus,
		logger:     logger,
		metrics:    metrics,
		planLogger: NewPlanLogger(cfg.WorkspacePath),
		workspace:  cfg.WorkspacePath,
	}, nil
}

func buildProvider(ctx context.Context, cfg *config.Config) (llmclient.Provider, error) {
	switch cfg.Provider {
	case "", "openai":
		return openai.New(cfg.APIKey, cfg.BaseURL), nil
	case "anthropic":
		return anthropic.New(cfg.APIKey, cfg.BaseURL), nil
	case "bedrock":
		awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		return bedrock.New(bedrockruntime.NewFromConfig(awsCfg)), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q", cfg.Provider)
	}
}

// Execute decomposes task into a plan, runs it to completion (waves of
// ready steps interleaved with re-planning), and returns the finalized
// answer. outputFormat, when non-empty, is passed through to the planner
// prompts as a hint about the desired answer shape.
func (o *Orchestrator) Execute(ctx context.Context, task, outputFormat string) (string, error) {
	p, err := o.planner.CreatePlan(ctx, withOutputFormat(task, outputFormat))
	if err != nil {
		return "", fmt.Errorf("create_plan: %w", err)
	}
	p.SetWorkspaceFolder(o.workspace)
	o.planLogger.Append("plan_created", map[string]any{"title": p.Title, "steps": len(p.Steps())})
	o.bus.Publish(ctx, events.NewPlanCreatedEvent(p.Title, len(p.Steps())))

	sched := scheduler.New(p, o.newActorFor(p), o.buildPromptFor(p, task), o.facts, o.bus, o.logger)

	for {
		ready := p.ReadySteps()
		if len(ready) == 0 {
			break
		}
		o.logger.Info(ctx, "executing wave", "ready_steps", ready)
		if _, err := sched.RunWave(ctx, ready); err != nil {
			return "", fmt.Errorf("executing step wave: %w", err)
		}
		o.planLogger.Append("wave_completed", map[string]any{"steps": ready})

		if err := o.planner.RePlan(ctx, p); err != nil {
			return "", fmt.Errorf("re_plan: %w", err)
		}
		o.planLogger.Append("re_planned", map[string]any{"title": p.Title, "steps": len(p.Steps())})
		o.bus.Publish(ctx, events.NewRePlannedEvent(p.Title, len(p.Steps())))
	}

	answer, err := o.planner.FinalizePlan(ctx, p)
	if err != nil {
		return "", fmt.Errorf("finalize_plan: %w", err)
	}
	o.planLogger.Append("plan_finalized", map[string]any{"answer": answer})
	o.bus.Publish(ctx, events.NewPlanFinalizedEvent(answer))
	return answer, nil
}

func withOutputFormat(task, outputFormat string) string {
	if outputFormat == "" {
		return task
	}
	return fmt.Sprintf("%s\n\nDesired output format: %s", task, outputFormat)
}

// newActorFor returns a scheduler.ActorFactory that builds a fresh Actor
// per step, each with its own Registry carrying the universal mark_step/
// terminate tools plus a domain toolbox — a fresh Registry per step
// mirrors the original's "each thread creates its own TaskActorAgent
// instance" isolation.
func (o *Orchestrator) newActorFor(p *plan.Plan) scheduler.ActorFactory {
	return func(stepIndex int) *actor.Actor {
		registry := tools.NewRegistry()
		registry.SetMetrics(o.metrics)
		markSpec, markHandler := builtin.MarkStep(p, stepIndex)
		_ = registry.Register(markSpec, markHandler)
		termSpec, termHandler := builtin.Terminate()
		_ = registry.Register(termSpec, termHandler)
		a := actor.New(o.llm, registry, o.logger, nil, actor.DefaultMaxIterations)
		a.SetMetrics(o.metrics)
		return a
	}
}

// buildPromptFor returns a scheduler.PromptBuilder seeding each step's
// Actor with the original task, the current plan state (p.Format), and the
// index and description of the step to execute.
func (o *Orchestrator) buildPromptFor(p *plan.Plan, task string) scheduler.PromptBuilder {
	return func(stepIndex int) []llmclient.Message {
		description := ""
		if steps := p.Steps(); stepIndex >= 0 && stepIndex < len(steps) {
			description = steps[stepIndex].Description
		}
		return []llmclient.Message{{
			Role:    llmclient.RoleUser,
			Content: fmt.Sprintf("Task: %s\n\nCurrent plan:\n%s\n\nExecute step %d of the current plan: %s", task, p.Format(false), stepIndex, description),
		}}
	}
}
