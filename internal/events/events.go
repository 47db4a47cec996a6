// Package events defines the lifecycle events published as a plan runs and
// the typed payloads each event carries.
package events

import "time"

// EventType identifies the kind of a published Event.
type EventType string

const (
	// PlanCreated fires once create_plan succeeds and the initial DAG is
	// ready for execution.
	PlanCreated EventType = "plan_created"
	// StepStarted fires when a step's Actor begins execution.
	StepStarted EventType = "step_started"
	// StepCompleted fires when a step's Actor returns, whether the step
	// ended completed or blocked.
	StepCompleted EventType = "step_completed"
	// RePlanned fires after re_plan successfully revises the plan.
	RePlanned EventType = "re_planned"
	// PlanFinalized fires once finalize_plan produces the final answer.
	PlanFinalized EventType = "plan_finalized"
)

// Event is the interface all published events implement. Subscribers use a
// type switch on the concrete type to access event-specific fields.
type Event interface {
	// Type returns the specific event type constant.
	Type() EventType
	// Timestamp returns when the event was constructed.
	Timestamp() time.Time
}

type baseEvent struct {
	timestamp time.Time
}

// Timestamp returns when the event was constructed.
func (e baseEvent) Timestamp() time.Time { return e.timestamp }

func newBaseEvent() baseEvent { return baseEvent{timestamp: time.Now()} }

// PlanCreatedEvent fires once the initial plan is ready.
type PlanCreatedEvent struct {
	baseEvent
	Title     string
	StepCount int
}

// Type implements Event.
func (e *PlanCreatedEvent) Type() EventType { return PlanCreated }

// NewPlanCreatedEvent constructs a PlanCreatedEvent.
func NewPlanCreatedEvent(title string, stepCount int) *PlanCreatedEvent {
	return &PlanCreatedEvent{baseEvent: newBaseEvent(), Title: title, StepCount: stepCount}
}

// StepStartedEvent fires when a step's Actor begins execution.
type StepStartedEvent struct {
	baseEvent
	StepIndex int
}

// Type implements Event.
func (e *StepStartedEvent) Type() EventType { return StepStarted }

// NewStepStartedEvent constructs a StepStartedEvent.
func NewStepStartedEvent(stepIndex int) *StepStartedEvent {
	return &StepStartedEvent{baseEvent: newBaseEvent(), StepIndex: stepIndex}
}

// StepCompletedEvent fires when a step's Actor returns.
type StepCompletedEvent struct {
	baseEvent
	StepIndex int
	Content   string
	Err       error
}

// Type implements Event.
func (e *StepCompletedEvent) Type() EventType { return StepCompleted }

// NewStepCompletedEvent constructs a StepCompletedEvent.
func NewStepCompletedEvent(stepIndex int, content string, err error) *StepCompletedEvent {
	return &StepCompletedEvent{baseEvent: newBaseEvent(), StepIndex: stepIndex, Content: content, Err: err}
}

// RePlannedEvent fires after a successful re_plan.
type RePlannedEvent struct {
	baseEvent
	Title     string
	StepCount int
}

// Type implements Event.
func (e *RePlannedEvent) Type() EventType { return RePlanned }

// NewRePlannedEvent constructs a RePlannedEvent.
func NewRePlannedEvent(title string, stepCount int) *RePlannedEvent {
	return &RePlannedEvent{baseEvent: newBaseEvent(), Title: title, StepCount: stepCount}
}

// PlanFinalizedEvent fires once finalize_plan produces the final answer.
type PlanFinalizedEvent struct {
	baseEvent
	Answer string
}

// Type implements Event.
func (e *PlanFinalizedEvent) Type() EventType { return PlanFinalized }

// NewPlanFinalizedEvent constructs a PlanFinalizedEvent.
func NewPlanFinalizedEvent(answer string) *PlanFinalizedEvent {
	return &PlanFinalizedEvent{baseEvent: newBaseEvent(), Answer: answer}
}
