package types

import "time"

// EventType tags a desired-state change
type EventType string

const (
	EventResourceCreated EventType = "resourceCreated"
	EventResourceUpdated EventType = "resourceUpdated"
	EventResourceDeleted EventType = "resourceDeleted"
)

// Valid reports whether t is a known event type
func (t EventType) Valid() bool {
	switch t {
	case EventResourceCreated, EventResourceUpdated, EventResourceDeleted:
		return true
	}
	return false
}

// DesiredStateEvent is one change notification from the control plane.
// Spec is nil for deletions.
type DesiredStateEvent struct {
	Type       EventType       `json:"type"`
	ResourceID ResourceID      `json:"resourceId"`
	Spec       *DeploymentSpec `json:"spec,omitempty"`
}

// Created builds a creation event
func Created(id ResourceID, spec DeploymentSpec) DesiredStateEvent {
	return DesiredStateEvent{Type: EventResourceCreated, ResourceID: id, Spec: &spec}
}

// Updated builds an update event
func Updated(id ResourceID, spec DeploymentSpec) DesiredStateEvent {
	return DesiredStateEvent{Type: EventResourceUpdated, ResourceID: id, Spec: &spec}
}

// Deleted builds a deletion event
func Deleted(id ResourceID) DesiredStateEvent {
	return DesiredStateEvent{Type: EventResourceDeleted, ResourceID: id}
}

// OutcomeKind classifies the result of one convergence attempt
type OutcomeKind int

const (
	OutcomeConverged OutcomeKind = iota
	OutcomeRetryAfter
	OutcomeFatal
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeConverged:
		return "converged"
	case OutcomeRetryAfter:
		return "retry"
	case OutcomeFatal:
		return "fatal"
	}
	return "unknown"
}

// Outcome is what an executor reports back to the runner
type Outcome struct {
	Kind   OutcomeKind
	After  time.Duration
	Reason string
}

// Converged reports that actual state matches desired state
func Converged() Outcome {
	return Outcome{Kind: OutcomeConverged}
}

// RetryAfter asks the runner to reconcile again after d
func RetryAfter(d time.Duration, reason string) Outcome {
	return Outcome{Kind: OutcomeRetryAfter, After: d, Reason: reason}
}

// Fatal reports a failure that needs outside action before retrying
func Fatal(reason string) Outcome {
	return Outcome{Kind: OutcomeFatal, Reason: reason}
}
