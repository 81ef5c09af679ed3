package core

import (
	"context"
	"time"
)

// EventKind identifies a structured build event.
type EventKind int

const (
	EventBuildStarted EventKind = iota
	EventBuildFinished
	EventTargetStarted
	EventTargetSkipped
	EventTargetFinished
	EventOnErrorTriggered
	EventTaskStarted
	EventTaskFinished
	EventOverrideDetected
	EventPropertyReassignmentIgnored
	EventMessage
	EventWarning
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventBuildStarted:
		return "build-started"
	case EventBuildFinished:
		return "build-finished"
	case EventTargetStarted:
		return "target-started"
	case EventTargetSkipped:
		return "target-skipped"
	case EventTargetFinished:
		return "target-finished"
	case EventOnErrorTriggered:
		return "on-error-triggered"
	case EventTaskStarted:
		return "task-started"
	case EventTaskFinished:
		return "task-finished"
	case EventOverrideDetected:
		return "override-detected"
	case EventPropertyReassignmentIgnored:
		return "property-reassignment-ignored"
	case EventMessage:
		return "message"
	case EventWarning:
		return "warning"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Importance ranks message events.
type Importance int

const (
	ImportanceNormal Importance = iota
	ImportanceHigh
	ImportanceLow
)

// Event is a structured build event. Only the fields relevant to Kind are set.
type Event struct {
	Kind          EventKind
	Time          time.Time
	Configuration string
	Project       string
	Target        string
	Task          string
	Message       string
	Importance    Importance
	Success       bool
	Status        TargetStatus
	Reason        string
	Property      string
	OldValue      string
	NewValue      string
	Err           error
}

// EventSink consumes build events. Implementations must be safe for
// concurrent use: events arrive from every build request and from isolated
// execution contexts.
type EventSink interface {
	Emit(ctx context.Context, ev Event)
}

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc func(ctx context.Context, ev Event)

// Emit implements EventSink.
func (f EventSinkFunc) Emit(ctx context.Context, ev Event) {
	f(ctx, ev)
}

// DiscardSink drops every event.
var DiscardSink EventSink = EventSinkFunc(func(context.Context, Event) {})
