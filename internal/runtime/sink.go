package runtime

import (
	"context"
	"slices"
	"sync"

	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
	"github.com/dagucloud/forge/internal/core"
)

// LoggerSink writes events to the logger of the context they are emitted
// with.
type LoggerSink struct{}

var _ core.EventSink = LoggerSink{}

// Emit implements core.EventSink.
func (LoggerSink) Emit(ctx context.Context, ev core.Event) {
	tags := []any{tag.Configuration(ev.Configuration)}
	if ev.Target != "" {
		tags = append(tags, tag.Target(ev.Target))
	}
	if ev.Task != "" {
		tags = append(tags, tag.Task(ev.Task))
	}
	if ev.Err != nil {
		tags = append(tags, tag.Error(ev.Err))
	}

	switch ev.Kind {
	case core.EventMessage:
		switch ev.Importance {
		case core.ImportanceHigh:
			logger.Info(ctx, ev.Message, tags...)
		case core.ImportanceLow:
			logger.Debug(ctx, ev.Message, tags...)
		default:
			logger.Info(ctx, ev.Message, tags...)
		}
	case core.EventWarning:
		logger.Warn(ctx, ev.Message, tags...)
	case core.EventError:
		logger.Error(ctx, ev.Message, tags...)
	case core.EventOverrideDetected:
		logger.Info(ctx, "Property overridden by a later batch",
			append(tags, tag.Property(ev.Property), tag.OldValue(ev.OldValue), tag.NewValue(ev.NewValue))...)
	case core.EventPropertyReassignmentIgnored:
		logger.Warn(ctx, "Global property cannot be reassigned",
			append(tags, tag.Property(ev.Property), tag.NewValue(ev.NewValue))...)
	case core.EventTargetSkipped:
		logger.Info(ctx, "Target skipped", append(tags, tag.Reason(ev.Reason))...)
	case core.EventOnErrorTriggered:
		logger.Info(ctx, "Running on-error target", append(tags, "fallback", ev.Message)...)
	default:
		logger.Debug(ctx, ev.Kind.String(), append(tags, tag.Success(ev.Success))...)
	}
}

// MultiSink fans events out to every sink in order.
type MultiSink []core.EventSink

// Emit implements core.EventSink.
func (m MultiSink) Emit(ctx context.Context, ev core.Event) {
	for _, s := range m {
		s.Emit(ctx, ev)
	}
}

// RecordingSink keeps every event in memory.
type RecordingSink struct {
	mu     sync.Mutex
	events []core.Event
}

var _ core.EventSink = (*RecordingSink)(nil)

// Emit implements core.EventSink.
func (r *RecordingSink) Emit(_ context.Context, ev core.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of the recorded events.
func (r *RecordingSink) Events() []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.events)
}

// OfKind returns the recorded events of the given kinds.
func (r *RecordingSink) OfKind(kinds ...core.EventKind) []core.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []core.Event
	for _, ev := range r.events {
		if slices.Contains(kinds, ev.Kind) {
			out = append(out, ev)
		}
	}
	return out
}

// Reset drops the recorded events.
func (r *RecordingSink) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
