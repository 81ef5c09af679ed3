package otel

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/dagucloud/forge/internal/core"
)

// SpanSink turns build events into spans: one per build request, one per
// target run and one per task execution, nested in that order.
type SpanSink struct {
	tracer *Tracer

	mu    sync.Mutex
	spans map[string][]trace.Span
}

var _ core.EventSink = (*SpanSink)(nil)

// NewSpanSink creates a sink recording spans with tracer.
func NewSpanSink(tracer *Tracer) *SpanSink {
	return &SpanSink{tracer: tracer, spans: make(map[string][]trace.Span)}
}

func buildKey(ev core.Event) string  { return "b\x00" + ev.Configuration }
func targetKey(ev core.Event) string { return "t\x00" + ev.Configuration + "\x00" + ev.Target }
func taskKey(ev core.Event) string {
	return "k\x00" + ev.Configuration + "\x00" + ev.Target + "\x00" + ev.Task
}

// Emit implements core.EventSink.
func (s *SpanSink) Emit(ctx context.Context, ev core.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Kind {
	case core.EventBuildStarted:
		s.start(ctx, buildKey(ev), "", "build "+ev.Project,
			attribute.String("forge.project", ev.Project),
			attribute.String("forge.configuration", ev.Configuration),
		)
	case core.EventBuildFinished:
		s.end(buildKey(ev), ev.Success, ev.Err)
	case core.EventTargetStarted:
		s.start(ctx, targetKey(ev), buildKey(ev), "target "+ev.Target,
			attribute.String("forge.target", ev.Target),
		)
	case core.EventTargetSkipped:
		if span := s.top(targetKey(ev)); span != nil {
			span.AddEvent("skipped", trace.WithAttributes(attribute.String("forge.reason", ev.Reason)))
		}
	case core.EventTargetFinished:
		key := targetKey(ev)
		if s.top(key) == nil {
			// Targets failed by a dependency never start.
			s.start(ctx, key, buildKey(ev), "target "+ev.Target, attribute.String("forge.target", ev.Target))
		}
		if span := s.top(key); span != nil {
			span.SetAttributes(
				attribute.String("forge.status", ev.Status.String()),
				attribute.String("forge.reason", ev.Reason),
			)
		}
		s.end(key, ev.Status.IsSuccess(), ev.Err)
	case core.EventTaskStarted:
		s.start(ctx, taskKey(ev), targetKey(ev), "task "+ev.Task,
			attribute.String("forge.task", ev.Task),
		)
	case core.EventTaskFinished:
		s.end(taskKey(ev), ev.Success, ev.Err)
	default:
		span := s.top(taskKey(ev))
		if span == nil {
			span = s.top(targetKey(ev))
		}
		if span == nil {
			return
		}
		attrs := []attribute.KeyValue{attribute.String("forge.message", ev.Message)}
		if ev.Property != "" {
			attrs = append(attrs,
				attribute.String("forge.property", ev.Property),
				attribute.String("forge.old_value", ev.OldValue),
				attribute.String("forge.new_value", ev.NewValue),
			)
		}
		span.AddEvent(ev.Kind.String(), trace.WithAttributes(attrs...))
	}
}

func (s *SpanSink) top(key string) trace.Span {
	stack := s.spans[key]
	if len(stack) == 0 {
		return nil
	}
	return stack[len(stack)-1]
}

func (s *SpanSink) start(ctx context.Context, key, parentKey, name string, attrs ...attribute.KeyValue) {
	if parent := s.top(parentKey); parent != nil {
		ctx = trace.ContextWithSpan(ctx, parent)
	}
	_, span := s.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	s.spans[key] = append(s.spans[key], span)
}

func (s *SpanSink) end(key string, success bool, err error) {
	stack := s.spans[key]
	if len(stack) == 0 {
		return
	}
	span := stack[len(stack)-1]
	if len(stack) == 1 {
		delete(s.spans, key)
	} else {
		s.spans[key] = stack[:len(stack)-1]
	}
	switch {
	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case !success:
		span.SetStatus(codes.Error, "failed")
	default:
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

// Open returns the number of spans not yet ended.
func (s *SpanSink) Open() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, stack := range s.spans {
		n += len(stack)
	}
	return n
}
