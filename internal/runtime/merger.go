package runtime

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/task"
)

// outputMerger writes task outputs of the batches of one invocation back
// into the lookup. It remembers which properties earlier batches wrote so
// later writes are reported as overrides.
type outputMerger struct {
	eval    core.Evaluator
	lookup  *Lookup
	emitter *emitter
	written map[string]bool
}

func newOutputMerger(ev core.Evaluator, lookup *Lookup, em *emitter) *outputMerger {
	return &outputMerger{
		eval:    ev,
		lookup:  lookup,
		emitter: em,
		written: make(map[string]bool),
	}
}

// Merge applies the output bindings of inv for one batch. Destinations are
// resolved against the batch scope, so a destination may depend on
// metadata values.
func (m *outputMerger) Merge(ctx context.Context, info task.Info, inv core.TaskInvocation, scope core.Scope, tc *task.Context) error {
	for _, binding := range inv.Outputs {
		if err := binding.Validate(); err != nil {
			return err
		}
		spec, ok := info.Param(binding.TaskParameter)
		if !ok || !spec.Output {
			return core.NewValidationError("output", binding.TaskParameter, core.ErrUnknownOutputParameter)
		}
		value, ok := tc.Output(spec.Name)
		if !ok {
			continue
		}
		dest, err := m.destination(ctx, binding, scope)
		if err != nil {
			return err
		}
		if binding.PropertyName != "" {
			m.mergeProperty(ctx, dest, value)
			continue
		}
		m.mergeItems(dest, value)
	}
	return nil
}

func (m *outputMerger) destination(ctx context.Context, binding core.OutputBinding, scope core.Scope) (string, error) {
	v, err := m.eval.Resolve(ctx, binding.Expression(), scope)
	if err != nil {
		return "", core.NewValidationError("output", binding.Expression(), err)
	}
	dest := strings.TrimSpace(v.String())
	if dest == "" || strings.Contains(dest, ";") {
		return "", core.NewValidationError("output", binding.Expression(),
			fmt.Errorf("%w: resolved to %q", core.ErrInvalidOutputDestination, dest))
	}
	return dest, nil
}

func (m *outputMerger) mergeProperty(ctx context.Context, name string, value core.Value) {
	newValue := value.String()
	old, _, ok := m.lookup.SetProperty(name, newValue)
	if !ok {
		m.emitter.emit(ctx, core.Event{
			Kind:     core.EventPropertyReassignmentIgnored,
			Property: name,
			OldValue: old,
			NewValue: newValue,
			Message:  fmt.Sprintf("global property %q cannot be reassigned", name),
		})
		return
	}
	key := strings.ToLower(name)
	if m.written[key] {
		m.emitter.emit(ctx, core.Event{
			Kind:     core.EventOverrideDetected,
			Property: name,
			OldValue: old,
			NewValue: newValue,
		})
	}
	m.written[key] = true
}

// mergeItems appends copies of the output items.
func (m *outputMerger) mergeItems(itemType string, value core.Value) {
	items := value.Items
	if value.Kind == core.ScalarKind {
		items = task.SplitItems(value.Scalar)
	}
	merged := make([]*core.Item, 0, len(items))
	for _, item := range items {
		merged = append(merged, item.Clone())
	}
	m.lookup.AddItems(itemType, merged...)
}

// emitter stamps events with the location of the running target.
type emitter struct {
	sink          core.EventSink
	configuration string
	project       string
	target        string
	task          string
}

func (e *emitter) emit(ctx context.Context, ev core.Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	if ev.Configuration == "" {
		ev.Configuration = e.configuration
	}
	if ev.Project == "" {
		ev.Project = e.project
	}
	if ev.Target == "" {
		ev.Target = e.target
	}
	if ev.Task == "" {
		ev.Task = e.task
	}
	e.sink.Emit(ctx, ev)
}

func (e *emitter) forTarget(target string) *emitter {
	c := *e
	c.target = target
	c.task = ""
	return &c
}

func (e *emitter) forTask(name string) *emitter {
	c := *e
	c.task = name
	return &c
}
