package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/batch"
	"github.com/dagucloud/forge/internal/runtime/task"
)

var errInvalidTransition = errors.New("invalid target state transition")

var transitions = map[core.TargetStatus][]core.TargetStatus{
	core.TargetNotStarted:     {core.TargetRunning, core.TargetSkipped, core.TargetFailed},
	core.TargetRunning:        {core.TargetSucceeded, core.TargetFailed},
	core.TargetFailed:         {core.TargetRunningOnError},
	core.TargetRunningOnError: {core.TargetSucceeded, core.TargetFailed},
}

// targetRun tracks the state of one target execution.
type targetRun struct {
	target *core.Target
	status core.TargetStatus
	start  time.Time
}

func (r *targetRun) transition(ctx context.Context, to core.TargetStatus) {
	for _, allowed := range transitions[r.status] {
		if allowed == to {
			logger.Debug(ctx, "Target state changed",
				tag.Target(r.target.Name),
				tag.Status(to.String()),
			)
			r.status = to
			return
		}
	}
	// Transitions are fixed by runTarget; reaching this is a bug.
	panic(fmt.Errorf("%w: %s -> %s", errInvalidTransition, r.status, to))
}

// runTarget executes one target whose dependencies are done.
func (b *requestBuilder) runTarget(ctx context.Context, t *core.Target, allowOnError bool) *core.TargetResult {
	em := b.emitter.forTarget(t.Name)
	run := &targetRun{target: t, status: core.TargetNotStarted, start: time.Now()}

	b.lookup.enterTarget()
	defer b.lookup.leaveTarget()

	em.emit(ctx, core.Event{Kind: core.EventTargetStarted})
	finish := func(r *core.TargetResult) *core.TargetResult {
		r.Target = t.Name
		r.Status = run.status
		em.emit(ctx, core.Event{
			Kind:    core.EventTargetFinished,
			Status:  r.Status,
			Success: r.Succeeded(),
			Reason:  r.Reason,
			Err:     r.Err,
		})
		logger.Info(ctx, "Target finished",
			tag.Target(t.Name),
			tag.Status(r.Status.String()),
			tag.Duration(time.Since(run.start)),
		)
		return r
	}

	ok, err := b.m.eval.EvalCondition(ctx, t.Condition, b.lookup)
	if err != nil {
		run.transition(ctx, core.TargetFailed)
		return finish(&core.TargetResult{Reason: ReasonInvalidCondition, Err: err})
	}
	if !ok {
		run.transition(ctx, core.TargetSkipped)
		em.emit(ctx, core.Event{Kind: core.EventTargetSkipped, Reason: ReasonCondition})
		return finish(&core.TargetResult{Reason: ReasonCondition})
	}

	if t.HasIncrementalInputs() {
		decision, err := checkUpToDate(ctx, b.m.eval, t, b.lookup)
		switch {
		case err != nil:
			logger.Warn(ctx, "Cannot decide whether target is up to date; running it",
				tag.Target(t.Name), tag.Error(err))
			em.emit(ctx, core.Event{Kind: core.EventWarning, Message: err.Error(), Err: err})
		case decision.skip:
			run.transition(ctx, core.TargetSkipped)
			em.emit(ctx, core.Event{Kind: core.EventTargetSkipped, Reason: decision.reason})
			return finish(&core.TargetResult{Reason: decision.reason, Items: b.returnedItems(ctx, t)})
		default:
			logger.Debug(ctx, "Target is out of date", tag.Target(t.Name), tag.Reason(decision.reason))
		}
	}

	run.transition(ctx, core.TargetRunning)
	if err := b.runTasks(ctx, t, em); err != nil {
		run.transition(ctx, core.TargetFailed)
		reason := ReasonTaskFailed
		if errors.Is(err, core.ErrBuildCanceled) {
			return finish(&core.TargetResult{Reason: ReasonCanceled, Err: err})
		}
		if allowOnError && len(t.OnError) > 0 {
			run.transition(ctx, core.TargetRunningOnError)
			b.runOnError(ctx, t, em)
			run.transition(ctx, core.TargetFailed)
		}
		return finish(&core.TargetResult{Reason: reason, Err: err})
	}

	run.transition(ctx, core.TargetSucceeded)
	return finish(&core.TargetResult{Items: b.returnedItems(ctx, t)})
}

// runTasks runs the invocations in order and returns the error that fails
// the target, if any.
func (b *requestBuilder) runTasks(ctx context.Context, t *core.Target, em *emitter) error {
	var continued error
	for _, inv := range t.Tasks {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %w", core.ErrBuildCanceled, err)
		}
		res := b.runInvocation(ctx, t, inv, em.forTask(inv.Name))
		if res.err == nil {
			continue
		}
		if res.fatal {
			return res.err
		}
		switch inv.ContinueOnError {
		case core.WarnAndContinue:
			em.forTask(inv.Name).emit(ctx, core.Event{
				Kind:    core.EventWarning,
				Message: fmt.Sprintf("task %q failed and the target continues: %v", inv.Name, res.err),
				Err:     res.err,
			})
		case core.ErrorAndContinue:
			em.forTask(inv.Name).emit(ctx, core.Event{
				Kind:    core.EventError,
				Message: fmt.Sprintf("task %q failed: %v", inv.Name, res.err),
				Err:     res.err,
			})
			if continued == nil {
				continued = res.err
			}
		default:
			return res.err
		}
	}
	return continued
}

type invocationResult struct {
	err error
	// fatal failures stop the target whatever the invocation's policy.
	fatal bool
}

func fatal(err error) invocationResult {
	return invocationResult{err: err, fatal: true}
}

// runInvocation batches, binds, executes and merges one task invocation.
// A failing batch ends the invocation.
func (b *requestBuilder) runInvocation(ctx context.Context, t *core.Target, inv core.TaskInvocation, em *emitter) invocationResult {
	info, ok := b.m.registry.Lookup(inv.Name)
	if !ok {
		return fatal(core.NewValidationError("task", inv.Name, core.ErrTaskNotFound))
	}

	batchedCondition := len(b.m.eval.ReferencedMetadata(inv.Condition)) > 0
	if !batchedCondition {
		ok, err := b.m.eval.EvalCondition(ctx, inv.Condition, b.lookup)
		if err != nil {
			return fatal(err)
		}
		if !ok {
			logger.Debug(ctx, "Task condition is false", tag.Target(t.Name), tag.Task(inv.Name))
			return invocationResult{}
		}
	}

	refs := batch.Collect(b.m.eval, inv.Expressions()...)
	buckets, err := batch.Partition(refs, b.lookup.ItemSnapshot(refs.ItemTypes))
	if err != nil {
		return fatal(err)
	}

	merger := newOutputMerger(b.m.eval, b.lookup, em)
	for i, bucket := range buckets {
		if err := ctx.Err(); err != nil {
			return fatal(fmt.Errorf("%w: %w", core.ErrBuildCanceled, err))
		}
		scope := &batchScope{Lookup: b.lookup, bucket: bucket}
		if batchedCondition {
			ok, err := b.m.eval.EvalCondition(ctx, inv.Condition, scope)
			if err != nil {
				return fatal(err)
			}
			if !ok {
				continue
			}
		}

		params, err := b.binder.Bind(ctx, info, inv, scope)
		if err != nil {
			return fatal(err)
		}
		tc := task.NewContext(info, params,
			task.WithHost(&targetHost{b: b}),
			task.WithSink(b.m.sink),
			task.WithLocation(task.Location{
				Configuration: b.state.ID,
				Project:       b.state.ProjectPath,
				ProjectDir:    b.projectDir(),
				Target:        t.Name,
			}),
		)

		em.emit(ctx, core.Event{Kind: core.EventTaskStarted})
		logger.Debug(ctx, "Task started", tag.Target(t.Name), tag.Task(info.Name), tag.Batch(i))
		outcome := b.m.executor.Execute(ctx, info, tc)
		b.lookup.setLastTaskResult(outcome.Succeeded())
		em.emit(ctx, core.Event{Kind: core.EventTaskFinished, Success: outcome.Succeeded(), Err: outcome.Fault})

		if outcome.Kind == core.OutcomeFaulted {
			var fault *core.ExecutionFault
			if errors.As(outcome.Fault, &fault) && fault.Stack != "" {
				logger.Error(ctx, "Task panicked", tag.Target(t.Name), tag.Task(info.Name),
					tag.Error(outcome.Fault), "stack", fault.Stack)
			}
			em.emit(ctx, core.Event{Kind: core.EventError, Message: outcome.Fault.Error(), Err: outcome.Fault})
		}

		if outcome.Succeeded() || (outcome.Kind == core.OutcomeCompleted && inv.ContinueOnError.Continues()) {
			if err := merger.Merge(ctx, info, inv, scope, tc); err != nil {
				return fatal(err)
			}
		}
		if outcome.Succeeded() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return fatal(fmt.Errorf("%w: %w", core.ErrBuildCanceled, err))
		}
		if outcome.Fault != nil {
			return invocationResult{err: outcome.Fault}
		}
		return invocationResult{err: fmt.Errorf("%w: %s", core.ErrTaskReportedFailure, info.Name)}
	}
	return invocationResult{}
}

// runOnError runs the fallback targets of every clause whose condition
// holds, in declared order. Failures of fallback targets do not trigger
// their own on-error clauses.
func (b *requestBuilder) runOnError(ctx context.Context, t *core.Target, em *emitter) {
	for _, clause := range t.OnError {
		ok, err := b.m.eval.EvalCondition(ctx, clause.Condition, b.lookup)
		if err != nil {
			em.emit(ctx, core.Event{Kind: core.EventWarning, Message: err.Error(), Err: err})
			continue
		}
		if !ok {
			continue
		}
		for _, name := range clause.Targets {
			if ctx.Err() != nil {
				return
			}
			em.emit(ctx, core.Event{Kind: core.EventOnErrorTriggered, Message: name})
			b.buildTarget(ctx, name, false)
		}
	}
}

// returnedItems resolves Returns, or Outputs when Returns is empty.
func (b *requestBuilder) returnedItems(ctx context.Context, t *core.Target) []*core.Item {
	expr := t.Returns
	if expr == "" {
		expr = t.Outputs
	}
	if expr == "" {
		return nil
	}
	v, err := b.m.eval.Resolve(ctx, expr, b.lookup)
	if err != nil {
		logger.Warn(ctx, "Failed to resolve target returns", tag.Target(t.Name), tag.Error(err))
		return nil
	}
	if v.Kind == core.ScalarKind {
		return task.SplitItems(v.Scalar)
	}
	return v.Items
}

func (b *requestBuilder) projectDir() string {
	dir, _ := b.lookup.Property(core.ProjectDirectoryProperty)
	return dir
}
