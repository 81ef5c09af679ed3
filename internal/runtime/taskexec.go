package runtime

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"

	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/task"
)

var errNilTask = errors.New("task factory returned nil")

// TaskExecutor runs bound task instances on the execution context their
// Info asks for and classifies the outcome. Nothing a task does escapes as a
// panic.
type TaskExecutor struct {
	pool *IsolatedPool
}

// NewTaskExecutor creates an executor dispatching isolated tasks to pool.
func NewTaskExecutor(pool *IsolatedPool) *TaskExecutor {
	return &TaskExecutor{pool: pool}
}

// Execute creates a task instance and runs it with tc. Tasks requiring
// isolation are created and run on their own context; the caller blocks
// until the run is over.
func (e *TaskExecutor) Execute(ctx context.Context, info task.Info, tc *task.Context) core.TaskOutcome {
	if !info.RequiresIsolation {
		return invoke(ctx, info, tc)
	}

	var outcome core.TaskOutcome
	if err := e.pool.Run(ctx, func() {
		outcome = invoke(ctx, info, tc)
	}); err != nil {
		return core.Faulted(&core.ExecutionFault{Task: info.Name, Cause: err})
	}
	return outcome
}

func invoke(ctx context.Context, info task.Info, tc *task.Context) (outcome core.TaskOutcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = core.Faulted(&core.ExecutionFault{
				Task:  info.Name,
				Cause: fmt.Errorf("panic: %v", r),
				Stack: string(debug.Stack()),
			})
		}
	}()

	inst := info.New()
	if inst == nil {
		return core.Faulted(&core.ExecutionFault{Task: info.Name, Cause: errNilTask})
	}
	ok, err := inst.Execute(ctx, tc)
	if err != nil {
		return core.Faulted(&core.ExecutionFault{Task: info.Name, Cause: err})
	}
	return core.Completed(ok)
}
