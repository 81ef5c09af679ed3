package core

// TargetStatus represents the lifecycle phases of a single target execution.
type TargetStatus int

const (
	TargetNotStarted TargetStatus = iota
	TargetRunning
	TargetSkipped
	TargetSucceeded
	TargetFailed
	TargetRunningOnError
)

// String returns the canonical lowercase token used in events and logs.
func (s TargetStatus) String() string {
	switch s {
	case TargetNotStarted:
		return "not_started"
	case TargetRunning:
		return "running"
	case TargetSkipped:
		return "skipped"
	case TargetSucceeded:
		return "succeeded"
	case TargetFailed:
		return "failed"
	case TargetRunningOnError:
		return "running_on_error"
	default:
		return "unknown"
	}
}

// IsTerminal reports whether no further transition can happen.
func (s TargetStatus) IsTerminal() bool {
	return s == TargetSkipped || s == TargetSucceeded || s == TargetFailed
}

// IsSuccess reports whether dependents of a target in this state may run.
// A skipped target counts as success: its outputs are already up to date.
func (s TargetStatus) IsSuccess() bool {
	return s == TargetSucceeded || s == TargetSkipped
}

// OutcomeKind classifies how a task execution ended.
type OutcomeKind int

const (
	// OutcomeCompleted means the task returned normally; Success carries
	// the value it returned.
	OutcomeCompleted OutcomeKind = iota
	// OutcomeFaulted means the task returned an error or panicked.
	OutcomeFaulted
)

func (k OutcomeKind) String() string {
	if k == OutcomeFaulted {
		return "faulted"
	}
	return "completed"
}

// TaskOutcome is the classified result of one task execution.
type TaskOutcome struct {
	Kind    OutcomeKind
	Success bool
	Fault   error
}

// Succeeded reports whether the task completed and reported success.
func (o TaskOutcome) Succeeded() bool {
	return o.Kind == OutcomeCompleted && o.Success
}

// Completed returns a completed outcome with the given success flag.
func Completed(success bool) TaskOutcome {
	return TaskOutcome{Kind: OutcomeCompleted, Success: success}
}

// Faulted returns a faulted outcome carrying err.
func Faulted(err error) TaskOutcome {
	return TaskOutcome{Kind: OutcomeFaulted, Fault: err}
}
