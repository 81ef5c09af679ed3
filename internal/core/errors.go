package core

import (
	"errors"
	"fmt"
	"strings"
)

// errors on validating and binding task invocations.
var (
	ErrReservedMetadata           = errors.New("metadata name is reserved and cannot be modified")
	ErrInvalidMetadataName        = errors.New("metadata name must not be empty")
	ErrUnqualifiedMetadata        = errors.New("unqualified metadata reference requires at least one item type reference")
	ErrMissingRequiredParameter   = errors.New("required parameter has no value")
	ErrParameterTypeMismatch      = errors.New("parameter value does not match its declared type")
	ErrUnknownParameter           = errors.New("task does not declare this parameter")
	ErrUndeclaredItemType         = errors.New("expression references an undeclared item type")
	ErrUnknownOutputParameter     = errors.New("task does not declare this output parameter")
	ErrInvalidOutputDestination   = errors.New("output binding must name exactly one of property or item type")
	ErrTaskNotFound               = errors.New("task is not registered")
	ErrTargetNotFound             = errors.New("target does not exist in the project")
	ErrCircularDependency         = errors.New("circular target dependency")
	ErrBuildCanceled              = errors.New("build was canceled")
	ErrDependencyFailed           = errors.New("dependency target failed")
	ErrTaskReportedFailure        = errors.New("task reported failure")
	ErrInvalidErrorPolicy         = errors.New("invalid continue-on-error value")
	ErrIsolatedContextUnavailable = errors.New("isolated execution context is closed")
)

// ErrorList is just a list of errors.
// It is used to collect multiple errors while validating a project.
type ErrorList []error

// ToStringList returns the list of errors as a slice of strings.
func (e *ErrorList) ToStringList() []string {
	errStrings := make([]string, len(*e))
	for i, err := range *e {
		errStrings[i] = err.Error()
	}
	return errStrings
}

// Error implements the error interface.
// It returns a string with all the errors separated by a semicolon.
func (e ErrorList) Error() string {
	return strings.Join(e.ToStringList(), "; ")
}

// Unwrap implements the errors.Unwrap interface.
func (e ErrorList) Unwrap() []error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// ValidationError reports invalid input to a task invocation: a reserved
// metadata write, a malformed binding, a bad output destination.
// It is fatal to the invocation and is never retried.
type ValidationError struct {
	Field string
	Value any
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Value == nil {
		return fmt.Sprintf("field '%s': %v", e.Field, e.Err)
	}
	return fmt.Sprintf("field '%s': %v (value: %+v)", e.Field, e.Err, e.Value)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// NewValidationError wraps an error with field context.
func NewValidationError(field string, value any, err error) error {
	return &ValidationError{
		Field: field,
		Value: value,
		Err:   err,
	}
}

// ParameterBindingError reports a failure to bind one task parameter.
type ParameterBindingError struct {
	Task      string
	Parameter string
	Err       error
}

func (e *ParameterBindingError) Error() string {
	return fmt.Sprintf("task %q parameter %q: %v", e.Task, e.Parameter, e.Err)
}

func (e *ParameterBindingError) Unwrap() error {
	return e.Err
}

// ExecutionFault carries the error (or recovered panic) raised by a task.
type ExecutionFault struct {
	Task  string
	Cause error
	Stack string
}

func (e *ExecutionFault) Error() string {
	return fmt.Sprintf("task %q faulted: %v", e.Task, e.Cause)
}

func (e *ExecutionFault) Unwrap() error {
	return e.Cause
}

// SkipDecisionError reports that the up-to-date check could not be made.
// The target is then treated as out of date and runs.
type SkipDecisionError struct {
	Target string
	Err    error
}

func (e *SkipDecisionError) Error() string {
	return fmt.Sprintf("target %q: cannot determine up-to-date state: %v", e.Target, e.Err)
}

func (e *SkipDecisionError) Unwrap() error {
	return e.Err
}
