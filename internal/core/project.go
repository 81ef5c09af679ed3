package core

import (
	"fmt"
	"slices"
	"strings"
)

// ErrorPolicy decides what a target does after a task invocation fails.
type ErrorPolicy int

const (
	// ErrorAndStop fails the target and aborts the remaining invocations.
	ErrorAndStop ErrorPolicy = iota
	// WarnAndContinue logs the failure as a warning and keeps going.
	WarnAndContinue
	// ErrorAndContinue logs the failure as an error and keeps going; the
	// target is still reported as failed.
	ErrorAndContinue
)

func (p ErrorPolicy) String() string {
	switch p {
	case WarnAndContinue:
		return "WarnAndContinue"
	case ErrorAndContinue:
		return "ErrorAndContinue"
	default:
		return "ErrorAndStop"
	}
}

// Continues reports whether the target proceeds after a failure.
func (p ErrorPolicy) Continues() bool {
	return p == WarnAndContinue || p == ErrorAndContinue
}

// ParseErrorPolicy parses a continue-on-error attribute value.
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "errorandstop":
		return ErrorAndStop, nil
	case "true", "warnandcontinue":
		return WarnAndContinue, nil
	case "errorandcontinue":
		return ErrorAndContinue, nil
	}
	return ErrorAndStop, NewValidationError("continueOnError", s, ErrInvalidErrorPolicy)
}

// OutputBinding maps a task output parameter to a destination. Exactly one
// of PropertyName and ItemType is set; either may contain metadata
// references and then depends on the batch.
type OutputBinding struct {
	TaskParameter string
	PropertyName  string
	ItemType      string
}

// Validate checks the binding shape.
func (o OutputBinding) Validate() error {
	if o.TaskParameter == "" {
		return NewValidationError("taskParameter", nil, ErrInvalidOutputDestination)
	}
	if (o.PropertyName == "") == (o.ItemType == "") {
		return NewValidationError("output", o.TaskParameter, ErrInvalidOutputDestination)
	}
	return nil
}

// Expression returns the destination expression.
func (o OutputBinding) Expression() string {
	if o.PropertyName != "" {
		return o.PropertyName
	}
	return o.ItemType
}

// TaskInvocation is one task element inside a target.
type TaskInvocation struct {
	Name            string
	Params          map[string]string
	Outputs         []OutputBinding
	ContinueOnError ErrorPolicy
	Condition       string
}

// Expressions returns every expression of the invocation that takes part in
// batching: parameters (sorted by name), output destinations, condition.
func (t TaskInvocation) Expressions() []string {
	names := make([]string, 0, len(t.Params))
	for name := range t.Params {
		names = append(names, name)
	}
	slices.Sort(names)
	exprs := make([]string, 0, len(names)+len(t.Outputs)+1)
	for _, name := range names {
		exprs = append(exprs, t.Params[name])
	}
	for _, o := range t.Outputs {
		exprs = append(exprs, o.Expression())
	}
	if t.Condition != "" {
		exprs = append(exprs, t.Condition)
	}
	return exprs
}

// OnError names fallback targets run after the owning target fails.
type OnError struct {
	Targets   []string
	Condition string
}

// Target is a named unit of build work.
type Target struct {
	Name      string
	Condition string
	DependsOn []string
	Inputs    string
	Outputs   string
	Returns   string
	Tasks     []TaskInvocation
	OnError   []OnError
}

// HasIncrementalInputs reports whether the target declares both Inputs and
// Outputs and is therefore subject to the up-to-date check.
func (t *Target) HasIncrementalInputs() bool {
	return strings.TrimSpace(t.Inputs) != "" && strings.TrimSpace(t.Outputs) != ""
}

// PropertyDefinition is a project-level property in declaration order.
type PropertyDefinition struct {
	Name      string
	Value     string
	Condition string
}

// ItemDefinition is a project-level item group entry.
type ItemDefinition struct {
	ItemType  string
	Include   string
	Exclude   string
	Metadata  []MetadataEntry
	Condition string
}

// Project is the evaluated input the engine consumes.
type Project struct {
	Name           string
	Path           string
	Dir            string
	DefaultTargets []string
	InitialTargets []string
	Properties     []PropertyDefinition
	Items          []ItemDefinition
	Targets        []*Target
}

// Target returns a target by case-insensitive name.
func (p *Project) Target(name string) (*Target, bool) {
	for _, t := range p.Targets {
		if strings.EqualFold(t.Name, name) {
			return t, true
		}
	}
	return nil, false
}

// Validate checks that every referenced target exists and that output
// bindings are well formed.
func (p *Project) Validate() error {
	var errs ErrorList
	seen := make(map[string]bool, len(p.Targets))
	for _, t := range p.Targets {
		key := strings.ToLower(t.Name)
		if seen[key] {
			errs = append(errs, fmt.Errorf("target %q is defined more than once", t.Name))
		}
		seen[key] = true
	}
	check := func(owner, name string) {
		if _, ok := p.Target(name); !ok {
			errs = append(errs, fmt.Errorf("%s: %w: %s", owner, ErrTargetNotFound, name))
		}
	}
	for _, t := range p.Targets {
		for _, dep := range t.DependsOn {
			check(t.Name, dep)
		}
		for _, oe := range t.OnError {
			for _, name := range oe.Targets {
				check(t.Name, name)
			}
		}
		for _, inv := range t.Tasks {
			for _, o := range inv.Outputs {
				if err := o.Validate(); err != nil {
					errs = append(errs, fmt.Errorf("target %q task %q: %w", t.Name, inv.Name, err))
				}
			}
		}
	}
	for _, name := range append(append([]string{}, p.DefaultTargets...), p.InitialTargets...) {
		check("project", name)
	}
	if len(errs) > 0 {
		return errs
	}
	return nil
}
