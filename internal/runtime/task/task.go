// Package task defines what the engine knows about a task: its parameter
// schema, whether it needs an isolated execution context, and how it is
// constructed.
package task

import (
	"context"
	"strings"
)

// Task is one executable step. Execute returns false for an expected
// failure; a returned error (or a panic) is a fault.
type Task interface {
	Execute(ctx context.Context, tc *Context) (bool, error)
}

// Func adapts a function to Task.
type Func func(ctx context.Context, tc *Context) (bool, error)

// Execute implements Task.
func (f Func) Execute(ctx context.Context, tc *Context) (bool, error) {
	return f(ctx, tc)
}

// Factory creates a fresh task instance for one batch.
type Factory func() Task

// ParamType is the declared type of a task parameter.
type ParamType int

const (
	ParamString ParamType = iota
	ParamBool
	ParamItems
)

func (t ParamType) String() string {
	switch t {
	case ParamBool:
		return "bool"
	case ParamItems:
		return "item list"
	default:
		return "string"
	}
}

// ParamSpec declares one task parameter. A parameter can be both an input
// and an output.
type ParamSpec struct {
	Name     string
	Type     ParamType
	Required bool
	Output   bool
	// Input is false for output-only parameters.
	Input bool
}

// In declares an input parameter.
func In(name string, typ ParamType) ParamSpec {
	return ParamSpec{Name: name, Type: typ, Input: true}
}

// Required declares a required input parameter.
func Required(name string, typ ParamType) ParamSpec {
	return ParamSpec{Name: name, Type: typ, Input: true, Required: true}
}

// Out declares an output-only parameter.
func Out(name string, typ ParamType) ParamSpec {
	return ParamSpec{Name: name, Type: typ, Output: true}
}

// InOut declares a parameter that is read and written back.
func InOut(name string, typ ParamType) ParamSpec {
	return ParamSpec{Name: name, Type: typ, Input: true, Output: true}
}

// Info describes a registered task.
type Info struct {
	Name   string
	Params []ParamSpec
	// RequiresIsolation runs every instance on a dedicated execution
	// context that exclusively owns it.
	RequiresIsolation bool
	New               Factory
}

// Param returns a parameter by case-insensitive name.
func (i Info) Param(name string) (ParamSpec, bool) {
	for _, p := range i.Params {
		if strings.EqualFold(p.Name, name) {
			return p, true
		}
	}
	return ParamSpec{}, false
}

// Inputs returns the input parameters in declaration order.
func (i Info) Inputs() []ParamSpec {
	var out []ParamSpec
	for _, p := range i.Params {
		if p.Input {
			out = append(out, p)
		}
	}
	return out
}
