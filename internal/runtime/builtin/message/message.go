// Package message provides the Message, Warning and Error tasks.
package message

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/task"
)

var errInvalidImportance = errors.New("importance must be high, normal or low")

type params struct {
	Text       string `mapstructure:"Text"`
	Importance string `mapstructure:"Importance"`
	Code       string `mapstructure:"Code"`
}

func decode(tc *task.Context) (params, error) {
	var p params
	err := tc.Decode(&p)
	return p, err
}

func parseImportance(s string) (core.Importance, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "normal":
		return core.ImportanceNormal, nil
	case "high":
		return core.ImportanceHigh, nil
	case "low":
		return core.ImportanceLow, nil
	}
	return core.ImportanceNormal, fmt.Errorf("%w: %q", errInvalidImportance, s)
}

// withCode prefixes text with a diagnostic code.
func withCode(code, text string) string {
	if code == "" {
		return text
	}
	return code + ": " + text
}

func runMessage(ctx context.Context, tc *task.Context) (bool, error) {
	p, err := decode(tc)
	if err != nil {
		return false, err
	}
	importance, err := parseImportance(p.Importance)
	if err != nil {
		tc.LogError(ctx, err.Error())
		return false, nil
	}
	if p.Text != "" {
		tc.LogMessage(ctx, importance, p.Text)
	}
	return true, nil
}

func runWarning(ctx context.Context, tc *task.Context) (bool, error) {
	p, err := decode(tc)
	if err != nil {
		return false, err
	}
	if p.Text != "" {
		tc.LogWarning(ctx, withCode(p.Code, p.Text))
	}
	return true, nil
}

// runError logs an error and fails the task.
func runError(ctx context.Context, tc *task.Context) (bool, error) {
	p, err := decode(tc)
	if err != nil {
		return false, err
	}
	text := p.Text
	if text == "" {
		text = "error task failed"
	}
	tc.LogError(ctx, withCode(p.Code, text))
	return false, nil
}

func init() {
	factory := func(f task.Func) task.Factory {
		return func() task.Task { return f }
	}
	task.Register(task.Info{
		Name: "Message",
		Params: []task.ParamSpec{
			task.In("Text", task.ParamString),
			task.In("Importance", task.ParamString),
		},
		New: factory(runMessage),
	})
	task.Register(task.Info{
		Name: "Warning",
		Params: []task.ParamSpec{
			task.In("Text", task.ParamString),
			task.In("Code", task.ParamString),
		},
		New: factory(runWarning),
	})
	task.Register(task.Info{
		Name: "Error",
		Params: []task.ParamSpec{
			task.In("Text", task.ParamString),
			task.In("Code", task.ParamString),
		},
		New: factory(runError),
	})
}
