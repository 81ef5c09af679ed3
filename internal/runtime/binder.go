package runtime

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/task"
)

// Binder resolves the parameters of a task invocation against a scope.
type Binder struct {
	eval core.Evaluator
	// strict rejects expressions referencing undeclared item types.
	strict bool
}

// NewBinder creates a binder.
func NewBinder(ev core.Evaluator, strict bool) *Binder {
	return &Binder{eval: ev, strict: strict}
}

// Bind returns the value of every input parameter that resolved to a
// non-empty value. Parameters resolving to nothing are left unbound, so a
// required parameter bound to an empty expression is reported missing.
func (b *Binder) Bind(ctx context.Context, info task.Info, inv core.TaskInvocation, scope core.Scope) (map[string]core.Value, error) {
	bound := make(map[string]core.Value, len(inv.Params))
	fail := func(param string, err error) error {
		return &core.ParameterBindingError{Task: info.Name, Parameter: param, Err: err}
	}

	for _, name := range slices.Sorted(maps.Keys(inv.Params)) {
		expr := inv.Params[name]
		spec, ok := info.Param(name)
		if !ok || !spec.Input {
			return nil, fail(name, core.ErrUnknownParameter)
		}
		if b.strict {
			for _, itemType := range b.eval.ReferencedItemTypes(expr) {
				if !scope.HasItemType(itemType) {
					return nil, fail(spec.Name, fmt.Errorf("%w: %s", core.ErrUndeclaredItemType, itemType))
				}
			}
		}
		v, err := b.eval.Resolve(ctx, expr, scope)
		if err != nil {
			return nil, fail(spec.Name, err)
		}
		v, err = coerce(spec, v)
		if err != nil {
			return nil, fail(spec.Name, err)
		}
		if !v.IsEmpty() {
			bound[spec.Name] = v
		}
	}

	for _, spec := range info.Params {
		if !spec.Required {
			continue
		}
		if _, ok := bound[spec.Name]; !ok {
			return nil, fail(spec.Name, core.ErrMissingRequiredParameter)
		}
	}
	return bound, nil
}

// coerce converts a resolved value to the declared parameter type.
func coerce(spec task.ParamSpec, v core.Value) (core.Value, error) {
	switch spec.Type {
	case task.ParamItems:
		if v.Kind == core.ScalarKind {
			return core.ItemsValue(task.SplitItems(v.Scalar)), nil
		}
		return v, nil

	case task.ParamBool:
		text, err := scalarText(spec, v)
		if err != nil {
			return core.Value{}, err
		}
		if strings.TrimSpace(text) == "" {
			return core.ScalarValue(""), nil
		}
		b, ok := parseBool(text)
		if !ok {
			return core.Value{}, fmt.Errorf("%w: %q is not a boolean", core.ErrParameterTypeMismatch, text)
		}
		if b {
			return core.ScalarValue("true"), nil
		}
		return core.ScalarValue("false"), nil

	default:
		text, err := scalarText(spec, v)
		if err != nil {
			return core.Value{}, err
		}
		return core.ScalarValue(text), nil
	}
}

func scalarText(spec task.ParamSpec, v core.Value) (string, error) {
	if v.Kind == core.ScalarKind {
		return v.Scalar, nil
	}
	switch len(v.Items) {
	case 0:
		return "", nil
	case 1:
		return v.Items[0].Include(), nil
	}
	return "", fmt.Errorf("%w: %d items bound to %s parameter", core.ErrParameterTypeMismatch, len(v.Items), spec.Type)
}

func parseBool(s string) (bool, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "true", "on", "yes", "!false":
		return true, true
	case "false", "off", "no", "!true":
		return false, true
	}
	return false, false
}
