package runtime

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/core/eval"
)

// evaluateProject builds the initial lookup of a configuration: global
// properties, the reserved project properties, then project properties and
// items in declaration order. Definitions whose condition is false are
// skipped. A project property named like a global property is ignored.
func evaluateProject(ctx context.Context, ev core.Evaluator, project *core.Project, globals map[string]string) (*Lookup, error) {
	l := NewLookup(globals)

	dir := project.Dir
	if dir == "" && project.Path != "" {
		dir = filepath.Dir(project.Path)
	}
	l.SetProperty(core.ProjectNameProperty, project.Name)
	l.SetProperty(core.ProjectPathProperty, project.Path)
	l.SetProperty(core.ProjectDirectoryProperty, dir)

	for _, def := range project.Properties {
		ok, err := ev.EvalCondition(ctx, def.Condition, l)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", def.Name, err)
		}
		if !ok {
			continue
		}
		v, err := ev.Resolve(ctx, def.Value, l)
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", def.Name, err)
		}
		l.SetProperty(def.Name, v.String())
	}

	for _, def := range project.Items {
		l.DeclareItemType(def.ItemType)
		ok, err := ev.EvalCondition(ctx, def.Condition, l)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", def.ItemType, err)
		}
		if !ok {
			continue
		}
		items, err := expandItemDefinition(ctx, ev, l, dir, def.Include, def.Exclude)
		if err != nil {
			return nil, fmt.Errorf("item %q: %w", def.ItemType, err)
		}
		for _, item := range items {
			for _, m := range def.Metadata {
				v, err := ev.Resolve(ctx, m.Value, l)
				if err != nil {
					return nil, fmt.Errorf("item %q metadata %q: %w", def.ItemType, m.Name, err)
				}
				if err := item.SetMetadata(m.Name, v.String()); err != nil {
					return nil, fmt.Errorf("item %q: %w", def.ItemType, err)
				}
			}
			item.WithOrigin(dir, project.Path)
		}
		l.AddItems(def.ItemType, items...)
	}
	return l, nil
}

// expandItemDefinition resolves an include/exclude pair. Item references in
// the include are taken as items; the remaining text goes through wildcard
// expansion relative to dir.
func expandItemDefinition(ctx context.Context, ev core.Evaluator, scope core.Scope, dir, include, exclude string) ([]*core.Item, error) {
	inc, err := ev.Resolve(ctx, include, scope)
	if err != nil {
		return nil, err
	}
	exc, err := ev.Resolve(ctx, exclude, scope)
	if err != nil {
		return nil, err
	}
	if inc.Kind == core.ScalarKind {
		return eval.ExpandIncludes(dir, inc.Scalar, exc.String())
	}
	var items []*core.Item
	for _, item := range inc.Items {
		if eval.HasWildcard(item.Include()) {
			expanded, err := eval.ExpandIncludes(dir, item.Include(), exc.String())
			if err != nil {
				return nil, err
			}
			items = append(items, expanded...)
			continue
		}
		kept, err := eval.ExpandIncludes(dir, item.Include(), exc.String())
		if err != nil {
			return nil, err
		}
		if len(kept) > 0 {
			items = append(items, item)
		}
	}
	return items, nil
}
