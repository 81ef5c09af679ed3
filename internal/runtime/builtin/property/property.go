// Package property provides tasks that create properties and items from
// within a target.
package property

import (
	"context"
	"fmt"
	"strings"

	"github.com/samber/lo"

	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/task"
)

func init() {
	task.Register(task.Info{
		Name:   "CreateProperty",
		Params: []task.ParamSpec{task.InOut("Value", task.ParamString)},
		New: func() task.Task {
			return task.Func(func(_ context.Context, tc *task.Context) (bool, error) {
				return true, tc.SetString("Value", tc.String("Value"))
			})
		},
	})
	task.Register(task.Info{
		Name: "CreateItem",
		Params: []task.ParamSpec{
			task.InOut("Include", task.ParamItems),
			task.In("Exclude", task.ParamItems),
			task.In("AdditionalMetadata", task.ParamString),
		},
		New: func() task.Task { return task.Func(createItem) },
	})
}

// createItem copies Include minus Exclude and sets AdditionalMetadata
// ("Name=Value;...") on every copy. Metadata the items already carry wins.
func createItem(ctx context.Context, tc *task.Context) (bool, error) {
	metadata, err := parseMetadata(tc.String("AdditionalMetadata"))
	if err != nil {
		tc.LogError(ctx, err.Error())
		return false, nil
	}

	excluded := lo.SliceToMap(tc.Items("Exclude"), func(item *core.Item) (string, bool) {
		return strings.ToLower(item.Include()), true
	})
	kept := lo.Reject(tc.Items("Include"), func(item *core.Item, _ int) bool {
		return excluded[strings.ToLower(item.Include())]
	})

	out := make([]*core.Item, 0, len(kept))
	for _, item := range kept {
		clone := item.Clone()
		for _, md := range metadata {
			if clone.HasMetadata(md.Name) {
				continue
			}
			if err := clone.SetMetadata(md.Name, md.Value); err != nil {
				tc.LogError(ctx, err.Error())
				return false, nil
			}
		}
		out = append(out, clone)
	}
	return true, tc.SetItems("Include", out)
}

func parseMetadata(s string) ([]core.MetadataEntry, error) {
	var out []core.MetadataEntry
	for _, pair := range strings.Split(s, ";") {
		if pair = strings.TrimSpace(pair); pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid metadata %q: expected Name=Value", pair)
		}
		out = append(out, core.MetadataEntry{Name: name, Value: strings.TrimSpace(value)})
	}
	return out, nil
}
