// Package build provides the tasks that call back into the engine:
// CallTarget for targets of the running configuration and Build for nested
// project builds.
package build

import (
	"context"
	"fmt"
	"strings"

	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/task"
)

// MetadataSourceProject names the project that returned an item.
const MetadataSourceProject = "SourceProject"

func init() {
	task.Register(task.Info{
		Name: "CallTarget",
		Params: []task.ParamSpec{
			task.Required("Targets", task.ParamItems),
			task.Out("TargetOutputs", task.ParamItems),
		},
		New: func() task.Task { return task.Func(callTarget) },
	})
	task.Register(task.Info{
		Name: "Build",
		Params: []task.ParamSpec{
			task.Required("Projects", task.ParamItems),
			task.In("Targets", task.ParamItems),
			task.In("Properties", task.ParamString),
			task.In("StopOnFirstFailure", task.ParamBool),
			task.Out("TargetOutputs", task.ParamItems),
		},
		New: func() task.Task { return task.Func(buildProjects) },
	})
}

func callTarget(ctx context.Context, tc *task.Context) (bool, error) {
	targets := core.ItemIncludes(tc.Items("Targets"))
	res, err := tc.Host().CallTargets(ctx, targets)
	if err != nil {
		return false, err
	}
	if err := tc.SetItems("TargetOutputs", res.RequestedItems()); err != nil {
		return false, err
	}
	return res.Succeeded(), nil
}

func buildProjects(ctx context.Context, tc *task.Context) (bool, error) {
	globals, err := parseProperties(tc.String("Properties"))
	if err != nil {
		tc.LogError(ctx, err.Error())
		return false, nil
	}
	targets := core.ItemIncludes(tc.Items("Targets"))

	var requests []core.BuildRequest
	for _, item := range tc.Items("Projects") {
		path := item.Include()
		if base, _ := item.Origin(); base != "" {
			path = item.Metadata(core.MetadataFullPath)
		}
		requests = append(requests, core.BuildRequest{
			ProjectPath:      path,
			Targets:          targets,
			GlobalProperties: globals,
		})
	}

	var results []*core.BuildResult
	if tc.Bool("StopOnFirstFailure") {
		for _, req := range requests {
			res, err := tc.Host().BuildProjects(ctx, []core.BuildRequest{req})
			if err != nil {
				return false, err
			}
			results = append(results, res...)
			if !res[0].Succeeded() {
				break
			}
		}
	} else {
		results, err = tc.Host().BuildProjects(ctx, requests)
		if err != nil {
			return false, err
		}
	}

	ok := len(results) == len(requests)
	var outputs []*core.Item
	for _, res := range results {
		if !res.Succeeded() {
			ok = false
			logger.Warn(ctx, "Nested build failed", tag.Project(res.Project))
		}
		for _, item := range res.RequestedItems() {
			out := item.Clone()
			if !out.HasMetadata(MetadataSourceProject) {
				if err := out.SetMetadata(MetadataSourceProject, res.Project); err != nil {
					return false, err
				}
			}
			outputs = append(outputs, out)
		}
	}
	if err := tc.SetItems("TargetOutputs", outputs); err != nil {
		return false, err
	}
	return ok, nil
}

// parseProperties reads "Name=Value;Name=Value".
func parseProperties(s string) (map[string]string, error) {
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	props := make(map[string]string)
	for _, pair := range strings.Split(s, ";") {
		if pair = strings.TrimSpace(pair); pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		name = strings.TrimSpace(name)
		if !ok || name == "" {
			return nil, fmt.Errorf("invalid property %q: expected Name=Value", pair)
		}
		props[name] = strings.TrimSpace(value)
	}
	return props, nil
}
