package core

import (
	"maps"
	"slices"
	"strings"
)

// LastTaskResultProperty is the ambient property holding the outcome of the
// most recently executed task of the current target.
const LastTaskResultProperty = "LastTaskResult"

// Properties every project scope defines.
const (
	ProjectNameProperty      = "ProjectName"
	ProjectPathProperty      = "ProjectPath"
	ProjectDirectoryProperty = "ProjectDirectory"
)

// BuildRequest asks for targets of a project under a set of global
// properties.
type BuildRequest struct {
	ProjectPath      string
	Targets          []string
	GlobalProperties map[string]string
}

// ConfigurationKey is the identity of a build configuration: the project
// path plus its global properties. Property names compare case-insensitively.
func (r BuildRequest) ConfigurationKey() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(r.ProjectPath))
	keys := make([]string, 0, len(r.GlobalProperties))
	lowered := make(map[string]string, len(r.GlobalProperties))
	for k, v := range r.GlobalProperties {
		lk := strings.ToLower(k)
		keys = append(keys, lk)
		lowered[lk] = v
	}
	slices.Sort(keys)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(lowered[k])
	}
	return b.String()
}

// Configuration is a registered build configuration.
type Configuration struct {
	ID               string
	ProjectPath      string
	GlobalProperties map[string]string
}

// TargetResult is the terminal state of one target.
type TargetResult struct {
	Target string
	Status TargetStatus
	Items  []*Item
	Reason string
	Err    error
}

// Succeeded reports whether dependents may rely on the target.
func (r *TargetResult) Succeeded() bool {
	return r != nil && r.Status.IsSuccess()
}

// BuildResult collects target results of one build request.
type BuildResult struct {
	ConfigurationID string
	Project         string
	Results         map[string]*TargetResult
	Requested       []string
	Err             error
}

// Succeeded reports whether every requested target succeeded or was skipped.
func (r *BuildResult) Succeeded() bool {
	if r == nil || r.Err != nil {
		return false
	}
	for _, name := range r.Requested {
		res, ok := r.Results[strings.ToLower(name)]
		if !ok || !res.Succeeded() {
			return false
		}
	}
	return true
}

// Result returns the result of a target by case-insensitive name.
func (r *BuildResult) Result(target string) (*TargetResult, bool) {
	res, ok := r.Results[strings.ToLower(target)]
	return res, ok
}

// TargetNames returns result keys in sorted order.
func (r *BuildResult) TargetNames() []string {
	return slices.Sorted(maps.Keys(r.Results))
}

// RequestedItems returns the items returned by the requested targets, in
// request order.
func (r *BuildResult) RequestedItems() []*Item {
	var out []*Item
	for _, name := range r.Requested {
		if res, ok := r.Result(name); ok {
			out = append(out, res.Items...)
		}
	}
	return out
}
