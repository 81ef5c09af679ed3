package runtime

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"path/filepath"
	"strings"

	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/task"
)

// Reasons recorded on target results.
const (
	ReasonCanceled         = "canceled"
	ReasonDependencyFailed = "dependency failed"
	ReasonCircular         = "circular dependency"
	ReasonNotFound         = "target not found"
	ReasonCondition        = "condition is false"
	ReasonTaskFailed       = "task failed"
	ReasonInvalidCondition = "invalid condition"
)

// requestBuilder builds targets of one configuration. It is used by one
// flow at a time: the configuration lock serializes requests, and nested
// requests for a configuration already being built reuse its builder.
type requestBuilder struct {
	m       *Manager
	state   *configState
	project *core.Project
	lookup  *Lookup
	binder  *Binder
	emitter *emitter

	inProgress map[string]bool
	stack      []string
	results    map[string]*core.TargetResult
}

func newRequestBuilder(m *Manager, state *configState) *requestBuilder {
	return &requestBuilder{
		m:       m,
		state:   state,
		project: state.project,
		lookup:  state.lookup,
		binder:  NewBinder(m.eval, m.cfg.Build.StrictItemTypes),
		emitter: &emitter{
			sink:          m.sink,
			configuration: state.ID,
			project:       state.ProjectPath,
		},
		inProgress: make(map[string]bool),
	}
}

// Build builds targets in order and collects the result of every target
// visited on the way, dependencies included.
func (b *requestBuilder) Build(ctx context.Context, targets []string) *core.BuildResult {
	saved := b.results
	b.results = make(map[string]*core.TargetResult)
	defer func() { b.results = saved }()

	res := &core.BuildResult{
		ConfigurationID: b.state.ID,
		Project:         b.state.ProjectPath,
		Requested:       targets,
	}
	for _, name := range targets {
		if err := ctx.Err(); err != nil {
			b.record(b.canceled(name, err))
			continue
		}
		b.buildTarget(ctx, name, true)
	}
	res.Results = maps.Clone(b.results)
	if err := ctx.Err(); err != nil {
		res.Err = fmt.Errorf("%w: %w", core.ErrBuildCanceled, err)
	}
	return res
}

func (b *requestBuilder) record(r *core.TargetResult) *core.TargetResult {
	if b.results != nil {
		b.results[strings.ToLower(r.Target)] = r
	}
	return r
}

// buildTarget resolves the dependencies of a target depth first, in
// declared order, then runs it unless the cache already holds its result.
// allowOnError is false for on-error fallback targets.
func (b *requestBuilder) buildTarget(ctx context.Context, name string, allowOnError bool) *core.TargetResult {
	t, ok := b.project.Target(name)
	if !ok {
		return b.record(&core.TargetResult{
			Target: name,
			Status: core.TargetFailed,
			Reason: ReasonNotFound,
			Err:    fmt.Errorf("%w: %s", core.ErrTargetNotFound, name),
		})
	}
	if r, ok := b.m.cache.Get(b.state.ID, t.Name); ok {
		return b.record(r)
	}

	key := strings.ToLower(t.Name)
	if b.inProgress[key] {
		chain := strings.Join(append(append([]string{}, b.stack...), t.Name), " -> ")
		logger.Error(ctx, "Circular target dependency", tag.Target(t.Name), tag.Reason(chain))
		return b.record(&core.TargetResult{
			Target: t.Name,
			Status: core.TargetFailed,
			Reason: ReasonCircular,
			Err:    fmt.Errorf("%w: %s", core.ErrCircularDependency, chain),
		})
	}
	b.inProgress[key] = true
	b.stack = append(b.stack, t.Name)
	defer func() {
		delete(b.inProgress, key)
		b.stack = b.stack[:len(b.stack)-1]
	}()

	for _, dep := range t.DependsOn {
		if err := ctx.Err(); err != nil {
			return b.record(b.canceled(t.Name, err))
		}
		dr := b.buildTarget(ctx, dep, true)
		if dr.Succeeded() {
			continue
		}
		r := &core.TargetResult{
			Target: t.Name,
			Status: core.TargetFailed,
			Reason: ReasonDependencyFailed,
			Err:    dependencyError(dep, dr.Err),
		}
		b.emitter.forTarget(t.Name).emit(ctx, core.Event{
			Kind:   core.EventTargetFinished,
			Status: r.Status,
			Reason: r.Reason,
			Err:    r.Err,
		})
		if errors.Is(r.Err, core.ErrBuildCanceled) {
			return b.record(r)
		}
		return b.record(b.m.cache.Add(b.state.ID, t.Name, r))
	}

	if err := ctx.Err(); err != nil {
		return b.record(b.canceled(t.Name, err))
	}
	r, _ := b.m.cache.GetOrRun(b.state.ID, t.Name, func() (*core.TargetResult, bool) {
		r := b.runTarget(ctx, t, allowOnError)
		return r, !errors.Is(r.Err, core.ErrBuildCanceled)
	})
	return b.record(r)
}

func dependencyError(dep string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: %s", core.ErrDependencyFailed, dep)
	}
	return fmt.Errorf("%w: %s: %w", core.ErrDependencyFailed, dep, cause)
}

func (b *requestBuilder) canceled(target string, cause error) *core.TargetResult {
	return &core.TargetResult{
		Target: target,
		Status: core.TargetFailed,
		Reason: ReasonCanceled,
		Err:    fmt.Errorf("%w: %w", core.ErrBuildCanceled, cause),
	}
}

// targetHost is the task.Host of tasks running in a target.
type targetHost struct {
	b *requestBuilder
}

var _ task.Host = (*targetHost)(nil)

func (h *targetHost) CallTargets(ctx context.Context, targets []string) (*core.BuildResult, error) {
	res := h.b.Build(ctx, targets)
	return res, res.Err
}

// BuildProjects resolves relative project paths against the calling
// project's directory and lets the requests inherit its global properties.
func (h *targetHost) BuildProjects(ctx context.Context, requests []core.BuildRequest) ([]*core.BuildResult, error) {
	dir, _ := h.b.lookup.Property(core.ProjectDirectoryProperty)
	parentGlobals := h.b.lookup.GlobalProperties()
	nested := make([]core.BuildRequest, len(requests))
	for i, req := range requests {
		if req.ProjectPath == "" {
			req.ProjectPath = h.b.state.ProjectPath
		} else if !filepath.IsAbs(req.ProjectPath) && dir != "" {
			req.ProjectPath = filepath.Join(dir, filepath.FromSlash(req.ProjectPath))
		}
		globals, err := inheritGlobals(req.GlobalProperties, parentGlobals)
		if err != nil {
			return nil, fmt.Errorf("failed to merge global properties: %w", err)
		}
		req.GlobalProperties = globals
		nested[i] = req
	}
	return h.b.m.buildNested(ctx, nested)
}
