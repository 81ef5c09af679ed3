package runtime

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/samber/lo"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/dagucloud/forge/internal/common/config"
	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/core/eval"
	"github.com/dagucloud/forge/internal/runtime/task"
)

var ErrProjectNotFound = errors.New("project not found")

// ProjectLoader reads a project file.
type ProjectLoader interface {
	Load(ctx context.Context, path string) (*core.Project, error)
}

// ProjectLoaderFunc adapts a function to ProjectLoader.
type ProjectLoaderFunc func(ctx context.Context, path string) (*core.Project, error)

// Load implements ProjectLoader.
func (f ProjectLoaderFunc) Load(ctx context.Context, path string) (*core.Project, error) {
	return f(ctx, path)
}

// MemoryLoader serves projects that are already built, keyed by path.
type MemoryLoader map[string]*core.Project

// Load implements ProjectLoader.
func (l MemoryLoader) Load(_ context.Context, path string) (*core.Project, error) {
	if p, ok := l[path]; ok {
		return p, nil
	}
	if p, ok := l[filepath.Clean(path)]; ok {
		return p, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrProjectNotFound, path)
}

// Manager schedules build requests. It owns the result cache, the
// configuration registry, the isolated execution contexts and the
// semaphore bounding the number of requests in progress.
type Manager struct {
	cfg      *config.Config
	loader   ProjectLoader
	registry *task.Registry
	eval     core.Evaluator
	sink     core.EventSink
	cache    *ResultCache
	configs  *Configurations
	pool     *IsolatedPool
	executor *TaskExecutor
	slots    *semaphore.Weighted
	waits    waitGraph
}

// Option configures a Manager.
type Option func(*Manager)

// WithConfig sets the engine configuration.
func WithConfig(cfg *config.Config) Option {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

// WithRegistry sets the task registry. The default registry holds the
// tasks registered by package init functions.
func WithRegistry(r *task.Registry) Option {
	return func(m *Manager) {
		m.registry = r
	}
}

// WithEvaluator replaces the expression evaluator.
func WithEvaluator(ev core.Evaluator) Option {
	return func(m *Manager) {
		m.eval = ev
	}
}

// WithSink sets the event sink.
func WithSink(sink core.EventSink) Option {
	return func(m *Manager) {
		m.sink = sink
	}
}

// NewManager creates a Manager loading projects with loader.
func NewManager(loader ProjectLoader, opts ...Option) *Manager {
	m := &Manager{
		loader:  loader,
		cache:   NewResultCache(),
		configs: NewConfigurations(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.cfg == nil {
		m.cfg = config.Default()
	}
	if m.registry == nil {
		m.registry = task.Default()
	}
	if m.eval == nil {
		m.eval = eval.New()
	}
	if m.sink == nil {
		m.sink = core.DiscardSink
	}
	m.pool = NewIsolatedPool(m.cfg.Build.IsolatedContextTimeout)
	m.executor = NewTaskExecutor(m.pool)
	m.slots = semaphore.NewWeighted(int64(max(1, m.cfg.Build.MaxParallelRequests)))
	return m
}

// Build runs one build request.
func (m *Manager) Build(ctx context.Context, req core.BuildRequest) (*core.BuildResult, error) {
	res := m.buildRequest(ctx, req)
	return res, res.Err
}

// BuildProjects runs several build requests concurrently and returns their
// results in request order.
func (m *Manager) BuildProjects(ctx context.Context, reqs []core.BuildRequest) ([]*core.BuildResult, error) {
	results := make([]*core.BuildResult, len(reqs))
	var g errgroup.Group
	for i, req := range reqs {
		g.Go(func() error {
			results[i] = m.buildRequest(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(lo.FilterMap(results, func(r *core.BuildResult, _ int) (error, bool) {
		return r.Err, r.Err != nil
	})...)
}

// buildNested runs requests issued by a task. The calling request gives up
// its slot while it waits so that nested requests can run even when every
// slot is taken.
func (m *Manager) buildNested(ctx context.Context, reqs []core.BuildRequest) ([]*core.BuildResult, error) {
	if lease := leaseFrom(ctx); lease != nil && lease.held {
		lease.release()
		defer func() {
			// The slot comes back even when ctx is canceled: the caller
			// releases it on its way out.
			_ = lease.acquire(context.WithoutCancel(ctx))
		}()
	}
	return m.BuildProjects(ctx, reqs)
}

func (m *Manager) buildRequest(ctx context.Context, req core.BuildRequest) *core.BuildResult {
	req.ProjectPath = filepath.Clean(req.ProjectPath)
	state := m.configs.resolve(req)
	ctx = logger.WithValues(ctx,
		tag.RequestID(uuid.NewString()),
		tag.Configuration(state.ID),
		tag.Project(state.ProjectPath),
	)

	// A request for a configuration this flow is already building enters
	// the active builder. Sibling requests doing the same take turns.
	w := m.waits.enter(waiterFrom(ctx), state.ProjectPath)
	defer m.waits.leave(w)
	t := state.turn
	if held, ok := heldTurn(ctx, state.ID); ok {
		t = held
	}
	if err := m.waits.acquire(ctx, w, t); err != nil {
		if !errors.Is(err, core.ErrCircularDependency) {
			err = fmt.Errorf("%w: %w", core.ErrBuildCanceled, err)
		}
		logger.Warn(ctx, "Build refused", tag.Error(err))
		return &core.BuildResult{
			ConfigurationID: state.ID,
			Project:         state.ProjectPath,
			Requested:       req.Targets,
			Err:             err,
		}
	}
	defer m.waits.release(w, t)
	ctx = withHeld(ctx, state.ID)
	ctx = context.WithValue(ctx, waiterKey{}, w)

	lease := &slotLease{slots: m.slots}
	if err := lease.acquire(ctx); err != nil {
		return &core.BuildResult{
			ConfigurationID: state.ID,
			Project:         state.ProjectPath,
			Requested:       req.Targets,
			Err:             fmt.Errorf("%w: %w", core.ErrBuildCanceled, err),
		}
	}
	defer lease.release()
	ctx = context.WithValue(ctx, leaseKey{}, lease)

	start := time.Now()
	em := &emitter{sink: m.sink, configuration: state.ID, project: state.ProjectPath}
	em.emit(ctx, core.Event{Kind: core.EventBuildStarted})
	logger.Info(ctx, "Build started", "targets", req.Targets)

	res := m.runRequest(ctx, state, req)

	em.emit(ctx, core.Event{Kind: core.EventBuildFinished, Success: res.Succeeded(), Err: res.Err})
	logger.Info(ctx, "Build finished",
		tag.Success(res.Succeeded()),
		tag.Duration(time.Since(start)),
	)
	return res
}

func (m *Manager) runRequest(ctx context.Context, state *configState, req core.BuildRequest) *core.BuildResult {
	if err := state.load(ctx, m.loader, m.eval); err != nil {
		logger.Error(ctx, "Failed to load project", tag.Error(err))
		return &core.BuildResult{
			ConfigurationID: state.ID,
			Project:         state.ProjectPath,
			Requested:       req.Targets,
			Err:             err,
		}
	}
	if state.active == nil {
		state.active = newRequestBuilder(m, state)
	}
	return state.active.Build(ctx, m.requestTargets(state.project, req.Targets))
}

// requestTargets returns the targets a request builds: the project's
// initial targets followed by the requested ones, or by the defaults when
// none are requested.
func (m *Manager) requestTargets(p *core.Project, requested []string) []string {
	targets := requested
	switch {
	case len(targets) > 0:
	case len(p.DefaultTargets) > 0:
		targets = p.DefaultTargets
	case len(m.cfg.Build.DefaultTargets) > 0:
		targets = m.cfg.Build.DefaultTargets
	case len(p.Targets) > 0:
		targets = []string{p.Targets[0].Name}
	}
	all := append(append([]string{}, p.InitialTargets...), targets...)
	return lo.UniqBy(all, strings.ToLower)
}

// Configurations returns the configuration registry.
func (m *Manager) Configurations() *Configurations {
	return m.configs
}

// Cache returns the result cache.
func (m *Manager) Cache() *ResultCache {
	return m.cache
}

// Registry returns the task registry.
func (m *Manager) Registry() *task.Registry {
	return m.registry
}

// IsolatedContexts reports how many isolated execution contexts were
// created.
func (m *Manager) IsolatedContexts() int64 {
	return m.pool.Created()
}

// Close shuts down the isolated execution contexts.
func (m *Manager) Close() {
	m.pool.Close()
}

type leaseKey struct{}

// slotLease is one request's hold on a scheduling slot. It is used by the
// request's own goroutine only.
type slotLease struct {
	slots *semaphore.Weighted
	held  bool
}

func (l *slotLease) acquire(ctx context.Context) error {
	if l.held {
		return nil
	}
	if err := l.slots.Acquire(ctx, 1); err != nil {
		return err
	}
	l.held = true
	return nil
}

func (l *slotLease) release() {
	if l.held {
		l.slots.Release(1)
		l.held = false
	}
}

func leaseFrom(ctx context.Context) *slotLease {
	l, _ := ctx.Value(leaseKey{}).(*slotLease)
	return l
}
