package runtime_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	goruntime "runtime"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/forge/internal/common/config"
	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime"
	_ "github.com/dagucloud/forge/internal/runtime/builtin/message"
	"github.com/dagucloud/forge/internal/runtime/task"
)

// hooks lets test tasks report back to the test.
type hooks struct {
	mu      sync.Mutex
	calls   []string
	nested  [][]*core.BuildResult
	started chan struct{}
	meet    sync.WaitGroup
}

func (h *hooks) record(s string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.calls = append(h.calls, s)
}

func (h *hooks) recorded() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func fn(f func(ctx context.Context, tc *task.Context) (bool, error)) task.Factory {
	return func() task.Task { return task.Func(f) }
}

func testRegistry(h *hooks) *task.Registry {
	r := task.NewRegistry()
	if warning, ok := task.Default().Lookup("Warning"); ok {
		r.MustRegister(warning)
	}
	r.MustRegister(task.Info{
		Name:   "Format",
		Params: []task.ParamSpec{task.In("Value", task.ParamString), task.Out("Result", task.ParamString)},
		New: fn(func(_ context.Context, tc *task.Context) (bool, error) {
			return true, tc.SetString("Result", tc.String("Value"))
		}),
	})
	r.MustRegister(task.Info{
		Name:   "Record",
		Params: []task.ParamSpec{task.In("Text", task.ParamString)},
		New: fn(func(_ context.Context, tc *task.Context) (bool, error) {
			h.record(tc.Target + ":" + tc.String("Text"))
			return true, nil
		}),
	})
	r.MustRegister(task.Info{
		Name: "Fail",
		New: fn(func(context.Context, *task.Context) (bool, error) {
			return false, nil
		}),
	})
	r.MustRegister(task.Info{
		Name: "Panic",
		New: fn(func(context.Context, *task.Context) (bool, error) {
			panic("kaboom")
		}),
	})
	r.MustRegister(task.Info{
		Name:              "IsolatedFail",
		RequiresIsolation: true,
		New: fn(func(context.Context, *task.Context) (bool, error) {
			return false, nil
		}),
	})
	r.MustRegister(task.Info{
		Name: "Block",
		New: fn(func(ctx context.Context, _ *task.Context) (bool, error) {
			close(h.started)
			<-ctx.Done()
			return false, ctx.Err()
		}),
	})
	r.MustRegister(task.Info{
		Name: "Meet",
		New: fn(func(context.Context, *task.Context) (bool, error) {
			h.meet.Done()
			h.meet.Wait()
			return true, nil
		}),
	})
	r.MustRegister(task.Info{
		Name: "Nested",
		Params: []task.ParamSpec{
			task.Required("Project", task.ParamString),
			task.In("Targets", task.ParamString),
			task.Out("TargetOutputs", task.ParamItems),
		},
		New: fn(func(ctx context.Context, tc *task.Context) (bool, error) {
			req := core.BuildRequest{ProjectPath: tc.String("Project")}
			for _, item := range tc.Items("Targets") {
				req.Targets = append(req.Targets, item.Include())
			}
			results, err := tc.Host().BuildProjects(ctx, []core.BuildRequest{req})
			if err != nil {
				return false, err
			}
			h.mu.Lock()
			h.nested = append(h.nested, results)
			h.mu.Unlock()
			ok := true
			var items []*core.Item
			for _, r := range results {
				ok = ok && r.Succeeded()
				items = append(items, r.RequestedItems()...)
			}
			return ok, tc.SetItems("TargetOutputs", items)
		}),
	})
	return r
}

func newManager(t *testing.T, h *hooks, cfg *config.Config, projects ...*core.Project) (*runtime.Manager, *runtime.RecordingSink) {
	t.Helper()
	loader := runtime.MemoryLoader{}
	for _, p := range projects {
		loader[p.Path] = p
	}
	if cfg == nil {
		cfg = config.Default()
	}
	sink := &runtime.RecordingSink{}
	m := runtime.NewManager(loader,
		runtime.WithConfig(cfg),
		runtime.WithRegistry(testRegistry(h)),
		runtime.WithSink(sink),
	)
	t.Cleanup(m.Close)
	return m, sink
}

func project(path string, targets ...*core.Target) *core.Project {
	return &core.Project{
		Name:    strings.TrimSuffix(filepath.Base(path), filepath.Ext(path)),
		Path:    path,
		Targets: targets,
	}
}

func invoke(name string, params map[string]string, outputs ...core.OutputBinding) core.TaskInvocation {
	return core.TaskInvocation{Name: name, Params: params, Outputs: outputs}
}

func toProperty(param, name string) core.OutputBinding {
	return core.OutputBinding{TaskParameter: param, PropertyName: name}
}

func record(text string) core.TaskInvocation {
	return invoke("Record", map[string]string{"Text": text})
}

func build(t *testing.T, m *runtime.Manager, path string, targets ...string) *core.BuildResult {
	t.Helper()
	res, _ := m.Build(context.Background(), core.BuildRequest{ProjectPath: path, Targets: targets})
	require.NotNil(t, res)
	return res
}

func result(t *testing.T, res *core.BuildResult, target string) *core.TargetResult {
	t.Helper()
	r, ok := res.Result(target)
	require.True(t, ok, "no result for %s", target)
	return r
}

func skipOnWindows(t *testing.T) {
	if goruntime.GOOS == "windows" {
		t.Skip("uses unix paths")
	}
}

const app = "/ws/app.yaml"

func TestManager_BatchedOutputOverrides(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	p := project(app, &core.Target{
		Name: "Build",
		Tasks: []core.TaskInvocation{
			invoke("Format", map[string]string{"Value": "%(Res.LogicalName).resources"}, toProperty("Result", "Manifest")),
		},
		Returns: "$(Manifest)",
	})
	for _, name := range []string{"foo", "bar", "barz"} {
		p.Items = append(p.Items, core.ItemDefinition{
			ItemType: "Res",
			Include:  name + ".resx",
			Metadata: []core.MetadataEntry{{Name: "LogicalName", Value: name}},
		})
	}
	m, sink := newManager(t, &hooks{}, nil, p)

	res := build(t, m, app, "Build")
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"barz.resources"}, core.ItemIncludes(result(t, res, "Build").Items))

	overrides := sink.OfKind(core.EventOverrideDetected)
	require.Len(t, overrides, 2)
	assert.Equal(t, "Manifest", overrides[0].Property)
	assert.Equal(t, "foo.resources", overrides[0].OldValue)
	assert.Equal(t, "bar.resources", overrides[0].NewValue)
	assert.Equal(t, "bar.resources", overrides[1].OldValue)
	assert.Equal(t, "barz.resources", overrides[1].NewValue)
	assert.Len(t, sink.OfKind(core.EventTaskStarted), 3)
}

func TestManager_UpToDate(t *testing.T) {
	t.Parallel()

	setup := func(t *testing.T, outputNewer bool) (*runtime.Manager, *runtime.RecordingSink, *hooks, string) {
		dir := t.TempDir()
		in, out := filepath.Join(dir, "in.txt"), filepath.Join(dir, "out.txt")
		require.NoError(t, os.WriteFile(in, []byte("in"), 0600))
		require.NoError(t, os.WriteFile(out, []byte("out"), 0600))
		base := time.Now().Add(-time.Hour)
		inTime, outTime := base, base.Add(time.Minute)
		if !outputNewer {
			inTime, outTime = outTime, inTime
		}
		require.NoError(t, os.Chtimes(in, inTime, inTime))
		require.NoError(t, os.Chtimes(out, outTime, outTime))

		path := filepath.Join(dir, "app.yaml")
		h := &hooks{}
		m, sink := newManager(t, h, nil, project(path, &core.Target{
			Name:    "Compile",
			Inputs:  "in.txt",
			Outputs: "out.txt",
			Tasks:   []core.TaskInvocation{record("compile")},
		}))
		return m, sink, h, path
	}

	t.Run("OutputNewer", func(t *testing.T) {
		m, sink, h, path := setup(t, true)
		res := build(t, m, path, "Compile")
		require.True(t, res.Succeeded())

		r := result(t, res, "Compile")
		assert.Equal(t, core.TargetSkipped, r.Status)
		assert.Equal(t, []string{"out.txt"}, core.ItemIncludes(r.Items))
		assert.Empty(t, sink.OfKind(core.EventTaskStarted))
		assert.Len(t, sink.OfKind(core.EventTargetSkipped), 1)
		assert.Empty(t, h.recorded())
	})

	t.Run("InputNewer", func(t *testing.T) {
		m, sink, h, path := setup(t, false)
		res := build(t, m, path, "Compile")
		require.True(t, res.Succeeded())
		assert.Equal(t, core.TargetSucceeded, result(t, res, "Compile").Status)
		assert.Len(t, sink.OfKind(core.EventTaskStarted), 1)
		assert.Equal(t, []string{"Compile:compile"}, h.recorded())
	})
}

func TestManager_IsolatedFailureThenDefaultContext(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	fail := invoke("IsolatedFail", nil)
	fail.ContinueOnError = core.WarnAndContinue
	m, sink := newManager(t, &hooks{}, nil, project(app, &core.Target{
		Name: "Build",
		Tasks: []core.TaskInvocation{
			fail,
			invoke("Format", map[string]string{"Value": "$(LastTaskResult)"}, toProperty("Result", "After")),
		},
		Returns: "$(After)",
	}))

	res := build(t, m, app, "Build")
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"false"}, core.ItemIncludes(result(t, res, "Build").Items))
	assert.Equal(t, int64(1), m.IsolatedContexts())
	assert.Len(t, sink.OfKind(core.EventWarning), 1)
	assert.Len(t, sink.OfKind(core.EventTaskFinished), 2)
}

func TestManager_LastTaskResult(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	fail := invoke("Fail", nil)
	fail.ContinueOnError = core.WarnAndContinue
	m, _ := newManager(t, &hooks{}, nil, project(app,
		&core.Target{
			Name:      "Build",
			DependsOn: []string{"Prepare"},
			Tasks: []core.TaskInvocation{
				invoke("Format", map[string]string{"Value": "[$(LastTaskResult)]"}, toProperty("Result", "Start")),
				fail,
				invoke("Format", map[string]string{"Value": "$(LastTaskResult)"}, toProperty("Result", "AfterFail")),
				invoke("Format", map[string]string{"Value": "$(LastTaskResult)"}, toProperty("Result", "AfterOk")),
			},
			Returns: "$(Start);$(AfterFail);$(AfterOk)",
		},
		&core.Target{Name: "Prepare", Tasks: []core.TaskInvocation{invoke("Fail", nil)}, Condition: "false"},
	))

	res := build(t, m, app, "Build")
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"[]", "false", "true"}, core.ItemIncludes(result(t, res, "Build").Items))
	assert.Equal(t, core.TargetSkipped, result(t, res, "Prepare").Status)
}

func TestManager_LastTaskResultAfterWarning(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	m, _ := newManager(t, &hooks{}, nil, project(app, &core.Target{
		Name:    "Warn",
		Tasks:   []core.TaskInvocation{invoke("Warning", map[string]string{"Text": "careful", "Code": "FG001"})},
		Returns: "$(LastTaskResult)",
	}))

	res := build(t, m, app, "Warn")
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"true"}, core.ItemIncludes(result(t, res, "Warn").Items))
}

func TestManager_LastTaskResultIgnoresSkippedInvocation(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	fail := invoke("Fail", nil)
	fail.ContinueOnError = core.WarnAndContinue
	skipped := invoke("Format", map[string]string{"Value": "never"}, toProperty("Result", "Never"))
	skipped.Condition = "'a' == 'b'"
	m, _ := newManager(t, &hooks{}, nil, project(app, &core.Target{
		Name:    "Build",
		Tasks:   []core.TaskInvocation{fail, skipped},
		Returns: "$(LastTaskResult);$(Never)",
	}))

	res := build(t, m, app, "Build")
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"false"}, core.ItemIncludes(result(t, res, "Build").Items))
}

func TestManager_ErrorPolicies(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	tests := []struct {
		name       string
		policy     core.ErrorPolicy
		wantStatus core.TargetStatus
		wantCalls  []string
		wantEvent  core.EventKind
	}{
		{"ErrorAndStop", core.ErrorAndStop, core.TargetFailed, nil, core.EventTargetFinished},
		{"WarnAndContinue", core.WarnAndContinue, core.TargetSucceeded, []string{"Build:after"}, core.EventWarning},
		{"ErrorAndContinue", core.ErrorAndContinue, core.TargetFailed, []string{"Build:after"}, core.EventError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			fail := invoke("Fail", nil)
			fail.ContinueOnError = tt.policy
			h := &hooks{}
			m, sink := newManager(t, h, nil, project(app, &core.Target{
				Name:  "Build",
				Tasks: []core.TaskInvocation{fail, record("after")},
			}))

			r := result(t, build(t, m, app, "Build"), "Build")
			assert.Equal(t, tt.wantStatus, r.Status)
			assert.Equal(t, tt.wantCalls, h.recorded())
			assert.NotEmpty(t, sink.OfKind(tt.wantEvent))
			if tt.wantStatus == core.TargetFailed {
				assert.ErrorIs(t, r.Err, core.ErrTaskReportedFailure)
			}
		})
	}
}

func TestManager_ValidationErrorsIgnorePolicy(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	unknown := invoke("DoesNotExist", nil)
	unknown.ContinueOnError = core.WarnAndContinue
	badParam := invoke("Record", map[string]string{"Nope": "x"})
	badParam.ContinueOnError = core.WarnAndContinue

	h := &hooks{}
	m, _ := newManager(t, h, nil, project(app,
		&core.Target{Name: "Unknown", Tasks: []core.TaskInvocation{unknown, record("after")}},
		&core.Target{Name: "BadParam", Tasks: []core.TaskInvocation{badParam, record("after")}},
	))

	res := build(t, m, app, "Unknown", "BadParam")
	unknownResult := result(t, res, "Unknown")
	assert.Equal(t, core.TargetFailed, unknownResult.Status)
	assert.ErrorIs(t, unknownResult.Err, core.ErrTaskNotFound)

	badResult := result(t, res, "BadParam")
	var pbe *core.ParameterBindingError
	require.ErrorAs(t, badResult.Err, &pbe)
	assert.ErrorIs(t, badResult.Err, core.ErrUnknownParameter)
	assert.Empty(t, h.recorded())
}

func TestManager_PanicIsFault(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	m, sink := newManager(t, &hooks{}, nil, project(app, &core.Target{
		Name:  "Build",
		Tasks: []core.TaskInvocation{invoke("Panic", nil)},
	}))

	r := result(t, build(t, m, app, "Build"), "Build")
	assert.Equal(t, core.TargetFailed, r.Status)
	var fault *core.ExecutionFault
	require.ErrorAs(t, r.Err, &fault)
	assert.Contains(t, fault.Error(), "kaboom")
	assert.NotEmpty(t, fault.Stack)
	assert.Len(t, sink.OfKind(core.EventError), 1)
}

func TestManager_OnError(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	h := &hooks{}
	m, sink := newManager(t, h, nil, project(app,
		&core.Target{
			Name:  "Build",
			Tasks: []core.TaskInvocation{invoke("Fail", nil)},
			OnError: []core.OnError{
				{Targets: []string{"Cleanup1", "Cleanup2"}},
				{Targets: []string{"Cleanup3"}, Condition: "'a' == 'b'"},
			},
		},
		&core.Target{Name: "Cleanup1", Tasks: []core.TaskInvocation{record("c1")}},
		&core.Target{
			Name:    "Cleanup2",
			Tasks:   []core.TaskInvocation{invoke("Fail", nil)},
			OnError: []core.OnError{{Targets: []string{"Cleanup3"}}},
		},
		&core.Target{Name: "Cleanup3", Tasks: []core.TaskInvocation{record("c3")}},
	))

	res := build(t, m, app, "Build")
	r := result(t, res, "Build")
	assert.Equal(t, core.TargetFailed, r.Status)
	assert.Equal(t, runtime.ReasonTaskFailed, r.Reason)
	assert.Equal(t, []string{"Cleanup1:c1"}, h.recorded())
	assert.Equal(t, core.TargetFailed, result(t, res, "Cleanup2").Status)

	triggered := sink.OfKind(core.EventOnErrorTriggered)
	require.Len(t, triggered, 2)
	assert.Equal(t, "Cleanup1", triggered[0].Message)
	assert.Equal(t, "Cleanup2", triggered[1].Message)
	assert.Equal(t, "Build", triggered[0].Target)
}

func TestManager_Dependencies(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	h := &hooks{}
	m, _ := newManager(t, h, nil, project(app,
		&core.Target{Name: "Build", DependsOn: []string{"Restore", "Generate"}, Tasks: []core.TaskInvocation{record("build")}},
		&core.Target{Name: "Restore", Tasks: []core.TaskInvocation{record("restore")}},
		&core.Target{Name: "Generate", DependsOn: []string{"restore"}, Tasks: []core.TaskInvocation{record("generate")}},
		&core.Target{Name: "Deploy", DependsOn: []string{"Broken", "Build"}, Tasks: []core.TaskInvocation{record("deploy")}},
		&core.Target{Name: "Broken", Tasks: []core.TaskInvocation{invoke("Fail", nil)}},
	))

	res := build(t, m, app, "Build")
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"Restore:restore", "Generate:generate", "Build:build"}, h.recorded())

	res = build(t, m, app, "Deploy")
	r := result(t, res, "Deploy")
	assert.Equal(t, core.TargetFailed, r.Status)
	assert.Equal(t, runtime.ReasonDependencyFailed, r.Reason)
	assert.ErrorIs(t, r.Err, core.ErrDependencyFailed)
	assert.Len(t, h.recorded(), 3, "cached targets do not run again and Deploy never runs")
}

func TestManager_CircularDependency(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	m, _ := newManager(t, &hooks{}, nil, project(app,
		&core.Target{Name: "A", DependsOn: []string{"B"}},
		&core.Target{Name: "B", DependsOn: []string{"A"}},
	))

	res := build(t, m, app, "A")
	r := result(t, res, "A")
	assert.Equal(t, core.TargetFailed, r.Status)
	assert.ErrorIs(t, r.Err, core.ErrCircularDependency)
	assert.Contains(t, r.Err.Error(), "A -> B -> A")
}

func TestManager_MissingTarget(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	m, _ := newManager(t, &hooks{}, nil, project(app, &core.Target{Name: "Build"}))
	r := result(t, build(t, m, app, "Nope"), "Nope")
	assert.Equal(t, runtime.ReasonNotFound, r.Reason)
	assert.ErrorIs(t, r.Err, core.ErrTargetNotFound)

	_, err := m.Build(context.Background(), core.BuildRequest{ProjectPath: "/ws/missing.yaml"})
	assert.ErrorIs(t, err, runtime.ErrProjectNotFound)
}

func TestManager_ZeroBatches(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	h := &hooks{}
	m, sink := newManager(t, h, nil, project(app, &core.Target{
		Name:  "Build",
		Tasks: []core.TaskInvocation{record("%(Missing.Culture)")},
	}))

	res := build(t, m, app, "Build")
	require.True(t, res.Succeeded())
	assert.Empty(t, h.recorded())
	assert.Empty(t, sink.OfKind(core.EventTaskStarted))
}

func TestManager_GlobalPropertiesAreReadOnly(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	m, sink := newManager(t, &hooks{}, nil, project(app, &core.Target{
		Name:    "Build",
		Tasks:   []core.TaskInvocation{invoke("Format", map[string]string{"Value": "local"}, toProperty("Result", "mode"))},
		Returns: "$(Mode)",
	}))

	res, err := m.Build(context.Background(), core.BuildRequest{
		ProjectPath:      app,
		Targets:          []string{"Build"},
		GlobalProperties: map[string]string{"Mode": "ci"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"ci"}, core.ItemIncludes(result(t, res, "Build").Items))
	ignored := sink.OfKind(core.EventPropertyReassignmentIgnored)
	require.Len(t, ignored, 1)
	assert.Equal(t, "local", ignored[0].NewValue)
}

func TestManager_DefaultAndInitialTargets(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	p := project(app,
		&core.Target{Name: "Clean", Tasks: []core.TaskInvocation{record("clean")}},
		&core.Target{Name: "Init", Tasks: []core.TaskInvocation{record("init")}},
		&core.Target{Name: "Build", Tasks: []core.TaskInvocation{record("build")}},
	)
	p.InitialTargets = []string{"Init"}
	p.DefaultTargets = []string{"Build"}
	h := &hooks{}
	m, _ := newManager(t, h, nil, p)

	res := build(t, m, app)
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"Init", "Build"}, res.Requested)
	assert.Equal(t, []string{"Init:init", "Build:build"}, h.recorded())

	cfg := config.Default()
	cfg.Build.DefaultTargets = []string{"Clean"}
	h2 := &hooks{}
	m2, _ := newManager(t, h2, cfg, project(app,
		&core.Target{Name: "Build", Tasks: []core.TaskInvocation{record("build")}},
		&core.Target{Name: "Clean", Tasks: []core.TaskInvocation{record("clean")}},
	))
	build(t, m2, app)
	assert.Equal(t, []string{"Clean:clean"}, h2.recorded())

	h3 := &hooks{}
	m3, _ := newManager(t, h3, nil, project(app,
		&core.Target{Name: "First", Tasks: []core.TaskInvocation{record("first")}},
		&core.Target{Name: "Second", Tasks: []core.TaskInvocation{record("second")}},
	))
	build(t, m3, app)
	assert.Equal(t, []string{"First:first"}, h3.recorded())
}

func TestManager_CacheSharedByConcurrentRequests(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	h := &hooks{}
	m, _ := newManager(t, h, nil, project(app, &core.Target{
		Name:  "Build",
		Tasks: []core.TaskInvocation{record("$(Configuration)")},
	}))

	release := map[string]string{"Configuration": "Release"}
	reqs := []core.BuildRequest{
		{ProjectPath: app, Targets: []string{"Build"}, GlobalProperties: release},
		{ProjectPath: app, Targets: []string{"build"}, GlobalProperties: map[string]string{"configuration": "Release"}},
		{ProjectPath: app, Targets: []string{"Build"}, GlobalProperties: release},
		{ProjectPath: app, Targets: []string{"Build"}, GlobalProperties: map[string]string{"Configuration": "Debug"}},
	}
	results, err := m.BuildProjects(context.Background(), reqs)
	require.NoError(t, err)
	require.Len(t, results, 4)
	for _, r := range results {
		assert.True(t, r.Succeeded())
	}

	assert.ElementsMatch(t, []string{"Build:Release", "Build:Debug"}, h.recorded())
	assert.Equal(t, results[0].ConfigurationID, results[1].ConfigurationID)
	assert.NotEqual(t, results[0].ConfigurationID, results[3].ConfigurationID)
	assert.Len(t, m.Configurations().List(), 2)
	assert.Equal(t, 2, m.Cache().Len())
}

func TestManager_Cancellation(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	h := &hooks{started: make(chan struct{})}
	m, _ := newManager(t, h, nil, project(app,
		&core.Target{Name: "Slow", Tasks: []core.TaskInvocation{invoke("Block", nil)}},
		&core.Target{Name: "Next", Tasks: []core.TaskInvocation{record("next")}},
	))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		<-h.started
		cancel()
	}()

	res, err := m.Build(ctx, core.BuildRequest{ProjectPath: app, Targets: []string{"Slow", "Next"}})
	require.ErrorIs(t, err, core.ErrBuildCanceled)

	slow := result(t, res, "Slow")
	assert.Equal(t, core.TargetFailed, slow.Status)
	assert.Equal(t, runtime.ReasonCanceled, slow.Reason)
	assert.Equal(t, runtime.ReasonCanceled, result(t, res, "Next").Reason)
	assert.Empty(t, h.recorded())
	assert.Zero(t, m.Cache().Len())
}

func TestManager_NestedBuildSingleSlot(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	cfg := config.Default()
	cfg.Build.MaxParallelRequests = 1
	h := &hooks{}
	m, _ := newManager(t, h, cfg,
		project("/ws/root.yaml", &core.Target{
			Name: "Build",
			Tasks: []core.TaskInvocation{invoke("Nested",
				map[string]string{"Project": "lib.yaml", "Targets": "Pack"},
				core.OutputBinding{TaskParameter: "TargetOutputs", ItemType: "Libs"},
			)},
			Returns: "@(Libs)",
		}),
		project("/ws/lib.yaml", &core.Target{Name: "Pack", Returns: "$(Configuration).dll"}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := m.Build(ctx, core.BuildRequest{
		ProjectPath:      "/ws/root.yaml",
		Targets:          []string{"Build"},
		GlobalProperties: map[string]string{"Configuration": "Release"},
	})
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"Release.dll"}, core.ItemIncludes(result(t, res, "Build").Items))

	require.Len(t, h.nested, 1)
	nested := h.nested[0][0]
	assert.Equal(t, "/ws/lib.yaml", nested.Project)
	assert.NotEqual(t, res.ConfigurationID, nested.ConfigurationID)
}

func TestManager_NestedBuildReentersConfiguration(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	cfg := config.Default()
	cfg.Build.MaxParallelRequests = 1
	h := &hooks{}
	m, _ := newManager(t, h, cfg, project("/ws/root.yaml",
		&core.Target{
			Name: "Build",
			Tasks: []core.TaskInvocation{invoke("Nested",
				map[string]string{"Project": "root.yaml", "Targets": "Helper"},
				core.OutputBinding{TaskParameter: "TargetOutputs", ItemType: "Out"},
			)},
			Returns: "@(Out)",
		},
		&core.Target{Name: "Helper", Returns: "helper"},
		&core.Target{
			Name:  "Loop",
			Tasks: []core.TaskInvocation{invoke("Nested", map[string]string{"Project": "root.yaml", "Targets": "Loop"})},
		},
	))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	res, err := m.Build(ctx, core.BuildRequest{ProjectPath: "/ws/root.yaml", Targets: []string{"Build"}})
	require.NoError(t, err)
	require.True(t, res.Succeeded())
	assert.Equal(t, []string{"helper"}, core.ItemIncludes(result(t, res, "Build").Items))
	assert.Equal(t, res.ConfigurationID, h.nested[0][0].ConfigurationID)

	res, err = m.Build(ctx, core.BuildRequest{ProjectPath: "/ws/root.yaml", Targets: []string{"Loop"}})
	require.NoError(t, err)
	assert.Equal(t, core.TargetFailed, result(t, res, "Loop").Status)
	inner, ok := h.nested[1][0].Result("Loop")
	require.True(t, ok)
	assert.True(t, errors.Is(inner.Err, core.ErrCircularDependency))
}

func TestManager_CrossConfigurationCycle(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	h := &hooks{}
	h.meet.Add(2)
	entry := func(other string) *core.Target {
		return &core.Target{
			Name: "Main",
			Tasks: []core.TaskInvocation{
				invoke("Meet", nil),
				invoke("Nested", map[string]string{"Project": other, "Targets": "Leaf"}),
			},
		}
	}
	m, _ := newManager(t, h, nil,
		project("/ws/a.yaml", entry("b.yaml"), &core.Target{Name: "Leaf", Returns: "a"}),
		project("/ws/b.yaml", entry("a.yaml"), &core.Target{Name: "Leaf", Returns: "b"}),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	results, _ := m.BuildProjects(ctx, []core.BuildRequest{
		{ProjectPath: "/ws/a.yaml", Targets: []string{"Main"}},
		{ProjectPath: "/ws/b.yaml", Targets: []string{"Main"}},
	})
	require.NoError(t, ctx.Err())
	require.Len(t, results, 2)

	var failed []*core.TargetResult
	for _, res := range results {
		if r := result(t, res, "Main"); r.Status == core.TargetFailed {
			failed = append(failed, r)
		}
	}
	require.Len(t, failed, 1)
	assert.ErrorIs(t, failed[0].Err, core.ErrCircularDependency)
	require.Len(t, h.nested, 1)
	assert.True(t, h.nested[0][0].Succeeded())
}

func TestManager_WaitForTurnIsCancelable(t *testing.T) {
	skipOnWindows(t)
	t.Parallel()

	h := &hooks{started: make(chan struct{})}
	m, _ := newManager(t, h, nil, project(app,
		&core.Target{Name: "Slow", Tasks: []core.TaskInvocation{invoke("Block", nil)}},
		&core.Target{Name: "Fast", Tasks: []core.TaskInvocation{record("fast")}},
	))

	slowCtx, stopSlow := context.WithCancel(context.Background())
	defer stopSlow()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = m.Build(slowCtx, core.BuildRequest{ProjectPath: app, Targets: []string{"Slow"}})
	}()
	<-h.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	res, err := m.Build(ctx, core.BuildRequest{ProjectPath: app, Targets: []string{"Fast"}})
	require.ErrorIs(t, err, core.ErrBuildCanceled)
	assert.False(t, res.Succeeded())
	assert.Empty(t, h.recorded())

	stopSlow()
	<-done
}
