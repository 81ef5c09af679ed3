package runtime

import (
	"context"
	"maps"
	"slices"
	"strings"
	"sync"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"github.com/dagucloud/forge/internal/core"
)

// configState is a registered configuration with its evaluated state.
type configState struct {
	core.Configuration

	// turn serializes the builds of the configuration.
	turn   *turn
	active *requestBuilder

	loadOnce sync.Once
	project  *core.Project
	lookup   *Lookup
	loadErr  error
}

// load evaluates the project once.
func (s *configState) load(ctx context.Context, loader ProjectLoader, ev core.Evaluator) error {
	s.loadOnce.Do(func() {
		project, err := loader.Load(ctx, s.ProjectPath)
		if err != nil {
			s.loadErr = err
			return
		}
		lookup, err := evaluateProject(ctx, ev, project, s.GlobalProperties)
		if err != nil {
			s.loadErr = err
			return
		}
		s.project = project
		s.lookup = lookup
	})
	return s.loadErr
}

// Configurations assigns a stable ID to every distinct configuration key.
type Configurations struct {
	mu    sync.Mutex
	byKey map[string]*configState
	byID  map[string]*configState
}

// NewConfigurations returns an empty registry.
func NewConfigurations() *Configurations {
	return &Configurations{
		byKey: make(map[string]*configState),
		byID:  make(map[string]*configState),
	}
}

func (c *Configurations) resolve(req core.BuildRequest) *configState {
	key := req.ConfigurationKey()
	c.mu.Lock()
	defer c.mu.Unlock()
	if s, ok := c.byKey[key]; ok {
		return s
	}
	s := &configState{
		Configuration: core.Configuration{
			ID:               uuid.NewString(),
			ProjectPath:      req.ProjectPath,
			GlobalProperties: maps.Clone(req.GlobalProperties),
		},
		turn: newTurn(),
	}
	c.byKey[key] = s
	c.byID[s.ID] = s
	return s
}

// Register returns the configuration of a request, creating it on first use.
func (c *Configurations) Register(req core.BuildRequest) core.Configuration {
	return c.resolve(req).Configuration
}

// Get returns a configuration by ID.
func (c *Configurations) Get(id string) (core.Configuration, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.byID[id]
	if !ok {
		return core.Configuration{}, false
	}
	return s.Configuration, true
}

// List returns every configuration ordered by project path.
func (c *Configurations) List() []core.Configuration {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]core.Configuration, 0, len(c.byID))
	for _, s := range c.byID {
		out = append(out, s.Configuration)
	}
	slices.SortFunc(out, func(a, b core.Configuration) int {
		return strings.Compare(a.ProjectPath, b.ProjectPath)
	})
	return out
}

// inheritGlobals returns child overlaid on parent: properties the child
// request sets win, the rest are inherited. Names compare
// case-insensitively.
func inheritGlobals(child, parent map[string]string) (map[string]string, error) {
	out := maps.Clone(child)
	if out == nil {
		out = make(map[string]string, len(parent))
	}
	inherited := make(map[string]string, len(parent))
	for name, value := range parent {
		if !hasFold(out, name) {
			inherited[name] = value
		}
	}
	if err := mergo.Merge(&out, inherited); err != nil {
		return nil, err
	}
	return out, nil
}

func hasFold(m map[string]string, name string) bool {
	for k := range m {
		if strings.EqualFold(k, name) {
			return true
		}
	}
	return false
}
