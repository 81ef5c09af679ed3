// Package project reads YAML project files into core.Project values.
package project

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dagucloud/forge/internal/common/logger"
	"github.com/dagucloud/forge/internal/common/logger/tag"
	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime"
)

var ErrImportCycle = errors.New("project import cycle")

const defaultCacheSize = 256

var _ runtime.ProjectLoader = (*Loader)(nil)

// Loader parses project files. Parsed projects are cached until the file
// changes.
type Loader struct {
	cache *lru.Cache[string, cached]
}

type cached struct {
	modTime time.Time
	size    int64
	project *core.Project
}

// Option configures a Loader.
type Option func(*loaderOptions)

type loaderOptions struct {
	cacheSize int
}

// WithCacheSize sets how many parsed projects are kept.
func WithCacheSize(n int) Option {
	return func(o *loaderOptions) {
		o.cacheSize = n
	}
}

// NewLoader creates a Loader.
func NewLoader(opts ...Option) *Loader {
	o := loaderOptions{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	cache, err := lru.New[string, cached](max(1, o.cacheSize))
	if err != nil {
		// lru.New only fails for a non-positive size.
		panic(err)
	}
	return &Loader{cache: cache}
}

// Load implements runtime.ProjectLoader.
func (l *Loader) Load(ctx context.Context, path string) (*core.Project, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve project path %q: %w", path, err)
	}
	fi, err := os.Stat(abs)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", runtime.ErrProjectNotFound, abs)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to stat project %q: %w", abs, err)
	}
	if c, ok := l.cache.Get(abs); ok && c.modTime.Equal(fi.ModTime()) && c.size == fi.Size() {
		return c.project, nil
	}

	p, err := l.parse(ctx, abs, nil)
	if err != nil {
		return nil, err
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("invalid project %s: %w", abs, err)
	}
	l.cache.Add(abs, cached{modTime: fi.ModTime(), size: fi.Size(), project: p})
	logger.Debug(ctx, "Loaded project", tag.Path(abs), tag.Count(len(p.Targets)))
	return p, nil
}

// Parse reads a project from YAML without resolving imports.
func Parse(path string, data []byte) (*core.Project, error) {
	def, err := decode(path, data)
	if err != nil {
		return nil, err
	}
	p := newProject(path, def)
	if err := apply(p, def); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func decode(path string, data []byte) (*definition, error) {
	var def definition
	if err := yaml.UnmarshalWithOptions(data, &def, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &def, nil
}

func newProject(path string, def *definition) *core.Project {
	name := def.Name
	if name == "" {
		name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return &core.Project{
		Name:           name,
		Path:           path,
		Dir:            filepath.Dir(path),
		DefaultTargets: def.DefaultTargets,
		InitialTargets: def.InitialTargets,
	}
}

// parse reads a file and the files it imports. Imported definitions come
// first; a target defined again later replaces the earlier one.
func (l *Loader) parse(ctx context.Context, path string, chain []string) (*core.Project, error) {
	if slices.Contains(chain, path) {
		return nil, fmt.Errorf("%w: %s", ErrImportCycle, strings.Join(append(chain, path), " -> "))
	}
	data, err := os.ReadFile(path) //nolint:gosec
	if err != nil {
		return nil, fmt.Errorf("failed to read project %s: %w", path, err)
	}
	def, err := decode(path, data)
	if err != nil {
		return nil, err
	}

	p := newProject(path, def)
	p.DefaultTargets, p.InitialTargets = nil, nil
	for _, imp := range def.Imports {
		ip := filepath.FromSlash(imp)
		if !filepath.IsAbs(ip) {
			ip = filepath.Join(p.Dir, ip)
		}
		imported, err := l.parse(ctx, filepath.Clean(ip), append(chain, path))
		if err != nil {
			return nil, fmt.Errorf("%s: import %q: %w", path, imp, err)
		}
		logger.Debug(ctx, "Imported project", tag.Project(path), tag.Path(imported.Path))
		merge(p, imported)
	}

	if len(def.DefaultTargets) > 0 {
		p.DefaultTargets = def.DefaultTargets
	}
	p.InitialTargets = append(p.InitialTargets, def.InitialTargets...)
	if err := apply(p, def); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return p, nil
}

func merge(p, imported *core.Project) {
	if len(p.DefaultTargets) == 0 {
		p.DefaultTargets = imported.DefaultTargets
	}
	p.InitialTargets = append(p.InitialTargets, imported.InitialTargets...)
	p.Properties = append(p.Properties, imported.Properties...)
	p.Items = append(p.Items, imported.Items...)
	for _, t := range imported.Targets {
		addTarget(p, t)
	}
}

func addTarget(p *core.Project, t *core.Target) {
	for i, existing := range p.Targets {
		if strings.EqualFold(existing.Name, t.Name) {
			p.Targets[i] = t
			return
		}
	}
	p.Targets = append(p.Targets, t)
}

// apply converts the definitions of one file onto p.
func apply(p *core.Project, def *definition) error {
	for _, pd := range def.Properties {
		if pd.Name == "" {
			return errors.New("property without a name")
		}
		p.Properties = append(p.Properties, core.PropertyDefinition{
			Name:      pd.Name,
			Value:     string(pd.Value),
			Condition: pd.Condition,
		})
	}

	for i, id := range def.Items {
		if id.Type == "" {
			return fmt.Errorf("items[%d]: missing type", i)
		}
		item := core.ItemDefinition{
			ItemType:  id.Type,
			Include:   id.Include,
			Exclude:   id.Exclude,
			Condition: id.Condition,
		}
		for _, kv := range id.Metadata {
			name, err := stringify(kv.Key)
			if err != nil {
				return fmt.Errorf("item %q metadata: %w", id.Type, err)
			}
			value, err := stringify(kv.Value)
			if err != nil {
				return fmt.Errorf("item %q metadata %q: %w", id.Type, name, err)
			}
			if core.IsReservedMetadata(name) {
				return fmt.Errorf("item %q: %w", id.Type, core.NewValidationError("metadata", name, core.ErrReservedMetadata))
			}
			item.Metadata = append(item.Metadata, core.MetadataEntry{Name: name, Value: value})
		}
		p.Items = append(p.Items, item)
	}

	for _, td := range def.Targets {
		t, err := convertTarget(td)
		if err != nil {
			return err
		}
		addTarget(p, t)
	}
	return nil
}

func convertTarget(td targetDefinition) (*core.Target, error) {
	if td.Name == "" {
		return nil, errors.New("target without a name")
	}
	t := &core.Target{
		Name:      td.Name,
		Condition: td.Condition,
		DependsOn: td.DependsOn,
		Inputs:    td.Inputs,
		Outputs:   td.Outputs,
		Returns:   td.Returns,
	}
	for _, tk := range td.Tasks {
		if tk.Name == "" {
			return nil, fmt.Errorf("target %q: task without a name", td.Name)
		}
		policy, err := core.ParseErrorPolicy(string(tk.ContinueOnError))
		if err != nil {
			return nil, fmt.Errorf("target %q task %q: %w", td.Name, tk.Name, err)
		}
		inv := core.TaskInvocation{
			Name:            tk.Name,
			ContinueOnError: policy,
			Condition:       tk.Condition,
		}
		if len(tk.Params) > 0 {
			inv.Params = make(map[string]string, len(tk.Params))
			for k, v := range tk.Params {
				inv.Params[k] = string(v)
			}
		}
		for _, o := range tk.Outputs {
			inv.Outputs = append(inv.Outputs, core.OutputBinding{
				TaskParameter: o.TaskParameter,
				PropertyName:  o.Property,
				ItemType:      o.ItemType,
			})
		}
		t.Tasks = append(t.Tasks, inv)
	}
	for _, oe := range td.OnError {
		t.OnError = append(t.OnError, core.OnError{Targets: oe.Targets, Condition: oe.Condition})
	}
	return t, nil
}
