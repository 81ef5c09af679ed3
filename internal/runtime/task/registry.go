package task

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
)

var (
	ErrDuplicateTask = errors.New("task is already registered")
	ErrInvalidTask   = errors.New("invalid task registration")
)

// Registry maps task names to their Info. Names compare case-insensitively.
type Registry struct {
	mu    sync.RWMutex
	tasks map[string]Info
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Info)}
}

// Register adds a task.
func (r *Registry) Register(info Info) error {
	if info.Name == "" || info.New == nil {
		return fmt.Errorf("%w: %q needs a name and a factory", ErrInvalidTask, info.Name)
	}
	seen := make(map[string]bool, len(info.Params))
	for _, p := range info.Params {
		key := strings.ToLower(p.Name)
		if p.Name == "" || seen[key] {
			return fmt.Errorf("%w: %q has an empty or duplicate parameter %q", ErrInvalidTask, info.Name, p.Name)
		}
		if !p.Input && !p.Output {
			return fmt.Errorf("%w: %q parameter %q is neither input nor output", ErrInvalidTask, info.Name, p.Name)
		}
		seen[key] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	key := strings.ToLower(info.Name)
	if _, ok := r.tasks[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, info.Name)
	}
	r.tasks[key] = info
	return nil
}

// MustRegister is Register that panics on error. It is meant for init.
func (r *Registry) MustRegister(info Info) {
	if err := r.Register(info); err != nil {
		panic(err)
	}
}

// Lookup returns the Info of a task.
func (r *Registry) Lookup(name string) (Info, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	info, ok := r.tasks[strings.ToLower(name)]
	return info, ok
}

// Names returns the registered task names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tasks))
	for _, info := range r.tasks {
		names = append(names, info.Name)
	}
	slices.Sort(names)
	return names
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry the builtin tasks register into.
func Default() *Registry {
	return defaultRegistry
}

// Register adds a task to the default registry and panics on error.
func Register(info Info) {
	defaultRegistry.MustRegister(info)
}
