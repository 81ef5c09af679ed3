package runtime

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"github.com/dagucloud/forge/internal/core"
)

// turn admits one request at a time into a configuration's builder.
type turn struct {
	sem   *semaphore.Weighted
	owner *waiter
}

func newTurn() *turn {
	return &turn{sem: semaphore.NewWeighted(1)}
}

// waiter is a request in the wait graph. A request with live nested
// requests waits on all of them.
type waiter struct {
	project  string
	parent   *waiter
	nested   map[*waiter]struct{}
	blocking *turn
}

// waitGraph records who holds and who waits for each turn. A wait that
// would close a cycle fails instead of blocking forever.
type waitGraph struct {
	mu sync.Mutex
}

func (g *waitGraph) enter(parent *waiter, project string) *waiter {
	g.mu.Lock()
	defer g.mu.Unlock()
	w := &waiter{project: project, parent: parent}
	if parent != nil {
		if parent.nested == nil {
			parent.nested = make(map[*waiter]struct{})
		}
		parent.nested[w] = struct{}{}
	}
	return w
}

func (g *waitGraph) leave(w *waiter) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if w.parent != nil {
		delete(w.parent.nested, w)
	}
}

// acquire takes t for w. It fails with ErrCircularDependency when the
// holder of t is waiting on w, and with the context error when ctx ends
// first.
func (g *waitGraph) acquire(ctx context.Context, w *waiter, t *turn) error {
	g.mu.Lock()
	if t.owner != nil {
		if chain := g.chain(t.owner, w, map[*waiter]bool{}); chain != nil {
			g.mu.Unlock()
			names := append([]string{w.project}, chain...)
			return fmt.Errorf("%w: %s", core.ErrCircularDependency, strings.Join(names, " -> "))
		}
	}
	w.blocking = t
	g.mu.Unlock()

	err := t.sem.Acquire(ctx, 1)

	g.mu.Lock()
	defer g.mu.Unlock()
	w.blocking = nil
	if err == nil {
		t.owner = w
	}
	return err
}

func (g *waitGraph) release(w *waiter, t *turn) {
	g.mu.Lock()
	if t.owner == w {
		t.owner = nil
	}
	g.mu.Unlock()
	t.sem.Release(1)
}

// chain returns the projects on the wait path from 'from' to target, or
// nil when target is not reachable.
func (g *waitGraph) chain(from, target *waiter, seen map[*waiter]bool) []string {
	if from == target {
		return []string{from.project}
	}
	if seen[from] {
		return nil
	}
	seen[from] = true
	next := make([]*waiter, 0, len(from.nested)+1)
	if from.blocking != nil && from.blocking.owner != nil {
		next = append(next, from.blocking.owner)
	}
	for n := range from.nested {
		next = append(next, n)
	}
	for _, n := range next {
		if rest := g.chain(n, target, seen); rest != nil {
			return slices.Insert(rest, 0, from.project)
		}
	}
	return nil
}

type waiterKey struct{}

func waiterFrom(ctx context.Context) *waiter {
	w, _ := ctx.Value(waiterKey{}).(*waiter)
	return w
}

type heldKey struct{}

// withHeld marks a configuration as being built by the current flow. The
// returned context carries a fresh turn for nested requests that come
// back to it.
func withHeld(ctx context.Context, id string) context.Context {
	parent, _ := ctx.Value(heldKey{}).(map[string]*turn)
	held := make(map[string]*turn, len(parent)+1)
	for k, v := range parent {
		held[k] = v
	}
	held[id] = newTurn()
	return context.WithValue(ctx, heldKey{}, held)
}

func heldTurn(ctx context.Context, id string) (*turn, bool) {
	held, _ := ctx.Value(heldKey{}).(map[string]*turn)
	t, ok := held[id]
	return t, ok
}
