// Package eval is the reference expression evaluator. It understands property
// references $(Name), item references @(Type), @(Type, 'sep') and
// @(Type->'template'), metadata references %(Name) and %(Type.Name), and
// ';'-separated lists.
package eval

import (
	"context"
	"errors"
	"fmt"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/dagucloud/forge/internal/core"
)

var (
	ErrSyntax               = errors.New("invalid expression")
	ErrMetadataOutsideBatch = errors.New("metadata reference is not allowed outside of batching")
	ErrUnknownFunction      = errors.New("unknown condition function")
	ErrNotBoolean           = errors.New("condition operand is not a boolean")
	ErrNotNumeric           = errors.New("condition operand is not a number")
)

const defaultCacheSize = 1024

var _ core.Evaluator = (*Evaluator)(nil)

// Evaluator implements core.Evaluator. Parsed expressions are kept in an LRU
// cache; it is safe for concurrent use.
type Evaluator struct {
	cache *lru.Cache[string, *expression]
}

// Option configures an Evaluator.
type Option func(*options)

type options struct {
	cacheSize int
}

// WithCacheSize sets the number of parsed expressions kept.
func WithCacheSize(n int) Option {
	return func(o *options) {
		o.cacheSize = n
	}
}

// New creates an evaluator.
func New(opts ...Option) *Evaluator {
	o := options{cacheSize: defaultCacheSize}
	for _, opt := range opts {
		opt(&o)
	}
	if o.cacheSize <= 0 {
		o.cacheSize = defaultCacheSize
	}
	cache, err := lru.New[string, *expression](o.cacheSize)
	if err != nil {
		// Only returned for a non-positive size.
		panic(err)
	}
	return &Evaluator{cache: cache}
}

func (e *Evaluator) parse(raw string) (*expression, error) {
	if expr, ok := e.cache.Get(raw); ok {
		return expr, nil
	}
	expr, err := parseExpression(raw)
	if err != nil {
		return nil, err
	}
	e.cache.Add(raw, expr)
	return expr, nil
}

// Resolve evaluates an expression. The result is an item list when any
// ';'-separated segment is a bare item reference; other segments then become
// items too. Otherwise the result is the expanded text.
func (e *Evaluator) Resolve(ctx context.Context, raw string, scope core.Scope) (core.Value, error) {
	expr, err := e.parse(raw)
	if err != nil {
		return core.Value{}, err
	}

	type piece struct {
		items   []*core.Item
		text    string
		isItems bool
	}
	pieces := make([]piece, 0, len(expr.segments))
	hasItems := false
	for _, seg := range expr.segments {
		if err := ctx.Err(); err != nil {
			return core.Value{}, err
		}
		if p, ok := seg.itemRef(); ok {
			items, err := e.itemsOf(ctx, p, scope)
			if err != nil {
				return core.Value{}, err
			}
			pieces = append(pieces, piece{items: items, isItems: true})
			hasItems = true
			continue
		}
		text, err := e.expandSegment(ctx, seg, scope)
		if err != nil {
			return core.Value{}, err
		}
		pieces = append(pieces, piece{text: text})
	}

	if !hasItems {
		texts := make([]string, len(pieces))
		for i, p := range pieces {
			texts[i] = p.text
		}
		return core.ScalarValue(strings.Join(texts, ";")), nil
	}

	var items []*core.Item
	for _, p := range pieces {
		if p.isItems {
			items = append(items, p.items...)
			continue
		}
		for _, s := range strings.Split(p.text, ";") {
			if s = strings.TrimSpace(s); s != "" {
				items = append(items, core.NewItem(s))
			}
		}
	}
	return core.ItemsValue(items), nil
}

// ReferencedMetadata returns the metadata references of an expression in
// first-occurrence order. References inside item transforms are bound to the
// transformed item and are not reported. Invalid expressions report nothing.
func (e *Evaluator) ReferencedMetadata(raw string) []core.MetadataRef {
	expr, err := e.parse(raw)
	if err != nil {
		return nil
	}
	var (
		refs []core.MetadataRef
		seen = make(map[string]bool)
	)
	for _, seg := range expr.segments {
		for _, p := range seg {
			if p.kind != partMetadata {
				continue
			}
			ref := core.MetadataRef{ItemType: p.itemType, Name: p.meta}
			key := strings.ToLower(ref.String())
			if !seen[key] {
				seen[key] = true
				refs = append(refs, ref)
			}
		}
	}
	return refs
}

// ReferencedItemTypes returns the item types referenced by @(...) and by
// qualified metadata references, in first-occurrence order.
func (e *Evaluator) ReferencedItemTypes(raw string) []string {
	expr, err := e.parse(raw)
	if err != nil {
		return nil
	}
	var (
		types []string
		seen  = make(map[string]bool)
	)
	for _, seg := range expr.segments {
		for _, p := range seg {
			if p.itemType == "" || (p.kind != partItems && p.kind != partMetadata) {
				continue
			}
			key := strings.ToLower(p.itemType)
			if !seen[key] {
				seen[key] = true
				types = append(types, p.itemType)
			}
		}
	}
	return types
}

func (e *Evaluator) itemsOf(ctx context.Context, p part, scope core.Scope) ([]*core.Item, error) {
	src := scope.Items(p.itemType)
	out := make([]*core.Item, 0, len(src))
	for _, item := range src {
		if p.transform == nil {
			out = append(out, item.Clone())
			continue
		}
		text, err := e.expandSegment(ctx, p.transform.segments[0], &itemScope{Scope: scope, itemType: p.itemType, item: item})
		if err != nil {
			return nil, err
		}
		if text == "" {
			continue
		}
		out = append(out, item.Derive(text))
	}
	return out, nil
}

func (e *Evaluator) expandSegment(ctx context.Context, seg segment, scope core.Scope) (string, error) {
	var b strings.Builder
	for _, p := range seg {
		switch p.kind {
		case partLiteral:
			b.WriteString(p.text)
		case partProperty:
			v, _ := scope.Property(p.text)
			b.WriteString(v)
		case partItems:
			items, err := e.itemsOf(ctx, p, scope)
			if err != nil {
				return "", err
			}
			sep := ";"
			if p.hasSeparator {
				sep = p.separator
			}
			b.WriteString(strings.Join(core.ItemIncludes(items), sep))
		case partMetadata:
			ref := core.MetadataRef{ItemType: p.itemType, Name: p.meta}
			v, ok := scope.BatchMetadata(ref)
			if !ok {
				return "", fmt.Errorf("%w: %s", ErrMetadataOutsideBatch, ref)
			}
			b.WriteString(v)
		}
	}
	return b.String(), nil
}

// itemScope binds metadata references to one item while expanding a
// transform template.
type itemScope struct {
	core.Scope
	itemType string
	item     *core.Item
}

func (s *itemScope) BatchMetadata(ref core.MetadataRef) (string, bool) {
	if ref.ItemType == "" || strings.EqualFold(ref.ItemType, s.itemType) {
		return s.item.Metadata(ref.Name), true
	}
	return s.Scope.BatchMetadata(ref)
}
