package core

import (
	"context"
	"strings"
)

// ValueKind tells whether an expression resolved to text or to items.
type ValueKind int

const (
	ScalarKind ValueKind = iota
	ItemsKind
)

func (k ValueKind) String() string {
	if k == ItemsKind {
		return "item list"
	}
	return "scalar"
}

// Value is the result of resolving an expression.
type Value struct {
	Kind   ValueKind
	Scalar string
	Items  []*Item
}

// ScalarValue returns a scalar value.
func ScalarValue(s string) Value {
	return Value{Kind: ScalarKind, Scalar: s}
}

// ItemsValue returns an item list value.
func ItemsValue(items []*Item) Value {
	return Value{Kind: ItemsKind, Items: items}
}

// String flattens the value; items are joined with ';'.
func (v Value) String() string {
	if v.Kind == ItemsKind {
		return strings.Join(ItemIncludes(v.Items), ";")
	}
	return v.Scalar
}

// IsEmpty reports whether the value carries nothing.
func (v Value) IsEmpty() bool {
	if v.Kind == ItemsKind {
		return len(v.Items) == 0
	}
	return v.Scalar == ""
}

// MetadataRef is a metadata reference found in an expression. ItemType is
// empty for unqualified references such as %(Culture).
type MetadataRef struct {
	ItemType string
	Name     string
}

// String renders the reference the way it is written.
func (r MetadataRef) String() string {
	if r.ItemType == "" {
		return "%(" + r.Name + ")"
	}
	return "%(" + r.ItemType + "." + r.Name + ")"
}

// Scope is the view of properties and items an expression resolves against.
type Scope interface {
	// Property returns a property value.
	Property(name string) (string, bool)
	// Items returns the items of an item type visible in this scope.
	Items(itemType string) []*Item
	// HasItemType reports whether the item type is declared.
	HasItemType(itemType string) bool
	// BatchMetadata returns the value of a metadata reference for the
	// current batch. ok is false outside of batching.
	BatchMetadata(ref MetadataRef) (value string, ok bool)
}

// Evaluator resolves expression strings. It is implemented outside of the
// execution engine; internal/core/eval provides the reference implementation.
type Evaluator interface {
	Resolve(ctx context.Context, expr string, scope Scope) (Value, error)
	EvalCondition(ctx context.Context, expr string, scope Scope) (bool, error)
	ReferencedMetadata(expr string) []MetadataRef
	ReferencedItemTypes(expr string) []string
}
