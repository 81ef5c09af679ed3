// Package batch partitions the items referenced by a task invocation into
// buckets that share one combination of referenced metadata values.
package batch

import (
	"strings"

	"github.com/samber/lo"

	"github.com/dagucloud/forge/internal/core"
)

// References are the item types and metadata referenced by the expressions
// of one task invocation, in first-reference order.
type References struct {
	ItemTypes []string
	Metadata  []core.MetadataRef
}

// Analyzer reports the references of a single expression. core.Evaluator
// satisfies it.
type Analyzer interface {
	ReferencedMetadata(expr string) []core.MetadataRef
	ReferencedItemTypes(expr string) []string
}

// Collect gathers the references of every expression, dropping duplicates
// and keeping first-occurrence order.
func Collect(a Analyzer, exprs ...string) References {
	var refs References
	for _, expr := range exprs {
		refs.ItemTypes = append(refs.ItemTypes, a.ReferencedItemTypes(expr)...)
		refs.Metadata = append(refs.Metadata, a.ReferencedMetadata(expr)...)
	}
	refs.ItemTypes = lo.UniqBy(refs.ItemTypes, strings.ToLower)
	refs.Metadata = lo.UniqBy(refs.Metadata, func(r core.MetadataRef) string {
		return strings.ToLower(r.String())
	})
	return refs
}

// HasMetadata reports whether any metadata is referenced.
func (r References) HasMetadata() bool {
	return len(r.Metadata) > 0
}

// Bucket is one batch: the referenced items that share Values.
type Bucket struct {
	// Values holds the value of each referenced metadata, in reference order.
	Values []string
	refs   []core.MetadataRef
	items  map[string][]*core.Item
}

// Items returns the bucket's items of an item type.
func (b *Bucket) Items(itemType string) []*core.Item {
	return b.items[strings.ToLower(itemType)]
}

// Contains reports whether the bucket holds items of the item type. It is
// true for every referenced type, even when the type has no items here.
func (b *Bucket) Contains(itemType string) bool {
	_, ok := b.items[strings.ToLower(itemType)]
	return ok
}

// Metadata returns the bucket's value of a referenced metadata.
func (b *Bucket) Metadata(ref core.MetadataRef) (string, bool) {
	for i, r := range b.refs {
		if strings.EqualFold(r.ItemType, ref.ItemType) && strings.EqualFold(r.Name, ref.Name) {
			return b.Values[i], true
		}
	}
	return "", false
}

// Size returns the number of items in the bucket.
func (b *Bucket) Size() int {
	n := 0
	for _, items := range b.items {
		n += len(items)
	}
	return n
}

// Partition splits the items of the referenced types into buckets. Without
// metadata references the result is one bucket holding every referenced
// item. Otherwise the bucket key is the tuple of referenced metadata values;
// a qualified reference %(T.M) applies to items of type T only and reads as
// the empty string elsewhere. Buckets follow the first occurrence of their
// key, visiting item types in reference order. Items missing a metadata
// value read it as the empty string.
func Partition(refs References, items map[string][]*core.Item) ([]*Bucket, error) {
	lookup := make(map[string][]*core.Item, len(items))
	for name, list := range items {
		lookup[strings.ToLower(name)] = list
	}

	if !refs.HasMetadata() {
		b := newBucket(nil, nil, refs.ItemTypes)
		for _, t := range refs.ItemTypes {
			key := strings.ToLower(t)
			b.items[key] = append(b.items[key], lookup[key]...)
		}
		return []*Bucket{b}, nil
	}

	if len(refs.ItemTypes) == 0 {
		for _, ref := range refs.Metadata {
			if ref.ItemType == "" {
				return nil, core.NewValidationError("metadata", ref.String(), core.ErrUnqualifiedMetadata)
			}
		}
	}

	var (
		buckets []*Bucket
		index   = make(map[string]*Bucket)
	)
	for _, t := range refs.ItemTypes {
		typeKey := strings.ToLower(t)
		for _, item := range lookup[typeKey] {
			values := make([]string, len(refs.Metadata))
			for i, ref := range refs.Metadata {
				if ref.ItemType == "" || strings.EqualFold(ref.ItemType, t) {
					values[i] = item.Metadata(ref.Name)
				}
			}
			key := strings.Join(values, "\x00")
			b, ok := index[key]
			if !ok {
				b = newBucket(values, refs.Metadata, refs.ItemTypes)
				index[key] = b
				buckets = append(buckets, b)
			}
			b.items[typeKey] = append(b.items[typeKey], item)
		}
	}
	return buckets, nil
}

func newBucket(values []string, refs []core.MetadataRef, itemTypes []string) *Bucket {
	b := &Bucket{
		Values: values,
		refs:   refs,
		items:  make(map[string][]*core.Item, len(itemTypes)),
	}
	for _, t := range itemTypes {
		b.items[strings.ToLower(t)] = nil
	}
	return b
}
