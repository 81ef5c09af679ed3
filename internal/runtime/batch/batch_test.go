package batch_test

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/core/eval"
	"github.com/dagucloud/forge/internal/runtime/batch"
)

func newItem(t *testing.T, include string, kv ...string) *core.Item {
	t.Helper()
	it := core.NewItem(include)
	for i := 0; i+1 < len(kv); i += 2 {
		require.NoError(t, it.SetMetadata(kv[i], kv[i+1]))
	}
	return it
}

func includes(b *batch.Bucket, itemType string) []string {
	return core.ItemIncludes(b.Items(itemType))
}

func TestCollect(t *testing.T) {
	refs := batch.Collect(eval.New(), "@(Compile)", "%(Culture)/%(Ref.Path)", "@(compile);%(culture)")
	assert.Equal(t, []string{"Compile", "Ref"}, refs.ItemTypes)
	assert.Equal(t, []core.MetadataRef{{Name: "Culture"}, {ItemType: "Ref", Name: "Path"}}, refs.Metadata)
}

func TestPartition_NoMetadata(t *testing.T) {
	items := map[string][]*core.Item{
		"Compile": {newItem(t, "a"), newItem(t, "b")},
		"Other":   {newItem(t, "x")},
	}
	buckets, err := batch.Partition(batch.References{ItemTypes: []string{"Compile"}}, items)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, []string{"a", "b"}, includes(buckets[0], "Compile"))
	assert.Empty(t, buckets[0].Items("Other"))
	assert.False(t, buckets[0].Contains("Other"))
}

func TestPartition_NoReferences(t *testing.T) {
	buckets, err := batch.Partition(batch.References{}, nil)
	require.NoError(t, err)
	require.Len(t, buckets, 1)
	assert.Equal(t, 0, buckets[0].Size())
}

func TestPartition_FirstOccurrenceOrder(t *testing.T) {
	items := map[string][]*core.Item{
		"Res": {
			newItem(t, "1", "Culture", "fr"),
			newItem(t, "2", "Culture", "en"),
			newItem(t, "3", "Culture", "fr"),
			newItem(t, "4"),
			newItem(t, "5", "Culture", "en"),
		},
	}
	refs := batch.References{ItemTypes: []string{"Res"}, Metadata: []core.MetadataRef{{Name: "Culture"}}}
	buckets, err := batch.Partition(refs, items)
	require.NoError(t, err)
	require.Len(t, buckets, 3)

	assert.Equal(t, []string{"fr"}, buckets[0].Values)
	assert.Equal(t, []string{"1", "3"}, includes(buckets[0], "Res"))
	assert.Equal(t, []string{"2", "5"}, includes(buckets[1], "Res"))
	assert.Equal(t, []string{""}, buckets[2].Values)
	assert.Equal(t, []string{"4"}, includes(buckets[2], "res"))

	v, ok := buckets[1].Metadata(core.MetadataRef{Name: "culture"})
	require.True(t, ok)
	assert.Equal(t, "en", v)
	_, ok = buckets[1].Metadata(core.MetadataRef{Name: "Link"})
	assert.False(t, ok)
}

func TestPartition_TupleKey(t *testing.T) {
	items := map[string][]*core.Item{
		"I": {
			newItem(t, "a", "A", "1", "B", "x"),
			newItem(t, "b", "A", "1", "B", "y"),
			newItem(t, "c", "A", "1", "B", "x"),
		},
	}
	refs := batch.References{
		ItemTypes: []string{"I"},
		Metadata:  []core.MetadataRef{{Name: "A"}, {Name: "B"}},
	}
	buckets, err := batch.Partition(refs, items)
	require.NoError(t, err)
	require.Len(t, buckets, 2)
	assert.Equal(t, []string{"a", "c"}, includes(buckets[0], "I"))
	assert.Equal(t, []string{"b"}, includes(buckets[1], "I"))
}

func TestPartition_QualifiedReference(t *testing.T) {
	items := map[string][]*core.Item{
		"A": {newItem(t, "a1", "Kind", "k"), newItem(t, "a2", "Kind", "j")},
		"B": {newItem(t, "b1", "Kind", "k")},
	}
	refs := batch.References{
		ItemTypes: []string{"A", "B"},
		Metadata:  []core.MetadataRef{{ItemType: "A", Name: "Kind"}},
	}
	buckets, err := batch.Partition(refs, items)
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	assert.Equal(t, []string{"a1"}, includes(buckets[0], "A"))
	assert.Equal(t, []string{"a2"}, includes(buckets[1], "A"))
	// B items do not carry A's metadata and group under the empty value.
	assert.Equal(t, []string{""}, buckets[2].Values)
	assert.Equal(t, []string{"b1"}, includes(buckets[2], "B"))
	assert.Empty(t, buckets[2].Items("A"))
}

func TestPartition_UnqualifiedWithoutItems(t *testing.T) {
	refs := batch.References{Metadata: []core.MetadataRef{{Name: "Culture"}}}
	_, err := batch.Partition(refs, nil)
	require.ErrorIs(t, err, core.ErrUnqualifiedMetadata)
	var verr *core.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestPartition_IsPartition(t *testing.T) {
	var list []*core.Item
	for i := range 40 {
		list = append(list, newItem(t, fmt.Sprintf("i%02d", i), "M", fmt.Sprintf("v%d", (i*7)%5), "N", fmt.Sprintf("%d", i%3)))
	}
	refs := batch.References{ItemTypes: []string{"T"}, Metadata: []core.MetadataRef{{Name: "M"}, {Name: "N"}}}
	buckets, err := batch.Partition(refs, map[string][]*core.Item{"T": list})
	require.NoError(t, err)

	seen := make(map[string]int)
	firstIndex := make([]int, len(buckets))
	for bi, b := range buckets {
		firstIndex[bi] = -1
		for _, it := range b.Items("T") {
			seen[it.Include()]++
			assert.Equal(t, b.Values, []string{it.Metadata("M"), it.Metadata("N")})
		}
	}
	assert.Len(t, seen, len(list))
	for name, n := range seen {
		assert.Equalf(t, 1, n, "item %s appears %d times", name, n)
	}

	// Buckets are ordered by the position of their first item.
	for bi, b := range buckets {
		for idx, it := range list {
			if it == b.Items("T")[0] {
				firstIndex[bi] = idx
			}
		}
	}
	for i := 1; i < len(firstIndex); i++ {
		assert.Less(t, firstIndex[i-1], firstIndex[i])
	}
}
