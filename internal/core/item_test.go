package core

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestItem_ReservedMetadataRejected(t *testing.T) {
	t.Parallel()

	for _, name := range ReservedMetadataNames() {
		for _, variant := range []string{name, strings.ToLower(name), strings.ToUpper(name)} {
			item := NewItem("a.txt")
			err := item.SetMetadata(variant, "x")
			require.ErrorIs(t, err, ErrReservedMetadata, variant)

			var ve *ValidationError
			require.ErrorAs(t, err, &ve)
			assert.Equal(t, variant, ve.Value)
			assert.Empty(t, item.CustomMetadata())
		}

		_, err := NewItemWithMetadata("a.txt", MetadataEntry{Name: "Culture", Value: "en"}, MetadataEntry{Name: name, Value: "x"})
		assert.ErrorIs(t, err, ErrReservedMetadata, name)
	}

	assert.ErrorIs(t, NewItem("a").SetMetadata("", "x"), ErrInvalidMetadataName)
}

func TestItem_CustomMetadata(t *testing.T) {
	t.Parallel()

	item, err := NewItemWithMetadata("a.resx",
		MetadataEntry{Name: "LogicalName", Value: "foo"},
		MetadataEntry{Name: "Culture", Value: "en"},
	)
	require.NoError(t, err)

	require.NoError(t, item.SetMetadata("logicalname", "bar"))
	assert.Equal(t, "bar", item.Metadata("LOGICALNAME"))
	assert.True(t, item.HasMetadata("culture"))
	assert.False(t, item.HasMetadata("Missing"))
	assert.Empty(t, item.Metadata("Missing"))
	assert.Equal(t, []MetadataEntry{{Name: "LogicalName", Value: "bar"}, {Name: "Culture", Value: "en"}}, item.CustomMetadata())

	item.RemoveMetadata("CULTURE")
	assert.False(t, item.HasMetadata("Culture"))
}

func TestItem_BuiltinMetadata(t *testing.T) {
	t.Parallel()
	if runtime.GOOS == "windows" {
		t.Skip("uses unix paths")
	}

	item := NewGlobItem("src/sub/a.resx", "sub/").WithOrigin("/base", "/base/app.yaml")

	tests := map[string]string{
		MetadataIdentity:                "src/sub/a.resx",
		MetadataFilename:                "a",
		MetadataExtension:               ".resx",
		MetadataRelativeDir:             "src/sub/",
		MetadataFullPath:                "/base/src/sub/a.resx",
		MetadataRootDir:                 "/",
		MetadataDirectory:               "base/src/sub/",
		MetadataRecursiveDir:            "sub/",
		MetadataDefiningProjectFullPath: "/base/app.yaml",
		MetadataModifiedTime:            "",
	}
	for name, want := range tests {
		assert.Equal(t, want, item.Metadata(name), name)
		assert.Equal(t, want, item.Metadata(strings.ToLower(name)), name)
	}
}

func TestItem_FileTimes(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(path, []byte("x"), 0600))
	mtime := time.Date(2024, 3, 1, 12, 30, 0, 0, time.Local)
	require.NoError(t, os.Chtimes(path, mtime, mtime))

	item := NewItem("in.txt").WithOrigin(dir, "")
	assert.Equal(t, mtime.Format(fileTimeLayout), item.Metadata(MetadataModifiedTime))
	assert.Equal(t, item.Metadata(MetadataModifiedTime), item.Metadata(MetadataCreatedTime))
}

func TestItem_CloneAndDerive(t *testing.T) {
	t.Parallel()

	orig, err := NewItemWithMetadata("a.cs", MetadataEntry{Name: "Kind", Value: "source"})
	require.NoError(t, err)
	orig.WithOrigin("/base", "/base/app.yaml")

	clone := orig.Clone()
	require.NoError(t, clone.SetMetadata("Kind", "changed"))
	assert.Equal(t, "source", orig.Metadata("Kind"))

	derived := orig.Derive("a.obj")
	assert.Equal(t, "a.obj", derived.Include())
	assert.Equal(t, "source", derived.Metadata("Kind"))
	base, project := derived.Origin()
	assert.Equal(t, "/base", base)
	assert.Equal(t, "/base/app.yaml", project)

	assert.Equal(t, []string{"a.cs", "a.obj"}, ItemIncludes([]*Item{orig, derived}))
}
