package core

import (
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// Built-in metadata names. They are derived from the item identity (or from
// the wildcard expansion that produced the item) and can never be assigned.
const (
	MetadataFullPath                = "FullPath"
	MetadataRootDir                 = "RootDir"
	MetadataFilename                = "Filename"
	MetadataExtension               = "Extension"
	MetadataRelativeDir             = "RelativeDir"
	MetadataDirectory               = "Directory"
	MetadataRecursiveDir            = "RecursiveDir"
	MetadataIdentity                = "Identity"
	MetadataModifiedTime            = "ModifiedTime"
	MetadataCreatedTime             = "CreatedTime"
	MetadataAccessedTime            = "AccessedTime"
	MetadataDefiningProjectFullPath = "DefiningProjectFullPath"
)

// fileTimeLayout is the layout used for the time-valued built-in metadata.
const fileTimeLayout = "2006-01-02 15:04:05.0000000"

var reservedMetadata = []string{
	MetadataFullPath,
	MetadataRootDir,
	MetadataFilename,
	MetadataExtension,
	MetadataRelativeDir,
	MetadataDirectory,
	MetadataRecursiveDir,
	MetadataIdentity,
	MetadataModifiedTime,
	MetadataCreatedTime,
	MetadataAccessedTime,
	MetadataDefiningProjectFullPath,
}

// ReservedMetadataNames returns the built-in metadata names.
func ReservedMetadataNames() []string {
	return slices.Clone(reservedMetadata)
}

// IsReservedMetadata reports whether name is a built-in metadata name.
// Metadata names compare case-insensitively.
func IsReservedMetadata(name string) bool {
	for _, r := range reservedMetadata {
		if strings.EqualFold(r, name) {
			return true
		}
	}
	return false
}

// MetadataEntry is one custom metadata name/value pair.
type MetadataEntry struct {
	Name  string
	Value string
}

// Item is one element of an item collection: an identity plus custom metadata.
type Item struct {
	include         string
	metadata        []MetadataEntry
	recursiveDir    string
	baseDir         string
	definingProject string
}

// NewItem creates an item with the given identity.
func NewItem(include string) *Item {
	return &Item{include: include}
}

// NewItemWithMetadata creates an item and assigns the given custom metadata
// in order. It fails when any name is reserved.
func NewItemWithMetadata(include string, metadata ...MetadataEntry) (*Item, error) {
	item := NewItem(include)
	for _, m := range metadata {
		if err := item.SetMetadata(m.Name, m.Value); err != nil {
			return nil, err
		}
	}
	return item, nil
}

// NewGlobItem creates an item produced by wildcard expansion. recursiveDir is
// the part of the matched path covered by the `**` segment.
func NewGlobItem(include, recursiveDir string) *Item {
	return &Item{include: include, recursiveDir: recursiveDir}
}

// WithOrigin records the directory relative paths are resolved against and
// the project that defined the item.
func (i *Item) WithOrigin(baseDir, definingProject string) *Item {
	i.baseDir = baseDir
	i.definingProject = definingProject
	return i
}

// Origin returns the directory relative identities resolve against and the
// path of the defining project. Both are empty for items created at run time.
func (i *Item) Origin() (baseDir, definingProject string) {
	return i.baseDir, i.definingProject
}

// Include returns the item identity.
func (i *Item) Include() string {
	return i.include
}

// String implements fmt.Stringer.
func (i *Item) String() string {
	return i.include
}

// SetMetadata assigns a custom metadata value. Built-in names are rejected.
func (i *Item) SetMetadata(name, value string) error {
	if name == "" {
		return NewValidationError("metadata", name, ErrInvalidMetadataName)
	}
	if IsReservedMetadata(name) {
		return NewValidationError("metadata", name, ErrReservedMetadata)
	}
	for idx := range i.metadata {
		if strings.EqualFold(i.metadata[idx].Name, name) {
			i.metadata[idx].Value = value
			return nil
		}
	}
	i.metadata = append(i.metadata, MetadataEntry{Name: name, Value: value})
	return nil
}

// RemoveMetadata removes a custom metadata value if present.
func (i *Item) RemoveMetadata(name string) {
	i.metadata = slices.DeleteFunc(i.metadata, func(m MetadataEntry) bool {
		return strings.EqualFold(m.Name, name)
	})
}

// HasMetadata reports whether the item defines custom metadata name.
func (i *Item) HasMetadata(name string) bool {
	_, ok := i.customMetadata(name)
	return ok
}

// CustomMetadata returns a copy of the custom metadata in assignment order.
func (i *Item) CustomMetadata() []MetadataEntry {
	return slices.Clone(i.metadata)
}

// Metadata returns the value of a custom or built-in metadata name.
// Undefined metadata yields the empty string.
func (i *Item) Metadata(name string) string {
	if IsReservedMetadata(name) {
		return i.builtinMetadata(name)
	}
	v, _ := i.customMetadata(name)
	return v
}

// Derive returns a copy of the item with a new identity. Custom metadata and
// origin are carried over.
func (i *Item) Derive(include string) *Item {
	c := i.Clone()
	c.include = include
	return c
}

// Clone returns a deep copy of the item.
func (i *Item) Clone() *Item {
	c := *i
	c.metadata = slices.Clone(i.metadata)
	return &c
}

func (i *Item) customMetadata(name string) (string, bool) {
	for _, m := range i.metadata {
		if strings.EqualFold(m.Name, name) {
			return m.Value, true
		}
	}
	return "", false
}

func (i *Item) fullPath() string {
	p := filepath.FromSlash(i.include)
	if !filepath.IsAbs(p) && i.baseDir != "" {
		p = filepath.Join(i.baseDir, p)
	}
	if abs, err := filepath.Abs(p); err == nil {
		p = abs
	}
	return filepath.Clean(p)
}

func (i *Item) builtinMetadata(name string) string {
	sep := string(filepath.Separator)
	switch {
	case strings.EqualFold(name, MetadataIdentity):
		return i.include
	case strings.EqualFold(name, MetadataFullPath):
		return i.fullPath()
	case strings.EqualFold(name, MetadataRootDir):
		fp := i.fullPath()
		return filepath.VolumeName(fp) + sep
	case strings.EqualFold(name, MetadataFilename):
		base := filepath.Base(filepath.FromSlash(i.include))
		return strings.TrimSuffix(base, filepath.Ext(base))
	case strings.EqualFold(name, MetadataExtension):
		return filepath.Ext(i.include)
	case strings.EqualFold(name, MetadataRelativeDir):
		dir, _ := filepath.Split(filepath.FromSlash(i.include))
		return dir
	case strings.EqualFold(name, MetadataDirectory):
		fp := i.fullPath()
		dir := filepath.Dir(fp)
		dir = strings.TrimPrefix(dir, filepath.VolumeName(fp)+sep)
		if dir == "" || dir == sep {
			return ""
		}
		return dir + sep
	case strings.EqualFold(name, MetadataRecursiveDir):
		return i.recursiveDir
	case strings.EqualFold(name, MetadataDefiningProjectFullPath):
		return i.definingProject
	case strings.EqualFold(name, MetadataModifiedTime):
		return i.fileTime(func(fi os.FileInfo) time.Time { return fi.ModTime() })
	case strings.EqualFold(name, MetadataCreatedTime), strings.EqualFold(name, MetadataAccessedTime):
		// Creation and access times are not portable; report the
		// modification time.
		return i.fileTime(func(fi os.FileInfo) time.Time { return fi.ModTime() })
	}
	return ""
}

func (i *Item) fileTime(pick func(os.FileInfo) time.Time) string {
	fi, err := os.Stat(i.fullPath())
	if err != nil {
		return ""
	}
	return pick(fi).Format(fileTimeLayout)
}

// ItemIncludes returns the identities of items, in order.
func ItemIncludes(items []*Item) []string {
	out := make([]string, len(items))
	for idx, item := range items {
		out[idx] = item.include
	}
	return out
}
