package runtime

import (
	"strings"

	"github.com/dagucloud/forge/internal/core"
	"github.com/dagucloud/forge/internal/runtime/batch"
)

var _ core.Scope = (*Lookup)(nil)

type property struct {
	name  string
	value string
}

// Lookup is the mutable property and item state of one build configuration.
// It is owned by the flow currently building the configuration and is not
// safe for concurrent use.
type Lookup struct {
	props     map[string]property
	globals   map[string]bool
	items     map[string][]*core.Item
	itemNames map[string]string
	// frames holds the last task result of each running target, innermost
	// last.
	frames []string
}

// NewLookup creates a lookup seeded with read-only global properties.
func NewLookup(globals map[string]string) *Lookup {
	l := &Lookup{
		props:     make(map[string]property),
		globals:   make(map[string]bool, len(globals)),
		items:     make(map[string][]*core.Item),
		itemNames: make(map[string]string),
	}
	for name, value := range globals {
		key := strings.ToLower(name)
		l.props[key] = property{name: name, value: value}
		l.globals[key] = true
	}
	return l
}

// Property implements core.Scope.
func (l *Lookup) Property(name string) (string, bool) {
	if strings.EqualFold(name, core.LastTaskResultProperty) {
		if len(l.frames) == 0 {
			return "", false
		}
		return l.frames[len(l.frames)-1], true
	}
	p, ok := l.props[strings.ToLower(name)]
	return p.value, ok
}

// IsGlobal reports whether a property was set by the build request.
func (l *Lookup) IsGlobal(name string) bool {
	return l.globals[strings.ToLower(name)]
}

// SetProperty assigns a property and returns the previous value. Global
// properties are left untouched and report ok false.
func (l *Lookup) SetProperty(name, value string) (old string, existed bool, ok bool) {
	key := strings.ToLower(name)
	if l.globals[key] {
		return l.props[key].value, true, false
	}
	prev, existed := l.props[key]
	l.props[key] = property{name: name, value: value}
	return prev.value, existed, true
}

// Properties returns a copy of every property keyed by its spelling.
func (l *Lookup) Properties() map[string]string {
	out := make(map[string]string, len(l.props))
	for _, p := range l.props {
		out[p.name] = p.value
	}
	return out
}

// GlobalProperties returns a copy of the request-level properties.
func (l *Lookup) GlobalProperties() map[string]string {
	out := make(map[string]string, len(l.globals))
	for key := range l.globals {
		p := l.props[key]
		out[p.name] = p.value
	}
	return out
}

// Items implements core.Scope.
func (l *Lookup) Items(itemType string) []*core.Item {
	return l.items[strings.ToLower(itemType)]
}

// HasItemType implements core.Scope.
func (l *Lookup) HasItemType(itemType string) bool {
	_, ok := l.itemNames[strings.ToLower(itemType)]
	return ok
}

// DeclareItemType makes an item type known without adding items.
func (l *Lookup) DeclareItemType(itemType string) {
	key := strings.ToLower(itemType)
	if _, ok := l.itemNames[key]; !ok {
		l.itemNames[key] = itemType
	}
}

// AddItems appends items to an item type, declaring it if needed.
func (l *Lookup) AddItems(itemType string, items ...*core.Item) {
	l.DeclareItemType(itemType)
	key := strings.ToLower(itemType)
	l.items[key] = append(l.items[key], items...)
}

// ItemTypes returns the declared item type names.
func (l *Lookup) ItemTypes() []string {
	out := make([]string, 0, len(l.itemNames))
	for _, name := range l.itemNames {
		out = append(out, name)
	}
	return out
}

// BatchMetadata implements core.Scope. Outside of a batch no metadata is
// available.
func (l *Lookup) BatchMetadata(core.MetadataRef) (string, bool) {
	return "", false
}

// ItemSnapshot returns the current items of the given types.
func (l *Lookup) ItemSnapshot(itemTypes []string) map[string][]*core.Item {
	out := make(map[string][]*core.Item, len(itemTypes))
	for _, t := range itemTypes {
		out[t] = append([]*core.Item(nil), l.Items(t)...)
	}
	return out
}

func (l *Lookup) enterTarget() {
	l.frames = append(l.frames, "")
}

func (l *Lookup) leaveTarget() {
	if len(l.frames) > 0 {
		l.frames = l.frames[:len(l.frames)-1]
	}
}

func (l *Lookup) setLastTaskResult(success bool) {
	if len(l.frames) == 0 {
		return
	}
	v := "false"
	if success {
		v = "true"
	}
	l.frames[len(l.frames)-1] = v
}

// batchScope overlays one bucket on the lookup: referenced item types
// resolve to the bucket's items and metadata references to its values.
type batchScope struct {
	*Lookup
	bucket *batch.Bucket
}

func (s *batchScope) Items(itemType string) []*core.Item {
	if s.bucket != nil && s.bucket.Contains(itemType) {
		return s.bucket.Items(itemType)
	}
	return s.Lookup.Items(itemType)
}

func (s *batchScope) BatchMetadata(ref core.MetadataRef) (string, bool) {
	if s.bucket == nil {
		return "", false
	}
	return s.bucket.Metadata(ref)
}
