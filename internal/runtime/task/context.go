package task

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"

	"github.com/dagucloud/forge/internal/core"
)

// ErrNoHost is returned by the host methods of a context without a host.
var ErrNoHost = errors.New("task is not running inside a build")

// Host is the build surface a running task may call back into.
type Host interface {
	// CallTargets builds targets of the current project configuration.
	CallTargets(ctx context.Context, targets []string) (*core.BuildResult, error)
	// BuildProjects issues nested build requests. The calling target gives
	// up its execution slot while it waits.
	BuildProjects(ctx context.Context, requests []core.BuildRequest) ([]*core.BuildResult, error)
}

// Location identifies where a task runs.
type Location struct {
	Configuration string
	Project       string
	ProjectDir    string
	Target        string
}

// Context is what a task instance sees of the build: its bound parameters,
// its outputs, the event sink and the host. A Context belongs to exactly one
// batch execution.
type Context struct {
	Location
	info    Info
	params  map[string]core.Value
	outputs map[string]core.Value
	host    Host
	sink    core.EventSink
}

// ContextOption configures a Context.
type ContextOption func(*Context)

// WithHost sets the build host.
func WithHost(h Host) ContextOption {
	return func(c *Context) {
		c.host = h
	}
}

// WithSink sets the event sink task messages go to.
func WithSink(s core.EventSink) ContextOption {
	return func(c *Context) {
		c.sink = s
	}
}

// WithLocation sets the location reported with task events.
func WithLocation(loc Location) ContextOption {
	return func(c *Context) {
		c.Location = loc
	}
}

// NewContext creates the context of one execution. params are keyed by
// parameter name.
func NewContext(info Info, params map[string]core.Value, opts ...ContextOption) *Context {
	c := &Context{
		info:    info,
		params:  make(map[string]core.Value, len(params)),
		outputs: make(map[string]core.Value),
		sink:    core.DiscardSink,
	}
	for name, v := range params {
		c.params[strings.ToLower(name)] = v
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Name returns the task name.
func (c *Context) Name() string {
	return c.info.Name
}

// Value returns a bound input parameter.
func (c *Context) Value(name string) (core.Value, bool) {
	v, ok := c.params[strings.ToLower(name)]
	return v, ok
}

// Has reports whether an input parameter was bound.
func (c *Context) Has(name string) bool {
	_, ok := c.Value(name)
	return ok
}

// String returns a bound parameter as text.
func (c *Context) String(name string) string {
	v, _ := c.Value(name)
	return v.String()
}

// Bool returns a bound boolean parameter; unbound reads as false.
func (c *Context) Bool(name string) bool {
	b, _ := strconv.ParseBool(strings.TrimSpace(c.String(name)))
	return b
}

// Items returns a bound item-list parameter.
func (c *Context) Items(name string) []*core.Item {
	v, ok := c.Value(name)
	if !ok {
		return nil
	}
	if v.Kind == core.ItemsKind {
		return v.Items
	}
	return SplitItems(v.Scalar)
}

// SetOutput records the value of a declared output parameter. Scalars set
// on item-list outputs are split on ';', item lists set on scalar outputs
// are joined.
func (c *Context) SetOutput(name string, v core.Value) error {
	spec, ok := c.info.Param(name)
	if !ok || !spec.Output {
		return &core.ParameterBindingError{Task: c.info.Name, Parameter: name, Err: core.ErrUnknownOutputParameter}
	}
	switch {
	case spec.Type == ParamItems && v.Kind == core.ScalarKind:
		v = core.ItemsValue(SplitItems(v.Scalar))
	case spec.Type != ParamItems && v.Kind == core.ItemsKind:
		v = core.ScalarValue(v.String())
	}
	c.outputs[strings.ToLower(spec.Name)] = v
	return nil
}

// SetString records a scalar output.
func (c *Context) SetString(name, value string) error {
	return c.SetOutput(name, core.ScalarValue(value))
}

// SetItems records an item-list output.
func (c *Context) SetItems(name string, items []*core.Item) error {
	return c.SetOutput(name, core.ItemsValue(items))
}

// Output returns a recorded output value. Parameters that are both input
// and output read back their input when the task did not set them.
func (c *Context) Output(name string) (core.Value, bool) {
	key := strings.ToLower(name)
	if v, ok := c.outputs[key]; ok {
		return v, true
	}
	if spec, ok := c.info.Param(name); ok && spec.Input && spec.Output {
		v, ok := c.params[key]
		return v, ok
	}
	return core.Value{}, false
}

// Host returns the build host, or one that fails every call.
func (c *Context) Host() Host {
	if c.host == nil {
		return noHost{}
	}
	return c.host
}

// LogMessage emits a message event.
func (c *Context) LogMessage(ctx context.Context, importance core.Importance, msg string) {
	c.emit(ctx, core.Event{Kind: core.EventMessage, Importance: importance, Message: msg})
}

// LogWarning emits a warning event.
func (c *Context) LogWarning(ctx context.Context, msg string) {
	c.emit(ctx, core.Event{Kind: core.EventWarning, Message: msg})
}

// LogError emits an error event.
func (c *Context) LogError(ctx context.Context, msg string) {
	c.emit(ctx, core.Event{Kind: core.EventError, Message: msg})
}

func (c *Context) emit(ctx context.Context, ev core.Event) {
	ev.Time = time.Now()
	ev.Configuration = c.Configuration
	ev.Project = c.Project
	ev.Target = c.Target
	ev.Task = c.info.Name
	c.sink.Emit(ctx, ev)
}

// Decode copies the bound parameters into a struct using mapstructure tags.
// Item lists decode as their identities; use Items for metadata.
func (c *Context) Decode(out any) error {
	raw := make(map[string]any, len(c.params))
	for _, spec := range c.info.Params {
		v, ok := c.params[strings.ToLower(spec.Name)]
		if !ok {
			continue
		}
		switch spec.Type {
		case ParamItems:
			raw[spec.Name] = core.ItemIncludes(c.Items(spec.Name))
		case ParamBool:
			raw[spec.Name] = c.Bool(spec.Name)
		default:
			raw[spec.Name] = v.String()
		}
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		Result:           out,
		WeaklyTypedInput: true,
		TagName:          "mapstructure",
	})
	if err != nil {
		return err
	}
	if err := decoder.Decode(raw); err != nil {
		return fmt.Errorf("failed to decode %s parameters: %w", c.info.Name, err)
	}
	return nil
}

// SplitItems turns ';'-separated text into items, dropping empty entries.
func SplitItems(s string) []*core.Item {
	var items []*core.Item
	for _, part := range strings.Split(s, ";") {
		if part = strings.TrimSpace(part); part != "" {
			items = append(items, core.NewItem(part))
		}
	}
	return items
}

type noHost struct{}

func (noHost) CallTargets(context.Context, []string) (*core.BuildResult, error) {
	return nil, ErrNoHost
}

func (noHost) BuildProjects(context.Context, []core.BuildRequest) ([]*core.BuildResult, error) {
	return nil, ErrNoHost
}
