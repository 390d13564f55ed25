package feature

import (
	"fmt"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/newplayerperks/npp/plugin/config"
	"github.com/newplayerperks/npp/plugin/message"
	"github.com/newplayerperks/npp/plugin/permission"
)

// Instance is a validated feature bound to one configuration entry. It is
// immutable once built.
type Instance[B any] struct {
	id          string
	kind        string
	enabled     bool
	node        permission.Node
	messages    map[string]message.Template
	params      config.Params
	fingerprint uint64
	behaviour   B
}

// Build validates e against its kind and activates it. Every failure is
// returned as a *config.ConfigError scoped to the entry.
func Build[B any](kinds *Kinds[B], e config.Entry) (*Instance[B], error) {
	fail := func(field string, err error) error {
		return &config.ConfigError{Index: e.Index, ID: e.ID, Line: e.Line, Field: field, Err: err}
	}
	kind, ok := kinds.Lookup(e.Kind)
	if !ok {
		return nil, fail("kind", fmt.Errorf("%w: %s (known kinds: %s)", config.ErrUnknownKind, e.Kind, strings.Join(kinds.Names(), ", ")))
	}
	if err := kind.Validate(e); err != nil {
		return nil, fail("", err)
	}
	b, err := kind.Activate(e)
	if err != nil {
		return nil, fail("", fmt.Errorf("activate %s: %w", e.Kind, err))
	}
	return &Instance[B]{
		id:          e.ID,
		kind:        e.Kind,
		enabled:     e.Enabled,
		node:        e.Permission,
		messages:    message.CompileAll(e.Messages),
		params:      maps.Clone(e.Params),
		fingerprint: Fingerprint(e),
		behaviour:   b,
	}, nil
}

// ID ...
func (i *Instance[B]) ID() string { return i.id }

// Kind ...
func (i *Instance[B]) Kind() string { return i.kind }

// Enabled ...
func (i *Instance[B]) Enabled() bool { return i.enabled }

// PermissionNode implements permission.Target.
func (i *Instance[B]) PermissionNode() permission.Node { return i.node }

// Message returns the template configured for key.
func (i *Instance[B]) Message(key string) (message.Template, bool) {
	t, ok := i.messages[key]
	return t, ok
}

// Param returns the raw parameter stored under key.
func (i *Instance[B]) Param(key string) (any, bool) {
	v, ok := i.params[key]
	return v, ok
}

// Fingerprint returns a hash of the settings the instance was built from.
// Two instances built from equal settings have equal fingerprints.
func (i *Instance[B]) Fingerprint() uint64 { return i.fingerprint }

// Behaviour returns the value produced by the kind of the instance.
func (i *Instance[B]) Behaviour() B { return i.behaviour }

// Fingerprint hashes the normalised settings of e: id, kind, enabled state,
// permission node, messages and params. Map keys are hashed in sorted order.
func Fingerprint(e config.Entry) uint64 {
	d := xxhash.New()
	write := func(s string) {
		_, _ = d.WriteString(s)
		_, _ = d.Write([]byte{0})
	}
	write(e.ID)
	write(e.Kind)
	write(strconv.FormatBool(e.Enabled))
	write(string(e.Permission))
	for _, k := range slices.Sorted(maps.Keys(e.Messages)) {
		write(k)
		write(e.Messages[k])
	}
	write("params")
	for _, k := range e.Params.Keys() {
		write(k)
		writeValue(write, e.Params[k])
	}
	return d.Sum64()
}

func writeValue(write func(string), v any) {
	switch t := v.(type) {
	case []any:
		write("[")
		for _, item := range t {
			writeValue(write, item)
		}
		write("]")
	case map[string]any:
		write("{")
		for _, k := range slices.Sorted(maps.Keys(t)) {
			write(k)
			writeValue(write, t[k])
		}
		write("}")
	default:
		write(fmt.Sprintf("%T:%v", v, v))
	}
}
