// Package lifecycle loads, activates and hot-reloads features. A Controller
// owns the feature registry: transitions are serialised by a mutex while
// readers obtain the current snapshot without locking.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/newplayerperks/npp/plugin/config"
	"github.com/newplayerperks/npp/plugin/feature"
	"github.com/newplayerperks/npp/plugin/message"
	"github.com/newplayerperks/npp/plugin/metrics"
	"github.com/newplayerperks/npp/plugin/permission"
)

var (
	// ErrNotActive is returned by Reload before the controller was started.
	ErrNotActive = errors.New("feature lifecycle not active")
	// ErrAlreadyStarted is returned by Start on a controller that was started
	// before.
	ErrAlreadyStarted = errors.New("feature lifecycle already started")
	// ErrStopped is returned by Start and Reload after Stop.
	ErrStopped = errors.New("feature lifecycle stopped")
)

// State is the lifecycle state of a Controller.
type State uint32

const (
	StateUnloaded State = iota
	StateLoading
	StateActive
	StateReloading
	StateStopped
)

// String ...
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateLoading:
		return "loading"
	case StateActive:
		return "active"
	case StateReloading:
		return "reloading"
	case StateStopped:
		return "stopped"
	}
	return fmt.Sprintf("State(%d)", uint32(s))
}

// PublishFunc is called after a snapshot was published, with the snapshot it
// replaced. Hooks run one at a time in publish order, so a hook must not call
// Start, Reload or Stop.
type PublishFunc[B any] func(prev, next *feature.Snapshot[B])

// Config holds the collaborators of a Controller.
type Config[B any] struct {
	// Source provides the feature document on every Start and Reload.
	Source config.Source
	// Kinds holds the feature kinds entries may select.
	Kinds *feature.Kinds[B]
	// Provider answers permission queries for every snapshot.
	Provider permission.Provider
	// Log is used for lifecycle events. If nil, slog.Default() is used.
	Log *slog.Logger
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// Placeholders lists the placeholders messages are rendered with. If set,
	// a message using any other placeholder is reported as a warning.
	Placeholders []string
}

// Controller drives the Unloaded → Loading → Active → Reloading → Active →
// Stopped state machine of a set of features.
type Controller[B any] struct {
	conf     Config[B]
	log      *slog.Logger
	registry *feature.Registry[B]

	state atomic.Uint32

	// mu serialises transitions. It is never held by readers.
	mu         sync.Mutex
	generation uint64
	hooks      []PublishFunc[B]

	// hookMu is taken before mu is released, so hooks run in publish order
	// while the next transition may already load.
	hookMu sync.Mutex
}

// New returns a Controller in the Unloaded state. Its registry holds an empty
// snapshot until Start is called.
func New[B any](conf Config[B]) *Controller[B] {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Kinds == nil {
		conf.Kinds = feature.NewKinds[B]()
	}
	return &Controller[B]{
		conf:     conf,
		log:      conf.Log.With("subsystem", "features"),
		registry: feature.NewRegistry[B](),
	}
}

// State returns the current state of the controller.
func (c *Controller[B]) State() State {
	return State(c.state.Load())
}

// Snapshot returns the current snapshot. It never blocks and never returns
// nil; after Stop it returns an empty snapshot.
func (c *Controller[B]) Snapshot() *feature.Snapshot[B] {
	return c.registry.Current()
}

// Registry returns the registry the controller publishes to.
func (c *Controller[B]) Registry() *feature.Registry[B] {
	return c.registry
}

// OnPublish registers f to be called after every published snapshot,
// including the empty snapshot published by Stop. Hooks run before the
// transition that published returns, but without holding the transition
// lock, so they may query the permission provider. Hooks must not call
// Start, Reload or Stop.
func (c *Controller[B]) OnPublish(f PublishFunc[B]) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, f)
}

// Start loads the feature document and publishes the first snapshot. Invalid
// entries are skipped and listed in the report. If the document cannot be
// loaded at all, an empty snapshot is published, the controller still
// becomes Active so that a corrected document can be reloaded, and the
// *config.LoadFailure is returned.
//
// ctx is only checked before loading begins. Once started, a load runs to
// completion.
func (c *Controller[B]) Start(ctx context.Context) (Report, error) {
	report, hooks := c.start(ctx)
	hooks()
	return report, report.Err
}

func (c *Controller[B]) start(ctx context.Context) (Report, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateStopped:
		return Report{Operation: "start", Err: ErrStopped}, noHooks
	case StateUnloaded:
	default:
		return Report{Operation: "start", Err: ErrAlreadyStarted}, noHooks
	}
	if err := ctx.Err(); err != nil {
		return Report{Operation: "start", Err: err}, noHooks
	}
	c.state.Store(uint32(StateLoading))
	defer c.state.Store(uint32(StateActive))

	report, next := c.load("start")
	if report.Err != nil {
		c.generation++
		next = feature.NewSnapshot[B](feature.SnapshotConfig{
			Generation: c.generation,
			Source:     c.conf.Source.Name(),
			Period:     config.DefaultPeriod,
			Locale:     config.DefaultLocale,
		}, nil)
		report.Generation = c.generation
	}
	return report, c.publish(next, &report)
}

// Reload loads the feature document again and atomically replaces the
// current snapshot. If the document cannot be loaded at all, the current
// snapshot is kept unchanged and the *config.LoadFailure is returned.
//
// ctx is only checked before loading begins. Once started, a reload runs to
// completion.
func (c *Controller[B]) Reload(ctx context.Context) (Report, error) {
	report, hooks := c.reload(ctx)
	hooks()
	return report, report.Err
}

func (c *Controller[B]) reload(ctx context.Context) (Report, func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.State() {
	case StateStopped:
		return Report{Operation: "reload", Err: ErrStopped}, noHooks
	case StateUnloaded:
		return Report{Operation: "reload", Err: ErrNotActive}, noHooks
	}
	if err := ctx.Err(); err != nil {
		return Report{Operation: "reload", Err: err}, noHooks
	}
	c.state.Store(uint32(StateReloading))
	defer c.state.Store(uint32(StateActive))

	report, next := c.load("reload")
	if report.Err != nil {
		current := c.registry.Current()
		report.Generation = current.Generation()
		report.Activated = current.IDs()
		return report, noHooks
	}
	return report, c.publish(next, &report)
}

// Stop publishes an empty snapshot and moves the controller to Stopped.
// Every later Start and Reload returns ErrStopped. Calling Stop more than
// once is a no-op.
func (c *Controller[B]) Stop() error {
	c.stop()()
	return nil
}

func (c *Controller[B]) stop() func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State() == StateStopped {
		return noHooks
	}
	c.state.Store(uint32(StateStopped))
	next := feature.Empty[B]()
	prev := c.registry.Publish(next)
	c.conf.Metrics.SetFeaturesActive(0)
	c.log.Info("Features stopped.", "released", prev.Len())
	return c.hooksFor(prev, next)
}

// Authorize reports if actor may perform action on the feature with the
// given id. Unknown and disabled features, as well as every feature after
// Stop, authorise nothing. The permission provider is queried without
// holding any lock.
func (c *Controller[B]) Authorize(ctx context.Context, actor uuid.UUID, id, action string) bool {
	s := c.registry.Current()
	inst, ok := s.Lookup(id)
	if !ok || !inst.Enabled() {
		return false
	}
	gate := s.Gate()
	if gate == nil {
		return false
	}
	return gate.Authorize(ctx, actor, inst, action)
}

// load reads the document and builds the next snapshot without publishing
// it. On a load failure the returned snapshot is nil and report.Err is set.
func (c *Controller[B]) load(op string) (Report, *feature.Snapshot[B]) {
	start := time.Now()
	report := Report{Operation: op, Source: c.conf.Source.Name()}

	doc, err := config.Load(c.conf.Source)
	if err != nil {
		report.Err = err
		report.Duration = time.Since(start)
		c.conf.Metrics.ObserveReload(false)
		c.log.Error("Feature configuration could not be loaded.", "op", op, "error", err)
		return report, nil
	}
	report.Warnings = append(slices.Clone(doc.Warnings), c.placeholderWarnings(doc)...)
	for _, w := range report.Warnings {
		c.log.Warn("Feature configuration warning.", "source", doc.Source, "warning", w)
	}
	for _, cerr := range doc.Errors {
		report.Errors = append(report.Errors, cerr)
	}

	gate, err := permission.NewGate(permission.GateConfig{
		Provider: c.conf.Provider,
		Policy:   doc.Permission.OnProviderError,
		Timeout:  doc.Permission.Timeout,
		Log:      c.conf.Log,
		Metrics:  c.conf.Metrics,
	})
	if err != nil {
		// Unreachable with a loaded document, which always carries a policy.
		report.Err = fmt.Errorf("bind permissions: %w", err)
		report.Duration = time.Since(start)
		c.conf.Metrics.ObserveReload(false)
		return report, nil
	}

	instances := make([]*feature.Instance[B], 0, len(doc.Entries))
	for _, e := range doc.Entries {
		inst, err := feature.Build(c.conf.Kinds, e)
		if err != nil {
			var cerr *config.ConfigError
			if errors.As(err, &cerr) {
				cerr.Source = doc.Source
			}
			report.Errors = append(report.Errors, err)
			continue
		}
		instances = append(instances, inst)
	}
	for _, err := range report.Errors {
		c.log.Warn("Feature rejected.", "error", err)
	}
	c.conf.Metrics.AddEntryErrors(len(report.Errors))

	c.generation++
	next := feature.NewSnapshot(feature.SnapshotConfig{
		Generation: c.generation,
		Source:     doc.Source,
		Period:     doc.Period,
		Locale:     doc.Locale,
		Messages:   message.CompileAll(doc.Messages),
		Gate:       gate,
	}, instances)

	report.Generation = c.generation
	report.Activated = next.IDs()
	report.Duration = time.Since(start)
	c.conf.Metrics.ObserveReload(true)
	return report, next
}

// placeholderWarnings reports the messages of doc using placeholders outside
// Config.Placeholders.
func (c *Controller[B]) placeholderWarnings(doc *config.Document) []string {
	if c.conf.Placeholders == nil {
		return nil
	}
	var warnings []string
	check := func(scope string, messages map[string]string) {
		for _, key := range slices.Sorted(maps.Keys(messages)) {
			for _, name := range message.Compile(messages[key]).Placeholders() {
				if !slices.Contains(c.conf.Placeholders, name) {
					warnings = append(warnings, fmt.Sprintf("%smessage %q uses unknown placeholder <%s>", scope, key, name))
				}
			}
		}
	}
	check("", doc.Messages)
	for _, e := range doc.Entries {
		check(fmt.Sprintf("feature %q: ", e.ID), e.Messages)
	}
	return warnings
}

// publish makes next current and completes the report with the difference
// to the replaced snapshot. It returns the function running the publish
// hooks, which must be called once c.mu is released. c.mu must be held.
func (c *Controller[B]) publish(next *feature.Snapshot[B], report *Report) func() {
	prev := c.registry.Publish(next)
	report.Added, report.Removed, report.Changed = feature.Diff(prev, next)
	c.conf.Metrics.SetFeaturesActive(next.Len())

	if report.Err == nil {
		c.log.Info("Features published.", "op", report.Operation, "generation", next.Generation(),
			"active", next.Len(), "rejected", len(report.Errors), "added", len(report.Added),
			"removed", len(report.Removed), "changed", len(report.Changed))
	}
	return c.hooksFor(prev, next)
}

func noHooks() {}

// hooksFor locks hookMu and returns a function running the hooks for the
// published snapshot and unlocking it. c.mu must be held.
func (c *Controller[B]) hooksFor(prev, next *feature.Snapshot[B]) func() {
	if len(c.hooks) == 0 {
		return noHooks
	}
	hooks := slices.Clone(c.hooks)
	c.hookMu.Lock()
	return func() {
		defer c.hookMu.Unlock()
		for _, hook := range hooks {
			hook(prev, next)
		}
	}
}
