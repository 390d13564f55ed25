package permission

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/newplayerperks/npp/plugin/metrics"
)

// ErrNoPolicy is returned by NewGate when no provider error policy was set.
var ErrNoPolicy = errors.New("permission gate requires an explicit provider error policy")

// Provider is an external authorisation backend. Implementations may block
// and may fail at any time; the Gate resolves failures using its Policy.
type Provider interface {
	// HasPermission reports if the actor holds node.
	HasPermission(ctx context.Context, actor uuid.UUID, node Node) (bool, error)
}

// Editor is implemented by providers that can change the nodes held by an
// actor.
type Editor interface {
	Grant(ctx context.Context, actor uuid.UUID, node Node) error
	Revoke(ctx context.Context, actor uuid.UUID, node Node) error
}

// Target is anything guarded by a permission node, such as a feature
// instance.
type Target interface {
	PermissionNode() Node
}

// Policy decides the outcome of an authorisation check when the Provider
// returns an error or times out.
type Policy uint8

const (
	policyUnset Policy = iota
	// PolicyDeny fails closed: provider errors deny the action.
	PolicyDeny
	// PolicyAllow fails open: provider errors allow the action.
	PolicyAllow
)

// ParsePolicy parses "deny" or "allow".
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "deny":
		return PolicyDeny, nil
	case "allow":
		return PolicyAllow, nil
	}
	return policyUnset, fmt.Errorf("unknown provider error policy %q (want deny or allow)", s)
}

// String ...
func (p Policy) String() string {
	switch p {
	case PolicyDeny:
		return "deny"
	case PolicyAllow:
		return "allow"
	}
	return "unset"
}

// ProviderError wraps a failure of the Provider for a single query.
type ProviderError struct {
	Actor uuid.UUID
	Node  Node
	Err   error
}

// Error ...
func (e *ProviderError) Error() string {
	return fmt.Sprintf("permission provider: check %s for %s: %v", e.Node, e.Actor, e.Err)
}

// Unwrap ...
func (e *ProviderError) Unwrap() error {
	return e.Err
}

// GateConfig holds the settings used to construct a Gate.
type GateConfig struct {
	// Provider answers permission queries. A nil Provider makes every query
	// fail, so the Policy alone decides.
	Provider Provider
	// Policy is applied when the Provider fails. It must be set explicitly.
	Policy Policy
	// Timeout bounds a single provider call. Zero means no timeout beyond the
	// caller's context.
	Timeout time.Duration
	// Log receives provider failures. If nil, slog.Default() is used.
	Log *slog.Logger
	// Metrics records authorisation outcomes. It may be nil.
	Metrics *metrics.Metrics
}

// Gate decides whether an actor may invoke an action on a Target by asking
// the Provider for the target's node. Results are never cached: the provider
// is authoritative and may change between calls.
type Gate struct {
	conf GateConfig
	log  *slog.Logger
}

// NewGate creates a Gate from conf.
func NewGate(conf GateConfig) (*Gate, error) {
	if conf.Policy != PolicyDeny && conf.Policy != PolicyAllow {
		return nil, ErrNoPolicy
	}
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	return &Gate{conf: conf, log: conf.Log.With("subsystem", "permission")}, nil
}

// Policy returns the provider error policy of the gate.
func (g *Gate) Policy() Policy {
	return g.conf.Policy
}

// Timeout returns the per-call provider timeout.
func (g *Gate) Timeout() time.Duration {
	return g.conf.Timeout
}

// Authorize reports if actor may perform action on target. Provider errors
// are logged and resolved by the gate's Policy.
func (g *Gate) Authorize(ctx context.Context, actor uuid.UUID, target Target, action string) bool {
	if target == nil {
		return false
	}
	allowed, err := g.Check(ctx, actor, target.PermissionNode().For(action))
	if err != nil {
		g.log.Warn("Permission provider failed.", "actor", actor, "error", err, "policy", g.conf.Policy)
	}
	return allowed
}

// Check queries the provider for node. If the provider fails, the returned
// decision follows the Policy and the *ProviderError is returned alongside it.
func (g *Gate) Check(ctx context.Context, actor uuid.UUID, node Node) (bool, error) {
	if node == "" {
		g.conf.Metrics.ObserveAuthorize("denied")
		return false, nil
	}
	allowed, err := g.query(ctx, actor, node)
	if err != nil {
		g.conf.Metrics.IncrementProviderErrors()
		allowed = g.conf.Policy == PolicyAllow
		err = &ProviderError{Actor: actor, Node: node, Err: err}
	}
	if allowed {
		g.conf.Metrics.ObserveAuthorize("allowed")
	} else {
		g.conf.Metrics.ObserveAuthorize("denied")
	}
	return allowed, err
}

func (g *Gate) query(ctx context.Context, actor uuid.UUID, node Node) (allowed bool, err error) {
	if g.conf.Provider == nil {
		return false, errors.New("no provider configured")
	}
	if g.conf.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.conf.Timeout)
		defer cancel()
	}
	defer func() {
		if r := recover(); r != nil {
			allowed, err = false, fmt.Errorf("provider panic: %v", r)
		}
	}()
	allowed, err = g.conf.Provider.HasPermission(ctx, actor, node)
	if err == nil && ctx.Err() != nil {
		// The provider ignored cancellation and returned late.
		return false, ctx.Err()
	}
	return allowed, err
}
