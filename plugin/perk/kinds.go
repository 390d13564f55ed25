// Package perk implements the perks granted to new players: the feature
// kinds that can be declared in a feature document and the Service that
// applies them to players for a period after their first join.
package perk

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/newplayerperks/npp/plugin/config"
	"github.com/newplayerperks/npp/plugin/feature"
	"github.com/newplayerperks/npp/plugin/permission"
)

// Effects is a set of passive effects of perks, checked when players are
// hurt, die or move.
type Effects uint8

const (
	EffectInvulnerable Effects = 1 << iota
	EffectKeepInventory
	EffectKeepExp
	EffectFly
	EffectVoidTeleport
)

// Has reports if e holds every effect of o.
func (e Effects) Has(o Effects) bool { return e&o == o }

// Env holds the collaborators perks need to apply themselves.
type Env struct {
	// Editor grants and revokes permission nodes. It may be nil, in which case
	// perks granting nodes only change player state.
	Editor permission.Editor
}

// Perk is the behaviour of a perk feature.
type Perk interface {
	Effects() Effects
	// Apply grants the perk to p.
	Apply(ctx context.Context, env Env, p Player) error
	// Revoke takes the perk away from p. p may be offline, in which case it
	// implements none of the optional player interfaces.
	Revoke(ctx context.Context, env Env, p Player) error
}

// Rescuer is implemented by perks that react to players moving.
type Rescuer interface {
	// Rescue moves p if it is at pos and in danger, reporting if it did.
	Rescue(p Player, pos mgl64.Vec3) bool
}

const (
	KindInvulnerable  = "invulnerable"
	KindFly           = "fly"
	KindKeepInventory = "keep-inventory"
	KindKeepExp       = "keep-exp"
	KindVoidTeleport  = "void-teleport"
)

// Kinds returns the feature kinds of every perk.
func Kinds() *feature.Kinds[Perk] {
	return feature.NewKinds[Perk](
		feature.KindFunc[Perk]{KindName: KindInvulnerable, ActivateFunc: func(config.Entry) (Perk, error) {
			return invulnerable{}, nil
		}},
		nodeKind(KindFly, []string{"essentials.fly", "bskyblock.island.fly"}),
		feature.KindFunc[Perk]{KindName: KindKeepInventory, ActivateFunc: func(config.Entry) (Perk, error) {
			return passive(EffectKeepInventory), nil
		}},
		feature.KindFunc[Perk]{KindName: KindKeepExp, ActivateFunc: func(config.Entry) (Perk, error) {
			return passive(EffectKeepExp), nil
		}},
		voidTeleportKind{},
	)
}

// passive is a perk without state of its own, only checked through its
// effects.
type passive Effects

func (p passive) Effects() Effects                        { return Effects(p) }
func (passive) Apply(context.Context, Env, Player) error  { return nil }
func (passive) Revoke(context.Context, Env, Player) error { return nil }

type invulnerable struct{}

func (invulnerable) Effects() Effects { return EffectInvulnerable }

func (invulnerable) Apply(_ context.Context, _ Env, p Player) error {
	if i, ok := p.(Invulnerable); ok {
		i.SetInvulnerable(true)
	}
	return nil
}

func (invulnerable) Revoke(_ context.Context, _ Env, p Player) error {
	if i, ok := p.(Invulnerable); ok {
		i.SetInvulnerable(false)
	}
	return nil
}

// nodes grants a list of permission nodes while the perk is active.
type nodes struct {
	effects Effects
	nodes   []permission.Node
}

func parseNodeParams(e config.Entry, def []string) ([]permission.Node, error) {
	raw, err := e.Params.Strings("nodes", def)
	if err != nil {
		return nil, err
	}
	out := make([]permission.Node, 0, len(raw))
	for _, s := range raw {
		n, err := permission.ParseNode(s)
		if err != nil {
			return nil, fmt.Errorf("%w: params.nodes: %v", config.ErrInvalidField, err)
		}
		out = append(out, n)
	}
	return out, nil
}

func nodeKind(name string, def []string) feature.Kind[Perk] {
	return feature.KindFunc[Perk]{
		KindName: name,
		ValidateFunc: func(e config.Entry) error {
			_, err := parseNodeParams(e, def)
			return err
		},
		ActivateFunc: func(e config.Entry) (Perk, error) {
			n, err := parseNodeParams(e, def)
			if err != nil {
				return nil, err
			}
			return nodes{effects: EffectFly, nodes: n}, nil
		},
	}
}

func (n nodes) Effects() Effects { return n.effects }

func (n nodes) Apply(ctx context.Context, env Env, p Player) error {
	var errs []error
	if env.Editor != nil {
		for _, node := range n.nodes {
			if err := env.Editor.Grant(ctx, p.UUID(), node); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if f, ok := p.(Flyer); ok && n.effects.Has(EffectFly) {
		f.SetFlightAllowed(true)
	}
	return errors.Join(errs...)
}

func (n nodes) Revoke(ctx context.Context, env Env, p Player) error {
	var errs []error
	if env.Editor != nil {
		for _, node := range n.nodes {
			if err := env.Editor.Revoke(ctx, p.UUID(), node); err != nil {
				errs = append(errs, err)
			}
		}
	}
	if f, ok := p.(Flyer); ok && n.effects.Has(EffectFly) {
		f.SetFlightAllowed(false)
	}
	return errors.Join(errs...)
}

// voidTeleport grants the void teleport nodes and, if a destination is
// configured, moves players that fall below min-y to it.
type voidTeleport struct {
	nodes
	minY        float64
	destination mgl64.Vec3
	rescue      bool
}

type voidTeleportKind struct{}

func (voidTeleportKind) Name() string { return KindVoidTeleport }

func (k voidTeleportKind) Validate(e config.Entry) error {
	_, err := k.Activate(e)
	return err
}

func (voidTeleportKind) Activate(e config.Entry) (Perk, error) {
	n, err := parseNodeParams(e, []string{"bskyblock.voidteleport"})
	if err != nil {
		return nil, err
	}
	v := voidTeleport{nodes: nodes{effects: EffectVoidTeleport, nodes: n}}
	if v.minY, err = e.Params.Float("min-y", -64); err != nil {
		return nil, err
	}
	if e.Params.Has("destination") {
		dest, err := e.Params.Floats("destination", nil)
		if err != nil {
			return nil, err
		}
		if len(dest) != 3 {
			return nil, fmt.Errorf("%w: params.destination: expected [x, y, z], got %d values", config.ErrInvalidField, len(dest))
		}
		v.destination, v.rescue = mgl64.Vec3{dest[0], dest[1], dest[2]}, true
		if v.destination.Y() < v.minY {
			return nil, fmt.Errorf("%w: params.destination: y %v is below min-y %v", config.ErrInvalidField, v.destination.Y(), v.minY)
		}
	}
	return v, nil
}

// Rescue ...
func (v voidTeleport) Rescue(p Player, pos mgl64.Vec3) bool {
	if !v.rescue || pos.Y() >= v.minY {
		return false
	}
	t, ok := p.(Teleporter)
	if !ok {
		return false
	}
	t.Teleport(v.destination)
	return true
}
