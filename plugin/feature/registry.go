// Package feature holds validated feature instances and publishes them as
// immutable snapshots. Readers load the current snapshot without locking and
// keep observing it for as long as they hold the reference, regardless of
// snapshots published after.
package feature

import "sync/atomic"

// Registry holds the current snapshot of features. The zero Registry is not
// usable; create one with NewRegistry.
type Registry[B any] struct {
	current atomic.Pointer[Snapshot[B]]
}

// NewRegistry returns a registry holding an empty snapshot.
func NewRegistry[B any]() *Registry[B] {
	r := &Registry[B]{}
	r.current.Store(Empty[B]())
	return r
}

// Current returns the latest published snapshot. It never blocks and never
// returns nil.
func (r *Registry[B]) Current() *Snapshot[B] {
	return r.current.Load()
}

// Publish atomically replaces the current snapshot with s and returns the
// snapshot it replaced. s must be fully built: it is visible to every
// subsequent Current call as soon as Publish returns. A nil s publishes an
// empty snapshot.
func (r *Registry[B]) Publish(s *Snapshot[B]) *Snapshot[B] {
	if s == nil {
		s = Empty[B]()
	}
	return r.current.Swap(s)
}
