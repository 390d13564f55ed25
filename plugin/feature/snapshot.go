package feature

import (
	"iter"
	"slices"
	"time"

	"github.com/newplayerperks/npp/plugin/message"
	"github.com/newplayerperks/npp/plugin/permission"
	"golang.org/x/text/language"
)

// SnapshotConfig holds the document-wide state published with a snapshot.
type SnapshotConfig struct {
	Generation uint64
	// Source is the name of the configuration source.
	Source string
	Period time.Duration
	Locale language.Tag
	// Messages holds the document-wide templates by key.
	Messages map[string]message.Template
	// Gate authorises actions on the features of the snapshot. It is published
	// with the features so that a reload changing the provider error policy
	// takes effect atomically with them.
	Gate *permission.Gate
}

// Snapshot is an immutable view of every active feature at one instant. It
// is replaced wholesale on reload and never mutated after construction.
type Snapshot[B any] struct {
	conf  SnapshotConfig
	order []string
	byID  map[string]*Instance[B]
}

// NewSnapshot returns a snapshot holding instances in the order given.
// Instances with a duplicate id after the first are ignored.
func NewSnapshot[B any](conf SnapshotConfig, instances []*Instance[B]) *Snapshot[B] {
	s := &Snapshot[B]{
		conf:  conf,
		order: make([]string, 0, len(instances)),
		byID:  make(map[string]*Instance[B], len(instances)),
	}
	if conf.Messages == nil {
		s.conf.Messages = map[string]message.Template{}
	}
	for _, inst := range instances {
		if _, ok := s.byID[inst.id]; ok {
			continue
		}
		s.order = append(s.order, inst.id)
		s.byID[inst.id] = inst
	}
	return s
}

// Empty returns a snapshot with no features.
func Empty[B any]() *Snapshot[B] {
	return NewSnapshot[B](SnapshotConfig{Locale: language.AmericanEnglish}, nil)
}

// Generation increases with every snapshot published by a controller. It is
// 0 for empty snapshots published before the first load.
func (s *Snapshot[B]) Generation() uint64 { return s.conf.Generation }

// Source ...
func (s *Snapshot[B]) Source() string { return s.conf.Source }

// Period ...
func (s *Snapshot[B]) Period() time.Duration { return s.conf.Period }

// Locale ...
func (s *Snapshot[B]) Locale() language.Tag { return s.conf.Locale }

// Gate returns the permission gate of the snapshot. It is nil for snapshots
// built without one, which authorise nothing.
func (s *Snapshot[B]) Gate() *permission.Gate { return s.conf.Gate }

// Message returns the document-wide template configured for key.
func (s *Snapshot[B]) Message(key string) (message.Template, bool) {
	t, ok := s.conf.Messages[key]
	return t, ok
}

// Lookup returns the feature with the given id.
func (s *Snapshot[B]) Lookup(id string) (*Instance[B], bool) {
	inst, ok := s.byID[id]
	return inst, ok
}

// Len returns the number of features in the snapshot.
func (s *Snapshot[B]) Len() int { return len(s.order) }

// IDs returns the ids of every feature in declaration order.
func (s *Snapshot[B]) IDs() []string { return slices.Clone(s.order) }

// All iterates over every feature in declaration order.
func (s *Snapshot[B]) All() iter.Seq[*Instance[B]] {
	return func(yield func(*Instance[B]) bool) {
		for _, id := range s.order {
			if !yield(s.byID[id]) {
				return
			}
		}
	}
}

// Enabled iterates over every enabled feature in declaration order.
func (s *Snapshot[B]) Enabled() iter.Seq[*Instance[B]] {
	return func(yield func(*Instance[B]) bool) {
		for inst := range s.All() {
			if inst.enabled && !yield(inst) {
				return
			}
		}
	}
}

// Diff compares the features of prev and next. Changed holds ids present in
// both whose settings differ.
func Diff[B any](prev, next *Snapshot[B]) (added, removed, changed []string) {
	for _, id := range next.order {
		old, ok := prev.byID[id]
		switch {
		case !ok:
			added = append(added, id)
		case old.fingerprint != next.byID[id].fingerprint:
			changed = append(changed, id)
		}
	}
	for _, id := range prev.order {
		if _, ok := next.byID[id]; !ok {
			removed = append(removed, id)
		}
	}
	return added, removed, changed
}
