package feature

import (
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/newplayerperks/npp/plugin/config"
)

// ErrKindRegistered is returned when registering a kind whose name is taken.
var ErrKindRegistered = errors.New("feature kind already registered")

// Kind builds the behaviour of one type of feature from its configuration
// entry. B is the behaviour type shared by every kind of a registry.
type Kind[B any] interface {
	// Name is the identifier entries use to select the kind.
	Name() string
	// Validate checks the kind specific settings of e. A non-nil error rejects
	// the entry.
	Validate(e config.Entry) error
	// Activate returns the behaviour for a validated entry.
	Activate(e config.Entry) (B, error)
}

// Kinds is a set of registered feature kinds. It is safe for concurrent use.
type Kinds[B any] struct {
	mu    sync.RWMutex
	kinds map[string]Kind[B]
}

// NewKinds returns a set holding kinds. It panics if two kinds share a name.
func NewKinds[B any](kinds ...Kind[B]) *Kinds[B] {
	k := &Kinds[B]{kinds: make(map[string]Kind[B], len(kinds))}
	for _, kind := range kinds {
		if err := k.Register(kind); err != nil {
			panic(err)
		}
	}
	return k
}

// Register adds kind to the set.
func (k *Kinds[B]) Register(kind Kind[B]) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	if _, ok := k.kinds[kind.Name()]; ok {
		return fmt.Errorf("%w: %s", ErrKindRegistered, kind.Name())
	}
	k.kinds[kind.Name()] = kind
	return nil
}

// Lookup returns the kind registered under name.
func (k *Kinds[B]) Lookup(name string) (Kind[B], bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	kind, ok := k.kinds[name]
	return kind, ok
}

// Names returns the sorted names of every registered kind.
func (k *Kinds[B]) Names() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	names := make([]string, 0, len(k.kinds))
	for name := range k.kinds {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// KindFunc adapts a pair of functions to a Kind.
type KindFunc[B any] struct {
	KindName     string
	ValidateFunc func(e config.Entry) error
	ActivateFunc func(e config.Entry) (B, error)
}

// Name ...
func (f KindFunc[B]) Name() string { return f.KindName }

// Validate ...
func (f KindFunc[B]) Validate(e config.Entry) error {
	if f.ValidateFunc == nil {
		return nil
	}
	return f.ValidateFunc(e)
}

// Activate ...
func (f KindFunc[B]) Activate(e config.Entry) (B, error) {
	if f.ActivateFunc == nil {
		var zero B
		return zero, nil
	}
	return f.ActivateFunc(e)
}
