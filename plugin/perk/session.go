package perk

import (
	"sync"

	"github.com/google/uuid"
	"github.com/newplayerperks/npp/plugin/feature"
	"github.com/newplayerperks/npp/plugin/playerdata"
	"github.com/segmentio/fasthash/fnv1a"
)

// session holds the perk state of an online player.
type session struct {
	id uuid.UUID

	mu     sync.Mutex
	record playerdata.Record
	// applied holds the instances applied to the player, in order of
	// application. They are revoked through the same instances, even after the
	// snapshot they came from was replaced.
	applied []*feature.Instance[Perk]
	effects Effects
	// disabled is set when the player turned their perks off.
	disabled bool
	// expired is set once the expiry of the perks was handled.
	expired bool
	// generation is the generation of the newest snapshot the session was
	// updated for. Older snapshots are never applied over it.
	generation uint64
}

func (s *session) effectsNow() Effects {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.effects
}

const sessionShards = 16

// sessionTable is a sharded map of sessions by player id.
type sessionTable struct {
	shards [sessionShards]struct {
		mu sync.RWMutex
		m  map[uuid.UUID]*session
	}
}

func newSessionTable() *sessionTable {
	t := &sessionTable{}
	for i := range t.shards {
		t.shards[i].m = make(map[uuid.UUID]*session)
	}
	return t
}

func (t *sessionTable) shard(id uuid.UUID) int {
	return int(fnv1a.HashBytes64(id[:]) % sessionShards)
}

func (t *sessionTable) get(id uuid.UUID) (*session, bool) {
	sh := &t.shards[t.shard(id)]
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	s, ok := sh.m[id]
	return s, ok
}

// put stores s, returning the session it replaced, if any.
func (t *sessionTable) put(s *session) (*session, bool) {
	sh := &t.shards[t.shard(s.id)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	prev, ok := sh.m[s.id]
	sh.m[s.id] = s
	return prev, ok
}

func (t *sessionTable) remove(id uuid.UUID) (*session, bool) {
	sh := &t.shards[t.shard(id)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	s, ok := sh.m[id]
	delete(sh.m, id)
	return s, ok
}

// all returns every session. The shards are not locked while the caller
// works with the result.
func (t *sessionTable) all() []*session {
	var out []*session
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.RLock()
		for _, s := range sh.m {
			out = append(out, s)
		}
		sh.mu.RUnlock()
	}
	return out
}

func (t *sessionTable) len() int {
	n := 0
	for i := range t.shards {
		sh := &t.shards[i]
		sh.mu.RLock()
		n += len(sh.m)
		sh.mu.RUnlock()
	}
	return n
}
