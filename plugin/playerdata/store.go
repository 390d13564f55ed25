// Package playerdata persists the first join time of every player in a
// LevelDB database.
package playerdata

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/storage"
	"github.com/df-mc/goleveldb/leveldb/util"
	"github.com/google/uuid"
)

// ErrNotFound is returned when no record is stored for a player.
var ErrNotFound = errors.New("player data not found")

// Record is the persisted data of a single player.
type Record struct {
	UUID uuid.UUID
	// JoinTime is the time the player first joined, or the time perks were last
	// added to the player by an administrator.
	JoinTime   time.Time
	LastUpdate time.Time
}

// Expiry returns the time perks lasting for period expire.
func (r Record) Expiry(period time.Duration) time.Time {
	return r.JoinTime.Add(period)
}

// Active reports if perks lasting for period are still active at now.
func (r Record) Active(now time.Time, period time.Duration) bool {
	return now.Before(r.Expiry(period))
}

const (
	recordVersion = 1
	recordSize    = 1 + 8 + 8
)

var keyPrefix = []byte("player:")

// DB is a player data store. It is safe for concurrent use.
type DB struct {
	ldb *leveldb.DB
}

// Open opens or creates the database in dir.
func Open(dir string) (*DB, error) {
	ldb, err := leveldb.OpenFile(dir, nil)
	if err != nil {
		return nil, fmt.Errorf("open player data %s: %w", dir, err)
	}
	return &DB{ldb: ldb}, nil
}

// OpenStorage opens a database on an arbitrary storage, such as
// storage.NewMemStorage().
func OpenStorage(s storage.Storage) (*DB, error) {
	ldb, err := leveldb.Open(s, nil)
	if err != nil {
		return nil, fmt.Errorf("open player data: %w", err)
	}
	return &DB{ldb: ldb}, nil
}

// Load returns the record of the player with the given id. ErrNotFound is
// returned if the player never joined.
func (db *DB) Load(id uuid.UUID) (Record, error) {
	data, err := db.ldb.Get(key(id), nil)
	if errors.Is(err, leveldb.ErrNotFound) {
		return Record{}, ErrNotFound
	} else if err != nil {
		return Record{}, fmt.Errorf("load player data %s: %w", id, err)
	}
	r, err := decode(id, data)
	if err != nil {
		return Record{}, fmt.Errorf("load player data %s: %w", id, err)
	}
	return r, nil
}

// LoadOrCreate returns the record of the player, creating one that joined at
// now if none exists. created is true if a record was created.
func (db *DB) LoadOrCreate(id uuid.UUID, now time.Time) (r Record, created bool, err error) {
	r, err = db.Load(id)
	if err == nil {
		return r, false, nil
	} else if !errors.Is(err, ErrNotFound) {
		return Record{}, false, err
	}
	r = Record{UUID: id, JoinTime: now, LastUpdate: now}
	if err := db.Save(r); err != nil {
		return Record{}, false, err
	}
	return r, true, nil
}

// Save stores r, replacing any previous record of the same player.
func (db *DB) Save(r Record) error {
	if err := db.ldb.Put(key(r.UUID), encode(r), nil); err != nil {
		return fmt.Errorf("save player data %s: %w", r.UUID, err)
	}
	return nil
}

// Each calls f for every stored record until f returns false.
func (db *DB) Each(f func(Record) bool) error {
	it := db.ldb.NewIterator(util.BytesPrefix(keyPrefix), nil)
	defer it.Release()
	for it.Next() {
		id, err := uuid.FromBytes(it.Key()[len(keyPrefix):])
		if err != nil {
			continue
		}
		r, err := decode(id, it.Value())
		if err != nil {
			continue
		}
		if !f(r) {
			break
		}
	}
	return it.Error()
}

// Close closes the database.
func (db *DB) Close() error {
	return db.ldb.Close()
}

func key(id uuid.UUID) []byte {
	return append(append(make([]byte, 0, len(keyPrefix)+16), keyPrefix...), id[:]...)
}

func encode(r Record) []byte {
	b := make([]byte, recordSize)
	b[0] = recordVersion
	binary.LittleEndian.PutUint64(b[1:], uint64(r.JoinTime.UnixMilli()))
	binary.LittleEndian.PutUint64(b[9:], uint64(r.LastUpdate.UnixMilli()))
	return b
}

func decode(id uuid.UUID, b []byte) (Record, error) {
	if len(b) != recordSize || b[0] != recordVersion {
		return Record{}, fmt.Errorf("malformed record of %d bytes", len(b))
	}
	return Record{
		UUID:       id,
		JoinTime:   time.UnixMilli(int64(binary.LittleEndian.Uint64(b[1:]))),
		LastUpdate: time.UnixMilli(int64(binary.LittleEndian.Uint64(b[9:]))),
	}, nil
}
