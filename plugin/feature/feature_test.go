package feature

import (
	"errors"
	"slices"
	"sync"
	"testing"

	"github.com/newplayerperks/npp/plugin/config"
	"github.com/newplayerperks/npp/plugin/permission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testKinds() *Kinds[string] {
	return NewKinds[string](
		KindFunc[string]{KindName: "echo", ActivateFunc: func(e config.Entry) (string, error) {
			return e.ID, nil
		}},
		KindFunc[string]{KindName: "strict", ValidateFunc: func(e config.Entry) error {
			_, err := e.Params.Int("level", 0)
			return err
		}},
		KindFunc[string]{KindName: "broken", ActivateFunc: func(config.Entry) (string, error) {
			return "", errors.New("no backend")
		}},
	)
}

func entry(id, kind string) config.Entry {
	return config.Entry{
		ID:         id,
		Kind:       kind,
		Enabled:    true,
		Permission: permission.Node("core." + id),
		Messages:   map[string]string{"hello": "<green>Hi <player_name></green>"},
		Params:     config.Params{},
	}
}

func TestBuild(t *testing.T) {
	kinds := testKinds()

	inst, err := Build(kinds, entry("a", "echo"))
	require.NoError(t, err)
	assert.Equal(t, "a", inst.ID())
	assert.Equal(t, "echo", inst.Kind())
	assert.Equal(t, "a", inst.Behaviour())
	assert.Equal(t, permission.Node("core.a"), inst.PermissionNode())
	tmpl, ok := inst.Message("hello")
	require.True(t, ok)
	assert.Equal(t, []string{"player_name"}, tmpl.Placeholders())

	_, err = Build(kinds, entry("b", "missing"))
	assert.ErrorIs(t, err, config.ErrUnknownKind)

	bad := entry("c", "strict")
	bad.Params["level"] = "high"
	_, err = Build(kinds, bad)
	assert.ErrorIs(t, err, config.ErrInvalidField)
	var cerr *config.ConfigError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "c", cerr.ID)

	_, err = Build(kinds, entry("d", "broken"))
	require.Error(t, err)
}

func TestKindsRegisterDuplicate(t *testing.T) {
	kinds := testKinds()
	err := kinds.Register(KindFunc[string]{KindName: "echo"})
	assert.ErrorIs(t, err, ErrKindRegistered)
	assert.Equal(t, []string{"broken", "echo", "strict"}, kinds.Names())
}

func TestFingerprint(t *testing.T) {
	a, b := entry("a", "echo"), entry("a", "echo")
	a.Params["list"] = []any{int64(1), "x"}
	b.Params["list"] = []any{int64(1), "x"}
	assert.Equal(t, Fingerprint(a), Fingerprint(b))

	b.Params["list"] = []any{"1", "x"}
	assert.NotEqual(t, Fingerprint(a), Fingerprint(b))

	c := entry("a", "echo")
	c.Enabled = false
	assert.NotEqual(t, Fingerprint(entry("a", "echo")), Fingerprint(c))
}

func TestSnapshotAndDiff(t *testing.T) {
	kinds := testKinds()
	build := func(entries ...config.Entry) *Snapshot[string] {
		instances := make([]*Instance[string], 0, len(entries))
		for _, e := range entries {
			inst, err := Build(kinds, e)
			require.NoError(t, err)
			instances = append(instances, inst)
		}
		return NewSnapshot(SnapshotConfig{Generation: 1}, instances)
	}
	disabled := entry("c", "echo")
	disabled.Enabled = false

	prev := build(entry("a", "echo"), entry("b", "echo"), entry("c", "echo"))
	next := build(entry("d", "echo"), entry("a", "echo"), disabled, entry("d", "echo"))

	assert.Equal(t, []string{"d", "a", "c"}, next.IDs())
	assert.Equal(t, 3, next.Len())
	var enabled []string
	for inst := range next.Enabled() {
		enabled = append(enabled, inst.ID())
	}
	assert.Equal(t, []string{"d", "a"}, enabled)

	added, removed, changed := Diff(prev, next)
	assert.Equal(t, []string{"d"}, added)
	assert.Equal(t, []string{"b"}, removed)
	assert.Equal(t, []string{"c"}, changed)
}

func TestRegistryPublish(t *testing.T) {
	r := NewRegistry[string]()
	first := r.Current()
	require.NotNil(t, first)
	assert.Zero(t, first.Len())

	s := NewSnapshot[string](SnapshotConfig{Generation: 7}, nil)
	if prev := r.Publish(s); prev != first {
		t.Fatalf("Publish() = %p, want %p", prev, first)
	}
	if r.Current() != s {
		t.Fatalf("Current() = %p, want %p", r.Current(), s)
	}
	r.Publish(nil)
	assert.NotNil(t, r.Current())
	assert.Zero(t, r.Current().Generation())
}

func TestRegistryConcurrentReadersSeeWholeSnapshots(t *testing.T) {
	kinds := testKinds()
	snapshot := func(gen uint64, ids ...string) *Snapshot[string] {
		var instances []*Instance[string]
		for _, id := range ids {
			inst, err := Build(kinds, entry(id, "echo"))
			require.NoError(t, err)
			instances = append(instances, inst)
		}
		return NewSnapshot(SnapshotConfig{Generation: gen}, instances)
	}
	old := snapshot(1, "a1", "a2", "a3")
	neu := snapshot(2, "b1", "b2", "b3", "b4")

	r := NewRegistry[string]()
	r.Publish(old)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	errs := make(chan string, 8)
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				s := r.Current()
				ids := s.IDs()
				want := old.IDs()
				if s.Generation() == 2 {
					want = neu.IDs()
				}
				if !slices.Equal(ids, want) {
					errs <- "mixed snapshot observed"
					return
				}
			}
		}()
	}
	for i := range 1000 {
		if i%2 == 0 {
			r.Publish(neu)
		} else {
			r.Publish(old)
		}
	}
	close(stop)
	wg.Wait()
	close(errs)
	for msg := range errs {
		t.Fatal(msg)
	}
}
