package perk

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/df-mc/goleveldb/leveldb/storage"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/newplayerperks/npp/plugin/config"
	"github.com/newplayerperks/npp/plugin/feature"
	"github.com/newplayerperks/npp/plugin/lifecycle"
	"github.com/newplayerperks/npp/plugin/message"
	"github.com/newplayerperks/npp/plugin/permission"
	"github.com/newplayerperks/npp/plugin/playerdata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const perksDocument = `config-version = "1.2.0.1"
period = "1h"

[permission]
on-provider-error = "deny"

[[features]]
id = "invulnerable"
enabled = true
permission = "newplayerperks.perk.invulnerable"

[[features]]
id = "fly"
enabled = true
permission = "newplayerperks.perk.fly"
nodes = ["essentials.fly"]

[[features]]
id = "keep-inventory"
enabled = true
permission = "newplayerperks.perk.keep-inventory"

[[features]]
id = "keep-exp"
enabled = false
permission = "newplayerperks.perk.keep-exp"

[[features]]
id = "void-teleport"
enabled = true
permission = "newplayerperks.perk.void-teleport"
min-y = -10
destination = [0, 100, 0]
`

type fakePlayer struct {
	id   uuid.UUID
	name string

	mu           sync.Mutex
	messages     []string
	invulnerable bool
	flight       bool
	pos          mgl64.Vec3
}

func (p *fakePlayer) UUID() uuid.UUID { return p.id }
func (p *fakePlayer) Name() string    { return p.name }

func (p *fakePlayer) Message(text message.FormattedText) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.messages = append(p.messages, text.Plain())
}

func (p *fakePlayer) SetInvulnerable(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.invulnerable = v
}

func (p *fakePlayer) SetFlightAllowed(v bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flight = v
}

func (p *fakePlayer) Teleport(pos mgl64.Vec3) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.pos = pos
}

func (p *fakePlayer) received() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.messages...)
}

func (p *fakePlayer) state() (invulnerable, flight bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.invulnerable, p.flight
}

type fakeHost struct {
	mu      sync.Mutex
	players map[uuid.UUID]*fakePlayer
}

func (h *fakeHost) join(name string) *fakePlayer {
	h.mu.Lock()
	defer h.mu.Unlock()
	p := &fakePlayer{id: uuid.New(), name: name}
	h.players[p.id] = p
	return p
}

func (h *fakeHost) leave(id uuid.UUID) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.players, id)
}

func (h *fakeHost) Player(id uuid.UUID) (Player, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	p, ok := h.players[id]
	return p, ok
}

func (h *fakeHost) Players() iter.Seq[Player] {
	return func(yield func(Player) bool) {
		h.mu.Lock()
		list := make([]Player, 0, len(h.players))
		for _, p := range h.players {
			list = append(list, p)
		}
		h.mu.Unlock()
		for _, p := range list {
			if !yield(p) {
				return
			}
		}
	}
}

// grants is an in-memory permission provider and editor. Every node is
// granted unless denied.
type grants struct {
	mu     sync.Mutex
	denied map[permission.Node]bool
	nodes  map[uuid.UUID]map[permission.Node]bool
	// checked, if set, is called before every permission check.
	checked func()
}

func (g *grants) HasPermission(_ context.Context, _ uuid.UUID, node permission.Node) (bool, error) {
	if g.checked != nil {
		g.checked()
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.denied[node], nil
}

func (g *grants) Grant(_ context.Context, actor uuid.UUID, node permission.Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.nodes[actor] == nil {
		g.nodes[actor] = map[permission.Node]bool{}
	}
	g.nodes[actor][node] = true
	return nil
}

func (g *grants) Revoke(_ context.Context, actor uuid.UUID, node permission.Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.nodes[actor], node)
	return nil
}

func (g *grants) has(actor uuid.UUID, node permission.Node) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.nodes[actor][node]
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type swapSource struct {
	doc atomic.Pointer[string]
}

func (s *swapSource) Name() string          { return "perks.toml" }
func (s *swapSource) Format() config.Format { return config.FormatTOML }
func (s *swapSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(*s.doc.Load())), nil
}

type harness struct {
	src    *swapSource
	ctrl   *lifecycle.Controller[Perk]
	svc    *Service
	host   *fakeHost
	grants *grants
	clock  *clock
	data   *playerdata.DB
}

func newHarness(t *testing.T, doc string, start bool, denied ...permission.Node) *harness {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	h := &harness{
		src:    &swapSource{},
		host:   &fakeHost{players: map[uuid.UUID]*fakePlayer{}},
		grants: &grants{denied: map[permission.Node]bool{}, nodes: map[uuid.UUID]map[permission.Node]bool{}},
		clock:  &clock{now: time.UnixMilli(1_700_000_000_000)},
	}
	h.src.doc.Store(&doc)
	for _, n := range denied {
		h.grants.denied[n] = true
	}
	db, err := playerdata.OpenStorage(storage.NewMemStorage())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	h.data = db

	h.ctrl = lifecycle.New(lifecycle.Config[Perk]{Source: h.src, Kinds: Kinds(), Provider: h.grants, Log: log})
	h.svc = NewService(ServiceConfig{
		Controller: h.ctrl,
		Host:       h.host,
		Data:       db,
		Editor:     h.grants,
		Log:        log,
		Now:        h.clock.Now,
	})
	if start {
		report, err := h.ctrl.Start(context.Background())
		require.NoError(t, err)
		require.Empty(t, report.Errors)
	}
	return h
}

func (h *harness) join(name string) *fakePlayer {
	p := h.host.join(name)
	h.svc.HandleJoin(context.Background(), p)
	return p
}

func TestJoinAppliesAuthorisedPerks(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	p := h.join("Steve")

	e := h.svc.Effects(p.id)
	assert.True(t, e.Has(EffectInvulnerable|EffectFly|EffectKeepInventory|EffectVoidTeleport))
	assert.False(t, e.Has(EffectKeepExp), "disabled features must not be applied")
	invulnerable, flight := p.state()
	assert.True(t, invulnerable)
	assert.True(t, flight)
	assert.True(t, h.grants.has(p.id, "essentials.fly"))

	msgs := p.received()
	require.Len(t, msgs, 2, "the new player message has two lines")
	for _, m := range msgs {
		assert.True(t, strings.HasPrefix(m, "NewPlayerPerks ▪ "), m)
	}
	assert.Contains(t, msgs[1], "jump start")

	keepInv, keepExp := h.svc.HandleDeath(p.id)
	assert.True(t, keepInv)
	assert.False(t, keepExp)
}

func TestJoinSkipsPerksWithoutPermission(t *testing.T) {
	h := newHarness(t, perksDocument, true, "newplayerperks.perk.fly")
	p := h.join("Alex")

	e := h.svc.Effects(p.id)
	assert.False(t, e.Has(EffectFly))
	assert.True(t, e.Has(EffectInvulnerable))
	assert.False(t, h.grants.has(p.id, "essentials.fly"))
}

func TestReturningPlayerAfterPeriodGetsNothing(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	p := h.host.join("Old")
	require.NoError(t, h.data.Save(playerdata.Record{UUID: p.id, JoinTime: h.clock.Now().Add(-2 * time.Hour)}))

	h.svc.HandleJoin(context.Background(), p)
	assert.Zero(t, h.svc.Effects(p.id))
	assert.Empty(t, p.received())
}

func TestQuitRevokesAndPersists(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	p := h.join("Steve")
	h.clock.advance(time.Minute)

	h.host.leave(p.id)
	h.svc.HandleQuit(context.Background(), p.id)

	assert.Zero(t, h.svc.Sessions())
	assert.Zero(t, h.svc.Effects(p.id))
	assert.False(t, h.grants.has(p.id, "essentials.fly"))

	r, err := h.data.Load(p.id)
	require.NoError(t, err)
	assert.Equal(t, h.clock.Now().UnixMilli(), r.LastUpdate.UnixMilli())
	assert.Equal(t, h.clock.Now().Add(-time.Minute).UnixMilli(), r.JoinTime.UnixMilli())
}

func TestHandleHurt(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	p := h.join("Steve")
	other := uuid.New()

	assert.True(t, h.svc.HandleHurt(p.id, uuid.Nil))
	assert.True(t, h.svc.HandleHurt(other, p.id), "invulnerable players cannot deal damage")
	assert.False(t, h.svc.HandleHurt(other, uuid.Nil))
}

func TestHandleMoveRescuesFromVoid(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	p := h.join("Steve")

	assert.False(t, h.svc.HandleMove(p, mgl64.Vec3{0, 5, 0}))
	assert.True(t, h.svc.HandleMove(p, mgl64.Vec3{3, -20, 3}))
	assert.Equal(t, mgl64.Vec3{0, 100, 0}, p.pos)
}

func TestSweepExpiresPerksOnce(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	p := h.join("Steve")
	before := len(p.received())

	h.clock.advance(59 * time.Minute)
	h.svc.Sweep(context.Background())
	assert.NotZero(t, h.svc.Effects(p.id))

	h.clock.advance(2 * time.Minute)
	h.svc.Sweep(context.Background())
	assert.Zero(t, h.svc.Effects(p.id))
	invulnerable, _ := p.state()
	assert.False(t, invulnerable)
	assert.Len(t, p.received(), before+2)

	h.svc.Sweep(context.Background())
	assert.Len(t, p.received(), before+2, "expiry is only announced once")
}

func TestReloadReappliesPerks(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	p := h.join("Steve")
	require.True(t, h.grants.has(p.id, "essentials.fly"))

	withoutFly := strings.Replace(perksDocument, "id = \"fly\"\nenabled = true", "id = \"fly\"\nenabled = false", 1)
	h.src.doc.Store(&withoutFly)
	_, err := h.ctrl.Reload(context.Background())
	require.NoError(t, err)

	e := h.svc.Effects(p.id)
	assert.False(t, e.Has(EffectFly))
	assert.True(t, e.Has(EffectInvulnerable))
	assert.False(t, h.grants.has(p.id, "essentials.fly"))
	_, flight := p.state()
	assert.False(t, flight)

	shorter := strings.Replace(perksDocument, `period = "1h"`, `period = "10m"`, 1)
	h.src.doc.Store(&shorter)
	h.clock.advance(15 * time.Minute)
	_, err = h.ctrl.Reload(context.Background())
	require.NoError(t, err)
	assert.Zero(t, h.svc.Effects(p.id), "a shorter period expires perks on reload")
}

func TestStopRevokesEverything(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	p := h.join("Steve")

	require.NoError(t, h.ctrl.Stop())
	assert.Zero(t, h.svc.Effects(p.id))
	assert.False(t, h.grants.has(p.id, "essentials.fly"))
}

func TestEnableDisable(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	p := h.join("Steve")
	ctx := context.Background()

	assert.Equal(t, ResultSuccess, h.svc.Disable(ctx, p.id))
	assert.Zero(t, h.svc.Effects(p.id))
	assert.Contains(t, strings.Join(p.received(), "\n"), "Your perks have been disabled.")

	assert.Equal(t, ResultSuccess, h.svc.Enable(ctx, p.id))
	assert.True(t, h.svc.Effects(p.id).Has(EffectInvulnerable))

	assert.Equal(t, ResultOffline, h.svc.Enable(ctx, uuid.New()))

	h.clock.advance(2 * time.Hour)
	assert.Equal(t, ResultExpired, h.svc.Disable(ctx, p.id))
}

func TestAddRemove(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	p := h.join("Steve")
	ctx := context.Background()

	assert.Equal(t, ResultNoPlayerData, h.svc.Remove(ctx, uuid.New()))

	assert.Equal(t, ResultSuccess, h.svc.Remove(ctx, p.id))
	assert.Zero(t, h.svc.Effects(p.id))
	assert.Contains(t, strings.Join(p.received(), "\n"), "Your perks have been removed.")
	assert.Equal(t, ResultExpired, h.svc.Enable(ctx, p.id))

	h.clock.advance(3 * time.Hour)
	assert.Equal(t, ResultSuccess, h.svc.Add(ctx, p.id))
	assert.True(t, h.svc.Effects(p.id).Has(EffectInvulnerable))
	r, err := h.data.Load(p.id)
	require.NoError(t, err)
	assert.True(t, r.Active(h.clock.Now(), time.Hour))

	offline := uuid.New()
	assert.Equal(t, ResultSuccess, h.svc.Add(ctx, offline))
	_, err = h.data.Load(offline)
	assert.NoError(t, err)
}

func TestOperationsBeforeStart(t *testing.T) {
	h := newHarness(t, perksDocument, false)
	p := h.join("Early")
	ctx := context.Background()

	assert.Zero(t, h.svc.Effects(p.id))
	assert.Equal(t, ResultSettingsError, h.svc.Add(ctx, p.id))
	assert.Equal(t, ResultSettingsError, h.svc.Enable(ctx, p.id))

	_, err := h.ctrl.Start(ctx)
	require.NoError(t, err)
	assert.True(t, h.svc.Effects(p.id).Has(EffectInvulnerable), "perks are applied once features are loaded")
}

func TestPerkMessageOverride(t *testing.T) {
	doc := strings.Replace(perksDocument, "period = \"1h\"\n", "period = \"1h\"\n\n[messages]\nprefix = \"\"\nnew-player = \"<green>Hi <player_name></green>\"\n", 1)
	h := newHarness(t, doc, true)
	p := h.join("Steve")
	assert.Equal(t, []string{"Hi Steve"}, p.received())
}

func TestVoidTeleportValidation(t *testing.T) {
	kinds := Kinds()
	tests := map[string]config.Params{
		"short destination": {"destination": []any{int64(1), int64(2)}},
		"destination below": {"destination": []any{int64(0), int64(-100), int64(0)}},
		"bad min-y":         {"min-y": "low"},
		"bad nodes":         {"nodes": []any{"has space"}},
	}
	for name, params := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := feature.Build(kinds, config.Entry{
				ID:         "void-teleport",
				Kind:       KindVoidTeleport,
				Enabled:    true,
				Permission: "a.b",
				Params:     params,
			})
			var cerr *config.ConfigError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, "void-teleport", cerr.ID)
		})
	}

	inst, err := feature.Build(kinds, config.Entry{ID: "v", Kind: KindVoidTeleport, Enabled: true, Permission: "a.b", Params: config.Params{}})
	require.NoError(t, err)
	_, ok := inst.Behaviour().(Rescuer)
	assert.True(t, ok)
	assert.False(t, inst.Behaviour().(Rescuer).Rescue(&fakePlayer{}, mgl64.Vec3{0, -1000, 0}), "no destination configured")
}

func TestResultString(t *testing.T) {
	assert.Equal(t, "success", ResultSuccess.String())
	assert.Equal(t, "offline", ResultOffline.String())
}

func TestJoinDuringReloadKeepsNewestSnapshot(t *testing.T) {
	disabled := strings.ReplaceAll(perksDocument, "enabled = true", "enabled = false")
	tests := map[string]func(h *harness, reload func()){
		"reload before the session is stored": func(h *harness, reload func()) {
			h.svc.conf.Now = func() time.Time {
				reload()
				return h.clock.Now()
			}
		},
		"reload while perks are authorised": func(h *harness, reload func()) {
			h.grants.checked = reload
		},
	}
	for name, hook := range tests {
		t.Run(name, func(t *testing.T) {
			h := newHarness(t, perksDocument, true)
			var fired atomic.Bool
			hook(h, func() {
				if !fired.CompareAndSwap(false, true) {
					return
				}
				h.src.doc.Store(&disabled)
				_, err := h.ctrl.Reload(context.Background())
				assert.NoError(t, err)
			})
			p := h.join("Steve")

			require.True(t, fired.Load())
			inst, ok := h.ctrl.Snapshot().Lookup("invulnerable")
			require.True(t, ok)
			require.False(t, inst.Enabled())
			assert.Zero(t, h.svc.Effects(p.id))
			invulnerable, flight := p.state()
			assert.False(t, invulnerable)
			assert.False(t, flight)
			assert.False(t, h.grants.has(p.id, "essentials.fly"))
		})
	}
}

func TestExpiredJoinsRaceWithSweep(t *testing.T) {
	h := newHarness(t, perksDocument, true)
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for ctx.Err() == nil {
			h.svc.Sweep(ctx)
		}
	}()

	players := make([]*fakePlayer, 0, 200)
	for range 200 {
		p := h.host.join("Old")
		require.NoError(t, h.data.Save(playerdata.Record{UUID: p.id, JoinTime: h.clock.Now().Add(-2 * time.Hour)}))
		h.svc.HandleJoin(context.Background(), p)
		players = append(players, p)
	}
	cancel()
	wg.Wait()

	for _, p := range players {
		assert.Zero(t, h.svc.Effects(p.id))
		assert.Empty(t, p.received(), "expired players are not told their perks expired")
	}
}
