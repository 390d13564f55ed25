package perk

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"github.com/newplayerperks/npp/plugin/feature"
	"github.com/newplayerperks/npp/plugin/lifecycle"
	"github.com/newplayerperks/npp/plugin/message"
	"github.com/newplayerperks/npp/plugin/metrics"
	"github.com/newplayerperks/npp/plugin/permission"
	"github.com/newplayerperks/npp/plugin/playerdata"
)

// Result is the outcome of an administrative perk operation.
type Result uint8

const (
	ResultSuccess Result = iota
	// ResultExpired is returned when the perks of the player already expired.
	ResultExpired
	// ResultNoPlayerData is returned for players that never joined.
	ResultNoPlayerData
	// ResultSettingsError is returned when no feature configuration is loaded.
	ResultSettingsError
	// ResultOffline is returned for operations that need the player online.
	ResultOffline
)

// String ...
func (r Result) String() string {
	switch r {
	case ResultSuccess:
		return "success"
	case ResultExpired:
		return "expired"
	case ResultNoPlayerData:
		return "no player data"
	case ResultSettingsError:
		return "settings error"
	case ResultOffline:
		return "offline"
	}
	return "unknown"
}

// SweepInterval is the interval at which Run checks for expired perks.
const SweepInterval = time.Second

// ServiceConfig holds the collaborators of a Service.
type ServiceConfig struct {
	Controller *lifecycle.Controller[Perk]
	Host       Host
	Data       *playerdata.DB
	// Editor grants and revokes the permission nodes of perks. It may be nil.
	Editor   permission.Editor
	Renderer message.Renderer
	// Log is used for perk events. If nil, slog.Default() is used.
	Log     *slog.Logger
	Metrics *metrics.Metrics
	// Now returns the current time. If nil, time.Now is used.
	Now func() time.Time
}

// Service applies perks to new players while their period lasts. Handlers
// are safe for concurrent use and are called by the host on player events.
type Service struct {
	conf     ServiceConfig
	log      *slog.Logger
	sessions *sessionTable
}

// NewService creates a Service and registers it with the controller, so that
// perks are re-applied whenever a new snapshot is published.
func NewService(conf ServiceConfig) *Service {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Now == nil {
		conf.Now = time.Now
	}
	s := &Service{conf: conf, log: conf.Log.With("subsystem", "perks"), sessions: newSessionTable()}
	conf.Controller.OnPublish(s.republish)
	return s
}

// Sessions returns the number of online players tracked.
func (s *Service) Sessions() int {
	return s.sessions.len()
}

// Records counts the stored player records and those still within the perks
// period of the current snapshot.
func (s *Service) Records() (total, active int, err error) {
	now, period := s.conf.Now(), s.conf.Controller.Snapshot().Period()
	err = s.conf.Data.Each(func(r playerdata.Record) bool {
		total++
		if r.Active(now, period) {
			active++
		}
		return true
	})
	return total, active, err
}

// Effects returns the effects active for the player with the given id.
func (s *Service) Effects(id uuid.UUID) Effects {
	sess, ok := s.sessions.get(id)
	if !ok {
		return 0
	}
	return sess.effectsNow()
}

// HandleJoin loads or creates the record of p and applies every authorised
// perk if the period since its first join has not passed yet. New players
// receive the new player message.
func (s *Service) HandleJoin(ctx context.Context, p Player) {
	now := s.conf.Now()
	record, created, err := s.conf.Data.LoadOrCreate(p.UUID(), now)
	if err != nil {
		s.log.Error("Load player data.", "error", err, "player", p.Name())
		return
	}
	sess := &session{id: p.UUID(), record: record}
	if prev, ok := s.sessions.put(sess); ok {
		s.revoke(ctx, prev, p)
	}
	// The snapshot is read once the session is visible: a snapshot published
	// later is applied to it by republish.
	snap := s.conf.Controller.Snapshot()
	active := record.Active(now, snap.Period())
	sess.mu.Lock()
	if snap.Generation() >= sess.generation {
		sess.expired = !active
	}
	sess.mu.Unlock()
	if !active {
		return
	}
	s.apply(ctx, snap, sess, p)
	if created {
		s.send(snap, p, MessageNewPlayer, record, now)
		s.log.Info("New player joined.", "player", p.Name(), "expires", record.Expiry(snap.Period()))
	}
}

// HandleQuit revokes the perks of the player with the given id and forgets
// its session.
func (s *Service) HandleQuit(ctx context.Context, id uuid.UUID) {
	sess, ok := s.sessions.remove(id)
	if !ok {
		return
	}
	var p Player = offlinePlayer(id)
	if online, ok := s.conf.Host.Player(id); ok {
		p = online
	}
	s.revoke(ctx, sess, p)

	sess.mu.Lock()
	record := sess.record
	sess.mu.Unlock()
	record.LastUpdate = s.conf.Now()
	if err := s.conf.Data.Save(record); err != nil {
		s.log.Error("Save player data.", "error", err, "player", id)
	}
}

// HandleHurt reports if damage dealt to victim should be cancelled. attacker
// is uuid.Nil if the damage was not dealt by a player. Damage is cancelled if
// either player is invulnerable through a perk.
func (s *Service) HandleHurt(victim, attacker uuid.UUID) bool {
	if s.Effects(victim).Has(EffectInvulnerable) {
		return true
	}
	return attacker != uuid.Nil && s.Effects(attacker).Has(EffectInvulnerable)
}

// HandleDeath reports if the player with the given id keeps its inventory
// and experience on death.
func (s *Service) HandleDeath(id uuid.UUID) (keepInventory, keepExp bool) {
	e := s.Effects(id)
	return e.Has(EffectKeepInventory), e.Has(EffectKeepExp)
}

// HandleMove moves p to safety if it fell below the configured height of an
// applied void teleport perk. It reports if p was moved.
func (s *Service) HandleMove(p Player, pos mgl64.Vec3) bool {
	sess, ok := s.sessions.get(p.UUID())
	if !ok {
		return false
	}
	sess.mu.Lock()
	applied := sess.applied
	sess.mu.Unlock()
	for _, inst := range applied {
		if r, ok := inst.Behaviour().(Rescuer); ok && r.Rescue(p, pos) {
			return true
		}
	}
	return false
}

// Add resets the period of the player with the given id to start now and
// applies its perks if it is online.
func (s *Service) Add(ctx context.Context, id uuid.UUID) Result {
	snap := s.conf.Controller.Snapshot()
	if snap.Gate() == nil {
		return ResultSettingsError
	}
	now := s.conf.Now()
	record := playerdata.Record{UUID: id, JoinTime: now, LastUpdate: now}
	if err := s.conf.Data.Save(record); err != nil {
		s.log.Error("Save player data.", "error", err, "player", id)
		return ResultNoPlayerData
	}
	p, online := s.conf.Host.Player(id)
	if !online {
		return ResultSuccess
	}
	sess, ok := s.sessions.get(id)
	if !ok {
		sess = &session{id: id}
		s.sessions.put(sess)
	}
	s.revoke(ctx, sess, p)
	sess.mu.Lock()
	sess.record, sess.disabled, sess.expired = record, false, false
	sess.mu.Unlock()
	s.apply(ctx, snap, sess, p)
	s.send(snap, p, MessagePerksEnabled, record, now)
	return ResultSuccess
}

// Remove expires the perks of the player with the given id and revokes them
// if it is online.
func (s *Service) Remove(ctx context.Context, id uuid.UUID) Result {
	snap := s.conf.Controller.Snapshot()
	if snap.Gate() == nil {
		return ResultSettingsError
	}
	record, err := s.conf.Data.Load(id)
	if errors.Is(err, playerdata.ErrNotFound) {
		return ResultNoPlayerData
	} else if err != nil {
		s.log.Error("Load player data.", "error", err, "player", id)
		return ResultNoPlayerData
	}
	record.JoinTime, record.LastUpdate = time.UnixMilli(0), s.conf.Now()
	if err := s.conf.Data.Save(record); err != nil {
		s.log.Error("Save player data.", "error", err, "player", id)
		return ResultNoPlayerData
	}
	sess, ok := s.sessions.get(id)
	if !ok {
		return ResultSuccess
	}
	p, online := s.conf.Host.Player(id)
	if !online {
		p = offlinePlayer(id)
	}
	s.revoke(ctx, sess, p)
	sess.mu.Lock()
	sess.record, sess.expired = record, true
	sess.mu.Unlock()
	s.send(snap, p, MessagePerksRemoved, record, s.conf.Now())
	return ResultSuccess
}

// Enable turns the perks of an online player back on after Disable.
func (s *Service) Enable(ctx context.Context, id uuid.UUID) Result {
	return s.toggle(ctx, id, true)
}

// Disable turns the perks of an online player off without ending its period.
func (s *Service) Disable(ctx context.Context, id uuid.UUID) Result {
	return s.toggle(ctx, id, false)
}

func (s *Service) toggle(ctx context.Context, id uuid.UUID, enable bool) Result {
	snap := s.conf.Controller.Snapshot()
	if snap.Gate() == nil {
		return ResultSettingsError
	}
	p, online := s.conf.Host.Player(id)
	if !online {
		return ResultOffline
	}
	sess, ok := s.sessions.get(id)
	if !ok {
		return ResultNoPlayerData
	}
	now := s.conf.Now()
	sess.mu.Lock()
	record := sess.record
	active := record.Active(now, snap.Period())
	sess.disabled = !enable
	sess.mu.Unlock()

	if !active {
		if enable {
			s.send(snap, p, MessageEnableExpired, record, now)
		} else {
			s.send(snap, p, MessageDisableExpired, record, now)
		}
		return ResultExpired
	}
	s.revoke(ctx, sess, p)
	if enable {
		s.apply(ctx, snap, sess, p)
		s.send(snap, p, MessagePerksEnabled, record, now)
	} else {
		s.send(snap, p, MessagePerksDisabled, record, now)
	}
	return ResultSuccess
}

// Sweep revokes the perks of every online player whose period passed and
// tells them their perks expired.
func (s *Service) Sweep(ctx context.Context) {
	snap := s.conf.Controller.Snapshot()
	now := s.conf.Now()
	for _, sess := range s.sessions.all() {
		sess.mu.Lock()
		due := !sess.expired && !sess.record.Active(now, snap.Period())
		if due {
			sess.expired = true
		}
		record, hadPerks := sess.record, len(sess.applied) > 0
		sess.mu.Unlock()
		if !due {
			continue
		}
		p, online := s.conf.Host.Player(sess.id)
		if !online {
			p = offlinePlayer(sess.id)
		}
		s.revoke(ctx, sess, p)
		if hadPerks {
			s.send(snap, p, MessagePerksExpired, record, now)
			s.log.Info("Perks expired.", "player", p.Name())
		}
	}
}

// Run sweeps expired perks every SweepInterval until ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.log.Debug("Stopping perk expiry loop.")
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// republish revokes every perk applied from the previous snapshot and applies
// the perks of the new one.
func (s *Service) republish(_, next *feature.Snapshot[Perk]) {
	ctx := context.Background()
	now := s.conf.Now()
	for _, sess := range s.sessions.all() {
		p, online := s.conf.Host.Player(sess.id)
		if !online {
			p = offlinePlayer(sess.id)
		}
		s.revoke(ctx, sess, p)

		sess.mu.Lock()
		current := next.Generation() >= sess.generation
		active := current && !sess.disabled && sess.record.Active(now, next.Period())
		if current {
			sess.generation = next.Generation()
			sess.expired = !sess.record.Active(now, next.Period())
		}
		sess.mu.Unlock()
		if online && active {
			s.apply(ctx, next, sess, p)
		}
	}
}

// apply grants every enabled perk of snap p is authorised for, unless the
// session was already updated for a newer snapshot. Permission checks run
// before the session is locked.
func (s *Service) apply(ctx context.Context, snap *feature.Snapshot[Perk], sess *session, p Player) {
	gate := snap.Gate()
	if gate == nil {
		return
	}
	var granted []*feature.Instance[Perk]
	for inst := range snap.Enabled() {
		if gate.Authorize(ctx, p.UUID(), inst, "") {
			granted = append(granted, inst)
		}
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.disabled || len(sess.applied) > 0 || snap.Generation() < sess.generation {
		return
	}
	sess.generation = snap.Generation()
	env := Env{Editor: s.conf.Editor}
	for _, inst := range granted {
		if err := inst.Behaviour().Apply(ctx, env, p); err != nil {
			s.log.Warn("Apply perk.", "error", err, "perk", inst.ID(), "player", p.Name())
			continue
		}
		sess.applied = append(sess.applied, inst)
		sess.effects |= inst.Behaviour().Effects()
		s.conf.Metrics.IncrementPerkApplied(inst.ID())
	}
}

// revoke takes away every perk applied to sess, in reverse order.
func (s *Service) revoke(ctx context.Context, sess *session, p Player) {
	sess.mu.Lock()
	applied := sess.applied
	sess.applied, sess.effects = nil, 0
	sess.mu.Unlock()

	env := Env{Editor: s.conf.Editor}
	for _, inst := range slices.Backward(applied) {
		if err := inst.Behaviour().Revoke(ctx, env, p); err != nil {
			s.log.Warn("Revoke perk.", "error", err, "perk", inst.ID(), "player", p.Name())
		}
	}
}

// send renders the message under key for p. Every line of the message is
// prefixed with the prefix message.
func (s *Service) send(snap *feature.Snapshot[Perk], p Player, key string, record playerdata.Record, now time.Time) {
	body := s.template(snap, key)
	if body.IsZero() {
		return
	}
	expiry := record.Expiry(snap.Period())
	vars := message.Vars{
		"player_name":    p.Name(),
		"expire_time":    expiry.Format("2006-01-02 15:04:05 MST"),
		"remaining_time": message.FormatDuration(expiry.Sub(now), message.DefaultTimeUnits(), snap.Locale()).String(),
	}
	prefix, _ := s.conf.Renderer.Render(s.template(snap, MessagePrefix), vars)
	text, warnings := s.conf.Renderer.Render(body, vars)
	for _, w := range warnings {
		s.log.Debug("Message rendered with missing value.", "key", key, "warning", w.String())
	}
	for _, line := range strings.Split(text.String(), "\n") {
		p.Message(message.Concat(prefix, message.Text(line)))
	}
}

// Message renders the message under key with vars, for callers outside the
// service such as admin commands.
func (s *Service) Message(key string, vars message.Vars) message.FormattedText {
	snap := s.conf.Controller.Snapshot()
	prefix, _ := s.conf.Renderer.Render(s.template(snap, MessagePrefix), vars)
	text, _ := s.conf.Renderer.Render(s.template(snap, key), vars)
	return message.Concat(prefix, text)
}

func (s *Service) template(snap *feature.Snapshot[Perk], key string) message.Template {
	if t, ok := snap.Message(key); ok {
		return t
	}
	return defaultTemplates[key]
}
