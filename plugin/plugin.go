// Package plugin wires the NewPlayerPerks plugin together: the feature
// lifecycle, the perks applied to new players and the administrative
// surfaces. The host server creates it with New, calls Start once, forwards
// player events to Perks and calls Close on shutdown.
package plugin

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/newplayerperks/npp/plugin/admin"
	"github.com/newplayerperks/npp/plugin/console"
	"github.com/newplayerperks/npp/plugin/internal/watch"
	"github.com/newplayerperks/npp/plugin/lifecycle"
	"github.com/newplayerperks/npp/plugin/message"
	"github.com/newplayerperks/npp/plugin/metrics"
	"github.com/newplayerperks/npp/plugin/perk"
	"github.com/newplayerperks/npp/plugin/permission"
	"golang.org/x/sync/errgroup"
)

// reloader is implemented by permission providers that cache their grants.
type reloader interface {
	Reload() error
}

// NewPlayerPerks is the plugin. Its methods are safe for concurrent use.
type NewPlayerPerks struct {
	conf    Config
	log     *slog.Logger
	metrics *metrics.Metrics
	host    perk.Host

	ctrl  *lifecycle.Controller[perk.Perk]
	perks *perk.Service
	admin *admin.Handler[perk.Perk]

	running atomic.Bool
	closed  atomic.Bool
}

// New creates the plugin from conf. Players are looked up through host.
func New(conf Config, host perk.Host) *NewPlayerPerks {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	p := &NewPlayerPerks{conf: conf, log: conf.Log, host: host}
	if conf.Registerer != nil {
		p.metrics = metrics.New(conf.Registerer)
	}
	p.ctrl = lifecycle.New(lifecycle.Config[perk.Perk]{
		Source:       conf.Source,
		Kinds:        perk.Kinds(),
		Provider:     conf.Provider,
		Log:          conf.Log,
		Metrics:      p.metrics,
		Placeholders: perk.Placeholders,
	})
	editor, _ := conf.Provider.(permission.Editor)
	p.perks = perk.NewService(perk.ServiceConfig{
		Controller: p.ctrl,
		Host:       host,
		Data:       conf.Data,
		Editor:     editor,
		Renderer:   message.Renderer{Metrics: p.metrics},
		Log:        conf.Log,
		Metrics:    p.metrics,
	})
	p.admin = admin.New(p.ctrl, conf.Gatherer, conf.Log)
	return p
}

// Name ...
func (p *NewPlayerPerks) Name() string { return Name }

// Version ...
func (p *NewPlayerPerks) Version() string { return Version }

// Info describes the plugin.
func (p *NewPlayerPerks) Info() Info {
	return Info{Name: Name, Version: Version, MappingNamespace: MappingNamespace, DataDirectory: p.conf.DataDirectory}
}

// Controller returns the feature lifecycle of the plugin.
func (p *NewPlayerPerks) Controller() *lifecycle.Controller[perk.Perk] {
	return p.ctrl
}

// Perks returns the perk service that player events must be forwarded to.
func (p *NewPlayerPerks) Perks() *perk.Service {
	return p.perks
}

// Start loads the feature document and applies perks to every player
// already online.
func (p *NewPlayerPerks) Start(ctx context.Context) (lifecycle.Report, error) {
	if p.closed.Load() {
		return lifecycle.Report{Operation: "start", Err: ErrClosed}, ErrClosed
	}
	report, err := p.ctrl.Start(ctx)
	if err != nil {
		p.log.Error("Plugin started without features.", "error", err)
	}
	for pl := range p.host.Players() {
		p.perks.HandleJoin(ctx, pl)
	}
	p.log.Info("Plugin enabled.", "name", Name, "version", Version, "features", len(report.Activated))
	return report, err
}

// Reload re-reads the permission grants, if they are cached, and the feature
// document.
func (p *NewPlayerPerks) Reload(ctx context.Context) (lifecycle.Report, error) {
	if r, ok := p.conf.Provider.(reloader); ok {
		if err := r.Reload(); err != nil {
			p.log.Error("Permissions could not be reloaded.", "error", err)
		}
	}
	return p.ctrl.Reload(ctx)
}

// Run runs the background work of the plugin until ctx is cancelled: the
// perk expiry loop, the admin endpoints and automatic reloads, if enabled.
func (p *NewPlayerPerks) Run(ctx context.Context) error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.running.CompareAndSwap(false, true) {
		return ErrRunning
	}
	defer p.running.Store(false)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		p.perks.Run(ctx)
		return nil
	})
	if p.conf.AdminAddress != "" {
		g.Go(func() error {
			return p.admin.Serve(ctx, p.conf.AdminAddress)
		})
	}
	if p.conf.AutoReload > 0 {
		w := watch.New(p.autoReload, p.conf.WatchPaths, watch.WithInterval(p.conf.AutoReload), watch.WithLogger(p.log))
		g.Go(func() error {
			w.Run(ctx)
			return nil
		})
	}
	return g.Wait()
}

func (p *NewPlayerPerks) autoReload(ctx context.Context) {
	report, err := p.Reload(ctx)
	if err != nil {
		p.log.Error("Automatic reload failed.", "error", err)
		return
	}
	p.log.Info("Configuration reloaded automatically.", "generation", report.Generation, "rejected", len(report.Errors))
}

// Console returns a Console running the administrator commands of the
// plugin. stop is called by the stop command.
func (p *NewPlayerPerks) Console(stop func()) *console.Console {
	return console.New(console.Config{
		Controller: p.ctrl,
		Service:    p.perks,
		Host:       p.host,
		Reload:     p.Reload,
		Stop:       stop,
		Log:        p.log,
	})
}

// Close revokes every perk, stops the feature lifecycle and closes the
// player data store and permission backend. Calling Close more than once is a
// no-op.
func (p *NewPlayerPerks) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	ctx := context.Background()
	for pl := range p.host.Players() {
		p.perks.HandleQuit(ctx, pl.UUID())
	}
	err := errors.Join(p.ctrl.Stop(), p.conf.close())
	p.log.Info("Plugin disabled.")
	return err
}
