// Command npp runs the NewPlayerPerks plugin without a game server. It loads
// npp.toml, serves the admin endpoints and reads administrator commands from
// standard input, which makes it useful for checking feature documents and
// managing player data offline.
package main

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/newplayerperks/npp/plugin"
	"github.com/newplayerperks/npp/plugin/perk"
	"github.com/pelletier/go-toml"
)

const configFile = "npp.toml"

func main() {
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug}))
	slog.SetDefault(log)

	conf, err := readConfig(log)
	if err != nil {
		log.Error("Could not read configuration.", "error", err)
		os.Exit(1)
	}
	if err := run(conf, log); err != nil {
		log.Error("Plugin stopped with an error.", "error", err)
		os.Exit(1)
	}
}

func run(conf plugin.Config, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	p := plugin.New(conf, offlineHost{})
	log.Info("Loading plugin.", describe(p)...)
	if report, err := p.Start(ctx); err != nil {
		log.Warn(report.Summary())
	}

	// The console is not waited for: it may be blocked reading standard input.
	// Reaching the end of the input leaves the plugin running.
	go p.Console(stop).Run(ctx)
	err := p.Run(ctx)
	return errors.Join(err, p.Close())
}

// describe returns the log attributes naming p and, if it has one, its
// version.
func describe(p plugin.Plugin) []any {
	attrs := []any{"name", p.Name()}
	if v, ok := p.(plugin.VersionedPlugin); ok {
		attrs = append(attrs, "version", v.Version())
	}
	return attrs
}

// offlineHost is a perk.Host without online players.
type offlineHost struct{}

func (offlineHost) Player(uuid.UUID) (perk.Player, bool) { return nil, false }
func (offlineHost) Players() iter.Seq[perk.Player]       { return func(func(perk.Player) bool) {} }

// readConfig reads the configuration from npp.toml, creating it with the
// default values if it does not exist.
func readConfig(log *slog.Logger) (plugin.Config, error) {
	c := plugin.DefaultConfig()
	var zero plugin.Config
	if _, err := os.Stat(configFile); os.IsNotExist(err) {
		data, err := toml.Marshal(c)
		if err != nil {
			return zero, fmt.Errorf("encode default config: %v", err)
		}
		if err := os.WriteFile(configFile, data, 0644); err != nil {
			return zero, fmt.Errorf("create default config: %v", err)
		}
		return c.Config(log)
	}
	data, err := os.ReadFile(configFile)
	if err != nil {
		return zero, fmt.Errorf("read config: %v", err)
	}
	if err := toml.Unmarshal(data, &c); err != nil {
		return zero, fmt.Errorf("decode config: %v", err)
	}
	return c.Config(log)
}
