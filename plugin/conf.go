package plugin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/newplayerperks/npp/plugin/config"
	"github.com/newplayerperks/npp/plugin/permission"
	"github.com/newplayerperks/npp/plugin/playerdata"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Config contains the collaborators of the plugin.
type Config struct {
	// Log is the Logger to use for logging information. If nil, Log is set to
	// slog.Default().
	Log *slog.Logger
	// DataDirectory is the directory holding the plugin's files.
	DataDirectory string
	// Source provides the feature document.
	Source config.Source
	// Provider answers permission queries. If it also implements
	// permission.Editor, perks granting permission nodes use it to do so.
	Provider permission.Provider
	// Data stores the join times of players.
	Data *playerdata.DB
	// Registerer and Gatherer hold the plugin metrics. If Registerer is nil,
	// no metrics are recorded.
	Registerer prometheus.Registerer
	Gatherer   prometheus.Gatherer
	// AdminAddress is the address the admin HTTP endpoints listen on. They are
	// not served if it is empty.
	AdminAddress string
	// AutoReload is the interval at which the feature document is checked for
	// changes. Zero disables automatic reloads.
	AutoReload time.Duration
	// WatchPaths are the files checked for changes when AutoReload is set.
	WatchPaths []string

	closers []io.Closer
}

// UserConfig is the user configuration of the plugin, stored in npp.toml.
// UserConfig may be serialised and can be converted to a Config by calling
// UserConfig.Config().
type UserConfig struct {
	Plugin struct {
		// DataDirectory is the directory that relative paths below are
		// resolved against.
		DataDirectory string
	}
	Features struct {
		// File is the feature document. Its format is chosen by its extension:
		// .toml, .yml or .yaml. It is created with every perk enabled if it
		// does not exist.
		File string
		// AutoReload is the interval at which File is checked for changes, such
		// as "5s". An empty value or "0" disables automatic reloads.
		AutoReload string
	}
	Permissions struct {
		// Provider is either "file" or "redis".
		Provider string
		// File is the TOML file used by the file provider.
		File string
		// RedisURL is the redis:// URL used by the redis provider.
		RedisURL string
		// RedisPrefix is the prefix of the per-player permission set keys.
		RedisPrefix string
	}
	Players struct {
		// Folder is the folder the join times of players are stored in.
		Folder string
	}
	Admin struct {
		// Address is the address of the admin HTTP endpoints, such as
		// "127.0.0.1:8095". Leave empty to disable them.
		Address string
		// Metrics specifies if Prometheus metrics should be recorded and served
		// on /metrics.
		Metrics bool
	}
}

// DefaultConfig returns a configuration with the default values filled out.
func DefaultConfig() UserConfig {
	c := UserConfig{}
	c.Plugin.DataDirectory = "plugins/NewPlayerPerks"
	c.Features.File = "features.toml"
	c.Features.AutoReload = "0"
	c.Permissions.Provider = "file"
	c.Permissions.File = "permissions.toml"
	c.Permissions.RedisURL = "redis://localhost:6379/0"
	c.Permissions.RedisPrefix = permission.DefaultRedisPrefix
	c.Players.Folder = "players"
	c.Admin.Address = ""
	c.Admin.Metrics = true
	return c
}

// defaultPermissions grants every perk to every player.
const defaultPermissions = `default = ["newplayerperks.perk.*"]

[players]
`

// Config converts a UserConfig to a Config, so that it may be used for
// creating the plugin. Missing feature and permission files are created with
// defaults. An error is returned if opening the player data or connecting to
// the permission backend failed.
func (uc UserConfig) Config(log *slog.Logger) (conf Config, err error) {
	if log == nil {
		log = slog.Default()
	}
	conf = Config{Log: log, DataDirectory: uc.Plugin.DataDirectory}
	defer func() {
		if err != nil {
			_ = conf.close()
		}
	}()
	if err := os.MkdirAll(conf.DataDirectory, 0o755); err != nil {
		return conf, fmt.Errorf("create data directory: %w", err)
	}

	featuresFile, err := resolvePath(conf.DataDirectory, uc.Features.File)
	if err != nil {
		return conf, fmt.Errorf("features file: %w", err)
	}
	if err := writeIfMissing(featuresFile, []byte(DefaultFeatures)); err != nil {
		return conf, fmt.Errorf("create features file: %w", err)
	}
	conf.Source = config.FileSource(featuresFile)
	conf.WatchPaths = append(conf.WatchPaths, featuresFile)
	if v := strings.TrimSpace(uc.Features.AutoReload); v != "" && v != "0" {
		if conf.AutoReload, err = time.ParseDuration(v); err != nil {
			return conf, fmt.Errorf("features auto reload: %w", err)
		}
	}

	switch strings.ToLower(strings.TrimSpace(uc.Permissions.Provider)) {
	case "", "file":
		file, err := resolvePath(conf.DataDirectory, uc.Permissions.File)
		if err != nil {
			return conf, fmt.Errorf("permissions file: %w", err)
		}
		if err := writeIfMissing(file, []byte(defaultPermissions)); err != nil {
			return conf, fmt.Errorf("create permissions file: %w", err)
		}
		if conf.Provider, err = permission.LoadFileProvider(file); err != nil {
			return conf, err
		}
		conf.WatchPaths = append(conf.WatchPaths, file)
	case "redis":
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		client, err := permission.OpenRedis(ctx, permission.RedisConfig{URL: uc.Permissions.RedisURL, Prefix: uc.Permissions.RedisPrefix})
		if err != nil {
			return conf, err
		}
		conf.closers = append(conf.closers, client)
		conf.Provider = permission.NewRedisProvider(client, uc.Permissions.RedisPrefix)
	default:
		return conf, fmt.Errorf("unknown permission provider %q", uc.Permissions.Provider)
	}

	playersDir, err := resolvePath(conf.DataDirectory, uc.Players.Folder)
	if err != nil {
		return conf, fmt.Errorf("players folder: %w", err)
	}
	if conf.Data, err = playerdata.Open(playersDir); err != nil {
		return conf, err
	}
	conf.closers = append(conf.closers, conf.Data)

	conf.AdminAddress = strings.TrimSpace(uc.Admin.Address)
	if uc.Admin.Metrics {
		reg := prometheus.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
		conf.Registerer, conf.Gatherer = reg, reg
	}
	return conf, nil
}

// close releases the resources opened by UserConfig.Config.
func (conf Config) close() error {
	var errs []error
	for i := len(conf.closers) - 1; i >= 0; i-- {
		errs = append(errs, conf.closers[i].Close())
	}
	return errors.Join(errs...)
}

// resolvePath resolves name against base. Relative names may not leave base.
func resolvePath(base, name string) (string, error) {
	if strings.TrimSpace(name) == "" {
		return "", errors.New("path is empty")
	}
	if filepath.IsAbs(name) {
		return name, nil
	}
	target := filepath.Join(base, filepath.Clean(name))
	rel, err := filepath.Rel(base, target)
	if err != nil {
		return "", err
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes data directory", name)
	}
	return target, nil
}

func writeIfMissing(path string, data []byte) error {
	if _, err := os.Stat(path); err == nil {
		return nil
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}
