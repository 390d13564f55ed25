package plugin

import "errors"

// Plugin defines an extension loaded by the host server.
type Plugin interface {
	// Name returns the display name of the plugin.
	Name() string
	// Close releases all resources held by the plugin. It is called once when
	// the server shuts down or when the plugin is disabled.
	Close() error
}

// VersionedPlugin may be implemented by plugins to expose a version string.
type VersionedPlugin interface {
	Version() string
}

// Info describes the plugin to the host.
type Info struct {
	Name    string
	Version string
	// MappingNamespace is the namespace of the names the plugin uses for game
	// concepts such as permissions of other plugins.
	MappingNamespace string
	// DataDirectory is the directory holding the plugin's files.
	DataDirectory string
}

const (
	// Name is the display name of the plugin.
	Name = "NewPlayerPerks"
	// Version is the plugin version. Its first three parts are the feature
	// document schema version written by this release.
	Version = "1.2.0.1"
	// MappingNamespace ...
	MappingNamespace = "mojang"
)

var (
	// ErrClosed is returned by operations on a closed plugin.
	ErrClosed = errors.New("plugin closed")
	// ErrRunning is returned by Run when the plugin is already running.
	ErrRunning = errors.New("plugin already running")
)

var (
	_ Plugin          = (*NewPlayerPerks)(nil)
	_ VersionedPlugin = (*NewPlayerPerks)(nil)
)
