package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Format is the syntax of a configuration source.
type Format uint8

const (
	FormatTOML Format = iota
	FormatYAML
)

// String ...
func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "toml"
}

// FormatOf returns the format implied by the extension of path. Paths without
// a recognised extension are treated as TOML.
func FormatOf(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yml", ".yaml":
		return FormatYAML
	}
	return FormatTOML
}

// Source is an opaque configuration source, such as a file on disk.
type Source interface {
	// Name identifies the source in errors and reports.
	Name() string
	Format() Format
	// Open returns a fresh reader over the contents of the source. It is called
	// once per load.
	Open() (io.ReadCloser, error)
}

// FileSource reads a document from a file. The format is derived from the
// file extension.
type FileSource string

// Name ...
func (f FileSource) Name() string { return filepath.Base(string(f)) }

// Format ...
func (f FileSource) Format() Format { return FormatOf(string(f)) }

// Open ...
func (f FileSource) Open() (io.ReadCloser, error) {
	file, err := os.Open(string(f))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", string(f), err)
	}
	return file, nil
}

// BytesSource is an in-memory document.
type BytesSource struct {
	Label string
	Kind  Format
	Data  []byte
}

// Name ...
func (b BytesSource) Name() string {
	if b.Label == "" {
		return "<memory>"
	}
	return b.Label
}

// Format ...
func (b BytesSource) Format() Format { return b.Kind }

// Open ...
func (b BytesSource) Open() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(b.Data)), nil
}
