package config

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrMissingField is returned for entries lacking a required key.
	ErrMissingField = errors.New("missing required field")
	// ErrInvalidField is returned for keys holding a value of the wrong type or
	// shape.
	ErrInvalidField = errors.New("invalid field")
	// ErrDuplicateID is returned for entries reusing an identifier declared
	// earlier in the same document.
	ErrDuplicateID = errors.New("duplicate feature id")
	// ErrUnsupportedVersion is returned when the config-version of a document
	// cannot be read by this version of the plugin.
	ErrUnsupportedVersion = errors.New("unsupported config version")
	// ErrUnknownKind is returned for entries naming a feature kind that was
	// never registered.
	ErrUnknownKind = errors.New("unknown feature kind")
)

// ConfigError describes a problem with a single entry of a document, or with
// a document-level key when Index is -1. Entry errors are never fatal to a
// load: the entry is skipped and the error recorded in Document.Errors.
type ConfigError struct {
	// Source is the name of the configuration source.
	Source string
	// Index is the position of the entry in the features list, or -1.
	Index int
	// ID is the identifier of the entry, if it could be read.
	ID string
	// Line is the line of the entry in the source, or 0 if unknown.
	Line  int
	Field string
	Err   error
}

// Error ...
func (e *ConfigError) Error() string {
	var b strings.Builder
	b.WriteString(e.Source)
	if e.Line > 0 {
		fmt.Fprintf(&b, ":%d", e.Line)
	}
	b.WriteString(": ")
	switch {
	case e.Index < 0:
	case e.ID != "":
		fmt.Fprintf(&b, "feature %q (entry %d): ", e.ID, e.Index+1)
	default:
		fmt.Fprintf(&b, "entry %d: ", e.Index+1)
	}
	if e.Field != "" {
		b.WriteString(e.Field)
		b.WriteString(": ")
	}
	b.WriteString(e.Err.Error())
	return b.String()
}

// Unwrap ...
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// LoadFailure is returned when a source cannot produce a document at all:
// it could not be opened or read, it is not syntactically valid, or its
// schema version is not supported.
type LoadFailure struct {
	Source string
	Err    error
}

// Error ...
func (e *LoadFailure) Error() string {
	return fmt.Sprintf("load %s: %v", e.Source, e.Err)
}

// Unwrap ...
func (e *LoadFailure) Unwrap() error {
	return e.Err
}
