// Package config loads versioned feature documents. A document declares a
// list of features, each decoded and validated on its own so that a malformed
// entry is reported and skipped without affecting the rest of the document.
package config

import (
	"errors"
	"fmt"
	"io"
	"regexp"
	"time"

	"github.com/newplayerperks/npp/plugin/permission"
	"golang.org/x/text/language"
)

// DefaultLocale is used when a document has no valid locale.
var DefaultLocale = language.AmericanEnglish

// Document is the validated form of a configuration source. It is created
// per load and discarded once features have been built from it.
type Document struct {
	// Source is the name of the source the document was read from.
	Source string
	// Version is the canonical config-version, e.g. "v1.2.0+1". It is empty for
	// migrated legacy documents.
	Version string
	// Legacy is true if the document was migrated from the flat settings
	// layout used before feature lists existed.
	Legacy bool
	Locale language.Tag
	// Period is how long perks last after a player's first join.
	Period     time.Duration
	Permission PermissionSettings
	// Messages holds document-wide message templates by key.
	Messages map[string]string
	// Entries holds every valid entry in declaration order.
	Entries []Entry

	// Errors holds one error for every rejected entry or document-level key.
	Errors []*ConfigError
	// Warnings holds non-fatal remarks, such as defaults applied.
	Warnings []string
}

// PermissionSettings configures the permission gate of a document.
type PermissionSettings struct {
	// OnProviderError decides checks that fail because the provider failed.
	OnProviderError permission.Policy
	// Timeout bounds a single provider call. Zero leaves calls unbounded.
	Timeout time.Duration
}

// Entry is a single validated feature declaration.
type Entry struct {
	// Index is the position of the entry in the features list.
	Index int
	// Line is the line of the entry in the source, or 0 if unknown.
	Line int
	ID   string
	// Kind names the registered feature kind that builds the entry. It
	// defaults to ID.
	Kind       string
	Enabled    bool
	Permission permission.Node
	Messages   map[string]string
	// Params holds the feature specific parameters of the entry.
	Params Params
}

// Load reads and validates the document provided by src. Entry-scoped
// problems are recorded in Document.Errors. If the source cannot be read,
// does not parse, or declares an unsupported version, a *LoadFailure is
// returned together with a nil Document.
func Load(src Source) (*Document, error) {
	name := src.Name()
	r, err := src.Open()
	if err != nil {
		return nil, &LoadFailure{Source: name, Err: err}
	}
	data, err := io.ReadAll(r)
	_ = r.Close()
	if err != nil {
		return nil, &LoadFailure{Source: name, Err: fmt.Errorf("read: %w", err)}
	}

	var raw *rawDocument
	switch src.Format() {
	case FormatYAML:
		raw, err = decodeYAML(data)
	default:
		raw, err = decodeTOML(data)
	}
	if err != nil {
		return nil, &LoadFailure{Source: name, Err: err}
	}

	doc := &Document{Source: name, Messages: map[string]string{}}
	if err := doc.applyHeader(raw); err != nil {
		return nil, &LoadFailure{Source: name, Err: err}
	}
	seen := make(map[string]int, len(raw.entries))
	for i, re := range raw.entries {
		entry, cerr := buildEntry(i, re)
		if cerr == nil {
			if first, dup := seen[entry.ID]; dup {
				cerr = &ConfigError{Index: i, ID: entry.ID, Line: re.line, Field: "id",
					Err: fmt.Errorf("%w: already declared by entry %d", ErrDuplicateID, first+1)}
			}
		}
		if cerr != nil {
			cerr.Source = name
			doc.Errors = append(doc.Errors, cerr)
			continue
		}
		seen[entry.ID] = i
		doc.Entries = append(doc.Entries, entry)
	}
	return doc, nil
}

// rawDocument is the format independent result of decoding a source: the
// document-level keys and one raw map per feature entry.
type rawDocument struct {
	header  map[string]any
	entries []rawEntry
}

type rawEntry struct {
	line   int
	values map[string]any
	// err is set if the entry could not be decoded into a map at all.
	err error
}

const (
	keyVersion    = "config-version"
	keyLocale     = "locale"
	keyPeriod     = "period"
	keyMessages   = "messages"
	keyPermission = "permission"
	keyFeatures   = "features"
)

func (d *Document) warnf(format string, a ...any) {
	d.Warnings = append(d.Warnings, fmt.Sprintf(format, a...))
}

func (d *Document) headerError(field string, err error) {
	d.Errors = append(d.Errors, &ConfigError{Source: d.Source, Index: -1, Field: field, Err: err})
}

// applyHeader validates the document-level keys. Only an unusable version is
// returned as an error; everything else degrades to defaults with a warning.
func (d *Document) applyHeader(raw *rawDocument) error {
	h := raw.header
	if v, ok := h[keyVersion]; ok {
		s, isString := v.(string)
		if !isString {
			return &ConfigError{Source: d.Source, Index: -1, Field: keyVersion,
				Err: fmt.Errorf("%w: expected a string, got %T", ErrUnsupportedVersion, v)}
		}
		canonical, err := CheckVersion(s)
		if err != nil {
			return &ConfigError{Source: d.Source, Index: -1, Field: keyVersion, Err: err}
		}
		d.Version = canonical
	} else if migrated, ok := migrateLegacy(h); ok {
		d.Legacy = true
		raw.entries = append(migrated, raw.entries...)
		d.warnf("legacy settings migrated to %d feature entries; add %s = %q to keep this behaviour", len(migrated), keyVersion, SchemaVersion)
	} else {
		return &ConfigError{Source: d.Source, Index: -1, Field: keyVersion, Err: fmt.Errorf("%w: %s", ErrMissingField, keyVersion)}
	}

	d.Locale = DefaultLocale
	switch v := h[keyLocale].(type) {
	case nil:
	case string:
		tag, err := language.Parse(v)
		if err != nil {
			d.warnf("invalid locale %q, using %s: %v", v, DefaultLocale, err)
		} else {
			d.Locale = tag
		}
	default:
		d.warnf("invalid locale of type %T, using %s", v, DefaultLocale)
	}

	d.Period = DefaultPeriod
	switch v := h[keyPeriod].(type) {
	case nil:
		d.warnf("no period set, using %s", DefaultPeriod)
	case string:
		p, err := ParsePeriod(v)
		if err != nil {
			d.warnf("%v, using %s", err, DefaultPeriod)
		} else {
			d.Period = p
		}
	default:
		d.warnf("invalid period of type %T, using %s", v, DefaultPeriod)
	}

	if v, ok := h[keyMessages]; ok {
		messages, err := stringMap(v)
		if err != nil {
			d.headerError(keyMessages, err)
		}
		d.Messages = messages
	}

	d.Permission = PermissionSettings{OnProviderError: permission.PolicyDeny}
	perm, _ := h[keyPermission].(map[string]any)
	switch v := perm["on-provider-error"].(type) {
	case nil:
		if !d.Legacy {
			d.headerError("permission.on-provider-error", fmt.Errorf("%w: permission.on-provider-error", ErrMissingField))
		}
		d.warnf("permission.on-provider-error not set, denying actions when the permission provider fails")
	case string:
		policy, err := permission.ParsePolicy(v)
		if err != nil {
			d.headerError("permission.on-provider-error", fmt.Errorf("%w: %v", ErrInvalidField, err))
			d.warnf("denying actions when the permission provider fails")
		} else {
			d.Permission.OnProviderError = policy
		}
	default:
		d.headerError("permission.on-provider-error", fmt.Errorf("%w: expected a string, got %T", ErrInvalidField, v))
		d.warnf("denying actions when the permission provider fails")
	}
	switch v := perm["timeout"].(type) {
	case nil:
	case string:
		t, err := time.ParseDuration(v)
		if err != nil || t < 0 {
			d.headerError("permission.timeout", fmt.Errorf("%w: %q is not a duration", ErrInvalidField, v))
		} else {
			d.Permission.Timeout = t
		}
	default:
		d.headerError("permission.timeout", fmt.Errorf("%w: expected a string, got %T", ErrInvalidField, v))
	}
	return nil
}

var idPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

var entryKeys = map[string]struct{}{
	"id": {}, "kind": {}, "enabled": {}, "permission": {}, "messages": {}, "params": {},
}

// buildEntry validates a single raw entry. The first problem found is
// returned; ConfigError.Source is filled in by the caller.
func buildEntry(index int, re rawEntry) (Entry, *ConfigError) {
	fail := func(id, field string, err error) (Entry, *ConfigError) {
		return Entry{}, &ConfigError{Index: index, ID: id, Line: re.line, Field: field, Err: err}
	}
	if re.err != nil {
		return fail("", "", fmt.Errorf("%w: %v", ErrInvalidField, re.err))
	}
	v := re.values

	rawID, ok := v["id"]
	if !ok {
		return fail("", "id", ErrMissingField)
	}
	id, ok := rawID.(string)
	if !ok || !idPattern.MatchString(id) {
		return fail("", "id", fmt.Errorf("%w: %v is not a lower case identifier", ErrInvalidField, rawID))
	}
	e := Entry{Index: index, Line: re.line, ID: id, Kind: id}

	if rawKind, ok := v["kind"]; ok {
		kind, ok := rawKind.(string)
		if !ok || !idPattern.MatchString(kind) {
			return fail(id, "kind", fmt.Errorf("%w: %v is not a lower case identifier", ErrInvalidField, rawKind))
		}
		e.Kind = kind
	}

	rawEnabled, ok := v["enabled"]
	if !ok {
		return fail(id, "enabled", ErrMissingField)
	}
	if e.Enabled, ok = rawEnabled.(bool); !ok {
		return fail(id, "enabled", fmt.Errorf("%w: expected a boolean, got %T", ErrInvalidField, rawEnabled))
	}

	rawPerm, ok := v["permission"]
	if !ok {
		return fail(id, "permission", ErrMissingField)
	}
	perm, ok := rawPerm.(string)
	if !ok {
		return fail(id, "permission", fmt.Errorf("%w: expected a string, got %T", ErrInvalidField, rawPerm))
	}
	node, err := permission.ParseNode(perm)
	if err != nil {
		return fail(id, "permission", fmt.Errorf("%w: %v", ErrInvalidField, err))
	}
	e.Permission = node

	e.Messages = map[string]string{}
	if rawMessages, ok := v["messages"]; ok {
		if e.Messages, err = stringMap(rawMessages); err != nil {
			return fail(id, "messages", err)
		}
	}

	e.Params = Params{}
	if rawParams, ok := v["params"]; ok {
		m, ok := rawParams.(map[string]any)
		if !ok {
			return fail(id, "params", fmt.Errorf("%w: expected a table, got %T", ErrInvalidField, rawParams))
		}
		for k, pv := range m {
			e.Params[k] = pv
		}
	}
	for k, pv := range v {
		if _, reserved := entryKeys[k]; reserved {
			continue
		}
		if _, dup := e.Params[k]; dup {
			return fail(id, k, fmt.Errorf("%w: set both inline and in params", ErrInvalidField))
		}
		e.Params[k] = pv
	}
	return e, nil
}

func stringMap(v any) (map[string]string, error) {
	m, ok := v.(map[string]any)
	if !ok {
		return map[string]string{}, fmt.Errorf("%w: expected a table, got %T", ErrInvalidField, v)
	}
	out := make(map[string]string, len(m))
	var errs []error
	for k, raw := range m {
		switch s := raw.(type) {
		case string:
			out[k] = s
		case []any:
			// Multi-line messages may be written as a list of lines.
			lines, ok := joinLines(s)
			if !ok {
				errs = append(errs, fmt.Errorf("%w: %s: list must only hold strings", ErrInvalidField, k))
				continue
			}
			out[k] = lines
		default:
			errs = append(errs, fmt.Errorf("%w: %s: expected a string, got %T", ErrInvalidField, k, raw))
		}
	}
	return out, errors.Join(errs...)
}

func joinLines(list []any) (string, bool) {
	var s string
	for i, line := range list {
		l, ok := line.(string)
		if !ok {
			return "", false
		}
		if i > 0 {
			s += "\n"
		}
		s += l
	}
	return s, true
}
