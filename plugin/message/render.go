package message

import (
	"fmt"
	"strings"

	"github.com/newplayerperks/npp/plugin/metrics"
	"github.com/sandertv/gophertunnel/minecraft/text"
	"golang.org/x/net/html"
)

// Vars holds the values substituted for placeholders.
type Vars map[string]string

// MissingPolicy decides how placeholders without a value are rendered.
type MissingPolicy uint8

const (
	// MissingEmpty renders missing placeholders as nothing.
	MissingEmpty MissingPolicy = iota
	// MissingKeep renders missing placeholders as the literal "<name>".
	MissingKeep
)

// RenderWarning reports a placeholder rendered without a value. It never
// prevents the rest of the message from rendering.
type RenderWarning struct {
	// Template is the source of the template rendered.
	Template string
	// Name is the placeholder that had no value.
	Name string
}

// String ...
func (w RenderWarning) String() string {
	return fmt.Sprintf("no value for <%s> in %q", w.Name, w.Template)
}

// FormattedText is rendered rich text, ready to be sent to a player or
// written to a console.
type FormattedText struct {
	s string
}

// Text wraps s, which already holds formatting codes, in a FormattedText.
func Text(s string) FormattedText { return FormattedText{s: s} }

// String returns the text with Minecraft formatting codes.
func (f FormattedText) String() string { return f.s }

// Plain returns the text with every formatting code removed.
func (f FormattedText) Plain() string { return text.Clean(f.s) }

// IsEmpty reports if the text holds no visible characters.
func (f FormattedText) IsEmpty() bool { return strings.TrimSpace(f.Plain()) == "" }

// Concat joins texts without separator.
func Concat(texts ...FormattedText) FormattedText {
	var b strings.Builder
	for _, t := range texts {
		b.WriteString(t.s)
	}
	return FormattedText{s: b.String()}
}

// Renderer renders templates. The zero Renderer renders missing placeholders
// as nothing and records no metrics.
type Renderer struct {
	Missing MissingPolicy
	Metrics *metrics.Metrics
}

// Render substitutes vars into t and applies its formatting tags. Render is
// pure apart from metrics: it never fails, and placeholders without a value
// are resolved by the Missing policy and reported as warnings.
func (r Renderer) Render(t Template, vars Vars) (FormattedText, []RenderWarning) {
	if t.IsZero() {
		return FormattedText{}, nil
	}
	var (
		format   strings.Builder
		args     []any
		warnings []RenderWarning
	)
	for _, p := range t.parts {
		if p.name == "" {
			format.WriteString(strings.ReplaceAll(p.literal, "%", "%%"))
			continue
		}
		v, ok := vars[p.name]
		if !ok {
			warnings = append(warnings, RenderWarning{Template: t.source, Name: p.name})
			if r.Missing != MissingKeep {
				continue
			}
			v = "<" + p.name + ">"
		}
		// Colourf parses tags after substitution, so values are escaped to
		// stay text.
		format.WriteString("%s")
		args = append(args, html.EscapeString(v))
	}
	r.Metrics.AddRenderWarnings(len(warnings))
	return FormattedText{s: text.Colourf(format.String(), args...)}, warnings
}

// Render renders t with the zero Renderer, discarding warnings.
func Render(t Template, vars Vars) FormattedText {
	f, _ := Renderer{}.Render(t, vars)
	return f
}
