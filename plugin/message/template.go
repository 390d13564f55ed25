// Package message compiles message templates written with HTML-like
// formatting tags, such as "<green>Welcome, <player_name>!</green>", and
// renders them into the rich text representation of the host.
package message

import (
	"regexp"
	"strings"
)

// formattingTags holds every opening tag understood by the rich text package.
// Tags not listed here whose name is a valid variable name are placeholders.
var formattingTags = map[string]struct{}{
	"black": {}, "gold": {}, "grey": {}, "blue": {}, "green": {}, "aqua": {},
	"red": {}, "purple": {}, "yellow": {}, "white": {}, "quartz": {}, "iron": {},
	"netherite": {}, "redstone": {}, "copper": {}, "emerald": {}, "diamond": {},
	"lapis": {}, "amethyst": {}, "resin": {}, "obfuscated": {}, "bold": {},
	"italic": {},
}

// tagAliases maps tag names commonly found in older configuration files to the
// names used by the rich text package.
var tagAliases = map[string]string{
	"gray":         "grey",
	"dark_gray":    "dark-grey",
	"dark_grey":    "dark-grey",
	"dark_blue":    "dark-blue",
	"dark_green":   "dark-green",
	"dark_aqua":    "dark-aqua",
	"dark_red":     "dark-red",
	"dark_purple":  "dark-purple",
	"light_purple": "purple",
	"b":            "bold",
	"i":            "italic",
	"obf":          "obfuscated",
}

var (
	tagPattern         = regexp.MustCompile(`<(/?)([A-Za-z0-9_-]+)>`)
	placeholderPattern = regexp.MustCompile(`^[a-z0-9_]+$`)
)

// Template is a compiled message. The zero Template renders as empty text.
type Template struct {
	source string
	parts  []part
}

// part is either literal markup passed to the rich text package or, if name
// is set, a placeholder.
type part struct {
	literal string
	name    string
}

// Compile parses s into a Template. Compile never fails: anything that is not
// a placeholder is kept as markup.
func Compile(s string) Template {
	t := Template{source: s}
	var literal strings.Builder
	last := 0
	for _, m := range tagPattern.FindAllStringSubmatchIndex(s, -1) {
		literal.WriteString(s[last:m[0]])
		last = m[1]

		closing, name := s[m[2]:m[3]] == "/", s[m[4]:m[5]]
		if alias, ok := tagAliases[strings.ToLower(name)]; ok {
			name = alias
		}
		_, formatting := formattingTags[name]
		if closing || formatting || !placeholderPattern.MatchString(name) {
			if closing {
				literal.WriteString("</" + name + ">")
			} else {
				literal.WriteString("<" + name + ">")
			}
			continue
		}
		if literal.Len() > 0 {
			t.parts = append(t.parts, part{literal: literal.String()})
			literal.Reset()
		}
		t.parts = append(t.parts, part{name: name})
	}
	literal.WriteString(s[last:])
	if literal.Len() > 0 {
		t.parts = append(t.parts, part{literal: literal.String()})
	}
	return t
}

// Source returns the text the template was compiled from.
func (t Template) Source() string { return t.source }

// IsZero reports if the template has no content.
func (t Template) IsZero() bool { return len(t.parts) == 0 }

// Placeholders returns the names of the placeholders of the template in order
// of first appearance.
func (t Template) Placeholders() []string {
	var names []string
	seen := map[string]struct{}{}
	for _, p := range t.parts {
		if p.name == "" {
			continue
		}
		if _, ok := seen[p.name]; !ok {
			seen[p.name] = struct{}{}
			names = append(names, p.name)
		}
	}
	return names
}

// CompileAll compiles every template in m.
func CompileAll(m map[string]string) map[string]Template {
	out := make(map[string]Template, len(m))
	for k, s := range m {
		out[k] = Compile(s)
	}
	return out
}
