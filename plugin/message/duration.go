package message

import (
	"strings"
	"time"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// TimeUnits holds the templates used by FormatDuration. Every unit template
// receives the amount through the placeholder named after the unit, e.g.
// "<yellow><days></yellow> day(s)".
type TimeUnits struct {
	Prefix  string
	Weeks   string
	Days    string
	Hours   string
	Minutes string
	Seconds string
	Suffix  string
}

// DefaultTimeUnits returns the units used when a document configures none.
func DefaultTimeUnits() TimeUnits {
	return TimeUnits{
		Weeks:   "<yellow><weeks></yellow> week(s)",
		Days:    "<yellow><days></yellow> day(s)",
		Hours:   "<yellow><hours></yellow> hour(s)",
		Minutes: "<yellow><minutes></yellow> minute(s)",
		Seconds: "<yellow><seconds></yellow> second(s)",
		Suffix:  ".",
	}
}

// FormatDuration renders d, rounded down to whole seconds, as a list of the
// non-zero units in units. Amounts are formatted for tag.
func FormatDuration(d time.Duration, units TimeUnits, tag language.Tag) FormattedText {
	if d < 0 {
		d = 0
	}
	p := message.NewPrinter(tag)
	secs := int64(d / time.Second)
	amounts := []struct {
		name     string
		template string
		size     int64
	}{
		{"weeks", units.Weeks, 7 * 24 * 3600},
		{"days", units.Days, 24 * 3600},
		{"hours", units.Hours, 3600},
		{"minutes", units.Minutes, 60},
		{"seconds", units.Seconds, 1},
	}

	var segments []string
	for i, a := range amounts {
		n := secs / a.size
		secs %= a.size
		last := i == len(amounts)-1
		if a.template == "" || (n == 0 && !(last && len(segments) == 0)) {
			// Fold unconfigured units into the next smaller one.
			if a.template == "" && !last {
				secs += n * a.size
			}
			continue
		}
		segments = append(segments, Render(Compile(a.template), Vars{a.name: p.Sprint(n)}).String())
	}
	prefix := Render(Compile(units.Prefix), nil).String()
	suffix := Render(Compile(units.Suffix), nil).String()
	return Text(prefix + strings.Join(segments, " ") + suffix)
}
