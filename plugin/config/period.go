package config

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// DefaultPeriod is the perk period used when a document has none or an
// invalid one.
const DefaultPeriod = 6 * time.Hour

var periodToken = regexp.MustCompile(`(\d+(?:\.\d+)?)(ms|s|m|h|d|w)`)

// ParsePeriod parses a duration such as "6h", "1d12h" or "2w". In addition to
// the units of time.ParseDuration it accepts d (24h) and w (7d).
func ParsePeriod(s string) (time.Duration, error) {
	s = strings.ToLower(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	if s == "" {
		return 0, fmt.Errorf("empty period")
	}
	var (
		total    time.Duration
		consumed int
	)
	for _, m := range periodToken.FindAllStringSubmatchIndex(s, -1) {
		if m[0] != consumed {
			return 0, fmt.Errorf("invalid period %q", s)
		}
		consumed = m[1]
		n, err := strconv.ParseFloat(s[m[2]:m[3]], 64)
		if err != nil {
			return 0, fmt.Errorf("invalid period %q: %w", s, err)
		}
		var unit time.Duration
		switch s[m[4]:m[5]] {
		case "ms":
			unit = time.Millisecond
		case "s":
			unit = time.Second
		case "m":
			unit = time.Minute
		case "h":
			unit = time.Hour
		case "d":
			unit = 24 * time.Hour
		case "w":
			unit = 7 * 24 * time.Hour
		}
		v := n * float64(unit)
		if v >= math.MaxInt64 || time.Duration(v) > math.MaxInt64-total {
			return 0, fmt.Errorf("period %q too large", s)
		}
		total += time.Duration(v)
	}
	if consumed != len(s) {
		return 0, fmt.Errorf("invalid period %q", s)
	}
	if total <= 0 {
		return 0, fmt.Errorf("period %q must be positive", s)
	}
	return total, nil
}
