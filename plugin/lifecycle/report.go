package lifecycle

import (
	"fmt"
	"strings"
	"time"
)

// Report describes the outcome of a Start or Reload for administrators.
type Report struct {
	// Operation is "start" or "reload".
	Operation string
	// Generation is the generation of the snapshot current after the call.
	Generation uint64
	// Source is the name of the configuration source that was read.
	Source string
	// Activated holds the ids of the features in the published snapshot.
	Activated []string
	// Added, Removed and Changed compare the published snapshot against the
	// snapshot it replaced.
	Added   []string
	Removed []string
	Changed []string
	// Errors holds one error per rejected entry or invalid document key.
	Errors []error
	// Warnings holds non-fatal remarks about the document.
	Warnings []string
	// Err is the load failure that prevented a new snapshot from being
	// published, if any.
	Err      error
	Duration time.Duration
}

// OK reports if a new snapshot was published.
func (r Report) OK() bool {
	return r.Err == nil
}

// Summary returns a multi-line, human readable description of the report.
func (r Report) Summary() string {
	var b strings.Builder
	if r.Err != nil {
		fmt.Fprintf(&b, "%s failed: %v\n", capitalise(r.Operation), r.Err)
		if r.Operation == "reload" {
			fmt.Fprintf(&b, "Previous configuration (generation %d) kept active.\n", r.Generation)
		} else {
			b.WriteString("No features are active.\n")
		}
	} else {
		fmt.Fprintf(&b, "%s of %s succeeded (generation %d, %s): %d feature(s) active.\n",
			capitalise(r.Operation), r.Source, r.Generation, r.Duration.Round(time.Millisecond), len(r.Activated))
		writeList(&b, "Added", r.Added)
		writeList(&b, "Removed", r.Removed)
		writeList(&b, "Changed", r.Changed)
	}
	for _, err := range r.Errors {
		fmt.Fprintf(&b, "Error: %v\n", err)
	}
	for _, w := range r.Warnings {
		fmt.Fprintf(&b, "Warning: %s\n", w)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

func writeList(b *strings.Builder, label string, ids []string) {
	if len(ids) > 0 {
		fmt.Fprintf(b, "%s: %s\n", label, strings.Join(ids, ", "))
	}
}

func capitalise(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}
