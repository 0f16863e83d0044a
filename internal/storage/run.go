package storage

import (
	"strings"
	"time"

	"golang.org/x/text/unicode/norm"
)

// Table names shared by every backend.
const (
	RunsTable   = "grade_runs"
	ChecksTable = "grade_checks"
)

// Run is one graded document.
type Run struct {
	Source     string // path or URL
	Mode       string // "file" | "url"
	ChecksFile string
	GradedAt   time.Time
	Checks     []Check
}

// Check is one selector outcome within a Run.
type Check struct {
	Selector string
	Present  bool
}

// Passed counts present checks among NormalizedChecks, so it never exceeds
// the number of grade_checks rows a backend writes for r.
func (r Run) Passed() int {
	return CountPassed(r.NormalizedChecks())
}

// CountPassed counts present checks.
func CountPassed(checks []Check) int {
	n := 0
	for _, c := range checks {
		if c.Present {
			n++
		}
	}
	return n
}

// NormalizedChecks returns the checks with selectors normalized by
// NormalizeSelector, keeping the first occurrence of each key.
//
// grade_checks has UNIQUE(run_id, selector); collapsing here keeps a single
// multi-row INSERT from colliding with itself on backends that do not
// dedupe inside VALUES.
func (r Run) NormalizedChecks() []Check {
	seen := make(map[string]struct{}, len(r.Checks))
	out := make([]Check, 0, len(r.Checks))
	for _, c := range r.Checks {
		k := NormalizeSelector(c.Selector)
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, Check{Selector: k, Present: c.Present})
	}
	return out
}

// NormalizeSelector converts a selector to the canonical form stored in
// grade_checks: surrounding whitespace trimmed, Unicode NFC.
func NormalizeSelector(s string) string {
	return norm.NFC.String(strings.TrimSpace(s))
}

// Batches splits items into consecutive slices of at most size elements.
func Batches[T any](items []T, size int) [][]T {
	if size <= 0 {
		size = len(items)
	}
	var out [][]T
	for len(items) > 0 {
		n := min(size, len(items))
		out = append(out, items[:n])
		items = items[n:]
	}
	return out
}
