package grader

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// Entry is one graded selector.
type Entry struct {
	Selector string
	Present  bool
}

// Result maps selectors to presence while remembering insertion order, so
// the report lists keys in the order they were graded.
type Result struct {
	entries []Entry
	index   map[string]int
}

// NewResult returns an empty Result.
func NewResult() *Result {
	return &Result{index: make(map[string]int)}
}

// Set records present for selector. Setting an existing selector overwrites
// the value in place.
func (r *Result) Set(selector string, present bool) {
	if i, ok := r.index[selector]; ok {
		r.entries[i].Present = present
		return
	}
	r.index[selector] = len(r.entries)
	r.entries = append(r.entries, Entry{Selector: selector, Present: present})
}

// Get returns the value for selector and whether it was graded.
func (r *Result) Get(selector string) (present, ok bool) {
	i, ok := r.index[selector]
	if !ok {
		return false, false
	}
	return r.entries[i].Present, true
}

// Len returns the number of distinct selectors.
func (r *Result) Len() int { return len(r.entries) }

// Passed returns how many selectors were present.
func (r *Result) Passed() int {
	n := 0
	for _, e := range r.entries {
		if e.Present {
			n++
		}
	}
	return n
}

// Entries returns a copy of the entries in order.
func (r *Result) Entries() []Entry {
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// MarshalJSON renders the result as a compact JSON object in entry order.
// HTML characters in selectors are not escaped.
func (r *Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)

	out := []byte{'{'}
	for i, e := range r.entries {
		if i > 0 {
			out = append(out, ',')
		}
		buf.Reset()
		if err := enc.Encode(e.Selector); err != nil {
			return nil, fmt.Errorf("encode key %q: %w", e.Selector, err)
		}
		out = append(out, bytes.TrimRight(buf.Bytes(), "\n")...)
		out = append(out, ':')
		if e.Present {
			out = append(out, "true"...)
		} else {
			out = append(out, "false"...)
		}
	}
	return append(out, '}'), nil
}

// WriteReport writes r to w as JSON indented with four spaces, followed by a
// newline.
func WriteReport(w io.Writer, r *Result) error {
	raw, err := r.MarshalJSON()
	if err != nil {
		return err
	}
	var out bytes.Buffer
	if err := json.Indent(&out, raw, "", "    "); err != nil {
		return fmt.Errorf("indent report: %w", err)
	}
	out.WriteByte('\n')
	if _, err := w.Write(out.Bytes()); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
