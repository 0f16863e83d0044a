package grader

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"

	"htmlgrader/internal/metrics"
)

// ParseDocument parses html into a queryable document. The parser is
// lenient: malformed markup is repaired, not rejected.
func ParseDocument(src string) (*goquery.Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("parse html: %w", err)
	}
	return goquery.NewDocumentFromNode(root), nil
}

// CompileSelector compiles a CSS selector group (e.g. "h1, .x").
func CompileSelector(selector string) (cascadia.Selector, error) {
	sel, err := cascadia.Compile(selector)
	if err != nil {
		return nil, fmt.Errorf("invalid selector %q: %w", selector, err)
	}
	return sel, nil
}

// Check grades doc against checks in the order given, recording whether each
// selector matches at least one element. Callers pass a sorted list; see
// CheckFile.
//
// An invalid selector fails the whole check; no partial result is returned.
func Check(doc *goquery.Document, checks Checks) (*Result, error) {
	out := NewResult()
	for _, s := range checks {
		sel, err := CompileSelector(s)
		if err != nil {
			return nil, err
		}
		out.Set(s, doc.FindMatcher(sel).Length() > 0)
	}

	for _, e := range out.entries {
		result := "absent"
		if e.Present {
			result = "present"
		}
		metrics.IncCounter(metrics.ChecksTotal, 1, metrics.Labels{"result": result})
	}
	return out, nil
}

// CheckHTML parses src and grades it against the sorted checks.
func CheckHTML(src string, checks Checks) (*Result, error) {
	doc, err := ParseDocument(src)
	if err != nil {
		return nil, err
	}
	return Check(doc, checks.Sorted())
}

// CheckFile loads the checks file at checksPath and grades src against it.
func CheckFile(src, checksPath string) (*Result, error) {
	checks, err := LoadChecks(checksPath)
	if err != nil {
		return nil, err
	}
	return CheckHTML(src, checks)
}
