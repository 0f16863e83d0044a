package grader

import (
	"encoding/json"
	"fmt"
	"os"
	"slices"
)

// Checks is the list of selectors read from a checks file.
type Checks []string

// LoadChecks reads a checks file: a JSON array of selector strings.
//
// The returned list keeps file order; use Sorted before grading. A JSON null
// decodes to an empty list.
func LoadChecks(path string) (Checks, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read checks file: %w", err)
	}

	var c Checks
	if err := json.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("parse checks json %s: %w", path, err)
	}
	return c, nil
}

// Sorted returns an ascending copy. Duplicates are kept.
func (c Checks) Sorted() Checks {
	out := slices.Clone(c)
	// Byte order, i.e. code point order. UTF-16 code unit order differs for
	// characters above U+FFFF (U+1F600 sorts after U+FF01 here).
	slices.Sort(out)
	return out
}
