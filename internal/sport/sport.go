// Package sport maps each platform's activity-type vocabulary onto a small
// closed set of canonical sports. The mapping is data, not code: the default
// table is embedded, and operators can supply a replacement JSON file to add
// new sport types without a rebuild.
package sport

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
)

// Other is the canonical sport for anything the table doesn't know.
const Other = "other"

//go:embed sports.json
var defaultTable []byte

// Table resolves raw platform sport types to canonical ones and knows which
// canonical sports count as equivalent for matching purposes.
type Table struct {
	synonyms map[string]string
	groups   [][]string
}

type tableFile struct {
	Canonical []string          `json:"canonical"`
	Synonyms  map[string]string `json:"synonyms"`
	Groups    [][]string        `json:"groups"`
}

// Default returns the embedded table.
func Default() *Table {
	t, err := parse(defaultTable)
	if err != nil {
		// The embedded asset is validated by tests; reaching this means a
		// broken build, not a runtime condition.
		panic(fmt.Sprintf("sport: embedded table invalid: %v", err))
	}
	return t
}

// LoadFile reads a replacement table from disk.
func LoadFile(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading sport table: %w", err)
	}
	t, err := parse(data)
	if err != nil {
		return nil, fmt.Errorf("parsing sport table %s: %w", path, err)
	}
	return t, nil
}

func parse(data []byte) (*Table, error) {
	var f tableFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, err
	}
	if len(f.Synonyms) == 0 {
		return nil, fmt.Errorf("table has no synonyms")
	}
	canonical := make(map[string]bool, len(f.Canonical))
	for _, c := range f.Canonical {
		canonical[c] = true
	}
	for raw, canon := range f.Synonyms {
		if !canonical[canon] {
			return nil, fmt.Errorf("synonym %q maps to unknown canonical sport %q", raw, canon)
		}
	}
	return &Table{synonyms: f.Synonyms, groups: f.Groups}, nil
}

// Normalize lowercases, snake-cases and resolves a raw sport type.
// Unknown inputs map to Other.
func (t *Table) Normalize(raw string) string {
	key := strings.ToLower(strings.TrimSpace(raw))
	key = strings.ReplaceAll(key, " ", "_")
	key = strings.ReplaceAll(key, "-", "_")
	if canon, ok := t.synonyms[key]; ok {
		return canon
	}
	return Other
}

// Equivalent reports whether two canonical sports are the same or belong to
// the same equivalence group (e.g. ride and virtual_ride).
func (t *Table) Equivalent(a, b string) bool {
	if a == b {
		return a != Other // two unknowns tell us nothing
	}
	for _, g := range t.groups {
		var hasA, hasB bool
		for _, s := range g {
			if s == a {
				hasA = true
			}
			if s == b {
				hasB = true
			}
		}
		if hasA && hasB {
			return true
		}
	}
	return false
}
