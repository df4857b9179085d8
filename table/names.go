package table

import (
	"fmt"
	"strings"
)

var nameReplacer = strings.NewReplacer(" ", "_", "(", "", ")", "")

// NormalizeName trims, lowercases, turns spaces into underscores and drops
// parentheses. Applying it twice gives the same result as applying it once.
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = nameReplacer.Replace(name)
	return strings.TrimSpace(name)
}

// NormalizeNames normalizes a header and rejects collisions.
func NormalizeNames(names []string) ([]string, error) {
	out := make([]string, len(names))
	seen := make(map[string]int, len(names))
	for i, name := range names {
		normalized := NormalizeName(name)
		if prev, ok := seen[normalized]; ok {
			return nil, fmt.Errorf("%w: %q and %q both become %q", ErrDuplicateColumn, names[prev], name, normalized)
		}
		seen[normalized] = i
		out[i] = normalized
	}
	return out, nil
}
