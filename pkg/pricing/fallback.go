package pricing

import (
	_ "embed"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"
)

//go:embed fallback.yaml
var fallbackYAML []byte

var fallbackTable = mustLoadFallback(fallbackYAML)

func mustLoadFallback(data []byte) map[Category]PriceMap {
	table, err := loadFallback(data)
	if err != nil {
		panic(fmt.Sprintf("pricing: embedded fallback table: %v", err))
	}
	return table
}

func loadFallback(data []byte) (map[Category]PriceMap, error) {
	var raw map[Category]map[string]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}

	table := make(map[Category]PriceMap, len(Categories))
	for _, c := range Categories {
		entries, ok := raw[c]
		if !ok || len(entries) == 0 {
			return nil, fmt.Errorf("category %s missing", c)
		}
		m, err := ParsePriceMap(entries)
		if err != nil {
			return nil, fmt.Errorf("category %s: %w", c, err)
		}
		table[c] = m
	}
	for c := range raw {
		if !c.Valid() {
			return nil, fmt.Errorf("unknown category %q", c)
		}
	}
	return table, nil
}

// Fallback returns the static prices for a category.
func Fallback(c Category) PriceMap {
	return fallbackTable[c]
}

// Keys returns the canonical keys priced for a category.
func Keys(c Category) []string {
	return fallbackTable[c].Keys()
}

// FallbackSnapshot builds a STATIC_FALLBACK snapshot captured at now.
func FallbackSnapshot(now time.Time) *Snapshot {
	return StaticFallback(now)
}
