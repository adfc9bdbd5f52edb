package pricing

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"

	"github.com/shopspring/decimal"
)

// PriceMap maps a category key (instance type, volume type, storage class,
// transfer direction) to a unit price. The zero value is an empty map.
type PriceMap struct {
	prices map[string]decimal.Decimal
}

// NewPriceMap copies prices into an immutable PriceMap.
// Negative prices are rejected; zero is a valid price.
func NewPriceMap(prices map[string]decimal.Decimal) (PriceMap, error) {
	m := make(map[string]decimal.Decimal, len(prices))
	for key, price := range prices {
		if key == "" {
			return PriceMap{}, fmt.Errorf("%w: empty key", ErrInvalidPrice)
		}
		if price.IsNegative() {
			return PriceMap{}, fmt.Errorf("%w: %s=%s is negative", ErrInvalidPrice, key, price)
		}
		m[key] = price
	}
	return PriceMap{prices: m}, nil
}

// ParsePriceMap builds a PriceMap from decimal strings.
func ParsePriceMap(prices map[string]string) (PriceMap, error) {
	parsed := make(map[string]decimal.Decimal, len(prices))
	for key, raw := range prices {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return PriceMap{}, fmt.Errorf("%w: %s=%q: %v", ErrInvalidPrice, key, raw, err)
		}
		parsed[key] = d
	}
	return NewPriceMap(parsed)
}

// Get returns the price for key. A missing key means no price is available.
func (m PriceMap) Get(key string) (decimal.Decimal, bool) {
	d, ok := m.prices[key]
	return d, ok
}

func (m PriceMap) Len() int {
	return len(m.prices)
}

// Keys returns the keys in sorted order.
func (m PriceMap) Keys() []string {
	return slices.Sorted(maps.Keys(m.prices))
}

// All iterates over entries in key order.
func (m PriceMap) All() iter.Seq2[string, decimal.Decimal] {
	return func(yield func(string, decimal.Decimal) bool) {
		for _, k := range m.Keys() {
			if !yield(k, m.prices[k]) {
				return
			}
		}
	}
}

// Equal reports whether both maps hold the same keys with numerically equal prices.
func (m PriceMap) Equal(other PriceMap) bool {
	if len(m.prices) != len(other.prices) {
		return false
	}
	for k, v := range m.prices {
		o, ok := other.prices[k]
		if !ok || !v.Equal(o) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes prices as decimal strings.
func (m PriceMap) MarshalJSON() ([]byte, error) {
	out := make(map[string]string, len(m.prices))
	for k, v := range m.prices {
		out[k] = v.String()
	}
	return json.Marshal(out)
}

func (m *PriceMap) UnmarshalJSON(data []byte) error {
	var raw map[string]decimal.Decimal
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := NewPriceMap(raw)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}
