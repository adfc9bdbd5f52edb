// Package source fetches category prices from a pricing backend.
package source

import (
	"context"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

// Result carries the categories a fetch could price and the ones it could not.
// Failed categories are absent from Prices.
type Result struct {
	Prices map[pricing.Category]pricing.PriceMap
	Failed map[pricing.Category]*pricing.CategoryFetchError
}

func newResult() *Result {
	return &Result{
		Prices: make(map[pricing.Category]pricing.PriceMap, len(pricing.Categories)),
		Failed: make(map[pricing.Category]*pricing.CategoryFetchError),
	}
}

// Complete reports whether every category was priced.
func (r *Result) Complete() bool {
	return len(r.Failed) == 0
}

// FailedCategories returns failed categories in canonical order.
func (r *Result) FailedCategories() []pricing.Category {
	var out []pricing.Category
	for _, c := range pricing.Categories {
		if _, ok := r.Failed[c]; ok {
			out = append(out, c)
		}
	}
	return out
}

// Source retrieves a full set of category prices.
//
// Fetch returns *pricing.TransportUnavailableError when the backend cannot be
// reached before any category is attempted, and the context error when ctx is
// cancelled. Category failures are reported in Result.Failed and never as the
// returned error.
type Source interface {
	Fetch(ctx context.Context) (*Result, error)
}
