package storage

import (
	"cmp"
	"fmt"
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

// AlertThreshold is the relative price move (percent) reported in Trend.Alerts.
var AlertThreshold = decimal.NewFromInt(10)

// KeyTrend is the observed movement of one price over a history window.
type KeyTrend struct {
	Category  pricing.Category `json:"category"`
	Key       string           `json:"key"`
	First     decimal.Decimal  `json:"first"`
	Last      decimal.Decimal  `json:"last"`
	FirstAt   time.Time        `json:"first_at"`
	LastAt    time.Time        `json:"last_at"`
	Change    decimal.Decimal  `json:"change"`
	ChangePct *decimal.Decimal `json:"change_pct,omitempty"` // nil when First is zero
	Samples   int              `json:"samples"`
}

// Trend summarises price movement across a series of snapshots.
type Trend struct {
	Snapshots    int        `json:"snapshots"`
	Observations int        `json:"observations"`
	Keys         []KeyTrend `json:"keys"`
	Alerts       []string   `json:"alerts,omitempty"`
}

// AnalyzeTrend compares the first and last live observation of every price
// key. Reused (CACHED) and static snapshots carry no new observation and are
// skipped, as are categories that were filled from the fallback table.
func AnalyzeTrend(history []*pricing.Snapshot) Trend {
	tr := Trend{Snapshots: len(history)}
	byKey := make(map[string]*KeyTrend)

	for _, s := range history {
		if s.Provenance == pricing.ProvenanceCached || s.Provenance == pricing.ProvenanceStaticFallback {
			continue
		}
		tr.Observations++
		for _, c := range pricing.Categories {
			if s.Source(c) != pricing.SourceLive {
				continue
			}
			for key, price := range s.Prices(c).All() {
				id := string(c) + "/" + key
				kt, ok := byKey[id]
				if !ok {
					kt = &KeyTrend{Category: c, Key: key, First: price, FirstAt: s.CapturedAt}
					byKey[id] = kt
				}
				kt.Last, kt.LastAt = price, s.CapturedAt
				kt.Samples++
			}
		}
	}

	for _, kt := range byKey {
		kt.Change = kt.Last.Sub(kt.First)
		if !kt.First.IsZero() {
			pct := kt.Change.Div(kt.First).Mul(decimal.NewFromInt(100)).Round(2)
			kt.ChangePct = &pct
			if pct.Abs().GreaterThanOrEqual(AlertThreshold) {
				tr.Alerts = append(tr.Alerts, fmt.Sprintf("%s/%s moved %s%% (%s -> %s)", kt.Category, kt.Key, pct, kt.First, kt.Last))
			}
		}
		tr.Keys = append(tr.Keys, *kt)
	}

	slices.SortFunc(tr.Keys, func(a, b KeyTrend) int {
		if a.Category != b.Category {
			return slices.Index(pricing.Categories, a.Category) - slices.Index(pricing.Categories, b.Category)
		}
		return cmp.Compare(a.Key, b.Key)
	})
	slices.Sort(tr.Alerts)
	return tr
}
