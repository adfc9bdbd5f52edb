package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

func TestAnalyzeTrend(t *testing.T) {
	withEC2 := func(at time.Time, price string) *pricing.Snapshot {
		m, err := pricing.ParsePriceMap(map[string]string{"m5.large": price})
		require.NoError(t, err)
		live := map[pricing.Category]pricing.PriceMap{
			pricing.CategoryEC2:          m,
			pricing.CategoryEBS:          pricing.Fallback(pricing.CategoryEBS),
			pricing.CategoryS3:           pricing.Fallback(pricing.CategoryS3),
			pricing.CategoryDataTransfer: pricing.Fallback(pricing.CategoryDataTransfer),
		}
		return pricing.Assemble(at, live)
	}

	first := withEC2(epoch, "0.096")
	cached := pricing.Reuse(first, epoch.Add(24*time.Hour))
	partial := pricing.Assemble(epoch.Add(36*time.Hour), map[pricing.Category]pricing.PriceMap{
		pricing.CategoryEBS: pricing.Fallback(pricing.CategoryEBS),
	})
	last := withEC2(epoch.Add(48*time.Hour), "0.12")

	tr := AnalyzeTrend([]*pricing.Snapshot{first, cached, partial, last})
	assert.Equal(t, 4, tr.Snapshots)
	assert.Equal(t, 3, tr.Observations)

	var m5 *KeyTrend
	for i := range tr.Keys {
		if tr.Keys[i].Category == pricing.CategoryEC2 && tr.Keys[i].Key == "m5.large" {
			m5 = &tr.Keys[i]
		}
	}
	require.NotNil(t, m5)
	assert.Equal(t, 2, m5.Samples, "fallback-filled categories are not observations")
	assert.Equal(t, "0.024", m5.Change.String())
	require.NotNil(t, m5.ChangePct)
	assert.Equal(t, "25", m5.ChangePct.String())
	assert.Equal(t, last.CapturedAt, m5.LastAt)

	require.Len(t, tr.Alerts, 1)
	assert.Contains(t, tr.Alerts[0], "ec2/m5.large")

	assert.Equal(t, pricing.CategoryEC2, tr.Keys[0].Category)
	inbound := tr.Keys[len(tr.Keys)-4]
	assert.Equal(t, "inbound", inbound.Key)
	assert.Nil(t, inbound.ChangePct)
}

func TestAnalyzeTrendEmpty(t *testing.T) {
	tr := AnalyzeTrend(nil)
	assert.Zero(t, tr.Snapshots)
	assert.Empty(t, tr.Keys)
}
