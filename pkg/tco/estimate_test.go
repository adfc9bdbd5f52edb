package tco

import (
	"testing"
	"time"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

func dec(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func item(t *testing.T, e *Estimate, key string) LineItem {
	t.Helper()
	for _, it := range e.Items {
		if it.Key == key {
			return it
		}
	}
	t.Fatalf("no line item %q in %+v", key, e.Items)
	return LineItem{}
}

func TestEstimateAWSFromFallback(t *testing.T) {
	snap := pricing.StaticFallback(at)
	w := Workload{
		CPUCores:        2,
		MemoryGB:        4,
		InstanceCount:   2,
		HoursPerMonth:   730,
		StorageGB:       100,
		StorageType:     StorageSSD,
		ObjectStorageGB: 1000,
		DataTransferGB:  600,
		Years:           3,
	}

	est, err := EstimateAWS(snap, w)
	require.NoError(t, err)

	assert.True(t, est.Complete())
	assert.True(t, est.Degraded)
	assert.Equal(t, pricing.ProvenanceStaticFallback, est.Provenance)
	assert.Len(t, est.FallbackCategories, 4)

	ec2 := item(t, est, "t3.medium")
	assert.True(t, ec2.Monthly.Equal(dec("60.736")), ec2.Monthly.String())
	assert.True(t, item(t, est, "gp3").Monthly.Equal(dec("8")))
	assert.True(t, item(t, est, "STANDARD").Monthly.Equal(dec("23")))
	assert.True(t, item(t, est, "internet_egress").Quantity.Equal(dec("500")))
	assert.True(t, item(t, est, "inter_az").Monthly.Equal(dec("0.6")))

	assert.True(t, est.Monthly.Equal(dec("137.336")), est.Monthly.String())
	assert.True(t, est.Total.Equal(dec("4944.096")), est.Total.String())
}

func TestEstimateAWSEgressUnderFreeTier(t *testing.T) {
	est, err := EstimateAWS(pricing.StaticFallback(at), Workload{DataTransferGB: 40, Years: 1})
	require.NoError(t, err)
	assert.True(t, item(t, est, "internet_egress").Monthly.IsZero())
	assert.True(t, est.Monthly.Equal(dec("0.04")), est.Monthly.String())
}

func TestEstimateAWSProvisionedIOPS(t *testing.T) {
	w := Workload{StorageGB: 100, StorageType: StorageNVME, StorageIOPS: 1000, Years: 1}
	est, err := EstimateAWS(pricing.StaticFallback(at), w)
	require.NoError(t, err)

	assert.True(t, item(t, est, "io2").Monthly.Equal(dec("12.5")))
	iops := item(t, est, "iops")
	assert.True(t, iops.Monthly.Equal(dec("65")))
	assert.Equal(t, pricing.SourceFallback, iops.Source)
}

func TestEstimateAWSReportsMissingPrices(t *testing.T) {
	live := map[pricing.Category]pricing.PriceMap{
		pricing.CategoryEC2: mustPrices(t, map[string]string{"x2.exotic": "3.5"}),
		pricing.CategoryEBS: mustPrices(t, map[string]string{"gp2": "0.1"}),
	}
	snap := pricing.Assemble(at, live)
	require.Equal(t, pricing.ProvenancePartial, snap.Provenance)

	w := Workload{
		CPUCores:        2,
		MemoryGB:        8,
		InstanceCount:   1,
		HoursPerMonth:   100,
		StorageGB:       10,
		ObjectStorageGB: 10,
		Years:           1,
	}
	est, err := EstimateAWS(snap, w)
	require.NoError(t, err)

	assert.False(t, est.Complete())
	assert.Equal(t, []MissingPrice{
		{Category: pricing.CategoryEC2, Key: ">=2vcpu/8gib"},
		{Category: pricing.CategoryEBS, Key: "gp3"},
	}, est.Missing)

	s3 := item(t, est, "STANDARD")
	assert.Equal(t, pricing.SourceFallback, s3.Source)
	assert.True(t, est.Monthly.Equal(dec("0.23")), est.Monthly.String())
}

func TestEstimateAWSOversizedWorkload(t *testing.T) {
	w := Workload{CPUCores: 64, MemoryGB: 256, InstanceCount: 1, HoursPerMonth: 730, Years: 1}
	est, err := EstimateAWS(pricing.StaticFallback(at), w)
	require.NoError(t, err)
	require.Len(t, est.Missing, 1)
	assert.Empty(t, est.Items)
	assert.True(t, est.Total.IsZero())
}

func TestEstimateAWSRejectsBadInput(t *testing.T) {
	_, err := EstimateAWS(nil, Workload{Years: 1})
	assert.ErrorIs(t, err, ErrNoSnapshot)

	_, err = EstimateAWS(pricing.StaticFallback(at), Workload{Years: 0})
	assert.Error(t, err)

	_, err = EstimateAWS(pricing.StaticFallback(at), Workload{Years: 1, StorageType: "TAPE"})
	assert.Error(t, err)
}

func TestSelectInstancePrefersCheapest(t *testing.T) {
	prices := mustPrices(t, map[string]string{
		"m5.large": "0.096",
		"c5.large": "0.085",
		"r5.large": "0.126",
	})
	name, rate, ok := SelectInstance(2, 4, prices)
	require.True(t, ok)
	assert.Equal(t, "c5.large", name)
	assert.True(t, rate.Equal(dec("0.085")))

	name, _, ok = SelectInstance(2, 16, prices)
	require.True(t, ok)
	assert.Equal(t, "r5.large", name)
}

func mustPrices(t *testing.T, raw map[string]string) pricing.PriceMap {
	t.Helper()
	m, err := pricing.ParsePriceMap(raw)
	require.NoError(t, err)
	return m
}
