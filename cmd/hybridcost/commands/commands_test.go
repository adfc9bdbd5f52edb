package commands

import (
	"bytes"
	"encoding/json"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func isolate(t *testing.T) []string {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	return []string{"--storage", "local", "--storage-path", t.TempDir(), "--no-telemetry", "--mock"}
}

func TestFetchThenLatest(t *testing.T) {
	common := isolate(t)

	out, err := run(t, append([]string{"fetch", "-o", "json"}, common...)...)
	require.NoError(t, err)
	fetched, err := pricing.DecodeSnapshot([]byte(out))
	require.NoError(t, err)
	assert.Equal(t, pricing.ProvenanceLive, fetched.Provenance)

	out, err = run(t, append([]string{"latest", "-o", "json"}, common...)...)
	require.NoError(t, err)
	latest, err := pricing.DecodeSnapshot([]byte(out))
	require.NoError(t, err)
	assert.True(t, fetched.Equal(latest))

	out, err = run(t, append([]string{"latest"}, common...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "PRICING SNAPSHOT")
	assert.Contains(t, out, "t3.micro")
}

func TestLatestOnEmptyStore(t *testing.T) {
	out, err := run(t, append([]string{"latest"}, isolate(t)...)...)
	require.NoError(t, err)
	assert.Contains(t, out, "No snapshot stored yet")
}

func TestHistory(t *testing.T) {
	common := isolate(t)
	for range 2 {
		_, err := run(t, append([]string{"fetch"}, common...)...)
		require.NoError(t, err)
	}

	out, err := run(t, append([]string{"history", "-o", "json"}, common...)...)
	require.NoError(t, err)
	var view struct {
		Snapshots []json.RawMessage `json:"snapshots"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &view))
	assert.Len(t, view.Snapshots, 2)

	_, err = run(t, append([]string{"history", "--from", "2026-02-01", "--to", "2026-01-01"}, common...)...)
	assert.ErrorContains(t, err, "is after")

	_, err = run(t, append([]string{"history", "--from", "last week"}, common...)...)
	assert.Error(t, err)
}

func TestQuoteFallsBackToStaticPrices(t *testing.T) {
	out, err := run(t, append([]string{"quote", "--object-gb", "1000", "--years", "1", "--instances", "0", "-o", "json"}, isolate(t)...)...)
	require.NoError(t, err)

	var cmp struct {
		AWS struct {
			Provenance pricing.Provenance `json:"provenance"`
			Total      string             `json:"total"`
		} `json:"aws"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cmp))
	assert.Equal(t, pricing.ProvenanceStaticFallback, cmp.AWS.Provenance)
	assert.Equal(t, "276", cmp.AWS.Total)
}

func TestQuoteAppliesManualDiscount(t *testing.T) {
	out, err := run(t, append([]string{"quote", "--discount", "0.5", "--years", "1", "-o", "json"}, isolate(t)...)...)
	require.NoError(t, err)

	var cmp struct {
		AWS struct {
			ComputeDiscount string `json:"compute_discount"`
			Items           []struct {
				Key     string `json:"key"`
				Monthly string `json:"monthly"`
			} `json:"items"`
		} `json:"aws"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cmp))
	assert.Equal(t, "0.5", cmp.AWS.ComputeDiscount)
	require.Len(t, cmp.AWS.Items, 1)
	assert.Equal(t, "t3.medium", cmp.AWS.Items[0].Key)
	assert.Equal(t, "15.184", cmp.AWS.Items[0].Monthly)
}

func TestQuoteComparesOnPremises(t *testing.T) {
	out, err := run(t, append([]string{"quote", "--instances", "2", "--bandwidth", "10", "--utilization", "50", "--years", "2", "-o", "json"}, isolate(t)...)...)
	require.NoError(t, err)

	var cmp struct {
		OnPrem struct {
			Upfront string `json:"upfront"`
			Annual  string `json:"annual"`
		} `json:"on_prem"`
		Projection []struct {
			Year   int    `json:"year"`
			OnPrem string `json:"on_prem"`
			AWS    string `json:"aws"`
		} `json:"projection"`
		Cheaper string `json:"cheaper"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cmp))
	assert.Equal(t, "480", cmp.OnPrem.Upfront)
	assert.Equal(t, "591.168", cmp.OnPrem.Annual)
	require.Len(t, cmp.Projection, 2)
	assert.Equal(t, "1071.168", cmp.Projection[0].OnPrem)
	assert.Equal(t, "728.832", cmp.Projection[0].AWS)
	assert.Equal(t, "1662.336", cmp.Projection[1].OnPrem)
	assert.Equal(t, "aws", cmp.Cheaper)
}

func TestQuoteUsesStoredSnapshot(t *testing.T) {
	args := isolate(t)
	_, err := run(t, append([]string{"fetch", "-o", "json"}, args...)...)
	require.NoError(t, err)

	out, err := run(t, append([]string{"quote", "--object-gb", "100", "--years", "1", "-o", "json"}, args...)...)
	require.NoError(t, err)

	var cmp struct {
		AWS struct {
			Provenance pricing.Provenance `json:"provenance"`
		} `json:"aws"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &cmp))
	assert.Equal(t, pricing.ProvenanceLive, cmp.AWS.Provenance)
}

func TestRejectsUnknownOutput(t *testing.T) {
	_, err := run(t, append([]string{"latest", "-o", "yaml"}, isolate(t)...)...)
	assert.ErrorContains(t, err, "unknown output format")
}

func TestHelpListsCommands(t *testing.T) {
	out, err := run(t, "--help")
	require.NoError(t, err)
	for _, name := range []string{"serve", "fetch", "latest", "history", "quote"} {
		assert.Contains(t, out, name)
	}
}
