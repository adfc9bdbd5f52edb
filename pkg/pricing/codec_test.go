package pricing

import (
	"testing"
	"time"

	"github.com/sebdah/goldie/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func goldenSnapshot(t *testing.T) *Snapshot {
	return &Snapshot{
		ID:         "2ZfKqKXg0sY1e6pU3J5m1nQ9Ack",
		CapturedAt: time.Date(2026, 3, 1, 12, 0, 0, 500000000, time.UTC),
		Provenance: ProvenancePartial,
		Sources: map[Category]Source{
			CategoryEC2:          SourceFallback,
			CategoryEBS:          SourceLive,
			CategoryS3:           SourceLive,
			CategoryDataTransfer: SourceLive,
		},
		EC2:          mustPrices(t, map[string]string{"t3.micro": "0.0104"}),
		EBS:          mustPrices(t, map[string]string{"gp3": "0.08"}),
		S3:           mustPrices(t, map[string]string{"STANDARD": "0.023"}),
		DataTransfer: mustPrices(t, map[string]string{"internet_egress": "0.09", "inbound": "0"}),
	}
}

func TestEncodeSnapshotGolden(t *testing.T) {
	data, err := EncodeSnapshot(goldenSnapshot(t))
	require.NoError(t, err)

	g := goldie.New(t)
	g.Assert(t, t.Name(), data)
}

func TestCodecRoundTrip(t *testing.T) {
	cases := map[string]*Snapshot{
		"static":  FallbackSnapshot(time.Now()),
		"partial": goldenSnapshot(t),
		"cached":  Reuse(goldenSnapshot(t), time.Now()),
	}
	for name, s := range cases {
		t.Run(name, func(t *testing.T) {
			data, err := EncodeSnapshot(s)
			require.NoError(t, err)

			decoded, err := DecodeSnapshot(data)
			require.NoError(t, err)
			assert.True(t, s.Equal(decoded))

			again, err := EncodeSnapshot(decoded)
			require.NoError(t, err)
			assert.Equal(t, string(data), string(again))
		})
	}
}

func TestCodecPreservesDecimalPrecision(t *testing.T) {
	s := goldenSnapshot(t)
	s.EC2 = mustPrices(t, map[string]string{"t3.micro": "0.010400000000000000017"})

	data, err := EncodeSnapshot(s)
	require.NoError(t, err)
	decoded, err := DecodeSnapshot(data)
	require.NoError(t, err)

	price, _ := decoded.EC2.Get("t3.micro")
	assert.Equal(t, "0.010400000000000000017", price.String())
}

func TestEncodeSnapshotRejectsLossyValues(t *testing.T) {
	t.Run("sub-microsecond capture time", func(t *testing.T) {
		s := goldenSnapshot(t)
		s.CapturedAt = s.CapturedAt.Add(7 * time.Nanosecond)

		_, err := EncodeSnapshot(s)
		var encErr *EncodingError
		require.ErrorAs(t, err, &encErr)
		assert.Equal(t, s.ID, encErr.SnapshotID)
	})

	t.Run("unknown provenance", func(t *testing.T) {
		s := goldenSnapshot(t)
		s.Provenance = "FRESH"

		_, err := EncodeSnapshot(s)
		var encErr *EncodingError
		require.ErrorAs(t, err, &encErr)
	})

	t.Run("missing category source", func(t *testing.T) {
		s := goldenSnapshot(t)
		delete(s.Sources, CategoryS3)

		_, err := EncodeSnapshot(s)
		var encErr *EncodingError
		require.ErrorAs(t, err, &encErr)
	})

	t.Run("nil", func(t *testing.T) {
		_, err := EncodeSnapshot(nil)
		var encErr *EncodingError
		require.ErrorAs(t, err, &encErr)
	})
}

func TestDecodeSnapshotRejectsBadDocuments(t *testing.T) {
	for name, doc := range map[string]string{
		"version":  `{"version":2}`,
		"negative": `{"version":1,"id":"x","captured_at":"2026-03-01T12:00:00.000000Z","provenance":"LIVE","category_provenance":{"ec2":"live","ebs":"live","s3":"live","data_transfer":"live"},"ec2":{"t3.micro":"-1"}}`,
		"time":     `{"version":1,"id":"x","captured_at":"yesterday"}`,
		"json":     `{`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := DecodeSnapshot([]byte(doc))
			require.Error(t, err)
		})
	}
}
