// Package pricing defines the pricing snapshot model shared by the fetcher,
// the snapshot stores and the cost consumers.
package pricing

import (
	"slices"
	"time"

	"github.com/segmentio/ksuid"
)

// Category identifies one priced service family.
type Category string

const (
	CategoryEC2          Category = "ec2"
	CategoryEBS          Category = "ebs"
	CategoryS3           Category = "s3"
	CategoryDataTransfer Category = "data_transfer"
)

// Categories lists every category in canonical order.
var Categories = []Category{CategoryEC2, CategoryEBS, CategoryS3, CategoryDataTransfer}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return slices.Contains(Categories, c)
}

// Provenance describes how fresh a snapshot is.
type Provenance string

const (
	ProvenanceLive           Provenance = "LIVE"
	ProvenancePartial        Provenance = "PARTIAL"
	ProvenanceCached         Provenance = "CACHED"
	ProvenanceStaticFallback Provenance = "STATIC_FALLBACK"
)

// Valid reports whether p is a known provenance.
func (p Provenance) Valid() bool {
	switch p {
	case ProvenanceLive, ProvenancePartial, ProvenanceCached, ProvenanceStaticFallback:
		return true
	}
	return false
}

// Degraded reports whether any part of the data is not live.
func (p Provenance) Degraded() bool {
	return p != ProvenanceLive
}

// Source marks where a single category's prices came from.
type Source string

const (
	SourceLive     Source = "live"
	SourceFallback Source = "fallback"
)

// Snapshot is one immutable capture of all four categories.
// Fields must be treated as read-only once the snapshot is built.
type Snapshot struct {
	ID          string
	CapturedAt  time.Time
	Provenance  Provenance
	Sources     map[Category]Source
	DerivedFrom string // ID of the stored snapshot a CACHED snapshot reuses

	EC2          PriceMap
	EBS          PriceMap
	S3           PriceMap
	DataTransfer PriceMap
}

// Prices returns the price map of a category.
func (s *Snapshot) Prices(c Category) PriceMap {
	switch c {
	case CategoryEC2:
		return s.EC2
	case CategoryEBS:
		return s.EBS
	case CategoryS3:
		return s.S3
	case CategoryDataTransfer:
		return s.DataTransfer
	}
	return PriceMap{}
}

// Source returns the origin of a category's prices.
func (s *Snapshot) Source(c Category) Source {
	return s.Sources[c]
}

// FallbackCategories lists categories filled from the fallback table.
func (s *Snapshot) FallbackCategories() []Category {
	var out []Category
	for _, c := range Categories {
		if s.Sources[c] == SourceFallback {
			out = append(out, c)
		}
	}
	return out
}

// Assemble builds a snapshot from live category results. Categories missing
// from live are filled from the fallback table and flagged. With nothing live
// the result is a STATIC_FALLBACK snapshot.
func Assemble(capturedAt time.Time, live map[Category]PriceMap) *Snapshot {
	s := newSnapshot(capturedAt)
	for _, c := range Categories {
		prices, ok := live[c]
		if ok {
			s.Sources[c] = SourceLive
		} else {
			prices = Fallback(c)
			s.Sources[c] = SourceFallback
		}
		s.setPrices(c, prices)
	}

	switch len(s.FallbackCategories()) {
	case 0:
		s.Provenance = ProvenanceLive
	case len(Categories):
		s.Provenance = ProvenanceStaticFallback
	default:
		s.Provenance = ProvenancePartial
	}
	return s
}

// StaticFallback builds a snapshot entirely from the fallback table.
func StaticFallback(capturedAt time.Time) *Snapshot {
	s := newSnapshot(capturedAt)
	for _, c := range Categories {
		s.Sources[c] = SourceFallback
		s.setPrices(c, Fallback(c))
	}
	s.Provenance = ProvenanceStaticFallback
	return s
}

// Reuse builds a CACHED snapshot carrying the prices of a stored snapshot.
// Category sources are kept so consumers still see which values were static.
// Reusing a CACHED snapshot points DerivedFrom at the snapshot it came from.
func Reuse(src *Snapshot, capturedAt time.Time) *Snapshot {
	s := newSnapshot(capturedAt)
	for _, c := range Categories {
		s.Sources[c] = src.Source(c)
		s.setPrices(c, src.Prices(c))
	}
	s.Provenance = ProvenanceCached
	s.DerivedFrom = src.ID
	if src.Provenance == ProvenanceCached && src.DerivedFrom != "" {
		s.DerivedFrom = src.DerivedFrom
	}
	return s
}

func newSnapshot(capturedAt time.Time) *Snapshot {
	capturedAt = capturedAt.UTC().Truncate(time.Microsecond)
	id, err := ksuid.NewRandomWithTime(capturedAt)
	if err != nil {
		id = ksuid.New()
	}
	return &Snapshot{
		ID:         id.String(),
		CapturedAt: capturedAt,
		Sources:    make(map[Category]Source, len(Categories)),
	}
}

func (s *Snapshot) setPrices(c Category, m PriceMap) {
	switch c {
	case CategoryEC2:
		s.EC2 = m
	case CategoryEBS:
		s.EBS = m
	case CategoryS3:
		s.S3 = m
	case CategoryDataTransfer:
		s.DataTransfer = m
	}
}
