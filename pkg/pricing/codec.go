package pricing

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

const (
	documentVersion = 1
	timeLayout      = "2006-01-02T15:04:05.000000Z07:00"
)

type document struct {
	Version      int                 `json:"version"`
	ID           string              `json:"id"`
	CapturedAt   string              `json:"captured_at"`
	Provenance   Provenance          `json:"provenance"`
	DerivedFrom  string              `json:"derived_from,omitempty"`
	Categories   map[Category]Source `json:"category_provenance"`
	EC2          PriceMap            `json:"ec2"`
	EBS          PriceMap            `json:"ebs"`
	S3           PriceMap            `json:"s3"`
	DataTransfer PriceMap            `json:"data_transfer"`
}

// MarshalJSON encodes the snapshot document. Prices are decimal strings and
// the capture time is kept at microsecond precision.
func (s *Snapshot) MarshalJSON() ([]byte, error) {
	return json.Marshal(document{
		Version:      documentVersion,
		ID:           s.ID,
		CapturedAt:   s.CapturedAt.UTC().Format(timeLayout),
		Provenance:   s.Provenance,
		DerivedFrom:  s.DerivedFrom,
		Categories:   s.Sources,
		EC2:          s.EC2,
		EBS:          s.EBS,
		S3:           s.S3,
		DataTransfer: s.DataTransfer,
	})
}

func (s *Snapshot) UnmarshalJSON(data []byte) error {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.Version != documentVersion {
		return fmt.Errorf("unsupported snapshot version %d", doc.Version)
	}
	capturedAt, err := time.Parse(timeLayout, doc.CapturedAt)
	if err != nil {
		return fmt.Errorf("captured_at: %w", err)
	}

	*s = Snapshot{
		ID:           doc.ID,
		CapturedAt:   capturedAt.UTC(),
		Provenance:   doc.Provenance,
		DerivedFrom:  doc.DerivedFrom,
		Sources:      doc.Categories,
		EC2:          doc.EC2,
		EBS:          doc.EBS,
		S3:           doc.S3,
		DataTransfer: doc.DataTransfer,
	}
	return s.validate()
}

func (s *Snapshot) validate() error {
	if s.ID == "" {
		return errors.New("snapshot id is empty")
	}
	if !s.Provenance.Valid() {
		return fmt.Errorf("unknown provenance %q", s.Provenance)
	}
	for _, c := range Categories {
		switch s.Sources[c] {
		case SourceLive, SourceFallback:
		default:
			return fmt.Errorf("category %s: unknown source %q", c, s.Sources[c])
		}
	}
	if len(s.Sources) != len(Categories) {
		return errors.New("unknown category in category_provenance")
	}
	return nil
}

// EncodeSnapshot serializes s and verifies that decoding the result yields an
// equal snapshot. Any loss is reported as *EncodingError.
func EncodeSnapshot(s *Snapshot) ([]byte, error) {
	if s == nil {
		return nil, &EncodingError{Err: errors.New("nil snapshot")}
	}
	if err := s.validate(); err != nil {
		return nil, &EncodingError{SnapshotID: s.ID, Err: err}
	}

	data, err := json.Marshal(s)
	if err != nil {
		return nil, &EncodingError{SnapshotID: s.ID, Err: err}
	}
	decoded, err := DecodeSnapshot(data)
	if err != nil {
		return nil, &EncodingError{SnapshotID: s.ID, Err: err}
	}
	if err := diff(s, decoded); err != nil {
		return nil, err
	}
	return data, nil
}

// DecodeSnapshot parses a document produced by EncodeSnapshot.
func DecodeSnapshot(data []byte) (*Snapshot, error) {
	s := new(Snapshot)
	if err := json.Unmarshal(data, s); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return s, nil
}

// Equal reports whether two snapshots carry the same identity, metadata and prices.
func (s *Snapshot) Equal(o *Snapshot) bool {
	if s == nil || o == nil {
		return s == o
	}
	return diff(s, o) == nil
}

func diff(want, got *Snapshot) error {
	mismatch := func(field string) error {
		return &EncodingError{SnapshotID: want.ID, Err: fmt.Errorf("%s does not round-trip", field)}
	}
	switch {
	case want.ID != got.ID:
		return mismatch("id")
	case !want.CapturedAt.Equal(got.CapturedAt):
		return mismatch("captured_at")
	case want.Provenance != got.Provenance:
		return mismatch("provenance")
	case want.DerivedFrom != got.DerivedFrom:
		return mismatch("derived_from")
	}

	for _, c := range Categories {
		if want.Source(c) != got.Source(c) {
			return &EncodingError{SnapshotID: want.ID, Category: c, Err: errors.New("category provenance does not round-trip")}
		}
		wm, gm := want.Prices(c), got.Prices(c)
		for key, price := range wm.All() {
			p, ok := gm.Get(key)
			if !ok || !p.Equal(price) {
				return &EncodingError{SnapshotID: want.ID, Category: c, Key: key, Err: errors.New("price does not round-trip")}
			}
		}
		if wm.Len() != gm.Len() {
			return &EncodingError{SnapshotID: want.ID, Category: c, Err: errors.New("price keys do not round-trip")}
		}
	}
	return nil
}
