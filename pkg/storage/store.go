// Package storage persists pricing snapshots in an append-only history.
package storage

import (
	"context"
	"errors"
	"iter"
	"time"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

var (
	// ErrNotFound is returned when a requested object does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a snapshot ID is appended twice.
	ErrDuplicate = errors.New("snapshot already stored")
)

// Store is an append-only, time-indexed snapshot history.
//
// Append encodes the snapshot through pricing.EncodeSnapshot and writes
// nothing when encoding fails. Latest returns the most recently appended
// snapshot regardless of provenance, or nil when the store is empty.
// History yields snapshots with from <= CapturedAt <= to in ascending
// capture order, ties broken by append order. The sequence is lazy and each
// range over it queries the backend again.
type Store interface {
	Append(ctx context.Context, s *pricing.Snapshot) (string, error)
	Latest(ctx context.Context) (*pricing.Snapshot, error)
	History(ctx context.Context, from, to time.Time) iter.Seq2[*pricing.Snapshot, error]
	Close() error
}

// Collect drains a history sequence, stopping at the first error.
func Collect(seq iter.Seq2[*pricing.Snapshot, error]) ([]*pricing.Snapshot, error) {
	var out []*pricing.Snapshot
	for s, err := range seq {
		if err != nil {
			return out, err
		}
		out = append(out, s)
	}
	return out, nil
}

func inRange(t, from, to time.Time) bool {
	return !t.Before(from) && !t.After(to)
}
