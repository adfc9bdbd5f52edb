package storage

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

type memoryRecord struct {
	id         string
	capturedAt time.Time
	doc        []byte
}

// MemoryStore keeps encoded snapshots in process memory.
type MemoryStore struct {
	mu      sync.RWMutex
	records []memoryRecord
	ids     map[string]struct{}
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

func (m *MemoryStore) Append(ctx context.Context, s *pricing.Snapshot) (string, error) {
	doc, err := pricing.EncodeSnapshot(s)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ids[s.ID]; ok {
		return "", fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
	}
	m.ids[s.ID] = struct{}{}
	m.records = append(m.records, memoryRecord{id: s.ID, capturedAt: s.CapturedAt, doc: doc})
	return s.ID, nil
}

func (m *MemoryStore) Latest(ctx context.Context) (*pricing.Snapshot, error) {
	m.mu.RLock()
	if len(m.records) == 0 {
		m.mu.RUnlock()
		return nil, nil
	}
	doc := m.records[len(m.records)-1].doc
	m.mu.RUnlock()

	return pricing.DecodeSnapshot(doc)
}

func (m *MemoryStore) History(ctx context.Context, from, to time.Time) iter.Seq2[*pricing.Snapshot, error] {
	return func(yield func(*pricing.Snapshot, error) bool) {
		m.mu.RLock()
		var matched []memoryRecord
		for _, r := range m.records {
			if inRange(r.capturedAt, from, to) {
				matched = append(matched, r)
			}
		}
		m.mu.RUnlock()

		slices.SortStableFunc(matched, func(a, b memoryRecord) int {
			return a.capturedAt.Compare(b.capturedAt)
		})

		for _, r := range matched {
			if err := ctx.Err(); err != nil {
				yield(nil, err)
				return
			}
			s, err := pricing.DecodeSnapshot(r.doc)
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}

// Len returns the number of stored snapshots.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records)
}

func (m *MemoryStore) Close() error { return nil }
