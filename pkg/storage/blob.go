package storage

import (
	"cmp"
	"context"
	"fmt"
	"iter"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

const snapshotPrefix = "snapshots/"

// BlobSnapshotStore writes one object per snapshot. Object keys embed the
// capture time followed by the append time, so listing order is capture
// order with ties in append order, and range scans never read objects
// outside the range.
type BlobSnapshotStore struct {
	blobs BlobStore
	now   func() time.Time

	mu           sync.Mutex
	lastAppended int64
}

func NewBlobSnapshotStore(blobs BlobStore) *BlobSnapshotStore {
	return &BlobSnapshotStore{blobs: blobs, now: time.Now}
}

type blobKey struct {
	captured time.Time
	appended int64
}

func snapshotKey(s *pricing.Snapshot, appended int64) string {
	return fmt.Sprintf("%s%020d-%020d-%s.json", snapshotPrefix, s.CapturedAt.UnixMicro(), appended, s.ID)
}

func parseSnapshotKey(key string) (blobKey, bool) {
	name, ok := strings.CutPrefix(key, snapshotPrefix)
	if !ok || !strings.HasSuffix(name, ".json") {
		return blobKey{}, false
	}
	parts := strings.SplitN(name, "-", 3)
	if len(parts) != 3 {
		return blobKey{}, false
	}
	captured, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return blobKey{}, false
	}
	appended, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return blobKey{}, false
	}
	return blobKey{captured: time.UnixMicro(captured).UTC(), appended: appended}, true
}

// appendStamp is the wall clock in nanoseconds, strictly increasing within
// this store.
func (b *BlobSnapshotStore) appendStamp() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastAppended = max(b.now().UnixNano(), b.lastAppended+1)
	return b.lastAppended
}

func (b *BlobSnapshotStore) Append(ctx context.Context, s *pricing.Snapshot) (string, error) {
	doc, err := pricing.EncodeSnapshot(s)
	if err != nil {
		return "", err
	}
	if err := b.blobs.Put(ctx, snapshotKey(s, b.appendStamp()), doc); err != nil {
		return "", fmt.Errorf("store snapshot %s: %w", s.ID, err)
	}
	return s.ID, nil
}

// Latest returns the most recently appended snapshot, whatever its capture
// time.
func (b *BlobSnapshotStore) Latest(ctx context.Context) (*pricing.Snapshot, error) {
	keys, err := b.snapshotKeys(ctx)
	if err != nil {
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}
	newest := slices.MaxFunc(keys, func(a, c string) int {
		ka, _ := parseSnapshotKey(a)
		kc, _ := parseSnapshotKey(c)
		return cmp.Compare(ka.appended, kc.appended)
	})
	return b.load(ctx, newest)
}

func (b *BlobSnapshotStore) History(ctx context.Context, from, to time.Time) iter.Seq2[*pricing.Snapshot, error] {
	return func(yield func(*pricing.Snapshot, error) bool) {
		keys, err := b.snapshotKeys(ctx)
		if err != nil {
			yield(nil, err)
			return
		}
		for _, key := range keys {
			k, _ := parseSnapshotKey(key)
			if k.captured.After(to) {
				return
			}
			if k.captured.Before(from) {
				continue
			}
			s, err := b.load(ctx, key)
			if !yield(s, err) || err != nil {
				return
			}
		}
	}
}

func (b *BlobSnapshotStore) snapshotKeys(ctx context.Context) ([]string, error) {
	all, err := b.blobs.List(ctx, snapshotPrefix)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	keys := all[:0]
	for _, k := range all {
		if _, ok := parseSnapshotKey(k); ok {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

func (b *BlobSnapshotStore) load(ctx context.Context, key string) (*pricing.Snapshot, error) {
	data, err := b.blobs.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	return pricing.DecodeSnapshot(data)
}

func (b *BlobSnapshotStore) Close() error { return nil }
