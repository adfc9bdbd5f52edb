package pricing

import (
	"context"
	"sync"
	"sync/atomic"
)

// Cache holds the snapshot served to cost consumers. Readers never block;
// they observe either the previous or the new snapshot in full.
type Cache struct {
	current atomic.Pointer[Snapshot]

	once  sync.Once
	ready chan struct{}
}

func NewCache() *Cache {
	return &Cache{ready: make(chan struct{})}
}

// Current returns the published snapshot, or nil before the first publish.
func (c *Cache) Current() *Snapshot {
	return c.current.Load()
}

// Publish swaps in s. Only the scheduler publishes.
func (c *Cache) Publish(s *Snapshot) {
	if s == nil {
		return
	}
	c.current.Store(s)
	c.once.Do(func() { close(c.ready) })
}

// Wait blocks until a snapshot has been published or ctx is done.
func (c *Cache) Wait(ctx context.Context) (*Snapshot, error) {
	select {
	case <-c.ready:
		return c.Current(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
