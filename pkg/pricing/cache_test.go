package pricing

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestCacheEmptyBeforePublish(t *testing.T) {
	c := NewCache()
	if got := c.Current(); got != nil {
		t.Fatalf("expected empty cache, got %s", got.ID)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if _, err := c.Wait(ctx); err == nil {
		t.Fatal("Wait should fail when nothing is published")
	}
}

func TestCacheWaitReturnsFirstPublish(t *testing.T) {
	c := NewCache()
	s := FallbackSnapshot(time.Now())

	done := make(chan *Snapshot)
	go func() {
		got, _ := c.Wait(context.Background())
		done <- got
	}()

	c.Publish(s)
	select {
	case got := <-done:
		if got.ID != s.ID {
			t.Errorf("Wait returned %s, want %s", got.ID, s.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("Wait did not return after Publish")
	}

	c.Publish(nil)
	if c.Current() != s {
		t.Error("publishing nil must not clear the cache")
	}
}

// Readers racing with publishers must only ever observe complete snapshots.
func TestCacheConcurrentPublish(t *testing.T) {
	c := NewCache()
	first := FallbackSnapshot(time.Now())
	c.Publish(first)

	snapshots := make(map[string]*Snapshot)
	var all []*Snapshot
	for i := 0; i < 16; i++ {
		s := Reuse(first, time.Now())
		all = append(all, s)
		snapshots[s.ID] = s
	}
	snapshots[first.ID] = first

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				got := c.Current()
				want, ok := snapshots[got.ID]
				if !ok || want != got || got.EC2.Len() != first.EC2.Len() {
					t.Errorf("observed torn or unknown snapshot %s", got.ID)
					return
				}
			}
		}()
	}

	for round := 0; round < 200; round++ {
		c.Publish(all[round%len(all)])
	}
	close(stop)
	wg.Wait()
}
