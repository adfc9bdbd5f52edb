package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/DrSkyle/hybridcost/pkg/pricing/source"
	"github.com/DrSkyle/hybridcost/pkg/storage"
)

var t0 = time.Date(2026, 4, 1, 2, 0, 0, 0, time.UTC)

type harness struct {
	clock *clocktesting.FakeClock
	src   *source.Script
	store *storage.MemoryStore
	cache *pricing.Cache
	rec   *recorder
	sched *Scheduler
}

func newHarness(t *testing.T, outcomes ...source.Outcome) *harness {
	t.Helper()
	h := &harness{
		clock: clocktesting.NewFakeClock(t0),
		src:   source.NewScript(outcomes...),
		store: storage.NewMemoryStore(),
		cache: pricing.NewCache(),
		rec:   &recorder{},
	}
	h.sched = h.build(t, h.store)
	return h
}

func (h *harness) build(t *testing.T, st Store) *Scheduler {
	t.Helper()
	s, err := New(h.src, st, h.cache, DefaultConfig(), WithClock(h.clock), WithObserver(h.rec))
	require.NoError(t, err)
	return s
}

// advance waits for the scheduler to block on the clock, then moves time by d.
func (h *harness) advance(t *testing.T, d time.Duration) {
	t.Helper()
	require.Eventually(t, h.clock.HasWaiters, 2*time.Second, time.Millisecond, "scheduler never waited")
	h.clock.Step(d)
}

func (h *harness) runCycleAsync(ctx context.Context, s *Scheduler) <-chan Result {
	out := make(chan Result, 1)
	go func() {
		res, _ := s.RunCycle(ctx)
		out <- res
	}()
	return out
}

func await(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(5 * time.Second):
		t.Fatal("cycle did not finish")
		return Result{}
	}
}

type recorder struct {
	mu       sync.Mutex
	attempts []error
	cycles   []Result
}

func (r *recorder) AttemptFinished(_ int, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.attempts = append(r.attempts, err)
}

func (r *recorder) CycleFinished(res Result) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cycles = append(r.cycles, res)
}

func TestBackoff(t *testing.T) {
	var got []time.Duration
	var total time.Duration
	for n := 1; n <= DefaultConfig().MaxRetries; n++ {
		d := Backoff(time.Minute, n)
		got = append(got, d)
		total += d
	}
	assert.Equal(t, []time.Duration{
		time.Minute, 2 * time.Minute, 4 * time.Minute, 8 * time.Minute, 16 * time.Minute, 32 * time.Minute,
	}, got)
	assert.Equal(t, 63*time.Minute, total)
	assert.Zero(t, Backoff(time.Minute, 0))
	assert.Equal(t, 7, DefaultConfig().Attempts())
}

func TestRunCycleSuccess(t *testing.T) {
	h := newHarness(t, source.Succeed())

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StateSuccess, res.State)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts)
	assert.False(t, res.CachedUsed)
	assert.Equal(t, pricing.ProvenanceLive, res.Provenance)
	assert.NoError(t, res.Err)
	assert.NotEmpty(t, res.ID)

	cur := h.cache.Current()
	require.NotNil(t, cur)
	assert.Equal(t, res.SnapshotID, cur.ID)
	assert.Equal(t, 1, h.store.Len())

	last, ok := h.sched.LastResult()
	require.True(t, ok)
	assert.Equal(t, res.ID, last.ID)
	assert.Len(t, h.rec.cycles, 1)
}

func TestRunCycleRetriesThenSucceeds(t *testing.T) {
	h := newHarness(t, source.Unreachable(), source.Unreachable(), source.Unreachable(), source.Succeed())
	done := h.runCycleAsync(context.Background(), h.sched)

	h.advance(t, 1*time.Minute)
	h.advance(t, 2*time.Minute)
	h.advance(t, 4*time.Minute)

	res := await(t, done)
	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, 4, res.Attempts)
	assert.Equal(t, 7*time.Minute, res.FinishedAt.Sub(res.StartedAt))
	assert.Equal(t, 4, h.src.Calls())
	assert.Equal(t, 1, h.store.Len(), "failed attempts write nothing")
	assert.Equal(t, pricing.ProvenanceLive, h.cache.Current().Provenance)

	h.rec.mu.Lock()
	defer h.rec.mu.Unlock()
	require.Len(t, h.rec.attempts, 4)
	var tu *pricing.TransportUnavailableError
	assert.ErrorAs(t, h.rec.attempts[0], &tu)
	assert.NoError(t, h.rec.attempts[3])
}

func exhaust(t *testing.T, h *harness, done <-chan Result) Result {
	t.Helper()
	for n := 1; n <= DefaultConfig().MaxRetries; n++ {
		h.advance(t, Backoff(time.Minute, n))
	}
	return await(t, done)
}

func TestRunCycleExhaustedWithEmptyStoreUsesStaticFallback(t *testing.T) {
	h := newHarness(t, source.Unreachable())
	res := exhaust(t, h, h.runCycleAsync(context.Background(), h.sched))

	assert.Equal(t, StateDegradedFallback, res.State)
	assert.False(t, res.Success)
	assert.Equal(t, 7, res.Attempts)
	assert.False(t, res.CachedUsed)
	assert.Equal(t, pricing.ProvenanceStaticFallback, res.Provenance)
	assert.ErrorIs(t, res.Err, pricing.ErrExhaustedRetries)
	var tu *pricing.TransportUnavailableError
	assert.ErrorAs(t, res.Err, &tu)
	assert.Equal(t, 63*time.Minute, res.FinishedAt.Sub(res.StartedAt))

	cur := h.cache.Current()
	require.NotNil(t, cur)
	assert.Equal(t, pricing.ProvenanceStaticFallback, cur.Provenance)
	assert.True(t, cur.EC2.Equal(pricing.Fallback(pricing.CategoryEC2)))

	latest, err := h.store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, cur.ID, latest.ID, "degraded snapshot is persisted")
}

func TestRunCycleExhaustedReusesLatestStored(t *testing.T) {
	h := newHarness(t, source.Succeed(), source.Unreachable())
	first, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)

	res := exhaust(t, h, h.runCycleAsync(context.Background(), h.sched))
	assert.Equal(t, StateDegradedFallback, res.State)
	assert.True(t, res.CachedUsed)
	assert.Equal(t, pricing.ProvenanceCached, res.Provenance)

	cur := h.cache.Current()
	assert.Equal(t, pricing.ProvenanceCached, cur.Provenance)
	assert.Equal(t, first.SnapshotID, cur.DerivedFrom)
	assert.Equal(t, t0.Add(63*time.Minute), cur.CapturedAt)
	assert.Equal(t, 2, h.store.Len())
}

func TestRunCyclePartial(t *testing.T) {
	h := newHarness(t, source.FailCategories(pricing.CategoryEC2))

	res, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatePartial, res.State)
	assert.True(t, res.Success)
	assert.Equal(t, 1, res.Attempts, "partial results are not retried")
	assert.Equal(t, []pricing.Category{pricing.CategoryEC2}, res.FailedCategories)
	var cfe *pricing.CategoryFetchError
	assert.ErrorAs(t, res.Err, &cfe)

	cur := h.cache.Current()
	assert.Equal(t, pricing.ProvenancePartial, cur.Provenance)
	assert.Equal(t, []pricing.Category{pricing.CategoryEC2}, cur.FallbackCategories())
	assert.Equal(t, pricing.SourceLive, cur.Source(pricing.CategoryS3))
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, 1, h.src.Calls())
}

func TestRunCycleNoLiveCategoryIsFailedAttempt(t *testing.T) {
	h := newHarness(t, source.Succeed(), source.FailCategories(pricing.Categories...))
	first, err := h.sched.RunCycle(context.Background())
	require.NoError(t, err)
	require.Equal(t, pricing.ProvenanceLive, first.Provenance)

	res := exhaust(t, h, h.runCycleAsync(context.Background(), h.sched))
	assert.Equal(t, StateDegradedFallback, res.State)
	assert.False(t, res.Success)
	assert.Equal(t, 7, res.Attempts, "backoff runs when nothing is live")
	assert.ErrorIs(t, res.Err, pricing.ErrNoLivePrices)
	var cfe *pricing.CategoryFetchError
	assert.ErrorAs(t, res.Err, &cfe)

	assert.Equal(t, pricing.ProvenanceCached, res.Provenance)
	latest, err := h.store.Latest(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first.SnapshotID, latest.DerivedFrom, "the live snapshot stays the source of truth")
	assert.Empty(t, latest.FallbackCategories())
	assert.Equal(t, 2, h.store.Len(), "failed attempts write nothing")
}

func TestSixthFailureStillWaitsBeforeDegrading(t *testing.T) {
	h := newHarness(t, source.Unreachable())
	done := h.runCycleAsync(context.Background(), h.sched)

	// The initial attempt plus five retries.
	for n := 1; n <= 5; n++ {
		h.advance(t, Backoff(time.Minute, n))
	}
	require.Eventually(t, func() bool { return h.src.Calls() == 6 && h.clock.HasWaiters() }, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateBackoffWait, h.sched.State())
	assert.Nil(t, h.cache.Current(), "no degrade after six failures")

	h.advance(t, 32*time.Minute-time.Second)
	assert.Never(t, func() bool { return h.src.Calls() > 6 }, 50*time.Millisecond, time.Millisecond)

	h.clock.Step(time.Second)
	res := await(t, done)
	assert.Equal(t, 7, res.Attempts)
	assert.Equal(t, StateDegradedFallback, res.State)
	assert.Equal(t, pricing.ProvenanceStaticFallback, res.Provenance)
}

func TestRestorePublishesStoredSnapshot(t *testing.T) {
	ctx := context.Background()
	h := newHarness(t)

	snap, err := h.sched.Restore(ctx)
	require.NoError(t, err)
	assert.Nil(t, snap)
	assert.Nil(t, h.cache.Current())

	stored := pricing.Assemble(t0.Add(-time.Hour), map[pricing.Category]pricing.PriceMap{
		pricing.CategoryEC2: pricing.Fallback(pricing.CategoryEC2),
	})
	_, err = h.store.Append(ctx, stored)
	require.NoError(t, err)

	snap, err = h.sched.Restore(ctx)
	require.NoError(t, err)
	require.NotNil(t, snap)
	assert.Equal(t, stored.ID, snap.ID)
	assert.Equal(t, stored.ID, h.cache.Current().ID)
	assert.Equal(t, 1, h.store.Len(), "restore never writes")

	newer := pricing.StaticFallback(t0)
	h.cache.Publish(newer)
	snap, err = h.sched.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, snap.ID, "published snapshot wins over the store")
}

func TestRestoreSurfacesStoreError(t *testing.T) {
	h := newHarness(t)
	s := h.build(t, &flakyStore{Store: h.store, latestErr: errors.New("disk gone")})

	_, err := s.Restore(context.Background())
	assert.ErrorContains(t, err, "disk gone")
	assert.Nil(t, h.cache.Current())
}

type flakyStore struct {
	Store
	mu          sync.Mutex
	appendFails int
	latestErr   error
}

func (f *flakyStore) Append(ctx context.Context, s *pricing.Snapshot) (string, error) {
	f.mu.Lock()
	if f.appendFails > 0 {
		f.appendFails--
		f.mu.Unlock()
		return "", errors.New("disk full")
	}
	f.mu.Unlock()
	return f.Store.Append(ctx, s)
}

func (f *flakyStore) Latest(ctx context.Context) (*pricing.Snapshot, error) {
	if f.latestErr != nil {
		return nil, f.latestErr
	}
	return f.Store.Latest(ctx)
}

func TestRunCycleAppendFailureIsRetried(t *testing.T) {
	h := newHarness(t, source.Succeed())
	st := &flakyStore{Store: h.store, appendFails: 1}
	s := h.build(t, st)

	done := h.runCycleAsync(context.Background(), s)
	h.advance(t, time.Minute)
	res := await(t, done)

	assert.Equal(t, StateSuccess, res.State)
	assert.Equal(t, 2, res.Attempts)
	assert.Equal(t, 1, h.store.Len())
	assert.Equal(t, res.SnapshotID, h.cache.Current().ID)
}

func TestRunCycleDegradesFromCacheWhenStoreUnreadable(t *testing.T) {
	h := newHarness(t, source.Unreachable())
	prior := pricing.FallbackSnapshot(t0.Add(-time.Hour))
	h.cache.Publish(prior)
	st := &flakyStore{Store: h.store, latestErr: errors.New("connection reset")}

	res := exhaust(t, h, h.runCycleAsync(context.Background(), h.build(t, st)))
	assert.Equal(t, pricing.ProvenanceCached, res.Provenance)
	assert.Equal(t, prior.ID, h.cache.Current().DerivedFrom)
}

func TestStopDuringBackoff(t *testing.T) {
	h := newHarness(t, source.Unreachable())
	require.NoError(t, h.sched.Start(context.Background()))

	require.Eventually(t, h.clock.HasWaiters, 2*time.Second, time.Millisecond)
	assert.Equal(t, StateBackoffWait, h.sched.State())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Stop(ctx))

	assert.Equal(t, StateStopped, h.sched.State())
	assert.Nil(t, h.cache.Current())
	assert.Zero(t, h.store.Len())
	assert.Equal(t, 1, h.src.Calls())
}

func TestStopDuringFetchWritesNothing(t *testing.T) {
	h := newHarness(t, source.Outcome{Block: true})
	require.NoError(t, h.sched.Start(context.Background()))
	require.Eventually(t, func() bool { return h.src.Calls() == 1 }, 2*time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, h.sched.Stop(ctx))

	assert.Nil(t, h.cache.Current())
	assert.Zero(t, h.store.Len())
	_, ok := h.sched.LastResult()
	assert.False(t, ok)
}

func TestStartRunsDailyCycles(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.sched.Start(context.Background()))
	defer h.sched.Stop(context.Background())

	require.Eventually(t, func() bool { return h.cache.Current() != nil }, 2*time.Second, time.Millisecond)
	first := h.cache.Current()

	h.advance(t, 23*time.Hour)
	assert.Never(t, func() bool { return h.src.Calls() > 1 }, 50*time.Millisecond, time.Millisecond)

	h.advance(t, time.Hour)
	require.Eventually(t, func() bool { return h.src.Calls() == 2 }, 2*time.Second, time.Millisecond)
	require.Eventually(t, func() bool { return h.cache.Current().ID != first.ID }, 2*time.Second, time.Millisecond)
	assert.Equal(t, t0.Add(24*time.Hour), h.cache.Current().CapturedAt)

	require.ErrorIs(t, h.sched.Start(context.Background()), ErrAlreadyStarted)
}

func TestNextCycleAfterDegradeCountsFromFallback(t *testing.T) {
	h := newHarness(t, source.Unreachable(), source.Unreachable(), source.Unreachable(),
		source.Unreachable(), source.Unreachable(), source.Unreachable(), source.Unreachable(), source.Succeed())
	require.NoError(t, h.sched.Start(context.Background()))
	defer h.sched.Stop(context.Background())

	for n := 1; n <= 6; n++ {
		h.advance(t, Backoff(time.Minute, n))
	}
	require.Eventually(t, func() bool {
		res, ok := h.sched.LastResult()
		return ok && res.State == StateDegradedFallback
	}, 2*time.Second, time.Millisecond)

	// 24h after the fallback was applied, not after the cycle started.
	h.advance(t, 24*time.Hour-time.Minute)
	assert.Never(t, func() bool { return h.src.Calls() > 7 }, 50*time.Millisecond, time.Millisecond)
	h.advance(t, time.Minute)
	require.Eventually(t, func() bool { return h.src.Calls() == 8 }, 2*time.Second, time.Millisecond)
}

func TestStopWithoutStart(t *testing.T) {
	h := newHarness(t)
	require.ErrorIs(t, h.sched.Stop(context.Background()), ErrNotStarted)
}

func TestNewValidates(t *testing.T) {
	_, err := New(source.NewScript(), storage.NewMemoryStore(), pricing.NewCache(), Config{})
	require.Error(t, err)
	_, err = New(nil, storage.NewMemoryStore(), pricing.NewCache(), DefaultConfig())
	require.Error(t, err)
}
