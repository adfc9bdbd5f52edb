// Package scheduler drives periodic pricing acquisition with retry, backoff
// and degradation to stored or static prices.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"k8s.io/utils/clock"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
	"github.com/DrSkyle/hybridcost/pkg/pricing/source"
)

// State is the scheduler lifecycle position.
type State string

const (
	StateIdle             State = "IDLE"
	StateFetching         State = "FETCHING"
	StateSuccess          State = "SUCCESS"
	StatePartial          State = "PARTIAL"
	StateFailed           State = "FAILED"
	StateBackoffWait      State = "BACKOFF_WAIT"
	StateDegradedFallback State = "DEGRADED_FALLBACK"
	StateStopped          State = "STOPPED"
)

var (
	ErrAlreadyStarted = errors.New("scheduler already started")
	ErrNotStarted     = errors.New("scheduler not started")
)

// writeTimeout bounds a store write once it has begun; writes are not
// interrupted by Stop.
const writeTimeout = 30 * time.Second

// Config controls cycle cadence and retry policy.
type Config struct {
	Interval   time.Duration `mapstructure:"interval" validate:"gt=0"`
	BaseDelay  time.Duration `mapstructure:"base_delay" validate:"gt=0"`
	MaxRetries int           `mapstructure:"max_retries" validate:"gte=0,lte=20"`
}

// DefaultConfig fetches daily and retries six times after the first attempt,
// waiting 1, 2, 4, 8, 16 and 32 minutes.
func DefaultConfig() Config {
	return Config{
		Interval:   24 * time.Hour,
		BaseDelay:  time.Minute,
		MaxRetries: 6,
	}
}

// Attempts is the maximum number of fetch attempts per cycle.
func (c Config) Attempts() int {
	return c.MaxRetries + 1
}

// Backoff returns the wait before retry n (n >= 1): base * 2^(n-1).
func Backoff(base time.Duration, n int) time.Duration {
	if n < 1 {
		return 0
	}
	return base << (n - 1)
}

// Store is the persistence the scheduler writes to.
type Store interface {
	Append(ctx context.Context, s *pricing.Snapshot) (string, error)
	Latest(ctx context.Context) (*pricing.Snapshot, error)
}

// Publisher is the cache consumers read from.
type Publisher interface {
	Publish(s *pricing.Snapshot)
	Current() *pricing.Snapshot
}

// Result records the outcome of one cycle.
type Result struct {
	ID               string
	State            State
	Success          bool
	Attempts         int
	CachedUsed       bool
	Provenance       pricing.Provenance
	SnapshotID       string
	FailedCategories []pricing.Category
	Err              error
	StartedAt        time.Time
	FinishedAt       time.Time
}

// Observer receives attempt and cycle outcomes, e.g. for metrics.
type Observer interface {
	AttemptFinished(attempt int, err error)
	CycleFinished(res Result)
}

// Scheduler is the only writer of the store and the cache.
type Scheduler struct {
	cfg       Config
	src       source.Source
	store     Store
	cache     Publisher
	clock     clock.Clock
	logger    *slog.Logger
	tracer    trace.Tracer
	observers []Observer

	cycleMu sync.Mutex

	mu     sync.Mutex
	state  State
	last   *Result
	cancel context.CancelFunc
	done   chan struct{}
}

type Option func(*Scheduler)

func WithClock(c clock.Clock) Option {
	return func(s *Scheduler) { s.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithObserver(o Observer) Option {
	return func(s *Scheduler) {
		if o != nil {
			s.observers = append(s.observers, o)
		}
	}
}

func New(src source.Source, store Store, cache Publisher, cfg Config, opts ...Option) (*Scheduler, error) {
	if src == nil || store == nil || cache == nil {
		return nil, errors.New("scheduler: source, store and cache are required")
	}
	if cfg.Interval <= 0 || cfg.BaseDelay <= 0 || cfg.MaxRetries < 0 {
		return nil, fmt.Errorf("scheduler: invalid config %+v", cfg)
	}
	s := &Scheduler{
		cfg:    cfg,
		src:    src,
		store:  store,
		cache:  cache,
		clock:  clock.RealClock{},
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
		tracer: otel.Tracer("hybridcost/scheduler"),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// State returns the current lifecycle state.
func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastResult returns the most recent completed cycle.
func (s *Scheduler) LastResult() (Result, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.last == nil {
		return Result{}, false
	}
	return *s.last, true
}

func (s *Scheduler) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Start runs a first cycle immediately, then one cycle per interval, until
// Stop is called or ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done != nil {
		return ErrAlreadyStarted
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(runCtx, s.done)
	return nil
}

// Stop cancels any wait or in-flight fetch and waits for the loop to exit.
// A store write already in progress completes first.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.mu.Unlock()
	if done == nil {
		return ErrNotStarted
	}

	cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Done is closed when the loop started by Start has exited.
func (s *Scheduler) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done
}

// Restore publishes the latest stored snapshot when the cache is still
// empty, so readers see persisted prices before the first cycle finishes.
// It returns whatever the cache holds afterwards, nil on an empty store.
func (s *Scheduler) Restore(ctx context.Context) (*pricing.Snapshot, error) {
	if cur := s.cache.Current(); cur != nil {
		return cur, nil
	}
	latest, err := s.store.Latest(ctx)
	if err != nil {
		return nil, fmt.Errorf("restore latest snapshot: %w", err)
	}
	if latest == nil {
		return nil, nil
	}
	s.cache.Publish(latest)
	s.logger.Info("restored stored snapshot", "snapshot_id", latest.ID, "provenance", latest.Provenance)
	return latest, nil
}

func (s *Scheduler) loop(ctx context.Context, done chan struct{}) {
	defer close(done)
	defer s.setState(StateStopped)

	for {
		res, err := s.RunCycle(ctx)
		if err != nil {
			s.logger.Info("pricing scheduler stopped", "reason", err)
			return
		}

		next := res.StartedAt.Add(s.cfg.Interval)
		if res.State == StateDegradedFallback {
			next = res.FinishedAt.Add(s.cfg.Interval)
		}
		s.logger.Debug("next pricing cycle scheduled", "at", next)
		if !s.waitUntil(ctx, next) {
			s.logger.Info("pricing scheduler stopped", "reason", ctx.Err())
			return
		}
	}
}

// RunCycle performs one acquisition cycle: fetch with retries, then either
// persist and publish the new snapshot or degrade. It returns the context
// error, and writes nothing further, when ctx is cancelled mid-cycle.
func (s *Scheduler) RunCycle(ctx context.Context) (Result, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	res := Result{ID: uuid.NewString(), StartedAt: s.clock.Now()}
	ctx, span := s.tracer.Start(ctx, "scheduler.Cycle", trace.WithAttributes(attribute.String("cycle.id", res.ID)))
	defer span.End()

	logger := s.logger.With("cycle_id", res.ID)

	var lastErr error
	for attempt := 1; attempt <= s.cfg.Attempts(); attempt++ {
		if attempt > 1 {
			s.setState(StateBackoffWait)
			delay := Backoff(s.cfg.BaseDelay, attempt-1)
			logger.Info("waiting before retry", "attempt", attempt, "delay", delay)
			if !s.wait(ctx, delay) {
				return s.abandon(span, res, ctx.Err())
			}
		}

		s.setState(StateFetching)
		res.Attempts = attempt
		snap, fetched, err := s.attempt(ctx, attempt)
		if err != nil && ctx.Err() != nil {
			return s.abandon(span, res, ctx.Err())
		}
		s.notifyAttempt(attempt, err)
		if err != nil {
			lastErr = err
			s.setState(StateFailed)
			logger.Warn("pricing fetch attempt failed", "attempt", attempt, "max_attempts", s.cfg.Attempts(), "error", err)
			continue
		}

		res.Success = true
		res.Provenance = snap.Provenance
		res.SnapshotID = snap.ID
		res.FailedCategories = fetched.FailedCategories()
		res.State = StateSuccess
		if snap.Provenance == pricing.ProvenancePartial {
			res.State = StatePartial
		}
		if len(res.FailedCategories) > 0 {
			res.Err = errors.Join(categoryErrors(fetched)...)
		}
		res.FinishedAt = s.clock.Now()
		s.setState(res.State)
		logger.Info("pricing cycle completed",
			"state", res.State,
			"snapshot_id", snap.ID,
			"attempts", res.Attempts,
			"fallback_categories", res.FailedCategories)
		return s.finish(span, res), nil
	}

	s.degrade(ctx, logger, &res, lastErr)
	return s.finish(span, res), nil
}

// attempt fetches, persists and publishes one snapshot. A fetch with no live
// category and a store rejection both count as failed attempts.
func (s *Scheduler) attempt(ctx context.Context, n int) (*pricing.Snapshot, *source.Result, error) {
	ctx, span := s.tracer.Start(ctx, "scheduler.Attempt", trace.WithAttributes(attribute.Int("attempt", n)))
	defer span.End()

	fetched, err := s.src.Fetch(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if len(fetched.Prices) == 0 {
		err := fmt.Errorf("%w: %w", pricing.ErrNoLivePrices, errors.Join(categoryErrors(fetched)...))
		span.RecordError(err)
		span.SetStatus(codes.Error, "no live prices")
		return nil, nil, err
	}

	snap := pricing.Assemble(s.clock.Now(), fetched.Prices)

	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	if _, err := s.store.Append(wctx, snap); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "append failed")
		return nil, nil, fmt.Errorf("append snapshot: %w", err)
	}
	s.cache.Publish(snap)
	return snap, fetched, nil
}

// degrade publishes the latest stored prices, or the static table when the
// store is empty, after every attempt failed.
func (s *Scheduler) degrade(ctx context.Context, logger *slog.Logger, res *Result, lastErr error) {
	now := s.clock.Now()
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	var snap *pricing.Snapshot
	latest, err := s.store.Latest(wctx)
	switch {
	case err != nil:
		logger.Error("read latest snapshot failed", "error", err)
		if cur := s.cache.Current(); cur != nil {
			snap = pricing.Reuse(cur, now)
		} else {
			snap = pricing.StaticFallback(now)
		}
	case latest != nil:
		snap = pricing.Reuse(latest, now)
	default:
		snap = pricing.StaticFallback(now)
	}

	if _, err := s.store.Append(wctx, snap); err != nil {
		logger.Error("persist degraded snapshot failed", "snapshot_id", snap.ID, "error", err)
	}
	s.cache.Publish(snap)

	res.State = StateDegradedFallback
	res.Success = false
	res.CachedUsed = snap.Provenance == pricing.ProvenanceCached
	res.Provenance = snap.Provenance
	res.SnapshotID = snap.ID
	res.FailedCategories = snap.FallbackCategories()
	res.Err = fmt.Errorf("%w after %d attempts: %w", pricing.ErrExhaustedRetries, res.Attempts, lastErr)
	res.FinishedAt = s.clock.Now()
	s.setState(StateDegradedFallback)

	logger.Warn("pricing fetch failed, serving degraded prices",
		"provenance", snap.Provenance,
		"snapshot_id", snap.ID,
		"derived_from", snap.DerivedFrom,
		"attempts", res.Attempts,
		"last_error", lastErr)
}

func (s *Scheduler) abandon(span trace.Span, res Result, err error) (Result, error) {
	span.SetStatus(codes.Error, "cycle abandoned")
	res.State = StateStopped
	res.Err = err
	res.FinishedAt = s.clock.Now()
	s.setState(StateStopped)
	return res, err
}

func (s *Scheduler) finish(span trace.Span, res Result) Result {
	span.SetAttributes(
		attribute.String("cycle.state", string(res.State)),
		attribute.Int("cycle.attempts", res.Attempts),
		attribute.String("snapshot.provenance", string(res.Provenance)),
	)
	if !res.Success {
		span.SetStatus(codes.Error, "degraded")
	}

	s.mu.Lock()
	s.last = &res
	s.mu.Unlock()
	for _, o := range s.observers {
		o.CycleFinished(res)
	}
	return res
}

func (s *Scheduler) notifyAttempt(n int, err error) {
	for _, o := range s.observers {
		o.AttemptFinished(n, err)
	}
}

// wait blocks for d on the scheduler clock. It returns false if ctx ends first.
func (s *Scheduler) wait(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := s.clock.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C():
		return true
	}
}

func (s *Scheduler) waitUntil(ctx context.Context, at time.Time) bool {
	s.setState(StateIdle)
	return s.wait(ctx, at.Sub(s.clock.Now()))
}

func categoryErrors(r *source.Result) []error {
	var errs []error
	for _, c := range r.FailedCategories() {
		errs = append(errs, r.Failed[c])
	}
	return errs
}
