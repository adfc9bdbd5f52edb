package source

import (
	"context"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"golang.org/x/time/rate"
)

const (
	// healthyLatency is the response time below which the rate is raised.
	healthyLatency = time.Second
	// dampen ignores feedback arriving sooner than this after a change.
	dampen = 100 * time.Millisecond
)

// throttle paces GetProducts calls with additive increase and
// multiplicative decrease: the rate halves on a throttling error and climbs
// back by a tenth of the ceiling after each healthy call.
type throttle struct {
	mu         sync.Mutex
	limiter    *rate.Limiter
	floor      rate.Limit
	ceiling    rate.Limit
	step       rate.Limit
	lastChange time.Time
	now        func() time.Time
}

func newThrottle(perSecond float64, burst int) *throttle {
	ceiling := rate.Limit(perSecond)
	return &throttle{
		limiter: rate.NewLimiter(ceiling, burst),
		floor:   ceiling / 10,
		ceiling: ceiling,
		step:    ceiling / 10,
		now:     time.Now,
	}
}

func (t *throttle) Wait(ctx context.Context) error {
	return t.limiter.Wait(ctx)
}

func (t *throttle) Limit() rate.Limit {
	return t.limiter.Limit()
}

// Feedback adjusts the rate after one call. It reports whether the call
// was throttled.
func (t *throttle) Feedback(latency time.Duration, err error) bool {
	throttled := err != nil && isThrottle(err)

	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	if now.Sub(t.lastChange) < dampen {
		return throttled
	}

	current := t.limiter.Limit()
	switch {
	case throttled:
		t.limiter.SetLimitAt(now, max(current/2, t.floor))
		t.lastChange = now
	case err == nil && latency < healthyLatency && current < t.ceiling:
		t.limiter.SetLimitAt(now, min(current+t.step, t.ceiling))
		t.lastChange = now
	}
	return throttled
}

var throttleCodes = retry.ThrottleErrorCode{Codes: retry.DefaultThrottleErrorCodes}

func isThrottle(err error) bool {
	return throttleCodes.IsErrorThrottle(err).Bool()
}
