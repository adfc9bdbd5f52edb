package source

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/DrSkyle/hybridcost/pkg/pricing"
)

// Outcome programs one Script fetch.
type Outcome struct {
	// Err, when set, is returned as a transport failure.
	Err error
	// Failed categories are reported as CategoryFetchErrors.
	Failed []pricing.Category
	// Prices overrides the live prices of a category. Categories without an
	// override return the static table marked as live.
	Prices map[pricing.Category]pricing.PriceMap
	// Block holds the fetch until ctx is cancelled.
	Block bool
}

// Succeed is an outcome where every category is priced.
func Succeed() Outcome { return Outcome{} }

// Unreachable is an outcome where the transport cannot be reached.
func Unreachable() Outcome {
	return Outcome{Err: errors.New("dial pricing endpoint: connection refused")}
}

// FailCategories is an outcome where the given categories fail.
func FailCategories(cs ...pricing.Category) Outcome {
	return Outcome{Failed: cs}
}

// Script replays programmed outcomes in order. Once exhausted the last
// outcome repeats; with no outcomes every fetch succeeds.
type Script struct {
	mu       sync.Mutex
	outcomes []Outcome
	calls    int
}

func NewScript(outcomes ...Outcome) *Script {
	return &Script{outcomes: outcomes}
}

// Calls returns the number of Fetch calls so far.
func (s *Script) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *Script) next() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	var o Outcome
	if n := len(s.outcomes); n > 0 {
		o = s.outcomes[min(s.calls, n-1)]
	}
	s.calls++
	return o
}

func (s *Script) Fetch(ctx context.Context) (*Result, error) {
	o := s.next()
	if o.Block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if o.Err != nil {
		return nil, &pricing.TransportUnavailableError{Err: o.Err}
	}

	res := newResult()
	for _, c := range pricing.Categories {
		if slices.Contains(o.Failed, c) {
			res.Failed[c] = &pricing.CategoryFetchError{Category: c, Err: errors.New("scripted category failure")}
			continue
		}
		if m, ok := o.Prices[c]; ok {
			res.Prices[c] = m
			continue
		}
		res.Prices[c] = pricing.Fallback(c)
	}
	return res, nil
}
