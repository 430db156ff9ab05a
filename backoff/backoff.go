// Package backoff provides the delay strategies used while waiting for a
// contended lock. Strategies are stateless and safe for concurrent use.
package backoff

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before retry attempt n (1-indexed).
type Strategy interface {
	Delay(attempt int) time.Duration
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(attempt int) time.Duration

// Delay calls f.
func (f StrategyFunc) Delay(attempt int) time.Duration { return f(attempt) }

// Constant waits the same interval before every attempt.
type Constant struct {
	Interval time.Duration
}

// NewConstant creates a Constant strategy.
func NewConstant(interval time.Duration) *Constant {
	return &Constant{Interval: interval}
}

// Delay returns the fixed interval.
func (c *Constant) Delay(_ int) time.Duration {
	return c.Interval
}

// Exponential doubles the delay on each attempt up to Max. With Jitter set
// the delay is drawn uniformly from [base/2, base], which spreads out
// hosts polling the same lock.
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
	Jitter  bool
}

// NewExponential creates an Exponential strategy without jitter.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1) capped at Max, jittered if enabled.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(e.Initial) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	if e.Jitter {
		base = base/2 + rand.Float64()*base/2 //nolint:gosec // jitter does not need crypto rand
	}
	return time.Duration(base)
}

// Poll is the default lock polling strategy: a quick first retry growing to
// one attempt per second with jitter.
func Poll() Strategy {
	return &Exponential{Initial: 100 * time.Millisecond, Max: time.Second, Jitter: true}
}

// Sleep waits for the strategy's delay for attempt, returning early with
// ctx's error when ctx is done.
func Sleep(ctx context.Context, s Strategy, attempt int) error {
	d := s.Delay(attempt)
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
