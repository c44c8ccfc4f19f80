package provider

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Clock is the time source used by the gate and by retry backoff.
type Clock interface {
	Now() time.Time
	// Sleep blocks for d or until ctx is done.
	Sleep(ctx context.Context, d time.Duration) error
}

type realClock struct{}

// SystemClock returns a Clock backed by the wall clock.
func SystemClock() Clock { return realClock{} }

func (realClock) Now() time.Time { return time.Now() }

func (realClock) Sleep(ctx context.Context, d time.Duration) error {
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

// Gate admits outbound calls.
type Gate interface {
	// Wait blocks until the next call may be issued.
	Wait(ctx context.Context) error
}

// IntervalGate enforces a minimum interval between consecutive calls.
// Concurrent callers are serialised, so at most one caller is released
// per interval.
type IntervalGate struct {
	mu    sync.Mutex
	lim   *rate.Limiter
	clock Clock
}

// NewIntervalGate builds a gate that releases one call per interval.
// A zero or negative interval disables throttling.
func NewIntervalGate(interval time.Duration, clock Clock) *IntervalGate {
	if clock == nil {
		clock = SystemClock()
	}
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	return &IntervalGate{
		lim:   rate.NewLimiter(limit, 1),
		clock: clock,
	}
}

// Wait reserves the next slot at the clock's current time and sleeps until it opens.
func (g *IntervalGate) Wait(ctx context.Context) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	now := g.clock.Now()
	r := g.lim.ReserveN(now, 1)
	if !r.OK() {
		return fmt.Errorf("gate: reservation refused")
	}

	delay := r.DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	if err := g.clock.Sleep(ctx, delay); err != nil {
		r.CancelAt(g.clock.Now())
		return err
	}
	return nil
}
