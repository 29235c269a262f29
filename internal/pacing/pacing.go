// Package pacing holds the delays inserted between browser actions.
package pacing

import (
	"context"
	"math/rand/v2"
	"time"
)

// Sleeper waits for a duration or until ctx is done.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func(ctx context.Context, d time.Duration) error

// Sleep implements Sleeper.
func (f SleeperFunc) Sleep(ctx context.Context, d time.Duration) error {
	return f(ctx, d)
}

// Real sleeps on the wall clock.
var Real Sleeper = SleeperFunc(func(ctx context.Context, d time.Duration) error {
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
})

// Jitter scales d by a random factor in [1-spread, 1+spread].
func Jitter(d time.Duration, spread float64) time.Duration {
	if d <= 0 || spread <= 0 {
		return d
	}
	f := 1 - spread + rand.Float64()*2*spread
	return time.Duration(float64(d) * f)
}

// Between returns a random duration in [lo, hi].
func Between(lo, hi time.Duration) time.Duration {
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)+1))
}

// Recorder is a Sleeper that returns immediately and remembers every request.
// Tests use it to assert on timing without waiting.
type Recorder struct {
	Calls []time.Duration
}

// Sleep implements Sleeper.
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.Calls = append(r.Calls, d)
	return ctx.Err()
}

// Total sums the recorded durations.
func (r *Recorder) Total() time.Duration {
	var sum time.Duration
	for _, d := range r.Calls {
		sum += d
	}
	return sum
}
