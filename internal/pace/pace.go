// Package pace spaces out mutating calls against the remote platform.
package pace

import (
	"context"
	"time"
)

// Pacer sleeps a multiple of a base delay between calls.
type Pacer struct {
	base  time.Duration
	sleep func(ctx context.Context, d time.Duration) error
}

// New returns a pacer with the given base delay. A zero base disables
// pacing.
func New(base time.Duration) *Pacer {
	return &Pacer{base: base, sleep: Sleep}
}

// WithSleeper replaces the sleep function, typically to record delays in
// tests.
func (p *Pacer) WithSleeper(fn func(ctx context.Context, d time.Duration) error) *Pacer {
	p.sleep = fn
	return p
}

// Base returns the base delay.
func (p *Pacer) Base() time.Duration {
	return p.base
}

// Wait sleeps base*multiplier, returning early with ctx's error if ctx is
// cancelled.
func (p *Pacer) Wait(ctx context.Context, multiplier float64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	d := time.Duration(float64(p.base) * multiplier)
	if d <= 0 {
		return nil
	}
	return p.sleep(ctx, d)
}

// Sleep waits for d or until ctx is done.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Recorder collects requested delays instead of sleeping.
type Recorder struct {
	Delays []time.Duration
}

// Sleep records d.
func (r *Recorder) Sleep(ctx context.Context, d time.Duration) error {
	r.Delays = append(r.Delays, d)
	return ctx.Err()
}
