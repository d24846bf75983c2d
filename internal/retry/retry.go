// SPDX-License-Identifier: MIT

// Package retry implements bounded retry with exponential backoff as an
// explicit loop: attempt counter plus computed delay, never recursion, so
// cancellation and tests stay deterministic.
package retry

import (
	"context"
	"time"
)

// Policy describes one stage's retry schedule.
type Policy struct {
	MaxAttempts int           // total attempts, including the first
	Base        time.Duration // delay before attempt 2
	Multiplier  float64       // growth factor per attempt
	Cap         time.Duration // upper bound on the computed delay
}

// Delay returns the backoff before the given attempt (1-based). The first
// attempt never waits.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt <= 1 || p.Base <= 0 {
		return 0
	}
	d := p.Base
	mult := p.Multiplier
	if mult < 1 {
		mult = 1
	}
	for i := 2; i < attempt; i++ {
		d = time.Duration(float64(d) * mult)
		if p.Cap > 0 && d >= p.Cap {
			return p.Cap
		}
	}
	if p.Cap > 0 && d > p.Cap {
		return p.Cap
	}
	return d
}

// Do runs fn up to MaxAttempts times, sleeping the computed backoff between
// attempts. It stops early when fn succeeds, when retryable reports the error
// as terminal, or when ctx is cancelled (cancellation interrupts the sleep,
// not just the next attempt). The last error is returned.
func Do(ctx context.Context, p Policy, retryable func(error) bool, fn func(attempt int) error) error {
	max := p.MaxAttempts
	if max < 1 {
		max = 1
	}
	var last error
	for attempt := 1; attempt <= max; attempt++ {
		if d := p.Delay(attempt); d > 0 {
			timer := time.NewTimer(d)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		last = fn(attempt)
		if last == nil {
			return nil
		}
		if retryable != nil && !retryable(last) {
			return last
		}
	}
	return last
}
