// Package orchestrator wires the capture pipeline to its request source,
// stream consumers, metrics, dashboard and exit summary.
package orchestrator

import (
	"context"
	"time"
)

// RequestScheduler paces capture request submission. Frame n is due at
// start + n/rate plus a per-frame jitter, so a slow submission does not push
// every later frame back.
type RequestScheduler struct {
	rate      int           // requests per second
	maxJitter time.Duration // maximum jitter per request
	jitter    *JitterSource
	now       func() time.Time

	start time.Time
}

// NewRequestScheduler creates a scheduler with the given rate and jitter.
func NewRequestScheduler(rate int, maxJitter time.Duration) *RequestScheduler {
	return NewRequestSchedulerWithSeed(rate, maxJitter, time.Now().UnixNano())
}

// NewRequestSchedulerWithSeed creates a scheduler with a specific seed for
// reproducibility.
func NewRequestSchedulerWithSeed(rate int, maxJitter time.Duration, seed int64) *RequestScheduler {
	return &RequestScheduler{
		rate:      rate,
		maxJitter: maxJitter,
		jitter:    NewJitterSource(seed),
		now:       time.Now,
	}
}

// Interval returns the nominal gap between two requests.
func (r *RequestScheduler) Interval() time.Duration {
	if r.rate <= 0 {
		return 0
	}
	return time.Second / time.Duration(r.rate)
}

// Deadline returns when frame is due. The first call fixes the start time.
func (r *RequestScheduler) Deadline(frame int) time.Time {
	if r.start.IsZero() {
		r.start = r.now()
	}
	return r.start.
		Add(time.Duration(frame) * r.Interval()).
		Add(r.jitter.FrameJitter(frame, r.maxJitter))
}

// Schedule waits until frame is due. Returns nil on success, or the context
// error if cancelled. Not safe for concurrent use.
func (r *RequestScheduler) Schedule(ctx context.Context, frame int) error {
	delay := r.Deadline(frame).Sub(r.now())
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// EstimatedDuration returns the estimated time to submit total requests.
func (r *RequestScheduler) EstimatedDuration(total int) time.Duration {
	if r.rate <= 0 || total <= 0 {
		return 0
	}
	return time.Duration(total-1)*r.Interval() + r.maxJitter/2
}

// Rate returns the configured rate (requests per second).
func (r *RequestScheduler) Rate() int {
	return r.rate
}

// MaxJitter returns the configured maximum jitter.
func (r *RequestScheduler) MaxJitter() time.Duration {
	return r.maxJitter
}
