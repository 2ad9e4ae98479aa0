// Package timeseries tracks event counts over rolling time windows.
//
// The capture pipeline uses one RateTracker per stream to report frames per
// second over the last 1s, 10s and 60s, plus the overall average.
//
// Thread-safe: Add() uses an atomic int64, Stats() acquires a read lock.
package timeseries

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// ringBufferSize is the number of samples to retain (2 minutes at 1 sample/sec)
	ringBufferSize = 120

	window1s  = 1 * time.Second
	window10s = 10 * time.Second
	window60s = 60 * time.Second
)

// Clock interface for testing with deterministic time.
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// sample is a point-in-time snapshot of the cumulative count.
type sample struct {
	timestamp time.Time
	count     int64
}

// RateTracker counts events and computes rolling rates.
//
// Usage:
//
//	tracker := NewRateTracker()
//	tracker.Add(1)           // per delivered frame
//	tracker.RecordSample()   // every second from a ticker
//	stats := tracker.Stats()
type RateTracker struct {
	total atomic.Int64

	samples  []sample
	writeIdx int
	mu       sync.RWMutex

	startTime time.Time
	clock     Clock
}

// RateStats contains rolling rates (events per second) at a point in time.
type RateStats struct {
	Total   int64
	Rate1s  float64
	Rate10s float64
	Rate60s float64
	Overall float64
}

// NewRateTracker creates a tracker with the real clock.
func NewRateTracker() *RateTracker {
	return NewRateTrackerWithClock(realClock{})
}

// NewRateTrackerWithClock creates a tracker with a custom clock for testing.
func NewRateTrackerWithClock(clock Clock) *RateTracker {
	now := clock.Now()
	t := &RateTracker{
		samples:   make([]sample, 0, ringBufferSize),
		startTime: now,
		clock:     clock,
	}
	t.samples = append(t.samples, sample{timestamp: now})
	return t
}

// Add adds n events. Non-positive values are ignored.
func (t *RateTracker) Add(n int64) {
	if n > 0 {
		t.total.Add(n)
	}
}

// Total returns the cumulative count.
func (t *RateTracker) Total() int64 { return t.total.Load() }

// RecordSample records the current count with a timestamp.
func (t *RateTracker) RecordSample() {
	now := t.clock.Now()
	current := t.total.Load()

	t.mu.Lock()
	defer t.mu.Unlock()

	s := sample{timestamp: now, count: current}
	if len(t.samples) < ringBufferSize {
		t.samples = append(t.samples, s)
	} else {
		t.samples[t.writeIdx] = s
		t.writeIdx = (t.writeIdx + 1) % ringBufferSize
	}
}

// Stats computes the current rates. Windows longer than the recorded
// history fall back to the oldest sample.
func (t *RateTracker) Stats() RateStats {
	now := t.clock.Now()
	current := t.total.Load()

	t.mu.RLock()
	defer t.mu.RUnlock()

	stats := RateStats{Total: current}
	if elapsed := now.Sub(t.startTime).Seconds(); elapsed > 0 {
		stats.Overall = float64(current) / elapsed
	}
	stats.Rate1s = t.rateOverWindow(now, current, window1s)
	stats.Rate10s = t.rateOverWindow(now, current, window10s)
	stats.Rate60s = t.rateOverWindow(now, current, window60s)
	return stats
}

// rateOverWindow must be called with mu held.
func (t *RateTracker) rateOverWindow(now time.Time, current int64, window time.Duration) float64 {
	target := now.Add(-window)

	// Closest sample at or before target.
	var best *sample
	var bestDiff time.Duration = -1
	for i := range t.samples {
		s := &t.samples[i]
		if s.timestamp.After(target) {
			continue
		}
		if diff := target.Sub(s.timestamp); bestDiff < 0 || diff < bestDiff {
			best = s
			bestDiff = diff
		}
	}
	if best == nil {
		best = t.oldestSample()
	}
	if best == nil {
		return 0
	}

	elapsed := now.Sub(best.timestamp).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(current-best.count) / elapsed
}

// oldestSample must be called with mu held.
func (t *RateTracker) oldestSample() *sample {
	if len(t.samples) == 0 {
		return nil
	}
	if len(t.samples) < ringBufferSize {
		return &t.samples[0]
	}
	return &t.samples[t.writeIdx]
}

// Reset clears all data and restarts tracking.
func (t *RateTracker) Reset() {
	now := t.clock.Now()

	t.mu.Lock()
	defer t.mu.Unlock()

	t.total.Store(0)
	t.samples = t.samples[:0]
	t.samples = append(t.samples, sample{timestamp: now})
	t.writeIdx = 0
	t.startTime = now
}

// SampleCount returns the number of samples in the ring buffer.
func (t *RateTracker) SampleCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.samples)
}
