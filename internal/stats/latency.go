package stats

import (
	"sync"
	"time"

	"github.com/influxdata/tdigest"
)

// LatencySnapshot summarizes recorded durations.
type LatencySnapshot struct {
	Count int64
	Min   time.Duration
	Max   time.Duration
	Mean  time.Duration
	P50   time.Duration
	P95   time.Duration
	P99   time.Duration
}

// LatencyTracker records durations into a T-Digest (~100 centroids, ~10KB)
// so percentiles stay cheap for long runs.
type LatencyTracker struct {
	mu     sync.Mutex // TDigest is not thread-safe
	digest *tdigest.TDigest
	count  int64
	sum    time.Duration
	min    time.Duration
	max    time.Duration
}

// NewLatencyTracker creates an empty tracker.
func NewLatencyTracker() *LatencyTracker {
	return &LatencyTracker{digest: tdigest.NewWithCompression(100)}
}

// Record adds one duration. Negative durations are ignored.
func (l *LatencyTracker) Record(d time.Duration) {
	if d < 0 {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	l.digest.Add(float64(d), 1)
	l.count++
	l.sum += d
	if l.count == 1 || d < l.min {
		l.min = d
	}
	if d > l.max {
		l.max = d
	}
}

// Quantile returns the q-th quantile, or 0 with no samples.
func (l *LatencyTracker) Quantile(q float64) time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.count == 0 {
		return 0
	}
	return time.Duration(l.digest.Quantile(q))
}

// Snapshot returns the current summary.
func (l *LatencyTracker) Snapshot() LatencySnapshot {
	l.mu.Lock()
	defer l.mu.Unlock()

	s := LatencySnapshot{Count: l.count, Min: l.min, Max: l.max}
	if l.count == 0 {
		return s
	}
	s.Mean = l.sum / time.Duration(l.count)
	s.P50 = time.Duration(l.digest.Quantile(0.50))
	s.P95 = time.Duration(l.digest.Quantile(0.95))
	s.P99 = time.Duration(l.digest.Quantile(0.99))
	return s
}

// Reset drops every sample.
func (l *LatencyTracker) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.digest = tdigest.NewWithCompression(100)
	l.count, l.sum, l.min, l.max = 0, 0, 0, 0
}
