// Package stats provides per-stream and aggregated statistics for a capture
// session.
//
// This file implements Aggregator which tracks:
// - Requests submitted and frames delivered
// - Buffers and bytes per stream, with rolling frame rates
// - Capture latency (submission to delivery) and JPEG encode time
// - Readout drops, enqueue failures and unrecoverable errors
package stats

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/timeseries"
)

// StreamSummary is a point-in-time view of one stream.
type StreamSummary struct {
	StreamID        uint32
	Format          string
	Width           int
	Height          int
	Buffers         int64
	Bytes           int64
	EnqueueFailures int64
	LastTimestamp   int64
	Rate            timeseries.RateStats
}

// AggregatedStats holds session metrics.
//
// This is a snapshot - values are computed at the time of Aggregate() call.
type AggregatedStats struct {
	Timestamp time.Time
	Elapsed   time.Duration

	RequestsSubmitted int64
	FramesDelivered   int64
	MetadataFrames    int64
	InFlight          int64
	ReadoutDrops      int64
	Errors            int64

	JPEGs        int64
	JPEGBytes    int64
	JPEGFailures int64

	FrameRate        timeseries.RateStats
	InstantFrameRate float64 // since the previous Aggregate call

	CaptureLatency LatencySnapshot
	EncodeLatency  LatencySnapshot

	Streams []StreamSummary
}

type streamStats struct {
	summary StreamSummary // static fields only

	buffers         atomic.Int64
	bytes           atomic.Int64
	enqueueFailures atomic.Int64
	lastTimestamp   atomic.Int64
	rate            *timeseries.RateTracker
}

type rateSnapshot struct {
	timestamp time.Time
	delivered int64
}

// Aggregator collects capture statistics.
//
// Thread-safe: all methods can be called concurrently.
type Aggregator struct {
	mu        sync.RWMutex
	streams   map[uint32]*streamStats
	startTime time.Time
	clock     timeseries.Clock

	submitted      atomic.Int64
	delivered      atomic.Int64
	metadataFrames atomic.Int64
	readoutDrops   atomic.Int64
	errors         atomic.Int64
	jpegs          atomic.Int64
	jpegBytes      atomic.Int64
	jpegFailures   atomic.Int64

	pendingMu   sync.Mutex
	submittedAt map[int32]time.Time

	captureLatency *LatencyTracker
	encodeLatency  *LatencyTracker
	frameRate      *timeseries.RateTracker

	prevSnapshot atomic.Value // *rateSnapshot
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewAggregator creates an aggregator using the wall clock.
func NewAggregator() *Aggregator {
	return NewAggregatorWithClock(systemClock{})
}

// NewAggregatorWithClock creates an aggregator with a custom clock for
// testing.
func NewAggregatorWithClock(clock timeseries.Clock) *Aggregator {
	now := clock.Now()
	a := &Aggregator{
		streams:        make(map[uint32]*streamStats),
		startTime:      now,
		clock:          clock,
		submittedAt:    make(map[int32]time.Time),
		captureLatency: NewLatencyTracker(),
		encodeLatency:  NewLatencyTracker(),
		frameRate:      timeseries.NewRateTrackerWithClock(clock),
	}
	a.prevSnapshot.Store(&rateSnapshot{timestamp: now})
	return a
}

// AddStream registers a stream.
func (a *Aggregator) AddStream(id uint32, format string, width, height int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.streams[id] = &streamStats{
		summary: StreamSummary{StreamID: id, Format: format, Width: width, Height: height},
		rate:    timeseries.NewRateTrackerWithClock(a.clock),
	}
}

// StreamCount returns the number of registered streams.
func (a *Aggregator) StreamCount() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.streams)
}

func (a *Aggregator) stream(id uint32) *streamStats {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.streams[id]
}

// RecordSubmitted notes when a request entered the pipeline.
func (a *Aggregator) RecordSubmitted(frame int32) {
	a.submitted.Add(1)
	a.pendingMu.Lock()
	a.submittedAt[frame] = a.clock.Now()
	a.pendingMu.Unlock()
}

// RecordDelivered completes a request and records its capture latency. It
// returns the latency, or zero when the submission was not recorded.
func (a *Aggregator) RecordDelivered(frame int32, withMetadata bool) time.Duration {
	a.delivered.Add(1)
	a.frameRate.Add(1)
	if withMetadata {
		a.metadataFrames.Add(1)
	}

	a.pendingMu.Lock()
	start, ok := a.submittedAt[frame]
	delete(a.submittedAt, frame)
	a.pendingMu.Unlock()
	if !ok {
		return 0
	}
	latency := a.clock.Now().Sub(start)
	a.captureLatency.Record(latency)
	return latency
}

// RecordReadoutDrop records a unit dropped on a full readout queue.
func (a *Aggregator) RecordReadoutDrop(frame int32) {
	a.readoutDrops.Add(1)
	a.pendingMu.Lock()
	delete(a.submittedAt, frame)
	a.pendingMu.Unlock()
}

// RecordBuffer records one filled buffer returned to a stream.
func (a *Aggregator) RecordBuffer(streamID uint32, size int, timestamp int64) {
	s := a.stream(streamID)
	if s == nil {
		return
	}
	s.buffers.Add(1)
	s.bytes.Add(int64(size))
	s.lastTimestamp.Store(timestamp)
	s.rate.Add(1)
}

// RecordBufferFailure records a buffer its stream refused.
func (a *Aggregator) RecordBufferFailure(streamID uint32) {
	if s := a.stream(streamID); s != nil {
		s.enqueueFailures.Add(1)
	}
}

// RecordJPEG records a finished compression.
func (a *Aggregator) RecordJPEG(size int, elapsed time.Duration) {
	a.jpegs.Add(1)
	a.jpegBytes.Add(int64(size))
	a.encodeLatency.Record(elapsed)
}

// RecordJPEGFailure records a failed compression.
func (a *Aggregator) RecordJPEGFailure() { a.jpegFailures.Add(1) }

// RecordError records an unrecoverable pipeline error.
func (a *Aggregator) RecordError() { a.errors.Add(1) }

// RecordSample feeds the rolling rate trackers. Call once per second.
func (a *Aggregator) RecordSample() {
	a.frameRate.RecordSample()
	a.mu.RLock()
	defer a.mu.RUnlock()
	for _, s := range a.streams {
		s.rate.RecordSample()
	}
}

// Aggregate computes a snapshot. The returned struct is safe to use after
// the call returns.
func (a *Aggregator) Aggregate() *AggregatedStats {
	now := a.clock.Now()

	result := &AggregatedStats{
		Timestamp:         now,
		Elapsed:           now.Sub(a.startTime),
		RequestsSubmitted: a.submitted.Load(),
		FramesDelivered:   a.delivered.Load(),
		MetadataFrames:    a.metadataFrames.Load(),
		ReadoutDrops:      a.readoutDrops.Load(),
		Errors:            a.errors.Load(),
		JPEGs:             a.jpegs.Load(),
		JPEGBytes:         a.jpegBytes.Load(),
		JPEGFailures:      a.jpegFailures.Load(),
		FrameRate:         a.frameRate.Stats(),
		CaptureLatency:    a.captureLatency.Snapshot(),
		EncodeLatency:     a.encodeLatency.Snapshot(),
	}

	a.pendingMu.Lock()
	result.InFlight = int64(len(a.submittedAt))
	a.pendingMu.Unlock()

	a.mu.RLock()
	for _, s := range a.streams {
		sum := s.summary
		sum.Buffers = s.buffers.Load()
		sum.Bytes = s.bytes.Load()
		sum.EnqueueFailures = s.enqueueFailures.Load()
		sum.LastTimestamp = s.lastTimestamp.Load()
		sum.Rate = s.rate.Stats()
		result.Streams = append(result.Streams, sum)
	}
	a.mu.RUnlock()
	sort.Slice(result.Streams, func(i, j int) bool {
		return result.Streams[i].StreamID < result.Streams[j].StreamID
	})

	if prev, ok := a.prevSnapshot.Load().(*rateSnapshot); ok && prev != nil {
		if elapsed := now.Sub(prev.timestamp).Seconds(); elapsed > 0 {
			result.InstantFrameRate = float64(result.FramesDelivered-prev.delivered) / elapsed
		}
	}
	a.prevSnapshot.Store(&rateSnapshot{timestamp: now, delivered: result.FramesDelivered})

	return result
}

// StartTime returns when the aggregator was created.
func (a *Aggregator) StartTime() time.Time { return a.startTime }

// Elapsed returns the duration since the aggregator was created.
func (a *Aggregator) Elapsed() time.Duration { return a.clock.Now().Sub(a.startTime) }
