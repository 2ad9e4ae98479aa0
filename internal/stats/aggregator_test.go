package stats

import (
	"sync"
	"testing"
	"time"
)

type mockClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mockClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mockClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestAggregator() (*Aggregator, *mockClock) {
	clock := &mockClock{now: time.Unix(1_700_000_000, 0)}
	return NewAggregatorWithClock(clock), clock
}

// =============================================================================
// LatencyTracker
// =============================================================================

func TestLatencyTracker_Empty(t *testing.T) {
	l := NewLatencyTracker()
	if s := l.Snapshot(); s != (LatencySnapshot{}) {
		t.Errorf("Snapshot() = %+v, want zero", s)
	}
	if q := l.Quantile(0.5); q != 0 {
		t.Errorf("Quantile(0.5) = %v, want 0", q)
	}
}

func TestLatencyTracker_Percentiles(t *testing.T) {
	l := NewLatencyTracker()
	for i := 1; i <= 1000; i++ {
		l.Record(time.Duration(i) * time.Millisecond)
	}
	l.Record(-time.Second) // ignored

	s := l.Snapshot()
	if s.Count != 1000 {
		t.Fatalf("Count = %d, want 1000", s.Count)
	}
	if s.Min != time.Millisecond || s.Max != time.Second {
		t.Errorf("Min/Max = %v/%v, want 1ms/1s", s.Min, s.Max)
	}
	if s.Mean != 500500*time.Microsecond {
		t.Errorf("Mean = %v, want 500.5ms", s.Mean)
	}

	tests := []struct {
		name string
		got  time.Duration
		want time.Duration
	}{
		{"p50", s.P50, 500 * time.Millisecond},
		{"p95", s.P95, 950 * time.Millisecond},
		{"p99", s.P99, 990 * time.Millisecond},
	}
	for _, tt := range tests {
		diff := tt.got - tt.want
		if diff < 0 {
			diff = -diff
		}
		if diff > 10*time.Millisecond {
			t.Errorf("%s = %v, want %v ±10ms", tt.name, tt.got, tt.want)
		}
	}

	l.Reset()
	if l.Snapshot().Count != 0 {
		t.Error("Reset() kept samples")
	}
}

// =============================================================================
// Aggregator
// =============================================================================

func TestAggregator_CaptureLatency(t *testing.T) {
	a, clock := newTestAggregator()

	a.RecordSubmitted(1)
	a.RecordSubmitted(2)
	clock.Advance(40 * time.Millisecond)
	if got := a.RecordDelivered(1, false); got != 40*time.Millisecond {
		t.Errorf("RecordDelivered(1) = %v, want 40ms", got)
	}
	clock.Advance(20 * time.Millisecond)
	a.RecordDelivered(2, true)

	s := a.Aggregate()
	if s.RequestsSubmitted != 2 || s.FramesDelivered != 2 || s.MetadataFrames != 1 {
		t.Errorf("counts = %d/%d/%d, want 2/2/1", s.RequestsSubmitted, s.FramesDelivered, s.MetadataFrames)
	}
	if s.CaptureLatency.Count != 2 {
		t.Fatalf("latency samples = %d, want 2", s.CaptureLatency.Count)
	}
	if s.CaptureLatency.Min != 40*time.Millisecond || s.CaptureLatency.Max != 60*time.Millisecond {
		t.Errorf("latency min/max = %v/%v, want 40ms/60ms", s.CaptureLatency.Min, s.CaptureLatency.Max)
	}
	if s.InFlight != 0 {
		t.Errorf("InFlight = %d, want 0", s.InFlight)
	}
}

func TestAggregator_DropsAndInFlight(t *testing.T) {
	a, _ := newTestAggregator()
	a.RecordSubmitted(1)
	a.RecordSubmitted(2)
	a.RecordSubmitted(3)
	a.RecordReadoutDrop(2)
	a.RecordError()
	if got := a.RecordDelivered(99, false); got != 0 { // never submitted: counted, no latency
		t.Errorf("RecordDelivered(99) = %v, want 0", got)
	}

	s := a.Aggregate()
	if s.ReadoutDrops != 1 || s.Errors != 1 {
		t.Errorf("drops/errors = %d/%d, want 1/1", s.ReadoutDrops, s.Errors)
	}
	if s.InFlight != 2 {
		t.Errorf("InFlight = %d, want 2", s.InFlight)
	}
	if s.CaptureLatency.Count != 0 {
		t.Errorf("latency samples = %d, want 0", s.CaptureLatency.Count)
	}
}

func TestAggregator_Streams(t *testing.T) {
	a, clock := newTestAggregator()
	a.AddStream(1, "yv12", 320, 240)
	a.AddStream(0, "rgba", 640, 480)

	for i := 0; i < 10; i++ {
		clock.Advance(100 * time.Millisecond)
		a.RecordBuffer(0, 1000, int64(i))
	}
	a.RecordBuffer(1, 50, 7)
	a.RecordBufferFailure(1)
	a.RecordBuffer(42, 1, 1) // unknown stream ignored
	a.RecordSample()

	s := a.Aggregate()
	if len(s.Streams) != 2 {
		t.Fatalf("Streams = %d, want 2", len(s.Streams))
	}
	if s.Streams[0].StreamID != 0 || s.Streams[1].StreamID != 1 {
		t.Errorf("streams not sorted by id: %d, %d", s.Streams[0].StreamID, s.Streams[1].StreamID)
	}
	s0 := s.Streams[0]
	if s0.Buffers != 10 || s0.Bytes != 10000 || s0.LastTimestamp != 9 {
		t.Errorf("stream 0 = %+v", s0)
	}
	if s0.Rate.Overall != 10 {
		t.Errorf("stream 0 rate = %f, want 10", s0.Rate.Overall)
	}
	if s.Streams[1].EnqueueFailures != 1 {
		t.Errorf("stream 1 failures = %d, want 1", s.Streams[1].EnqueueFailures)
	}
	if a.StreamCount() != 2 {
		t.Errorf("StreamCount() = %d, want 2", a.StreamCount())
	}
}

func TestAggregator_JPEG(t *testing.T) {
	a, _ := newTestAggregator()
	a.RecordJPEG(2000, 5*time.Millisecond)
	a.RecordJPEG(4000, 7*time.Millisecond)
	a.RecordJPEGFailure()

	s := a.Aggregate()
	if s.JPEGs != 2 || s.JPEGBytes != 6000 || s.JPEGFailures != 1 {
		t.Errorf("jpeg = %d/%d/%d, want 2/6000/1", s.JPEGs, s.JPEGBytes, s.JPEGFailures)
	}
	if s.EncodeLatency.Max != 7*time.Millisecond {
		t.Errorf("encode max = %v, want 7ms", s.EncodeLatency.Max)
	}
}

func TestAggregator_InstantFrameRate(t *testing.T) {
	a, clock := newTestAggregator()

	clock.Advance(time.Second)
	for i := int32(0); i < 30; i++ {
		a.RecordDelivered(i, false)
	}
	if got := a.Aggregate().InstantFrameRate; got != 30 {
		t.Errorf("first InstantFrameRate = %f, want 30", got)
	}

	clock.Advance(2 * time.Second)
	for i := int32(0); i < 10; i++ {
		a.RecordDelivered(i, false)
	}
	if got := a.Aggregate().InstantFrameRate; got != 5 {
		t.Errorf("second InstantFrameRate = %f, want 5", got)
	}
	if a.Elapsed() != 3*time.Second {
		t.Errorf("Elapsed() = %v, want 3s", a.Elapsed())
	}
}

func TestAggregator_ConcurrentUse(t *testing.T) {
	a := NewAggregator()
	a.AddStream(0, "rgba", 640, 480)

	var wg sync.WaitGroup
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 250; i++ {
				frame := int32(g*1000 + i)
				a.RecordSubmitted(frame)
				a.RecordBuffer(0, 10, int64(i))
				a.RecordDelivered(frame, i%2 == 0)
				if i%50 == 0 {
					a.Aggregate()
				}
			}
		}(g)
	}
	wg.Wait()

	s := a.Aggregate()
	if s.FramesDelivered != 1000 || s.Streams[0].Buffers != 1000 {
		t.Errorf("delivered/buffers = %d/%d, want 1000/1000", s.FramesDelivered, s.Streams[0].Buffers)
	}
}
