package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/metadata"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

const testPoll = 2 * time.Millisecond

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// waitFor polls cond until it holds or two seconds pass.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// ============================================================================
// Sensor
// ============================================================================

// fakeSensor reports vsync immediately and makes a frame ready for each
// destination set, unless hold is set, in which case frames are released with
// fire. Capture timestamps count up from 1000 in steps of 1000.
type fakeSensor struct {
	frames chan int64

	mu            sync.Mutex
	hold          bool
	blockVSync    bool
	nextTS        int64
	exposures     []int64
	durations     []int64
	sensitivities []int32
	destinations  []stream.BufferSet
	requestedHour []int
	actualHour    int
	shutdown      bool
}

func newFakeSensor() *fakeSensor {
	return &fakeSensor{frames: make(chan int64, 64), actualHour: 12}
}

func (s *fakeSensor) Start(context.Context) error { return nil }

func (s *fakeSensor) Shutdown() {
	s.mu.Lock()
	s.shutdown = true
	s.mu.Unlock()
}

func (s *fakeSensor) WaitForVSync(timeout time.Duration) bool {
	s.mu.Lock()
	blocked := s.blockVSync
	s.mu.Unlock()
	if blocked {
		time.Sleep(timeout)
		return false
	}
	return true
}

func (s *fakeSensor) WaitForNewFrame(timeout time.Duration) (bool, int64) {
	select {
	case ts := <-s.frames:
		return true, ts
	case <-time.After(timeout):
		return false, 0
	}
}

func (s *fakeSensor) SetExposureTime(ns int64) {
	s.mu.Lock()
	s.exposures = append(s.exposures, ns)
	s.mu.Unlock()
}

func (s *fakeSensor) SetFrameDuration(ns int64) {
	s.mu.Lock()
	s.durations = append(s.durations, ns)
	s.mu.Unlock()
}

func (s *fakeSensor) SetSensitivity(iso int32) {
	s.mu.Lock()
	s.sensitivities = append(s.sensitivities, iso)
	s.mu.Unlock()
}

func (s *fakeSensor) SetDestinationBuffers(set stream.BufferSet) {
	s.mu.Lock()
	s.destinations = append(s.destinations, set)
	hold := s.hold
	s.mu.Unlock()
	if !hold {
		s.fire()
	}
}

// SetSceneHour records the request; the scene keeps its own hour so tests
// can tell requested and actual values apart.
func (s *fakeSensor) SetSceneHour(hour int) {
	s.mu.Lock()
	s.requestedHour = append(s.requestedHour, hour)
	s.mu.Unlock()
}

func (s *fakeSensor) SceneHour() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.actualHour
}

// fire makes one frame ready and returns its timestamp.
func (s *fakeSensor) fire() int64 {
	s.mu.Lock()
	s.nextTS += 1000
	ts := s.nextTS
	s.mu.Unlock()
	s.frames <- ts
	return ts
}

func (s *fakeSensor) setHold(v bool) {
	s.mu.Lock()
	s.hold = v
	s.mu.Unlock()
}

func (s *fakeSensor) setBlockVSync(v bool) {
	s.mu.Lock()
	s.blockVSync = v
	s.mu.Unlock()
}

func (s *fakeSensor) lastDuration() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.durations) == 0 {
		return 0
	}
	return s.durations[len(s.durations)-1]
}

// ============================================================================
// Compressor
// ============================================================================

type fakeCompressor struct {
	mu         sync.Mutex
	busy       bool
	job        stream.BufferSet
	starts     []stream.BufferSet
	timestamps []int64
	cancels    int
}

func (c *fakeCompressor) Start(set stream.BufferSet, ts int64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.busy {
		return errors.New("busy")
	}
	c.starts = append(c.starts, set)
	c.timestamps = append(c.timestamps, ts)
	return nil
}

func (c *fakeCompressor) WaitForDone(timeout time.Duration) bool {
	if c.IsBusy() {
		time.Sleep(timeout)
		return !c.IsBusy()
	}
	return true
}

func (c *fakeCompressor) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

func (c *fakeCompressor) Cancel() {
	c.mu.Lock()
	c.cancels++
	c.busy = false
	c.job = nil
	c.mu.Unlock()
}

func (c *fakeCompressor) IsStreamInUse(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy && c.job.HasStream(id)
}

func (c *fakeCompressor) setJob(set stream.BufferSet) {
	c.mu.Lock()
	c.busy = set != nil
	c.job = set
	c.mu.Unlock()
}

func (c *fakeCompressor) cancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancels
}

func (c *fakeCompressor) startCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.starts)
}

// ============================================================================
// Request source and frame sink
// ============================================================================

type fakeSource struct {
	mu         sync.Mutex
	queue      []*metadata.Record
	freed      []*metadata.Record
	dequeueErr error

	// When gate is set, FreeRequest signals entered and blocks until gate
	// is closed.
	entered chan struct{}
	gate    chan struct{}
}

func (s *fakeSource) DequeueRequest() (*metadata.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dequeueErr != nil {
		return nil, s.dequeueErr
	}
	if len(s.queue) == 0 {
		return nil, nil
	}
	r := s.queue[0]
	s.queue = s.queue[1:]
	return r, nil
}

func (s *fakeSource) FreeRequest(r *metadata.Record) error {
	s.mu.Lock()
	s.freed = append(s.freed, r)
	entered, gate := s.entered, s.gate
	s.mu.Unlock()
	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}
	return nil
}

// blockFree makes the next FreeRequest calls wait for gate.
func (s *fakeSource) blockFree(entered, gate chan struct{}) {
	s.mu.Lock()
	s.entered, s.gate = entered, gate
	s.mu.Unlock()
}

func (s *fakeSource) push(r *metadata.Record) {
	s.mu.Lock()
	s.queue = append(s.queue, r)
	s.mu.Unlock()
}

func (s *fakeSource) freedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.freed)
}

type fakeFrames struct {
	mu        sync.Mutex
	delivered []*metadata.Record
	hints     [][2]int
}

func (f *fakeFrames) DequeueFrame(entries, data int) (*metadata.Record, error) {
	f.mu.Lock()
	f.hints = append(f.hints, [2]int{entries, data})
	f.mu.Unlock()
	return metadata.New(entries, data), nil
}

func (f *fakeFrames) EnqueueFrame(r *metadata.Record) error {
	f.mu.Lock()
	f.delivered = append(f.delivered, r)
	f.mu.Unlock()
	return nil
}

func (f *fakeFrames) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.delivered)
}

// ============================================================================
// Stream sink
// ============================================================================

type enqueued struct {
	ts       int64
	handleID uint64
}

// fakeSink hands out fresh buffers and records what comes back.
type fakeSink struct {
	format stream.PixelFormat
	size   int

	mu         sync.Mutex
	nextID     uint64
	enqueued   []enqueued
	cancelled  []uint64
	dequeueErr error
	enqueueErr error
	prelocked  bool
}

func newFakeSink(format stream.PixelFormat, w, h int) *fakeSink {
	return &fakeSink{format: format, size: format.BufferSize(w, h)}
}

func (s *fakeSink) DequeueBuffer() (*stream.BufferHandle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dequeueErr != nil {
		return nil, s.dequeueErr
	}
	s.nextID++
	h := stream.NewBufferHandle(s.nextID, s.format, s.size)
	if s.prelocked {
		_, _ = h.Lock()
	}
	return h, nil
}

func (s *fakeSink) EnqueueBuffer(ts int64, h *stream.BufferHandle) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.enqueueErr != nil {
		return s.enqueueErr
	}
	s.enqueued = append(s.enqueued, enqueued{ts: ts, handleID: h.ID})
	return nil
}

func (s *fakeSink) CancelBuffer(h *stream.BufferHandle) error {
	s.mu.Lock()
	s.cancelled = append(s.cancelled, h.ID)
	s.mu.Unlock()
	return nil
}

func (s *fakeSink) enqueuedList() []enqueued {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]enqueued(nil), s.enqueued...)
}

func (s *fakeSink) cancelledCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cancelled)
}

func (s *fakeSink) handles(n int) []*stream.BufferHandle {
	out := make([]*stream.BufferHandle, n)
	for i := range out {
		out[i] = stream.NewBufferHandle(uint64(1000+i), s.format, s.size)
	}
	return out
}

// ============================================================================
// Harness
// ============================================================================

type harness struct {
	sensor     *fakeSensor
	compressor *fakeCompressor
	source     *fakeSource
	frames     *fakeFrames
	registry   *stream.Registry
	ctrl       *Controller

	delivered     atomic.Int32
	enqueueFailed atomic.Int32
	readoutDrops  atomic.Int32

	errMu  sync.Mutex
	errors []error
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		sensor:     newFakeSensor(),
		compressor: &fakeCompressor{},
		source:     &fakeSource{},
		frames:     &fakeFrames{},
		registry:   stream.NewRegistry(stream.FacingBack),
	}
	ctrl, err := NewController(Config{
		Logger:       testLogger(),
		PollInterval: testPoll,
		Callbacks: Callbacks{
			OnError: func(err error) {
				h.errMu.Lock()
				h.errors = append(h.errors, err)
				h.errMu.Unlock()
			},
			OnFrameDelivered: func(int32, int64, bool) {
				h.delivered.Add(1)
			},
			OnBufferEnqueueFailed: func(uint32, error) {
				h.enqueueFailed.Add(1)
			},
			OnReadoutDrop: func(int32) {
				h.readoutDrops.Add(1)
			},
		},
		Registry:   h.registry,
		Sensor:     h.sensor,
		Compressor: h.compressor,
		Source:     h.source,
		Frames:     h.frames,
	})
	if err != nil {
		t.Fatalf("NewController() error = %v", err)
	}
	h.ctrl = ctrl
	t.Cleanup(ctrl.Stop)
	return h
}

func (h *harness) errorCount() int {
	h.errMu.Lock()
	defer h.errMu.Unlock()
	return len(h.errors)
}

// addStream allocates a stream and registers buffers for it.
func (h *harness) addStream(t *testing.T, format stream.PixelFormat, w, ht int) (uint32, *fakeSink) {
	t.Helper()
	sink := newFakeSink(format, w, ht)
	a, err := h.ctrl.AllocateStream(w, ht, format, sink)
	if err != nil {
		t.Fatalf("AllocateStream() error = %v", err)
	}
	if err := h.ctrl.RegisterStreamBuffers(a.ID, sink.handles(stream.DefaultMaxBuffers)); err != nil {
		t.Fatalf("RegisterStreamBuffers() error = %v", err)
	}
	return a.ID, sink
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	if err := h.ctrl.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
}

func (h *harness) submit(t *testing.T, req *metadata.Record) {
	t.Helper()
	h.source.push(req)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.ctrl.NotifyRequestAvailable(ctx); err != nil {
		t.Fatalf("NotifyRequestAvailable() error = %v", err)
	}
}

// request builds a capture request with every required field.
func request(t *testing.T, frame int32, streams []uint32, mode uint8) *metadata.Record {
	t.Helper()
	ids := make([]int32, len(streams))
	for i, id := range streams {
		ids[i] = int32(id)
	}
	r := metadata.New(8, 64)
	for _, err := range []error{
		r.AddInt32(metadata.TagRequestOutputStreams, ids...),
		r.AddInt32(metadata.TagRequestFrameCount, frame),
		r.AddBytes(metadata.TagRequestMetadataMode, mode),
		r.AddInt64(metadata.TagSensorExposureTime, 10_000_000),
		r.AddInt64(metadata.TagSensorFrameDuration, 33_333_333),
		r.AddInt32(metadata.TagSensorSensitivity, 100),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	return r
}
