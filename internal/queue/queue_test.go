package queue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/metadata"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// ============================================================================
// RequestQueue
// ============================================================================

func TestRequestQueue_FIFO(t *testing.T) {
	q := NewRequestQueue(4)

	if req, err := q.DequeueRequest(); req != nil || err != nil {
		t.Fatalf("DequeueRequest() on empty = %v, %v, want nil, nil", req, err)
	}

	reqs := []*metadata.Record{metadata.New(1, 0), metadata.New(1, 0), metadata.New(1, 0)}
	for _, r := range reqs {
		if err := q.Submit(r); err != nil {
			t.Fatalf("Submit() error = %v", err)
		}
	}
	for i, want := range reqs {
		got, err := q.DequeueRequest()
		if err != nil || got != want {
			t.Fatalf("DequeueRequest() #%d = %p, %v, want %p", i, got, err, want)
		}
	}
	if q.Pending() != 0 || q.Outstanding() != 3 {
		t.Errorf("Pending/Outstanding = %d/%d, want 0/3", q.Pending(), q.Outstanding())
	}
}

func TestRequestQueue_Free(t *testing.T) {
	q := NewRequestQueue(4)
	r := metadata.New(1, 0)
	_ = q.Submit(r)
	_, _ = q.DequeueRequest()

	if err := q.FreeRequest(r); err != nil {
		t.Fatalf("FreeRequest() error = %v", err)
	}
	if err := q.FreeRequest(r); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("second FreeRequest() error = %v, want ErrUnknownRequest", err)
	}
	if err := q.FreeRequest(metadata.New(1, 0)); !errors.Is(err, ErrUnknownRequest) {
		t.Errorf("FreeRequest(foreign) error = %v, want ErrUnknownRequest", err)
	}
	submitted, freed := q.Counts()
	if submitted != 1 || freed != 1 {
		t.Errorf("Counts() = %d, %d, want 1, 1", submitted, freed)
	}
}

func TestRequestQueue_CapacityAndClose(t *testing.T) {
	q := NewRequestQueue(2)
	_ = q.Submit(metadata.New(1, 0))
	_ = q.Submit(metadata.New(1, 0))
	if err := q.Submit(metadata.New(1, 0)); !errors.Is(err, ErrFull) {
		t.Errorf("Submit() over capacity error = %v, want ErrFull", err)
	}

	q.Close()
	if err := q.Submit(metadata.New(1, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("Submit() after Close error = %v, want ErrClosed", err)
	}
	for i := 0; i < 2; i++ {
		if req, err := q.DequeueRequest(); req == nil || err != nil {
			t.Errorf("DequeueRequest() after Close = %v, %v, want pending request", req, err)
		}
	}
}

func TestRequestQueue_WaitIdle(t *testing.T) {
	q := NewRequestQueue(4)
	r := metadata.New(1, 0)
	_ = q.Submit(r)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.WaitIdle(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitIdle() with pending request error = %v, want DeadlineExceeded", err)
	}

	done := make(chan error, 1)
	go func() { done <- q.WaitIdle(context.Background()) }()

	got, _ := q.DequeueRequest()
	_ = q.FreeRequest(got)

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("WaitIdle() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("WaitIdle() did not return after the request was freed")
	}
}

// ============================================================================
// FrameQueue
// ============================================================================

func TestFrameQueue_DeliverAndDrop(t *testing.T) {
	q := NewFrameQueue(2)

	f, err := q.DequeueFrame(4, 16)
	if err != nil || f == nil {
		t.Fatalf("DequeueFrame() = %v, %v", f, err)
	}
	for i := 0; i < 3; i++ {
		if err := q.EnqueueFrame(metadata.New(1, 0)); err != nil {
			t.Fatalf("EnqueueFrame() error = %v", err)
		}
	}
	delivered, dropped := q.Stats()
	if delivered != 2 || dropped != 1 {
		t.Errorf("Stats() = %d, %d, want 2, 1", delivered, dropped)
	}

	q.Close()
	q.Close()
	n := 0
	for range q.Frames() {
		n++
	}
	if n != 2 {
		t.Errorf("drained %d frames, want 2", n)
	}
	if _, err := q.DequeueFrame(1, 0); !errors.Is(err, ErrClosed) {
		t.Errorf("DequeueFrame() after Close error = %v, want ErrClosed", err)
	}
	if err := q.EnqueueFrame(metadata.New(1, 0)); !errors.Is(err, ErrClosed) {
		t.Errorf("EnqueueFrame() after Close error = %v, want ErrClosed", err)
	}
}

// ============================================================================
// BufferQueue
// ============================================================================

func TestNewBufferQueue_RejectsUnresolvedFormat(t *testing.T) {
	if _, err := NewBufferQueue(stream.FormatOpaque, 320, 240, 4, 4); err == nil {
		t.Error("NewBufferQueue(opaque) error = nil")
	}
	if _, err := NewBufferQueue(stream.FormatRGBA8888, 0, 240, 4, 4); err == nil {
		t.Error("NewBufferQueue(0x240) error = nil")
	}
}

func TestBufferQueue_Pool(t *testing.T) {
	q, err := NewBufferQueue(stream.FormatYV12, 320, 240, 2, 4)
	if err != nil {
		t.Fatal(err)
	}
	if got := len(q.Handles()); got != 2 {
		t.Fatalf("Handles() = %d, want 2", got)
	}
	if size := q.Handles()[0].Cap(); size != stream.FormatYV12.BufferSize(320, 240) {
		t.Errorf("buffer size = %d, want %d", size, stream.FormatYV12.BufferSize(320, 240))
	}

	a, _ := q.DequeueBuffer()
	b, _ := q.DequeueBuffer()
	if _, err := q.DequeueBuffer(); !errors.Is(err, ErrNoBuffers) {
		t.Fatalf("DequeueBuffer() on empty pool error = %v, want ErrNoBuffers", err)
	}

	if err := q.CancelBuffer(a); err != nil {
		t.Fatalf("CancelBuffer() error = %v", err)
	}
	if err := q.CancelBuffer(a); !errors.Is(err, ErrForeignBuffer) {
		t.Errorf("double CancelBuffer() error = %v, want ErrForeignBuffer", err)
	}

	if _, err := b.Lock(); err != nil {
		t.Fatal(err)
	}
	if err := q.EnqueueBuffer(1, b); !errors.Is(err, ErrStillLocked) {
		t.Errorf("EnqueueBuffer(locked) error = %v, want ErrStillLocked", err)
	}
	_ = b.Unlock()
	if err := q.EnqueueBuffer(1, b); err != nil {
		t.Errorf("EnqueueBuffer() error = %v", err)
	}

	st := q.Stats()
	if st.Enqueued != 1 || st.Cancelled != 1 || st.Free != 2 {
		t.Errorf("Stats() = %+v, want 1 enqueued, 1 cancelled, 2 free", st)
	}
}

func TestBufferQueue_DeliveryCopiesPayload(t *testing.T) {
	q, _ := NewBufferQueue(stream.FormatBlob, 640, 480, 1, 4)
	q.Bind(7)

	h, _ := q.DequeueBuffer()
	img, _ := h.Lock()
	copy(img, []byte{0xff, 0xd8, 0xff, 0xd9})
	h.SetLen(4)
	_ = h.Unlock()
	if err := q.EnqueueBuffer(1234, h); err != nil {
		t.Fatal(err)
	}

	d := <-q.Deliveries()
	if d.StreamID != 7 || d.Timestamp != 1234 || d.Format != stream.FormatBlob {
		t.Errorf("delivery = {%d %d %s}, want {7 1234 blob}", d.StreamID, d.Timestamp, d.Format)
	}
	if len(d.Data) != 4 || d.Data[0] != 0xff || d.Data[3] != 0xd9 {
		t.Errorf("delivery data = %x", d.Data)
	}

	// Reuse resets the valid length and must not alias the delivery.
	h2, _ := q.DequeueBuffer()
	if len(h2.Payload()) != h2.Cap() {
		t.Errorf("reused payload len = %d, want %d", len(h2.Payload()), h2.Cap())
	}
	img2, _ := h2.Lock()
	img2[0] = 0
	if d.Data[0] != 0xff {
		t.Error("delivery aliases the pooled buffer")
	}
}

func TestBufferQueue_SlowConsumerDrops(t *testing.T) {
	q, _ := NewBufferQueue(stream.FormatRGBA8888, 320, 240, 1, 1)
	for i := 0; i < 3; i++ {
		h, err := q.DequeueBuffer()
		if err != nil {
			t.Fatal(err)
		}
		if err := q.EnqueueBuffer(int64(i), h); err != nil {
			t.Fatal(err)
		}
	}
	st := q.Stats()
	if st.Enqueued != 3 || st.Dropped != 2 {
		t.Errorf("Stats() = %+v, want 3 enqueued, 2 dropped", st)
	}

	q.Close()
	q.Close()
	if _, err := q.DequeueBuffer(); !errors.Is(err, ErrClosed) {
		t.Errorf("DequeueBuffer() after Close error = %v, want ErrClosed", err)
	}
}
