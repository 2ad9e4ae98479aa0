package queue

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

var (
	ErrNoBuffers     = errors.New("no free buffers")
	ErrForeignBuffer = errors.New("buffer not owned by this queue")
	ErrStillLocked   = errors.New("buffer returned while locked")
)

// DefaultDeliveryBacklog is the number of deliveries buffered per stream.
const DefaultDeliveryBacklog = 8

// Delivery is one filled buffer, copied out of the stream's buffer pool.
type Delivery struct {
	StreamID  uint32
	Format    stream.PixelFormat
	Width     int
	Height    int
	Timestamp int64
	Data      []byte
}

// BufferStats counts what happened to a queue's buffers.
type BufferStats struct {
	Enqueued  int64
	Cancelled int64
	Dropped   int64 // deliveries lost to a slow consumer
	Free      int
}

// BufferQueue is the consumer side of one stream. It owns a fixed pool of
// buffers, lends them to the camera and publishes each filled buffer as a
// Delivery.
type BufferQueue struct {
	format stream.PixelFormat
	width  int
	height int

	streamID atomic.Uint32

	mu          sync.Mutex
	handles     []*stream.BufferHandle
	free        []*stream.BufferHandle
	outstanding map[uint64]*stream.BufferHandle
	closed      bool
	deliveries  chan Delivery

	enqueued  atomic.Int64
	cancelled atomic.Int64
	dropped   atomic.Int64
}

// NewBufferQueue allocates count buffers of a concrete format.
func NewBufferQueue(format stream.PixelFormat, width, height, count, backlog int) (*BufferQueue, error) {
	if format == stream.FormatOpaque || !format.Supported() {
		return nil, fmt.Errorf("buffer queue needs a concrete format, got %s", format)
	}
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid buffer size %dx%d", width, height)
	}
	if count < 1 {
		count = stream.DefaultMaxBuffers
	}
	if backlog < 1 {
		backlog = DefaultDeliveryBacklog
	}

	q := &BufferQueue{
		format:      format,
		width:       width,
		height:      height,
		outstanding: make(map[uint64]*stream.BufferHandle, count),
		deliveries:  make(chan Delivery, backlog),
	}
	size := format.BufferSize(width, height)
	for i := 0; i < count; i++ {
		h := stream.NewBufferHandle(uint64(i+1), format, size)
		q.handles = append(q.handles, h)
		q.free = append(q.free, h)
	}
	return q, nil
}

// Bind records the stream id the registry assigned.
func (q *BufferQueue) Bind(id uint32) { q.streamID.Store(id) }

// StreamID returns the bound stream id.
func (q *BufferQueue) StreamID() uint32 { return q.streamID.Load() }

// Format returns the buffer format.
func (q *BufferQueue) Format() stream.PixelFormat { return q.format }

// Handles returns every buffer in the pool, for registration.
func (q *BufferQueue) Handles() []*stream.BufferHandle {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]*stream.BufferHandle(nil), q.handles...)
}

// DequeueBuffer lends a free buffer to the camera.
func (q *BufferQueue) DequeueBuffer() (*stream.BufferHandle, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return nil, ErrClosed
	}
	n := len(q.free)
	if n == 0 {
		return nil, ErrNoBuffers
	}
	h := q.free[n-1]
	q.free = q.free[:n-1]
	h.SetLen(h.Cap())
	q.outstanding[h.ID] = h
	return h, nil
}

// EnqueueBuffer takes back a filled buffer and publishes a copy of its
// payload.
func (q *BufferQueue) EnqueueBuffer(timestamp int64, h *stream.BufferHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.reclaimLocked(h); err != nil {
		return err
	}
	q.enqueued.Add(1)

	if q.closed {
		return nil
	}
	d := Delivery{
		StreamID:  q.StreamID(),
		Format:    q.format,
		Width:     q.width,
		Height:    q.height,
		Timestamp: timestamp,
		Data:      append([]byte(nil), h.Payload()...),
	}
	select {
	case q.deliveries <- d:
	default:
		q.dropped.Add(1)
	}
	return nil
}

// CancelBuffer takes back an unfilled buffer.
func (q *BufferQueue) CancelBuffer(h *stream.BufferHandle) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.reclaimLocked(h); err != nil {
		return err
	}
	q.cancelled.Add(1)
	return nil
}

func (q *BufferQueue) reclaimLocked(h *stream.BufferHandle) error {
	if h == nil || q.outstanding[h.ID] != h {
		return ErrForeignBuffer
	}
	if h.Locked() {
		return ErrStillLocked
	}
	delete(q.outstanding, h.ID)
	q.free = append(q.free, h)
	return nil
}

// Deliveries returns the delivery channel. It is closed by Close.
func (q *BufferQueue) Deliveries() <-chan Delivery { return q.deliveries }

// Close stops publishing and closes the delivery channel. Buffers still lent
// out can be returned afterwards. Safe to call more than once.
func (q *BufferQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.deliveries)
	}
}

// Stats returns the queue counters.
func (q *BufferQueue) Stats() BufferStats {
	q.mu.Lock()
	free := len(q.free)
	q.mu.Unlock()
	return BufferStats{
		Enqueued:  q.enqueued.Load(),
		Cancelled: q.cancelled.Load(),
		Dropped:   q.dropped.Load(),
		Free:      free,
	}
}
