package queue

import (
	"sync"
	"sync/atomic"

	"github.com/randomizedcoder/go-fakecam/internal/metadata"
)

// DefaultFrameBacklog is the number of result records buffered for a slow
// consumer.
const DefaultFrameBacklog = 64

// FrameQueue receives result metadata from the readout stage.
type FrameQueue struct {
	frames chan *metadata.Record

	mu     sync.RWMutex
	closed bool

	dequeued  atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewFrameQueue creates a frame queue with room for backlog undelivered
// records.
func NewFrameQueue(backlog int) *FrameQueue {
	if backlog < 1 {
		backlog = DefaultFrameBacklog
	}
	return &FrameQueue{frames: make(chan *metadata.Record, backlog)}
}

// DequeueFrame returns an empty record sized for the hints.
func (q *FrameQueue) DequeueFrame(entryCount, dataSize int) (*metadata.Record, error) {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return nil, ErrClosed
	}
	q.dequeued.Add(1)
	return metadata.New(entryCount, dataSize), nil
}

// EnqueueFrame publishes a filled record. A record that finds the backlog
// full is dropped.
func (q *FrameQueue) EnqueueFrame(frame *metadata.Record) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrClosed
	}
	select {
	case q.frames <- frame:
		q.delivered.Add(1)
	default:
		q.dropped.Add(1)
	}
	return nil
}

// Frames returns the delivery channel. It is closed by Close.
func (q *FrameQueue) Frames() <-chan *metadata.Record { return q.frames }

// Close stops deliveries and closes the channel. Safe to call more than once.
func (q *FrameQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	if !q.closed {
		q.closed = true
		close(q.frames)
	}
}

// Stats returns how many records were published and dropped.
func (q *FrameQueue) Stats() (delivered, dropped int64) {
	return q.delivered.Load(), q.dropped.Load()
}
