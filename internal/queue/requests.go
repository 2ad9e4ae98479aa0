// Package queue provides the in-memory endpoints of the capture pipeline: a
// request queue feeding the configure stage, a frame queue receiving result
// metadata and per-stream buffer queues owning destination buffers.
//
// Consumers never block the pipeline. Frame and buffer deliveries go through
// bounded channels and are dropped, and counted, when a consumer falls
// behind.
package queue

import (
	"context"
	"errors"
	"sync"

	"github.com/randomizedcoder/go-fakecam/internal/metadata"
)

var (
	ErrClosed         = errors.New("queue closed")
	ErrFull           = errors.New("queue full")
	ErrUnknownRequest = errors.New("request not outstanding")
)

// DefaultRequestCapacity bounds the number of submitted requests waiting for
// the configure stage.
const DefaultRequestCapacity = 16

// RequestQueue is a FIFO of capture requests. A dequeued request stays
// outstanding until the pipeline frees it.
type RequestQueue struct {
	mu          sync.Mutex
	pending     []*metadata.Record
	outstanding map[*metadata.Record]struct{}
	capacity    int
	closed      bool
	submitted   int64
	freed       int64

	// changed is closed and replaced whenever pending or outstanding shrink.
	changed chan struct{}
}

// NewRequestQueue creates a queue holding at most capacity pending requests.
func NewRequestQueue(capacity int) *RequestQueue {
	if capacity < 1 {
		capacity = DefaultRequestCapacity
	}
	return &RequestQueue{
		outstanding: make(map[*metadata.Record]struct{}),
		capacity:    capacity,
		changed:     make(chan struct{}),
	}
}

// Submit appends a request.
func (q *RequestQueue) Submit(req *metadata.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrClosed
	}
	if len(q.pending) >= q.capacity {
		return ErrFull
	}
	q.pending = append(q.pending, req)
	q.submitted++
	return nil
}

// DequeueRequest returns the oldest pending request, or nil when none is
// pending.
func (q *RequestQueue) DequeueRequest() (*metadata.Record, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.pending) == 0 {
		return nil, nil
	}
	req := q.pending[0]
	q.pending[0] = nil
	q.pending = q.pending[1:]
	q.outstanding[req] = struct{}{}
	q.broadcastLocked()
	return req, nil
}

// FreeRequest takes back a request handed out by DequeueRequest.
func (q *RequestQueue) FreeRequest(req *metadata.Record) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.outstanding[req]; !ok {
		return ErrUnknownRequest
	}
	delete(q.outstanding, req)
	q.freed++
	q.broadcastLocked()
	return nil
}

func (q *RequestQueue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
}

// Close rejects further submissions. Pending requests stay dequeueable.
func (q *RequestQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
}

// Pending returns the number of requests not yet dequeued.
func (q *RequestQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Outstanding returns the number of dequeued requests not yet freed.
func (q *RequestQueue) Outstanding() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.outstanding)
}

// Counts returns the lifetime submitted and freed totals.
func (q *RequestQueue) Counts() (submitted, freed int64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.submitted, q.freed
}

// WaitIdle blocks until no request is pending or outstanding.
func (q *RequestQueue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		idle := len(q.pending) == 0 && len(q.outstanding) == 0
		changed := q.changed
		q.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
