// Package compressor runs JPEG encoding of captured frames off the readout
// path. One job runs at a time; the caller checks IsBusy or WaitForDone
// before starting the next.
package compressor

import (
	"errors"
	"fmt"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/camerr"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// DefaultQuality is the JPEG quality used when none is configured.
const DefaultQuality = 80

var errCancelled = errors.New("compression cancelled")

// Callbacks for job outcomes. All are optional and run on the job goroutine.
type Callbacks struct {
	OnDone  func(streamID uint32, size int, elapsed time.Duration, timestamp int64)
	OnError func(streamID uint32, err error)
}

// Compressor encodes the Blob buffer of a capture and returns it to its
// stream.
type Compressor struct {
	logger    *slog.Logger
	quality   int
	callbacks Callbacks

	mu        sync.Mutex
	busy      bool
	job       stream.BufferSet
	cancelled bool
	idle      chan struct{} // closed when the current job ends

	wg sync.WaitGroup
}

// New creates an idle compressor.
func New(logger *slog.Logger, quality int, cb Callbacks) *Compressor {
	if logger == nil {
		logger = slog.Default()
	}
	if quality <= 0 || quality > 100 {
		quality = DefaultQuality
	}
	idle := make(chan struct{})
	close(idle)
	return &Compressor{
		logger:    logger,
		quality:   quality,
		callbacks: cb,
		idle:      idle,
	}
}

// Start takes ownership of set and encodes its Blob buffer asynchronously,
// stamping it with timestamp.
func (c *Compressor) Start(set stream.BufferSet, timestamp int64) error {
	const op = "compressor_start"

	blob := set.Blob()
	if blob == nil {
		return camerr.InvalidArgument(op, "buffer set has no blob buffer")
	}

	c.mu.Lock()
	if c.busy {
		c.mu.Unlock()
		return camerr.New(op, camerr.ErrFailedPrecondition, "already compressing")
	}
	c.busy = true
	c.cancelled = false
	c.job = set
	c.idle = make(chan struct{})
	idle := c.idle
	c.mu.Unlock()

	c.wg.Add(1)
	go c.run(blob, timestamp, idle)
	return nil
}

// IsBusy reports whether a job is running.
func (c *Compressor) IsBusy() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy
}

// WaitForDone waits up to timeout for the current job to finish. It reports
// whether the compressor is idle.
func (c *Compressor) WaitForDone(timeout time.Duration) bool {
	c.mu.Lock()
	idle := c.idle
	c.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-idle:
		return true
	case <-t.C:
		return false
	}
}

// Cancel aborts the current job, if any, and waits for it to end. A
// cancelled Blob buffer is returned to its stream unfilled.
func (c *Compressor) Cancel() {
	c.mu.Lock()
	if c.busy {
		c.cancelled = true
	}
	c.mu.Unlock()
	c.wg.Wait()
}

// IsStreamInUse reports whether the running job holds a buffer of stream id.
func (c *Compressor) IsStreamInUse(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.busy && c.job.HasStream(id)
}

func (c *Compressor) isCancelled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelled
}

func (c *Compressor) run(blob *stream.ImageBuffer, timestamp int64, idle chan struct{}) {
	defer c.wg.Done()

	start := time.Now()
	size, err := c.compress(blob)
	if err == nil && c.isCancelled() {
		err = errCancelled
	}

	if err != nil {
		if errors.Is(err, errCancelled) {
			c.logger.Info("compression_cancelled", "stream_id", blob.StreamID)
		} else {
			c.logger.Error("compression_failed", "stream_id", blob.StreamID, "error", err)
			if c.callbacks.OnError != nil {
				c.callbacks.OnError(blob.StreamID, err)
			}
		}
		if rerr := (stream.BufferSet{blob}).Release(); rerr != nil {
			c.logger.Warn("compression_buffer_release_failed", "stream_id", blob.StreamID, "error", rerr)
		}
	} else {
		elapsed := time.Since(start)
		handle := blob.Handle
		if uerr := handle.Unlock(); uerr != nil {
			c.logger.Warn("compression_unlock_failed", "stream_id", blob.StreamID, "error", uerr)
		}
		blob.Img = nil
		if eerr := blob.Sink.EnqueueBuffer(timestamp, handle); eerr != nil {
			c.logger.Error("compression_enqueue_failed", "stream_id", blob.StreamID, "error", eerr)
			if c.callbacks.OnError != nil {
				c.callbacks.OnError(blob.StreamID, eerr)
			}
		} else {
			c.logger.Debug("compression_done",
				"stream_id", blob.StreamID,
				"bytes", size,
				"elapsed", elapsed)
			if c.callbacks.OnDone != nil {
				c.callbacks.OnDone(blob.StreamID, size, elapsed, timestamp)
			}
		}
	}

	c.mu.Lock()
	c.busy = false
	c.job = nil
	close(idle)
	c.mu.Unlock()
}

func (c *Compressor) compress(b *stream.ImageBuffer) (int, error) {
	if c.isCancelled() {
		return 0, errCancelled
	}
	if b.Aux == nil {
		return 0, fmt.Errorf("stream %d: no source image", b.StreamID)
	}
	if b.Img == nil || b.Handle == nil {
		return 0, fmt.Errorf("stream %d: blob buffer not mapped", b.StreamID)
	}

	w := &sliceWriter{buf: b.Img}
	if err := jpeg.Encode(w, b.Aux, &jpeg.Options{Quality: c.quality}); err != nil {
		return 0, fmt.Errorf("stream %d: encode: %w", b.StreamID, err)
	}
	b.Handle.SetLen(w.n)
	return w.n, nil
}

// sliceWriter writes into a fixed buffer and fails instead of growing.
type sliceWriter struct {
	buf []byte
	n   int
}

var errBufferFull = errors.New("jpeg does not fit in buffer")

func (w *sliceWriter) Write(p []byte) (int, error) {
	if len(p) > len(w.buf)-w.n {
		return 0, errBufferFull
	}
	w.n += copy(w.buf[w.n:], p)
	return len(p), nil
}
