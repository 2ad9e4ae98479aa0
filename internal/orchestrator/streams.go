package orchestrator

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/randomizedcoder/go-fakecam/internal/config"
	"github.com/randomizedcoder/go-fakecam/internal/output"
	"github.com/randomizedcoder/go-fakecam/internal/pipeline"
	"github.com/randomizedcoder/go-fakecam/internal/preview"
	"github.com/randomizedcoder/go-fakecam/internal/queue"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// outputStream is one configured stream and the buffer queue consuming it.
type outputStream struct {
	spec      config.StreamSpec
	id        uint32
	format    stream.PixelFormat // concrete buffer format
	frameSize int
	queue     *queue.BufferQueue
}

// bufferFormat picks the concrete format the consumer allocates for spec.
// Opaque streams get RGBA buffers.
func bufferFormat(spec config.StreamSpec) stream.PixelFormat {
	if spec.Format == stream.FormatOpaque {
		return stream.FormatRGBA8888
	}
	return spec.Format
}

// openStream allocates a stream, creates its buffer queue and registers the
// buffers, which resolves an opaque stream's format.
func openStream(ctrl *pipeline.Controller, spec config.StreamSpec) (*outputStream, error) {
	format := bufferFormat(spec)
	q, err := queue.NewBufferQueue(format, spec.Width, spec.Height, stream.DefaultMaxBuffers, 0)
	if err != nil {
		return nil, err
	}

	alloc, err := ctrl.AllocateStream(spec.Width, spec.Height, spec.Format, q)
	if err != nil {
		q.Close()
		return nil, err
	}
	q.Bind(alloc.ID)

	if err := ctrl.RegisterStreamBuffers(alloc.ID, q.Handles()); err != nil {
		q.Close()
		return nil, errors.Join(err, ctrl.ReleaseStream(alloc.ID))
	}

	return &outputStream{
		spec:      spec,
		id:        alloc.ID,
		format:    format,
		frameSize: format.BufferSize(spec.Width, spec.Height),
		queue:     q,
	}, nil
}

// deliveryConsumer drains one stream's deliveries into the optional frame
// saver and preview hub until the queue is closed.
type deliveryConsumer struct {
	logger *slog.Logger
	saver  *output.FrameSaver
	hub    *preview.Hub
}

func (c *deliveryConsumer) run(wg *sync.WaitGroup, s *outputStream) {
	defer wg.Done()
	for d := range s.queue.Deliveries() {
		if c.saver != nil {
			path, err := c.saver.Save(d)
			switch {
			case err == nil:
				c.logger.Debug("frame_saved", "stream_id", d.StreamID, "path", path)
			case errors.Is(err, output.ErrUnsupportedFormat):
			default:
				c.logger.Warn("frame_save_failed", "stream_id", d.StreamID, "error", err)
			}
		}
		if c.hub != nil && d.Format == stream.FormatBlob {
			c.hub.Broadcast(d.Data)
		}
	}
}
