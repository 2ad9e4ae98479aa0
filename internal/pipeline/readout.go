package pipeline

import (
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/camerr"
	"github.com/randomizedcoder/go-fakecam/internal/metadata"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// DefaultInFlightQueueSize is the number of slots in the readout ring. One
// slot stays empty, so DefaultInFlightQueueSize-1 units can be queued.
const DefaultInFlightQueueSize = 4

// inFlight is one staged capture waiting for its frame.
type inFlight struct {
	request     *metadata.Record
	frameNumber int32
	buffers     stream.BufferSet
}

// ReadoutStage completes captures in the order they were staged.
type ReadoutStage struct {
	*worker

	sensor     Sensor
	source     RequestSource
	frames     FrameSink
	compressor Compressor

	// mu guards the ring and the processing slot, which the in-use probe
	// reads together.
	mu      sync.Mutex
	ring    []inFlight
	head    int
	tail    int
	current *inFlight
	drops   uint64
}

func newReadoutStage(
	logger *slog.Logger,
	cb *Callbacks,
	poll time.Duration,
	queueSize int,
	sensor Sensor,
	source RequestSource,
	frames FrameSink,
	compressor Compressor,
) *ReadoutStage {
	if queueSize < 2 {
		queueSize = DefaultInFlightQueueSize
	}
	return &ReadoutStage{
		worker:     newWorker("readout", logger, cb, poll),
		sensor:     sensor,
		source:     source,
		frames:     frames,
		compressor: compressor,
		ring:       make([]inFlight, queueSize),
	}
}

// Capacity returns how many units can be queued at once.
func (r *ReadoutStage) Capacity() int { return len(r.ring) - 1 }

// Enqueue queues a staged unit. On a full queue the unit is dropped, the
// drop is reported through OnError and an Unrecoverable error is returned;
// the caller still owns the buffers.
func (r *ReadoutStage) Enqueue(req *metadata.Record, buffers stream.BufferSet) error {
	frameNumber, _ := req.Int32(metadata.TagRequestFrameCount)

	r.mu.Lock()
	next := (r.tail + 1) % len(r.ring)
	if next == r.head {
		r.drops++
		r.mu.Unlock()

		err := camerr.Unrecoverable("readout_enqueue", "in-flight queue full (%d units), frame %d dropped",
			r.Capacity(), frameNumber)
		r.logger.Warn("readout_queue_full", "frame", frameNumber, "capacity", r.Capacity())
		if r.callbacks.OnReadoutDrop != nil {
			r.callbacks.OnReadoutDrop(frameNumber)
		}
		r.fail(err)
		return err
	}
	r.ring[r.tail] = inFlight{request: req, frameNumber: frameNumber, buffers: buffers}
	r.tail = next
	r.mu.Unlock()

	r.notify()
	return nil
}

// IsStreamInUse reports whether a queued or processing unit holds a buffer
// of stream id.
func (r *ReadoutStage) IsStreamInUse(id uint32) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.current != nil && r.current.buffers.HasStream(id) {
		return true
	}
	for i := r.head; i != r.tail; i = (i + 1) % len(r.ring) {
		if r.ring[i].buffers.HasStream(id) {
			return true
		}
	}
	return false
}

// InProgressCount returns the number of units queued or being processed.
func (r *ReadoutStage) InProgressCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := (r.tail - r.head + len(r.ring)) % len(r.ring)
	if r.current != nil {
		n++
	}
	return n
}

// Drops returns the number of units dropped on a full queue.
func (r *ReadoutStage) Drops() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.drops
}

func (r *ReadoutStage) start() { r.launch(r.loop) }

func (r *ReadoutStage) loop() {
	for !r.exiting() {
		if r.State() == StateIdle {
			if !r.waitForSignal() {
				continue
			}
			r.setState(StateActive)
		}

		unit := r.processing()
		if unit == nil {
			unit = r.pop()
			if unit == nil {
				r.setState(StateIdle)
				continue
			}
		}

		ok, captureTime := r.sensor.WaitForNewFrame(r.pollInterval)
		if !ok {
			continue
		}

		if err := r.complete(unit, captureTime); err != nil {
			r.fail(err)
			return
		}
	}
}

func (r *ReadoutStage) processing() *inFlight {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.current
}

// pop moves the oldest queued unit into the processing slot.
func (r *ReadoutStage) pop() *inFlight {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.head == r.tail {
		return nil
	}
	unit := r.ring[r.head]
	r.ring[r.head] = inFlight{}
	r.head = (r.head + 1) % len(r.ring)
	r.current = &unit
	return r.current
}

// complete delivers result metadata, returns the request and dispatches the
// buffers of a unit whose frame is ready.
func (r *ReadoutStage) complete(unit *inFlight, captureTime int64) error {
	const op = "readout_complete"

	mode, _ := unit.request.Byte(metadata.TagRequestMetadataMode)
	withMetadata := mode == metadata.MetadataModeFull
	if withMetadata {
		if err := r.deliverMetadata(unit.request, captureTime); err != nil {
			return camerr.Wrap(op, camerr.ErrUnrecoverable, err)
		}
	}

	if err := r.source.FreeRequest(unit.request); err != nil {
		return camerr.Wrap(op, camerr.ErrUnrecoverable, err)
	}
	unit.request = nil

	var blob *stream.ImageBuffer
	for _, b := range unit.buffers {
		if b.Format == stream.FormatBlob {
			blob = b
			continue
		}
		r.returnBuffer(b, captureTime)
	}

	if blob != nil {
		r.compress(unit.buffers, blob, captureTime)
	}

	r.mu.Lock()
	r.current = nil
	r.mu.Unlock()

	r.logger.Debug("frame_delivered",
		"frame", unit.frameNumber,
		"capture_time", captureTime,
		"buffers", len(unit.buffers),
		"metadata", withMetadata)
	if r.callbacks.OnFrameDelivered != nil {
		r.callbacks.OnFrameDelivered(unit.frameNumber, captureTime, withMetadata)
	}
	return nil
}

func (r *ReadoutStage) deliverMetadata(req *metadata.Record, captureTime int64) error {
	frame, err := r.frames.DequeueFrame(req.EntryCount()+2, req.DataCount()+8)
	if err != nil {
		return err
	}
	if err := frame.Append(req); err != nil {
		return err
	}
	if err := frame.SetInt64(metadata.TagSensorTimestamp, captureTime); err != nil {
		return err
	}
	// The scene value actually used, not the one requested.
	if err := frame.SetInt32(metadata.TagSceneHourOfDay, int32(r.sensor.SceneHour())); err != nil {
		return err
	}
	frame.Sort()
	return r.frames.EnqueueFrame(frame)
}

// returnBuffer unmaps a filled buffer and hands it back to its stream.
// Failures are reported and do not stop the rest of the unit.
func (r *ReadoutStage) returnBuffer(b *stream.ImageBuffer, captureTime int64) {
	if err := b.Handle.Unlock(); err != nil {
		r.logger.Warn("buffer_unlock_failed", "stream_id", b.StreamID, "error", err)
	}
	b.Img = nil

	if err := b.Sink.EnqueueBuffer(captureTime, b.Handle); err != nil {
		r.logger.Error("buffer_enqueue_failed", "stream_id", b.StreamID, "error", err)
		if r.callbacks.OnBufferEnqueueFailed != nil {
			r.callbacks.OnBufferEnqueueFailed(b.StreamID, err)
		}
		return
	}
	if r.callbacks.OnBufferEnqueued != nil {
		r.callbacks.OnBufferEnqueued(b.StreamID, captureTime)
	}
}

// compress hands the whole set to the compressor. The compressor normally
// went idle while the frame was exposing; if not, wait for it in bounded
// steps. A stopping stage drops the blob instead of starting a job.
func (r *ReadoutStage) compress(set stream.BufferSet, blob *stream.ImageBuffer, captureTime int64) {
	for {
		if r.exiting() {
			r.dropBlob(blob, camerr.Unrecoverable("readout_compress", "pipeline stopping, compression skipped"))
			return
		}
		if r.compressor.WaitForDone(r.pollInterval) {
			break
		}
	}
	if err := r.compressor.Start(set, captureTime); err != nil {
		r.dropBlob(blob, err)
	}
}

func (r *ReadoutStage) dropBlob(blob *stream.ImageBuffer, err error) {
	r.logger.Error("compressor_start_failed", "stream_id", blob.StreamID, "error", err)
	if rerr := (stream.BufferSet{blob}).Release(); rerr != nil {
		r.logger.Warn("blob_release_failed", "stream_id", blob.StreamID, "error", rerr)
	}
	if r.callbacks.OnBufferEnqueueFailed != nil {
		r.callbacks.OnBufferEnqueueFailed(blob.StreamID, err)
	}
}

// abandon returns everything the stopped stage still holds.
func (r *ReadoutStage) abandon() {
	r.mu.Lock()
	var units []inFlight
	if r.current != nil {
		units = append(units, *r.current)
		r.current = nil
	}
	for r.head != r.tail {
		units = append(units, r.ring[r.head])
		r.ring[r.head] = inFlight{}
		r.head = (r.head + 1) % len(r.ring)
	}
	r.mu.Unlock()

	for _, u := range units {
		if err := u.buffers.Release(); err != nil {
			r.logger.Warn("abandon_release_failed", "frame", u.frameNumber, "error", err)
		}
		if u.request != nil {
			if err := r.source.FreeRequest(u.request); err != nil {
				r.logger.Warn("abandon_free_failed", "frame", u.frameNumber, "error", err)
			}
		}
	}
	if len(units) > 0 {
		r.logger.Info("readout_abandoned", "units", len(units))
	}
}
