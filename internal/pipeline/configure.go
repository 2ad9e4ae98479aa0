package pipeline

import (
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/camerr"
	"github.com/randomizedcoder/go-fakecam/internal/metadata"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

type configurePhase int

const (
	phaseDequeue configurePhase = iota
	phaseWaitCompressor
	phaseWaitVSync
)

// captureSettings are the sensor controls read from one request.
type captureSettings struct {
	frameNumber   int32
	exposureTime  int64
	frameDuration int64
	sensitivity   int32
	hour          int32
	hasHour       bool
}

// ConfigureStage stages one request at a time: it parses the request,
// resolves its output streams, waits for the compressor and the sensor's
// vsync, programs the sensor, acquires the destination buffers and hands the
// unit to the readout stage and the sensor.
type ConfigureStage struct {
	*worker

	registry         *stream.Registry
	source           RequestSource
	sensor           Sensor
	compressor       Compressor
	readout          *ReadoutStage
	minVerticalBlank int64

	// Worker-only phase tracking.
	phase    configurePhase
	settings captureSettings

	// mu guards the staged unit, which the in-use probe reads.
	mu         sync.Mutex
	request    *metadata.Record
	targets    []uint32
	pending    stream.BufferSet
	inProgress int
}

func newConfigureStage(
	logger *slog.Logger,
	cb *Callbacks,
	poll time.Duration,
	minVerticalBlank int64,
	registry *stream.Registry,
	source RequestSource,
	sensor Sensor,
	compressor Compressor,
	readout *ReadoutStage,
) *ConfigureStage {
	return &ConfigureStage{
		worker:           newWorker("configure", logger, cb, poll),
		registry:         registry,
		source:           source,
		sensor:           sensor,
		compressor:       compressor,
		readout:          readout,
		minVerticalBlank: minVerticalBlank,
	}
}

// NewRequestAvailable wakes the stage.
func (c *ConfigureStage) NewRequestAvailable() {
	c.notify()
}

// IsStreamInUse reports whether the staged unit targets stream id.
func (c *ConfigureStage) IsStreamInUse(id uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.HasStream(id) || slices.Contains(c.targets, id)
}

// InProgressCount returns the number of requests accepted but not yet
// handed to the readout stage.
func (c *ConfigureStage) InProgressCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inProgress
}

func (c *ConfigureStage) start() { c.launch(c.loop) }

func (c *ConfigureStage) loop() {
	for !c.exiting() {
		if c.State() == StateIdle {
			if !c.waitForSignal() {
				continue
			}
			c.setState(StateActive)
		}

		if err := c.step(); err != nil {
			c.fail(err)
			return
		}
	}
}

// step advances the staged unit by one bounded phase.
func (c *ConfigureStage) step() error {
	switch c.phase {
	case phaseDequeue:
		return c.dequeue()

	case phaseWaitCompressor:
		if c.compressor.WaitForDone(c.pollInterval) {
			c.phase = phaseWaitVSync
		}
		return nil

	case phaseWaitVSync:
		if !c.sensor.WaitForVSync(c.pollInterval) {
			return nil
		}
		return c.capture()
	}
	return nil
}

func (c *ConfigureStage) dequeue() error {
	const op = "configure_dequeue"

	req, err := c.source.DequeueRequest()
	if err != nil {
		return camerr.Wrap(op, camerr.ErrUnrecoverable, err)
	}
	if req == nil {
		c.setState(StateIdle)
		return nil
	}

	c.mu.Lock()
	c.request = req
	c.inProgress = 1
	c.mu.Unlock()

	req.Sort()

	settings, streamIDs, err := parseRequest(req)
	if err != nil {
		return err
	}

	// Targets are visible to the in-use probe before any lookup, so a
	// concurrent Release either fails or removes the stream before the
	// lookup sees it.
	c.mu.Lock()
	c.targets = streamIDs
	c.mu.Unlock()

	buffers := make(stream.BufferSet, 0, len(streamIDs))
	needsJpeg := false
	for _, id := range streamIDs {
		s, err := c.registry.Lookup(id)
		if err != nil {
			return camerr.Wrap(op, camerr.ErrUnrecoverable, err)
		}
		pf, resolved := s.Format.Resolved()
		if !resolved {
			return camerr.Unrecoverable(op, "stream %d has no concrete format", id)
		}
		if pf == stream.FormatBlob {
			needsJpeg = true
		}
		buffers = append(buffers, &stream.ImageBuffer{
			StreamID: s.ID,
			Width:    s.Width,
			Height:   s.Height,
			Format:   pf,
			Stride:   s.Stride,
			Sink:     s.Sink,
		})
	}

	c.mu.Lock()
	c.pending = buffers
	c.mu.Unlock()

	c.settings = settings
	if needsJpeg {
		c.phase = phaseWaitCompressor
	} else {
		c.phase = phaseWaitVSync
	}

	c.logger.Debug("request_staged",
		"frame", settings.frameNumber,
		"streams", len(buffers),
		"needs_jpeg", needsJpeg)
	return nil
}

// parseRequest reads the capture controls and target streams of a request.
func parseRequest(req *metadata.Record) (captureSettings, []uint32, error) {
	const op = "configure_parse"
	var s captureSettings

	e, ok := req.Find(metadata.TagRequestOutputStreams)
	if !ok || e.Count() == 0 {
		return s, nil, camerr.Unrecoverable(op, "request has no output streams")
	}
	ids := make([]uint32, 0, e.Count())
	seen := make(map[uint32]bool, e.Count())
	for _, v := range e.Int32s() {
		id := uint32(v)
		if seen[id] {
			return s, nil, camerr.Unrecoverable(op, "stream %d listed twice", id)
		}
		seen[id] = true
		ids = append(ids, id)
	}

	if s.frameNumber, ok = req.Int32(metadata.TagRequestFrameCount); !ok {
		return s, nil, camerr.Unrecoverable(op, "request has no frame count")
	}
	if s.exposureTime, ok = req.Int64(metadata.TagSensorExposureTime); !ok {
		return s, nil, camerr.Unrecoverable(op, "frame %d: no exposure time", s.frameNumber)
	}
	if s.frameDuration, ok = req.Int64(metadata.TagSensorFrameDuration); !ok {
		return s, nil, camerr.Unrecoverable(op, "frame %d: no frame duration", s.frameNumber)
	}
	if s.sensitivity, ok = req.Int32(metadata.TagSensorSensitivity); !ok {
		return s, nil, camerr.Unrecoverable(op, "frame %d: no sensitivity", s.frameNumber)
	}
	s.hour, s.hasHour = req.Int32(metadata.TagSceneHourOfDay)

	return s, ids, nil
}

// capture runs right after vsync: program the sensor, acquire and map every
// buffer, then hand the unit on.
func (c *ConfigureStage) capture() error {
	const op = "configure_capture"
	s := c.settings

	duration := s.frameDuration
	if floor := s.exposureTime + c.minVerticalBlank; duration < floor {
		c.logger.Debug("frame_duration_clamped",
			"frame", s.frameNumber,
			"requested_ns", duration,
			"clamped_ns", floor)
		duration = floor
	}
	c.sensor.SetExposureTime(s.exposureTime)
	c.sensor.SetFrameDuration(duration)
	c.sensor.SetSensitivity(s.sensitivity)
	if s.hasHour {
		c.sensor.SetSceneHour(int(s.hour))
	}

	c.mu.Lock()
	buffers := c.pending
	req := c.request
	c.mu.Unlock()

	for _, b := range buffers {
		h, err := b.Sink.DequeueBuffer()
		if err != nil {
			return camerr.New(op, camerr.ErrUnrecoverable, "stream %d: dequeue buffer: %w", b.StreamID, err)
		}
		img, err := h.Lock()
		if err != nil {
			if cerr := b.Sink.CancelBuffer(h); cerr != nil {
				c.logger.Warn("cancel_buffer_failed", "stream_id", b.StreamID, "error", cerr)
			}
			return camerr.New(op, camerr.ErrUnrecoverable, "stream %d: lock buffer: %w", b.StreamID, err)
		}
		b.Handle = h
		b.Img = img
	}

	// Readout first, so the unit is queued before its frame can complete.
	if err := c.readout.Enqueue(req, buffers); err != nil {
		// The readout stage has reported the drop; the capture is lost.
		if rerr := buffers.Release(); rerr != nil {
			c.logger.Warn("dropped_unit_release_failed", "frame", s.frameNumber, "error", rerr)
		}
		if ferr := c.source.FreeRequest(req); ferr != nil {
			c.logger.Warn("dropped_unit_free_failed", "frame", s.frameNumber, "error", ferr)
		}
		c.clear()
		return nil
	}
	c.clear()
	c.sensor.SetDestinationBuffers(buffers)

	if c.callbacks.OnRequestStaged != nil {
		c.callbacks.OnRequestStaged(s.frameNumber, len(buffers))
	}
	return nil
}

func (c *ConfigureStage) clear() {
	c.mu.Lock()
	c.request = nil
	c.targets = nil
	c.pending = nil
	c.inProgress = 0
	c.mu.Unlock()

	c.phase = phaseDequeue
	c.settings = captureSettings{}
}

// abandon returns whatever the stopped stage still holds.
func (c *ConfigureStage) abandon() {
	c.mu.Lock()
	req, buffers := c.request, c.pending
	c.mu.Unlock()

	if buffers != nil {
		if err := buffers.Release(); err != nil {
			c.logger.Warn("abandon_release_failed", "error", err)
		}
	}
	if req != nil {
		if err := c.source.FreeRequest(req); err != nil {
			c.logger.Warn("abandon_free_failed", "error", err)
		}
	}
	c.mu.Lock()
	c.request = nil
	c.targets = nil
	c.pending = nil
	c.inProgress = 0
	c.mu.Unlock()
}
