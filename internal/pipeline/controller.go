package pipeline

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/camerr"
	"github.com/randomizedcoder/go-fakecam/internal/sensor"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// DefaultPollInterval bounds every wait in the stage workers.
const DefaultPollInterval = 10 * time.Millisecond

// Config configures a Controller.
type Config struct {
	Logger            *slog.Logger
	Callbacks         Callbacks
	PollInterval      time.Duration // default DefaultPollInterval
	InFlightQueueSize int           // readout ring slots, default DefaultInFlightQueueSize
	MinVerticalBlank  int64         // ns, default sensor.MinVerticalBlank

	Registry   *stream.Registry
	Sensor     Sensor
	Compressor Compressor
	Source     RequestSource
	Frames     FrameSink
}

// Controller owns the stream registry, both stage workers and the sensor and
// compressor collaborators.
type Controller struct {
	logger     *slog.Logger
	registry   *stream.Registry
	sensor     Sensor
	compressor Compressor

	configure *ConfigureStage
	readout   *ReadoutStage
	callbacks Callbacks

	errMu    sync.Mutex
	firstErr error
	errCount int

	startOnce sync.Once
	stopOnce  sync.Once
}

// NewController wires the stages together and registers their in-use probes
// with the registry in configure, readout, compressor order.
func NewController(cfg Config) (*Controller, error) {
	if cfg.Registry == nil || cfg.Sensor == nil || cfg.Compressor == nil || cfg.Source == nil || cfg.Frames == nil {
		return nil, fmt.Errorf("pipeline: registry, sensor, compressor, source and frames are required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	poll := cfg.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}
	queueSize := cfg.InFlightQueueSize
	if queueSize <= 0 {
		queueSize = DefaultInFlightQueueSize
	}
	mvb := cfg.MinVerticalBlank
	if mvb <= 0 {
		mvb = sensor.MinVerticalBlank
	}

	c := &Controller{
		logger:     logger.With("component", "pipeline"),
		registry:   cfg.Registry,
		sensor:     cfg.Sensor,
		compressor: cfg.Compressor,
		callbacks:  cfg.Callbacks,
	}

	// Stages report through the controller so the first error is kept.
	stageCallbacks := cfg.Callbacks
	stageCallbacks.OnError = c.recordError
	cb := &stageCallbacks

	c.readout = newReadoutStage(c.logger, cb, poll, queueSize, cfg.Sensor, cfg.Source, cfg.Frames, cfg.Compressor)
	c.configure = newConfigureStage(c.logger, cb, poll, mvb, cfg.Registry, cfg.Source, cfg.Sensor, cfg.Compressor, c.readout)

	cfg.Registry.AddProber(c.configure)
	cfg.Registry.AddProber(c.readout)
	cfg.Registry.AddProber(cfg.Compressor)

	return c, nil
}

// Start starts the sensor and both stage workers.
func (c *Controller) Start(ctx context.Context) error {
	var err error
	c.startOnce.Do(func() {
		c.logger.Info("pipeline_starting")
		if err = c.sensor.Start(ctx); err != nil {
			err = fmt.Errorf("starting sensor: %w", err)
			return
		}
		c.readout.start()
		c.configure.start()
	})
	return err
}

// Stop shuts the sensor down, asks both workers to exit and joins them, then
// cancels any running compression. Buffers and requests still held by the
// stages are returned. Safe to call more than once.
func (c *Controller) Stop() {
	c.stopOnce.Do(func() {
		c.logger.Info("pipeline_stopping",
			"configure_in_progress", c.configure.InProgressCount(),
			"readout_in_progress", c.readout.InProgressCount())

		c.sensor.Shutdown()
		c.configure.requestExit()
		c.readout.requestExit()
		c.configure.join()
		c.readout.join()
		// After the joins nothing can start another job.
		c.compressor.Cancel()

		c.configure.abandon()
		c.readout.abandon()
		c.logger.Info("pipeline_stopped")
	})
}

// NotifyRequestAvailable wakes the configure stage once it is running.
func (c *Controller) NotifyRequestAvailable(ctx context.Context) error {
	if err := c.configure.waitUntilRunning(ctx); err != nil {
		return err
	}
	c.configure.NewRequestAvailable()
	return nil
}

// InProgressCount returns the requests anywhere in the pipeline, counting a
// busy compressor as one.
func (c *Controller) InProgressCount() int {
	n := c.configure.InProgressCount() + c.readout.InProgressCount()
	if c.compressor.IsBusy() {
		n++
	}
	return n
}

// AllocateStream creates an output stream.
func (c *Controller) AllocateStream(width, height int, format stream.PixelFormat, sink stream.Sink) (stream.Allocation, error) {
	a, err := c.registry.Allocate(width, height, format, sink)
	if err != nil {
		return a, err
	}
	c.logger.Info("stream_allocated",
		"stream_id", a.ID,
		"width", width,
		"height", height,
		"format", a.Format.String())
	return a, nil
}

// RegisterStreamBuffers resolves a stream's format from the buffers its
// consumer will provide.
func (c *Controller) RegisterStreamBuffers(id uint32, buffers []*stream.BufferHandle) error {
	const op = "register_stream_buffers"
	if len(buffers) == 0 {
		return camerr.InvalidArgument(op, "stream %d: no buffers", id)
	}
	format := buffers[0].Format
	for _, b := range buffers[1:] {
		if b.Format != format {
			return camerr.InvalidArgument(op, "stream %d: mixed buffer formats %s and %s", id, format, b.Format)
		}
	}
	return c.registry.FinalizeFormat(id, format)
}

// ReleaseStream removes a stream that no pipeline component references.
func (c *Controller) ReleaseStream(id uint32) error {
	if err := c.registry.Release(id); err != nil {
		return err
	}
	c.logger.Info("stream_released", "stream_id", id)
	return nil
}

// Registry returns the stream registry.
func (c *Controller) Registry() *stream.Registry { return c.registry }

// ConfigureState returns the configure stage state.
func (c *Controller) ConfigureState() State { return c.configure.State() }

// ReadoutState returns the readout stage state.
func (c *Controller) ReadoutState() State { return c.readout.State() }

// ReadoutDrops returns the number of units dropped on a full readout queue.
func (c *Controller) ReadoutDrops() uint64 { return c.readout.Drops() }

// Err returns the first unrecoverable error, if any.
func (c *Controller) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.firstErr
}

// ErrorCount returns the number of unrecoverable errors reported.
func (c *Controller) ErrorCount() int {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.errCount
}

func (c *Controller) recordError(err error) {
	c.errMu.Lock()
	if c.firstErr == nil {
		c.firstErr = err
	}
	c.errCount++
	c.errMu.Unlock()

	if c.callbacks.OnError != nil {
		c.callbacks.OnError(err)
	}
}

// Dump writes the stream table and the pipeline state.
func (c *Controller) Dump(w io.Writer) {
	c.registry.Dump(w)
	fmt.Fprintf(w, "Pipeline:\n")
	fmt.Fprintf(w, "  configure: %s (in progress %d)\n", c.configure.State(), c.configure.InProgressCount())
	fmt.Fprintf(w, "  readout:   %s (in progress %d/%d, dropped %d)\n",
		c.readout.State(), c.readout.InProgressCount(), c.readout.Capacity(), c.readout.Drops())
	fmt.Fprintf(w, "  compressor busy: %t\n", c.compressor.IsBusy())
	if err := c.Err(); err != nil {
		fmt.Fprintf(w, "  first error: %v (%d total)\n", err, c.ErrorCount())
	}
}
