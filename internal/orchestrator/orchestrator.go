package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/randomizedcoder/go-fakecam/internal/compressor"
	"github.com/randomizedcoder/go-fakecam/internal/config"
	"github.com/randomizedcoder/go-fakecam/internal/logging"
	"github.com/randomizedcoder/go-fakecam/internal/metadata"
	"github.com/randomizedcoder/go-fakecam/internal/metrics"
	"github.com/randomizedcoder/go-fakecam/internal/output"
	"github.com/randomizedcoder/go-fakecam/internal/pipeline"
	"github.com/randomizedcoder/go-fakecam/internal/preflight"
	"github.com/randomizedcoder/go-fakecam/internal/preview"
	"github.com/randomizedcoder/go-fakecam/internal/queue"
	"github.com/randomizedcoder/go-fakecam/internal/sensor"
	"github.com/randomizedcoder/go-fakecam/internal/stats"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
	"github.com/randomizedcoder/go-fakecam/internal/tui"
)

const (
	shutdownTimeout = 10 * time.Second
	sampleInterval  = time.Second
	recentDumpLimit = 20
)

// Options carries what the orchestrator needs besides the configuration.
type Options struct {
	// Version is reported in the info metric.
	Version string

	// Recent holds retained warn/error records for /dump and the dashboard.
	// Optional.
	Recent *logging.Recent

	// Out receives preflight results and the exit summary. Default os.Stdout.
	Out io.Writer
}

// Orchestrator coordinates all components for a capture session.
type Orchestrator struct {
	config    *config.Config
	logger    *slog.Logger
	recent    *logging.Recent
	out       io.Writer
	sessionID string
	specs     []config.StreamSpec

	sensor     *sensor.Sensor
	compressor *compressor.Compressor
	requests   *queue.RequestQueue
	frames     *queue.FrameQueue
	ctrl       *pipeline.Controller
	scheduler  *RequestScheduler

	stats         *stats.Aggregator
	metrics       *metrics.Collector
	metricsServer *metrics.Server
	hub           *preview.Hub
	saver         *output.FrameSaver

	streamsMu sync.RWMutex
	streams   []*outputStream
	sizes     map[uint32]int

	stopping atomic.Bool
	failOnce sync.Once
	failed   chan struct{} // closed when a stage worker stops on its own

	startTime time.Time
}

// New creates an Orchestrator with the given configuration. The
// configuration must have passed config.Validate.
func New(cfg *config.Config, logger *slog.Logger, opts Options) (*Orchestrator, error) {
	if logger == nil {
		logger = slog.Default()
	}
	out := opts.Out
	if out == nil {
		out = os.Stdout
	}

	facing, err := stream.ParseFacing(cfg.Facing)
	if err != nil {
		return nil, err
	}
	specs, err := cfg.StreamSpecs()
	if err != nil {
		return nil, err
	}

	o := &Orchestrator{
		config:    cfg,
		logger:    logger,
		recent:    opts.Recent,
		out:       out,
		sessionID: uuid.NewString(),
		specs:     specs,
		scheduler: NewRequestScheduler(cfg.RequestRate, cfg.RequestJitter),
		stats:     stats.NewAggregator(),
		hub:       preview.NewHub(logger),
		sizes:     make(map[uint32]int),
		failed:    make(chan struct{}),
	}
	o.logger = logger.With("session_id", o.sessionID)

	if cfg.OutputDir != "" {
		if o.saver, err = output.NewFrameSaver(cfg.OutputDir); err != nil {
			return nil, err
		}
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	o.metrics = metrics.NewCollectorWithRegistry(metrics.CollectorConfig{
		SessionID:      o.sessionID,
		Version:        opts.Version,
		Facing:         facing.String(),
		Template:       cfg.Template,
		TargetRequests: cfg.Requests,
		TestDuration:   cfg.Duration,
	}, registry)
	o.metrics.SetStageState("configure", metrics.StageNotStarted)
	o.metrics.SetStageState("readout", metrics.StageNotStarted)

	if cfg.MetricsAddr != "" {
		o.metricsServer = metrics.NewServer(metrics.ServerConfig{
			Addr:     cfg.MetricsAddr,
			Logger:   logger,
			Gatherer: registry,
			Dump:     o.Dump,
			Preview:  o.hub,
		})
	}

	hour := cfg.Hour
	if hour < 0 {
		hour = time.Now().Hour()
	}
	o.sensor = sensor.New(logger.With("component", "sensor"), sensor.NewScene(hour), sensor.Callbacks{})
	o.compressor = compressor.New(logger.With("component", "compressor"), cfg.JPEGQuality, compressor.Callbacks{
		OnDone:  o.onJPEGDone,
		OnError: o.onJPEGError,
	})
	o.requests = queue.NewRequestQueue(queue.DefaultRequestCapacity)
	o.frames = queue.NewFrameQueue(queue.DefaultFrameBacklog)

	o.ctrl, err = pipeline.NewController(pipeline.Config{
		Logger:            logger,
		PollInterval:      cfg.PollInterval,
		InFlightQueueSize: cfg.InFlightQueue,
		Registry:          stream.NewRegistry(facing),
		Sensor:            o.sensor,
		Compressor:        o.compressor,
		Source:            o.requests,
		Frames:            o.frames,
		Callbacks: pipeline.Callbacks{
			OnError:               o.onPipelineError,
			OnStateChange:         o.onStateChange,
			OnRequestStaged:       o.onRequestStaged,
			OnFrameDelivered:      o.onFrameDelivered,
			OnBufferEnqueued:      o.onBufferEnqueued,
			OnBufferEnqueueFailed: o.onBufferEnqueueFailed,
			OnReadoutDrop:         o.onReadoutDrop,
		},
	})
	if err != nil {
		return nil, err
	}

	return o, nil
}

// Run executes the capture session. It blocks until the request count is
// reached, the duration elapses, a signal arrives, the dashboard quits or
// the pipeline fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	o.startTime = time.Now()

	// Run preflight checks
	if !o.config.SkipPreflight {
		result := preflight.RunAll(preflight.Options{
			OutputDir:        o.config.OutputDir,
			MetricsAddr:      o.config.MetricsAddr,
			Streams:          o.specs,
			BuffersPerStream: stream.DefaultMaxBuffers,
		})
		preflight.PrintResults(o.out, result)
		if !result.Passed {
			return fmt.Errorf("preflight checks failed (use -skip-preflight to override)")
		}
	}

	// Start metrics server
	if o.metricsServer != nil {
		if err := o.metricsServer.Start(); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		o.logger.Info("metrics_server_started", "addr", o.metricsServer.Addr())
	}

	// Setup signal handling
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	// The pipeline outlives ctx so in-flight requests can drain.
	pipelineCtx, stopPipeline := context.WithCancel(context.WithoutCancel(ctx))
	defer stopPipeline()

	if err := o.ctrl.Start(pipelineCtx); err != nil {
		o.shutdownServers()
		return err
	}

	var consumers sync.WaitGroup
	if err := o.openStreams(&consumers); err != nil {
		o.abort(&consumers)
		return err
	}

	builder, err := newRequestBuilder(o.config, o.streamIDs())
	if err != nil {
		o.abort(&consumers)
		return err
	}

	sampleDone := make(chan struct{})
	go func() {
		defer close(sampleDone)
		o.sampleLoop(ctx)
	}()

	var program *tea.Program
	tuiDone := make(chan struct{})
	if o.config.TUIEnabled {
		program = o.startTUI(tuiDone)
	}

	o.logger.Info("submission_starting",
		"requests", o.config.Requests,
		"rate", o.config.RequestRate,
		"template", o.config.Template,
		"estimated_duration", o.scheduler.EstimatedDuration(o.config.Requests).String(),
	)

	submitCtx, stopSubmit := context.WithCancel(ctx)
	defer stopSubmit()
	submitDone := make(chan struct{})
	go func() {
		defer close(submitDone)
		o.submit(submitCtx, builder)
	}()

	// Setup duration timer if configured
	var durationTimer <-chan time.Time
	if o.config.Duration > 0 {
		timer := time.NewTimer(o.config.Duration)
		defer timer.Stop()
		durationTimer = timer.C
	}

	// Wait for completion signal
	drain := true
	select {
	case sig := <-sigCh:
		o.logger.Info("received_signal", "signal", sig.String())
	case <-durationTimer:
		o.logger.Info("duration_elapsed", "duration", o.config.Duration.String())
	case <-submitDone:
		o.logger.Info("submission_complete", "requests", o.config.Requests)
	case <-o.failed:
		o.logger.Error("pipeline_failed", "error", o.ctrl.Err())
		drain = false
	case <-tuiDone:
		o.logger.Info("dashboard_quit")
	case <-ctx.Done():
		o.logger.Info("context_cancelled")
	}

	// Stop submitting, then let in-flight requests finish
	stopSubmit()
	<-submitDone
	o.requests.Close()

	// Graceful shutdown with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if drain {
		if err := o.drain(shutdownCtx); err != nil {
			o.logger.Warn("drain_incomplete",
				"error", err,
				"pending", o.requests.Pending(),
				"outstanding", o.requests.Outstanding())
		}
	}

	o.stopping.Store(true)
	o.ctrl.Stop()
	o.releaseStreams()
	o.closeStreams(&consumers)

	cancel()
	<-sampleDone
	o.recordConsumerDrops()
	o.updateMetrics()

	if program != nil {
		program.Quit()
		<-tuiDone
	}

	o.hub.Close()
	if o.metricsServer != nil {
		if err := o.metricsServer.Shutdown(shutdownCtx); err != nil {
			o.logger.Warn("metrics_server_shutdown_error", "error", err)
		}
	}

	// Print exit summary
	fmt.Fprint(o.out, o.exitSummary())

	if o.stageFailed() {
		return fmt.Errorf("pipeline failed: %w", o.ctrl.Err())
	}
	return nil
}

func (o *Orchestrator) stageFailed() bool {
	select {
	case <-o.failed:
		return true
	default:
		return false
	}
}

// openStreams allocates every configured stream and starts its consumer.
func (o *Orchestrator) openStreams(wg *sync.WaitGroup) error {
	consumer := &deliveryConsumer{
		logger: o.logger.With("component", "consumer"),
		saver:  o.saver,
		hub:    o.hub,
	}
	wg.Add(1)
	go o.consumeFrames(wg)

	for _, spec := range o.specs {
		s, err := openStream(o.ctrl, spec)
		if err != nil {
			return fmt.Errorf("stream %s: %w", spec, err)
		}

		o.streamsMu.Lock()
		o.streams = append(o.streams, s)
		o.sizes[s.id] = s.frameSize
		o.streamsMu.Unlock()

		o.stats.AddStream(s.id, s.format.String(), spec.Width, spec.Height)
		o.metrics.AddStream(s.id)

		wg.Add(1)
		go consumer.run(wg, s)
	}
	return nil
}

// consumeFrames drains result metadata until the frame queue is closed.
func (o *Orchestrator) consumeFrames(wg *sync.WaitGroup) {
	defer wg.Done()
	for frame := range o.frames.Frames() {
		if !o.config.Verbose {
			continue
		}
		number, _ := frame.Int32(metadata.TagRequestFrameCount)
		timestamp, _ := frame.Int64(metadata.TagSensorTimestamp)
		o.logger.Debug("frame_result",
			"frame", number,
			"timestamp", timestamp,
			"entries", frame.EntryCount())
	}
}

func (o *Orchestrator) streamIDs() []uint32 {
	o.streamsMu.RLock()
	defer o.streamsMu.RUnlock()
	ids := make([]uint32, len(o.streams))
	for i, s := range o.streams {
		ids[i] = s.id
	}
	return ids
}

// releaseStreams removes every stream from the registry. The pipeline must
// be stopped.
func (o *Orchestrator) releaseStreams() {
	o.streamsMu.RLock()
	defer o.streamsMu.RUnlock()
	for _, s := range o.streams {
		if err := o.ctrl.ReleaseStream(s.id); err != nil {
			o.logger.Warn("stream_release_failed", "stream_id", s.id, "error", err)
			continue
		}
		o.metrics.RemoveStream(s.id)
	}
}

// closeStreams closes every buffer queue and the frame queue, then waits for
// the consumers to finish.
func (o *Orchestrator) closeStreams(wg *sync.WaitGroup) {
	o.streamsMu.RLock()
	for _, s := range o.streams {
		s.queue.Close()
	}
	o.streamsMu.RUnlock()
	o.frames.Close()
	wg.Wait()
}

// submit feeds requests to the pipeline at the configured rate.
func (o *Orchestrator) submit(ctx context.Context, builder *requestBuilder) {
	submitted := 0
	for tick := 0; o.config.Requests == 0 || submitted < o.config.Requests; tick++ {
		if err := o.scheduler.Schedule(ctx, tick); err != nil {
			o.logger.Info("submission_cancelled", "submitted", submitted, "target", o.config.Requests)
			return
		}

		// Only this goroutine adds requests, so a free slot stays free.
		if o.requests.Pending() >= queue.DefaultRequestCapacity {
			o.logger.Debug("request_backlog_full", "tick", tick)
			continue
		}

		frame := int32(submitted)
		req, err := builder.build(frame)
		if err != nil {
			o.logger.Error("request_build_failed", "frame", frame, "error", err)
			return
		}
		o.stats.RecordSubmitted(frame)
		if err := o.requests.Submit(req); err != nil {
			o.logger.Warn("request_submit_failed", "frame", frame, "error", err)
			return
		}
		o.metrics.RequestSubmitted()
		submitted++

		if err := o.ctrl.NotifyRequestAvailable(ctx); err != nil {
			return
		}

		if submitted%100 == 0 || submitted == o.config.Requests {
			o.logger.Info("submission_progress",
				"submitted", submitted,
				"target", o.config.Requests,
				"in_flight", o.ctrl.InProgressCount())
		}
	}
}

// drain waits until every submitted request has left the pipeline.
func (o *Orchestrator) drain(ctx context.Context) error {
	if err := o.requests.WaitIdle(ctx); err != nil {
		return err
	}
	ticker := time.NewTicker(o.config.PollInterval)
	defer ticker.Stop()
	for o.ctrl.InProgressCount() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.failed:
			return o.ctrl.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// sampleLoop feeds the rate trackers and exports the sampled gauges.
func (o *Orchestrator) sampleLoop(ctx context.Context) {
	ticker := time.NewTicker(sampleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			o.stats.RecordSample()
			o.updateMetrics()
		}
	}
}

func (o *Orchestrator) updateMetrics() {
	s := o.stats.Aggregate()
	u := &metrics.StatsUpdate{
		InFlight:       s.InFlight,
		FrameRate:      s.FrameRate.Rate1s,
		CaptureP50:     s.CaptureLatency.P50,
		CaptureP95:     s.CaptureLatency.P95,
		CaptureP99:     s.CaptureLatency.P99,
		StreamRates:    make(map[uint32]float64, len(s.Streams)),
		PreviewClients: o.hub.ClientCount(),
	}
	for _, st := range s.Streams {
		u.StreamRates[st.StreamID] = st.Rate.Rate1s
	}
	o.metrics.RecordStats(u)
}

// recordConsumerDrops exports deliveries lost to slow consumers.
func (o *Orchestrator) recordConsumerDrops() {
	_, frameDrops := o.frames.Stats()
	o.metrics.ConsumerDrops("frames", frameDrops)

	var bufferDrops int64
	o.streamsMu.RLock()
	for _, s := range o.streams {
		bufferDrops += s.queue.Stats().Dropped
	}
	o.streamsMu.RUnlock()
	o.metrics.ConsumerDrops("buffers", bufferDrops)

	_, previewDrops := o.hub.Stats()
	o.metrics.ConsumerDrops("preview", int64(previewDrops))
}

func (o *Orchestrator) deliveryDrops() int64 {
	_, drops := o.frames.Stats()
	o.streamsMu.RLock()
	defer o.streamsMu.RUnlock()
	for _, s := range o.streams {
		drops += s.queue.Stats().Dropped
	}
	return drops
}

func (o *Orchestrator) streamSize(id uint32) int {
	o.streamsMu.RLock()
	defer o.streamsMu.RUnlock()
	return o.sizes[id]
}

// abort tears down a session that failed to start.
func (o *Orchestrator) abort(consumers *sync.WaitGroup) {
	o.stopping.Store(true)
	o.ctrl.Stop()
	o.releaseStreams()
	o.closeStreams(consumers)
	o.shutdownServers()
}

// shutdownServers stops the HTTP endpoints after a failed start.
func (o *Orchestrator) shutdownServers() {
	o.hub.Close()
	if o.metricsServer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := o.metricsServer.Shutdown(ctx); err != nil {
		o.logger.Warn("metrics_server_shutdown_error", "error", err)
	}
}

// Callback handlers

func (o *Orchestrator) onPipelineError(err error) {
	o.stats.RecordError()
	o.metrics.PipelineError()
}

func (o *Orchestrator) onStateChange(stage string, oldState, newState pipeline.State) {
	o.metrics.SetStageState(stage, stageCode(newState))
	o.logger.Debug("stage_state_changed",
		"stage", stage,
		"from", oldState.String(),
		"to", newState.String())

	if newState.IsTerminal() && !o.stopping.Load() {
		o.logger.Error("stage_stopped_unexpectedly", "stage", stage, "error", o.ctrl.Err())
		o.failOnce.Do(func() { close(o.failed) })
	}
}

func (o *Orchestrator) onRequestStaged(frame int32, buffers int) {
	if o.config.Verbose {
		o.logger.Debug("request_staged", "frame", frame, "buffers", buffers)
	}
}

func (o *Orchestrator) onFrameDelivered(frame int32, captureTime int64, withMetadata bool) {
	latency := o.stats.RecordDelivered(frame, withMetadata)
	o.metrics.FrameDelivered(withMetadata, latency)
}

func (o *Orchestrator) onBufferEnqueued(streamID uint32, captureTime int64) {
	size := o.streamSize(streamID)
	o.stats.RecordBuffer(streamID, size, captureTime)
	o.metrics.BufferEnqueued(streamID, size)
}

func (o *Orchestrator) onBufferEnqueueFailed(streamID uint32, err error) {
	o.stats.RecordBufferFailure(streamID)
	o.metrics.BufferFailed(streamID)
}

func (o *Orchestrator) onReadoutDrop(frame int32) {
	o.stats.RecordReadoutDrop(frame)
	o.metrics.ReadoutDrop()
}

func (o *Orchestrator) onJPEGDone(streamID uint32, size int, elapsed time.Duration, timestamp int64) {
	o.stats.RecordJPEG(size, elapsed)
	o.stats.RecordBuffer(streamID, size, timestamp)
	o.metrics.JPEGEncoded(size, elapsed)
	o.metrics.BufferEnqueued(streamID, size)
}

func (o *Orchestrator) onJPEGError(streamID uint32, err error) {
	o.stats.RecordJPEGFailure()
	o.stats.RecordBufferFailure(streamID)
	o.metrics.JPEGFailed()
	o.metrics.BufferFailed(streamID)
}

// stageCode maps a stage state to its metric code.
func stageCode(s pipeline.State) int {
	switch s {
	case pipeline.StateIdle:
		return metrics.StageIdle
	case pipeline.StateActive:
		return metrics.StageActive
	case pipeline.StateStopped:
		return metrics.StageStopped
	default:
		return metrics.StageNotStarted
	}
}

// Dump writes the session header, the pipeline state and the most recent
// warnings and errors.
func (o *Orchestrator) Dump(w io.Writer) {
	fmt.Fprintf(w, "Session %s: %s camera, %s template, up %s\n\n",
		o.sessionID, o.config.Facing, o.config.Template, stats.FormatDuration(o.stats.Elapsed()))
	o.ctrl.Dump(w)

	if o.recent == nil {
		return
	}
	entries := o.recent.Entries(recentDumpLimit)
	if len(entries) == 0 {
		return
	}
	fmt.Fprintf(w, "\nRecent warnings and errors:\n")
	for _, e := range entries {
		fmt.Fprintf(w, "  %s\n", e)
	}
}

// exitSummary formats the session summary.
func (o *Orchestrator) exitSummary() string {
	cfg := stats.SummaryConfig{
		SessionID:      o.sessionID,
		Facing:         o.config.Facing,
		Template:       o.config.Template,
		TargetRequests: o.config.Requests,
		Duration:       time.Since(o.startTime),
		OutputDir:      o.config.OutputDir,
		DeliveryDrops:  o.deliveryDrops(),
		FirstError:     o.ctrl.Err(),
	}
	if o.metricsServer != nil {
		cfg.MetricsAddr = o.metricsServer.Addr()
	}
	if o.saver != nil {
		cfg.SavedFiles, cfg.SaveFailures, _ = o.saver.Stats()
	}
	cfg.PreviewSent, _ = o.hub.Stats()
	return stats.FormatExitSummary(o.stats.Aggregate(), cfg)
}

// startTUI runs the dashboard until it quits, closing done afterwards.
func (o *Orchestrator) startTUI(done chan struct{}) *tea.Program {
	model := tui.New(tui.Config{
		SessionID:      o.sessionID,
		Facing:         o.config.Facing,
		Template:       o.config.Template,
		TargetRequests: o.config.Requests,
		TargetRate:     float64(o.config.RequestRate),
		MetricsAddr:    o.config.MetricsAddr,
		StatsSource:    o,
		StatusSource:   o,
		Recent:         o.recent,
	})
	program := tea.NewProgram(model, tea.WithAltScreen())
	go func() {
		defer close(done)
		if _, err := program.Run(); err != nil && !errors.Is(err, tea.ErrProgramKilled) {
			o.logger.Warn("dashboard_failed", "error", err)
		}
	}()
	return program
}

// GetAggregatedStats implements tui.StatsSource.
func (o *Orchestrator) GetAggregatedStats() *stats.AggregatedStats {
	return o.stats.Aggregate()
}

// GetPipelineStatus implements tui.StatusSource.
func (o *Orchestrator) GetPipelineStatus() tui.PipelineStatus {
	status := tui.PipelineStatus{
		Configure:      o.ctrl.ConfigureState().String(),
		Readout:        o.ctrl.ReadoutState().String(),
		InProgress:     o.ctrl.InProgressCount(),
		ReadoutDrops:   o.ctrl.ReadoutDrops(),
		DeliveryDrops:  o.deliveryDrops(),
		PreviewClients: o.hub.ClientCount(),
	}
	if o.saver != nil {
		status.SavedFiles, _, _ = o.saver.Stats()
	}
	if err := o.ctrl.Err(); err != nil {
		status.FirstError = err.Error()
	}
	return status
}

// SessionID returns the session identifier.
func (o *Orchestrator) SessionID() string {
	return o.sessionID
}

// Controller returns the pipeline controller for external access.
func (o *Orchestrator) Controller() *pipeline.Controller {
	return o.ctrl
}

// Metrics returns the metrics collector for external access.
func (o *Orchestrator) Metrics() *metrics.Collector {
	return o.metrics
}

// Stats returns the statistics aggregator for external access.
func (o *Orchestrator) Stats() *stats.Aggregator {
	return o.stats
}
