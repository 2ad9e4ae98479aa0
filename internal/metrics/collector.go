// Package metrics provides Prometheus metrics for go-fakecam.
//
// Metrics are grouped by dashboard panel:
//   - Session: info, target requests, elapsed and remaining time
//   - Requests & frames: submitted, delivered, in flight, frame rate
//   - Latency: capture (submit to delivery) and JPEG encode time
//   - Streams: buffers and bytes per stream
//   - Errors & drops: readout drops, enqueue failures, pipeline errors
//   - Pipeline health: stage state, preview clients
//
// Every Collector owns its metric instances, so several collectors can live
// in one process as long as each gets its own registry.
package metrics

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

const namespace = "fakecam"

// Stage state codes reported by fakecam_stage_state.
const (
	StageNotStarted = 0
	StageIdle       = 1
	StageActive     = 2
	StageStopped    = 3
)

// CollectorConfig holds configuration for the collector.
type CollectorConfig struct {
	SessionID      string
	Version        string
	Facing         string
	Template       string
	TargetRequests int
	TestDuration   time.Duration
}

// Collector manages all Prometheus metrics for a capture session.
type Collector struct {
	// --- Panel 1: Session ---
	info             *prometheus.GaugeVec
	targetRequests   prometheus.Gauge
	elapsedSeconds   prometheus.Gauge
	remainingSeconds prometheus.Gauge

	// --- Panel 2: Requests & Frames ---
	requestsSubmitted prometheus.Counter
	framesDelivered   *prometheus.CounterVec // metadata="none"|"full"
	inFlight          prometheus.Gauge
	frameRate         prometheus.Gauge

	// --- Panel 3: Latency ---
	captureLatency    prometheus.Histogram
	captureLatencyP50 prometheus.Gauge
	captureLatencyP95 prometheus.Gauge
	captureLatencyP99 prometheus.Gauge
	encodeLatency     prometheus.Histogram

	// --- Panel 4: Streams ---
	buffersTotal *prometheus.CounterVec
	bytesTotal   *prometheus.CounterVec
	streamRate   *prometheus.GaugeVec

	// --- Panel 5: Errors & Drops ---
	readoutDrops    prometheus.Counter
	enqueueFailures *prometheus.CounterVec
	deliveryDrops   *prometheus.CounterVec
	jpegsTotal      prometheus.Counter
	jpegBytesTotal  prometheus.Counter
	jpegFailures    prometheus.Counter
	pipelineErrors  prometheus.Counter

	// --- Panel 6: Pipeline Health ---
	stageState     *prometheus.GaugeVec
	previewClients prometheus.Gauge

	gatherer     prometheus.Gatherer
	startTime    time.Time
	testDuration time.Duration

	mu      sync.Mutex
	streams map[uint32]struct{}
}

// NewCollector creates a collector registered with the default registry.
func NewCollector(cfg CollectorConfig) *Collector {
	return NewCollectorWithRegistry(cfg, prometheus.DefaultRegisterer)
}

// NewCollectorWithRegistry creates a collector with a custom registry.
// Snapshot works only when registry is also a prometheus.Gatherer.
func NewCollectorWithRegistry(cfg CollectorConfig, registry prometheus.Registerer) *Collector {
	c := &Collector{
		info: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "info",
			Help:      "Information about the capture session (value always 1)",
		}, []string{"version", "session_id", "facing", "template"}),
		targetRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_requests",
			Help:      "Configured number of capture requests (0 = unlimited)",
		}),
		elapsedSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "elapsed_seconds",
			Help:      "Seconds since the session started",
		}),
		remainingSeconds: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "remaining_seconds",
			Help:      "Seconds remaining until the session ends (-1 = unlimited)",
		}),

		requestsSubmitted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_submitted_total",
			Help:      "Capture requests submitted to the pipeline",
		}),
		framesDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "frames_delivered_total",
			Help:      "Capture requests completed by the readout stage",
		}, []string{"metadata"}),
		inFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "requests_in_flight",
			Help:      "Requests submitted but not yet delivered or dropped",
		}),
		frameRate: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "frames_per_second",
			Help:      "Delivered frame rate over the last 10 seconds",
		}),

		captureLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "capture_latency_seconds",
			Help:      "Time from request submission to frame delivery",
			Buckets: []float64{
				0.005, 0.01, 0.025, 0.033, 0.05, 0.075,
				0.1, 0.25, 0.5, 1.0, 2.5,
			},
		}),
		captureLatencyP50: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_latency_p50_seconds",
			Help:      "Capture latency 50th percentile (median)",
		}),
		captureLatencyP95: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_latency_p95_seconds",
			Help:      "Capture latency 95th percentile",
		}),
		captureLatencyP99: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "capture_latency_p99_seconds",
			Help:      "Capture latency 99th percentile",
		}),
		encodeLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "jpeg_encode_seconds",
			Help:      "JPEG compression time",
			Buckets:   []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25},
		}),

		buffersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_buffers_total",
			Help:      "Filled buffers returned to each stream",
		}, []string{"stream"}),
		bytesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_bytes_total",
			Help:      "Payload bytes delivered on each stream",
		}, []string{"stream"}),
		streamRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_buffers_per_second",
			Help:      "Buffer rate per stream over the last 10 seconds",
		}, []string{"stream"}),

		readoutDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "readout_drops_total",
			Help:      "Requests dropped on a full readout queue",
		}),
		enqueueFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stream_enqueue_failures_total",
			Help:      "Buffers refused by their stream",
		}, []string{"stream"}),
		deliveryDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "consumer_drops_total",
			Help:      "Deliveries dropped by slow consumers (backpressure)",
		}, []string{"consumer"}),
		jpegsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jpegs_total",
			Help:      "JPEG images produced by the compressor",
		}),
		jpegBytesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jpeg_bytes_total",
			Help:      "Bytes of JPEG output",
		}),
		jpegFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jpeg_failures_total",
			Help:      "Compressions that failed or were cancelled",
		}),
		pipelineErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "pipeline_errors_total",
			Help:      "Unrecoverable pipeline errors",
		}),

		stageState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stage_state",
			Help:      "Stage worker state (0=not_started 1=idle 2=active 3=stopped)",
		}, []string{"stage"}),
		previewClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "preview_clients",
			Help:      "Connected preview websocket clients",
		}),

		startTime:    time.Now(),
		testDuration: cfg.TestDuration,
		streams:      make(map[uint32]struct{}),
	}

	registry.MustRegister(
		// Panel 1: Session
		c.info,
		c.targetRequests,
		c.elapsedSeconds,
		c.remainingSeconds,

		// Panel 2: Requests & Frames
		c.requestsSubmitted,
		c.framesDelivered,
		c.inFlight,
		c.frameRate,

		// Panel 3: Latency
		c.captureLatency,
		c.captureLatencyP50,
		c.captureLatencyP95,
		c.captureLatencyP99,
		c.encodeLatency,

		// Panel 4: Streams
		c.buffersTotal,
		c.bytesTotal,
		c.streamRate,

		// Panel 5: Errors & Drops
		c.readoutDrops,
		c.enqueueFailures,
		c.deliveryDrops,
		c.jpegsTotal,
		c.jpegBytesTotal,
		c.jpegFailures,
		c.pipelineErrors,

		// Panel 6: Pipeline Health
		c.stageState,
		c.previewClients,
	)
	if g, ok := registry.(prometheus.Gatherer); ok {
		c.gatherer = g
	}

	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	c.info.WithLabelValues(version, cfg.SessionID, cfg.Facing, cfg.Template).Set(1)
	c.targetRequests.Set(float64(cfg.TargetRequests))
	c.remainingSeconds.Set(-1) // -1 = unlimited

	// Both outcomes show up as zero before the first frame.
	c.framesDelivered.WithLabelValues("none")
	c.framesDelivered.WithLabelValues("full")

	return c
}

// =============================================================================
// Event Recording Methods
// =============================================================================

func streamLabel(id uint32) string { return strconv.FormatUint(uint64(id), 10) }

// AddStream pre-creates the per-stream series so they report zero until the
// first buffer.
func (c *Collector) AddStream(id uint32) {
	label := streamLabel(id)
	c.buffersTotal.WithLabelValues(label)
	c.bytesTotal.WithLabelValues(label)
	c.enqueueFailures.WithLabelValues(label)
	c.streamRate.WithLabelValues(label)

	c.mu.Lock()
	c.streams[id] = struct{}{}
	c.mu.Unlock()
}

// RemoveStream deletes the per-stream series of a released stream.
func (c *Collector) RemoveStream(id uint32) {
	c.mu.Lock()
	_, ok := c.streams[id]
	delete(c.streams, id)
	c.mu.Unlock()
	if !ok {
		return
	}

	label := streamLabel(id)
	c.buffersTotal.DeleteLabelValues(label)
	c.bytesTotal.DeleteLabelValues(label)
	c.enqueueFailures.DeleteLabelValues(label)
	c.streamRate.DeleteLabelValues(label)
}

// RequestSubmitted records one request entering the pipeline.
func (c *Collector) RequestSubmitted() { c.requestsSubmitted.Inc() }

// FrameDelivered records a completed request.
func (c *Collector) FrameDelivered(withMetadata bool, latency time.Duration) {
	mode := "none"
	if withMetadata {
		mode = "full"
	}
	c.framesDelivered.WithLabelValues(mode).Inc()
	if latency > 0 {
		c.captureLatency.Observe(latency.Seconds())
	}
}

// BufferEnqueued records a buffer returned to its stream.
func (c *Collector) BufferEnqueued(streamID uint32, size int) {
	label := streamLabel(streamID)
	c.buffersTotal.WithLabelValues(label).Inc()
	c.bytesTotal.WithLabelValues(label).Add(float64(size))
}

// BufferFailed records a buffer its stream refused.
func (c *Collector) BufferFailed(streamID uint32) {
	c.enqueueFailures.WithLabelValues(streamLabel(streamID)).Inc()
}

// ReadoutDrop records a request dropped on a full readout queue.
func (c *Collector) ReadoutDrop() { c.readoutDrops.Inc() }

// ConsumerDrops adds n dropped deliveries for a named consumer
// ("frames", "saver", "preview", ...).
func (c *Collector) ConsumerDrops(consumer string, n int64) {
	if n > 0 {
		c.deliveryDrops.WithLabelValues(consumer).Add(float64(n))
	}
}

// JPEGEncoded records a finished compression.
func (c *Collector) JPEGEncoded(size int, elapsed time.Duration) {
	c.jpegsTotal.Inc()
	c.jpegBytesTotal.Add(float64(size))
	c.encodeLatency.Observe(elapsed.Seconds())
}

// JPEGFailed records a failed or cancelled compression.
func (c *Collector) JPEGFailed() { c.jpegFailures.Inc() }

// PipelineError records an unrecoverable pipeline error.
func (c *Collector) PipelineError() { c.pipelineErrors.Inc() }

// SetStageState records a stage worker's state code.
func (c *Collector) SetStageState(stage string, code int) {
	c.stageState.WithLabelValues(stage).Set(float64(code))
}

// SetPreviewClients records the number of preview clients.
func (c *Collector) SetPreviewClients(n int) { c.previewClients.Set(float64(n)) }

// =============================================================================
// Periodic Update
// =============================================================================

// StatsUpdate holds the periodically sampled gauges. It mirrors the parts of
// stats.AggregatedStats the collector exports.
type StatsUpdate struct {
	InFlight       int64
	FrameRate      float64
	CaptureP50     time.Duration
	CaptureP95     time.Duration
	CaptureP99     time.Duration
	StreamRates    map[uint32]float64
	PreviewClients int
}

// RecordStats updates the sampled gauges.
func (c *Collector) RecordStats(u *StatsUpdate) {
	elapsed := time.Since(c.startTime)
	c.elapsedSeconds.Set(elapsed.Seconds())
	if c.testDuration > 0 {
		remaining := c.testDuration - elapsed
		if remaining < 0 {
			remaining = 0
		}
		c.remainingSeconds.Set(remaining.Seconds())
	}

	c.inFlight.Set(float64(u.InFlight))
	c.frameRate.Set(u.FrameRate)
	c.captureLatencyP50.Set(u.CaptureP50.Seconds())
	c.captureLatencyP95.Set(u.CaptureP95.Seconds())
	c.captureLatencyP99.Set(u.CaptureP99.Seconds())
	c.previewClients.Set(float64(u.PreviewClients))

	c.mu.Lock()
	defer c.mu.Unlock()
	for id, rate := range u.StreamRates {
		if _, ok := c.streams[id]; ok {
			c.streamRate.WithLabelValues(streamLabel(id)).Set(rate)
		}
	}
}

// =============================================================================
// Snapshot
// =============================================================================

// Snapshot holds counter totals read back from the registry.
type Snapshot struct {
	RequestsSubmitted float64
	FramesDelivered   float64
	ReadoutDrops      float64
	JPEGs             float64
	PipelineErrors    float64
	StreamBuffers     map[string]float64
}

// Snapshot gathers the registry and reads the session counters.
func (c *Collector) Snapshot() (*Snapshot, error) {
	if c.gatherer == nil {
		return nil, fmt.Errorf("metrics: registry is not a gatherer")
	}
	families, err := c.gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("gathering metrics: %w", err)
	}

	s := &Snapshot{StreamBuffers: make(map[string]float64)}
	for _, mf := range families {
		switch mf.GetName() {
		case namespace + "_requests_submitted_total":
			s.RequestsSubmitted = sumCounters(mf)
		case namespace + "_frames_delivered_total":
			s.FramesDelivered = sumCounters(mf)
		case namespace + "_readout_drops_total":
			s.ReadoutDrops = sumCounters(mf)
		case namespace + "_jpegs_total":
			s.JPEGs = sumCounters(mf)
		case namespace + "_pipeline_errors_total":
			s.PipelineErrors = sumCounters(mf)
		case namespace + "_stream_buffers_total":
			for _, m := range mf.GetMetric() {
				s.StreamBuffers[labelValue(m, "stream")] = m.GetCounter().GetValue()
			}
		}
	}
	return s, nil
}

func sumCounters(mf *dto.MetricFamily) float64 {
	var total float64
	for _, m := range mf.GetMetric() {
		total += m.GetCounter().GetValue()
	}
	return total
}

func labelValue(m *dto.Metric, name string) string {
	for _, lp := range m.GetLabel() {
		if lp.GetName() == name {
			return lp.GetValue()
		}
	}
	return ""
}
