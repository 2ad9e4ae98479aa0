// Package sensor simulates an image sensor: a timing loop that latches
// settings and destination buffers at the start of each frame (vsync), renders
// a synthetic scene into them, and reports the frame as ready one frame later
// with its capture timestamp.
package sensor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// Sensor characteristics.
const (
	Width  = 640
	Height = 480

	// MinVerticalBlank is the shortest gap between the end of exposure and
	// the next frame start.
	MinVerticalBlank int64 = 10_000 // ns

	MaxRawValue = 4000
)

var (
	ExposureTimeRange      = [2]int64{1_000, 30_000_000_000}
	FrameDurationRange     = [2]int64{33_331_760, 30_000_000_000}
	AvailableSensitivities = []int32{100, 200, 400, 800, 1600}
)

// Settings are the per-frame controls.
type Settings struct {
	ExposureTime  int64
	FrameDuration int64
	Sensitivity   int32
}

// Callbacks for sensor events. All are optional.
type Callbacks struct {
	// OnFrame is called after a frame with destination buffers is rendered.
	OnFrame func(frameNumber uint64, captureTime int64, buffers int)
}

// Sensor is the simulated device. Create it with New, then Start it.
type Sensor struct {
	logger    *slog.Logger
	scene     *Scene
	callbacks Callbacks
	now       func() int64

	mu       sync.Mutex
	next     Settings
	nextBufs stream.BufferSet
	vsync    chan struct{} // closed at the next frame start
	ready    []int64       // capture times of rendered frames not yet consumed
	readyCh  chan struct{} // closed when ready grows

	frameNumber uint64

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
	started  bool
}

// New creates a stopped sensor with default settings.
func New(logger *slog.Logger, scene *Scene, cb Callbacks) *Sensor {
	if logger == nil {
		logger = slog.Default()
	}
	if scene == nil {
		scene = NewScene(12)
	}
	return &Sensor{
		logger:    logger,
		scene:     scene,
		callbacks: cb,
		now:       func() int64 { return time.Now().UnixNano() },
		next: Settings{
			ExposureTime:  10_000_000,
			FrameDuration: FrameDurationRange[0],
			Sensitivity:   AvailableSensitivities[0],
		},
		vsync:   make(chan struct{}),
		readyCh: make(chan struct{}),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Scene returns the scene the sensor renders.
func (s *Sensor) Scene() *Scene { return s.scene }

// SetSceneHour sets the scene's hour of day.
func (s *Sensor) SetSceneHour(hour int) { s.scene.SetHour(hour) }

// SceneHour returns the scene's hour of day.
func (s *Sensor) SceneHour() int { return s.scene.Hour() }

// Start launches the timing loop. It returns immediately.
func (s *Sensor) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("sensor_starting", "width", Width, "height", Height)
	go s.run(ctx)
	return nil
}

// Shutdown stops the timing loop and waits for it to exit. No frame becomes
// ready after Shutdown returns.
func (s *Sensor) Shutdown() {
	s.stopOnce.Do(func() { close(s.stop) })

	s.mu.Lock()
	started := s.started
	s.mu.Unlock()
	if started {
		<-s.done
	}
	s.logger.Info("sensor_stopped", "frames", s.FrameCount())
}

// FrameCount returns the number of frames rendered into destination buffers.
func (s *Sensor) FrameCount() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frameNumber
}

// SetExposureTime sets the exposure for the next latched frame.
func (s *Sensor) SetExposureTime(ns int64) {
	s.mu.Lock()
	s.next.ExposureTime = ns
	s.mu.Unlock()
}

// SetFrameDuration sets the frame duration for the next latched frame.
func (s *Sensor) SetFrameDuration(ns int64) {
	s.mu.Lock()
	s.next.FrameDuration = ns
	s.mu.Unlock()
}

// SetSensitivity sets the ISO gain for the next latched frame.
func (s *Sensor) SetSensitivity(iso int32) {
	s.mu.Lock()
	s.next.Sensitivity = iso
	s.mu.Unlock()
}

// SetDestinationBuffers hands the sensor the buffers for the next frame.
// Ownership passes to the sensor until the frame is reported ready.
func (s *Sensor) SetDestinationBuffers(set stream.BufferSet) {
	s.mu.Lock()
	s.nextBufs = set
	s.mu.Unlock()
}

// WaitForVSync blocks until the next frame start or the timeout. It reports
// whether a frame started.
func (s *Sensor) WaitForVSync(timeout time.Duration) bool {
	s.mu.Lock()
	ch := s.vsync
	s.mu.Unlock()

	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	case <-s.stop:
		return false
	}
}

// WaitForNewFrame blocks until a rendered frame is ready or the timeout, and
// returns its capture timestamp. Each ready frame is reported once.
func (s *Sensor) WaitForNewFrame(timeout time.Duration) (bool, int64) {
	t := time.NewTimer(timeout)
	defer t.Stop()

	for {
		s.mu.Lock()
		if len(s.ready) > 0 {
			ts := s.ready[0]
			s.ready = s.ready[1:]
			s.mu.Unlock()
			return true, ts
		}
		ch := s.readyCh
		s.mu.Unlock()

		select {
		case <-ch:
		case <-t.C:
			return false, 0
		case <-s.stop:
			return false, 0
		}
	}
}

func (s *Sensor) run(ctx context.Context) {
	defer close(s.done)

	var (
		captured    stream.BufferSet
		captureTime int64
	)

	for {
		// Frame start: latch controls and buffers, then signal vsync.
		s.mu.Lock()
		start := s.now()
		settings := s.next
		bufs := s.nextBufs
		s.nextBufs = nil
		close(s.vsync)
		s.vsync = make(chan struct{})
		s.mu.Unlock()

		// The previous frame has been read out.
		if captured != nil {
			s.mu.Lock()
			s.ready = append(s.ready, captureTime)
			close(s.readyCh)
			s.readyCh = make(chan struct{})
			s.mu.Unlock()
			captured = nil
		}

		if bufs != nil {
			s.mu.Lock()
			s.frameNumber++
			n := s.frameNumber
			s.mu.Unlock()

			s.capture(bufs, settings, n)
			captured, captureTime = bufs, start
			if s.callbacks.OnFrame != nil {
				s.callbacks.OnFrame(n, start, len(bufs))
			}
		}

		duration := settings.FrameDuration
		if duration < FrameDurationRange[0] {
			duration = FrameDurationRange[0]
		}
		wait := time.Duration(start + duration - s.now())
		if wait < 0 {
			wait = 0
		}

		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-s.stop:
			t.Stop()
			return
		case <-ctx.Done():
			t.Stop()
			return
		}
	}
}

func (s *Sensor) capture(bufs stream.BufferSet, settings Settings, frameNumber uint64) {
	level := s.scene.Level(settings.ExposureTime, settings.Sensitivity)
	for _, b := range bufs {
		if err := render(b, level, frameNumber, s.scene.Hour()); err != nil {
			s.logger.Warn("sensor_render_failed",
				"stream_id", b.StreamID,
				"format", b.Format.String(),
				"error", err)
		}
	}
	s.logger.Debug("sensor_frame_captured",
		"frame", frameNumber,
		"exposure_ns", settings.ExposureTime,
		"duration_ns", settings.FrameDuration,
		"iso", settings.Sensitivity,
		"buffers", len(bufs))
}
