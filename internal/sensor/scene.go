package sensor

import (
	"math"
	"sync"
)

// Scene is the simulated world in front of the sensor. Its only input is the
// hour of day, which sets the ambient light level.
type Scene struct {
	mu   sync.Mutex
	hour int
}

// NewScene creates a scene at the given hour.
func NewScene(hour int) *Scene {
	s := &Scene{}
	s.SetHour(hour)
	return s
}

// SetHour sets the hour of day, wrapped to 0-23.
func (s *Scene) SetHour(hour int) {
	hour %= 24
	if hour < 0 {
		hour += 24
	}
	s.mu.Lock()
	s.hour = hour
	s.mu.Unlock()
}

// Hour returns the current hour of day.
func (s *Scene) Hour() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hour
}

// Illuminance returns the ambient light at the current hour, from about 0.02
// at night to 1 at noon.
func (s *Scene) Illuminance() float64 {
	h := float64(s.Hour())
	day := math.Sin((h - 6) / 12 * math.Pi)
	if day < 0 {
		day = 0
	}
	return 0.02 + 0.98*day
}

// Level returns the normalized pixel level (0-1) for the given exposure and
// sensitivity. 10ms at ISO 100 under full daylight reads mid-scale.
func (s *Scene) Level(exposureNs int64, iso int32) float64 {
	gain := float64(exposureNs) / 10e6 * float64(iso) / 100
	v := s.Illuminance() * 0.5 * gain
	if v > 1 {
		v = 1
	}
	if v < 0 {
		v = 0
	}
	return v
}
