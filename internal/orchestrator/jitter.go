package orchestrator

import (
	"math/rand"
	"time"
)

// JitterSource provides deterministic, per-request jitter values. The same
// seed and frame number always yield the same offset, so a run can be
// replayed with identical submission timing.
type JitterSource struct {
	seed int64
}

// NewJitterSource creates a jitter source with the given seed.
func NewJitterSource(seed int64) *JitterSource {
	return &JitterSource{seed: seed}
}

// NewJitterSourceFromTime creates a jitter source seeded from the current time.
func NewJitterSourceFromTime() *JitterSource {
	return NewJitterSource(time.Now().UnixNano())
}

// ForFrame returns a random number generator seeded for one frame number.
func (j *JitterSource) ForFrame(frame int) *rand.Rand {
	return rand.New(rand.NewSource(int64(frame) ^ j.seed))
}

// FrameJitter returns a jitter duration for a frame within [0, maxJitter).
func (j *JitterSource) FrameJitter(frame int, maxJitter time.Duration) time.Duration {
	if maxJitter <= 0 {
		return 0
	}
	return time.Duration(j.ForFrame(frame).Int63n(int64(maxJitter)))
}
