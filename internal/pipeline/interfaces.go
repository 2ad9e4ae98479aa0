package pipeline

import (
	"context"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/metadata"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// RequestSource supplies capture requests.
type RequestSource interface {
	// DequeueRequest returns the next request, or nil with no error when
	// none is pending.
	DequeueRequest() (*metadata.Record, error)
	// FreeRequest hands a finished request back to the source.
	FreeRequest(req *metadata.Record) error
}

// FrameSink receives result metadata.
type FrameSink interface {
	// DequeueFrame returns an empty record sized for the given hints.
	DequeueFrame(entryCount, dataSize int) (*metadata.Record, error)
	// EnqueueFrame delivers a filled record.
	EnqueueFrame(frame *metadata.Record) error
}

// Sensor is the exposure-timing collaborator.
type Sensor interface {
	Start(ctx context.Context) error
	Shutdown()

	WaitForVSync(timeout time.Duration) bool
	WaitForNewFrame(timeout time.Duration) (bool, int64)

	SetExposureTime(ns int64)
	SetFrameDuration(ns int64)
	SetSensitivity(iso int32)
	SetDestinationBuffers(set stream.BufferSet)

	SetSceneHour(hour int)
	SceneHour() int
}

// Compressor is the asynchronous JPEG stage.
type Compressor interface {
	Start(set stream.BufferSet, timestamp int64) error
	WaitForDone(timeout time.Duration) bool
	IsBusy() bool
	Cancel()
	IsStreamInUse(id uint32) bool
}

// Callbacks contains optional callback functions for pipeline events.
type Callbacks struct {
	// OnError is called once per unrecoverable error.
	OnError func(err error)

	// OnStateChange is called when a stage changes state.
	OnStateChange func(stage string, oldState, newState State)

	// OnRequestStaged is called when the configure stage hands a unit to
	// the readout stage.
	OnRequestStaged func(frameNumber int32, buffers int)

	// OnFrameDelivered is called when the readout stage finishes a unit.
	OnFrameDelivered func(frameNumber int32, captureTime int64, metadata bool)

	// OnBufferEnqueued is called for each buffer returned to its stream by
	// the readout stage.
	OnBufferEnqueued func(streamID uint32, captureTime int64)

	// OnBufferEnqueueFailed is called for each buffer a stream refused.
	OnBufferEnqueueFailed func(streamID uint32, err error)

	// OnReadoutDrop is called when a unit is dropped on a full readout
	// queue.
	OnReadoutDrop func(frameNumber int32)
}
