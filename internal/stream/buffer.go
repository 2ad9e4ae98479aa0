package stream

import (
	"errors"
	"image"
	"sync"
)

// UsageCameraWrite is the usage hint given to every stream: the camera
// writes, the consumer reads.
const UsageCameraWrite = 0x20000

// DefaultMaxBuffers is the number of buffers a stream's consumer should
// provide.
const DefaultMaxBuffers = 4

var (
	ErrBufferLocked    = errors.New("buffer already locked")
	ErrBufferNotLocked = errors.New("buffer not locked")
)

// BufferHandle is a destination buffer owned by a stream's consumer. The
// camera locks it to obtain a writable mapping and unlocks it before handing
// it back.
type BufferHandle struct {
	ID     uint64
	Format PixelFormat

	mu     sync.Mutex
	data   []byte
	locked bool
	length int
}

// NewBufferHandle allocates a buffer of size bytes.
func NewBufferHandle(id uint64, format PixelFormat, size int) *BufferHandle {
	return &BufferHandle{ID: id, Format: format, data: make([]byte, size), length: size}
}

// Lock maps the buffer for writing.
func (h *BufferHandle) Lock() ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.locked {
		return nil, ErrBufferLocked
	}
	h.locked = true
	return h.data, nil
}

// Unlock releases the mapping.
func (h *BufferHandle) Unlock() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.locked {
		return ErrBufferNotLocked
	}
	h.locked = false
	return nil
}

// Locked reports whether the buffer is currently mapped.
func (h *BufferHandle) Locked() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.locked
}

// SetLen records how many bytes of the buffer hold valid data. Compressed
// buffers use it for the encoded size.
func (h *BufferHandle) SetLen(n int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if n > len(h.data) {
		n = len(h.data)
	}
	h.length = n
}

// Payload returns the valid bytes of the buffer.
func (h *BufferHandle) Payload() []byte {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.data[:h.length]
}

// Cap returns the allocated size.
func (h *BufferHandle) Cap() int { return len(h.data) }

// Sink is the consumer side of a stream.
type Sink interface {
	// DequeueBuffer hands an empty buffer to the camera.
	DequeueBuffer() (*BufferHandle, error)
	// EnqueueBuffer returns a filled buffer with its capture timestamp.
	EnqueueBuffer(timestamp int64, h *BufferHandle) error
	// CancelBuffer returns a buffer unfilled.
	CancelBuffer(h *BufferHandle) error
}

// ImageBuffer describes one destination of a capture: the stream it belongs
// to, its geometry and, once acquired, the handle and its writable mapping.
type ImageBuffer struct {
	StreamID uint32
	Width    int
	Height   int
	Format   PixelFormat
	Stride   int
	Sink     Sink

	Handle *BufferHandle
	Img    []byte

	// Aux is the uncompressed image for Blob buffers. The sensor renders into
	// it and the compressor encodes it into Img.
	Aux *image.RGBA
}

// BufferSet is the set of destinations of one capture. A set has exactly one
// owner at a time; handing it on transfers ownership.
type BufferSet []*ImageBuffer

// HasStream reports whether any buffer in the set belongs to id.
func (s BufferSet) HasStream(id uint32) bool {
	for _, b := range s {
		if b.StreamID == id {
			return true
		}
	}
	return false
}

// Blob returns the compressed-output buffer of the set, if any.
func (s BufferSet) Blob() *ImageBuffer {
	for _, b := range s {
		if b.Format == FormatBlob {
			return b
		}
	}
	return nil
}

// Release unmaps every acquired buffer and returns it to its sink without
// data. Used when a set is abandoned.
func (s BufferSet) Release() error {
	var errs []error
	for _, b := range s {
		if b.Handle == nil {
			continue
		}
		if b.Img != nil {
			if err := b.Handle.Unlock(); err != nil {
				errs = append(errs, err)
			}
			b.Img = nil
		}
		if err := b.Sink.CancelBuffer(b.Handle); err != nil {
			errs = append(errs, err)
		}
		b.Handle = nil
	}
	return errors.Join(errs...)
}
