// Package output writes delivered captures to disk.
package output

import (
	"errors"
	"fmt"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/randomizedcoder/go-fakecam/internal/queue"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// ErrUnsupportedFormat is returned for deliveries the saver cannot write.
var ErrUnsupportedFormat = errors.New("format not saved")

// FrameSaver saves Blob deliveries as .jpg files and RGBA deliveries as .png
// files. Safe for concurrent use.
type FrameSaver struct {
	dir     string
	seq     atomic.Uint64
	saved   atomic.Uint64
	dropped atomic.Uint64
	skipped atomic.Uint64
}

// NewFrameSaver creates dir if needed.
func NewFrameSaver(dir string) (*FrameSaver, error) {
	if dir == "" {
		return nil, errors.New("output directory is empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating output directory: %w", err)
	}
	return &FrameSaver{dir: dir}, nil
}

// Dir returns the output directory.
func (fs *FrameSaver) Dir() string { return fs.dir }

// Save writes one delivery and returns the file path.
//
// Filename format: stream{id}_{seq:06d}_{timestamp_ns}.{ext}
func (fs *FrameSaver) Save(d queue.Delivery) (string, error) {
	var ext string
	switch d.Format {
	case stream.FormatBlob:
		ext = "jpg"
	case stream.FormatRGBA8888:
		ext = "png"
	default:
		fs.skipped.Add(1)
		return "", fmt.Errorf("%w: %s", ErrUnsupportedFormat, d.Format)
	}

	name := fmt.Sprintf("stream%d_%06d_%d.%s", d.StreamID, fs.seq.Add(1), d.Timestamp, ext)
	path := filepath.Join(fs.dir, name)

	if err := fs.write(path, d); err != nil {
		fs.dropped.Add(1)
		return "", err
	}
	fs.saved.Add(1)
	return path, nil
}

func (fs *FrameSaver) write(path string, d queue.Delivery) error {
	if d.Format == stream.FormatBlob {
		if err := os.WriteFile(path, d.Data, 0o644); err != nil {
			return fmt.Errorf("writing %s: %w", path, err)
		}
		return nil
	}

	img, err := rgbaImage(d)
	if err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return fmt.Errorf("PNG encode failed: %w", err)
	}
	return f.Close()
}

// rgbaImage wraps an RGBA8888 payload without copying.
func rgbaImage(d queue.Delivery) (*image.RGBA, error) {
	want := d.Width * d.Height * 4
	if len(d.Data) < want {
		return nil, fmt.Errorf("invalid RGBA data size: got %d, expected %d", len(d.Data), want)
	}
	return &image.RGBA{
		Pix:    d.Data[:want],
		Stride: d.Width * 4,
		Rect:   image.Rect(0, 0, d.Width, d.Height),
	}, nil
}

// Stats returns current save statistics.
func (fs *FrameSaver) Stats() (saved, dropped, skipped uint64) {
	return fs.saved.Load(), fs.dropped.Load(), fs.skipped.Load()
}
