// Package stream holds the output-stream model: pixel formats, supported
// resolutions, buffer descriptors and the Registry that owns the configured
// streams.
package stream

import "fmt"

// PixelFormat is a concrete buffer layout.
type PixelFormat int

const (
	// FormatOpaque is only valid when allocating a stream. It asks the camera
	// to pick a processed format; the stream stays unresolved until buffers
	// are registered.
	FormatOpaque PixelFormat = iota
	FormatRawSensor
	FormatBlob
	FormatRGBA8888
	FormatYV12
	FormatYCrCb420SP
)

var formatNames = map[PixelFormat]string{
	FormatOpaque:     "opaque",
	FormatRawSensor:  "raw16",
	FormatBlob:       "blob",
	FormatRGBA8888:   "rgba",
	FormatYV12:       "yv12",
	FormatYCrCb420SP: "nv21",
}

func (f PixelFormat) String() string {
	if name, ok := formatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("format(%d)", int(f))
}

// ParsePixelFormat accepts the names printed by String.
func ParsePixelFormat(s string) (PixelFormat, error) {
	for f, name := range formatNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown pixel format %q", s)
}

// Supported reports whether f may be requested at allocation.
func (f PixelFormat) Supported() bool {
	_, ok := formatNames[f]
	return ok
}

// BufferSize returns the byte size of one w x h image in format f.
func (f PixelFormat) BufferSize(w, h int) int {
	switch f {
	case FormatRawSensor:
		return w * h * 2
	case FormatRGBA8888:
		return w * h * 4
	case FormatYV12, FormatYCrCb420SP:
		return w * h * 3 / 2
	case FormatBlob:
		// Upper bound for the encoded image.
		return w * h * 3
	default:
		return 0
	}
}

// Format is a stream's format: either unresolved (allocated as opaque and not
// yet backed by buffers) or a concrete PixelFormat. The zero value is
// unresolved.
type Format struct {
	pf       PixelFormat
	resolved bool
}

// Unresolved returns the placeholder format.
func Unresolved() Format { return Format{} }

// Concrete wraps a resolved pixel format.
func Concrete(pf PixelFormat) Format { return Format{pf: pf, resolved: true} }

// Resolved returns the concrete pixel format, if any.
func (f Format) Resolved() (PixelFormat, bool) { return f.pf, f.resolved }

// Is reports whether f is resolved to pf.
func (f Format) Is(pf PixelFormat) bool { return f.resolved && f.pf == pf }

func (f Format) String() string {
	if !f.resolved {
		return "auto"
	}
	return f.pf.String()
}

// Category groups formats that share a stream-count limit.
type Category int

const (
	CategoryRaw Category = iota
	CategoryProcessed
	CategoryCompressed
	categoryCount
)

// Per-category stream limits.
const (
	MaxRawStreams        = 1
	MaxProcessedStreams  = 3
	MaxCompressedStreams = 1
)

var categoryLimits = [categoryCount]int{MaxRawStreams, MaxProcessedStreams, MaxCompressedStreams}

func (c Category) String() string {
	switch c {
	case CategoryRaw:
		return "raw"
	case CategoryProcessed:
		return "processed"
	case CategoryCompressed:
		return "compressed"
	default:
		return "unknown"
	}
}

// Limit returns the maximum number of live streams in the category.
func (c Category) Limit() int {
	if c < 0 || c >= categoryCount {
		return 0
	}
	return categoryLimits[c]
}

// CategoryOf returns the category a requested format counts against. Opaque
// counts as processed.
func CategoryOf(f PixelFormat) Category {
	switch f {
	case FormatRawSensor:
		return CategoryRaw
	case FormatBlob:
		return CategoryCompressed
	default:
		return CategoryProcessed
	}
}

// Facing selects the sensor whose resolution tables apply.
type Facing int

const (
	FacingBack Facing = iota
	FacingFront
)

func (f Facing) String() string {
	if f == FacingFront {
		return "front"
	}
	return "back"
}

// ParseFacing accepts "back" or "front".
func ParseFacing(s string) (Facing, error) {
	switch s {
	case "back":
		return FacingBack, nil
	case "front":
		return FacingFront, nil
	}
	return 0, fmt.Errorf("unknown facing %q (want back or front)", s)
}

// Size is a width x height pair.
type Size struct {
	Width, Height int
}

func (s Size) String() string { return fmt.Sprintf("%dx%d", s.Width, s.Height) }

var (
	rawSizes            = []Size{{640, 480}}
	jpegSizesBack       = []Size{{640, 480}}
	jpegSizesFront      = []Size{{320, 240}}
	processedSizesBack  = []Size{{640, 480}, {320, 240}}
	processedSizesFront = []Size{{320, 240}, {160, 120}}
)

// SupportedSizes returns the resolutions allowed for a requested format.
func SupportedSizes(f PixelFormat, facing Facing) []Size {
	switch CategoryOf(f) {
	case CategoryRaw:
		return rawSizes
	case CategoryCompressed:
		if facing == FacingFront {
			return jpegSizesFront
		}
		return jpegSizesBack
	default:
		if facing == FacingFront {
			return processedSizesFront
		}
		return processedSizesBack
	}
}

// SizeSupported reports whether w x h is in the table for f.
func SizeSupported(f PixelFormat, facing Facing, w, h int) bool {
	for _, s := range SupportedSizes(f, facing) {
		if s.Width == w && s.Height == h {
			return true
		}
	}
	return false
}
