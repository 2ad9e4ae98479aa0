package config

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// StreamSpec is one parsed -stream value.
type StreamSpec struct {
	Format stream.PixelFormat
	Width  int
	Height int
}

func (s StreamSpec) String() string {
	return fmt.Sprintf("%s:%dx%d", s.Format, s.Width, s.Height)
}

// ParseStreamSpec parses "kind:WxH[:format]". kind is raw, processed or
// jpeg. A format may only follow processed; without one the stream is
// allocated opaque and resolved when its buffers are registered.
func ParseStreamSpec(s string) (StreamSpec, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return StreamSpec{}, fmt.Errorf("stream %q: want kind:WxH[:format]", s)
	}

	w, h, err := parseSize(parts[1])
	if err != nil {
		return StreamSpec{}, fmt.Errorf("stream %q: %w", s, err)
	}
	spec := StreamSpec{Width: w, Height: h}

	switch strings.ToLower(parts[0]) {
	case "raw":
		spec.Format = stream.FormatRawSensor
	case "jpeg", "blob":
		spec.Format = stream.FormatBlob
	case "processed":
		spec.Format = stream.FormatOpaque
		if len(parts) == 3 {
			pf, err := stream.ParsePixelFormat(strings.ToLower(parts[2]))
			if err != nil {
				return StreamSpec{}, fmt.Errorf("stream %q: %w", s, err)
			}
			if stream.CategoryOf(pf) != stream.CategoryProcessed {
				return StreamSpec{}, fmt.Errorf("stream %q: %s is not a processed format", s, pf)
			}
			spec.Format = pf
		}
		return spec, nil
	default:
		return StreamSpec{}, fmt.Errorf("stream %q: unknown kind %q (want raw, processed or jpeg)", s, parts[0])
	}

	if len(parts) == 3 {
		return StreamSpec{}, fmt.Errorf("stream %q: only processed streams take a format", s)
	}
	return spec, nil
}

func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("size %q: want WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil || w <= 0 {
		return 0, 0, fmt.Errorf("size %q: bad width", s)
	}
	h, err := strconv.Atoi(hs)
	if err != nil || h <= 0 {
		return 0, 0, fmt.Errorf("size %q: bad height", s)
	}
	return w, h, nil
}

// StreamSpecs parses every configured stream.
func (c *Config) StreamSpecs() ([]StreamSpec, error) {
	specs := make([]StreamSpec, 0, len(c.Streams))
	for _, s := range c.Streams {
		spec, err := ParseStreamSpec(s)
		if err != nil {
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}

// HasJPEGStream reports whether any configured stream is a JPEG stream.
func (c *Config) HasJPEGStream() bool {
	specs, err := c.StreamSpecs()
	if err != nil {
		return false
	}
	for _, s := range specs {
		if s.Format == stream.FormatBlob {
			return true
		}
	}
	return false
}
