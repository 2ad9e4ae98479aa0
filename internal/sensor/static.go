package sensor

import (
	"fmt"

	"github.com/randomizedcoder/go-fakecam/internal/metadata"
	"github.com/randomizedcoder/go-fakecam/internal/stream"
)

// StaticInfo describes the camera's fixed capabilities: formats, sizes per
// category for the given facing, minimum frame durations and the sensor's
// ranges.
func StaticInfo(facing stream.Facing) (*metadata.Record, error) {
	r := metadata.New(24, 256)

	sizes := func(f stream.PixelFormat) []int32 {
		var out []int32
		for _, s := range stream.SupportedSizes(f, facing) {
			out = append(out, int32(s.Width), int32(s.Height))
		}
		return out
	}
	durations := func(f stream.PixelFormat) []int64 {
		n := len(stream.SupportedSizes(f, facing))
		out := make([]int64, n)
		for i := range out {
			out[i] = FrameDurationRange[0]
		}
		return out
	}

	facingValue := metadata.LensFacingBack
	if facing == stream.FacingFront {
		facingValue = metadata.LensFacingFront
	}

	formats := []int32{
		int32(stream.FormatRawSensor),
		int32(stream.FormatBlob),
		int32(stream.FormatRGBA8888),
		int32(stream.FormatYV12),
		int32(stream.FormatYCrCb420SP),
	}

	for _, add := range []func() error{
		func() error { return r.AddBytes(metadata.TagLensFacing, facingValue) },
		func() error { return r.AddInt32(metadata.TagScalerAvailableFormats, formats...) },
		func() error { return r.AddInt32(metadata.TagScalerAvailableRawSizes, sizes(stream.FormatRawSensor)...) },
		func() error {
			return r.AddInt64(metadata.TagScalerAvailableRawMinDurations, durations(stream.FormatRawSensor)...)
		},
		func() error {
			return r.AddInt32(metadata.TagScalerAvailableProcessedSizes, sizes(stream.FormatRGBA8888)...)
		},
		func() error {
			return r.AddInt64(metadata.TagScalerAvailableProcessedMinDurations, durations(stream.FormatRGBA8888)...)
		},
		func() error { return r.AddInt32(metadata.TagScalerAvailableJpegSizes, sizes(stream.FormatBlob)...) },
		func() error {
			return r.AddInt64(metadata.TagScalerAvailableJpegMinDurations, durations(stream.FormatBlob)...)
		},
		func() error { return r.AddInt64(metadata.TagInfoExposureTimeRange, ExposureTimeRange[:]...) },
		func() error { return r.AddInt64(metadata.TagInfoMaxFrameDuration, FrameDurationRange[1]) },
		func() error { return r.AddInt32(metadata.TagInfoAvailableSensitivities, AvailableSensitivities...) },
		func() error { return r.AddInt32(metadata.TagInfoPixelArraySize, Width, Height) },
		func() error { return r.AddInt32(metadata.TagInfoWhiteLevel, MaxRawValue) },
		func() error { return r.AddInt32(metadata.TagInfoMaxRawStreams, stream.MaxRawStreams) },
		func() error { return r.AddInt32(metadata.TagInfoMaxProcessedStreams, stream.MaxProcessedStreams) },
		func() error { return r.AddInt32(metadata.TagInfoMaxJpegStreams, stream.MaxCompressedStreams) },
	} {
		if err := add(); err != nil {
			return nil, fmt.Errorf("building static info: %w", err)
		}
	}

	r.Sort()
	return r, nil
}
