package orchestrator

import (
	"fmt"

	"github.com/randomizedcoder/go-fakecam/internal/config"
	"github.com/randomizedcoder/go-fakecam/internal/metadata"
)

// requestBuilder stamps out capture requests from one template.
type requestBuilder struct {
	base *metadata.Record
}

// newRequestBuilder builds the base request: the configured template with
// the sensor, metadata and JPEG settings from cfg and the given output
// streams.
func newRequestBuilder(cfg *config.Config, streams []uint32) (*requestBuilder, error) {
	if len(streams) == 0 {
		return nil, fmt.Errorf("no output streams")
	}
	template, err := metadata.ParseTemplate(cfg.Template)
	if err != nil {
		return nil, err
	}
	base, err := metadata.DefaultRequest(template)
	if err != nil {
		return nil, err
	}

	ids := make([]int32, len(streams))
	for i, id := range streams {
		ids[i] = int32(id)
	}
	mode := metadata.MetadataModeNone
	if cfg.MetadataMode == "full" {
		mode = metadata.MetadataModeFull
	}

	steps := []error{
		base.SetInt32(metadata.TagRequestOutputStreams, ids...),
		base.SetBytes(metadata.TagRequestMetadataMode, mode),
		base.SetInt64(metadata.TagSensorExposureTime, cfg.ExposureTime.Nanoseconds()),
		base.SetInt64(metadata.TagSensorFrameDuration, cfg.FrameDuration.Nanoseconds()),
		base.SetInt32(metadata.TagSensorSensitivity, int32(cfg.Sensitivity)),
		base.SetInt32(metadata.TagJpegQuality, int32(cfg.JPEGQuality)),
	}
	if cfg.Hour >= 0 {
		steps = append(steps, base.SetInt32(metadata.TagSceneHourOfDay, int32(cfg.Hour)))
	}
	for _, err := range steps {
		if err != nil {
			return nil, fmt.Errorf("building %s request: %w", template, err)
		}
	}
	base.Sort()

	return &requestBuilder{base: base}, nil
}

// build returns a fresh request for frame.
func (b *requestBuilder) build(frame int32) (*metadata.Record, error) {
	req := b.base.Clone()
	if err := req.SetInt32(metadata.TagRequestFrameCount, frame); err != nil {
		return nil, err
	}
	return req, nil
}
