package metadata

import (
	"fmt"
	"strings"
)

// Template selects one of the default request presets.
type Template int

const (
	TemplatePreview Template = iota + 1
	TemplateStillCapture
	TemplateVideoRecord
	TemplateVideoSnapshot
	TemplateZeroShutterLag
)

var templateNames = map[Template]string{
	TemplatePreview:        "preview",
	TemplateStillCapture:   "still",
	TemplateVideoRecord:    "record",
	TemplateVideoSnapshot:  "snapshot",
	TemplateZeroShutterLag: "zsl",
}

func (t Template) String() string {
	if name, ok := templateNames[t]; ok {
		return name
	}
	return fmt.Sprintf("template(%d)", int(t))
}

// ParseTemplate maps a template name ("preview", "still", ...) to a Template.
func ParseTemplate(s string) (Template, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range templateNames {
		if name == s {
			return t, nil
		}
	}
	return 0, fmt.Errorf("unknown template %q", s)
}

// Sensor defaults shared by every template.
const (
	DefaultExposureTime  int64 = 10_000_000 // 10 ms
	DefaultFrameDuration int64 = 33_333_333 // ~30 fps
	DefaultSensitivity   int32 = 100
	DefaultJpegQuality   int32 = 80
)

// DefaultRequest builds the default capture request for a template. The
// caller adds the output stream list and frame count.
func DefaultRequest(t Template) (*Record, error) {
	var intent, processing, afMode uint8
	switch t {
	case TemplatePreview:
		intent, processing, afMode = CaptureIntentPreview, ProcessingFast, AfModeAuto
	case TemplateStillCapture:
		intent, processing, afMode = CaptureIntentStillCapture, ProcessingHighQuality, AfModeAuto
	case TemplateVideoRecord:
		intent, processing, afMode = CaptureIntentVideoRecord, ProcessingFast, AfModeContinuousVideo
	case TemplateVideoSnapshot:
		intent, processing, afMode = CaptureIntentVideoSnapshot, ProcessingHighQuality, AfModeContinuousVideo
	case TemplateZeroShutterLag:
		intent, processing, afMode = CaptureIntentZeroShutterLag, ProcessingHighQuality, AfModeContinuousPicture
	default:
		return nil, fmt.Errorf("unknown template %d", int(t))
	}

	r := New(48, 256)
	b := builder{r: r}

	b.u8(TagRequestMetadataMode, MetadataModeNone)
	b.i32(TagRequestFrameCount, 0)

	b.f32(TagLensFocusDistance, 0)
	b.f32(TagLensAperture, 2.8)
	b.f32(TagLensFocalLength, 5.0)
	b.f32(TagLensFilterDensity, 0)
	b.u8(TagLensOpticalStabilizationMode, OpticalStabilizationOff)

	b.i64(TagSensorExposureTime, DefaultExposureTime)
	b.i64(TagSensorFrameDuration, DefaultFrameDuration)
	b.i32(TagSensorSensitivity, DefaultSensitivity)

	b.u8(TagFlashMode, FlashModeOff)
	b.u8(TagFlashFiringPower, 10)
	b.i64(TagFlashFiringTime, 0)

	for _, tag := range []Tag{
		TagHotPixelMode, TagDemosaicMode, TagNoiseMode, TagShadingMode,
		TagGeometricMode, TagColorMode, TagTonemapMode, TagEdgeMode,
	} {
		b.u8(tag, processing)
	}
	b.u8(TagNoiseStrength, 5)
	b.u8(TagEdgeStrength, 5)

	b.i32(TagScalerCropRegion, 0, 0, 640, 480)

	b.i32(TagJpegQuality, DefaultJpegQuality)
	b.i32(TagJpegThumbnailSize, 640, 480)
	b.i32(TagJpegThumbnailQuality, 80)
	b.f64(TagJpegGPSCoordinates, 0, 0, 0)
	b.i64(TagJpegGPSTimestamp, 0)
	b.i32(TagJpegOrientation, 0)

	b.u8(TagControlCaptureIntent, intent)
	b.u8(TagControlMode, ControlModeAuto)
	b.u8(TagControlEffectMode, ControlEffectOff)
	b.u8(TagControlSceneMode, SceneModeFacePriority)
	b.u8(TagControlAeMode, AeModeOnAutoFlash)
	b.i32(TagControlAeRegions, 0, 0, 640, 480, 1000)
	b.i32(TagControlAeExpCompensation, 0)
	b.i32(TagControlAeTargetFpsRange, 10, 30)
	b.u8(TagControlAeAntibandingMode, AeAntibandingAuto)
	b.u8(TagControlAwbMode, AwbModeAuto)
	b.i32(TagControlAwbRegions, 0, 0, 640, 480, 1000)
	b.u8(TagControlAfMode, afMode)
	b.i32(TagControlAfRegions, 0, 0, 640, 480, 1000)
	b.u8(TagControlVideoStabilizationMode, StabilizationOff)

	if b.err != nil {
		return nil, fmt.Errorf("building %s template: %w", t, b.err)
	}
	r.Sort()
	return r, nil
}

// builder keeps the first add error so template construction reads as a list.
type builder struct {
	r   *Record
	err error
}

func (b *builder) u8(t Tag, v ...uint8) {
	if b.err == nil {
		b.err = b.r.AddBytes(t, v...)
	}
}

func (b *builder) i32(t Tag, v ...int32) {
	if b.err == nil {
		b.err = b.r.AddInt32(t, v...)
	}
}

func (b *builder) i64(t Tag, v ...int64) {
	if b.err == nil {
		b.err = b.r.AddInt64(t, v...)
	}
}

func (b *builder) f32(t Tag, v ...float32) {
	if b.err == nil {
		b.err = b.r.AddFloat(t, v...)
	}
}

func (b *builder) f64(t Tag, v ...float64) {
	if b.err == nil {
		b.err = b.r.AddDouble(t, v...)
	}
}
