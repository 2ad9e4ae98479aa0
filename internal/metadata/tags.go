// Package metadata implements the ordered key/value records exchanged with
// the capture pipeline: capture requests, result frames, request templates
// and static camera information.
//
// A Tag packs its section in the upper 16 bits and its index within the
// section in the lower 16 bits. Every known tag has a fixed value Type; adding
// an entry with the wrong type is rejected.
package metadata

import "fmt"

// Type is the element type of a tag's values.
type Type uint8

const (
	TypeByte Type = iota
	TypeInt32
	TypeFloat
	TypeInt64
	TypeDouble
)

// Size returns the size in bytes of one element.
func (t Type) Size() int {
	switch t {
	case TypeByte:
		return 1
	case TypeInt32, TypeFloat:
		return 4
	case TypeInt64, TypeDouble:
		return 8
	default:
		return 0
	}
}

// String returns a human-readable name for the type.
func (t Type) String() string {
	switch t {
	case TypeByte:
		return "byte"
	case TypeInt32:
		return "int32"
	case TypeFloat:
		return "float"
	case TypeInt64:
		return "int64"
	case TypeDouble:
		return "double"
	default:
		return "unknown"
	}
}

// Section groups related tags.
type Section uint16

const (
	SectionRequest Section = iota
	SectionLens
	SectionSensor
	SectionFlash
	SectionProcessing
	SectionScaler
	SectionJpeg
	SectionControl
	SectionInfo
	sectionCount
)

var sectionNames = [sectionCount]string{
	"android.request",
	"android.lens",
	"android.sensor",
	"android.flash",
	"android.processing",
	"android.scaler",
	"android.jpeg",
	"android.control",
	"android.info",
}

// Tag identifies one metadata field.
type Tag uint32

func tagOf(s Section, index uint16) Tag { return Tag(uint32(s)<<16 | uint32(index)) }

// Section returns the section half of the tag.
func (t Tag) Section() Section { return Section(t >> 16) }

// Request tags.
var (
	TagRequestOutputStreams = tagOf(SectionRequest, 0)
	TagRequestFrameCount    = tagOf(SectionRequest, 1)
	TagRequestMetadataMode  = tagOf(SectionRequest, 2)
	TagRequestID            = tagOf(SectionRequest, 3)
)

// Lens tags.
var (
	TagLensFocusDistance            = tagOf(SectionLens, 0)
	TagLensAperture                 = tagOf(SectionLens, 1)
	TagLensFocalLength              = tagOf(SectionLens, 2)
	TagLensFilterDensity            = tagOf(SectionLens, 3)
	TagLensOpticalStabilizationMode = tagOf(SectionLens, 4)
	TagLensFacing                   = tagOf(SectionLens, 5)
)

// Sensor tags.
var (
	TagSensorExposureTime  = tagOf(SectionSensor, 0)
	TagSensorFrameDuration = tagOf(SectionSensor, 1)
	TagSensorSensitivity   = tagOf(SectionSensor, 2)
	TagSensorTimestamp     = tagOf(SectionSensor, 3)
)

// Flash tags.
var (
	TagFlashMode        = tagOf(SectionFlash, 0)
	TagFlashFiringPower = tagOf(SectionFlash, 1)
	TagFlashFiringTime  = tagOf(SectionFlash, 2)
)

// Processing block tags.
var (
	TagHotPixelMode  = tagOf(SectionProcessing, 0)
	TagDemosaicMode  = tagOf(SectionProcessing, 1)
	TagNoiseMode     = tagOf(SectionProcessing, 2)
	TagShadingMode   = tagOf(SectionProcessing, 3)
	TagGeometricMode = tagOf(SectionProcessing, 4)
	TagColorMode     = tagOf(SectionProcessing, 5)
	TagTonemapMode   = tagOf(SectionProcessing, 6)
	TagEdgeMode      = tagOf(SectionProcessing, 7)
	TagNoiseStrength = tagOf(SectionProcessing, 8)
	TagEdgeStrength  = tagOf(SectionProcessing, 9)
)

// Scaler tags.
var (
	TagScalerCropRegion                     = tagOf(SectionScaler, 0)
	TagScalerAvailableFormats               = tagOf(SectionScaler, 1)
	TagScalerAvailableRawSizes              = tagOf(SectionScaler, 2)
	TagScalerAvailableRawMinDurations       = tagOf(SectionScaler, 3)
	TagScalerAvailableProcessedSizes        = tagOf(SectionScaler, 4)
	TagScalerAvailableProcessedMinDurations = tagOf(SectionScaler, 5)
	TagScalerAvailableJpegSizes             = tagOf(SectionScaler, 6)
	TagScalerAvailableJpegMinDurations      = tagOf(SectionScaler, 7)
)

// JPEG tags.
var (
	TagJpegQuality          = tagOf(SectionJpeg, 0)
	TagJpegThumbnailSize    = tagOf(SectionJpeg, 1)
	TagJpegThumbnailQuality = tagOf(SectionJpeg, 2)
	TagJpegOrientation      = tagOf(SectionJpeg, 3)
	TagJpegGPSCoordinates   = tagOf(SectionJpeg, 4)
	TagJpegGPSTimestamp     = tagOf(SectionJpeg, 5)
	TagJpegMaxSize          = tagOf(SectionJpeg, 6)
)

// Control tags.
var (
	TagControlCaptureIntent          = tagOf(SectionControl, 0)
	TagControlMode                   = tagOf(SectionControl, 1)
	TagControlEffectMode             = tagOf(SectionControl, 2)
	TagControlSceneMode              = tagOf(SectionControl, 3)
	TagControlAeMode                 = tagOf(SectionControl, 4)
	TagControlAeRegions              = tagOf(SectionControl, 5)
	TagControlAeExpCompensation      = tagOf(SectionControl, 6)
	TagControlAeTargetFpsRange       = tagOf(SectionControl, 7)
	TagControlAeAntibandingMode      = tagOf(SectionControl, 8)
	TagControlAwbMode                = tagOf(SectionControl, 9)
	TagControlAwbRegions             = tagOf(SectionControl, 10)
	TagControlAfMode                 = tagOf(SectionControl, 11)
	TagControlAfRegions              = tagOf(SectionControl, 12)
	TagControlVideoStabilizationMode = tagOf(SectionControl, 13)
)

// Static sensor information tags.
var (
	TagInfoExposureTimeRange      = tagOf(SectionInfo, 0)
	TagInfoMaxFrameDuration       = tagOf(SectionInfo, 1)
	TagInfoAvailableSensitivities = tagOf(SectionInfo, 2)
	TagInfoPixelArraySize         = tagOf(SectionInfo, 3)
	TagInfoWhiteLevel             = tagOf(SectionInfo, 4)
	TagInfoMaxRawStreams          = tagOf(SectionInfo, 5)
	TagInfoMaxProcessedStreams    = tagOf(SectionInfo, 6)
	TagInfoMaxJpegStreams         = tagOf(SectionInfo, 7)
)

// Enumerated tag values.
const (
	MetadataModeNone uint8 = 0
	MetadataModeFull uint8 = 1

	ProcessingOff         uint8 = 0
	ProcessingFast        uint8 = 1
	ProcessingHighQuality uint8 = 2

	CaptureIntentCustom         uint8 = 0
	CaptureIntentPreview        uint8 = 1
	CaptureIntentStillCapture   uint8 = 2
	CaptureIntentVideoRecord    uint8 = 3
	CaptureIntentVideoSnapshot  uint8 = 4
	CaptureIntentZeroShutterLag uint8 = 5

	AfModeOff               uint8 = 0
	AfModeAuto              uint8 = 1
	AfModeContinuousVideo   uint8 = 3
	AfModeContinuousPicture uint8 = 4

	ControlModeAuto         uint8 = 1
	ControlEffectOff        uint8 = 0
	SceneModeFacePriority   uint8 = 1
	AeModeOnAutoFlash       uint8 = 2
	AeAntibandingAuto       uint8 = 3
	AwbModeAuto             uint8 = 1
	FlashModeOff            uint8 = 0
	StabilizationOff        uint8 = 0
	LensFacingFront         uint8 = 0
	LensFacingBack          uint8 = 1
	OpticalStabilizationOff uint8 = 0
)

// TagInfo describes a known tag.
type TagInfo struct {
	Name string
	Type Type
}

var tagInfo = map[Tag]TagInfo{
	TagRequestOutputStreams: {"outputStreams", TypeInt32},
	TagRequestFrameCount:    {"frameCount", TypeInt32},
	TagRequestMetadataMode:  {"metadataMode", TypeByte},
	TagRequestID:            {"id", TypeInt32},

	TagLensFocusDistance:            {"focusDistance", TypeFloat},
	TagLensAperture:                 {"aperture", TypeFloat},
	TagLensFocalLength:              {"focalLength", TypeFloat},
	TagLensFilterDensity:            {"filterDensity", TypeFloat},
	TagLensOpticalStabilizationMode: {"opticalStabilizationMode", TypeByte},
	TagLensFacing:                   {"facing", TypeByte},

	TagSensorExposureTime:  {"exposureTime", TypeInt64},
	TagSensorFrameDuration: {"frameDuration", TypeInt64},
	TagSensorSensitivity:   {"sensitivity", TypeInt32},
	TagSensorTimestamp:     {"timestamp", TypeInt64},

	TagFlashMode:        {"mode", TypeByte},
	TagFlashFiringPower: {"firingPower", TypeByte},
	TagFlashFiringTime:  {"firingTime", TypeInt64},

	TagHotPixelMode:  {"hotPixelMode", TypeByte},
	TagDemosaicMode:  {"demosaicMode", TypeByte},
	TagNoiseMode:     {"noiseMode", TypeByte},
	TagShadingMode:   {"shadingMode", TypeByte},
	TagGeometricMode: {"geometricMode", TypeByte},
	TagColorMode:     {"colorMode", TypeByte},
	TagTonemapMode:   {"tonemapMode", TypeByte},
	TagEdgeMode:      {"edgeMode", TypeByte},
	TagNoiseStrength: {"noiseStrength", TypeByte},
	TagEdgeStrength:  {"edgeStrength", TypeByte},

	TagScalerCropRegion:                     {"cropRegion", TypeInt32},
	TagScalerAvailableFormats:               {"availableFormats", TypeInt32},
	TagScalerAvailableRawSizes:              {"availableRawSizes", TypeInt32},
	TagScalerAvailableRawMinDurations:       {"availableRawMinDurations", TypeInt64},
	TagScalerAvailableProcessedSizes:        {"availableProcessedSizes", TypeInt32},
	TagScalerAvailableProcessedMinDurations: {"availableProcessedMinDurations", TypeInt64},
	TagScalerAvailableJpegSizes:             {"availableJpegSizes", TypeInt32},
	TagScalerAvailableJpegMinDurations:      {"availableJpegMinDurations", TypeInt64},

	TagJpegQuality:          {"quality", TypeInt32},
	TagJpegThumbnailSize:    {"thumbnailSize", TypeInt32},
	TagJpegThumbnailQuality: {"thumbnailQuality", TypeInt32},
	TagJpegOrientation:      {"orientation", TypeInt32},
	TagJpegGPSCoordinates:   {"gpsCoordinates", TypeDouble},
	TagJpegGPSTimestamp:     {"gpsTimestamp", TypeInt64},
	TagJpegMaxSize:          {"maxSize", TypeInt32},

	TagControlCaptureIntent:          {"captureIntent", TypeByte},
	TagControlMode:                   {"mode", TypeByte},
	TagControlEffectMode:             {"effectMode", TypeByte},
	TagControlSceneMode:              {"sceneMode", TypeByte},
	TagControlAeMode:                 {"aeMode", TypeByte},
	TagControlAeRegions:              {"aeRegions", TypeInt32},
	TagControlAeExpCompensation:      {"aeExpCompensation", TypeInt32},
	TagControlAeTargetFpsRange:       {"aeTargetFpsRange", TypeInt32},
	TagControlAeAntibandingMode:      {"aeAntibandingMode", TypeByte},
	TagControlAwbMode:                {"awbMode", TypeByte},
	TagControlAwbRegions:             {"awbRegions", TypeInt32},
	TagControlAfMode:                 {"afMode", TypeByte},
	TagControlAfRegions:              {"afRegions", TypeInt32},
	TagControlVideoStabilizationMode: {"videoStabilizationMode", TypeByte},

	TagInfoExposureTimeRange:      {"exposureTimeRange", TypeInt64},
	TagInfoMaxFrameDuration:       {"maxFrameDuration", TypeInt64},
	TagInfoAvailableSensitivities: {"availableSensitivities", TypeInt32},
	TagInfoPixelArraySize:         {"pixelArraySize", TypeInt32},
	TagInfoWhiteLevel:             {"whiteLevel", TypeInt32},
	TagInfoMaxRawStreams:          {"maxRawStreams", TypeInt32},
	TagInfoMaxProcessedStreams:    {"maxProcessedStreams", TypeInt32},
	TagInfoMaxJpegStreams:         {"maxJpegStreams", TypeInt32},
}

// LookupTag returns the description of a tag, consulting the vendor
// dictionary for tags in vendor sections.
func LookupTag(t Tag) (TagInfo, bool) {
	if info, ok := tagInfo[t]; ok {
		return info, true
	}
	name, ok := VendorTagName(t)
	if !ok {
		return TagInfo{}, false
	}
	typ, _ := VendorTagType(t)
	return TagInfo{Name: name, Type: typ}, true
}

// SectionName returns the dotted section prefix of a tag.
func SectionName(t Tag) (string, bool) {
	if s := t.Section(); s < sectionCount {
		return sectionNames[s], true
	}
	return VendorSectionName(t)
}

// String returns the fully qualified tag name, e.g. "android.sensor.exposureTime".
func (t Tag) String() string {
	section, ok := SectionName(t)
	info, known := LookupTag(t)
	if !ok || !known {
		return fmt.Sprintf("tag(0x%08x)", uint32(t))
	}
	return section + "." + info.Name
}
