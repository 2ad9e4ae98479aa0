package metadata

// Vendor sections start at 0x8000. The emulator defines a single "scene"
// section holding the lighting hint used by the simulated sensor.
const (
	VendorSection Section = 0x8000

	SectionScene     = VendorSection
	vendorSectionEnd = SectionScene + 1
)

// TagSceneHourOfDay is the hour of day (0-23) used for scene lighting.
var TagSceneHourOfDay = tagOf(SectionScene, 0)

var vendorSectionNames = []string{
	"com.android.emulator.scene",
}

// vendorTags holds, per vendor section, the tag table indexed by the low
// 16 bits of the tag.
var vendorTags = [][]TagInfo{
	{
		{Name: "hourOfDay", Type: TypeInt32},
	},
}

func vendorIndex(t Tag) (int, bool) {
	s := t.Section()
	if s < VendorSection || s >= vendorSectionEnd {
		return 0, false
	}
	return int(s - VendorSection), true
}

// VendorSectionName returns the section name of a vendor tag.
func VendorSectionName(t Tag) (string, bool) {
	idx, ok := vendorIndex(t)
	if !ok {
		return "", false
	}
	return vendorSectionNames[idx], true
}

// VendorTagName returns the short name of a vendor tag.
func VendorTagName(t Tag) (string, bool) {
	idx, ok := vendorIndex(t)
	if !ok {
		return "", false
	}
	tags := vendorTags[idx]
	i := int(t & 0xFFFF)
	if i >= len(tags) {
		return "", false
	}
	return tags[i].Name, true
}

// VendorTagType returns the value type of a vendor tag.
func VendorTagType(t Tag) (Type, bool) {
	idx, ok := vendorIndex(t)
	if !ok {
		return 0, false
	}
	tags := vendorTags[idx]
	i := int(t & 0xFFFF)
	if i >= len(tags) {
		return 0, false
	}
	return tags[i].Type, true
}
