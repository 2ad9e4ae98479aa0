package metadata

import "testing"

func TestVendorTags(t *testing.T) {
	section, ok := VendorSectionName(TagSceneHourOfDay)
	if !ok || section != "com.android.emulator.scene" {
		t.Errorf("VendorSectionName() = %q, %v", section, ok)
	}
	name, ok := VendorTagName(TagSceneHourOfDay)
	if !ok || name != "hourOfDay" {
		t.Errorf("VendorTagName() = %q, %v", name, ok)
	}
	typ, ok := VendorTagType(TagSceneHourOfDay)
	if !ok || typ != TypeInt32 {
		t.Errorf("VendorTagType() = %v, %v", typ, ok)
	}
}

func TestVendorTags_OutOfRange(t *testing.T) {
	tests := []struct {
		name string
		tag  Tag
	}{
		{"standard section", TagSensorExposureTime},
		{"section past the last vendor section", tagOf(vendorSectionEnd, 0)},
		{"index past the section's tags", tagOf(SectionScene, 1)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := VendorTagName(tt.tag); ok {
				t.Errorf("VendorTagName(%#x) should fail", uint32(tt.tag))
			}
			if _, ok := VendorTagType(tt.tag); ok {
				t.Errorf("VendorTagType(%#x) should fail", uint32(tt.tag))
			}
		})
	}
}

func TestTag_String(t *testing.T) {
	tests := []struct {
		tag  Tag
		want string
	}{
		{TagSensorExposureTime, "android.sensor.exposureTime"},
		{TagRequestOutputStreams, "android.request.outputStreams"},
		{TagSceneHourOfDay, "com.android.emulator.scene.hourOfDay"},
		{Tag(0x00ff0000), "tag(0x00ff0000)"},
	}

	for _, tt := range tests {
		if got := tt.tag.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestType_Size(t *testing.T) {
	sizes := map[Type]int{TypeByte: 1, TypeInt32: 4, TypeFloat: 4, TypeInt64: 8, TypeDouble: 8, Type(99): 0}
	for typ, want := range sizes {
		if got := typ.Size(); got != want {
			t.Errorf("%v.Size() = %d, want %d", typ, got, want)
		}
	}
}
