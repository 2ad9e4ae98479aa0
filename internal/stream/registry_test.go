package stream

import (
	"bytes"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/randomizedcoder/go-fakecam/internal/camerr"
)

// nopSink satisfies Sink for registry tests that never move buffers.
type nopSink struct{}

func (nopSink) DequeueBuffer() (*BufferHandle, error) { return nil, errors.New("empty") }
func (nopSink) EnqueueBuffer(int64, *BufferHandle) error { return nil }
func (nopSink) CancelBuffer(*BufferHandle) error { return nil }

// probe is a switchable InUseProber that records calls.
type probe struct {
	name  string
	inUse atomic.Bool
	calls *[]string
}

func (p *probe) IsStreamInUse(uint32) bool {
	if p.calls != nil {
		*p.calls = append(*p.calls, p.name)
	}
	return p.inUse.Load()
}

// ============================================================================
// Allocate
// ============================================================================

func TestRegistry_AllocateAllSupportedCombinations(t *testing.T) {
	formats := []PixelFormat{FormatRawSensor, FormatBlob, FormatRGBA8888, FormatYV12, FormatYCrCb420SP, FormatOpaque}

	for _, facing := range []Facing{FacingBack, FacingFront} {
		r := NewRegistry(facing)
		var prev uint32
		first := true
		for _, f := range formats {
			for _, size := range SupportedSizes(f, facing) {
				a, err := r.Allocate(size.Width, size.Height, f, nopSink{})
				if err != nil {
					t.Fatalf("%s %s %s: Allocate() error = %v", facing, f, size, err)
				}
				if !first && a.ID <= prev {
					t.Errorf("%s %s %s: id %d not greater than %d", facing, f, size, a.ID, prev)
				}
				first = false
				prev = a.ID
				// Free the slot so every combination fits within the limits.
				if err := r.Release(a.ID); err != nil {
					t.Fatalf("Release() error = %v", err)
				}
			}
		}
	}
}

func TestRegistry_AllocateIDsIncrease(t *testing.T) {
	r := NewRegistry(FacingBack)

	seen := map[uint32]bool{}
	var prev uint32
	for i := 0; i < 6; i++ {
		a, err := r.Allocate(640, 480, FormatRGBA8888, nopSink{})
		if err != nil {
			t.Fatalf("Allocate() #%d error = %v", i, err)
		}
		if seen[a.ID] {
			t.Fatalf("id %d reused", a.ID)
		}
		if i > 0 && a.ID <= prev {
			t.Fatalf("id %d not greater than %d", a.ID, prev)
		}
		seen[a.ID] = true
		prev = a.ID
		if err := r.Release(a.ID); err != nil {
			t.Fatalf("Release() error = %v", err)
		}
	}
}

func TestRegistry_AllocateInvalid(t *testing.T) {
	tests := []struct {
		name   string
		facing Facing
		w, h   int
		format PixelFormat
		sink   Sink
	}{
		{"unknown format", FacingBack, 640, 480, PixelFormat(99), nopSink{}},
		{"raw wrong size", FacingBack, 320, 240, FormatRawSensor, nopSink{}},
		{"jpeg back uses front size", FacingBack, 320, 240, FormatBlob, nopSink{}},
		{"jpeg front uses back size", FacingFront, 640, 480, FormatBlob, nopSink{}},
		{"processed front too large", FacingFront, 640, 480, FormatYV12, nopSink{}},
		{"processed back too small", FacingBack, 160, 120, FormatRGBA8888, nopSink{}},
		{"nil sink", FacingBack, 640, 480, FormatRGBA8888, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(tt.facing)
			_, err := r.Allocate(tt.w, tt.h, tt.format, tt.sink)
			if !errors.Is(err, camerr.ErrInvalidArgument) {
				t.Errorf("Allocate() error = %v, want InvalidArgument", err)
			}
			if got := r.Counts()[CategoryOf(tt.format)]; got != 0 {
				t.Errorf("counter changed on failure: %d", got)
			}
		})
	}
}

func TestRegistry_AllocateCategoryLimits(t *testing.T) {
	tests := []struct {
		name   string
		format PixelFormat
		w, h   int
		limit  int
	}{
		{"raw", FormatRawSensor, 640, 480, MaxRawStreams},
		{"processed", FormatYCrCb420SP, 320, 240, MaxProcessedStreams},
		{"compressed", FormatBlob, 640, 480, MaxCompressedStreams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(FacingBack)
			var ids []uint32
			for i := 0; i < tt.limit; i++ {
				a, err := r.Allocate(tt.w, tt.h, tt.format, nopSink{})
				if err != nil {
					t.Fatalf("Allocate() #%d error = %v", i, err)
				}
				ids = append(ids, a.ID)
			}

			if _, err := r.Allocate(tt.w, tt.h, tt.format, nopSink{}); !errors.Is(err, camerr.ErrResourceExhausted) {
				t.Fatalf("Allocate() past limit error = %v, want ResourceExhausted", err)
			}

			if err := r.Release(ids[0]); err != nil {
				t.Fatalf("Release() error = %v", err)
			}
			if _, err := r.Allocate(tt.w, tt.h, tt.format, nopSink{}); err != nil {
				t.Errorf("Allocate() after release error = %v", err)
			}
		})
	}
}

func TestRegistry_OpaqueCountsAsProcessed(t *testing.T) {
	r := NewRegistry(FacingBack)

	a, err := r.Allocate(640, 480, FormatOpaque, nopSink{})
	if err != nil {
		t.Fatal(err)
	}
	if _, resolved := a.Format.Resolved(); resolved {
		t.Error("opaque allocation should be unresolved")
	}
	if a.MaxBuffers != DefaultMaxBuffers || a.Usage != UsageCameraWrite {
		t.Errorf("allocation = %+v", a)
	}
	if got := r.Counts()[CategoryProcessed]; got != 1 {
		t.Errorf("processed count = %d, want 1", got)
	}

	s, err := r.Lookup(a.ID)
	if err != nil {
		t.Fatal(err)
	}
	if s.Stride != 640 {
		t.Errorf("stride = %d, want width", s.Stride)
	}
}

// ============================================================================
// FinalizeFormat
// ============================================================================

func TestRegistry_FinalizeFormat(t *testing.T) {
	r := NewRegistry(FacingBack)
	auto, _ := r.Allocate(640, 480, FormatOpaque, nopSink{})
	rgba, _ := r.Allocate(320, 240, FormatRGBA8888, nopSink{})

	tests := []struct {
		name    string
		id      uint32
		format  PixelFormat
		wantErr bool
	}{
		{"unknown id", 1234, FormatRGBA8888, true},
		{"placeholder rejected", auto.ID, FormatOpaque, true},
		{"cross category rejected", auto.ID, FormatBlob, true},
		{"concrete mismatch", rgba.ID, FormatYV12, true},
		{"concrete same format", rgba.ID, FormatRGBA8888, false},
		{"resolve auto", auto.ID, FormatYCrCb420SP, false},
		{"resolved auto is now fixed", auto.ID, FormatYV12, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.FinalizeFormat(tt.id, tt.format)
			if tt.wantErr {
				if !errors.Is(err, camerr.ErrInvalidArgument) {
					t.Errorf("FinalizeFormat() error = %v, want InvalidArgument", err)
				}
				return
			}
			if err != nil {
				t.Errorf("FinalizeFormat() error = %v", err)
			}
		})
	}

	s, _ := r.Lookup(auto.ID)
	if !s.Format.Is(FormatYCrCb420SP) {
		t.Errorf("auto stream format = %s, want nv21", s.Format)
	}
}

// ============================================================================
// Release / Lookup
// ============================================================================

func TestRegistry_ReleaseUnknown(t *testing.T) {
	r := NewRegistry(FacingBack)
	if err := r.Release(7); !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("Release() error = %v, want InvalidArgument", err)
	}
	if _, err := r.Lookup(7); !errors.Is(err, camerr.ErrInvalidArgument) {
		t.Errorf("Lookup() error = %v, want InvalidArgument", err)
	}
}

func TestRegistry_ReleaseInUse(t *testing.T) {
	var calls []string
	configure := &probe{name: "configure", calls: &calls}
	readout := &probe{name: "readout", calls: &calls}
	compressor := &probe{name: "compressor", calls: &calls}

	r := NewRegistry(FacingBack)
	r.AddProber(configure)
	r.AddProber(readout)
	r.AddProber(compressor)

	a, err := r.Allocate(640, 480, FormatBlob, nopSink{})
	if err != nil {
		t.Fatal(err)
	}

	for _, p := range []*probe{configure, readout, compressor} {
		p.inUse.Store(true)
		if err := r.Release(a.ID); !errors.Is(err, camerr.ErrFailedPrecondition) {
			t.Errorf("%s in use: Release() error = %v, want FailedPrecondition", p.name, err)
		}
		p.inUse.Store(false)
	}

	calls = nil
	if err := r.Release(a.ID); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if strings.Join(calls, ",") != "configure,readout,compressor" {
		t.Errorf("probe order = %v", calls)
	}
	if _, err := r.Lookup(a.ID); err == nil {
		t.Error("stream still present after release")
	}
	if got := r.Counts()[CategoryCompressed]; got != 0 {
		t.Errorf("compressed count = %d, want 0", got)
	}
}

func TestRegistry_Dump(t *testing.T) {
	r := NewRegistry(FacingFront)

	var empty bytes.Buffer
	r.Dump(&empty)
	if !strings.Contains(empty.String(), "(none)") {
		t.Errorf("empty dump = %q", empty.String())
	}

	_, _ = r.Allocate(320, 240, FormatBlob, nopSink{})
	_, _ = r.Allocate(160, 120, FormatOpaque, nopSink{})

	var buf bytes.Buffer
	r.Dump(&buf)
	out := buf.String()
	for _, want := range []string{
		"front camera",
		"compressed 1/1",
		"stream 0: 320x240 format=blob stride=320",
		"stream 1: 160x120 format=auto stride=160",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("Dump() missing %q in:\n%s", want, out)
		}
	}
}
