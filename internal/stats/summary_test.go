package stats

import (
	"errors"
	"strings"
	"testing"
	"time"
)

// =============================================================================
// Table-Driven Tests: Formatting Functions
// =============================================================================

func TestFormatDuration(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"zero", 0, "00:00:00"},
		{"one second", time.Second, "00:00:01"},
		{"one minute", time.Minute, "00:01:00"},
		{"one hour", time.Hour, "01:00:00"},
		{"mixed", 2*time.Hour + 30*time.Minute + 45*time.Second, "02:30:45"},
		{"24 hours", 24 * time.Hour, "24:00:00"},
		{"sub-second", 500 * time.Millisecond, "00:00:00"},
		{"59 seconds", 59 * time.Second, "00:00:59"},
		{"59 minutes", 59 * time.Minute, "00:59:00"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatDuration(tt.duration); got != tt.want {
				t.Errorf("FormatDuration(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestFormatNumber(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		want string
	}{
		{"zero", 0, "0"},
		{"small", 123, "123"},
		{"999", 999, "999"},
		{"1K", 1000, "1.0K"},
		{"1.5K", 1500, "1.5K"},
		{"10K", 10000, "10.0K"},
		{"999K", 999000, "999.0K"},
		{"1M", 1000000, "1.0M"},
		{"1.5M", 1500000, "1.5M"},
		{"10M", 10000000, "10.0M"},
		{"negative", -100, "-100"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatNumber(tt.n); got != tt.want {
				t.Errorf("FormatNumber(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		name string
		n    int64
		want string
	}{
		{"zero", 0, "0 B"},
		{"small", 123, "123 B"},
		{"999 bytes", 999, "999 B"},
		{"1 KB", 1000, "1.00 KB"},
		{"1.5 KB", 1500, "1.50 KB"},
		{"10 KB", 10000, "10.00 KB"},
		{"1 MB", 1000000, "1.00 MB"},
		{"1.5 MB", 1500000, "1.50 MB"},
		{"1 GB", 1000000000, "1.00 GB"},
		{"1.5 GB", 1500000000, "1.50 GB"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatBytes(tt.n); got != tt.want {
				t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
			}
		})
	}
}

func TestFormatMs(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		want     string
	}{
		{"zero", 0, "0 ms"},
		{"1 ms", time.Millisecond, "1 ms"},
		{"100 ms", 100 * time.Millisecond, "100 ms"},
		{"1 second", time.Second, "1000 ms"},
		{"sub-ms", 500 * time.Microsecond, "500 µs"},
		{"1 us", time.Microsecond, "1 µs"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMs(tt.duration); got != tt.want {
				t.Errorf("FormatMs(%v) = %q, want %q", tt.duration, got, tt.want)
			}
		})
	}
}

func TestFormatRate(t *testing.T) {
	tests := []struct {
		name string
		rate float64
		want string
	}{
		{"zero", 0, "0.00/s"},
		{"small", 0.5, "0.50/s"},
		{"one", 1.0, "1.0/s"},
		{"ten", 10.0, "10.0/s"},
		{"hundred", 100.0, "100.0/s"},
		{"thousand", 1000.0, "1.0K/s"},
		{"1.5K", 1500.0, "1.5K/s"},
		{"10K", 10000.0, "10.0K/s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatRate(tt.rate); got != tt.want {
				t.Errorf("FormatRate(%v) = %q, want %q", tt.rate, got, tt.want)
			}
		})
	}
}

// =============================================================================
// Tests: FormatExitSummary
// =============================================================================

func TestFormatExitSummary_NilStats(t *testing.T) {
	cfg := SummaryConfig{
		TargetRequests: 100,
		Duration:       5 * time.Minute,
		MetricsAddr:    "localhost:17091",
	}

	result := FormatExitSummary(nil, cfg)

	for _, want := range []string{
		"go-fakecam Exit Summary",
		"No capture statistics were collected",
		"Target Requests:        100",
		"00:05:00",
		"http://localhost:17091/metrics",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("summary missing %q", want)
		}
	}
}

func TestFormatExitSummary_Streams(t *testing.T) {
	stats := &AggregatedStats{
		RequestsSubmitted: 300,
		FramesDelivered:   298,
		ReadoutDrops:      2,
		Streams: []StreamSummary{
			{StreamID: 0, Format: "rgba", Width: 640, Height: 480, Buffers: 298, Bytes: 298 * 640 * 480 * 4},
			{StreamID: 1, Format: "blob", Width: 640, Height: 480, Buffers: 10, EnqueueFailures: 1},
		},
		CaptureLatency: LatencySnapshot{Count: 298, P50: 40 * time.Millisecond, P95: 60 * time.Millisecond, P99: 70 * time.Millisecond},
	}
	cfg := SummaryConfig{SessionID: "abc", Facing: "back", Template: "preview", Duration: 10 * time.Second}

	result := FormatExitSummary(stats, cfg)

	for _, want := range []string{
		"Session:                abc",
		"Camera:                 back (preview template)",
		"Requests Submitted:     300",
		"640x480",
		"Capture Latency",
		"P50 (median):         40 ms",
		"P99:                  70 ms",
		"Readout Drops:        2",
		"Enqueue Failures:     1",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("summary missing %q\n%s", want, result)
		}
	}
	if strings.Contains(result, "JPEG Compression") {
		t.Error("JPEG section shown without compressions")
	}
	if strings.Contains(result, "PIPELINE FAILED") {
		t.Error("failure banner shown without an error")
	}
}

func TestFormatExitSummary_JPEGAndFailure(t *testing.T) {
	stats := &AggregatedStats{
		JPEGs:         4,
		JPEGBytes:     4000,
		EncodeLatency: LatencySnapshot{Count: 4, P50: 5 * time.Millisecond, P99: 9 * time.Millisecond},
	}
	cfg := SummaryConfig{
		FirstError:    errors.New("readout_enqueue: unrecoverable: in-flight queue full"),
		OutputDir:     "/tmp/captures",
		SavedFiles:    4,
		DeliveryDrops: 3,
	}

	result := FormatExitSummary(stats, cfg)

	for _, want := range []string{
		"PIPELINE FAILED",
		"in-flight queue full",
		"JPEG Compression",
		"Average Size:         1.00 KB",
		"Encode P50/P99:       5 ms / 9 ms",
		"Saved 4 captures to /tmp/captures",
		"Deliveries dropped by slow consumers: 3",
	} {
		if !strings.Contains(result, want) {
			t.Errorf("summary missing %q\n%s", want, result)
		}
	}
}

func TestRenderFootnotes_Empty(t *testing.T) {
	if got := renderFootnotes(SummaryConfig{}); got != "" {
		t.Errorf("renderFootnotes() = %q, want empty", got)
	}
}

func BenchmarkFormatExitSummary(b *testing.B) {
	stats := &AggregatedStats{
		RequestsSubmitted: 100000,
		FramesDelivered:   99990,
		Streams: []StreamSummary{
			{StreamID: 0, Format: "rgba", Width: 640, Height: 480, Buffers: 99990},
			{StreamID: 1, Format: "yv12", Width: 320, Height: 240, Buffers: 99990},
		},
		CaptureLatency: LatencySnapshot{Count: 99990, P50: 40 * time.Millisecond},
	}
	cfg := SummaryConfig{Duration: time.Hour}
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = FormatExitSummary(stats, cfg)
	}
}
