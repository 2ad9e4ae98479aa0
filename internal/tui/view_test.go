package tui

import (
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/randomizedcoder/go-fakecam/internal/logging"
	"github.com/randomizedcoder/go-fakecam/internal/stats"
	"github.com/randomizedcoder/go-fakecam/internal/timeseries"
)

func testStats() *stats.AggregatedStats {
	return &stats.AggregatedStats{
		Elapsed:           5 * time.Second,
		RequestsSubmitted: 150,
		FramesDelivered:   148,
		MetadataFrames:    148,
		JPEGs:             148,
		JPEGBytes:         2_500_000,
		FrameRate:         timeseries.RateStats{Total: 148, Rate10s: 29.6},
		CaptureLatency: stats.LatencySnapshot{
			Count: 148,
			P50:   40 * time.Millisecond,
			P95:   45 * time.Millisecond,
			P99:   48 * time.Millisecond,
			Max:   52 * time.Millisecond,
		},
		Streams: []stats.StreamSummary{
			{StreamID: 1, Format: "jpeg", Width: 640, Height: 480, Buffers: 148, Bytes: 2_500_000},
		},
	}
}

// =============================================================================
// Tests: View
// =============================================================================

func TestModel_View_Quitting(t *testing.T) {
	model := New(Config{TargetRequests: 10})
	model.quitting = true

	if view := model.View(); view != "" {
		t.Errorf("View() when quitting should be empty, got %q", view)
	}
}

func TestModel_View_NoStats(t *testing.T) {
	model := New(Config{SessionID: "s-1", Facing: "back", Template: "preview"})

	view := model.View()
	for _, want := range []string{"go-fakecam", "Requests", "Submitted", "Session: s-1"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_View_Summary(t *testing.T) {
	model := New(Config{
		Facing:         "back",
		Template:       "still",
		TargetRequests: 200,
		TargetRate:     30,
		MetricsAddr:    "127.0.0.1:17092",
	})
	model.width = 120
	model.stats = testStats()
	model.status = &PipelineStatus{Configure: "active", Readout: "active", InProgress: 2}

	view := model.View()
	for _, want := range []string{
		"Pipeline",
		"Configure",
		"Frames delivered",
		"Capture Latency",
		"40 ms",
		"Stream 1 jpeg 640x480",
		"Metrics: http://127.0.0.1:17092/metrics",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
	if strings.Contains(view, "Drops & Errors") {
		t.Error("problems section should be hidden when there are none")
	}
}

func TestModel_View_Problems(t *testing.T) {
	model := New(Config{TargetRequests: 200})
	model.width = 120
	model.stats = testStats()
	model.stats.ReadoutDrops = 3
	model.status = &PipelineStatus{
		Configure:     "stopped",
		Readout:       "stopped",
		DeliveryDrops: 7,
		FirstError:    "readout overflow",
	}

	view := model.View()
	for _, want := range []string{"Drops & Errors", "Readout drops", "Consumer drops", "readout overflow", "failed"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

func TestModel_View_Detailed(t *testing.T) {
	model := New(Config{TargetRequests: 200})
	model.width = 120
	model.stats = testStats()
	model.detailedView = true

	view := model.View()
	if !strings.Contains(view, "Streams") || !strings.Contains(view, "640x480") {
		t.Errorf("detailed view missing stream table:\n%s", view)
	}
	if strings.Contains(view, "Capture Latency") {
		t.Error("detailed view should not render the summary sections")
	}
}

func TestModel_View_DetailedWithoutStreams(t *testing.T) {
	model := New(Config{TargetRequests: 200})
	model.detailedView = true

	// Falls back to the summary view.
	if view := model.View(); !strings.Contains(view, "Requests") {
		t.Error("expected summary view without stream data")
	}
}

func TestModel_View_Recent(t *testing.T) {
	model := New(Config{})
	model.width = 120
	model.recent = []logging.Entry{
		{Time: time.Now(), Level: slog.LevelWarn, Message: "readout_drop"},
		{Time: time.Now(), Level: slog.LevelError, Message: "pipeline_error"},
	}

	view := model.View()
	for _, want := range []string{"Recent Warnings", "readout_drop", "pipeline_error"} {
		if !strings.Contains(view, want) {
			t.Errorf("View() missing %q", want)
		}
	}
}

// =============================================================================
// Tests: helpers
// =============================================================================

func TestTruncate(t *testing.T) {
	tests := []struct {
		s    string
		n    int
		want string
	}{
		{"short", 10, "short"},
		{"exactly10!", 10, "exactly10!"},
		{"much too long", 8, "much ..."},
		{"tiny", 2, "tiny"},
	}

	for _, tt := range tests {
		t.Run(tt.s, func(t *testing.T) {
			if got := truncate(tt.s, tt.n); got != tt.want {
				t.Errorf("truncate(%q, %d) = %q, want %q", tt.s, tt.n, got, tt.want)
			}
		})
	}
}

func TestRatio(t *testing.T) {
	if got := ratio(1, 0); got != 0 {
		t.Errorf("ratio(1, 0) = %v, want 0", got)
	}
	if got := ratio(1, 4); got != 0.25 {
		t.Errorf("ratio(1, 4) = %v, want 0.25", got)
	}
}
