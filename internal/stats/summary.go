// Package stats provides per-stream and aggregated statistics for a capture
// session.
//
// This file implements the exit summary formatter which displays the session
// statistics at program exit.
package stats

import (
	"fmt"
	"strings"
	"time"
)

// SummaryConfig holds run information that is not part of AggregatedStats.
type SummaryConfig struct {
	// SessionID identifies the run in logs and metrics
	SessionID string

	// Facing and Template describe what was captured
	Facing   string
	Template string

	// TargetRequests is the number of requests asked for (0 = unbounded)
	TargetRequests int

	// Duration is the total run duration
	Duration time.Duration

	// MetricsAddr is the Prometheus metrics endpoint address
	MetricsAddr string

	// OutputDir, SavedFiles and SaveFailures describe the frame saver
	OutputDir    string
	SavedFiles   uint64
	SaveFailures uint64

	// DeliveryDrops counts buffers and result frames lost to slow consumers
	DeliveryDrops int64

	// PreviewSent counts JPEGs written to preview clients
	PreviewSent uint64

	// FirstError is the first unrecoverable pipeline error, if any
	FirstError error
}

const (
	summaryRule  = "═══════════════════════════════════════════════════════════════════════════════\n"
	sectionRule  = "───────────────────────────────────────────────────────────────────────────────\n"
	summaryTitle = "                           go-fakecam Exit Summary\n"
)

func writeSection(b *strings.Builder, title string) {
	b.WriteString(sectionRule)
	fmt.Fprintf(b, "%s\n", centered(title, 79))
	b.WriteString(sectionRule)
	b.WriteString("\n")
}

func centered(s string, width int) string {
	pad := (width - len([]rune(s))) / 2
	if pad <= 0 {
		return s
	}
	return strings.Repeat(" ", pad) + s
}

// FormatExitSummary formats session stats for display at program exit.
//
// The summary includes:
// - Pipeline failure banner (if an unrecoverable error occurred)
// - Run information
// - Per-stream buffer counts and frame rates
// - Capture latency percentiles
// - JPEG compression statistics
// - Drops and errors
func FormatExitSummary(stats *AggregatedStats, cfg SummaryConfig) string {
	if stats == nil {
		return formatBasicSummary(cfg)
	}

	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(summaryRule)
	b.WriteString(summaryTitle)
	b.WriteString(summaryRule)
	b.WriteString("\n")

	if cfg.FirstError != nil {
		b.WriteString("⚠️  PIPELINE FAILED: an unrecoverable error stopped a pipeline stage\n")
		fmt.Fprintf(&b, "    %v\n\n", cfg.FirstError)
	}

	// Run info
	if cfg.SessionID != "" {
		fmt.Fprintf(&b, "Session:                %s\n", cfg.SessionID)
	}
	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	if cfg.Facing != "" {
		fmt.Fprintf(&b, "Camera:                 %s (%s template)\n", cfg.Facing, cfg.Template)
	}
	if cfg.TargetRequests > 0 {
		fmt.Fprintf(&b, "Target Requests:        %d\n", cfg.TargetRequests)
	}
	fmt.Fprintf(&b, "Requests Submitted:     %s\n", FormatNumber(stats.RequestsSubmitted))
	fmt.Fprintf(&b, "Frames Delivered:       %s  (%s)\n",
		FormatNumber(stats.FramesDelivered), FormatRate(stats.FrameRate.Overall))
	if stats.MetadataFrames > 0 {
		fmt.Fprintf(&b, "Result Metadata:        %s\n", FormatNumber(stats.MetadataFrames))
	}
	b.WriteString("\n")

	// Streams
	if len(stats.Streams) > 0 {
		writeSection(&b, "Streams")
		fmt.Fprintf(&b, "  %-6s %-8s %-9s %10s %12s %10s\n", "Stream", "Format", "Size", "Buffers", "Bytes", "Rate")
		b.WriteString("  " + strings.Repeat("─", 60) + "\n")
		for _, s := range stats.Streams {
			fmt.Fprintf(&b, "  %-6d %-8s %-9s %10s %12s %10s\n",
				s.StreamID,
				s.Format,
				fmt.Sprintf("%dx%d", s.Width, s.Height),
				FormatNumber(s.Buffers),
				FormatBytes(s.Bytes),
				FormatRate(s.Rate.Overall),
			)
		}
		b.WriteString("\n")
	}

	// Capture latency
	if stats.CaptureLatency.Count > 0 {
		writeSection(&b, "Capture Latency")
		writeLatency(&b, stats.CaptureLatency)
	}

	// Compression
	if stats.JPEGs > 0 || stats.JPEGFailures > 0 {
		writeSection(&b, "JPEG Compression")
		fmt.Fprintf(&b, "  Images:               %s\n", FormatNumber(stats.JPEGs))
		fmt.Fprintf(&b, "  Total Size:           %s\n", FormatBytes(stats.JPEGBytes))
		if stats.JPEGs > 0 {
			fmt.Fprintf(&b, "  Average Size:         %s\n", FormatBytes(stats.JPEGBytes/stats.JPEGs))
		}
		if stats.EncodeLatency.Count > 0 {
			fmt.Fprintf(&b, "  Encode P50/P99:       %s / %s\n",
				FormatMs(stats.EncodeLatency.P50), FormatMs(stats.EncodeLatency.P99))
		}
		if stats.JPEGFailures > 0 {
			fmt.Fprintf(&b, "  Failures:             %d\n", stats.JPEGFailures)
		}
		b.WriteString("\n")
	}

	// Drops and errors
	var failures int64
	for _, s := range stats.Streams {
		failures += s.EnqueueFailures
	}
	if stats.ReadoutDrops > 0 || stats.Errors > 0 || failures > 0 || stats.InFlight > 0 {
		writeSection(&b, "Drops and Errors")
		fmt.Fprintf(&b, "  Readout Drops:        %d\n", stats.ReadoutDrops)
		fmt.Fprintf(&b, "  Enqueue Failures:     %d\n", failures)
		fmt.Fprintf(&b, "  Pipeline Errors:      %d\n", stats.Errors)
		if stats.InFlight > 0 {
			fmt.Fprintf(&b, "  Never Delivered:      %d\n", stats.InFlight)
		}
		b.WriteString("\n")
	}

	if footnotes := renderFootnotes(cfg); footnotes != "" {
		b.WriteString(footnotes)
	}

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(summaryRule)

	return b.String()
}

func writeLatency(b *strings.Builder, l LatencySnapshot) {
	fmt.Fprintf(b, "  Samples:              %s\n", FormatNumber(l.Count))
	fmt.Fprintf(b, "  Min / Mean / Max:     %s / %s / %s\n", FormatMs(l.Min), FormatMs(l.Mean), FormatMs(l.Max))
	fmt.Fprintf(b, "  P50 (median):         %s\n", FormatMs(l.P50))
	fmt.Fprintf(b, "  P95:                  %s\n", FormatMs(l.P95))
	fmt.Fprintf(b, "  P99:                  %s\n", FormatMs(l.P99))
	b.WriteString("\n")
}

// formatBasicSummary formats a basic summary when stats are not available.
func formatBasicSummary(cfg SummaryConfig) string {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(summaryRule)
	b.WriteString(summaryTitle)
	b.WriteString(summaryRule)
	b.WriteString("\n")

	fmt.Fprintf(&b, "Run Duration:           %s\n", FormatDuration(cfg.Duration))
	if cfg.TargetRequests > 0 {
		fmt.Fprintf(&b, "Target Requests:        %d\n", cfg.TargetRequests)
	}
	b.WriteString("\n(No capture statistics were collected)\n\n")

	if cfg.MetricsAddr != "" {
		fmt.Fprintf(&b, "Metrics endpoint was: http://%s/metrics\n", cfg.MetricsAddr)
	}

	b.WriteString(summaryRule)

	return b.String()
}

// renderFootnotes adds output details that don't belong in main metrics.
func renderFootnotes(cfg SummaryConfig) string {
	var footnotes []string

	if cfg.OutputDir != "" {
		footnotes = append(footnotes, fmt.Sprintf(
			"[1] Saved %d captures to %s (%d failed)", cfg.SavedFiles, cfg.OutputDir, cfg.SaveFailures))
	}
	if cfg.PreviewSent > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[2] Preview frames sent: %d", cfg.PreviewSent))
	}
	if cfg.DeliveryDrops > 0 {
		footnotes = append(footnotes, fmt.Sprintf(
			"[3] Deliveries dropped by slow consumers: %d (pipeline was not blocked)", cfg.DeliveryDrops))
	}

	if len(footnotes) == 0 {
		return ""
	}

	var b strings.Builder
	writeSection(&b, "Footnotes")
	for _, fn := range footnotes {
		fmt.Fprintf(&b, "  %s\n", fn)
	}
	b.WriteString("\n")
	return b.String()
}

// =============================================================================
// Formatting Helper Functions (exported for reuse)
// =============================================================================

// FormatDuration formats a duration as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// FormatNumber formats a number with K/M suffixes for readability.
func FormatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// FormatBytes formats bytes with KB/MB/GB suffixes.
func FormatBytes(n int64) string {
	if n >= 1_000_000_000 {
		return fmt.Sprintf("%.2f GB", float64(n)/1_000_000_000)
	}
	if n >= 1_000_000 {
		return fmt.Sprintf("%.2f MB", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.2f KB", float64(n)/1_000)
	}
	return fmt.Sprintf("%d B", n)
}

// FormatMs formats a duration as milliseconds.
func FormatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		// Sub-millisecond, show microseconds
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// FormatRate formats a rate with appropriate precision.
func FormatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}
