package tui

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/randomizedcoder/go-fakecam/internal/stats"
)

// =============================================================================
// Main View Rendering
// =============================================================================

// renderSummaryView renders the main summary dashboard.
func (m Model) renderSummaryView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderProgress())

	if m.status != nil {
		sections = append(sections, m.renderPipeline())
	}

	// Stats sections (only if we have stats)
	if m.stats != nil {
		sections = append(sections, m.renderFrameStats())
		sections = append(sections, m.renderLatencyStats())

		if m.hasProblems() {
			sections = append(sections, m.renderProblems())
		}
	}

	if len(m.recent) > 0 {
		sections = append(sections, m.renderRecent())
	}

	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// renderDetailedView renders per-stream details.
func (m Model) renderDetailedView() string {
	var sections []string

	sections = append(sections, m.renderHeader())
	sections = append(sections, m.renderStreamTable())
	if len(m.recent) > 0 {
		sections = append(sections, m.renderRecent())
	}
	sections = append(sections, m.renderFooter())

	return lipgloss.JoinVertical(lipgloss.Left, sections...)
}

// =============================================================================
// Header
// =============================================================================

func (m Model) renderHeader() string {
	label := GetHealthLabel(GetHealthStatus(m.DropRate(), m.Failed()))

	header := fmt.Sprintf(
		" go-fakecam │ %s │ %s/%s │ Frames: %s │ Elapsed: %s ",
		label,
		m.facing,
		m.template,
		formatNumber(m.Delivered()),
		formatDuration(m.Elapsed()),
	)

	return headerStyle.Width(m.width).Render(header)
}

// =============================================================================
// Progress Section
// =============================================================================

func (m Model) renderProgress() string {
	var body, status string

	if m.targetRequests > 0 {
		barWidth := m.width - 30
		if barWidth < 20 {
			barWidth = 20
		}
		body = RenderProgressBar(m.Progress(), barWidth)
		if m.Delivered() >= int64(m.targetRequests) {
			status = statusOK.Render("✓ All requests delivered")
		} else {
			status = statusInfo.Render(fmt.Sprintf("Capturing... %d/%d submitted", m.Submitted(), m.targetRequests))
		}
	} else {
		body = RenderKeyValue("Submitted", formatNumber(m.Submitted()))
		status = statusInfo.Render("Capturing until duration or signal")
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		sectionHeaderStyle.Render("Requests"),
		body,
		status,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Pipeline Stages
// =============================================================================

func (m Model) renderPipeline() string {
	s := m.status

	stage := func(label, state string) string {
		return lipgloss.JoinHorizontal(lipgloss.Left,
			labelStyle.Render(label+":"),
			GetStageStyle(state).Render(state),
		)
	}

	rows := []string{
		stage("Configure", s.Configure),
		stage("Readout", s.Readout),
		RenderKeyValue("In progress", fmt.Sprintf("%d", s.InProgress)),
		RenderKeyValue("Preview clients", fmt.Sprintf("%d", s.PreviewClients)),
	}
	if s.SavedFiles > 0 {
		rows = append(rows, RenderKeyValue("Saved files", formatNumber(int64(s.SavedFiles))))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Pipeline")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Frame Statistics
// =============================================================================

func (m Model) renderFrameStats() string {
	s := m.stats

	rate := GetFrameRateStyle(s.FrameRate.Rate10s, m.targetRate).Render(formatRate(s.FrameRate.Rate10s))
	rows := []string{
		renderStatRow("Frames delivered", formatNumber(s.FramesDelivered), rate),
		renderStatRow("With metadata", formatNumber(s.MetadataFrames), formatPercent(ratio(s.MetadataFrames, s.FramesDelivered))),
		renderStatRow("JPEGs", formatNumber(s.JPEGs), formatBytes(s.JPEGBytes)),
	}
	for _, st := range s.Streams {
		rows = append(rows, renderStatRow(streamLabel(st), formatNumber(st.Buffers), formatRate(st.Rate.Rate10s)))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Frames")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func renderStatRow(label, value, detail string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelWideStyle.Render(label+":"),
		valueStyle.Width(12).Render(value),
		mutedStyle.Render(" ("),
		valueStyle.Render(detail),
		mutedStyle.Render(")"),
	)
}

func streamLabel(s stats.StreamSummary) string {
	return fmt.Sprintf("Stream %d %s %dx%d", s.StreamID, s.Format, s.Width, s.Height)
}

func ratio(n, d int64) float64 {
	if d == 0 {
		return 0
	}
	return float64(n) / float64(d)
}

// =============================================================================
// Latency Statistics
// =============================================================================

func (m Model) renderLatencyStats() string {
	l := m.stats.CaptureLatency
	if l.Count == 0 {
		return ""
	}

	rows := []string{
		renderLatencyRow("P50 (median)", l.P50),
		renderLatencyRow("P95", l.P95),
		renderLatencyRow("P99", l.P99),
		renderLatencyRow("Max", l.Max),
	}
	if e := m.stats.EncodeLatency; e.Count > 0 {
		rows = append(rows, renderLatencyRow("JPEG encode P50", e.P50))
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Capture Latency")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

func renderLatencyRow(label string, d time.Duration) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(formatMs(d)),
	)
}

// =============================================================================
// Drops and Errors
// =============================================================================

func (m Model) hasProblems() bool {
	s := m.stats
	if s.ReadoutDrops > 0 || s.Errors > 0 || s.JPEGFailures > 0 {
		return true
	}
	for _, st := range s.Streams {
		if st.EnqueueFailures > 0 {
			return true
		}
	}
	return m.status != nil && m.status.DeliveryDrops > 0
}

func (m Model) renderProblems() string {
	s := m.stats

	dropStyle := GetErrorRateStyle(m.DropRate())
	rows := []string{
		lipgloss.JoinHorizontal(lipgloss.Left,
			labelWideStyle.Render("Readout drops:"),
			dropStyle.Render(fmt.Sprintf("%d (%s)", s.ReadoutDrops, formatPercent(m.DropRate()))),
		),
		RenderKeyValueWide("Pipeline errors", fmt.Sprintf("%d", s.Errors)),
		RenderKeyValueWide("JPEG failures", fmt.Sprintf("%d", s.JPEGFailures)),
	}
	for _, st := range s.Streams {
		if st.EnqueueFailures > 0 {
			rows = append(rows, RenderKeyValueWide(fmt.Sprintf("Stream %d enqueue fails", st.StreamID), fmt.Sprintf("%d", st.EnqueueFailures)))
		}
	}
	if m.status != nil {
		rows = append(rows, RenderKeyValueWide("Consumer drops", fmt.Sprintf("%d", m.status.DeliveryDrops)))
		if m.status.FirstError != "" {
			rows = append(rows, statusError.Render("✗ "+truncate(m.status.FirstError, m.width-8)))
		}
	}

	content := lipgloss.JoinVertical(lipgloss.Left,
		append([]string{sectionHeaderStyle.Render("Drops & Errors")}, rows...)...,
	)

	return boxStyle.Width(m.width - 2).Render(content)
}

// =============================================================================
// Per-Stream Table
// =============================================================================

func (m Model) renderStreamTable() string {
	header := tableHeaderStyle.Render(fmt.Sprintf("%-4s %-8s %-9s %10s %12s %10s %8s",
		"ID", "Format", "Size", "Buffers", "Bytes", "Rate", "Fails"))

	rows := []string{sectionHeaderStyle.Render("Streams"), header}
	for i, st := range m.stats.Streams {
		line := fmt.Sprintf("%-4d %-8s %-9s %10s %12s %10s %8d",
			st.StreamID,
			st.Format,
			fmt.Sprintf("%dx%d", st.Width, st.Height),
			formatNumber(st.Buffers),
			formatBytes(st.Bytes),
			formatRate(st.Rate.Rate10s),
			st.EnqueueFailures,
		)
		style := tableRowEvenStyle
		if i%2 == 1 {
			style = tableRowOddStyle
		}
		rows = append(rows, style.Render(line))
	}

	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// =============================================================================
// Recent Warnings
// =============================================================================

func (m Model) renderRecent() string {
	rows := []string{sectionHeaderStyle.Render("Recent Warnings")}
	for _, e := range m.recent {
		style := statusWarning
		if e.Level >= slog.LevelError {
			style = statusError
		}
		rows = append(rows, style.Render(truncate(e.String(), m.width-6)))
	}
	return boxStyle.Width(m.width - 2).Render(lipgloss.JoinVertical(lipgloss.Left, rows...))
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if n < 4 || len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

// =============================================================================
// Footer
// =============================================================================

func (m Model) renderFooter() string {
	shortcuts := []string{
		"q: quit",
		"d: toggle streams",
		"r: refresh",
	}

	right := "Session: " + m.sessionID
	if m.metricsAddr != "" {
		right = "Metrics: http://" + m.metricsAddr + "/metrics"
	}

	left := dimStyle.Render(strings.Join(shortcuts, " │ "))
	rightRendered := dimStyle.Render(right)

	// Pad to fill width
	padding := m.width - lipgloss.Width(left) - lipgloss.Width(rightRendered) - 2
	if padding < 1 {
		padding = 1
	}

	return footerStyle.Render(
		lipgloss.JoinHorizontal(lipgloss.Left,
			left,
			strings.Repeat(" ", padding),
			rightRendered,
		),
	)
}
