package tui

import (
	"fmt"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/randomizedcoder/go-fakecam/internal/logging"
	"github.com/randomizedcoder/go-fakecam/internal/stats"
)

// recentLines is how many retained log records the dashboard shows.
const recentLines = 5

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to update the display.
type TickMsg time.Time

// StatsMsg carries updated statistics.
type StatsMsg struct {
	Stats  *stats.AggregatedStats
	Status *PipelineStatus
}

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// PipelineStatus is a point-in-time view of the capture pipeline.
type PipelineStatus struct {
	Configure      string // stage state name
	Readout        string
	InProgress     int
	ReadoutDrops   uint64
	DeliveryDrops  int64
	PreviewClients int
	SavedFiles     uint64
	FirstError     string
}

// Model represents the TUI state.
type Model struct {
	// Configuration
	sessionID      string
	facing         string
	template       string
	targetRequests int
	targetRate     float64
	metricsAddr    string

	// Current state
	stats        *stats.AggregatedStats
	status       *PipelineStatus
	recent       []logging.Entry
	startTime    time.Time
	lastUpdate   time.Time
	detailedView bool

	// Display options
	width  int
	height int

	// Sources (for fetching updates)
	statsSource  StatsSource
	statusSource StatusSource
	recentSource *logging.Recent

	// Quit flag
	quitting bool
}

// StatsSource provides aggregated statistics.
type StatsSource interface {
	GetAggregatedStats() *stats.AggregatedStats
}

// StatusSource provides the pipeline status.
type StatusSource interface {
	GetPipelineStatus() PipelineStatus
}

// Config holds TUI configuration.
type Config struct {
	SessionID      string
	Facing         string
	Template       string
	TargetRequests int     // 0 = unbounded
	TargetRate     float64 // requests per second
	MetricsAddr    string
	StatsSource    StatsSource
	StatusSource   StatusSource
	Recent         *logging.Recent // optional
}

// New creates a new TUI model.
func New(cfg Config) Model {
	return Model{
		sessionID:      cfg.SessionID,
		facing:         cfg.Facing,
		template:       cfg.Template,
		targetRequests: cfg.TargetRequests,
		targetRate:     cfg.TargetRate,
		metricsAddr:    cfg.MetricsAddr,
		statsSource:    cfg.StatsSource,
		statusSource:   cfg.StatusSource,
		recentSource:   cfg.Recent,
		startTime:      time.Now(),
		lastUpdate:     time.Now(),
		width:          80,
		height:         24,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	// tea.WithAltScreen() is passed when creating the program.
	return tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "d":
			m.detailedView = !m.detailedView
			return m, nil
		case "r":
			// Force refresh
			return m, tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m = m.refresh()
		return m, tickCmd()

	case StatsMsg:
		m.stats = msg.Stats
		if msg.Status != nil {
			m.status = msg.Status
		}
		m.lastUpdate = time.Now()
		return m, nil

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// refresh pulls the latest state from the configured sources.
func (m Model) refresh() Model {
	if m.statsSource != nil {
		m.stats = m.statsSource.GetAggregatedStats()
	}
	if m.statusSource != nil {
		s := m.statusSource.GetPipelineStatus()
		m.status = &s
	}
	if m.recentSource != nil {
		m.recent = m.recentSource.Entries(recentLines)
	}
	m.lastUpdate = time.Now()
	return m
}

// View renders the TUI.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	if m.detailedView && m.stats != nil && len(m.stats.Streams) > 0 {
		return m.renderDetailedView()
	}
	return m.renderSummaryView()
}

// =============================================================================
// Commands
// =============================================================================

// tickCmd returns a command that sends a tick after 500ms.
func tickCmd() tea.Cmd {
	return tea.Tick(500*time.Millisecond, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the session started.
func (m Model) Elapsed() time.Duration {
	if m.stats != nil && m.stats.Elapsed > 0 {
		return m.stats.Elapsed
	}
	return time.Since(m.startTime)
}

// Submitted returns the number of requests submitted so far.
func (m Model) Submitted() int64 {
	if m.stats == nil {
		return 0
	}
	return m.stats.RequestsSubmitted
}

// Delivered returns the number of frames delivered so far.
func (m Model) Delivered() int64 {
	if m.stats == nil {
		return 0
	}
	return m.stats.FramesDelivered
}

// TargetRequests returns the request target (0 = unbounded).
func (m Model) TargetRequests() int {
	return m.targetRequests
}

// Progress returns delivered frames over the request target (0.0 to 1.0),
// or 0 when the target is unbounded.
func (m Model) Progress() float64 {
	if m.targetRequests <= 0 {
		return 0
	}
	p := float64(m.Delivered()) / float64(m.targetRequests)
	if p > 1 {
		p = 1
	}
	return p
}

// DropRate returns readout drops as a fraction of submitted requests.
func (m Model) DropRate() float64 {
	if m.stats == nil || m.stats.RequestsSubmitted == 0 {
		return 0
	}
	return float64(m.stats.ReadoutDrops) / float64(m.stats.RequestsSubmitted)
}

// Failed reports whether the pipeline recorded an unrecoverable error.
func (m Model) Failed() bool {
	return m.status != nil && m.status.FirstError != ""
}

// =============================================================================
// Helper for external use
// =============================================================================

// SendStats sends a stats update to the TUI.
func SendStats(p *tea.Program, stats *stats.AggregatedStats, status *PipelineStatus) {
	if p != nil {
		p.Send(StatsMsg{Stats: stats, Status: status})
	}
}

// SendQuit sends a quit message to the TUI.
func SendQuit(p *tea.Program) {
	if p != nil {
		p.Send(QuitMsg{})
	}
}

// =============================================================================
// Formatting Helpers (used by view.go)
// =============================================================================

// formatDuration formats a duration as HH:MM:SS.
func formatDuration(d time.Duration) string {
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

// formatNumber formats a number with K/M suffixes.
func formatNumber(n int64) string {
	if n >= 1_000_000 {
		return fmt.Sprintf("%.1fM", float64(n)/1_000_000)
	}
	if n >= 1_000 {
		return fmt.Sprintf("%.1fK", float64(n)/1_000)
	}
	return fmt.Sprintf("%d", n)
}

// formatBytes formats bytes with KB/MB/GB suffixes.
func formatBytes(n int64) string {
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

// formatMs formats a duration as milliseconds.
func formatMs(d time.Duration) string {
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return fmt.Sprintf("%d µs", d.Microseconds())
	}
	return fmt.Sprintf("%d ms", ms)
}

// formatRate formats a rate with appropriate precision.
func formatRate(rate float64) string {
	if rate >= 1000 {
		return fmt.Sprintf("%.1fK/s", rate/1000)
	}
	if rate >= 1 {
		return fmt.Sprintf("%.1f/s", rate)
	}
	return fmt.Sprintf("%.2f/s", rate)
}

// formatPercent formats a percentage.
func formatPercent(value float64) string {
	return fmt.Sprintf("%.1f%%", value*100)
}
