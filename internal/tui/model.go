package tui

import (
	"fmt"
	"sort"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/kvkushal/hls-stream-ops/internal/monitor"
)

// =============================================================================
// Messages
// =============================================================================

// TickMsg is sent periodically to refresh the display.
type TickMsg time.Time

// QuitMsg signals the TUI should exit.
type QuitMsg struct{}

// =============================================================================
// Model
// =============================================================================

// StreamSource provides the stream fleet snapshot the dashboard renders.
// *monitor.Supervisor satisfies it.
type StreamSource interface {
	ListStreams() []monitor.StreamSummary
	Totals() monitor.Totals
}

// Config holds TUI configuration.
type Config struct {
	Source          StreamSource
	HTTPAddr        string
	MetricsAddr     string
	RefreshInterval time.Duration // default 1s
}

// Model represents the dashboard state.
type Model struct {
	source      StreamSource
	httpAddr    string
	metricsAddr string
	refresh     time.Duration

	streams  []monitor.StreamSummary
	totals   monitor.Totals
	selected int

	startTime  time.Time
	lastUpdate time.Time

	width  int
	height int

	quitting bool
}

// New creates a new dashboard model.
func New(cfg Config) Model {
	refresh := cfg.RefreshInterval
	if refresh <= 0 {
		refresh = time.Second
	}
	return Model{
		source:      cfg.Source,
		httpAddr:    cfg.HTTPAddr,
		metricsAddr: cfg.MetricsAddr,
		refresh:     refresh,
		startTime:   time.Now(),
		lastUpdate:  time.Now(),
		width:       100,
		height:      30,
	}
}

// =============================================================================
// Bubble Tea Interface
// =============================================================================

// Init initializes the model.
func (m Model) Init() tea.Cmd {
	return m.tickCmd()
}

// Update handles messages.
func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			m.quitting = true
			return m, tea.Quit
		case "up", "k":
			if m.selected > 0 {
				m.selected--
			}
			return m, nil
		case "down", "j":
			if m.selected < len(m.streams)-1 {
				m.selected++
			}
			return m, nil
		case "r":
			// Force refresh
			return m, m.tickCmd()
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		return m, nil

	case TickMsg:
		m.refreshSnapshot()
		return m, m.tickCmd()

	case QuitMsg:
		m.quitting = true
		return m, tea.Quit
	}

	return m, nil
}

// refreshSnapshot pulls the current fleet state from the source. Streams
// are sorted by ID for a stable row order across refreshes.
func (m *Model) refreshSnapshot() {
	if m.source == nil {
		return
	}
	streams := m.source.ListStreams()
	sort.Slice(streams, func(i, j int) bool { return streams[i].ID < streams[j].ID })
	m.streams = streams
	m.totals = m.source.Totals()

	if m.selected >= len(m.streams) {
		m.selected = len(m.streams) - 1
	}
	if m.selected < 0 {
		m.selected = 0
	}
	m.lastUpdate = time.Now()
}

// tickCmd returns a command that sends a tick after the refresh interval.
func (m Model) tickCmd() tea.Cmd {
	return tea.Tick(m.refresh, func(t time.Time) tea.Msg {
		return TickMsg(t)
	})
}

// =============================================================================
// Accessors
// =============================================================================

// Elapsed returns the time since the dashboard started.
func (m Model) Elapsed() time.Duration {
	return time.Since(m.startTime)
}

// Selected returns the currently selected stream, or nil when the fleet
// is empty.
func (m Model) Selected() *monitor.StreamSummary {
	if len(m.streams) == 0 {
		return nil
	}
	return &m.streams[m.selected]
}

// SendQuit sends a quit message to a running program.
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

// formatMs formats a millisecond value for the table.
func formatMs(ms float64) string {
	if ms <= 0 {
		return "-"
	}
	if ms < 1 {
		return fmt.Sprintf("%.1fms", ms)
	}
	return fmt.Sprintf("%.0fms", ms)
}

// formatRatio formats a download speed ratio.
func formatRatio(ratio float64) string {
	if ratio <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.2fx", ratio)
}

// formatAge formats how long ago a timestamp was, coarsely.
func formatAge(t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := time.Since(t)
	switch {
	case d < time.Second:
		return "now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	default:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	}
}

// truncate shortens a string to at most n runes, with an ellipsis.
func truncate(s string, n int) string {
	if n <= 1 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
