// Package tui provides a live terminal dashboard for stream health.
//
// The TUI uses Bubble Tea for the application framework and Lipgloss for
// styling. It displays the monitored stream fleet with per-stream health,
// windowed metrics, and active incident flags, plus service-wide totals.
package tui

import (
	"fmt"

	"github.com/charmbracelet/lipgloss"

	"github.com/kvkushal/hls-stream-ops/internal/health"
)

// =============================================================================
// Color Palette
// =============================================================================

// Colors based on a modern dark theme
var (
	colorPrimary   = lipgloss.Color("#7C3AED") // Purple
	colorSecondary = lipgloss.Color("#06B6D4") // Cyan

	colorGreen  = lipgloss.Color("#10B981")
	colorYellow = lipgloss.Color("#F59E0B")
	colorRed    = lipgloss.Color("#EF4444")

	colorText      = lipgloss.Color("#E5E7EB") // Light gray
	colorTextMuted = lipgloss.Color("#9CA3AF") // Medium gray
	colorTextDim   = lipgloss.Color("#6B7280") // Dark gray
	colorBorder    = lipgloss.Color("#374151") // Border gray
)

// =============================================================================
// Base Styles
// =============================================================================

var (
	baseStyle = lipgloss.NewStyle().
			Foreground(colorText)

	mutedStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted)

	dimStyle = lipgloss.NewStyle().
			Foreground(colorTextDim)

	titleStyle = lipgloss.NewStyle().
			Foreground(colorPrimary).
			Bold(true)

	subtitleStyle = lipgloss.NewStyle().
			Foreground(colorSecondary).
			Bold(true)
)

// =============================================================================
// Health Styles
// =============================================================================

var (
	healthGreenStyle = lipgloss.NewStyle().
				Foreground(colorGreen).
				Bold(true)

	healthYellowStyle = lipgloss.NewStyle().
				Foreground(colorYellow).
				Bold(true)

	healthRedStyle = lipgloss.NewStyle().
			Foreground(colorRed).
			Bold(true)
)

// HealthStyle returns the style for a health state.
func HealthStyle(s health.State) lipgloss.Style {
	switch s {
	case health.StateRed:
		return healthRedStyle
	case health.StateYellow:
		return healthYellowStyle
	default:
		return healthGreenStyle
	}
}

// HealthLabel returns a styled, fixed-width health indicator such as
// "● GREEN".
func HealthLabel(s health.State) string {
	return HealthStyle(s).Render(fmt.Sprintf("● %-6s", s.Upper()))
}

// =============================================================================
// Layout Styles
// =============================================================================

var (
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	headerStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Background(colorPrimary).
			Bold(true).
			Padding(0, 1).
			MarginBottom(1)

	footerStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			MarginTop(1)

	selectedRowStyle = lipgloss.NewStyle().
				Foreground(colorText).
				Background(colorBorder).
				Bold(true)

	tableHeaderStyle = lipgloss.NewStyle().
				Foreground(colorSecondary).
				Bold(true)

	labelStyle = lipgloss.NewStyle().
			Foreground(colorTextMuted).
			Width(14)

	valueStyle = lipgloss.NewStyle().
			Foreground(colorText).
			Bold(true)
)

// =============================================================================
// Value Styles
// =============================================================================

// TTFBStyle returns a style for a time-to-first-byte value, colored by the
// health thresholds (warning above 500ms, critical above 1000ms).
func TTFBStyle(ms float64) lipgloss.Style {
	switch {
	case ms > 1000:
		return healthRedStyle
	case ms > 500:
		return healthYellowStyle
	default:
		return healthGreenStyle
	}
}

// RatioStyle returns a style for a download ratio, colored by the health
// thresholds (warning below 0.8, critical below 0.5).
func RatioStyle(ratio float64) lipgloss.Style {
	switch {
	case ratio < 0.5:
		return healthRedStyle
	case ratio < 0.8:
		return healthYellowStyle
	default:
		return healthGreenStyle
	}
}

// =============================================================================
// Helper Functions
// =============================================================================

// RenderKeyValue renders a label-value pair.
func RenderKeyValue(label string, value string) string {
	return lipgloss.JoinHorizontal(lipgloss.Left,
		labelStyle.Render(label+":"),
		valueStyle.Render(value),
	)
}
