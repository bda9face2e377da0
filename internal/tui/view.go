package tui

import (
	"fmt"
	"strings"

	"github.com/kvkushal/hls-stream-ops/internal/health"
	"github.com/kvkushal/hls-stream-ops/internal/monitor"
)

// View renders the dashboard.
func (m Model) View() string {
	if m.quitting {
		return ""
	}

	var b strings.Builder

	b.WriteString(m.renderHeader())
	b.WriteString("\n")
	b.WriteString(m.renderStreamTable())
	b.WriteString("\n")

	if sel := m.Selected(); sel != nil {
		b.WriteString(m.renderDetailPanel(*sel))
		b.WriteString("\n")
	}

	b.WriteString(m.renderTotals())
	b.WriteString("\n")
	b.WriteString(m.renderFooter())

	return b.String()
}

// renderHeader renders the title bar with the fleet health summary.
func (m Model) renderHeader() string {
	var green, yellow, red int
	for _, s := range m.streams {
		switch s.State {
		case health.StateRed:
			red++
		case health.StateYellow:
			yellow++
		default:
			green++
		}
	}

	title := headerStyle.Render(" hls-stream-ops ")
	summary := fmt.Sprintf("  %s  %s  %s   up %s",
		healthGreenStyle.Render(fmt.Sprintf("%d green", green)),
		healthYellowStyle.Render(fmt.Sprintf("%d yellow", yellow)),
		healthRedStyle.Render(fmt.Sprintf("%d red", red)),
		formatDuration(m.Elapsed()),
	)

	return title + summary
}

// renderStreamTable renders one row per monitored stream.
func (m Model) renderStreamTable() string {
	if len(m.streams) == 0 {
		return dimStyle.Render("  no streams configured (POST /api/streams to add one)")
	}

	var b strings.Builder
	b.WriteString(tableHeaderStyle.Render(fmt.Sprintf(
		"  %-12s %-20s %-8s %8s %8s %6s %4s",
		"ID", "NAME", "HEALTH", "TTFB", "RATIO", "ERR/2m", "INC",
	)))
	b.WriteString("\n")

	for i, s := range m.streams {
		b.WriteString(m.renderStreamRow(s, i == m.selected))
		b.WriteString("\n")
	}
	return b.String()
}

func (m Model) renderStreamRow(s monitor.StreamSummary, selected bool) string {
	incident := " "
	if s.ActiveIncident {
		incident = healthRedStyle.Render("!")
	}

	cursor := "  "
	if selected {
		cursor = subtitleStyle.Render("> ")
	}

	ttfb := TTFBStyle(s.AvgTTFBMs).Render(fmt.Sprintf("%8s", formatMs(s.AvgTTFBMs)))
	ratio := RatioStyle(s.AvgDownloadRatio).Render(fmt.Sprintf("%8s", formatRatio(s.AvgDownloadRatio)))

	errCount := fmt.Sprintf("%6d", s.ErrorCount)
	if s.ErrorCount > 0 {
		errCount = healthYellowStyle.Render(errCount)
	}

	name := baseStyle.Render(fmt.Sprintf("%-20s", truncate(s.Name, 20)))
	id := fmt.Sprintf("%-12s", truncate(s.ID, 12))
	if selected {
		id = selectedRowStyle.Render(id)
	} else {
		id = mutedStyle.Render(id)
	}

	return fmt.Sprintf("%s%s %s %s %s %s %s %s",
		cursor, id, name, HealthLabel(s.State), ttfb, ratio, errCount, incident)
}

// renderDetailPanel renders the reason and URL for the selected stream.
func (m Model) renderDetailPanel(s monitor.StreamSummary) string {
	lines := []string{
		subtitleStyle.Render(s.Name) + dimStyle.Render("  ("+s.ID+")"),
		RenderKeyValue("URL", truncate(s.URL, 70)),
		RenderKeyValue("Status", s.Reason),
		RenderKeyValue("Updated", formatAge(s.LastUpdated)),
	}
	if s.ActiveIncident {
		lines = append(lines, healthRedStyle.Render("  ⚠ active incident"))
	}
	return boxStyle.Render(strings.Join(lines, "\n"))
}

// renderTotals renders the service-wide counters.
func (m Model) renderTotals() string {
	t := m.totals
	return dimStyle.Render(fmt.Sprintf(
		"  segments %d (%d failed)   manifest errors %d   incidents %d opened / %d resolved",
		t.SegmentsProcessed, t.SegmentErrors, t.ManifestErrors,
		t.IncidentsOpened, t.IncidentsResolved,
	))
}

// renderFooter renders key hints and listener addresses.
func (m Model) renderFooter() string {
	hints := "↑/↓ select   r refresh   q quit"
	addrs := ""
	if m.httpAddr != "" {
		addrs = fmt.Sprintf("   api %s", m.httpAddr)
	}
	if m.metricsAddr != "" {
		addrs += fmt.Sprintf("   metrics %s", m.metricsAddr)
	}
	return footerStyle.Render("  " + hints + addrs)
}
