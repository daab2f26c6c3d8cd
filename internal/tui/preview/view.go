package preview

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/mattjoyce/tandem/internal/events"
)

const (
	headerHeight = 5
	eventLines   = 4
)

func (m Model) View() string {
	if m.width == 0 {
		return "Loading preview..."
	}

	inner := m.width - 4
	parts := []string{
		m.renderHeader(inner),
		m.renderNodes(inner),
		m.renderPanes(inner),
		m.renderEvents(inner),
	}

	help := lipgloss.NewStyle().
		Foreground(lipgloss.Color("241")).
		Render(" [q] Quit • [tab] Next pane • [↑/↓] Scroll")
	parts = append(parts, help)

	return lipgloss.JoinVertical(lipgloss.Left, parts...)
}

func (m Model) renderHeader(width int) string {
	g := m.ctrl.Graph()

	updated := "never"
	if !m.activity.Changed().IsZero() {
		updated = m.activity.Changed().Format("15:04:05")
	}

	titleLine := fmt.Sprintf(" TANDEM PREVIEW %s", m.theme.Highlight.Render(filepath.Base(m.path)))
	statsLine := fmt.Sprintf(" %s session  Nodes: %d  Edges: %d  Changed: %s %s",
		m.ctrl.Flavor(), g.Len(), len(g.Edges()), updated, m.activity.Render(m.theme))

	content := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Header.Render(titleLine),
		statsLine,
		" "+m.status(),
	)
	return m.theme.Border.Width(width).Render(content)
}

func (m Model) renderNodes(width int) string {
	border := m.theme.Border
	if m.active == len(m.panes) {
		border = m.theme.ActiveBorder
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("NODES"),
		m.nodes.View(),
	)
	return border.Width(width).Render(content)
}

func (m Model) renderPanes(width int) string {
	paneWidth := width / len(m.panes)
	cols := make([]string, 0, len(m.panes))
	for i, p := range m.panes {
		border := m.theme.Border
		if i == m.active {
			border = m.theme.ActiveBorder
		}
		label := title(p.rep)
		if p.rep == m.editable {
			label += " (source)"
		}
		content := lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render(label),
			p.view.View(),
		)
		cols = append(cols, border.Width(paneWidth-2).Render(content))
	}
	return lipgloss.JoinHorizontal(lipgloss.Top, cols...)
}

func (m Model) renderEvents(width int) string {
	if len(m.eventLog) == 0 {
		content := lipgloss.JoinVertical(lipgloss.Left,
			m.theme.Title.Render("EVENTS"),
			m.theme.Dim.Render("  Waiting for changes..."),
		)
		return m.theme.Border.Width(width).Render(content)
	}

	var lines []string
	for i, e := range m.eventLog {
		if i >= eventLines {
			break
		}
		lines = append(lines, formatEvent(e, m.theme))
	}
	content := lipgloss.JoinVertical(lipgloss.Left,
		m.theme.Title.Render("EVENTS"),
		lipgloss.NewStyle().Padding(0, 1).Render(strings.Join(lines, "\n")),
	)
	return m.theme.Border.Width(width).Render(content)
}

func formatEvent(e events.Event, theme Theme) string {
	ts := theme.Dim.Render(e.At.In(time.Local).Format("15:04:05"))

	var style lipgloss.Style
	switch e.Type {
	case events.ParseWarning, events.LinearizationTruncated:
		style = theme.Warning
	case events.GraphUpdated:
		style = theme.OK
	default:
		style = theme.Dim
	}
	return fmt.Sprintf("%s %s %s", ts, style.Render(fmt.Sprintf("%-24s", e.Type)), eventDesc(e))
}

func eventDesc(e events.Event) string {
	data := make(map[string]any)
	_ = json.Unmarshal(e.Data, &data)

	var parts []string
	if rep, ok := data["representation"].(string); ok {
		parts = append(parts, rep)
	}
	if nodes, ok := data["nodes"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d nodes", int(nodes)))
	}
	if edges, ok := data["edges"].(float64); ok {
		parts = append(parts, fmt.Sprintf("%d edges", int(edges)))
	}
	if stop, ok := data["stop"].(string); ok {
		parts = append(parts, "stopped at "+stop)
	}
	if msg, ok := data["message"].(string); ok {
		parts = append(parts, msg)
	}
	return strings.Join(parts, " ")
}
