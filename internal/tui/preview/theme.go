package preview

import "github.com/charmbracelet/lipgloss"

// Theme keeps every color of the preview in one place.
type Theme struct {
	OK      lipgloss.Style
	Warning lipgloss.Style
	Failed  lipgloss.Style

	Border       lipgloss.Style
	ActiveBorder lipgloss.Style
	Title        lipgloss.Style
	Header       lipgloss.Style
	Dim          lipgloss.Style
	Highlight    lipgloss.Style

	DotActive   lipgloss.Style
	DotInactive lipgloss.Style
}

func NewDefaultTheme() Theme {
	purple := lipgloss.Color("#874BFD")
	amber := lipgloss.Color("#E5C07B")

	return Theme{
		OK:      lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Warning: lipgloss.NewStyle().Foreground(amber),
		Failed:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#444444")),
		ActiveBorder: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(purple),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")).
			Padding(0, 1),
		Header: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#61AFEF")),
		Dim:       lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
		Highlight: lipgloss.NewStyle().Foreground(amber),

		DotActive:   lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		DotInactive: lipgloss.NewStyle().Foreground(lipgloss.Color("#444444")),
	}
}
