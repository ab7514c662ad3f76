package tui

import "github.com/charmbracelet/lipgloss"

var (
	// Colors.
	colorPrimary = lipgloss.Color("#7C3AED") // Purple
	colorBorder  = lipgloss.Color("#374151") // Border gray

	// Styles.
	boxStyle = lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(colorBorder).
			Padding(0, 1)

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("#6B7280"))
)
