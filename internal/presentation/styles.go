package presentation

import "github.com/charmbracelet/lipgloss"

var (
	nameStyle    = lipgloss.NewStyle().Bold(true)
	typeStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#3A7BD5", Dark: "#54A0FF"})
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#666666", Dark: "#696969"})
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#43BF6D", Dark: "#73F59F"})
	warningStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#C28A00", Dark: "#FECA57"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#CC3333", Dark: "#FF8787"})
	headerStyle  = lipgloss.NewStyle().Bold(true).Underline(true)
)

// kindStyle picks the style for an event kind label.
func kindStyle(kind string) lipgloss.Style {
	switch kind {
	case "registered":
		return successStyle
	case "unregistered":
		return mutedStyle
	case "warning":
		return warningStyle
	case "error":
		return errorStyle
	default:
		return lipgloss.NewStyle()
	}
}
