package main

import "github.com/charmbracelet/lipgloss"

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39"))
	okStyle      = lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	failStyle    = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("196"))
)

// heading renders a section title.
func heading(s string) string {
	if noColor {
		return s
	}
	return headingStyle.Render(s)
}

// status renders a check result.
func status(ok bool, s string) string {
	mark := "✓ "
	style := okStyle
	if !ok {
		mark = "✗ "
		style = failStyle
	}
	if noColor {
		return mark + s
	}
	return style.Render(mark + s)
}
