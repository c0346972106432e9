package session

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title    lipgloss.Style
	header   lipgloss.Style
	label    lipgloss.Style
	detail   lipgloss.Style
	owner    lipgloss.Style
	foreign  lipgloss.Style
	warning  lipgloss.Style
	section  lipgloss.Style
	empty    lipgloss.Style
	path     lipgloss.Style
	position lipgloss.Style
}

func newStyles() styles {
	return styles{
		title:    lipgloss.NewStyle().Bold(true),
		header:   lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		label:    lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		detail:   lipgloss.NewStyle().Foreground(lipgloss.Color("252")),
		owner:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("39")),
		foreign:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		warning:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		section:  lipgloss.NewStyle().MarginTop(1),
		empty:    lipgloss.NewStyle().Faint(true),
		path:     lipgloss.NewStyle().Foreground(lipgloss.Color("159")),
		position: lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
	}
}
