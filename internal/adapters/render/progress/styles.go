package progress

import "github.com/charmbracelet/lipgloss"

type styles struct {
	title     lipgloss.Style
	header    lipgloss.Style
	role      lipgloss.Style
	pending   lipgloss.Style
	running   lipgloss.Style
	succeeded lipgloss.Style
	failed    lipgloss.Style
	detail    lipgloss.Style
	thought   lipgloss.Style
	warning   lipgloss.Style
	section   lipgloss.Style
	empty     lipgloss.Style
	key       lipgloss.Style
	tableHead lipgloss.Style
	tableCell lipgloss.Style
	tableOdd  lipgloss.Style
	border    lipgloss.Style
}

func newStyles() styles {
	cell := lipgloss.NewStyle().Padding(0, 1)

	return styles{
		title:     lipgloss.NewStyle().Bold(true),
		header:    lipgloss.NewStyle().Foreground(lipgloss.Color("241")),
		role:      lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("252")),
		pending:   lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		running:   lipgloss.NewStyle().Foreground(lipgloss.Color("69")),
		succeeded: lipgloss.NewStyle().Foreground(lipgloss.Color("42")),
		failed:    lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("203")),
		detail:    lipgloss.NewStyle().Foreground(lipgloss.Color("250")),
		thought:   lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245")),
		warning:   lipgloss.NewStyle().Foreground(lipgloss.Color("214")),
		section:   lipgloss.NewStyle().MarginTop(1),
		empty:     lipgloss.NewStyle().Faint(true),
		key:       lipgloss.NewStyle().Foreground(lipgloss.Color("245")),
		tableHead: cell.Bold(true).Foreground(lipgloss.Color("99")),
		tableCell: cell,
		tableOdd:  cell.Foreground(lipgloss.Color("245")),
		border:    lipgloss.NewStyle().Foreground(lipgloss.Color("238")),
	}
}
