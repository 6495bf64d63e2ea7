// Package report holds the reporters a run records into: Summary renders the
// end-of-run table and Journal persists every result to the run journal.
package report

import "github.com/charmbracelet/lipgloss"

// Theme keeps all summary styling in one place.
type Theme struct {
	Pass  lipgloss.Style
	Fail  lipgloss.Style
	Error lipgloss.Style
	Skip  lipgloss.Style

	Border lipgloss.Style
	Title  lipgloss.Style
	Dim    lipgloss.Style
}

func NewDefaultTheme() Theme {
	return Theme{
		Pass:  lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF00")),
		Fail:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FF0000")),
		Error: lipgloss.NewStyle().Foreground(lipgloss.Color("#FF5F87")).Bold(true),
		Skip:  lipgloss.NewStyle().Foreground(lipgloss.Color("#FFFF00")),

		Border: lipgloss.NewStyle().
			Border(lipgloss.RoundedBorder()).
			BorderForeground(lipgloss.Color("#874BFD")).
			Padding(0, 1),
		Title: lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("#FAFAFA")),
		Dim: lipgloss.NewStyle().Foreground(lipgloss.Color("#888888")),
	}
}

// NewPlainTheme renders without colors or borders, for logs and pipes.
func NewPlainTheme() Theme {
	plain := lipgloss.NewStyle()
	return Theme{Pass: plain, Fail: plain, Error: plain, Skip: plain, Border: plain, Title: plain, Dim: plain}
}
