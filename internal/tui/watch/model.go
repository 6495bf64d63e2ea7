package watch

import (
	"fmt"
	"time"

	"github.com/charmbracelet/bubbles/progress"
	"github.com/charmbracelet/bubbles/spinner"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

const pollInterval = time.Second

// Model is the main BubbleTea model for the watch TUI.
type Model struct {
	apiURL string

	width  int
	height int

	health   HealthState
	spinner  spinner.Model
	progress progress.Model
	theme    Theme

	lastError string
}

// New creates a new watch TUI model for the status API at apiURL.
func New(apiURL string) Model {
	s := spinner.New()
	s.Spinner = spinner.Dot
	return Model{
		apiURL:   apiURL,
		spinner:  s,
		progress: progress.New(progress.WithDefaultGradient()),
		theme:    NewDefaultTheme(),
	}
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(
		m.spinner.Tick,
		func() tea.Msg { return fetchHealth(m.apiURL) },
	)
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		switch msg.String() {
		case "q", "ctrl+c", "esc":
			return m, tea.Quit
		}

	case tea.WindowSizeMsg:
		m.width = msg.Width
		m.height = msg.Height
		m.progress.Width = max(msg.Width-12, 10)

	case spinner.TickMsg:
		var cmd tea.Cmd
		m.spinner, cmd = m.spinner.Update(msg)
		return m, cmd

	case pollMsg:
		url := m.apiURL
		return m, func() tea.Msg { return fetchHealth(url) }

	case healthMsg:
		m.health.Status = msg.Status
		m.health.UptimeSeconds = msg.UptimeSeconds
		if msg.Pool != nil {
			m.health.State = msg.Pool.State
			m.health.Size = msg.Pool.Size
			m.health.Running = msg.Pool.Running
			m.health.Depth = msg.Pool.Depth
			m.health.Pushed = msg.Pool.Pushed
			m.health.Recorded = msg.Pool.Recorded
		}
		m.health.Connected = true
		m.health.LastCheck = time.Now()
		m.lastError = ""
		return m, pollAfter(pollInterval)

	case errMsg:
		m.health.Connected = false
		m.lastError = msg.Error()
		return m, pollAfter(3 * pollInterval)
	}

	return m, nil
}

func (m Model) View() string {
	if m.width == 0 {
		return "Connecting to " + m.apiURL + "..."
	}

	header := renderHeader(m.health, m.spinner.View(), m.theme, m.width)
	bar := " " + m.progress.ViewAs(m.health.Fraction())

	parts := []string{header, bar}
	if m.lastError != "" {
		parts = append(parts, m.theme.StatusFailed.Render(fmt.Sprintf(" ⚠ %s", m.lastError)))
	}
	parts = append(parts, m.theme.Dim.Render(" [q] Quit"))

	return lipgloss.NewStyle().Margin(1, 2).Render(
		lipgloss.JoinVertical(lipgloss.Left, parts...),
	)
}
