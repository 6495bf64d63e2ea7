package watch

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
)

// HealthState tracks pool health from /healthz polling.
type HealthState struct {
	Status        string
	UptimeSeconds int64
	State         string
	Size          int
	Running       int
	Depth         int
	Pushed        int
	Recorded      int
	Connected     bool
	LastCheck     time.Time
}

// Fraction is the share of pushed jobs whose result has been recorded.
func (h HealthState) Fraction() float64 {
	if h.Pushed == 0 {
		return 0
	}
	f := float64(h.Recorded) / float64(h.Pushed)
	if f > 1 {
		return 1
	}
	return f
}

func renderHeader(health HealthState, spin string, theme Theme, width int) string {
	innerWidth := width - 4

	var status string
	switch {
	case !health.Connected:
		status = theme.StatusFailed.Render("CONNECTING")
	case health.State == "closed":
		status = theme.StatusDone.Render("FINISHED")
	case health.Status != "ok":
		status = theme.StatusFailed.Render("DEGRADED")
	case health.State == "running":
		status = theme.StatusRunning.Render("RUNNING")
	default:
		status = theme.StatusOK.Render(strings.ToUpper(health.State))
	}

	clock := theme.Dim.Render(time.Now().Format("15:04:05"))
	titleText := fmt.Sprintf(" FORKPOOL WATCH %s", theme.Highlight.Render(spin))
	pad := innerWidth - lipgloss.Width(titleText) - lipgloss.Width(clock) - 4
	if pad < 1 {
		pad = 1
	}
	titleLine := titleText + strings.Repeat(" ", pad) + clock + " "

	statsLine := fmt.Sprintf(" %s  up %s  Workers: %d/%d  Queue: %d",
		status,
		formatDuration(time.Duration(health.UptimeSeconds)*time.Second),
		health.Running, health.Size,
		health.Depth,
	)
	resultsLine := fmt.Sprintf(" Results: %d of %d jobs", health.Recorded, health.Pushed)

	content := lipgloss.JoinVertical(lipgloss.Left, titleLine, statsLine, resultsLine)
	return theme.Border.Width(innerWidth).Render(content)
}

func formatDuration(d time.Duration) string {
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%dm %ds", int(d.Minutes()), int(d.Seconds())%60)
	}
	return fmt.Sprintf("%dh %dm", int(d.Hours()), int(d.Minutes())%60)
}
