package watch

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/mattjoyce/forkpool/internal/api"
)

type healthMsg api.HealthzResponse

type pollMsg struct{}

type errMsg error

// fetchHealth queries the /healthz endpoint.
func fetchHealth(apiURL string) tea.Msg {
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Get(apiURL + "/healthz")
	if err != nil {
		return errMsg(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return errMsg(fmt.Errorf("healthz returned %s", resp.Status))
	}
	var h api.HealthzResponse
	if err := json.NewDecoder(resp.Body).Decode(&h); err != nil {
		return errMsg(err)
	}
	return healthMsg(h)
}

func pollAfter(d time.Duration) tea.Cmd {
	return tea.Tick(d, func(time.Time) tea.Msg { return pollMsg{} })
}
