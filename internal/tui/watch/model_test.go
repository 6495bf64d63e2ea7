package watch

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/mattjoyce/forkpool/internal/api"
	"github.com/mattjoyce/forkpool/internal/pool"
)

func TestFetchHealth(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/healthz" {
			http.NotFound(w, r)
			return
		}
		_ = json.NewEncoder(w).Encode(api.HealthzResponse{
			Status: "ok",
			Pool:   &pool.Status{State: "running", Size: 4, Running: 4, Pushed: 10, Recorded: 5},
		})
	}))
	defer srv.Close()

	msg, ok := fetchHealth(srv.URL).(healthMsg)
	if !ok {
		t.Fatalf("expected healthMsg, got %T", fetchHealth(srv.URL))
	}
	if msg.Pool == nil || msg.Pool.Recorded != 5 {
		t.Fatalf("unexpected health: %+v", msg)
	}
}

func TestFetchHealthUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	if _, ok := fetchHealth(srv.URL).(errMsg); !ok {
		t.Fatal("expected errMsg for a closed server")
	}
}

func TestModelUpdateHealth(t *testing.T) {
	m := New("http://127.0.0.1:0")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	updated, cmd := updated.Update(healthMsg{
		Status: "ok",
		Pool:   &pool.Status{State: "running", Size: 2, Running: 2, Depth: 1, Pushed: 8, Recorded: 2},
	})
	if cmd == nil {
		t.Fatal("expected the next poll to be scheduled")
	}

	got := updated.(Model)
	if !got.health.Connected || got.health.Recorded != 2 {
		t.Fatalf("unexpected health state: %+v", got.health)
	}
	if got.health.Fraction() != 0.25 {
		t.Fatalf("Fraction() = %v, want 0.25", got.health.Fraction())
	}

	view := got.View()
	for _, want := range []string{"FORKPOOL WATCH", "RUNNING", "Workers: 2/2", "Results: 2 of 8 jobs"} {
		if !strings.Contains(view, want) {
			t.Fatalf("view missing %q:\n%s", want, view)
		}
	}
}

func TestModelUpdateError(t *testing.T) {
	m := New("http://127.0.0.1:0")
	updated, _ := m.Update(tea.WindowSizeMsg{Width: 100, Height: 30})
	updated, _ = updated.Update(errMsg(errors.New("connection refused")))

	got := updated.(Model)
	if got.health.Connected {
		t.Fatal("expected disconnected state")
	}
	if view := got.View(); !strings.Contains(view, "CONNECTING") || !strings.Contains(view, "connection refused") {
		t.Fatalf("unexpected view:\n%s", view)
	}
}

func TestFractionWithoutJobs(t *testing.T) {
	if f := (HealthState{}).Fraction(); f != 0 {
		t.Fatalf("Fraction() = %v, want 0", f)
	}
}
