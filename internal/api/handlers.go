package api

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/mattjoyce/forkpool/internal/inspect"
	"github.com/mattjoyce/forkpool/internal/pool"
)

// handleHealthz handles GET /healthz.
func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	var ps *pool.Status
	if s.pool != nil {
		st := s.pool.Status()
		ps = &st
		if st.State == "running" && st.Running < st.Size {
			status = "degraded"
		}
	}

	s.writeJSON(w, http.StatusOK, HealthzResponse{
		Status:        status,
		UptimeSeconds: int64(time.Since(s.startedAt).Seconds()),
		Pool:          ps,
	})
}

// handleListRuns handles GET /runs.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal is disabled")
		return
	}
	runs, err := inspect.ListRuns(r.Context(), s.journal, 20)
	if err != nil {
		s.logger.Error("failed to list runs", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to list runs")
		return
	}
	if runs == nil {
		runs = []inspect.RunInfo{}
	}
	s.writeJSON(w, http.StatusOK, runs)
}

// handleGetRun handles GET /runs/{runID}; "latest" selects the newest run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	if s.journal == nil {
		s.writeError(w, http.StatusNotFound, "journal is disabled")
		return
	}
	body, err := inspect.BuildJSONReport(r.Context(), s.journal, chi.URLParam(r, "runID"))
	if err != nil {
		if strings.Contains(err.Error(), "not found") || strings.Contains(err.Error(), "no runs") {
			s.writeError(w, http.StatusNotFound, err.Error())
			return
		}
		s.logger.Error("failed to build run report", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to build run report")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(body))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, ErrorResponse{Error: message})
}
