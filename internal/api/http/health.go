package apihttp

import (
	"context"
	"net/http"
	"strings"
	"time"
)

type healthResponse struct {
	Status        string    `json:"status"`
	CheckedAt     time.Time `json:"checked_at"`
	Issues        []string  `json:"issues,omitempty"`
	Database      string    `json:"database"`
	ActiveJobs    int       `json:"active_jobs"`
	StreamClients int       `json:"stream_clients"`
	NeedsSetup    bool      `json:"needs_setup"`
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, s.buildHealth(r.Context()))
}

func (s *Server) buildHealth(ctx context.Context) healthResponse {
	resp := healthResponse{
		Status:    "ok",
		CheckedAt: time.Now().UTC(),
		Database:  "unknown",
	}

	setDegraded := func(issue string) {
		if strings.TrimSpace(issue) == "" {
			return
		}
		resp.Status = "degraded"
		resp.Issues = append(resp.Issues, issue)
	}

	if s.pingDB != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := s.pingDB(pingCtx); err != nil {
			resp.Database = "down"
			setDegraded("database is unreachable")
		} else {
			resp.Database = "up"
		}
	}

	if s.jobs != nil {
		resp.ActiveJobs = s.jobs.ActiveCount()
	} else {
		setDegraded("job service is not configured")
	}

	if s.events != nil {
		resp.StreamClients = s.events.SubscriberCount()
	}

	if s.settings != nil {
		resp.NeedsSetup = s.settings.NeedsSetup()
		if resp.NeedsSetup {
			setDegraded("base download path is not configured")
		}
	} else {
		setDegraded("settings service is not configured")
	}

	return resp
}
