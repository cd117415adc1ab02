package apihttp

import (
	"net/http"
	"strings"

	"playlistsync/internal/domain"
)

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "job service not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		s.handleListJobs(w, r)
	case http.MethodPost:
		s.handleCreateJob(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handleJobByID(w http.ResponseWriter, r *http.Request) {
	if s.jobs == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "job service not configured")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/jobs/")
	if path == "" {
		http.NotFound(w, r)
		return
	}

	parts := strings.Split(path, "/")
	id := domain.JobID(parts[0])
	if id == "" {
		http.NotFound(w, r)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleGetJob(w, r, id)
		return
	}

	if len(parts) == 2 {
		switch parts[1] {
		case "cancel":
			if r.Method != http.MethodPost {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			s.handleCancelJob(w, r, id)
			return
		case "logs":
			if r.Method != http.MethodGet {
				w.WriteHeader(http.StatusMethodNotAllowed)
				return
			}
			s.handleJobLogs(w, r, id)
			return
		}
	}

	http.NotFound(w, r)
}

type createJobRequest struct {
	PlaylistID domain.PlaylistID `json:"playlist_id"`
	Kind       domain.JobKind    `json:"kind"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var body createJobRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	if body.PlaylistID <= 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "playlist_id is required")
		return
	}

	job, err := s.jobs.Create(r.Context(), body.PlaylistID, body.Kind)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, job)
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := s.jobs.List(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if jobs == nil {
		jobs = []domain.Job{}
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request, id domain.JobID) {
	job, err := s.jobs.Get(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// handleCancelJob requests cooperative cancellation. The response is the
// snapshot at the time of the request; the terminal state arrives over the
// event stream once the phases unwind.
func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request, id domain.JobID) {
	job, err := s.jobs.Cancel(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, job)
}

type jobLogsResponse struct {
	JobID domain.JobID `json:"job_id"`
	Lines []string     `json:"lines"`
}

func (s *Server) handleJobLogs(w http.ResponseWriter, r *http.Request, id domain.JobID) {
	lines, err := parseOptionalIntQuery(r.URL.Query().Get("lines"), 0)
	if err != nil || lines < 0 {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid lines parameter")
		return
	}

	logLines, err := s.jobs.Logs(r.Context(), id, lines)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if logLines == nil {
		logLines = []string{}
	}
	writeJSON(w, http.StatusOK, jobLogsResponse{JobID: id, Lines: logLines})
}
