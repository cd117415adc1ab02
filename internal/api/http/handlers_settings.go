package apihttp

import (
	"net/http"

	"playlistsync/internal/app"
)

func (s *Server) handleSettings(w http.ResponseWriter, r *http.Request) {
	if s.settings == nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "settings service not configured")
		return
	}

	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, s.settings.View())
	case http.MethodPut:
		s.handleUpdateSettings(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

// handleUpdateSettings validates and applies the full settings document.
// On success subsequent jobs pick up the new values without a restart.
func (s *Server) handleUpdateSettings(w http.ResponseWriter, r *http.Request) {
	var body app.Settings
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	if err := s.settings.Update(body); err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.settings.View())
}
