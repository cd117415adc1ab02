package apihttp

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"playlistsync/internal/domain"
)

func (s *Server) handlePlaylists(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.handleListPlaylists(w, r)
	case http.MethodPost:
		s.handleCreatePlaylist(w, r)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) handlePlaylistByID(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/playlists/")
	if path == "" {
		http.NotFound(w, r)
		return
	}

	parts := strings.Split(path, "/")
	id, err := parsePlaylistID(parts[0])
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid playlist id")
		return
	}

	if len(parts) == 1 {
		switch r.Method {
		case http.MethodGet:
			s.handleGetPlaylist(w, r, id)
		case http.MethodPatch:
			s.handleUpdatePlaylist(w, r, id)
		case http.MethodDelete:
			s.handleDeletePlaylist(w, r, id)
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
		return
	}

	if len(parts) == 2 && parts[1] == "refresh" {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.handleRefreshPlaylist(w, r, id)
		return
	}

	http.NotFound(w, r)
}

func (s *Server) handleListPlaylists(w http.ResponseWriter, r *http.Request) {
	playlists, err := s.playlists.List(r.Context())
	if err != nil {
		writeCoreError(w, err)
		return
	}
	if playlists == nil {
		playlists = []domain.Playlist{}
	}
	writeJSON(w, http.StatusOK, playlists)
}

type createPlaylistRequest struct {
	URL string `json:"url"`
}

func (s *Server) handleCreatePlaylist(w http.ResponseWriter, r *http.Request) {
	var body createPlaylistRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}
	if strings.TrimSpace(body.URL) == "" {
		writeError(w, http.StatusBadRequest, "invalid_request", "url is required")
		return
	}

	created, err := s.playlists.Create(r.Context(), body.URL)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetPlaylist(w http.ResponseWriter, r *http.Request, id domain.PlaylistID) {
	p, err := s.playlists.Get(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type excludedVideoInput struct {
	VideoID string `json:"video_id"`
	Reason  string `json:"reason"`
	Class   string `json:"class"`
}

type updatePlaylistRequest struct {
	URL      *string               `json:"url"`
	Title    *string               `json:"title"`
	Excluded *[]excludedVideoInput `json:"excluded"`
}

func (s *Server) handleUpdatePlaylist(w http.ResponseWriter, r *http.Request, id domain.PlaylistID) {
	var body updatePlaylistRequest
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid json")
		return
	}

	patch := domain.PlaylistPatch{URL: body.URL, Title: body.Title}
	if body.Excluded != nil {
		entries, err := mapExcludedInput(*body.Excluded)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request", err.Error())
			return
		}
		patch.Excluded = &entries
	}

	updated, err := s.playlists.Update(r.Context(), id, patch)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// mapExcludedInput converts the wire exclusion list into domain records.
// The failure class defaults to permanent, matching the manual use case of
// pinning a video out of future batches.
func mapExcludedInput(items []excludedVideoInput) ([]domain.ExcludedVideo, error) {
	now := time.Now().UTC()
	entries := make([]domain.ExcludedVideo, 0, len(items))
	for _, item := range items {
		videoID := strings.TrimSpace(item.VideoID)
		if videoID == "" {
			return nil, errors.New("excluded entry requires video_id")
		}
		class := domain.FailurePermanent
		switch strings.TrimSpace(item.Class) {
		case "", string(domain.FailurePermanent):
		case string(domain.FailureTransient):
			class = domain.FailureTransient
		default:
			return nil, errors.New("excluded class must be permanent or transient")
		}
		entries = append(entries, domain.ExcludedVideo{
			VideoID: videoID,
			Reason:  strings.TrimSpace(item.Reason),
			Class:   class,
			At:      now,
		})
	}
	return entries, nil
}

func (s *Server) handleDeletePlaylist(w http.ResponseWriter, r *http.Request, id domain.PlaylistID) {
	if err := s.playlists.Delete(r.Context(), id); err != nil {
		writeCoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRefreshPlaylist(w http.ResponseWriter, r *http.Request, id domain.PlaylistID) {
	force, err := parseBoolQuery(r.URL.Query().Get("force"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "invalid force parameter")
		return
	}

	if _, err := s.playlists.RefreshStats(r.Context(), id, force); err != nil {
		writeCoreError(w, err)
		return
	}

	p, err := s.playlists.Get(r.Context(), id)
	if err != nil {
		writeCoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
