package domain

import (
	"errors"
	"strings"
	"time"
)

// PlaylistID is the stable integer identifier of a registered playlist.
type PlaylistID int64

// VideoCounts caches the tallies computed at the last metadata refresh.
type VideoCounts struct {
	Local             int `json:"local"`
	RemoteAvailable   int `json:"remote_available"`
	RemoteUnavailable int `json:"remote_unavailable"`
}

// ExcludedVideo records a video the download engine failed on. Every failure
// is recorded so it can be inspected; only entries classified permanent are
// withheld from future batches.
type ExcludedVideo struct {
	VideoID string       `json:"video_id"`
	Reason  string       `json:"reason"`
	Class   FailureClass `json:"class"`
	At      time.Time    `json:"at"`
}

type Playlist struct {
	ID             PlaylistID      `json:"playlist_id"`
	URL            string          `json:"url"`
	Title          string          `json:"title"`
	Counts         VideoCounts     `json:"counts"`
	Excluded       []ExcludedVideo `json:"excluded"`
	LastDownloadAt *time.Time      `json:"last_download_at,omitempty"`
	LastExtractAt  *time.Time      `json:"last_extract_at,omitempty"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}

// ExcludedPermanent returns the IDs whose recorded failure is permanent.
func (p Playlist) ExcludedPermanent() map[string]struct{} {
	out := make(map[string]struct{}, len(p.Excluded))
	for _, ex := range p.Excluded {
		if ex.Class == FailurePermanent {
			out[ex.VideoID] = struct{}{}
		}
	}
	return out
}

// FindExcluded returns the exclusion record for a video ID, if any.
func (p Playlist) FindExcluded(videoID string) (ExcludedVideo, bool) {
	for _, ex := range p.Excluded {
		if ex.VideoID == videoID {
			return ex, true
		}
	}
	return ExcludedVideo{}, false
}

// Validate checks domain invariants for Playlist.
func (p Playlist) Validate() error {
	if p.ID <= 0 {
		return errors.New("playlist id must be positive")
	}
	if strings.TrimSpace(p.URL) == "" {
		return errors.New("playlist url is required")
	}
	seen := make(map[string]struct{}, len(p.Excluded))
	for _, ex := range p.Excluded {
		if ex.VideoID == "" {
			return errors.New("excluded entry without video id")
		}
		if _, dup := seen[ex.VideoID]; dup {
			return errors.New("duplicate excluded video id: " + ex.VideoID)
		}
		seen[ex.VideoID] = struct{}{}
	}
	return nil
}

// PlaylistPatch carries the optional fields of a partial update. Nil fields
// are left untouched.
type PlaylistPatch struct {
	URL      *string
	Title    *string
	Excluded *[]ExcludedVideo
}

// VideoEntry is one row of a playlist metadata fetch, in playlist order.
type VideoEntry struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	URL       string `json:"url"`
	Available bool   `json:"available"`
}

type PlaylistMetadata struct {
	Title   string       `json:"title"`
	Entries []VideoEntry `json:"entries"`
}

// AvailableCounts splits the entries into available and unavailable tallies.
func (m PlaylistMetadata) AvailableCounts() (available, unavailable int) {
	for _, e := range m.Entries {
		if e.Available {
			available++
		} else {
			unavailable++
		}
	}
	return available, unavailable
}
