package bus

import (
	"fmt"
	"strconv"
	"strings"

	"playlistsync/internal/domain"
)

// FilterKind selects which events a subscription receives.
type FilterKind int

const (
	FilterAll FilterKind = iota
	FilterJob
	FilterPlaylist
)

// Filter narrows a subscription to one job or one playlist.
type Filter struct {
	Kind       FilterKind
	JobID      domain.JobID
	PlaylistID domain.PlaylistID
}

// ParseFilter understands "", "all", "job=<id>" and "playlist=<id>".
func ParseFilter(raw string) (Filter, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "all" {
		return Filter{Kind: FilterAll}, nil
	}
	if id, ok := strings.CutPrefix(raw, "job="); ok {
		if id == "" {
			return Filter{}, fmt.Errorf("%w: empty job filter", domain.ErrInvalidInput)
		}
		return Filter{Kind: FilterJob, JobID: domain.JobID(id)}, nil
	}
	if id, ok := strings.CutPrefix(raw, "playlist="); ok {
		n, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return Filter{}, fmt.Errorf("%w: playlist filter must be numeric", domain.ErrInvalidInput)
		}
		return Filter{Kind: FilterPlaylist, PlaylistID: domain.PlaylistID(n)}, nil
	}
	return Filter{}, fmt.Errorf("%w: unknown filter %q", domain.ErrInvalidInput, raw)
}

// String renders the filter back to its query form.
func (f Filter) String() string {
	switch f.Kind {
	case FilterJob:
		return "job=" + string(f.JobID)
	case FilterPlaylist:
		return fmt.Sprintf("playlist=%d", f.PlaylistID)
	default:
		return "all"
	}
}

// Matches reports whether the event belongs to the filtered job or
// playlist. Playlist filters also match job events running against that
// playlist; job filters only match events carrying that job's ID.
func (f Filter) Matches(event domain.Event) bool {
	switch f.Kind {
	case FilterAll:
		return true
	case FilterJob:
		jobID, ok := eventJobID(event)
		return ok && jobID == f.JobID
	case FilterPlaylist:
		playlistID, ok := eventPlaylistID(event)
		return ok && playlistID == f.PlaylistID
	default:
		return false
	}
}

func eventJobID(event domain.Event) (domain.JobID, bool) {
	switch e := event.(type) {
	case domain.JobProgressEvent:
		return e.Job.ID, true
	case domain.LogEvent:
		return e.JobID, true
	case domain.JobTerminalEvent:
		return e.JobID, true
	default:
		return "", false
	}
}

func eventPlaylistID(event domain.Event) (domain.PlaylistID, bool) {
	switch e := event.(type) {
	case domain.PlaylistUpdatedEvent:
		return e.PlaylistID, true
	case domain.JobProgressEvent:
		return e.Job.PlaylistID, true
	case domain.LogEvent:
		return e.PlaylistID, true
	case domain.JobTerminalEvent:
		return e.PlaylistID, true
	default:
		return 0, false
	}
}
