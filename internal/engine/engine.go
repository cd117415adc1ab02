package engine

import (
	"context"
	"fmt"
	"os"
	"time"

	"playlistsync/internal/archive"
	"playlistsync/internal/domain"
	"playlistsync/internal/domain/ports"
)

// PlaylistService is the slice of the playlist store the engines drive.
// Engines carry a playlist ID, never a playlist reference; every lookup
// goes through here.
type PlaylistService interface {
	Get(ctx context.Context, id domain.PlaylistID) (domain.Playlist, error)
	RefreshStats(ctx context.Context, id domain.PlaylistID, force bool) (domain.PlaylistMetadata, error)
	ApplyExclusionFromEngine(ctx context.Context, id domain.PlaylistID, videoID, errMsg string) (domain.FailureClass, error)
	MarkDownloadDone(ctx context.Context, id domain.PlaylistID, at time.Time) error
	MarkExtractDone(ctx context.Context, id domain.PlaylistID, at time.Time) error
	Dir(p domain.Playlist) string
	AudioDir(p domain.Playlist) string
}

// Settings is the live configuration slice read once per run.
type Settings interface {
	BatchSize() int
	MaxExtractionWorkers() int
	ExtractMode() domain.ExtractMode
	DownloadOptions() ports.DownloadOptions
}

// Logger is the per-job log sink.
type Logger interface {
	Printf(format string, args ...any)
}

func logf(log Logger, format string, args ...any) {
	if log != nil {
		log.Printf(format, args...)
	}
}

func clock(now func() time.Time) time.Time {
	if now != nil {
		return now()
	}
	return time.Now()
}

// listVideoFiles returns the video file names in a playlist folder, in
// directory order (sorted by name).
func listVideoFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("scan playlist folder: %w", err)
	}
	var out []string
	for _, entry := range entries {
		if entry.IsDir() || !archive.IsVideoFile(entry.Name()) {
			continue
		}
		out = append(out, entry.Name())
	}
	return out, nil
}
