package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"playlistsync/internal/domain"
	"playlistsync/internal/domain/ports"
)

type fakePlaylists struct {
	mu         sync.Mutex
	base       string
	playlist   domain.Playlist
	meta       domain.PlaylistMetadata
	getErr     error
	refreshErr error
	refreshes  int
	exclusions []string
	dlDone     []time.Time
	exDone     []time.Time
}

func (f *fakePlaylists) Get(context.Context, domain.PlaylistID) (domain.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return domain.Playlist{}, f.getErr
	}
	return f.playlist, nil
}

func (f *fakePlaylists) RefreshStats(context.Context, domain.PlaylistID, bool) (domain.PlaylistMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refreshes++
	if f.refreshErr != nil {
		return domain.PlaylistMetadata{}, f.refreshErr
	}
	return f.meta, nil
}

func (f *fakePlaylists) ApplyExclusionFromEngine(_ context.Context, _ domain.PlaylistID, videoID, errMsg string) (domain.FailureClass, error) {
	class := domain.ClassifyFailure(errMsg)
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exclusions = append(f.exclusions, videoID)
	entry := domain.ExcludedVideo{VideoID: videoID, Reason: errMsg, Class: class, At: time.Now()}
	for i := range f.playlist.Excluded {
		if f.playlist.Excluded[i].VideoID == videoID {
			f.playlist.Excluded[i] = entry
			return class, nil
		}
	}
	f.playlist.Excluded = append(f.playlist.Excluded, entry)
	return class, nil
}

func (f *fakePlaylists) MarkDownloadDone(_ context.Context, _ domain.PlaylistID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.dlDone = append(f.dlDone, at)
	return nil
}

func (f *fakePlaylists) MarkExtractDone(_ context.Context, _ domain.PlaylistID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.exDone = append(f.exDone, at)
	return nil
}

func (f *fakePlaylists) Dir(p domain.Playlist) string {
	return filepath.Join(f.base, p.Title)
}

func (f *fakePlaylists) AudioDir(p domain.Playlist) string {
	return filepath.Join(f.base, p.Title, p.Title)
}

func (f *fakePlaylists) excluded(videoID string) (domain.ExcludedVideo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.playlist.Excluded {
		if e.VideoID == videoID {
			return e, true
		}
	}
	return domain.ExcludedVideo{}, false
}

type fakeSettings struct {
	batchSize int
	workers   int
	mode      domain.ExtractMode
	opts      ports.DownloadOptions
}

func (s fakeSettings) BatchSize() int {
	if s.batchSize == 0 {
		return 100
	}
	return s.batchSize
}

func (s fakeSettings) MaxExtractionWorkers() int {
	if s.workers == 0 {
		return 2
	}
	return s.workers
}

func (s fakeSettings) ExtractMode() domain.ExtractMode {
	if s.mode == "" {
		return domain.ExtractCopy
	}
	return s.mode
}

func (s fakeSettings) DownloadOptions() ports.DownloadOptions {
	return s.opts
}

type testLogger struct {
	mu    sync.Mutex
	lines []string
}

func (l *testLogger) Printf(format string, args ...any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.lines = append(l.lines, fmt.Sprintf(format, args...))
}

func (l *testLogger) contains(sub string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, line := range l.lines {
		if strings.Contains(line, sub) {
			return true
		}
	}
	return false
}

type progressRecorder struct {
	mu    sync.Mutex
	snaps []domain.PhaseProgress
}

func (p *progressRecorder) record(phase domain.PhaseProgress) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.snaps = append(p.snaps, phase)
}

func (p *progressRecorder) last() domain.PhaseProgress {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.snaps) == 0 {
		return domain.PhaseProgress{}
	}
	return p.snaps[len(p.snaps)-1]
}

func (p *progressRecorder) completedMonotonic() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	prev := 0
	for _, s := range p.snaps {
		if s.Completed < prev {
			return false
		}
		prev = s.Completed
	}
	return true
}

func entry(id string) domain.VideoEntry {
	return domain.VideoEntry{
		ID:        id,
		Title:     "Video " + id,
		URL:       "https://www.youtube.com/watch?v=" + id,
		Available: true,
	}
}
