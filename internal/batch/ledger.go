package batch

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"playlistsync/internal/domain"
)

// FileName is the ledger file kept inside each playlist folder.
const FileName = "batch_progress.json"

const dateLayout = "2006-01-02"

// State is the persisted shape of the ledger.
type State struct {
	TotalVideos     int      `json:"total_videos"`
	DownloadedCount int      `json:"downloaded_count"`
	PendingVideoIDs []string `json:"pending_video_ids"`
	LastBatchDate   string   `json:"last_batch_date"`
	BatchSizeLimit  int      `json:"batch_size_limit"`
	DownloadedToday int      `json:"downloaded_today"`
	Completed       bool     `json:"completed"`
}

// Ledger tracks per-playlist download progress across runs. Mutations are
// flushed to disk before returning so a crash never loses a recorded
// download.
type Ledger struct {
	mu    sync.Mutex
	path  string
	state State
}

// Load reads the ledger file. A missing file yields a zero ledger; a file
// that exists but cannot be parsed is an error so the caller does not
// silently restart progress from scratch.
func Load(path string) (*Ledger, error) {
	l := &Ledger{path: path}
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		l.state.PendingVideoIDs = []string{}
		return l, nil
	}
	if err != nil {
		return nil, fmt.Errorf("batch: read %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &l.state); err != nil {
		return nil, fmt.Errorf("batch: parse %s: %w", path, err)
	}
	if l.state.PendingVideoIDs == nil {
		l.state.PendingVideoIDs = []string{}
	}
	return l, nil
}

// Snapshot returns a copy of the current state.
func (l *Ledger) Snapshot() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := l.state
	out.PendingVideoIDs = append([]string(nil), l.state.PendingVideoIDs...)
	return out
}

// BatchInfo converts the state into the job progress payload.
func (l *Ledger) BatchInfo() domain.BatchInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return domain.BatchInfo{
		TotalVideos:     l.state.TotalVideos,
		DownloadedCount: l.state.DownloadedCount,
		PendingCount:    len(l.state.PendingVideoIDs),
		BatchSize:       l.state.BatchSizeLimit,
	}
}

// Completed reports whether nothing is pending.
func (l *Ledger) Completed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.state.Completed
}

// Refresh rebuilds totals and the pending queue from the current remote
// listing. Pending keeps the playlist order and drops IDs that are already
// archived or permanently excluded.
func (l *Ledger) Refresh(remote []domain.VideoEntry, archived, excludedPermanent map[string]struct{}) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	pending := make([]string, 0, len(remote))
	downloaded := 0
	for _, entry := range remote {
		if _, ok := archived[entry.ID]; ok {
			downloaded++
			continue
		}
		if _, ok := excludedPermanent[entry.ID]; ok {
			continue
		}
		pending = append(pending, entry.ID)
	}

	l.state.TotalVideos = len(remote)
	l.state.DownloadedCount = downloaded
	l.state.PendingVideoIDs = pending
	l.state.Completed = len(pending) == 0
	return l.flushLocked()
}

// AdvanceBatch returns the IDs the current run may download, capped by the
// remaining daily allowance. The counter resets when the local date rolled
// over since the last batch.
func (l *Ledger) AdvanceBatch(now time.Time, limit int) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := now.Format(dateLayout)
	if l.state.LastBatchDate != today {
		l.state.DownloadedToday = 0
	}
	l.state.BatchSizeLimit = limit

	allowance := limit - l.state.DownloadedToday
	if allowance < 0 {
		allowance = 0
	}
	if allowance > len(l.state.PendingVideoIDs) {
		allowance = len(l.state.PendingVideoIDs)
	}

	ids := append([]string(nil), l.state.PendingVideoIDs[:allowance]...)
	if len(ids) > 0 {
		l.state.LastBatchDate = today
	}
	if err := l.flushLocked(); err != nil {
		return nil, err
	}
	return ids, nil
}

// RecordDownloaded moves an ID out of pending and flushes immediately so
// an interrupted run never re-counts a finished download.
func (l *Ledger) RecordDownloaded(id string, now time.Time) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	today := now.Format(dateLayout)
	if l.state.LastBatchDate != today {
		l.state.DownloadedToday = 0
		l.state.LastBatchDate = today
	}

	l.removePendingLocked(id)
	l.state.DownloadedCount++
	l.state.DownloadedToday++
	l.state.Completed = len(l.state.PendingVideoIDs) == 0
	return l.flushLocked()
}

// RemovePending drops an ID that will never download, without touching the
// downloaded counters.
func (l *Ledger) RemovePending(id string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.removePendingLocked(id)
	l.state.Completed = len(l.state.PendingVideoIDs) == 0
	return l.flushLocked()
}

func (l *Ledger) removePendingLocked(id string) {
	kept := l.state.PendingVideoIDs[:0]
	for _, existing := range l.state.PendingVideoIDs {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	l.state.PendingVideoIDs = kept
}

func (l *Ledger) flushLocked() error {
	if l.state.PendingVideoIDs == nil {
		l.state.PendingVideoIDs = []string{}
	}
	raw, err := json.MarshalIndent(l.state, "", "  ")
	if err != nil {
		return fmt.Errorf("batch: marshal: %w", err)
	}

	tmp := l.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("batch: write %s: %w", tmp, err)
	}
	if _, err := f.Write(raw); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("batch: write %s: %w", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("batch: sync %s: %w", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("batch: close %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("batch: replace %s: %w", l.path, err)
	}
	return nil
}
