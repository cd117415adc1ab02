package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"playlistsync/internal/domain"
	"playlistsync/internal/domain/ports"
	"playlistsync/internal/metrics"
)

// ExtractRunner drives the extraction phase of one job: every video file in
// the playlist folder is converted into an audio file in the nested audio
// folder, by a pool of workers.
type ExtractRunner struct {
	Playlists  PlaylistService
	Extractor  ports.AudioExtractor
	Settings   Settings
	Log        Logger
	OnProgress func(domain.PhaseProgress)
	// Rescan, when non-nil, triggers one follow-up enumeration after the
	// initial pass drains. Combined jobs close it when the download phase
	// ends so late-arriving files are picked up.
	Rescan <-chan struct{}
	Now    func() time.Time
}

// extractState holds the shared progress counters. Snapshots are taken under
// the emit lock so subscribers see completed counts in non-decreasing order.
type extractState struct {
	total     atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64
	emitMu    sync.Mutex
}

func (s *extractState) phase(status domain.JobStatus) domain.PhaseProgress {
	return domain.PhaseProgress{
		Status:    status,
		Total:     int(s.total.Load()),
		Completed: int(s.completed.Load()),
		Failed:    int(s.failed.Load()),
	}
}

// Run executes the extraction phase for a playlist. File failures are logged
// and counted, never retried within the run; only engine-fatal conditions
// return an error.
func (r ExtractRunner) Run(ctx context.Context, playlistID domain.PlaylistID) (domain.PhaseProgress, error) {
	st := &extractState{}

	p, err := r.Playlists.Get(ctx, playlistID)
	if err != nil {
		return r.fail(st, fmt.Errorf("load playlist: %w", err))
	}

	mode := r.Settings.ExtractMode()
	if !mode.Valid() {
		mode = domain.ExtractCopy
	}
	dir := r.Playlists.Dir(p)
	audioDir := r.Playlists.AudioDir(p)
	if err := os.MkdirAll(audioDir, 0o755); err != nil {
		return r.fail(st, fmt.Errorf("create audio folder: %w", err))
	}
	logf(r.Log, "Starting extraction for playlist %d (%s), mode %s", p.ID, p.Title, mode)

	files, err := listVideoFiles(dir)
	if err != nil {
		return r.fail(st, err)
	}
	seen := make(map[string]struct{}, len(files))
	for _, name := range files {
		seen[name] = struct{}{}
	}

	st.total.Store(int64(len(files)))
	r.emit(st, domain.JobRunning)
	logf(r.Log, "Found %d video file(s)", len(files))

	r.runPool(ctx, dir, audioDir, files, mode, st)

	if ctx.Err() == nil && r.Rescan != nil {
		select {
		case <-ctx.Done():
		case <-r.Rescan:
			r.rescanPass(ctx, dir, audioDir, seen, mode, st)
		}
	}

	status := domain.JobCompleted
	if ctx.Err() != nil {
		status = domain.JobCancelled
		logf(r.Log, "Extraction cancelled")
	} else {
		if err := r.Playlists.MarkExtractDone(ctx, playlistID, clock(r.Now)); err != nil {
			logf(r.Log, "Recording extraction completion failed: %v", err)
		}
		logf(r.Log, "Extraction finished: %d processed, %d failed", st.completed.Load(), st.failed.Load())
	}
	r.emit(st, status)
	return st.phase(status), nil
}

// rescanPass enumerates again and processes files not seen by the first
// pass. Totals extend, counters keep counting up.
func (r ExtractRunner) rescanPass(ctx context.Context, dir, audioDir string, seen map[string]struct{}, mode domain.ExtractMode, st *extractState) {
	files, err := listVideoFiles(dir)
	if err != nil {
		logf(r.Log, "Rescan failed: %v", err)
		return
	}
	fresh := files[:0:0]
	for _, name := range files {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		fresh = append(fresh, name)
	}
	if len(fresh) == 0 {
		return
	}
	st.total.Add(int64(len(fresh)))
	r.emit(st, domain.JobRunning)
	logf(r.Log, "Rescan found %d new file(s)", len(fresh))
	r.runPool(ctx, dir, audioDir, fresh, mode, st)
}

// runPool feeds the files to a bounded worker pool. Cancellation stops
// dispatch; a file already handed to a worker finishes.
func (r ExtractRunner) runPool(ctx context.Context, dir, audioDir string, files []string, mode domain.ExtractMode, st *extractState) {
	workers := r.Settings.MaxExtractionWorkers()
	if workers < 1 {
		workers = 1
	}
	if workers > len(files) {
		workers = len(files)
	}

	workCtx := context.WithoutCancel(ctx)
	tasks := make(chan string)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for name := range tasks {
				r.extractFile(workCtx, dir, audioDir, name, mode, st)
			}
		}()
	}

dispatch:
	for _, name := range files {
		select {
		case <-ctx.Done():
			break dispatch
		case tasks <- name:
		}
	}
	close(tasks)
	wg.Wait()
}

func (r ExtractRunner) extractFile(ctx context.Context, dir, audioDir, name string, mode domain.ExtractMode, st *extractState) {
	base := strings.TrimSuffix(name, filepath.Ext(name))
	target := filepath.Join(audioDir, base+mode.AudioExt())

	if info, err := os.Stat(target); err == nil && info.Size() > 0 {
		st.completed.Add(1)
		logf(r.Log, "Audio exists for %s - skipping", name)
		r.emit(st, domain.JobRunning)
		return
	}

	err := r.Extractor.ExtractOne(ctx, filepath.Join(dir, name), target, mode)
	st.completed.Add(1)
	if err != nil {
		st.failed.Add(1)
		metrics.ExtractionFailuresTotal.Inc()
		logf(r.Log, "Extraction failed for %s: %v", name, err)
	} else {
		metrics.ExtractionsTotal.Inc()
		logf(r.Log, "Extracted %s", filepath.Base(target))
	}
	r.emit(st, domain.JobRunning)
}

func (r ExtractRunner) emit(st *extractState, status domain.JobStatus) {
	if r.OnProgress == nil {
		return
	}
	st.emitMu.Lock()
	defer st.emitMu.Unlock()
	r.OnProgress(st.phase(status))
}

func (r ExtractRunner) fail(st *extractState, err error) (domain.PhaseProgress, error) {
	logf(r.Log, "Extraction phase failed: %v", err)
	phase := st.phase(domain.JobFailed)
	if r.OnProgress != nil {
		r.OnProgress(phase)
	}
	return phase, err
}
