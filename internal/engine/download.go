package engine

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"playlistsync/internal/archive"
	"playlistsync/internal/batch"
	"playlistsync/internal/domain"
	"playlistsync/internal/domain/ports"
	"playlistsync/internal/metrics"
)

// DownloadRunner drives the download phase of one job: refresh metadata,
// advance the daily batch, then work through it in playlist order. Progress
// is durable after every video, so an interrupted run resumes at the first
// unprocessed ID.
type DownloadRunner struct {
	Playlists  PlaylistService
	Downloader ports.VideoDownloader
	Settings   Settings
	Log        Logger
	OnProgress func(domain.PhaseProgress)
	// Force skips the snapshot cache and refetches remote metadata.
	Force bool
	Now   func() time.Time
}

// Run executes the download phase for a playlist. Per-video failures are
// classified and recorded without stopping the run; only engine-fatal
// conditions return an error, with the phase marked failed.
func (r DownloadRunner) Run(ctx context.Context, playlistID domain.PlaylistID) (domain.PhaseProgress, error) {
	phase := domain.PhaseProgress{Status: domain.JobRunning}

	p, err := r.Playlists.Get(ctx, playlistID)
	if err != nil {
		return r.fail(phase, fmt.Errorf("load playlist: %w", err))
	}
	logf(r.Log, "Starting download for playlist %d (%s)", p.ID, p.Title)

	meta, err := r.Playlists.RefreshStats(ctx, playlistID, r.Force)
	if err != nil {
		return r.fail(phase, fmt.Errorf("refresh playlist metadata: %w", err))
	}

	dir := r.Playlists.Dir(p)
	arch, err := archive.Open(dir, archive.DefaultSourceTag)
	if err != nil {
		return r.fail(phase, err)
	}
	defer arch.Close()

	ledger, err := batch.Load(filepath.Join(dir, batch.FileName))
	if err != nil {
		return r.fail(phase, err)
	}

	// Only archive entries whose file is still on disk count as done; the
	// rest stay pending and the per-video check below re-downloads or
	// reconciles them.
	onDisk, err := arch.DiskIDSet()
	if err != nil {
		logf(r.Log, "Folder scan failed: %v", err)
		onDisk = map[string]struct{}{}
	}
	verified := make(map[string]struct{})
	for id := range arch.IDSet() {
		if _, ok := onDisk[id]; ok {
			verified[id] = struct{}{}
		}
	}

	if err := ledger.Refresh(meta.Entries, verified, p.ExcludedPermanent()); err != nil {
		return r.fail(phase, err)
	}
	ids, err := ledger.AdvanceBatch(clock(r.Now), r.Settings.BatchSize())
	if err != nil {
		return r.fail(phase, err)
	}

	phase.Total = len(ids)
	r.reportWith(&phase, ledger)
	logf(r.Log, "Batch of %d video(s) to download, %d pending overall", len(ids), ledger.BatchInfo().PendingCount)

	entries := make(map[string]domain.VideoEntry, len(meta.Entries))
	for _, e := range meta.Entries {
		entries[e.ID] = e
	}
	opts := r.Settings.DownloadOptions()

	// Cancellation is observed between videos only; the transfer in flight
	// is allowed to finish.
	workCtx := context.WithoutCancel(ctx)
	for _, id := range ids {
		select {
		case <-ctx.Done():
			return r.cancelled(phase, ledger), nil
		default:
		}

		entry := entries[id]
		download, renamed, renameErr := arch.ShouldDownload(id, entry.Title)
		if renameErr != nil {
			logf(r.Log, "Legacy rename for %s failed: %v", id, renameErr)
		}
		if renamed != "" {
			logf(r.Log, "Renamed legacy file to %s", renamed)
		}
		if !download {
			logf(r.Log, "Already downloaded %s - skipping", id)
			if err := ledger.RecordDownloaded(id, clock(r.Now)); err != nil {
				return r.fail(phase, err)
			}
			phase.Completed++
			r.reportWith(&phase, ledger)
			continue
		}

		r.reportWith(&phase, ledger)
		logf(r.Log, "Downloading %s (%d/%d)", id, phase.Completed+1, phase.Total)

		sink := &videoSink{log: r.Log, videoID: id}
		err := r.Downloader.DownloadOne(workCtx, videoURL(entry, id), dir, opts, sink)
		if err == nil {
			if _, ok := arch.VerifyFile(id); !ok {
				err = fmt.Errorf("%w: verification found no file carrying id %s", domain.ErrDownloader, id)
			}
		}
		if err != nil {
			if ctx.Err() != nil {
				return r.cancelled(phase, ledger), nil
			}
			r.recordFailure(ctx, playlistID, id, err, &phase, ledger)
			r.reportWith(&phase, ledger)
			continue
		}

		if err := arch.Append(id); err != nil {
			return r.fail(phase, err)
		}
		if err := ledger.RecordDownloaded(id, clock(r.Now)); err != nil {
			return r.fail(phase, err)
		}
		phase.Completed++
		metrics.VideosDownloadedTotal.Inc()
		logf(r.Log, "Downloaded %s (%d/%d)", id, phase.Completed, phase.Total)
		r.reportWith(&phase, ledger)
	}

	phase.Status = domain.JobCompleted
	if err := r.Playlists.MarkDownloadDone(ctx, playlistID, clock(r.Now)); err != nil {
		logf(r.Log, "Recording download completion failed: %v", err)
	}
	logf(r.Log, "Download phase finished: %d processed, %d failed", phase.Completed, phase.Failed)
	r.reportWith(&phase, ledger)
	return phase, nil
}

// recordFailure classifies one failed video. Every failure lands in the
// playlist's exclusion list for inspection; only a permanent class also
// leaves the pending queue.
func (r DownloadRunner) recordFailure(ctx context.Context, playlistID domain.PlaylistID, id string, dlErr error, phase *domain.PhaseProgress, ledger *batch.Ledger) {
	msg := dlErr.Error()
	class, err := r.Playlists.ApplyExclusionFromEngine(ctx, playlistID, id, msg)
	if err != nil {
		logf(r.Log, "Recording exclusion for %s failed: %v", id, err)
	}
	phase.Completed++
	phase.Failed++
	metrics.DownloadFailuresTotal.WithLabelValues(string(class)).Inc()

	if class == domain.FailurePermanent {
		if err := ledger.RemovePending(id); err != nil {
			logf(r.Log, "Ledger update for %s failed: %v", id, err)
		}
		logf(r.Log, "Permanent failure for %s - excluded: %s", id, msg)
		return
	}
	logf(r.Log, "Transient error for %s - will retry", id)
}

func (r DownloadRunner) cancelled(phase domain.PhaseProgress, ledger *batch.Ledger) domain.PhaseProgress {
	phase.Status = domain.JobCancelled
	logf(r.Log, "Download cancelled")
	r.reportWith(&phase, ledger)
	return phase
}

func (r DownloadRunner) fail(phase domain.PhaseProgress, err error) (domain.PhaseProgress, error) {
	phase.Status = domain.JobFailed
	logf(r.Log, "Download phase failed: %v", err)
	if r.OnProgress != nil {
		r.OnProgress(phase)
	}
	return phase, err
}

func (r DownloadRunner) reportWith(phase *domain.PhaseProgress, ledger *batch.Ledger) {
	info := ledger.BatchInfo()
	phase.Batch = &info
	if r.OnProgress != nil {
		r.OnProgress(*phase)
	}
}

// videoSink forwards terminal per-video downloader events into the job log.
type videoSink struct {
	log     Logger
	videoID string
}

func (s *videoSink) OnProgress(status ports.ProgressStatus, message string) {
	if s.log == nil {
		return
	}
	switch status {
	case ports.ProgressFinished:
		s.log.Printf("Saved %s: %s", s.videoID, message)
	case ports.ProgressError:
		s.log.Printf("Download error for %s: %s", s.videoID, message)
	}
}

// videoURL prefers the metadata entry URL, deriving the canonical watch URL
// when the snapshot predates the entry.
func videoURL(entry domain.VideoEntry, id string) string {
	if entry.URL != "" {
		return entry.URL
	}
	return fmt.Sprintf("https://www.youtube.com/watch?v=%s", id)
}
