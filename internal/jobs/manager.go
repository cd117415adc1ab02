package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"playlistsync/internal/domain"
	"playlistsync/internal/domain/ports"
	"playlistsync/internal/engine"
	"playlistsync/internal/joblog"
	"playlistsync/internal/metrics"
)

const (
	// DefaultExtractLeadIn is how long a combined job waits before starting
	// the extraction phase, giving the download phase a head start so the
	// first enumeration already sees files.
	DefaultExtractLeadIn = 5 * time.Second

	persistTimeout = 10 * time.Second
)

// Settings extends the engine's view of the runtime configuration with
// what the manager itself needs: the library root for log placement and
// the setup gate for admission.
type Settings interface {
	engine.Settings
	BasePath() string
	NeedsSetup() bool
}

// Config wires the manager's collaborators. Playlists, Downloader,
// Extractor, Repo and Settings are required; the rest have defaults.
type Config struct {
	Playlists  engine.PlaylistService
	Downloader ports.VideoDownloader
	Extractor  ports.AudioExtractor
	Repo       ports.JobRepository
	Settings   Settings
	Bus        ports.EventPublisher
	Logger     *slog.Logger
	Now        func() time.Time
	// ExtractLeadIn overrides DefaultExtractLeadIn, mainly for tests.
	ExtractLeadIn time.Duration
}

// jobState is the live record for a job spawned by this process. The job
// snapshot inside is only touched under mu; publishing under the same lock
// keeps per-job event order aligned with counter order.
type jobState struct {
	mu     sync.Mutex
	job    domain.Job
	cancel context.CancelFunc
	done   chan struct{}
}

func (st *jobState) snapshot() domain.Job {
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.job
}

// Manager admits, runs and tracks acquisition jobs. At most one job may be
// active per playlist; jobs on different playlists run concurrently.
type Manager struct {
	playlists  engine.PlaylistService
	downloader ports.VideoDownloader
	extractor  ports.AudioExtractor
	repo       ports.JobRepository
	settings   Settings
	bus        ports.EventPublisher
	logger     *slog.Logger
	now        func() time.Time
	leadIn     time.Duration

	mu     sync.Mutex
	jobs   map[domain.JobID]*jobState
	active map[domain.PlaylistID]domain.JobID
	closed bool

	wg sync.WaitGroup
}

func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	leadIn := cfg.ExtractLeadIn
	if leadIn <= 0 {
		leadIn = DefaultExtractLeadIn
	}
	return &Manager{
		playlists:  cfg.Playlists,
		downloader: cfg.Downloader,
		extractor:  cfg.Extractor,
		repo:       cfg.Repo,
		settings:   cfg.Settings,
		bus:        cfg.Bus,
		logger:     logger,
		now:        now,
		leadIn:     leadIn,
		jobs:       make(map[domain.JobID]*jobState),
		active:     make(map[domain.PlaylistID]domain.JobID),
	}
}

// Create admits a new job for the playlist. Admission fails with
// ErrConflict while any other job for the same playlist is still active,
// and with ErrInvalidInput while no base download path is configured.
func (m *Manager) Create(ctx context.Context, playlistID domain.PlaylistID, kind domain.JobKind) (domain.Job, error) {
	if !kind.Valid() {
		return domain.Job{}, fmt.Errorf("%w: unknown job kind %q", domain.ErrInvalidInput, kind)
	}
	if m.settings.NeedsSetup() {
		return domain.Job{}, fmt.Errorf("%w: base download path is not configured", domain.ErrInvalidInput)
	}
	if _, err := m.playlists.Get(ctx, playlistID); err != nil {
		return domain.Job{}, err
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: service is shutting down", domain.ErrConflict)
	}
	if runningID, ok := m.active[playlistID]; ok {
		m.mu.Unlock()
		return domain.Job{}, fmt.Errorf("%w: job %s is already active for playlist %d", domain.ErrConflict, runningID, playlistID)
	}

	id := domain.JobID(uuid.NewString())
	job := domain.Job{
		ID:         id,
		PlaylistID: playlistID,
		Kind:       kind,
		Status:     domain.JobPending,
		LogPath:    joblog.PathFor(m.settings.BasePath(), id),
		CreatedAt:  m.now().UTC(),
	}
	runCtx, cancel := context.WithCancel(context.Background())
	st := &jobState{job: job, cancel: cancel, done: make(chan struct{})}
	m.jobs[id] = st
	m.active[playlistID] = id
	m.mu.Unlock()

	if err := m.repo.Create(ctx, job); err != nil {
		cancel()
		m.mu.Lock()
		delete(m.jobs, id)
		delete(m.active, playlistID)
		m.mu.Unlock()
		return domain.Job{}, err
	}

	metrics.JobsStartedTotal.WithLabelValues(string(kind)).Inc()
	metrics.ActiveJobs.Inc()
	m.publish(domain.NewJobProgressEvent(job))

	m.wg.Add(1)
	go m.run(runCtx, st)

	m.logger.LogAttrs(ctx, slog.LevelInfo, "job created",
		slog.String("job_id", string(id)),
		slog.Int64("playlist_id", int64(playlistID)),
		slog.String("kind", string(kind)))
	return job, nil
}

// Get returns a job by ID, preferring the live in-process state over the
// persisted record.
func (m *Manager) Get(ctx context.Context, id domain.JobID) (domain.Job, error) {
	m.mu.Lock()
	st, ok := m.jobs[id]
	m.mu.Unlock()
	if ok {
		return st.snapshot(), nil
	}
	return m.repo.Get(ctx, id)
}

// List returns all known jobs newest first. Persisted records are
// overlaid with live state for jobs still running in this process.
func (m *Manager) List(ctx context.Context) ([]domain.Job, error) {
	stored, err := m.repo.List(ctx)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	live := make(map[domain.JobID]domain.Job, len(m.jobs))
	for id, st := range m.jobs {
		live[id] = st.snapshot()
	}
	m.mu.Unlock()

	out := make([]domain.Job, 0, len(stored))
	for _, job := range stored {
		if fresh, ok := live[job.ID]; ok {
			job = fresh
			delete(live, job.ID)
		}
		out = append(out, job)
	}
	// Jobs not yet visible in the repository still show up in the list.
	for _, job := range live {
		out = append(out, job)
	}
	return out, nil
}

// Cancel requests cooperative cancellation. It returns the current
// snapshot; the job reaches the cancelled state only after its phases
// observe the signal and exit.
func (m *Manager) Cancel(ctx context.Context, id domain.JobID) (domain.Job, error) {
	m.mu.Lock()
	st, ok := m.jobs[id]
	m.mu.Unlock()
	if !ok {
		// A job absent from the live map is already terminal; serve the
		// persisted record.
		return m.repo.Get(ctx, id)
	}

	st.mu.Lock()
	job := st.job
	cancel := st.cancel
	st.mu.Unlock()
	if job.Status.Terminal() {
		return job, nil
	}
	if cancel != nil {
		cancel()
	}
	m.logger.LogAttrs(ctx, slog.LevelInfo, "job cancel requested", slog.String("job_id", string(id)))
	return job, nil
}

// Logs returns up to lines trailing lines of the job's log file.
func (m *Manager) Logs(ctx context.Context, id domain.JobID, lines int) ([]string, error) {
	job, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return joblog.Tail(job.LogPath, lines)
}

// ActiveCount reports how many jobs currently hold a playlist slot.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Shutdown cancels every running job and waits for them to finish
// persisting their terminal state, or until ctx expires.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	for _, st := range m.jobs {
		st.mu.Lock()
		cancel := st.cancel
		st.mu.Unlock()
		if cancel != nil {
			cancel()
		}
	}
	m.mu.Unlock()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) run(ctx context.Context, st *jobState) {
	defer m.wg.Done()
	defer close(st.done)

	job := st.snapshot()
	defer m.forget(job.ID)

	writer, err := joblog.Open(m.settings.BasePath(), job.ID, func(line string) {
		m.publish(domain.LogEvent{JobID: job.ID, PlaylistID: job.PlaylistID, Line: line})
	})
	if err != nil {
		m.logger.LogAttrs(ctx, slog.LevelError, "open job log",
			slog.String("job_id", string(job.ID)), slog.String("error", err.Error()))
		failed := domain.PhaseProgress{Status: domain.JobFailed}
		openErr := fmt.Errorf("open job log: %w", err)
		if job.Kind.InvolvesDownload() {
			m.finish(st, nil, failed, failed, openErr, nil)
		} else {
			m.finish(st, nil, failed, failed, nil, openErr)
		}
		return
	}
	defer writer.Close()

	m.mutate(st, true, func(j *domain.Job) {
		j.Status = domain.JobRunning
		t := m.now().UTC()
		j.StartedAt = &t
		if j.Kind.InvolvesDownload() {
			j.Download.Status = domain.JobRunning
		}
		if j.Kind.InvolvesExtract() {
			j.Extract.Status = domain.JobRunning
		}
	})
	writer.Printf("Job %s started (kind=%s, playlist=%d)", job.ID, job.Kind, job.PlaylistID)

	var (
		dlPhase, exPhase domain.PhaseProgress
		dlErr, exErr     error
	)

	switch job.Kind {
	case domain.KindDownload:
		dlPhase, dlErr = m.runDownload(ctx, st, writer)
	case domain.KindExtract:
		exPhase, exErr = m.runExtract(ctx, st, writer, nil)
	case domain.KindBoth:
		rescan := make(chan struct{})
		var phases sync.WaitGroup
		phases.Add(2)
		go func() {
			defer phases.Done()
			defer close(rescan)
			dlPhase, dlErr = m.runDownload(ctx, st, writer)
		}()
		go func() {
			defer phases.Done()
			select {
			case <-time.After(m.leadIn):
			case <-ctx.Done():
			}
			exPhase, exErr = m.runExtract(ctx, st, writer, rescan)
		}()
		phases.Wait()
	}

	m.finish(st, writer, dlPhase, exPhase, dlErr, exErr)
}

// forget drops a job from the live map once its goroutine is done.
// Lookups fall back to the repository, where finish has already
// persisted the terminal record.
func (m *Manager) forget(id domain.JobID) {
	m.mu.Lock()
	delete(m.jobs, id)
	m.mu.Unlock()
}

func (m *Manager) runDownload(ctx context.Context, st *jobState, log engine.Logger) (domain.PhaseProgress, error) {
	runner := engine.DownloadRunner{
		Playlists:  m.playlists,
		Downloader: m.downloader,
		Settings:   m.settings,
		Log:        log,
		OnProgress: func(p domain.PhaseProgress) {
			m.mutate(st, false, func(j *domain.Job) { j.Download = p })
		},
		Now: m.now,
	}
	return runner.Run(ctx, st.snapshot().PlaylistID)
}

func (m *Manager) runExtract(ctx context.Context, st *jobState, log engine.Logger, rescan <-chan struct{}) (domain.PhaseProgress, error) {
	runner := engine.ExtractRunner{
		Playlists: m.playlists,
		Extractor: m.extractor,
		Settings:  m.settings,
		Log:       log,
		OnProgress: func(p domain.PhaseProgress) {
			m.mutate(st, false, func(j *domain.Job) { j.Extract = p })
		},
		Rescan: rescan,
		Now:    m.now,
	}
	return runner.Run(ctx, st.snapshot().PlaylistID)
}

func (m *Manager) finish(st *jobState, writer *joblog.Writer, dlPhase, exPhase domain.PhaseProgress, dlErr, exErr error) {
	var errParts []string
	if dlErr != nil {
		errParts = append(errParts, "download: "+dlErr.Error())
	}
	if exErr != nil {
		errParts = append(errParts, "extract: "+exErr.Error())
	}

	final := m.mutate(st, false, func(j *domain.Job) {
		var statuses []domain.JobStatus
		if j.Kind.InvolvesDownload() {
			j.Download = dlPhase
			statuses = append(statuses, dlPhase.Status)
		}
		if j.Kind.InvolvesExtract() {
			j.Extract = exPhase
			statuses = append(statuses, exPhase.Status)
		}
		j.Status = domain.CombineStatuses(statuses...)
		j.Error = strings.Join(errParts, "; ")
		t := m.now().UTC()
		j.CompletedAt = &t
	})

	persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := m.repo.Update(persistCtx, final); err != nil {
		m.logger.LogAttrs(persistCtx, slog.LevelError, "persist terminal job state",
			slog.String("job_id", string(final.ID)), slog.String("error", err.Error()))
	}

	m.mu.Lock()
	if m.active[final.PlaylistID] == final.ID {
		delete(m.active, final.PlaylistID)
	}
	m.mu.Unlock()

	metrics.ActiveJobs.Dec()
	if final.Status == domain.JobFailed {
		metrics.JobsFailedTotal.Inc()
	}

	if writer != nil {
		if final.Error != "" {
			writer.Printf("Job finished with status %s: %s", final.Status, final.Error)
		} else {
			writer.Printf("Job finished with status %s", final.Status)
		}
	}
	m.publish(domain.JobTerminalEvent{
		JobID:      final.ID,
		PlaylistID: final.PlaylistID,
		Status:     final.Status,
		Error:      final.Error,
	})
	m.logger.LogAttrs(context.Background(), slog.LevelInfo, "job finished",
		slog.String("job_id", string(final.ID)),
		slog.Int64("playlist_id", int64(final.PlaylistID)),
		slog.String("status", string(final.Status)))
}

// mutate applies a change to the job under its lock and publishes the
// resulting snapshot. Holding the lock through Publish keeps the event
// stream ordered the same way the counters advanced.
func (m *Manager) mutate(st *jobState, persist bool, apply func(*domain.Job)) domain.Job {
	st.mu.Lock()
	apply(&st.job)
	snap := st.job
	m.publish(domain.NewJobProgressEvent(snap))
	st.mu.Unlock()

	if persist {
		persistCtx, cancel := context.WithTimeout(context.Background(), persistTimeout)
		defer cancel()
		if err := m.repo.Update(persistCtx, snap); err != nil {
			m.logger.LogAttrs(persistCtx, slog.LevelWarn, "persist job state",
				slog.String("job_id", string(snap.ID)), slog.String("error", err.Error()))
		}
	}
	return snap
}

func (m *Manager) publish(ev domain.Event) {
	if m.bus == nil {
		return
	}
	m.bus.Publish(ev)
}

// WaitFor blocks until the job's goroutine has fully finished, including
// terminal persistence. It is primarily a test hook.
func (m *Manager) WaitFor(id domain.JobID) {
	m.mu.Lock()
	st, ok := m.jobs[id]
	m.mu.Unlock()
	if ok {
		<-st.done
	}
}
