package jobs

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"playlistsync/internal/domain"
	"playlistsync/internal/domain/ports"
)

type fakePlaylists struct {
	mu         sync.Mutex
	base       string
	playlists  map[domain.PlaylistID]domain.Playlist
	metas      map[domain.PlaylistID]domain.PlaylistMetadata
	refreshErr error
}

func newFakePlaylists(base string) *fakePlaylists {
	return &fakePlaylists{
		base:      base,
		playlists: make(map[domain.PlaylistID]domain.Playlist),
		metas:     make(map[domain.PlaylistID]domain.PlaylistMetadata),
	}
}

func (f *fakePlaylists) add(p domain.Playlist, meta domain.PlaylistMetadata) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.playlists[p.ID] = p
	f.metas[p.ID] = meta
}

func (f *fakePlaylists) Get(_ context.Context, id domain.PlaylistID) (domain.Playlist, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.playlists[id]
	if !ok {
		return domain.Playlist{}, fmt.Errorf("%w: playlist %d", domain.ErrNotFound, id)
	}
	return p, nil
}

func (f *fakePlaylists) RefreshStats(_ context.Context, id domain.PlaylistID, _ bool) (domain.PlaylistMetadata, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.refreshErr != nil {
		return domain.PlaylistMetadata{}, f.refreshErr
	}
	return f.metas[id], nil
}

func (f *fakePlaylists) ApplyExclusionFromEngine(_ context.Context, _ domain.PlaylistID, _, errMsg string) (domain.FailureClass, error) {
	return domain.ClassifyFailure(errMsg), nil
}

func (f *fakePlaylists) MarkDownloadDone(context.Context, domain.PlaylistID, time.Time) error {
	return nil
}

func (f *fakePlaylists) MarkExtractDone(context.Context, domain.PlaylistID, time.Time) error {
	return nil
}

func (f *fakePlaylists) Dir(p domain.Playlist) string {
	return filepath.Join(f.base, p.Title)
}

func (f *fakePlaylists) AudioDir(p domain.Playlist) string {
	return filepath.Join(f.base, p.Title, p.Title)
}

type testSettings struct {
	base string
}

func (s testSettings) BatchSize() int { return 100 }

func (s testSettings) MaxExtractionWorkers() int { return 2 }

func (s testSettings) ExtractMode() domain.ExtractMode { return domain.ExtractCopy }

func (s testSettings) DownloadOptions() ports.DownloadOptions { return ports.DownloadOptions{} }

func (s testSettings) BasePath() string { return s.base }

func (s testSettings) NeedsSetup() bool { return s.base == "" }

// stubDownloader writes a conventional video file per call. When block is
// set it parks until released or the context ends. A set started channel
// gets a signal as each call begins.
type stubDownloader struct {
	mu      sync.Mutex
	calls   int
	block   chan struct{}
	started chan struct{}
	err     error
}

func (d *stubDownloader) DownloadOne(ctx context.Context, videoURL, targetDir string, _ ports.DownloadOptions, sink ports.ProgressSink) error {
	d.mu.Lock()
	d.calls++
	block := d.block
	started := d.started
	err := d.err
	d.mu.Unlock()

	if started != nil {
		select {
		case started <- struct{}{}:
		default:
		}
	}
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err != nil {
		if sink != nil {
			sink.OnProgress(ports.ProgressError, err.Error())
		}
		return err
	}

	id := videoURL[strings.LastIndex(videoURL, "=")+1:]
	name := fmt.Sprintf("Video %s [%s].mp4", id, id)
	if err := os.WriteFile(filepath.Join(targetDir, name), []byte("video"), 0o644); err != nil {
		return err
	}
	if sink != nil {
		sink.OnProgress(ports.ProgressFinished, name)
	}
	return nil
}

type stubExtractor struct {
	mu    sync.Mutex
	calls int
}

func (e *stubExtractor) ExtractOne(_ context.Context, _, dst string, _ domain.ExtractMode) error {
	e.mu.Lock()
	e.calls++
	e.mu.Unlock()
	return os.WriteFile(dst, []byte("audio"), 0o644)
}

type memJobRepo struct {
	mu        sync.Mutex
	jobs      map[domain.JobID]domain.Job
	order     []domain.JobID
	createErr error
}

func newMemJobRepo() *memJobRepo {
	return &memJobRepo{jobs: make(map[domain.JobID]domain.Job)}
}

func (r *memJobRepo) Create(_ context.Context, job domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.createErr != nil {
		return r.createErr
	}
	r.jobs[job.ID] = job
	r.order = append(r.order, job.ID)
	return nil
}

func (r *memJobRepo) Update(_ context.Context, job domain.Job) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.jobs[job.ID]; !ok {
		return fmt.Errorf("%w: job %s", domain.ErrNotFound, job.ID)
	}
	r.jobs[job.ID] = job
	return nil
}

func (r *memJobRepo) Get(_ context.Context, id domain.JobID) (domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	job, ok := r.jobs[id]
	if !ok {
		return domain.Job{}, fmt.Errorf("%w: job %s", domain.ErrNotFound, id)
	}
	return job, nil
}

func (r *memJobRepo) List(context.Context) ([]domain.Job, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.Job, 0, len(r.order))
	for i := len(r.order) - 1; i >= 0; i-- {
		out = append(out, r.jobs[r.order[i]])
	}
	return out, nil
}

func (r *memJobRepo) FailRunning(_ context.Context, errMsg string) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for id, job := range r.jobs {
		if job.Status == domain.JobPending || job.Status == domain.JobRunning {
			job.Status = domain.JobFailed
			job.Error = errMsg
			r.jobs[id] = job
			n++
		}
	}
	return n, nil
}

func (r *memJobRepo) stored(id domain.JobID) domain.Job {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.jobs[id]
}

type eventRecorder struct {
	mu     sync.Mutex
	events []domain.Event
}

func (rec *eventRecorder) Publish(ev domain.Event) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	rec.events = append(rec.events, ev)
}

func (rec *eventRecorder) terminals() []domain.JobTerminalEvent {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []domain.JobTerminalEvent
	for _, ev := range rec.events {
		if t, ok := ev.(domain.JobTerminalEvent); ok {
			out = append(out, t)
		}
	}
	return out
}

func (rec *eventRecorder) lastProgress() (domain.JobProgressEvent, bool) {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	for i := len(rec.events) - 1; i >= 0; i-- {
		if p, ok := rec.events[i].(domain.JobProgressEvent); ok {
			return p, true
		}
	}
	return domain.JobProgressEvent{}, false
}

func (rec *eventRecorder) logLines(id domain.JobID) []string {
	rec.mu.Lock()
	defer rec.mu.Unlock()
	var out []string
	for _, ev := range rec.events {
		if l, ok := ev.(domain.LogEvent); ok && l.JobID == id {
			out = append(out, l.Line)
		}
	}
	return out
}

type managerFixture struct {
	manager    *Manager
	playlists  *fakePlaylists
	downloader *stubDownloader
	extractor  *stubExtractor
	repo       *memJobRepo
	events     *eventRecorder
	base       string
}

func newFixture(t *testing.T) *managerFixture {
	t.Helper()
	base := t.TempDir()
	f := &managerFixture{
		playlists:  newFakePlaylists(base),
		downloader: &stubDownloader{},
		extractor:  &stubExtractor{},
		repo:       newMemJobRepo(),
		events:     &eventRecorder{},
		base:       base,
	}
	f.manager = NewManager(Config{
		Playlists:     f.playlists,
		Downloader:    f.downloader,
		Extractor:     f.extractor,
		Repo:          f.repo,
		Settings:      testSettings{base: base},
		Bus:           f.events,
		ExtractLeadIn: time.Millisecond,
	})
	f.playlists.add(
		domain.Playlist{ID: 1, URL: "https://www.youtube.com/playlist?list=PL1", Title: "Mix"},
		domain.PlaylistMetadata{Title: "Mix", Entries: []domain.VideoEntry{
			{ID: "aaaaaaaaaa1", Title: "Video aaaaaaaaaa1", URL: "https://www.youtube.com/watch?v=aaaaaaaaaa1", Available: true},
			{ID: "bbbbbbbbbb2", Title: "Video bbbbbbbbbb2", URL: "https://www.youtube.com/watch?v=bbbbbbbbbb2", Available: true},
		}},
	)
	return f
}

func waitTerminal(t *testing.T, f *managerFixture, id domain.JobID) domain.Job {
	t.Helper()
	f.manager.WaitFor(id)
	job, err := f.manager.Get(context.Background(), id)
	if err != nil {
		t.Fatalf("Get after terminal: %v", err)
	}
	if !job.Status.Terminal() {
		t.Fatalf("job status = %s, want terminal", job.Status)
	}
	return job
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)

	if _, err := f.manager.Create(context.Background(), 1, "transcode"); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("unknown kind: err = %v, want ErrInvalidInput", err)
	}
	if _, err := f.manager.Create(context.Background(), 99, domain.KindDownload); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown playlist: err = %v, want ErrNotFound", err)
	}

	unconfigured := NewManager(Config{
		Playlists:  f.playlists,
		Downloader: f.downloader,
		Extractor:  f.extractor,
		Repo:       f.repo,
		Settings:   testSettings{},
		Bus:        f.events,
	})
	if _, err := unconfigured.Create(context.Background(), 1, domain.KindDownload); !errors.Is(err, domain.ErrInvalidInput) {
		t.Errorf("needs setup: err = %v, want ErrInvalidInput", err)
	}
}

func TestDownloadJobCompletes(t *testing.T) {
	f := newFixture(t)

	job, err := f.manager.Create(context.Background(), 1, domain.KindDownload)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if job.Status != domain.JobPending {
		t.Errorf("initial status = %s, want pending", job.Status)
	}
	if job.LogPath == "" {
		t.Error("LogPath not set at admission")
	}

	final := waitTerminal(t, f, job.ID)
	if final.Status != domain.JobCompleted {
		t.Fatalf("status = %s (error %q), want completed", final.Status, final.Error)
	}
	if final.Download.Total != 2 || final.Download.Completed != 2 || final.Download.Failed != 0 {
		t.Errorf("download phase = %+v", final.Download)
	}
	if final.Extract.Status != "" || final.Extract.Total != 0 {
		t.Errorf("extract phase touched by download job: %+v", final.Extract)
	}
	if final.StartedAt == nil || final.CompletedAt == nil {
		t.Error("StartedAt/CompletedAt not stamped")
	}

	if stored := f.repo.stored(job.ID); stored.Status != domain.JobCompleted {
		t.Errorf("persisted status = %s, want completed", stored.Status)
	}

	terms := f.events.terminals()
	if len(terms) != 1 {
		t.Fatalf("terminal events = %d, want exactly 1", len(terms))
	}
	if terms[0].Status != domain.JobCompleted || terms[0].JobID != job.ID {
		t.Errorf("terminal event = %+v", terms[0])
	}
	if last, ok := f.events.lastProgress(); !ok || last.Progress != 100 {
		t.Errorf("last progress = %+v", last)
	}

	lines, err := f.manager.Logs(context.Background(), job.ID, 0)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(lines) == 0 || !strings.Contains(lines[len(lines)-1], "finished with status completed") {
		t.Errorf("log tail = %q", lines)
	}

	mirrored := f.events.logLines(job.ID)
	if len(mirrored) != len(lines) {
		t.Errorf("mirrored %d log events, persisted %d lines", len(mirrored), len(lines))
	}

	// The live map holds running jobs only; finished ones are served from
	// the repository.
	f.manager.mu.Lock()
	_, live := f.manager.jobs[job.ID]
	f.manager.mu.Unlock()
	if live {
		t.Error("finished job still held in the live map")
	}
}

func TestAdmissionSerializesPerPlaylist(t *testing.T) {
	f := newFixture(t)
	f.playlists.add(
		domain.Playlist{ID: 2, URL: "https://www.youtube.com/playlist?list=PL2", Title: "Other"},
		domain.PlaylistMetadata{Title: "Other"},
	)
	release := make(chan struct{})
	f.downloader.block = release

	first, err := f.manager.Create(context.Background(), 1, domain.KindDownload)
	if err != nil {
		t.Fatalf("first Create: %v", err)
	}

	if _, err := f.manager.Create(context.Background(), 1, domain.KindExtract); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("same playlist: err = %v, want ErrConflict", err)
	}

	other, err := f.manager.Create(context.Background(), 2, domain.KindDownload)
	if err != nil {
		t.Errorf("different playlist rejected: %v", err)
	}

	close(release)
	waitTerminal(t, f, first.ID)
	waitTerminal(t, f, other.ID)

	if f.manager.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after both jobs finished", f.manager.ActiveCount())
	}

	again, err := f.manager.Create(context.Background(), 1, domain.KindDownload)
	if err != nil {
		t.Fatalf("Create after slot release: %v", err)
	}
	waitTerminal(t, f, again.ID)
}

func TestCancelStopsRunningJob(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.downloader.block = release
	f.downloader.started = make(chan struct{}, 1)

	job, err := f.manager.Create(context.Background(), 1, domain.KindDownload)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	// Cancel lands while the first video is in flight. That transfer must
	// run to completion; the job stops before the second one.
	<-f.downloader.started
	if _, err := f.manager.Cancel(context.Background(), job.ID); err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	close(release)

	final := waitTerminal(t, f, job.ID)
	if final.Status != domain.JobCancelled {
		t.Fatalf("status = %s, want cancelled", final.Status)
	}
	if final.Download.Completed != 1 || final.Download.Total != 2 {
		t.Errorf("download phase = %+v, want the in-flight video finished", final.Download)
	}
	terms := f.events.terminals()
	if len(terms) != 1 || terms[0].Status != domain.JobCancelled {
		t.Errorf("terminal events = %+v", terms)
	}
	if f.manager.ActiveCount() != 0 {
		t.Errorf("ActiveCount = %d after cancel", f.manager.ActiveCount())
	}

	// A second cancel on a finished job is a no-op.
	if _, err := f.manager.Cancel(context.Background(), job.ID); err != nil {
		t.Errorf("repeat Cancel: %v", err)
	}
}

func TestCancelUnknownJob(t *testing.T) {
	f := newFixture(t)
	if _, err := f.manager.Cancel(context.Background(), "nope"); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestBothJobExtractsDownloadedFiles(t *testing.T) {
	f := newFixture(t)

	job, err := f.manager.Create(context.Background(), 1, domain.KindBoth)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	final := waitTerminal(t, f, job.ID)
	if final.Status != domain.JobCompleted {
		t.Fatalf("status = %s (error %q), want completed", final.Status, final.Error)
	}
	if final.Download.Completed != 2 {
		t.Errorf("download completed = %d, want 2", final.Download.Completed)
	}
	// The rescan after the download phase must pick up the new files even
	// if the initial enumeration saw an empty folder.
	if final.Extract.Total != 2 || final.Extract.Completed != 2 {
		t.Errorf("extract phase = %+v, want total=2 completed=2", final.Extract)
	}

	audioDir := filepath.Join(f.base, "Mix", "Mix")
	entries, err := os.ReadDir(audioDir)
	if err != nil {
		t.Fatalf("read audio dir: %v", err)
	}
	if len(entries) != 2 {
		t.Errorf("audio files = %d, want 2", len(entries))
	}
}

func TestFatalDownloadFailureSetsError(t *testing.T) {
	f := newFixture(t)
	f.playlists.refreshErr = fmt.Errorf("%w: metadata fetch failed", domain.ErrDownloader)

	job, err := f.manager.Create(context.Background(), 1, domain.KindDownload)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	final := waitTerminal(t, f, job.ID)
	if final.Status != domain.JobFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if !strings.Contains(final.Error, "download:") || !strings.Contains(final.Error, "metadata fetch failed") {
		t.Errorf("error = %q", final.Error)
	}
	terms := f.events.terminals()
	if len(terms) != 1 || terms[0].Error == "" {
		t.Errorf("terminal events = %+v", terms)
	}
}

func TestFailedPhaseOutweighsCompletedPhase(t *testing.T) {
	f := newFixture(t)
	f.playlists.refreshErr = fmt.Errorf("%w: metadata fetch failed", domain.ErrDownloader)

	job, err := f.manager.Create(context.Background(), 1, domain.KindBoth)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	final := waitTerminal(t, f, job.ID)
	if final.Status != domain.JobFailed {
		t.Fatalf("status = %s, want failed", final.Status)
	}
	if final.Extract.Status != domain.JobCompleted {
		t.Errorf("extract phase status = %s, want completed", final.Extract.Status)
	}
}

func TestListOverlaysLiveState(t *testing.T) {
	f := newFixture(t)

	old := domain.Job{
		ID:         "historic",
		PlaylistID: 1,
		Kind:       domain.KindDownload,
		Status:     domain.JobFailed,
		Error:      "interrupted by restart",
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	if err := f.repo.Create(context.Background(), old); err != nil {
		t.Fatal(err)
	}

	release := make(chan struct{})
	f.downloader.block = release
	job, err := f.manager.Create(context.Background(), 1, domain.KindDownload)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	list, err := f.manager.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("len(list) = %d, want 2", len(list))
	}
	if list[0].ID != job.ID {
		t.Errorf("list[0] = %s, want newest job %s", list[0].ID, job.ID)
	}
	if list[0].Status.Terminal() {
		t.Errorf("live job listed with stale terminal status %s", list[0].Status)
	}
	if list[1].ID != old.ID || list[1].Status != domain.JobFailed {
		t.Errorf("list[1] = %+v", list[1])
	}

	close(release)
	waitTerminal(t, f, job.ID)
}

func TestGetFallsBackToRepository(t *testing.T) {
	f := newFixture(t)
	old := domain.Job{
		ID:         "historic",
		PlaylistID: 1,
		Kind:       domain.KindExtract,
		Status:     domain.JobCompleted,
		CreatedAt:  time.Now().Add(-time.Hour),
	}
	if err := f.repo.Create(context.Background(), old); err != nil {
		t.Fatal(err)
	}

	got, err := f.manager.Get(context.Background(), "historic")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.JobCompleted {
		t.Errorf("got = %+v", got)
	}

	// Cancelling a job from a previous process run just returns it.
	cancelled, err := f.manager.Cancel(context.Background(), "historic")
	if err != nil || cancelled.Status != domain.JobCompleted {
		t.Errorf("Cancel(historic) = %+v, %v", cancelled, err)
	}
}

func TestLogsTailRespectsLineLimit(t *testing.T) {
	f := newFixture(t)

	job, err := f.manager.Create(context.Background(), 1, domain.KindDownload)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	waitTerminal(t, f, job.ID)

	all, err := f.manager.Logs(context.Background(), job.ID, 0)
	if err != nil {
		t.Fatalf("Logs: %v", err)
	}
	if len(all) < 3 {
		t.Fatalf("log lines = %d, want at least 3", len(all))
	}
	two, err := f.manager.Logs(context.Background(), job.ID, 2)
	if err != nil {
		t.Fatalf("Logs(2): %v", err)
	}
	if len(two) != 2 || two[1] != all[len(all)-1] {
		t.Errorf("tail = %q", two)
	}

	if _, err := f.manager.Logs(context.Background(), "nope", 5); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("Logs(unknown) err = %v, want ErrNotFound", err)
	}
}

func TestShutdownCancelsRunningJobs(t *testing.T) {
	f := newFixture(t)
	release := make(chan struct{})
	f.downloader.block = release
	f.downloader.started = make(chan struct{}, 1)

	job, err := f.manager.Create(context.Background(), 1, domain.KindDownload)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	<-f.downloader.started

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	errc := make(chan error, 1)
	go func() { errc <- f.manager.Shutdown(ctx) }()

	// Shutdown cancels the job before it starts waiting; release the
	// in-flight transfer only once that has happened.
	for deadline := time.Now().Add(5 * time.Second); ; {
		f.manager.mu.Lock()
		closed := f.manager.closed
		f.manager.mu.Unlock()
		if closed {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("Shutdown never marked the manager closed")
		}
		time.Sleep(time.Millisecond)
	}
	close(release)

	if err := <-errc; err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	final, err := f.manager.Get(context.Background(), job.ID)
	if err != nil {
		t.Fatal(err)
	}
	if final.Status != domain.JobCancelled {
		t.Errorf("status after shutdown = %s, want cancelled", final.Status)
	}
	if final.Download.Completed != 1 {
		t.Errorf("download phase = %+v, want the in-flight video finished", final.Download)
	}

	if _, err := f.manager.Create(context.Background(), 1, domain.KindDownload); !errors.Is(err, domain.ErrConflict) {
		t.Errorf("Create after Shutdown: err = %v, want ErrConflict", err)
	}
}

func TestCreateRollsBackWhenPersistFails(t *testing.T) {
	f := newFixture(t)
	f.repo.createErr = fmt.Errorf("%w: connection reset", domain.ErrRepository)

	if _, err := f.manager.Create(context.Background(), 1, domain.KindDownload); !errors.Is(err, domain.ErrRepository) {
		t.Fatalf("err = %v, want ErrRepository", err)
	}

	// The admission slot must be free again.
	f.repo.createErr = nil
	job, err := f.manager.Create(context.Background(), 1, domain.KindDownload)
	if err != nil {
		t.Fatalf("Create after rollback: %v", err)
	}
	waitTerminal(t, f, job.ID)
}
