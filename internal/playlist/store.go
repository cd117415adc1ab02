package playlist

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"playlistsync/internal/archive"
	"playlistsync/internal/domain"
	"playlistsync/internal/domain/ports"
)

// Store owns the playlist registry. All mutations go through it so that
// every change persists to the repository and emits exactly one
// PlaylistUpdated event.
type Store struct {
	repo      ports.PlaylistRepository
	fetcher   ports.MetadataFetcher
	publisher ports.EventPublisher
	basePath  func() string
	logger    *slog.Logger
	now       func() time.Time
}

// NewStore wires the registry against its repository, metadata fetcher,
// event publisher and the download-root provider.
func NewStore(repo ports.PlaylistRepository, fetcher ports.MetadataFetcher, publisher ports.EventPublisher, basePath func() string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	if basePath == nil {
		basePath = func() string { return "" }
	}
	return &Store{
		repo:      repo,
		fetcher:   fetcher,
		publisher: publisher,
		basePath:  basePath,
		logger:    logger,
		now:       time.Now,
	}
}

// Dir returns the playlist folder under the current download root.
func (s *Store) Dir(p domain.Playlist) string {
	return Dir(s.basePath(), p)
}

// AudioDir returns the nested audio output folder for a playlist.
func (s *Store) AudioDir(p domain.Playlist) string {
	return AudioDir(s.basePath(), p)
}

// List returns all registered playlists ordered by ID.
func (s *Store) List(ctx context.Context) ([]domain.Playlist, error) {
	return s.repo.List(ctx)
}

// Get returns one playlist by ID.
func (s *Store) Get(ctx context.Context, id domain.PlaylistID) (domain.Playlist, error) {
	return s.repo.Get(ctx, id)
}

// Create registers a playlist URL. The remote metadata fetch happens before
// anything persists, so a dead URL never allocates an ID.
func (s *Store) Create(ctx context.Context, rawURL string) (domain.Playlist, error) {
	cleanURL, err := validateURL(rawURL)
	if err != nil {
		return domain.Playlist{}, err
	}

	meta, err := s.fetcher.FetchPlaylistMetadata(ctx, cleanURL)
	if err != nil {
		return domain.Playlist{}, fmt.Errorf("fetch playlist metadata: %w", err)
	}

	id, err := s.repo.NextID(ctx)
	if err != nil {
		return domain.Playlist{}, err
	}

	now := s.now()
	available, unavailable := meta.AvailableCounts()
	p := domain.Playlist{
		ID:    id,
		URL:   cleanURL,
		Title: meta.Title,
		Counts: domain.VideoCounts{
			RemoteAvailable:   available,
			RemoteUnavailable: unavailable,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
	// Re-registering a playlist whose folder survived an earlier delete
	// picks the archived videos back up.
	p.Counts.Local = s.localCount(p)

	if err := s.repo.Create(ctx, p); err != nil {
		return domain.Playlist{}, err
	}

	if base := s.basePath(); base != "" {
		if err := writeSnapshot(Dir(base, p), meta, now); err != nil {
			s.logger.Warn("initial snapshot write failed",
				slog.Int64("playlistId", int64(p.ID)),
				slog.String("error", err.Error()),
			)
		}
	}

	s.logger.Info("playlist registered",
		slog.Int64("playlistId", int64(p.ID)),
		slog.String("title", p.Title),
		slog.Int("entries", len(meta.Entries)),
	)
	s.publishUpdated(p.ID)
	return p, nil
}

// Update applies a partial patch. When the excluded set is replaced, entries
// for videos already present in the archive are dropped so a successfully
// downloaded video can never stay excluded.
func (s *Store) Update(ctx context.Context, id domain.PlaylistID, patch domain.PlaylistPatch) (domain.Playlist, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.Playlist{}, err
	}
	// The archive lives under the folder derived from the stored title, so
	// resolve it before a title patch moves future operations elsewhere.
	dir := s.Dir(p)

	if patch.URL != nil {
		cleanURL, err := validateURL(*patch.URL)
		if err != nil {
			return domain.Playlist{}, err
		}
		p.URL = cleanURL
	}
	if patch.Title != nil {
		p.Title = strings.TrimSpace(*patch.Title)
	}
	if patch.Excluded != nil {
		p.Excluded = s.dropArchived(dir, *patch.Excluded)
	}
	if err := p.Validate(); err != nil {
		return domain.Playlist{}, fmt.Errorf("%w: %s", domain.ErrInvalidInput, err)
	}

	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		return domain.Playlist{}, err
	}
	s.publishUpdated(p.ID)
	return p, nil
}

// Delete removes the registry entry. Files on disk are preserved.
func (s *Store) Delete(ctx context.Context, id domain.PlaylistID) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("playlist deleted", slog.Int64("playlistId", int64(id)))
	s.publishUpdated(id)
	return nil
}

// RefreshStats returns the playlist metadata, fetching from the remote
// platform at most once per local day unless force is set. A fresh fetch
// recounts local and remote videos and persists the snapshot.
func (s *Store) RefreshStats(ctx context.Context, id domain.PlaylistID, force bool) (domain.PlaylistMetadata, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return domain.PlaylistMetadata{}, err
	}
	dir := s.Dir(p)
	now := s.now()

	if !force && snapshotFresh(dir, now) {
		meta, err := readSnapshot(dir)
		if err == nil {
			return meta, nil
		}
		s.logger.Warn("cached snapshot unreadable, refetching",
			slog.Int64("playlistId", int64(p.ID)),
			slog.String("error", err.Error()),
		)
	}

	meta, err := s.fetcher.FetchPlaylistMetadata(ctx, p.URL)
	if err != nil {
		return domain.PlaylistMetadata{}, fmt.Errorf("fetch playlist metadata: %w", err)
	}

	if base := s.basePath(); base != "" {
		if err := writeSnapshot(dir, meta, now); err != nil {
			s.logger.Warn("snapshot write failed",
				slog.Int64("playlistId", int64(p.ID)),
				slog.String("error", err.Error()),
			)
		}
	}

	available, unavailable := meta.AvailableCounts()
	p.Counts = domain.VideoCounts{
		Local:             s.localCount(p),
		RemoteAvailable:   available,
		RemoteUnavailable: unavailable,
	}
	p.UpdatedAt = now
	if err := s.repo.Update(ctx, p); err != nil {
		return domain.PlaylistMetadata{}, err
	}
	s.publishUpdated(p.ID)
	return meta, nil
}

// ApplyExclusionFromEngine records a download failure against the playlist.
// Every failure is recorded for inspection; the returned class tells the
// engine whether the video may be retried.
func (s *Store) ApplyExclusionFromEngine(ctx context.Context, id domain.PlaylistID, videoID, errMsg string) (domain.FailureClass, error) {
	class := domain.ClassifyFailure(errMsg)

	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return class, err
	}

	entry := domain.ExcludedVideo{
		VideoID: videoID,
		Reason:  errMsg,
		Class:   class,
		At:      s.now(),
	}
	replaced := false
	for i := range p.Excluded {
		if p.Excluded[i].VideoID == videoID {
			p.Excluded[i] = entry
			replaced = true
			break
		}
	}
	if !replaced {
		p.Excluded = append(p.Excluded, entry)
	}

	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		return class, err
	}
	s.publishUpdated(p.ID)
	return class, nil
}

// MarkDownloadDone stamps the last successful download pass.
func (s *Store) MarkDownloadDone(ctx context.Context, id domain.PlaylistID, at time.Time) error {
	return s.markDone(ctx, id, func(p *domain.Playlist) { p.LastDownloadAt = &at })
}

// MarkExtractDone stamps the last successful extraction pass.
func (s *Store) MarkExtractDone(ctx context.Context, id domain.PlaylistID, at time.Time) error {
	return s.markDone(ctx, id, func(p *domain.Playlist) { p.LastExtractAt = &at })
}

func (s *Store) markDone(ctx context.Context, id domain.PlaylistID, stamp func(*domain.Playlist)) error {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return err
	}
	stamp(&p)
	p.UpdatedAt = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		return err
	}
	s.publishUpdated(p.ID)
	return nil
}

// localCount counts archived videos in the playlist folder. Zero when the
// download root is not configured or the archive cannot be read.
func (s *Store) localCount(p domain.Playlist) int {
	base := s.basePath()
	if base == "" {
		return 0
	}
	ids, err := archive.ReadIDs(Dir(base, p))
	if err != nil {
		s.logger.Warn("archive read failed",
			slog.Int64("playlistId", int64(p.ID)),
			slog.String("error", err.Error()),
		)
		return 0
	}
	return len(ids)
}

// dropArchived filters excluded entries whose video already has an archive
// line in the given playlist folder.
func (s *Store) dropArchived(dir string, entries []domain.ExcludedVideo) []domain.ExcludedVideo {
	if len(entries) == 0 || s.basePath() == "" {
		return entries
	}
	archived, err := archive.ReadIDs(dir)
	if err != nil {
		s.logger.Warn("archive read failed", slog.String("error", err.Error()))
		return entries
	}
	kept := entries[:0:0]
	for _, e := range entries {
		if _, ok := archived[e.VideoID]; ok {
			continue
		}
		kept = append(kept, e)
	}
	return kept
}

func (s *Store) publishUpdated(id domain.PlaylistID) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(domain.PlaylistUpdatedEvent{PlaylistID: id})
}

func validateURL(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: playlist url is required", domain.ErrInvalidInput)
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w: malformed playlist url %q", domain.ErrInvalidInput, raw)
	}
	return raw, nil
}
