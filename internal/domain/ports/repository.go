package ports

import (
	"context"

	"playlistsync/internal/domain"
)

type PlaylistRepository interface {
	NextID(ctx context.Context) (domain.PlaylistID, error)
	Create(ctx context.Context, p domain.Playlist) error
	Update(ctx context.Context, p domain.Playlist) error
	Get(ctx context.Context, id domain.PlaylistID) (domain.Playlist, error)
	List(ctx context.Context) ([]domain.Playlist, error)
	Delete(ctx context.Context, id domain.PlaylistID) error
}

type JobRepository interface {
	Create(ctx context.Context, j domain.Job) error
	Update(ctx context.Context, j domain.Job) error
	Get(ctx context.Context, id domain.JobID) (domain.Job, error)
	List(ctx context.Context) ([]domain.Job, error)
	// FailRunning marks every pending or running job as failed with the
	// given error message and returns how many were touched. Used once at
	// startup to reconcile jobs interrupted by a restart.
	FailRunning(ctx context.Context, errMsg string) (int64, error)
}
