package ports

import (
	"context"

	"playlistsync/internal/domain"
)

// AudioExtractor converts one source video into one target audio file.
// Idempotent: an existing non-empty target is success without work.
type AudioExtractor interface {
	ExtractOne(ctx context.Context, sourceVideo, targetAudio string, mode domain.ExtractMode) error
}
