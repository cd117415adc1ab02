package ports

import "playlistsync/internal/domain"

// EventPublisher fans domain events out to stream subscribers. Publish must
// never block the caller; delivery is best-effort and lossy under
// backpressure.
type EventPublisher interface {
	Publish(event domain.Event)
}
