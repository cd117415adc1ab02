package apihttp

import (
	"context"
	"log/slog"
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"playlistsync/internal/app"
	"playlistsync/internal/bus"
	"playlistsync/internal/domain"
)

// PlaylistService is the slice of the playlist store the API consumes.
type PlaylistService interface {
	List(ctx context.Context) ([]domain.Playlist, error)
	Get(ctx context.Context, id domain.PlaylistID) (domain.Playlist, error)
	Create(ctx context.Context, rawURL string) (domain.Playlist, error)
	Update(ctx context.Context, id domain.PlaylistID, patch domain.PlaylistPatch) (domain.Playlist, error)
	Delete(ctx context.Context, id domain.PlaylistID) error
	RefreshStats(ctx context.Context, id domain.PlaylistID, force bool) (domain.PlaylistMetadata, error)
}

// JobService is the slice of the job manager the API consumes.
type JobService interface {
	Create(ctx context.Context, playlistID domain.PlaylistID, kind domain.JobKind) (domain.Job, error)
	Get(ctx context.Context, id domain.JobID) (domain.Job, error)
	List(ctx context.Context) ([]domain.Job, error)
	Cancel(ctx context.Context, id domain.JobID) (domain.Job, error)
	Logs(ctx context.Context, id domain.JobID, lines int) ([]string, error)
	ActiveCount() int
}

// SettingsService exposes the runtime settings manager to the API.
type SettingsService interface {
	View() app.SettingsView
	Update(next app.Settings) error
	NeedsSetup() bool
}

// Pinger reports whether a backing dependency is reachable.
type Pinger func(ctx context.Context) error

// Server hosts the REST API, the event stream and the operational endpoints.
type Server struct {
	playlists PlaylistService
	jobs      JobService
	settings  SettingsService
	events    *bus.Bus
	pingDB    Pinger

	allowedOrigins []string
	logger         *slog.Logger
	handler        http.Handler

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// ServerOption configures optional Server dependencies.
type ServerOption func(*Server)

// WithLogger sets the logger used for request logs and handler errors.
func WithLogger(logger *slog.Logger) ServerOption {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithJobs wires the job manager behind /api/jobs.
func WithJobs(jobs JobService) ServerOption {
	return func(s *Server) { s.jobs = jobs }
}

// WithSettings wires the runtime settings manager behind /api/settings.
func WithSettings(settings SettingsService) ServerOption {
	return func(s *Server) { s.settings = settings }
}

// WithEventBus wires the event bus behind /ws.
func WithEventBus(events *bus.Bus) ServerOption {
	return func(s *Server) { s.events = events }
}

// WithDatabasePinger supplies the connectivity probe reported by /healthz.
func WithDatabasePinger(ping Pinger) ServerOption {
	return func(s *Server) { s.pingDB = ping }
}

// WithAllowedOrigins restricts CORS to the given origins. When empty
// (the default) any origin is permitted, which suits local development.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) { s.allowedOrigins = origins }
}

// NewServer assembles the HTTP API around the playlist service.
func NewServer(playlists PlaylistService, opts ...ServerOption) *Server {
	s := &Server{
		playlists: playlists,
		logger:    slog.Default(),
		clients:   make(map[*wsClient]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", s.handleHealthz)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/api/playlists", s.handlePlaylists)
	mux.HandleFunc("/api/playlists/", s.handlePlaylistByID)
	mux.HandleFunc("/api/jobs", s.handleJobs)
	mux.HandleFunc("/api/jobs/", s.handleJobByID)
	mux.HandleFunc("/api/settings", s.handleSettings)
	mux.HandleFunc("/ws", s.handleWS)

	traced := otelhttp.NewHandler(
		loggingMiddleware(s.logger, mux),
		"playlist-engine",
		otelhttp.WithFilter(func(r *http.Request) bool {
			return r.URL.Path != "/metrics" && r.URL.Path != "/healthz"
		}),
	)

	s.handler = recoveryMiddleware(s.logger, rateLimitMiddleware(100, 200, metricsMiddleware(corsMiddleware(s.allowedOrigins, traced))))
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Close disconnects every websocket client. Each client unregisters
// itself as its read loop unwinds, which also settles the client gauge.
// Pending HTTP requests are the responsibility of http.Server.Shutdown.
func (s *Server) Close() {
	s.mu.Lock()
	clients := make([]*wsClient, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.shutdown()
	}
}
