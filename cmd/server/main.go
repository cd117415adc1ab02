package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	apihttp "playlistsync/internal/api/http"
	"playlistsync/internal/app"
	"playlistsync/internal/bus"
	"playlistsync/internal/jobs"
	"playlistsync/internal/metrics"
	"playlistsync/internal/playlist"
	mongorepo "playlistsync/internal/repository/mongo"
	"playlistsync/internal/services/download/ytdlp"
	"playlistsync/internal/services/extract/ffmpeg"
	"playlistsync/internal/services/extract/ffprobe"
	"playlistsync/internal/telemetry"

	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.opentelemetry.io/contrib/instrumentation/go.mongodb.org/mongo-driver/mongo/otelmongo"
)

func main() {
	cfg := app.LoadConfig()
	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)
	metrics.Register(prometheus.DefaultRegisterer)

	shutdownTracer, err := telemetry.Init(context.Background(), "playlist-engine")
	if err != nil {
		logger.Warn("otel init failed", slog.String("error", err.Error()))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	logger.Info("configuration loaded",
		slog.String("service", "playlist-engine"),
		slog.String("httpAddr", cfg.HTTPAddr),
		slog.String("logLevel", cfg.LogLevel),
		slog.String("logFormat", cfg.LogFormat),
		slog.String("settingsPath", cfg.SettingsPath),
		slog.String("mongoDb", cfg.MongoDatabase),
		slog.String("ytdlpPath", cfg.YTDLPPath),
		slog.String("ffmpegPath", cfg.FFMPEGPath),
	)

	rootCtx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	ctx, cancel := context.WithTimeout(rootCtx, 10*time.Second)
	defer cancel()

	mongoMonitor := otelmongo.NewMonitor()
	mongoClient, err := mongorepo.Connect(ctx, cfg.MongoURI, options.Client().SetMonitor(mongoMonitor))
	if err != nil {
		logger.Error("mongo connect failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if err := mongoClient.Ping(ctx, readpref.Primary()); err != nil {
		logger.Error("mongo ping failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	playlistRepo := mongorepo.NewPlaylistRepository(mongoClient, cfg.MongoDatabase)
	jobRepo := mongorepo.NewJobRepository(mongoClient, cfg.MongoDatabase)

	if err := playlistRepo.EnsureIndexes(ctx); err != nil {
		logger.Warn("playlist ensure indexes failed", slog.String("error", err.Error()))
	}
	if err := jobRepo.EnsureIndexes(ctx); err != nil {
		logger.Warn("job ensure indexes failed", slog.String("error", err.Error()))
	}

	// Jobs that were running when the previous process exited can never
	// finish now; mark them failed so the history stays truthful.
	if count, err := jobRepo.FailRunning(ctx, "interrupted by restart"); err != nil {
		logger.Warn("job reconciliation failed", slog.String("error", err.Error()))
	} else if count > 0 {
		logger.Info("marked interrupted jobs as failed", slog.Int64("count", count))
	}

	settings, err := app.LoadSettingsManager(cfg.SettingsPath)
	if err != nil {
		logger.Error("settings load failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	if settings.NeedsSetup() {
		logger.Warn("base download path not configured, jobs are rejected until settings are saved")
	}

	events := bus.New(logger)

	downloader := ytdlp.New(cfg.YTDLPPath, time.Duration(cfg.MetadataTimeoutSeconds)*time.Second)
	prober := ffprobe.New(cfg.FFProbePath)
	extractor := ffmpeg.New(cfg.FFMPEGPath, prober)

	playlists := playlist.NewStore(playlistRepo, downloader, events, settings.BasePath, logger)

	manager := jobs.NewManager(jobs.Config{
		Playlists:  playlists,
		Downloader: downloader,
		Extractor:  extractor,
		Repo:       jobRepo,
		Settings:   settings,
		Bus:        events,
		Logger:     logger,
	})

	handler := apihttp.NewServer(playlists,
		apihttp.WithLogger(logger),
		apihttp.WithJobs(manager),
		apihttp.WithSettings(settings),
		apihttp.WithEventBus(events),
		apihttp.WithDatabasePinger(func(ctx context.Context) error {
			return mongoClient.Ping(ctx, readpref.Primary())
		}),
		apihttp.WithAllowedOrigins(cfg.CORSAllowedOrigins),
	)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	logger.Info("server started", slog.String("addr", cfg.HTTPAddr))

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", slog.String("error", err.Error()))
			os.Exit(1)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Running jobs persist their terminal state during Shutdown, so the
	// manager must stop before the bus and the mongo client go away.
	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Warn("job manager shutdown error", slog.String("error", err.Error()))
	}
	handler.Close()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown error", slog.String("error", err.Error()))
	}
	events.Close()
	if err := mongoClient.Disconnect(context.Background()); err != nil {
		logger.Warn("mongo disconnect error", slog.String("error", err.Error()))
	}

	logger.Info("server stopped")
}

func newLogger(levelRaw, formatRaw string) *slog.Logger {
	level := parseLogLevel(levelRaw)
	options := &slog.HandlerOptions{Level: level}
	format := strings.ToLower(strings.TrimSpace(formatRaw))
	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, options))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, options))
}

func parseLogLevel(raw string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
