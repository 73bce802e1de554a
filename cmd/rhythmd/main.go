package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/netscane/rhythm/internal/admin"
	"github.com/netscane/rhythm/internal/config"
	"github.com/netscane/rhythm/internal/repository"
	"github.com/netscane/rhythm/internal/repository/postgres"
	"github.com/netscane/rhythm/pkg/metrics"
)

const shutdownFlushTimeout = 30 * time.Second

func main() {
	configPath := flag.String("config", "rhythm.yaml", "path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load config", "path", *configPath, "error", err)
		os.Exit(1)
	}
	initLogger(cfg.Logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := postgres.Open(cfg.DB.DSN)
	if err != nil {
		slog.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	registry := prometheus.NewRegistry()
	opts := repository.Options{
		ThresholdBytes: cfg.Buffer.FlushThresholdBytes,
		FlushTimeout:   cfg.Buffer.FlushTimeout(),
		MaxPending:     cfg.Buffer.MaxPending,
		FlushRetries:   uint64(cfg.Buffer.FlushRetries),
		Logger:         slog.Default(),
		Metrics:        metrics.NewPrometheus(registry),
	}

	artists, err := repository.NewBufferedArtists(opts, postgres.NewArtistStore(db))
	if err != nil {
		slog.Error("failed to build artist repository", "error", err)
		os.Exit(1)
	}
	albums, err := repository.NewBufferedAlbums(opts, postgres.NewAlbumStore(db))
	if err != nil {
		slog.Error("failed to build album repository", "error", err)
		os.Exit(1)
	}
	tracks, err := repository.NewBufferedTracks(opts, postgres.NewTrackStore(db))
	if err != nil {
		slog.Error("failed to build track repository", "error", err)
		os.Exit(1)
	}
	genres, err := repository.NewBufferedGenres(opts, postgres.NewGenreStore(db))
	if err != nil {
		slog.Error("failed to build genre repository", "error", err)
		os.Exit(1)
	}
	coverStore, err := postgres.NewCoverArtStore(db)
	if err != nil {
		slog.Error("failed to build cover art store", "error", err)
		os.Exit(1)
	}
	defer coverStore.Close()
	covers, err := repository.NewBufferedCoverArt(opts, coverStore)
	if err != nil {
		slog.Error("failed to build cover art repository", "error", err)
		os.Exit(1)
	}

	// The Set is what the API and scanner layers consume; the caches
	// front the heaviest-read aggregates.
	repos, err := repository.NewSet(artists, albums, tracks, genres, covers, cfg.Cache.Capacity)
	if err != nil {
		slog.Error("failed to assemble repository layer", "error", err)
		os.Exit(1)
	}

	adminSrv := admin.NewServer(cfg.Admin.Port, registry,
		artists, albums, tracks, genres, covers)
	adminSrv.Start()
	slog.Info("rhythmd started", "admin_port", cfg.Admin.Port)

	<-ctx.Done()
	slog.Info("shutting down, flushing buffers")

	flushCtx, flushCancel := context.WithTimeout(context.Background(), shutdownFlushTimeout)
	defer flushCancel()
	if err := repos.Close(flushCtx); err != nil {
		slog.Error("failed to flush buffers at shutdown", "error", err)
	}
	if err := adminSrv.Stop(); err != nil {
		slog.Error("failed to stop admin server", "error", err)
	}
	slog.Info("rhythmd stopped")
}
