package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"github.com/SakshamManav/File-Synchronization/backend/internal/config"
	"github.com/SakshamManav/File-Synchronization/backend/internal/handler"
	sessionHandler "github.com/SakshamManav/File-Synchronization/backend/internal/handler/session"
	"github.com/SakshamManav/File-Synchronization/backend/internal/logger"
	"github.com/SakshamManav/File-Synchronization/backend/internal/mirror"
	"github.com/SakshamManav/File-Synchronization/backend/internal/model/session"
	"github.com/SakshamManav/File-Synchronization/backend/internal/service/ingest"
	sessionService "github.com/SakshamManav/File-Synchronization/backend/internal/service/session"
	"github.com/SakshamManav/File-Synchronization/backend/internal/service/sweep"
	watchService "github.com/SakshamManav/File-Synchronization/backend/internal/service/watch"
	"github.com/SakshamManav/File-Synchronization/backend/internal/store/redisstore"
	"github.com/SakshamManav/File-Synchronization/backend/internal/store/sqlitestore"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Load .env file
	envErr := godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	lg, err := logger.New(logger.Config{Level: cfg.Log.Level, Pretty: cfg.Log.Pretty, File: cfg.Log.File})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Close()

	if envErr != nil {
		log.Debug().Err(envErr).Msg("no .env file, using process environment only")
	}

	if err := run(ctx, cfg); err != nil {
		log.Error().Err(err).Msg("server stopped with error")
		lg.Close()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return err
	}
	defer store.Close()
	log.Info().Str("driver", cfg.Store.Driver).Msg("session store ready")

	sessions := sessionService.NewService(store, mirror.NewOS(cfg.Store.UploadDir), sessionService.Config{
		DefaultTTL:        cfg.Session.DefaultTTL,
		CreatorOrigins:    cfg.Origin.CreatorOrigins,
		CreatorUserAgents: cfg.Origin.CreatorUserAgents,
	})

	watcher := watchService.NewService(sessions, cfg.Session.WatchInterval)
	dirWatcher, err := watchService.NewDirWatcher(cfg.Store.UploadDir, watcher, log.Logger)
	if err != nil {
		// Streams still pick up disk changes on their ticker.
		log.Warn().Err(err).Str("dir", cfg.Store.UploadDir).Msg("filesystem notifications unavailable")
	} else {
		defer dirWatcher.Close()
	}

	ingestSvc := ingest.NewService(sessions,
		ingest.WithNotifier(watcher),
		ingest.WithMaxMessageLen(cfg.Session.MaxMessageLen),
	)

	scheduler, err := sweep.New(sessions, sweep.Options{
		SweepSchedule:     cfg.Session.SweepSchedule,
		KeepAliveSchedule: cfg.Session.KeepAliveSchedule,
		KeepAliveURL:      cfg.Session.KeepAliveURL,
	})
	if err != nil {
		return err
	}
	scheduler.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		scheduler.Stop(stopCtx)
	}()

	router := handler.NewRouter(sessions, ingestSvc, watcher, handler.Config{
		Session: sessionHandler.Config{
			PublicBaseURL:  cfg.Server.PublicBaseURL,
			MaxUploadBytes: cfg.Server.MaxUploadBytes,
			DefaultTTL:     cfg.Session.DefaultTTL,
		},
		CORSOrigins: cfg.Origin.AllowedOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           router,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		IdleTimeout:       120 * time.Second,
	}

	log.Info().
		Str("addr", cfg.Server.Addr).
		Str("upload_dir", cfg.Store.UploadDir).
		Dur("session_ttl", cfg.Session.DefaultTTL).
		Msg("file drop backend listening")
	return runServer(ctx, srv, cfg.Server.ShutdownTimeout)
}

func openStore(ctx context.Context, cfg config.StoreConfig) (session.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return session.NewMemoryStore(), nil
	case config.DriverRedis:
		return redisstore.New(ctx, redisstore.Options{
			URL:       cfg.ConnectionString,
			KeyPrefix: cfg.RedisKeyPrefix,
			PoolSize:  cfg.PoolSize,
		})
	default:
		return sqlitestore.Open(ctx, cfg.ConnectionString, cfg.PoolSize)
	}
}

func runServer(ctx context.Context, srv *http.Server, shutdownTimeout time.Duration) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}
