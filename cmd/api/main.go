package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"echoes/internal/adapter/repo"
	"echoes/internal/domain"
	"echoes/internal/http/handlers"
	httpapi "echoes/internal/http/httpapi"
	"echoes/internal/infra"
	"echoes/internal/jobs"
	"echoes/internal/providers/fal"
	"echoes/internal/queue"
	"echoes/internal/storage"
	"echoes/migrations"
)

func main() {
	// .env is optional
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Job records: PostgreSQL when configured, process memory otherwise.
	var jobRepo domain.JobRepository
	if cfg.DatabaseURL != "" {
		pool, err := infra.NewDBPool(ctx, cfg)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to connect database")
		}
		defer pool.Close()
		if err := infra.Migrate(ctx, pool, migrations.FS, logger); err != nil {
			logger.Fatal().Err(err).Msg("failed to migrate database")
		}
		pgRepo := repo.NewJobRepository(infra.NewSQLRunner(pool, logger))
		if n, err := pgRepo.FailInterrupted(ctx); err != nil {
			logger.Warn().Err(err).Msg("failed to close interrupted jobs")
		} else if n > 0 {
			logger.Warn().Int64("jobs", n).Msg("marked interrupted jobs as failed")
		}
		jobRepo = pgRepo
	} else {
		logger.Warn().Msg("DATABASE_URL not set, job records are kept in memory")
		jobRepo = repo.NewJobRepositoryMemory()
	}

	httpClient := &http.Client{Timeout: cfg.UpstreamTimeout}
	client := queue.NewClient(
		queue.WithHTTPClient(httpClient),
		queue.WithLogger(&logger),
		queue.WithPollInterval(cfg.PollInterval),
	)

	registry := queue.NewRegistry()
	err = fal.Register(registry, fal.Options{
		QueueBaseURL: cfg.FalQueueBaseURL,
		Storage: fal.NewStorage(fal.StorageOptions{
			UploadURL: cfg.FalStorageURL,
			Logger:    &logger,
		}),
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to register job kinds")
	}

	trackerOpts := []jobs.TrackerOption{jobs.WithLogger(&logger)}
	var fileStore *storage.FileStore
	if cfg.StoragePath != "" {
		storagePath := cfg.StoragePath
		if abs, err := filepath.Abs(storagePath); err == nil {
			storagePath = abs
		}
		fileStore, err = storage.NewFileStore(storagePath)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to configure storage")
		}
		trackerOpts = append(trackerOpts, jobs.WithMirror(jobs.NewMirror(fileStore, jobs.MirrorOptions{Logger: &logger})))
	}
	tracker := jobs.NewTracker(client, registry, jobRepo, trackerOpts...)

	app := handlers.NewApp(tracker, client, registry, &logger)
	staticDir := ""
	if fileStore != nil {
		app.Files = fileStore
		app.StorageBaseURL = cfg.StorageBaseURL
		staticDir = fileStore.BasePath()
	}
	router := httpapi.NewRouter(app, httpapi.Options{
		Logger:             logger,
		RateLimitPerMin:    cfg.RateLimitPerMin,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		StaticDir:          staticDir,
	})

	server := infra.NewHTTPServer(cfg, router)

	go func() {
		logger.Info().
			Str("addr", server.Addr()).
			Strs("kinds", registry.Kinds()).
			Msg("API listening")
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTPIdleTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := tracker.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to stop running jobs")
	}
	logger.Info().Msg("server stopped")
}
