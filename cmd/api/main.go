package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"flowgen/internal/artifact"
	"flowgen/internal/browser"
	"flowgen/internal/credentials"
	"flowgen/internal/driver"
	"flowgen/internal/http/handlers"
	"flowgen/internal/http/httpapi"
	"flowgen/internal/infra"
	"flowgen/internal/orchestrator"
	"flowgen/internal/registry"
)

func main() {
	_ = godotenv.Load()

	cfg, err := infra.LoadConfig()
	if err != nil {
		panic(err)
	}
	logger := infra.NewLogger(cfg.AppEnv, cfg.LogLevel)

	creds, err := credentials.NewStore(cfg.CredentialsPath)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to load credentials store")
	}

	store, err := newArtifactStore(cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to set up artifact storage")
	}

	launch := browser.Launcher(browser.Config{
		BaseURL:       cfg.TargetURL,
		WorkspaceURL:  cfg.WorkspaceURL,
		UserAgent:     cfg.BrowserUserAgent,
		NavTimeout:    cfg.NavigationTimeout,
		SubmitRetries: cfg.SubmitRetryAttempts,
	}, logger)

	drv, err := driver.New(launch, creds, store, logger, driver.Config{
		PollInterval: cfg.PollInterval,
		WaitBudget:   cfg.GenerationTimeout,
		SettleDelay:  cfg.SettleDelay,
	})
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build automation driver")
	}

	jobs := registry.New()
	orch := orchestrator.New(jobs, drv, logger, orchestrator.Config{
		MaxConcurrent:        cfg.MaxConcurrentJobs,
		DefaultHeadless:      cfg.Headless,
		CancelAbandonedWaits: cfg.CancelAbandonedWaits,
	})

	app := &handlers.App{
		Config:      cfg,
		Logger:      logger,
		Jobs:        orch,
		Registry:    jobs,
		Credentials: creds,
		Artifacts:   store,
	}
	router := httpapi.NewRouter(app)

	server := infra.NewHTTPServer(infra.HTTPServerOptions{
		Port:         cfg.Port,
		Handler:      router,
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}, logger)

	go func() {
		if err := server.Start(); err != nil {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	logger.Info().Msg("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown server")
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("jobs still running at shutdown deadline")
	}
	logger.Info().Msg("server stopped")
}

func newArtifactStore(cfg *infra.Config, logger infra.Logger) (artifact.Store, error) {
	switch cfg.StorageBackend {
	case "s3":
		store, err := artifact.NewS3Store(artifact.S3Config{
			Endpoint:  cfg.S3Endpoint,
			AccessKey: cfg.S3AccessKey,
			SecretKey: cfg.S3SecretKey,
			Bucket:    cfg.S3Bucket,
			Region:    cfg.S3Region,
			UseSSL:    cfg.S3UseSSL,
		})
		if err != nil {
			return nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, err
		}
		logger.Info().Str("bucket", cfg.S3Bucket).Msg("using s3 artifact storage")
		return store, nil
	default:
		store, err := artifact.NewFileStore(cfg.StoragePath)
		if err != nil {
			return nil, err
		}
		logger.Info().Str("path", store.BasePath()).Msg("using filesystem artifact storage")
		return store, nil
	}
}
