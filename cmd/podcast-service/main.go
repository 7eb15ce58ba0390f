// main package for the podcast-service
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

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/bootstrap"
	"github.com/book-expert/podcast-service/internal/cleanup"
	"github.com/book-expert/podcast-service/internal/config"
	"github.com/book-expert/podcast-service/internal/content"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/generator"
	"github.com/book-expert/podcast-service/internal/httpapi"
	"github.com/book-expert/podcast-service/internal/lifecycle"
	"github.com/book-expert/podcast-service/internal/metrics"
	"github.com/book-expert/podcast-service/internal/storage"
	"github.com/book-expert/podcast-service/internal/synthesis"
	"github.com/book-expert/podcast-service/internal/worker"
	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func setupLogger(logPath, fileName string) (*logger.Logger, error) {
	log, err := logger.New(logPath, fileName)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	return log, nil
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 1. Create a temporary logger for the bootstrap process
	bootstrapLog, err := setupLogger(os.TempDir(), "podcast-service-bootstrap.log")
	if err != nil {
		fmt.Fprintf(os.Stderr, "FATAL: Failed to create bootstrap logger: %v\n", err)

		return err
	}

	defer func() {
		closeErr := bootstrapLog.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing bootstrap logger: %v\n", closeErr)
		}
	}()

	// 2. Load configuration using the central configurator
	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		bootstrapLog.Error("Failed to load configuration: %v", err)

		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// 3. Initialize the final logger based on the loaded configuration
	log, err := setupLogger(cfg.Paths.BaseLogsDir, "podcast-service.log")
	if err != nil {
		bootstrapLog.Error("Failed to create final logger: %v", err)

		return fmt.Errorf("failed to create final logger: %w", err)
	}

	defer func() {
		closeErr := log.Close()
		if closeErr != nil {
			fmt.Fprintf(os.Stderr, "error closing final logger: %v\n", closeErr)
		}
	}()

	// 4. Connect storage and the database
	db, repo, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		log.Error("%v", err)

		return err
	}

	objects, natsConnection, err := bootstrap.OpenObjectStore(ctx, cfg)
	if natsConnection != nil {
		defer natsConnection.Close()
	}

	if err != nil {
		log.Error("Failed to open object store: %v", err)

		return fmt.Errorf("failed to open object store: %w", err)
	}

	// 5. Wire the pipeline
	clock := core.SystemClock{}
	collectors := metrics.New()
	manager := storage.NewManager(objects, storage.Options{
		KeyPrefix:     cfg.Storage.KeyPrefix,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		Retention:     cfg.Storage.Retention(),
		Clock:         clock,
		TokenFunc:     nil,
	})

	client := synthesis.NewHTTPClient(synthesis.ClientOptions{
		BaseURL:           cfg.Synthesis.BaseURL,
		APIKey:            cfg.Synthesis.APIKey,
		Timeout:           cfg.Synthesis.Timeout(),
		RequestsPerSecond: cfg.Synthesis.RequestsPerSecond,
		HTTPClient:        nil,
	})

	synthesizer := synthesis.NewFallbackSynthesizer(
		synthesis.NewDialogueSynthesizer(client, synthesis.RetryPolicy{
			Interval:    cfg.Synthesis.PollInterval(),
			MaxAttempts: cfg.Synthesis.PollMaxAttempts,
		}, clock, cfg.Synthesis.ModelID),
		synthesis.NewSpeechSynthesizer(
			client,
			cfg.Synthesis.FallbackVoiceID,
			cfg.Synthesis.FallbackModelID,
			cfg.Synthesis.FallbackMaxChars,
		),
		log,
	)

	audioGenerator := generator.New(generator.Config{
		Preparer:            content.NewPreparer(cfg.Synthesis.DialogueMaxChars),
		Synthesizer:         synthesizer,
		Streamer:            client,
		Storage:             manager,
		Metrics:             collectors,
		Log:                 log,
		ModelID:             cfg.Synthesis.ModelID,
		StreamExpectedBytes: cfg.Synthesis.StreamExpectedBytes,
	})

	podcasts := lifecycle.NewService(repo, audioGenerator, clock, cfg.Storage.Retention(), log)
	cleaner := cleanup.NewService(repo, manager, log, cleanup.Options{
		StaleAfter:  cfg.Cleanup.StaleFailedAfter(),
		Concurrency: cfg.Cleanup.SweepConcurrency,
		Clock:       clock,
		Metrics:     collectors,
	})

	// 6. Start the cleanup schedule
	if cfg.Cleanup.Enabled {
		scheduler := cleanup.NewScheduler(cleaner, log, time.UTC)

		_, scheduleErr := scheduler.Schedule(cfg.Cleanup.Schedule)
		if scheduleErr != nil {
			log.Error("%v", scheduleErr)

			return scheduleErr
		}

		scheduler.Start()
		defer scheduler.Stop()

		log.Info("Cleanup scheduled: %s", cfg.Cleanup.Schedule)
	}

	// 7. Serve HTTP and NATS until a shutdown signal arrives
	var natsWorker *worker.NatsWorker

	if natsConnection != nil {
		natsWorker, err = worker.NewNatsWorker(natsConnection, cfg.NATS.GenerateSubject, objects, podcasts, clock, log)
		if err != nil {
			return fmt.Errorf("failed to create worker: %w", err)
		}
	}

	gin.SetMode(gin.ReleaseMode)

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           httpapi.NewRouter(httpapi.NewHandlers(podcasts, cleaner, client, collectors, log)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	group, groupCtx := errgroup.WithContext(ctx)

	group.Go(func() error {
		log.System("HTTP API listening on %s", cfg.HTTP.Addr)

		serveErr := server.ListenAndServe()
		if serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", serveErr)
		}

		return nil
	})

	group.Go(func() error {
		<-groupCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		return server.Shutdown(shutdownCtx)
	})

	if natsWorker != nil {
		group.Go(func() error { return natsWorker.Run(groupCtx) })
	}

	waitErr := group.Wait()

	sqlDB, dbErr := db.DB()
	if dbErr == nil {
		_ = sqlDB.Close()
	}

	if waitErr != nil {
		log.Error("Service stopped with error: %v", waitErr)

		return waitErr
	}

	log.System("Podcast service stopped.")

	return nil
}

func main() {
	err := run()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Service exited with error: %v\n", err)
		os.Exit(1)
	}
}
