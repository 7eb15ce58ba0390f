// main package for the podcast-cleanup command, a one-shot runner for the
// lifecycle sweeps.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/bootstrap"
	"github.com/book-expert/podcast-service/internal/cleanup"
	"github.com/book-expert/podcast-service/internal/config"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/metrics"
	"github.com/book-expert/podcast-service/internal/repository"
	"github.com/book-expert/podcast-service/internal/storage"
)

// Flag names.
const (
	flagExpired = "expired"
	flagStale   = "stale"
	flagStats   = "stats"
	flagPodcast = "podcast"
)

// Flag descriptions.
const (
	flagExpiredDesc = "Delete processed podcasts whose retention has elapsed"
	flagStaleDesc   = "Delete podcasts that never finished processing within the grace period"
	flagStatsDesc   = "Print podcast counts and storage usage"
	flagPodcastDesc = "Delete one podcast and its audio immediately"
)

const logFileName = "podcast-cleanup.log"

var (
	errNoAction         = errors.New("one of --expired, --stale, --stats or --podcast must be provided")
	errPodcastExclusive = errors.New("--podcast cannot be combined with other actions")
)

// appFlags holds the parsed command-line flag values.
type appFlags struct {
	expired bool
	stale   bool
	stats   bool
	podcast string
}

// Cleaner is the subset of the cleanup service the command drives.
type Cleaner interface {
	SweepExpired(ctx context.Context) (*cleanup.Result, error)
	SweepStaleFailed(ctx context.Context) (*cleanup.Result, error)
	CleanupPodcast(ctx context.Context, id string) (*cleanup.Result, error)
	Stats(ctx context.Context) (*repository.Stats, error)
}

// report is printed as one JSON document per invocation.
type report struct {
	Expired *cleanup.Result   `json:"expired,omitempty"`
	Stale   *cleanup.Result   `json:"stale,omitempty"`
	Podcast *cleanup.Result   `json:"podcast,omitempty"`
	Stats   *repository.Stats `json:"stats,omitempty"`
}

func main() {
	err := run()
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
}

func run() error {
	flags, err := parseFlags(os.Args[1:])
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	bootstrapLog, err := logger.New(os.TempDir(), "podcast-cleanup-bootstrap.log")
	if err != nil {
		return fmt.Errorf("failed to create bootstrap logger: %w", err)
	}
	defer bootstrapLog.Close()

	cfg, err := config.Load(bootstrapLog)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cleanupLog, err := logger.New(cfg.Paths.BaseLogsDir, logFileName)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer cleanupLog.Close()

	db, repo, err := bootstrap.OpenDatabase(ctx, cfg)
	if err != nil {
		return err
	}

	defer func() {
		sqlDB, dbErr := db.DB()
		if dbErr == nil {
			_ = sqlDB.Close()
		}
	}()

	objects, natsConnection, err := bootstrap.OpenObjectStore(ctx, cfg)
	if natsConnection != nil {
		defer natsConnection.Close()
	}

	if err != nil {
		return fmt.Errorf("failed to open object store: %w", err)
	}

	manager := storage.NewManager(objects, storage.Options{
		KeyPrefix:     cfg.Storage.KeyPrefix,
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		Retention:     cfg.Storage.Retention(),
		Clock:         core.SystemClock{},
		TokenFunc:     nil,
	})

	service := cleanup.NewService(repo, manager, cleanupLog, cleanup.Options{
		StaleAfter:  cfg.Cleanup.StaleFailedAfter(),
		Concurrency: cfg.Cleanup.SweepConcurrency,
		Clock:       core.SystemClock{},
		Metrics:     metrics.New(),
	})

	return execute(ctx, service, flags, os.Stdout)
}

// parseFlags parses and validates the command line.
func parseFlags(args []string) (appFlags, error) {
	var flags appFlags

	flagSet := flag.NewFlagSet("podcast-cleanup", flag.ContinueOnError)
	flagSet.BoolVar(&flags.expired, flagExpired, false, flagExpiredDesc)
	flagSet.BoolVar(&flags.stale, flagStale, false, flagStaleDesc)
	flagSet.BoolVar(&flags.stats, flagStats, false, flagStatsDesc)
	flagSet.StringVar(&flags.podcast, flagPodcast, "", flagPodcastDesc)

	err := flagSet.Parse(args)
	if err != nil {
		return appFlags{}, fmt.Errorf("failed to parse flags: %w", err)
	}

	if !flags.expired && !flags.stale && !flags.stats && flags.podcast == "" {
		return appFlags{}, errNoAction
	}

	if flags.podcast != "" && (flags.expired || flags.stale || flags.stats) {
		return appFlags{}, errPodcastExclusive
	}

	return flags, nil
}

// execute runs the selected actions in order and prints the combined report.
// A failing sweep does not stop the remaining actions.
func execute(ctx context.Context, cleaner Cleaner, flags appFlags, out io.Writer) error {
	var (
		result report
		errs   []error
	)

	if flags.podcast != "" {
		podcast, err := cleaner.CleanupPodcast(ctx, flags.podcast)
		if err != nil {
			return fmt.Errorf("failed to delete podcast '%s': %w", flags.podcast, err)
		}

		result.Podcast = podcast
	}

	if flags.expired {
		expired, err := cleaner.SweepExpired(ctx)
		errs = append(errs, err)
		result.Expired = expired
	}

	if flags.stale {
		stale, err := cleaner.SweepStaleFailed(ctx)
		errs = append(errs, err)
		result.Stale = stale
	}

	if flags.stats {
		stats, err := cleaner.Stats(ctx)
		errs = append(errs, err)
		result.Stats = stats
	}

	encoder := json.NewEncoder(out)
	encoder.SetIndent("", "  ")

	encodeErr := encoder.Encode(result)
	if encodeErr != nil {
		return fmt.Errorf("failed to write report: %w", encodeErr)
	}

	return errors.Join(errs...)
}
