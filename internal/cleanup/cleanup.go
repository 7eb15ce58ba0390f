// Package cleanup reclaims storage held by expired and stale-failed podcasts.
//
// Both sweeps are idempotent: an artifact removed by one run is not selected by the
// next. Object deletions are best effort; a failed deletion is logged and counted,
// and the sweep moves on.
package cleanup

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/book-expert/logger"
	"github.com/book-expert/podcast-service/internal/core"
	"github.com/book-expert/podcast-service/internal/metrics"
	"github.com/book-expert/podcast-service/internal/repository"
	"golang.org/x/sync/errgroup"
)

// Defaults.
const (
	DefaultStaleAfter  = 7 * 24 * time.Hour
	DefaultConcurrency = 4
)

// Store is the podcast persistence used by the sweeps.
type Store interface {
	Get(ctx context.Context, id string) (*repository.Podcast, error)
	ListExpired(ctx context.Context, now time.Time) ([]repository.Podcast, error)
	ListStaleFailed(ctx context.Context, cutoff time.Time) ([]repository.Podcast, error)
	Delete(ctx context.Context, id string) (bool, error)
	Stats(ctx context.Context, now time.Time) (*repository.Stats, error)
}

// ObjectDeleter removes storage objects. A missing object must count as deleted.
type ObjectDeleter interface {
	Delete(ctx context.Context, key string) error
}

// Result is the outcome of one cleanup run.
type Result struct {
	DeletedArtifacts int   `json:"deletedArtifacts"`
	DeletedObjects   int   `json:"deletedObjects"`
	Errors           int   `json:"errors"`
	TotalBytesFreed  int64 `json:"totalBytesFreed"`
}

func (r *Result) add(other Result) {
	r.DeletedArtifacts += other.DeletedArtifacts
	r.DeletedObjects += other.DeletedObjects
	r.Errors += other.Errors
	r.TotalBytesFreed += other.TotalBytesFreed
}

// Options configures a Service.
type Options struct {
	StaleAfter  time.Duration
	Concurrency int
	Clock       core.Clock
	Metrics     *metrics.Collectors
}

// Service runs the sweeps.
type Service struct {
	store       Store
	objects     ObjectDeleter
	staleAfter  time.Duration
	concurrency int
	clock       core.Clock
	metrics     *metrics.Collectors
	log         *logger.Logger
}

// NewService creates a cleanup service.
func NewService(store Store, objects ObjectDeleter, log *logger.Logger, opts Options) *Service {
	service := &Service{
		store:       store,
		objects:     objects,
		staleAfter:  opts.StaleAfter,
		concurrency: opts.Concurrency,
		clock:       opts.Clock,
		metrics:     opts.Metrics,
		log:         log,
	}

	if service.staleAfter <= 0 {
		service.staleAfter = DefaultStaleAfter
	}

	if service.concurrency <= 0 {
		service.concurrency = DefaultConcurrency
	}

	if service.clock == nil {
		service.clock = core.SystemClock{}
	}

	return service
}

// SweepExpired deletes processed podcasts whose autoDeleteAt has passed.
func (s *Service) SweepExpired(ctx context.Context) (*Result, error) {
	podcasts, err := s.store.ListExpired(ctx, s.clock.Now())
	if err != nil {
		return nil, err
	}

	return s.sweep(ctx, metrics.SweepExpired, podcasts)
}

// SweepStaleFailed deletes podcasts that never finished processing within the grace period.
func (s *Service) SweepStaleFailed(ctx context.Context) (*Result, error) {
	podcasts, err := s.store.ListStaleFailed(ctx, s.clock.Now().Add(-s.staleAfter))
	if err != nil {
		return nil, err
	}

	return s.sweep(ctx, metrics.SweepStaleFailed, podcasts)
}

// CleanupPodcast deletes one podcast and its objects regardless of expiry.
func (s *Service) CleanupPodcast(ctx context.Context, id string) (*Result, error) {
	podcast, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	return s.sweep(ctx, metrics.SweepManual, []repository.Podcast{*podcast})
}

// Stats reports podcast counts and storage usage.
func (s *Service) Stats(ctx context.Context) (*repository.Stats, error) {
	return s.store.Stats(ctx, s.clock.Now())
}

func (s *Service) sweep(ctx context.Context, name string, podcasts []repository.Podcast) (*Result, error) {
	var total Result

	for index := range podcasts {
		ctxErr := ctx.Err()
		if ctxErr != nil {
			s.record(name, total)

			return &total, fmt.Errorf("%s sweep interrupted: %w", name, ctxErr)
		}

		total.add(s.purge(ctx, &podcasts[index]))
	}

	s.record(name, total)

	if len(podcasts) > 0 || total.Errors > 0 {
		s.log.Info("Cleanup %s: %d podcasts, %d objects, %d errors, %d bytes freed",
			name, total.DeletedArtifacts, total.DeletedObjects, total.Errors, total.TotalBytesFreed)
	}

	return &total, nil
}

// purge deletes the podcast's objects concurrently, then its rows.
func (s *Service) purge(ctx context.Context, podcast *repository.Podcast) Result {
	var (
		deleted atomic.Int64
		failed  atomic.Int64
		freed   atomic.Int64
		group   errgroup.Group
	)

	group.SetLimit(s.concurrency)

	for _, object := range podcast.Objects() {
		group.Go(func() error {
			err := s.objects.Delete(ctx, object.Key)
			if err != nil {
				failed.Add(1)
				s.log.Warn("Could not delete object %s of podcast %s: %v", object.Key, podcast.ID, err)

				return nil
			}

			deleted.Add(1)
			freed.Add(object.SizeBytes)

			return nil
		})
	}

	_ = group.Wait()

	result := Result{
		DeletedArtifacts: 0,
		DeletedObjects:   int(deleted.Load()),
		Errors:           int(failed.Load()),
		TotalBytesFreed:  freed.Load(),
	}

	removed, err := s.store.Delete(ctx, podcast.ID)
	if err != nil {
		result.Errors++
		s.log.Error("Could not delete podcast %s: %v", podcast.ID, err)

		return result
	}

	if removed {
		result.DeletedArtifacts = 1
	}

	return result
}

func (s *Service) record(name string, result Result) {
	s.metrics.ObserveSweep(name, result.DeletedArtifacts, result.DeletedObjects, result.Errors, result.TotalBytesFreed)
}
