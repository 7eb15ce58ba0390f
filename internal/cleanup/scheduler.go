package cleanup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/book-expert/logger"
	"github.com/robfig/cron/v3"
)

// Scheduler runs both sweeps on a cron schedule. A run that is still in progress
// causes the next one to be skipped, so sweeps never overlap.
type Scheduler struct {
	cron    *cron.Cron
	service *Service
	log     *logger.Logger
}

// NewScheduler creates a scheduler evaluating schedules in loc (UTC when nil).
func NewScheduler(service *Service, log *logger.Logger, loc *time.Location) *Scheduler {
	if loc == nil {
		loc = time.UTC
	}

	cronLog := cronLogger{log: log}

	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(loc),
			cron.WithLogger(cronLog),
			cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		),
		service: service,
		log:     log,
	}
}

// Schedule registers both sweeps under a standard five-field cron expression.
func (s *Scheduler) Schedule(schedule string) (cron.EntryID, error) {
	id, err := s.cron.AddFunc(schedule, func() {
		_, _, _ = s.RunOnce(context.Background())
	})
	if err != nil {
		return 0, fmt.Errorf("invalid cleanup schedule %q: %w", schedule, err)
	}

	return id, nil
}

// RunOnce runs the expired sweep followed by the stale-failed sweep. The second
// sweep runs even when the first one failed.
func (s *Scheduler) RunOnce(ctx context.Context) (*Result, *Result, error) {
	expired, expiredErr := s.service.SweepExpired(ctx)
	if expiredErr != nil {
		s.log.Error("Expired sweep failed: %v", expiredErr)
	}

	stale, staleErr := s.service.SweepStaleFailed(ctx)
	if staleErr != nil {
		s.log.Error("Stale-failed sweep failed: %v", staleErr)
	}

	return expired, stale, errors.Join(expiredErr, staleErr)
}

// Start begins running scheduled sweeps in the background.
func (s *Scheduler) Start() { s.cron.Start() }

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Entries returns the registered schedule entries.
func (s *Scheduler) Entries() []cron.Entry { return s.cron.Entries() }

// cronLogger adapts the service logger to cron.Logger.
type cronLogger struct {
	log *logger.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Info("cron: %s %v", msg, keysAndValues)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: %s: %v %v", msg, err, keysAndValues)
}
