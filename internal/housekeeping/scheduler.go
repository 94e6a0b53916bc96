package housekeeping

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/alekspetrov/scenarist/internal/logging"
	"github.com/alekspetrov/scenarist/internal/timeutil"
)

// Job is one scheduled cleaner.
type Job struct {
	Name     string
	Schedule string
	Run      func(ctx context.Context) error
}

// Scheduler runs housekeeping jobs on cron schedules.
type Scheduler struct {
	cron    *cron.Cron
	jobs    []Job
	mu      sync.Mutex
	running bool
	log     *slog.Logger
}

// NewScheduler creates a Scheduler evaluating schedules in the clock's zone.
func NewScheduler(clock timeutil.Clock, jobs ...Job) *Scheduler {
	return &Scheduler{
		cron: cron.New(cron.WithLocation(clock.Location())),
		jobs: jobs,
		log:  logging.WithComponent("housekeeping"),
	}
}

// Start registers the jobs and starts the cron runner. Runs of one job never
// overlap.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	for _, j := range s.jobs {
		wrapped := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(func() {
			s.runJob(ctx, j)
		}))
		id, err := s.cron.AddJob(j.Schedule, wrapped)
		if err != nil {
			return fmt.Errorf("schedule %s %q: %w", j.Name, j.Schedule, err)
		}
		s.log.Info("Housekeeping job scheduled",
			slog.String("job", j.Name),
			slog.String("schedule", j.Schedule),
			slog.Int("entry", int(id)),
		)
	}
	s.cron.Start()
	s.running = true
	return nil
}

// Stop halts the runner and waits for running jobs.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	<-s.cron.Stop().Done()
	s.running = false
	s.log.Info("Housekeeping stopped")
}

// Run starts the scheduler and blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	s.Stop()
	return nil
}

// RunNow executes every job once, in order.
func (s *Scheduler) RunNow(ctx context.Context) {
	for _, j := range s.jobs {
		s.runJob(ctx, j)
	}
}

func (s *Scheduler) runJob(ctx context.Context, j Job) {
	if ctx.Err() != nil {
		return
	}
	if err := j.Run(ctx); err != nil {
		s.log.Error("Housekeeping job failed", slog.String("job", j.Name), slog.Any("error", err))
	}
}
