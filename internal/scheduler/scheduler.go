// Package scheduler repeats collection runs on a cron schedule.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Job represents a scheduled task
type Job func(ctx context.Context) error

// DefaultJobTimeout bounds a single scheduled run.
const DefaultJobTimeout = 2 * time.Hour

// Scheduler manages periodic tasks. At most one job runs at a time; a tick
// that fires while another job is running is skipped.
type Scheduler struct {
	cron       *cron.Cron
	jobs       map[string]cron.EntryID
	timezone   *time.Location
	jobTimeout time.Duration
	log        zerolog.Logger

	running sync.Mutex
	base    context.Context
	cancel  context.CancelFunc
}

// New creates a new scheduler with the given timezone
func New(timezone string, logger zerolog.Logger) (*Scheduler, error) {
	loc, err := time.LoadLocation(timezone)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %s: %w", timezone, err)
	}

	base, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:       cron.New(cron.WithLocation(loc)),
		jobs:       make(map[string]cron.EntryID),
		timezone:   loc,
		jobTimeout: DefaultJobTimeout,
		log:        logger.With().Str("component", "scheduler").Logger(),
		base:       base,
		cancel:     cancel,
	}, nil
}

// SetJobTimeout changes the per-run timeout.
func (s *Scheduler) SetJobTimeout(d time.Duration) {
	if d > 0 {
		s.jobTimeout = d
	}
}

// AddJob adds a job with a cron schedule
// schedule format: "0 7 * * *" (at 7:00 AM daily)
func (s *Scheduler) AddJob(name, schedule string, job Job) error {
	entryID, err := s.cron.AddFunc(schedule, func() {
		s.run(s.base, name, job)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule job %s: %w", name, err)
	}

	s.jobs[name] = entryID
	s.log.Info().Str("job", name).Str("schedule", schedule).Msg("job added")
	return nil
}

// run executes job unless another one is in progress. It reports whether
// the job ran.
func (s *Scheduler) run(ctx context.Context, name string, job Job) bool {
	if !s.running.TryLock() {
		s.log.Warn().Str("job", name).Msg("previous run still in progress, skipping")
		return false
	}
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	s.log.Info().Str("job", name).Msg("starting job")
	start := time.Now()

	if err := job(ctx); err != nil {
		s.log.Error().Err(err).Str("job", name).Msg("job failed")
	} else {
		s.log.Info().Str("job", name).Dur("elapsed", time.Since(start)).Msg("job completed")
	}
	return true
}

// RemoveJob removes a scheduled job
func (s *Scheduler) RemoveJob(name string) {
	if entryID, ok := s.jobs[name]; ok {
		s.cron.Remove(entryID)
		delete(s.jobs, name)
		s.log.Info().Str("job", name).Msg("job removed")
	}
}

// Start begins running scheduled jobs
func (s *Scheduler) Start() {
	s.log.Info().Str("timezone", s.timezone.String()).Msg("starting scheduler")
	s.cron.Start()
}

// Stop halts the scheduler and cancels a running job. The returned context
// is done once that job has returned.
func (s *Scheduler) Stop() context.Context {
	s.log.Info().Msg("stopping scheduler")
	s.cancel()
	return s.cron.Stop()
}

// RunNow immediately executes a job, waiting for a running one to finish
// first.
func (s *Scheduler) RunNow(ctx context.Context, name string, job Job) error {
	s.running.Lock()
	defer s.running.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.jobTimeout)
	defer cancel()

	s.log.Info().Str("job", name).Msg("running job now")
	return job(ctx)
}

// ListJobs returns info about scheduled jobs
func (s *Scheduler) ListJobs() []JobInfo {
	entries := s.cron.Entries()
	infos := make([]JobInfo, 0, len(entries))

	for name, entryID := range s.jobs {
		for _, entry := range entries {
			if entry.ID == entryID {
				infos = append(infos, JobInfo{
					Name:    name,
					NextRun: entry.Next,
					LastRun: entry.Prev,
				})
				break
			}
		}
	}

	return infos
}

// JobInfo contains information about a scheduled job
type JobInfo struct {
	Name    string
	NextRun time.Time
	LastRun time.Time
}
