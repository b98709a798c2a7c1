package jobs

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/harun/lanes/internal/metrics"
	"github.com/harun/lanes/internal/tracing"
	"github.com/harun/lanes/pkg/lanes"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

var scheduleParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// ParseSchedule parses a five-field cron expression or a descriptor such as "@every 5m".
func ParseSchedule(expr string) (cron.Schedule, error) {
	sched, err := scheduleParser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched, nil
}

// Scheduler submits jobs into their lanes on a cron schedule. A tick that
// arrives while the previous run is still queued is submitted anyway; the
// lane serializes them.
type Scheduler struct {
	cron    *cron.Cron
	sub     Submitter
	logger  zerolog.Logger
	entries map[string]cron.EntryID
	mu      sync.Mutex
}

// NewScheduler creates a scheduler that submits into sub
func NewScheduler(sub Submitter, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(cron.WithParser(scheduleParser)),
		sub:     sub,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		entries: make(map[string]cron.EntryID),
	}
}

// Add registers a scheduled job
func (s *Scheduler) Add(job Job) error {
	if job.Schedule == "" {
		return fmt.Errorf("job %q has no schedule", job.Name)
	}
	sched, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("job %q: %w", job.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[job.Name]; exists {
		return fmt.Errorf("job %q already scheduled", job.Name)
	}

	work := CommandWork(job, s.logger)
	id := s.cron.Schedule(sched, cron.FuncJob(func() {
		s.fire(job, work, time.Now())
	}))
	s.entries[job.Name] = id
	metrics.Default().ScheduledJobs.Inc()

	s.logger.Info().
		Str("job", job.Name).
		Str("schedule", job.Schedule).
		Time("next", sched.Next(time.Now())).
		Msg("Job scheduled")
	return nil
}

// Remove unschedules a job
func (s *Scheduler) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[name]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, name)
	metrics.Default().ScheduledJobs.Dec()
	return true
}

// Len returns the number of scheduled jobs
func (s *Scheduler) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// fire submits one run of job. The request ID is derived from the tick so a
// tick is never submitted twice.
func (s *Scheduler) fire(job Job, work lanes.Work, tick time.Time) {
	ctx := tracing.NewRequestContext(context.Background())
	requestID := job.Name + "@" + strconv.FormatInt(tick.Truncate(time.Second).Unix(), 10)

	taskID, err := s.sub.SubmitWithContext(ctx, job.Lane, work, &lanes.TaskOptions{RequestID: requestID})
	metrics.Default().RecordTick(job.Name, err == nil)
	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("job", job.Name).
			Str("request_id", requestID).
			Msg("Scheduled job not submitted")
		return
	}

	s.logger.Debug().
		Str("job", job.Name).
		Str("task_id", taskID).
		Msg("Scheduled job submitted")
}

// Start starts the cron loop
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().Int("jobs", s.Len()).Msg("Scheduler started")
}

// Stop stops the cron loop and waits for in-flight submissions or ctx.
func (s *Scheduler) Stop(ctx context.Context) error {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		s.logger.Info().Msg("Scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
