// Package maintenance runs the gateway's background chores on cron
// schedules. Jobs are named, run one at a time each, and never take
// the process down: a panic inside a job is contained and logged.
package maintenance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// JobFunc is one maintenance task. The context ends when the service
// stops.
type JobFunc func(ctx context.Context) error

type job struct {
	name     string
	expr     string
	schedule cron.Schedule
	run      JobFunc
	timer    *time.Timer
}

// Service schedules named jobs. Schedules are five-field cron
// expressions or descriptors such as "@every 1m".
type Service struct {
	parser  cron.Parser
	logger  zerolog.Logger
	mu      sync.Mutex
	jobs    map[string]*job
	started bool
	stopped bool
	ctx     context.Context
	cancel  context.CancelFunc
	running sync.WaitGroup
}

// NewService creates an empty maintenance service.
func NewService(logger zerolog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())

	return &Service{
		parser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		logger: logger.With().Str("component", "maintenance").Logger(),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// AddJob registers a named job. Jobs added after Start are scheduled
// immediately.
func (s *Service) AddJob(name, schedule string, run JobFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped {
		return fmt.Errorf("service is stopped")
	}
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if run == nil {
		return fmt.Errorf("job function is required")
	}
	if _, exists := s.jobs[name]; exists {
		return fmt.Errorf("job %s already exists", name)
	}

	sched, err := s.parser.Parse(schedule)
	if err != nil {
		return fmt.Errorf("invalid schedule %q: %w", schedule, err)
	}

	j := &job{name: name, expr: schedule, schedule: sched, run: run}
	s.jobs[name] = j

	if s.started {
		s.scheduleJobLocked(j)
	}

	s.logger.Info().Str("job", name).Str("schedule", schedule).Msg("Job registered")
	return nil
}

// Start arms the timers of all registered jobs.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started || s.stopped {
		return
	}
	s.started = true

	for _, j := range s.jobs {
		s.scheduleJobLocked(j)
	}

	s.logger.Info().Int("job_count", len(s.jobs)).Msg("Maintenance service started")
}

// Stop cancels all timers, ends the job context, and waits for
// in-flight runs to finish. Safe to call more than once.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true

	for _, j := range s.jobs {
		if j.timer != nil {
			j.timer.Stop()
			j.timer = nil
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.running.Wait()

	s.logger.Info().Msg("Maintenance service stopped")
}

// RunNow executes a job immediately, outside its schedule.
func (s *Service) RunNow(name string) error {
	s.mu.Lock()
	j, exists := s.jobs[name]
	s.mu.Unlock()

	if !exists {
		return fmt.Errorf("job not found: %s", name)
	}

	go s.executeJob(j)
	return nil
}

// scheduleJobLocked arms the job's timer for its next slot (must hold
// lock). An already armed timer is stopped first, so a manual run does
// not leave two timers racing for the same job.
func (s *Service) scheduleJobLocked(j *job) {
	next := j.schedule.Next(time.Now())
	delay := time.Until(next)
	if delay < 0 {
		delay = 0
	}

	if j.timer != nil {
		j.timer.Stop()
	}
	j.timer = time.AfterFunc(delay, func() {
		s.executeJob(j)
	})

	s.logger.Debug().Str("job", j.name).Time("next_run", next).Msg("Job scheduled")
}

// executeJob runs one job and arms the timer for the next slot once
// the run finished, so a slow job never overlaps itself.
func (s *Service) executeJob(j *job) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.running.Add(1)
	s.mu.Unlock()
	defer s.running.Done()

	start := time.Now()
	err := s.runJob(j)
	duration := time.Since(start)

	if err != nil {
		s.logger.Error().
			Err(err).
			Str("job", j.name).
			Dur("duration", duration).
			Msg("Job failed")
	} else {
		s.logger.Info().
			Str("job", j.name).
			Dur("duration", duration).
			Msg("Job finished")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.stopped || !s.started {
		return
	}
	s.scheduleJobLocked(j)
}

// runJob contains panics so one broken job cannot take the service
// down.
func (s *Service) runJob(j *job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()

	return j.run(s.ctx)
}
