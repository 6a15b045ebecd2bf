package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"geoengage/pkg/logger"
)

var ErrJobNotFound = errors.New("scheduled job not found")

// Window bounds the instants at which a recurring job may fire: (Start, End].
// A nil bound is open.
type Window struct {
	Start *time.Time
	End   *time.Time
}

func (w Window) Contains(t time.Time) bool {
	if w.Start != nil && !w.Start.Before(t) {
		return false
	}
	if w.End != nil && t.After(*w.End) {
		return false
	}
	return true
}

// Scheduler is the capability the dissemination layer needs from a recurring
// job engine.
type Scheduler interface {
	ScheduleRecurring(jobID, cronExpr string, window Window) error
	Pause(jobID string) error
	Resume(jobID string) error
	Cancel(jobID string) error
	Jobs() []string
	Paused(jobID string) bool
}

// JobFunc is invoked on every tick of a job that falls inside its window.
type JobFunc func(ctx context.Context, jobID string)

type job struct {
	spec     string
	schedule cron.Schedule
	window   Window
	entryID  cron.EntryID
	paused   bool
}

type CronScheduler struct {
	mu     sync.Mutex
	cron   *cron.Cron
	parser cron.Parser
	run    JobFunc
	now    func() time.Time
	jobs   map[string]*job
	ctx    context.Context
	logger *logger.Logger
}

type Option func(*CronScheduler)

// WithClock replaces the clock used for window checks.
func WithClock(now func() time.Time) Option {
	return func(s *CronScheduler) {
		s.now = now
	}
}

func NewCronScheduler(run JobFunc, log *logger.Logger, location *time.Location, opts ...Option) *CronScheduler {
	if location == nil {
		location = time.UTC
	}

	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cl := &cronLogger{logger: log.WithField("component", "scheduler")}

	s := &CronScheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(location),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		parser: parser,
		run:    run,
		now:    time.Now,
		jobs:   make(map[string]*job),
		ctx:    context.Background(),
		logger: log.WithField("component", "scheduler"),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Start runs the cron engine until ctx is cancelled or Stop is called.
func (s *CronScheduler) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = ctx
	s.mu.Unlock()
	s.cron.Start()
}

// Stop halts the engine and returns a context that is done once running jobs
// have finished.
func (s *CronScheduler) Stop() context.Context {
	return s.cron.Stop()
}

// AddTask registers an internal periodic task that is not a campaign job and
// therefore never shows up in Jobs.
func (s *CronScheduler) AddTask(name, spec string, fn func(ctx context.Context)) error {
	schedule, err := s.parser.Parse(spec)
	if err != nil {
		return fmt.Errorf("invalid cron expression for task %s: %w", name, err)
	}

	s.cron.Schedule(schedule, cron.FuncJob(func() {
		s.mu.Lock()
		ctx := s.ctx
		s.mu.Unlock()
		fn(ctx)
	}))
	return nil
}

func (s *CronScheduler) ScheduleRecurring(jobID, cronExpr string, window Window) error {
	schedule, err := s.parser.Parse(cronExpr)
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.jobs[jobID]; ok && !existing.paused {
		s.cron.Remove(existing.entryID)
	}

	j := &job{
		spec:     cronExpr,
		schedule: schedule,
		window:   window,
	}
	j.entryID = s.cron.Schedule(schedule, s.tick(jobID))
	s.jobs[jobID] = j

	s.logger.WithFields(map[string]interface{}{"job_id": jobID, "cron": cronExpr}).Info("Scheduled recurring job")
	return nil
}

func (s *CronScheduler) Pause(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if j.paused {
		return nil
	}

	s.cron.Remove(j.entryID)
	j.paused = true
	return nil
}

func (s *CronScheduler) Resume(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if !j.paused {
		return nil
	}

	j.entryID = s.cron.Schedule(j.schedule, s.tick(jobID))
	j.paused = false
	return nil
}

func (s *CronScheduler) Cancel(jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if !j.paused {
		s.cron.Remove(j.entryID)
	}
	delete(s.jobs, jobID)

	s.logger.WithField("job_id", jobID).Info("Cancelled recurring job")
	return nil
}

func (s *CronScheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	ids := make([]string, 0, len(s.jobs))
	for id := range s.jobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Paused reports whether the job exists and is paused.
func (s *CronScheduler) Paused(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[jobID]
	return ok && j.paused
}

func (s *CronScheduler) tick(jobID string) cron.Job {
	return cron.FuncJob(func() {
		s.fire(jobID)
	})
}

func (s *CronScheduler) fire(jobID string) bool {
	s.mu.Lock()
	j, ok := s.jobs[jobID]
	if !ok || j.paused {
		s.mu.Unlock()
		return false
	}
	window := j.window
	ctx := s.ctx
	s.mu.Unlock()

	now := s.now()
	if !window.Contains(now) {
		s.logger.WithField("job_id", jobID).Debug("Skipping tick outside job window")
		return false
	}

	s.run(ctx, jobID)
	return true
}

type cronLogger struct {
	logger *logger.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).Debug(msg)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(pairs(keysAndValues)).WithError(err).Error(msg)
}

func pairs(keysAndValues []interface{}) map[string]interface{} {
	fields := make(map[string]interface{}, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
