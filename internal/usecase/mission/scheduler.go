package mission

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"realmforge/internal/domain"
	"realmforge/internal/infra/config"
)

// jobTimeout bounds a single scheduled mission.
const jobTimeout = 30 * time.Minute

// Runner executes a prepared mission.
type Runner interface {
	NewMission(ctx context.Context, callerKey, task string, strategy domain.Strategy) *domain.MissionState
	ExecuteFullStrategy(ctx context.Context, state *domain.MissionState) (*domain.MissionState, error)
}

// Scheduler launches strategies on cron schedules. Every firing starts a
// fresh mission; a firing is skipped while the previous one of the same job
// is still running.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	load   func(path string) (domain.Strategy, error)
	logger *slog.Logger

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	started bool
	running map[string]bool
	results []Result
}

// Result records one scheduled run.
type Result struct {
	Job       string
	MissionID string
	Status    domain.MissionStatus
	Err       error
	Finished  time.Time
}

// maxResults caps the in-memory run history.
const maxResults = 100

// NewScheduler creates a scheduler that runs missions through runner.
func NewScheduler(runner Runner, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		cron:    cron.New(),
		runner:  runner,
		load:    LoadStrategy,
		logger:  logger,
		running: make(map[string]bool),
	}
}

// ParseSchedule accepts a five-field cron expression, a descriptor such as
// @hourly, or a positive Go duration.
func ParseSchedule(expr string) (cron.Schedule, error) {
	if expr == "" {
		return nil, fmt.Errorf("empty schedule")
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if sched, err := parser.Parse(expr); err == nil {
		return sched, nil
	}
	d, err := time.ParseDuration(expr)
	if err != nil {
		return nil, fmt.Errorf("not a valid cron expression or duration: %q", expr)
	}
	if d <= 0 {
		return nil, fmt.Errorf("duration must be positive: %q", expr)
	}
	return constantDelay(d), nil
}

// constantDelay fires at a fixed interval, including sub-second ones.
type constantDelay time.Duration

func (d constantDelay) Next(t time.Time) time.Time { return t.Add(time.Duration(d)) }

// Add registers a job. The strategy file is read at every firing so edits
// take effect without a restart.
func (s *Scheduler) Add(job config.ScheduledJob) error {
	sched, err := ParseSchedule(job.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: job %q: %w", job.Name, err)
	}
	name := job.Name
	if name == "" {
		name = job.Strategy
	}

	s.cron.Schedule(sched, cron.FuncJob(func() { s.fire(name, job) }))
	s.logger.Info("mission job scheduled", "job", name, "schedule", job.Schedule, "strategy", job.Strategy)
	return nil
}

func (s *Scheduler) fire(name string, job config.ScheduledJob) {
	s.mu.Lock()
	ctx := s.ctx
	if ctx == nil || s.running[name] {
		s.mu.Unlock()
		s.logger.Debug("skipping mission job", "job", name)
		return
	}
	s.running[name] = true
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.running, name)
		s.mu.Unlock()
	}()

	res := s.run(ctx, name, job)
	s.mu.Lock()
	s.results = append(s.results, res)
	if len(s.results) > maxResults {
		s.results = s.results[len(s.results)-maxResults:]
	}
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context, name string, job config.ScheduledJob) Result {
	res := Result{Job: name}
	strategy, err := s.load(job.Strategy)
	if err != nil {
		s.logger.Warn("scheduled mission not started", "job", name, "error", err)
		res.Err, res.Finished = err, time.Now()
		return res
	}

	ctx, cancel := context.WithTimeout(ctx, jobTimeout)
	defer cancel()

	start := time.Now()
	state := s.runner.NewMission(ctx, job.CallerKey, job.Task, strategy)
	state, err = s.runner.ExecuteFullStrategy(ctx, state)
	res.MissionID, res.Status, res.Err, res.Finished = state.ID, state.Status, err, time.Now()
	if err != nil {
		s.logger.Warn("scheduled mission faulted", "job", name, "mission_id", state.ID,
			"error", err, "duration", time.Since(start))
	} else {
		s.logger.Info("scheduled mission finished", "job", name, "mission_id", state.ID,
			"status", string(state.Status), "duration", time.Since(start))
	}
	return res
}

// Start begins firing jobs until ctx is cancelled or Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()
	s.started = true
}

// Stop cancels in-flight missions and waits for them to return.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.ctx = nil
	s.started = false
	s.mu.Unlock()

	<-s.cron.Stop().Done()
}

// Results returns the recorded runs, oldest first.
func (s *Scheduler) Results() []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Result(nil), s.results...)
}
