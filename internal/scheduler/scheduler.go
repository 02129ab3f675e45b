// Package scheduler runs the service's named background jobs on cron
// schedules and keeps a bounded run history for each.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/metrics"
	"github.com/lalithlochan/herdwatch/internal/redis"
)

var (
	// ErrUnknownJob is returned for a job name that was never registered.
	ErrUnknownJob = errors.New("unknown job")
	// ErrAlreadyRunning is returned when a run of the same job is in flight.
	ErrAlreadyRunning = errors.New("job already running")
)

const (
	DefaultHistorySize = 20
	DefaultLockTTL     = 30 * time.Minute
)

// Run triggers.
const (
	TriggerSchedule = "schedule"
	TriggerManual   = "manual"
)

// Run outcomes.
const (
	StatusSuccess = "success"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// Invocation describes the run a job body is executing.
type Invocation struct {
	Trigger   string
	StartedAt time.Time
	// LastSuccess is the start of the previous successful run, zero if none.
	LastSuccess time.Time
}

// Func is a job body. The returned summary is kept in the run history.
type Func func(ctx context.Context, inv Invocation) (string, error)

// Job is a named, scheduled unit of work.
type Job struct {
	Name     string
	Schedule string
	Run      Func
	// After names a job whose in-flight run must finish before this one starts.
	After   string
	Timeout time.Duration
}

// Run is one entry of a job's history.
type Run struct {
	Job        string        `json:"job"`
	Trigger    string        `json:"trigger"`
	Status     string        `json:"status"`
	Summary    string        `json:"summary,omitempty"`
	Error      string        `json:"error,omitempty"`
	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Duration   time.Duration `json:"duration_ns"`
}

// JobStatus is a snapshot of one job.
type JobStatus struct {
	Name        string     `json:"name"`
	Schedule    string     `json:"schedule"`
	After       string     `json:"after,omitempty"`
	Running     bool       `json:"running"`
	NextRun     *time.Time `json:"next_run,omitempty"`
	LastSuccess *time.Time `json:"last_success,omitempty"`
	History     []Run      `json:"history"`
}

// Locker serialises a job across replicas.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (func(), error)
}

// RunStore keeps the start of each job's last successful run across
// restarts and replicas. A job that never succeeded has a zero time.
type RunStore interface {
	JobLastSuccess(ctx context.Context, job string) (time.Time, error)
	SaveJobSuccess(ctx context.Context, job string, startedAt time.Time) error
}

type Config struct {
	HistorySize int
	LockTTL     time.Duration
	Location    *time.Location
}

type entry struct {
	job Job
	id  cron.EntryID

	mu          sync.Mutex
	running     bool
	done        chan struct{}
	history     []Run
	lastSuccess time.Time
}

// Scheduler owns the cron runner and the registered jobs.
type Scheduler struct {
	cron   *cron.Cron
	config Config
	locker Locker
	runs   RunStore
	logger *zap.Logger
	now    func() time.Time

	mu    sync.RWMutex
	jobs  map[string]*entry
	order []string

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a scheduler. locker may be nil for a single replica.
func New(cfg Config, locker Locker, logger *zap.Logger) *Scheduler {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = DefaultHistorySize
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = DefaultLockTTL
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	cl := NewCronLogger(logger)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(cfg.Location),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		config: cfg,
		locker: locker,
		logger: logger,
		now:    time.Now,
		jobs:   make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithClock replaces the scheduler's time source for run bookkeeping.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// WithRunStore persists last successful runs so the LastSuccess handed to a
// job survives restarts.
func (s *Scheduler) WithRunStore(runs RunStore) *Scheduler {
	s.runs = runs
	return s
}

// Register adds a job. It must be called before Start.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return errors.New("job needs a name and a body")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.jobs[job.Name]; ok {
		return fmt.Errorf("job %q already registered", job.Name)
	}
	if job.After != "" {
		if _, ok := s.jobs[job.After]; !ok {
			return fmt.Errorf("job %q runs after unregistered job %q", job.Name, job.After)
		}
	}

	e := &entry{job: job}
	id, err := s.cron.AddFunc(job.Schedule, func() {
		if _, err := s.execute(s.ctx, e, TriggerSchedule); err != nil && !errors.Is(err, ErrAlreadyRunning) {
			s.logger.Debug("scheduled run ended with error", zap.String("job", job.Name), zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("schedule %q for job %q: %w", job.Schedule, job.Name, err)
	}
	e.id = id

	s.jobs[job.Name] = e
	s.order = append(s.order, job.Name)

	s.logger.Info("job registered",
		zap.String("job", job.Name),
		zap.String("schedule", job.Schedule),
	)
	return nil
}

// Start begins firing scheduled runs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Int("jobs", len(s.order)))
}

// Stop halts scheduling and waits for in-flight runs until ctx expires,
// then cancels them.
func (s *Scheduler) Stop(ctx context.Context) {
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		s.logger.Warn("scheduler stop timed out, cancelling running jobs")
	}
	s.cancel()
}

// RunNow runs the named job immediately and returns its run record.
func (s *Scheduler) RunNow(ctx context.Context, name string) (Run, error) {
	e, err := s.lookup(name)
	if err != nil {
		return Run{}, err
	}
	return s.execute(ctx, e, TriggerManual)
}

// Status returns a snapshot of the named job.
func (s *Scheduler) Status(name string) (JobStatus, error) {
	e, err := s.lookup(name)
	if err != nil {
		return JobStatus{}, err
	}
	return s.status(e), nil
}

// List returns every job in registration order.
func (s *Scheduler) List() []JobStatus {
	s.mu.RLock()
	entries := make([]*entry, 0, len(s.order))
	for _, name := range s.order {
		entries = append(entries, s.jobs[name])
	}
	s.mu.RUnlock()

	out := make([]JobStatus, 0, len(entries))
	for _, e := range entries {
		out = append(out, s.status(e))
	}
	return out
}

// LastSuccess returns the start of the named job's last successful run.
func (s *Scheduler) LastSuccess(name string) (time.Time, bool) {
	e, err := s.lookup(name)
	if err != nil {
		return time.Time{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastSuccess, !e.lastSuccess.IsZero()
}

func (s *Scheduler) lookup(name string) (*entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.jobs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownJob, name)
	}
	return e, nil
}

func (s *Scheduler) status(e *entry) JobStatus {
	e.mu.Lock()
	st := JobStatus{
		Name:     e.job.Name,
		Schedule: e.job.Schedule,
		After:    e.job.After,
		Running:  e.running,
		History:  make([]Run, len(e.history)),
	}
	copy(st.History, e.history)
	if !e.lastSuccess.IsZero() {
		t := e.lastSuccess
		st.LastSuccess = &t
	}
	e.mu.Unlock()

	if next := s.cron.Entry(e.id).Next; !next.IsZero() {
		st.NextRun = &next
	}
	return st
}

// waitFor blocks until the named job has no run in flight.
func (s *Scheduler) waitFor(ctx context.Context, name string) error {
	pred, err := s.lookup(name)
	if err != nil {
		return err
	}
	pred.mu.Lock()
	done := pred.done
	running := pred.running
	pred.mu.Unlock()
	if !running {
		return nil
	}

	s.logger.Info("waiting for predecessor job", zap.String("job", name))
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Scheduler) execute(ctx context.Context, e *entry, trigger string) (Run, error) {
	name := e.job.Name

	if e.job.After != "" {
		if err := s.waitFor(ctx, e.job.After); err != nil {
			return Run{}, fmt.Errorf("wait for %s: %w", e.job.After, err)
		}
	}

	e.mu.Lock()
	if e.running {
		e.mu.Unlock()
		return Run{}, fmt.Errorf("%w: %s", ErrAlreadyRunning, name)
	}
	e.running = true
	e.done = make(chan struct{})
	inv := Invocation{Trigger: trigger, StartedAt: s.now(), LastSuccess: e.lastSuccess}
	e.mu.Unlock()

	run := Run{Job: name, Trigger: trigger, StartedAt: inv.StartedAt}
	defer func() {
		e.mu.Lock()
		e.running = false
		close(e.done)
		e.mu.Unlock()
	}()

	if s.locker != nil {
		release, err := s.locker.Acquire(ctx, name, s.config.LockTTL)
		switch {
		case errors.Is(err, redis.ErrLockHeld):
			run.Status = StatusSkipped
			run.Summary = "held by another replica"
			run.FinishedAt = s.now()
			s.record(e, run)
			s.logger.Info("job skipped, lock held elsewhere", zap.String("job", name))
			return run, fmt.Errorf("%w: %s held by another replica", ErrAlreadyRunning, name)
		case err != nil:
			s.logger.Warn("job lock unavailable, running unlocked", zap.String("job", name), zap.Error(err))
		default:
			defer release()
		}
	}
	inv.LastSuccess = s.loadLastSuccess(ctx, e, inv.LastSuccess)

	runCtx := ctx
	if e.job.Timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, e.job.Timeout)
		defer cancel()
	}

	s.logger.Info("job started", zap.String("job", name), zap.String("trigger", trigger))
	summary, err := s.invoke(runCtx, e.job.Run, inv)

	run.FinishedAt = s.now()
	run.Duration = run.FinishedAt.Sub(run.StartedAt)
	run.Summary = summary
	if err != nil {
		run.Status = StatusFailed
		run.Error = err.Error()
	} else {
		run.Status = StatusSuccess
	}
	s.record(e, run)
	metrics.RecordJobRun(name, run.Duration, err)
	if err == nil && s.runs != nil {
		if serr := s.runs.SaveJobSuccess(context.WithoutCancel(ctx), name, run.StartedAt); serr != nil {
			s.logger.Warn("failed to persist job success", zap.String("job", name), zap.Error(serr))
		}
	}

	if err != nil {
		s.logger.Error("job failed",
			zap.String("job", name),
			zap.Duration("duration", run.Duration),
			zap.Error(err),
		)
		return run, err
	}
	s.logger.Info("job finished",
		zap.String("job", name),
		zap.Duration("duration", run.Duration),
		zap.String("summary", summary),
	)
	return run, nil
}

// loadLastSuccess returns the later of the in-process and the persisted last
// success. The persisted value may come from an earlier process or another
// replica.
func (s *Scheduler) loadLastSuccess(ctx context.Context, e *entry, known time.Time) time.Time {
	if s.runs == nil {
		return known
	}
	stored, err := s.runs.JobLastSuccess(ctx, e.job.Name)
	if err != nil {
		s.logger.Warn("failed to load last job success", zap.String("job", e.job.Name), zap.Error(err))
		return known
	}
	if !stored.After(known) {
		return known
	}
	e.mu.Lock()
	if stored.After(e.lastSuccess) {
		e.lastSuccess = stored
	}
	e.mu.Unlock()
	return stored
}

// invoke runs the body, converting a panic into an error.
func (s *Scheduler) invoke(ctx context.Context, fn Func, inv Invocation) (summary string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("job panicked: %v", r)
		}
	}()
	return fn(ctx, inv)
}

func (s *Scheduler) record(e *entry, run Run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.history = append(e.history, run)
	if over := len(e.history) - s.config.HistorySize; over > 0 {
		e.history = append([]Run(nil), e.history[over:]...)
	}
	if run.Status == StatusSuccess {
		e.lastSuccess = run.StartedAt
	}
}
