package scheduler

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"

	"github.com/mrwolf/adventure-server/internal/llm"
)

// Job names
const (
	JobHealthCheck = "health-check"
	JobEvictIdle   = "evict-idle"
)

// JobNames lists every job the scheduler registers
var JobNames = []string{JobHealthCheck, JobEvictIdle}

// Provider health states reported by Status
const (
	StatusOK        = "ok"
	StatusUnchecked = "unchecked"
	StatusNoCheck   = "no health check"
)

// Evictor disposes idle sessions
type Evictor interface {
	EvictIdle(maxIdle time.Duration) int
}

// JobStore records job runs
type JobStore interface {
	StartJobRun(ctx context.Context, jobType string) (int64, error)
	CompleteJobRun(ctx context.Context, runID int64, errMsg string) error
}

// Config holds scheduler intervals
type Config struct {
	HealthInterval time.Duration // default 5m
	EvictInterval  time.Duration // default 10m
	MaxIdle        time.Duration // default 30m
}

// Scheduler manages background jobs
type Scheduler struct {
	scheduler gocron.Scheduler
	providers map[string]llm.Provider
	sessions  Evictor
	jobs      JobStore
	cfg       Config
	logger    *slog.Logger

	mu     sync.RWMutex
	status map[string]string
}

// Option configures a Scheduler
type Option func(*options)

type options struct {
	clock  clockwork.Clock
	logger *slog.Logger
}

// WithClock sets the clock driving job timing
func WithClock(c clockwork.Clock) Option {
	return func(o *options) {
		o.clock = c
	}
}

// WithLogger sets the scheduler logger
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// New creates a scheduler. providers maps a role name to its provider;
// jobs may be nil.
func New(providers map[string]llm.Provider, sessions Evictor, jobs JobStore, cfg Config, opts ...Option) (*Scheduler, error) {
	o := options{clock: clockwork.NewRealClock(), logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Minute
	}
	if cfg.EvictInterval <= 0 {
		cfg.EvictInterval = 10 * time.Minute
	}
	if cfg.MaxIdle <= 0 {
		cfg.MaxIdle = 30 * time.Minute
	}

	s, err := gocron.NewScheduler(gocron.WithClock(o.clock), gocron.WithLocation(time.UTC))
	if err != nil {
		return nil, err
	}

	status := make(map[string]string, len(providers))
	for role, p := range providers {
		if _, ok := p.(llm.HealthChecker); ok {
			status[role] = StatusUnchecked
		} else {
			status[role] = StatusNoCheck
		}
	}

	return &Scheduler{
		scheduler: s,
		providers: providers,
		sessions:  sessions,
		jobs:      jobs,
		cfg:       cfg,
		logger:    o.logger,
		status:    status,
	}, nil
}

// Start registers all jobs and starts the scheduler
func (s *Scheduler) Start() error {
	_, err := s.scheduler.NewJob(
		gocron.DurationJob(s.cfg.HealthInterval),
		gocron.NewTask(s.healthCheck),
		gocron.WithName(JobHealthCheck),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return err
	}

	if s.sessions != nil {
		_, err = s.scheduler.NewJob(
			gocron.DurationJob(s.cfg.EvictInterval),
			gocron.NewTask(s.evictIdle),
			gocron.WithName(JobEvictIdle),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			return err
		}
	}

	s.scheduler.Start()
	s.logger.Info("scheduler started",
		"health_interval", s.cfg.HealthInterval.String(),
		"evict_interval", s.cfg.EvictInterval.String(),
	)
	return nil
}

// Stop stops the scheduler
func (s *Scheduler) Stop() error {
	return s.scheduler.Shutdown()
}

func (s *Scheduler) healthCheck() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	s.CheckProviders(ctx)
}

func (s *Scheduler) evictIdle() {
	s.track(context.Background(), JobEvictIdle, func(ctx context.Context) string {
		s.sessions.EvictIdle(s.cfg.MaxIdle)
		return ""
	})
}

// CheckProviders probes every provider that supports health checks and
// records the result. Failures are logged, never returned.
func (s *Scheduler) CheckProviders(ctx context.Context) {
	s.track(ctx, JobHealthCheck, func(ctx context.Context) string {
		failed := ""
		for _, role := range sortedKeys(s.providers) {
			hc, ok := s.providers[role].(llm.HealthChecker)
			if !ok {
				continue
			}
			state := StatusOK
			if err := hc.HealthCheck(ctx); err != nil {
				state = err.Error()
				failed = role + ": " + state
				s.logger.Warn("provider health check failed", "role", role, "error", err)
			}
			s.mu.Lock()
			s.status[role] = state
			s.mu.Unlock()
		}
		return failed
	})
}

// Status returns the last known health of each provider role
func (s *Scheduler) Status() map[string]string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make(map[string]string, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}

// track records a job run around fn. fn returns an error message or "".
func (s *Scheduler) track(ctx context.Context, job string, fn func(context.Context) string) {
	if s.jobs == nil {
		fn(ctx)
		return
	}

	runID, err := s.jobs.StartJobRun(ctx, job)
	if err != nil {
		s.logger.Warn("recording job start failed", "job", job, "error", err)
		fn(ctx)
		return
	}

	msg := fn(ctx)
	if err := s.jobs.CompleteJobRun(ctx, runID, msg); err != nil {
		s.logger.Warn("recording job completion failed", "job", job, "error", err)
	}
}

func sortedKeys(m map[string]llm.Provider) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
