package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/meterly/backend/internal/infrastructure/telemetry"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job names
const (
	JobExpireCredits     = "expire_credits"
	JobReconcileWebhooks = "reconcile_webhooks"
)

// JobFunc runs one scheduled job and returns the number of rows it changed
type JobFunc func(ctx context.Context) (int64, error)

// Job is a named unit of periodic work
type Job struct {
	Name     string
	Schedule string // standard 5-field cron expression
	Run      JobFunc
}

// JobRecorder receives the outcome of every run
type JobRecorder interface {
	RecordJob(ctx context.Context, job string, err error, affected int64)
}

// Config holds scheduler configuration
type Config struct {
	Enabled bool
	// JobTimeout bounds a single run. Default: 5m
	JobTimeout time.Duration
}

// Scheduler runs billing maintenance jobs on cron schedules.
// A run that is still in progress when its next tick fires is skipped.
type Scheduler struct {
	config   Config
	cron     *cron.Cron
	recorder JobRecorder
	logger   *zap.Logger

	mu        sync.Mutex
	jobs      map[string]Job
	entryIDs  map[string]cron.EntryID
	isRunning bool
	baseCtx   context.Context
	cancel    context.CancelFunc
}

// New creates a scheduler; recorder may be nil
func New(cfg Config, recorder JobRecorder, logger *zap.Logger) *Scheduler {
	if cfg.JobTimeout <= 0 {
		cfg.JobTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	cronLogger := cron.PrintfLogger(zap.NewStdLog(logger.Named("cron")))
	return &Scheduler{
		config: cfg,
		cron: cron.New(
			cron.WithParser(cron.NewParser(cron.Minute|cron.Hour|cron.Dom|cron.Month|cron.Dow|cron.Descriptor)),
			cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
			cron.WithLocation(time.UTC),
		),
		recorder: recorder,
		logger:   logger,
		jobs:     make(map[string]Job),
		entryIDs: make(map[string]cron.EntryID),
	}
}

// Register adds a job. Registering the same name twice is an error.
func (s *Scheduler) Register(job Job) error {
	if job.Name == "" || job.Run == nil {
		return fmt.Errorf("%w: job needs a name and a run function", ErrInvalidConfig)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.jobs[job.Name]; exists {
		return fmt.Errorf("%w: job %q already registered", ErrInvalidConfig, job.Name)
	}
	entryID, err := s.cron.AddFunc(job.Schedule, func() { s.execute(job) })
	if err != nil {
		return fmt.Errorf("%w: invalid schedule %q for job %q: %v", ErrInvalidConfig, job.Schedule, job.Name, err)
	}
	s.jobs[job.Name] = job
	s.entryIDs[job.Name] = entryID
	return nil
}

// Start begins firing registered jobs. Jobs run with a context derived from ctx.
func (s *Scheduler) Start(ctx context.Context) error {
	if !s.config.Enabled {
		s.logger.Info("Billing scheduler disabled by config")
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning {
		return nil
	}
	s.isRunning = true
	s.baseCtx, s.cancel = context.WithCancel(ctx)
	s.cron.Start()

	for name, id := range s.entryIDs {
		s.logger.Info("Scheduled billing job",
			zap.String("job", name),
			zap.String("schedule", s.jobs[name].Schedule),
			zap.Time("next_run", s.cron.Entry(id).Next))
	}
	return nil
}

// Stop stops firing jobs and waits for running ones, or until ctx is done
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.isRunning {
		s.mu.Unlock()
		return nil
	}
	s.isRunning = false
	cancel := s.cancel
	s.mu.Unlock()

	stopped := s.cron.Stop()
	cancel()

	select {
	case <-stopped.Done():
		s.logger.Info("Billing scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow executes a registered job synchronously, outside its schedule
func (s *Scheduler) RunNow(ctx context.Context, name string) (int64, error) {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.run(ctx, job)
}

func (s *Scheduler) execute(job Job) {
	s.mu.Lock()
	ctx := s.baseCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}
	_, _ = s.run(ctx, job)
}

func (s *Scheduler) run(ctx context.Context, job Job) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, s.config.JobTimeout)
	defer cancel()

	ctx, span := telemetry.StartServiceSpan(ctx, "scheduler", job.Name,
		telemetry.WithAttribute(telemetry.SpanAttrJob, job.Name))
	defer span.End()

	start := time.Now()
	affected, err := job.Run(ctx)
	if s.recorder != nil {
		s.recorder.RecordJob(ctx, job.Name, err, affected)
	}
	if err != nil {
		telemetry.RecordError(span, err)
		s.logger.Error("Billing job failed",
			zap.String("job", job.Name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
		return affected, err
	}

	s.logger.Info("Billing job completed",
		zap.String("job", job.Name),
		zap.Int64("affected", affected),
		zap.Duration("duration", time.Since(start)))
	return affected, nil
}
