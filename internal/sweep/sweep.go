// Package sweep runs the engine's periodic jobs on cron schedules.
//
// Two jobs exist: materialize walks every template and generates its next
// batch of instances, close-out archives finished instances due up to now.
// The sweep only calls engine operations; all idempotency lives there, so a
// job that fires twice does no harm.
package sweep

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/roach88/cadence/internal/config"
	"github.com/roach88/cadence/internal/engine"
	"github.com/roach88/cadence/internal/task"
)

// Job names a periodic job.
type Job string

const (
	JobMaterialize Job = "materialize"
	JobCloseOut    Job = "close-out"
)

// Jobs lists every job in registration order.
var Jobs = []Job{JobMaterialize, JobCloseOut}

// ParseJob validates a job name.
func ParseJob(s string) (Job, error) {
	for _, j := range Jobs {
		if string(j) == s {
			return j, nil
		}
	}
	return "", fmt.Errorf("unknown job %q (want one of %v)", s, Jobs)
}

// Runner is the part of the engine the sweep drives. *engine.Engine
// implements it.
type Runner interface {
	Now() time.Time
	Templates(ctx context.Context) ([]*task.Template, error)
	MaterializeTemplate(ctx context.Context, templateID task.ID, explicitEnd *time.Time) (engine.MaterializeResult, error)
	CloseOut(ctx context.Context, asOf time.Time) (engine.CloseOutResult, error)
}

var _ Runner = (*engine.Engine)(nil)

// Report summarizes one job run.
type Report struct {
	Job     Job       `json:"job"`
	Started time.Time `json:"started"`

	// Templates is how many templates were processed without error.
	Templates int `json:"templates"`

	// Created counts new instances (materialize).
	Created int `json:"created"`

	// Unbounded counts templates skipped for lacking a due date.
	Unbounded int `json:"unbounded"`

	// Archived counts instances moved to collected (close-out).
	Archived int `json:"archived"`

	// Failed counts templates whose run returned an error.
	Failed int `json:"failed"`
}

// Service owns the cron scheduler.
//
// Thread-safety: Start, Stop, Apply and RunOnce may be called concurrently.
// Runs of the same job never overlap.
type Service struct {
	runner  Runner
	log     zerolog.Logger
	parser  cron.Parser
	limiter *rate.Limiter

	mu      sync.Mutex
	cfg     config.Sweep
	c       *cron.Cron
	entries map[Job]cron.EntryID
	runCtx  context.Context
	cancel  context.CancelFunc

	jobMu map[Job]*sync.Mutex
}

// New creates a stopped service.
func New(runner Runner, cfg config.Sweep, log zerolog.Logger) *Service {
	s := &Service{
		runner: runner,
		log:    log.With().Str("component", "sweep").Logger(),
		// SecondOptional allows both 5-field and 6-field (with seconds) specs.
		parser:  cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
		limiter: rate.NewLimiter(limitFor(cfg.RatePerSecond), 1),
		cfg:     cfg,
		jobMu:   make(map[Job]*sync.Mutex, len(Jobs)),
	}
	for _, j := range Jobs {
		s.jobMu[j] = &sync.Mutex{}
	}
	return s
}

func limitFor(perSecond float64) rate.Limit {
	if perSecond <= 0 {
		return rate.Inf
	}
	return rate.Limit(perSecond)
}

// Start schedules the jobs. It is a no-op when the service is already
// running or the sweep is disabled. Jobs run with a context derived from
// ctx until Stop.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.runCtx != nil {
		return nil
	}
	s.runCtx, s.cancel = context.WithCancel(ctx)
	return s.scheduleLocked()
}

func (s *Service) scheduleLocked() error {
	if !s.cfg.Enabled {
		s.log.Info().Msg("sweep disabled")
		return nil
	}

	c, entries, err := s.build(s.cfg)
	if err != nil {
		return err
	}
	s.c, s.entries = c, entries
	c.Start()

	s.log.Info().
		Str("materialize", s.cfg.Materialize).
		Str("close_out", s.cfg.CloseOut).
		Str("tz", c.Location().String()).
		Msg("sweep started")
	return nil
}

// build creates an unstarted cron with every job registered.
func (s *Service) build(cfg config.Sweep) (*cron.Cron, map[Job]cron.EntryID, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, nil, err
	}

	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	specs := map[Job]string{
		JobMaterialize: cfg.Materialize,
		JobCloseOut:    cfg.CloseOut,
	}
	entries := make(map[Job]cron.EntryID, len(specs))
	for _, job := range Jobs {
		job := job
		id, err := c.AddFunc(specs[job], func() { s.fire(job) })
		if err != nil {
			return nil, nil, fmt.Errorf("sweep %s schedule %q: %w", job, specs[job], err)
		}
		entries[job] = id
	}
	return c, entries, nil
}

// Validate reports whether cfg can be scheduled.
func (s *Service) Validate(cfg config.Sweep) error {
	_, _, err := s.build(cfg)
	return err
}

// Apply swaps in a new configuration. A running service reschedules;
// an invalid configuration is rejected and the old one stays active.
func (s *Service) Apply(cfg config.Sweep) error {
	if err := s.Validate(cfg); err != nil {
		return err
	}
	s.limiter.SetLimit(limitFor(cfg.RatePerSecond))

	s.mu.Lock()
	old := s.c
	s.c, s.entries = nil, nil
	s.cfg = cfg
	var err error
	if s.runCtx != nil {
		err = s.scheduleLocked()
	}
	s.mu.Unlock()

	// A job in flight finishes on the old scheduler.
	if old != nil {
		old.Stop()
	}
	s.log.Info().Bool("enabled", cfg.Enabled).Msg("sweep config applied")
	return err
}

// Stop halts scheduling, cancels running jobs and waits for them to return
// or ctx to expire.
func (s *Service) Stop(ctx context.Context) {
	s.mu.Lock()
	c, cancel := s.c, s.cancel
	s.c, s.entries, s.runCtx, s.cancel = nil, nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
		s.log.Info().Msg("sweep stopped")
	case <-ctx.Done():
		s.log.Warn().Msg("sweep stop timed out; jobs still finishing")
	}
}

// Next returns the next scheduled run of job, if the service is running.
func (s *Service) Next(job Job) (time.Time, bool) {
	s.mu.Lock()
	c, id, ok := s.c, s.entries[job], s.c != nil
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := c.Entry(id)
	return entry.Next, entry.Valid()
}

func (s *Service) fire(job Job) {
	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		return
	}
	if _, err := s.RunOnce(ctx, job); err != nil {
		s.log.Error().Err(err).Str("job", string(job)).Msg("sweep job failed")
	}
}

// RunOnce executes job synchronously. A second call for the same job waits
// for the first to finish.
func (s *Service) RunOnce(ctx context.Context, job Job) (Report, error) {
	mu, ok := s.jobMu[job]
	if !ok {
		return Report{}, fmt.Errorf("unknown job %q", job)
	}
	mu.Lock()
	defer mu.Unlock()

	switch job {
	case JobMaterialize:
		return s.materialize(ctx)
	default:
		return s.closeOut(ctx)
	}
}

func (s *Service) materialize(ctx context.Context) (Report, error) {
	rep := Report{Job: JobMaterialize, Started: s.runner.Now()}

	templates, err := s.runner.Templates(ctx)
	if err != nil {
		return rep, fmt.Errorf("sweep materialize: %w", err)
	}

	for _, tmpl := range templates {
		if err := s.limiter.Wait(ctx); err != nil {
			return rep, fmt.Errorf("sweep materialize: %w", err)
		}

		res, err := s.runner.MaterializeTemplate(ctx, tmpl.ID, nil)
		if err != nil {
			rep.Failed++
			s.log.Warn().Err(err).Str("template_id", string(tmpl.ID)).Msg("materialize failed")
			continue
		}
		rep.Templates++
		rep.Created += len(res.Created)
		if res.Outcome == engine.OutcomeMissingSafetyBound {
			rep.Unbounded++
		}
	}

	s.log.Info().
		Int("templates", rep.Templates).
		Int("count", rep.Created).
		Int("unbounded", rep.Unbounded).
		Int("failed", rep.Failed).
		Msg("materialize sweep finished")
	return rep, nil
}

func (s *Service) closeOut(ctx context.Context) (Report, error) {
	now := s.runner.Now()
	rep := Report{Job: JobCloseOut, Started: now}

	res, err := s.runner.CloseOut(ctx, now)
	rep.Templates = res.Templates
	rep.Archived = res.Archived
	if err != nil {
		rep.Failed = 1
		return rep, fmt.Errorf("sweep close-out: %w", err)
	}
	return rep, nil
}

// cronLogger adapts zerolog to cron.Logger.
type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
