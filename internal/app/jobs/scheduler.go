// Package jobs runs periodic maintenance on a cron schedule.
package jobs

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/mutualaid/internal/app/metrics"
	"github.com/R3E-Network/mutualaid/internal/app/system"
	"github.com/R3E-Network/mutualaid/internal/logging"
)

var _ system.Service = (*Scheduler)(nil)

// Func is one unit of scheduled work.
type Func func(ctx context.Context) error

// Scheduler owns a cron instance. Overlapping runs of the same job are
// skipped and panics are recovered.
type Scheduler struct {
	cron *cron.Cron
	log  *logging.Logger

	mu      sync.Mutex
	jobs    map[string]Func
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// New creates a scheduler.
func New(log *logging.Logger) *Scheduler {
	if log == nil {
		log = logging.NewDefault("jobs")
	}
	cl := cronLogger{log: log}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)), cron.WithLogger(cl)),
		log:    log,
		jobs:   make(map[string]Func),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Add registers fn under name. An empty spec leaves the job disabled.
func (s *Scheduler) Add(name, spec string, fn Func) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.jobs[name]; dup {
		return fmt.Errorf("job %q already registered", name)
	}
	s.jobs[name] = fn
	if spec == "" {
		s.log.WithField("job", name).Info("job disabled")
		return nil
	}
	if _, err := s.cron.AddFunc(spec, func() { _ = s.run(s.ctx, name, fn) }); err != nil {
		delete(s.jobs, name)
		return fmt.Errorf("job %q: invalid schedule %q: %w", name, spec, err)
	}
	return nil
}

// RunNow runs a registered job synchronously.
func (s *Scheduler) RunNow(ctx context.Context, name string) error {
	s.mu.Lock()
	fn, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("job %q not registered", name)
	}
	return s.run(ctx, name, fn)
}

func (s *Scheduler) run(ctx context.Context, name string, fn Func) error {
	start := time.Now()
	err := fn(ctx)
	metrics.RecordJobRun(name, err == nil)
	entry := s.log.WithContext(ctx).WithField("job", name).WithField("duration_ms", time.Since(start).Milliseconds())
	if err != nil {
		entry.WithError(err).Warn("job failed")
	} else {
		entry.Debug("job finished")
	}
	return err
}

func (s *Scheduler) Name() string { return "job-scheduler" }

// Start begins firing scheduled jobs.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}
	s.cron.Start()
	s.running = true
	s.log.WithContext(ctx).WithField("entries", len(s.cron.Entries())).Info("job scheduler started")
	return nil
}

// Stop halts the schedule and waits for running jobs until ctx expires.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// cronLogger adapts the cron logging interface to logrus.
type cronLogger struct {
	log *logging.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.WithFields(fields(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.WithError(err).WithFields(fields(keysAndValues)).Error(msg)
}

func fields(kv []interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return out
}
