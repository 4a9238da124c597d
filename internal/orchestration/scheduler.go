package orchestration

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Job is one scheduled unit of work.
type Job func(ctx context.Context) error

// Scheduler runs a job on a cron schedule. A run that is still going when the
// next tick fires causes that tick to be skipped.
type Scheduler struct {
	spec   string
	job    Job
	cron   *cron.Cron
	logger *logrus.Logger

	mu      sync.Mutex
	running bool
	runs    int
	failed  int
}

func NewScheduler(spec string, job Job, logger *logrus.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = logrus.New()
	}
	if _, err := cron.ParseStandard(spec); err != nil {
		return nil, fmt.Errorf("invalid cron schedule %q: %w", spec, err)
	}
	cl := cronLogger{logger: logger}
	return &Scheduler{
		spec:   spec,
		job:    job,
		logger: logger,
		cron: cron.New(
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
	}, nil
}

// Run blocks until ctx is done, then waits for an in-flight job to return.
func (s *Scheduler) Run(ctx context.Context) error {
	if _, err := s.cron.AddFunc(s.spec, func() { s.runOnce(ctx) }); err != nil {
		return fmt.Errorf("failed to schedule export: %w", err)
	}

	s.mu.Lock()
	s.running = true
	s.mu.Unlock()

	s.cron.Start()
	s.logger.WithFields(logrus.Fields{
		"schedule": s.spec,
		"next_run": s.NextRun(),
	}).Info("Export scheduler started")

	<-ctx.Done()
	stopped := s.cron.Stop()
	<-stopped.Done()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()
	s.logger.Info("Export scheduler stopped")
	return nil
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	err := s.job(ctx)

	s.mu.Lock()
	s.runs++
	if err != nil {
		s.failed++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.WithError(err).Error("Scheduled export failed")
		return
	}
	s.logger.WithField("duration", time.Since(start).Round(time.Millisecond)).Info("Scheduled export finished")
}

// NextRun is the zero time before the scheduler starts.
func (s *Scheduler) NextRun() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// Stats returns the number of runs and failed runs so far.
func (s *Scheduler) Stats() (runs, failed int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.runs, s.failed
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// cronLogger adapts logrus to cron.Logger.
type cronLogger struct {
	logger *logrus.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).Debug("cron: " + msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.WithFields(kvFields(keysAndValues)).WithError(err).Error("cron: " + msg)
}

func kvFields(kv []interface{}) logrus.Fields {
	fields := make(logrus.Fields, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		fields[fmt.Sprint(kv[i])] = kv[i+1]
	}
	return fields
}
