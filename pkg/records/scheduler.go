package records

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler runs deduplication passes on a cron schedule.
// Passes never overlap: a tick that fires while a pass is running is skipped.
type Scheduler struct {
	cron     *cron.Cron
	dedup    *Deduplicator
	onResult func(*Report, error)
	opts     DedupeOptions
	timeout  time.Duration
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithResultHandler registers a callback invoked after every pass.
func WithResultHandler(fn func(*Report, error)) SchedulerOption {
	return func(s *Scheduler) {
		s.onResult = fn
	}
}

// WithPassTimeout bounds the duration of a single pass.
func WithPassTimeout(d time.Duration) SchedulerOption {
	return func(s *Scheduler) {
		s.timeout = d
	}
}

// NewScheduler creates a scheduler running dedup with opts on the standard
// five-field cron expression spec (descriptors such as @hourly are accepted).
func NewScheduler(dedup *Deduplicator, spec string, opts DedupeOptions, options ...SchedulerOption) (*Scheduler, error) {
	s := &Scheduler{
		dedup: dedup,
		opts:  opts,
	}
	for _, opt := range options {
		opt(s)
	}

	logger := cronLogger{}
	s.cron = cron.New(
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := s.cron.AddFunc(spec, s.runOnce); err != nil {
		return nil, fmt.Errorf("records: invalid schedule %q: %w", spec, err)
	}
	return s, nil
}

// Start begins running passes in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	debugLog.Infof("Dedupe scheduler started")
}

// Stop stops the schedule and waits for a running pass, up to ctx's deadline.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		debugLog.Warnf("Stop timed out waiting for the running pass")
	}
	debugLog.Infof("Dedupe scheduler stopped")
}

// Next returns the time of the next scheduled pass.
func (s *Scheduler) Next() time.Time {
	entries := s.cron.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

func (s *Scheduler) runOnce() {
	ctx := context.Background()
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	report, err := s.dedup.Run(ctx, s.opts)
	if err != nil {
		debugLog.Errorf("Scheduled dedupe failed: %v", err)
	}
	if s.onResult != nil {
		s.onResult(report, err)
	}
}

// cronLogger adapts the component logger to cron.Logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...interface{}) {
	debugLog.Debugf("cron: %s %v", msg, keysAndValues)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	debugLog.Errorf("cron: %s: %v %v", msg, err, keysAndValues)
}
