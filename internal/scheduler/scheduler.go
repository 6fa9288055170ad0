// Package scheduler triggers the daily import of every configured year and
// exposes the manual "import one year now" entry point.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	appLog "attendcal/internal/log"
	"attendcal/internal/reconcile"
)

// Runner is the import service driven by the scheduler.
type Runner interface {
	SyncAll(ctx context.Context) []*reconcile.Report
	SyncYear(ctx context.Context, year, mode string) (*reconcile.Report, error)
}

// Scheduler runs Runner.SyncAll on a cron spec. A tick that fires while the
// previous run is still going is skipped.
type Scheduler struct {
	cron   *cron.Cron
	runner Runner
	entry  cron.EntryID

	ctx    context.Context
	cancel context.CancelFunc
}

// New parses spec (5 fields) in loc and registers the daily job.
func New(runner Runner, spec string, loc *time.Location) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	logger := cronLogger{}
	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{cron: c, runner: runner, ctx: ctx, cancel: cancel}

	id, err := c.AddFunc(spec, s.tick)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("invalid schedule %q: %w", spec, err)
	}
	s.entry = id
	return s, nil
}

func (s *Scheduler) tick() {
	appLog.Info("scheduled import started")
	reports := s.runner.SyncAll(s.ctx)
	failed := 0
	for _, r := range reports {
		if !r.OK() {
			failed++
		}
	}
	appLog.Info("scheduled import finished", "years", len(reports), "failed", failed, "next", s.Next().Format(time.RFC3339))
}

// Start begins firing the schedule in the background.
func (s *Scheduler) Start() {
	s.cron.Start()
	appLog.Info("scheduler started", "next", s.Next().Format(time.RFC3339))
}

// Stop prevents further ticks, tells the running one to start no further
// year, and waits for it to return or ctx to end. A year already being
// applied is finished.
func (s *Scheduler) Stop(ctx context.Context) {
	s.cancel()
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
		appLog.Warn("scheduler stop timed out")
	}
}

// Next returns the next scheduled run, or the zero time before Start.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunYear imports one year immediately. Runs of the same year are serialized
// with the scheduled run by the Runner.
func (s *Scheduler) RunYear(ctx context.Context, year, mode string) (*reconcile.Report, error) {
	if mode == "" {
		mode = reconcile.ModeManual
	}
	appLog.Info("manual import triggered", "year", year, "mode", mode)
	return s.runner.SyncYear(ctx, year, mode)
}

// cronLogger adapts cron's logger to the application logger.
type cronLogger struct{}

func (cronLogger) Info(msg string, kv ...any) {
	appLog.Debug("cron: "+msg, kv...)
}

func (cronLogger) Error(err error, msg string, kv ...any) {
	appLog.Error("cron: "+msg, err, kv...)
}
