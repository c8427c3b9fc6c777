// Package scheduler is the single owner of all background work (spec
// §4.9): a cron-expression job registry built on robfig/cron/v3, with a
// per-job overlap guard, a panic barrier, and a fresh correlation id
// attached to every firing. It generalizes the teacher's ticker-based
// internal/maintenance.Start loop into a full job table driven by cron
// expressions instead of fixed Go tickers.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/engels74/comradarr-sub004/internal/corrid"
)

// Job is one scheduled unit of work: a cron expression and the function it
// fires. Fn receives a context carrying a fresh correlation id.
type Job struct {
	Name string
	Spec string
	Fn   func(ctx context.Context) error
}

// Scheduler owns the cron engine and the dynamic schedule rows layered on
// top of the built-in job table.
type Scheduler struct {
	cron    *cron.Cron
	logger  *slog.Logger
	mu      sync.Mutex
	byName  map[string]cron.EntryID
	lastRun map[string]jobOutcome
}

type jobOutcome struct {
	at  time.Time
	err error
}

// New builds a Scheduler. Jobs run with a panic-recovery wrapper and are
// skipped (not queued) if the previous firing is still in flight — spec
// §4.9 "mutex-like guard preventing overlapping executions" and "panic/
// exception barrier: any failure is logged and never terminates the
// scheduler" map directly onto cron/v3's SkipIfStillRunning + Recover job
// wrappers.
func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithSeconds(), // the connector-reconnect job fires every 30s (spec §4.9)
		cron.WithChain(
			cron.Recover(cl),
			cron.SkipIfStillRunning(cl),
		),
	)
	return &Scheduler{cron: c, logger: logger, byName: make(map[string]cron.EntryID), lastRun: make(map[string]jobOutcome)}
}

// Register adds a job to the cron engine, wrapping Fn with a fresh
// correlation id per firing (spec §4.9 "a fresh correlation identifier per
// execution, propagated through all downstream calls for tracing").
func (s *Scheduler) Register(job Job) error {
	wrapped := func() {
		id := corrid.New()
		ctx := corrid.WithContext(context.Background(), id)
		start := time.Now()
		err := job.Fn(ctx)

		s.mu.Lock()
		s.lastRun[job.Name] = jobOutcome{at: start, err: err}
		s.mu.Unlock()

		if err != nil {
			s.logger.Error("scheduled job failed", "job", job.Name, "correlation_id", id, "error", err, "duration_ms", time.Since(start).Milliseconds())
			return
		}
		s.logger.Info("scheduled job completed", "job", job.Name, "correlation_id", id, "duration_ms", time.Since(start).Milliseconds())
	}

	entryID, err := s.cron.AddFunc(job.Spec, wrapped)
	if err != nil {
		return fmt.Errorf("register job %s: %w", job.Name, err)
	}

	s.mu.Lock()
	s.byName[job.Name] = entryID
	s.mu.Unlock()
	return nil
}

// Unregister removes a previously registered job by name (used when
// reloading a dynamic schedule whose cron expression changed).
func (s *Scheduler) Unregister(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id, ok := s.byName[name]; ok {
		s.cron.Remove(id)
		delete(s.byName, name)
	}
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
}

// Shutdown stops the scheduler from firing new jobs and waits for any
// in-flight job to finish, up to grace. Each job runs with a context
// derived from context.Background, which Shutdown does not cancel; a job
// still running when grace elapses is logged and left running.
func (s *Scheduler) Shutdown(grace time.Duration) {
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(grace):
		s.logger.Warn("scheduler shutdown grace period elapsed with jobs still running")
	}
}

// NextRun reports the next firing time for a registered job, if any.
func (s *Scheduler) NextRun(name string) (time.Time, bool) {
	s.mu.Lock()
	id, ok := s.byName[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}, false
	}
	entry := s.cron.Entry(id)
	if entry.ID == 0 {
		return time.Time{}, false
	}
	return entry.Next, true
}

// JobStatus summarizes one registered job's last firing and next scheduled
// firing, surfaced read-only by internal/admin.
type JobStatus struct {
	Name        string
	NextRunAt   time.Time
	LastRanAt   time.Time
	LastError   string
}

// Status reports every registered job's last/next run, for the admin
// status surface.
func (s *Scheduler) Status() []JobStatus {
	s.mu.Lock()
	names := make([]string, 0, len(s.byName))
	for name := range s.byName {
		names = append(names, name)
	}
	lastRun := make(map[string]jobOutcome, len(s.lastRun))
	for k, v := range s.lastRun {
		lastRun[k] = v
	}
	s.mu.Unlock()

	out := make([]JobStatus, 0, len(names))
	for _, name := range names {
		js := JobStatus{Name: name}
		if next, ok := s.NextRun(name); ok {
			js.NextRunAt = next
		}
		if outcome, ok := lastRun[name]; ok {
			js.LastRanAt = outcome.at
			if outcome.err != nil {
				js.LastError = outcome.err.Error()
			}
		}
		out = append(out, js)
	}
	return out
}

// cronLogger adapts *slog.Logger to cron.Logger.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	l.logger.Info(msg, kv...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	args := append([]any{"error", err}, kv...)
	l.logger.Error(msg, args...)
}
