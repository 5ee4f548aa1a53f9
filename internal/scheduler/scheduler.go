// Package scheduler runs configured mail imports on cron schedules.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/wesm/tagmail/internal/config"
)

// Errors returned by TriggerRun.
var (
	ErrStopped        = errors.New("scheduler is stopped")
	ErrNotScheduled   = errors.New("source is not scheduled")
	ErrAlreadyRunning = errors.New("import already running")
)

// RunFunc imports one named source. It should return promptly once ctx is
// cancelled.
type RunFunc func(ctx context.Context, source string) error

// SourceStatus reports the state of one scheduled source.
type SourceStatus struct {
	Source    string    `json:"source"`
	Running   bool      `json:"running"`
	LastRun   time.Time `json:"last_run,omitempty"`
	NextRun   time.Time `json:"next_run"`
	Schedule  string    `json:"schedule"`
	LastError string    `json:"last_error,omitempty"`
}

type job struct {
	entry    cron.EntryID
	schedule string
	running  bool
	lastRun  time.Time
	lastErr  error
}

// Scheduler triggers imports of named sources on cron schedules. At most one
// run per source is in flight at a time.
type Scheduler struct {
	cron   *cron.Cron
	run    RunFunc
	logger *slog.Logger

	mu      sync.RWMutex
	jobs    map[string]*job
	started bool
	stopped bool

	ctx    context.Context    // cancelled on Stop
	cancel context.CancelFunc // cancels ctx
	wg     sync.WaitGroup     // tracks running imports
}

func newParser() cron.Parser {
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
}

// New creates a Scheduler that calls run for each due source.
func New(run RunFunc) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithParser(newParser())),
		run:    run,
		logger: slog.Default(),
		jobs:   make(map[string]*job),
		ctx:    ctx,
		cancel: cancel,
	}
}

// WithLogger sets the logger for the scheduler.
func (s *Scheduler) WithLogger(logger *slog.Logger) *Scheduler {
	s.logger = logger
	return s
}

// AddSource schedules imports of source using cronExpr, replacing any
// existing schedule for it. Run history is kept across replacement.
func (s *Scheduler) AddSource(source, cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, err := s.cron.AddFunc(cronExpr, func() {
		if s.claim(source) {
			s.execute(source)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", cronExpr, err)
	}

	j, exists := s.jobs[source]
	if exists {
		s.cron.Remove(j.entry)
	} else {
		j = &job{}
		s.jobs[source] = j
	}
	j.entry = entryID
	j.schedule = cronExpr

	s.logger.Info("scheduled import",
		"source", source,
		"schedule", cronExpr,
		"next_run", s.cron.Entry(entryID).Next)
	return nil
}

// AddSourcesFromConfig schedules every enabled source with a schedule.
// Returns the number scheduled and any per-source errors.
func (s *Scheduler) AddSourcesFromConfig(cfg *config.Config) (int, []error) {
	var errs []error
	scheduled := 0
	for _, src := range cfg.ScheduledSources() {
		if err := s.AddSource(src.Name, src.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", src.Name, err))
			continue
		}
		scheduled++
	}
	return scheduled, errs
}

// RemoveSource removes the schedule for source. A run in progress finishes.
func (s *Scheduler) RemoveSource(source string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if j, exists := s.jobs[source]; exists {
		s.cron.Remove(j.entry)
		delete(s.jobs, source)
		s.logger.Info("removed schedule", "source", source)
	}
}

// Start begins executing scheduled jobs.
func (s *Scheduler) Start() {
	s.mu.Lock()
	s.started = true
	s.stopped = false
	n := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	s.logger.Info("scheduler started", "jobs", n)
}

// IsRunning returns true if the scheduler has been started and not yet stopped.
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.started && !s.stopped
}

// Stop stops scheduling, cancels running imports, and returns a context
// that is done once they have all returned.
func (s *Scheduler) Stop() context.Context {
	s.logger.Info("scheduler stopping")

	s.mu.Lock()
	s.stopped = true
	s.mu.Unlock()

	cronCtx := s.cron.Stop()
	s.cancel()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		<-cronCtx.Done()
		s.wg.Wait()
		cancel()
	}()
	return ctx
}

// claim marks source as running. It reports false if the scheduler is
// stopped, the source is gone, or a run is already in flight.
func (s *Scheduler) claim(source string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[source]
	if s.stopped || !ok || j.running {
		return false
	}
	j.running = true
	s.wg.Add(1)
	return true
}

// execute runs one import. The caller must have claimed source.
func (s *Scheduler) execute(source string) {
	defer s.wg.Done()

	s.logger.Info("starting scheduled import", "source", source)
	start := time.Now()
	err := s.run(s.ctx, source)

	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[source]
	if !ok {
		// Removed while running; nothing left to record.
		return
	}
	j.running = false
	if err != nil {
		j.lastErr = err
		s.logger.Error("scheduled import failed",
			"source", source,
			"duration", time.Since(start),
			"error", err)
		return
	}
	j.lastRun = time.Now()
	j.lastErr = nil
	s.logger.Info("scheduled import completed",
		"source", source,
		"duration", time.Since(start))
}

// IsScheduled returns true if source has been added to the scheduler.
func (s *Scheduler) IsScheduled(source string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, exists := s.jobs[source]
	return exists
}

// TriggerRun starts an import of source now, outside its schedule.
func (s *Scheduler) TriggerRun(source string) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	j, exists := s.jobs[source]
	if !exists {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotScheduled, source)
	}
	if j.running {
		s.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyRunning, source)
	}
	j.running = true
	s.wg.Add(1)
	s.mu.Unlock()

	go s.execute(source)
	return nil
}

// Status returns the state of every scheduled source, sorted by name.
func (s *Scheduler) Status() []SourceStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	statuses := make([]SourceStatus, 0, len(s.jobs))
	for name, j := range s.jobs {
		status := SourceStatus{
			Source:   name,
			Running:  j.running,
			LastRun:  j.lastRun,
			NextRun:  s.cron.Entry(j.entry).Next,
			Schedule: j.schedule,
		}
		if j.lastErr != nil {
			status.LastError = j.lastErr.Error()
		}
		statuses = append(statuses, status)
	}
	sort.Slice(statuses, func(i, k int) bool { return statuses[i].Source < statuses[k].Source })
	return statuses
}

// ValidateCronExpr validates a cron expression without scheduling anything.
func ValidateCronExpr(expr string) error {
	if _, err := newParser().Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression: %w", err)
	}
	return nil
}
