package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/wesm/tagmail/internal/config"
)

func noop(ctx context.Context, source string) error { return nil }

// waitFor polls cond until it holds or a second passes.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func statusOf(s *Scheduler, source string) (SourceStatus, bool) {
	for _, st := range s.Status() {
		if st.Source == source {
			return st, true
		}
	}
	return SourceStatus{}, false
}

func waitStopped(t *testing.T, ctx context.Context) {
	t.Helper()
	select {
	case <-ctx.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("Stop() did not complete in time")
	}
}

func TestAddSource(t *testing.T) {
	s := New(noop)

	if err := s.AddSource("archive", "0 2 * * *"); err != nil {
		t.Fatalf("AddSource() = %v", err)
	}
	if !s.IsScheduled("archive") {
		t.Error("archive should be scheduled")
	}
	if s.IsScheduled("other") {
		t.Error("other should not be scheduled")
	}
}

func TestAddSourceInvalidCron(t *testing.T) {
	s := New(noop)
	if err := s.AddSource("archive", "invalid cron"); err == nil {
		t.Error("AddSource() with invalid cron = nil, want error")
	}
	if s.IsScheduled("archive") {
		t.Error("invalid schedule should not be registered")
	}
}

func TestAddSourceReplacesExisting(t *testing.T) {
	s := New(noop)
	if err := s.AddSource("archive", "0 2 * * *"); err != nil {
		t.Fatal(err)
	}
	s.mu.RLock()
	firstID := s.jobs["archive"].entry
	s.mu.RUnlock()

	if err := s.AddSource("archive", "0 3 * * *"); err != nil {
		t.Fatal(err)
	}
	s.mu.RLock()
	secondID := s.jobs["archive"].entry
	s.mu.RUnlock()

	if firstID == secondID {
		t.Error("entry ID was not updated after replacement")
	}
	if len(s.cron.Entries()) != 1 {
		t.Errorf("cron entries = %d, want 1", len(s.cron.Entries()))
	}
	if st, _ := statusOf(s, "archive"); st.Schedule != "0 3 * * *" {
		t.Errorf("Schedule = %q", st.Schedule)
	}
}

func TestRemoveSource(t *testing.T) {
	s := New(noop)
	if err := s.AddSource("archive", "0 2 * * *"); err != nil {
		t.Fatal(err)
	}
	s.RemoveSource("archive")
	if s.IsScheduled("archive") {
		t.Error("archive still scheduled after RemoveSource()")
	}
	// Unknown sources are ignored.
	s.RemoveSource("nonexistent")
}

func TestAddSourcesFromConfig(t *testing.T) {
	s := New(noop)
	cfg := &config.Config{
		Sources: []config.Source{
			{Name: "a", Path: "/a", Schedule: "0 1 * * *", Enabled: true},
			{Name: "b", Path: "/b", Schedule: "0 2 * * *", Enabled: true},
			{Name: "disabled", Path: "/c", Schedule: "0 3 * * *", Enabled: false},
			{Name: "manual", Path: "/d", Enabled: true},
			{Name: "bad", Path: "/e", Schedule: "not a cron", Enabled: true},
		},
	}

	scheduled, errs := s.AddSourcesFromConfig(cfg)
	if scheduled != 2 {
		t.Errorf("scheduled = %d, want 2", scheduled)
	}
	if len(errs) != 1 {
		t.Errorf("errs = %v, want 1 error", errs)
	}
	for name, want := range map[string]bool{"a": true, "b": true, "disabled": false, "manual": false, "bad": false} {
		if got := s.IsScheduled(name); got != want {
			t.Errorf("IsScheduled(%q) = %v, want %v", name, got, want)
		}
	}
}

func TestIsRunning(t *testing.T) {
	s := New(noop)
	if s.IsRunning() {
		t.Error("IsRunning() = true before Start()")
	}
	s.Start()
	if !s.IsRunning() {
		t.Error("IsRunning() = false after Start()")
	}
	ctx := s.Stop()
	if s.IsRunning() {
		t.Error("IsRunning() = true after Stop()")
	}
	waitStopped(t, ctx)
}

func TestTriggerRun(t *testing.T) {
	release := make(chan struct{})
	var calls atomic.Int32
	var gotSource atomic.Value
	s := New(func(ctx context.Context, source string) error {
		calls.Add(1)
		gotSource.Store(source)
		<-release
		return nil
	})
	if err := s.AddSource("archive", "0 0 1 1 *"); err != nil {
		t.Fatal(err)
	}

	if err := s.TriggerRun("archive"); err != nil {
		t.Fatalf("TriggerRun() = %v", err)
	}
	waitFor(t, "run to start", func() bool { return calls.Load() == 1 })

	if err := s.TriggerRun("archive"); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second TriggerRun() = %v, want ErrAlreadyRunning", err)
	}
	if st, _ := statusOf(s, "archive"); !st.Running {
		t.Error("status should report running")
	}

	close(release)
	waitFor(t, "run to finish", func() bool {
		st, _ := statusOf(s, "archive")
		return !st.Running
	})
	if calls.Load() != 1 {
		t.Errorf("run called %d times, want 1", calls.Load())
	}
	if got := gotSource.Load(); got != "archive" {
		t.Errorf("source = %v, want archive", got)
	}
	st, _ := statusOf(s, "archive")
	if st.LastRun.IsZero() || st.LastError != "" {
		t.Errorf("status after success = %+v", st)
	}
}

func TestTriggerRunNotScheduled(t *testing.T) {
	s := New(noop)
	if err := s.TriggerRun("missing"); !errors.Is(err, ErrNotScheduled) {
		t.Errorf("TriggerRun() = %v, want ErrNotScheduled", err)
	}
}

func TestTriggerRunAfterStop(t *testing.T) {
	s := New(noop)
	if err := s.AddSource("archive", "0 0 1 1 *"); err != nil {
		t.Fatal(err)
	}
	waitStopped(t, s.Stop())
	if err := s.TriggerRun("archive"); !errors.Is(err, ErrStopped) {
		t.Errorf("TriggerRun() after Stop() = %v, want ErrStopped", err)
	}
}

func TestStatusAfterError(t *testing.T) {
	s := New(func(ctx context.Context, source string) error {
		return errors.New("import failed")
	})
	if err := s.AddSource("archive", "0 0 1 1 *"); err != nil {
		t.Fatal(err)
	}
	if err := s.TriggerRun("archive"); err != nil {
		t.Fatal(err)
	}
	waitFor(t, "error to be recorded", func() bool {
		st, _ := statusOf(s, "archive")
		return st.LastError == "import failed" && !st.Running
	})
	if st, _ := statusOf(s, "archive"); !st.LastRun.IsZero() {
		t.Error("LastRun should stay zero after a failed run")
	}
}

func TestStopCancelsRunningImport(t *testing.T) {
	started := make(chan struct{})
	s := New(func(ctx context.Context, source string) error {
		close(started)
		<-ctx.Done()
		return ctx.Err()
	})
	if err := s.AddSource("archive", "0 0 1 1 *"); err != nil {
		t.Fatal(err)
	}
	if err := s.TriggerRun("archive"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(time.Second):
		t.Fatal("import did not start")
	}

	waitStopped(t, s.Stop())

	st, ok := statusOf(s, "archive")
	if !ok || st.LastError == "" {
		t.Errorf("expected recorded cancellation error, got %+v", st)
	}
}

func TestStatusSortedWithNextRun(t *testing.T) {
	s := New(noop)
	for _, name := range []string{"zeta", "alpha", "mid"} {
		if err := s.AddSource(name, "0 2 * * *"); err != nil {
			t.Fatal(err)
		}
	}
	s.Start()
	defer s.Stop()

	statuses := s.Status()
	if len(statuses) != 3 {
		t.Fatalf("len(Status()) = %d, want 3", len(statuses))
	}
	want := []string{"alpha", "mid", "zeta"}
	for i, st := range statuses {
		if st.Source != want[i] {
			t.Errorf("Status()[%d] = %q, want %q", i, st.Source, want[i])
		}
		if st.NextRun.IsZero() {
			t.Errorf("%s: NextRun is zero", st.Source)
		}
	}
}

func TestValidateCronExpr(t *testing.T) {
	tests := []struct {
		expr    string
		wantErr bool
	}{
		{"0 2 * * *", false},
		{"*/15 * * * *", false},
		{"0 0 1 * *", false},
		{"0 0 * * 0", false},
		{"invalid", true},
		{"* * * * * *", true},
		{"", true},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			err := ValidateCronExpr(tt.expr)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateCronExpr(%q) error = %v, wantErr = %v", tt.expr, err, tt.wantErr)
			}
		})
	}
}
