package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jakopako/goguide/internal/remote"
)

type call struct {
	kind   string
	detail string
	at     time.Time
}

type fakeRemote struct {
	mu        sync.Mutex
	calls     []call
	startGate chan struct{}
	failSteps  int
	failStarts int
	abandoned remote.Abandonment
}

func (f *fakeRemote) record(kind, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, call{kind: kind, detail: detail, at: time.Now()})
}

func (f *fakeRemote) StartExecution(_ context.Context, flowID string, _ remote.SessionContext) (string, error) {
	if f.startGate != nil {
		<-f.startGate
	}
	f.mu.Lock()
	if f.failStarts > 0 {
		f.failStarts--
		f.mu.Unlock()
		return "", errors.New("boom")
	}
	f.mu.Unlock()
	f.record("start", flowID)
	return "exec-" + flowID, nil
}

func (f *fakeRemote) UpdateProgress(_ context.Context, id string, u remote.ProgressUpdate) error {
	f.record("progress", fmt.Sprintf("%s:%s:%s", id, u.StepID, u.Status))
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSteps > 0 {
		f.failSteps--
		return errors.New("boom")
	}
	return nil
}

func (f *fakeRemote) CompleteExecution(_ context.Context, id string) error {
	f.record("complete", id)
	return nil
}

func (f *fakeRemote) AbandonExecution(_ context.Context, id string, a remote.Abandonment) error {
	f.record("abandon", id)
	f.mu.Lock()
	f.abandoned = a
	f.mu.Unlock()
	return nil
}

func (f *fakeRemote) Close() error { return nil }

func (f *fakeRemote) snapshot() []call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]call(nil), f.calls...)
}

func wait(t *testing.T, tr *Tracker) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := tr.Wait(ctx); err != nil {
		t.Fatalf("Wait() error: %v", err)
	}
}

func TestReportsBeforeStartReplayInOrder(t *testing.T) {
	const delay = 40 * time.Millisecond
	f := &fakeRemote{startGate: make(chan struct{})}
	tr := New(f, Config{MaxRetries: 1, ReplayDelay: delay})
	defer tr.Close()
	ctx := context.Background()

	if err := tr.Start(ctx, "onboarding", remote.SessionContext{SessionID: "s"}); err != nil {
		t.Fatal(err)
	}
	if err := tr.ReportStepCompletion(ctx, "s1", 1000, StepCompleted); err != nil {
		t.Errorf("report before start should be accepted, got %v", err)
	}
	if err := tr.ReportStepCompletion(ctx, "s2", 2000, StepCompleted); err != nil {
		t.Errorf("report before start should be accepted, got %v", err)
	}
	if tr.ExecutionID() != "" {
		t.Fatal("execution id set before start resolved")
	}
	close(f.startGate)
	wait(t, tr)

	calls := f.snapshot()
	want := []string{"onboarding", "exec-onboarding:s1:completed", "exec-onboarding:s2:completed"}
	if len(calls) != len(want) {
		t.Fatalf("got calls %v; want %v", calls, want)
	}
	for i, c := range calls {
		if c.detail != want[i] {
			t.Errorf("call %d = %s; want %s", i, c.detail, want[i])
		}
	}
	if gap := calls[2].at.Sub(calls[1].at); gap < delay-5*time.Millisecond {
		t.Errorf("replayed reports %v apart; want at least %v", gap, delay)
	}
	if tr.ExecutionID() != "exec-onboarding" {
		t.Errorf("ExecutionID() = %q", tr.ExecutionID())
	}
}

func TestRetries(t *testing.T) {
	tests := []struct {
		name      string
		failSteps int
		wantCalls int
	}{
		{"succeeds after retries", 2, 3},
		{"dropped after the retry budget", 5, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRemote{failSteps: tt.failSteps}
			tr := New(f, Config{MaxRetries: 2, RetryDelay: time.Millisecond})
			defer tr.Close()
			ctx := context.Background()
			tr.Start(ctx, "f", remote.SessionContext{})
			wait(t, tr)
			tr.ReportStepCompletion(ctx, "s1", 1, StepCompleted)
			wait(t, tr)

			progress := 0
			for _, c := range f.snapshot() {
				if c.kind == "progress" {
					progress++
				}
			}
			if progress != tt.wantCalls {
				t.Errorf("got %d progress calls; want %d", progress, tt.wantCalls)
			}
			tr.mu.Lock()
			left := len(tr.retries)
			tr.mu.Unlock()
			if left != 0 {
				t.Errorf("retry counters not reset: %d left", left)
			}
		})
	}
}

func TestReasonStatus(t *testing.T) {
	tests := []struct {
		reason Reason
		want   string
	}{
		{ReasonUserInitiated, "abandoned"},
		{ReasonElementNotFound, "element_not_found"},
		{ReasonSDKError, "error"},
		{ReasonNavigation, "navigated_away"},
		{Reason("tab_closed"), "abandoned"},
		{Reason(""), "abandoned"},
	}
	for _, tt := range tests {
		if got := tt.reason.Status(); got != tt.want {
			t.Errorf("Reason(%q).Status() = %s; want %s", tt.reason, got, tt.want)
		}
	}
}

func TestAbandonmentResetsState(t *testing.T) {
	f := &fakeRemote{}
	tr := New(f, Config{MaxRetries: 1})
	defer tr.Close()
	ctx := context.Background()
	tr.Start(ctx, "f", remote.SessionContext{})
	wait(t, tr)
	tr.ReportStepCompletion(ctx, "s1", 1000, StepCompleted)
	tr.ReportAbandonment(ctx, ReasonElementNotFound, "no save button")
	wait(t, tr)

	f.mu.Lock()
	a := f.abandoned
	f.mu.Unlock()
	if a.Status != "element_not_found" || a.LastStepID != "s1" || a.LastPosition != 1000 || a.Details != "no save button" {
		t.Errorf("abandonment = %+v", a)
	}
	if tr.ExecutionID() != "" {
		t.Error("execution id not reset after abandonment")
	}

	before := len(f.snapshot())
	tr.ReportStepCompletion(ctx, "s2", 2000, StepCompleted)
	wait(t, tr)
	if len(f.snapshot()) != before {
		t.Error("report after reset was sent without a new execution")
	}
}

func TestCompletionResetsState(t *testing.T) {
	f := &fakeRemote{}
	tr := New(f, Config{})
	defer tr.Close()
	ctx := context.Background()
	tr.Start(ctx, "f", remote.SessionContext{})
	tr.ReportCompletion(ctx)
	wait(t, tr)
	calls := f.snapshot()
	if len(calls) != 2 || calls[1].kind != "complete" {
		t.Fatalf("calls = %v", calls)
	}
	if tr.ExecutionID() != "" {
		t.Error("execution id not reset after completion")
	}
}

func TestClosedTrackerRejectsReports(t *testing.T) {
	tr := New(&fakeRemote{}, Config{})
	tr.Close()
	if err := tr.ReportCompletion(context.Background()); err == nil {
		t.Error("expected an error after Close")
	}
	if err := tr.Close(); err != nil {
		t.Errorf("second Close() = %v", err)
	}
}

func TestFailedStartDoesNotLeakIntoNextRun(t *testing.T) {
	tests := []struct {
		name string
		// gated reports the first run before its start has failed
		gated bool
	}{
		{"reports after the failed start", false},
		{"reports before the failed start", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRemote{failStarts: 2}
			if tt.gated {
				f.startGate = make(chan struct{})
			}
			tr := New(f, Config{MaxRetries: 1, RetryDelay: time.Millisecond})
			defer tr.Close()
			ctx := context.Background()

			tr.Start(ctx, "first", remote.SessionContext{})
			if !tt.gated {
				wait(t, tr)
			}
			if err := tr.ReportStepCompletion(ctx, "first-s1", 1000, StepCompleted); err != nil {
				t.Errorf("report of the first run = %v", err)
			}
			tr.ReportCompletion(ctx)
			if tt.gated {
				close(f.startGate)
			}
			wait(t, tr)
			if tr.ExecutionID() != "" {
				t.Fatalf("ExecutionID() = %q after a failed start", tr.ExecutionID())
			}

			tr.Start(ctx, "second", remote.SessionContext{})
			tr.ReportStepCompletion(ctx, "second-s1", 1000, StepCompleted)
			wait(t, tr)

			want := []string{"second", "exec-second:second-s1:completed"}
			calls := f.snapshot()
			if len(calls) != len(want) {
				t.Fatalf("got calls %v; want %v", calls, want)
			}
			for i, c := range calls {
				if c.detail != want[i] {
					t.Errorf("call %d = %s; want %s", i, c.detail, want[i])
				}
			}
			if tr.ExecutionID() != "exec-second" {
				t.Errorf("ExecutionID() = %q; want exec-second", tr.ExecutionID())
			}
		})
	}
}
