package workflow

import (
	"context"
	"errors"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/openhelpdesk/ai-helpdesk/internal/observability"
)

func newTestEngine(t *testing.T, retries int) (*Engine, *MemoryStore, *observability.Metrics) {
	t.Helper()
	store := NewMemoryStore()
	metrics := observability.NewMetrics()
	e := NewEngine(store, Policy{Retries: retries}, zap.NewNop(), metrics)
	e.sleep = func(context.Context, time.Duration) error { return nil }
	return e, store, metrics
}

func TestPolicyAttempts(t *testing.T) {
	if got := (Policy{Retries: 2}).Attempts(); got != 3 {
		t.Fatalf("Attempts = %d, want 3", got)
	}
	if got := (Policy{Retries: -1}).Attempts(); got != 1 {
		t.Fatalf("Attempts negative = %d, want 1", got)
	}
}

func TestDoRetriesThenSucceeds(t *testing.T) {
	e, _, metrics := newTestEngine(t, 2)
	ctx := context.Background()
	run, err := e.Start(ctx, "assign", "i1")
	if err != nil {
		t.Fatal(err)
	}

	calls := 0
	got, err := Do(ctx, run, "classify", func(context.Context) (string, error) {
		calls++
		if calls < 3 {
			return "", errors.New("flaky")
		}
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	if got != "ok" || calls != 3 {
		t.Fatalf("got %q after %d calls", got, calls)
	}
	if n := metrics.Snapshot().StepAttempts["assign|classify"]; n != 3 {
		t.Fatalf("step attempts = %d, want 3", n)
	}
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	e, _, _ := newTestEngine(t, 2)
	ctx := context.Background()
	run, _ := e.Start(ctx, "assign", "i1")

	calls := 0
	boom := errors.New("down")
	_, err := Do(ctx, run, "classify", func(context.Context) (int, error) {
		calls++
		return 0, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want wrapped boom", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestDoNonRetriableStopsImmediately(t *testing.T) {
	e, _, _ := newTestEngine(t, 5)
	ctx := context.Background()
	run, _ := e.Start(ctx, "assign", "i1")

	calls := 0
	_, err := Do(ctx, run, "fetch-ticket", func(context.Context) (int, error) {
		calls++
		return 0, NonRetriable(errors.New("ticket gone"))
	})
	if !IsNonRetriable(err) {
		t.Fatalf("err = %v, want non-retriable", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

type payload struct {
	Skills []string `json:"skills"`
}

func TestDoReplaysCachedResult(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	run, _ := e.Start(ctx, "assign", "i1")
	first, err := Do(ctx, run, "classify", func(context.Context) (payload, error) {
		return payload{Skills: []string{"react"}}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	_ = run.Finish(ctx, nil)

	run, err = e.Start(ctx, "assign", "i1")
	if err != nil {
		t.Fatalf("restart: %v", err)
	}
	second, err := Do(ctx, run, "classify", func(context.Context) (payload, error) {
		t.Fatal("step executed again")
		return payload{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(second.Skills) != 1 || second.Skills[0] != first.Skills[0] {
		t.Fatalf("replayed %+v, want %+v", second, first)
	}
}

func TestStartRejectsConcurrentInstance(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	run, err := e.Start(ctx, "assign", "i1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := e.Start(ctx, "assign", "i1"); !errors.Is(err, ErrInstanceBusy) {
		t.Fatalf("second Start err = %v, want ErrInstanceBusy", err)
	}
	if _, err := e.Start(ctx, "assign", "i2"); err != nil {
		t.Fatalf("other instance: %v", err)
	}
	_ = run.Finish(ctx, nil)
	if _, err := e.Start(ctx, "assign", "i1"); err != nil {
		t.Fatalf("after Finish: %v", err)
	}
}

func TestFinishRecordsOutcome(t *testing.T) {
	e, store, metrics := newTestEngine(t, 0)
	ctx := context.Background()

	run, _ := e.Start(ctx, "assign", "i1")
	boom := errors.New("boom")
	if err := run.Finish(ctx, boom); !errors.Is(err, boom) {
		t.Fatalf("Finish returned %v", err)
	}
	o, ok, _ := store.Outcome(ctx, "i1")
	if !ok || o.Status != OutcomeFailed || o.Error != "boom" {
		t.Fatalf("outcome = %+v, %v", o, ok)
	}
	if n := metrics.Snapshot().WorkflowOutcomes["assign|failed"]; n != 1 {
		t.Fatalf("failed outcomes = %d", n)
	}
}

func TestDoStopsOnCancelledContext(t *testing.T) {
	e, _, _ := newTestEngine(t, 3)
	ctx, cancel := context.WithCancel(context.Background())
	run, _ := e.Start(ctx, "assign", "i1")

	calls := 0
	_, err := Do(ctx, run, "classify", func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("interrupted")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Fatalf("calls = %d, want 1", calls)
	}
}

func TestMemoryStoreLockExpires(t *testing.T) {
	s := NewMemoryStore()
	now := time.Unix(0, 0)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	if ok, _ := s.Acquire(ctx, "i", "a", time.Minute); !ok {
		t.Fatal("first acquire failed")
	}
	if ok, _ := s.Acquire(ctx, "i", "b", time.Minute); ok {
		t.Fatal("second acquire should fail while held")
	}
	_ = s.Release(ctx, "i", "b")
	if ok, _ := s.Acquire(ctx, "i", "b", time.Minute); ok {
		t.Fatal("release by non-owner must not free the lock")
	}
	now = now.Add(2 * time.Minute)
	if ok, _ := s.Acquire(ctx, "i", "b", time.Minute); !ok {
		t.Fatal("expired lock should be reclaimable")
	}
}

func TestRememberSeedsStepResult(t *testing.T) {
	e, _, _ := newTestEngine(t, 0)
	ctx := context.Background()

	run, _ := e.Start(ctx, "assign", "i1")
	if err := Remember(ctx, run, "classify", payload{Skills: []string{"fallback"}}); err != nil {
		t.Fatalf("Remember: %v", err)
	}
	got, err := Do(ctx, run, "classify", func(context.Context) (payload, error) {
		t.Fatal("remembered step executed")
		return payload{}, nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Skills) != 1 || got.Skills[0] != "fallback" {
		t.Fatalf("got %+v, want remembered value", got)
	}
}
