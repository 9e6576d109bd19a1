// Package workflow runs short multi-step pipelines with per-step retries and
// a result cache keyed by (instance, step), so a re-delivered event replays
// finished steps instead of executing them again.
package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/openhelpdesk/ai-helpdesk/internal/observability"
)

// Step names one unit of work inside a workflow.
type Step string

// OutcomeStatus is the binary result of a run.
type OutcomeStatus string

const (
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
)

// Outcome is recorded once per finished run.
type Outcome struct {
	Status     OutcomeStatus `json:"status"`
	Error      string        `json:"error,omitempty"`
	FinishedAt time.Time     `json:"finishedAt"`
}

// ErrInstanceBusy is returned by Start when another worker holds the instance.
var ErrInstanceBusy = errors.New("workflow: instance already running")

// Policy bounds step retries.
type Policy struct {
	Retries int
	Backoff time.Duration
}

// Attempts is the total number of executions allowed per step.
func (p Policy) Attempts() int {
	if p.Retries < 0 {
		return 1
	}
	return p.Retries + 1
}

type nonRetriableError struct {
	err error
}

func (e *nonRetriableError) Error() string { return e.err.Error() }
func (e *nonRetriableError) Unwrap() error { return e.err }

// NonRetriable marks err as terminal: the step is not attempted again.
func NonRetriable(err error) error {
	if err == nil {
		return nil
	}
	return &nonRetriableError{err: err}
}

// IsNonRetriable reports whether err was marked with NonRetriable.
func IsNonRetriable(err error) bool {
	var target *nonRetriableError
	return errors.As(err, &target)
}

// Engine starts runs against a Store.
type Engine struct {
	store   Store
	policy  Policy
	lockTTL time.Duration
	logger  *zap.Logger
	metrics *observability.Metrics
	sleep   func(ctx context.Context, d time.Duration) error
}

// NewEngine builds an engine. metrics may be nil.
func NewEngine(store Store, policy Policy, logger *zap.Logger, metrics *observability.Metrics) *Engine {
	return &Engine{
		store:   store,
		policy:  policy,
		lockTTL: 5 * time.Minute,
		logger:  logger,
		metrics: metrics,
		sleep:   sleepContext,
	}
}

// Run is one execution of a workflow instance.
type Run struct {
	engine   *Engine
	workflow string
	instance string
	owner    string
	logger   *zap.Logger
}

// InstanceID derives the cache key for a workflow triggered by an event.
func InstanceID(workflow, eventID string) string {
	return workflow + ":" + eventID
}

// Start claims instance. Concurrent deliveries of the same instance get ErrInstanceBusy.
func (e *Engine) Start(ctx context.Context, workflow, instance string) (*Run, error) {
	owner := uuid.NewString()
	ok, err := e.store.Acquire(ctx, instance, owner, e.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("workflow: acquire %s: %w", instance, err)
	}
	if !ok {
		return nil, ErrInstanceBusy
	}
	return &Run{
		engine:   e,
		workflow: workflow,
		instance: instance,
		owner:    owner,
		logger:   e.logger.With(zap.String("workflow", workflow), zap.String("instance", instance)),
	}, nil
}

// Instance returns the run's instance id.
func (r *Run) Instance() string { return r.instance }

// Logger returns a logger scoped to the run.
func (r *Run) Logger() *zap.Logger { return r.logger }

// Finish records the outcome and releases the instance. It returns runErr unchanged.
func (r *Run) Finish(ctx context.Context, runErr error) error {
	ctx = context.WithoutCancel(ctx)
	outcome := Outcome{Status: OutcomeSucceeded, FinishedAt: time.Now().UTC()}
	if runErr != nil {
		outcome.Status = OutcomeFailed
		outcome.Error = runErr.Error()
		r.logger.Error("workflow failed", zap.Error(runErr))
	} else {
		r.logger.Info("workflow succeeded")
	}
	r.engine.metrics.RecordWorkflowOutcome(r.workflow, string(outcome.Status))

	if err := r.engine.store.SetOutcome(ctx, r.instance, outcome); err != nil {
		r.logger.Warn("record workflow outcome", zap.Error(err))
	}
	if err := r.engine.store.Release(ctx, r.instance, r.owner); err != nil {
		r.logger.Warn("release workflow instance", zap.Error(err))
	}
	return runErr
}

// Do executes step once per instance. A cached result is decoded and returned
// without calling fn. Otherwise fn runs up to Policy.Attempts times, stopping
// early on a NonRetriable error or a cancelled context, and its result is cached.
func Do[T any](ctx context.Context, run *Run, step Step, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	e := run.engine
	logger := run.logger.With(zap.String("step", string(step)))

	cached, found, err := e.store.Load(ctx, run.instance, step)
	if err != nil {
		return zero, fmt.Errorf("workflow: load %s: %w", step, err)
	}
	if found {
		var out T
		if err := json.Unmarshal(cached, &out); err != nil {
			return zero, fmt.Errorf("workflow: decode cached %s: %w", step, err)
		}
		logger.Debug("step replayed from cache")
		return out, nil
	}

	attempts := e.policy.Attempts()
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		e.metrics.RecordStepAttempt(run.workflow, string(step))
		out, err := fn(ctx)
		if err == nil {
			encoded, mErr := json.Marshal(out)
			if mErr != nil {
				return zero, fmt.Errorf("workflow: encode %s: %w", step, mErr)
			}
			if sErr := e.store.Save(ctx, run.instance, step, encoded); sErr != nil {
				return zero, fmt.Errorf("workflow: save %s: %w", step, sErr)
			}
			return out, nil
		}

		lastErr = err
		if IsNonRetriable(err) {
			logger.Warn("step failed permanently", zap.Int("attempt", attempt), zap.Error(err))
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		logger.Warn("step attempt failed", zap.Int("attempt", attempt), zap.Int("max_attempts", attempts), zap.Error(err))
		if attempt < attempts {
			if err := e.sleep(ctx, e.policy.Backoff*time.Duration(attempt)); err != nil {
				return zero, err
			}
		}
	}
	return zero, fmt.Errorf("step %s failed after %d attempts: %w", step, attempts, lastErr)
}

// Remember caches value as the result of step, so later replays of the
// instance return it without running the step.
func Remember[T any](ctx context.Context, run *Run, step Step, value T) error {
	encoded, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("workflow: encode %s: %w", step, err)
	}
	if err := run.engine.store.Save(ctx, run.instance, step, encoded); err != nil {
		return fmt.Errorf("workflow: save %s: %w", step, err)
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
