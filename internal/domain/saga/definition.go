package saga

import (
	"context"
	"time"

	"github.com/walletera/werrors"
)

// DefaultMaxRetries is the per-step retry budget applied when a retryable
// step does not set its own.
const DefaultMaxRetries = 3

// ExecuteFunc runs a step against the current saga state. The returned map
// is merged into the saga data on success. Failures are reported through the
// returned error, whose retryability drives the orchestrator's retry
// decision; failures never propagate as panics out of the step loop.
type ExecuteFunc func(ctx context.Context, state *State) (map[string]any, werrors.WError)

// CompensateFunc undoes a previously completed step. Compensation runs in
// reverse completion order and is best-effort: a failing compensation is
// logged and does not block compensating earlier steps.
type CompensateFunc func(ctx context.Context, state *State) werrors.WError

type Step struct {
	Name    string
	Execute ExecuteFunc

	// Compensate is optional. Steps without side effects leave it nil.
	Compensate CompensateFunc

	// Timeout races Execute against a timer when set. A timed-out step
	// suspends the saga; the in-flight call is not cancelled and its late
	// result is discarded.
	Timeout time.Duration

	// Retryable marks the step's failures as eligible for in-loop retry
	// (when the error itself is retryable too).
	Retryable bool

	// MaxRetries bounds the retries of a retryable step. Zero means
	// DefaultMaxRetries. A step is attempted at most 1+MaxRetries times.
	MaxRetries int
}

func (s Step) retryBudget() int {
	if !s.Retryable {
		return 0
	}
	if s.MaxRetries == 0 {
		return DefaultMaxRetries
	}
	if s.MaxRetries < 0 {
		return 0
	}
	return s.MaxRetries
}

// Definition describes a saga workflow: its ordered steps and terminal
// callbacks.
type Definition struct {
	Type  string
	Steps []Step

	// OnComplete is invoked after every step succeeded and the saga is
	// marked COMPLETED.
	OnComplete func(ctx context.Context, state *State)

	// OnFailure is invoked after compensation, once the saga is marked
	// FAILED. Routing the failure to the dead-letter queue is the
	// callback's decision, not the orchestrator's.
	OnFailure func(ctx context.Context, state *State, cause werrors.WError)
}
