package circuitbreaker

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"reconciliation-engine/pkg/logattr"

	"github.com/walletera/werrors"
)

type State string

const (
	StateClosed   State = "CLOSED"
	StateOpen     State = "OPEN"
	StateHalfOpen State = "HALF_OPEN"
)

// Config tunes one breaker instance. Zero values fall back to the defaults.
type Config struct {
	// CallTimeout bounds each guarded call. Default 30s.
	CallTimeout time.Duration
	// ErrorThresholdPercentage is the failure rate over the rolling window
	// that trips the breaker. Default 50.
	ErrorThresholdPercentage float64
	// ResetTimeout is how long the breaker stays OPEN before allowing a
	// single trial call. Default 60s.
	ResetTimeout time.Duration
	// RollingWindow is the observation window for the failure rate.
	// Default 60s.
	RollingWindow time.Duration
	// MinimumCalls is the call volume required in the window before the
	// threshold applies. Default 5.
	MinimumCalls int
}

func (c Config) withDefaults() Config {
	if c.CallTimeout <= 0 {
		c.CallTimeout = 30 * time.Second
	}
	if c.ErrorThresholdPercentage <= 0 {
		c.ErrorThresholdPercentage = 50
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = 60 * time.Second
	}
	if c.RollingWindow <= 0 {
		c.RollingWindow = 60 * time.Second
	}
	if c.MinimumCalls <= 0 {
		c.MinimumCalls = 5
	}
	return c
}

type outcome struct {
	at      time.Time
	failure bool
}

// Breaker guards calls to one external dependency. State is process-local
// and resets on restart; a multi-instance deployment has independent
// breakers.
type Breaker struct {
	name   string
	config Config
	logger *slog.Logger

	mu            sync.Mutex
	state         State
	outcomes      []outcome
	openedAt      time.Time
	trialInFlight bool
}

func New(name string, config Config, logger *slog.Logger) *Breaker {
	return &Breaker{
		name:   name,
		config: config.withDefaults(),
		logger: logger.With(logattr.Component("circuitbreaker.Breaker"), logattr.Adapter(name)),
		state:  StateClosed,
	}
}

func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Do runs call through the breaker. An OPEN breaker rejects immediately with
// a retryable error, without invoking the call.
func Do[T any](ctx context.Context, b *Breaker, call func(ctx context.Context) (T, werrors.WError)) (T, werrors.WError) {
	var zero T
	if !b.allow() {
		return zero, werrors.NewRetryableInternalError("circuit breaker %s is open", b.name)
	}

	callCtx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
	defer cancel()

	result, err := call(callCtx)
	if err == nil && callCtx.Err() != nil {
		err = werrors.NewTimeoutError("call to " + b.name + " timed out")
	}
	b.record(err != nil)
	if err != nil {
		return zero, err
	}
	return result, nil
}

func (b *Breaker) allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.openedAt) < b.config.ResetTimeout {
			return false
		}
		b.transition(StateHalfOpen)
		b.trialInFlight = true
		return true
	case StateHalfOpen:
		// A single trial call probes the dependency.
		if b.trialInFlight {
			return false
		}
		b.trialInFlight = true
		return true
	}
	return false
}

func (b *Breaker) record(failure bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.trialInFlight = false
		if failure {
			b.openedAt = time.Now()
			b.transition(StateOpen)
			return
		}
		b.outcomes = nil
		b.transition(StateClosed)
		return
	case StateOpen:
		// Late result of a call started before the trip. Nothing to do.
		return
	}

	now := time.Now()
	b.outcomes = append(b.outcomes, outcome{at: now, failure: failure})
	b.prune(now)

	total := len(b.outcomes)
	if total < b.config.MinimumCalls {
		return
	}
	failures := 0
	for _, o := range b.outcomes {
		if o.failure {
			failures++
		}
	}
	rate := float64(failures) / float64(total) * 100
	if rate >= b.config.ErrorThresholdPercentage {
		b.openedAt = now
		b.transition(StateOpen)
	}
}

func (b *Breaker) prune(now time.Time) {
	cutoff := now.Add(-b.config.RollingWindow)
	kept := b.outcomes[:0]
	for _, o := range b.outcomes {
		if o.at.After(cutoff) {
			kept = append(kept, o)
		}
	}
	b.outcomes = kept
}

func (b *Breaker) transition(next State) {
	if b.state == next {
		return
	}
	b.state = next
	b.logger.Info("circuit breaker state changed", logattr.BreakerState(string(next)))
}
