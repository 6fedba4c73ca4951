package saga

import (
	"context"
	"log/slog"
	"runtime/debug"
	"time"

	"reconciliation-engine/pkg/logattr"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/walletera/werrors"
)

const (
	defaultRetryInitialBackoff = 1 * time.Second
	defaultRetryMaxBackoff     = 30 * time.Second
	retryBackoffFactor         = 2
)

// Orchestrator executes registered saga definitions: it runs steps in order,
// retries retryable failures with bounded exponential backoff, suspends on
// step timeout, compensates completed steps in reverse order on
// non-retryable failure, and persists state after every mutation.
//
// Each saga instance runs in its own goroutine; there is no cross-instance
// locking. Resuming a saga that is already live in another goroutine is an
// unguarded hazard, handled operationally by single-writer discipline.
type Orchestrator struct {
	registry *Registry
	store    Store
	logger   *slog.Logger

	retryInitialBackoff time.Duration
	retryMaxBackoff     time.Duration
}

type Option func(o *Orchestrator)

// WithRetryBackoff overrides the per-attempt backoff bounds. Used by tests
// to keep retry loops fast.
func WithRetryBackoff(initial time.Duration, max time.Duration) Option {
	return func(o *Orchestrator) {
		o.retryInitialBackoff = initial
		o.retryMaxBackoff = max
	}
}

func NewOrchestrator(registry *Registry, store Store, logger *slog.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:            registry,
		store:               store,
		logger:              logger.With(logattr.Component("saga.Orchestrator")),
		retryInitialBackoff: defaultRetryInitialBackoff,
		retryMaxBackoff:     defaultRetryMaxBackoff,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// RegisterSaga registers a definition, idempotently by type.
func (o *Orchestrator) RegisterSaga(def Definition) {
	o.registry.Register(def)
}

// StartSaga persists the initial RUNNING state and begins execution as a
// detached task. It returns the generated saga id immediately; completion is
// observed through GetSagaStatus or the definition's callbacks.
func (o *Orchestrator) StartSaga(
	ctx context.Context,
	sagaType string,
	aggregateId string,
	initialData map[string]any,
	tenantId string,
	correlationId string,
) (string, werrors.WError) {
	def, ok := o.registry.Get(sagaType)
	if !ok {
		return "", werrors.NewNonRetryableInternalError("unknown saga type: %s", sagaType)
	}
	if correlationId == "" {
		correlationId = uuid.NewString()
	}

	data := make(map[string]any, len(initialData))
	for k, v := range initialData {
		data[k] = v
	}

	state := &State{
		SagaId:        uuid.NewString(),
		SagaType:      sagaType,
		AggregateId:   aggregateId,
		Data:          data,
		CorrelationId: correlationId,
		TenantId:      tenantId,
		Status:        StatusRunning,
	}
	if err := o.store.SaveState(ctx, state); err != nil {
		return "", err
	}

	go o.run(context.WithoutCancel(ctx), def, state)

	return state.SagaId, nil
}

// ResumeSaga reloads a suspended saga and re-enters the step loop. Steps
// already marked completed are skipped.
func (o *Orchestrator) ResumeSaga(ctx context.Context, sagaId string, sagaType string) werrors.WError {
	def, ok := o.registry.Get(sagaType)
	if !ok {
		return werrors.NewNonRetryableInternalError("unknown saga type: %s", sagaType)
	}
	state, err := o.store.GetState(ctx, sagaId, sagaType)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		return werrors.NewNonRetryableInternalError("cannot resume saga %s in terminal status %s", sagaId, state.Status)
	}

	state.Status = StatusRunning
	if err := o.store.SaveState(ctx, state); err != nil {
		return err
	}

	go o.run(context.WithoutCancel(ctx), def, state)

	return nil
}

// CancelSaga marks the saga CANCELLED. Completed steps are intentionally not
// compensated.
func (o *Orchestrator) CancelSaga(ctx context.Context, sagaId string, sagaType string) werrors.WError {
	state, err := o.store.GetState(ctx, sagaId, sagaType)
	if err != nil {
		return err
	}
	if state.Status.Terminal() {
		return werrors.NewNonRetryableInternalError("cannot cancel saga %s in terminal status %s", sagaId, state.Status)
	}
	state.Status = StatusCancelled
	return o.store.SaveState(ctx, state)
}

// GetSagaStatus returns the persisted state of a saga instance.
func (o *Orchestrator) GetSagaStatus(ctx context.Context, sagaId string, sagaType string) (*State, werrors.WError) {
	return o.store.GetState(ctx, sagaId, sagaType)
}

// FindSagaByAggregate returns the saga instance driving the given aggregate.
func (o *Orchestrator) FindSagaByAggregate(ctx context.Context, sagaType string, aggregateId string) (*State, werrors.WError) {
	return o.store.GetStateByAggregate(ctx, sagaType, aggregateId)
}

func (o *Orchestrator) run(ctx context.Context, def Definition, state *State) {
	logger := o.logger.With(
		logattr.SagaId(state.SagaId),
		logattr.SagaType(state.SagaType),
		logattr.CorrelationId(state.CorrelationId),
	)

	for i, step := range def.Steps {
		if o.cancelled(ctx, state) {
			logger.Info("saga cancelled, stopping step loop", logattr.Step(step.Name))
			return
		}
		if state.StepCompleted(step.Name) {
			continue
		}

		state.CurrentStep = step.Name
		state.recordStep(step.Name, StepStarted, "")
		if err := o.persist(ctx, state); err != nil {
			logger.Error("failed persisting saga state", logattr.Step(step.Name), logattr.Error(err.Message()))
			return
		}

		stepData, stepErr, timedOut := o.executeStepWithRetry(ctx, step, state, logger)
		if timedOut {
			// Suspended, not failed. The saga stays RUNNING and can be
			// resumed later; the in-flight call is not cancelled and its
			// late result is discarded.
			if err := o.persist(ctx, state); err != nil {
				logger.Error("failed persisting suspended saga state", logattr.Error(err.Message()))
			}
			logger.Warn("step timed out, saga suspended", logattr.Step(step.Name))
			return
		}
		if stepErr != nil {
			state.recordStep(step.Name, StepFailed, stepErr.Message())
			o.compensate(ctx, def, i, state, logger)
			state.Status = StatusFailed
			if err := o.persist(ctx, state); err != nil {
				logger.Error("failed persisting failed saga state", logattr.Error(err.Message()))
			}
			logger.Error("saga failed", logattr.Step(step.Name), logattr.Error(stepErr.Message()))
			if def.OnFailure != nil {
				def.OnFailure(ctx, state, stepErr)
			}
			return
		}

		// Re-check cancellation before persisting: saving here would
		// otherwise overwrite a CANCELLED status written mid-step.
		if o.cancelled(ctx, state) {
			logger.Info("saga cancelled, stopping step loop", logattr.Step(step.Name))
			return
		}

		state.mergeData(stepData)
		state.recordStep(step.Name, StepCompleted, "")
		if err := o.persist(ctx, state); err != nil {
			logger.Error("failed persisting saga state", logattr.Step(step.Name), logattr.Error(err.Message()))
			return
		}
		logger.Debug("step completed", logattr.Step(step.Name))
	}

	state.Status = StatusCompleted
	if err := o.persist(ctx, state); err != nil {
		logger.Error("failed persisting completed saga state", logattr.Error(err.Message()))
	}
	logger.Info("saga completed")
	if def.OnComplete != nil {
		def.OnComplete(ctx, state)
	}
}

// cancelled re-reads the persisted status so a concurrent CancelSaga takes
// effect between steps.
func (o *Orchestrator) cancelled(ctx context.Context, state *State) bool {
	current, err := o.store.GetState(ctx, state.SagaId, state.SagaType)
	if err != nil {
		return false
	}
	return current.Status == StatusCancelled
}

// persist saves the state without clobbering a CANCELLED status written by a
// concurrent CancelSaga. Terminal transitions win over cancellation.
func (o *Orchestrator) persist(ctx context.Context, state *State) werrors.WError {
	if !state.Status.Terminal() && o.cancelled(ctx, state) {
		state.Status = StatusCancelled
	}
	return o.store.SaveState(ctx, state)
}

// executeStepWithRetry attempts the step up to 1+retryBudget times. Each
// attempt is independently raced against the step timeout. The backoff
// between attempts blocks only this saga's goroutine.
func (o *Orchestrator) executeStepWithRetry(
	ctx context.Context,
	step Step,
	state *State,
	logger *slog.Logger,
) (map[string]any, werrors.WError, bool) {
	budget := step.retryBudget()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = o.retryInitialBackoff
	bo.Multiplier = retryBackoffFactor
	bo.MaxInterval = o.retryMaxBackoff
	bo.RandomizationFactor = 0
	bo.MaxElapsedTime = 0
	bo.Reset()

	var lastErr werrors.WError
	for attempt := 0; attempt <= budget; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, werrors.NewNonRetryableInternalError("saga context done during retry backoff: %s", ctx.Err().Error()), false
			case <-time.After(bo.NextBackOff()):
			}
			logger.Debug("retrying step", logattr.Step(step.Name))
		}

		stepData, stepErr, timedOut := o.executeStepOnce(ctx, step, state)
		if timedOut {
			return nil, nil, true
		}
		if stepErr == nil {
			return stepData, nil, false
		}
		lastErr = stepErr
		if !step.Retryable || !stepErr.IsRetryable() {
			return nil, stepErr, false
		}
	}

	// Retry budget exhausted: treated as non-retryable from here on.
	return nil, lastErr, false
}

func (o *Orchestrator) executeStepOnce(ctx context.Context, step Step, state *State) (map[string]any, werrors.WError, bool) {
	if step.Timeout <= 0 {
		stepData, stepErr := invoke(ctx, step, state)
		return stepData, stepErr, false
	}

	type stepResult struct {
		data map[string]any
		err  werrors.WError
	}
	// Buffered so the losing goroutine can still deliver and exit.
	resultCh := make(chan stepResult, 1)
	go func() {
		stepData, stepErr := invoke(ctx, step, state)
		resultCh <- stepResult{data: stepData, err: stepErr}
	}()

	timer := time.NewTimer(step.Timeout)
	defer timer.Stop()
	select {
	case result := <-resultCh:
		return result.data, result.err, false
	case <-timer.C:
		return nil, nil, true
	}
}

// PanicError is the failure handed to OnFailure when a step panics. It
// carries the goroutine stack captured at the recovery point so failure
// sinks can preserve it.
type PanicError struct {
	werrors.WError
	Stack string
}

// invoke shields the step loop from panicking steps: a recovered panic
// becomes a non-retryable failure driving the normal compensation path.
func invoke(ctx context.Context, step Step, state *State) (stepData map[string]any, stepErr werrors.WError) {
	defer func() {
		if r := recover(); r != nil {
			stepData = nil
			stepErr = &PanicError{
				WError: werrors.NewNonRetryableInternalError("panic in step %s: %v", step.Name, r),
				Stack:  string(debug.Stack()),
			}
		}
	}()
	return step.Execute(ctx, state)
}

// compensate undoes the steps before failedIdx in reverse order. Only steps
// previously marked completed and defining a compensation handler are
// compensated. Compensation failures are logged and never block compensating
// earlier steps.
func (o *Orchestrator) compensate(ctx context.Context, def Definition, failedIdx int, state *State, logger *slog.Logger) {
	compensatable := false
	for i := failedIdx - 1; i >= 0; i-- {
		step := def.Steps[i]
		if step.Compensate != nil && state.StepCompleted(step.Name) {
			compensatable = true
			break
		}
	}
	if !compensatable {
		return
	}

	state.Status = StatusCompensating
	if err := o.persist(ctx, state); err != nil {
		logger.Error("failed persisting compensating saga state", logattr.Error(err.Message()))
	}

	for i := failedIdx - 1; i >= 0; i-- {
		step := def.Steps[i]
		if step.Compensate == nil || !state.StepCompleted(step.Name) {
			continue
		}
		if err := invokeCompensation(ctx, step, state); err != nil {
			logger.Error("compensation failed", logattr.Step(step.Name), logattr.Error(err.Message()))
			continue
		}
		state.recordStep(step.Name, StepCompensated, "")
		if err := o.persist(ctx, state); err != nil {
			logger.Error("failed persisting saga state after compensation", logattr.Step(step.Name), logattr.Error(err.Message()))
		}
		logger.Info("step compensated", logattr.Step(step.Name))
	}
}

func invokeCompensation(ctx context.Context, step Step, state *State) (compErr werrors.WError) {
	defer func() {
		if r := recover(); r != nil {
			compErr = werrors.NewNonRetryableInternalError("panic compensating step %s: %v", step.Name, r)
		}
	}()
	return step.Compensate(ctx, state)
}
