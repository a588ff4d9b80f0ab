// Package engine contains the run coordinator: the top-level entry point
// that resolves tenant scope, establishes idempotency, persists the run,
// executes the chosen strategy, and finalizes run status.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/storage"
	"github.com/gearbox-ai/gearbox/internal/strategy"
	"github.com/gearbox-ai/gearbox/internal/tool"
)

// ErrScopeResolution is returned when the caller's tenant scope cannot be
// resolved. Requests failing this check are rejected before any run is
// created.
var ErrScopeResolution = errors.New("engine: cannot resolve tenant scope")

// Store is the persistence surface the coordinator needs. *storage.DB
// satisfies it; tests use in-memory fakes.
type Store interface {
	ResolveTenant(ctx context.Context, actorID string) (uuid.UUID, error)
	CreateRun(ctx context.Context, run *model.Run) error
	RunByIdempotencyKey(ctx context.Context, actorID, key string) (*model.Run, error)
	FinishRun(ctx context.Context, runID uuid.UUID, status model.RunStatus, errMsg *string) error
	AppendEvent(ctx context.Context, ev *model.PlannerEvent) error
}

// Coordinator drives runs end to end.
type Coordinator struct {
	store      Store
	strategies *strategy.Registry
	logger     *slog.Logger
}

// New creates a coordinator.
func New(store Store, strategies *strategy.Registry, logger *slog.Logger) *Coordinator {
	return &Coordinator{store: store, strategies: strategies, logger: logger}
}

// StartParams are the validated-at-the-edge inputs to StartRun.
type StartParams struct {
	ActorID        string
	Goal           string
	StrategyKind   string
	Context        map[string]any
	IdempotencyKey *string
}

// StartResult is the outcome callers receive. Once a run exists, failures
// live inside Run.Status and Run.Error rather than in a returned error.
type StartResult struct {
	Run           *model.Run
	AlreadyExists bool
}

// StartRun validates the request, establishes idempotency, creates the
// run, and executes the strategy synchronously. Errors returned here all
// occurred before a run was created and map to transport-level
// rejections; anything after creation is reported through the run itself.
func (c *Coordinator) StartRun(ctx context.Context, p StartParams) (*StartResult, error) {
	goal, err := model.ValidateGoal(p.Goal)
	if err != nil {
		return nil, err
	}

	strat, err := c.strategies.Lookup(p.StrategyKind)
	if err != nil {
		return nil, err
	}

	tenantID, err := c.store.ResolveTenant(ctx, p.ActorID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: actor %q", ErrScopeResolution, p.ActorID)
		}
		return nil, fmt.Errorf("engine: resolve tenant: %w", err)
	}

	// Fast path: the caller already created this logical request.
	if p.IdempotencyKey != nil {
		existing, err := c.store.RunByIdempotencyKey(ctx, p.ActorID, *p.IdempotencyKey)
		switch {
		case err == nil:
			return &StartResult{Run: existing, AlreadyExists: true}, nil
		case !errors.Is(err, storage.ErrNotFound):
			return nil, fmt.Errorf("engine: idempotency lookup: %w", err)
		}
	}

	run := &model.Run{
		ID:             uuid.New(),
		TenantID:       tenantID,
		ActorID:        p.ActorID,
		Goal:           goal,
		StrategyKind:   p.StrategyKind,
		Context:        p.Context,
		IdempotencyKey: p.IdempotencyKey,
		Status:         model.RunStatusRunning,
		StartedAt:      time.Now().UTC(),
	}
	if err := c.store.CreateRun(ctx, run); err != nil {
		// A concurrent identical request won the insert; return its run.
		if errors.Is(err, storage.ErrDuplicateIdempotencyKey) && p.IdempotencyKey != nil {
			winner, lookupErr := c.store.RunByIdempotencyKey(ctx, p.ActorID, *p.IdempotencyKey)
			if lookupErr != nil {
				return nil, fmt.Errorf("engine: duplicate key but lookup failed: %w", lookupErr)
			}
			return &StartResult{Run: winner, AlreadyExists: true}, nil
		}
		return nil, fmt.Errorf("engine: create run: %w", err)
	}

	// The run exists now; it executes to completion even if the request
	// context is cancelled mid-flight, since runs are not resumable.
	c.Execute(context.WithoutCancel(ctx), run, strat)

	return &StartResult{Run: run}, nil
}

// Execute runs the strategy and finalizes the run. It never returns an
// error: strategy failures become the run's error event and failed
// status, and a panicking strategy is treated the same as a thrown one.
func (c *Coordinator) Execute(ctx context.Context, run *model.Run, strat strategy.Strategy) {
	em := newEmitter(ctx, c.store, run, c.logger)
	em.Emit(model.EventPlan, model.PlanPayload{
		Note: fmt.Sprintf("starting %s planner", strat.Kind()),
	})

	tc := tool.Context{TenantID: run.TenantID, ActorID: run.ActorID, RunID: run.ID}
	err := c.runStrategy(ctx, run, strat, tc, em.Emit)

	if err != nil {
		em.Emit(model.EventError, model.ErrorPayload{
			Message: err.Error(),
			Reason:  failureReason(err),
		})
		msg := err.Error()
		c.finish(run, model.RunStatusFailed, &msg)
		return
	}

	em.Emit(model.EventFinal, model.FinalPayload{Summary: "goal completed"})
	c.finish(run, model.RunStatusSucceeded, nil)
}

// runStrategy invokes the strategy with panic containment.
func (c *Coordinator) runStrategy(ctx context.Context, run *model.Run, strat strategy.Strategy, tc tool.Context, emit strategy.EmitFunc) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("engine: strategy panicked: %v", r)
		}
	}()
	return strat.Run(ctx, run.Goal, run.Context, tc, emit)
}

// finish transitions the run to a terminal status, mirroring the change
// into the in-memory record the caller will serialize.
func (c *Coordinator) finish(run *model.Run, status model.RunStatus, errMsg *string) {
	now := time.Now().UTC()
	run.Status = status
	run.Error = errMsg
	run.CompletedAt = &now

	if err := c.store.FinishRun(context.Background(), run.ID, status, errMsg); err != nil {
		c.logger.Error("run status persistence failed",
			"run_id", run.ID, "status", status, "error", err)
	}
}

// failureReason classifies a strategy failure for the error event.
func failureReason(err error) string {
	var execErr *tool.ExecutionError
	switch {
	case errors.As(err, &execErr):
		return execErr.Reason
	case errors.Is(err, tool.ErrUnknownTool):
		return "unknown_tool"
	default:
		return "strategy_failure"
	}
}
