package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/storage"
	"github.com/gearbox-ai/gearbox/internal/strategy"
	"github.com/gearbox-ai/gearbox/internal/tool"
)

// fakeStore is an in-memory Store honoring the same contracts as the
// real one: per-run gap-free steps and idempotency-key uniqueness.
type fakeStore struct {
	tenants   map[string]uuid.UUID
	runs      map[uuid.UUID]*model.Run
	byKey     map[string]*model.Run
	events    map[uuid.UUID][]model.PlannerEvent
	appendErr error

	lastEventCtx context.Context
}

func newFakeStore(actorID string) *fakeStore {
	return &fakeStore{
		tenants: map[string]uuid.UUID{actorID: uuid.New()},
		runs:    make(map[uuid.UUID]*model.Run),
		byKey:   make(map[string]*model.Run),
		events:  make(map[uuid.UUID][]model.PlannerEvent),
	}
}

func (s *fakeStore) ResolveTenant(_ context.Context, actorID string) (uuid.UUID, error) {
	id, ok := s.tenants[actorID]
	if !ok {
		return uuid.Nil, storage.ErrNotFound
	}
	return id, nil
}

func (s *fakeStore) CreateRun(_ context.Context, run *model.Run) error {
	if run.IdempotencyKey != nil {
		key := run.ActorID + "\x00" + *run.IdempotencyKey
		if _, exists := s.byKey[key]; exists {
			return storage.ErrDuplicateIdempotencyKey
		}
		s.byKey[key] = run
	}
	s.runs[run.ID] = run
	return nil
}

func (s *fakeStore) RunByIdempotencyKey(_ context.Context, actorID, key string) (*model.Run, error) {
	run, ok := s.byKey[actorID+"\x00"+key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return run, nil
}

func (s *fakeStore) FinishRun(_ context.Context, runID uuid.UUID, status model.RunStatus, errMsg *string) error {
	run, ok := s.runs[runID]
	if !ok || run.Status != model.RunStatusRunning {
		return storage.ErrNotFound
	}
	run.Status = status
	run.Error = errMsg
	return nil
}

func (s *fakeStore) AppendEvent(ctx context.Context, ev *model.PlannerEvent) error {
	s.lastEventCtx = ctx
	if s.appendErr != nil {
		return s.appendErr
	}
	ev.Step = int64(len(s.events[ev.RunID])) + 1
	s.events[ev.RunID] = append(s.events[ev.RunID], *ev)
	return nil
}

func (s *fakeStore) kinds(runID uuid.UUID) []model.EventKind {
	var kinds []model.EventKind
	for _, ev := range s.events[runID] {
		kinds = append(kinds, ev.Kind)
	}
	return kinds
}

// stubStrategy runs a fixed function under the kind "stub".
type stubStrategy struct {
	fn func(tc tool.Context, emit strategy.EmitFunc) error
}

func (s *stubStrategy) Kind() string { return "stub" }

func (s *stubStrategy) Run(_ context.Context, _ string, _ map[string]any, tc tool.Context, emit strategy.EmitFunc) error {
	return s.fn(tc, emit)
}

func newCoordinator(store Store, strat strategy.Strategy) *Coordinator {
	reg := strategy.NewRegistry()
	reg.Register(strat)
	return New(store, reg, slog.Default())
}

func TestStartRunSuccess(t *testing.T) {
	store := newFakeStore("agent-1")
	coord := newCoordinator(store, &stubStrategy{fn: func(_ tool.Context, emit strategy.EmitFunc) error {
		emit(model.EventToolCall, model.ToolCallPayload{ToolName: "create_work_order"})
		emit(model.EventToolResult, model.ToolResultPayload{ToolName: "create_work_order"})
		return nil
	}})

	res, err := coord.StartRun(context.Background(), StartParams{
		ActorID:      "agent-1",
		Goal:         "create a work order for a brake inspection",
		StrategyKind: "stub",
	})
	require.NoError(t, err)
	assert.False(t, res.AlreadyExists)
	assert.Equal(t, model.RunStatusSucceeded, res.Run.Status)
	assert.Nil(t, res.Run.Error)
	require.NotNil(t, res.Run.CompletedAt)

	// Coordinator brackets the strategy with plan and final events, and
	// steps are gap-free in call order.
	events := store.events[res.Run.ID]
	require.Len(t, events, 4)
	assert.Equal(t, []model.EventKind{
		model.EventPlan, model.EventToolCall, model.EventToolResult, model.EventFinal,
	}, store.kinds(res.Run.ID))
	for i, ev := range events {
		assert.Equal(t, int64(i+1), ev.Step)
	}
}

func TestStartRunStrategyFailure(t *testing.T) {
	store := newFakeStore("agent-1")
	coord := newCoordinator(store, &stubStrategy{fn: func(tool.Context, strategy.EmitFunc) error {
		return tool.Execerr("payment_declined", "card rejected")
	}})

	res, err := coord.StartRun(context.Background(), StartParams{
		ActorID:      "agent-1",
		Goal:         "charge the customer",
		StrategyKind: "stub",
	})
	// A run exists, so the failure is inside it rather than returned.
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, res.Run.Status)
	require.NotNil(t, res.Run.Error)
	assert.Contains(t, *res.Run.Error, "card rejected")

	kinds := store.kinds(res.Run.ID)
	require.NotEmpty(t, kinds)
	assert.Equal(t, model.EventError, kinds[len(kinds)-1])

	last := store.events[res.Run.ID][len(kinds)-1]
	assert.Equal(t, "payment_declined", last.Content["reason"])
}

func TestStartRunStrategyPanic(t *testing.T) {
	store := newFakeStore("agent-1")
	coord := newCoordinator(store, &stubStrategy{fn: func(tool.Context, strategy.EmitFunc) error {
		panic("nil map write")
	}})

	res, err := coord.StartRun(context.Background(), StartParams{
		ActorID:      "agent-1",
		Goal:         "do something fragile",
		StrategyKind: "stub",
	})
	require.NoError(t, err)
	assert.Equal(t, model.RunStatusFailed, res.Run.Status)
	require.NotNil(t, res.Run.Error)
	assert.Contains(t, *res.Run.Error, "nil map write")
}

func TestEmitFailuresNeverChangeOutcome(t *testing.T) {
	for _, tc := range []struct {
		name       string
		strategyFn func(tool.Context, strategy.EmitFunc) error
		want       model.RunStatus
	}{
		{"succeeding strategy", func(tool.Context, strategy.EmitFunc) error { return nil }, model.RunStatusSucceeded},
		{"failing strategy", func(tool.Context, strategy.EmitFunc) error { return errors.New("boom") }, model.RunStatusFailed},
	} {
		t.Run(tc.name, func(t *testing.T) {
			store := newFakeStore("agent-1")
			store.appendErr = errors.New("event table unavailable")
			coord := newCoordinator(store, &stubStrategy{fn: tc.strategyFn})

			res, err := coord.StartRun(context.Background(), StartParams{
				ActorID:      "agent-1",
				Goal:         "anything",
				StrategyKind: "stub",
			})
			require.NoError(t, err)
			assert.Equal(t, tc.want, res.Run.Status)
			assert.Empty(t, store.events[res.Run.ID])
		})
	}
}

func TestEventWritesCarryExecutionContext(t *testing.T) {
	store := newFakeStore("agent-1")
	coord := newCoordinator(store, &stubStrategy{fn: func(tool.Context, strategy.EmitFunc) error {
		return nil
	}})

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "traced")

	res, err := coord.StartRun(ctx, StartParams{
		ActorID:      "agent-1",
		Goal:         "anything",
		StrategyKind: "stub",
	})
	require.NoError(t, err)
	require.NotEmpty(t, store.events[res.Run.ID])

	// Event writes go through the detached execution context, which keeps
	// the request's values (trace correlation) while shedding its cancel.
	require.NotNil(t, store.lastEventCtx)
	assert.Equal(t, "traced", store.lastEventCtx.Value(ctxKey{}))
	assert.NoError(t, store.lastEventCtx.Err())
}

func TestStartRunIdempotencyReuse(t *testing.T) {
	store := newFakeStore("agent-1")
	executions := 0
	coord := newCoordinator(store, &stubStrategy{fn: func(tool.Context, strategy.EmitFunc) error {
		executions++
		return nil
	}})

	key := "abc"
	params := StartParams{
		ActorID:        "agent-1",
		Goal:           "create a work order for a brake inspection",
		StrategyKind:   "stub",
		IdempotencyKey: &key,
	}

	first, err := coord.StartRun(context.Background(), params)
	require.NoError(t, err)
	assert.False(t, first.AlreadyExists)

	second, err := coord.StartRun(context.Background(), params)
	require.NoError(t, err)
	assert.True(t, second.AlreadyExists)
	assert.Equal(t, first.Run.ID, second.Run.ID)
	assert.Equal(t, 1, executions, "strategy must not re-execute for a repeated key")
}

// racingStore simulates a concurrent identical request winning the
// insert between the coordinator's lookup and its own insert.
type racingStore struct {
	*fakeStore
	winner  *model.Run
	lookups int
}

func (s *racingStore) RunByIdempotencyKey(_ context.Context, _, _ string) (*model.Run, error) {
	s.lookups++
	if s.lookups == 1 {
		return nil, storage.ErrNotFound
	}
	return s.winner, nil
}

func (s *racingStore) CreateRun(context.Context, *model.Run) error {
	return storage.ErrDuplicateIdempotencyKey
}

func TestStartRunUniqueViolationFallback(t *testing.T) {
	key := "race"
	winner := &model.Run{
		ID: uuid.New(), ActorID: "agent-1", IdempotencyKey: &key,
		Status: model.RunStatusSucceeded,
	}
	store := &racingStore{fakeStore: newFakeStore("agent-1"), winner: winner}

	executed := false
	coord := newCoordinator(store, &stubStrategy{fn: func(tool.Context, strategy.EmitFunc) error {
		executed = true
		return nil
	}})

	res, err := coord.StartRun(context.Background(), StartParams{
		ActorID:        "agent-1",
		Goal:           "create a work order",
		StrategyKind:   "stub",
		IdempotencyKey: &key,
	})
	require.NoError(t, err)
	assert.True(t, res.AlreadyExists)
	assert.Equal(t, winner.ID, res.Run.ID)
	assert.False(t, executed, "losing request must not execute the strategy")
	assert.Equal(t, 2, store.lookups)
}

func TestStartRunRejectsBeforeCreation(t *testing.T) {
	store := newFakeStore("agent-1")
	coord := newCoordinator(store, &stubStrategy{fn: func(tool.Context, strategy.EmitFunc) error { return nil }})

	_, err := coord.StartRun(context.Background(), StartParams{
		ActorID: "agent-1", Goal: "   ", StrategyKind: "stub",
	})
	require.Error(t, err, "blank goal is rejected before run creation")

	_, err = coord.StartRun(context.Background(), StartParams{
		ActorID: "agent-1", Goal: "valid goal", StrategyKind: "quantum",
	})
	require.ErrorIs(t, err, strategy.ErrUnknownStrategy)

	_, err = coord.StartRun(context.Background(), StartParams{
		ActorID: "stranger", Goal: "valid goal", StrategyKind: "stub",
	})
	require.ErrorIs(t, err, ErrScopeResolution)

	assert.Empty(t, store.runs, "no run records for rejected requests")
}

func TestFailureReasonClassification(t *testing.T) {
	assert.Equal(t, "missing_input", failureReason(tool.Execerr("missing_input", "x")))
	assert.Equal(t, "unknown_tool", failureReason(fmt.Errorf("wrap: %w", tool.ErrUnknownTool)))
	assert.Equal(t, "strategy_failure", failureReason(errors.New("misc")))
}
