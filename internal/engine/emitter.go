package engine

import (
	"context"
	"log/slog"

	"github.com/gearbox-ai/gearbox/internal/model"
)

// emitter appends events to one run's log. Write failures are logged and
// swallowed: the log is a read path, and a persistence hiccup while
// narrating must never change the run's own outcome.
type emitter struct {
	ctx    context.Context
	store  Store
	run    *model.Run
	logger *slog.Logger
}

// newEmitter binds the run's execution context so event writes carry its
// trace correlation. EmitFunc takes no context, so the emitter holds it.
func newEmitter(ctx context.Context, store Store, run *model.Run, logger *slog.Logger) *emitter {
	return &emitter{ctx: ctx, store: store, run: run, logger: logger}
}

// Emit persists one event. Matches strategy.EmitFunc.
func (e *emitter) Emit(kind model.EventKind, payload any) {
	ev := &model.PlannerEvent{
		RunID:    e.run.ID,
		TenantID: e.run.TenantID,
		Kind:     kind,
		Content:  model.EventContent(payload),
	}
	if err := e.store.AppendEvent(e.ctx, ev); err != nil {
		e.logger.Warn("event write failed, continuing run",
			"run_id", e.run.ID, "kind", kind, "error", err)
	}
}
