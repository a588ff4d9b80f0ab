package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gearbox-ai/gearbox/internal/model"
)

// AppendEvent inserts a planner event, assigning the next step number for
// the run inside the INSERT itself. Because the step is computed and
// consumed in the same statement, a failed insert never burns a number,
// which keeps the per-run sequence gap-free 1..N regardless of errors.
//
// Runs execute single-threaded, so step collisions only occur if an
// operator writes to the same run out of band; the UNIQUE(run_id, step)
// constraint catches that, and a short retry re-reads the max.
//
// The assigned step is written back into ev.Step on success.
func (db *DB) AppendEvent(ctx context.Context, ev *model.PlannerEvent) error {
	if ev.ID == uuid.Nil {
		ev.ID = uuid.New()
	}
	insert := func() error {
		return db.pool.QueryRow(ctx, `
			INSERT INTO planner_events (id, run_id, tenant_id, step, kind, content)
			SELECT $1, $2, $3, coalesce(max(step), 0) + 1, $4, $5
			FROM planner_events WHERE run_id = $2
			RETURNING step, created_at`,
			ev.ID, ev.RunID, ev.TenantID, ev.Kind, ev.Content,
		).Scan(&ev.Step, &ev.CreatedAt)
	}
	var err error
	for attempt := 0; attempt < 3; attempt++ {
		err = WithRetry(ctx, 2, 10*time.Millisecond, insert)
		if !isUniqueViolation(err, "planner_events_run_id_step_key") {
			break
		}
	}
	if err != nil {
		if isUniqueViolation(err, "planner_events_run_id_step_key") {
			return ErrDuplicateStep
		}
		return fmt.Errorf("storage: append event: %w", err)
	}
	return nil
}

// EventsByRun returns the full ordered event log for a run.
func (db *DB) EventsByRun(ctx context.Context, tenantID, runID uuid.UUID) ([]model.PlannerEvent, error) {
	rows, err := db.pool.Query(ctx, `
		SELECT id, run_id, tenant_id, step, kind, content, created_at
		FROM planner_events
		WHERE tenant_id = $1 AND run_id = $2
		ORDER BY step ASC`,
		tenantID, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: events by run: %w", err)
	}
	defer rows.Close()

	var events []model.PlannerEvent
	for rows.Next() {
		var ev model.PlannerEvent
		if err := rows.Scan(&ev.ID, &ev.RunID, &ev.TenantID, &ev.Step, &ev.Kind, &ev.Content, &ev.CreatedAt); err != nil {
			return nil, fmt.Errorf("storage: events by run scan: %w", err)
		}
		events = append(events, ev)
	}
	return events, rows.Err()
}

// GetEvent fetches a single event by run and step.
func (db *DB) GetEvent(ctx context.Context, tenantID, runID uuid.UUID, step int64) (*model.PlannerEvent, error) {
	var ev model.PlannerEvent
	err := db.pool.QueryRow(ctx, `
		SELECT id, run_id, tenant_id, step, kind, content, created_at
		FROM planner_events
		WHERE tenant_id = $1 AND run_id = $2 AND step = $3`,
		tenantID, runID, step,
	).Scan(&ev.ID, &ev.RunID, &ev.TenantID, &ev.Step, &ev.Kind, &ev.Content, &ev.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get event: %w", err)
	}
	return &ev, nil
}
