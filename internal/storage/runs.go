package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pgvector/pgvector-go"

	"github.com/gearbox-ai/gearbox/internal/model"
)

const runColumns = `id, tenant_id, actor_id, goal, strategy_kind, context,
	idempotency_key, status, error, started_at, completed_at, created_at`

// CreateRun inserts a new run in the running state.
// Returns ErrDuplicateIdempotencyKey when the actor has already submitted
// a run with the same idempotency key; the unique index makes this check
// atomic even under concurrent identical requests.
func (db *DB) CreateRun(ctx context.Context, run *model.Run) error {
	_, err := db.pool.Exec(ctx, `
		INSERT INTO runs (id, tenant_id, actor_id, goal, strategy_kind, context,
			idempotency_key, status, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		run.ID, run.TenantID, run.ActorID, run.Goal, run.StrategyKind, run.Context,
		run.IdempotencyKey, run.Status, run.StartedAt,
	)
	if err != nil {
		if isUniqueViolation(err, "idx_runs_actor_idempotency_key") {
			return ErrDuplicateIdempotencyKey
		}
		return fmt.Errorf("storage: create run: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID within a tenant.
func (db *DB) GetRun(ctx context.Context, tenantID, runID uuid.UUID) (*model.Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE tenant_id = $1 AND id = $2`,
		tenantID, runID,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get run: %w", err)
	}
	return run, nil
}

// RunByIdempotencyKey fetches the run a given actor previously created
// with the given key. Used as the fallback after CreateRun reports a
// duplicate.
func (db *DB) RunByIdempotencyKey(ctx context.Context, actorID, key string) (*model.Run, error) {
	row := db.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM runs WHERE actor_id = $1 AND idempotency_key = $2`,
		actorID, key,
	)
	run, err := scanRun(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: run by idempotency key: %w", err)
	}
	return run, nil
}

// FinishRun transitions a run from running to a terminal status, recording
// the completion time and, for failures, the error message. The status
// guard makes the transition one-shot: a run that is already terminal is
// never overwritten.
func (db *DB) FinishRun(ctx context.Context, runID uuid.UUID, status model.RunStatus, errMsg *string) error {
	if !status.Terminal() {
		return fmt.Errorf("storage: finish run: status %q is not terminal", status)
	}
	tag, err := db.pool.Exec(ctx, `
		UPDATE runs SET status = $2, error = $3, completed_at = now()
		WHERE id = $1 AND status = 'running'`,
		runID, status, errMsg,
	)
	if err != nil {
		return fmt.Errorf("storage: finish run: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("storage: finish run %s: %w (missing or already terminal)", runID, ErrNotFound)
	}
	return nil
}

// ListRuns returns a tenant's runs newest first, optionally filtered by
// status.
func (db *DB) ListRuns(ctx context.Context, tenantID uuid.UUID, status *model.RunStatus, limit, offset int) ([]model.Run, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	rows, err := db.pool.Query(ctx, `
		SELECT `+runColumns+` FROM runs
		WHERE tenant_id = $1 AND ($2::text IS NULL OR status = $2)
		ORDER BY created_at DESC, id DESC
		LIMIT $3 OFFSET $4`,
		tenantID, status, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("storage: list runs scan: %w", err)
		}
		runs = append(runs, *run)
	}
	return runs, rows.Err()
}

// SetRunEmbedding stores the goal embedding for a run. Embeddings are
// best-effort enrichment: the caller ignores errors beyond logging.
func (db *DB) SetRunEmbedding(ctx context.Context, runID uuid.UUID, embedding pgvector.Vector) error {
	_, err := db.pool.Exec(ctx,
		`UPDATE runs SET goal_embedding = $2 WHERE id = $1`,
		runID, embedding,
	)
	if err != nil {
		return fmt.Errorf("storage: set run embedding: %w", err)
	}
	return nil
}

// SimilarRuns finds a tenant's past succeeded runs whose goal embeddings
// are nearest to the query vector, by cosine distance.
func (db *DB) SimilarRuns(ctx context.Context, tenantID uuid.UUID, query pgvector.Vector, limit int) ([]model.SimilarRun, error) {
	if limit <= 0 || limit > 50 {
		limit = 10
	}
	rows, err := db.pool.Query(ctx, `
		SELECT `+runColumns+`, goal_embedding <=> $2 AS distance
		FROM runs
		WHERE tenant_id = $1 AND goal_embedding IS NOT NULL AND status = 'succeeded'
		ORDER BY distance ASC
		LIMIT $3`,
		tenantID, query, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: similar runs: %w", err)
	}
	defer rows.Close()

	var results []model.SimilarRun
	for rows.Next() {
		var sr model.SimilarRun
		r := &sr.Run
		if err := rows.Scan(
			&r.ID, &r.TenantID, &r.ActorID, &r.Goal, &r.StrategyKind, &r.Context,
			&r.IdempotencyKey, &r.Status, &r.Error, &r.StartedAt, &r.CompletedAt, &r.CreatedAt,
			&sr.Distance,
		); err != nil {
			return nil, fmt.Errorf("storage: similar runs scan: %w", err)
		}
		results = append(results, sr)
	}
	return results, rows.Err()
}

func scanRun(row pgx.Row) (*model.Run, error) {
	var r model.Run
	if err := row.Scan(
		&r.ID, &r.TenantID, &r.ActorID, &r.Goal, &r.StrategyKind, &r.Context,
		&r.IdempotencyKey, &r.Status, &r.Error, &r.StartedAt, &r.CompletedAt, &r.CreatedAt,
	); err != nil {
		return nil, err
	}
	return &r, nil
}
