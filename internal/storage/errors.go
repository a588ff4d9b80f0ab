package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Sentinel errors returned by the storage layer. Callers use errors.Is
// to branch without depending on Postgres error codes.
var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("storage: not found")

	// ErrDuplicateIdempotencyKey is returned when inserting a run whose
	// (actor_id, idempotency_key) pair already exists. The caller should
	// look up and return the original run.
	ErrDuplicateIdempotencyKey = errors.New("storage: duplicate idempotency key")

	// ErrDuplicateStep is returned when an event insert collides on
	// (run_id, step). Runs execute single-threaded so this indicates a
	// concurrent writer; AppendEvent retries internally.
	ErrDuplicateStep = errors.New("storage: duplicate step")
)

// isUniqueViolation reports whether err is a Postgres unique_violation
// on the named constraint. An empty constraint matches any.
func isUniqueViolation(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	if pgErr.Code != "23505" {
		return false
	}
	return constraint == "" || pgErr.ConstraintName == constraint
}
