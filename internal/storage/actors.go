package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gearbox-ai/gearbox/internal/model"
)

// EnsureDefaultTenant creates the default tenant if no tenants exist and
// returns its ID. Used by single-tenant deployments and at first boot.
func (db *DB) EnsureDefaultTenant(ctx context.Context, name, slug string) (uuid.UUID, error) {
	var id uuid.UUID
	err := db.pool.QueryRow(ctx, `
		INSERT INTO tenants (id, name, slug)
		VALUES ($1, $2, $3)
		ON CONFLICT (slug) DO UPDATE SET name = EXCLUDED.name
		RETURNING id`,
		uuid.New(), name, slug,
	).Scan(&id)
	if err != nil {
		return uuid.Nil, fmt.Errorf("storage: ensure default tenant: %w", err)
	}
	return id, nil
}

// GetTenant fetches a tenant by ID.
func (db *DB) GetTenant(ctx context.Context, id uuid.UUID) (*model.Tenant, error) {
	var t model.Tenant
	err := db.pool.QueryRow(ctx,
		`SELECT id, name, slug, created_at FROM tenants WHERE id = $1`, id,
	).Scan(&t.ID, &t.Name, &t.Slug, &t.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get tenant: %w", err)
	}
	return &t, nil
}

// CreateActor inserts a new actor. actor_id is globally unique.
func (db *DB) CreateActor(ctx context.Context, actor *model.Actor) error {
	err := db.pool.QueryRow(ctx, `
		INSERT INTO actors (id, actor_id, tenant_id, name, role, api_key_hash)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at`,
		actor.ID, actor.ActorID, actor.TenantID, actor.Name, actor.Role, actor.APIKeyHash,
	).Scan(&actor.CreatedAt, &actor.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err, "") {
			return fmt.Errorf("storage: actor %q already exists: %w", actor.ActorID, err)
		}
		return fmt.Errorf("storage: create actor: %w", err)
	}
	return nil
}

// ActorByActorID fetches an actor by its external identifier.
func (db *DB) ActorByActorID(ctx context.Context, actorID string) (*model.Actor, error) {
	var a model.Actor
	err := db.pool.QueryRow(ctx, `
		SELECT id, actor_id, tenant_id, name, role, api_key_hash, created_at, updated_at
		FROM actors WHERE actor_id = $1`,
		actorID,
	).Scan(&a.ID, &a.ActorID, &a.TenantID, &a.Name, &a.Role, &a.APIKeyHash, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: actor by actor_id: %w", err)
	}
	return &a, nil
}

// ResolveTenant returns the tenant scope for an actor, the lookup every
// run start performs before any write.
func (db *DB) ResolveTenant(ctx context.Context, actorID string) (uuid.UUID, error) {
	var tenantID uuid.UUID
	err := db.pool.QueryRow(ctx,
		`SELECT tenant_id FROM actors WHERE actor_id = $1`, actorID,
	).Scan(&tenantID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return uuid.Nil, ErrNotFound
		}
		return uuid.Nil, fmt.Errorf("storage: resolve tenant: %w", err)
	}
	return tenantID, nil
}

// CountActors returns the total number of actors. Used to decide whether
// to seed the initial admin.
func (db *DB) CountActors(ctx context.Context) (int64, error) {
	var n int64
	if err := db.pool.QueryRow(ctx, `SELECT count(*) FROM actors`).Scan(&n); err != nil {
		return 0, fmt.Errorf("storage: count actors: %w", err)
	}
	return n, nil
}
