package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Role represents the RBAC role assigned to an actor.
type Role string

const (
	RoleAdmin  Role = "admin"
	RoleAgent  Role = "agent"
	RoleReader Role = "reader"
)

// Actor is an authenticated identity scoped to a tenant. Every run and
// every tool call inherits the actor's tenant scope.
type Actor struct {
	ID         uuid.UUID `json:"id"`
	ActorID    string    `json:"actor_id"`
	TenantID   uuid.UUID `json:"tenant_id"`
	Name       string    `json:"name"`
	Role       Role      `json:"role"`
	APIKeyHash *string   `json:"-"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// Tenant is one customer organization in the multi-tenancy model.
type Tenant struct {
	ID        uuid.UUID `json:"id"`
	Name      string    `json:"name"`
	Slug      string    `json:"slug"`
	CreatedAt time.Time `json:"created_at"`
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters.
func RoleRank(r Role) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleAgent:
		return 2
	case RoleReader:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole Role) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ValidateActorID checks that an actor ID conforms to the allowed format:
// 1-255 ASCII characters of alphanumerics, dots, hyphens, underscores,
// and @ signs.
func ValidateActorID(id string) error {
	if len(id) == 0 {
		return fmt.Errorf("actor_id is required")
	}
	if len(id) > 255 {
		return fmt.Errorf("actor_id must be at most 255 characters")
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		if (c < 'a' || c > 'z') && (c < 'A' || c > 'Z') && (c < '0' || c > '9') &&
			c != '.' && c != '-' && c != '_' && c != '@' {
			return fmt.Errorf("actor_id contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
