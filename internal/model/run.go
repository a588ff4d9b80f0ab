// Package model defines the core domain types for Gearbox.
//
// Types map directly to database tables and event payloads. Strong typing
// (UUIDs, time.Time, enums) is preferred; map[string]any appears only for
// the opaque jsonb columns (run context, event content).
package model

import (
	"time"

	"github.com/google/uuid"
)

// RunStatus represents the lifecycle state of a planner run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusSucceeded RunStatus = "succeeded"
	RunStatusFailed    RunStatus = "failed"
)

// Terminal reports whether a status admits no further transitions.
func (s RunStatus) Terminal() bool {
	return s == RunStatusSucceeded || s == RunStatusFailed
}

// Run is one execution of a goal through a planner strategy.
// Created as running; the coordinator is the only writer of Status.
// Never deleted by this subsystem.
type Run struct {
	ID             uuid.UUID      `json:"id"`
	TenantID       uuid.UUID      `json:"tenant_id"`
	ActorID        string         `json:"actor_id"`
	Goal           string         `json:"goal"`
	StrategyKind   string         `json:"strategy_kind"`
	Context        map[string]any `json:"context"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
	Status         RunStatus      `json:"status"`
	Error          *string        `json:"error,omitempty"`
	StartedAt      time.Time      `json:"started_at"`
	CompletedAt    *time.Time     `json:"completed_at,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// SimilarRun is a precedent-lookup result: a past run plus its embedding
// distance from the query goal (smaller is closer).
type SimilarRun struct {
	Run      Run     `json:"run"`
	Distance float64 `json:"distance"`
}
