package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MaxGoalLen bounds the free-text goal so a single oversized request
// cannot fill a Postgres TEXT column or the embedding pipeline with
// caller-controlled garbage.
const MaxGoalLen = 16 * 1024 // 16 KB

// ValidateGoal checks that a goal is non-empty after trimming and within
// the length bound. The trimmed form is returned for storage.
func ValidateGoal(goal string) (string, error) {
	trimmed := strings.TrimSpace(goal)
	if trimmed == "" {
		return "", fmt.Errorf("goal must not be empty")
	}
	if len(trimmed) > MaxGoalLen {
		return "", fmt.Errorf("goal exceeds maximum length of %d bytes", MaxGoalLen)
	}
	return trimmed, nil
}

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// StartRunRequest is the request body for POST /v1/runs.
type StartRunRequest struct {
	Goal           string         `json:"goal"`
	Planner        string         `json:"planner,omitempty"` // defaults to "openai"
	Context        map[string]any `json:"context,omitempty"`
	IdempotencyKey *string        `json:"idempotency_key,omitempty"`
}

// StartRunResponse is the response for POST /v1/runs. Always returned
// with HTTP 200 once a run exists: in-run failure is reported through
// Error and the run's event log, never through a transport status code.
type StartRunResponse struct {
	RunID         uuid.UUID `json:"run_id"`
	AlreadyExists bool      `json:"already_exists"`
	Status        RunStatus `json:"status"`
	Error         *string   `json:"error,omitempty"`
}

// SimilarRunsRequest is the request body for POST /v1/runs/similar.
type SimilarRunsRequest struct {
	Goal  string `json:"goal"`
	Limit int    `json:"limit,omitempty"`
}

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	ActorID string `json:"actor_id"`
	APIKey  string `json:"api_key"`
}

// AuthTokenResponse is the response for POST /auth/token.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// CreateActorRequest is the request body for POST /v1/actors (admin only).
type CreateActorRequest struct {
	ActorID string `json:"actor_id"`
	Name    string `json:"name"`
	Role    Role   `json:"role"`
	APIKey  string `json:"api_key"`
}

// HealthResponse is the response for GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Postgres  string `json:"postgres"`
	SSEBroker string `json:"sse_broker,omitempty"`
	Uptime    int64  `json:"uptime_seconds"`
}
