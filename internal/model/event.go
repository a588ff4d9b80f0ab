package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// EventKind is the discriminated tag of a planner event.
// Consumers must switch on the kind before touching kind-specific
// content fields; no shared payload superset exists.
type EventKind string

const (
	// Narration and tool bracketing.
	EventPlan       EventKind = "plan"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"

	// Domain notifications emitted by strategies.
	EventWorkOrderCreated  EventKind = "work_order_created"
	EventApprovalRequested EventKind = "approval_requested"
	EventMessageSent       EventKind = "message_sent"

	// Terminal events, emitted only by the coordinator.
	EventFinal EventKind = "final"
	EventError EventKind = "error"
)

// PlannerEvent is one append-only entry in a run's log.
// Step values are assigned by the storage layer at insert time and are
// gap-free 1..N per run in call order. Never mutated or deleted.
type PlannerEvent struct {
	ID        uuid.UUID      `json:"id"`
	RunID     uuid.UUID      `json:"run_id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	Step      int64          `json:"step"`
	Kind      EventKind      `json:"kind"`
	Content   map[string]any `json:"content"`
	CreatedAt time.Time      `json:"created_at"`
}

// PlanPayload is the content of plan events.
type PlanPayload struct {
	Note string `json:"note"`
}

// ToolCallPayload is the content of tool_call events, written before the
// tool is invoked.
type ToolCallPayload struct {
	ToolName string         `json:"tool_name"`
	Input    map[string]any `json:"input,omitempty"`
}

// ToolResultPayload is the content of tool_result events, written after
// the tool returns.
type ToolResultPayload struct {
	ToolName   string         `json:"tool_name"`
	Output     map[string]any `json:"output,omitempty"`
	DurationMs int64          `json:"duration_ms"`
}

// WorkOrderCreatedPayload is the content of work_order_created events.
type WorkOrderCreatedPayload struct {
	WorkOrderID uuid.UUID  `json:"work_order_id"`
	CustomerID  uuid.UUID  `json:"customer_id"`
	VehicleID   *uuid.UUID `json:"vehicle_id,omitempty"`
	Summary     string     `json:"summary"`
}

// ApprovalRequestedPayload is the content of approval_requested events.
type ApprovalRequestedPayload struct {
	ApprovalID uuid.UUID `json:"approval_id"`
	Action     string    `json:"action"`
	Reason     string    `json:"reason,omitempty"`
}

// MessageSentPayload is the content of message_sent events.
type MessageSentPayload struct {
	Recipient string `json:"recipient"`
	Subject   string `json:"subject"`
}

// FinalPayload is the content of the terminal final event.
type FinalPayload struct {
	Summary string `json:"summary"`
}

// ErrorPayload is the content of the terminal error event.
type ErrorPayload struct {
	Message string `json:"message"`
	Reason  string `json:"reason,omitempty"`
}

// EventContent projects a typed payload into the jsonb content map.
// Payload structs are plain data with json tags, so a marshal round-trip
// cannot fail for any payload defined in this package; a failure would
// indicate a programming error and yields an empty map rather than a panic.
func EventContent(payload any) map[string]any {
	b, err := json.Marshal(payload)
	if err != nil {
		return map[string]any{}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{}
	}
	return m
}
