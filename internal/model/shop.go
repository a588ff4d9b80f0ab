package model

import (
	"time"

	"github.com/google/uuid"
)

// Customer is a shop customer record, the target of lookup and creation
// tools. Tenant-scoped like everything else the engine touches.
type Customer struct {
	ID        uuid.UUID `json:"id"`
	TenantID  uuid.UUID `json:"tenant_id"`
	Name      string    `json:"name"`
	Email     *string   `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Vehicle belongs to a customer.
type Vehicle struct {
	ID          uuid.UUID `json:"id"`
	TenantID    uuid.UUID `json:"tenant_id"`
	CustomerID  uuid.UUID `json:"customer_id"`
	Description string    `json:"description"`
	Plate       *string   `json:"plate,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// WorkOrderStatus is the lifecycle state of a work order.
type WorkOrderStatus string

const (
	WorkOrderOpen      WorkOrderStatus = "open"
	WorkOrderCompleted WorkOrderStatus = "completed"
	WorkOrderCancelled WorkOrderStatus = "cancelled"
)

// WorkOrder is the primary side effect the planner produces.
type WorkOrder struct {
	ID         uuid.UUID       `json:"id"`
	TenantID   uuid.UUID       `json:"tenant_id"`
	CustomerID uuid.UUID       `json:"customer_id"`
	VehicleID  *uuid.UUID      `json:"vehicle_id,omitempty"`
	Summary    string          `json:"summary"`
	Status     WorkOrderStatus `json:"status"`
	CreatedAt  time.Time       `json:"created_at"`
}

// ApprovalStatus is the lifecycle state of an approval request.
type ApprovalStatus string

const (
	ApprovalPending  ApprovalStatus = "pending"
	ApprovalGranted  ApprovalStatus = "granted"
	ApprovalRejected ApprovalStatus = "rejected"
)

// Approval is a pending human sign-off created by the approvals strategy
// in place of a direct side effect.
type Approval struct {
	ID        uuid.UUID      `json:"id"`
	TenantID  uuid.UUID      `json:"tenant_id"`
	RunID     uuid.UUID      `json:"run_id"`
	Action    string         `json:"action"`
	Reason    *string        `json:"reason,omitempty"`
	Status    ApprovalStatus `json:"status"`
	CreatedAt time.Time      `json:"created_at"`
}
