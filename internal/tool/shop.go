package tool

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/storage"
)

// ShopStore is the subset of the storage layer the shop tools need.
type ShopStore interface {
	FindCustomerVehicle(ctx context.Context, tenantID uuid.UUID, customerName string) (*model.Customer, *model.Vehicle, error)
	CreateCustomer(ctx context.Context, c *model.Customer) error
	CreateWorkOrder(ctx context.Context, wo *model.WorkOrder) error
	CreateApproval(ctx context.Context, a *model.Approval) error
}

// RegisterShopTools registers every shop tool against the given store
// and messenger.
func RegisterShopTools(r *Registry, store ShopStore, messenger Messenger) {
	r.Register(&FindCustomerVehicle{Store: store})
	r.Register(&CreateCustomer{Store: store})
	r.Register(&CreateWorkOrder{Store: store})
	r.Register(&GenerateDocument{})
	r.Register(&RequestApproval{Store: store})
	r.Register(&SendMessage{Messenger: messenger})
}

// FindCustomerVehicle looks up a customer by name together with their
// most recent vehicle.
type FindCustomerVehicle struct {
	Store ShopStore
}

func (t *FindCustomerVehicle) Name() string { return "find_customer_vehicle" }

func (t *FindCustomerVehicle) Call(ctx context.Context, tc Context, input map[string]any) (map[string]any, error) {
	name, execErr := stringInput(input, "customer_name")
	if execErr != nil {
		return nil, execErr
	}

	customer, vehicle, err := t.Store.FindCustomerVehicle(ctx, tc.TenantID, name)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, Execerr("customer_not_found", "no customer named %q", name)
		}
		return nil, fmt.Errorf("find_customer_vehicle: %w", err)
	}

	out := map[string]any{
		"customer_id":   customer.ID.String(),
		"customer_name": customer.Name,
	}
	if vehicle != nil {
		out["vehicle_id"] = vehicle.ID.String()
		out["vehicle_description"] = vehicle.Description
	}
	return out, nil
}

// CreateCustomer adds a new customer record.
type CreateCustomer struct {
	Store ShopStore
}

func (t *CreateCustomer) Name() string { return "create_customer" }

func (t *CreateCustomer) Call(ctx context.Context, tc Context, input map[string]any) (map[string]any, error) {
	name, execErr := stringInput(input, "name")
	if execErr != nil {
		return nil, execErr
	}
	email, execErr := optionalStringInput(input, "email")
	if execErr != nil {
		return nil, execErr
	}

	customer := &model.Customer{
		ID:       uuid.New(),
		TenantID: tc.TenantID,
		Name:     name,
	}
	if email != "" {
		customer.Email = &email
	}
	if err := t.Store.CreateCustomer(ctx, customer); err != nil {
		return nil, fmt.Errorf("create_customer: %w", err)
	}
	return map[string]any{
		"customer_id":   customer.ID.String(),
		"customer_name": customer.Name,
	}, nil
}

// CreateWorkOrder opens a work order for a customer, the planner's main
// side effect.
type CreateWorkOrder struct {
	Store ShopStore
}

func (t *CreateWorkOrder) Name() string { return "create_work_order" }

func (t *CreateWorkOrder) Call(ctx context.Context, tc Context, input map[string]any) (map[string]any, error) {
	customerID, execErr := uuidInput(input, "customer_id")
	if execErr != nil {
		return nil, execErr
	}
	summary, execErr := stringInput(input, "summary")
	if execErr != nil {
		return nil, execErr
	}
	vehicleID, execErr := optionalUUIDInput(input, "vehicle_id")
	if execErr != nil {
		return nil, execErr
	}

	wo := &model.WorkOrder{
		ID:         uuid.New(),
		TenantID:   tc.TenantID,
		CustomerID: customerID,
		Summary:    summary,
		Status:     model.WorkOrderOpen,
	}
	if vehicleID != uuid.Nil {
		wo.VehicleID = &vehicleID
	}
	if err := t.Store.CreateWorkOrder(ctx, wo); err != nil {
		return nil, fmt.Errorf("create_work_order: %w", err)
	}

	out := map[string]any{
		"work_order_id": wo.ID.String(),
		"customer_id":   wo.CustomerID.String(),
		"summary":       wo.Summary,
		"status":        string(wo.Status),
	}
	if wo.VehicleID != nil {
		out["vehicle_id"] = wo.VehicleID.String()
	}
	return out, nil
}

// GenerateDocument renders a simple plain-text document, such as an
// estimate or checklist. Pure: no storage access.
type GenerateDocument struct{}

func (t *GenerateDocument) Name() string { return "generate_document" }

func (t *GenerateDocument) Call(_ context.Context, _ Context, input map[string]any) (map[string]any, error) {
	title, execErr := stringInput(input, "title")
	if execErr != nil {
		return nil, execErr
	}
	body, execErr := optionalStringInput(input, "body")
	if execErr != nil {
		return nil, execErr
	}

	doc := fmt.Sprintf("%s\n%s\n\nGenerated %s\n\n%s\n",
		title,
		strings.Repeat("=", len(title)),
		time.Now().UTC().Format("2006-01-02"),
		body,
	)
	return map[string]any{
		"document": doc,
		"title":    title,
	}, nil
}

// RequestApproval records a pending human sign-off instead of performing
// an action directly.
type RequestApproval struct {
	Store ShopStore
}

func (t *RequestApproval) Name() string { return "request_approval" }

func (t *RequestApproval) Call(ctx context.Context, tc Context, input map[string]any) (map[string]any, error) {
	action, execErr := stringInput(input, "action")
	if execErr != nil {
		return nil, execErr
	}
	reason, execErr := optionalStringInput(input, "reason")
	if execErr != nil {
		return nil, execErr
	}

	approval := &model.Approval{
		ID:       uuid.New(),
		TenantID: tc.TenantID,
		RunID:    tc.RunID,
		Action:   action,
		Status:   model.ApprovalPending,
	}
	if reason != "" {
		approval.Reason = &reason
	}
	if err := t.Store.CreateApproval(ctx, approval); err != nil {
		return nil, fmt.Errorf("request_approval: %w", err)
	}
	return map[string]any{
		"approval_id": approval.ID.String(),
		"action":      approval.Action,
		"status":      string(approval.Status),
	}, nil
}

// SendMessage delivers an outbound notification through the configured
// messenger.
type SendMessage struct {
	Messenger Messenger
}

func (t *SendMessage) Name() string { return "send_message" }

func (t *SendMessage) Call(_ context.Context, _ Context, input map[string]any) (map[string]any, error) {
	recipient, execErr := stringInput(input, "recipient")
	if execErr != nil {
		return nil, execErr
	}
	subject, execErr := stringInput(input, "subject")
	if execErr != nil {
		return nil, execErr
	}
	body, execErr := optionalStringInput(input, "body")
	if execErr != nil {
		return nil, execErr
	}

	if err := t.Messenger.Send(recipient, subject, body); err != nil {
		return nil, Execerr("delivery_failed", "send to %s: %v", recipient, err)
	}
	return map[string]any{
		"recipient": recipient,
		"subject":   subject,
		"delivered": true,
	}, nil
}
