package strategy

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/tool"
)

// defaultCustomerName is used when the run context names no customer.
const defaultCustomerName = "Walk-in Customer"

// Simple is the reference strategy: look up the customer (creating one if
// the lookup misses, the variant's documented recovery path), then open a
// work order with the goal as its summary.
type Simple struct {
	Tools *tool.Registry
}

func (s *Simple) Kind() string { return "simple" }

func (s *Simple) Run(ctx context.Context, goal string, runCtx map[string]any, tc tool.Context, emit EmitFunc) error {
	customerName := stringContext(runCtx, "customer_name")
	if customerName == "" {
		customerName = defaultCustomerName
	}

	emit(model.EventPlan, model.PlanPayload{
		Note: fmt.Sprintf("looking up customer %q", customerName),
	})

	lookup, err := callTool(ctx, s.Tools, "find_customer_vehicle",
		map[string]any{"customer_name": customerName}, tc, emit)
	if err != nil {
		var execErr *tool.ExecutionError
		if !errors.As(err, &execErr) || execErr.Reason != "customer_not_found" {
			return err
		}
		// Recovery: an unknown customer becomes a new record rather than
		// a failed run.
		emit(model.EventPlan, model.PlanPayload{
			Note: fmt.Sprintf("customer %q not found, creating a new record", customerName),
		})
		lookup, err = callTool(ctx, s.Tools, "create_customer",
			map[string]any{"name": customerName}, tc, emit)
		if err != nil {
			return err
		}
	}

	customerID, err := outputUUID(lookup, "customer_id")
	if err != nil {
		return err
	}

	input := map[string]any{
		"customer_id": customerID.String(),
		"summary":     goal,
	}
	if vehicleID, ok := lookup["vehicle_id"].(string); ok && vehicleID != "" {
		input["vehicle_id"] = vehicleID
	}

	order, err := callTool(ctx, s.Tools, "create_work_order", input, tc, emit)
	if err != nil {
		return err
	}

	workOrderID, err := outputUUID(order, "work_order_id")
	if err != nil {
		return err
	}
	payload := model.WorkOrderCreatedPayload{
		WorkOrderID: workOrderID,
		CustomerID:  customerID,
		Summary:     goal,
	}
	if vehicleID, parseErr := outputUUID(order, "vehicle_id"); parseErr == nil {
		payload.VehicleID = &vehicleID
	}
	emit(model.EventWorkOrderCreated, payload)

	return nil
}

// outputUUID reads a UUID-valued field from a tool output map.
func outputUUID(out map[string]any, key string) (uuid.UUID, error) {
	s, ok := out[key].(string)
	if !ok || s == "" {
		return uuid.Nil, fmt.Errorf("strategy: tool output missing %q", key)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("strategy: tool output %q is not a UUID: %w", key, err)
	}
	return id, nil
}
