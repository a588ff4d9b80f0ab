package strategy

import (
	"context"
	"fmt"

	"github.com/gearbox-ai/gearbox/internal/model"
	"github.com/gearbox-ai/gearbox/internal/tool"
)

// Fleet opens one work order per vehicle for a fleet customer. The run
// context must carry the customer name and the vehicle IDs; an unknown
// customer fails the run rather than creating one, since fleet accounts
// are provisioned ahead of time.
type Fleet struct {
	Tools *tool.Registry
}

func (s *Fleet) Kind() string { return "fleet" }

func (s *Fleet) Run(ctx context.Context, goal string, runCtx map[string]any, tc tool.Context, emit EmitFunc) error {
	customerName := stringContext(runCtx, "customer_name")
	if customerName == "" {
		return fmt.Errorf("strategy: fleet runs require customer_name in context")
	}
	vehicleIDs, err := vehicleIDsFromContext(runCtx)
	if err != nil {
		return err
	}

	emit(model.EventPlan, model.PlanPayload{
		Note: fmt.Sprintf("opening %d work orders for fleet customer %q", len(vehicleIDs), customerName),
	})

	lookup, err := callTool(ctx, s.Tools, "find_customer_vehicle",
		map[string]any{"customer_name": customerName}, tc, emit)
	if err != nil {
		return err
	}
	customerID, err := outputUUID(lookup, "customer_id")
	if err != nil {
		return err
	}

	// Sequential by contract: step order is call order.
	for _, vehicleID := range vehicleIDs {
		order, err := callTool(ctx, s.Tools, "create_work_order", map[string]any{
			"customer_id": customerID.String(),
			"vehicle_id":  vehicleID,
			"summary":     goal,
		}, tc, emit)
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
		if vid, parseErr := outputUUID(order, "vehicle_id"); parseErr == nil {
			payload.VehicleID = &vid
		}
		emit(model.EventWorkOrderCreated, payload)
	}

	return nil
}

// vehicleIDsFromContext reads the vehicle_ids list from the run context.
// JSON decoding yields []any, so each element is checked individually.
func vehicleIDsFromContext(runCtx map[string]any) ([]string, error) {
	raw, ok := runCtx["vehicle_ids"]
	if !ok {
		return nil, fmt.Errorf("strategy: fleet runs require vehicle_ids in context")
	}
	list, ok := raw.([]any)
	if !ok || len(list) == 0 {
		return nil, fmt.Errorf("strategy: vehicle_ids must be a non-empty list")
	}
	ids := make([]string, 0, len(list))
	for i, v := range list {
		s, ok := v.(string)
		if !ok || s == "" {
			return nil, fmt.Errorf("strategy: vehicle_ids[%d] must be a non-empty string", i)
		}
		ids = append(ids, s)
	}
	return ids, nil
}
