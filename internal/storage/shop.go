package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/gearbox-ai/gearbox/internal/model"
)

// FindCustomerVehicle looks up a customer by name (case-insensitive) and
// their most recently added vehicle. The vehicle may be nil when the
// customer exists but has none registered.
func (db *DB) FindCustomerVehicle(ctx context.Context, tenantID uuid.UUID, customerName string) (*model.Customer, *model.Vehicle, error) {
	var c model.Customer
	err := db.pool.QueryRow(ctx, `
		SELECT id, tenant_id, name, email, created_at
		FROM customers
		WHERE tenant_id = $1 AND lower(name) = lower($2)
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID, strings.TrimSpace(customerName),
	).Scan(&c.ID, &c.TenantID, &c.Name, &c.Email, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("storage: find customer: %w", err)
	}

	var v model.Vehicle
	err = db.pool.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, description, plate, created_at
		FROM vehicles
		WHERE tenant_id = $1 AND customer_id = $2
		ORDER BY created_at DESC
		LIMIT 1`,
		tenantID, c.ID,
	).Scan(&v.ID, &v.TenantID, &v.CustomerID, &v.Description, &v.Plate, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return &c, nil, nil
		}
		return nil, nil, fmt.Errorf("storage: find vehicle: %w", err)
	}
	return &c, &v, nil
}

// CreateCustomer inserts a new customer record.
func (db *DB) CreateCustomer(ctx context.Context, c *model.Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	err := db.pool.QueryRow(ctx, `
		INSERT INTO customers (id, tenant_id, name, email)
		VALUES ($1, $2, $3, $4)
		RETURNING created_at`,
		c.ID, c.TenantID, c.Name, c.Email,
	).Scan(&c.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create customer: %w", err)
	}
	return nil
}

// CreateVehicle inserts a new vehicle for a customer.
func (db *DB) CreateVehicle(ctx context.Context, v *model.Vehicle) error {
	if v.ID == uuid.Nil {
		v.ID = uuid.New()
	}
	err := db.pool.QueryRow(ctx, `
		INSERT INTO vehicles (id, tenant_id, customer_id, description, plate)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at`,
		v.ID, v.TenantID, v.CustomerID, v.Description, v.Plate,
	).Scan(&v.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create vehicle: %w", err)
	}
	return nil
}

// GetVehicle fetches a vehicle by ID within a tenant.
func (db *DB) GetVehicle(ctx context.Context, tenantID, vehicleID uuid.UUID) (*model.Vehicle, error) {
	var v model.Vehicle
	err := db.pool.QueryRow(ctx, `
		SELECT id, tenant_id, customer_id, description, plate, created_at
		FROM vehicles WHERE tenant_id = $1 AND id = $2`,
		tenantID, vehicleID,
	).Scan(&v.ID, &v.TenantID, &v.CustomerID, &v.Description, &v.Plate, &v.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("storage: get vehicle: %w", err)
	}
	return &v, nil
}

// CreateWorkOrder inserts a new work order in the open state.
func (db *DB) CreateWorkOrder(ctx context.Context, wo *model.WorkOrder) error {
	if wo.ID == uuid.Nil {
		wo.ID = uuid.New()
	}
	if wo.Status == "" {
		wo.Status = model.WorkOrderOpen
	}
	err := db.pool.QueryRow(ctx, `
		INSERT INTO work_orders (id, tenant_id, customer_id, vehicle_id, summary, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		wo.ID, wo.TenantID, wo.CustomerID, wo.VehicleID, wo.Summary, wo.Status,
	).Scan(&wo.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create work order: %w", err)
	}
	return nil
}

// CreateApproval inserts a pending approval request tied to a run.
func (db *DB) CreateApproval(ctx context.Context, a *model.Approval) error {
	if a.ID == uuid.Nil {
		a.ID = uuid.New()
	}
	if a.Status == "" {
		a.Status = model.ApprovalPending
	}
	err := db.pool.QueryRow(ctx, `
		INSERT INTO approvals (id, tenant_id, run_id, action, reason, status)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at`,
		a.ID, a.TenantID, a.RunID, a.Action, a.Reason, a.Status,
	).Scan(&a.CreatedAt)
	if err != nil {
		return fmt.Errorf("storage: create approval: %w", err)
	}
	return nil
}
