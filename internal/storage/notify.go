package storage

import (
	"context"
	"fmt"
)

// channelEvents is the LISTEN/NOTIFY channel a database trigger on
// planner_events publishes to on every insert. The payload is the JSON
// the trigger builds, including tenant_id for fan-out routing.
const channelEvents = "gearbox_events"

// ListenEvents subscribes the dedicated notify connection to the
// planner-event channel. Fails if the pool was opened without one.
func (db *DB) ListenEvents(ctx context.Context) error {
	if db.notifyConn == nil {
		return fmt.Errorf("storage: notify connection not configured")
	}
	if _, err := db.notifyConn.Exec(ctx, "LISTEN "+channelEvents); err != nil {
		return fmt.Errorf("storage: listen %s: %w", channelEvents, err)
	}
	return nil
}

// WaitForEvent blocks until the next planner-event notification and
// returns its payload.
func (db *DB) WaitForEvent(ctx context.Context) (string, error) {
	if db.notifyConn == nil {
		return "", fmt.Errorf("storage: notify connection not configured")
	}
	n, err := db.notifyConn.WaitForNotification(ctx)
	if err != nil {
		return "", fmt.Errorf("storage: wait for notification: %w", err)
	}
	return n.Payload, nil
}
