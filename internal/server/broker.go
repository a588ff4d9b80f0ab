package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/gearbox-ai/gearbox/internal/storage"
)

// Broker fans out Postgres LISTEN/NOTIFY planner-event messages to SSE
// subscribers. A background goroutine loops on WaitForEvent and
// routes each payload to the subscribers of its tenant, so one tenant
// never sees another's events.
type Broker struct {
	db     *storage.DB
	logger *slog.Logger

	mu          sync.RWMutex
	subscribers map[chan []byte]uuid.UUID
}

// NewBroker creates a new SSE broker. Call Start to begin listening.
func NewBroker(db *storage.DB, logger *slog.Logger) *Broker {
	return &Broker{
		db:          db,
		logger:      logger,
		subscribers: make(map[chan []byte]uuid.UUID),
	}
}

// Start begins listening on the planner-events channel.
// It blocks, so call it in a goroutine. Returns when ctx is cancelled.
func (b *Broker) Start(ctx context.Context) {
	if err := b.db.ListenEvents(ctx); err != nil {
		b.logger.Error("broker: listen events", "error", err)
		return
	}
	b.logger.Info("broker: listening for planner events")

	for {
		payload, err := b.db.WaitForEvent(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return // Shutting down.
			}
			b.logger.Warn("broker: notification error, retrying", "error", err)
			continue
		}
		b.broadcast(payload)
	}
}

// Subscribe returns a channel receiving SSE-formatted events for one
// tenant. The caller must call Unsubscribe when done.
func (b *Broker) Subscribe(tenantID uuid.UUID) chan []byte {
	ch := make(chan []byte, 64) // Buffered so the broadcast loop never blocks.
	b.mu.Lock()
	b.subscribers[ch] = tenantID
	b.mu.Unlock()
	return ch
}

// Unsubscribe removes a subscriber channel and closes it.
func (b *Broker) Unsubscribe(ch chan []byte) {
	b.mu.Lock()
	delete(b.subscribers, ch)
	b.mu.Unlock()
	close(ch)
}

// broadcast routes one notification payload to the owning tenant's
// subscribers. Slow subscribers with a full buffer are skipped so one
// stalled client cannot block the rest.
func (b *Broker) broadcast(payload string) {
	var envelope struct {
		TenantID uuid.UUID `json:"tenant_id"`
	}
	if err := json.Unmarshal([]byte(payload), &envelope); err != nil || envelope.TenantID == uuid.Nil {
		b.logger.Warn("broker: notification payload missing tenant_id, dropping")
		return
	}

	event := formatSSE("planner_event", payload)

	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch, tenantID := range b.subscribers {
		if tenantID != envelope.TenantID {
			continue
		}
		select {
		case ch <- event:
		default:
		}
	}
}

// formatSSE formats a notification as a Server-Sent Events message.
func formatSSE(eventType, data string) []byte {
	return []byte("event: " + eventType + "\ndata: " + data + "\n\n")
}
