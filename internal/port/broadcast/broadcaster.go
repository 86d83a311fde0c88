// Package broadcast defines the port for pushing live events to connected clients.
package broadcast

import "context"

// Event types pushed to clients.
const (
	EventTaskStatus  = "task.status"
	EventLedgerEntry = "ledger.entry"
	EventAgent       = "agent.event"
)

// Broadcaster sends real-time events to connected clients. Events are
// scoped to the owning user; an empty userID reaches every client.
type Broadcaster interface {
	BroadcastEvent(ctx context.Context, userID, eventType string, payload any)
}
