// Package messagequeue defines the message queue port (interface).
package messagequeue

import "context"

// Handler processes a message received from the queue.
type Handler func(ctx context.Context, subject string, data []byte) error

// Queue is the port interface for publishing and subscribing to messages.
type Queue interface {
	// Publish sends a message to the given subject.
	Publish(ctx context.Context, subject string, data []byte) error

	// Subscribe registers a handler for messages on the given subject.
	// The returned function cancels the subscription.
	Subscribe(ctx context.Context, subject string, handler Handler) (cancel func(), err error)

	// Drain gracefully drains all subscriptions before closing.
	Drain() error

	// IsConnected reports whether the queue is currently connected.
	IsConnected() bool
}

// Subjects used by AutoAgent.
const (
	SubjectTaskStatus  = "tasks.status"  // every task state change
	SubjectLedgerEntry = "ledger.entry"  // a paid action was recorded
	SubjectAgentEvents = "agents.events" // agent created, updated, deleted
)

// TaskStatusPayload is the schema for tasks.status messages.
type TaskStatusPayload struct {
	UserID  string `json:"user_id"`
	TaskID  string `json:"task_id"`
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
	Cost    string `json:"cost,omitempty"`
	Result  string `json:"result,omitempty"`
}

// LedgerEntryPayload is the schema for ledger.entry messages.
type LedgerEntryPayload struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	TxHash  string `json:"tx_hash"`
	Action  string `json:"action"`
	Cost    string `json:"cost"`
}

// AgentEventPayload is the schema for agents.events messages.
type AgentEventPayload struct {
	UserID  string `json:"user_id"`
	AgentID string `json:"agent_id"`
	Kind    string `json:"kind"` // created, updated, deleted
}
