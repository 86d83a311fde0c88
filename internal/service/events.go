package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/Strob0t/AutoAgent/internal/domain/ledger"
	"github.com/Strob0t/AutoAgent/internal/domain/task"
	"github.com/Strob0t/AutoAgent/internal/port/broadcast"
	"github.com/Strob0t/AutoAgent/internal/port/messagequeue"
)

// Notifier fans lifecycle events out to the message bus and to live
// clients. With a connected queue events travel through the bus and reach
// clients via the relay; otherwise they go straight to the hub. Both paths
// are best-effort.
type Notifier struct {
	queue messagequeue.Queue
	hub   broadcast.Broadcaster
}

// NewNotifier creates a Notifier. Either argument may be nil.
func NewNotifier(queue messagequeue.Queue, hub broadcast.Broadcaster) *Notifier {
	return &Notifier{queue: queue, hub: hub}
}

// TaskStatus announces a task's current state.
func (n *Notifier) TaskStatus(ctx context.Context, userID string, t *task.Task) {
	if n == nil || t == nil {
		return
	}
	p := messagequeue.TaskStatusPayload{
		UserID:  userID,
		TaskID:  t.ID,
		AgentID: t.AgentID,
		Status:  string(t.Status),
	}
	if t.Cost != nil {
		p.Cost = t.Cost.String()
	}
	if t.Result != nil {
		p.Result = *t.Result
	}
	n.emit(ctx, messagequeue.SubjectTaskStatus, broadcast.EventTaskStatus, userID, p)
}

// LedgerEntry announces a recorded paid action.
func (n *Notifier) LedgerEntry(ctx context.Context, userID string, e *ledger.Entry) {
	if n == nil || e == nil {
		return
	}
	n.emit(ctx, messagequeue.SubjectLedgerEntry, broadcast.EventLedgerEntry, userID, messagequeue.LedgerEntryPayload{
		UserID:  userID,
		AgentID: e.AgentID,
		TxHash:  e.TxHash,
		Action:  e.Action,
		Cost:    e.Cost.String(),
	})
}

// Agent announces an agent lifecycle change (created, updated, deleted).
func (n *Notifier) Agent(ctx context.Context, userID, agentID, kind string) {
	if n == nil {
		return
	}
	n.emit(ctx, messagequeue.SubjectAgentEvents, broadcast.EventAgent, userID, messagequeue.AgentEventPayload{
		UserID:  userID,
		AgentID: agentID,
		Kind:    kind,
	})
}

func (n *Notifier) emit(ctx context.Context, subject, eventType, userID string, payload any) {
	if n.queue != nil && n.queue.IsConnected() {
		data, err := json.Marshal(payload)
		if err == nil {
			if err = n.queue.Publish(ctx, subject, data); err == nil {
				return
			}
		}
		slog.Warn("event publish failed, broadcasting directly", "subject", subject, "error", err)
	}
	if n.hub != nil {
		n.hub.BroadcastEvent(ctx, userID, eventType, payload)
	}
}

// subjectEvents maps bus subjects to client event types.
var subjectEvents = map[string]string{
	messagequeue.SubjectTaskStatus:  broadcast.EventTaskStatus,
	messagequeue.SubjectLedgerEntry: broadcast.EventLedgerEntry,
	messagequeue.SubjectAgentEvents: broadcast.EventAgent,
}

// RelayEvents subscribes to the lifecycle subjects and forwards every event
// to the hub, scoped to the user named in its payload. The returned
// function stops all subscriptions.
func RelayEvents(ctx context.Context, q messagequeue.Queue, hub broadcast.Broadcaster) (func(), error) {
	var stops []func()
	stopAll := func() {
		for _, s := range stops {
			s()
		}
	}
	for subject, eventType := range subjectEvents {
		stop, err := q.Subscribe(ctx, subject, relayHandler(hub, eventType))
		if err != nil {
			stopAll()
			return nil, fmt.Errorf("relay %s: %w", subject, err)
		}
		stops = append(stops, stop)
	}
	return stopAll, nil
}

func relayHandler(hub broadcast.Broadcaster, eventType string) messagequeue.Handler {
	return func(ctx context.Context, subject string, data []byte) error {
		var envelope struct {
			UserID string `json:"user_id"`
		}
		if err := json.Unmarshal(data, &envelope); err != nil {
			return fmt.Errorf("decode %s: %w", subject, err)
		}
		hub.BroadcastEvent(ctx, envelope.UserID, eventType, json.RawMessage(data))
		return nil
	}
}
