package ws

import (
	"context"
	"encoding/json"
	"log/slog"
)

// BroadcastEvent marshals a typed event and sends it to the given user's
// connections, or to everyone when userID is empty.
func (h *Hub) BroadcastEvent(ctx context.Context, userID, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		slog.Error("marshal ws event payload", "type", eventType, "error", err)
		return
	}

	h.send(ctx, userID, Message{
		Type:    eventType,
		Payload: json.RawMessage(data),
	})
}
