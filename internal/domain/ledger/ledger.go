// Package ledger defines the record of paid agent actions.
package ledger

import (
	"time"

	"github.com/shopspring/decimal"
)

// MaxActionLength bounds the action summary kept per entry.
const MaxActionLength = 255

// Status is the confirmation state of a recorded action.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusFailed    Status = "FAILED"
)

// Entry is an immutable record of one paid action.
type Entry struct {
	ID        string          `json:"id"`
	AgentID   string          `json:"agent_id"`
	TxHash    string          `json:"tx_hash"`
	Action    string          `json:"action"`
	Cost      decimal.Decimal `json:"cost"`
	Status    Status          `json:"status"`
	Timestamp time.Time       `json:"timestamp"`
}

// TruncateAction shortens an action summary to MaxActionLength runes.
func TruncateAction(action string) string {
	r := []rune(action)
	if len(r) <= MaxActionLength {
		return action
	}
	return string(r[:MaxActionLength])
}
