// Package ledger defines the port for durably recording paid actions.
package ledger

import (
	"context"

	"github.com/shopspring/decimal"
)

// Recorder logs a paid action. An empty txRef with a nil error means
// recording is disabled, which is not a failure.
type Recorder interface {
	LogAction(ctx context.Context, agentID, action string, cost decimal.Decimal) (txRef string, err error)
}
