// Package oracle defines the decision oracle port: the external model
// consulted to judge and then carry out a task.
package oracle

import (
	"context"

	"github.com/Strob0t/AutoAgent/internal/domain/decision"
)

// Oracle analyzes and executes tasks. Implementations must return only
// verdicts that pass their Validate method; malformed model output is
// reported as an error wrapping domain.ErrOracle.
type Oracle interface {
	Analyze(ctx context.Context, in decision.Input) (*decision.Analysis, error)
	Execute(ctx context.Context, in decision.Input) (*decision.Outcome, error)
	// Chat answers a free-form message given the prior turns, oldest first.
	Chat(ctx context.Context, agentName string, history []decision.ChatTurn, message string) (string, error)
}
