// Package decision defines the input and the two verdicts exchanged with
// the decision oracle. Oracle output is untrusted: every verdict must pass
// Validate before the pipeline acts on it.
package decision

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/AutoAgent/internal/domain/agent"
	"github.com/Strob0t/AutoAgent/internal/domain/safety"
)

// Input is what the oracle sees for one task.
type Input struct {
	Task   string        `json:"task"`
	Agent  agent.Context `json:"agent_context"`
	Memory []string      `json:"memory,omitempty"` // chronological, oldest first
}

// Analysis is the oracle's judgment on whether and how a task may run.
type Analysis struct {
	IsValid         bool             `json:"isValid"`
	RequiresPayment bool             `json:"requiresPayment"`
	EstimatedCost   decimal.Decimal  `json:"estimatedCost"`
	Reasoning       string           `json:"reasoning"`
	SuggestedAction string           `json:"suggestedAction"`
	RiskLevel       safety.RiskLevel `json:"riskLevel"`
}

// Validate enforces the analysis schema.
func (a *Analysis) Validate() error {
	if a.EstimatedCost.IsNegative() {
		return fmt.Errorf("estimatedCost %s is negative", a.EstimatedCost)
	}
	if !a.RiskLevel.Valid() {
		return fmt.Errorf("riskLevel %q is not one of low, medium, high", a.RiskLevel)
	}
	if !a.IsValid && a.SuggestedAction == "" {
		return errors.New("suggestedAction is required when isValid is false")
	}
	return nil
}

// Outcome is the oracle's report of an executed task.
type Outcome struct {
	Success   bool            `json:"success"`
	Output    string          `json:"output"`
	Reasoning string          `json:"reasoning"`
	Cost      decimal.Decimal `json:"cost"`
	Actions   []string        `json:"actions"`
}

// Validate enforces the outcome schema.
func (o *Outcome) Validate() error {
	if o.Cost.IsNegative() {
		return fmt.Errorf("cost %s is negative", o.Cost)
	}
	if o.Success && o.Output == "" {
		return errors.New("output is required when success is true")
	}
	return nil
}

// Paid reports whether the outcome carries a positive cost.
func (o *Outcome) Paid() bool {
	return o.Cost.IsPositive()
}

// ChatTurn is one message of a chat history handed to the oracle.
type ChatTurn struct {
	Role    string
	Content string
}
