// Package agent defines the Agent domain entity: a budget-constrained actor
// with a wallet on whose behalf tasks run.
package agent

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// MaxNameLength bounds agent names.
const MaxNameLength = 100

// Agent represents an autonomous agent owned by a user.
type Agent struct {
	ID            string          `json:"id"`
	UserID        string          `json:"user_id"`
	Name          string          `json:"name"`
	WalletAddress string          `json:"wallet_address"`
	EncryptedKey  string          `json:"-"` // never serialized
	SpendingLimit decimal.Decimal `json:"spending_limit"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	IsActive      bool            `json:"is_active"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Remaining returns the unspent part of the spending limit. It is negative
// when concurrent spends overshot the limit.
func (a *Agent) Remaining() decimal.Decimal {
	return a.SpendingLimit.Sub(a.TotalSpent)
}

// Context returns the view of the agent handed to the decision oracle.
func (a *Agent) Context() Context {
	return Context{
		Name:          a.Name,
		SpendingLimit: a.SpendingLimit,
		TotalSpent:    a.TotalSpent,
		IsActive:      a.IsActive,
	}
}

// Context is the oracle-facing snapshot of an agent.
type Context struct {
	Name          string          `json:"name"`
	SpendingLimit decimal.Decimal `json:"spending_limit"`
	TotalSpent    decimal.Decimal `json:"total_spent"`
	IsActive      bool            `json:"is_active"`
}

// WithBalance is an agent together with its live wallet balance.
type WithBalance struct {
	Agent
	Balance *decimal.Decimal `json:"balance,omitempty"` // nil when the chain is unreachable
}

// CreateRequest holds the fields needed to create a new agent.
type CreateRequest struct {
	Name          string           `json:"name"`
	SpendingLimit *decimal.Decimal `json:"spending_limit,omitempty"`
}

// Validate checks the name and, when set, the spending limit.
func (r *CreateRequest) Validate() error {
	r.Name = strings.TrimSpace(r.Name)
	if r.Name == "" {
		return errors.New("name is required")
	}
	if utf8.RuneCountInString(r.Name) > MaxNameLength {
		return errors.New("name must be at most 100 characters")
	}
	if r.SpendingLimit != nil && r.SpendingLimit.IsNegative() {
		return errors.New("spending limit must be >= 0")
	}
	return nil
}

// SpendingLimitRequest updates an agent's spending limit.
type SpendingLimitRequest struct {
	SpendingLimit decimal.Decimal `json:"spending_limit"`
}

// Validate rejects negative limits.
func (r *SpendingLimitRequest) Validate() error {
	if r.SpendingLimit.IsNegative() {
		return errors.New("spending limit must be >= 0")
	}
	return nil
}

// StatusRequest activates or deactivates an agent.
type StatusRequest struct {
	IsActive *bool `json:"is_active"`
}

// Validate requires the flag to be present.
func (r *StatusRequest) Validate() error {
	if r.IsActive == nil {
		return errors.New("is_active is required")
	}
	return nil
}
