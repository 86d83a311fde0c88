package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/safety"
	"github.com/Strob0t/AutoAgent/internal/port/database"
	"github.com/Strob0t/AutoAgent/internal/port/wallet"
)

// Verdict is the answer to a spend authorization.
type Verdict struct {
	CanSpend bool   `json:"can_spend"`
	Reason   string `json:"reason,omitempty"`
}

func deny(format string, args ...any) Verdict {
	return Verdict{Reason: fmt.Sprintf(format, args...)}
}

// BudgetService authorizes and records agent spending.
type BudgetService struct {
	store   database.Store
	wallet  wallet.Wallet
	ceiling decimal.Decimal
}

// NewBudgetService creates a BudgetService. ceiling caps any single spend.
func NewBudgetService(store database.Store, w wallet.Wallet, ceiling decimal.Decimal) *BudgetService {
	return &BudgetService{store: store, wallet: w, ceiling: ceiling}
}

// CanSpend decides whether agentID may spend amount ETH. It fails closed:
// a missing or inactive agent, an exhausted budget, an amount over the
// single-spend ceiling or an unreadable or short wallet balance all deny.
// Only store failures other than not-found are returned as errors.
func (s *BudgetService) CanSpend(ctx context.Context, agentID string, amount decimal.Decimal) (Verdict, error) {
	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return deny("Agent not found"), nil
		}
		return Verdict{}, fmt.Errorf("load agent %s: %w", agentID, err)
	}
	if !a.IsActive {
		return deny("Agent is inactive"), nil
	}

	remaining := a.Remaining()
	if amount.GreaterThan(remaining) {
		return deny("Exceeds remaining budget. Remaining: %s ETH, Requested: %s ETH", remaining, amount), nil
	}

	if r := safety.ValidateSpend(amount, s.ceiling); !r.IsValid {
		return deny("%s", r.Reason), nil
	}

	if s.wallet != nil {
		ok, err := s.wallet.CanAfford(ctx, a.WalletAddress, amount)
		if err != nil {
			slog.Warn("wallet balance check failed", "agent_id", agentID, "error", err)
			return deny("Unable to verify wallet balance"), nil
		}
		if !ok {
			return deny("Insufficient wallet balance"), nil
		}
	}
	return Verdict{CanSpend: true}, nil
}

// RecordSpending adds amount to the agent's cumulative spend in one atomic
// storage update.
func (s *BudgetService) RecordSpending(ctx context.Context, agentID string, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return domain.Errorf(domain.ErrValidation, "spend amount must be >= 0")
	}
	if err := s.store.IncrementAgentSpent(ctx, agentID, amount); err != nil {
		return fmt.Errorf("record spending for %s: %w", agentID, err)
	}
	slog.Info("agent spending recorded", "agent_id", agentID, "amount", amount.String())
	return nil
}
