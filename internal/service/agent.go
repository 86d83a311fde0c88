package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/agent"
	"github.com/Strob0t/AutoAgent/internal/domain/ledger"
	"github.com/Strob0t/AutoAgent/internal/port/database"
	"github.com/Strob0t/AutoAgent/internal/port/wallet"
)

const (
	// balanceLookups bounds concurrent RPC balance reads when listing agents.
	balanceLookups = 8
	balanceTimeout = 10 * time.Second

	defaultLedgerLimit = 50
	maxLedgerLimit     = 500
)

// AgentService handles agent lifecycle, limits and wallet views.
type AgentService struct {
	store        database.Store
	wallet       wallet.Wallet
	notifier     *Notifier
	defaultLimit decimal.Decimal
	balances     singleflight.Group
}

// NewAgentService creates an AgentService. defaultLimit applies when a
// create request carries no spending limit.
func NewAgentService(store database.Store, w wallet.Wallet, n *Notifier, defaultLimit decimal.Decimal) *AgentService {
	return &AgentService{store: store, wallet: w, notifier: n, defaultLimit: defaultLimit}
}

// Create registers a new agent for userID with a freshly generated wallet.
func (s *AgentService) Create(ctx context.Context, userID string, req *agent.CreateRequest) (*agent.WithBalance, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}

	addr, sealed, err := s.wallet.Generate()
	if err != nil {
		return nil, fmt.Errorf("generate wallet: %w", err)
	}

	limit := s.defaultLimit
	if req.SpendingLimit != nil {
		limit = *req.SpendingLimit
	}
	a := &agent.Agent{
		UserID:        userID,
		Name:          req.Name,
		WalletAddress: addr,
		EncryptedKey:  sealed,
		SpendingLimit: limit,
		IsActive:      true,
	}
	if err := s.store.CreateAgent(ctx, a); err != nil {
		return nil, fmt.Errorf("create agent: %w", err)
	}
	slog.Info("agent created", "agent_id", a.ID, "user_id", userID, "wallet", addr)
	s.notifier.Agent(ctx, userID, a.ID, "created")

	zero := decimal.Zero
	return &agent.WithBalance{Agent: *a, Balance: &zero}, nil
}

// Get returns an agent owned by userID together with its live balance.
func (s *AgentService) Get(ctx context.Context, userID, id string) (*agent.WithBalance, error) {
	a, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	return &agent.WithBalance{Agent: *a, Balance: s.balance(ctx, a.WalletAddress)}, nil
}

// List returns every agent of userID with balances. Balance lookups run
// concurrently; an unreachable chain leaves the balance empty.
func (s *AgentService) List(ctx context.Context, userID string) ([]agent.WithBalance, error) {
	agents, err := s.store.ListAgents(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}

	out := make([]agent.WithBalance, len(agents))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(balanceLookups)
	for i := range agents {
		out[i].Agent = agents[i]
		g.Go(func() error {
			out[i].Balance = s.balance(gctx, agents[i].WalletAddress)
			return nil
		})
	}
	_ = g.Wait()
	return out, nil
}

// balance reads a wallet balance, collapsing concurrent reads of the same
// address. The shared read outlives the caller that started it, so one
// cancelled request does not fail the others. Failures are logged and yield nil.
func (s *AgentService) balance(ctx context.Context, address string) *decimal.Decimal {
	if s.wallet == nil || address == "" {
		return nil
	}
	v, err, _ := s.balances.Do(address, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), balanceTimeout)
		defer cancel()
		return s.wallet.Balance(rctx, address)
	})
	if err != nil {
		slog.Warn("wallet balance unavailable", "address", address, "error", err)
		return nil
	}
	bal := v.(decimal.Decimal)
	return &bal
}

// UpdateSpendingLimit sets a new limit. The limit may be set below the
// amount already spent; the agent then simply cannot spend further.
func (s *AgentService) UpdateSpendingLimit(ctx context.Context, userID, id string, req *agent.SpendingLimitRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	if err := s.store.UpdateAgentSpendingLimit(ctx, id, userID, req.SpendingLimit); err != nil {
		return nil, s.mapErr(err, id)
	}
	slog.Info("agent spending limit updated", "agent_id", id, "limit", req.SpendingLimit.String())
	s.notifier.Agent(ctx, userID, id, "updated")
	return s.owned(ctx, userID, id)
}

// SetActive activates or deactivates an agent.
func (s *AgentService) SetActive(ctx context.Context, userID, id string, req *agent.StatusRequest) (*agent.Agent, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	if err := s.store.SetAgentActive(ctx, id, userID, *req.IsActive); err != nil {
		return nil, s.mapErr(err, id)
	}
	slog.Info("agent status changed", "agent_id", id, "is_active", *req.IsActive)
	s.notifier.Agent(ctx, userID, id, "updated")
	return s.owned(ctx, userID, id)
}

// Delete removes an agent and everything that belongs to it.
func (s *AgentService) Delete(ctx context.Context, userID, id string) error {
	if err := s.store.DeleteAgent(ctx, id, userID); err != nil {
		return s.mapErr(err, id)
	}
	slog.Info("agent deleted", "agent_id", id, "user_id", userID)
	s.notifier.Agent(ctx, userID, id, "deleted")
	return nil
}

// Ledger returns the newest recorded paid actions of an agent.
func (s *AgentService) Ledger(ctx context.Context, userID, id string, limit int) ([]ledger.Entry, error) {
	if _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = defaultLedgerLimit
	}
	limit = min(limit, maxLedgerLimit)
	entries, err := s.store.ListLedgerEntries(ctx, id, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger for %s: %w", id, err)
	}
	return entries, nil
}

func (s *AgentService) owned(ctx context.Context, userID, id string) (*agent.Agent, error) {
	a, err := s.store.GetAgentForUser(ctx, id, userID)
	if err != nil {
		return nil, s.mapErr(err, id)
	}
	return a, nil
}

func (s *AgentService) mapErr(err error, id string) error {
	if errors.Is(err, domain.ErrNotFound) {
		return notFound("Agent")
	}
	return fmt.Errorf("agent %s: %w", id, err)
}
