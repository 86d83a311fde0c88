package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/agent"
)

const agentColumns = `id, user_id, name, wallet_address, encrypted_key,
	spending_limit::text, total_spent::text, is_active, created_at, updated_at`

func scanAgent(row scannable) (agent.Agent, error) {
	var (
		a            agent.Agent
		limit, spent string
	)
	err := row.Scan(&a.ID, &a.UserID, &a.Name, &a.WalletAddress, &a.EncryptedKey,
		&limit, &spent, &a.IsActive, &a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return a, err
	}
	if a.SpendingLimit, err = parseDecimal(limit, "spending_limit"); err != nil {
		return a, err
	}
	a.TotalSpent, err = parseDecimal(spent, "total_spent")
	return a, err
}

func (s *Store) CreateAgent(ctx context.Context, a *agent.Agent) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO agents (id, user_id, name, wallet_address, encrypted_key, spending_limit, is_active)
		VALUES ($1, $2, $3, $4, $5, $6::numeric, $7)
		RETURNING created_at, updated_at`,
		a.ID, a.UserID, a.Name, a.WalletAddress, a.EncryptedKey, a.SpendingLimit.String(), a.IsActive,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create agent %s: %w", a.Name, domain.ErrConflict)
		}
		return fmt.Errorf("create agent: %w", err)
	}
	a.TotalSpent = decimal.Zero
	return nil
}

func (s *Store) GetAgent(ctx context.Context, id string) (*agent.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx, `SELECT `+agentColumns+` FROM agents WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) GetAgentForUser(ctx context.Context, id, userID string) (*agent.Agent, error) {
	a, err := scanAgent(s.pool.QueryRow(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		return nil, notFoundWrap(err, "get agent %s", id)
	}
	return &a, nil
}

func (s *Store) ListAgents(ctx context.Context, userID string) ([]agent.Agent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+agentColumns+` FROM agents WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []agent.Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return orEmpty(agents), rows.Err()
}

func (s *Store) UpdateAgentSpendingLimit(ctx context.Context, id, userID string, limit decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET spending_limit = $3::numeric, updated_at = now()
		WHERE id = $1 AND user_id = $2`, id, userID, limit.String())
	return execExpectOne(tag, err, "update spending limit %s", id)
}

func (s *Store) SetAgentActive(ctx context.Context, id, userID string, active bool) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET is_active = $3, updated_at = now()
		WHERE id = $1 AND user_id = $2`, id, userID, active)
	return execExpectOne(tag, err, "set agent active %s", id)
}

func (s *Store) DeleteAgent(ctx context.Context, id, userID string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM agents WHERE id = $1 AND user_id = $2`, id, userID)
	return execExpectOne(tag, err, "delete agent %s", id)
}

// IncrementAgentSpent is a single UPDATE so concurrent spends for the same
// agent never lose an increment.
func (s *Store) IncrementAgentSpent(ctx context.Context, id string, amount decimal.Decimal) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE agents SET total_spent = total_spent + $2::numeric, updated_at = now()
		WHERE id = $1`, id, amount.String())
	return execExpectOne(tag, err, "record spending %s", id)
}
