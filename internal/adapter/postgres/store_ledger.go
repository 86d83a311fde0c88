package postgres

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/ledger"
)

func (s *Store) CreateLedgerEntry(ctx context.Context, e *ledger.Entry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO ledger_entries (id, agent_id, tx_hash, action, cost, status)
		VALUES ($1, $2, $3, $4, $5::numeric, $6)
		RETURNING created_at`,
		e.ID, e.AgentID, e.TxHash, ledger.TruncateAction(e.Action), e.Cost.String(), e.Status,
	).Scan(&e.Timestamp)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create ledger entry %s: %w", e.TxHash, domain.ErrConflict)
		}
		return fmt.Errorf("create ledger entry: %w", err)
	}
	return nil
}

func (s *Store) ListLedgerEntries(ctx context.Context, agentID string, limit int) ([]ledger.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, tx_hash, action, cost::text, status, created_at
		FROM ledger_entries WHERE agent_id = $1
		ORDER BY created_at DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e    ledger.Entry
			cost string
		)
		if err := rows.Scan(&e.ID, &e.AgentID, &e.TxHash, &e.Action, &cost, &e.Status, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if e.Cost, err = parseDecimal(cost, "cost"); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return orEmpty(entries), rows.Err()
}
