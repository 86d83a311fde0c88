package postgres

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"

	"github.com/Strob0t/AutoAgent/internal/domain/memory"
)

func (s *Store) AppendMemory(ctx context.Context, agentID string, role memory.Role, content string) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO agent_memories (id, agent_id, role, content) VALUES ($1, $2, $3, $4)`,
		uuid.NewString(), agentID, role, content)
	if err != nil {
		return fmt.Errorf("append memory %s: %w", agentID, err)
	}
	return nil
}

func (s *Store) RecentMemory(ctx context.Context, agentID string, limit int) ([]memory.Entry, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, agent_id, role, content, created_at
		FROM agent_memories WHERE agent_id = $1
		ORDER BY seq DESC LIMIT $2`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("recent memory %s: %w", agentID, err)
	}
	defer rows.Close()

	var entries []memory.Entry
	for rows.Next() {
		var e memory.Entry
		if err := rows.Scan(&e.ID, &e.AgentID, &e.Role, &e.Content, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	slices.Reverse(entries)
	return orEmpty(entries), nil
}

func (s *Store) ClearMemory(ctx context.Context, agentID string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM agent_memories WHERE agent_id = $1`, agentID); err != nil {
		return fmt.Errorf("clear memory %s: %w", agentID, err)
	}
	return nil
}
