package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/agent"
	"github.com/Strob0t/AutoAgent/internal/domain/decision"
	"github.com/Strob0t/AutoAgent/internal/domain/memory"
	"github.com/Strob0t/AutoAgent/internal/port/database"
	"github.com/Strob0t/AutoAgent/internal/port/oracle"
)

// MemoryService manages the bounded conversational memory of agents.
type MemoryService struct {
	store  database.Store
	oracle oracle.Oracle
	window int
}

// NewMemoryService creates a MemoryService. window is how many recent
// entries are handed to the oracle as context.
func NewMemoryService(store database.Store, o oracle.Oracle, window int) *MemoryService {
	return &MemoryService{store: store, oracle: o, window: window}
}

// Recent returns the content of the n newest entries, oldest first.
func (s *MemoryService) Recent(ctx context.Context, agentID string, n int) ([]string, error) {
	entries, err := s.store.RecentMemory(ctx, agentID, n)
	if err != nil {
		return nil, fmt.Errorf("recent memory for %s: %w", agentID, err)
	}
	out := make([]string, len(entries))
	for i := range entries {
		out[i] = entries[i].Content
	}
	return out, nil
}

// Store appends one entry.
func (s *MemoryService) Store(ctx context.Context, agentID string, role memory.Role, content string) error {
	if !role.Valid() {
		return domain.Errorf(domain.ErrValidation, "invalid memory role %q", role)
	}
	if err := s.store.AppendMemory(ctx, agentID, role, content); err != nil {
		return fmt.Errorf("append memory for %s: %w", agentID, err)
	}
	return nil
}

// Clear forgets everything an agent owned by userID remembers.
func (s *MemoryService) Clear(ctx context.Context, userID, agentID string) error {
	if _, err := s.ownedAgent(ctx, userID, agentID); err != nil {
		return err
	}
	if err := s.store.ClearMemory(ctx, agentID); err != nil {
		return fmt.Errorf("clear memory for %s: %w", agentID, err)
	}
	slog.Info("agent memory cleared", "agent_id", agentID)
	return nil
}

// Chat answers a free-form message in the agent's persona using recent
// memory as history, then remembers both turns.
func (s *MemoryService) Chat(ctx context.Context, userID, agentID string, req *memory.ChatRequest) (*memory.ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	a, err := s.ownedAgent(ctx, userID, agentID)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.RecentMemory(ctx, agentID, s.window)
	if err != nil {
		return nil, fmt.Errorf("recent memory for %s: %w", agentID, err)
	}
	history := make([]decision.ChatTurn, len(entries))
	for i, e := range entries {
		history[i] = decision.ChatTurn{Role: string(e.Role), Content: e.Content}
	}

	reply, err := s.oracle.Chat(ctx, a.Name, history, req.Message)
	if err != nil {
		return nil, err
	}

	if err := s.store.AppendMemory(ctx, agentID, memory.RoleUser, req.Message); err != nil {
		return nil, fmt.Errorf("remember user turn: %w", err)
	}
	if err := s.store.AppendMemory(ctx, agentID, memory.RoleAssistant, reply); err != nil {
		return nil, fmt.Errorf("remember assistant turn: %w", err)
	}
	return &memory.ChatResponse{Response: reply}, nil
}

func (s *MemoryService) ownedAgent(ctx context.Context, userID, agentID string) (*agent.Agent, error) {
	a, err := s.store.GetAgentForUser(ctx, agentID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notFound("Agent")
		}
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	return a, nil
}
