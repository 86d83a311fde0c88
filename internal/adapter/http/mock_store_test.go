package http_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/agent"
	"github.com/Strob0t/AutoAgent/internal/domain/ledger"
	"github.com/Strob0t/AutoAgent/internal/domain/memory"
	"github.com/Strob0t/AutoAgent/internal/domain/task"
	"github.com/Strob0t/AutoAgent/internal/domain/user"
	"github.com/Strob0t/AutoAgent/internal/port/database"
)

// mockStore implements the parts of database.Store the handlers reach.
// Calling anything else panics on the nil embedded interface.
type mockStore struct {
	database.Store

	mu      sync.Mutex
	seq     int
	users   map[string]*user.User
	agents  map[string]*agent.Agent
	tasks   map[string]*task.Task
	ledger  []ledger.Entry
	memory  map[string][]memory.Entry
	pingErr error
}

func newMockStore() *mockStore {
	return &mockStore{
		users:  make(map[string]*user.User),
		agents: make(map[string]*agent.Agent),
		tasks:  make(map[string]*task.Task),
		memory: make(map[string][]memory.Entry),
	}
}

func (m *mockStore) nextID(prefix string) string {
	m.seq++
	return fmt.Sprintf("%s-%d", prefix, m.seq)
}

func (m *mockStore) Ping(_ context.Context) error { return m.pingErr }

// --- Users ---

func (m *mockStore) CreateUser(_ context.Context, email, hash string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return nil, fmt.Errorf("user %s: %w", email, domain.ErrConflict)
		}
	}
	u := &user.User{ID: m.nextID("user"), Email: email, PasswordHash: hash, CreatedAt: time.Now()}
	m.users[u.ID] = u
	cp := *u
	return &cp, nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *mockStore) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			cp := *u
			return &cp, nil
		}
	}
	return nil, domain.ErrNotFound
}

// --- Agents ---

func (m *mockStore) CreateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a.ID = m.nextID("agent")
	a.CreatedAt = time.Now()
	cp := *a
	m.agents[a.ID] = &cp
	return nil
}

func (m *mockStore) GetAgentForUser(_ context.Context, id, userID string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.UserID != userID {
		return nil, domain.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockStore) ListAgents(_ context.Context, userID string) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []agent.Agent
	for _, a := range m.agents {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (m *mockStore) UpdateAgentSpendingLimit(_ context.Context, id, userID string, limit decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.UserID != userID {
		return domain.ErrNotFound
	}
	a.SpendingLimit = limit
	return nil
}

func (m *mockStore) SetAgentActive(_ context.Context, id, userID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.UserID != userID {
		return domain.ErrNotFound
	}
	a.IsActive = active
	return nil
}

func (m *mockStore) DeleteAgent(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.UserID != userID {
		return domain.ErrNotFound
	}
	delete(m.agents, id)
	return nil
}

// --- Tasks ---

func (m *mockStore) CreateTask(_ context.Context, agentID, prompt string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t := &task.Task{ID: m.nextID("task"), AgentID: agentID, Prompt: prompt, Status: task.StatusPending, CreatedAt: time.Now()}
	m.tasks[t.ID] = t
	cp := *t
	return &cp, nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *mockStore) ListTasksByAgent(_ context.Context, agentID string) ([]task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []task.Task
	for _, t := range m.tasks {
		if t.AgentID == agentID {
			out = append(out, *t)
		}
	}
	return out, nil
}

func (m *mockStore) ResetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	t.Status = task.StatusPending
	t.Cost, t.Result, t.Reasoning, t.ExecutedAt = nil, nil, nil, nil
	cp := *t
	return &cp, nil
}

func (m *mockStore) setTaskStatus(id string, s task.Status) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tasks[id].Status = s
}

// --- Memory ---

func (m *mockStore) RecentMemory(_ context.Context, agentID string, limit int) ([]memory.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	entries := m.memory[agentID]
	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return append([]memory.Entry(nil), entries...), nil
}

func (m *mockStore) AppendMemory(_ context.Context, agentID string, role memory.Role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.memory[agentID] = append(m.memory[agentID], memory.Entry{AgentID: agentID, Role: role, Content: content})
	return nil
}

func (m *mockStore) ClearMemory(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.memory, agentID)
	return nil
}

// --- Ledger ---

func (m *mockStore) ListLedgerEntries(_ context.Context, agentID string, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []ledger.Entry
	for _, e := range m.ledger {
		if e.AgentID == agentID && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}
