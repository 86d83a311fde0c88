// Package database defines the database store port (interface).
package database

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/AutoAgent/internal/domain/agent"
	"github.com/Strob0t/AutoAgent/internal/domain/ledger"
	"github.com/Strob0t/AutoAgent/internal/domain/memory"
	"github.com/Strob0t/AutoAgent/internal/domain/schedule"
	"github.com/Strob0t/AutoAgent/internal/domain/task"
	"github.com/Strob0t/AutoAgent/internal/domain/user"
)

// Store is the port interface for database operations. Lookups of missing
// rows return an error wrapping domain.ErrNotFound; conditional updates
// that match no row return one wrapping domain.ErrConflict.
type Store interface {
	// Users
	CreateUser(ctx context.Context, email, passwordHash string) (*user.User, error)
	GetUser(ctx context.Context, id string) (*user.User, error)
	GetUserByEmail(ctx context.Context, email string) (*user.User, error)
	ListUsers(ctx context.Context) ([]user.User, error)

	// Agents. Methods taking a userID match only agents owned by that user.
	CreateAgent(ctx context.Context, a *agent.Agent) error
	GetAgent(ctx context.Context, id string) (*agent.Agent, error)
	GetAgentForUser(ctx context.Context, id, userID string) (*agent.Agent, error)
	ListAgents(ctx context.Context, userID string) ([]agent.Agent, error)
	UpdateAgentSpendingLimit(ctx context.Context, id, userID string, limit decimal.Decimal) error
	SetAgentActive(ctx context.Context, id, userID string, active bool) error
	DeleteAgent(ctx context.Context, id, userID string) error
	// IncrementAgentSpent adds amount to total_spent in a single statement.
	IncrementAgentSpent(ctx context.Context, id string, amount decimal.Decimal) error

	// Tasks
	CreateTask(ctx context.Context, agentID, prompt string) (*task.Task, error)
	GetTask(ctx context.Context, id string) (*task.Task, error)
	ListTasksByAgent(ctx context.Context, agentID string) ([]task.Task, error)
	ListPendingTasks(ctx context.Context, agentID string) ([]task.Task, error)
	// TransitionTask moves a task from one status to another only if it is
	// currently in from.
	TransitionTask(ctx context.Context, id string, from, to task.Status) error
	// CompleteTask persists a terminal outcome for a RUNNING task.
	CompleteTask(ctx context.Context, id string, out task.Outcome) (*task.Task, error)
	// ResetTask returns a task to PENDING and clears every result field.
	ResetTask(ctx context.Context, id string) (*task.Task, error)
	DeleteFinishedTasksBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Memory
	AppendMemory(ctx context.Context, agentID string, role memory.Role, content string) error
	// RecentMemory returns the newest limit entries, oldest first.
	RecentMemory(ctx context.Context, agentID string, limit int) ([]memory.Entry, error)
	ClearMemory(ctx context.Context, agentID string) error

	// Ledger entries
	CreateLedgerEntry(ctx context.Context, e *ledger.Entry) error
	ListLedgerEntries(ctx context.Context, agentID string, limit int) ([]ledger.Entry, error)

	// Schedules
	CreateSchedule(ctx context.Context, agentID string, req schedule.CreateRequest) (*schedule.Scheduled, error)
	GetSchedule(ctx context.Context, id string) (*schedule.Scheduled, error)
	ListSchedules(ctx context.Context, agentID string) ([]schedule.Scheduled, error)
	ListRunnableSchedules(ctx context.Context) ([]schedule.Scheduled, error)
	MarkScheduleRun(ctx context.Context, id string, ranAt time.Time, next *time.Time) error
	DeleteSchedule(ctx context.Context, id string) error

	Ping(ctx context.Context) error
}
