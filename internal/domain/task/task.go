// Package task defines the Task domain entity and its lifecycle.
package task

import (
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/Strob0t/AutoAgent/internal/domain"
)

// MaxPromptLength bounds task prompts.
const MaxPromptLength = 5000

// Status represents the current state of a task.
type Status string

const (
	StatusPending Status = "PENDING"
	StatusRunning Status = "RUNNING"
	StatusDone    Status = "DONE"
	StatusFailed  Status = "FAILED"
)

// IsTerminal reports whether no further pipeline transition can follow.
func (s Status) IsTerminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Word returns the lower-case status name used in messages.
func (s Status) Word() string {
	return strings.ToLower(string(s))
}

// AlreadyError reports that a task cannot run because it is in status s.
func AlreadyError(s Status) error {
	return domain.Errorf(domain.ErrConflict, "task is already %s", s.Word())
}

// CanTransition reports whether the pipeline may move a task from one
// status to another. Retry is not a pipeline transition and is not covered.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusRunning
	case StatusRunning:
		return to == StatusDone || to == StatusFailed
	default:
		return false
	}
}

// Task represents one unit of work requested for an agent.
type Task struct {
	ID         string           `json:"id"`
	AgentID    string           `json:"agent_id"`
	Prompt     string           `json:"prompt"`
	Status     Status           `json:"status"`
	Cost       *decimal.Decimal `json:"cost"`
	Result     *string          `json:"result"`
	Reasoning  *string          `json:"reasoning"`
	ExecutedAt *time.Time       `json:"executed_at"`
	CreatedAt  time.Time        `json:"created_at"`
	UpdatedAt  time.Time        `json:"updated_at"`
}

// Outcome is the terminal state the pipeline persists for a task.
// Nil pointers are stored as NULL.
type Outcome struct {
	Status     Status
	Cost       *decimal.Decimal
	Result     string
	Reasoning  string
	ExecutedAt *time.Time
}

// CreateRequest holds the fields needed to create a new task.
type CreateRequest struct {
	AgentID string `json:"agent_id"`
	Prompt  string `json:"prompt"`
}

// Validate checks that the request names an agent and carries a usable prompt.
func (r *CreateRequest) Validate() error {
	if r.AgentID == "" {
		return errors.New("agent_id is required")
	}
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return errors.New("prompt is required")
	}
	if utf8.RuneCountInString(r.Prompt) > MaxPromptLength {
		return errors.New("prompt must be at most 5000 characters")
	}
	return nil
}
