// Package schedule defines recurring task definitions.
package schedule

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/robfig/cron/v3"
)

// Status of a schedule.
type Status string

const (
	StatusActive Status = "ACTIVE"
	StatusPaused Status = "PAUSED"
)

// Scheduled is a prompt run for an agent on a cron expression.
type Scheduled struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	CronExpr  string     `json:"cron_expr"`
	Prompt    string     `json:"prompt"`
	IsActive  bool       `json:"is_active"`
	Status    Status     `json:"status"`
	LastRunAt *time.Time `json:"last_run_at"`
	NextRunAt *time.Time `json:"next_run_at"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// Runnable reports whether the scheduler should register the definition.
func (s *Scheduled) Runnable() bool {
	return s.IsActive && s.Status == StatusActive
}

// Parse parses a standard five-field cron expression or a descriptor such as "@hourly".
func Parse(expr string) (cron.Schedule, error) {
	sched, err := cron.ParseStandard(expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return sched, nil
}

// CreateRequest holds the fields needed to create a schedule.
type CreateRequest struct {
	CronExpr string `json:"cron_expr"`
	Prompt   string `json:"prompt"`
}

// Validate checks the cron expression and the prompt.
func (r *CreateRequest) Validate() error {
	r.CronExpr = strings.TrimSpace(r.CronExpr)
	if r.CronExpr == "" {
		return errors.New("cron_expr is required")
	}
	if _, err := Parse(r.CronExpr); err != nil {
		return err
	}
	r.Prompt = strings.TrimSpace(r.Prompt)
	if r.Prompt == "" {
		return errors.New("prompt is required")
	}
	if utf8.RuneCountInString(r.Prompt) > 5000 {
		return errors.New("prompt must be at most 5000 characters")
	}
	return nil
}
