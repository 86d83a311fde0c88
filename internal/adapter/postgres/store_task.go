package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/Strob0t/AutoAgent/internal/domain/task"
)

const taskColumns = `id, agent_id, prompt, status, cost::text, result, reasoning, executed_at, created_at, updated_at`

func scanTask(row scannable) (task.Task, error) {
	var (
		t    task.Task
		cost *string
	)
	err := row.Scan(&t.ID, &t.AgentID, &t.Prompt, &t.Status, &cost, &t.Result, &t.Reasoning,
		&t.ExecutedAt, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return t, err
	}
	t.Cost, err = parseNullDecimal(cost, "cost")
	return t, err
}

func (s *Store) queryTasks(ctx context.Context, op, query string, args ...any) ([]task.Task, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var tasks []task.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		tasks = append(tasks, t)
	}
	return orEmpty(tasks), rows.Err()
}

func (s *Store) CreateTask(ctx context.Context, agentID, prompt string) (*task.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `
		INSERT INTO tasks (id, agent_id, prompt, status)
		VALUES ($1, $2, $3, $4)
		RETURNING `+taskColumns,
		uuid.NewString(), agentID, prompt, task.StatusPending))
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	return &t, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*task.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get task %s", id)
	}
	return &t, nil
}

func (s *Store) ListTasksByAgent(ctx context.Context, agentID string) ([]task.Task, error) {
	return s.queryTasks(ctx, "list tasks",
		`SELECT `+taskColumns+` FROM tasks WHERE agent_id = $1 ORDER BY created_at DESC`, agentID)
}

func (s *Store) ListPendingTasks(ctx context.Context, agentID string) ([]task.Task, error) {
	return s.queryTasks(ctx, "list pending tasks",
		`SELECT `+taskColumns+` FROM tasks WHERE agent_id = $1 AND status = $2 ORDER BY created_at ASC`,
		agentID, task.StatusPending)
}

// TransitionTask is a conditional update: only the caller that finds the
// task in from moves it. Losers get ErrConflict naming the current status.
func (s *Store) TransitionTask(ctx context.Context, id string, from, to task.Status) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE tasks SET status = $3, updated_at = now()
		WHERE id = $1 AND status = $2`, id, from, to)
	if err != nil {
		return fmt.Errorf("transition task %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}
	return s.statusConflict(ctx, id)
}

// CompleteTask only touches RUNNING tasks.
func (s *Store) CompleteTask(ctx context.Context, id string, out task.Outcome) (*task.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status = $2, cost = $3::numeric, result = $4, reasoning = $5, executed_at = $6, updated_at = now()
		WHERE id = $1 AND status = $7
		RETURNING `+taskColumns,
		id, out.Status, nullDecimal(out.Cost), nullIfEmpty(out.Result), nullIfEmpty(out.Reasoning),
		nullTime(out.ExecutedAt), task.StatusRunning))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, s.statusConflict(ctx, id)
		}
		return nil, fmt.Errorf("complete task %s: %w", id, err)
	}
	return &t, nil
}

func (s *Store) ResetTask(ctx context.Context, id string) (*task.Task, error) {
	t, err := scanTask(s.pool.QueryRow(ctx, `
		UPDATE tasks
		SET status = $2, cost = NULL, result = NULL, reasoning = NULL, executed_at = NULL, updated_at = now()
		WHERE id = $1
		RETURNING `+taskColumns, id, task.StatusPending))
	if err != nil {
		return nil, notFoundWrap(err, "reset task %s", id)
	}
	return &t, nil
}

func (s *Store) DeleteFinishedTasksBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM tasks WHERE status IN ($1, $2) AND created_at < $3`,
		task.StatusDone, task.StatusFailed, cutoff)
	if err != nil {
		return 0, fmt.Errorf("delete finished tasks: %w", err)
	}
	return tag.RowsAffected(), nil
}

// statusConflict explains why a conditional task update matched no row.
func (s *Store) statusConflict(ctx context.Context, id string) error {
	var status task.Status
	err := s.pool.QueryRow(ctx, `SELECT status FROM tasks WHERE id = $1`, id).Scan(&status)
	if err != nil {
		return notFoundWrap(err, "task %s", id)
	}
	return fmt.Errorf("task %s: %w", id, task.AlreadyError(status))
}
