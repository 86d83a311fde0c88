package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/Strob0t/AutoAgent/internal/domain/schedule"
)

const scheduleColumns = `id, agent_id, cron_expr, prompt, is_active, status, last_run_at, next_run_at, created_at, updated_at`

func scanSchedule(row scannable) (schedule.Scheduled, error) {
	var sc schedule.Scheduled
	err := row.Scan(&sc.ID, &sc.AgentID, &sc.CronExpr, &sc.Prompt, &sc.IsActive, &sc.Status,
		&sc.LastRunAt, &sc.NextRunAt, &sc.CreatedAt, &sc.UpdatedAt)
	return sc, err
}

func (s *Store) querySchedules(ctx context.Context, op, query string, args ...any) ([]schedule.Scheduled, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var out []schedule.Scheduled
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		out = append(out, sc)
	}
	return orEmpty(out), rows.Err()
}

func (s *Store) CreateSchedule(ctx context.Context, agentID string, req schedule.CreateRequest) (*schedule.Scheduled, error) {
	sc, err := scanSchedule(s.pool.QueryRow(ctx, `
		INSERT INTO scheduled_tasks (id, agent_id, cron_expr, prompt, is_active, status)
		VALUES ($1, $2, $3, $4, TRUE, $5)
		RETURNING `+scheduleColumns,
		uuid.NewString(), agentID, req.CronExpr, req.Prompt, schedule.StatusActive))
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	return &sc, nil
}

func (s *Store) GetSchedule(ctx context.Context, id string) (*schedule.Scheduled, error) {
	sc, err := scanSchedule(s.pool.QueryRow(ctx, `SELECT `+scheduleColumns+` FROM scheduled_tasks WHERE id = $1`, id))
	if err != nil {
		return nil, notFoundWrap(err, "get schedule %s", id)
	}
	return &sc, nil
}

func (s *Store) ListSchedules(ctx context.Context, agentID string) ([]schedule.Scheduled, error) {
	return s.querySchedules(ctx, "list schedules",
		`SELECT `+scheduleColumns+` FROM scheduled_tasks WHERE agent_id = $1 ORDER BY created_at`, agentID)
}

func (s *Store) ListRunnableSchedules(ctx context.Context) ([]schedule.Scheduled, error) {
	return s.querySchedules(ctx, "list runnable schedules",
		`SELECT `+scheduleColumns+` FROM scheduled_tasks WHERE is_active AND status = $1 ORDER BY created_at`,
		schedule.StatusActive)
}

func (s *Store) MarkScheduleRun(ctx context.Context, id string, ranAt time.Time, next *time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE scheduled_tasks SET last_run_at = $2, next_run_at = $3, updated_at = now()
		WHERE id = $1`, id, ranAt, nullTime(next))
	return execExpectOne(tag, err, "mark schedule run %s", id)
}

func (s *Store) DeleteSchedule(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM scheduled_tasks WHERE id = $1`, id)
	return execExpectOne(tag, err, "delete schedule %s", id)
}
