package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/Strob0t/AutoAgent/internal/config"
	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/schedule"
	"github.com/Strob0t/AutoAgent/internal/domain/task"
	"github.com/Strob0t/AutoAgent/internal/port/database"
)

// SchedulerService runs recurring task definitions and the periodic purge
// of finished tasks. A definition never runs concurrently with itself: a
// fire that comes due while the previous one is still executing is skipped.
type SchedulerService struct {
	store database.Store
	tasks *TaskService
	cfg   config.Scheduler
	now   func() time.Time

	cron *cron.Cron

	mu      sync.Mutex
	ctx     context.Context
	entries map[string]cron.EntryID
	cleanID cron.EntryID
	started bool
}

// NewSchedulerService creates a SchedulerService. Nothing fires until Start.
func NewSchedulerService(store database.Store, tasks *TaskService, cfg config.Scheduler) *SchedulerService {
	log := cronLogger{}
	return &SchedulerService{
		store:   store,
		tasks:   tasks,
		cfg:     cfg,
		now:     time.Now,
		ctx:     context.Background(),
		entries: make(map[string]cron.EntryID),
		cron: cron.New(
			cron.WithLogger(log),
			cron.WithChain(cron.Recover(log), cron.SkipIfStillRunning(log)),
		),
	}
}

// Start loads every runnable definition, registers the cleanup job and
// starts firing. ctx bounds every fire; cancel it or call Stop to halt.
func (s *SchedulerService) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		slog.Warn("scheduler already running")
		return nil
	}
	s.started = true
	s.ctx = ctx
	s.mu.Unlock()

	if s.cfg.CleanupCron != "" {
		id, err := s.cron.AddFunc(s.cfg.CleanupCron, func() { s.cleanup(ctx) })
		if err != nil {
			return fmt.Errorf("register cleanup %q: %w", s.cfg.CleanupCron, err)
		}
		s.mu.Lock()
		s.cleanID = id
		s.mu.Unlock()
	}

	defs, err := s.store.ListRunnableSchedules(ctx)
	if err != nil {
		return fmt.Errorf("load schedules: %w", err)
	}
	for i := range defs {
		if err := s.Schedule(&defs[i]); err != nil {
			slog.Error("schedule not loaded", "schedule_id", defs[i].ID, "error", err)
		}
	}

	s.cron.Start()
	slog.Info("scheduler started", "schedules", len(defs))
	return nil
}

// Stop halts firing and waits for running fires to return.
func (s *SchedulerService) Stop() {
	<-s.cron.Stop().Done()

	s.mu.Lock()
	for id, entry := range s.entries {
		s.cron.Remove(entry)
		delete(s.entries, id)
	}
	s.cron.Remove(s.cleanID)
	s.started = false
	s.mu.Unlock()
	slog.Info("scheduler stopped")
}

// Schedule registers a definition, replacing an earlier registration of the
// same ID. Definitions that are not runnable are only unregistered.
func (s *SchedulerService) Schedule(sc *schedule.Scheduled) error {
	spec, err := schedule.Parse(sc.CronExpr)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.entries[sc.ID]; ok {
		s.cron.Remove(prev)
		delete(s.entries, sc.ID)
	}
	if !sc.Runnable() {
		return nil
	}

	id, agentID, prompt := sc.ID, sc.AgentID, sc.Prompt
	s.entries[sc.ID] = s.cron.Schedule(spec, cron.FuncJob(func() {
		s.fire(s.fireContext(), id, agentID, prompt, spec)
	}))
	slog.Info("task scheduled", "schedule_id", sc.ID, "cron", sc.CronExpr)
	return nil
}

// Unschedule removes a definition. Unknown IDs are ignored.
func (s *SchedulerService) Unschedule(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if entry, ok := s.entries[id]; ok {
		s.cron.Remove(entry)
		delete(s.entries, id)
		slog.Info("task unscheduled", "schedule_id", id)
	}
}

// Scheduled reports whether a definition is currently registered.
func (s *SchedulerService) Scheduled(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[id]
	return ok
}

func (s *SchedulerService) fireContext() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctx
}

// fire creates and executes one task for a definition on behalf of the
// agent's owner, then records the run.
func (s *SchedulerService) fire(ctx context.Context, scheduleID, agentID, prompt string, spec cron.Schedule) {
	if ctx.Err() != nil {
		return
	}
	log := slog.With("schedule_id", scheduleID, "agent_id", agentID)

	a, err := s.store.GetAgent(ctx, agentID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			log.Warn("scheduled agent is gone, unscheduling")
			s.Unschedule(scheduleID)
			return
		}
		log.Error("scheduled run failed", "error", err)
		return
	}
	if !a.IsActive {
		log.Warn("scheduled agent is inactive, skipping run")
		return
	}

	log.Info("executing scheduled task")
	t, err := s.tasks.Create(ctx, a.UserID, &task.CreateRequest{AgentID: agentID, Prompt: prompt})
	if err != nil {
		log.Error("scheduled task not created", "error", err)
		return
	}
	if _, err := s.tasks.Execute(ctx, a.UserID, t.ID); err != nil {
		log.Warn("scheduled task failed", "task_id", t.ID, "error", err)
	}

	now := s.now()
	next := spec.Next(now)
	if err := s.store.MarkScheduleRun(ctx, scheduleID, now, &next); err != nil {
		log.Error("schedule run not recorded", "error", err)
		return
	}
	log.Info("scheduled task executed", "task_id", t.ID)
}

// cleanup deletes DONE and FAILED tasks older than the retention window.
func (s *SchedulerService) cleanup(ctx context.Context) {
	if s.cfg.Retention <= 0 {
		return
	}
	n, err := s.store.DeleteFinishedTasksBefore(ctx, s.now().Add(-s.cfg.Retention))
	if err != nil {
		slog.Error("task cleanup failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("cleaned up old tasks", "count", n)
	}
}

// Create stores a new definition for an agent owned by userID and
// registers it.
func (s *SchedulerService) Create(ctx context.Context, userID, agentID string, req *schedule.CreateRequest) (*schedule.Scheduled, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	if _, err := s.tasks.ownedAgent(ctx, userID, agentID); err != nil {
		return nil, err
	}
	sc, err := s.store.CreateSchedule(ctx, agentID, *req)
	if err != nil {
		return nil, fmt.Errorf("create schedule: %w", err)
	}
	if err := s.Schedule(sc); err != nil {
		return nil, err
	}
	return sc, nil
}

// List returns the definitions of an agent owned by userID.
func (s *SchedulerService) List(ctx context.Context, userID, agentID string) ([]schedule.Scheduled, error) {
	if _, err := s.tasks.ownedAgent(ctx, userID, agentID); err != nil {
		return nil, err
	}
	defs, err := s.store.ListSchedules(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list schedules for %s: %w", agentID, err)
	}
	return defs, nil
}

// Delete unregisters and removes a definition whose agent userID owns.
func (s *SchedulerService) Delete(ctx context.Context, userID, id string) error {
	sc, err := s.store.GetSchedule(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return notFound("Scheduled task")
		}
		return fmt.Errorf("get schedule %s: %w", id, err)
	}
	if _, err := s.store.GetAgentForUser(ctx, sc.AgentID, userID); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return notFound("Scheduled task")
		}
		return fmt.Errorf("get agent %s: %w", sc.AgentID, err)
	}

	s.Unschedule(id)
	if err := s.store.DeleteSchedule(ctx, id); err != nil {
		return fmt.Errorf("delete schedule %s: %w", id, err)
	}
	return nil
}

// cronLogger routes cron's own logging to slog.
type cronLogger struct{}

func (cronLogger) Info(msg string, keysAndValues ...any) {
	if msg == "skip" {
		slog.Info("scheduled run skipped, previous run still executing")
		return
	}
	slog.Debug("cron: "+msg, keysAndValues...)
}

func (cronLogger) Error(err error, msg string, keysAndValues ...any) {
	slog.Error("cron: "+msg, append(keysAndValues, "error", err)...)
}
