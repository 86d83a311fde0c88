package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	aaotel "github.com/Strob0t/AutoAgent/internal/adapter/otel"
	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/agent"
	"github.com/Strob0t/AutoAgent/internal/domain/decision"
	"github.com/Strob0t/AutoAgent/internal/domain/ledger"
	"github.com/Strob0t/AutoAgent/internal/domain/memory"
	"github.com/Strob0t/AutoAgent/internal/domain/safety"
	"github.com/Strob0t/AutoAgent/internal/domain/task"
	"github.com/Strob0t/AutoAgent/internal/port/database"
	ledgerport "github.com/Strob0t/AutoAgent/internal/port/ledger"
	"github.com/Strob0t/AutoAgent/internal/port/oracle"
)

const (
	// recordTimeout bounds the best-effort ledger recording of one task.
	recordTimeout = 2 * time.Minute

	// ledgerActionLength is how much of the prompt is sent to the recorder.
	ledgerActionLength = 100
)

// TaskService runs the task pipeline: PENDING -> RUNNING -> DONE | FAILED.
type TaskService struct {
	store         database.Store
	oracle        oracle.Oracle
	budget        *BudgetService
	memory        *MemoryService
	notifier      *Notifier
	recorder      ledgerport.Recorder
	metrics       *aaotel.Metrics
	recordTimeout time.Duration
}

// NewTaskService creates a TaskService.
func NewTaskService(store database.Store, o oracle.Oracle, budget *BudgetService, mem *MemoryService, n *Notifier) *TaskService {
	return &TaskService{
		store:         store,
		oracle:        o,
		budget:        budget,
		memory:        mem,
		notifier:      n,
		recordTimeout: recordTimeout,
	}
}

// SetRecorder configures the recorder paid actions are logged to.
func (s *TaskService) SetRecorder(r ledgerport.Recorder) { s.recorder = r }

// SetMetrics configures pipeline metrics.
func (s *TaskService) SetMetrics(m *aaotel.Metrics) { s.metrics = m }

// Create queues a new PENDING task for an active agent owned by userID.
func (s *TaskService) Create(ctx context.Context, userID string, req *task.CreateRequest) (*task.Task, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}
	a, err := s.ownedAgent(ctx, userID, req.AgentID)
	if err != nil {
		return nil, err
	}
	if !a.IsActive {
		return nil, inactive(a)
	}

	t, err := s.store.CreateTask(ctx, a.ID, req.Prompt)
	if err != nil {
		return nil, fmt.Errorf("create task: %w", err)
	}
	slog.Info("task created", "task_id", t.ID, "agent_id", a.ID)
	s.notifier.TaskStatus(ctx, userID, t)
	return t, nil
}

// Get returns a task whose agent is owned by userID.
func (s *TaskService) Get(ctx context.Context, userID, id string) (*task.Task, error) {
	t, _, err := s.owned(ctx, userID, id)
	return t, err
}

// ListByAgent returns all tasks of an agent owned by userID, newest first.
func (s *TaskService) ListByAgent(ctx context.Context, userID, agentID string) ([]task.Task, error) {
	if _, err := s.ownedAgent(ctx, userID, agentID); err != nil {
		return nil, err
	}
	tasks, err := s.store.ListTasksByAgent(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list tasks for %s: %w", agentID, err)
	}
	return tasks, nil
}

// ListPending returns the PENDING tasks of an agent, oldest first.
func (s *TaskService) ListPending(ctx context.Context, agentID string) ([]task.Task, error) {
	tasks, err := s.store.ListPendingTasks(ctx, agentID)
	if err != nil {
		return nil, fmt.Errorf("list pending tasks for %s: %w", agentID, err)
	}
	return tasks, nil
}

// Retry resets a task to PENDING and clears its outcome. Any status may be
// reset, including RUNNING and DONE.
func (s *TaskService) Retry(ctx context.Context, userID, id string) (*task.Task, error) {
	if _, _, err := s.owned(ctx, userID, id); err != nil {
		return nil, err
	}
	t, err := s.store.ResetTask(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notFound("Task")
		}
		return nil, fmt.Errorf("reset task %s: %w", id, err)
	}
	slog.Info("task reset for retry", "task_id", id)
	s.notifier.TaskStatus(ctx, userID, t)
	return t, nil
}

// Execute runs a PENDING task to a terminal status.
//
// Rejections by the safety rules or by the oracle's analysis are normal
// outcomes: the task ends FAILED with an explanation and no error is
// returned. Once the task is RUNNING every error leaves it FAILED with the
// error message as result. ErrAgentInactive and ErrSpendingLimitExceeded
// are returned as they are; other errors are reported as ErrExecutionFailed.
func (s *TaskService) Execute(ctx context.Context, userID, id string) (*task.Task, error) {
	t, a, err := s.owned(ctx, userID, id)
	if err != nil {
		return nil, err
	}
	if t.Status != task.StatusPending {
		return nil, task.AlreadyError(t.Status)
	}
	if !a.IsActive {
		return nil, inactive(a)
	}

	// The conditional transition admits exactly one concurrent caller.
	if err := s.store.TransitionTask(ctx, t.ID, task.StatusPending, task.StatusRunning); err != nil {
		return nil, err
	}
	t.Status = task.StatusRunning

	ctx, span := aaotel.StartTaskSpan(ctx, t.ID, a.ID)
	defer span.End()
	started := time.Now()
	s.metrics.TaskStarted(ctx)
	s.notifier.TaskStatus(ctx, userID, t)
	slog.Info("task started", "task_id", t.ID, "agent_id", a.ID)

	out, err := s.run(ctx, t, a)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.fail(ctx, userID, t, started, err)
	}

	done, err := s.store.CompleteTask(ctx, t.ID, *out)
	if err != nil {
		return s.fail(ctx, userID, t, started, fmt.Errorf("complete task %s: %w", t.ID, err))
	}
	span.SetAttributes(attribute.String("task.status", string(done.Status)))
	s.finished(ctx, userID, done, started)
	return done, nil
}

// run performs the pipeline steps between RUNNING and the terminal write.
func (s *TaskService) run(ctx context.Context, t *task.Task, a *agent.Agent) (*task.Outcome, error) {
	mem, err := s.memory.Recent(ctx, a.ID, s.memory.window)
	if err != nil {
		return nil, err
	}

	if check := safety.Validate(t.Prompt); !check.IsValid {
		slog.Warn("task blocked by safety rules", "task_id", t.ID, "reason", check.Reason)
		s.metrics.Rejected(ctx, "safety")
		return &task.Outcome{
			Status:    task.StatusFailed,
			Result:    "Task rejected: " + check.Reason,
			Reasoning: fmt.Sprintf("Blocked by safety rules (risk: %s)", check.RiskLevel),
		}, nil
	}

	in := decision.Input{Task: t.Prompt, Agent: a.Context(), Memory: mem}

	analysis, err := s.oracle.Analyze(ctx, in)
	if err != nil {
		return nil, err
	}
	slog.Info("task analysis complete", "task_id", t.ID,
		"is_valid", analysis.IsValid,
		"requires_payment", analysis.RequiresPayment,
		"risk", analysis.RiskLevel)
	if !analysis.IsValid {
		s.metrics.Rejected(ctx, "oracle")
		return &task.Outcome{
			Status:    task.StatusFailed,
			Result:    "Task rejected: " + analysis.SuggestedAction,
			Reasoning: analysis.Reasoning,
		}, nil
	}

	if analysis.RequiresPayment {
		verdict, err := s.budget.CanSpend(ctx, a.ID, analysis.EstimatedCost)
		if err != nil {
			return nil, err
		}
		if !verdict.CanSpend {
			return nil, domain.Errorf(domain.ErrSpendingLimitExceeded, "%s", verdict.Reason)
		}
	}

	res, err := s.oracle.Execute(ctx, in)
	if err != nil {
		return nil, err
	}
	slog.Info("task executed", "task_id", t.ID, "success", res.Success, "cost", res.Cost.String())

	if res.Paid() {
		if err := s.budget.RecordSpending(ctx, a.ID, res.Cost); err != nil {
			return nil, err
		}
		s.recordOnLedger(ctx, a, t.Prompt, res)
	}

	if err := s.memory.Store(ctx, a.ID, memory.RoleAssistant, memory.TaskSummary(t.Prompt, res.Output)); err != nil {
		return nil, err
	}

	status := task.StatusFailed
	if res.Success {
		status = task.StatusDone
	}
	cost := res.Cost
	now := time.Now().UTC()
	return &task.Outcome{
		Status:     status,
		Cost:       &cost,
		Result:     res.Output,
		Reasoning:  res.Reasoning,
		ExecutedAt: &now,
	}, nil
}

// recordOnLedger logs a paid action with the recorder and keeps the
// resulting entry. It never fails the pipeline: every error is logged.
func (s *TaskService) recordOnLedger(ctx context.Context, a *agent.Agent, prompt string, res *decision.Outcome) {
	if s.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recordTimeout)
	defer cancel()
	ctx, span := aaotel.StartLedgerSpan(ctx, a.ID)
	defer span.End()

	txRef, err := s.recorder.LogAction(ctx, a.ID, truncate(prompt, ledgerActionLength), res.Cost)
	s.metrics.LedgerWrite(ctx, err)
	if err != nil {
		span.RecordError(err)
		slog.Warn("ledger recording failed", "agent_id", a.ID, "error", err)
		return
	}
	if txRef == "" {
		return
	}

	e := &ledger.Entry{
		AgentID: a.ID,
		TxHash:  txRef,
		Action:  ledger.TruncateAction(prompt),
		Cost:    res.Cost,
		Status:  ledger.StatusConfirmed,
	}
	if err := s.store.CreateLedgerEntry(ctx, e); err != nil {
		slog.Warn("ledger entry not persisted", "agent_id", a.ID, "tx_hash", txRef, "error", err)
		return
	}
	slog.Info("paid action recorded", "agent_id", a.ID, "tx_hash", txRef)
	s.notifier.LedgerEntry(ctx, a.UserID, e)
}

// fail marks a RUNNING task FAILED with the cause as its result and maps
// the cause to the error returned to the caller.
func (s *TaskService) fail(ctx context.Context, userID string, t *task.Task, started time.Time, cause error) (*task.Task, error) {
	msg, ok := domain.PublicMessage(cause)
	if !ok {
		msg = cause.Error()
	}
	slog.Error("task execution failed", "task_id", t.ID, "error", cause)

	// The terminal write must land even when the caller has gone away.
	bg := context.WithoutCancel(ctx)
	failed, err := s.store.CompleteTask(bg, t.ID, task.Outcome{
		Status: task.StatusFailed,
		Result: msg,
	})
	if err != nil {
		// A retry may have reset the row while it was running.
		status := "unknown"
		if cur, gerr := s.store.GetTask(bg, t.ID); gerr == nil {
			status = string(cur.Status)
		}
		slog.Error("task failure not recorded", "task_id", t.ID, "status", status, "error", err)
	} else {
		s.finished(ctx, userID, failed, started)
	}

	if errors.Is(cause, domain.ErrAgentInactive) || errors.Is(cause, domain.ErrSpendingLimitExceeded) {
		return nil, cause
	}
	return nil, domain.Errorf(domain.ErrExecutionFailed, "%s", msg)
}

func (s *TaskService) finished(ctx context.Context, userID string, t *task.Task, started time.Time) {
	var cost float64
	if t.Cost != nil {
		cost = t.Cost.InexactFloat64()
	}
	s.metrics.TaskFinished(ctx, string(t.Status), time.Since(started).Seconds(), cost)
	s.notifier.TaskStatus(ctx, userID, t)
	slog.Info("task finished", "task_id", t.ID, "status", t.Status)
}

// owned loads a task and its agent, hiding tasks of other users.
func (s *TaskService) owned(ctx context.Context, userID, id string) (*task.Task, *agent.Agent, error) {
	t, err := s.store.GetTask(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, notFound("Task")
		}
		return nil, nil, fmt.Errorf("get task %s: %w", id, err)
	}
	a, err := s.store.GetAgentForUser(ctx, t.AgentID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil, notFound("Task")
		}
		return nil, nil, fmt.Errorf("get agent %s: %w", t.AgentID, err)
	}
	return t, a, nil
}

func (s *TaskService) ownedAgent(ctx context.Context, userID, agentID string) (*agent.Agent, error) {
	a, err := s.store.GetAgentForUser(ctx, agentID, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, notFound("Agent")
		}
		return nil, fmt.Errorf("get agent %s: %w", agentID, err)
	}
	return a, nil
}

func inactive(a *agent.Agent) error {
	return domain.Errorf(domain.ErrAgentInactive, "Agent %s is inactive", a.ID)
}

// truncate shortens s to at most n runes.
func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
