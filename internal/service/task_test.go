package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/agent"
	"github.com/Strob0t/AutoAgent/internal/domain/decision"
	"github.com/Strob0t/AutoAgent/internal/domain/ledger"
	"github.com/Strob0t/AutoAgent/internal/domain/memory"
	"github.com/Strob0t/AutoAgent/internal/domain/task"
	"github.com/Strob0t/AutoAgent/internal/port/broadcast"
)

const owner = "user-1"

type pipeline struct {
	store   *mockStore
	oracle  *fakeOracle
	rec     *fakeRecorder
	wallet  *fakeWallet
	hub     *recordingHub
	svc     *TaskService
	agentID string
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	store := newMockStore()
	w := &fakeWallet{balance: eth("10")}
	o := &fakeOracle{
		analysis: okAnalysis(),
		outcome:  decision.Outcome{Success: true, Output: "done", Reasoning: "all good"},
	}
	hub := &recordingHub{}
	rec := &fakeRecorder{}

	svc := NewTaskService(store, o, NewBudgetService(store, w, eth("1")), NewMemoryService(store, o, 10), NewNotifier(nil, hub))
	svc.SetRecorder(rec)

	id := store.seedAgent(agent.Agent{
		UserID:        owner,
		Name:          "trader",
		WalletAddress: "0x0000000000000000000000000000000000000001",
		SpendingLimit: eth("0.10"),
		IsActive:      true,
	})
	return &pipeline{store: store, oracle: o, rec: rec, wallet: w, hub: hub, svc: svc, agentID: id}
}

func (p *pipeline) pending(prompt string) string {
	return p.store.seedTask(task.Task{AgentID: p.agentID, Prompt: prompt})
}

func (p *pipeline) statuses() []string {
	var out []string
	for _, e := range p.hub.snapshot() {
		if e.Type != broadcast.EventTaskStatus {
			continue
		}
		var payload struct {
			Status string `json:"status"`
		}
		_ = json.Unmarshal([]byte(e.Body), &payload)
		out = append(out, payload.Status)
	}
	return out
}

func deref(s *string) string {
	if s == nil {
		return "<nil>"
	}
	return *s
}

func TestExecuteDone(t *testing.T) {
	p := newPipeline(t)
	id := p.pending("summarize the news")

	got, err := p.svc.Execute(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != task.StatusDone {
		t.Fatalf("status = %s, want DONE", got.Status)
	}
	if deref(got.Result) != "done" || deref(got.Reasoning) != "all good" {
		t.Errorf("result = %q, reasoning = %q", deref(got.Result), deref(got.Reasoning))
	}
	if got.Cost == nil || !got.Cost.IsZero() {
		t.Errorf("cost = %v, want 0", got.Cost)
	}
	if got.ExecutedAt == nil {
		t.Error("executed_at not set")
	}
	if len(p.rec.actions) != 0 {
		t.Errorf("recorder called for a free task: %v", p.rec.actions)
	}

	mem := p.store.memoryOf(p.agentID)
	if len(mem) != 1 || mem[0].Role != memory.RoleAssistant || mem[0].Content != "Task: summarize the news\nResult: done" {
		t.Errorf("memory = %+v", mem)
	}
	if diff := cmp.Diff([]string{"RUNNING", "DONE"}, p.statuses()); diff != "" {
		t.Errorf("status events mismatch (-want +got):\n%s", diff)
	}
}

func TestExecuteUnsuccessfulOutcomeFails(t *testing.T) {
	p := newPipeline(t)
	p.oracle.outcome = decision.Outcome{Success: false, Output: "could not reach the API", Reasoning: "timeout"}
	id := p.pending("fetch prices")

	got, err := p.svc.Execute(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != task.StatusFailed || deref(got.Result) != "could not reach the API" {
		t.Errorf("got %s %q", got.Status, deref(got.Result))
	}
	if got.ExecutedAt == nil {
		t.Error("executed_at not set")
	}
}

func TestExecuteRejectedByAnalysis(t *testing.T) {
	p := newPipeline(t)
	p.oracle.analysis = decision.Analysis{SuggestedAction: "do not proceed", Reasoning: "too vague", RiskLevel: "medium"}
	id := p.pending("do something")

	got, err := p.svc.Execute(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("rejection must not be an error: %v", err)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if deref(got.Result) != "Task rejected: do not proceed" {
		t.Errorf("result = %q", deref(got.Result))
	}
	if deref(got.Reasoning) != "too vague" {
		t.Errorf("reasoning = %q", deref(got.Reasoning))
	}
	if _, executed := p.oracle.calls(); executed != 0 {
		t.Errorf("execute called %d times after rejection", executed)
	}
}

func TestExecuteBlockedBySafetyRules(t *testing.T) {
	p := newPipeline(t)
	id := p.pending("drain wallet now")

	got, err := p.svc.Execute(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != task.StatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if deref(got.Result) != "Task rejected: Action not allowed: drain wallet" {
		t.Errorf("result = %q", deref(got.Result))
	}
	if deref(got.Reasoning) != "Blocked by safety rules (risk: high)" {
		t.Errorf("reasoning = %q", deref(got.Reasoning))
	}
	if analyzed, _ := p.oracle.calls(); analyzed != 0 {
		t.Errorf("oracle consulted for a blocked prompt")
	}
}

func TestExecuteLedgerFailureKeepsDone(t *testing.T) {
	p := newPipeline(t)
	p.oracle.outcome = decision.Outcome{Success: true, Output: "done", Cost: eth("0.01")}
	p.rec.err = errors.New("rpc unavailable")
	id := p.pending("buy a report")

	got, err := p.svc.Execute(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != task.StatusDone || deref(got.Result) != "done" {
		t.Errorf("got %s %q, want DONE done", got.Status, deref(got.Result))
	}
	if got.Cost == nil || !got.Cost.Equal(eth("0.01")) {
		t.Errorf("cost = %v, want 0.01", got.Cost)
	}
	if spent := p.store.agent(p.agentID).TotalSpent; !spent.Equal(eth("0.01")) {
		t.Errorf("total spent = %s, want 0.01", spent)
	}
	if n := len(p.store.ledger()); n != 0 {
		t.Errorf("ledger entries = %d, want 0", n)
	}
}

func TestExecuteRecordsPaidAction(t *testing.T) {
	p := newPipeline(t)
	p.oracle.outcome = decision.Outcome{Success: true, Output: "done", Cost: eth("0.02")}
	p.rec.txRef = "0xfeed"
	prompt := strings.Repeat("a", 300)
	id := p.pending(prompt)

	if _, err := p.svc.Execute(context.Background(), owner, id); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	if len(p.rec.actions) != 1 || len(p.rec.actions[0]) != 100 {
		t.Fatalf("recorder actions = %d, first len %d", len(p.rec.actions), len(p.rec.actions[0]))
	}
	entries := p.store.ledger()
	if len(entries) != 1 {
		t.Fatalf("ledger entries = %d, want 1", len(entries))
	}
	e := entries[0]
	if e.TxHash != "0xfeed" || e.Status != ledger.StatusConfirmed || !e.Cost.Equal(eth("0.02")) {
		t.Errorf("entry = %+v", e)
	}
	if len(e.Action) != ledger.MaxActionLength {
		t.Errorf("action length = %d, want %d", len(e.Action), ledger.MaxActionLength)
	}

	var sawLedger bool
	for _, ev := range p.hub.snapshot() {
		if ev.Type == broadcast.EventLedgerEntry && ev.UserID == owner {
			sawLedger = true
		}
	}
	if !sawLedger {
		t.Error("no ledger event broadcast")
	}
}

func TestExecuteLedgerEntryPersistFailureKeepsDone(t *testing.T) {
	p := newPipeline(t)
	p.oracle.outcome = decision.Outcome{Success: true, Output: "done", Cost: eth("0.01")}
	p.rec.txRef = "0xfeed"
	p.store.ledgerEntryErr = errBoom
	id := p.pending("buy a report")

	got, err := p.svc.Execute(context.Background(), owner, id)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got.Status != task.StatusDone {
		t.Errorf("status = %s, want DONE", got.Status)
	}
}

func TestExecuteGuards(t *testing.T) {
	tests := []struct {
		name       string
		setup      func(p *pipeline) string
		user       string
		wantKind   error
		wantMsg    string
		wantStatus task.Status
	}{
		{
			name: "already done",
			setup: func(p *pipeline) string {
				return p.store.seedTask(task.Task{AgentID: p.agentID, Prompt: "x", Status: task.StatusDone})
			},
			user:       owner,
			wantKind:   domain.ErrConflict,
			wantMsg:    "task is already done",
			wantStatus: task.StatusDone,
		},
		{
			name: "already running",
			setup: func(p *pipeline) string {
				return p.store.seedTask(task.Task{AgentID: p.agentID, Prompt: "x", Status: task.StatusRunning})
			},
			user:       owner,
			wantKind:   domain.ErrConflict,
			wantMsg:    "task is already running",
			wantStatus: task.StatusRunning,
		},
		{
			name:       "other user",
			setup:      func(p *pipeline) string { return p.pending("x") },
			user:       "intruder",
			wantKind:   domain.ErrNotFound,
			wantMsg:    "Task not found",
			wantStatus: task.StatusPending,
		},
		{
			name: "inactive agent",
			setup: func(p *pipeline) string {
				a := p.store.agents[p.agentID]
				a.IsActive = false
				return p.pending("x")
			},
			user:       owner,
			wantKind:   domain.ErrAgentInactive,
			wantStatus: task.StatusPending,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t)
			id := tt.setup(p)

			_, err := p.svc.Execute(context.Background(), tt.user, id)
			if !errors.Is(err, tt.wantKind) {
				t.Fatalf("error = %v, want %v", err, tt.wantKind)
			}
			if tt.wantMsg != "" && publicMsg(err) != tt.wantMsg {
				t.Errorf("message = %q, want %q", publicMsg(err), tt.wantMsg)
			}
			if got := p.store.task(id).Status; got != tt.wantStatus {
				t.Errorf("task status = %s, want %s (untouched)", got, tt.wantStatus)
			}
			if analyzed, _ := p.oracle.calls(); analyzed != 0 {
				t.Error("oracle consulted")
			}
		})
	}
}

func TestExecuteMissingTask(t *testing.T) {
	p := newPipeline(t)
	_, err := p.svc.Execute(context.Background(), owner, "nope")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
}

func TestExecuteSpendingLimitExceeded(t *testing.T) {
	p := newPipeline(t)
	p.store.agents[p.agentID].TotalSpent = eth("0.08")
	p.oracle.analysis = decision.Analysis{IsValid: true, RequiresPayment: true, EstimatedCost: eth("0.05"), RiskLevel: "low"}
	id := p.pending("buy data")

	_, err := p.svc.Execute(context.Background(), owner, id)
	if !errors.Is(err, domain.ErrSpendingLimitExceeded) {
		t.Fatalf("error = %v, want ErrSpendingLimitExceeded", err)
	}
	got := p.store.task(id)
	if got.Status != task.StatusFailed {
		t.Errorf("status = %s, want FAILED", got.Status)
	}
	if want := "Exceeds remaining budget. Remaining: 0.02 ETH, Requested: 0.05 ETH"; deref(got.Result) != want {
		t.Errorf("result = %q, want %q", deref(got.Result), want)
	}
	if _, executed := p.oracle.calls(); executed != 0 {
		t.Error("execute called after budget refusal")
	}
	if spent := p.store.agent(p.agentID).TotalSpent; !spent.Equal(eth("0.08")) {
		t.Errorf("total spent changed to %s", spent)
	}
}

func TestExecuteErrorsBecomeExecutionFailed(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(p *pipeline)
		wantMsg string
	}{
		{
			name:    "oracle analysis",
			setup:   func(p *pipeline) { p.oracle.analyzeErr = domain.Errorf(domain.ErrOracle, "AI service unavailable") },
			wantMsg: "AI service unavailable",
		},
		{
			name:    "oracle execution",
			setup:   func(p *pipeline) { p.oracle.executeErr = errBoom },
			wantMsg: "boom",
		},
		{
			name:    "memory write",
			setup:   func(p *pipeline) { p.store.appendMemoryErr = errBoom },
			wantMsg: "append memory",
		},
		{
			name:    "terminal write",
			setup:   func(p *pipeline) { p.store.completeErr = errBoom },
			wantMsg: "complete task",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t)
			tt.setup(p)
			id := p.pending("analyze market")

			_, err := p.svc.Execute(context.Background(), owner, id)
			if !errors.Is(err, domain.ErrExecutionFailed) {
				t.Fatalf("error = %v, want ErrExecutionFailed", err)
			}
			if !strings.Contains(publicMsg(err), tt.wantMsg) {
				t.Errorf("message = %q, want it to contain %q", publicMsg(err), tt.wantMsg)
			}
			got := p.store.task(id)
			if got.Status != task.StatusFailed {
				t.Fatalf("status = %s, want FAILED", got.Status)
			}
			if !strings.Contains(deref(got.Result), tt.wantMsg) {
				t.Errorf("result = %q, want it to contain %q", deref(got.Result), tt.wantMsg)
			}
		})
	}
}

func TestExecuteCanceledCallerStillTerminates(t *testing.T) {
	p := newPipeline(t)
	p.oracle.block = make(chan struct{})
	id := p.pending("slow task")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := p.svc.Execute(ctx, owner, id); err == nil {
		t.Fatal("expected an error")
	}
	if got := p.store.task(id).Status; got != task.StatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
}

// logBuffer collects slog JSON lines written from any goroutine.
type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// line returns the first logged record whose message is msg.
func (b *logBuffer) line(msg string) map[string]any {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, l := range strings.Split(b.buf.String(), "\n") {
		var rec map[string]any
		if json.Unmarshal([]byte(l), &rec) == nil && rec["msg"] == msg {
			return rec
		}
	}
	return nil
}

func captureLogs(t *testing.T) *logBuffer {
	t.Helper()
	b := &logBuffer{}
	prev := slog.Default()
	slog.SetDefault(slog.New(slog.NewJSONHandler(b, nil)))
	t.Cleanup(func() { slog.SetDefault(prev) })
	return b
}

func TestExecuteFailureAfterRetryLogsCurrentStatus(t *testing.T) {
	p := newPipeline(t)
	p.oracle.block = make(chan struct{})
	p.oracle.analyzeErr = errBoom
	id := p.pending("summarize the news")
	logs := captureLogs(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		_, err := p.svc.Execute(ctx, owner, id)
		done <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for p.store.task(id).Status != task.StatusRunning {
		if time.Now().After(deadline) {
			close(p.oracle.block)
			<-done
			t.Fatal("task never reached RUNNING")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Reset while the pipeline is still inside Analyze.
	if _, err := p.svc.Retry(ctx, owner, id); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	close(p.oracle.block)

	if err := <-done; !errors.Is(err, domain.ErrExecutionFailed) {
		t.Fatalf("error = %v, want ErrExecutionFailed", err)
	}
	if got := p.store.task(id).Status; got != task.StatusPending {
		t.Errorf("status = %s, want the retry's PENDING kept", got)
	}

	rec := logs.line("task failure not recorded")
	if rec == nil {
		t.Fatal("missing failure log line")
	}
	if rec["status"] != string(task.StatusPending) {
		t.Errorf("logged status = %v, want PENDING", rec["status"])
	}
}

func TestExecuteConcurrentRunsOnce(t *testing.T) {
	p := newPipeline(t)
	p.oracle.outcome = decision.Outcome{Success: true, Output: "done", Cost: eth("0.01")}
	id := p.pending("pay invoice 42")

	const n = 8
	var (
		wg        sync.WaitGroup
		start     = make(chan struct{})
		mu        sync.Mutex
		ok        int
		conflicts int
	)
	for range n {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := p.svc.Execute(context.Background(), owner, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				ok++
			case errors.Is(err, domain.ErrConflict):
				conflicts++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if ok != 1 || conflicts != n-1 {
		t.Fatalf("ok = %d, conflicts = %d", ok, conflicts)
	}
	if _, executed := p.oracle.calls(); executed != 1 {
		t.Errorf("oracle executed %d times", executed)
	}
	if spent := p.store.agent(p.agentID).TotalSpent; !spent.Equal(eth("0.01")) {
		t.Errorf("total spent = %s, want 0.01", spent)
	}
}

func TestExecutePassesMemoryWindow(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	for i := range 12 {
		_ = p.store.AppendMemory(ctx, p.agentID, memory.RoleUser, fmt.Sprintf("m%d", i))
	}
	id := p.pending("recap")

	if _, err := p.svc.Execute(ctx, owner, id); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	in := p.oracle.lastInput
	want := []string{"m2", "m3", "m4", "m5", "m6", "m7", "m8", "m9", "m10", "m11"}
	if diff := cmp.Diff(want, in.Memory); diff != "" {
		t.Errorf("memory mismatch (-want +got):\n%s", diff)
	}
	if in.Agent.Name != "trader" || !in.Agent.SpendingLimit.Equal(eth("0.10")) {
		t.Errorf("agent context = %+v", in.Agent)
	}
}

func TestRetryResetsOutcome(t *testing.T) {
	for _, status := range []task.Status{task.StatusFailed, task.StatusDone, task.StatusRunning} {
		t.Run(string(status), func(t *testing.T) {
			p := newPipeline(t)
			cost := eth("0.3")
			result, reasoning := "old", "why"
			executed := p.store.tick()
			id := p.store.seedTask(task.Task{
				AgentID: p.agentID, Prompt: "x", Status: status,
				Cost: &cost, Result: &result, Reasoning: &reasoning, ExecutedAt: &executed,
			})

			got, err := p.svc.Retry(context.Background(), owner, id)
			if err != nil {
				t.Fatalf("Retry: %v", err)
			}
			if got.Status != task.StatusPending || got.Cost != nil || got.Result != nil || got.Reasoning != nil || got.ExecutedAt != nil {
				t.Errorf("task not reset: %+v", got)
			}
		})
	}
}

func TestRetryNotOwned(t *testing.T) {
	p := newPipeline(t)
	id := p.store.seedTask(task.Task{AgentID: p.agentID, Prompt: "x", Status: task.StatusFailed})

	if _, err := p.svc.Retry(context.Background(), "intruder", id); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("error = %v, want ErrNotFound", err)
	}
	if got := p.store.task(id).Status; got != task.StatusFailed {
		t.Errorf("status = %s, want FAILED", got)
	}
}

func TestRetryThenExecute(t *testing.T) {
	p := newPipeline(t)
	p.oracle.analyzeErr = errBoom
	id := p.pending("flaky")
	ctx := context.Background()

	if _, err := p.svc.Execute(ctx, owner, id); err == nil {
		t.Fatal("expected first run to fail")
	}
	if _, err := p.svc.Retry(ctx, owner, id); err != nil {
		t.Fatalf("Retry: %v", err)
	}
	p.oracle.analyzeErr = nil
	got, err := p.svc.Execute(ctx, owner, id)
	if err != nil {
		t.Fatalf("second Execute: %v", err)
	}
	if got.Status != task.StatusDone {
		t.Errorf("status = %s, want DONE", got.Status)
	}
}

func TestCreateTask(t *testing.T) {
	tests := []struct {
		name     string
		user     string
		req      task.CreateRequest
		inactive bool
		wantErr  error
	}{
		{name: "ok", user: owner, req: task.CreateRequest{Prompt: "  check balance  "}},
		{name: "empty prompt", user: owner, req: task.CreateRequest{Prompt: "   "}, wantErr: domain.ErrValidation},
		{name: "too long", user: owner, req: task.CreateRequest{Prompt: strings.Repeat("x", 5001)}, wantErr: domain.ErrValidation},
		{name: "not owner", user: "intruder", req: task.CreateRequest{Prompt: "x"}, wantErr: domain.ErrNotFound},
		{name: "inactive", user: owner, req: task.CreateRequest{Prompt: "x"}, inactive: true, wantErr: domain.ErrAgentInactive},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newPipeline(t)
			if tt.inactive {
				p.store.agents[p.agentID].IsActive = false
			}
			tt.req.AgentID = p.agentID

			got, err := p.svc.Create(context.Background(), tt.user, &tt.req)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("error = %v, want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("Create: %v", err)
			}
			if got.Status != task.StatusPending || got.Prompt != "check balance" {
				t.Errorf("got %+v", got)
			}
		})
	}
}

func TestListTasks(t *testing.T) {
	p := newPipeline(t)
	ctx := context.Background()
	first, _ := p.svc.Create(ctx, owner, &task.CreateRequest{AgentID: p.agentID, Prompt: "one"})
	second, _ := p.svc.Create(ctx, owner, &task.CreateRequest{AgentID: p.agentID, Prompt: "two"})
	if _, err := p.svc.Execute(ctx, owner, first.ID); err != nil {
		t.Fatalf("Execute: %v", err)
	}

	all, err := p.svc.ListByAgent(ctx, owner, p.agentID)
	if err != nil {
		t.Fatalf("ListByAgent: %v", err)
	}
	if len(all) != 2 || all[0].ID != second.ID {
		t.Errorf("ListByAgent = %+v, want newest first", all)
	}
	if _, err := p.svc.ListByAgent(ctx, "intruder", p.agentID); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("foreign list error = %v", err)
	}

	pending, err := p.svc.ListPending(ctx, p.agentID)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != second.ID {
		t.Errorf("ListPending = %+v", pending)
	}

	got, err := p.svc.Get(ctx, owner, first.ID)
	if err != nil || got.Status != task.StatusDone {
		t.Errorf("Get = %+v, %v", got, err)
	}
}
