package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/agent"
	"github.com/Strob0t/AutoAgent/internal/domain/decision"
	"github.com/Strob0t/AutoAgent/internal/domain/ledger"
	"github.com/Strob0t/AutoAgent/internal/domain/memory"
	"github.com/Strob0t/AutoAgent/internal/domain/schedule"
	"github.com/Strob0t/AutoAgent/internal/domain/task"
	"github.com/Strob0t/AutoAgent/internal/domain/user"
	"github.com/Strob0t/AutoAgent/internal/port/database"
	"github.com/Strob0t/AutoAgent/internal/port/messagequeue"
)

var _ database.Store = (*mockStore)(nil)

// mockStore is an in-memory database.Store. Conditional updates hold the
// mutex for the whole check-and-set, like a single SQL statement.
type mockStore struct {
	mu        sync.Mutex
	users     map[string]*user.User
	agents    map[string]*agent.Agent
	tasks     map[string]*task.Task
	memories  map[string][]memory.Entry
	entries   []ledger.Entry
	schedules map[string]*schedule.Scheduled
	seq       int

	appendMemoryErr error
	ledgerEntryErr  error
	completeErr     error
	markedRuns      []string
}

func newMockStore() *mockStore {
	return &mockStore{
		users:     make(map[string]*user.User),
		agents:    make(map[string]*agent.Agent),
		tasks:     make(map[string]*task.Task),
		memories:  make(map[string][]memory.Entry),
		schedules: make(map[string]*schedule.Scheduled),
	}
}

func (m *mockStore) tick() time.Time {
	m.seq++
	return time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(m.seq) * time.Second)
}

func notFoundErr(what, id string) error {
	return fmt.Errorf("%s %s: %w", what, id, domain.ErrNotFound)
}

// seedAgent stores a copy of a and returns its ID.
func (m *mockStore) seedAgent(a agent.Agent) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	m.agents[a.ID] = &a
	return a.ID
}

func (m *mockStore) seedTask(t task.Task) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Status == "" {
		t.Status = task.StatusPending
	}
	m.tasks[t.ID] = &t
	return t.ID
}

func (m *mockStore) agent(id string) agent.Agent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.agents[id]
}

func (m *mockStore) task(id string) task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.tasks[id]
}

func (m *mockStore) memoryOf(agentID string) []memory.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]memory.Entry(nil), m.memories[agentID]...)
}

func (m *mockStore) ledger() []ledger.Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]ledger.Entry(nil), m.entries...)
}

// Users

func (m *mockStore) CreateUser(_ context.Context, email, hash string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			return nil, fmt.Errorf("create user: %w", domain.ErrConflict)
		}
	}
	u := &user.User{ID: uuid.NewString(), Email: email, PasswordHash: hash, CreatedAt: m.tick()}
	m.users[u.ID] = u
	c := *u
	return &c, nil
}

func (m *mockStore) GetUser(_ context.Context, id string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, notFoundErr("user", id)
	}
	c := *u
	return &c, nil
}

func (m *mockStore) GetUserByEmail(_ context.Context, email string) (*user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, notFoundErr("user", email)
}

func (m *mockStore) ListUsers(_ context.Context) ([]user.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]user.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, *u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

// Agents

func (m *mockStore) CreateAgent(_ context.Context, a *agent.Agent) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.CreatedAt = m.tick()
	a.UpdatedAt = a.CreatedAt
	c := *a
	m.agents[a.ID] = &c
	return nil
}

func (m *mockStore) GetAgent(_ context.Context, id string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return nil, notFoundErr("agent", id)
	}
	c := *a
	return &c, nil
}

func (m *mockStore) GetAgentForUser(_ context.Context, id, userID string) (*agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok || a.UserID != userID {
		return nil, notFoundErr("agent", id)
	}
	c := *a
	return &c, nil
}

func (m *mockStore) ListAgents(_ context.Context, userID string) ([]agent.Agent, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []agent.Agent{}
	for _, a := range m.agents {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *mockStore) ownedLocked(id, userID string) (*agent.Agent, error) {
	a, ok := m.agents[id]
	if !ok || a.UserID != userID {
		return nil, notFoundErr("agent", id)
	}
	return a, nil
}

func (m *mockStore) UpdateAgentSpendingLimit(_ context.Context, id, userID string, limit decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.ownedLocked(id, userID)
	if err != nil {
		return err
	}
	a.SpendingLimit = limit
	return nil
}

func (m *mockStore) SetAgentActive(_ context.Context, id, userID string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, err := m.ownedLocked(id, userID)
	if err != nil {
		return err
	}
	a.IsActive = active
	return nil
}

func (m *mockStore) DeleteAgent(_ context.Context, id, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.ownedLocked(id, userID); err != nil {
		return err
	}
	delete(m.agents, id)
	for tid, t := range m.tasks {
		if t.AgentID == id {
			delete(m.tasks, tid)
		}
	}
	delete(m.memories, id)
	for sid, sc := range m.schedules {
		if sc.AgentID == id {
			delete(m.schedules, sid)
		}
	}
	return nil
}

func (m *mockStore) IncrementAgentSpent(_ context.Context, id string, amount decimal.Decimal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.agents[id]
	if !ok {
		return notFoundErr("agent", id)
	}
	a.TotalSpent = a.TotalSpent.Add(amount)
	return nil
}

// Tasks

func (m *mockStore) CreateTask(_ context.Context, agentID, prompt string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.tick()
	t := &task.Task{ID: uuid.NewString(), AgentID: agentID, Prompt: prompt, Status: task.StatusPending, CreatedAt: now, UpdatedAt: now}
	m.tasks[t.ID] = t
	c := *t
	return &c, nil
}

func (m *mockStore) GetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, notFoundErr("task", id)
	}
	c := *t
	return &c, nil
}

func (m *mockStore) listTasks(agentID string, keep func(*task.Task) bool) []task.Task {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []task.Task{}
	for _, t := range m.tasks {
		if t.AgentID == agentID && keep(t) {
			out = append(out, *t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out
}

func (m *mockStore) ListTasksByAgent(_ context.Context, agentID string) ([]task.Task, error) {
	out := m.listTasks(agentID, func(*task.Task) bool { return true })
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (m *mockStore) ListPendingTasks(_ context.Context, agentID string) ([]task.Task, error) {
	return m.listTasks(agentID, func(t *task.Task) bool { return t.Status == task.StatusPending }), nil
}

func (m *mockStore) TransitionTask(_ context.Context, id string, from, to task.Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return notFoundErr("task", id)
	}
	if t.Status != from {
		return fmt.Errorf("task %s: %w", id, task.AlreadyError(t.Status))
	}
	t.Status = to
	return nil
}

func (m *mockStore) CompleteTask(_ context.Context, id string, out task.Outcome) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.completeErr != nil {
		err := m.completeErr
		m.completeErr = nil
		return nil, err
	}
	t, ok := m.tasks[id]
	if !ok {
		return nil, notFoundErr("task", id)
	}
	if t.Status != task.StatusRunning {
		return nil, fmt.Errorf("task %s: %w", id, task.AlreadyError(t.Status))
	}
	t.Status = out.Status
	t.Cost = out.Cost
	t.Result = nil
	if out.Result != "" {
		r := out.Result
		t.Result = &r
	}
	t.Reasoning = nil
	if out.Reasoning != "" {
		r := out.Reasoning
		t.Reasoning = &r
	}
	t.ExecutedAt = out.ExecutedAt
	t.UpdatedAt = m.tick()
	c := *t
	return &c, nil
}

func (m *mockStore) ResetTask(_ context.Context, id string) (*task.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return nil, notFoundErr("task", id)
	}
	t.Status = task.StatusPending
	t.Cost, t.Result, t.Reasoning, t.ExecutedAt = nil, nil, nil, nil
	c := *t
	return &c, nil
}

func (m *mockStore) DeleteFinishedTasksBefore(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, t := range m.tasks {
		if t.Status.IsTerminal() && t.CreatedAt.Before(cutoff) {
			delete(m.tasks, id)
			n++
		}
	}
	return n, nil
}

// Memory

func (m *mockStore) AppendMemory(_ context.Context, agentID string, role memory.Role, content string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.appendMemoryErr != nil {
		return m.appendMemoryErr
	}
	m.memories[agentID] = append(m.memories[agentID], memory.Entry{
		ID: uuid.NewString(), AgentID: agentID, Role: role, Content: content, CreatedAt: m.tick(),
	})
	return nil
}

func (m *mockStore) RecentMemory(_ context.Context, agentID string, limit int) ([]memory.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.memories[agentID]
	if len(all) > limit {
		all = all[len(all)-limit:]
	}
	return append([]memory.Entry{}, all...), nil
}

func (m *mockStore) ClearMemory(_ context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.memories, agentID)
	return nil
}

// Ledger

func (m *mockStore) CreateLedgerEntry(_ context.Context, e *ledger.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ledgerEntryErr != nil {
		return m.ledgerEntryErr
	}
	e.ID = uuid.NewString()
	e.Timestamp = m.tick()
	m.entries = append(m.entries, *e)
	return nil
}

func (m *mockStore) ListLedgerEntries(_ context.Context, agentID string, limit int) ([]ledger.Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []ledger.Entry{}
	for i := len(m.entries) - 1; i >= 0 && len(out) < limit; i-- {
		if m.entries[i].AgentID == agentID {
			out = append(out, m.entries[i])
		}
	}
	return out, nil
}

// Schedules

func (m *mockStore) CreateSchedule(_ context.Context, agentID string, req schedule.CreateRequest) (*schedule.Scheduled, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc := &schedule.Scheduled{
		ID: uuid.NewString(), AgentID: agentID, CronExpr: req.CronExpr, Prompt: req.Prompt,
		IsActive: true, Status: schedule.StatusActive, CreatedAt: m.tick(),
	}
	m.schedules[sc.ID] = sc
	c := *sc
	return &c, nil
}

func (m *mockStore) GetSchedule(_ context.Context, id string) (*schedule.Scheduled, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.schedules[id]
	if !ok {
		return nil, notFoundErr("schedule", id)
	}
	c := *sc
	return &c, nil
}

func (m *mockStore) ListSchedules(_ context.Context, agentID string) ([]schedule.Scheduled, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []schedule.Scheduled{}
	for _, sc := range m.schedules {
		if sc.AgentID == agentID {
			out = append(out, *sc)
		}
	}
	return out, nil
}

func (m *mockStore) ListRunnableSchedules(_ context.Context) ([]schedule.Scheduled, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []schedule.Scheduled{}
	for _, sc := range m.schedules {
		if sc.Runnable() {
			out = append(out, *sc)
		}
	}
	return out, nil
}

func (m *mockStore) MarkScheduleRun(_ context.Context, id string, ranAt time.Time, next *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	sc, ok := m.schedules[id]
	if !ok {
		return notFoundErr("schedule", id)
	}
	sc.LastRunAt = &ranAt
	sc.NextRunAt = next
	m.markedRuns = append(m.markedRuns, id)
	return nil
}

func (m *mockStore) DeleteSchedule(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.schedules[id]; !ok {
		return notFoundErr("schedule", id)
	}
	delete(m.schedules, id)
	return nil
}

func (m *mockStore) Ping(context.Context) error { return nil }

// fakeOracle returns canned verdicts and counts calls.
type fakeOracle struct {
	mu          sync.Mutex
	analysis    decision.Analysis
	outcome     decision.Outcome
	analyzeErr  error
	executeErr  error
	chatReply   string
	chatHistory []decision.ChatTurn
	analyzed    int
	executed    int
	lastInput   decision.Input
	block       chan struct{} // when set, Analyze waits for it
}

func okAnalysis() decision.Analysis {
	return decision.Analysis{IsValid: true, Reasoning: "fine", RiskLevel: "low"}
}

func (o *fakeOracle) Analyze(ctx context.Context, in decision.Input) (*decision.Analysis, error) {
	if o.block != nil {
		select {
		case <-o.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.analyzed++
	o.lastInput = in
	if o.analyzeErr != nil {
		return nil, o.analyzeErr
	}
	a := o.analysis
	return &a, nil
}

func (o *fakeOracle) Execute(_ context.Context, in decision.Input) (*decision.Outcome, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.executed++
	o.lastInput = in
	if o.executeErr != nil {
		return nil, o.executeErr
	}
	out := o.outcome
	return &out, nil
}

func (o *fakeOracle) Chat(_ context.Context, _ string, history []decision.ChatTurn, _ string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.chatHistory = history
	return o.chatReply, nil
}

func (o *fakeOracle) calls() (analyzed, executed int) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.analyzed, o.executed
}

// fakeRecorder records LogAction calls.
type fakeRecorder struct {
	mu      sync.Mutex
	txRef   string
	err     error
	actions []string
}

func (r *fakeRecorder) LogAction(_ context.Context, _, action string, _ decimal.Decimal) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions = append(r.actions, action)
	return r.txRef, r.err
}

// fakeWallet hands out sequential addresses and fixed balances.
type fakeWallet struct {
	mu         sync.Mutex
	balance    decimal.Decimal
	balanceErr error
	generated  int
	lookups    int
	deadline   bool // last Balance call carried a deadline
}

func (w *fakeWallet) Generate() (string, string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.generated++
	return fmt.Sprintf("0x%040d", w.generated), "sealed", nil
}

func (w *fakeWallet) Balance(ctx context.Context, _ string) (decimal.Decimal, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.lookups++
	_, w.deadline = ctx.Deadline()
	if err := ctx.Err(); err != nil {
		return decimal.Zero, err
	}
	return w.balance, w.balanceErr
}

func (w *fakeWallet) CanAfford(ctx context.Context, addr string, amount decimal.Decimal) (bool, error) {
	bal, err := w.Balance(ctx, addr)
	if err != nil {
		return false, err
	}
	return bal.GreaterThanOrEqual(amount), nil
}

// mockQueue implements messagequeue.Queue for testing.
type mockQueue struct {
	mu         sync.Mutex
	published  []string
	handlers   map[string]messagequeue.Handler
	publishErr error
	connected  bool
}

func (q *mockQueue) Publish(_ context.Context, subject string, _ []byte) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.publishErr != nil {
		return q.publishErr
	}
	q.published = append(q.published, subject)
	return nil
}

func (q *mockQueue) Subscribe(_ context.Context, subject string, h messagequeue.Handler) (func(), error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.handlers == nil {
		q.handlers = make(map[string]messagequeue.Handler)
	}
	q.handlers[subject] = h
	return func() {
		q.mu.Lock()
		delete(q.handlers, subject)
		q.mu.Unlock()
	}, nil
}

func (q *mockQueue) Drain() error      { return nil }
func (q *mockQueue) IsConnected() bool { return q.connected }

// recordingHub captures broadcast events.
type recordingHub struct {
	mu     sync.Mutex
	events []hubEvent
}

type hubEvent struct {
	UserID string
	Type   string
	Body   string
}

func (h *recordingHub) BroadcastEvent(_ context.Context, userID, eventType string, payload any) {
	data, _ := json.Marshal(payload)
	h.mu.Lock()
	defer h.mu.Unlock()
	h.events = append(h.events, hubEvent{UserID: userID, Type: eventType, Body: string(data)})
}

func (h *recordingHub) snapshot() []hubEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]hubEvent(nil), h.events...)
}

// publicMsg returns the caller-facing message of err or its text.
func publicMsg(err error) string {
	if msg, ok := domain.PublicMessage(err); ok {
		return msg
	}
	if err == nil {
		return ""
	}
	return err.Error()
}

var errBoom = errors.New("boom")

func eth(s string) decimal.Decimal { return decimal.RequireFromString(s) }
