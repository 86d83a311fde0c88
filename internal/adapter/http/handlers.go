package http

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/AutoAgent/internal/adapter/ws"
	"github.com/Strob0t/AutoAgent/internal/domain/ledger"
	"github.com/Strob0t/AutoAgent/internal/domain/user"
	"github.com/Strob0t/AutoAgent/internal/middleware"
	"github.com/Strob0t/AutoAgent/internal/port/database"
	"github.com/Strob0t/AutoAgent/internal/service"
)

// Handlers holds the services the HTTP surface delegates to.
type Handlers struct {
	Auth      *service.AuthService
	Agents    *service.AgentService
	Tasks     *service.TaskService
	Memory    *service.MemoryService
	Schedules *service.SchedulerService
	Hub       *ws.Hub
	Store     database.Store
}

// --- Health ---

const healthTimeout = 2 * time.Second

// Health reports liveness plus database reachability.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := h.Store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "ok"})
}

// --- Auth ---

// Register creates an account and returns its first access token.
func (h *Handlers) Register(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.CreateRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Auth.Register(r.Context(), &req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, res)
}

// Login exchanges credentials for an access token.
func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[user.LoginRequest](w, r)
	if !ok {
		return
	}
	res, err := h.Auth.Login(r.Context(), &req)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Me returns the authenticated user.
func (h *Handlers) Me(w http.ResponseWriter, r *http.Request) {
	u, err := h.Auth.GetUser(r.Context(), middleware.UserID(r.Context()))
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, u)
}

// --- Agents ---

const defaultLedgerPage = 50

// AgentLedger lists the agent's on-chain ledger entries, newest first.
// An optional ?limit= caps the page.
func (h *Handlers) AgentLedger(w http.ResponseWriter, r *http.Request) {
	limit := defaultLedgerPage
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "VALIDATION_ERROR", "limit must be a positive integer")
			return
		}
		limit = n
	}
	entries, err := h.Agents.Ledger(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeDomainError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, orEmpty[ledger.Entry](entries))
}

// --- WebSocket ---

// ServeWS upgrades the request and registers the connection for the
// caller's events.
func (h *Handlers) ServeWS(w http.ResponseWriter, r *http.Request) {
	h.Hub.Serve(w, r, middleware.UserID(r.Context()))
}
