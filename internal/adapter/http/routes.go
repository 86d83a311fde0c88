package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
)

// MountRoutes registers all API routes on the given chi router. Auth and
// rate limiting are applied by the caller; requestTimeout bounds every
// route except the WebSocket stream.
func MountRoutes(r chi.Router, h *Handlers, requestTimeout time.Duration) {
	r.Get("/health", h.Health)
	r.Get("/ws", h.ServeWS)

	r.Group(func(r chi.Router) {
		if requestTimeout > 0 {
			r.Use(chimw.Timeout(requestTimeout))
		}

		// Auth (register and login are exempt from the auth middleware)
		r.Post("/auth/register", h.Register)
		r.Post("/auth/login", h.Login)
		r.Get("/auth/me", h.Me)

		// Agents
		r.Post("/agents/create", handleCreate(h.Agents.Create))
		r.Get("/agents", handleList(h.Agents.List))
		r.Get("/agents/{id}", handleGet(h.Agents.Get))
		r.Delete("/agents/{id}", handleDelete(h.Agents.Delete))
		r.Patch("/agents/{id}/spending-limit", handleWithBody(http.StatusOK, h.Agents.UpdateSpendingLimit))
		r.Patch("/agents/{id}/status", handleWithBody(http.StatusOK, h.Agents.SetActive))
		r.Get("/agents/{id}/ledger", h.AgentLedger)

		// Conversational memory (nested under agents)
		r.Post("/agents/{id}/chat", handleWithBody(http.StatusOK, h.Memory.Chat))
		r.Delete("/agents/{id}/memory", handleDelete(h.Memory.Clear))

		// Scheduled tasks (nested under agents + direct access)
		r.Post("/agents/{id}/schedules", handleWithBody(http.StatusCreated, h.Schedules.Create))
		r.Get("/agents/{id}/schedules", handleListByParam("id", h.Schedules.List))
		r.Delete("/schedules/{id}", handleDelete(h.Schedules.Delete))

		// Tasks
		r.Post("/tasks/create", handleCreate(h.Tasks.Create))
		r.Post("/tasks/{id}/execute", handleGet(h.Tasks.Execute))
		r.Post("/tasks/{id}/retry", handleGet(h.Tasks.Retry))
		r.Get("/tasks/{id}", handleGet(h.Tasks.Get))
		r.Get("/tasks/agent/{agentId}", handleListByParam("agentId", h.Tasks.ListByAgent))
	})
}
