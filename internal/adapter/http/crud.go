package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/AutoAgent/internal/middleware"
)

// ---------------------------------------------------------------------------
// Generic handler factories. Every resource is scoped to the authenticated
// caller, whose ID is passed to the service as userID.
// ---------------------------------------------------------------------------

// handleList creates a handler that lists the caller's resources.
func handleList[T any](listFn func(ctx context.Context, userID string) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := listFn(r.Context(), middleware.UserID(r.Context()))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(items))
	}
}

// handleListByParam creates a handler that lists resources scoped by a URL parameter.
func handleListByParam[T any](param string, listFn func(ctx context.Context, userID, paramVal string) ([]T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		items, err := listFn(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, param))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, orEmpty(items))
	}
}

// handleGet creates a handler that acts on a single resource by URL param
// "id" and returns it. It serves plain reads as well as body-less actions.
func handleGet[T any](getFn func(ctx context.Context, userID, id string) (*T, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		item, err := getFn(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, item)
	}
}

// handleCreate creates a handler that decodes a JSON body and creates a resource.
func handleCreate[Req any, Res any](createFn func(ctx context.Context, userID string, req *Req) (*Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[Req](w, r)
		if !ok {
			return
		}
		res, err := createFn(r.Context(), middleware.UserID(r.Context()), &req)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, http.StatusCreated, res)
	}
}

// handleWithBody creates a handler that decodes a JSON body and applies it
// to the resource named by URL param "id", answering with status.
func handleWithBody[Req any, Res any](status int, fn func(ctx context.Context, userID, id string, req *Req) (*Res, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, ok := readJSON[Req](w, r)
		if !ok {
			return
		}
		res, err := fn(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id"), &req)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, status, res)
	}
}

// handleDelete creates a handler that deletes a resource by URL param "id".
func handleDelete(deleteFn func(ctx context.Context, userID, id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deleteFn(r.Context(), middleware.UserID(r.Context()), chi.URLParam(r, "id")); err != nil {
			writeDomainError(w, r, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

func orEmpty[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
