package middleware_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/Strob0t/AutoAgent/internal/domain/user"
	"github.com/Strob0t/AutoAgent/internal/middleware"
)

// fakeTokens accepts exactly one token.
type fakeTokens struct{ valid string }

func (f fakeTokens) ValidateAccessToken(tok string) (*user.TokenClaims, error) {
	if tok != f.valid {
		return nil, errors.New("bad token")
	}
	return &user.TokenClaims{UserID: "u-1", Email: "a@example.com"}, nil
}

func serve(t *testing.T, req *http.Request) (*httptest.ResponseRecorder, string) {
	t.Helper()
	var seen string
	handler := middleware.Auth(fakeTokens{valid: "good"})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = middleware.UserID(r.Context())
		w.WriteHeader(http.StatusOK)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	return rec, seen
}

func TestAuth(t *testing.T) {
	tests := []struct {
		name     string
		path     string
		header   string
		wantCode int
		wantUser string
	}{
		{name: "public health", path: "/health", wantCode: http.StatusOK},
		{name: "public login", path: "/auth/login", wantCode: http.StatusOK},
		{name: "missing header", path: "/agents", wantCode: http.StatusUnauthorized},
		{name: "not bearer", path: "/agents", header: "Basic abc", wantCode: http.StatusUnauthorized},
		{name: "empty bearer", path: "/agents", header: "Bearer ", wantCode: http.StatusUnauthorized},
		{name: "bad token", path: "/agents", header: "Bearer nope", wantCode: http.StatusUnauthorized},
		{name: "valid token", path: "/agents", header: "Bearer good", wantCode: http.StatusOK, wantUser: "u-1"},
		{name: "ws query token", path: "/ws?token=good", wantCode: http.StatusOK, wantUser: "u-1"},
		{name: "ws bad query token", path: "/ws?token=nope", wantCode: http.StatusUnauthorized},
		{name: "query token outside ws", path: "/agents?token=good", wantCode: http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, http.NoBody)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec, got := serve(t, req)
			if rec.Code != tt.wantCode {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantCode)
			}
			if got != tt.wantUser {
				t.Errorf("user = %q, want %q", got, tt.wantUser)
			}
			if rec.Code == http.StatusUnauthorized && rec.Header().Get("Content-Type") != "application/json" {
				t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
			}
		})
	}
}

func TestUserFromContextEmpty(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", http.NoBody)
	if middleware.UserFromContext(req.Context()) != nil || middleware.UserID(req.Context()) != "" {
		t.Error("expected no user in a bare context")
	}
	ctx := middleware.WithUser(req.Context(), &user.TokenClaims{UserID: "x"})
	if middleware.UserID(ctx) != "x" {
		t.Error("WithUser did not store the caller")
	}
}
