package service

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/Strob0t/AutoAgent/internal/config"
	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/user"
	"github.com/Strob0t/AutoAgent/internal/port/database"
	"github.com/Strob0t/AutoAgent/internal/secrets"
)

const tokenIssuer = "autoagent-core"

// SecretSource yields named secrets; *secrets.Vault satisfies it.
type SecretSource interface {
	Get(key string) string
}

// accessClaims is the JWT payload of an access token.
type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// AuthService handles registration, login and access tokens.
type AuthService struct {
	store    database.Store
	cfg      config.Auth
	secrets  SecretSource
	fallback []byte
}

// NewAuthService creates an authentication service. The signing key is read
// from src on every use so a reloaded JWT_SECRET takes effect immediately.
// Without any configured secret a random one is generated; tokens then do
// not survive a restart.
func NewAuthService(store database.Store, cfg config.Auth, src SecretSource) *AuthService {
	s := &AuthService{store: store, cfg: cfg, secrets: src}
	if s.secret() == nil {
		s.fallback = make([]byte, 32)
		_, _ = rand.Read(s.fallback)
		slog.Warn("jwt secret not configured, using an ephemeral key")
	}
	return s
}

func (s *AuthService) secret() []byte {
	if s.secrets != nil {
		if v := s.secrets.Get(secrets.KeyJWTSecret); v != "" {
			return []byte(v)
		}
	}
	if s.cfg.JWTSecret != "" {
		return []byte(s.cfg.JWTSecret)
	}
	return s.fallback
}

// Register creates a user with a bcrypt-hashed password and logs them in.
func (s *AuthService) Register(ctx context.Context, req *user.CreateRequest) (*user.LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), s.cfg.BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	u, err := s.store.CreateUser(ctx, req.Email, string(hash))
	if err != nil {
		if errors.Is(err, domain.ErrConflict) {
			return nil, domain.Errorf(domain.ErrConflict, "User with this email already exists")
		}
		return nil, fmt.Errorf("create user: %w", err)
	}
	slog.Info("user registered", "user_id", u.ID)

	return s.issue(u)
}

// Login authenticates a user by email and password.
func (s *AuthService) Login(ctx context.Context, req *user.LoginRequest) (*user.LoginResponse, error) {
	if err := req.Validate(); err != nil {
		return nil, invalid(err)
	}

	u, err := s.store.GetUserByEmail(ctx, req.Email)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, errBadCredentials
		}
		return nil, fmt.Errorf("get user: %w", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(req.Password)); err != nil {
		return nil, errBadCredentials
	}
	slog.Info("user logged in", "user_id", u.ID)

	return s.issue(u)
}

var errBadCredentials = domain.Errorf(domain.ErrUnauthorized, "Invalid email or password")

func (s *AuthService) issue(u *user.User) (*user.LoginResponse, error) {
	tok, err := s.signJWT(u)
	if err != nil {
		return nil, fmt.Errorf("sign jwt: %w", err)
	}
	return &user.LoginResponse{
		AccessToken: tok,
		ExpiresIn:   int(s.cfg.AccessTokenExpiry.Seconds()),
		User:        *u,
	}, nil
}

func (s *AuthService) signJWT(u *user.User) (string, error) {
	now := time.Now()
	claims := accessClaims{
		Email: u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.cfg.AccessTokenExpiry)),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret())
}

// ValidateAccessToken verifies a JWT and returns its identity.
func (s *AuthService) ValidateAccessToken(tokenStr string) (*user.TokenClaims, error) {
	var claims accessClaims
	_, err := jwt.ParseWithClaims(tokenStr, &claims, func(*jwt.Token) (any, error) {
		return s.secret(), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		slog.Debug("token verification failed", "error", err)
		return nil, domain.Errorf(domain.ErrUnauthorized, "Invalid or expired token")
	}
	if claims.Subject == "" {
		return nil, domain.Errorf(domain.ErrUnauthorized, "Invalid or expired token")
	}
	return &user.TokenClaims{UserID: claims.Subject, Email: claims.Email}, nil
}

// GetUser returns a user by ID.
func (s *AuthService) GetUser(ctx context.Context, id string) (*user.User, error) {
	u, err := s.store.GetUser(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, domain.Errorf(domain.ErrNotFound, "User not found")
		}
		return nil, fmt.Errorf("get user %s: %w", id, err)
	}
	return u, nil
}

// CreateUser registers a user without issuing a token. Used by the admin CLI.
func (s *AuthService) CreateUser(ctx context.Context, req *user.CreateRequest) (*user.User, error) {
	resp, err := s.Register(ctx, req)
	if err != nil {
		return nil, err
	}
	return &resp.User, nil
}

// ListUsers returns every registered user.
func (s *AuthService) ListUsers(ctx context.Context) ([]user.User, error) {
	return s.store.ListUsers(ctx)
}
