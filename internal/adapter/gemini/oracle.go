// Package gemini implements the decision oracle port on Google's Gemini API.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
	"google.golang.org/genai"

	"github.com/Strob0t/AutoAgent/internal/adapter/otel"
	"github.com/Strob0t/AutoAgent/internal/config"
	"github.com/Strob0t/AutoAgent/internal/domain"
	"github.com/Strob0t/AutoAgent/internal/domain/decision"
	"github.com/Strob0t/AutoAgent/internal/domain/memory"
	"github.com/Strob0t/AutoAgent/internal/resilience"
)

const chatMaxOutputTokens = 2048

// generator is the subset of *genai.Models the oracle uses.
type generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Oracle implements oracle.Oracle.
type Oracle struct {
	gen     generator
	model   string
	timeout time.Duration
	retries uint
	breaker *resilience.Breaker
	metrics *otel.Metrics
}

// New creates an Oracle. An empty API key yields an oracle that refuses
// every call, so the server can still start without model access.
func New(ctx context.Context, cfg config.Gemini, breaker *resilience.Breaker, metrics *otel.Metrics) (*Oracle, error) {
	o := &Oracle{
		model:   cfg.Model,
		timeout: cfg.Timeout,
		retries: cfg.MaxRetries,
		breaker: breaker,
		metrics: metrics,
	}
	if cfg.APIKey == "" {
		slog.Warn("gemini api key not set, oracle disabled")
		return o, nil
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("gemini client: %w", err)
	}
	o.gen = client.Models
	slog.Info("gemini oracle ready", "model", cfg.Model)
	return o, nil
}

// Analyze asks the model whether and how the task may run.
func (o *Oracle) Analyze(ctx context.Context, in decision.Input) (*decision.Analysis, error) {
	text, err := o.generate(ctx, "analyze", genai.Text(analysisPrompt(in)), jsonConfig())
	if err != nil {
		return nil, err
	}
	a, err := decode[decision.Analysis](text)
	if err != nil {
		slog.Error("gemini analysis unparseable", "error", err, "text", text)
		return nil, err
	}
	return a, nil
}

// Execute asks the model to carry out the task.
func (o *Oracle) Execute(ctx context.Context, in decision.Input) (*decision.Outcome, error) {
	text, err := o.generate(ctx, "execute", genai.Text(executionPrompt(in)), jsonConfig())
	if err != nil {
		return nil, err
	}
	out, err := decode[decision.Outcome](text)
	if err != nil {
		slog.Error("gemini outcome unparseable", "error", err, "text", text)
		return nil, err
	}
	return out, nil
}

// Chat answers message in the persona of agentName given prior turns.
func (o *Oracle) Chat(ctx context.Context, agentName string, history []decision.ChatTurn, message string) (string, error) {
	contents := make([]*genai.Content, 0, len(history)+1)
	for _, t := range history {
		contents = append(contents, genai.NewContentFromText(t.Content, chatRole(t.Role)))
	}
	contents = append(contents, genai.NewContentFromText(message, genai.RoleUser))

	cfg := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(chatSystemPrompt(agentName), genai.RoleUser),
		MaxOutputTokens:   chatMaxOutputTokens,
	}
	return o.generate(ctx, "chat", contents, cfg)
}

// chatRole maps stored memory roles onto the two roles the API accepts.
func chatRole(role string) genai.Role {
	if memory.Role(role) == memory.RoleAssistant {
		return genai.RoleModel
	}
	return genai.RoleUser
}

func jsonConfig() *genai.GenerateContentConfig {
	return &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		Temperature:      genai.Ptr[float32](0.2),
	}
}

func (o *Oracle) generate(ctx context.Context, op string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (text string, err error) {
	if o.gen == nil {
		return "", domain.Errorf(domain.ErrOracle, "AI oracle is not configured. Set GEMINI_API_KEY.")
	}

	ctx, span := otel.StartOracleSpan(ctx, op, o.model)
	defer span.End()
	if o.metrics != nil {
		defer func() { o.metrics.OracleCall(ctx, op, err) }()
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	text, err = backoff.Retry(ctx, func() (string, error) {
		out, err := resilience.Call(o.breaker, func() (string, error) {
			resp, err := o.gen.GenerateContent(ctx, o.model, contents, cfg)
			if err != nil {
				return "", err
			}
			return resp.Text(), nil
		})
		if err == nil {
			return out, nil
		}
		if errors.Is(err, resilience.ErrCircuitOpen) || !retryable(err) {
			return "", backoff.Permanent(err)
		}
		return "", err
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(o.retries+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			slog.Warn("gemini call failed, retrying", "op", op, "in", next, "error", err)
		}),
	)
	if err != nil {
		span.RecordError(err)
		return "", classify(err)
	}
	if text == "" {
		return "", domain.Errorf(domain.ErrOracle, "AI returned an empty response")
	}
	return text, nil
}

func apiStatus(err error) (int, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v.Code, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return p.Code, true
	}
	return 0, false
}

// retryable reports whether err is worth another attempt: rate limiting,
// server errors and transport failures.
func retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	code, ok := apiStatus(err)
	if !ok {
		return !errors.Is(err, context.DeadlineExceeded)
	}
	return code == http.StatusTooManyRequests || code >= http.StatusInternalServerError
}

// tripsBreaker is the breaker predicate: only faults on the provider side count.
func tripsBreaker(err error) bool {
	return retryable(err)
}

// BreakerOption returns the failure predicate the oracle's breaker should use.
func BreakerOption() resilience.Option {
	return resilience.WithFailurePredicate(tripsBreaker)
}

func classify(err error) error {
	if errors.Is(err, resilience.ErrCircuitOpen) {
		return domain.Errorf(domain.ErrOracle, "AI service is temporarily unavailable. Please try again later.")
	}
	switch code, _ := apiStatus(err); code {
	case http.StatusNotFound:
		return domain.Errorf(domain.ErrOracle, "Gemini API key is invalid or model not found. Please check your GEMINI_API_KEY.")
	case http.StatusForbidden:
		return domain.Errorf(domain.ErrOracle, "Gemini API access denied. Please verify your API key permissions.")
	case http.StatusTooManyRequests:
		return domain.Errorf(domain.ErrOracle, "Gemini API rate limit exceeded. Please try again later.")
	}
	return fmt.Errorf("%w: %w", domain.ErrOracle, err)
}
