package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Strob0t/AutoAgent/internal/adapter/ethereum"
	"github.com/Strob0t/AutoAgent/internal/adapter/gemini"
	aahttp "github.com/Strob0t/AutoAgent/internal/adapter/http"
	aanats "github.com/Strob0t/AutoAgent/internal/adapter/nats"
	"github.com/Strob0t/AutoAgent/internal/adapter/natskv"
	aaotel "github.com/Strob0t/AutoAgent/internal/adapter/otel"
	"github.com/Strob0t/AutoAgent/internal/adapter/postgres"
	"github.com/Strob0t/AutoAgent/internal/adapter/ristretto"
	"github.com/Strob0t/AutoAgent/internal/adapter/tiered"
	"github.com/Strob0t/AutoAgent/internal/adapter/ws"
	"github.com/Strob0t/AutoAgent/internal/config"
	"github.com/Strob0t/AutoAgent/internal/middleware"
	"github.com/Strob0t/AutoAgent/internal/port/cache"
	"github.com/Strob0t/AutoAgent/internal/port/messagequeue"
	"github.com/Strob0t/AutoAgent/internal/resilience"
	"github.com/Strob0t/AutoAgent/internal/secrets"
	"github.com/Strob0t/AutoAgent/internal/service"
)

const (
	shutdownTimeout = 15 * time.Second
	balanceBucket   = "autoagent_balances"
)

func newServeCmd(f *cliFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, scheduler and event relay",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, closer, err := loadConfig(cmd, f)
			if err != nil {
				return err
			}
			defer closer.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg)
		},
	}
}

func serve(ctx context.Context, cfg *config.Config) error {
	slog.Info("starting autoagent",
		"port", cfg.Server.Port,
		"log_level", cfg.Logging.Level,
		"pg_max_conns", cfg.Postgres.MaxConns,
	)

	// --- Observability ---

	otelShutdown, err := aaotel.Init(ctx, cfg.OTEL)
	if err != nil {
		return fmt.Errorf("otel: %w", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := otelShutdown(sctx); err != nil {
			slog.Warn("otel shutdown", "error", err)
		}
	}()
	metrics, err := aaotel.NewMetrics()
	if err != nil {
		return fmt.Errorf("metrics: %w", err)
	}

	// --- Secrets ---

	vault, err := secrets.NewVault(secretLoader(cfg))
	if err != nil {
		return fmt.Errorf("secrets: %w", err)
	}
	sealer, err := newSealer(vault)
	if err != nil {
		return err
	}

	// --- Infrastructure ---

	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	slog.Info("postgres connected")

	if err := postgres.RunMigrations(ctx, cfg.Postgres.DSN); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}
	slog.Info("migrations applied")

	// A nil interface, not a nil *aanats.Queue, when the bus is disabled.
	var (
		queue messagequeue.Queue
		nq    *aanats.Queue
	)
	if cfg.NATS.URL != "" {
		nq, err = aanats.Connect(ctx, cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("nats: %w", err)
		}
		defer func() {
			if err := nq.Drain(); err != nil {
				slog.Warn("nats drain", "error", err)
			}
		}()
		queue = nq
	} else {
		slog.Warn("nats url not set, events go straight to websocket clients")
	}

	l1, err := ristretto.New(cfg.Cache.L1MaxSizeMB)
	if err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	defer l1.Close()
	var balances cache.Cache = l1
	if nq != nil && cfg.Wallet.BalanceCacheTTL > 0 {
		l2, err := natskv.Open(ctx, nq.JetStream(), balanceBucket, cfg.Wallet.BalanceCacheTTL)
		if err != nil {
			return fmt.Errorf("balance cache: %w", err)
		}
		balances = tiered.New(l1, l2, cfg.Wallet.BalanceCacheTTL)
	}

	chain, err := ethereum.Dial(ctx, cfg.Chain)
	if err != nil {
		return fmt.Errorf("chain: %w", err)
	}
	defer chain.Close()

	store := postgres.NewStore(pool)
	wallet := ethereum.NewWallet(chain, sealer, balances, cfg.Wallet.BalanceCacheTTL)
	recorder, err := ethereum.NewRecorder(chain, store, sealer, cfg.Chain,
		resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout))
	if err != nil {
		return fmt.Errorf("ledger recorder: %w", err)
	}

	geminiCfg := cfg.Gemini
	geminiCfg.APIKey = vault.Get(secrets.KeyGeminiAPIKey)
	oracle, err := gemini.New(ctx, geminiCfg,
		resilience.NewBreaker(cfg.Breaker.MaxFailures, cfg.Breaker.Timeout, gemini.BreakerOption()), metrics)
	if err != nil {
		return fmt.Errorf("oracle: %w", err)
	}

	// --- Services ---

	defaultLimit, _ := cfg.Agent.SpendingLimit() // validated by config
	ceiling, _ := cfg.Agent.SingleSpendCeiling()

	hub := ws.NewHub(cfg.Server.CORSOrigin)
	notifier := service.NewNotifier(queue, hub)
	authSvc := service.NewAuthService(store, cfg.Auth, vault)
	agentSvc := service.NewAgentService(store, wallet, notifier, defaultLimit)
	budgetSvc := service.NewBudgetService(store, wallet, ceiling)
	memorySvc := service.NewMemoryService(store, oracle, cfg.Agent.MemoryWindow)
	taskSvc := service.NewTaskService(store, oracle, budgetSvc, memorySvc, notifier)
	taskSvc.SetRecorder(recorder)
	taskSvc.SetMetrics(metrics)
	schedulerSvc := service.NewSchedulerService(store, taskSvc, cfg.Scheduler)

	if queue != nil {
		stopRelay, err := service.RelayEvents(ctx, queue, hub)
		if err != nil {
			return fmt.Errorf("event relay: %w", err)
		}
		defer stopRelay()
	}

	// --- HTTP ---

	limiter := middleware.NewRateLimiterFromConfig(cfg.Rate)
	handlers := &aahttp.Handlers{
		Auth:      authSvc,
		Agents:    agentSvc,
		Tasks:     taskSvc,
		Memory:    memorySvc,
		Schedules: schedulerSvc,
		Hub:       hub,
		Store:     store,
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(aahttp.Logger)
	r.Use(aaotel.HTTPMiddleware(cfg.OTEL.ServiceName))
	r.Use(aahttp.SecurityHeaders)
	r.Use(aahttp.CORS(cfg.Server.CORSOrigin))
	r.Use(middleware.Auth(authSvc))
	r.Use(limiter.Handler)
	aahttp.MountRoutes(r, handlers, cfg.Server.RequestTimeout)

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// --- Lifecycle ---

	if cfg.Scheduler.Enabled {
		if err := schedulerSvc.Start(ctx); err != nil {
			return fmt.Errorf("scheduler: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})

	g.Go(func() error {
		limiter.RunCleanup(gctx, cfg.Rate.CleanupInterval, cfg.Rate.MaxIdleTime)
		return nil
	})

	if cfg.Scheduler.Enabled {
		g.Go(func() error {
			<-gctx.Done()
			schedulerSvc.Stop()
			return nil
		})
	}

	g.Go(func() error {
		reloadOnHangup(gctx, vault)
		return nil
	})

	return g.Wait()
}

// secretLoader merges values from the config file with the environment;
// the environment wins.
func secretLoader(cfg *config.Config) secrets.Loader {
	fromConfig := func() (map[string]string, error) {
		return map[string]string{
			secrets.KeyJWTSecret:    cfg.Auth.JWTSecret,
			secrets.KeyGeminiAPIKey: cfg.Gemini.APIKey,
			secrets.KeyWalletAgeKey: cfg.Wallet.AgeIdentity,
		}, nil
	}
	return secrets.Merge(fromConfig, secrets.EnvLoader(
		secrets.KeyJWTSecret,
		secrets.KeyGeminiAPIKey,
		secrets.KeyWalletAgeKey,
	))
}

// newSealer opens the wallet key identity. Without one an ephemeral
// identity is generated and keys of agents created now are unreadable
// after a restart.
func newSealer(vault *secrets.Vault) (*secrets.Sealer, error) {
	identity := vault.Get(secrets.KeyWalletAgeKey)
	if identity == "" {
		id, recipient, err := secrets.GenerateIdentity()
		if err != nil {
			return nil, fmt.Errorf("generate wallet identity: %w", err)
		}
		slog.Warn("wallet age identity not set, using an ephemeral identity", "recipient", recipient)
		identity = id
	}
	sealer, err := secrets.NewSealer(identity)
	if err != nil {
		return nil, fmt.Errorf("wallet identity: %w", err)
	}
	return sealer, nil
}

// reloadOnHangup re-reads secrets on SIGHUP until ctx ends.
func reloadOnHangup(ctx context.Context, vault *secrets.Vault) {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return
		case <-hup:
			if err := vault.Reload(); err != nil {
				slog.Error("secret reload failed", "error", err)
				continue
			}
			slog.Info("secrets reloaded", "keys", vault.Keys())
		}
	}
}
