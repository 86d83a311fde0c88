package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the path checked for YAML configuration.
const DefaultConfigFile = "autoagent.yaml"

// minJWTSecretLen is the shortest accepted HMAC secret.
const minJWTSecretLen = 32

// Load returns a Config using the hierarchy: defaults < YAML < ENV.
// YAML file is optional; missing file is not an error.
func Load() (*Config, error) {
	return LoadFrom(DefaultConfigFile)
}

// LoadFrom returns a Config loaded from the given YAML path using the
// hierarchy: defaults < YAML < ENV. The YAML file is optional.
func LoadFrom(yamlPath string) (*Config, error) {
	cfg := Defaults()

	if err := loadYAML(&cfg, yamlPath); err != nil {
		return nil, fmt.Errorf("config yaml: %w", err)
	}

	loadEnv(&cfg)

	if err := validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validate: %w", err)
	}

	return &cfg, nil
}

// loadYAML reads the YAML file and unmarshals it over cfg.
// Returns nil if the file does not exist.
func loadYAML(cfg *Config, path string) error {
	data, err := os.ReadFile(path) //nolint:gosec // G304: path is validated by caller
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}

	return nil
}

// loadEnv overlays environment variables onto cfg.
// Only non-empty env values override the current config.
func loadEnv(cfg *Config) {
	setString(&cfg.Server.Port, "PORT")
	setString(&cfg.Server.CORSOrigin, "CORS_ORIGIN")
	setDuration(&cfg.Server.RequestTimeout, "AUTOAGENT_REQUEST_TIMEOUT")
	setString(&cfg.Postgres.DSN, "DATABASE_URL")
	setInt32(&cfg.Postgres.MaxConns, "AUTOAGENT_PG_MAX_CONNS")
	setInt32(&cfg.Postgres.MinConns, "AUTOAGENT_PG_MIN_CONNS")
	setDuration(&cfg.Postgres.MaxConnLifetime, "AUTOAGENT_PG_MAX_CONN_LIFETIME")
	setDuration(&cfg.Postgres.MaxConnIdleTime, "AUTOAGENT_PG_MAX_CONN_IDLE_TIME")
	setDuration(&cfg.Postgres.HealthCheck, "AUTOAGENT_PG_HEALTH_CHECK")
	setString(&cfg.NATS.URL, "NATS_URL")

	// Oracle
	setString(&cfg.Gemini.APIKey, "GEMINI_API_KEY")
	setString(&cfg.Gemini.Model, "GEMINI_MODEL")
	setDuration(&cfg.Gemini.Timeout, "AUTOAGENT_GEMINI_TIMEOUT")
	setUint(&cfg.Gemini.MaxRetries, "AUTOAGENT_GEMINI_MAX_RETRIES")

	// Chain
	setString(&cfg.Chain.RPCURL, "POLYGON_RPC_URL")
	setInt64(&cfg.Chain.ChainID, "CHAIN_ID")
	setString(&cfg.Chain.ContractAddress, "CONTRACT_ADDRESS")
	setDuration(&cfg.Chain.ReceiptTimeout, "AUTOAGENT_RECEIPT_TIMEOUT")
	setString(&cfg.Wallet.AgeIdentity, "WALLET_AGE_IDENTITY")
	setDuration(&cfg.Wallet.BalanceCacheTTL, "AUTOAGENT_BALANCE_CACHE_TTL")

	// Agent
	setString(&cfg.Agent.DefaultSpendingLimit, "DEFAULT_SPENDING_LIMIT")
	setString(&cfg.Agent.MaxSingleSpend, "AUTOAGENT_MAX_SINGLE_SPEND")
	setInt(&cfg.Agent.MemoryWindow, "AUTOAGENT_MEMORY_WINDOW")

	// Auth
	setString(&cfg.Auth.JWTSecret, "JWT_SECRET")
	setDuration(&cfg.Auth.AccessTokenExpiry, "JWT_EXPIRES_IN")
	setInt(&cfg.Auth.BcryptCost, "AUTOAGENT_BCRYPT_COST")

	setString(&cfg.Logging.Level, "AUTOAGENT_LOG_LEVEL")
	setString(&cfg.Logging.Service, "AUTOAGENT_LOG_SERVICE")
	setBool(&cfg.Logging.Async, "AUTOAGENT_LOG_ASYNC")
	setInt(&cfg.Breaker.MaxFailures, "AUTOAGENT_BREAKER_MAX_FAILURES")
	setDuration(&cfg.Breaker.Timeout, "AUTOAGENT_BREAKER_TIMEOUT")
	setFloat64(&cfg.Rate.RequestsPerSecond, "AUTOAGENT_RATE_RPS")
	setInt(&cfg.Rate.Burst, "AUTOAGENT_RATE_BURST")
	setDuration(&cfg.Rate.CleanupInterval, "AUTOAGENT_RATE_CLEANUP_INTERVAL")
	setDuration(&cfg.Rate.MaxIdleTime, "AUTOAGENT_RATE_MAX_IDLE_TIME")

	// Scheduler
	setBool(&cfg.Scheduler.Enabled, "AUTOAGENT_SCHEDULER_ENABLED")
	setString(&cfg.Scheduler.CleanupCron, "AUTOAGENT_CLEANUP_CRON")
	setDuration(&cfg.Scheduler.Retention, "AUTOAGENT_TASK_RETENTION")

	setInt64(&cfg.Cache.L1MaxSizeMB, "AUTOAGENT_CACHE_L1_SIZE_MB")

	// OTEL
	setString(&cfg.OTEL.Endpoint, "OTEL_EXPORTER_OTLP_ENDPOINT")
	setString(&cfg.OTEL.ServiceName, "OTEL_SERVICE_NAME")
	setBool(&cfg.OTEL.Insecure, "AUTOAGENT_OTEL_INSECURE")
	setFloat64(&cfg.OTEL.SampleRate, "AUTOAGENT_OTEL_SAMPLE_RATE")
}

// validate checks that required fields are set.
func validate(cfg *Config) error {
	if cfg.Server.Port == "" {
		return errors.New("server.port is required")
	}
	if cfg.Postgres.DSN == "" {
		return errors.New("postgres.dsn is required")
	}
	if cfg.Postgres.MaxConns < 1 {
		return errors.New("postgres.max_conns must be >= 1")
	}
	if cfg.Breaker.MaxFailures < 1 {
		return errors.New("breaker.max_failures must be >= 1")
	}
	if cfg.Rate.Burst < 1 {
		return errors.New("rate.burst must be >= 1")
	}
	if cfg.Auth.JWTSecret != "" && len(cfg.Auth.JWTSecret) < minJWTSecretLen {
		return fmt.Errorf("auth.jwt_secret must be at least %d characters", minJWTSecretLen)
	}
	if cfg.Agent.MemoryWindow < 1 {
		return errors.New("agent.memory_window must be >= 1")
	}
	if _, err := cfg.Agent.SpendingLimit(); err != nil {
		return fmt.Errorf("agent.default_spending_limit: %w", err)
	}
	if _, err := cfg.Agent.SingleSpendCeiling(); err != nil {
		return fmt.Errorf("agent.max_single_spend: %w", err)
	}
	if cfg.Scheduler.Enabled {
		if _, err := cron.ParseStandard(cfg.Scheduler.CleanupCron); err != nil {
			return fmt.Errorf("scheduler.cleanup_cron: %w", err)
		}
	}
	return nil
}

// SpendingLimit parses DefaultSpendingLimit as a non-negative amount.
func (a Agent) SpendingLimit() (decimal.Decimal, error) {
	return parseAmount(a.DefaultSpendingLimit)
}

// SingleSpendCeiling parses MaxSingleSpend as a non-negative amount.
func (a Agent) SingleSpendCeiling() (decimal.Decimal, error) {
	return parseAmount(a.MaxSingleSpend)
}

func parseAmount(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid amount %q", s)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount %s must be >= 0", s)
	}
	return d, nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setUint(dst *uint, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			*dst = uint(n)
		}
	}
}

func setInt32(dst *int32, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 32); err == nil {
			*dst = int32(n)
		}
	}
}

func setFloat64(dst *float64, key string) {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// setDuration accepts Go durations ("90s") and the day shorthand used by
// JWT_EXPIRES_IN ("7d").
func setDuration(dst *time.Duration, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n := len(v); n > 1 && v[n-1] == 'd' {
		if days, err := strconv.Atoi(v[:n-1]); err == nil && days > 0 {
			*dst = time.Duration(days) * 24 * time.Hour
		}
	}
}
