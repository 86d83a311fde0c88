package config

import "fmt"

// Overrides carries command-line values that take precedence over every
// other source. Nil fields are left untouched.
type Overrides struct {
	ConfigPath *string
	Port       *string
	LogLevel   *string
	DSN        *string
	NatsURL    *string
}

// LoadWithOverrides loads defaults < YAML < ENV < CLI and returns the
// config together with the YAML path that was consulted.
func LoadWithOverrides(o Overrides) (*Config, string, error) {
	path := DefaultConfigFile
	if o.ConfigPath != nil && *o.ConfigPath != "" {
		path = *o.ConfigPath
	}

	cfg := Defaults()
	if err := loadYAML(&cfg, path); err != nil {
		return nil, path, fmt.Errorf("config yaml: %w", err)
	}
	loadEnv(&cfg)
	applyOverrides(&cfg, o)

	if err := validate(&cfg); err != nil {
		return nil, path, fmt.Errorf("config validate: %w", err)
	}
	return &cfg, path, nil
}

func applyOverrides(cfg *Config, o Overrides) {
	if o.Port != nil {
		cfg.Server.Port = *o.Port
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.DSN != nil {
		cfg.Postgres.DSN = *o.DSN
	}
	if o.NatsURL != nil {
		cfg.NATS.URL = *o.NatsURL
	}
}
