// Command autoagent runs the AutoAgent core service and its maintenance
// commands.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/Strob0t/AutoAgent/internal/config"
	"github.com/Strob0t/AutoAgent/internal/logger"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

// cliFlags holds the persistent flags that override configuration.
type cliFlags struct {
	configPath string
	port       string
	logLevel   string
	dsn        string
	natsURL    string
}

func newRootCmd() *cobra.Command {
	var flags cliFlags

	root := &cobra.Command{
		Use:           "autoagent",
		Short:         "AutoAgent core: budget-constrained autonomous agents",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	pf := root.PersistentFlags()
	pf.StringVar(&flags.configPath, "config", config.DefaultConfigFile, "path to the YAML config file")
	pf.StringVar(&flags.port, "port", "", "HTTP listen port")
	pf.StringVar(&flags.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	pf.StringVar(&flags.dsn, "dsn", "", "PostgreSQL connection string")
	pf.StringVar(&flags.natsURL, "nats-url", "", "NATS server URL (empty disables the event bus)")

	root.AddCommand(
		newServeCmd(&flags),
		newMigrateCmd(&flags),
		newAdminCmd(&flags),
		newKeygenCmd(),
	)
	return root
}

// loadConfig resolves the configuration and installs the default logger.
// Only flags set on the command line override file and environment values.
func loadConfig(cmd *cobra.Command, f *cliFlags) (*config.Config, logger.Closer, error) {
	o := config.Overrides{ConfigPath: &f.configPath}
	set := func(name string, v *string) *string {
		if cmd.Flags().Changed(name) {
			return v
		}
		return nil
	}
	o.Port = set("port", &f.port)
	o.LogLevel = set("log-level", &f.logLevel)
	o.DSN = set("dsn", &f.dsn)
	o.NatsURL = set("nats-url", &f.natsURL)

	cfg, path, err := config.LoadWithOverrides(o)
	if err != nil {
		return nil, nil, fmt.Errorf("config: %w", err)
	}

	log, closer := logger.New(cfg.Logging)
	slog.SetDefault(log)
	slog.Debug("config loaded", "file", path)
	return cfg, closer, nil
}
