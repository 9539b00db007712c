package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/trial-matcher-server/internal/app"
	"github.com/trial-matcher-server/internal/config"
	"github.com/trial-matcher-server/internal/domain"
)

var (
	// Used for flags.
	cfgFile string
	lite    bool
	dataDir string

	v = viper.New()

	rootCmd = &cobra.Command{
		Use:          "trialmatch",
		Short:        "trialmatch matches patients to recruiting clinical trials",
		SilenceUsage: true,
	}
)

// Execute executes the root command with ctx.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is config.yaml in ., ./config or /etc/trial-matcher)")
	rootCmd.PersistentFlags().BoolVar(&lite, "lite", false, "run without Postgres or Redis: in-memory trials, SQLite feedback")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "lite mode data directory (default $TRIAL_MATCHER_DATA_DIR or ~/.trial-matcher)")
	rootCmd.PersistentFlags().String("log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "", "log format (json, text)")

	mustBind("logging.level", rootCmd.PersistentFlags().Lookup("log-level"))
	mustBind("logging.format", rootCmd.PersistentFlags().Lookup("log-format"))

	rootCmd.AddCommand(serveCmd, mcpCmd, migrateCmd, ingestCmd, matchCmd, feedbackCmd, setupCmd)
}

// mustBind binds a flag to a config key. Unset flags leave the config value alone.
func mustBind(key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("binding flag for %s: %v", key, err))
	}
}

// loadConfig reads configuration, applies lite mode and validates.
func loadConfig() (*domain.Config, error) {
	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
	}
	manager, err := config.NewManagerWithViper(v)
	if err != nil {
		return nil, err
	}
	cfg := manager.GetConfig()

	// stdout is reserved for command output and the MCP stdio transport.
	cfg.Logging.Output = "stderr"

	if lite {
		if err := config.ApplyLite(cfg, dataDir); err != nil {
			return nil, fmt.Errorf("preparing lite mode: %w", err)
		}
	}
	if err := config.Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

// withApp loads config, wires the application and runs fn.
func withApp(ctx context.Context, fn func(ctx context.Context, a *app.App) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := app.NewLogger(cfg.Logging)

	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	return fn(ctx, a)
}
