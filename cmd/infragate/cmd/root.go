// Package cmd provides the CLI commands for InfraGate.
package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/infragate/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "infragate",
	Short: "InfraGate - mediation gateway for infrastructure assistants",
	Long: `InfraGate sits between an AI assistant and production infrastructure.

Every action the assistant proposes is checked against the caller's role,
held for explicit human confirmation when it changes anything, re-checked
by an independent validator, executed, and written to an audit trail.
Data queries are accepted only when they are provably read-only, and
personal data is masked in every result.

Quick start:
  1. Create a config file: infragate.yaml
  2. Run: infragate serve

Configuration:
  Config is loaded from infragate.yaml in the current directory,
  $HOME/.infragate/, or /etc/infragate/.

  Environment variables can override config values with the INFRAGATE_ prefix.
  Example: INFRAGATE_SERVER_HTTP_ADDR=:9090

Commands:
  serve         Start the REST gateway
  mcp           Serve the gateway to an agent over MCP stdio
  classify      Classify a statement as read-only or mutating
  audit export  Export audit records as JSON lines
  check-config  Validate the configuration and capability registry
  hash-key      Generate a hash for an API key
  version       Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./infragate.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}

// loadConfig loads, dev-defaults and validates the configuration.
func loadConfig(dev bool) (*config.Config, error) {
	cfg, err := config.LoadConfigRaw()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if dev {
		cfg.DevMode = true
	}
	cfg.SetDevDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

// newLogger writes to stderr; stdout is reserved for MCP and exports.
// DevMode always forces debug.
func newLogger(cfg *config.Config) *slog.Logger {
	level := parseLogLevel(cfg.Server.LogLevel)
	if cfg.DevMode {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
