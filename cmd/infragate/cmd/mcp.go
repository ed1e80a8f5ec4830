package cmd

import (
	"errors"
	"fmt"
	"os"
	"os/signal"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/infragate/internal/adapter/inbound/mcp"
	"github.com/Sentinel-Gate/infragate/internal/config"
)

// errNoAPIKey is returned when the mcp command has no key to act as.
var errNoAPIKey = errors.New("INFRAGATE_API_KEY is not set")

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Serve the gateway to an agent over MCP stdio",
	Long: `Serve the gateway as an MCP server on stdin/stdout.

The server acts as the identity owning INFRAGATE_API_KEY for every tool
call. Confirmations normally come from a human through the REST API; the
confirm_action tool only works when that identity holds gateway:confirm.

Example MCP client entry:
  {"command": "infragate", "args": ["mcp"], "env": {"INFRAGATE_API_KEY": "..."}}`,
	RunE: runMCP,
}

var mcpDevMode bool

func init() {
	mcpCmd.Flags().BoolVar(&mcpDevMode, "dev", false, "Enable development mode (built-in identity and registry)")
	rootCmd.AddCommand(mcpCmd)
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(mcpDevMode)
	if err != nil {
		return err
	}
	// stdout carries the MCP stream; audit mirroring would corrupt it.
	cfg.Audit.Stdout = false

	rawKey := os.Getenv("INFRAGATE_API_KEY")
	if rawKey == "" && cfg.DevMode {
		rawKey = config.DevAPIKey
	}
	if rawKey == "" {
		return errNoAPIKey
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	defer stop()

	logger := newLogger(cfg)
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	caller, err := a.authn.Validate(ctx, rawKey)
	if err != nil {
		return fmt.Errorf("INFRAGATE_API_KEY rejected: %w", err)
	}

	server, err := mcp.New(mcp.Deps{
		Mediator: a.gateway,
		Queries:  a.queries,
		Catalog:  a.catalog,
	}, caller, Version, logger)
	if err != nil {
		return err
	}
	return server.Run(ctx)
}
