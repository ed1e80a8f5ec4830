package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Sentinel-Gate/infragate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/infragate/internal/config"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the REST gateway",
	Long: `Start the InfraGate REST gateway.

Agents submit proposals and queries over HTTP; humans confirm pending
proposals through the same API with their own key.

Examples:
  # Start with config file settings
  infragate serve

  # Start with the built-in dev identity (key: dev-api-key)
  infragate serve --dev

  # Start with a specific config file
  infragate --config /path/to/infragate.yaml serve`,
	RunE: runServe,
}

var serveDevMode bool

func init() {
	serveCmd.Flags().BoolVar(&serveDevMode, "dev", false, "Enable development mode (debug logging, built-in identity and registry)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(serveDevMode)
	if err != nil {
		return err
	}

	// stop() restores default signal handling so a second Ctrl+C does a hard kill.
	ctx, stop := signal.NotifyContext(cmd.Context(), gracefulSignals()...)
	go func() {
		<-ctx.Done()
		stop()
	}()

	logger := newLogger(cfg)
	if configFile := config.ConfigFileUsed(); configFile != "" {
		logger.Info("loaded config", "file", configFile)
	}
	if cfg.DevMode {
		logger.Warn("dev mode enabled: built-in identity and key are active, do not expose this instance")
	}

	if err := serve(ctx, cfg, logger); err != nil {
		return err
	}
	logger.Info("infragate stopped")
	return nil
}

// serve wires the gateway and blocks serving HTTP until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	a, err := buildApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	// The health checker only reports the tracker when it is in-process.
	var tracker http.SessionCounter
	if a.memTracker != nil {
		tracker = a.memTracker
	}
	healthChecker := http.NewHealthChecker(a.audit, tracker, a.sessionStore, a.rateLimiter, Version)

	opts := []http.Option{
		http.WithAddr(cfg.Server.HTTPAddr),
		http.WithLogger(logger),
		http.WithHealthChecker(healthChecker),
		http.WithRegistry(a.promRegistry),
		http.WithAllowedOrigins(cfg.Server.AllowedOrigins),
	}
	if cfg.Server.TLSCertFile != "" {
		opts = append(opts, http.WithTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile))
	}

	api := http.NewAPI(a.gateway, a.queries, a.audit, a.catalog, a.stats)
	transport := http.NewHTTPTransport(api, a.authn, opts...)

	logger.Info("infragate starting",
		"version", Version,
		"dev_mode", cfg.DevMode,
		"http_addr", cfg.Server.HTTPAddr,
		"registry_version", a.registry.Version(),
		"actions", len(a.catalog.Names()),
		"confirmation_backend", cfg.Confirmation.Backend,
		"audit_backend", cfg.Audit.Backend,
		"executor", cfg.Executor.Mode,
		"rate_limit", cfg.RateLimit.Enabled,
	)
	printBanner(cfg, len(a.catalog.Names()), len(a.registry.Roles()))

	return transport.Start(ctx)
}

func printBanner(cfg *config.Config, actionCount, roleCount int) {
	const (
		reset  = "\033[0m"
		bold   = "\033[1m"
		cyan   = "\033[36m"
		green  = "\033[32m"
		yellow = "\033[33m"
		dim    = "\033[2m"
	)

	scheme := "http"
	if cfg.Server.TLSCertFile != "" {
		scheme = "https"
	}
	addr := cfg.Server.HTTPAddr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}

	modeStr := green + "production" + reset
	if cfg.DevMode {
		modeStr = yellow + "development" + reset + dim + " (key: " + config.DevAPIKey + ")" + reset
	}

	fmt.Fprintf(os.Stderr, "\n")
	fmt.Fprintf(os.Stderr, "  %s%s InfraGate %s%s\n", bold, cyan, Version, reset)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "  %-14s %s://%s/v1/\n", "API:", scheme, addr)
	fmt.Fprintf(os.Stderr, "  %-14s %s://%s/healthz\n", "Health:", scheme, addr)
	fmt.Fprintf(os.Stderr, "  %-14s %s\n", "Mode:", modeStr)
	fmt.Fprintf(os.Stderr, "  %-14s %d mediated\n", "Actions:", actionCount)
	fmt.Fprintf(os.Stderr, "  %-14s %d configured\n", "Roles:", roleCount)
	fmt.Fprintf(os.Stderr, "  %s─────────────────────────────────────%s\n", dim, reset)
	fmt.Fprintf(os.Stderr, "\n")
}
