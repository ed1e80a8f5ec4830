package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	goredis "github.com/redis/go-redis/v9"

	auditstore "github.com/Sentinel-Gate/infragate/internal/adapter/outbound/audit"
	celrules "github.com/Sentinel-Gate/infragate/internal/adapter/outbound/cel"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/demo"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/executor"
	mcpupstream "github.com/Sentinel-Gate/infragate/internal/adapter/outbound/mcp"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/postgres"
	redistracker "github.com/Sentinel-Gate/infragate/internal/adapter/outbound/redis"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/sqlite"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/infragate/internal/config"
	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
	"github.com/Sentinel-Gate/infragate/internal/domain/capability"
	"github.com/Sentinel-Gate/infragate/internal/domain/confirmation"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/domain/ratelimit"
	"github.com/Sentinel-Gate/infragate/internal/domain/redact"
	"github.com/Sentinel-Gate/infragate/internal/domain/session"
	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
	"github.com/Sentinel-Gate/infragate/internal/service"
	"github.com/Sentinel-Gate/infragate/internal/telemetry"
)

// app holds every wired component. It is shared by the serve and mcp
// commands so both transports mediate through the same stack.
type app struct {
	cfg    *config.Config
	logger *slog.Logger

	registry *capability.Registry
	catalog  *proposal.Catalog

	gateway *service.Gateway
	queries *service.QueryService
	audit   *service.AuditService
	stats   *service.StatsService
	authn   *auth.APIKeyService

	promRegistry *prometheus.Registry
	telemetry    *telemetry.Provider

	// Exposed to the health checker; nil when the backend is external.
	memTracker   *memory.ConfirmationTracker
	sessionStore *memory.MemorySessionStore
	rateLimiter  *memory.MemoryRateLimiter

	closers []func() error
}

// buildApp wires the gateway from cfg. Background cleanup goroutines are
// bound to ctx. Call Close when done.
func buildApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{cfg: cfg, logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	a.catalog = proposal.DefaultCatalog()

	// ===== Capability registry =====
	if cfg.Capabilities.Path != "" {
		a.registry, err = capability.LoadFile(cfg.Capabilities.Path)
		if err != nil {
			return nil, err
		}
	} else {
		a.registry, err = devRegistry(a.catalog)
		if err != nil {
			return nil, err
		}
		logger.Warn("no capabilities.path configured, using built-in dev registry")
	}
	if err := cfg.ValidateRoles(a.registry); err != nil {
		return nil, err
	}
	logger.Info("capability registry loaded",
		"version", a.registry.Version(),
		"roles", len(a.registry.Roles()),
	)

	// ===== Auth =====
	authStore := memory.NewAuthStore()
	seedAuthFromConfig(cfg, authStore)
	a.authn = auth.NewAPIKeyService(authStore)

	// ===== Telemetry and metrics =====
	a.telemetry, err = telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Tracing.Enabled,
		ServiceName:    "infragate",
		ServiceVersion: Version,
		SampleRate:     cfg.Tracing.SampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to start telemetry: %w", err)
	}
	a.closers = append(a.closers, func() error {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.telemetry.Shutdown(shutdownCtx)
	})

	a.promRegistry = prometheus.NewRegistry()
	a.promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := service.NewMetrics(a.promRegistry)
	a.stats = service.NewStatsService()

	// ===== Audit =====
	store, err := createAuditStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, store.Close)
	a.audit = service.NewAuditService(store, a.registry, logger, service.WithAuditMetrics(metrics))

	// ===== Confirmation tracker =====
	tracker, err := a.createTracker(ctx)
	if err != nil {
		return nil, err
	}

	// ===== Validator =====
	validator, err := createValidator(cfg)
	if err != nil {
		return nil, err
	}

	// ===== Executors =====
	inspector, err := a.createQueryExecutor(ctx)
	if err != nil {
		return nil, err
	}
	router, err := a.createRouter(inspector)
	if err != nil {
		return nil, err
	}

	// ===== Sessions and rate limiting =====
	a.sessionStore = memory.NewSessionStore()
	a.sessionStore.StartCleanup(ctx)
	a.closers = append(a.closers, func() error { a.sessionStore.Stop(); return nil })
	sessions := session.NewSessionService(a.sessionStore, session.Config{
		Timeout: config.Duration(cfg.Session.Timeout, 30*time.Minute),
	})

	redactor := redact.New(cfg.Redaction.ExtraColumns...)

	gatewayOpts := []service.GatewayOption{
		service.WithValidatorTimeout(config.Duration(cfg.Validator.Timeout, 5*time.Second)),
		service.WithRedactor(redactor),
		service.WithMetrics(metrics),
		service.WithStats(a.stats),
		service.WithTelemetry(a.telemetry),
	}
	if cfg.RateLimit.Enabled {
		a.rateLimiter = memory.NewRateLimiterWithConfig(
			config.Duration(cfg.RateLimit.CleanupInterval, 5*time.Minute),
			config.Duration(cfg.RateLimit.MaxTTL, time.Hour),
		)
		a.rateLimiter.StartCleanup(ctx)
		a.closers = append(a.closers, func() error { a.rateLimiter.Stop(); return nil })
		gatewayOpts = append(gatewayOpts, service.WithRateLimit(a.rateLimiter, ratelimit.Config{
			Rate:   cfg.RateLimit.Rate,
			Burst:  cfg.RateLimit.Burst,
			Period: config.Duration(cfg.RateLimit.Period, time.Minute),
		}))
	}

	a.gateway, err = service.NewGateway(service.GatewayDeps{
		Registry:  a.registry,
		Catalog:   a.catalog,
		Tracker:   tracker,
		Validator: validator,
		Audit:     a.audit,
		Executor:  router,
		Sessions:  sessions,
	}, logger, gatewayOpts...)
	if err != nil {
		return nil, err
	}

	a.queries = service.NewQueryService(a.registry, inspector, logger,
		service.WithQueryRedactor(redactor),
		service.WithQueryAudit(a.audit),
		service.WithQueryMetrics(metrics),
		service.WithQueryStats(a.stats),
		service.WithQueryTelemetry(a.telemetry),
	)

	return a, nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("error during shutdown", "error", err)
		}
	}
	a.closers = nil
}

// createTracker returns the configured confirmation tracker.
func (a *app) createTracker(ctx context.Context) (confirmation.Tracker, error) {
	cfg := a.cfg
	window := config.Duration(cfg.Confirmation.Window, confirmation.DefaultWindow)

	if cfg.Confirmation.Backend == "redis" {
		client := goredis.NewClient(&goredis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		t := redistracker.NewConfirmationTracker(client,
			redistracker.WithWindow(window),
			redistracker.WithPrefix(cfg.Redis.Prefix),
		)
		if err := t.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis %s unreachable: %w", cfg.Redis.Addr, err)
		}
		a.logger.Info("confirmation backend: redis", "addr", cfg.Redis.Addr, "window", window)
		return t, nil
	}

	a.memTracker = memory.NewConfirmationTracker(
		memory.WithWindow(window),
		memory.WithSweepInterval(config.Duration(cfg.Confirmation.SweepInterval, time.Minute)),
		memory.WithTrackerLogger(a.logger),
	)
	a.memTracker.StartCleanup(ctx)
	a.closers = append(a.closers, func() error { a.memTracker.Stop(); return nil })
	a.logger.Info("confirmation backend: memory", "window", window)
	return a.memTracker, nil
}

// queryBackend is satisfied by both the demo database and PostgreSQL.
type queryBackend interface {
	outbound.QueryExecutor
	outbound.SchemaInspector
}

// createQueryExecutor returns PostgreSQL when a DSN is configured, else the
// in-memory demo database.
func (a *app) createQueryExecutor(ctx context.Context) (queryBackend, error) {
	cfg := a.cfg.Query
	if cfg.PostgresDSN == "" {
		a.logger.Info("query backend: demo database")
		return demo.NewDatabase(), nil
	}
	pg, err := postgres.Open(ctx, cfg.PostgresDSN,
		postgres.WithMaxRows(cfg.MaxRows),
		postgres.WithStatementTimeout(config.Duration(cfg.StatementTimeout, 10*time.Second)),
		postgres.WithSlowThreshold(config.Duration(cfg.SlowThreshold, 500*time.Millisecond)),
	)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, pg.Close)
	a.logger.Info("query backend: postgres", "max_rows", cfg.MaxRows)
	return pg, nil
}

// createRouter registers every action executor. Schema actions always run
// against the query backend.
func (a *app) createRouter(inspector outbound.SchemaInspector) (*executor.Router, error) {
	router := executor.NewRouter(a.logger)
	if err := router.Register(executor.NewSchemaTools(inspector), executor.SchemaActions...); err != nil {
		return nil, err
	}

	switch a.cfg.Executor.Mode {
	case "webhook":
		hook := executor.NewWebhook(executor.WebhookConfig{
			URL:     a.cfg.Executor.Webhook.URL,
			Token:   a.cfg.Executor.Webhook.Token,
			Timeout: config.Duration(a.cfg.Executor.Webhook.Timeout, 30*time.Second),
		})
		actions := a.infraActions()
		if err := router.Register(hook, actions...); err != nil {
			return nil, err
		}
		a.logger.Info("executor: webhook", "url", a.cfg.Executor.Webhook.URL, "actions", len(actions))

	case "mcp":
		m := a.cfg.Executor.MCP
		factory := mcpupstream.HTTPTransport(m.URL, m.Token)
		target := m.URL
		if m.Command != "" {
			factory = mcpupstream.CommandTransport(m.Command, m.Args...)
			target = m.Command
		}
		upstream := mcpupstream.NewUpstream(factory,
			mcpupstream.WithCallTimeout(config.Duration(m.Timeout, mcpupstream.DefaultCallTimeout)),
			mcpupstream.WithClientVersion(Version),
			mcpupstream.WithLogger(a.logger),
		)
		a.closers = append(a.closers, upstream.Close)
		actions := a.infraActions()
		if err := router.Register(upstream, actions...); err != nil {
			return nil, err
		}
		a.logger.Info("executor: mcp upstream", "target", target, "actions", len(actions))

	default:
		var journal demo.JournalStore
		if path := a.cfg.Incidents.JournalPath; path != "" {
			journal = state.NewFileStore(path, a.logger)
		}
		for _, reg := range []struct {
			exec    outbound.Executor
			actions []string
		}{
			{demo.NewCluster(), demo.ClusterActions},
			{demo.NewMonitoring(), demo.MonitoringActions},
			{demo.NewIncidents(journal), demo.IncidentActions},
		} {
			if err := router.Register(reg.exec, reg.actions...); err != nil {
				return nil, err
			}
		}
		a.logger.Info("executor: demo", "actions", len(router.Actions()))
	}
	return router, nil
}

// infraActions are the catalog actions an external executor performs:
// everything except queries and schema inspection.
func (a *app) infraActions() []string {
	var actions []string
	for _, name := range a.catalog.Names() {
		if name == proposal.ActionRunQuery || isSchemaAction(name) {
			continue
		}
		actions = append(actions, name)
	}
	return actions
}

func isSchemaAction(name string) bool {
	for _, s := range executor.SchemaActions {
		if s == name {
			return true
		}
	}
	return false
}

// createAuditStore opens the configured audit backend.
func createAuditStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (audit.Store, error) {
	switch cfg.Audit.Backend {
	case "memory":
		logger.Debug("audit backend: memory", "stdout", cfg.Audit.Stdout)
		if cfg.Audit.Stdout {
			return memory.NewAuditStoreWithWriter(os.Stdout), nil
		}
		return memory.NewAuditStore(), nil

	case "file":
		logger.Debug("audit backend: file", "dir", cfg.Audit.Dir)
		return auditstore.NewFileStore(auditstore.FileConfig{
			Dir:           cfg.Audit.Dir,
			MaxFileSizeMB: cfg.Audit.MaxFileSizeMB,
		}, logger)

	case "sqlite":
		logger.Debug("audit backend: sqlite", "path", cfg.Audit.SQLitePath)
		return sqlite.Open(ctx, cfg.Audit.SQLitePath)

	default:
		return nil, fmt.Errorf("invalid audit backend: %s (must be memory, file or sqlite)", cfg.Audit.Backend)
	}
}

// createValidator builds the rule validator with any configured CEL rules.
func createValidator(cfg *config.Config) (*validation.RuleValidator, error) {
	opts := []validation.Option{validation.WithMaxReplicas(cfg.Validator.MaxReplicas)}
	if len(cfg.Validator.Rules) > 0 {
		ev, err := celrules.NewEvaluator()
		if err != nil {
			return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
		}
		ruleCfgs := make([]celrules.RuleConfig, len(cfg.Validator.Rules))
		for i, r := range cfg.Validator.Rules {
			ruleCfgs[i] = celrules.RuleConfig{Name: r.Name, Expression: r.Condition, Reason: r.Reason}
		}
		rules, err := ev.CompileRules(ruleCfgs)
		if err != nil {
			return nil, fmt.Errorf("validator rules: %w", err)
		}
		opts = append(opts, validation.WithRules(rules...))
	}
	return validation.NewRuleValidator(opts...), nil
}

// seedAuthFromConfig loads identities and API keys into the auth store.
func seedAuthFromConfig(cfg *config.Config, authStore *memory.AuthStore) {
	for _, identityCfg := range cfg.Auth.Identities {
		authStore.AddIdentity(&auth.Identity{
			ID:   identityCfg.ID,
			Name: identityCfg.Name,
			Role: identityCfg.Role,
		})
	}

	for _, keyCfg := range cfg.Auth.APIKeys {
		// Config stores "sha256:abc123", the store keys on the raw hex.
		authStore.AddKey(&auth.APIKey{
			Key:        strings.TrimPrefix(keyCfg.KeyHash, "sha256:"),
			IdentityID: keyCfg.IdentityID,
			Name:       keyCfg.Name,
			CreatedAt:  time.Now().UTC(),
		})
	}
}

// devRegistry grants "viewer" every read-only action and "sre-admin"
// every action plus all gateway capabilities.
func devRegistry(catalog *proposal.Catalog) (*capability.Registry, error) {
	var viewer, admin []capability.Capability
	for _, name := range catalog.Names() {
		c := capability.ForAction(name)
		admin = append(admin, c)
		if !catalog.IsMutating(name) {
			viewer = append(viewer, c)
		}
	}
	admin = append(admin, capability.Confirm, capability.AuditRead, capability.EndSession)
	viewer = append(viewer, capability.EndSession)
	return capability.NewRegistry(semver.MustParse("0.0.0-dev"), map[capability.Role][]capability.Capability{
		"viewer":    viewer,
		"sre-admin": admin,
	})
}
