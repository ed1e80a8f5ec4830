package integration

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	httpapi "github.com/Sentinel-Gate/infragate/internal/adapter/inbound/http"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/demo"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/executor"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
	"github.com/Sentinel-Gate/infragate/internal/domain/capability"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/domain/redact"
	"github.com/Sentinel-Gate/infragate/internal/domain/session"
	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
	"github.com/Sentinel-Gate/infragate/internal/service"
	"github.com/Sentinel-Gate/infragate/pkg/client"
)

const registryYAML = `
version: 3.0.0
roles:
  assistant:
    - tool:list_pods
    - tool:list_deployments
    - tool:get_logs
    - tool:restart_deployment
    - tool:scale_deployment
    - tool:run_query
    - gateway:end_session
  oncall:
    - tool:list_pods
    - tool:run_query
    - gateway:confirm
    - gateway:audit
`

// Raw keys for the two test identities.
const (
	agentKey  = "agent-key-7f3a"
	oncallKey = "oncall-key-19bc"
)

var (
	agent  = &auth.Identity{ID: "desk-agent", Name: "Desktop assistant", Role: "assistant"}
	oncall = &auth.Identity{ID: "oncall-sre", Name: "On-call SRE", Role: "oncall"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// stack is a fully wired gateway over in-memory stores and the demo
// backends, served by the real HTTP transport.
type stack struct {
	gateway *service.Gateway
	queries *service.QueryService
	audit   *memory.MemoryAuditStore
	cluster *demo.Cluster
	catalog *proposal.Catalog
	server  *httptest.Server
}

func newStack(t *testing.T) *stack {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	logger := testLogger()

	reg, err := capability.Parse([]byte(registryYAML))
	if err != nil {
		t.Fatalf("Parse() error: %v", err)
	}
	catalog := proposal.DefaultCatalog()

	authStore := memory.NewAuthStore()
	for _, id := range []*auth.Identity{agent, oncall} {
		authStore.AddIdentity(id)
	}
	authStore.AddKey(&auth.APIKey{Key: auth.HashKey(agentKey), IdentityID: agent.ID, Name: "agent"})
	authStore.AddKey(&auth.APIKey{Key: auth.HashKey(oncallKey), IdentityID: oncall.ID, Name: "oncall"})
	authn := auth.NewAPIKeyService(authStore)

	promReg := prometheus.NewRegistry()
	metrics := service.NewMetrics(promReg)
	stats := service.NewStatsService()

	store := memory.NewAuditStore()
	auditSvc := service.NewAuditService(store, reg, logger, service.WithAuditMetrics(metrics))

	tracker := memory.NewConfirmationTracker(memory.WithTrackerLogger(logger))
	tracker.StartCleanup(ctx)
	t.Cleanup(tracker.Stop)

	db := demo.NewDatabase()
	cluster := demo.NewCluster()
	router := executor.NewRouter(logger)
	if err := router.Register(executor.NewSchemaTools(db), executor.SchemaActions...); err != nil {
		t.Fatal(err)
	}
	if err := router.Register(cluster, demo.ClusterActions...); err != nil {
		t.Fatal(err)
	}

	sessionStore := memory.NewSessionStore()
	sessionStore.StartCleanup(ctx)
	t.Cleanup(sessionStore.Stop)

	redactor := redact.New()
	gw, err := service.NewGateway(service.GatewayDeps{
		Registry:  reg,
		Catalog:   catalog,
		Tracker:   tracker,
		Validator: validation.NewRuleValidator(),
		Audit:     auditSvc,
		Executor:  router,
		Sessions:  session.NewSessionService(sessionStore, session.Config{}),
	}, logger,
		service.WithRedactor(redactor),
		service.WithMetrics(metrics),
		service.WithStats(stats),
	)
	if err != nil {
		t.Fatalf("NewGateway() error: %v", err)
	}
	queries := service.NewQueryService(reg, db, logger,
		service.WithQueryRedactor(redactor),
		service.WithQueryAudit(auditSvc),
		service.WithQueryStats(stats),
	)

	api := httpapi.NewAPI(gw, queries, auditSvc, catalog, stats)
	transport := httpapi.NewHTTPTransport(api, authn,
		httpapi.WithLogger(logger),
		httpapi.WithRegistry(promReg),
	)
	server := httptest.NewServer(transport.Handler())
	t.Cleanup(server.Close)

	return &stack{
		gateway: gw,
		queries: queries,
		audit:   store,
		cluster: cluster,
		catalog: catalog,
		server:  server,
	}
}

// client returns a REST client authenticated with key.
func (s *stack) client(key string) *client.Client {
	return client.New(
		client.WithBaseURL(s.server.URL),
		client.WithAPIKey(key),
		client.WithHTTPClient(s.server.Client()),
		client.WithLogger(testLogger()),
	)
}
