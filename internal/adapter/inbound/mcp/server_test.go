package mcp

import (
	"context"
	"io"
	"log/slog"
	"sort"
	"strings"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

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
)

const testRegistryYAML = `
version: 1.0.0
roles:
  assistant:
    - tool:list_pods
    - tool:restart_deployment
    - tool:scale_deployment
    - tool:run_query
    - gateway:confirm
    - gateway:end_session
  readonly:
    - tool:list_pods
`

var (
	assistant = &auth.Identity{ID: "desktop-agent", Role: "assistant"}
	readonly  = &auth.Identity{ID: "viewer-agent", Role: "readonly"}
)

func newTestServer(t *testing.T, caller *auth.Identity) (*Server, *demo.Cluster) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	reg, err := capability.Parse([]byte(testRegistryYAML))
	if err != nil {
		t.Fatal(err)
	}
	cluster := demo.NewCluster()
	router := executor.NewRouter(logger)
	if err := router.Register(cluster, demo.ClusterActions...); err != nil {
		t.Fatal(err)
	}
	auditSvc := service.NewAuditService(memory.NewAuditStore(), reg, logger)
	gw, err := service.NewGateway(service.GatewayDeps{
		Registry:  reg,
		Catalog:   proposal.DefaultCatalog(),
		Tracker:   memory.NewConfirmationTracker(),
		Validator: validation.NewRuleValidator(),
		Audit:     auditSvc,
		Executor:  router,
		Sessions:  session.NewSessionService(memory.NewSessionStore(), session.Config{}),
	}, logger)
	if err != nil {
		t.Fatal(err)
	}

	s, err := New(Deps{
		Mediator: gw,
		Queries:  service.NewQueryService(reg, demo.NewDatabase(), logger),
		Catalog:  gw.Catalog(),
	}, caller, "test", logger)
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return s, cluster
}

func TestNew_RequiresIdentity(t *testing.T) {
	if _, err := New(Deps{}, nil, "test", slog.Default()); err != ErrNoIdentity {
		t.Errorf("New() error = %v, want ErrNoIdentity", err)
	}
}

func TestProposeConfirmExecute(t *testing.T) {
	s, cluster := newTestServer(t, assistant)
	ctx := context.Background()
	input := ProposeInput{
		Action:        proposal.ActionRestartDeployment,
		Arguments:     map[string]any{"name": "payment-service"},
		SessionID:     "mcp-1",
		Justification: "payment-service is crash looping",
	}

	result, out, err := s.handlePropose(ctx, &mcpsdk.CallToolRequest{}, input)
	if err != nil {
		t.Fatalf("propose error: %v", err)
	}
	if result != nil && result.IsError {
		t.Fatal("pending proposal reported as error")
	}
	if out.Status != "pending" || out.ContentHash == "" {
		t.Fatalf("first proposal = %+v", out)
	}

	_, conf, err := s.handleConfirm(ctx, &mcpsdk.CallToolRequest{}, ConfirmInput{
		SessionID: "mcp-1", ContentHash: out.ContentHash, Affirmative: true, Message: "yes, restart it",
	})
	if err != nil || !conf.Confirmed {
		t.Fatalf("confirm = %+v, %v", conf, err)
	}

	_, out, err = s.handlePropose(ctx, &mcpsdk.CallToolRequest{}, input)
	if err != nil {
		t.Fatal(err)
	}
	if out.Status != "executed" {
		t.Fatalf("second proposal = %+v", out)
	}
	if d, _ := cluster.Deployment("default", "payment-service"); d.RestartedAt == nil {
		t.Error("deployment was not restarted")
	}
}

func TestConfirmRequiresVerbatimMessage(t *testing.T) {
	s, _ := newTestServer(t, assistant)
	_, _, err := s.handleConfirm(context.Background(), &mcpsdk.CallToolRequest{}, ConfirmInput{
		SessionID: "mcp-2", ContentHash: "abc", Affirmative: true,
	})
	if err == nil || !strings.Contains(err.Error(), "verbatim") {
		t.Errorf("error = %v, want verbatim message requirement", err)
	}
}

func TestProposeBlockedIsToolError(t *testing.T) {
	s, _ := newTestServer(t, readonly)
	result, out, err := s.handlePropose(context.Background(), &mcpsdk.CallToolRequest{}, ProposeInput{
		Action:    proposal.ActionRestartDeployment,
		Arguments: map[string]any{"name": "payment-service"},
		SessionID: "mcp-3",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || !result.IsError {
		t.Error("blocked proposal should be a tool error")
	}
	if out.Status != "blocked" || out.Reason != "unauthorized_role" {
		t.Errorf("output = %+v", out)
	}
}

func TestRunQuery(t *testing.T) {
	s, _ := newTestServer(t, assistant)
	ctx := context.Background()

	result, out, err := s.handleQuery(ctx, &mcpsdk.CallToolRequest{}, QueryInput{
		SessionID: "mcp-q", Statement: "UPDATE orders SET status = 'x'",
	})
	if err != nil {
		t.Fatal(err)
	}
	if result == nil || !result.IsError || !out.Rejected {
		t.Errorf("mutating statement: result = %+v, out = %+v", result, out)
	}

	_, out, err = s.handleQuery(ctx, &mcpsdk.CallToolRequest{}, QueryInput{
		SessionID: "mcp-q", Statement: "SELECT * FROM customers",
	})
	if err != nil {
		t.Fatal(err)
	}
	if out.RowCount != 2 || out.Rows[0][1] != redact.Mask {
		t.Errorf("rows = %v", out.Rows)
	}
}

func TestListToolsOverTransport(t *testing.T) {
	s, _ := newTestServer(t, assistant)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	clientTransport, serverTransport := mcpsdk.NewInMemoryTransports()
	serverSession, err := s.Connect(ctx, serverTransport)
	if err != nil {
		t.Fatal(err)
	}
	defer serverSession.Close()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "test-client", Version: "0"}, nil)
	cs, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer cs.Close()

	tools, err := cs.ListTools(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	sort.Strings(names)
	want := []string{"confirm_action", "end_session", "list_actions", "propose_action", "run_query"}
	if strings.Join(names, ",") != strings.Join(want, ",") {
		t.Errorf("tools = %v, want %v", names, want)
	}
}
