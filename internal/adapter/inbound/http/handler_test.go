package http

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/demo"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/executor"
	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/memory"
	"github.com/Sentinel-Gate/infragate/internal/domain/audit"
	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
	"github.com/Sentinel-Gate/infragate/internal/domain/capability"
	"github.com/Sentinel-Gate/infragate/internal/domain/mediation"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/domain/session"
	"github.com/Sentinel-Gate/infragate/internal/domain/validation"
	"github.com/Sentinel-Gate/infragate/internal/service"
)

const testRegistryYAML = `
version: 1.0.0
roles:
  viewer:
    - tool:list_pods
    - tool:run_query
  sre-admin:
    - tool:list_pods
    - tool:restart_deployment
    - tool:scale_deployment
    - tool:run_query
    - gateway:confirm
    - gateway:audit
    - gateway:end_session
`

const (
	viewerKey = "igk_viewer_0123456789"
	adminKey  = "igk_admin_0123456789"
)

// discardLogger returns a logger that discards all output (for tests)
func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// apiHarness serves the full handler chain over an in-memory gateway.
type apiHarness struct {
	handler http.Handler
	store   *memory.MemoryAuditStore
	cluster *demo.Cluster
}

func newAPIHarness(t *testing.T) *apiHarness {
	t.Helper()
	logger := discardLogger()

	reg, err := capability.Parse([]byte(testRegistryYAML))
	if err != nil {
		t.Fatal(err)
	}
	store := memory.NewAuditStore()
	cluster := demo.NewCluster()
	router := executor.NewRouter(logger)
	if err := router.Register(cluster, demo.ClusterActions...); err != nil {
		t.Fatal(err)
	}
	auditSvc := service.NewAuditService(store, reg, logger)
	stats := service.NewStatsService()
	gw, err := service.NewGateway(service.GatewayDeps{
		Registry:  reg,
		Catalog:   proposal.DefaultCatalog(),
		Tracker:   memory.NewConfirmationTracker(),
		Validator: validation.NewRuleValidator(),
		Audit:     auditSvc,
		Executor:  router,
		Sessions:  session.NewSessionService(memory.NewSessionStore(), session.Config{}),
	}, logger, service.WithStats(stats))
	if err != nil {
		t.Fatal(err)
	}
	queries := service.NewQueryService(reg, demo.NewDatabase(), logger, service.WithQueryAudit(auditSvc))

	authStore := memory.NewAuthStore()
	authStore.AddIdentity(&auth.Identity{ID: "dashboard", Name: "Dashboard", Role: "viewer"})
	authStore.AddIdentity(&auth.Identity{ID: "oncall", Name: "On-call", Role: "sre-admin"})
	authStore.AddKey(&auth.APIKey{Key: auth.HashKey(viewerKey), IdentityID: "dashboard", Name: "viewer"})
	authStore.AddKey(&auth.APIKey{Key: auth.HashKey(adminKey), IdentityID: "oncall", Name: "admin"})

	api := NewAPI(gw, queries, auditSvc, gw.Catalog(), stats)
	transport := NewHTTPTransport(api, auth.NewAPIKeyService(authStore),
		WithLogger(logger),
		WithRegistry(prometheus.NewRegistry()),
		WithHealthChecker(NewHealthChecker(auditSvc, nil, nil, nil, "test")),
	)
	return &apiHarness{handler: transport.Handler(), store: store, cluster: cluster}
}

func (h *apiHarness) do(t *testing.T, method, path, key string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if key != "" {
		req.Header.Set("Authorization", "Bearer "+key)
	}
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	return rec
}

func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) mediation.Result {
	t.Helper()
	var res mediation.Result
	if err := json.Unmarshal(rec.Body.Bytes(), &res); err != nil {
		t.Fatalf("decode result: %v (body %s)", err, rec.Body.String())
	}
	return res
}

func restartBody(sessionID string) map[string]any {
	return map[string]any{
		"action":        proposal.ActionRestartDeployment,
		"arguments":     map[string]any{"name": "payment-service"},
		"session_id":    sessionID,
		"justification": "pods are crash looping",
	}
}

func TestAPI_RequiresAuthentication(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name string
		key  string
	}{
		{"missing", ""},
		{"unknown", "igk_nope"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, http.MethodPost, "/v1/proposals", tt.key, restartBody("s-1"))
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("status = %d, want 401", rec.Code)
			}
			if rec.Header().Get("WWW-Authenticate") == "" {
				t.Error("missing WWW-Authenticate header")
			}
		})
	}
	if h.store.Len() != 0 {
		t.Error("unauthenticated requests must not reach the gateway")
	}
}

func TestAPI_ProposalHandshake(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/proposals", adminKey, restartBody("s-http"))
	if rec.Code != http.StatusAccepted {
		t.Fatalf("first submit status = %d, want 202 (body %s)", rec.Code, rec.Body.String())
	}
	pending := decodeResult(t, rec)
	if pending.Status != mediation.StatusPending || pending.ContentHash == "" {
		t.Fatalf("first submit = %+v", pending)
	}

	rec = h.do(t, http.MethodPost, "/v1/confirmations", adminKey, mediation.ConfirmationSignal{
		SessionID: "s-http", ContentHash: pending.ContentHash, Affirmative: true,
	})
	var conf ConfirmationResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &conf); err != nil || !conf.Confirmed {
		t.Fatalf("confirm = %d %s", rec.Code, rec.Body.String())
	}

	rec = h.do(t, http.MethodPost, "/v1/proposals", adminKey, restartBody("s-http"))
	if rec.Code != http.StatusOK {
		t.Fatalf("second submit status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if res := decodeResult(t, rec); res.Status != mediation.StatusExecuted {
		t.Fatalf("second submit = %s/%s", res.Status, res.Reason)
	}
	if d, _ := h.cluster.Deployment("default", "payment-service"); d.RestartedAt == nil {
		t.Error("deployment was not restarted")
	}
}

func TestAPI_UnauthorizedRoleIsBlockedResult(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/proposals", viewerKey, restartBody("s-viewer"))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	res := decodeResult(t, rec)
	if res.Status != mediation.StatusBlocked || res.Reason != mediation.ReasonUnauthorizedRole {
		t.Errorf("result = %s/%s", res.Status, res.Reason)
	}
}

func TestAPI_ServiceErrorMapping(t *testing.T) {
	h := newAPIHarness(t)

	tests := []struct {
		name   string
		method string
		path   string
		key    string
		body   any
		want   int
	}{
		{"bad session id", http.MethodPost, "/v1/proposals", adminKey, restartBody("bad id"), http.StatusBadRequest},
		{"confirm without capability", http.MethodPost, "/v1/confirmations", viewerKey,
			mediation.ConfirmationSignal{SessionID: "s-1", ContentHash: "x", Affirmative: true}, http.StatusForbidden},
		{"audit without capability", http.MethodGet, "/v1/audit", viewerKey, nil, http.StatusForbidden},
		{"end session without capability", http.MethodDelete, "/v1/sessions/s-1", viewerKey, nil, http.StatusForbidden},
		{"unknown field", http.MethodPost, "/v1/proposals", adminKey, map[string]any{"verb": "restart"}, http.StatusBadRequest},
		{"bad audit range", http.MethodGet, "/v1/audit?start=2026-01-02T00:00:00Z&end=2026-01-01T00:00:00Z", adminKey, nil, http.StatusBadRequest},
		{"bad outcome", http.MethodGet, "/v1/audit?outcome=maybe", adminKey, nil, http.StatusBadRequest},
		{"wrong method", http.MethodGet, "/v1/proposals", adminKey, nil, http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := h.do(t, tt.method, tt.path, tt.key, tt.body)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d (body %s)", rec.Code, tt.want, rec.Body.String())
			}
		})
	}
}

func TestAPI_QueryRejectedAndAllowed(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/queries", viewerKey, QueryRequest{
		SessionID: "s-q", Statement: "DELETE FROM orders",
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("mutating status = %d, want 422", rec.Code)
	}
	var rej RejectionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &rej); err != nil {
		t.Fatal(err)
	}
	if rej.Keyword != "DELETE" {
		t.Errorf("keyword = %q, want DELETE", rej.Keyword)
	}

	rec = h.do(t, http.MethodPost, "/v1/queries", viewerKey, QueryRequest{
		SessionID: "s-q", Statement: "SELECT email FROM customers LIMIT 1",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("read status = %d (body %s)", rec.Code, rec.Body.String())
	}
	if strings.Contains(rec.Body.String(), "@") {
		t.Errorf("email leaked: %s", rec.Body.String())
	}
}

func TestAPI_AuditList(t *testing.T) {
	h := newAPIHarness(t)
	h.do(t, http.MethodPost, "/v1/proposals", viewerKey, restartBody("s-a"))
	h.do(t, http.MethodPost, "/v1/proposals", viewerKey, restartBody("s-b"))

	rec := h.do(t, http.MethodGet, "/v1/audit?session=s-a&outcome=blocked", adminKey, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Records []audit.Record `json:"records"`
		Count   int            `json:"count"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Records[0].SessionID != "s-a" {
		t.Errorf("records = %+v", body.Records)
	}
	if body.Records[0].RequestID == "" {
		t.Error("audit record lacks request id")
	}

	rec = h.do(t, http.MethodGet, "/v1/audit?limit=1&offset=1", adminKey, nil)
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body.Count != 1 || body.Records[0].SessionID != "s-b" {
		t.Errorf("second page = %+v, want the s-b record", body.Records)
	}
	if rec := h.do(t, http.MethodGet, "/v1/audit?offset=-1", adminKey, nil); rec.Code != http.StatusBadRequest {
		t.Errorf("negative offset status = %d, want 400", rec.Code)
	}
}

func TestAPI_SessionLifecycle(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodPost, "/v1/sessions/s-life/messages", adminKey, MessageRequest{Text: "yes, restart it"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("message status = %d (body %s)", rec.Code, rec.Body.String())
	}
	rec = h.do(t, http.MethodDelete, "/v1/sessions/s-life", adminKey, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("end session status = %d (body %s)", rec.Code, rec.Body.String())
	}
}

func TestAPI_ActionsAndStats(t *testing.T) {
	h := newAPIHarness(t)

	rec := h.do(t, http.MethodGet, "/v1/actions", viewerKey, nil)
	var actions []ActionResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &actions); err != nil {
		t.Fatal(err)
	}
	var found bool
	for _, a := range actions {
		if a.Name == proposal.ActionScaleDeployment {
			found = true
			if !a.Mutating || len(a.Schema) == 0 {
				t.Errorf("scale_deployment = %+v", a)
			}
		}
	}
	if !found {
		t.Error("scale_deployment missing from catalog listing")
	}

	h.do(t, http.MethodPost, "/v1/proposals", viewerKey, restartBody("s-stats"))
	rec = h.do(t, http.MethodGet, "/v1/stats", viewerKey, nil)
	var stats service.Stats
	if err := json.Unmarshal(rec.Body.Bytes(), &stats); err != nil {
		t.Fatal(err)
	}
	if stats.Blocked != 1 || stats.Reasons[mediation.ReasonUnauthorizedRole] != 1 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestAPI_HealthAndMetricsSkipAuth(t *testing.T) {
	h := newAPIHarness(t)

	for _, path := range []string{"/healthz", "/metrics"} {
		rec := h.do(t, http.MethodGet, path, "", nil)
		if rec.Code != http.StatusOK {
			t.Errorf("%s status = %d, want 200", path, rec.Code)
		}
	}
}

func TestAPI_RequestIDPropagated(t *testing.T) {
	h := newAPIHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil).WithContext(context.Background())
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	h.handler.ServeHTTP(rec, req)
	if got := rec.Header().Get("X-Request-ID"); got != "req-42" {
		t.Errorf("X-Request-ID = %q, want req-42", got)
	}
}
