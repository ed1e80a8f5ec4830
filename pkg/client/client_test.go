package client

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(h)
	t.Cleanup(server.Close)
	return New(
		WithBaseURL(server.URL),
		WithAPIKey("test-key"),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestPropose_Executed(t *testing.T) {
	var received Proposal
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/proposals" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("Authorization = %q", got)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("decode body: %v", err)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":       "executed",
			"message":      "executed",
			"content_hash": "abc",
			"proposal_id":  "p-1",
			"output":       map[string]any{"pods": 3},
		})
	})

	res, err := c.Propose(context.Background(), Proposal{
		Action:    "list_pods",
		Arguments: map[string]any{"namespace": "default"},
		SessionID: "s-1",
	})
	if err != nil {
		t.Fatalf("Propose() error: %v", err)
	}
	if res.Status != StatusExecuted || res.ProposalID != "p-1" {
		t.Errorf("result = %+v", res)
	}
	if received.Action != "list_pods" || received.SessionID != "s-1" {
		t.Errorf("server received %+v", received)
	}
	var out map[string]int
	if err := json.Unmarshal(res.Output, &out); err != nil || out["pods"] != 3 {
		t.Errorf("output = %s", res.Output)
	}
}

func TestPropose_OutcomesAreResults(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   map[string]any
		want   Status
	}{
		{"pending", http.StatusAccepted, map[string]any{"status": "pending", "reason": "confirmation_required", "content_hash": "h1"}, StatusPending},
		{"blocked", http.StatusOK, map[string]any{"status": "blocked", "reason": "unauthorized_role"}, StatusBlocked},
		{"failed", http.StatusOK, map[string]any{"status": "failed", "reason": "execution_failed", "error": "boom"}, StatusFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				writeJSON(w, tt.status, tt.body)
			})
			res, err := c.Propose(context.Background(), Proposal{Action: "restart_deployment", SessionID: "s"})
			if err != nil {
				t.Fatalf("Propose() error: %v", err)
			}
			if res.Status != tt.want {
				t.Errorf("status = %s, want %s", res.Status, tt.want)
			}
		})
	}
}

func TestPropose_AuditFailureReturnsResultAndError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":  "blocked",
			"reason":  "audit_write_failed",
			"message": "audit store unavailable",
		})
	})

	res, err := c.Propose(context.Background(), Proposal{Action: "scale_deployment", SessionID: "s"})
	var apiErr *APIError
	if !errors.As(err, &apiErr) || apiErr.StatusCode != http.StatusServiceUnavailable {
		t.Fatalf("err = %v, want 503 APIError", err)
	}
	if res == nil || res.Reason != "audit_write_failed" {
		t.Errorf("result = %+v, want audit_write_failed", res)
	}
}

func TestPropose_PendingIsNotConfirmed(t *testing.T) {
	var proposals, confirms atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/v1/proposals":
			proposals.Add(1)
			writeJSON(w, http.StatusAccepted, map[string]any{"status": "pending", "content_hash": "h1"})
		default:
			confirms.Add(1)
			writeJSON(w, http.StatusOK, map[string]bool{"confirmed": true})
		}
	})

	res, err := c.Propose(context.Background(), Proposal{Action: "restart_deployment", SessionID: "s-1"})
	if err != nil {
		t.Fatalf("Propose() error: %v", err)
	}
	if res.Status != StatusPending || res.ContentHash != "h1" {
		t.Errorf("result = %+v, want pending h1", res)
	}
	if proposals.Load() != 1 || confirms.Load() != 0 {
		t.Errorf("proposals = %d, other requests = %d; a pending proposal must wait for the human", proposals.Load(), confirms.Load())
	}
}

func TestConfirm(t *testing.T) {
	tests := []struct {
		name        string
		affirmative bool
		accepted    bool
	}{
		{"accepted", true, true},
		{"declined", false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method != http.MethodPost || r.URL.Path != "/v1/confirmations" {
					t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
				}
				var sig Confirmation
				_ = json.NewDecoder(r.Body).Decode(&sig)
				if sig.ContentHash != "h1" || sig.SessionID != "s-1" || sig.Affirmative != tt.affirmative {
					t.Errorf("confirmation = %+v", sig)
				}
				writeJSON(w, http.StatusOK, map[string]bool{"confirmed": sig.Affirmative})
			})
			ok, err := c.Confirm(context.Background(), Confirmation{
				SessionID:   "s-1",
				ContentHash: "h1",
				Affirmative: tt.affirmative,
				Message:     "yes, restart it",
			})
			if err != nil {
				t.Fatalf("Confirm() error: %v", err)
			}
			if ok != tt.accepted {
				t.Errorf("Confirm() = %v, want %v", ok, tt.accepted)
			}
		})
	}
}

func TestQuery(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["statement"] == "DELETE FROM orders" {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]any{
				"error": "statement contains forbidden keyword DELETE", "rule": "forbidden_keyword",
				"keyword": "DELETE", "statement_index": 0,
			})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"columns": []string{"id"}, "rows": [][]any{{1}, {2}}, "row_count": 2,
		})
	})

	res, err := c.Query(context.Background(), "s-1", "SELECT id FROM orders")
	if err != nil {
		t.Fatalf("Query() error: %v", err)
	}
	if res.RowCount != 2 || len(res.Columns) != 1 {
		t.Errorf("result = %+v", res)
	}

	_, err = c.Query(context.Background(), "s-1", "DELETE FROM orders")
	var rej *QueryRejectedError
	if !errors.As(err, &rej) || rej.Keyword != "DELETE" {
		t.Fatalf("err = %v, want QueryRejectedError", err)
	}
	if !errors.Is(err, ErrRejected) {
		t.Error("errors.Is(err, ErrRejected) = false")
	}
}

func TestSessionCalls(t *testing.T) {
	var paths []string
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.Method+" "+r.URL.EscapedPath())
		w.WriteHeader(http.StatusNoContent)
	})

	if err := c.RecordMessage(context.Background(), "chat/42", "please restart"); err != nil {
		t.Fatal(err)
	}
	if err := c.EndSession(context.Background(), "chat-42"); err != nil {
		t.Fatal(err)
	}
	want := []string{"POST /v1/sessions/chat%2F42/messages", "DELETE /v1/sessions/chat-42"}
	if len(paths) != 2 || paths[0] != want[0] || paths[1] != want[1] {
		t.Errorf("paths = %v, want %v", paths, want)
	}
}

func TestAudit(t *testing.T) {
	start := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		if q.Get("start") != "2026-03-01T00:00:00Z" || q.Get("outcome") != "blocked" || q.Get("limit") != "5" || q.Get("offset") != "10" {
			t.Errorf("query = %s", r.URL.RawQuery)
		}
		if q.Has("end") || q.Has("session") {
			t.Errorf("zero fields sent: %s", r.URL.RawQuery)
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"records": []map[string]any{{"id": "r-1", "outcome": "blocked", "capability": map[string]string{"status": "failed"}}},
			"count":   1,
		})
	})

	recs, err := c.Audit(context.Background(), AuditFilter{Start: start, Outcome: "blocked", Limit: 5, Offset: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(recs) != 1 || recs[0].ID != "r-1" || recs[0].Capability.Status != "failed" {
		t.Errorf("records = %+v", recs)
	}
}

func TestActions(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, []map[string]any{
			{"name": "list_pods", "mutating": false},
			{"name": "restart_deployment", "mutating": true},
		})
	})

	actions, err := c.Actions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(actions) != 2 || !actions[1].Mutating {
		t.Errorf("actions = %+v", actions)
	}
}

func TestAPIErrors(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, ErrUnauthorized},
		{http.StatusForbidden, ErrForbidden},
		{http.StatusTooManyRequests, ErrRateLimited},
	}
	for _, tt := range tests {
		c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, tt.status, map[string]string{"error": "nope"})
		})
		_, err := c.Confirm(context.Background(), Confirmation{SessionID: "s", ContentHash: "h", Affirmative: true})
		if !errors.Is(err, tt.want) {
			t.Errorf("status %d: err = %v, want %v", tt.status, err, tt.want)
		}
		var apiErr *APIError
		if errors.As(err, &apiErr) && apiErr.Message != "nope" {
			t.Errorf("message = %q", apiErr.Message)
		}
	}
}

func TestUnreachable(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	addr := ln.Addr().String()
	ln.Close()

	c := New(WithBaseURL("http://"+addr), WithTimeout(time.Second))
	_, err = c.Actions(context.Background())
	if !errors.Is(err, ErrUnreachable) {
		t.Errorf("err = %v, want ErrUnreachable", err)
	}
}

func TestNew_Env(t *testing.T) {
	t.Setenv("INFRAGATE_URL", "http://gateway:9000")
	t.Setenv("INFRAGATE_API_KEY", "env-key")
	t.Setenv("INFRAGATE_TIMEOUT", "7")

	c := New()
	if c.baseURL != "http://gateway:9000" || c.apiKey != "env-key" || c.timeout != 7*time.Second {
		t.Errorf("client = %+v", c)
	}

	c = New(WithAPIKey("opt-key"))
	if c.apiKey != "opt-key" {
		t.Errorf("option should override env, got %q", c.apiKey)
	}
}
