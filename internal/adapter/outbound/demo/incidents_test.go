package demo

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/state"
)

var incidentIDRe = regexp.MustCompile(`^INC-\d{8}-[0-9A-F]{6}$`)

func logArgs(title string) map[string]any {
	return map[string]any{
		"title":             title,
		"severity":          "critical",
		"description":       "checkout failing",
		"affected_services": "payment-service, checkout-service,",
	}
}

func TestIncidents_LogListGet(t *testing.T) {
	s := NewIncidents(nil)
	ctx := context.Background()
	current := time.Date(2026, 2, 14, 1, 0, 0, 0, time.UTC)
	s.now = func() time.Time { current = current.Add(time.Minute); return current }

	out, err := s.Execute(ctx, "log_incident", logArgs("Payment service outage"))
	if err != nil {
		t.Fatalf("log_incident error: %v", err)
	}
	first := out.(*state.Incident)
	if !incidentIDRe.MatchString(first.ID) || first.ID[4:12] != "20260214" {
		t.Errorf("ID = %q", first.ID)
	}
	if first.Status != state.IncidentOpen || len(first.AffectedServices) != 2 {
		t.Errorf("unexpected incident: %+v", first)
	}
	if _, err := s.Execute(ctx, "log_incident", logArgs("Checkout errors")); err != nil {
		t.Fatal(err)
	}

	out, err = s.Execute(ctx, "list_incidents", map[string]any{"status": "open", "limit": 10})
	if err != nil {
		t.Fatalf("list_incidents error: %v", err)
	}
	list := out.(map[string]any)["incidents"].([]state.Incident)
	if len(list) != 2 || list[0].Title != "Checkout errors" {
		t.Errorf("list should be newest first: %+v", list)
	}

	out, _ = s.Execute(ctx, "list_incidents", map[string]any{"status": "resolved"})
	if n := out.(map[string]any)["count"]; n != 0 {
		t.Errorf("resolved count = %v", n)
	}

	out, err = s.Execute(ctx, "get_incident", map[string]any{"incident_id": first.ID})
	if err != nil || out.(*state.Incident).Title != "Payment service outage" {
		t.Errorf("get_incident = %v, %v", out, err)
	}
	if _, err := s.Execute(ctx, "get_incident", map[string]any{"incident_id": "INC-00000000-000000"}); !errors.Is(err, ErrNotFound) {
		t.Errorf("missing incident error = %v", err)
	}
}

func TestIncidents_FileJournal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "incidents.json")
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	ctx := context.Background()

	out, err := NewIncidents(state.NewFileStore(path, logger)).Execute(ctx, "log_incident", logArgs("Disk pressure"))
	if err != nil {
		t.Fatalf("log_incident error: %v", err)
	}
	id := out.(*state.Incident).ID

	// A new executor over the same file sees the incident.
	reopened := NewIncidents(state.NewFileStore(path, logger))
	if _, err := reopened.Execute(ctx, "get_incident", map[string]any{"incident_id": id}); err != nil {
		t.Errorf("incident not persisted: %v", err)
	}
}

func TestIncidents_SearchRunbooks(t *testing.T) {
	s := NewIncidents(nil)
	tests := []struct {
		query   string
		wantTop string
	}{
		{"crashloop", "RB-001"},
		{"CPU", "RB-002"},
		{"slow", "RB-003"},
		{"5xx", "RB-005"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			out, err := s.Execute(context.Background(), "search_runbooks", map[string]any{"query": tt.query})
			if err != nil {
				t.Fatal(err)
			}
			rbs, ok := out.(map[string]any)["runbooks"].([]Runbook)
			if !ok || len(rbs) == 0 || rbs[0].ID != tt.wantTop {
				t.Errorf("top runbook = %+v, want %s", rbs, tt.wantTop)
			}
			if len(rbs) > maxRunbookMatches {
				t.Errorf("got %d runbooks, want at most %d", len(rbs), maxRunbookMatches)
			}
		})
	}

	out, _ := s.Execute(context.Background(), "search_runbooks", map[string]any{"query": "quantum flux"})
	res := out.(map[string]any)
	if res["matches"] != 0 || len(res["available"].([]string)) != 5 {
		t.Errorf("no-match result = %v", res)
	}
}
