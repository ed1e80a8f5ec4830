package demo

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func TestMonitoring_Instant(t *testing.T) {
	m := NewMonitoring()
	tests := []struct {
		query   string
		wantKey string
	}{
		{"histogram_quantile(0.95, http_request_duration_seconds_bucket)", "checkout-service"},
		{"sum(rate(http_requests_total[5m])) by (service)", "api-gateway"},
		{"container_memory_working_set_bytes", "api-gateway"},
		{"up", "payment-service"},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			out, err := m.Execute(context.Background(), "query_metric", map[string]any{"query": tt.query})
			if err != nil {
				t.Fatal(err)
			}
			data := reflect.ValueOf(out.(map[string]any)["data"])
			if data.Kind() != reflect.Map || !data.MapIndex(reflect.ValueOf(tt.wantKey)).IsValid() {
				t.Errorf("data = %v, want key %q", data, tt.wantKey)
			}
		})
	}

	out, _ := m.Execute(context.Background(), "query_metric", map[string]any{"query": "up"})
	if up := out.(map[string]any)["data"].(map[string]int); up["payment-service"] != 0 || up["checkout-service"] != 1 {
		t.Errorf("up = %v", up)
	}
}

func TestMonitoring_RangeIsDeterministic(t *testing.T) {
	m := NewMonitoring()
	m.now = func() time.Time { return time.Date(2026, 2, 14, 1, 30, 0, 0, time.UTC) }
	args := map[string]any{"query": "rate(http_errors_total[5m])", "duration": "30m", "step": "1m"}

	a, err := m.Execute(context.Background(), "query_range", args)
	if err != nil {
		t.Fatal(err)
	}
	b, _ := m.Execute(context.Background(), "query_range", args)
	if !reflect.DeepEqual(a, b) {
		t.Error("same query should produce identical series")
	}

	series := a.(map[string]any)["data"].(map[string]any)["checkout-service"].([][2]any)
	if len(series) != 30 {
		t.Fatalf("got %d points, want 30", len(series))
	}
	if last := series[len(series)-1][0].(int64); last != m.now().Unix() {
		t.Errorf("last timestamp = %d, want %d", last, m.now().Unix())
	}
}

func TestMonitoring_RangeBounds(t *testing.T) {
	m := NewMonitoring()
	out, err := m.Execute(context.Background(), "query_range", map[string]any{"query": "cpu", "duration": "7d", "step": "1m"})
	if err != nil {
		t.Fatal(err)
	}
	series := out.(map[string]any)["data"].(map[string]any)["api-gateway"].([][2]any)
	if len(series) != maxRangePoints {
		t.Errorf("got %d points, want %d", len(series), maxRangePoints)
	}

	if _, err := m.Execute(context.Background(), "query_range", map[string]any{"query": "cpu", "duration": "0d"}); err == nil {
		t.Error("expected error for zero duration")
	}
}

func TestMonitoring_AlertsAndTargets(t *testing.T) {
	m := NewMonitoring()
	out, _ := m.Execute(context.Background(), "get_alerts", nil)
	alerts := out.(map[string]any)["alerts"].([]Alert)
	if len(alerts) != 3 || alerts[0].Name != "PaymentServiceDown" || alerts[0].Severity != "critical" {
		t.Errorf("alerts = %+v", alerts)
	}

	out, _ = m.Execute(context.Background(), "get_targets", nil)
	targets := out.(map[string]any)["targets"].([]Target)
	if len(targets) != 6 || targets[1].Error != "connection refused" {
		t.Errorf("targets = %+v", targets)
	}
}

func TestParseSpan(t *testing.T) {
	tests := []struct {
		in      string
		want    time.Duration
		wantErr bool
	}{
		{"30m", 30 * time.Minute, false},
		{"1h", time.Hour, false},
		{"2d", 48 * time.Hour, false},
		{"15s", 15 * time.Second, false},
		{"-1m", 0, true},
		{"xd", 0, true},
		{"", 0, true},
	}
	for _, tt := range tests {
		got, err := parseSpan(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("parseSpan(%q) = %v, %v", tt.in, got, err)
		}
	}
}
