package demo

import (
	"context"
	"fmt"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
)

// Alert is a firing alert.
type Alert struct {
	Name        string `json:"alertname"`
	Severity    string `json:"severity"`
	State       string `json:"state"`
	Service     string `json:"service"`
	Summary     string `json:"summary"`
	Description string `json:"description"`
	Started     string `json:"started"`
}

// Target is a scrape target.
type Target struct {
	Endpoint       string `json:"endpoint"`
	State          string `json:"state"`
	LastScrape     string `json:"last_scrape"`
	ScrapeDuration string `json:"scrape_duration"`
	Error          string `json:"error,omitempty"`
}

// maxRangePoints bounds query_range output.
const maxRangePoints = 500

// Monitoring simulates a metrics backend. Range queries return
// deterministic noise seeded by the query text.
type Monitoring struct {
	alerts  []Alert
	targets []Target
	now     func() time.Time
}

var _ outbound.Executor = (*Monitoring)(nil)

// MonitoringActions lists the actions Monitoring implements.
var MonitoringActions = []string{"query_metric", "query_range", "get_alerts", "get_targets"}

// NewMonitoring returns a metrics backend reflecting the seeded outage.
func NewMonitoring() *Monitoring {
	return &Monitoring{
		alerts: []Alert{
			{
				Name: "PaymentServiceDown", Severity: "critical", State: "firing", Service: "payment-service",
				Summary:     "Payment service has been down for > 10 minutes",
				Description: "payment-service pod is in CrashLoopBackOff. Last error: missing vault secret STRIPE_API_KEY",
				Started:     "2026-02-14T01:05:00Z",
			},
			{
				Name: "HighErrorRate", Severity: "warning", State: "firing", Service: "checkout-service",
				Summary:     "checkout-service 5xx rate > 5% for 5 minutes",
				Description: "Error rate at 5.5% (847 errors / 15613 total). Correlates with payment-service outage.",
				Started:     "2026-02-14T01:10:00Z",
			},
			{
				Name: "HighMemoryUsage", Severity: "warning", State: "firing", Service: "api-gateway",
				Summary:     "api-gateway memory usage at 89% of limit",
				Description: "Container memory at 456Mi / 512Mi limit. Risk of OOMKill.",
				Started:     "2026-02-14T01:15:00Z",
			},
		},
		targets: []Target{
			{Endpoint: "checkout-service:8080/metrics", State: "up", LastScrape: "2s ago", ScrapeDuration: "12ms"},
			{Endpoint: "payment-service:8080/metrics", State: "down", LastScrape: "5m ago", ScrapeDuration: "0ms", Error: "connection refused"},
			{Endpoint: "api-gateway:8080/metrics", State: "up", LastScrape: "1s ago", ScrapeDuration: "8ms"},
			{Endpoint: "user-service:8080/metrics", State: "up", LastScrape: "3s ago", ScrapeDuration: "6ms"},
			{Endpoint: "inventory-service:8080/metrics", State: "up", LastScrape: "2s ago", ScrapeDuration: "5ms"},
			{Endpoint: "node-exporter:9100/metrics", State: "up", LastScrape: "1s ago", ScrapeDuration: "15ms"},
		},
		now: time.Now,
	}
}

// Execute implements outbound.Executor.
func (m *Monitoring) Execute(ctx context.Context, action string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch action {
	case "query_metric":
		return m.instant(proposal.StringArg(args, "query")), nil
	case "query_range":
		duration := proposal.StringArg(args, "duration")
		if duration == "" {
			duration = "30m"
		}
		step := proposal.StringArg(args, "step")
		if step == "" {
			step = "1m"
		}
		return m.rangeQuery(proposal.StringArg(args, "query"), duration, step)
	case "get_alerts":
		alerts := make([]Alert, len(m.alerts))
		copy(alerts, m.alerts)
		return map[string]any{"firing": len(alerts), "alerts": alerts}, nil
	case "get_targets":
		targets := make([]Target, len(m.targets))
		copy(targets, m.targets)
		return map[string]any{"targets": targets}, nil
	default:
		return nil, fmt.Errorf("%w: %s", outbound.ErrUnsupportedAction, action)
	}
}

func (m *Monitoring) instant(query string) map[string]any {
	q := strings.ToLower(query)
	var data any
	switch {
	case strings.Contains(q, "http_request_duration"):
		data = map[string]any{
			"checkout-service": map[string]float64{"p50": 0.045, "p95": 0.320, "p99": 1.200},
			"payment-service":  map[string]float64{"p50": 0, "p95": 0, "p99": 0},
			"api-gateway":      map[string]float64{"p50": 0.012, "p95": 0.085, "p99": 0.250},
			"user-service":     map[string]float64{"p50": 0.030, "p95": 0.150, "p99": 0.400},
		}
	case strings.Contains(q, "http_requests_total"):
		data = map[string]any{
			"checkout-service": map[string]int{"2xx": 14532, "4xx": 234, "5xx": 847},
			"payment-service":  map[string]int{"2xx": 0, "4xx": 0, "5xx": 0},
			"api-gateway":      map[string]int{"2xx": 45231, "4xx": 1203, "5xx": 892},
			"user-service":     map[string]int{"2xx": 8923, "4xx": 45, "5xx": 12},
		}
	case strings.Contains(q, "cpu"):
		data = map[string]float64{
			"checkout-service": 0.120, "payment-service": 0.0, "api-gateway": 0.200,
			"user-service": 0.080, "inventory-service": 0.060,
		}
	case strings.Contains(q, "memory"):
		data = map[string]string{
			"checkout-service": "256Mi", "payment-service": "0Mi", "api-gateway": "456Mi",
			"user-service": "180Mi", "inventory-service": "150Mi",
		}
	case strings.Contains(q, "up"):
		up := make(map[string]int, len(m.targets))
		for _, t := range m.targets {
			name, _, _ := strings.Cut(t.Endpoint, ":")
			if t.State == "up" {
				up[name] = 1
			} else {
				up[name] = 0
			}
		}
		data = up
	default:
		data = map[string]string{
			"info": fmt.Sprintf("no synthetic data for query %q; try http_request_duration, http_requests_total, cpu, memory, up", query),
		}
	}
	return map[string]any{"status": "success", "query": query, "data": data}
}

func (m *Monitoring) rangeQuery(query, duration, step string) (map[string]any, error) {
	span, err := parseSpan(duration)
	if err != nil {
		return nil, fmt.Errorf("duration: %w", err)
	}
	res, err := parseSpan(step)
	if err != nil {
		return nil, fmt.Errorf("step: %w", err)
	}
	points := int(span / res)
	if points < 1 {
		points = 1
	}
	if points > maxRangePoints {
		points = maxRangePoints
	}

	q := strings.ToLower(query)
	var series map[string]float64
	var noise float64
	switch {
	case strings.Contains(q, "error") || strings.Contains(q, "5xx"):
		series, noise = map[string]float64{"checkout-service": 5.5, "api-gateway": 1.9}, 0.3
	case strings.Contains(q, "latency") || strings.Contains(q, "duration"):
		series, noise = map[string]float64{"checkout-service_p95": 0.320, "api-gateway_p95": 0.085}, 0.15
	case strings.Contains(q, "cpu"):
		series, noise = map[string]float64{"checkout-service": 0.12, "api-gateway": 0.20}, 0.1
	default:
		series, noise = map[string]float64{"sample_series": 1.0}, 0.1
	}

	end := m.now().UTC().Truncate(res)
	data := make(map[string]any, len(series))
	for name, base := range series {
		seed := xxhash.Sum64String(query + "\x00" + name)
		rng := rand.New(rand.NewPCG(seed, seed>>1))
		samples := make([][2]any, points)
		for i := range samples {
			ts := end.Add(-time.Duration(points-1-i) * res).Unix()
			v := base + (rng.Float64()*2-1)*noise*base
			samples[i] = [2]any{ts, strconv.FormatFloat(v, 'f', 4, 64)}
		}
		data[name] = samples
	}
	return map[string]any{
		"status":   "success",
		"query":    query,
		"duration": duration,
		"step":     step,
		"data":     data,
	}, nil
}

// parseSpan accepts Go durations plus a "d" (day) suffix.
func parseSpan(s string) (time.Duration, error) {
	if n, ok := strings.CutSuffix(s, "d"); ok {
		days, err := strconv.Atoi(n)
		if err != nil || days <= 0 {
			return 0, fmt.Errorf("invalid span %q", s)
		}
		return time.Duration(days) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("invalid span %q", s)
	}
	return d, nil
}
