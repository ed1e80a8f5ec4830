package demo

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Sentinel-Gate/infragate/internal/adapter/outbound/state"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
)

// Runbook is an operational runbook.
type Runbook struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Tags        []string `json:"tags"`
	Severity    string   `json:"severity"`
	Symptoms    []string `json:"symptoms"`
	Diagnosis   []string `json:"diagnosis"`
	Remediation []string `json:"remediation"`
}

// maxRunbookMatches bounds search_runbooks output.
const maxRunbookMatches = 3

// JournalStore persists incidents. *state.FileStore satisfies it.
type JournalStore interface {
	Load() (*state.Journal, error)
	Update(fn func(*state.Journal) error) error
}

// Incidents serves runbook search and the incident journal.
type Incidents struct {
	journal  JournalStore
	runbooks []Runbook
	now      func() time.Time
}

var _ outbound.Executor = (*Incidents)(nil)

// IncidentActions lists the actions Incidents implements.
var IncidentActions = []string{"search_runbooks", proposal.ActionLogIncident, "list_incidents", "get_incident"}

// NewIncidents returns an incident executor backed by journal. A nil
// journal keeps incidents in memory.
func NewIncidents(journal JournalStore) *Incidents {
	if journal == nil {
		journal = &memoryJournal{j: &state.Journal{Version: state.CurrentVersion, Incidents: []state.Incident{}}}
	}
	return &Incidents{journal: journal, runbooks: defaultRunbooks(), now: time.Now}
}

// Execute implements outbound.Executor.
func (s *Incidents) Execute(ctx context.Context, action string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch action {
	case "search_runbooks":
		return s.search(proposal.StringArg(args, "query")), nil
	case proposal.ActionLogIncident:
		return s.log(args)
	case "list_incidents":
		status := proposal.StringArg(args, "status")
		if status == "" {
			status = "all"
		}
		limit, ok := proposal.IntArg(args, "limit")
		if !ok {
			limit = 10
		}
		return s.list(status, int(limit))
	case "get_incident":
		return s.get(proposal.StringArg(args, "incident_id"))
	default:
		return nil, fmt.Errorf("%w: %s", outbound.ErrUnsupportedAction, action)
	}
}

// search scores runbooks: title match 10, tag match 5, symptom match 3,
// anywhere in the text 1.
func (s *Incidents) search(query string) map[string]any {
	q := strings.ToLower(strings.TrimSpace(query))
	type scored struct {
		score int
		rb    Runbook
	}
	var matches []scored
	for _, rb := range s.runbooks {
		score := 0
		if strings.Contains(strings.ToLower(rb.Title), q) {
			score += 10
		}
		for _, tag := range rb.Tags {
			if strings.Contains(tag, q) || strings.Contains(q, tag) {
				score += 5
			}
		}
		for _, sym := range rb.Symptoms {
			if strings.Contains(strings.ToLower(sym), q) {
				score += 3
			}
		}
		if raw, err := json.Marshal(rb); err == nil && strings.Contains(strings.ToLower(string(raw)), q) {
			score++
		}
		if score > 0 {
			matches = append(matches, scored{score, rb})
		}
	}
	sort.SliceStable(matches, func(i, j int) bool { return matches[i].score > matches[j].score })

	if len(matches) == 0 {
		titles := make([]string, len(s.runbooks))
		for i, rb := range s.runbooks {
			titles[i] = rb.Title
		}
		return map[string]any{"query": query, "matches": 0, "available": titles}
	}
	top := make([]Runbook, 0, maxRunbookMatches)
	for i := 0; i < len(matches) && i < maxRunbookMatches; i++ {
		top = append(top, matches[i].rb)
	}
	return map[string]any{"query": query, "matches": len(matches), "runbooks": top}
}

func (s *Incidents) log(args map[string]any) (*state.Incident, error) {
	now := s.now().UTC()
	var services []string
	for _, svc := range strings.Split(proposal.StringArg(args, "affected_services"), ",") {
		if svc = strings.TrimSpace(svc); svc != "" {
			services = append(services, svc)
		}
	}
	inc := state.Incident{
		ID:               newIncidentID(now),
		Title:            proposal.StringArg(args, "title"),
		Severity:         proposal.StringArg(args, "severity"),
		Description:      proposal.StringArg(args, "description"),
		AffectedServices: services,
		ActionsTaken:     proposal.StringArg(args, "actions_taken"),
		Status:           state.IncidentOpen,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	err := s.journal.Update(func(j *state.Journal) error {
		j.Incidents = append(j.Incidents, inc)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("record incident: %w", err)
	}
	return &inc, nil
}

func (s *Incidents) list(status string, limit int) (map[string]any, error) {
	j, err := s.journal.Load()
	if err != nil {
		return nil, fmt.Errorf("load incidents: %w", err)
	}
	out := make([]state.Incident, 0, len(j.Incidents))
	for _, inc := range j.Incidents {
		if status == "all" || inc.Status == status {
			out = append(out, inc)
		}
	}
	sort.SliceStable(out, func(a, b int) bool { return out[a].CreatedAt.After(out[b].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return map[string]any{"status": status, "count": len(out), "incidents": out}, nil
}

func (s *Incidents) get(id string) (*state.Incident, error) {
	j, err := s.journal.Load()
	if err != nil {
		return nil, fmt.Errorf("load incidents: %w", err)
	}
	inc, ok := j.Find(id)
	if !ok {
		return nil, fmt.Errorf("incident %q: %w", id, ErrNotFound)
	}
	return &inc, nil
}

// newIncidentID returns INC-YYYYMMDD-XXXXXX.
func newIncidentID(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:6])
	return fmt.Sprintf("INC-%s-%s", now.Format("20060102"), suffix)
}

type memoryJournal struct {
	mu sync.Mutex
	j  *state.Journal
}

func (m *memoryJournal) Load() (*state.Journal, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.j
	cp.Incidents = append([]state.Incident(nil), m.j.Incidents...)
	return &cp, nil
}

func (m *memoryJournal) Update(fn func(*state.Journal) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *m.j
	cp.Incidents = append([]state.Incident(nil), m.j.Incidents...)
	if err := fn(&cp); err != nil {
		return err
	}
	cp.UpdatedAt = time.Now().UTC()
	m.j = &cp
	return nil
}

func defaultRunbooks() []Runbook {
	return []Runbook{
		{
			ID: "RB-001", Title: "Pod CrashLoopBackOff", Severity: "high",
			Tags: []string{"kubernetes", "crashloop", "pod", "restart"},
			Symptoms: []string{
				"Pod status shows CrashLoopBackOff",
				"Pod restart count is increasing",
				"Container exits with non-zero exit code",
			},
			Diagnosis: []string{
				"1. Check pod logs: `kubectl logs <pod> --previous`",
				"2. Describe pod for events: `kubectl describe pod <pod>`",
				"3. Check if the issue is OOMKill (exit code 137) or application error (exit code 1)",
				"4. For exit code 1: check application configuration, secrets, and dependencies",
				"5. For exit code 137: check memory limits vs actual usage",
			},
			Remediation: []string{
				"For missing secrets: verify Vault/secrets config and permissions",
				"For OOMKill: increase memory limits in deployment spec",
				"For dependency issues: check downstream service connectivity",
				"Last resort: rollback to previous version",
			},
		},
		{
			ID: "RB-002", Title: "High CPU Usage", Severity: "medium",
			Tags: []string{"cpu", "performance", "resource", "throttling"},
			Symptoms: []string{
				"CPU usage above 80% for sustained period",
				"Request latency increasing",
				"CPU throttling detected",
			},
			Diagnosis: []string{
				"1. Check CPU metrics: `query_metric('rate(container_cpu_usage_seconds_total[5m])')`",
				"2. Identify the hottest pods",
				"3. Check if it's a single pod or all replicas",
				"4. Look for correlated events (deployments, traffic spikes)",
			},
			Remediation: []string{
				"Scale the deployment horizontally: `scale_deployment(<name>, <replicas>)`",
				"Check for CPU-intensive operations in application logs",
				"Consider increasing CPU limits if consistently hitting the cap",
			},
		},
		{
			ID: "RB-003", Title: "Database Slow Queries", Severity: "medium",
			Tags: []string{"database", "postgres", "slow", "query", "performance"},
			Symptoms: []string{
				"Increased p95/p99 latency",
				"Slow query log entries",
				"Connection pool exhaustion",
			},
			Diagnosis: []string{
				"1. Check slow queries: use `slow_queries` tool",
				"2. Run EXPLAIN on the offending query",
				"3. Check for missing indexes, sequential scans on large tables",
				"4. Check connection count and pool saturation",
			},
			Remediation: []string{
				"Add indexes for commonly filtered/joined columns",
				"Optimize query to reduce sequential scans",
				"Consider read replicas for heavy read workloads",
				"Check and tune connection pool settings",
			},
		},
		{
			ID: "RB-004", Title: "Disk Pressure / Node Storage Full", Severity: "high",
			Tags: []string{"disk", "storage", "node", "pressure", "eviction"},
			Symptoms: []string{
				"Node condition shows DiskPressure",
				"Pods being evicted",
				"Container image pull failures",
			},
			Diagnosis: []string{
				"1. Check node conditions: `list_nodes`",
				"2. Identify large files: container logs, unused images",
				"3. Check PersistentVolume claims",
			},
			Remediation: []string{
				"Clean up unused container images",
				"Rotate and compress old logs",
				"Expand PersistentVolume if applicable",
				"Add additional nodes to the cluster",
			},
		},
		{
			ID: "RB-005", Title: "Service Returning 5xx Errors", Severity: "critical",
			Tags: []string{"5xx", "error", "http", "service", "outage"},
			Symptoms: []string{
				"HTTP 500/502/503 error rate spike",
				"Downstream service timeouts",
				"Customer-facing impact",
			},
			Diagnosis: []string{
				"1. Check which service(s) are returning errors: `get_alerts`",
				"2. Check service health: `list_pods` + `get_events`",
				"3. Check logs for error details: `get_pod_logs`",
				"4. Check downstream dependencies (database, external APIs)",
				"5. Check recent deployments: was this caused by a code change?",
			},
			Remediation: []string{
				"If downstream dependency is down: check and fix that service first",
				"If recent deployment caused it: rollback to previous version",
				"If pod is unhealthy: restart deployment",
				"If overloaded: scale up replicas",
				"Communicate status to stakeholders",
			},
		},
	}
}
