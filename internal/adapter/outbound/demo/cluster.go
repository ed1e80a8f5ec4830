// Package demo provides in-process executors with synthetic infrastructure
// data for development mode. Mutating actions change the in-memory state so
// that follow-up reads observe their effect.
package demo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
)

// ErrNotFound is returned when a named object does not exist.
var ErrNotFound = errors.New("not found")

// Deployment is a simulated workload.
type Deployment struct {
	Name        string     `json:"name"`
	Namespace   string     `json:"namespace"`
	Replicas    int        `json:"replicas"`
	Available   int        `json:"available"`
	Age         string     `json:"age"`
	Image       string     `json:"image"`
	RestartedAt *time.Time `json:"restarted_at,omitempty"`

	// healthy deployments make every replica available; unhealthy ones
	// crash regardless of restarts.
	healthy bool
}

// Pod is a simulated pod.
type Pod struct {
	Name      string `json:"name"`
	Namespace string `json:"namespace"`
	Status    string `json:"status"`
	Restarts  int    `json:"restarts"`
	Age       string `json:"age"`
	Node      string `json:"node"`
	CPU       string `json:"cpu"`
	Memory    string `json:"memory"`
}

// Event is a simulated cluster event.
type Event struct {
	Type    string `json:"type"`
	Reason  string `json:"reason"`
	Object  string `json:"object"`
	Message string `json:"message"`
	Age     string `json:"age"`
	Count   int    `json:"count"`
}

// Node is a simulated cluster node.
type Node struct {
	Name           string `json:"name"`
	Status         string `json:"status"`
	Roles          string `json:"roles"`
	CPUCapacity    string `json:"cpu_capacity"`
	CPUUsed        string `json:"cpu_used"`
	MemoryCapacity string `json:"memory_capacity"`
	MemoryUsed     string `json:"memory_used"`
	Pods           int    `json:"pods"`
}

// Condition is a pod condition.
type Condition struct {
	Type   string `json:"type"`
	Status string `json:"status"`
}

// Termination describes the last container exit of a crashing pod.
type Termination struct {
	Reason   string `json:"reason"`
	ExitCode int    `json:"exit_code"`
	Message  string `json:"message"`
}

// PodDescription is the result of describe_pod.
type PodDescription struct {
	Pod
	Conditions      []Condition  `json:"conditions"`
	LastTermination *Termination `json:"last_termination,omitempty"`
}

// Cluster simulates a small Kubernetes cluster.
type Cluster struct {
	mu          sync.RWMutex
	deployments map[string]*Deployment
	pods        []Pod
	events      []Event
	nodes       []Node
	logs        map[string][]string
	now         func() time.Time
}

var _ outbound.Executor = (*Cluster)(nil)

// ClusterActions lists the actions Cluster implements.
var ClusterActions = []string{
	"list_pods", "get_pod_logs", "describe_pod", "list_deployments", "get_events", "list_nodes",
	proposal.ActionRestartDeployment, proposal.ActionScaleDeployment,
}

// NewCluster returns a cluster seeded with an ongoing payment-service outage.
func NewCluster() *Cluster {
	c := &Cluster{
		deployments: make(map[string]*Deployment),
		now:         time.Now,
	}
	for _, d := range []Deployment{
		{Name: "checkout-service", Replicas: 2, Age: "30d", Image: "myregistry/checkout:v2.3.1", healthy: true},
		{Name: "payment-service", Replicas: 1, Age: "30d", Image: "myregistry/payment:v1.8.0"},
		{Name: "api-gateway", Replicas: 1, Age: "45d", Image: "myregistry/api-gw:v3.1.0", healthy: true},
		{Name: "user-service", Replicas: 1, Age: "30d", Image: "myregistry/user:v2.0.5", healthy: true},
		{Name: "inventory-service", Replicas: 1, Age: "45d", Image: "myregistry/inventory:v1.5.2", healthy: true},
		{Name: "notification-service", Replicas: 1, Age: "45d", Image: "myregistry/notification:v1.2.0", healthy: true},
	} {
		d.Namespace = proposal.DefaultNamespace
		d.settle()
		c.deployments[deploymentKey(d.Namespace, d.Name)] = &d
	}

	c.pods = []Pod{
		{Name: "checkout-service-7b9f4d6c8-x2k9p", Status: "Running", Age: "3d", Node: "node-1", CPU: "120m", Memory: "256Mi"},
		{Name: "checkout-service-7b9f4d6c8-m4n7q", Status: "Running", Age: "3d", Node: "node-2", CPU: "95m", Memory: "230Mi"},
		{Name: "payment-service-5c8d3a1b2-j8h5r", Status: "CrashLoopBackOff", Restarts: 14, Age: "1d", Node: "node-1", CPU: "0m", Memory: "0Mi"},
		{Name: "api-gateway-9f2e1d4c7-k3l6w", Status: "Running", Age: "7d", Node: "node-2", CPU: "200m", Memory: "512Mi"},
		{Name: "user-service-4a7b2c9d1-p5t8v", Status: "Running", Restarts: 2, Age: "5d", Node: "node-1", CPU: "80m", Memory: "180Mi"},
		{Name: "inventory-service-6d3e8f1a5-n9m2x", Status: "Running", Age: "7d", Node: "node-3", CPU: "60m", Memory: "150Mi"},
		{Name: "notification-service-2c5d7e9f3-q4r1s", Status: "Running", Age: "7d", Node: "node-3", CPU: "40m", Memory: "100Mi"},
		{Name: "redis-cache-0", Status: "Running", Age: "14d", Node: "node-2", CPU: "50m", Memory: "128Mi"},
	}
	for i := range c.pods {
		c.pods[i].Namespace = proposal.DefaultNamespace
	}

	c.events = []Event{
		{Type: "Warning", Reason: "BackOff", Object: "pod/payment-service-5c8d3a1b2-j8h5r", Message: "Back-off restarting failed container", Age: "2m", Count: 14},
		{Type: "Warning", Reason: "Unhealthy", Object: "pod/payment-service-5c8d3a1b2-j8h5r", Message: "Liveness probe failed: connection refused on port 8080", Age: "3m", Count: 28},
		{Type: "Normal", Reason: "Pulled", Object: "pod/payment-service-5c8d3a1b2-j8h5r", Message: "Container image 'myregistry/payment:v1.8.0' already present on machine", Age: "5m", Count: 14},
		{Type: "Warning", Reason: "HighMemory", Object: "pod/api-gateway-9f2e1d4c7-k3l6w", Message: "Memory usage at 89% of limit (512Mi)", Age: "10m", Count: 3},
		{Type: "Normal", Reason: "ScalingReplicaSet", Object: "deployment/checkout-service", Message: "Scaled up replica set checkout-service-7b9f4d6c8 to 2", Age: "3d", Count: 1},
	}

	c.nodes = []Node{
		{Name: "node-1", Status: "Ready", Roles: "worker", CPUCapacity: "4", CPUUsed: "1.2", MemoryCapacity: "8Gi", MemoryUsed: "4.5Gi", Pods: 3},
		{Name: "node-2", Status: "Ready", Roles: "worker", CPUCapacity: "4", CPUUsed: "1.8", MemoryCapacity: "8Gi", MemoryUsed: "5.2Gi", Pods: 3},
		{Name: "node-3", Status: "Ready", Roles: "worker", CPUCapacity: "4", CPUUsed: "0.5", MemoryCapacity: "8Gi", MemoryUsed: "2.1Gi", Pods: 3},
	}

	c.logs = map[string][]string{
		"payment-service": {
			"2026-02-14T01:15:32Z [ERROR] Failed to connect to payment gateway: connection refused",
			"2026-02-14T01:15:32Z [ERROR] Health check failed: port 8080 not responding",
			"2026-02-14T01:15:33Z [INFO] Shutting down gracefully...",
			"2026-02-14T01:15:35Z [INFO] Starting payment-service v1.8.0...",
			"2026-02-14T01:15:35Z [INFO] Loading configuration from /etc/config/payment.yaml",
			"2026-02-14T01:15:36Z [ERROR] FATAL: Cannot read secret 'STRIPE_API_KEY' from vault: permission denied",
			"2026-02-14T01:15:36Z [ERROR] Startup aborted: missing required secrets",
			"2026-02-14T01:15:37Z [INFO] Shutting down gracefully...",
		},
		"checkout-service": {
			"2026-02-14T01:20:01Z [INFO] Request POST /api/checkout 200 OK (45ms)",
			"2026-02-14T01:20:02Z [WARN] Downstream payment-service returned 503, retrying (attempt 1/3)",
			"2026-02-14T01:20:03Z [WARN] Downstream payment-service returned 503, retrying (attempt 2/3)",
			"2026-02-14T01:20:04Z [ERROR] Downstream payment-service failed after 3 retries, returning 500",
			"2026-02-14T01:20:05Z [INFO] Request POST /api/checkout 500 Internal Server Error (3012ms)",
			"2026-02-14T01:20:10Z [INFO] Request GET /api/checkout/health 200 OK (2ms)",
		},
		"api-gateway": {
			"2026-02-14T01:20:01Z [INFO] Request POST /api/checkout -> checkout-service (200, 45ms)",
			"2026-02-14T01:20:05Z [ERROR] Request POST /api/checkout -> checkout-service (500, 3012ms)",
			"2026-02-14T01:20:06Z [WARN] High memory usage detected: 456Mi / 512Mi (89%)",
			"2026-02-14T01:20:10Z [INFO] Request GET /health 200 OK (1ms)",
		},
	}
	return c
}

// Execute implements outbound.Executor.
func (c *Cluster) Execute(ctx context.Context, action string, args map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	ns := namespace(args)
	switch action {
	case "list_pods":
		return c.listPods(ns), nil
	case "get_pod_logs":
		lines, ok := proposal.IntArg(args, "lines")
		if !ok {
			lines = 50
		}
		return c.podLogs(proposal.StringArg(args, "pod_name"), int(lines))
	case "describe_pod":
		return c.describePod(ns, proposal.StringArg(args, "pod_name"))
	case "list_deployments":
		return c.listDeployments(ns), nil
	case "get_events":
		limit, ok := proposal.IntArg(args, "limit")
		if !ok {
			limit = 20
		}
		return c.listEvents(ns, int(limit)), nil
	case "list_nodes":
		return c.listNodes(), nil
	case proposal.ActionRestartDeployment:
		return c.restart(ns, proposal.StringArg(args, "name"))
	case proposal.ActionScaleDeployment:
		replicas, ok := proposal.IntArg(args, "replicas")
		if !ok {
			return nil, fmt.Errorf("replicas: %w", proposal.ErrInvalidArguments)
		}
		return c.scale(ns, proposal.StringArg(args, "name"), int(replicas))
	default:
		return nil, fmt.Errorf("%w: %s", outbound.ErrUnsupportedAction, action)
	}
}

// Deployment returns a copy of the named deployment.
func (c *Cluster) Deployment(namespace, name string) (Deployment, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d, ok := c.deployments[deploymentKey(namespace, name)]
	if !ok {
		return Deployment{}, false
	}
	return *d, true
}

func (c *Cluster) listPods(ns string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	pods := make([]Pod, 0, len(c.pods))
	for _, p := range c.pods {
		if p.Namespace == ns {
			pods = append(pods, p)
		}
	}
	return map[string]any{"namespace": ns, "pods": pods}
}

// podLogs matches pod_name against the owning deployment name in either
// direction, so both full pod names and bare deployment names work.
func (c *Cluster) podLogs(pod string, lines int) (map[string]any, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.logs))
	for k := range c.logs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if strings.Contains(pod, key) || strings.Contains(key, pod) {
			logs := c.logs[key]
			if lines > 0 && lines < len(logs) {
				logs = logs[len(logs)-lines:]
			}
			out := make([]string, len(logs))
			copy(out, logs)
			return map[string]any{"pod": pod, "lines": out}, nil
		}
	}
	return nil, fmt.Errorf("logs for pod %q: %w", pod, ErrNotFound)
}

func (c *Cluster) describePod(ns, name string) (*PodDescription, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, p := range c.pods {
		if p.Namespace != ns || !(p.Name == name || strings.Contains(p.Name, name)) {
			continue
		}
		ready := "False"
		if p.Status == "Running" {
			ready = "True"
		}
		desc := &PodDescription{
			Pod: p,
			Conditions: []Condition{
				{Type: "Ready", Status: ready},
				{Type: "ContainersReady", Status: ready},
			},
		}
		if p.Status == "CrashLoopBackOff" {
			desc.LastTermination = &Termination{
				Reason:   "Error",
				ExitCode: 1,
				Message:  "Cannot read secret 'STRIPE_API_KEY' from vault: permission denied",
			}
		}
		return desc, nil
	}
	return nil, fmt.Errorf("pod %q in namespace %q: %w", name, ns, ErrNotFound)
}

func (c *Cluster) listDeployments(ns string) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	deps := make([]Deployment, 0, len(c.deployments))
	for _, d := range c.deployments {
		if d.Namespace == ns {
			deps = append(deps, *d)
		}
	}
	sort.Slice(deps, func(i, j int) bool { return deps[i].Name < deps[j].Name })
	return map[string]any{"namespace": ns, "deployments": deps}
}

func (c *Cluster) listEvents(ns string, limit int) map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	events := make([]Event, 0, len(c.events))
	for _, e := range c.events {
		if len(events) == limit {
			break
		}
		events = append(events, e)
	}
	return map[string]any{"namespace": ns, "events": events}
}

func (c *Cluster) listNodes() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	nodes := make([]Node, len(c.nodes))
	copy(nodes, c.nodes)
	return map[string]any{"nodes": nodes}
}

func (c *Cluster) restart(ns, name string) (map[string]any, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deployments[deploymentKey(ns, name)]
	if !ok {
		return nil, fmt.Errorf("deployment %q in namespace %q: %w", name, ns, ErrNotFound)
	}
	now := c.now().UTC()
	d.RestartedAt = &now
	d.settle()
	c.events = append([]Event{{
		Type:    "Normal",
		Reason:  "Restarted",
		Object:  "deployment/" + name,
		Message: "Rolling restart initiated",
		Age:     "0s",
		Count:   1,
	}}, c.events...)
	return map[string]any{
		"deployment":   name,
		"namespace":    ns,
		"restarted_at": now.Format(time.RFC3339),
		"message":      fmt.Sprintf("Deployment %q rolling restart initiated", name),
	}, nil
}

func (c *Cluster) scale(ns, name string, replicas int) (map[string]any, error) {
	if replicas < 0 || replicas > proposal.MaxReplicas {
		return nil, fmt.Errorf("replica count must be between 0 and %d (got %d)", proposal.MaxReplicas, replicas)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.deployments[deploymentKey(ns, name)]
	if !ok {
		return nil, fmt.Errorf("deployment %q in namespace %q: %w", name, ns, ErrNotFound)
	}
	previous := d.Replicas
	d.Replicas = replicas
	d.settle()
	c.events = append([]Event{{
		Type:    "Normal",
		Reason:  "ScalingReplicaSet",
		Object:  "deployment/" + name,
		Message: fmt.Sprintf("Scaled replica set %s from %d to %d", name, previous, replicas),
		Age:     "0s",
		Count:   1,
	}}, c.events...)
	return map[string]any{
		"deployment":        name,
		"namespace":         ns,
		"previous_replicas": previous,
		"replicas":          replicas,
		"scaled_at":         c.now().UTC().Format(time.RFC3339),
	}, nil
}

func (d *Deployment) settle() {
	if d.healthy {
		d.Available = d.Replicas
	} else {
		d.Available = 0
	}
}

func deploymentKey(namespace, name string) string {
	return namespace + "/" + name
}

func namespace(args map[string]any) string {
	if ns := proposal.StringArg(args, "namespace"); ns != "" {
		return ns
	}
	return proposal.DefaultNamespace
}
