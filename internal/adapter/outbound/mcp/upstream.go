// Package mcp forwards approved actions to an upstream MCP server.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/infragate/internal/port/outbound"
)

// DefaultCallTimeout bounds a single tool call.
const DefaultCallTimeout = 30 * time.Second

// ErrToolError is returned when the upstream tool reports a failure.
var ErrToolError = errors.New("upstream tool error")

// TransportFactory creates a fresh transport for each connection attempt.
type TransportFactory func() (mcpsdk.Transport, error)

// Upstream executes each action as a tools/call of the same name on an
// upstream MCP server. The session is opened on first use and reopened
// after a transport failure.
type Upstream struct {
	newTransport TransportFactory
	timeout      time.Duration
	version      string
	logger       *slog.Logger

	mu      sync.Mutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession
}

var _ outbound.Executor = (*Upstream)(nil)

// Option configures an Upstream.
type Option func(*Upstream)

// WithCallTimeout bounds each tool call.
func WithCallTimeout(d time.Duration) Option {
	return func(u *Upstream) {
		if d > 0 {
			u.timeout = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(u *Upstream) { u.logger = l }
}

// WithClientVersion sets the version reported in the MCP handshake.
func WithClientVersion(v string) Option {
	return func(u *Upstream) { u.version = v }
}

// NewUpstream creates an executor over transports made by factory.
func NewUpstream(factory TransportFactory, opts ...Option) *Upstream {
	u := &Upstream{
		newTransport: factory,
		timeout:      DefaultCallTimeout,
		version:      "dev",
		logger:       slog.Default(),
	}
	for _, opt := range opts {
		opt(u)
	}
	u.client = mcpsdk.NewClient(&mcpsdk.Implementation{Name: "infragate", Version: u.version}, nil)
	return u
}

// CommandTransport launches command as a stdio MCP server per connection.
// The server's stderr is forwarded to ours.
func CommandTransport(command string, args ...string) TransportFactory {
	return func() (mcpsdk.Transport, error) {
		if command == "" {
			return nil, errors.New("upstream command is empty")
		}
		cmd := exec.Command(command, args...)
		cmd.Stderr = os.Stderr
		return &mcpsdk.CommandTransport{Command: cmd}, nil
	}
}

// HTTPTransport connects to a Streamable HTTP MCP endpoint. A non-empty
// token is sent as a bearer token.
func HTTPTransport(endpoint, token string) TransportFactory {
	return func() (mcpsdk.Transport, error) {
		if endpoint == "" {
			return nil, errors.New("upstream endpoint is empty")
		}
		hc := http.DefaultClient
		if token != "" {
			hc = &http.Client{Transport: bearerTransport{token: token, base: http.DefaultTransport}}
		}
		return &mcpsdk.StreamableClientTransport{Endpoint: endpoint, HTTPClient: hc}, nil
	}
}

type bearerTransport struct {
	token string
	base  http.RoundTripper
}

func (t bearerTransport) RoundTrip(r *http.Request) (*http.Response, error) {
	r = r.Clone(r.Context())
	r.Header.Set("Authorization", "Bearer "+t.token)
	return t.base.RoundTrip(r)
}

// Execute implements outbound.Executor.
func (u *Upstream) Execute(ctx context.Context, action string, args map[string]any) (any, error) {
	session, err := u.connect(ctx)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, u.timeout)
	defer cancel()

	res, err := session.CallTool(callCtx, &mcpsdk.CallToolParams{Name: action, Arguments: args})
	if err != nil {
		// Drop the session so the next call reconnects. Protocol errors
		// leave it usable but are rare enough not to distinguish.
		u.reset(session)
		return nil, fmt.Errorf("call %s upstream: %w", action, err)
	}
	if res.IsError {
		return nil, fmt.Errorf("%w: %s", ErrToolError, contentText(res.Content))
	}
	return toolOutput(res), nil
}

// Tools lists the upstream server's tool names.
func (u *Upstream) Tools(ctx context.Context) ([]string, error) {
	session, err := u.connect(ctx)
	if err != nil {
		return nil, err
	}
	res, err := session.ListTools(ctx, nil)
	if err != nil {
		u.reset(session)
		return nil, fmt.Errorf("list upstream tools: %w", err)
	}
	names := make([]string, 0, len(res.Tools))
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	return names, nil
}

// Close ends the upstream session, if any.
func (u *Upstream) Close() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session == nil {
		return nil
	}
	err := u.session.Close()
	u.session = nil
	return err
}

func (u *Upstream) connect(ctx context.Context) (*mcpsdk.ClientSession, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session != nil {
		return u.session, nil
	}

	t, err := u.newTransport()
	if err != nil {
		return nil, fmt.Errorf("upstream transport: %w", err)
	}
	session, err := u.client.Connect(ctx, t, nil)
	if err != nil {
		return nil, fmt.Errorf("connect upstream: %w", err)
	}
	u.logger.Info("connected to upstream MCP server", "session_id", session.ID())
	u.session = session
	return session, nil
}

func (u *Upstream) reset(session *mcpsdk.ClientSession) {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.session == session {
		_ = session.Close()
		u.session = nil
	}
}

// toolOutput prefers structured content, then JSON text, then plain text.
func toolOutput(res *mcpsdk.CallToolResult) any {
	if res.StructuredContent != nil {
		return res.StructuredContent
	}
	text := contentText(res.Content)
	var decoded any
	if json.Unmarshal([]byte(text), &decoded) == nil {
		return decoded
	}
	return map[string]any{"text": text}
}

func contentText(content []mcpsdk.Content) string {
	var parts []string
	for _, c := range content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}
