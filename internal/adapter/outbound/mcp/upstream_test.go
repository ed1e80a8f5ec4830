package mcp

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync/atomic"
	"testing"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"
)

type restartInput struct {
	Name string `json:"name"`
}

func newUpstreamServer() *mcpsdk.Server {
	server := mcpsdk.NewServer(&mcpsdk.Implementation{Name: "ops-tools", Version: "1.0.0"}, nil)
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "restart_deployment", Description: "Restart a deployment"},
		func(ctx context.Context, req *mcpsdk.CallToolRequest, in restartInput) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: fmt.Sprintf(`{"restarted":%q}`, in.Name)}},
			}, nil, nil
		})
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "get_logs", Description: "Tail logs"},
		func(ctx context.Context, req *mcpsdk.CallToolRequest, in restartInput) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "line one"}},
			}, nil, nil
		})
	mcpsdk.AddTool(server, &mcpsdk.Tool{Name: "scale_deployment", Description: "Scale a deployment"},
		func(ctx context.Context, req *mcpsdk.CallToolRequest, in restartInput) (*mcpsdk.CallToolResult, any, error) {
			return &mcpsdk.CallToolResult{
				IsError: true,
				Content: []mcpsdk.Content{&mcpsdk.TextContent{Text: "quota exceeded"}},
			}, nil, nil
		})
	return server
}

// inMemoryFactory connects a fresh server session per transport and
// counts connections.
func inMemoryFactory(t *testing.T, ctx context.Context, server *mcpsdk.Server, dials *atomic.Int32) TransportFactory {
	return func() (mcpsdk.Transport, error) {
		dials.Add(1)
		clientT, serverT := mcpsdk.NewInMemoryTransports()
		ss, err := server.Connect(ctx, serverT, nil)
		if err != nil {
			return nil, err
		}
		t.Cleanup(func() { _ = ss.Close() })
		return clientT, nil
	}
}

func newTestUpstream(t *testing.T) (*Upstream, *atomic.Int32) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	var dials atomic.Int32
	u := NewUpstream(inMemoryFactory(t, ctx, newUpstreamServer(), &dials),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
		WithClientVersion("test"),
	)
	t.Cleanup(func() { _ = u.Close() })
	return u, &dials
}

func TestUpstream_Execute(t *testing.T) {
	u, dials := newTestUpstream(t)
	ctx := context.Background()

	tests := []struct {
		action  string
		want    string
		wantErr error
	}{
		{"restart_deployment", "map[restarted:payment-service]", nil},
		{"get_logs", "map[text:line one]", nil},
		{"scale_deployment", "", ErrToolError},
	}
	for _, tt := range tests {
		t.Run(tt.action, func(t *testing.T) {
			out, err := u.Execute(ctx, tt.action, map[string]any{"name": "payment-service"})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("err = %v, want %v", err, tt.wantErr)
				}
				if !strings.Contains(err.Error(), "quota exceeded") {
					t.Errorf("err = %v, want upstream text", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Execute() error: %v", err)
			}
			if got := fmt.Sprint(out); got != tt.want {
				t.Errorf("output = %s, want %s", got, tt.want)
			}
		})
	}

	if n := dials.Load(); n != 1 {
		t.Errorf("connections = %d, want one reused session", n)
	}
}

func TestUpstream_Tools(t *testing.T) {
	u, _ := newTestUpstream(t)

	names, err := u.Tools(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	sort.Strings(names)
	want := "get_logs,restart_deployment,scale_deployment"
	if strings.Join(names, ",") != want {
		t.Errorf("tools = %v, want %s", names, want)
	}
}

func TestUpstream_ReconnectsAfterClose(t *testing.T) {
	u, dials := newTestUpstream(t)
	ctx := context.Background()

	if _, err := u.Execute(ctx, "get_logs", map[string]any{"name": "x"}); err != nil {
		t.Fatal(err)
	}
	if err := u.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := u.Execute(ctx, "get_logs", map[string]any{"name": "x"}); err != nil {
		t.Fatal(err)
	}
	if n := dials.Load(); n != 2 {
		t.Errorf("connections = %d, want 2", n)
	}
}

func TestUpstream_TransportError(t *testing.T) {
	u := NewUpstream(func() (mcpsdk.Transport, error) {
		return nil, errors.New("no route")
	})
	if _, err := u.Execute(context.Background(), "get_logs", nil); err == nil || !strings.Contains(err.Error(), "no route") {
		t.Errorf("err = %v", err)
	}
}

func TestTransportFactories_Empty(t *testing.T) {
	if _, err := CommandTransport("")(); err == nil {
		t.Error("empty command should fail")
	}
	if _, err := HTTPTransport("", "")(); err == nil {
		t.Error("empty endpoint should fail")
	}
}

func TestBearerTransport(t *testing.T) {
	var got string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	hc := &http.Client{Transport: bearerTransport{token: "s3cret", base: http.DefaultTransport}}
	resp, err := hc.Get(srv.URL)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if got != "Bearer s3cret" {
		t.Errorf("Authorization = %q", got)
	}
}
