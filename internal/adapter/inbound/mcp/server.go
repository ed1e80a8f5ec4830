// Package mcp exposes the gateway to agents as an MCP server over stdio.
// Every tool call runs as the single identity the server was started with.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/Sentinel-Gate/infragate/internal/domain/auth"
	"github.com/Sentinel-Gate/infragate/internal/domain/proposal"
	"github.com/Sentinel-Gate/infragate/internal/port/inbound"
)

// ServerName is reported to MCP clients.
const ServerName = "infragate"

// ErrNoIdentity is returned when the server is created without a caller.
var ErrNoIdentity = errors.New("mcp server requires an authenticated identity")

// Deps are the gateway ports the tools call.
type Deps struct {
	Mediator inbound.Mediator
	Queries  inbound.QueryRunner
	Catalog  *proposal.Catalog
}

// Server wraps the MCP SDK server with the gateway's tools.
type Server struct {
	mcpServer *mcpsdk.Server
	deps      Deps
	caller    *auth.Identity
	logger    *slog.Logger
}

// New creates an MCP server acting as caller.
func New(deps Deps, caller *auth.Identity, version string, logger *slog.Logger) (*Server, error) {
	if caller == nil {
		return nil, ErrNoIdentity
	}
	if deps.Mediator == nil || deps.Queries == nil || deps.Catalog == nil {
		return nil, fmt.Errorf("mcp server: mediator, queries and catalog are required")
	}
	s := &Server{
		deps:   deps,
		caller: caller,
		logger: logger.With("transport", "mcp", "identity_id", caller.ID),
	}

	s.mcpServer = mcpsdk.NewServer(
		&mcpsdk.Implementation{
			Name:    ServerName,
			Version: version,
		},
		nil,
	)

	s.registerTools()
	return s, nil
}

// Run serves MCP on stdin/stdout. Blocks until ctx is cancelled or the
// client disconnects.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("serving MCP on stdio")
	return s.mcpServer.Run(ctx, &mcpsdk.StdioTransport{})
}

// Connect serves one session on t. Used to attach in-process clients.
func (s *Server) Connect(ctx context.Context, t mcpsdk.Transport) (*mcpsdk.ServerSession, error) {
	return s.mcpServer.Connect(ctx, t, nil)
}

// registerTools adds all gateway tools to the MCP server.
func (s *Server) registerTools() {
	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "list_actions",
		Description: "List the infrastructure actions the gateway mediates, with their argument schemas. Mutating actions need human confirmation.",
	}, s.handleListActions)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name: "propose_action",
		Description: "Propose an infrastructure action. Read-only actions run immediately. Mutating actions return status=pending " +
			"with a content_hash: show the proposal to the user, and only after they explicitly agree call confirm_action, then propose the identical action again.",
	}, s.handlePropose)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "confirm_action",
		Description: "Record the user's explicit answer to a pending proposal. Pass the user's reply verbatim in message; never confirm on the user's behalf.",
	}, s.handleConfirm)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "run_query",
		Description: "Run a read-only SQL statement (SELECT, WITH, EXPLAIN). Statements that could modify data are rejected. Personal data is masked.",
	}, s.handleQuery)

	mcpsdk.AddTool(s.mcpServer, &mcpsdk.Tool{
		Name:        "end_session",
		Description: "Discard all pending confirmations and messages for a session.",
	}, s.handleEndSession)
}
