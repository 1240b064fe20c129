// Package mcp implements the Model Context Protocol server for the workbench.
//
// The MCP server exposes run invocation, status polling, waiting and cursor
// listing as tools, allowing MCP-compatible agents to drive workbench actions
// with the same timeout and idempotency rules as the CLI.
package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/workbench/internal/invoke"
	"github.com/ashita-ai/workbench/internal/ledger"
	"github.com/ashita-ai/workbench/internal/listing"
	"github.com/ashita-ai/workbench/internal/model"
	"github.com/ashita-ai/workbench/internal/runner"
)

// Orchestrator is the client surface the tools are built on.
type Orchestrator interface {
	Run(ctx context.Context, req invoke.Request, timeout time.Duration) (runner.Outcome, error)
	Invoke(ctx context.Context, req invoke.Request) (model.RunHandle, error)
	Status(ctx context.Context, runID int64) (model.RunStatus, error)
	Observe(ctx context.Context, actionID string, handle model.RunHandle, timeout time.Duration) (runner.Outcome, error)
	FetchPage(ctx context.Context, req listing.PageRequest, timeout time.Duration) (listing.PageResult, error)
	PolicyPrompt(ctx context.Context) (string, error)
	PendingRuns(ctx context.Context) ([]ledger.Entry, error)
	Timeout(actionID string) time.Duration
	RequiresConfirmation(actionID string) bool
}

// Config wires a Server.
type Config struct {
	Orchestrator Orchestrator
	// ConversationID and PluginID are used when a tool call omits them.
	ConversationID string
	PluginID       string
	Logger         *slog.Logger
	Version        string
}

// Server wraps the MCP server with the workbench client.
type Server struct {
	mcpServer      *mcpserver.MCPServer
	orch           Orchestrator
	conversationID string
	pluginID       string
	confirmations  *confirmationTracker
	logger         *slog.Logger
}

// confirmationWindow is how long an issued confirmation token stays usable.
const confirmationWindow = 10 * time.Minute

// New creates and configures a new MCP server with all resources, tools and prompts.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	s := &Server{
		orch:           cfg.Orchestrator,
		conversationID: cfg.ConversationID,
		pluginID:       cfg.PluginID,
		confirmations:  newConfirmationTracker(confirmationWindow),
		logger:         logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"workbench",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithPromptCapabilities(true),
	)

	s.registerResources()
	s.registerTools()
	s.registerPrompts()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// ServeStdio runs the server over stdin/stdout until the input closes.
func (s *Server) ServeStdio() error {
	return mcpserver.ServeStdio(s.mcpServer)
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func jsonResult(v any) *mcplib.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("encode result: " + err.Error())
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}
}
