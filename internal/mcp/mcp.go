// Package mcp exposes the Agent Hook Surface as a Model Context Protocol
// server, so any MCP-compatible agent can call check/resolveOutcome/
// recordCorrection/recordToolError/setOverride/revokeAll/listActive/
// generateReport without a bespoke transport.
package mcp

import (
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/cortexgate/cortex/internal/core"
)

// serverInstructions is sent to every MCP client during the initialize
// handshake, so every connected agent knows the check-before-tool-call
// workflow without per-project configuration.
const serverInstructions = `You have access to Cortex, the earned-autonomy trust gate guarding
every tool call this agent makes.

WORKFLOW — follow this for every tool call you are about to make:

1. BEFORE calling a tool: call cortex_check with the tool name and its
   arguments. The response tells you whether to proceed (pass), wait for
   human confirmation (pause), or stop (block) — and may attach an
   advisory drawn from SOPs or prior memory you should read before acting.

2. AFTER the tool call runs: if it failed, call cortex_record_tool_error
   so the decision resolves instead of sitting pending. If a human
   corrected your output, call cortex_record_correction.

TOOLS:
- cortex_check: classify and gate an impending tool call (always call first)
- cortex_resolve_outcome: resolve a decision's outcome directly
- cortex_record_correction: log a human correction and resolve the decision it corrects
- cortex_record_tool_error: resolve a decision whose tool call failed
- cortex_set_override: grant or revoke a category-wide autonomy override
- cortex_revoke_all: emergency lockdown, revokes every active override
- cortex_list_active: list currently active overrides
- cortex_generate_report: render the trust score report

Never call cortex_set_override or cortex_revoke_all from a non-interactive
session — the trust core rejects those calls.`

// Server wraps the MCP server with the trust core's Agent Hook Surface.
type Server struct {
	mcpServer *mcpserver.MCPServer
	core      *core.Core
	logger    *slog.Logger
}

// New creates and configures an MCP server exposing c's Agent Hook Surface.
func New(c *core.Core, logger *slog.Logger, version string) *Server {
	s := &Server{core: c, logger: logger}

	s.mcpServer = mcpserver.NewMCPServer(
		"cortex",
		version,
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerTools()

	return s
}

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}

func textResult(text string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: text},
		},
	}
}
