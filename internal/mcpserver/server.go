package mcpserver

import (
	"github.com/mark3labs/mcp-go/server"
)

// NewMCPServer creates a configured MCP server with all guard tools registered.
func NewMCPServer(cfg Config) *server.MCPServer {
	s := server.NewMCPServer("chainguard", "1.0.0")
	client := NewGuardClient(cfg)
	h := NewHandlers(client)

	s.AddTool(ToolCheckAddress, h.HandleCheckAddress)
	s.AddTool(ToolGetRiskIntel, h.HandleGetRiskIntel)
	s.AddTool(ToolGetWatchlist, h.HandleGetWatchlist)
	s.AddTool(ToolWatchAddress, h.HandleWatchAddress)
	s.AddTool(ToolUnwatchAddress, h.HandleUnwatchAddress)
	s.AddTool(ToolAgentStatus, h.HandleAgentStatus)
	s.AddTool(ToolCheckHistory, h.HandleCheckHistory)

	return s
}
