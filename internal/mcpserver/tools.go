package mcpserver

import "github.com/mark3labs/mcp-go/mcp"

// Tool definitions for the guard MCP server.
// Descriptions are what the LLM reads to decide which tool to use.

var ToolCheckAddress = mcp.NewTool("check_address",
	mcp.WithDescription(
		"Check whether a blockchain address is safe to interact with. "+
			"Runs the full risk analysis and returns an ALLOW/WARN/BLOCK verdict "+
			"with a 0-100 risk score and reasoning. Use this before sending funds "+
			"to or calling a contract at an unknown address."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to check (e.g. '0x1234...')")),
)

var ToolGetRiskIntel = mcp.NewTool("get_risk_intel",
	mcp.WithDescription(
		"Get the full risk intelligence report for a blockchain address: "+
			"contract, behavior and reputation sub-scores, every risk flag found, "+
			"and the score calculation. Use this when you need the detail behind "+
			"a verdict, not just allow/block."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to analyze (e.g. '0x1234...')")),
)

var ToolGetWatchlist = mcp.NewTool("get_watchlist",
	mcp.WithDescription(
		"List the addresses the sentinel agent is continuously monitoring, "+
			"along with any active alerts and their on-chain submission state."),
)

var ToolWatchAddress = mcp.NewTool("watch_address",
	mcp.WithDescription(
		"Add an address to the sentinel watchlist for continuous monitoring. "+
			"Confirmed high-risk findings are published to the on-chain report registry."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to monitor (e.g. '0x1234...')")),
)

var ToolUnwatchAddress = mcp.NewTool("unwatch_address",
	mcp.WithDescription(
		"Remove an address from the sentinel watchlist, stopping continuous monitoring."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to stop monitoring (e.g. '0x1234...')")),
)

var ToolAgentStatus = mcp.NewTool("agent_status",
	mcp.WithDescription(
		"Get the operational status of the guardian and sentinel agents: "+
			"running state, last run time, and per-agent counters "+
			"(checks, blocks, monitoring cycles, submissions)."),
)

var ToolCheckHistory = mcp.NewTool("check_history",
	mcp.WithDescription(
		"Get the recorded guardian check history for an address, most recent first. "+
			"Shows past verdicts, scores and timestamps from the audit trail."),
	mcp.WithString("address",
		mcp.Required(),
		mcp.Description("The address to look up (e.g. '0x1234...')")),
	mcp.WithNumber("limit",
		mcp.Description("Maximum number of records to return (default 20)")),
)
