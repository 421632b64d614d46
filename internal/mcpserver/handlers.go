package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
)

// Handlers holds the handler functions for each MCP tool.
type Handlers struct {
	client *GuardClient
}

// NewHandlers creates a new Handlers instance.
func NewHandlers(client *GuardClient) *Handlers {
	return &Handlers{client: client}
}

// HandleCheckAddress runs a guardian check and formats the verdict.
func (h *Handlers) HandleCheckAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	raw, err := h.client.CheckAddress(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Check failed: %v", err)), nil
	}

	text, err := formatCheck(address, raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse check result: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetRiskIntel returns the full intelligence report.
func (h *Handlers) HandleGetRiskIntel(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	raw, err := h.client.RiskIntel(ctx, address)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Intel lookup failed: %v", err)), nil
	}

	text, err := formatIntel(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse intel: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleGetWatchlist lists monitored addresses and active alerts.
func (h *Handlers) HandleGetWatchlist(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	watchRaw, err := h.client.Watchlist(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Watchlist lookup failed: %v", err)), nil
	}

	// Alerts are best-effort enrichment; the watchlist alone is still useful.
	alertsRaw, alertsErr := h.client.Alerts(ctx)

	text, err := formatWatchlist(watchRaw, alertsRaw, alertsErr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse watchlist: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleWatchAddress adds an address to the watchlist.
func (h *Handlers) HandleWatchAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	if _, err := h.client.WatchAddress(ctx, address); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to watch address: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf(
		"Now monitoring %s. The sentinel re-evaluates it every cycle and publishes "+
			"confirmed high-risk findings to the on-chain registry.", address)), nil
}

// HandleUnwatchAddress removes an address from the watchlist.
func (h *Handlers) HandleUnwatchAddress(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}

	if _, err := h.client.UnwatchAddress(ctx, address); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to unwatch address: %v", err)), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Stopped monitoring %s.", address)), nil
}

// HandleAgentStatus reports both agents' operational state.
func (h *Handlers) HandleAgentStatus(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	raw, err := h.client.AgentStatus(ctx)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Status lookup failed: %v", err)), nil
	}

	text, err := formatAgentStatus(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse status: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// HandleCheckHistory returns the recorded checks for an address.
func (h *Handlers) HandleCheckHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	address := req.GetString("address", "")
	if address == "" {
		return mcp.NewToolResultError("address is required"), nil
	}
	limit := req.GetInt("limit", 20)

	raw, err := h.client.CheckHistory(ctx, address, limit)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("History lookup failed: %v", err)), nil
	}

	text, err := formatCheckHistory(raw)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("Failed to parse history: %v", err)), nil
	}

	return mcp.NewToolResultText(text), nil
}

// -----------------------------------------------------------------------------
// Formatters
// -----------------------------------------------------------------------------

type checkResponse struct {
	Allowed           bool   `json:"allowed"`
	Level             string `json:"level"`
	RecommendedAction string `json:"recommended_action"`
	RiskScore         int    `json:"riskScore"`
	Reasoning         string `json:"reasoning"`
	Confidence        string `json:"confidence"`
	AddressType       string `json:"addressType"`
}

func formatCheck(address string, raw json.RawMessage) (string, error) {
	var resp checkResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	verdict := "BLOCKED"
	if resp.Allowed {
		verdict = "ALLOWED"
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%s: %s\n\n", verdict, address)
	fmt.Fprintf(&sb, "Risk level: %s (score %d/100, %s confidence)\n", resp.Level, resp.RiskScore, resp.Confidence)
	if resp.AddressType != "" {
		fmt.Fprintf(&sb, "Address type: %s\n", resp.AddressType)
	}
	fmt.Fprintf(&sb, "Recommendation: %s\n", resp.RecommendedAction)
	fmt.Fprintf(&sb, "Reasoning: %s", resp.Reasoning)
	return sb.String(), nil
}

type intelResponse struct {
	Address     string `json:"address"`
	AddressType string `json:"addressType"`
	Breakdown   struct {
		ContractRisk   int `json:"contract_risk"`
		BehaviorRisk   int `json:"behavior_risk"`
		ReputationRisk int `json:"reputation_risk"`
	} `json:"breakdown"`
	Calculation struct {
		FinalScore  int      `json:"finalScore"`
		Adjustments []string `json:"adjustments"`
	} `json:"scoreCalculation"`
	Explanation struct {
		Summary         string   `json:"summary"`
		KeyFindings     []string `json:"keyFindings"`
		Recommendations []string `json:"recommendations"`
	} `json:"explanation"`
}

func formatIntel(raw json.RawMessage) (string, error) {
	var r intelResponse
	if err := json.Unmarshal(raw, &r); err != nil {
		return "", err
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Risk intelligence for %s (%s)\n\n", r.Address, r.AddressType)
	fmt.Fprintf(&sb, "Final score: %d/100\n", r.Calculation.FinalScore)
	fmt.Fprintf(&sb, "Breakdown: contract %d, behavior %d, reputation %d\n\n",
		r.Breakdown.ContractRisk, r.Breakdown.BehaviorRisk, r.Breakdown.ReputationRisk)
	fmt.Fprintf(&sb, "Summary: %s\n", r.Explanation.Summary)

	if len(r.Explanation.KeyFindings) > 0 {
		sb.WriteString("\nKey findings:\n")
		for _, f := range r.Explanation.KeyFindings {
			fmt.Fprintf(&sb, "  - %s\n", f)
		}
	}
	if len(r.Calculation.Adjustments) > 0 {
		sb.WriteString("\nScore adjustments:\n")
		for _, a := range r.Calculation.Adjustments {
			fmt.Fprintf(&sb, "  - %s\n", a)
		}
	}
	if len(r.Explanation.Recommendations) > 0 {
		sb.WriteString("\nRecommendations:\n")
		for _, rec := range r.Explanation.Recommendations {
			fmt.Fprintf(&sb, "  - %s\n", rec)
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

type watchlistResponse struct {
	Addresses []string `json:"addresses"`
	Count     int      `json:"count"`
}

type alertsResponse struct {
	Alerts []struct {
		Address          string `json:"address"`
		RiskScore        int    `json:"riskScore"`
		Level            string `json:"level"`
		Reason           string `json:"reason"`
		SubmittedToChain bool   `json:"submittedToChain"`
		TxHash           string `json:"txHash"`
	} `json:"alerts"`
}

func formatWatchlist(watchRaw, alertsRaw json.RawMessage, alertsErr error) (string, error) {
	var wl watchlistResponse
	if err := json.Unmarshal(watchRaw, &wl); err != nil {
		return "", err
	}

	if wl.Count == 0 {
		return "The watchlist is empty.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Monitoring %d address(es):\n", wl.Count)
	for _, addr := range wl.Addresses {
		fmt.Fprintf(&sb, "  - %s\n", addr)
	}

	if alertsErr == nil && alertsRaw != nil {
		var al alertsResponse
		if err := json.Unmarshal(alertsRaw, &al); err == nil && len(al.Alerts) > 0 {
			sb.WriteString("\nActive alerts:\n")
			for _, a := range al.Alerts {
				fmt.Fprintf(&sb, "  - %s: %s (score %d) %s", a.Address, a.Level, a.RiskScore, a.Reason)
				if a.SubmittedToChain {
					fmt.Fprintf(&sb, " [on-chain: %s]", a.TxHash)
				}
				sb.WriteString("\n")
			}
		}
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

type agentStatusResponse struct {
	Agents map[string]struct {
		Running     bool             `json:"running"`
		LastRun     string           `json:"lastRun"`
		SuccessRate float64          `json:"successRate"`
		Counters    map[string]int64 `json:"counters"`
	} `json:"agents"`
}

func formatAgentStatus(raw json.RawMessage) (string, error) {
	var resp agentStatusResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, name := range []string{"guardian", "sentinel"} {
		st, ok := resp.Agents[name]
		if !ok {
			continue
		}
		state := "stopped"
		if st.Running {
			state = "running"
		}
		fmt.Fprintf(&sb, "%s: %s (success rate %.0f%%)\n", name, state, st.SuccessRate*100)
		for counter, value := range st.Counters {
			fmt.Fprintf(&sb, "  %s: %d\n", counter, value)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("no agents in response")
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}

type checkHistoryResponse struct {
	Address string `json:"address"`
	Count   int    `json:"count"`
	Checks  []struct {
		RiskScore int    `json:"risk_score"`
		Level     string `json:"level"`
		Allowed   bool   `json:"allowed"`
		CheckedAt string `json:"checked_at"`
	} `json:"checks"`
}

func formatCheckHistory(raw json.RawMessage) (string, error) {
	var resp checkHistoryResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return "", err
	}

	if resp.Count == 0 {
		return fmt.Sprintf("No recorded checks for %s.", resp.Address), nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d recorded check(s) for %s (most recent first):\n", resp.Count, resp.Address)
	for _, c := range resp.Checks {
		verdict := "blocked"
		if c.Allowed {
			verdict = "allowed"
		}
		fmt.Fprintf(&sb, "  - %s: %s, score %d, %s\n", c.CheckedAt, c.Level, c.RiskScore, verdict)
	}
	return strings.TrimRight(sb.String(), "\n"), nil
}
