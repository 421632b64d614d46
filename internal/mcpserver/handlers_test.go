package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Test helpers ---

func newTestSetup(handler http.Handler) (*Handlers, func()) {
	ts := httptest.NewServer(handler)
	client := NewGuardClient(Config{APIURL: ts.URL})
	h := NewHandlers(client)
	return h, ts.Close
}

func makeRequest(args map[string]any) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	if args == nil {
		args = map[string]any{}
	}
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content, "expected at least one content block")
	tc, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected TextContent, got %T", result.Content[0])
	return tc.Text
}

// ============================================================
// Client tests
// ============================================================

func TestClient_DoRequest_HTTPError_WithAPIMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "invalid_address",
			"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
		})
	}))
	defer ts.Close()

	client := NewGuardClient(Config{APIURL: ts.URL})
	_, err := client.RiskIntel(context.Background(), "nope")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "400")
	assert.Contains(t, err.Error(), "valid Ethereum address")
}

func TestClient_DoRequest_HTTPError_NonJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("upstream timeout"))
	}))
	defer ts.Close()

	client := NewGuardClient(Config{APIURL: ts.URL})
	_, err := client.Watchlist(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream timeout")
}

func TestClient_DoRequest_ConnectionRefused(t *testing.T) {
	client := NewGuardClient(Config{APIURL: "http://127.0.0.1:1"})
	_, err := client.AgentStatus(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "request failed")
}

func TestClient_CheckAddress_PostsBody(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"allowed":true,"level":"ALLOW","riskScore":5}`))
	}))
	defer ts.Close()

	client := NewGuardClient(Config{APIURL: ts.URL})
	_, err := client.CheckAddress(context.Background(), "0xabc")
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, gotMethod)
	assert.Equal(t, "/api/v1/guardian/check", gotPath)
	assert.Equal(t, "0xabc", gotBody["address"])
}

// ============================================================
// Handler tests
// ============================================================

func TestHandleCheckAddress_Blocked(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"allowed":            false,
			"level":              "BLOCK",
			"recommended_action": "do not interact",
			"riskScore":          85,
			"reasoning":          "Risk score 85 meets or exceeds block threshold 70",
			"confidence":         "medium",
			"addressType":        "contract",
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckAddress(context.Background(), makeRequest(map[string]any{"address": "0xbad"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "BLOCKED: 0xbad")
	assert.Contains(t, text, "BLOCK (score 85/100, medium confidence)")
	assert.Contains(t, text, "do not interact")
	assert.Contains(t, text, "Address type: contract")
}

func TestHandleCheckAddress_Allowed(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"allowed":            true,
			"level":              "ALLOW",
			"recommended_action": "proceed",
			"riskScore":          10,
			"reasoning":          "Risk score 10 is well below block threshold 70",
			"confidence":         "high",
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckAddress(context.Background(), makeRequest(map[string]any{"address": "0xok"}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "ALLOWED: 0xok")
	assert.Contains(t, text, "proceed")
}

func TestHandleCheckAddress_MissingAddress(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no request expected")
	}))
	defer cleanup()

	result, err := h.HandleCheckAddress(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHandleGetRiskIntel(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/intel/0xtoken", r.URL.Path)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"address":     "0xtoken",
			"addressType": "token",
			"breakdown": map[string]int{
				"contract_risk":   75,
				"behavior_risk":   40,
				"reputation_risk": 60,
			},
			"scoreCalculation": map[string]any{
				"finalScore":  85,
				"adjustments": []string{"critical flag present: floor 70 applied"},
			},
			"explanation": map[string]any{
				"summary":         "High risk token contract",
				"keyFindings":     []string{"Known scam address"},
				"recommendations": []string{"Do not interact with this address"},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleGetRiskIntel(context.Background(), makeRequest(map[string]any{"address": "0xtoken"}))
	require.NoError(t, err)
	require.False(t, result.IsError)

	text := resultText(t, result)
	assert.Contains(t, text, "Risk intelligence for 0xtoken (token)")
	assert.Contains(t, text, "Final score: 85/100")
	assert.Contains(t, text, "contract 75, behavior 40, reputation 60")
	assert.Contains(t, text, "Known scam address")
	assert.Contains(t, text, "floor 70 applied")
}

func TestHandleGetWatchlist_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sentinel/watchlist":
			_, _ = w.Write([]byte(`{"addresses":[],"count":0}`))
		case "/api/v1/sentinel/alerts":
			_, _ = w.Write([]byte(`{"alerts":[],"count":0}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer cleanup()

	result, err := h.HandleGetWatchlist(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	assert.Equal(t, "The watchlist is empty.", resultText(t, result))
}

func TestHandleGetWatchlist_WithAlerts(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sentinel/watchlist":
			_, _ = w.Write([]byte(`{"addresses":["0xbad","0xmaybe"],"count":2}`))
		case "/api/v1/sentinel/alerts":
			_ = json.NewEncoder(w).Encode(map[string]any{
				"alerts": []map[string]any{{
					"address":          "0xbad",
					"riskScore":        90,
					"level":            "BLOCK",
					"reason":           "scam database match",
					"submittedToChain": true,
					"txHash":           "0xdeadbeef",
				}},
			})
		default:
			http.NotFound(w, r)
		}
	}))
	defer cleanup()

	result, err := h.HandleGetWatchlist(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "Monitoring 2 address(es)")
	assert.Contains(t, text, "0xmaybe")
	assert.Contains(t, text, "0xbad: BLOCK (score 90)")
	assert.Contains(t, text, "[on-chain: 0xdeadbeef]")
}

func TestHandleGetWatchlist_AlertsUnavailable(t *testing.T) {
	// Alert lookup failure must not hide the watchlist itself.
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/sentinel/watchlist":
			_, _ = w.Write([]byte(`{"addresses":["0xbad"],"count":1}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer cleanup()

	result, err := h.HandleGetWatchlist(context.Background(), makeRequest(nil))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, resultText(t, result), "0xbad")
}

func TestHandleWatchAndUnwatch(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost:
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"address":"0xbad","watched":true}`))
		case r.Method == http.MethodDelete:
			_, _ = w.Write([]byte(`{"address":"0xbad","watched":false}`))
		}
	}))
	defer cleanup()

	result, err := h.HandleWatchAddress(context.Background(), makeRequest(map[string]any{"address": "0xbad"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Now monitoring 0xbad")

	result, err = h.HandleUnwatchAddress(context.Background(), makeRequest(map[string]any{"address": "0xbad"}))
	require.NoError(t, err)
	assert.Contains(t, resultText(t, result), "Stopped monitoring 0xbad")
}

func TestHandleUnwatch_NotWatched(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"error":   "not_watched",
			"message": "Address is not on the watchlist",
		})
	}))
	defer cleanup()

	result, err := h.HandleUnwatchAddress(context.Background(), makeRequest(map[string]any{"address": "0xnope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "not on the watchlist")
}

func TestHandleAgentStatus(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"agents": map[string]any{
				"guardian": map[string]any{
					"name":        "guardian",
					"running":     true,
					"successRate": 1.0,
					"counters":    map[string]int64{"checks": 12, "blocked": 3},
				},
				"sentinel": map[string]any{
					"name":        "sentinel",
					"running":     false,
					"successRate": 0.75,
					"counters":    map[string]int64{"cycles": 40},
				},
			},
		})
	}))
	defer cleanup()

	result, err := h.HandleAgentStatus(context.Background(), makeRequest(nil))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "guardian: running (success rate 100%)")
	assert.Contains(t, text, "sentinel: stopped (success rate 75%)")
	assert.Contains(t, text, "checks: 12")
	assert.Contains(t, text, "cycles: 40")
}

func TestHandleCheckHistory(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/guardian/checks/0xabc", r.URL.Path)
		assert.Equal(t, "5", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"address": "0xabc",
			"count":   1,
			"checks": []map[string]any{{
				"risk_score": 85,
				"level":      "BLOCK",
				"allowed":    false,
				"checked_at": "2026-08-25T12:00:00Z",
			}},
		})
	}))
	defer cleanup()

	result, err := h.HandleCheckHistory(context.Background(), makeRequest(map[string]any{"address": "0xabc", "limit": 5}))
	require.NoError(t, err)

	text := resultText(t, result)
	assert.Contains(t, text, "1 recorded check(s) for 0xabc")
	assert.Contains(t, text, "BLOCK, score 85, blocked")
}

func TestHandleCheckHistory_Empty(t *testing.T) {
	h, cleanup := newTestSetup(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"address":"0xabc","count":0,"checks":[]}`))
	}))
	defer cleanup()

	result, err := h.HandleCheckHistory(context.Background(), makeRequest(map[string]any{"address": "0xabc"}))
	require.NoError(t, err)
	assert.Equal(t, "No recorded checks for 0xabc.", resultText(t, result))
}
