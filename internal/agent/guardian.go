package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/mbd888/chainguard/internal/audit"
	"github.com/mbd888/chainguard/internal/decision"
	"github.com/mbd888/chainguard/internal/idgen"
	"github.com/mbd888/chainguard/internal/intel"
	"github.com/mbd888/chainguard/internal/metrics"
	"github.com/mbd888/chainguard/internal/traces"
)

// EscalationScore is the score at or above which a guardian check also
// places the address on the sentinel watchlist.
const EscalationScore = 70

const failSafeReasoning = "analysis unavailable — blocked for safety"

const auditWriteTimeout = 5 * time.Second

// Watchlister is the sentinel surface the guardian escalates into.
type Watchlister interface {
	AddWatch(address string) error
}

// CheckResponse is the guardian's verdict for one address.
type CheckResponse struct {
	Allowed           bool                `json:"allowed"`
	Level             decision.Level      `json:"level"`
	RecommendedAction string              `json:"recommended_action"`
	RiskScore         int                 `json:"riskScore"`
	Reasoning         string              `json:"reasoning"`
	Confidence        decision.Confidence `json:"confidence"`
	AddressType       intel.AddressType   `json:"addressType,omitempty"`
	CheckedAt         time.Time           `json:"checkedAt"`
}

// Guardian is a stateless request gate: every check runs a fresh analysis
// and fails safe to BLOCK when anything goes wrong.
type Guardian struct {
	engine    Analyzer
	threshold int
	watchlist Watchlister
	store     audit.Store
	logger    *slog.Logger

	mu      sync.Mutex
	running bool
	lastRun time.Time
	checks  int64
	allowed int64
	blocked int64
	errors  int64
}

// NewGuardian creates a guardian. watchlist and store are optional; a nil
// watchlist disables escalation, a nil store disables audit recording.
func NewGuardian(engine Analyzer, threshold int, watchlist Watchlister, store audit.Store, logger *slog.Logger) *Guardian {
	if logger == nil {
		logger = slog.Default()
	}
	return &Guardian{
		engine:    engine,
		threshold: threshold,
		watchlist: watchlist,
		store:     store,
		logger:    logger,
		running:   true,
	}
}

// Check analyzes an address and gates it against the guardian threshold.
// It never returns an error: any failure inside analysis or decision
// produces the fail-safe BLOCK response.
func (g *Guardian) Check(ctx context.Context, address string) (resp CheckResponse) {
	ctx, span := traces.StartSpan(ctx, "guardian.Check", traces.Address(address))
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			g.logger.Error("guardian check panicked, failing safe",
				"address", address, "panic", r)
			g.mu.Lock()
			g.errors++
			g.blocked++
			g.mu.Unlock()
			metrics.GuardianChecksTotal.WithLabelValues("failsafe").Inc()
			resp = failSafeResponse()
		}
	}()

	g.mu.Lock()
	g.checks++
	g.lastRun = time.Now().UTC()
	g.mu.Unlock()

	result := g.engine.Analyze(ctx, address)
	d := decision.Decide(result.FinalScore(), g.threshold)

	if result.FinalScore() >= EscalationScore && g.watchlist != nil {
		if err := g.watchlist.AddWatch(address); err != nil {
			g.logger.Warn("failed to escalate address to watchlist",
				"address", address, "error", err)
		} else {
			g.logger.Info("address escalated to watchlist",
				"address", address, "score", result.FinalScore())
		}
	}

	g.mu.Lock()
	if d.Allowed {
		g.allowed++
	} else {
		g.blocked++
	}
	g.mu.Unlock()

	resp = CheckResponse{
		Allowed:           d.Allowed,
		Level:             d.Level,
		RecommendedAction: decision.RecommendedAction(d.Level),
		RiskScore:         d.RiskScore,
		Reasoning:         d.Reasoning,
		Confidence:        d.Confidence,
		AddressType:       result.AddressType,
		CheckedAt:         d.Timestamp,
	}

	span.SetAttributes(traces.Score(d.RiskScore), traces.Level(string(d.Level)))
	metrics.GuardianChecksTotal.WithLabelValues(string(d.Level)).Inc()

	if g.store != nil {
		go g.record(address, resp)
	}
	return resp
}

// record writes the check to the audit store, detached from the request.
func (g *Guardian) record(address string, resp CheckResponse) {
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()

	err := g.store.Record(ctx, &audit.CheckRecord{
		ID:          idgen.WithPrefix("chk_"),
		Address:     address,
		AddressType: string(resp.AddressType),
		RiskScore:   resp.RiskScore,
		Level:       string(resp.Level),
		Allowed:     resp.Allowed,
		Confidence:  string(resp.Confidence),
		Reasoning:   resp.Reasoning,
		CheckedAt:   resp.CheckedAt,
	})
	if err != nil {
		g.logger.Warn("failed to record guardian check", "address", address, "error", err)
	}
}

func failSafeResponse() CheckResponse {
	return CheckResponse{
		Allowed:           false,
		Level:             decision.LevelBlock,
		RecommendedAction: decision.RecommendedAction(decision.LevelBlock),
		RiskScore:         100,
		Reasoning:         failSafeReasoning,
		Confidence:        decision.ConfidenceHigh,
		CheckedAt:         time.Now().UTC(),
	}
}

// Stop marks the guardian stopped. Checks are request-driven, so this only
// affects reported status.
func (g *Guardian) Stop() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = false
}

// Start marks the guardian ready.
func (g *Guardian) Start() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.running = true
}

// Status reports the guardian's counters.
func (g *Guardian) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	return Status{
		Name:        "guardian",
		Running:     g.running,
		LastRun:     g.lastRun,
		SuccessRate: successRate(g.checks, g.errors),
		Counters: map[string]int64{
			"checks":  g.checks,
			"allowed": g.allowed,
			"blocked": g.blocked,
			"errors":  g.errors,
		},
	}
}
