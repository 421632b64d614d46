package intel

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mbd888/chainguard/internal/metrics"
)

// Scam-database analyzer condition weights.
const (
	weightKnownScam          = 60
	weightFlaggedDeployer    = 40
	weightLinkedScamContract = 50
	weightLinkedRugpull      = 50

	scamFallbackScore = 5
)

// StaticScamList is an in-memory ScamListProvider backed by a fixed
// address → reason map. Used as the default database and in tests.
type StaticScamList struct {
	mu      sync.RWMutex
	entries map[string]string
}

// NewStaticScamList builds a static list; keys are lowercased.
func NewStaticScamList(entries map[string]string) *StaticScamList {
	m := make(map[string]string, len(entries))
	for addr, reason := range entries {
		m[strings.ToLower(addr)] = reason
	}
	return &StaticScamList{entries: m}
}

// Add inserts or replaces an entry.
func (l *StaticScamList) Add(address, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[strings.ToLower(address)] = reason
}

// Lookup reports whether the address is listed.
func (l *StaticScamList) Lookup(_ context.Context, address string) (bool, string, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	reason, ok := l.entries[strings.ToLower(address)]
	return ok, reason, nil
}

// ScamAnalyzer checks an address and its associations against a scam list.
type ScamAnalyzer struct {
	list   ScamListProvider
	logger *slog.Logger
}

// NewScamAnalyzer creates a scam-database analyzer.
func NewScamAnalyzer(list ScamListProvider, logger *slog.Logger) *ScamAnalyzer {
	return &ScamAnalyzer{list: list, logger: logger}
}

// Analyze scores scam-database risk using context from phase 1 (deployer and
// previously deployed contracts). Provider failures degrade to a fallback
// score; this method never returns an error.
func (a *ScamAnalyzer) Analyze(ctx context.Context, address string, sc ScamContext) ScamResult {
	res := ScamResult{}
	score := 0

	found, reason, err := a.list.Lookup(ctx, address)
	if err != nil {
		a.logger.Warn("scam-db analysis degraded", "address", address, "error", err)
		metrics.AnalyzerFailuresTotal.WithLabelValues("scam_db").Inc()
		return ScamResult{
			Flags: []Flag{{
				ID:          "analysis_error",
				Name:        "Scam database unavailable",
				Severity:    SeverityLow,
				Description: "Scam list lookup failed; reputation is unknown.",
				Evidence:    err.Error(),
				Category:    "scam_db",
				RiskWeight:  scamFallbackScore,
			}},
			Score: scamFallbackScore,
		}
	}

	if found {
		res.KnownScam = true
		res.Blacklisted = true
		res.Flags = append(res.Flags, Flag{
			ID:          "known_scam",
			Name:        "Known scam address",
			Severity:    SeverityCritical,
			Description: "Address is present in the scam database.",
			Evidence:    reason,
			Source:      "scam database",
			Category:    "scam_db",
			RiskWeight:  weightKnownScam,
		})
		score += weightKnownScam
	}

	if sc.Deployer != "" {
		if dFound, dReason, dErr := a.list.Lookup(ctx, sc.Deployer); dErr == nil && dFound {
			res.LinkedRugpull = true
			res.Flags = append(res.Flags, Flag{
				ID:          "flagged_deployer",
				Name:        "Flagged deployer",
				Severity:    SeverityHigh,
				Description: "The contract's deployer has scam history.",
				Evidence:    fmt.Sprintf("deployer %s: %s", sc.Deployer, dReason),
				Source:      "scam database",
				Category:    "scam_db",
				RiskWeight:  weightFlaggedDeployer,
			})
			score += weightFlaggedDeployer
		}
	}

	for _, deployed := range sc.DeployedContracts {
		if cFound, cReason, cErr := a.list.Lookup(ctx, deployed); cErr == nil && cFound {
			res.LinkedRugpull = true
			res.Flags = append(res.Flags, Flag{
				ID:          "linked_scam_contract",
				Name:        "Linked scam contract",
				Severity:    SeverityCritical,
				Description: "A contract deployed by this wallet is a known scam.",
				Evidence:    fmt.Sprintf("deployed %s: %s", deployed, cReason),
				Source:      "scam database",
				Category:    "scam_db",
				RiskWeight:  weightLinkedScamContract,
			})
			score += weightLinkedScamContract
			break
		}
	}

	if sc.HasDestroyedContract {
		res.LinkedRugpull = true
		res.Flags = append(res.Flags, Flag{
			ID:          "linked_rugpull",
			Name:        "Linked rugpull pattern",
			Severity:    SeverityCritical,
			Description: "Wallet history includes a destroyed deployed contract.",
			Evidence:    "destroyed contract in deployment history",
			Category:    "scam_db",
			RiskWeight:  weightLinkedRugpull,
		})
		score += weightLinkedRugpull
	}

	res.Score = clampScore(score)
	return res
}
