package intel

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/mbd888/chainguard/internal/metrics"
)

// Behavior analyzer condition weights.
const (
	weightZeroTx          = 15
	weightNewAddress      = 10
	weightBurstActivity   = 15
	weightHighFailureRate = 10
	weightPassThrough     = 20

	behaviorFallbackScore = 30
	behaviorTxLimit       = 200
	burstTxThreshold      = 50
)

// BehaviorAnalyzer scores an address by its on-chain transaction patterns.
type BehaviorAnalyzer struct {
	chain   ChainReader
	history HistoryProvider
	logger  *slog.Logger
}

// NewBehaviorAnalyzer creates a behavior analyzer.
func NewBehaviorAnalyzer(chain ChainReader, history HistoryProvider, logger *slog.Logger) *BehaviorAnalyzer {
	return &BehaviorAnalyzer{chain: chain, history: history, logger: logger}
}

// Analyze scores behavioral risk. Provider failures degrade to a fallback
// score; this method never returns an error.
func (a *BehaviorAnalyzer) Analyze(ctx context.Context, address string) BehaviorResult {
	txs, err := a.history.Transactions(ctx, address, behaviorTxLimit)
	if err != nil {
		a.logger.Warn("behavior analysis degraded", "address", address, "error", err)
		metrics.AnalyzerFailuresTotal.WithLabelValues("behavior").Inc()
		return BehaviorResult{
			Flags: []Flag{{
				ID:          "analysis_error",
				Name:        "Behavior analysis unavailable",
				Severity:    SeverityMedium,
				Description: "Transaction history could not be fetched; behavioral risk is unknown.",
				Evidence:    err.Error(),
				Category:    "behavior",
				RiskWeight:  behaviorFallbackScore,
			}},
			Score: behaviorFallbackScore,
		}
	}

	res := BehaviorResult{TxCount: len(txs)}
	score := 0

	if len(txs) == 0 {
		res.Flags = append(res.Flags, Flag{
			ID:          "zero_tx",
			Name:        "No transaction history",
			Severity:    SeverityLow,
			Description: "Address has no recorded transactions.",
			Evidence:    "empty transaction list",
			Category:    "behavior",
			RiskWeight:  weightZeroTx,
		})
		res.Score = clampScore(weightZeroTx)
		return res
	}

	now := time.Now().UTC()

	// History arrives newest-first; the last entry is the first activity.
	firstSeen := txs[len(txs)-1].Timestamp
	if now.Sub(firstSeen) < 7*24*time.Hour {
		res.Flags = append(res.Flags, Flag{
			ID:          "new_address",
			Name:        "Recently active address",
			Severity:    SeverityLow,
			Description: "First observed activity is less than a week old.",
			Evidence:    fmt.Sprintf("first tx at %s", firstSeen.Format(time.RFC3339)),
			Category:    "behavior",
			RiskWeight:  weightNewAddress,
		})
		score += weightNewAddress
	}

	var last24h, failed int
	received := new(big.Int)
	for _, tx := range txs {
		if now.Sub(tx.Timestamp) < 24*time.Hour {
			last24h++
		}
		if tx.Failed {
			failed++
		}
		if tx.To == address {
			if v, ok := new(big.Int).SetString(tx.Value, 10); ok {
				received.Add(received, v)
			}
		}
	}

	if last24h >= burstTxThreshold {
		res.Flags = append(res.Flags, Flag{
			ID:          "burst_activity",
			Name:        "Burst activity",
			Severity:    SeverityMedium,
			Description: "Unusually high transaction rate in the last 24 hours.",
			Evidence:    fmt.Sprintf("%d transactions in 24h", last24h),
			Category:    "behavior",
			RiskWeight:  weightBurstActivity,
		})
		score += weightBurstActivity
	}

	if len(txs) >= 5 && failed*10 >= len(txs)*3 { // failure rate >= 30%
		res.Flags = append(res.Flags, Flag{
			ID:          "high_failure_rate",
			Name:        "High transaction failure rate",
			Severity:    SeverityMedium,
			Description: "A large share of transactions revert or fail.",
			Evidence:    fmt.Sprintf("%d of %d transactions failed", failed, len(txs)),
			Category:    "behavior",
			RiskWeight:  weightHighFailureRate,
		})
		score += weightHighFailureRate
	}

	// Pass-through detection: significant inflows with a near-empty balance
	// suggests funds are swept out immediately. Balance read is best-effort.
	if balance, err := a.chain.Balance(ctx, address); err == nil {
		minInflow := big.NewInt(1e17) // 0.1 native token
		threshold := new(big.Int).Div(received, big.NewInt(100))
		if received.Cmp(minInflow) > 0 && balance.Cmp(threshold) < 0 {
			res.Flags = append(res.Flags, Flag{
				ID:          "pass_through",
				Name:        "Pass-through funds flow",
				Severity:    SeverityHigh,
				Description: "Incoming funds leave the address almost immediately.",
				Evidence:    fmt.Sprintf("received %s wei, balance %s wei", received.String(), balance.String()),
				Category:    "behavior",
				RiskWeight:  weightPassThrough,
			})
			score += weightPassThrough
		}
	}

	res.Score = clampScore(score)
	return res
}
