package intel

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/mbd888/chainguard/internal/metrics"
)

// Wallet history analyzer condition weights.
const (
	weightSerialDeployer    = 20
	weightDestroyedContract = 30
	weightYoungHighActivity = 10

	walletFallbackScore = 20
	walletTxLimit       = 500

	// Deployment probes are bounded so one wallet cannot fan out into
	// hundreds of RPC calls.
	maxDeploymentProbes = 5
)

// WalletAnalyzer inspects an address's deployment history and lifecycle.
type WalletAnalyzer struct {
	chain   ChainReader
	history HistoryProvider
	logger  *slog.Logger
}

// NewWalletAnalyzer creates a wallet history analyzer.
func NewWalletAnalyzer(chain ChainReader, history HistoryProvider, logger *slog.Logger) *WalletAnalyzer {
	return &WalletAnalyzer{chain: chain, history: history, logger: logger}
}

// Analyze scores wallet-history risk. Provider failures degrade to a
// fallback score; this method never returns an error.
func (a *WalletAnalyzer) Analyze(ctx context.Context, address string) WalletResult {
	txs, err := a.history.Transactions(ctx, address, walletTxLimit)
	if err != nil {
		a.logger.Warn("wallet analysis degraded", "address", address, "error", err)
		metrics.AnalyzerFailuresTotal.WithLabelValues("wallet").Inc()
		return WalletResult{
			Flags: []Flag{{
				ID:          "analysis_error",
				Name:        "Wallet analysis unavailable",
				Severity:    SeverityMedium,
				Description: "Wallet history could not be fetched; deployment risk is unknown.",
				Evidence:    err.Error(),
				Category:    "wallet",
				RiskWeight:  walletFallbackScore,
			}},
			Score: walletFallbackScore,
		}
	}

	res := WalletResult{}
	score := 0

	for _, tx := range txs {
		if tx.From == address && tx.To == "" && tx.ContractAddress != "" {
			res.DeployedContracts = append(res.DeployedContracts, tx.ContractAddress)
		}
	}

	if len(res.DeployedContracts) >= 5 {
		res.Flags = append(res.Flags, Flag{
			ID:          "serial_deployer",
			Name:        "Serial contract deployer",
			Severity:    SeverityHigh,
			Description: "Wallet has deployed many contracts in its visible history.",
			Evidence:    fmt.Sprintf("%d contract deployments", len(res.DeployedContracts)),
			Category:    "wallet",
			RiskWeight:  weightSerialDeployer,
		})
		score += weightSerialDeployer
	}

	// A deployment whose code is now gone was self-destructed, the classic
	// rugpull exit. Probe a bounded number of the most recent deployments.
	probes := res.DeployedContracts
	if len(probes) > maxDeploymentProbes {
		probes = probes[:maxDeploymentProbes]
	}
	for _, deployed := range probes {
		code, err := a.chain.Code(ctx, deployed)
		if err != nil {
			continue // best-effort probe
		}
		if len(code) == 0 {
			res.HasDestroyedContract = true
			res.Flags = append(res.Flags, Flag{
				ID:          "destroyed_contract",
				Name:        "Destroyed deployed contract",
				Severity:    SeverityCritical,
				Description: "A contract deployed by this wallet was later destroyed.",
				Evidence:    fmt.Sprintf("no code at previously deployed %s", deployed),
				Category:    "wallet",
				RiskWeight:  weightDestroyedContract,
			})
			score += weightDestroyedContract
			break
		}
	}

	if len(txs) > 20 {
		firstSeen := txs[len(txs)-1].Timestamp
		if time.Since(firstSeen) < 3*24*time.Hour {
			res.Flags = append(res.Flags, Flag{
				ID:          "young_high_activity",
				Name:        "Young wallet with heavy activity",
				Severity:    SeverityMedium,
				Description: "Wallet is days old but already highly active.",
				Evidence:    fmt.Sprintf("%d transactions since %s", len(txs), firstSeen.Format(time.RFC3339)),
				Category:    "wallet",
				RiskWeight:  weightYoungHighActivity,
			})
			score += weightYoungHighActivity
		}
	}

	res.Score = clampScore(score)
	return res
}
