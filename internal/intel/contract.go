package intel

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"

	"github.com/mbd888/chainguard/internal/metrics"
)

// Contract analyzer condition weights. Contributions are additive and the
// total is clamped to 100.
const (
	weightUnverifiedSource  = 20
	weightSourceUnavailable = 10
	weightSelfDestruct      = 25
	weightDelegatecall      = 15
	weightOwnerMint         = 15
	weightBlacklistControl  = 20
	weightUpgradeableProxy  = 10
	weightNoOutgoingTx      = 5
	weightThinLiquidity     = 15

	contractFallbackScore = 30
)

// thinLiquidityWei is the WETH reserve below which a trading pair is
// considered effectively unbacked (0.01 WETH).
var thinLiquidityWei = big.NewInt(1e16)

// ContractAnalyzer inspects deployed bytecode and verified source for
// dangerous capabilities.
type ContractAnalyzer struct {
	chain  ChainReader
	source SourceProvider
	logger *slog.Logger
}

// NewContractAnalyzer creates a contract analyzer.
func NewContractAnalyzer(chain ChainReader, source SourceProvider, logger *slog.Logger) *ContractAnalyzer {
	return &ContractAnalyzer{chain: chain, source: source, logger: logger}
}

// Analyze scores the contract risk of an address. Provider failures degrade
// to a conservative fallback score; this method never returns an error.
func (a *ContractAnalyzer) Analyze(ctx context.Context, address string) ContractResult {
	code, err := a.chain.Code(ctx, address)
	if err != nil {
		a.logger.Warn("contract analysis degraded", "address", address, "error", err)
		metrics.AnalyzerFailuresTotal.WithLabelValues("contract").Inc()
		return ContractResult{
			Flags: []Flag{{
				ID:          "analysis_error",
				Name:        "Contract analysis unavailable",
				Severity:    SeverityMedium,
				Description: "Bytecode could not be fetched; contract risk is unknown.",
				Evidence:    err.Error(),
				Category:    "contract",
				RiskWeight:  contractFallbackScore,
			}},
			Score: contractFallbackScore,
		}
	}

	res := ContractResult{IsContract: len(code) > 0}
	if !res.IsContract {
		// Plain wallet: no contract surface to assess.
		return res
	}

	score := 0

	src, err := a.source.SourceCode(ctx, address)
	switch {
	case err != nil:
		res.Flags = append(res.Flags, Flag{
			ID:          "source_unavailable",
			Name:        "Source lookup failed",
			Severity:    SeverityMedium,
			Description: "Verified source could not be fetched; treating contract as opaque.",
			Evidence:    err.Error(),
			Category:    "contract",
			RiskWeight:  weightSourceUnavailable,
		})
		score += weightSourceUnavailable
	case !src.Verified:
		res.Flags = append(res.Flags, Flag{
			ID:          "unverified_source",
			Name:        "Unverified source code",
			Severity:    SeverityMedium,
			Description: "Contract source is not verified on the block explorer.",
			Evidence:    fmt.Sprintf("no verified source for %s", address),
			Category:    "contract",
			RiskWeight:  weightUnverifiedSource,
		})
		score += weightUnverifiedSource
	default:
		res.Verified = true
		res.ContractName = src.ContractName

		lower := strings.ToLower(src.SourceCode)
		if strings.Contains(lower, "selfdestruct") {
			res.Flags = append(res.Flags, Flag{
				ID:          "self_destruct",
				Name:        "Self-destruct capability",
				Severity:    SeverityHigh,
				Description: "Contract can be destroyed, removing all funds and logic.",
				Evidence:    "selfdestruct call in verified source",
				Category:    "contract",
				RiskWeight:  weightSelfDestruct,
			})
			score += weightSelfDestruct
		}
		if strings.Contains(lower, "delegatecall") {
			res.Flags = append(res.Flags, Flag{
				ID:          "delegatecall",
				Name:        "Delegatecall usage",
				Severity:    SeverityMedium,
				Description: "Contract delegates execution to external code.",
				Evidence:    "delegatecall in verified source",
				Category:    "contract",
				RiskWeight:  weightDelegatecall,
			})
			score += weightDelegatecall
		}
		if strings.Contains(lower, "onlyowner") && strings.Contains(lower, "mint") {
			res.Flags = append(res.Flags, Flag{
				ID:          "owner_mint",
				Name:        "Owner-controlled minting",
				Severity:    SeverityMedium,
				Description: "Owner can mint new supply at will.",
				Evidence:    "onlyOwner mint function in verified source",
				Category:    "contract",
				RiskWeight:  weightOwnerMint,
			})
			score += weightOwnerMint
		}
		if strings.Contains(lower, "blacklist") {
			res.Flags = append(res.Flags, Flag{
				ID:          "blacklist_control",
				Name:        "Transfer blacklist control",
				Severity:    SeverityHigh,
				Description: "Owner can block individual holders from transferring.",
				Evidence:    "blacklist mechanism in verified source",
				Category:    "contract",
				RiskWeight:  weightBlacklistControl,
			})
			score += weightBlacklistControl
		}
		if src.Proxy {
			res.Flags = append(res.Flags, Flag{
				ID:          "upgradeable_proxy",
				Name:        "Upgradeable proxy",
				Severity:    SeverityLow,
				Description: "Implementation can be swapped after deployment.",
				Evidence:    fmt.Sprintf("proxy with implementation %s", src.Implementation),
				Category:    "contract",
				RiskWeight:  weightUpgradeableProxy,
			})
			score += weightUpgradeableProxy
		}
	}

	// Contracts that never initiated a transaction have no operational history.
	if nonce, err := a.chain.TxCount(ctx, address); err == nil && nonce == 0 {
		res.Flags = append(res.Flags, Flag{
			ID:          "no_outgoing_tx",
			Name:        "No outgoing transactions",
			Severity:    SeverityLow,
			Description: "Address has never initiated a transaction.",
			Evidence:    "nonce is 0",
			Category:    "contract",
			RiskWeight:  weightNoOutgoingTx,
		})
		score += weightNoOutgoingTx
	}

	// Trading-pair probe classifies tokens and catches unbacked liquidity.
	if pair, err := a.chain.TradingPair(ctx, address); err == nil && pair != nil {
		res.HasDEXPair = true
		if pair.Reserve0 != nil && pair.Reserve1 != nil {
			reserve := pair.Reserve0
			if pair.Reserve1.Cmp(reserve) < 0 {
				reserve = pair.Reserve1
			}
			if reserve.Cmp(thinLiquidityWei) < 0 {
				res.Flags = append(res.Flags, Flag{
					ID:          "thin_liquidity",
					Name:        "Thin DEX liquidity",
					Severity:    SeverityMedium,
					Description: "Trading pair exists but reserves are negligible.",
					Evidence:    fmt.Sprintf("pair %s min reserve %s wei", pair.Address, reserve.String()),
					Category:    "contract",
					RiskWeight:  weightThinLiquidity,
				})
				score += weightThinLiquidity
			}
		}
	}

	// The symbol is the transparency fallback query for contracts without a
	// verified name. Best-effort; most non-token contracts have none.
	if res.ContractName == "" {
		if sym, err := a.chain.TokenSymbol(ctx, address); err == nil {
			res.TokenSymbol = sym
		}
	}

	res.Score = clampScore(score)
	return res
}
