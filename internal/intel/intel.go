// Package intel implements risk intelligence aggregation for blockchain
// addresses.
//
// Five independent analyzers each produce a bounded 0-100 score and a list
// of evidence flags. The engine runs them in two dependency-ordered phases,
// combines their scores with fixed weights, applies floor rules, and emits
// one explainable result per address. Analyzers degrade on provider failure
// instead of erroring, so an aggregation always completes.
package intel

import (
	"context"
	"math/big"
	"time"

	"github.com/mbd888/chainguard/internal/chain"
	"github.com/mbd888/chainguard/internal/explorer"
	"github.com/mbd888/chainguard/internal/reposearch"
)

// Severity ranks how serious a single finding is.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Flag is one discrete, explainable finding.
type Flag struct {
	ID          string   `json:"id"`
	Name        string   `json:"name"`
	Severity    Severity `json:"severity"`
	Description string   `json:"description"`
	Evidence    string   `json:"evidence"`
	Category    string   `json:"category"`
	Source      string   `json:"source,omitempty"`
	RiskWeight  int      `json:"riskWeight"` // 0-100 contribution to the analyzer score
}

// AddressType classifies what kind of address was analyzed.
type AddressType string

const (
	TypeWallet   AddressType = "wallet"
	TypeContract AddressType = "contract"
	TypeToken    AddressType = "token"
)

// ContractResult is the contract analyzer's output.
type ContractResult struct {
	Flags        []Flag `json:"flags"`
	Score        int    `json:"score"`
	IsContract   bool   `json:"isContract"`
	Verified     bool   `json:"verified"`
	ContractName string `json:"contractName,omitempty"`
	TokenSymbol  string `json:"tokenSymbol,omitempty"`
	HasDEXPair   bool   `json:"hasDexPair"`
}

// BehaviorResult is the on-chain behavior analyzer's output.
type BehaviorResult struct {
	Flags   []Flag `json:"flags"`
	Score   int    `json:"score"`
	TxCount int    `json:"txCount"`
}

// WalletResult is the wallet history analyzer's output.
type WalletResult struct {
	Flags                []Flag   `json:"flags"`
	Score                int      `json:"score"`
	DeployedContracts    []string `json:"deployedContracts,omitempty"`
	HasDestroyedContract bool     `json:"hasDestroyedContract"`
}

// TransparencyResult is the transparency analyzer's output.
type TransparencyResult struct {
	Flags     []Flag `json:"flags"`
	Score     int    `json:"score"`
	RepoFound bool   `json:"repoFound"`
	RepoName  string `json:"repoName,omitempty"`
}

// ScamResult is the scam-database analyzer's output.
type ScamResult struct {
	Flags         []Flag `json:"flags"`
	Score         int    `json:"score"`
	KnownScam     bool   `json:"knownScam"`
	Blacklisted   bool   `json:"blacklisted"`
	LinkedRugpull bool   `json:"linkedRugpull"`
}

// TransparencyContext carries optional context for the transparency analyzer,
// produced by phase 1.
type TransparencyContext struct {
	ContractName string
	TokenSymbol  string
}

// ScamContext carries optional context for the scam-database analyzer,
// produced by phase 1.
type ScamContext struct {
	Deployer             string
	DeployedContracts    []string
	HasDestroyedContract bool
}

// Breakdown holds the three weighted sub-scores.
type Breakdown struct {
	ContractRisk   int `json:"contract_risk"`
	BehaviorRisk   int `json:"behavior_risk"`
	ReputationRisk int `json:"reputation_risk"`
}

// ScoreCalculation records how the final score was derived, for auditability.
type ScoreCalculation struct {
	Formula     string             `json:"formula"`
	Weights     map[string]float64 `json:"weights"`
	RawScores   map[string]int     `json:"rawScores"`
	Adjustments []string           `json:"adjustments"`
	FinalScore  int                `json:"finalScore"`
}

// Explanation is the human-readable portion of a result.
type Explanation struct {
	Summary         string   `json:"summary"`
	KeyFindings     []string `json:"keyFindings"`
	Recommendations []string `json:"recommendations"`
	RiskFactors     []string `json:"riskFactors"`
}

// Result is the aggregate root produced by one engine invocation.
type Result struct {
	Address      string             `json:"address"`
	AddressType  AddressType        `json:"addressType"`
	Breakdown    Breakdown          `json:"breakdown"`
	Contract     ContractResult     `json:"contract"`
	Behavior     BehaviorResult     `json:"behavior"`
	Wallet       WalletResult       `json:"wallet"`
	Transparency TransparencyResult `json:"transparency"`
	ScamDB       ScamResult         `json:"scamDb"`
	Calculation  ScoreCalculation   `json:"scoreCalculation"`
	Explanation  Explanation        `json:"explanation"`
	EvaluatedAt  time.Time          `json:"evaluatedAt"`
}

// FinalScore is a convenience accessor for the aggregate score.
func (r *Result) FinalScore() int {
	return r.Calculation.FinalScore
}

// ---------------------------------------------------------------------------
// Provider interfaces, satisfied by internal/chain, internal/explorer and
// internal/reposearch. Analyzers depend on these, not on concrete clients.
// ---------------------------------------------------------------------------

// ChainReader reads live chain state.
type ChainReader interface {
	Balance(ctx context.Context, address string) (*big.Int, error)
	Code(ctx context.Context, address string) ([]byte, error)
	TxCount(ctx context.Context, address string) (uint64, error)
	TradingPair(ctx context.Context, token string) (*chain.Pair, error)
	TokenSymbol(ctx context.Context, token string) (string, error)
}

// HistoryProvider reads transaction history from a block explorer.
type HistoryProvider interface {
	Transactions(ctx context.Context, address string, limit int) ([]explorer.Tx, error)
	InternalTransactions(ctx context.Context, address string, limit int) ([]explorer.Tx, error)
	ContractCreation(ctx context.Context, address string) (*explorer.Creation, error)
}

// SourceProvider fetches verified contract source metadata.
type SourceProvider interface {
	SourceCode(ctx context.Context, address string) (*explorer.Source, error)
}

// RepoSearcher finds public project repositories.
type RepoSearcher interface {
	Search(ctx context.Context, query string) (*reposearch.Repo, error)
}

// ScamListProvider checks an address against a scam/blacklist database.
// Implementations may be a static list or a remote service.
type ScamListProvider interface {
	Lookup(ctx context.Context, address string) (found bool, reason string, err error)
}

// clampScore bounds a score to [0, 100].
func clampScore(s int) int {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// nonInfoCount returns how many flags have severity above info.
func nonInfoCount(flags []Flag) int {
	n := 0
	for _, f := range flags {
		if f.Severity != SeverityInfo {
			n++
		}
	}
	return n
}
