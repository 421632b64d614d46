package intel

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/mbd888/chainguard/internal/metrics"
	"github.com/mbd888/chainguard/internal/traces"
)

// Aggregation weights. The three sub-scores combine 40/40/20; behavior and
// reputation are themselves blends of two analyzers.
const (
	weightContractRisk   = 0.40
	weightBehaviorRisk   = 0.40
	weightReputationRisk = 0.20

	behaviorBlendTx     = 0.6
	behaviorBlendWallet = 0.4

	reputationBlendTransparency = 0.5
	reputationBlendScam         = 0.5

	scoreFormula = "contract_risk*0.40 + behavior_risk*0.40 + reputation_risk*0.20"
)

// Floor rule values, applied in fixed order. A floor only raises the score.
const (
	floorCriticalFlag   = 70
	floorManyHighFlags  = 60
	floorHighComponent  = 60
	floorScamMatch      = 85
	floorLinkedRugpull  = 80
	floorManyFlags      = 65
	highFlagThreshold   = 3
	highComponentCutoff = 75
	manyFlagsThreshold  = 7
)

// Engine orchestrates the five analyzers into one risk intelligence result.
type Engine struct {
	contract     *ContractAnalyzer
	behavior     *BehaviorAnalyzer
	wallet       *WalletAnalyzer
	transparency *TransparencyAnalyzer
	scam         *ScamAnalyzer
	history      HistoryProvider
	logger       *slog.Logger
}

// NewEngine wires the analyzers into an aggregation engine. history is used
// for best-effort deployer extraction between phases.
func NewEngine(
	contract *ContractAnalyzer,
	behavior *BehaviorAnalyzer,
	wallet *WalletAnalyzer,
	transparency *TransparencyAnalyzer,
	scam *ScamAnalyzer,
	history HistoryProvider,
	logger *slog.Logger,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		contract:     contract,
		behavior:     behavior,
		wallet:       wallet,
		transparency: transparency,
		scam:         scam,
		history:      history,
		logger:       logger,
	}
}

// Analyze runs the full two-phase aggregation for an address. It never
// returns an error: analyzers degrade individually and the result is always
// internally consistent.
func (e *Engine) Analyze(ctx context.Context, address string) *Result {
	// Explorer data and watchlist keys are lowercase; normalize once so
	// checksummed input compares equal everywhere downstream.
	address = strings.ToLower(strings.TrimSpace(address))

	ctx, span := traces.StartSpan(ctx, "intel.Analyze", traces.Address(address))
	defer span.End()

	started := time.Now()
	res := &Result{Address: address, EvaluatedAt: started.UTC()}

	// Phase 1: independent analyzers run concurrently.
	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		res.Contract = e.contract.Analyze(ctx, address)
	}()
	go func() {
		defer wg.Done()
		res.Behavior = e.behavior.Analyze(ctx, address)
	}()
	go func() {
		defer wg.Done()
		res.Wallet = e.wallet.Analyze(ctx, address)
	}()
	wg.Wait()

	// Context extraction between phases: best-effort, failures are swallowed.
	tc := TransparencyContext{
		ContractName: res.Contract.ContractName,
		TokenSymbol:  res.Contract.TokenSymbol,
	}
	sc := ScamContext{
		DeployedContracts:    res.Wallet.DeployedContracts,
		HasDestroyedContract: res.Wallet.HasDestroyedContract,
	}
	if res.Contract.IsContract {
		if creation, err := e.history.ContractCreation(ctx, address); err == nil {
			sc.Deployer = creation.Deployer
		}
	}

	// Phase 2: context-dependent analyzers run concurrently.
	wg.Add(2)
	go func() {
		defer wg.Done()
		res.Transparency = e.transparency.Analyze(ctx, address, tc)
	}()
	go func() {
		defer wg.Done()
		res.ScamDB = e.scam.Analyze(ctx, address, sc)
	}()
	wg.Wait()

	e.compose(res)
	res.AddressType = classify(res)
	res.Explanation = explain(res)

	span.SetAttributes(traces.Score(res.Calculation.FinalScore))
	metrics.AnalysesTotal.WithLabelValues(string(res.AddressType)).Inc()
	metrics.AnalysisDuration.Observe(time.Since(started).Seconds())

	e.logger.Debug("analysis complete",
		"address", address,
		"type", res.AddressType,
		"score", res.Calculation.FinalScore,
		"flags", len(allFlags(res)),
	)
	return res
}

// compose derives the breakdown, weighted total, and floor adjustments.
func (e *Engine) compose(res *Result) {
	contractRisk := clampScore(res.Contract.Score)
	behaviorRisk := clampScore(roundBlend(res.Behavior.Score, behaviorBlendTx, res.Wallet.Score, behaviorBlendWallet))
	reputationRisk := clampScore(roundBlend(res.Transparency.Score, reputationBlendTransparency, res.ScamDB.Score, reputationBlendScam))

	res.Breakdown = Breakdown{
		ContractRisk:   contractRisk,
		BehaviorRisk:   behaviorRisk,
		ReputationRisk: reputationRisk,
	}

	score := int(math.Round(
		float64(contractRisk)*weightContractRisk +
			float64(behaviorRisk)*weightBehaviorRisk +
			float64(reputationRisk)*weightReputationRisk))

	calc := ScoreCalculation{
		Formula: scoreFormula,
		Weights: map[string]float64{
			"contract_risk":   weightContractRisk,
			"behavior_risk":   weightBehaviorRisk,
			"reputation_risk": weightReputationRisk,
		},
		RawScores: map[string]int{
			"contract":     res.Contract.Score,
			"behavior":     res.Behavior.Score,
			"wallet":       res.Wallet.Score,
			"transparency": res.Transparency.Score,
			"scam_db":      res.ScamDB.Score,
		},
	}

	flags := allFlags(res)

	// Floor rules, fixed order, each evaluated against the running score.
	if hasSeverity(flags, SeverityCritical) {
		score = applyFloor(&calc, score, floorCriticalFlag, "critical finding present")
	}
	if countSeverity(flags, SeverityHigh) >= highFlagThreshold {
		score = applyFloor(&calc, score, floorManyHighFlags,
			fmt.Sprintf("%d or more high-severity findings", highFlagThreshold))
	}
	if maxComponent(res.Breakdown) >= highComponentCutoff {
		score = applyFloor(&calc, score, floorHighComponent,
			fmt.Sprintf("component score at or above %d", highComponentCutoff))
	}
	if res.ScamDB.KnownScam || res.ScamDB.Blacklisted {
		score = applyFloor(&calc, score, floorScamMatch, "scam database match")
	}
	if res.ScamDB.LinkedRugpull || res.Wallet.HasDestroyedContract {
		score = applyFloor(&calc, score, floorLinkedRugpull, "linked rugpull")
	}
	if nonInfoCount(flags) >= manyFlagsThreshold {
		score = applyFloor(&calc, score, floorManyFlags,
			fmt.Sprintf("%d or more non-informational findings", manyFlagsThreshold))
	}

	calc.FinalScore = clampScore(score)
	res.Calculation = calc
}

// applyFloor raises score to at least floor and records the adjustment.
func applyFloor(calc *ScoreCalculation, score, floor int, reason string) int {
	if score >= floor {
		calc.Adjustments = append(calc.Adjustments,
			fmt.Sprintf("%s: floor %d already met (score %d)", reason, floor, score))
		return score
	}
	calc.Adjustments = append(calc.Adjustments,
		fmt.Sprintf("%s: raised %d to floor %d", reason, score, floor))
	return floor
}

// classify infers the address type from phase 1 evidence.
func classify(res *Result) AddressType {
	if !res.Contract.IsContract {
		return TypeWallet
	}
	if res.Contract.HasDEXPair {
		return TypeToken
	}
	return TypeContract
}

// roundBlend combines two scores with the given weights, rounded.
func roundBlend(a int, wa float64, b int, wb float64) int {
	return int(math.Round(float64(a)*wa + float64(b)*wb))
}

// maxComponent returns the largest sub-score in the breakdown.
func maxComponent(b Breakdown) int {
	m := b.ContractRisk
	if b.BehaviorRisk > m {
		m = b.BehaviorRisk
	}
	if b.ReputationRisk > m {
		m = b.ReputationRisk
	}
	return m
}

// allFlags collects every analyzer's flags in phase order.
func allFlags(res *Result) []Flag {
	out := make([]Flag, 0,
		len(res.Contract.Flags)+len(res.Behavior.Flags)+len(res.Wallet.Flags)+
			len(res.Transparency.Flags)+len(res.ScamDB.Flags))
	out = append(out, res.Contract.Flags...)
	out = append(out, res.Behavior.Flags...)
	out = append(out, res.Wallet.Flags...)
	out = append(out, res.Transparency.Flags...)
	out = append(out, res.ScamDB.Flags...)
	return out
}

func hasSeverity(flags []Flag, sev Severity) bool {
	for _, f := range flags {
		if f.Severity == sev {
			return true
		}
	}
	return false
}

func countSeverity(flags []Flag, sev Severity) int {
	n := 0
	for _, f := range flags {
		if f.Severity == sev {
			n++
		}
	}
	return n
}
