package agent

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/chainguard/internal/audit"
	"github.com/mbd888/chainguard/internal/decision"
	"github.com/mbd888/chainguard/internal/intel"
	"github.com/mbd888/chainguard/internal/ledger"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeEngine returns canned scores per address and can be told to panic.
type fakeEngine struct {
	mu      sync.Mutex
	scores  map[string]int
	panicOn map[string]bool
	calls   int
}

func (f *fakeEngine) Analyze(_ context.Context, address string) *intel.Result {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.panicOn[address] {
		panic("analyzer blew up")
	}
	score := f.scores[address]
	return &intel.Result{
		Address:     address,
		AddressType: intel.TypeWallet,
		Breakdown:   intel.Breakdown{ContractRisk: score},
		Calculation: intel.ScoreCalculation{FinalScore: score},
		Explanation: intel.Explanation{Summary: fmt.Sprintf("risk score %d", score)},
		EvaluatedAt: time.Now().UTC(),
	}
}

func (f *fakeEngine) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func newTestSentinel(engine Analyzer, lc ledger.Client, maxAlerts int) *Sentinel {
	return NewSentinel(engine, lc, nil, SentinelConfig{
		Threshold: 60,
		Interval:  10 * time.Millisecond,
		MaxAlerts: maxAlerts,
	}, testLogger())
}

// ---------------------------------------------------------------------------
// Guardian
// ---------------------------------------------------------------------------

func TestGuardianAllowsLowRisk(t *testing.T) {
	engine := &fakeEngine{scores: map[string]int{"0xlow": 10}}
	store := audit.NewMemoryStore()
	g := NewGuardian(engine, 70, nil, store, testLogger())

	resp := g.Check(context.Background(), "0xlow")

	assert.True(t, resp.Allowed)
	assert.Equal(t, decision.LevelAllow, resp.Level)
	assert.Equal(t, 10, resp.RiskScore)
	assert.Equal(t, "proceed", resp.RecommendedAction)

	// Audit write is detached from the request.
	require.Eventually(t, func() bool {
		recs, err := store.ListByAddress(context.Background(), "0xlow", 1)
		return err == nil && len(recs) == 1
	}, time.Second, 10*time.Millisecond)
}

func TestGuardianBlocksAndEscalates(t *testing.T) {
	engine := &fakeEngine{scores: map[string]int{"0xbad": 85}}
	sentinel := newTestSentinel(engine, ledger.NewMemory(), 10)
	g := NewGuardian(engine, 70, sentinel, nil, testLogger())

	resp := g.Check(context.Background(), "0xbad")

	assert.False(t, resp.Allowed)
	assert.Equal(t, decision.LevelBlock, resp.Level)
	assert.Contains(t, sentinel.Watchlist(), "0xbad")
}

func TestGuardianDoesNotEscalateBelowCutoff(t *testing.T) {
	engine := &fakeEngine{scores: map[string]int{"0xmid": 65}}
	sentinel := newTestSentinel(engine, ledger.NewMemory(), 10)
	g := NewGuardian(engine, 70, sentinel, nil, testLogger())

	resp := g.Check(context.Background(), "0xmid")

	// 65 is BLOCK (>= 60) but below the escalation score of 70.
	assert.Equal(t, decision.LevelBlock, resp.Level)
	assert.Empty(t, sentinel.Watchlist())
}

func TestGuardianFailsSafeOnPanic(t *testing.T) {
	engine := &fakeEngine{panicOn: map[string]bool{"0xboom": true}}
	g := NewGuardian(engine, 70, nil, nil, testLogger())

	resp := g.Check(context.Background(), "0xboom")

	assert.False(t, resp.Allowed)
	assert.Equal(t, decision.LevelBlock, resp.Level)
	assert.Equal(t, 100, resp.RiskScore)
	assert.Equal(t, decision.ConfidenceHigh, resp.Confidence)
	assert.Equal(t, failSafeReasoning, resp.Reasoning)

	status := g.Status()
	assert.Equal(t, int64(1), status.Counters["errors"])
	assert.Equal(t, int64(1), status.Counters["blocked"])
	assert.Zero(t, status.SuccessRate)
}

func TestGuardianCounters(t *testing.T) {
	engine := &fakeEngine{scores: map[string]int{"0xa": 10, "0xb": 90}}
	g := NewGuardian(engine, 70, nil, nil, testLogger())

	g.Check(context.Background(), "0xa")
	g.Check(context.Background(), "0xb")
	g.Check(context.Background(), "0xa")

	status := g.Status()
	assert.Equal(t, "guardian", status.Name)
	assert.True(t, status.Running)
	assert.Equal(t, int64(3), status.Counters["checks"])
	assert.Equal(t, int64(2), status.Counters["allowed"])
	assert.Equal(t, int64(1), status.Counters["blocked"])
	assert.Equal(t, int64(0), status.Counters["errors"])
	assert.Equal(t, 1.0, status.SuccessRate)
}

func TestGuardianSuccessRateReflectsErrors(t *testing.T) {
	engine := &fakeEngine{
		scores:  map[string]int{"0xa": 10},
		panicOn: map[string]bool{"0xboom": true},
	}
	g := NewGuardian(engine, 70, nil, nil, testLogger())

	assert.Equal(t, 1.0, g.Status().SuccessRate, "no runs yet")

	g.Check(context.Background(), "0xa")
	g.Check(context.Background(), "0xa")
	g.Check(context.Background(), "0xa")
	g.Check(context.Background(), "0xboom")

	assert.InDelta(t, 0.75, g.Status().SuccessRate, 0.001)
}

// ---------------------------------------------------------------------------
// Sentinel
// ---------------------------------------------------------------------------

func TestSentinelSubmitsQualifyingFindingOnce(t *testing.T) {
	engine := &fakeEngine{scores: map[string]int{"0xbad": 90}}
	mem := ledger.NewMemory()
	s := newTestSentinel(engine, mem, 10)
	require.NoError(t, s.AddWatch("0xbad"))

	s.runCycle(context.Background())
	s.runCycle(context.Background())

	// Same (address, score) pair submits at most once.
	n, err := mem.Count(context.Background(), "0xbad")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	alerts := s.Alerts()
	require.Len(t, alerts, 1)
	assert.True(t, alerts[0].SubmittedToChain)
	assert.NotEmpty(t, alerts[0].TxHash)
	assert.Equal(t, 90, alerts[0].RiskScore)
	assert.Equal(t, string(decision.LevelBlock), alerts[0].Level)
}

func TestSentinelResubmitsAtNewScore(t *testing.T) {
	engine := &fakeEngine{scores: map[string]int{"0xbad": 90}}
	mem := ledger.NewMemory()
	s := newTestSentinel(engine, mem, 10)
	require.NoError(t, s.AddWatch("0xbad"))

	s.runCycle(context.Background())
	engine.scores["0xbad"] = 95
	s.runCycle(context.Background())

	n, err := mem.Count(context.Background(), "0xbad")
	require.NoError(t, err)
	assert.Equal(t, uint64(2), n)
}

func TestSentinelSkipsNonQualifyingResults(t *testing.T) {
	// WARN-range score: upserted into the alert cache, never submitted.
	engine := &fakeEngine{scores: map[string]int{"0xwarn": 45}}
	mem := ledger.NewMemory()
	s := newTestSentinel(engine, mem, 10)
	require.NoError(t, s.AddWatch("0xwarn"))

	s.runCycle(context.Background())

	n, err := mem.Count(context.Background(), "0xwarn")
	require.NoError(t, err)
	assert.Zero(t, n)

	alerts := s.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, 45, alerts[0].RiskScore)
	assert.Equal(t, string(decision.LevelWarn), alerts[0].Level)
	assert.False(t, alerts[0].SubmittedToChain)
}

func TestSentinelCycleToleratesFailingAddress(t *testing.T) {
	engine := &fakeEngine{
		scores:  map[string]int{"0xgood": 90},
		panicOn: map[string]bool{"0xboom": true},
	}
	mem := ledger.NewMemory()
	s := newTestSentinel(engine, mem, 10)
	require.NoError(t, s.AddWatch("0xgood"))
	require.NoError(t, s.AddWatch("0xboom"))

	s.runCycle(context.Background())

	// The failing address did not prevent the good one from submitting.
	n, err := mem.Count(context.Background(), "0xgood")
	require.NoError(t, err)
	assert.Equal(t, uint64(1), n)

	status := s.Status()
	assert.Equal(t, int64(1), status.Counters["evaluationErrors"])
	assert.Zero(t, status.SuccessRate, "a partial cycle counts against the rate")
}

func TestSentinelStatusCountsGeneratedAlerts(t *testing.T) {
	engine := &fakeEngine{scores: map[string]int{"0xbad": 90, "0xok": 10}}
	s := newTestSentinel(engine, ledger.NewMemory(), 10)
	require.NoError(t, s.AddWatch("0xbad"))
	require.NoError(t, s.AddWatch("0xok"))

	s.runCycle(context.Background())

	status := s.Status()
	// Only the BLOCK-range evaluation raises an alert; the clean address is
	// tracked but never counted.
	assert.Equal(t, int64(1), status.Counters["alertsGenerated"])
	assert.Equal(t, 1.0, status.SuccessRate)
}

func TestSentinelEvictsOldestWhenOverCapacity(t *testing.T) {
	engine := &fakeEngine{scores: map[string]int{}}
	s := newTestSentinel(engine, ledger.NewMemory(), 2)

	require.NoError(t, s.AddWatch("0xa"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AddWatch("0xb"))
	time.Sleep(5 * time.Millisecond)
	require.NoError(t, s.AddWatch("0xc"))

	list := s.Watchlist()
	assert.Len(t, list, 2)
	assert.NotContains(t, list, "0xa", "oldest entry should be evicted first")
}

func TestSentinelAddRemoveWatch(t *testing.T) {
	s := newTestSentinel(&fakeEngine{}, ledger.NewMemory(), 10)

	require.NoError(t, s.AddWatch("0xAbC"))
	require.NoError(t, s.AddWatch("0xabc")) // duplicate, case-insensitive
	assert.Equal(t, []string{"0xabc"}, s.Watchlist())

	assert.True(t, s.RemoveWatch("0xABC"))
	assert.False(t, s.RemoveWatch("0xabc"))
	assert.Empty(t, s.Watchlist())

	assert.Error(t, s.AddWatch(""))
}

func TestSentinelStartStop(t *testing.T) {
	engine := &fakeEngine{scores: map[string]int{"0xbad": 90}}
	s := newTestSentinel(engine, ledger.NewMemory(), 10)
	require.NoError(t, s.AddWatch("0xbad"))

	require.NoError(t, s.Start(context.Background()))
	assert.ErrorIs(t, s.Start(context.Background()), ErrAlreadyRunning)

	require.Eventually(t, func() bool {
		return s.Status().Counters["cycles"] >= 1
	}, time.Second, 10*time.Millisecond)

	s.Stop()
	assert.False(t, s.Status().Running)
	assert.Greater(t, engine.callCount(), 0)

	// Stopping twice is safe.
	s.Stop()
}

// ---------------------------------------------------------------------------
// Manager
// ---------------------------------------------------------------------------

func TestManagerLifecycleAndStatus(t *testing.T) {
	engine := &fakeEngine{scores: map[string]int{}}
	sentinel := newTestSentinel(engine, ledger.NewMemory(), 10)
	guardian := NewGuardian(engine, 70, sentinel, nil, testLogger())
	m := NewManager(guardian, sentinel, testLogger())

	require.NoError(t, m.StartAll(context.Background()))

	status := m.Status()
	require.Contains(t, status, "guardian")
	require.Contains(t, status, "sentinel")
	assert.True(t, status["guardian"].Running)
	assert.True(t, status["sentinel"].Running)

	m.StopAll()
	status = m.Status()
	assert.False(t, status["guardian"].Running)
	assert.False(t, status["sentinel"].Running)
}
