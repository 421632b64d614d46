package agent

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mbd888/chainguard/internal/decision"
	"github.com/mbd888/chainguard/internal/idgen"
	"github.com/mbd888/chainguard/internal/intel"
	"github.com/mbd888/chainguard/internal/ledger"
	"github.com/mbd888/chainguard/internal/metrics"
	"github.com/mbd888/chainguard/internal/realtime"
	"github.com/mbd888/chainguard/internal/traces"
)

var (
	ErrAlreadyRunning = errors.New("agent: sentinel already running")
	ErrNotRunning     = errors.New("agent: sentinel not running")
)

// Alert is one watchlist entry with its latest evaluation. SubmittedScores
// carries the ledger dedup state: a (address, score) pair is submitted at
// most once for the lifetime of the alert record.
type Alert struct {
	ID               string    `json:"id"`
	Address          string    `json:"address"`
	RiskScore        int       `json:"riskScore"`
	Level            string    `json:"level"`
	Reason           string    `json:"reason"`
	SubmittedToChain bool      `json:"submittedToChain"`
	SubmittedScores  []int     `json:"submittedScores,omitempty"`
	TxHash           string    `json:"txHash,omitempty"`
	ReportHash       string    `json:"reportHash,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// SentinelConfig tunes the monitor loop.
type SentinelConfig struct {
	Threshold int
	Interval  time.Duration
	MaxAlerts int
}

// Sentinel periodically re-evaluates a bounded watchlist and publishes
// qualifying findings to the ledger.
type Sentinel struct {
	engine Analyzer
	ledger ledger.Client
	hub    *realtime.Hub
	cfg    SentinelConfig
	logger *slog.Logger

	mu      sync.RWMutex
	alerts  map[string]*Alert // lowercased address → alert
	running bool
	lastRun time.Time
	stop    chan struct{}
	done    chan struct{}

	cycleActive atomic.Bool

	cycles       atomic.Int64
	cycleErrors  atomic.Int64
	evalErrors   atomic.Int64
	submissions  atomic.Int64
	alertsRaised atomic.Int64
}

// NewSentinel creates a sentinel. hub is optional.
func NewSentinel(engine Analyzer, lc ledger.Client, hub *realtime.Hub, cfg SentinelConfig, logger *slog.Logger) *Sentinel {
	if logger == nil {
		logger = slog.Default()
	}
	return &Sentinel{
		engine: engine,
		ledger: lc,
		hub:    hub,
		cfg:    cfg,
		logger: logger,
		alerts: make(map[string]*Alert),
	}
}

// Start launches the monitoring loop.
func (s *Sentinel) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return ErrAlreadyRunning
	}
	s.running = true
	s.stop = make(chan struct{})
	s.done = make(chan struct{})
	s.mu.Unlock()

	s.logger.Info("sentinel started",
		"interval", s.cfg.Interval,
		"threshold", s.cfg.Threshold,
		"maxAlerts", s.cfg.MaxAlerts,
	)
	go s.loop(ctx)
	return nil
}

// Stop halts the loop. An in-flight cycle is allowed to finish.
func (s *Sentinel) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop := s.stop
	done := s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.logger.Info("sentinel stopped")
}

func (s *Sentinel) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stop:
			return
		case <-ticker.C:
			s.runCycle(ctx)
		}
	}
}

// runCycle performs one watchlist evaluation pass. If the previous cycle is
// still in flight the tick is skipped rather than overlapped.
func (s *Sentinel) runCycle(ctx context.Context) {
	if !s.cycleActive.CompareAndSwap(false, true) {
		s.logger.Warn("previous cycle still running, skipping tick")
		metrics.SentinelCyclesTotal.WithLabelValues("skipped").Inc()
		return
	}
	defer s.cycleActive.Store(false)

	ctx, span := traces.StartSpan(ctx, "sentinel.Cycle")
	defer span.End()

	started := time.Now()
	s.cycles.Add(1)
	s.mu.Lock()
	s.lastRun = started.UTC()
	addresses := make([]string, 0, len(s.alerts))
	for addr := range s.alerts {
		addresses = append(addresses, addr)
	}
	s.mu.Unlock()

	if len(addresses) == 0 {
		metrics.SentinelCyclesTotal.WithLabelValues("empty").Inc()
		return
	}

	type evaluation struct {
		address string
		result  *intel.Result
	}

	var (
		wg      sync.WaitGroup
		evalMu  sync.Mutex
		evals   []evaluation
		failed  int64
	)
	for _, addr := range addresses {
		wg.Add(1)
		go func(address string) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					atomic.AddInt64(&failed, 1)
					s.logger.Error("watchlist evaluation panicked",
						"address", address, "panic", r)
				}
			}()
			result := s.engine.Analyze(ctx, address)
			evalMu.Lock()
			evals = append(evals, evaluation{address: address, result: result})
			evalMu.Unlock()
		}(addr)
	}
	wg.Wait()

	for _, ev := range evals {
		s.handleResult(ctx, ev.address, ev.result)
	}

	s.evict()
	s.evalErrors.Add(failed)

	result := "success"
	if failed > 0 {
		s.cycleErrors.Add(1)
		result = "partial"
	}
	metrics.SentinelCyclesTotal.WithLabelValues(result).Inc()
	metrics.SentinelCycleDuration.Observe(time.Since(started).Seconds())

	s.logger.Debug("cycle complete",
		"watched", len(addresses),
		"evaluated", len(evals),
		"failed", failed,
		"elapsed", time.Since(started),
	)
}

// handleResult applies the decision to one evaluated address: submit to the
// ledger when it qualifies, then upsert the alert record.
func (s *Sentinel) handleResult(ctx context.Context, address string, result *intel.Result) {
	score := result.FinalScore()
	d := decision.Decide(score, s.cfg.Threshold)

	var (
		submitted  bool
		txHash     string
		reportHash string
	)
	if d.Level == decision.LevelBlock && score >= s.cfg.Threshold && !s.alreadySubmitted(address, score) {
		receipt, err := s.ledger.Submit(ctx, ledger.Report{
			Target:    address,
			Score:     score,
			Level:     string(d.Level),
			Breakdown: result.Breakdown,
			Timestamp: result.EvaluatedAt,
		})
		if err != nil {
			s.logger.Error("ledger submission failed", "address", address, "error", err)
		} else {
			submitted = true
			txHash = receipt.TxHash
			reportHash = receipt.ReportHash
			s.submissions.Add(1)
			s.logger.Info("finding submitted to ledger",
				"address", address, "score", score, "tx", txHash)
		}
	}

	s.mu.Lock()
	alert := s.alerts[strings.ToLower(address)]
	if alert == nil {
		// Removed mid-cycle; drop the result.
		s.mu.Unlock()
		return
	}
	alert.RiskScore = score
	alert.Level = string(d.Level)
	alert.Reason = result.Explanation.Summary
	alert.Timestamp = time.Now().UTC()
	if submitted {
		alert.SubmittedToChain = true
		alert.SubmittedScores = append(alert.SubmittedScores, score)
		alert.TxHash = txHash
		alert.ReportHash = reportHash
	}
	snapshot := *alert
	s.mu.Unlock()

	if d.Level != decision.LevelAllow {
		s.alertsRaised.Add(1)
	}

	if s.hub != nil {
		s.hub.BroadcastAlert(map[string]interface{}{
			"address":   snapshot.Address,
			"level":     snapshot.Level,
			"riskScore": float64(snapshot.RiskScore),
			"reason":    snapshot.Reason,
		})
		if submitted {
			s.hub.BroadcastSubmission(map[string]interface{}{
				"address":    snapshot.Address,
				"riskScore":  float64(snapshot.RiskScore),
				"txHash":     snapshot.TxHash,
				"reportHash": snapshot.ReportHash,
			})
		}
	}
}

func (s *Sentinel) alreadySubmitted(address string, score int) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert := s.alerts[strings.ToLower(address)]
	if alert == nil {
		return false
	}
	for _, prev := range alert.SubmittedScores {
		if prev == score {
			return true
		}
	}
	return false
}

// evict removes oldest-timestamp alerts until the cache is within bounds.
func (s *Sentinel) evict() {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.cfg.MaxAlerts > 0 && len(s.alerts) > s.cfg.MaxAlerts {
		var oldestKey string
		var oldest time.Time
		for key, alert := range s.alerts {
			if oldestKey == "" || alert.Timestamp.Before(oldest) {
				oldestKey = key
				oldest = alert.Timestamp
			}
		}
		s.logger.Info("evicting oldest alert", "address", oldestKey)
		delete(s.alerts, oldestKey)
	}
	metrics.WatchlistSize.Set(float64(len(s.alerts)))
}

// AddWatch places an address on the watchlist with a placeholder alert so
// the next cycle picks it up. Adding an existing address is a no-op.
func (s *Sentinel) AddWatch(address string) error {
	if address == "" {
		return errors.New("agent: empty address")
	}
	key := strings.ToLower(address)

	s.mu.Lock()
	if _, ok := s.alerts[key]; ok {
		s.mu.Unlock()
		return nil
	}
	s.alerts[key] = &Alert{
		ID:        idgen.WithPrefix("alert_"),
		Address:   key,
		Level:     string(decision.LevelAllow),
		Reason:    "awaiting first evaluation",
		Timestamp: time.Now().UTC(),
	}
	n := len(s.alerts)
	s.mu.Unlock()

	metrics.WatchlistSize.Set(float64(n))
	s.evict()

	if s.hub != nil {
		s.hub.Broadcast(&realtime.Event{
			Type:      realtime.EventWatchlist,
			Timestamp: time.Now(),
			Data:      map[string]interface{}{"address": key, "action": "added"},
		})
	}
	s.logger.Info("address added to watchlist", "address", key, "watched", n)
	return nil
}

// RemoveWatch deletes an address from the watchlist. Returns whether it was
// present.
func (s *Sentinel) RemoveWatch(address string) bool {
	key := strings.ToLower(address)

	s.mu.Lock()
	_, ok := s.alerts[key]
	if ok {
		delete(s.alerts, key)
	}
	n := len(s.alerts)
	s.mu.Unlock()

	if ok {
		metrics.WatchlistSize.Set(float64(n))
		if s.hub != nil {
			s.hub.Broadcast(&realtime.Event{
				Type:      realtime.EventWatchlist,
				Timestamp: time.Now(),
				Data:      map[string]interface{}{"address": key, "action": "removed"},
			})
		}
		s.logger.Info("address removed from watchlist", "address", key, "watched", n)
	}
	return ok
}

// Watchlist returns the watched addresses, sorted for stable output.
func (s *Sentinel) Watchlist() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]string, 0, len(s.alerts))
	for addr := range s.alerts {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

// Alerts returns a copy of all alert records, newest first.
func (s *Sentinel) Alerts() []Alert {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Alert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		out = append(out, *alert)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out
}

// Status reports the sentinel's counters.
func (s *Sentinel) Status() Status {
	s.mu.RLock()
	running := s.running
	lastRun := s.lastRun
	watched := int64(len(s.alerts))
	s.mu.RUnlock()

	return Status{
		Name:        "sentinel",
		Running:     running,
		LastRun:     lastRun,
		SuccessRate: successRate(s.cycles.Load(), s.cycleErrors.Load()),
		Counters: map[string]int64{
			"cycles":           s.cycles.Load(),
			"cycleErrors":      s.cycleErrors.Load(),
			"evaluationErrors": s.evalErrors.Load(),
			"submissions":      s.submissions.Load(),
			"alertsGenerated":  s.alertsRaised.Load(),
			"watched":          watched,
		},
	}
}
