// Package agent hosts the two decision agents built on the intelligence
// engine: the guardian (synchronous request gate) and the sentinel
// (autonomous watchlist monitor). A manager owns both and exposes a
// combined lifecycle.
package agent

import (
	"context"
	"time"

	"github.com/mbd888/chainguard/internal/intel"
)

// Analyzer produces risk intelligence for an address. Satisfied by
// *intel.Engine; narrowed to an interface so agent tests can stub it.
type Analyzer interface {
	Analyze(ctx context.Context, address string) *intel.Result
}

// Status is one agent's self-reported state and counters. SuccessRate is the
// fraction of runs that completed without an internal error; 1.0 before the
// first run.
type Status struct {
	Name        string           `json:"name"`
	Running     bool             `json:"running"`
	LastRun     time.Time        `json:"lastRun"`
	SuccessRate float64          `json:"successRate"`
	Counters    map[string]int64 `json:"counters"`
}

func successRate(runs, errors int64) float64 {
	if runs <= 0 {
		return 1.0
	}
	return float64(runs-errors) / float64(runs)
}
