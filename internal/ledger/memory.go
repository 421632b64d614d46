package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"sync"

	"github.com/mbd888/chainguard/internal/metrics"
)

// Memory is an in-process Client used in tests and for local development
// without a funded submitter key.
type Memory struct {
	mu      sync.RWMutex
	entries map[string][]*Receipt
	blocks  uint64
}

var _ Client = (*Memory)(nil)

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]*Receipt)}
}

// Submit records the report and returns a synthetic receipt.
func (m *Memory) Submit(_ context.Context, report Report) (*Receipt, error) {
	reportHash, err := report.Hash()
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := strings.ToLower(report.Target)
	m.blocks++

	// Synthetic but well-formed tx hash, distinct per submission.
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s:%d:%d", reportHash, report.Score, m.blocks)))
	receipt := &Receipt{
		Success:     true,
		TxHash:      "0x" + hex.EncodeToString(sum[:]),
		ReportHash:  reportHash,
		BlockNumber: m.blocks,
	}
	m.entries[key] = append(m.entries[key], receipt)
	metrics.LedgerSubmissionsTotal.WithLabelValues("success").Inc()
	return receipt, nil
}

// Latest returns the most recent receipt for an address.
func (m *Memory) Latest(_ context.Context, address string) (*Receipt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	list := m.entries[strings.ToLower(address)]
	if len(list) == 0 {
		return nil, ErrNoReports
	}
	return list[len(list)-1], nil
}

// Count returns the number of submissions recorded for an address.
func (m *Memory) Count(_ context.Context, address string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return uint64(len(m.entries[strings.ToLower(address)])), nil
}
