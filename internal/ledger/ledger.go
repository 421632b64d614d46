// Package ledger submits risk reports to an on-chain registry. The submitted
// proof is a content hash of a canonical report serialization, so third
// parties can verify a published report byte-for-byte.
package ledger

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/chainguard/internal/intel"
)

var (
	ErrInvalidPrivateKey = errors.New("ledger: invalid private key")
	ErrInvalidAddress    = errors.New("ledger: invalid address")
	ErrRPCConnection     = errors.New("ledger: RPC connection failed")
	ErrSubmitFailed      = errors.New("ledger: submission failed")
	ErrNoReports         = errors.New("ledger: no reports for address")
)

// Report is the payload whose hash is published on-chain.
type Report struct {
	Target    string
	Score     int
	Level     string
	Breakdown intel.Breakdown
	Timestamp time.Time
}

// canonicalReport fixes the serialized field order and timestamp format.
// Changing this struct changes every published hash.
type canonicalReport struct {
	Target    string          `json:"target"`
	Score     int             `json:"score"`
	Level     string          `json:"level"`
	Breakdown intel.Breakdown `json:"breakdown"`
	Timestamp string          `json:"timestamp"`
}

// Canonical returns the byte-reproducible serialization of the report.
func (r Report) Canonical() ([]byte, error) {
	return json.Marshal(canonicalReport{
		Target:    r.Target,
		Score:     r.Score,
		Level:     r.Level,
		Breakdown: r.Breakdown,
		Timestamp: r.Timestamp.UTC().Format(time.RFC3339),
	})
}

// Hash returns the hex sha256 digest of the canonical serialization.
func (r Report) Hash() (string, error) {
	b, err := r.Canonical()
	if err != nil {
		return "", fmt.Errorf("ledger: canonicalize report: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}

// Receipt describes the outcome of one submission.
type Receipt struct {
	Success     bool   `json:"success"`
	TxHash      string `json:"tx_hash,omitempty"`
	ReportHash  string `json:"report_hash"`
	BlockNumber uint64 `json:"block_number,omitempty"`
	Err         string `json:"error,omitempty"`
}

// Client publishes risk reports and reads back prior submissions.
type Client interface {
	Submit(ctx context.Context, report Report) (*Receipt, error)
	Latest(ctx context.Context, address string) (*Receipt, error)
	Count(ctx context.Context, address string) (uint64, error)
}
