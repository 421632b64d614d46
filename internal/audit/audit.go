// Package audit persists guardian check decisions for after-the-fact review.
// Recording is best-effort from the caller's point of view: a failed write is
// logged, never surfaced to the request path.
package audit

import (
	"context"
	"time"
)

// CheckRecord is one guardian decision as it was returned to the caller.
type CheckRecord struct {
	ID          string    `json:"id"`
	Address     string    `json:"address"`
	AddressType string    `json:"address_type"`
	RiskScore   int       `json:"risk_score"`
	Level       string    `json:"level"`
	Allowed     bool      `json:"allowed"`
	Confidence  string    `json:"confidence"`
	Reasoning   string    `json:"reasoning"`
	CheckedAt   time.Time `json:"checked_at"`
}

// Store persists check records.
type Store interface {
	Record(ctx context.Context, rec *CheckRecord) error
	ListByAddress(ctx context.Context, address string, limit int) ([]*CheckRecord, error)
}
