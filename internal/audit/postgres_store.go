package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// PostgresStore persists check records in PostgreSQL. Schema is managed by
// the goose migrations under migrations/.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed check record store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Record(ctx context.Context, rec *CheckRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO guardian_checks
			(id, address, address_type, risk_score, level, allowed, confidence, reasoning, checked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		rec.ID,
		strings.ToLower(rec.Address),
		rec.AddressType,
		rec.RiskScore,
		rec.Level,
		rec.Allowed,
		rec.Confidence,
		rec.Reasoning,
		rec.CheckedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record guardian check: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByAddress(ctx context.Context, address string, limit int) ([]*CheckRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, address_type, risk_score, level, allowed, confidence, reasoning, checked_at
		FROM guardian_checks
		WHERE address = $1
		ORDER BY checked_at DESC
		LIMIT $2
	`, strings.ToLower(address), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list guardian checks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*CheckRecord
	for rows.Next() {
		var r CheckRecord
		if err := rows.Scan(&r.ID, &r.Address, &r.AddressType, &r.RiskScore,
			&r.Level, &r.Allowed, &r.Confidence, &r.Reasoning, &r.CheckedAt); err != nil {
			continue
		}
		result = append(result, &r)
	}
	return result, rows.Err()
}
