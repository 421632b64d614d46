package audit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreRecordAndList(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	for i, level := range []string{"ALLOW", "WARN", "BLOCK"} {
		err := s.Record(ctx, &CheckRecord{
			ID:        "chk_" + level,
			Address:   "0xABC",
			RiskScore: i * 40,
			Level:     level,
			Allowed:   level != "BLOCK",
			CheckedAt: time.Now().UTC(),
		})
		require.NoError(t, err)
	}

	// Case-insensitive address lookup, most recent first.
	got, err := s.ListByAddress(ctx, "0xabc", 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "chk_BLOCK", got[0].ID)
	assert.Equal(t, "chk_WARN", got[1].ID)

	none, err := s.ListByAddress(ctx, "0xdef", 10)
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestMemoryStoreCopiesRecords(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	rec := &CheckRecord{ID: "chk_1", Address: "0xabc", Level: "WARN"}
	require.NoError(t, s.Record(ctx, rec))

	rec.Level = "BLOCK" // caller mutation must not leak into the store

	got, err := s.ListByAddress(ctx, "0xabc", 1)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "WARN", got[0].Level)
}
