package audit

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore is an in-memory implementation of Store for demo/test use.
type MemoryStore struct {
	mu     sync.RWMutex
	checks map[string][]*CheckRecord // lowercased address → records
}

// NewMemoryStore creates an in-memory check record store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		checks: make(map[string][]*CheckRecord),
	}
}

func (s *MemoryStore) Record(_ context.Context, rec *CheckRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	r := *rec
	key := strings.ToLower(rec.Address)
	s.checks[key] = append(s.checks[key], &r)
	return nil
}

func (s *MemoryStore) ListByAddress(_ context.Context, address string, limit int) ([]*CheckRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	all := s.checks[strings.ToLower(address)]
	if len(all) == 0 {
		return nil, nil
	}

	// Most recent first, up to limit.
	start := len(all) - limit
	if start < 0 {
		start = 0
	}
	result := make([]*CheckRecord, 0, len(all)-start)
	for i := len(all) - 1; i >= start; i-- {
		r := *all[i]
		result = append(result, &r)
	}
	return result, nil
}
