package agent

import (
	"context"
	"log/slog"
)

// Manager owns the guardian and the sentinel, and is the only path through
// which they reach each other: the guardian escalates via the sentinel's
// watchlist, never by touching its cache.
type Manager struct {
	guardian *Guardian
	sentinel *Sentinel
	logger   *slog.Logger
}

// NewManager wires the two agents together.
func NewManager(guardian *Guardian, sentinel *Sentinel, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		guardian: guardian,
		sentinel: sentinel,
		logger:   logger,
	}
}

// Guardian returns the managed guardian.
func (m *Manager) Guardian() *Guardian {
	return m.guardian
}

// Sentinel returns the managed sentinel.
func (m *Manager) Sentinel() *Sentinel {
	return m.sentinel
}

// StartAll starts both agents.
func (m *Manager) StartAll(ctx context.Context) error {
	m.guardian.Start()
	if err := m.sentinel.Start(ctx); err != nil {
		return err
	}
	m.logger.Info("all agents started")
	return nil
}

// StopAll stops both agents. The sentinel's in-flight cycle finishes first.
func (m *Manager) StopAll() {
	m.sentinel.Stop()
	m.guardian.Stop()
	m.logger.Info("all agents stopped")
}

// Status reports every agent keyed by name.
func (m *Manager) Status() map[string]Status {
	return map[string]Status{
		"guardian": m.guardian.Status(),
		"sentinel": m.sentinel.Status(),
	}
}
