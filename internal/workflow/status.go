package workflow

import (
	"context"

	"atelier/internal/logging"
	"atelier/internal/queue"
)

// StatusSummary represents lightweight workflow diagnostics.
type StatusSummary struct {
	Running        bool
	Draining       bool
	LastError      string
	LastItem       *queue.Item
	QueueStats     map[queue.Status]int
	Provider       string
	StorageBackend string
	StorageHealthy bool
	StorageDetail  string
}

// Status returns the latest workflow information.
func (m *Manager) Status(ctx context.Context) StatusSummary {
	m.mu.RLock()
	running := m.running
	lastErr := m.lastErr
	lastItem := m.lastItem
	m.mu.RUnlock()

	stats, err := m.queue.Stats(ctx)
	if err != nil {
		m.logger.Warn("failed to read queue stats", logging.Error(err))
	}

	summary := StatusSummary{
		Running:    running,
		Draining:   m.draining.Load(),
		QueueStats: stats,
	}
	if m.provider != nil {
		summary.Provider = m.provider.Name()
	}
	if m.images != nil {
		summary.StorageBackend = m.images.Backend()
		if err := m.images.Health(ctx); err != nil {
			summary.StorageDetail = err.Error()
		} else {
			summary.StorageHealthy = true
		}
	}
	if lastErr != nil {
		summary.LastError = lastErr.Error()
	}
	if lastItem != nil {
		copy := *lastItem
		summary.LastItem = &copy
	}
	return summary
}

func (m *Manager) setLastError(err error) {
	m.mu.Lock()
	m.lastErr = err
	m.mu.Unlock()
}

func (m *Manager) setLastItem(item *queue.Item) {
	m.mu.Lock()
	if item != nil {
		copy := *item
		m.lastItem = &copy
	} else {
		m.lastItem = nil
	}
	m.mu.Unlock()
}
