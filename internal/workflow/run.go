package workflow

import (
	"context"
	"errors"
	"time"

	"atelier/internal/logging"
)

// Start recovers items left processing by a previous run and launches the
// worker goroutine. The caller must hold the daemon lock so no other process
// is working the same queue.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return errors.New("workflow already running")
	}
	if m.provider == nil || m.images == nil {
		m.mu.Unlock()
		return errors.New("workflow provider and image store are required")
	}

	// Every processing row is orphaned at this point.
	if err := m.reclaimStale(ctx, time.Time{}); err != nil {
		m.mu.Unlock()
		return err
	}

	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.wg.Add(1)
	m.mu.Unlock()

	go m.run(runCtx)
	m.Trigger()
	return nil
}

// Stop cancels the worker and waits for it to exit. An in-flight item is
// left processing and recovered on the next Start.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	cancel := m.cancel
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.wake:
		case <-ticker.C:
		}
		if err := m.ProcessQueue(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			m.handleDrainError(ctx, err)
		}
	}
}

func (m *Manager) handleDrainError(ctx context.Context, err error) {
	m.setLastError(err)
	m.logger.Error("queue drain failed",
		logging.Error(err),
		logging.String(logging.FieldEventType, "queue_drain_failed"),
		logging.String(logging.FieldErrorHint, "check queue database access"),
	)
	select {
	case <-ctx.Done():
	case <-time.After(m.retryInterval):
	}
}
