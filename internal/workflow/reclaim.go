package workflow

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"atelier/internal/generation"
	"atelier/internal/logging"
	"atelier/internal/queue"
	"atelier/internal/services"
)

// reclaimStale resolves processing items claimed before cutoff (all of them
// when cutoff is zero) together with their generations: requeued items put
// the generation back to pending, failed ones fail it with the same message.
func (m *Manager) reclaimStale(ctx context.Context, cutoff time.Time) error {
	var reclaimed []queue.Reclaimed
	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		var err error
		reclaimed, err = m.queue.WithTx(tx).ReclaimStaleProcessing(ctx, cutoff, m.staleAction, m.maxAttempts)
		if err != nil {
			return err
		}
		gens := m.generations.WithTx(tx)
		for _, r := range reclaimed {
			var updateErr error
			if r.Outcome == queue.StatusFailed {
				updateErr = gens.UpdateStatus(ctx, r.Item.GenerationID, generation.StatusFailed, r.Item.Error)
			} else {
				updateErr = gens.UpdateStatus(ctx, r.Item.GenerationID, generation.StatusPending, "")
			}
			if updateErr != nil && !errors.Is(updateErr, services.ErrConflict) && !errors.Is(updateErr, services.ErrNotFound) {
				return updateErr
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, r := range reclaimed {
		m.metrics.ObserveReclaim(string(r.Outcome))
		m.logger.Warn("reclaimed stale processing item",
			logging.String(logging.FieldQueueItemID, r.Item.ID),
			logging.String(logging.FieldGenerationID, r.Item.GenerationID),
			logging.String("outcome", string(r.Outcome)),
			logging.Int("attempts", r.Item.Attempts),
			logging.String(logging.FieldEventType, "stale_reclaimed"),
			logging.Bool("startup", cutoff.IsZero()),
		)
	}
	return nil
}
