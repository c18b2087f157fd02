package jobs

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"atelier/internal/generation"
	"atelier/internal/logging"
	"atelier/internal/queue"
	"atelier/internal/services"
)

// QueueStatus is either a single item view (Item set) or the aggregate view.
// Counts and AvgWait are filled in both cases.
type QueueStatus struct {
	Item       *queue.Item
	Queued     int
	Processing int
	AvgWait    time.Duration
}

// GenerationStatus is the polling view of one generation.
type GenerationStatus struct {
	Generation *generation.Record
	// QueueItem is the latest queue entry for the generation, if any.
	QueueItem *queue.Item
	// Position is non-zero only while the queue entry is waiting.
	Position int
}

// ActiveView lists queued and processing items with live metrics.
type ActiveView struct {
	Items   []queue.Item
	Metrics queue.Metrics
}

// QueueStatus reports one item when id is non-empty, otherwise queue totals.
func (m *Manager) QueueStatus(ctx context.Context, id string) (QueueStatus, error) {
	metrics, err := m.queue.Metrics(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	status := QueueStatus{
		Queued:     metrics.QueuedCount,
		Processing: metrics.ProcessingCount,
		AvgWait:    metrics.AvgWait,
	}
	if id == "" {
		return status, nil
	}
	if !queue.IsValidID(id) {
		return QueueStatus{}, services.Wrap(services.ErrValidation, "jobs", "queue status", fmt.Sprintf("malformed queue id %q", id), nil)
	}
	item, err := m.queue.GetByID(ctx, id)
	if err != nil {
		return QueueStatus{}, err
	}
	if item == nil {
		return QueueStatus{}, services.Wrap(services.ErrNotFound, "jobs", "queue status", "queue item "+id+" not found", nil)
	}
	status.Item = item
	return status, nil
}

// DeleteQueueItem cancels an item that has not started. The paired generation
// stays pending; it is never picked up again.
func (m *Manager) DeleteQueueItem(ctx context.Context, id string) error {
	if err := m.queue.RemoveQueued(ctx, id); err != nil {
		return err
	}
	m.logContext(ctx).Info("queue item removed",
		logging.String(logging.FieldEventType, "queue_remove"),
		logging.String(logging.FieldQueueItemID, id),
	)
	return nil
}

// GenerationStatus returns the record plus its queue position when waiting.
func (m *Manager) GenerationStatus(ctx context.Context, id string) (GenerationStatus, error) {
	rec, err := m.Generation(ctx, id)
	if err != nil {
		return GenerationStatus{}, err
	}
	item, err := m.queue.GetByGeneration(ctx, id)
	if err != nil {
		return GenerationStatus{}, err
	}
	status := GenerationStatus{Generation: rec, QueueItem: item}
	if item != nil {
		status.Position = item.Position
	}
	return status, nil
}

// Active lists queued and processing items in line order.
func (m *Manager) Active(ctx context.Context) (ActiveView, error) {
	items, err := m.queue.ListActive(ctx)
	if err != nil {
		return ActiveView{}, err
	}
	metrics, err := m.queue.Metrics(ctx)
	if err != nil {
		return ActiveView{}, err
	}
	return ActiveView{Items: items, Metrics: metrics}, nil
}

// History pages through finished items. limit 0 uses the configured page size.
func (m *Manager) History(ctx context.Context, page, limit int, filter string) (queue.HistoryPage, error) {
	parsed, ok := queue.ParseHistoryFilter(filter)
	if !ok {
		return queue.HistoryPage{}, services.Wrap(services.ErrValidation, "jobs", "history",
			fmt.Sprintf("unknown status filter %q", filter), nil)
	}
	if limit == 0 {
		limit = m.historyPageSize
	}
	return m.queue.ListHistory(ctx, page, limit, parsed)
}

// Generation fetches one record or ErrNotFound.
func (m *Manager) Generation(ctx context.Context, id string) (*generation.Record, error) {
	rec, err := m.generations.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil {
		return nil, services.Wrap(services.ErrNotFound, "jobs", "generation", "generation "+id+" not found", nil)
	}
	return rec, nil
}

// ListGenerations returns records newest first.
func (m *Manager) ListGenerations(ctx context.Context, filter generation.ListFilter) ([]generation.Record, error) {
	return m.generations.List(ctx, filter)
}

// Lineage returns the record followed by its ancestors.
func (m *Manager) Lineage(ctx context.Context, id string) ([]generation.Record, error) {
	return m.generations.Lineage(ctx, id)
}

func (m *Manager) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	return m.generations.ToggleFavorite(ctx, id)
}

func (m *Manager) ToggleHidden(ctx context.Context, id string) (bool, error) {
	return m.generations.ToggleHidden(ctx, id)
}

// DeleteGeneration removes a record and its image. A generation whose queue
// entry is being processed cannot be deleted until it finishes.
func (m *Manager) DeleteGeneration(ctx context.Context, id string) error {
	var imagePath string
	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		item, err := m.queue.WithTx(tx).GetByGeneration(ctx, id)
		if err != nil {
			return err
		}
		if item != nil && item.Status == queue.StatusProcessing {
			return services.Wrap(services.ErrConflict, "jobs", "delete generation",
				"generation "+id+" is being processed", nil)
		}
		// Image removal waits for commit so a rollback never loses a file.
		gens := generation.NewStore(tx, nil)
		rec, err := gens.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if rec == nil {
			return services.Wrap(services.ErrNotFound, "jobs", "delete generation", "generation "+id+" not found", nil)
		}
		imagePath = rec.ImagePath
		_, err = gens.Delete(ctx, id)
		return err
	})
	if err != nil {
		return err
	}
	if imagePath != "" && m.images != nil {
		if err := m.images.Delete(ctx, imagePath); err != nil {
			logging.WarnWithContext(m.logContext(ctx), "generation image removal failed", "image_cleanup",
				logging.String(logging.FieldGenerationID, id),
				logging.String("image_path", imagePath),
				logging.Error(err),
				logging.String(logging.FieldImpact, "orphaned image file remains in storage"),
			)
		}
	}
	m.logContext(ctx).Info("generation deleted",
		logging.String(logging.FieldEventType, "generation_delete"),
		logging.String(logging.FieldGenerationID, id),
	)
	return nil
}

// Health reports queue counts per state.
func (m *Manager) Health(ctx context.Context) (queue.HealthSummary, error) {
	return m.queue.Health(ctx)
}
