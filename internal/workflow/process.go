package workflow

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"atelier/internal/generation"
	"atelier/internal/imagestore"
	"atelier/internal/logging"
	"atelier/internal/provider"
	"atelier/internal/queue"
	"atelier/internal/services"
)

// ProcessQueue drains queued items one at a time until none remain. Callers
// that find a drain already running return immediately with no error, so it
// is safe to call from any goroutine.
func (m *Manager) ProcessQueue(ctx context.Context) error {
	for {
		if !m.draining.CompareAndSwap(false, true) {
			return nil
		}
		err := m.drain(ctx)
		m.draining.Store(false)
		if err != nil {
			return err
		}
		// An enqueue that landed between the last empty claim and the guard
		// release would otherwise wait for the next poll.
		stats, err := m.queue.Stats(ctx)
		if err != nil || stats[queue.StatusQueued] == 0 || stats[queue.StatusProcessing] > 0 {
			return err
		}
	}
}

// Draining reports whether a drain currently holds the guard.
func (m *Manager) Draining() bool {
	return m.draining.Load()
}

func (m *Manager) drain(ctx context.Context) error {
	defer m.publishDepth(ctx)

	if err := m.reclaimStale(ctx, time.Now().Add(-m.processingTimeout)); err != nil {
		return err
	}
	started := time.Now()
	var completed, failed int
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		item, err := m.claim(ctx)
		if err != nil {
			return err
		}
		if item == nil {
			m.notifyDrained(ctx, completed, failed, time.Since(started))
			return nil
		}
		switch m.processItem(ctx, item) {
		case queue.StatusCompleted:
			completed++
		case queue.StatusFailed:
			failed++
		}
	}
}

// claim takes the next queued item and moves its generation to generating in
// one transaction. An item whose generation cannot start is failed in place,
// along with its generation unless that already finished, and the claim moves
// on.
func (m *Manager) claim(ctx context.Context) (*queue.Item, error) {
	for {
		var (
			item    *queue.Item
			skipped bool
		)
		err := m.db.InTx(ctx, func(tx *sql.Tx) error {
			item, skipped = nil, false
			claimed, err := m.queue.WithTx(tx).ClaimNext(ctx)
			if err != nil || claimed == nil {
				return err
			}
			item = claimed
			err = m.generations.WithTx(tx).UpdateStatus(ctx, claimed.GenerationID, generation.StatusGenerating, "")
			if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrNotFound) {
				skipped = true
				if err := m.queue.WithTx(tx).MarkFailed(ctx, claimed.ID, unstartableMessage); err != nil {
					return err
				}
				err = m.generations.WithTx(tx).UpdateStatus(ctx, claimed.GenerationID, generation.StatusFailed, unstartableMessage)
				if errors.Is(err, services.ErrConflict) || errors.Is(err, services.ErrNotFound) {
					return nil
				}
			}
			return err
		})
		if err != nil {
			return nil, err
		}
		if skipped {
			m.recordSkipped(ctx, item)
			continue
		}
		return item, nil
	}
}

const unstartableMessage = "generation was not pending when claimed"

// recordSkipped reports an item failed at claim time the way handleFailure
// reports a failed render.
func (m *Manager) recordSkipped(ctx context.Context, item *queue.Item) {
	ctx = services.WithQueueItemID(ctx, item.ID)
	ctx = services.WithGenerationID(ctx, item.GenerationID)
	logger := logging.WithContext(ctx, m.logger)
	logging.WarnWithContext(logger, "skipped queue item with unstartable generation", "claim_skipped",
		logging.String(logging.FieldErrorKind, string(services.KindConflict)),
	)
	m.metrics.ObserveItem(string(queue.StatusFailed), string(services.KindConflict))
	if err := m.notifier.NotifyGenerationFailed(ctx, item.GenerationID, unstartableMessage); err != nil {
		logging.WarnWithContext(logger, "failure notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

// processItem runs one claimed item and returns its terminal status, or an
// empty status when shutdown interrupted it.
func (m *Manager) processItem(ctx context.Context, item *queue.Item) queue.Status {
	ctx = services.WithQueueItemID(ctx, item.ID)
	ctx = services.WithGenerationID(ctx, item.GenerationID)
	logger := logging.WithContext(ctx, m.logger)
	logger.Info("processing queue item",
		logging.String(logging.FieldEventType, "item_started"),
		logging.Int("attempt", item.Attempts),
		logging.String("remix_mode", string(item.Options.RemixMode)),
	)
	m.setLastItem(item)

	path, err := m.render(ctx, logger, item)
	if err == nil {
		err = m.finalize(ctx, logger, item, path)
	}
	if err == nil {
		m.metrics.ObserveItem(string(queue.StatusCompleted), "")
		logger.Info("queue item completed",
			logging.String(logging.FieldEventType, "item_completed"),
			logging.String("image_path", path),
		)
		return queue.StatusCompleted
	}
	if ctx.Err() != nil {
		// Shutdown mid-item: leave it processing for startup recovery.
		logger.Info("daemon shutting down, queue item left for recovery",
			logging.String(logging.FieldEventType, "item_interrupted"),
		)
		return ""
	}
	m.handleFailure(ctx, logger, item, err)
	return queue.StatusFailed
}

// render calls the provider and stores the validated image under a key
// derived from the queue item id, so a retried item overwrites its own
// earlier output.
func (m *Manager) render(ctx context.Context, logger *slog.Logger, item *queue.Item) (string, error) {
	req, err := m.buildRequest(ctx, item)
	if err != nil {
		return "", err
	}

	callCtx, cancel := context.WithTimeout(ctx, m.providerTimeout)
	started := time.Now()
	result, err := m.provider.Generate(callCtx, req)
	cancel()
	elapsed := time.Since(started)
	outcome := "ok"
	if err != nil {
		outcome = string(services.Details(err).Kind)
	}
	m.metrics.ObserveProvider(m.provider.Name(), outcome, elapsed)
	if err != nil {
		return "", err
	}
	logger.Debug("provider returned image",
		logging.Duration("elapsed", elapsed),
		logging.Int("bytes", len(result.Data)),
		logging.String("model", result.Model),
	)

	img, err := imagestore.Detect(result.Data)
	if err != nil {
		return "", err
	}
	return m.images.Save(ctx, item.ID+"."+img.Ext, img.Data, img.MIME)
}

func (m *Manager) buildRequest(ctx context.Context, item *queue.Item) (provider.Request, error) {
	opts := item.Options
	req := provider.Request{
		QueueItemID:      item.ID,
		PromptJSON:       item.PromptJSON,
		EditInstructions: opts.EditInstructions,
		GoogleSearch:     opts.GoogleSearch,
		SafetyOverride:   opts.SafetyOverride,
	}
	if m.refs != nil {
		photos, err := m.refs.Photos(opts.ReferencePhotoIDs)
		if err != nil {
			return req, err
		}
		inline, err := m.refs.Inline(opts.InlineReferencePaths)
		if err != nil {
			return req, err
		}
		req.References = append(photos, inline...)
	}
	if opts.RemixSourceID != "" {
		source, err := m.generations.GetByID(ctx, opts.RemixSourceID)
		if err != nil {
			return req, err
		}
		if source == nil || source.ImagePath == "" {
			return req, services.Wrap(services.ErrNotFound, "workflow", "load remix source",
				"remix source "+opts.RemixSourceID+" no longer has an image", nil)
		}
		data, err := m.images.Read(ctx, source.ImagePath)
		if err != nil {
			return req, err
		}
		img, err := imagestore.Detect(data)
		if err != nil {
			return req, err
		}
		req.Source = &provider.Image{Name: source.ID, MIME: img.MIME, Data: img.Data}
	}
	return req, nil
}

// finalize commits a successful render. Replace items write the image onto
// their source and complete the hidden intermediate without one; the image
// they displaced is removed after commit.
func (m *Manager) finalize(ctx context.Context, logger *slog.Logger, item *queue.Item, path string) error {
	var previous string
	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		gens := m.generations.WithTx(tx)
		if item.Options.IsReplace() {
			prev, err := gens.ApplyReplacement(ctx, item.Options.RemixSourceID, path, item.PromptJSON, item.Options.EditInstructions)
			if err != nil {
				return err
			}
			previous = prev
			if err := gens.MarkCompleted(ctx, item.GenerationID, ""); err != nil {
				return err
			}
		} else if err := gens.MarkCompleted(ctx, item.GenerationID, path); err != nil {
			return err
		}
		return m.queue.WithTx(tx).MarkCompleted(ctx, item.ID)
	})
	if err != nil {
		if ctx.Err() == nil {
			m.removeImage(ctx, logger, path, "rendered image for failed finalize")
		}
		return err
	}
	if previous != "" && previous != path {
		m.removeImage(ctx, logger, previous, "replaced image")
	}
	return nil
}

func (m *Manager) removeImage(ctx context.Context, logger *slog.Logger, path, what string) {
	if err := m.images.Delete(ctx, path); err != nil {
		logging.WarnWithContext(logger, "image removal failed", "image_cleanup",
			logging.String("image_path", path),
			logging.String("image_role", what),
			logging.Error(err),
			logging.String(logging.FieldImpact, "orphaned image file remains in storage"),
		)
	}
}

func (m *Manager) notifyDrained(ctx context.Context, completed, failed int, elapsed time.Duration) {
	if completed+failed == 0 {
		return
	}
	m.logger.Info("queue drained",
		logging.String(logging.FieldEventType, "queue_drained"),
		logging.Int("completed", completed),
		logging.Int("failed", failed),
		logging.Duration("elapsed", elapsed),
	)
	if err := m.notifier.NotifyQueueDrained(ctx, completed, failed, elapsed); err != nil {
		logging.WarnWithContext(m.logger, "queue drained notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}

func (m *Manager) publishDepth(ctx context.Context) {
	if m.metrics == nil {
		return
	}
	stats, err := m.queue.Metrics(ctx)
	if err != nil {
		return
	}
	m.metrics.SetQueueDepth(stats.QueuedCount, stats.ProcessingCount)
}
