package workflow

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"strings"

	"atelier/internal/generation"
	"atelier/internal/logging"
	"atelier/internal/queue"
	"atelier/internal/services"
)

// handleFailure marks the item and its generation failed with the
// classified message. Failed items are never retried automatically.
func (m *Manager) handleFailure(ctx context.Context, logger *slog.Logger, item *queue.Item, cause error) {
	details := services.Details(cause)
	message := strings.TrimSpace(details.Message)
	if message == "" {
		message = "generation failed without error detail"
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "item_failed"),
		logging.String(logging.FieldErrorKind, string(details.Kind)),
		logging.String(logging.FieldErrorHint, details.Hint),
		logging.String("error_message", message),
		logging.Alert("generation_failure"),
	}
	if details.Cause != nil {
		attrs = append(attrs, logging.Error(details.Cause))
	} else {
		attrs = append(attrs, logging.Error(cause))
	}
	logger.Error("queue item failed", logging.Args(attrs...)...)

	err := m.db.InTx(ctx, func(tx *sql.Tx) error {
		if err := m.queue.WithTx(tx).MarkFailed(ctx, item.ID, message); err != nil {
			return err
		}
		err := m.generations.WithTx(tx).UpdateStatus(ctx, item.GenerationID, generation.StatusFailed, message)
		if errors.Is(err, services.ErrNotFound) {
			return nil
		}
		return err
	})
	if err != nil {
		m.setLastError(err)
		logger.Error("failed to persist queue item failure",
			logging.Error(err),
			logging.String(logging.FieldEventType, "failure_persist_failed"),
			logging.String(logging.FieldErrorHint, "item will be reclaimed after processing_timeout"),
		)
	}
	m.metrics.ObserveItem(string(queue.StatusFailed), string(details.Kind))
	if err := m.notifier.NotifyGenerationFailed(ctx, item.GenerationID, message); err != nil {
		logging.WarnWithContext(logger, "failure notification failed", "notification_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check notifications.ntfy_topic"),
		)
	}
}
