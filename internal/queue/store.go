package queue

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"atelier/internal/services"
	"atelier/internal/store"
)

const (
	avgWaitSampleSize = 100
	maxHistoryLimit   = 100
)

// Store is the queue repository. Every method runs against either the
// shared database handle or a transaction bound through WithTx.
type Store struct {
	q store.Querier
}

// NewStore builds a repository over q.
func NewStore(q store.Querier) *Store {
	return &Store{q: q}
}

// WithTx returns a copy of the store bound to tx.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	return &Store{q: tx}
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	var (
		res     sql.Result
		execErr error
	)
	err := store.RetryOnBusy(ctx, func() error {
		res, execErr = s.q.ExecContext(ctx, query, args...)
		return execErr
	})
	return res, err
}

// Insert enqueues a new item and returns it with its current position.
func (s *Store) Insert(ctx context.Context, item NewItem) (*Item, error) {
	if strings.TrimSpace(item.GenerationID) == "" {
		return nil, services.Wrap(services.ErrValidation, "queue", "insert", "generation id is required", nil)
	}
	options, err := json.Marshal(item.Options)
	if err != nil {
		return nil, fmt.Errorf("encode options: %w", err)
	}
	id := NewID()
	if _, err := s.exec(ctx,
		`INSERT INTO queue_items (id, generation_id, prompt_json, options_json, status, created_at)
         VALUES (?, ?, ?, ?, ?, ?)`,
		id, item.GenerationID, item.PromptJSON, string(options), StatusQueued, store.Now(),
	); err != nil {
		return nil, fmt.Errorf("insert queue item: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches an item with its position, returning (nil, nil) when absent.
func (s *Store) GetByID(ctx context.Context, id string) (*Item, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+itemColumns+` FROM queue_items WHERE id = ?`, id)
	return s.scanWithPosition(ctx, row, "get item")
}

// GetByGeneration returns the most recent item for a generation, or nil.
func (s *Store) GetByGeneration(ctx context.Context, generationID string) (*Item, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE generation_id = ? ORDER BY seq DESC LIMIT 1`,
		generationID,
	)
	return s.scanWithPosition(ctx, row, "get item by generation")
}

func (s *Store) scanWithPosition(ctx context.Context, row *sql.Row, op string) (*Item, error) {
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	if item.Status == StatusQueued {
		position, err := s.PositionOf(ctx, item.ID)
		if err != nil {
			return nil, err
		}
		item.Position = position
	}
	return item, nil
}

// PositionOf returns 1 + the number of queued or processing items ahead of id
// in (created_at, seq) order. Items that are not queued report 0.
func (s *Store) PositionOf(ctx context.Context, id string) (int, error) {
	var (
		status string
		ahead  int
	)
	err := s.q.QueryRowContext(ctx,
		`SELECT t.status, (
            SELECT COUNT(1) FROM queue_items o
            WHERE o.status IN (?, ?)
              AND (o.created_at < t.created_at OR (o.created_at = t.created_at AND o.seq < t.seq))
         )
         FROM queue_items t WHERE t.id = ?`,
		StatusQueued, StatusProcessing, id,
	).Scan(&status, &ahead)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, services.Wrap(services.ErrNotFound, "queue", "position", "queue item "+id+" not found", nil)
	}
	if err != nil {
		return 0, fmt.Errorf("queue position: %w", err)
	}
	if Status(status) != StatusQueued {
		return 0, nil
	}
	return ahead + 1, nil
}

// ClaimNext atomically moves the oldest queued item to processing, stamping
// started_at and counting the attempt. It returns nil when nothing is queued
// or another item is already processing.
func (s *Store) ClaimNext(ctx context.Context) (*Item, error) {
	var item *Item
	err := store.RetryOnBusy(ctx, func() error {
		row := s.q.QueryRowContext(ctx,
			`UPDATE queue_items
             SET status = ?, started_at = ?, completed_at = NULL, error = NULL, attempts = attempts + 1
             WHERE id = (
                SELECT id FROM queue_items WHERE status = ? ORDER BY created_at, seq LIMIT 1
             )
             AND NOT EXISTS (SELECT 1 FROM queue_items WHERE status = ?)
             RETURNING `+itemColumns,
			StatusProcessing, store.Now(), StatusQueued, StatusProcessing,
		)
		claimed, err := scanItem(row)
		if err != nil {
			return err
		}
		item = claimed
		return nil
	})
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claim next: %w", err)
	}
	return item, nil
}

// MarkCompleted finalizes a processing item.
func (s *Store) MarkCompleted(ctx context.Context, id string) error {
	res, err := s.exec(ctx,
		`UPDATE queue_items SET status = ?, completed_at = ?, error = NULL WHERE id = ? AND status = ?`,
		StatusCompleted, store.Now(), id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("complete queue item: %w", err)
	}
	return s.requireRow(ctx, res, id, "mark completed")
}

// MarkFailed finalizes a queued or processing item with message.
func (s *Store) MarkFailed(ctx context.Context, id, message string) error {
	res, err := s.exec(ctx,
		`UPDATE queue_items SET status = ?, completed_at = ?, error = ? WHERE id = ? AND status IN (?, ?)`,
		StatusFailed, store.Now(), store.NullableString(strings.TrimSpace(message)), id, StatusQueued, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("fail queue item: %w", err)
	}
	return s.requireRow(ctx, res, id, "mark failed")
}

// Requeue returns a processing item to its original place in line.
func (s *Store) Requeue(ctx context.Context, id string) error {
	res, err := s.exec(ctx,
		`UPDATE queue_items SET status = ?, started_at = NULL WHERE id = ? AND status = ?`,
		StatusQueued, id, StatusProcessing,
	)
	if err != nil {
		return fmt.Errorf("requeue item: %w", err)
	}
	return s.requireRow(ctx, res, id, "requeue")
}

// NextQueued peeks at the item ClaimNext would take.
func (s *Store) NextQueued(ctx context.Context) (*Item, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE status = ? ORDER BY created_at, seq LIMIT 1`,
		StatusQueued,
	)
	item, err := scanItem(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("next queued: %w", err)
	}
	processing, err := s.count(ctx, StatusProcessing)
	if err != nil {
		return nil, fmt.Errorf("next queued: %w", err)
	}
	item.Position = 1 + processing
	return item, nil
}

// CountQueued returns how many items are waiting.
func (s *Store) CountQueued(ctx context.Context) (int, error) {
	return s.count(ctx, StatusQueued)
}

func (s *Store) count(ctx context.Context, status Status) (int, error) {
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM queue_items WHERE status = ?`, status).Scan(&n); err != nil {
		return 0, fmt.Errorf("count %s: %w", status, err)
	}
	return n, nil
}

// ListActive returns processing and queued items in claim order with positions.
func (s *Store) ListActive(ctx context.Context) ([]Item, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE status IN (?, ?) ORDER BY created_at, seq`,
		StatusQueued, StatusProcessing,
	)
	if err != nil {
		return nil, fmt.Errorf("list active: %w", err)
	}
	items, err := collect(rows)
	if err != nil {
		return nil, err
	}
	for i := range items {
		if items[i].Status == StatusQueued {
			items[i].Position = i + 1
		}
	}
	return items, nil
}

// ListProcessing returns processing items claimed before cutoff. A zero
// cutoff returns every processing item.
func (s *Store) ListProcessing(ctx context.Context, cutoff time.Time) ([]Item, error) {
	query := `SELECT ` + itemColumns + ` FROM queue_items WHERE status = ?`
	args := []any{StatusProcessing}
	if !cutoff.IsZero() {
		query += ` AND (started_at IS NULL OR started_at < ?)`
		args = append(args, store.FormatTime(cutoff))
	}
	rows, err := s.q.QueryContext(ctx, query+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("list processing: %w", err)
	}
	return collect(rows)
}

// ReclaimStaleProcessing resolves processing items claimed before cutoff (all
// of them when cutoff is zero). Items are requeued unless action is StaleFail
// or they have already used maxAttempts claims, in which case they fail.
func (s *Store) ReclaimStaleProcessing(ctx context.Context, cutoff time.Time, action StaleAction, maxAttempts int) ([]Reclaimed, error) {
	stale, err := s.ListProcessing(ctx, cutoff)
	if err != nil {
		return nil, err
	}
	results := make([]Reclaimed, 0, len(stale))
	for _, item := range stale {
		exhausted := maxAttempts > 0 && item.Attempts >= maxAttempts
		if action == StaleFail || exhausted {
			msg := "processing abandoned before completion"
			if exhausted {
				msg = fmt.Sprintf("processing abandoned after %d attempts", item.Attempts)
			}
			if err := s.MarkFailed(ctx, item.ID, msg); err != nil {
				return results, err
			}
			item.Status = StatusFailed
			item.Error = msg
			results = append(results, Reclaimed{Item: item, Outcome: StatusFailed})
			continue
		}
		if err := s.Requeue(ctx, item.ID); err != nil {
			return results, err
		}
		item.Status = StatusQueued
		item.StartedAt = nil
		results = append(results, Reclaimed{Item: item, Outcome: StatusQueued})
	}
	return results, nil
}

// ListHistory returns terminal items newest first. page is 1-based and limit
// is clamped to 1..100. page is capped so the offset stays within int32.
func (s *Store) ListHistory(ctx context.Context, page, limit int, filter HistoryFilter) (HistoryPage, error) {
	limit = min(max(limit, 1), maxHistoryLimit)
	page = min(max(page, 1), math.MaxInt32/limit)

	statuses := []any{StatusCompleted, StatusFailed}
	switch filter {
	case HistoryCompleted:
		statuses = []any{StatusCompleted}
	case HistoryFailed:
		statuses = []any{StatusFailed}
	}
	where := `status IN (` + store.Placeholders(len(statuses)) + `)`

	result := HistoryPage{Page: page, Limit: limit}
	if err := s.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM queue_items WHERE `+where, statuses...).Scan(&result.Total); err != nil {
		return result, fmt.Errorf("count history: %w", err)
	}

	args := append(append([]any{}, statuses...), limit, (page-1)*limit)
	rows, err := s.q.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM queue_items WHERE `+where+`
         ORDER BY COALESCE(completed_at, created_at) DESC, seq DESC LIMIT ? OFFSET ?`,
		args...,
	)
	if err != nil {
		return result, fmt.Errorf("list history: %w", err)
	}
	items, err := collect(rows)
	if err != nil {
		return result, err
	}
	result.Items = items
	return result, nil
}

// Metrics reports live counts and the average wait of recently claimed items.
func (s *Store) Metrics(ctx context.Context) (Metrics, error) {
	var m Metrics
	var err error
	if m.QueuedCount, err = s.count(ctx, StatusQueued); err != nil {
		return m, err
	}
	if m.ProcessingCount, err = s.count(ctx, StatusProcessing); err != nil {
		return m, err
	}

	rows, err := s.q.QueryContext(ctx,
		`SELECT created_at, started_at FROM queue_items
         WHERE started_at IS NOT NULL ORDER BY started_at DESC LIMIT ?`,
		avgWaitSampleSize,
	)
	if err != nil {
		return m, fmt.Errorf("sample wait times: %w", err)
	}
	defer rows.Close()

	var (
		total   time.Duration
		samples int
	)
	for rows.Next() {
		var createdRaw, startedRaw string
		if err := rows.Scan(&createdRaw, &startedRaw); err != nil {
			return m, fmt.Errorf("scan wait sample: %w", err)
		}
		created, started := store.ParseTime(createdRaw), store.ParseTime(startedRaw)
		if created.IsZero() || started.IsZero() || started.Before(created) {
			continue
		}
		total += started.Sub(created)
		samples++
	}
	if err := rows.Err(); err != nil {
		return m, err
	}
	if samples > 0 {
		m.AvgWait = total / time.Duration(samples)
	}
	return m, nil
}

// RemoveQueued deletes an item that has not started. Processing or terminal
// items yield ErrConflict; unknown ids yield ErrNotFound.
func (s *Store) RemoveQueued(ctx context.Context, id string) error {
	res, err := s.exec(ctx, `DELETE FROM queue_items WHERE id = ? AND status = ?`, id, StatusQueued)
	if err != nil {
		return fmt.Errorf("remove queue item: %w", err)
	}
	return s.requireRow(ctx, res, id, "remove")
}

// Stats returns a count of items grouped by status.
func (s *Store) Stats(ctx context.Context) (map[Status]int, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT status, COUNT(1) FROM queue_items GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("queue stats: %w", err)
	}
	defer rows.Close()

	stats := make(map[Status]int)
	for rows.Next() {
		var status Status
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[status] = count
	}
	return stats, rows.Err()
}

// Health aggregates queue state for diagnostic output.
func (s *Store) Health(ctx context.Context) (HealthSummary, error) {
	stats, err := s.Stats(ctx)
	if err != nil {
		return HealthSummary{}, err
	}
	health := HealthSummary{
		Queued:     stats[StatusQueued],
		Processing: stats[StatusProcessing],
		Completed:  stats[StatusCompleted],
		Failed:     stats[StatusFailed],
	}
	for _, count := range stats {
		health.Total += count
	}
	return health, nil
}

func (s *Store) requireRow(ctx context.Context, res sql.Result, id, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected > 0 {
		return nil
	}
	var status string
	err = s.q.QueryRowContext(ctx, `SELECT status FROM queue_items WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return services.Wrap(services.ErrNotFound, "queue", op, "queue item "+id+" not found", nil)
	}
	if err != nil {
		return fmt.Errorf("%s lookup: %w", op, err)
	}
	return services.Wrap(services.ErrConflict, "queue", op, fmt.Sprintf("queue item %s is %s", id, status), nil)
}
