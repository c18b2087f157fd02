package generation

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"atelier/internal/services"
	"atelier/internal/store"
)

const defaultLineageDepth = 64

// ImageRemover deletes a stored image by the path recorded on a generation.
type ImageRemover interface {
	Delete(ctx context.Context, path string) error
}

// Store is the generation repository. Every method runs against either the
// shared database handle or a transaction bound through WithTx.
type Store struct {
	q        store.Querier
	images   ImageRemover
	maxDepth int
}

// NewStore builds a repository over q. images may be nil when callers never
// delete records.
func NewStore(q store.Querier, images ImageRemover) *Store {
	return &Store{q: q, images: images, maxDepth: defaultLineageDepth}
}

// WithTx returns a copy of the store bound to tx.
func (s *Store) WithTx(tx *sql.Tx) *Store {
	clone := *s
	clone.q = tx
	return &clone
}

// WithLineageDepth caps how many ancestors Lineage walks.
func (s *Store) WithLineageDepth(depth int) *Store {
	clone := *s
	if depth > 0 {
		clone.maxDepth = depth
	}
	return &clone
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

// Create inserts a pending record with a fresh UUID.
func (s *Store) Create(ctx context.Context, params CreateParams) (*Record, error) {
	prompt := strings.TrimSpace(params.PromptJSON)
	if prompt == "" {
		return nil, services.Wrap(services.ErrValidation, "generation", "create", "prompt_json is required", nil)
	}
	refs, err := encodeList(params.ReferencePhotoIDs)
	if err != nil {
		return nil, err
	}
	components, err := encodeList(params.ComponentsUsed)
	if err != nil {
		return nil, err
	}
	inline, err := encodeList(params.InlineReferencePaths)
	if err != nil {
		return nil, err
	}

	id := uuid.NewString()
	now := store.Now()
	if _, err := s.exec(ctx,
		`INSERT INTO generations (
            id, prompt_json, status, reference_photo_ids, components_used, inline_reference_paths,
            parent_id, edit_instructions, is_hidden, created_at, updated_at
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, prompt, StatusPending, refs, components, inline,
		store.NullableString(params.ParentID),
		store.NullableString(params.EditInstructions),
		store.BoolToInt(params.Hidden),
		now, now,
	); err != nil {
		return nil, fmt.Errorf("insert generation: %w", err)
	}
	return s.GetByID(ctx, id)
}

// GetByID fetches a record, returning (nil, nil) when it does not exist.
func (s *Store) GetByID(ctx context.Context, id string) (*Record, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM generations WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get generation: %w", err)
	}
	return rec, nil
}

// UpdateStatus moves a record to pending, generating, or failed. The update
// only applies when the current status is a valid source for the target;
// otherwise ErrConflict is returned. errorMessage is stored only for failed.
func (s *Store) UpdateStatus(ctx context.Context, id string, status Status, errorMessage string) error {
	sources, ok := allowedFrom[status]
	if !ok {
		return services.Wrap(services.ErrValidation, "generation", "update status",
			fmt.Sprintf("status %q cannot be set directly", status), nil)
	}
	if status != StatusFailed {
		errorMessage = ""
	}
	args := []any{status, store.NullableString(errorMessage), store.Now(), id}
	for _, src := range sources {
		args = append(args, src)
	}
	res, err := s.exec(ctx,
		`UPDATE generations SET status = ?, error_message = ?, updated_at = ?
         WHERE id = ? AND status IN (`+store.Placeholders(len(sources))+`)`,
		args...,
	)
	if err != nil {
		return fmt.Errorf("update generation status: %w", err)
	}
	return s.requireRow(ctx, res, id, "update status")
}

// MarkCompleted finalizes a generating record. An empty imagePath leaves the
// image unset, which is how replace intermediates complete.
func (s *Store) MarkCompleted(ctx context.Context, id, imagePath string) error {
	res, err := s.exec(ctx,
		`UPDATE generations SET status = ?, image_path = ?, error_message = NULL, updated_at = ?
         WHERE id = ? AND status = ?`,
		StatusCompleted, store.NullableString(imagePath), store.Now(), id, StatusGenerating,
	)
	if err != nil {
		return fmt.Errorf("complete generation: %w", err)
	}
	return s.requireRow(ctx, res, id, "mark completed")
}

// ApplyReplacement writes a new image and prompt onto a completed record in
// place and returns the image path it replaced.
func (s *Store) ApplyReplacement(ctx context.Context, id, imagePath, promptJSON, editInstructions string) (string, error) {
	current, err := s.GetByID(ctx, id)
	if err != nil {
		return "", err
	}
	if current == nil {
		return "", services.Wrap(services.ErrNotFound, "generation", "apply replacement", "generation "+id+" not found", nil)
	}
	res, err := s.exec(ctx,
		`UPDATE generations
         SET image_path = ?, prompt_json = ?, edit_instructions = COALESCE(?, edit_instructions), updated_at = ?
         WHERE id = ? AND status = ?`,
		imagePath, promptJSON, store.NullableString(editInstructions), store.Now(),
		id, StatusCompleted,
	)
	if err != nil {
		return "", fmt.Errorf("apply replacement: %w", err)
	}
	if err := s.requireRow(ctx, res, id, "apply replacement"); err != nil {
		return "", err
	}
	return current.ImagePath, nil
}

// Lineage returns the record followed by its ancestors up to the root,
// stopping after the configured depth.
func (s *Store) Lineage(ctx context.Context, id string) ([]Record, error) {
	rows, err := s.q.QueryContext(ctx,
		`WITH RECURSIVE chain(id, depth) AS (
            SELECT id, 0 FROM generations WHERE id = ?
            UNION ALL
            SELECT g.parent_id, chain.depth + 1
            FROM generations g JOIN chain ON g.id = chain.id
            WHERE g.parent_id IS NOT NULL AND chain.depth < ?
        )
        SELECT `+prefixedColumns("g.")+`
        FROM chain JOIN generations g ON g.id = chain.id
        ORDER BY chain.depth`,
		id, s.maxDepth,
	)
	if err != nil {
		return nil, fmt.Errorf("query lineage: %w", err)
	}
	defer rows.Close()

	var chain []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lineage: %w", err)
		}
		chain = append(chain, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, services.Wrap(services.ErrNotFound, "generation", "lineage", "generation "+id+" not found", nil)
	}
	return chain, nil
}

// ToggleFavorite flips is_favorite and returns the new value.
func (s *Store) ToggleFavorite(ctx context.Context, id string) (bool, error) {
	return s.toggle(ctx, id, "is_favorite")
}

// ToggleHidden flips is_hidden and returns the new value.
func (s *Store) ToggleHidden(ctx context.Context, id string) (bool, error) {
	return s.toggle(ctx, id, "is_hidden")
}

func (s *Store) toggle(ctx context.Context, id, column string) (bool, error) {
	var value int
	err := store.RetryOnBusy(ctx, func() error {
		return s.q.QueryRowContext(ctx,
			`UPDATE generations SET `+column+` = 1 - `+column+`, updated_at = ? WHERE id = ? RETURNING `+column,
			store.Now(), id,
		).Scan(&value)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, services.Wrap(services.ErrNotFound, "generation", "toggle "+column, "generation "+id+" not found", nil)
	}
	if err != nil {
		return false, fmt.Errorf("toggle %s: %w", column, err)
	}
	return value != 0, nil
}

// Delete removes the record and then its stored image. It reports false when
// no record existed. Queue rows cascade; children keep existing with their
// parent cleared.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	var imagePath sql.NullString
	err := store.RetryOnBusy(ctx, func() error {
		return s.q.QueryRowContext(ctx, `DELETE FROM generations WHERE id = ? RETURNING image_path`, id).Scan(&imagePath)
	})
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("delete generation: %w", err)
	}
	if imagePath.String != "" && s.images != nil {
		if err := s.images.Delete(ctx, imagePath.String); err != nil {
			return true, services.Wrap(services.ErrTransient, "generation", "delete image", imagePath.String, err)
		}
	}
	return true, nil
}

// List returns records newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Record, error) {
	var (
		clauses []string
		args    []any
	)
	if !filter.IncludeHidden {
		clauses = append(clauses, "is_hidden = 0")
	}
	if filter.FavoritesOnly {
		clauses = append(clauses, "is_favorite = 1")
	}
	query := `SELECT ` + recordColumns + ` FROM generations`
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, id"
	limit := filter.Limit
	if limit <= 0 {
		limit = -1
	}
	query += " LIMIT ? OFFSET ?"
	args = append(args, limit, max(filter.Offset, 0))

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generations: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *Store) requireRow(ctx context.Context, res sql.Result, id, op string) error {
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows affected: %w", op, err)
	}
	if affected > 0 {
		return nil
	}
	return s.missingOrConflict(ctx, id, op)
}

func (s *Store) missingOrConflict(ctx context.Context, id, op string) error {
	rec, err := s.GetByID(ctx, id)
	if err != nil {
		return err
	}
	if rec == nil {
		return services.Wrap(services.ErrNotFound, "generation", op, "generation "+id+" not found", nil)
	}
	return services.Wrap(services.ErrConflict, "generation", op,
		fmt.Sprintf("generation %s is %s", id, rec.Status), nil)
}

func encodeList(values []string) (string, error) {
	if values == nil {
		values = []string{}
	}
	data, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("encode list: %w", err)
	}
	return string(data), nil
}
