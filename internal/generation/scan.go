package generation

import (
	"database/sql"
	"encoding/json"
	"strings"

	"atelier/internal/store"
)

var columnNames = []string{
	"id", "prompt_json", "status", "image_path", "error_message",
	"reference_photo_ids", "components_used", "inline_reference_paths",
	"parent_id", "edit_instructions", "is_favorite", "is_hidden",
	"created_at", "updated_at",
}

var recordColumns = strings.Join(columnNames, ", ")

func prefixedColumns(prefix string) string {
	out := make([]string, len(columnNames))
	for i, name := range columnNames {
		out[i] = prefix + name
	}
	return strings.Join(out, ", ")
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (*Record, error) {
	var (
		rec          Record
		status       string
		imagePath    sql.NullString
		errorMessage sql.NullString
		refs         sql.NullString
		components   sql.NullString
		inline       sql.NullString
		parentID     sql.NullString
		editInstr    sql.NullString
		favorite     int
		hidden       int
		createdRaw   string
		updatedRaw   string
	)
	if err := scanner.Scan(
		&rec.ID,
		&rec.PromptJSON,
		&status,
		&imagePath,
		&errorMessage,
		&refs,
		&components,
		&inline,
		&parentID,
		&editInstr,
		&favorite,
		&hidden,
		&createdRaw,
		&updatedRaw,
	); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.ImagePath = imagePath.String
	rec.ErrorMessage = errorMessage.String
	rec.ReferencePhotoIDs = decodeList(refs.String)
	rec.ComponentsUsed = decodeList(components.String)
	rec.InlineReferencePaths = decodeList(inline.String)
	rec.ParentID = parentID.String
	rec.EditInstructions = editInstr.String
	rec.IsFavorite = favorite != 0
	rec.IsHidden = hidden != 0
	rec.CreatedAt = store.ParseTime(createdRaw)
	rec.UpdatedAt = store.ParseTime(updatedRaw)
	return &rec, nil
}

func decodeList(raw string) []string {
	if raw == "" {
		return []string{}
	}
	var values []string
	if err := json.Unmarshal([]byte(raw), &values); err != nil || values == nil {
		return []string{}
	}
	return values
}
