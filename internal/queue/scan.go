package queue

import (
	"database/sql"
	"encoding/json"

	"atelier/internal/store"
)

const itemColumns = "seq, id, generation_id, prompt_json, options_json, status, error, attempts, created_at, started_at, completed_at"

func scanItem(scanner interface{ Scan(dest ...any) error }) (*Item, error) {
	var (
		item         Item
		optionsRaw   sql.NullString
		statusStr    string
		errorMessage sql.NullString
		createdRaw   string
		startedRaw   sql.NullString
		completedRaw sql.NullString
	)
	if err := scanner.Scan(
		&item.Seq,
		&item.ID,
		&item.GenerationID,
		&item.PromptJSON,
		&optionsRaw,
		&statusStr,
		&errorMessage,
		&item.Attempts,
		&createdRaw,
		&startedRaw,
		&completedRaw,
	); err != nil {
		return nil, err
	}
	item.Status = Status(statusStr)
	item.Error = errorMessage.String
	item.CreatedAt = store.ParseTime(createdRaw)
	item.StartedAt = store.ParseTimePtr(startedRaw.String)
	item.CompletedAt = store.ParseTimePtr(completedRaw.String)
	if optionsRaw.String != "" {
		_ = json.Unmarshal([]byte(optionsRaw.String), &item.Options)
	}
	return &item, nil
}

func collect(rows *sql.Rows) ([]Item, error) {
	defer rows.Close()
	var items []Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
