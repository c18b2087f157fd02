package api

import (
	"bytes"
	"encoding/json"
	"strings"
)

// dateTimeFormat is used for RFC3339 timestamps in API payloads.
const dateTimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Generation describes a generation record in a transport-friendly format.
type Generation struct {
	ID                   string          `json:"id"`
	Status               string          `json:"status"`
	PromptJSON           json.RawMessage `json:"prompt_json"`
	ImagePath            string          `json:"image_path,omitempty"`
	ErrorMessage         string          `json:"error_message,omitempty"`
	ReferencePhotoIDs    []string        `json:"reference_photo_ids,omitempty"`
	ComponentsUsed       []string        `json:"components_used,omitempty"`
	InlineReferencePaths []string        `json:"inline_reference_paths,omitempty"`
	ParentID             string          `json:"parent_id,omitempty"`
	EditInstructions     string          `json:"edit_instructions,omitempty"`
	IsFavorite           bool            `json:"is_favorite"`
	IsHidden             bool            `json:"is_hidden"`
	CreatedAt            string          `json:"created_at,omitempty"`
	UpdatedAt            string          `json:"updated_at,omitempty"`
}

// QueueItem describes a queue entry in a transport-friendly format.
type QueueItem struct {
	ID               string   `json:"id"`
	GenerationID     string   `json:"generation_id"`
	Status           string   `json:"status"`
	Position         int      `json:"position,omitempty"`
	Error            string   `json:"error,omitempty"`
	Attempts         int      `json:"attempts"`
	RemixSourceID    string   `json:"remix_source_id,omitempty"`
	RemixMode        string   `json:"remix_mode,omitempty"`
	EditInstructions string   `json:"edit_instructions,omitempty"`
	ReferencePhotos  []string `json:"reference_photo_ids,omitempty"`
	CreatedAt        string   `json:"created_at,omitempty"`
	StartedAt        string   `json:"started_at,omitempty"`
	CompletedAt      string   `json:"completed_at,omitempty"`
}

// SubmitRequest is the body of POST /api/generations. PromptJSON accepts
// either an inline JSON object or a string containing one.
type SubmitRequest struct {
	PromptJSON           json.RawMessage `json:"prompt_json"`
	ReferencePhotoIDs    []string        `json:"reference_photo_ids,omitempty"`
	InlineReferencePaths []string        `json:"inline_reference_paths,omitempty"`
	ComponentsUsed       []string        `json:"components_used,omitempty"`
	GoogleSearch         bool            `json:"google_search,omitempty"`
	SafetyOverride       bool            `json:"safety_override,omitempty"`
	Count                int             `json:"count"`
}

// PromptText returns the prompt document as a string, unwrapping a JSON
// string literal when the client sent one.
func (r SubmitRequest) PromptText() string {
	raw := bytes.TrimSpace(r.PromptJSON)
	if len(raw) > 0 && raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return strings.TrimSpace(s)
		}
	}
	return string(raw)
}

// RemixRequest is the body of POST /api/generations/{id}/remix.
type RemixRequest struct {
	EditInstructions string `json:"edit_instructions"`
	Mode             string `json:"mode,omitempty"`
	SafetyOverride   bool   `json:"safety_override,omitempty"`
}

// SubmittedItem pairs a created queue item with its generation.
type SubmittedItem struct {
	QueueID      string `json:"queue_id"`
	GenerationID string `json:"generation_id"`
	Status       string `json:"status"`
}

// SubmitResponse lists the created pairs in queue order.
type SubmitResponse struct {
	Items    []SubmittedItem `json:"items"`
	Position int             `json:"position"`
}

// GenerationStatusResponse is the polling view of a single generation.
type GenerationStatusResponse struct {
	Status     string     `json:"status"`
	ImagePath  string     `json:"image_path,omitempty"`
	Error      string     `json:"error,omitempty"`
	Position   int        `json:"position,omitempty"`
	Generation Generation `json:"generation"`
	QueueItem  *QueueItem `json:"queue_item,omitempty"`
}

// GenerationListResponse wraps a collection of generations.
type GenerationListResponse struct {
	Items []Generation `json:"items"`
}

// ToggleResponse reports the new value of a boolean flag.
type ToggleResponse struct {
	ID    string `json:"id"`
	Value bool   `json:"value"`
}

// QueueMetrics summarizes live queue load.
type QueueMetrics struct {
	QueuedCount     int     `json:"queued_count"`
	ProcessingCount int     `json:"processing_count"`
	AvgWaitSeconds  float64 `json:"avg_wait_seconds"`
}

// QueueListResponse lists active items and live metrics.
type QueueListResponse struct {
	Items   []QueueItem  `json:"items"`
	Metrics QueueMetrics `json:"metrics"`
}

// QueueItemResponse wraps a single queue item with current queue totals.
type QueueItemResponse struct {
	Item    QueueItem    `json:"item"`
	Metrics QueueMetrics `json:"metrics"`
}

// HistoryResponse is one page of terminal queue items.
type HistoryResponse struct {
	Items []QueueItem `json:"items"`
	Total int         `json:"total"`
	Page  int         `json:"page"`
	Limit int         `json:"limit"`
}

// WorkflowStatus summarizes processor state.
type WorkflowStatus struct {
	Running        bool           `json:"running"`
	Draining       bool           `json:"draining"`
	QueueStats     map[string]int `json:"queue_stats"`
	LastError      string         `json:"last_error,omitempty"`
	LastItem       *QueueItem     `json:"last_item,omitempty"`
	Provider       string         `json:"provider,omitempty"`
	StorageBackend string         `json:"storage_backend,omitempty"`
	StorageHealthy bool           `json:"storage_healthy"`
	StorageDetail  string         `json:"storage_detail,omitempty"`
}

// DatabaseHealth mirrors the datastore health probe.
type DatabaseHealth struct {
	Path           string `json:"path"`
	Exists         bool   `json:"exists"`
	Readable       bool   `json:"readable"`
	SchemaVersion  string `json:"schema_version,omitempty"`
	IntegrityCheck bool   `json:"integrity_check"`
	Generations    int    `json:"generations"`
	QueueItems     int    `json:"queue_items"`
	Error          string `json:"error,omitempty"`
}

// CheckResult mirrors one preflight check.
type CheckResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail,omitempty"`
}

// DaemonStatus aggregates daemon runtime information for API consumers.
type DaemonStatus struct {
	Running      bool           `json:"running"`
	PID          int            `json:"pid"`
	LockFilePath string         `json:"lock_file_path"`
	Workflow     WorkflowStatus `json:"workflow"`
	Database     DatabaseHealth `json:"database"`
	Checks       []CheckResult  `json:"checks,omitempty"`
}

// ErrorResponse is the body of every non-2xx API response.
type ErrorResponse struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
	Hint  string `json:"hint,omitempty"`
}
