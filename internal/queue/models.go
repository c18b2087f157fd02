package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle state of a queue item.
type Status string

const (
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
)

// IsTerminal reports whether the item is finished and retained only for history.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// RemixMode selects how a remix result relates to its source.
type RemixMode string

const (
	RemixFork    RemixMode = "fork"
	RemixReplace RemixMode = "replace"
)

// ParseRemixMode normalizes a user-supplied mode; ok is false for unknown values.
func ParseRemixMode(value string) (RemixMode, bool) {
	switch RemixMode(strings.ToLower(strings.TrimSpace(value))) {
	case RemixFork:
		return RemixFork, true
	case RemixReplace:
		return RemixReplace, true
	default:
		return "", false
	}
}

// Options is the request snapshot stored alongside the prompt. It is written
// once at enqueue time and read by the processor.
type Options struct {
	ReferencePhotoIDs    []string  `json:"reference_photo_ids,omitempty"`
	InlineReferencePaths []string  `json:"inline_reference_paths,omitempty"`
	GoogleSearch         bool      `json:"google_search,omitempty"`
	SafetyOverride       bool      `json:"safety_override,omitempty"`
	RemixSourceID        string    `json:"remix_source_id,omitempty"`
	RemixMode            RemixMode `json:"remix_mode,omitempty"`
	EditInstructions     string    `json:"edit_instructions,omitempty"`
}

// IsReplace reports whether the item overwrites its remix source on success.
func (o Options) IsReplace() bool {
	return o.RemixMode == RemixReplace && o.RemixSourceID != ""
}

// Item represents a queue item persisted in SQLite.
type Item struct {
	Seq          int64
	ID           string
	GenerationID string
	PromptJSON   string
	Options      Options
	Status       Status
	Error        string
	Attempts     int
	CreatedAt    time.Time
	StartedAt    *time.Time
	CompletedAt  *time.Time
	// Position is the 1-based place in line while queued and 0 otherwise.
	// It is computed at read time.
	Position int
}

// NewItem describes an entry to enqueue.
type NewItem struct {
	GenerationID string
	PromptJSON   string
	Options      Options
}

// HistoryFilter selects which terminal items History returns.
type HistoryFilter string

const (
	HistoryAll       HistoryFilter = "all"
	HistoryCompleted HistoryFilter = "completed"
	HistoryFailed    HistoryFilter = "failed"
)

// ParseHistoryFilter maps user input onto a filter, defaulting to all.
func ParseHistoryFilter(value string) (HistoryFilter, bool) {
	switch HistoryFilter(strings.ToLower(strings.TrimSpace(value))) {
	case "", HistoryAll:
		return HistoryAll, true
	case HistoryCompleted:
		return HistoryCompleted, true
	case HistoryFailed:
		return HistoryFailed, true
	default:
		return "", false
	}
}

// HistoryPage is one page of terminal items, newest first.
type HistoryPage struct {
	Items []Item
	Total int
	Page  int
	Limit int
}

// Metrics summarizes the live queue.
type Metrics struct {
	QueuedCount     int
	ProcessingCount int
	// AvgWait is the mean time between enqueue and claim over recently
	// started items.
	AvgWait time.Duration
}

// HealthSummary describes aggregated queue counts per lifecycle state.
type HealthSummary struct {
	Total      int
	Queued     int
	Processing int
	Completed  int
	Failed     int
}

// StaleAction chooses what happens to an abandoned processing item.
type StaleAction string

const (
	StaleRequeue StaleAction = "requeue"
	StaleFail    StaleAction = "fail"
)

// Reclaimed reports one stale item and the status it was moved to.
type Reclaimed struct {
	Item    Item
	Outcome Status
}
