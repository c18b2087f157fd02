// Package api defines wire-format types and converters for the daemon's HTTP
// API. It translates generation records, queue items and workflow status into
// transport-friendly DTOs that the CLI and other consumers can render without
// coupling to internal types.
//
// # Key Types
//
// Generation and QueueItem: transport representations of the two persisted
// records.
//
// GenerationStatusResponse: the polling boundary. ImagePath is set only for
// completed records, Error only for failed ones, and Position only while the
// latest queue entry is waiting.
//
// DaemonStatus: aggregated runtime information including workflow state,
// database health and preflight checks.
//
// # Design Notes
//
// DTOs use snake_case JSON tags to match the request field names clients
// already send (prompt_json, edit_instructions). Internal enums are exposed as
// lowercase strings. Timestamps use RFC3339 with milliseconds. Prompts are
// passed through as json.RawMessage to avoid double-encoding.
package api
