// Package logging assembles structured slog loggers used across the Atelier
// daemon and CLI.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes context-aware helpers so processor code can tag log
// lines with queue item IDs, generation IDs, and correlation IDs. A no-op
// logger is provided for tests and wiring code that cannot fail.
//
// CleanupOldLogs prunes per-run daemon log files once they age past the
// configured retention window.
package logging
