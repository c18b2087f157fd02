// Package services defines shared utilities consumed by the queue manager,
// the processor, and the provider integrations.
//
// Key responsibilities:
//   - Context helpers that stamp queue item IDs, generation IDs, and
//     correlation identifiers for logging.
//   - Structured error markers plus the Wrap helper that classify failures
//     so the API can map them to status codes and the processor can persist
//     a readable message on failed records.
//
// Use these helpers when wiring new logic so operational behaviour (error
// handling, observability) stays uniform across the daemon.
package services
