// Package notifications publishes processor events to ntfy.
//
// The processor reports failed generations and a summary each time the queue
// drains. With no topic configured NewService returns a no-op, so callers
// never need to check whether notifications are enabled before publishing.
package notifications
