// Package workflow drains the generation queue.
//
// A single worker goroutine, woken by Trigger or by the poll ticker, runs
// ProcessQueue. A compare-and-swap guard makes concurrent ProcessQueue calls
// no-ops, so at most one item is ever processing. Each item is claimed and its
// generation moved to generating in one transaction, the provider is called
// with no transaction open, and the outcome (completed, or failed with the
// classified provider message) is written to both records in a second
// transaction. Replace remixes write the new image onto their source record.
//
// Items left processing by a crash are reclaimed on Start, and items stuck
// longer than workflow.processing_timeout are reclaimed at the start of every
// drain, either back to queued or to failed depending on workflow.stale_action
// and workflow.max_attempts.
package workflow
