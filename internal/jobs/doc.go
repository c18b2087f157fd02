// Package jobs implements the client-facing side of the generation queue.
//
// Manager creates generation and queue-item pairs atomically (batch submit
// and remix), answers status polls, cancels waiting items and exposes the
// generation operations the HTTP API needs. After every successful commit it
// signals the processor through a Trigger; the signal is best-effort because
// the processor also polls.
package jobs
