// Package queue persists generation queue items in SQLite and exposes the
// transitions the processor drives them through.
//
// Items move queued -> processing -> completed|failed. ClaimNext is a single
// UPDATE ... RETURNING that takes the oldest queued item only when nothing
// else is processing, and a partial unique index backs the one-processing
// rule at the schema level. Every other transition is guarded by the expected
// source status, so terminal items never change again.
//
// Positions are point-in-time: 1 plus the number of queued or processing
// items created earlier, ties broken by insertion sequence.
package queue
