// Package store owns the SQLite database shared by the generation and queue
// repositories.
//
// Open applies embedded migrations from migrations/*.sql, tracked in a
// schema_migrations table, and configures every pooled connection with WAL,
// foreign keys, a busy timeout, and immediate transactions. InTx wraps a unit
// of work in a transaction that is restarted when SQLite reports busy, which
// is how the Queue Manager creates generation and queue rows atomically.
//
// Timestamps are stored as fixed-width UTC strings (TimeLayout) so ORDER BY
// on the text column matches chronological order.
package store
