// Package relational implements the relational provider over database/sql.
//
// Two tables hold the collections:
//   - events: one row per event, keyed by id, upserted natively
//   - tasks: one row per task name, UNIQUE(task_name)
//
// # Lifecycle
//
// Nothing touches the database until the first operation. The first
// operation applies dialect pragmas, creates missing tables, runs
// migrations, and seeds each table with bootstrap rows when it is empty.
// A failed bootstrap is retried by the next operation.
//
// # Dialects
//
//   - sqlite3 (mattn/go-sqlite3): WAL mode, synchronous=NORMAL,
//     busy_timeout=5000, single connection
//   - postgres (lib/pq): "?" placeholders are rebound to "$n"
//
// # Constraint handling
//
// Saving a task that already exists hits the UNIQUE constraint. The
// violation (SQLite extended code CONSTRAINT_UNIQUE, Postgres SQLSTATE 23505)
// is the "already exists" outcome, not an error.
package relational
