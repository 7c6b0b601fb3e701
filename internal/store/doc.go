// Package store provides the document store rule sets, facts and actions
// read from and write to.
//
// Documents live in a single table keyed by (collection, id) with the body
// stored as JSON:
//   - SQLite: TEXT column queried with json_extract/json_each
//   - Postgres: JSONB column queried with #> and jsonb_array_elements
//
// A raw TEXT column keeps the body as written, and reads return it. JSONB
// does not preserve object key order, and rule sets depend on it.
//
// # Deterministic Query Results
//
// Every collection query ends with ORDER BY ..., id ASC (binary collation),
// so equal sort keys always come back in the same order and LIMIT picks
// the same documents on every run.
//
// # Change Feed
//
// Stores opened WithChangeFeed publish every committed write to a
// ChangeQueue. The doc trigger consumes it to run collection rule sets.
//
// # Database Configuration (SQLite)
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - single connection: one writer at a time
package store
