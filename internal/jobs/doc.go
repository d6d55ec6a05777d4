// Package jobs persists cover jobs in SQLite and exposes helpers for driving
// their lifecycle.
//
// The Store manages database connections, schema initialization, the atomic
// queued-to-running claim, optimistic terminal transitions, cancellation
// flags, heartbeat tracking, and the expiry queries used by the lifecycle
// sweeper. Status transitions follow a strict order: queued, running, then
// exactly one of succeeded, failed, or canceled. Terminal writes carry an
// optimistic guard so a stage completion racing a cancellation always
// resolves to a single consistent outcome.
//
// The database is treated as transient storage for in-flight and recently
// finished jobs rather than a long-term archive. Schema changes bump the
// version in schema.go; users clear the database to adopt the new schema.
//
// Treat this package as the single source of truth for job semantics; when
// you add new statuses or fields, update schema.sql and bump schemaVersion.
package jobs
