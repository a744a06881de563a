// Package store persists annotation projects, tasks, claim traffic, and
// workflow nodes in SQLite and exposes helpers for driving their lifecycle.
//
// The Store manages database connections, schema initialization, and the
// conditional updates that implement claim arbitration and stage transitions.
// Every ownership or stage change is expressed as an UPDATE guarded by the
// expected prior state, so concurrent writers resolve through row counts
// rather than locks held in Go.
//
// Treat this package as the single source of truth for pipeline semantics;
// when you add new statuses or columns, update schema.sql and bump
// schemaVersion.
package store
