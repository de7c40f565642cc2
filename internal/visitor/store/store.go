// Package store persists visitors. Every implementation provides per-visitor
// atomic validate-then-mutate through Execute:
//
//   - InMemoryStore: one mutex over the map
//   - SQLiteStore: a single writer goroutine running each Execute in one transaction
//   - PostgresStore: SELECT ... FOR UPDATE inside a transaction
//   - TabularStore: a keylock.Locker held across the read-modify-write of a recordstore.Table
//
// Execute contract: when the visitor does not exist it returns
// sentinel.ErrNotFound. When validate fails it returns the unmodified
// snapshot read under the lock together with validate's error, so callers can
// report the state that caused the refusal. Otherwise mutate runs, the mutable
// columns are written in a single statement, and the updated visitor is returned.
package store

import (
	"embed"
	"io/fs"

	"visitorpass/internal/visitor/models"
)

// ValidateFunc inspects the locked record and refuses the mutation by returning an error.
type ValidateFunc func(*models.Visitor) error

// MutateFunc changes the locked record.
type MutateFunc func(*models.Visitor)

//go:embed migrations/sqlite/*.sql migrations/postgres/*.sql
var migrationsFS embed.FS

// SQLiteMigrations returns the SQLite schema files.
func SQLiteMigrations() fs.FS {
	sub, _ := fs.Sub(migrationsFS, "migrations/sqlite")
	return sub
}

// PostgresMigrations returns the PostgreSQL schema files.
func PostgresMigrations() fs.FS {
	sub, _ := fs.Sub(migrationsFS, "migrations/postgres")
	return sub
}
