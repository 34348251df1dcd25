// Package sqlutil provides small helpers shared by the SQLite-backed
// preorder and account stores.
package sqlutil

import (
	"database/sql"
	"sync"
)

// Guard pairs a prepared statement with a mutex so that reset/bind/step is
// always exclusive, mirroring the spec's "guard value ... dropped at the
// end of the call" discipline for SQLite access from multiple goroutines.
type Guard struct {
	mu   sync.Mutex
	stmt *sql.Stmt
}

// NewGuard wraps stmt.
func NewGuard(stmt *sql.Stmt) *Guard {
	return &Guard{stmt: stmt}
}

// Do runs fn with exclusive access to the guarded statement.
func (g *Guard) Do(fn func(*sql.Stmt) error) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return fn(g.stmt)
}

// Close closes the underlying statement.
func (g *Guard) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.stmt.Close()
}

// OpenSQLite opens a SQLite database at dsn with the pragmas payproc's
// stores need: foreign keys enforced, WAL journaling for concurrent
// readers alongside the single writer goroutine.
func OpenSQLite(dsn string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", dsn+"?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	return db, nil
}
