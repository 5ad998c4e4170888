// Package sqlite implements the repository interfaces on SQLite.
//
// modernc.org/sqlite is a pure Go translation of SQLite, so the binary needs
// no C toolchain. The pool is pinned to one connection: per-connection PRAGMAs
// then always apply and ":memory:" databases are shared by every query.
package sqlite

import (
	"database/sql"
	"database/sql/driver"
	"fmt"
	"strings"
	"time"

	sqlitedriver "modernc.org/sqlite"

	"github.com/sakif/journal/internal/repository"
)

// timeLayout is fixed width so that lexical order of the stored text equals
// chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func init() {
	// SQLite's built-in lower() only folds ASCII; search needs full Unicode.
	err := sqlitedriver.RegisterDeterministicScalarFunction("fold", 1,
		func(_ *sqlitedriver.FunctionContext, args []driver.Value) (driver.Value, error) {
			switch v := args[0].(type) {
			case string:
				return strings.ToLower(v), nil
			case []byte:
				return strings.ToLower(string(v)), nil
			default:
				return v, nil
			}
		})
	if err != nil {
		panic(fmt.Sprintf("sqlite: registering fold(): %v", err))
	}
}

// DB wraps a sql.DB connection pool and implements repository.Store.
type DB struct {
	conn *sql.DB
	now  func() time.Time
}

var _ repository.Store = (*DB)(nil)

// New opens the database at dbPath and runs migrations.
//
// dbPath examples:
//   - "data/journal.db" file-based, persistent
//   - ":memory:" in-memory, used by tests
func New(dbPath string) (*DB, error) {
	conn, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	// WAL lets readers proceed while a write is in flight.
	if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
	}
	if _, err := conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: enabling foreign keys: %w", err)
	}

	db := &DB{conn: conn, now: time.Now}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// migrate creates the schema. Every statement is idempotent.
//
// entries.seq is the insertion sequence used to break created_at ties.
// entry_tags duplicates entries.tags one row per tag so tag filters can use
// the (owner_id, tag) index; both are written in the same transaction.
func (db *DB) migrate() error {
	statements := []struct {
		name string
		sql  string
	}{
		{"users table", `
			CREATE TABLE IF NOT EXISTS users (
				id            TEXT PRIMARY KEY,
				name          TEXT NOT NULL DEFAULT '',
				email         TEXT UNIQUE,
				password_hash TEXT NOT NULL DEFAULT '',
				github_id     INTEGER UNIQUE,
				avatar_url    TEXT NOT NULL DEFAULT '',
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL
			)`},
		{"entries table", `
			CREATE TABLE IF NOT EXISTS entries (
				seq           INTEGER PRIMARY KEY AUTOINCREMENT,
				id            TEXT NOT NULL UNIQUE,
				owner_id      TEXT NOT NULL,
				title         TEXT NOT NULL,
				content       TEXT NOT NULL,
				image         TEXT,
				tags          TEXT NOT NULL DEFAULT '[]',
				custom_fields TEXT NOT NULL DEFAULT '{}',
				created_at    TEXT NOT NULL,
				updated_at    TEXT NOT NULL
			)`},
		{"entries owner index", `
			CREATE INDEX IF NOT EXISTS idx_entries_owner_created
			ON entries(owner_id, created_at DESC, seq DESC)`},
		{"entry_tags table", `
			CREATE TABLE IF NOT EXISTS entry_tags (
				entry_id TEXT NOT NULL REFERENCES entries(id) ON DELETE CASCADE,
				owner_id TEXT NOT NULL,
				position INTEGER NOT NULL,
				tag      TEXT NOT NULL,
				PRIMARY KEY (entry_id, position)
			)`},
		{"entry_tags owner index", `
			CREATE INDEX IF NOT EXISTS idx_entry_tags_owner_tag
			ON entry_tags(owner_id, tag)`},
	}

	for _, s := range statements {
		if _, err := db.conn.Exec(s.sql); err != nil {
			return fmt.Errorf("creating %s: %w", s.name, err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("sqlite: parsing timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
