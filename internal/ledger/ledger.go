// Package ledger keeps a SQLite history of provisioning attempts, so that an
// install directory can explain when and from which revision each library
// was built, and why the last attempt failed.
package ledger

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS attempts (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	library     TEXT NOT NULL,
	revision    TEXT NOT NULL,
	patchset    TEXT NOT NULL DEFAULT '',
	status      TEXT NOT NULL,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL,
	duration_ms INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_attempts_library ON attempts(library, started_at);
`

// Status is the outcome of one provisioning attempt.
type Status string

const (
	StatusSkipped   Status = "skipped"
	StatusInstalled Status = "installed"
	StatusFailed    Status = "failed"
)

// Entry is one row of the history.
type Entry struct {
	ID        int64
	Library   string
	Revision  string
	Patchset  string
	Status    Status
	Error     string
	StartedAt time.Time
	Duration  time.Duration
}

// DB wraps a sql.DB with ledger operations.
type DB struct {
	conn *sql.DB
}

// Open opens (or creates) the ledger database and applies the schema.
func Open(dsn string) (*DB, error) {
	conn, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("ledger: open db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: ping: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ledger: apply schema: %w", err)
	}
	return &DB{conn: conn}, nil
}

// Close closes the underlying database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Append stores one entry and returns its id.
func (db *DB) Append(e Entry) (int64, error) {
	res, err := db.conn.Exec(`
		INSERT INTO attempts (library, revision, patchset, status, error, started_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, e.Library, e.Revision, e.Patchset, string(e.Status), e.Error, e.StartedAt.UTC(), e.Duration.Milliseconds())
	if err != nil {
		return 0, fmt.Errorf("ledger: append: %w", err)
	}
	return res.LastInsertId()
}

// List returns the most recent entries first. An empty library lists all
// libraries; limit <= 0 means 50.
func (db *DB) List(library string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	var (
		rows *sql.Rows
		err  error
	)
	const cols = `SELECT id, library, revision, patchset, status, error, started_at, duration_ms FROM attempts`
	if library == "" {
		rows, err = db.conn.Query(cols+` ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	} else {
		rows, err = db.conn.Query(cols+` WHERE library = ? ORDER BY started_at DESC, id DESC LIMIT ?`, library, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: list: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e      Entry
			status string
			ms     int64
		)
		if err := rows.Scan(&e.ID, &e.Library, &e.Revision, &e.Patchset, &status, &e.Error, &e.StartedAt, &ms); err != nil {
			return nil, err
		}
		e.Status = Status(status)
		e.Duration = time.Duration(ms) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}

// LastInstalled returns the latest successful install of library, or nil.
func (db *DB) LastInstalled(library string) (*Entry, error) {
	var (
		e      Entry
		status string
		ms     int64
	)
	err := db.conn.QueryRow(`
		SELECT id, library, revision, patchset, status, error, started_at, duration_ms
		FROM attempts
		WHERE library = ? AND status = ?
		ORDER BY started_at DESC, id DESC
		LIMIT 1
	`, library, string(StatusInstalled)).Scan(&e.ID, &e.Library, &e.Revision, &e.Patchset, &status, &e.Error, &e.StartedAt, &ms)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ledger: last installed: %w", err)
	}
	e.Status = Status(status)
	e.Duration = time.Duration(ms) * time.Millisecond
	return &e, nil
}
