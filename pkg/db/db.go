// Package db is the sqlite execution journal: every submitted order, its
// recorded outcome, and the rail definitions in effect when it ran. The
// journal is observability state; the durable open-order registry lives in
// internal/risk.
package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Database wraps the journal handle.
type Database struct {
	DB *sql.DB
}

// New opens the journal at path, creating the parent directory when
// missing. The handle is pinned to one connection: the journal has a single
// writer (the execution path) and sqlite serializes writers anyway, so a
// pool only adds SQLITE_BUSY churn.
func New(path string) (*Database, error) {
	if path == "" {
		return nil, errors.New("journal path is empty")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	conn.SetMaxOpenConns(1)

	// Readers (API queries) share the connection with the writer; a busy
	// timeout keeps a slow journal write from surfacing as SQLITE_BUSY.
	if _, err := conn.Exec(`PRAGMA busy_timeout = 5000; PRAGMA foreign_keys = ON;`); err != nil {
		conn.Close()
		return nil, fmt.Errorf("configure journal: %w", err)
	}

	return &Database{DB: conn}, nil
}

// Close releases the journal handle.
func (d *Database) Close() error {
	if d == nil || d.DB == nil {
		return nil
	}
	return d.DB.Close()
}
