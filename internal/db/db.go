// Package db opens the SQLite database that backs long-term memory and user
// profiles.
package db

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Register sqlite-vec as an auto-extension so every SQLite connection
	// opened by this process has the vec_* distance functions available.
	vec.Auto()
}

// DB wraps a *sql.DB and exposes helpers.
type DB struct {
	conn   *sql.DB
	vector bool
}

// Open opens (or creates) the SQLite database at path and applies migrations.
func Open(path string) (*DB, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("db: create directory: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("db: resolve path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", absPath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("db: open sqlite: %w", err)
	}

	// Single writer, multiple readers.
	conn.SetMaxOpenConns(1)

	if err := applyMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("db: apply migrations: %w", err)
	}

	return &DB{conn: conn, vector: probeVector(conn)}, nil
}

// probeVector reports whether sqlite-vec is loaded. Without it, similarity
// is computed in Go over the stored blobs.
func probeVector(conn *sql.DB) bool {
	var version string
	return conn.QueryRow(`SELECT vec_version()`).Scan(&version) == nil && version != ""
}

// Conn returns the underlying *sql.DB for use by the memory stores.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// VectorSupport reports whether vec_distance_cosine can be used in queries.
func (d *DB) VectorSupport() bool {
	return d.vector
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping checks the connection is live.
func (d *DB) Ping() error {
	return d.conn.Ping()
}
