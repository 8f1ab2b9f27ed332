// Package db archives race results and moderation actions in SQLite. Live
// relay state is never stored here.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/slopcrew-project/slopcrew/internal/util"
)

// MemoryPath opens a private in-memory database.
const MemoryPath = ":memory:"

// Database wraps a SQLite connection. Writes are serialized.
type Database struct {
	mu     sync.Mutex
	db     *sql.DB
	path   string
	logger zerolog.Logger
}

// Open opens or creates the SQLite database at dbPath and applies the
// archive schema.
func Open(ctx context.Context, dbPath string) (*Database, error) {
	logger := util.ComponentLogger("db")

	if dbPath != MemoryPath {
		if err := util.EnsureDir(filepath.Dir(dbPath)); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database %s: %w", dbPath, err)
	}

	// One connection: SQLite serializes writers anyway and an in-memory
	// database only exists on the connection that created it.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA foreign_keys=ON"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			logger.Warn().Err(err).Str("pragma", pragma).Msg("pragma failed")
		}
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	d := &Database{db: db, path: dbPath, logger: logger}
	if err := d.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info().Str("path", dbPath).Msg("database opened")
	return d, nil
}

const schema = `
	CREATE TABLE IF NOT EXISTS races (
		id         TEXT PRIMARY KEY,
		stage      INTEGER NOT NULL,
		started_at INTEGER NOT NULL,
		ended_at   INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS race_results (
		race_id   TEXT NOT NULL,
		player_id INTEGER NOT NULL,
		name      TEXT NOT NULL,
		rank      INTEGER NOT NULL,
		time_sec  REAL NOT NULL,
		PRIMARY KEY (race_id, player_id),
		FOREIGN KEY (race_id) REFERENCES races(id) ON DELETE CASCADE
	);

	CREATE TABLE IF NOT EXISTS kicks (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		player_id  INTEGER NOT NULL,
		name       TEXT NOT NULL,
		address    TEXT NOT NULL,
		reason     TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_races_ended_at ON races(ended_at);
	CREATE INDEX IF NOT EXISTS idx_race_results_name ON race_results(name);
	CREATE INDEX IF NOT EXISTS idx_kicks_address ON kicks(address);
`

func (d *Database) migrate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, err := d.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("schema migration failed: %w", err)
	}
	d.logger.Debug().Msg("database schema migrated")
	return nil
}

// Close closes the database connection.
func (d *Database) Close() error {
	return d.db.Close()
}

// Path returns the file the database was opened from.
func (d *Database) Path() string {
	return d.path
}

// Transaction executes fn within a database transaction.
func (d *Database) Transaction(ctx context.Context, fn func(tx *sql.Tx) error) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}

	return tx.Commit()
}

func (d *Database) exec(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.db.ExecContext(ctx, query, args...)
}

func (d *Database) query(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.db.QueryContext(ctx, query, args...)
}
