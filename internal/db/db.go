// Package db provides SQLite storage for dashboard rows and a page provider
// that serves them to the grid.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/lablup/backend.ai-sub009/internal/datasource/sqlquery"
	"github.com/lablup/backend.ai-sub009/internal/logging"
)

// ErrClosed is returned by operations on a closed database.
var ErrClosed = errors.New("database is closed")

// Config configures the SQLite connection.
type Config struct {
	// Path is the database file. ":memory:" opens a private in-memory database.
	Path string

	// BusyTimeout is how long SQLite waits on a locked database.
	BusyTimeout time.Duration

	// MaxOpenConns bounds the connection pool.
	MaxOpenConns int

	// Retry governs TransactionWithRetry. Zero fields take DefaultRetryPolicy.
	Retry RetryPolicy
}

// DefaultConfig returns the default database configuration.
func DefaultConfig() Config {
	path := "grid.db"
	if home, err := os.UserHomeDir(); err == nil {
		path = filepath.Join(home, ".local", "share", "gridctl", "grid.db")
	}
	return Config{
		Path:         path,
		BusyTimeout:  5 * time.Second,
		MaxOpenConns: 4,
	}
}

// DB wraps a SQLite connection pool.
type DB struct {
	conn   *sql.DB
	path   string
	retry  RetryPolicy
	logger zerolog.Logger
}

// Open opens (creating if needed) the database described by cfg.
func Open(cfg Config) (*DB, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlite open: path is required")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = DefaultConfig().BusyTimeout
	}

	dsn := cfg.Path
	if cfg.Path != ":memory:" {
		dir := filepath.Dir(cfg.Path)
		if dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("sqlite mkdir: %w", err)
			}
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(%d)", cfg.Path, cfg.BusyTimeout.Milliseconds())
	}

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}
	if cfg.Path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database.
		conn.SetMaxOpenConns(1)
	} else if cfg.MaxOpenConns > 0 {
		conn.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("sqlite ping: %w", err)
	}

	db := &DB{
		conn:   conn,
		path:   cfg.Path,
		retry:  cfg.Retry.withDefaults(),
		logger: logging.Component("db"),
	}
	db.logger.Debug().Str("path", cfg.Path).Msg("database opened")
	return db, nil
}

// OpenInMemory opens a private in-memory database, mostly for tests.
func OpenInMemory() (*DB, error) {
	return Open(Config{Path: ":memory:"})
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Conn exposes the underlying pool.
func (db *DB) Conn() *sql.DB {
	return db.conn
}

// Close releases the connection pool.
func (db *DB) Close() error {
	if db.conn == nil {
		return nil
	}
	err := db.conn.Close()
	db.conn = nil
	return err
}

// Migrate creates every dashboard table and index if missing.
func (db *DB) Migrate(ctx context.Context) error {
	if db.conn == nil {
		return ErrClosed
	}
	return db.Transaction(ctx, func(tx *sql.Tx) error {
		for _, table := range sqlquery.Tables {
			if _, err := tx.ExecContext(ctx, sqlquery.SQLite.CreateTable(table)); err != nil {
				return fmt.Errorf("create table %s: %w", table.Name, err)
			}
			for _, stmt := range sqlquery.SQLite.CreateIndexes(table) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("create index on %s: %w", table.Name, err)
				}
			}
		}
		return nil
	})
}

// Transaction runs fn inside a transaction, committing on success.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) error {
	if db.conn == nil {
		return ErrClosed
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			db.logger.Warn().Err(rbErr).Msg("rollback failed")
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}
