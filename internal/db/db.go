package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const (
	eventsDBName = "events.db"
	cacheDBName  = "cache.db"

	// Write lock contention budget: attempts with linearly increasing delay
	// before the caller sees ErrBusy.
	busyAttempts  = 5
	busyBaseDelay = 50 * time.Millisecond
)

// ErrBusy is returned after the retry budget for a contended write lock is
// exhausted. Callers should treat it as retryable.
var ErrBusy = errors.New("store busy")

type Config struct {
	Workspace string
}

// DB wraps the shared connection to the events store with the cache store
// attached. A single pooled connection keeps the ATTACH and pragmas stable
// and makes the immediate write transaction the sole serialization point;
// cross-process concurrency goes through SQLite's file lock.
type DB struct {
	*sql.DB
	workspace string
}

func dir(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, ".hzl")
}

// EnsureWorkspace creates the workspace directory if missing.
func EnsureWorkspace(workspace string) (string, error) {
	path := dir(workspace)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", err
	}
	return path, nil
}

// EventsPath returns the events store path for the workspace.
func EventsPath(workspace string) string {
	return filepath.Join(dir(workspace), eventsDBName)
}

// CachePath returns the cache store path for the workspace.
func CachePath(workspace string) string {
	return filepath.Join(dir(workspace), cacheDBName)
}

// Open opens the events store and attaches the cache store as "cache".
// Write transactions take the lock immediately so concurrent writers fail
// fast with SQLITE_BUSY instead of deadlocking at upgrade time.
func Open(cfg Config) (*DB, error) {
	if _, err := EnsureWorkspace(cfg.Workspace); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_txlock=immediate&_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		EventsPath(cfg.Workspace))
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	if _, err := conn.Exec(`ATTACH DATABASE ? AS cache`, CachePath(cfg.Workspace)); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("attach cache store: %w", err)
	}
	return &DB{DB: conn, workspace: cfg.Workspace}, nil
}

// Workspace returns the workspace directory this DB was opened for.
func (d *DB) Workspace() string { return d.workspace }

// WithWriteTx runs fn inside a single immediate write transaction, retrying
// the whole transaction on lock contention with a bounded linear backoff.
// The transaction is rolled back if fn returns an error.
func (d *DB) WithWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	var err error
	for attempt := 1; attempt <= busyAttempts; attempt++ {
		err = d.tryWriteTx(ctx, fn)
		if err == nil || !IsBusy(err) {
			return err
		}
		if attempt == busyAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * busyBaseDelay):
		}
	}
	return fmt.Errorf("%w: %v", ErrBusy, err)
}

func (d *DB) tryWriteTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

// IsBusy reports whether err is SQLite lock contention (SQLITE_BUSY or
// SQLITE_LOCKED).
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "(5)") ||
		strings.Contains(msg, "(6)")
}
