package migrate

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one schema change, identified by ID and applied exactly once.
// Either SQL or Fn must be set; Fn is for changes that need to inspect the
// live schema (e.g. add-column-if-missing backfills).
type Migration struct {
	ID  string
	SQL string
	Fn  func(ctx context.Context, tx *sql.Tx) error
}

// MigrationError identifies the migration that failed a batch. The whole
// batch is rolled back, so no part of a failed run is observable.
type MigrationError struct {
	ID  string
	Err error
}

func (e *MigrationError) Error() string {
	return fmt.Sprintf("migration %s: %v", e.ID, e.Err)
}

func (e *MigrationError) Unwrap() error { return e.Err }

// Run applies every unapplied migration from both stores. The batch runs in
// one transaction with a savepoint per migration: if any migration fails,
// everything from this call rolls back, including migrations that succeeded
// earlier in the same batch. Applied IDs are recorded in each store's own
// ledger so the cache store can be deleted and re-migrated independently.
func Run(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := runSet(ctx, tx, "schema_migrations", Events); err != nil {
		return err
	}
	if err := runSet(ctx, tx, "cache.schema_migrations", Cache); err != nil {
		return err
	}
	return tx.Commit()
}

func runSet(ctx context.Context, tx *sql.Tx, ledger string, migrations []Migration) error {
	if _, err := tx.ExecContext(ctx, fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s (id TEXT PRIMARY KEY, applied_at TEXT NOT NULL DEFAULT (datetime('now')))`, ledger)); err != nil {
		return fmt.Errorf("create %s: %w", ledger, err)
	}
	applied := map[string]bool{}
	rows, err := tx.QueryContext(ctx, fmt.Sprintf(`SELECT id FROM %s`, ledger))
	if err != nil {
		return fmt.Errorf("read %s: %w", ledger, err)
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return err
		}
		applied[id] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i, m := range migrations {
		if applied[m.ID] {
			continue
		}
		sp := fmt.Sprintf("m%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return err
		}
		if err := apply(ctx, tx, m); err != nil {
			return &MigrationError{ID: m.ID, Err: err}
		}
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(id) VALUES (?)`, ledger), m.ID); err != nil {
			return &MigrationError{ID: m.ID, Err: err}
		}
		if _, err := tx.ExecContext(ctx, "RELEASE "+sp); err != nil {
			return err
		}
	}
	return nil
}

func apply(ctx context.Context, tx *sql.Tx, m Migration) error {
	if m.Fn != nil {
		return m.Fn(ctx, tx)
	}
	_, err := tx.ExecContext(ctx, m.SQL)
	return err
}

// HasColumn reports whether a table (optionally schema-qualified via the db
// argument, e.g. "cache") already has the named column. Additive migrations
// probe before altering so they are safe on both fresh and existing schemas.
func HasColumn(ctx context.Context, tx *sql.Tx, dbName, table, column string) (bool, error) {
	query := `SELECT 1 FROM pragma_table_info(?) WHERE name=?`
	if dbName != "" {
		query = fmt.Sprintf(`SELECT 1 FROM %s.pragma_table_info(?) WHERE name=?`, dbName)
	}
	var one int
	err := tx.QueryRowContext(ctx, query, table, column).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
