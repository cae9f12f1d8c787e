package migrate

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/tmchow/hzl-sub002/internal/db"
)

func openTestDB(t *testing.T) *db.DB {
	t.Helper()
	d, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	return d
}

func TestRunIsIdempotent(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	if err := Run(ctx, d.DB); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := Run(ctx, d.DB); err != nil {
		t.Fatalf("second run: %v", err)
	}
	var n int
	if err := d.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("count: %v", err)
	}
	if n != len(Events) {
		t.Fatalf("applied %d events migrations, want %d", n, len(Events))
	}
	if err := d.QueryRow(`SELECT COUNT(*) FROM cache.schema_migrations`).Scan(&n); err != nil {
		t.Fatalf("cache count: %v", err)
	}
	if n != len(Cache) {
		t.Fatalf("applied %d cache migrations, want %d", n, len(Cache))
	}
}

func TestRunRollsBackWholeBatchOnFailure(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()

	origEvents, origCache := Events, Cache
	Events = []Migration{
		{ID: "0001_ok", SQL: `CREATE TABLE t_ok (id INTEGER PRIMARY KEY)`},
		{ID: "0002_broken", SQL: `CREATE TABLE syntax error here`},
	}
	Cache = nil
	defer func() { Events, Cache = origEvents, origCache }()

	runErr := Run(ctx, d.DB)
	if runErr == nil {
		t.Fatal("expected migration failure")
	}
	var merr *MigrationError
	if !errors.As(runErr, &merr) {
		t.Fatalf("error %v is not a MigrationError", runErr)
	}
	if merr.ID != "0002_broken" {
		t.Fatalf("failing id = %q, want 0002_broken", merr.ID)
	}

	// The earlier migration in the batch must not have survived.
	var n int
	err := d.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name = 't_ok'`).Scan(&n)
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if n != 0 {
		t.Fatal("t_ok exists: failed batch was partially committed")
	}
}

func TestHasColumn(t *testing.T) {
	d := openTestDB(t)
	ctx := context.Background()
	if err := Run(ctx, d.DB); err != nil {
		t.Fatalf("run: %v", err)
	}
	tx, err := d.BeginTx(ctx, nil)
	if err != nil {
		t.Fatalf("begin: %v", err)
	}
	defer tx.Rollback()
	for _, tc := range []struct {
		table, column string
		want          bool
	}{
		{"tasks_current", "progress", true},
		{"tasks_current", "no_such_column", false},
	} {
		got, err := HasColumn(ctx, tx, "cache", tc.table, tc.column)
		if err != nil {
			t.Fatalf("HasColumn(%s.%s): %v", tc.table, tc.column, err)
		}
		if got != tc.want {
			t.Errorf("HasColumn(%s.%s) = %v, want %v", tc.table, tc.column, got, tc.want)
		}
	}
}

func TestMigrationErrorUnwraps(t *testing.T) {
	inner := fmt.Errorf("boom")
	err := &MigrationError{ID: "0001_x", Err: inner}
	if !errors.Is(err, inner) {
		t.Fatal("MigrationError does not unwrap to the inner error")
	}
}
