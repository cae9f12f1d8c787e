package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/tmchow/hzl-sub002/internal/domain"
)

// DepsProjector maintains the task_deps edge table. Edge inserts and
// deletes are idempotent so replaying duplicates is harmless.
type DepsProjector struct{}

func (DepsProjector) Name() string { return "deps" }

func (DepsProjector) Reset(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM cache.task_deps`)
	return err
}

func (DepsProjector) Apply(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch env.Type {
	case domain.EventTaskCreated:
		var d domain.TaskCreatedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		for _, dep := range d.DependsOn {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO cache.task_deps(task_id, depends_on_id) VALUES (?,?)`,
				env.TaskID, dep); err != nil {
				return err
			}
		}
	case domain.EventDepAdded:
		var d domain.DependencyData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO cache.task_deps(task_id, depends_on_id) VALUES (?,?)`,
			env.TaskID, d.DependsOnID)
		return err
	case domain.EventDepRemoved:
		var d domain.DependencyData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM cache.task_deps WHERE task_id = ? AND depends_on_id = ?`,
			env.TaskID, d.DependsOnID)
		return err
	}
	return nil
}
