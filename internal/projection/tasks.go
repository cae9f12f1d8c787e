package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/tmchow/hzl-sub002/internal/domain"
)

// TasksProjector maintains tasks_current and the projects table: one row
// per task with its latest materialized state.
type TasksProjector struct{}

func (TasksProjector) Name() string { return "tasks" }

func (TasksProjector) Reset(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		`DELETE FROM cache.tasks_current`,
		`DELETE FROM cache.projects`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (p TasksProjector) Apply(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch env.Type {
	case domain.EventTaskCreated:
		var d domain.TaskCreatedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cache.tasks_current
(task_id, title, project, status, priority, description, created_at, updated_at, last_event_sequence)
VALUES (?,?,?,?,?,?,?,?,?)`,
			env.TaskID, d.Title, d.Project, string(domain.StatusBacklog), d.Priority,
			nullEmpty(d.Description), env.TS, env.TS, env.Sequence)
		return err

	case domain.EventTaskUpdated:
		var d domain.TaskUpdatedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		if d.Title != nil {
			if err := p.set(ctx, tx, env, `title = ?`, *d.Title); err != nil {
				return err
			}
		}
		if d.Description != nil {
			if err := p.set(ctx, tx, env, `description = ?`, nullEmpty(*d.Description)); err != nil {
				return err
			}
		}
		if d.Priority != nil {
			if err := p.set(ctx, tx, env, `priority = ?`, *d.Priority); err != nil {
				return err
			}
		}
		if d.Progress != nil {
			if err := p.set(ctx, tx, env, `progress = ?`, *d.Progress); err != nil {
				return err
			}
		}
		return p.touch(ctx, tx, env)

	case domain.EventStatusChanged:
		var d domain.StatusChangedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		if err := p.set(ctx, tx, env, `status = ?`, string(d.To)); err != nil {
			return err
		}
		if domain.Terminal(d.To) {
			if err := p.set(ctx, tx, env, `terminal_at = ?`, env.TS); err != nil {
				return err
			}
		} else {
			if err := p.set(ctx, tx, env, `terminal_at = NULL`); err != nil {
				return err
			}
		}
		if d.ClearOwner {
			if err := p.clearOwner(ctx, tx, env); err != nil {
				return err
			}
		}
		return p.touch(ctx, tx, env)

	case domain.EventTaskClaimed:
		var d domain.TaskClaimedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE cache.tasks_current
SET claimed_by_author = ?, claimed_by_agent_id = ?, lease_until = ?, status = ?, updated_at = ?, last_event_sequence = ?
WHERE task_id = ?`,
			nullEmpty(d.Author), nullEmpty(d.AgentID), nullEmpty(d.LeaseUntil), string(d.Status),
			env.TS, env.Sequence, env.TaskID)
		return err

	case domain.EventTaskStolen:
		var d domain.TaskStolenData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE cache.tasks_current
SET claimed_by_author = ?, claimed_by_agent_id = ?, lease_until = ?, updated_at = ?, last_event_sequence = ?
WHERE task_id = ?`,
			nullEmpty(d.Author), nullEmpty(d.AgentID), nullEmpty(d.LeaseUntil),
			env.TS, env.Sequence, env.TaskID)
		return err

	case domain.EventTaskReleased:
		var d domain.TaskReleasedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		if err := p.clearOwner(ctx, tx, env); err != nil {
			return err
		}
		if d.Status != "" {
			if err := p.set(ctx, tx, env, `status = ?`, string(d.Status)); err != nil {
				return err
			}
		}
		return p.touch(ctx, tx, env)

	case domain.EventTaskMoved:
		var d domain.TaskMovedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		if err := p.set(ctx, tx, env, `project = ?`, d.To); err != nil {
			return err
		}
		return p.touch(ctx, tx, env)

	case domain.EventProjectCreated:
		var d domain.ProjectCreatedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cache.projects(name, description, is_protected, created_at)
VALUES (?,?,?,?)`, d.Name, nullEmpty(d.Description), boolInt(d.IsProtected), env.TS)
		return err

	case domain.EventProjectDeleted:
		var d domain.ProjectDeletedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `DELETE FROM cache.projects WHERE name = ?`, d.Name)
		return err
	}
	return nil
}

func (TasksProjector) set(ctx context.Context, tx *sql.Tx, env domain.Envelope, assign string, args ...any) error {
	args = append(args, env.TaskID)
	_, err := tx.ExecContext(ctx, `UPDATE cache.tasks_current SET `+assign+` WHERE task_id = ?`, args...)
	return err
}

func (p TasksProjector) touch(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	_, err := tx.ExecContext(ctx, `UPDATE cache.tasks_current SET updated_at = ?, last_event_sequence = ? WHERE task_id = ?`,
		env.TS, env.Sequence, env.TaskID)
	return err
}

func (TasksProjector) clearOwner(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	_, err := tx.ExecContext(ctx, `UPDATE cache.tasks_current
SET claimed_by_author = NULL, claimed_by_agent_id = NULL, lease_until = NULL
WHERE task_id = ?`, env.TaskID)
	return err
}

func nullEmpty(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
