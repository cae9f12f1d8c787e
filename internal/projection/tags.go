package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/tmchow/hzl-sub002/internal/domain"
)

// TagsProjector maintains the task_tags table.
type TagsProjector struct{}

func (TagsProjector) Name() string { return "tags" }

func (TagsProjector) Reset(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM cache.task_tags`)
	return err
}

func (TagsProjector) Apply(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch env.Type {
	case domain.EventTaskCreated:
		var d domain.TaskCreatedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		for _, tag := range d.Tags {
			if _, err := tx.ExecContext(ctx,
				`INSERT OR IGNORE INTO cache.task_tags(task_id, tag) VALUES (?,?)`,
				env.TaskID, tag); err != nil {
				return err
			}
		}
	case domain.EventTagAdded:
		var d domain.TagData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO cache.task_tags(task_id, tag) VALUES (?,?)`,
			env.TaskID, d.Tag)
		return err
	case domain.EventTagRemoved:
		var d domain.TagData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx,
			`DELETE FROM cache.task_tags WHERE task_id = ? AND tag = ?`,
			env.TaskID, d.Tag)
		return err
	}
	return nil
}
