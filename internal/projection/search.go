package projection

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"strings"

	"github.com/tmchow/hzl-sub002/internal/domain"
)

// SearchProjector maintains a denormalized row per task for substring
// search. It updates only the field the event touched, so it stays cheap
// on the hot path.
type SearchProjector struct{}

func (SearchProjector) Name() string { return "search" }

func (SearchProjector) Reset(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM cache.search_index`)
	return err
}

func (p SearchProjector) Apply(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch env.Type {
	case domain.EventTaskCreated:
		var d domain.TaskCreatedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		tags := append([]string(nil), d.Tags...)
		sort.Strings(tags)
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cache.search_index(task_id, title, project, tags)
VALUES (?,?,?,?)`, env.TaskID, d.Title, d.Project, strings.Join(tags, " "))
		return err

	case domain.EventTaskUpdated:
		var d domain.TaskUpdatedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		if d.Title == nil {
			return nil
		}
		_, err := tx.ExecContext(ctx, `UPDATE cache.search_index SET title = ? WHERE task_id = ?`,
			*d.Title, env.TaskID)
		return err

	case domain.EventTaskMoved:
		var d domain.TaskMovedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE cache.search_index SET project = ? WHERE task_id = ?`,
			d.To, env.TaskID)
		return err

	case domain.EventTagAdded:
		var d domain.TagData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		return p.foldTag(ctx, tx, env.TaskID, d.Tag, true)

	case domain.EventTagRemoved:
		var d domain.TagData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		return p.foldTag(ctx, tx, env.TaskID, d.Tag, false)

	case domain.EventCommentAdded:
		var d domain.CommentAddedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `UPDATE cache.search_index SET last_comment = ? WHERE task_id = ?`,
			d.Text, env.TaskID)
		return err
	}
	return nil
}

// foldTag updates the row's own space-joined tag column from the event.
// The projector touches only search_index, so it works the same no matter
// where it sits in the registration order.
func (SearchProjector) foldTag(ctx context.Context, tx *sql.Tx, taskID, tag string, add bool) error {
	var joined string
	err := tx.QueryRowContext(ctx, `SELECT tags FROM cache.search_index WHERE task_id = ?`, taskID).Scan(&joined)
	if err == sql.ErrNoRows {
		return nil
	}
	if err != nil {
		return err
	}
	tags := strings.Fields(joined)
	kept := tags[:0]
	for _, t := range tags {
		if t != tag {
			kept = append(kept, t)
		}
	}
	if add {
		kept = append(kept, tag)
		sort.Strings(kept)
	}
	_, err = tx.ExecContext(ctx, `UPDATE cache.search_index SET tags = ? WHERE task_id = ?`,
		strings.Join(kept, " "), taskID)
	return err
}
