package projection

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/tmchow/hzl-sub002/internal/domain"
)

// CommentsProjector maintains the comments and checkpoints tables, keyed by
// event sequence so replays cannot duplicate rows.
type CommentsProjector struct{}

func (CommentsProjector) Name() string { return "comments" }

func (CommentsProjector) Reset(ctx context.Context, tx *sql.Tx) error {
	for _, stmt := range []string{
		`DELETE FROM cache.comments`,
		`DELETE FROM cache.checkpoints`,
	} {
		if _, err := tx.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

func (CommentsProjector) Apply(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	switch env.Type {
	case domain.EventCommentAdded:
		var d domain.CommentAddedData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cache.comments(event_sequence, task_id, author, text, ts)
VALUES (?,?,?,?,?)`, env.Sequence, env.TaskID, nullEmpty(env.Author), d.Text, env.TS)
		return err
	case domain.EventCheckpoint:
		var d domain.CheckpointData
		if err := json.Unmarshal(env.Data, &d); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, `INSERT OR IGNORE INTO cache.checkpoints(event_sequence, task_id, name, note, ts)
VALUES (?,?,?,?,?)`, env.Sequence, env.TaskID, d.Name, nullEmpty(d.Note), env.TS)
		return err
	}
	return nil
}
