package eventstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/tmchow/hzl-sub002/internal/domain"
)

// ErrAppendOnly is surfaced when storage rejects a mutation of committed
// events. The rejection itself comes from the log's triggers, not from
// application code.
var ErrAppendOnly = errors.New("events are append-only")

// Store appends to and reads from the event log. Appends always run inside
// a caller-owned write transaction so the event and its projections commit
// together.
type Store struct {
	DB  *sql.DB
	Now func() time.Time
}

// AppendInput describes one fact to record. TaskID may be empty for
// project-scoped events.
type AppendInput struct {
	TaskID string
	Type   domain.EventType
	Data   any
	Prov   domain.Provenance
}

func (s *Store) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

// Append assigns the event id and global sequence, validates the payload
// shape for the type, and persists the envelope inside tx.
func (s *Store) Append(ctx context.Context, tx *sql.Tx, in AppendInput) (domain.Envelope, error) {
	if !domain.KnownEventType(in.Type) {
		return domain.Envelope{}, fmt.Errorf("unknown event type %q", in.Type)
	}
	data, err := json.Marshal(in.Data)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("marshal event data: %w", err)
	}
	if err := validateData(in.Type, data); err != nil {
		return domain.Envelope{}, err
	}
	env := domain.Envelope{
		EventID:       ulid.Make().String(),
		TaskID:        in.TaskID,
		Type:          in.Type,
		SchemaVersion: domain.SchemaVersion(in.Type),
		Data:          data,
		Author:        in.Prov.Author,
		AgentID:       in.Prov.AgentID,
		SessionID:     in.Prov.SessionID,
		CorrelationID: in.Prov.CorrelationID,
		CausationID:   in.Prov.CausationID,
		TS:            s.now().UTC().Format(time.RFC3339),
	}
	res, err := tx.ExecContext(ctx, `INSERT INTO events(event_id,task_id,type,schema_version,data,author,agent_id,session_id,correlation_id,causation_id,ts)
VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		env.EventID, nullable(env.TaskID), string(env.Type), env.SchemaVersion, string(env.Data),
		nullable(env.Author), nullable(env.AgentID), nullable(env.SessionID),
		nullable(env.CorrelationID), nullable(env.CausationID), env.TS)
	if err != nil {
		return domain.Envelope{}, fmt.Errorf("append event: %w", err)
	}
	env.Sequence, err = res.LastInsertId()
	if err != nil {
		return domain.Envelope{}, err
	}
	return env, nil
}

// validateData checks the payload is well-formed for the event type before
// it is committed; a malformed payload would otherwise poison every replay.
func validateData(t domain.EventType, data []byte) error {
	switch t {
	case domain.EventTaskCreated:
		var d domain.TaskCreatedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s data: %w", t, err)
		}
		if d.Title == "" {
			return fmt.Errorf("%s data: title is required", t)
		}
		if d.Project == "" {
			return fmt.Errorf("%s data: project is required", t)
		}
	case domain.EventStatusChanged:
		var d domain.StatusChangedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s data: %w", t, err)
		}
		if !domain.ValidStatus(d.To) {
			return fmt.Errorf("%s data: invalid status %q", t, d.To)
		}
	case domain.EventDepAdded, domain.EventDepRemoved:
		var d domain.DependencyData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s data: %w", t, err)
		}
		if d.DependsOnID == "" {
			return fmt.Errorf("%s data: depends_on_id is required", t)
		}
	case domain.EventTagAdded, domain.EventTagRemoved:
		var d domain.TagData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s data: %w", t, err)
		}
		if d.Tag == "" {
			return fmt.Errorf("%s data: tag is required", t)
		}
	case domain.EventCommentAdded:
		var d domain.CommentAddedData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s data: %w", t, err)
		}
		if d.Text == "" {
			return fmt.Errorf("%s data: text is required", t)
		}
	case domain.EventCheckpoint:
		var d domain.CheckpointData
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s data: %w", t, err)
		}
		if d.Name == "" {
			return fmt.Errorf("%s data: name is required", t)
		}
	case domain.EventProjectCreated, domain.EventProjectDeleted:
		var d struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(data, &d); err != nil {
			return fmt.Errorf("%s data: %w", t, err)
		}
		if d.Name == "" {
			return fmt.Errorf("%s data: name is required", t)
		}
	default:
		if !json.Valid(data) {
			return fmt.Errorf("%s data: invalid JSON", t)
		}
	}
	return nil
}

const envelopeColumns = `sequence,event_id,COALESCE(task_id,''),type,schema_version,data,
COALESCE(author,''),COALESCE(agent_id,''),COALESCE(session_id,''),COALESCE(correlation_id,''),COALESCE(causation_id,''),ts`

func scanEnvelope(rows *sql.Rows) (domain.Envelope, error) {
	var env domain.Envelope
	var typ, data string
	err := rows.Scan(&env.Sequence, &env.EventID, &env.TaskID, &typ, &env.SchemaVersion, &data,
		&env.Author, &env.AgentID, &env.SessionID, &env.CorrelationID, &env.CausationID, &env.TS)
	if err != nil {
		return env, err
	}
	env.Type = domain.EventType(typ)
	env.Data = json.RawMessage(data)
	return env, nil
}

// ReadSince returns events with sequence strictly greater than since, in
// sequence order, at most limit rows. This is the catch-up, rebuild and
// hook-drain read path.
func (s *Store) ReadSince(ctx context.Context, q Querier, since int64, limit int) ([]domain.Envelope, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := q.QueryContext(ctx, `SELECT `+envelopeColumns+` FROM events WHERE sequence > ? ORDER BY sequence ASC LIMIT ?`, since, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

// ReadByTask returns the full history for one task in sequence order.
func (s *Store) ReadByTask(ctx context.Context, taskID string) ([]domain.Envelope, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT `+envelopeColumns+` FROM events WHERE task_id = ? ORDER BY sequence ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collect(rows)
}

func collect(rows *sql.Rows) ([]domain.Envelope, error) {
	var res []domain.Envelope
	for rows.Next() {
		env, err := scanEnvelope(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, env)
	}
	return res, rows.Err()
}

// Querier is satisfied by *sql.DB and *sql.Tx so reads can run inside or
// outside a write transaction.
type Querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// ExportJSONL writes the log as one JSON envelope per line in sequence
// order, starting after since. This is the interchange format backup and
// hook tooling consume.
func (s *Store) ExportJSONL(ctx context.Context, w io.Writer, since int64) (int, error) {
	enc := json.NewEncoder(w)
	count := 0
	cursor := since
	for {
		batch, err := s.ReadSince(ctx, s.DB, cursor, 500)
		if err != nil {
			return count, err
		}
		if len(batch) == 0 {
			return count, nil
		}
		for _, env := range batch {
			if err := enc.Encode(env); err != nil {
				return count, err
			}
			count++
			cursor = env.Sequence
		}
	}
}

// LatestSequence returns the highest committed sequence, 0 for an empty log.
func (s *Store) LatestSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := s.DB.QueryRowContext(ctx, `SELECT COALESCE(MAX(sequence),0) FROM events`).Scan(&seq)
	return seq, err
}

// EnsureInstance records the database's identity row on first open.
func (s *Store) EnsureInstance(ctx context.Context, tx *sql.Tx) (string, error) {
	var id string
	err := tx.QueryRowContext(ctx, `SELECT id FROM instance LIMIT 1`).Scan(&id)
	if err == nil {
		return id, nil
	}
	if err != sql.ErrNoRows {
		return "", err
	}
	id = uuid.New().String()
	_, err = tx.ExecContext(ctx, `INSERT INTO instance(id, created_at) VALUES (?,?)`,
		id, s.now().UTC().Format(time.RFC3339))
	return id, err
}

// IsAppendOnlyViolation reports whether err came from the log's append-only
// triggers.
func IsAppendOnlyViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "append-only")
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}
