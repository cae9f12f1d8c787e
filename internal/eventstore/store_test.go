package eventstore

import (
	"bufio"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"strings"
	"testing"

	"github.com/tmchow/hzl-sub002/internal/db"
	"github.com/tmchow/hzl-sub002/internal/domain"
	"github.com/tmchow/hzl-sub002/internal/migrate"
)

func newTestStore(t *testing.T) (*Store, *db.DB) {
	t.Helper()
	d, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := migrate.Run(context.Background(), d.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return &Store{DB: d.DB}, d
}

func appendOne(t *testing.T, s *Store, d *db.DB, taskID, title string) domain.Envelope {
	t.Helper()
	var env domain.Envelope
	err := d.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		var err error
		env, err = s.Append(context.Background(), tx, AppendInput{
			TaskID: taskID,
			Type:   domain.EventTaskCreated,
			Data:   domain.TaskCreatedData{Title: title, Project: domain.DefaultProject},
			Prov:   domain.Provenance{Author: "alice"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	return env
}

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	s, d := newTestStore(t)
	var last int64
	for i, id := range []string{"t1", "t2", "t3"} {
		env := appendOne(t, s, d, id, "task")
		if env.Sequence <= last {
			t.Fatalf("event %d: sequence %d not greater than %d", i, env.Sequence, last)
		}
		if len(env.EventID) != 26 {
			t.Fatalf("event id %q is not a 26-char ULID", env.EventID)
		}
		last = env.Sequence
	}
}

func TestAppendRejectsBadPayload(t *testing.T) {
	s, d := newTestStore(t)
	err := d.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		_, err := s.Append(context.Background(), tx, AppendInput{
			TaskID: "t1",
			Type:   domain.EventTaskCreated,
			Data:   domain.TaskCreatedData{Project: domain.DefaultProject},
		})
		return err
	})
	if err == nil || !strings.Contains(err.Error(), "title is required") {
		t.Fatalf("err = %v, want missing-title rejection", err)
	}
}

func TestAppendRejectsUnknownType(t *testing.T) {
	s, d := newTestStore(t)
	err := d.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		_, err := s.Append(context.Background(), tx, AppendInput{Type: "task.exploded", Data: map[string]any{}})
		return err
	})
	if err == nil {
		t.Fatal("expected unknown event type rejection")
	}
}

func TestCommittedEventsAreImmutable(t *testing.T) {
	s, d := newTestStore(t)
	env := appendOne(t, s, d, "t1", "task")

	_, err := d.Exec(`UPDATE events SET type = 'task.updated' WHERE sequence = ?`, env.Sequence)
	if !IsAppendOnlyViolation(err) {
		t.Fatalf("UPDATE err = %v, want append-only violation", err)
	}
	_, err = d.Exec(`DELETE FROM events WHERE sequence = ?`, env.Sequence)
	if !IsAppendOnlyViolation(err) {
		t.Fatalf("DELETE err = %v, want append-only violation", err)
	}
}

func TestReadSinceReturnsOrderedWindow(t *testing.T) {
	s, d := newTestStore(t)
	first := appendOne(t, s, d, "t1", "one")
	appendOne(t, s, d, "t2", "two")
	appendOne(t, s, d, "t3", "three")

	events, err := s.ReadSince(context.Background(), d, first.Sequence, 10)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events after %d, want 2", len(events), first.Sequence)
	}
	if events[0].Sequence >= events[1].Sequence {
		t.Fatal("events out of sequence order")
	}
	if events[0].TaskID != "t2" || events[1].TaskID != "t3" {
		t.Fatalf("wrong window: %s, %s", events[0].TaskID, events[1].TaskID)
	}
}

func TestReadByTask(t *testing.T) {
	s, d := newTestStore(t)
	appendOne(t, s, d, "t1", "one")
	appendOne(t, s, d, "t2", "two")
	err := d.WithWriteTx(context.Background(), func(tx *sql.Tx) error {
		_, err := s.Append(context.Background(), tx, AppendInput{
			TaskID: "t1",
			Type:   domain.EventCommentAdded,
			Data:   domain.CommentAddedData{Text: "hello"},
		})
		return err
	})
	if err != nil {
		t.Fatalf("append comment: %v", err)
	}

	events, err := s.ReadByTask(context.Background(), "t1")
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("got %d events for t1, want 2", len(events))
	}
	if events[0].Type != domain.EventTaskCreated || events[1].Type != domain.EventCommentAdded {
		t.Fatalf("wrong history: %s, %s", events[0].Type, events[1].Type)
	}
}

func TestExportJSONL(t *testing.T) {
	s, d := newTestStore(t)
	for _, id := range []string{"t1", "t2", "t3"} {
		appendOne(t, s, d, id, "task "+id)
	}
	var buf bytes.Buffer
	n, err := s.ExportJSONL(context.Background(), &buf, 0)
	if err != nil {
		t.Fatalf("export: %v", err)
	}
	if n != 3 {
		t.Fatalf("exported %d events, want 3", n)
	}
	scanner := bufio.NewScanner(&buf)
	lines := 0
	var prev int64
	for scanner.Scan() {
		var env domain.Envelope
		if err := json.Unmarshal(scanner.Bytes(), &env); err != nil {
			t.Fatalf("line %d: %v", lines, err)
		}
		if env.Sequence <= prev {
			t.Fatalf("line %d out of order: sequence %d after %d", lines, env.Sequence, prev)
		}
		prev = env.Sequence
		lines++
	}
	if lines != 3 {
		t.Fatalf("got %d lines, want 3", lines)
	}
}

func TestEnsureInstanceIsStable(t *testing.T) {
	s, d := newTestStore(t)
	ctx := context.Background()
	var first, second string
	err := d.WithWriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		first, err = s.EnsureInstance(ctx, tx)
		return err
	})
	if err != nil {
		t.Fatalf("first: %v", err)
	}
	err = d.WithWriteTx(ctx, func(tx *sql.Tx) error {
		var err error
		second, err = s.EnsureInstance(ctx, tx)
		return err
	})
	if err != nil {
		t.Fatalf("second: %v", err)
	}
	if first == "" || first != second {
		t.Fatalf("instance id changed: %q then %q", first, second)
	}
}
