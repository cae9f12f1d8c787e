package domain

import "encoding/json"

// EventType is the closed set of facts the ledger records.
type EventType string

const (
	EventTaskCreated    EventType = "task.created"
	EventTaskUpdated    EventType = "task.updated"
	EventStatusChanged  EventType = "task.status_changed"
	EventTaskClaimed    EventType = "task.claimed"
	EventTaskReleased   EventType = "task.released"
	EventTaskStolen     EventType = "task.stolen"
	EventTaskMoved      EventType = "task.moved"
	EventDepAdded       EventType = "dep.added"
	EventDepRemoved     EventType = "dep.removed"
	EventTagAdded       EventType = "tag.added"
	EventTagRemoved     EventType = "tag.removed"
	EventCommentAdded   EventType = "comment.added"
	EventCheckpoint     EventType = "checkpoint.recorded"
	EventProjectCreated EventType = "project.created"
	EventProjectDeleted EventType = "project.deleted"
)

// schemaVersions maps each event type to its current payload schema version.
// Types absent from the map are unknown.
var schemaVersions = map[EventType]int{
	EventTaskCreated:    2,
	EventTaskUpdated:    1,
	EventStatusChanged:  1,
	EventTaskClaimed:    1,
	EventTaskReleased:   1,
	EventTaskStolen:     1,
	EventTaskMoved:      1,
	EventDepAdded:       1,
	EventDepRemoved:     1,
	EventTagAdded:       1,
	EventTagRemoved:     1,
	EventCommentAdded:   1,
	EventCheckpoint:     1,
	EventProjectCreated: 1,
	EventProjectDeleted: 1,
}

// KnownEventType reports whether t is part of the closed event enum.
func KnownEventType(t EventType) bool {
	_, ok := schemaVersions[t]
	return ok
}

// SchemaVersion returns the current payload schema version for an event type,
// or 0 for unknown types.
func SchemaVersion(t EventType) int {
	return schemaVersions[t]
}

// Provenance carries the optional actor identities attached to an event.
// Author and agent id are independent; both may be present.
type Provenance struct {
	Author        string
	AgentID       string
	SessionID     string
	CorrelationID string
	CausationID   string
}

// Envelope is one immutable fact in the log. Sequence is assigned by the
// event store at append time and totally orders events across all tasks.
type Envelope struct {
	EventID       string          `json:"event_id"`
	Sequence      int64           `json:"sequence"`
	TaskID        string          `json:"task_id,omitempty"`
	Type          EventType       `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	Data          json.RawMessage `json:"data"`
	Author        string          `json:"author,omitempty"`
	AgentID       string          `json:"agent_id,omitempty"`
	SessionID     string          `json:"session_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	CausationID   string          `json:"causation_id,omitempty"`
	TS            string          `json:"ts" format:"date-time"`
}

// Per-type payload shapes, current schema versions.

type TaskCreatedData struct {
	Title       string   `json:"title"`
	Project     string   `json:"project"`
	Priority    int      `json:"priority,omitempty"`
	Description string   `json:"description,omitempty"`
	DependsOn   []string `json:"depends_on,omitempty"`
	Tags        []string `json:"tags,omitempty"`
}

type TaskUpdatedData struct {
	Title       *string `json:"title,omitempty"`
	Description *string `json:"description,omitempty"`
	Priority    *int    `json:"priority,omitempty"`
	Progress    *int    `json:"progress,omitempty"`
}

type StatusChangedData struct {
	From       string `json:"from"`
	To         string `json:"to"`
	Reason     string `json:"reason,omitempty"`
	ClearOwner bool   `json:"clear_owner,omitempty"`
}

type TaskClaimedData struct {
	Author     string `json:"author,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	Status     string `json:"status"`
	LeaseUntil string `json:"lease_until,omitempty"`
}

type TaskReleasedData struct {
	Status string `json:"status"`
}

type TaskStolenData struct {
	Author     string `json:"author,omitempty"`
	AgentID    string `json:"agent_id,omitempty"`
	Mode       string `json:"mode"`
	LeaseUntil string `json:"lease_until,omitempty"`
}

type TaskMovedData struct {
	From string `json:"from"`
	To   string `json:"to"`
}

type DependencyData struct {
	DependsOnID string `json:"depends_on_id"`
}

type TagData struct {
	Tag string `json:"tag"`
}

type CommentAddedData struct {
	Text string `json:"text"`
}

type CheckpointData struct {
	Name string `json:"name"`
	Note string `json:"note,omitempty"`
}

type ProjectCreatedData struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsProtected bool   `json:"is_protected,omitempty"`
}

type ProjectDeletedData struct {
	Name string `json:"name"`
}
