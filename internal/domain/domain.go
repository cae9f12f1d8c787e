package domain

// Task status values. Transitions are validated by the service layer and
// applied only by replaying events through the tasks-current projector.
const (
	StatusBacklog    = "backlog"
	StatusReady      = "ready"
	StatusInProgress = "in_progress"
	StatusBlocked    = "blocked"
	StatusDone       = "done"
	StatusArchived   = "archived"
)

// statusTransitions is the closed set of legal status moves.
var statusTransitions = map[string][]string{
	StatusBacklog:    {StatusReady},
	StatusReady:      {StatusInProgress, StatusBacklog},
	StatusInProgress: {StatusDone, StatusBlocked, StatusReady},
	StatusBlocked:    {StatusInProgress, StatusReady, StatusDone},
	StatusDone:       {StatusArchived, StatusReady, StatusBacklog},
	StatusArchived:   {StatusReady, StatusBacklog},
}

// ValidStatus reports whether s is a known status value.
func ValidStatus(s string) bool {
	_, ok := statusTransitions[s]
	return ok
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to string) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether a status counts as terminal for dependency gating.
// Archived only counts when the task went through done first; callers check
// TerminalAt for that.
func Terminal(status string) bool {
	return status == StatusDone || status == StatusArchived
}

// Task is the materialized current state of one task. It is derived from the
// event log by the tasks-current projector and is fully reconstructible.
type Task struct {
	ID                string   `json:"task_id"`
	Title             string   `json:"title"`
	Project           string   `json:"project"`
	Status            string   `json:"status" enum:"backlog,ready,in_progress,blocked,done,archived"`
	Priority          int      `json:"priority"`
	Description       string   `json:"description,omitempty"`
	ClaimedByAuthor   *string  `json:"claimed_by_author,omitempty"`
	ClaimedByAgentID  *string  `json:"claimed_by_agent_id,omitempty"`
	LeaseUntil        *string  `json:"lease_until,omitempty" format:"date-time"`
	Progress          *int     `json:"progress,omitempty"`
	TerminalAt        *string  `json:"terminal_at,omitempty" format:"date-time"`
	CreatedAt         string   `json:"created_at" format:"date-time"`
	UpdatedAt         string   `json:"updated_at" format:"date-time"`
	LastEventSequence int64    `json:"last_event_sequence"`
	DependsOn         []string `json:"depends_on,omitempty"`
	Tags              []string `json:"tags,omitempty"`
}

// Claimed reports whether the task has any holder identity recorded.
func (t Task) Claimed() bool {
	return t.ClaimedByAuthor != nil || t.ClaimedByAgentID != nil
}

// HolderMatches reports whether the given identity matches the current holder.
// Author and agent id are independent identities; either match counts.
func (t Task) HolderMatches(author, agentID string) bool {
	if author != "" && t.ClaimedByAuthor != nil && *t.ClaimedByAuthor == author {
		return true
	}
	if agentID != "" && t.ClaimedByAgentID != nil && *t.ClaimedByAgentID == agentID {
		return true
	}
	return false
}

// Project groups tasks. The inbox project is protected and cannot be deleted.
type Project struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	IsProtected bool   `json:"is_protected"`
	CreatedAt   string `json:"created_at" format:"date-time"`
	TaskCount   int    `json:"task_count,omitempty"`
}

// DefaultProject is the protected project every workspace starts with.
const DefaultProject = "inbox"

// Dependency is one edge of the task dependency DAG.
type Dependency struct {
	TaskID      string `json:"task_id"`
	DependsOnID string `json:"depends_on_id"`
}

// Comment is an append-only child record of a task, ordered by the sequence
// of the event that created it.
type Comment struct {
	EventSequence int64  `json:"event_sequence"`
	TaskID        string `json:"task_id"`
	Author        string `json:"author,omitempty"`
	Text          string `json:"text"`
	TS            string `json:"ts" format:"date-time"`
}

// Checkpoint records a named progress marker on a task.
type Checkpoint struct {
	EventSequence int64  `json:"event_sequence"`
	TaskID        string `json:"task_id"`
	Name          string `json:"name"`
	Note          string `json:"note,omitempty"`
	TS            string `json:"ts" format:"date-time"`
}
