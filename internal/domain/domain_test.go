package domain

import "testing"

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to string
		want     bool
	}{
		{StatusBacklog, StatusReady, true},
		{StatusBacklog, StatusDone, false},
		{StatusReady, StatusInProgress, true},
		{StatusInProgress, StatusDone, true},
		{StatusInProgress, StatusArchived, false},
		{StatusBlocked, StatusDone, true},
		{StatusDone, StatusReady, true},
		{StatusDone, StatusInProgress, false},
		{StatusArchived, StatusBacklog, true},
	}
	for _, tc := range cases {
		if got := CanTransition(tc.from, tc.to); got != tc.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tc.from, tc.to, got, tc.want)
		}
	}
}

func TestValidStatus(t *testing.T) {
	for _, s := range []string{StatusBacklog, StatusReady, StatusInProgress, StatusBlocked, StatusDone, StatusArchived} {
		if !ValidStatus(s) {
			t.Errorf("ValidStatus(%s) = false", s)
		}
	}
	if ValidStatus("paused") {
		t.Error("ValidStatus(paused) = true")
	}
}

func TestHolderMatches(t *testing.T) {
	alice := "alice"
	bot := "agent-7"
	task := Task{ClaimedByAuthor: &alice, ClaimedByAgentID: &bot}
	if !task.HolderMatches("alice", "") {
		t.Error("author match failed")
	}
	if !task.HolderMatches("", "agent-7") {
		t.Error("agent match failed")
	}
	if task.HolderMatches("bob", "agent-9") {
		t.Error("stranger matched")
	}
	if task.HolderMatches("", "") {
		t.Error("empty identity matched")
	}
}

func TestSchemaVersions(t *testing.T) {
	if v := SchemaVersion(EventTaskCreated); v != 2 {
		t.Fatalf("task.created version = %d, want 2", v)
	}
	if v := SchemaVersion(EventCommentAdded); v != 1 {
		t.Fatalf("comment.added version = %d, want 1", v)
	}
	if !KnownEventType(EventTaskClaimed) {
		t.Fatal("task.claimed unknown")
	}
	if KnownEventType("task.exploded") {
		t.Fatal("bogus type known")
	}
}
