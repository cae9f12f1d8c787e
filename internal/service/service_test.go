package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tmchow/hzl-sub002/internal/db"
	"github.com/tmchow/hzl-sub002/internal/domain"
	"github.com/tmchow/hzl-sub002/internal/eventstore"
	"github.com/tmchow/hzl-sub002/internal/migrate"
	"github.com/tmchow/hzl-sub002/internal/projection"
	"github.com/tmchow/hzl-sub002/internal/repo"
	"github.com/tmchow/hzl-sub002/internal/upcast"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T) (*Service, *clock) {
	t.Helper()
	ctx := context.Background()
	d, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	if err := migrate.Run(ctx, d.DB); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	c := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	store := &eventstore.Store{DB: d.DB, Now: c.Now}
	eng := projection.NewEngine(d, store, upcast.NewRegistry())
	s := New(d, store, eng, repo.New(d.DB))
	s.Now = c.Now
	if err := s.EnsureDefaultProject(ctx); err != nil {
		t.Fatalf("seed inbox: %v", err)
	}
	return s, c
}

func mustCreate(t *testing.T, s *Service, title string, priority int) domain.Task {
	t.Helper()
	task, err := s.CreateTask(context.Background(), CreateTaskInput{
		Title:    title,
		Priority: priority,
		Prov:     domain.Provenance{Author: "alice"},
	})
	if err != nil {
		t.Fatalf("create %q: %v", title, err)
	}
	return task
}

func mustReady(t *testing.T, s *Service, id string) {
	t.Helper()
	if _, err := s.Ready(context.Background(), id, domain.Provenance{Author: "alice"}); err != nil {
		t.Fatalf("ready %s: %v", id, err)
	}
}

func TestCreateTaskStartsInBacklog(t *testing.T) {
	s, _ := newTestService(t)
	task := mustCreate(t, s, "write docs", 1)
	if task.Status != domain.StatusBacklog {
		t.Fatalf("status = %s, want backlog", task.Status)
	}
	if task.Project != domain.DefaultProject {
		t.Fatalf("project = %s, want inbox", task.Project)
	}
	if task.ID == "" || task.CreatedAt == "" {
		t.Fatal("missing id or created_at")
	}
}

func TestLifecycleTransitions(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}
	task := mustCreate(t, s, "feature", 0)

	// backlog -> done is not a legal move.
	if _, err := s.SetStatus(ctx, task.ID, domain.StatusDone, "", alice); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("backlog->done err = %v, want ErrInvalidTransition", err)
	}

	mustReady(t, s, task.ID)
	claimed, err := s.Claim(ctx, task.ID, ClaimInput{Prov: alice})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if claimed.Status != domain.StatusInProgress {
		t.Fatalf("after claim status = %s, want in_progress", claimed.Status)
	}
	done, err := s.Complete(ctx, task.ID, "shipped", alice)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", done.Status)
	}
	if done.Claimed() {
		t.Fatal("holder survived completion")
	}
	if done.TerminalAt == nil {
		t.Fatal("terminal_at not recorded")
	}
	archived, err := s.Archive(ctx, task.ID, alice)
	if err != nil {
		t.Fatalf("archive: %v", err)
	}
	if archived.Status != domain.StatusArchived {
		t.Fatalf("status = %s, want archived", archived.Status)
	}
	reopened, err := s.Reopen(ctx, task.ID, alice)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if reopened.Status != domain.StatusReady || reopened.TerminalAt != nil {
		t.Fatalf("reopen left status=%s terminal=%v", reopened.Status, reopened.TerminalAt)
	}
}

func TestClaimConflict(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, s, "contended", 0)
	mustReady(t, s, task.ID)

	if _, err := s.Claim(ctx, task.ID, ClaimInput{Prov: domain.Provenance{Author: "alice"}}); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	_, err := s.Claim(ctx, task.ID, ClaimInput{Prov: domain.Provenance{Author: "bob"}})
	if !errors.Is(err, ErrConflict) {
		t.Fatalf("second claim err = %v, want ErrConflict", err)
	}
}

func TestClaimAfterLeaseExpiry(t *testing.T) {
	s, c := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, s, "abandoned", 0)
	mustReady(t, s, task.ID)

	if _, err := s.Claim(ctx, task.ID, ClaimInput{LeaseMinutes: 10, Prov: domain.Provenance{Author: "alice"}}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	c.Advance(11 * time.Minute)
	got, err := s.Claim(ctx, task.ID, ClaimInput{Prov: domain.Provenance{Author: "bob"}})
	if err != nil {
		t.Fatalf("claim after expiry: %v", err)
	}
	if got.ClaimedByAuthor == nil || *got.ClaimedByAuthor != "bob" {
		t.Fatalf("holder = %v, want bob", got.ClaimedByAuthor)
	}
}

func TestClaimWithoutLeaseNeverExpires(t *testing.T) {
	s, c := newTestService(t)
	s.LeaseMinutes = 0
	ctx := context.Background()
	task := mustCreate(t, s, "open-ended work", 0)
	mustReady(t, s, task.ID)

	got, err := s.Claim(ctx, task.ID, ClaimInput{Prov: domain.Provenance{Author: "alice"}})
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if got.LeaseUntil != nil {
		t.Fatalf("lease = %q, want none", *got.LeaseUntil)
	}

	// No lease means no expiry: time passing frees nothing.
	c.Advance(48 * time.Hour)
	if _, err := s.Claim(ctx, task.ID, ClaimInput{Prov: domain.Provenance{Author: "bob"}}); !errors.Is(err, ErrConflict) {
		t.Fatalf("claim err = %v, want ErrConflict", err)
	}
	if _, err := s.Steal(ctx, task.ID, StealIfExpired, ClaimInput{Prov: domain.Provenance{Author: "bob"}}); !errors.Is(err, ErrLeaseActive) {
		t.Fatalf("steal err = %v, want ErrLeaseActive", err)
	}

	// An explicit duration still takes a lease even without a default.
	leased, err := s.Steal(ctx, task.ID, StealForce, ClaimInput{LeaseMinutes: 15, Prov: domain.Provenance{Author: "bob"}})
	if err != nil {
		t.Fatalf("force steal: %v", err)
	}
	if leased.LeaseUntil == nil {
		t.Fatal("explicit duration recorded no lease")
	}
}

func TestConcurrentClaimsHaveOneWinner(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, s, "race", 0)
	mustReady(t, s, task.ID)

	const claimers = 8
	var wg sync.WaitGroup
	errs := make([]error, claimers)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = s.Claim(ctx, task.ID, ClaimInput{
				Prov: domain.Provenance{AgentID: string(rune('a' + i))},
			})
		}(i)
	}
	wg.Wait()

	winners := 0
	for i, err := range errs {
		switch {
		case err == nil:
			winners++
		case errors.Is(err, ErrConflict):
		default:
			t.Fatalf("claimer %d unexpected error: %v", i, err)
		}
	}
	if winners != 1 {
		t.Fatalf("%d claim winners, want exactly 1", winners)
	}
}

func TestStealIfExpiredRequiresLapsedLease(t *testing.T) {
	s, c := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, s, "stuck", 0)
	mustReady(t, s, task.ID)
	if _, err := s.Claim(ctx, task.ID, ClaimInput{LeaseMinutes: 30, Prov: domain.Provenance{Author: "alice"}}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	_, err := s.Steal(ctx, task.ID, StealIfExpired, ClaimInput{Prov: domain.Provenance{Author: "bob"}})
	if !errors.Is(err, ErrLeaseActive) {
		t.Fatalf("steal err = %v, want ErrLeaseActive", err)
	}

	c.Advance(31 * time.Minute)
	got, err := s.Steal(ctx, task.ID, StealIfExpired, ClaimInput{Prov: domain.Provenance{Author: "bob"}})
	if err != nil {
		t.Fatalf("steal after expiry: %v", err)
	}
	if got.ClaimedByAuthor == nil || *got.ClaimedByAuthor != "bob" {
		t.Fatalf("holder = %v, want bob", got.ClaimedByAuthor)
	}
	if got.Status != domain.StatusInProgress {
		t.Fatalf("status = %s, steal must not change it", got.Status)
	}
}

func TestStealForceAlwaysWins(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, s, "urgent", 0)
	mustReady(t, s, task.ID)
	if _, err := s.Claim(ctx, task.ID, ClaimInput{LeaseMinutes: 60, Prov: domain.Provenance{Author: "alice"}}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	got, err := s.Steal(ctx, task.ID, StealForce, ClaimInput{Prov: domain.Provenance{Author: "boss"}})
	if err != nil {
		t.Fatalf("force steal: %v", err)
	}
	if got.ClaimedByAuthor == nil || *got.ClaimedByAuthor != "boss" {
		t.Fatalf("holder = %v, want boss", got.ClaimedByAuthor)
	}
}

func TestReleaseReturnsToReady(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}
	task := mustCreate(t, s, "put back", 0)
	mustReady(t, s, task.ID)
	if _, err := s.Claim(ctx, task.ID, ClaimInput{Prov: alice}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	// Only the holder may release.
	if _, err := s.Release(ctx, task.ID, domain.Provenance{Author: "bob"}); !errors.Is(err, ErrConflict) {
		t.Fatalf("release by stranger err = %v, want ErrConflict", err)
	}

	got, err := s.Release(ctx, task.ID, alice)
	if err != nil {
		t.Fatalf("release: %v", err)
	}
	if got.Status != domain.StatusReady || got.Claimed() || got.LeaseUntil != nil {
		t.Fatalf("release left status=%s claimed=%v lease=%v", got.Status, got.Claimed(), got.LeaseUntil)
	}
}

func TestBlockAndUnblockKeepHolder(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}
	task := mustCreate(t, s, "waiting on api", 0)
	mustReady(t, s, task.ID)
	if _, err := s.Claim(ctx, task.ID, ClaimInput{Prov: alice}); err != nil {
		t.Fatalf("claim: %v", err)
	}

	if _, err := s.Block(ctx, task.ID, "", alice); err == nil {
		t.Fatal("block without reason accepted")
	}
	blocked, err := s.Block(ctx, task.ID, "upstream outage", alice)
	if err != nil {
		t.Fatalf("block: %v", err)
	}
	if blocked.Status != domain.StatusBlocked {
		t.Fatalf("status = %s, want blocked", blocked.Status)
	}
	if !blocked.Claimed() {
		t.Fatal("blocking dropped the holder")
	}

	unblocked, err := s.Unblock(ctx, task.ID, alice)
	if err != nil {
		t.Fatalf("unblock: %v", err)
	}
	if unblocked.Status != domain.StatusInProgress {
		t.Fatalf("status = %s, want in_progress (task still claimed)", unblocked.Status)
	}
}

func TestCompleteFromBlocked(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}
	task := mustCreate(t, s, "finish line", 0)
	mustReady(t, s, task.ID)
	if _, err := s.Claim(ctx, task.ID, ClaimInput{Prov: alice}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := s.Block(ctx, task.ID, "review pending", alice); err != nil {
		t.Fatalf("block: %v", err)
	}
	got, err := s.Complete(ctx, task.ID, "merged", alice)
	if err != nil {
		t.Fatalf("complete from blocked: %v", err)
	}
	if got.Status != domain.StatusDone {
		t.Fatalf("status = %s, want done", got.Status)
	}
}

func TestDependencyCycleRejected(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}
	a := mustCreate(t, s, "a", 0)
	b := mustCreate(t, s, "b", 0)
	c := mustCreate(t, s, "c", 0)

	if err := s.AddDependency(ctx, a.ID, b.ID, alice); err != nil {
		t.Fatalf("a->b: %v", err)
	}
	if err := s.AddDependency(ctx, b.ID, c.ID, alice); err != nil {
		t.Fatalf("b->c: %v", err)
	}
	before, err := s.Store.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}

	if err := s.AddDependency(ctx, c.ID, a.ID, alice); !errors.Is(err, ErrCycle) {
		t.Fatalf("c->a err = %v, want ErrCycle", err)
	}
	if err := s.AddDependency(ctx, a.ID, a.ID, alice); !errors.Is(err, ErrCycle) {
		t.Fatalf("self edge err = %v, want ErrCycle", err)
	}

	// Rejections must leave the log and the edge set untouched.
	after, err := s.Store.LatestSequence(ctx)
	if err != nil {
		t.Fatalf("sequence: %v", err)
	}
	if after != before {
		t.Fatalf("rejected edges appended events: %d -> %d", before, after)
	}
	got, err := s.Repo.GetTask(ctx, c.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.DependsOn) != 0 {
		t.Fatalf("c has deps %v after rejection", got.DependsOn)
	}
}

func TestCreateAcceptsForwardDependency(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}
	future := "01JNOTCREATEDYET0000000000"

	task, err := s.CreateTask(ctx, CreateTaskInput{
		Title:     "blocked on work not yet filed",
		DependsOn: []string{future},
		Prov:      alice,
	})
	if err != nil {
		t.Fatalf("create with unresolved dependency: %v", err)
	}
	if len(task.DependsOn) != 1 || task.DependsOn[0] != future {
		t.Fatalf("deps = %v", task.DependsOn)
	}

	// The unresolved edge gates availability and shows up in the audit.
	mustReady(t, s, task.ID)
	avail, err := s.GetAvailableTasks(ctx, repo.AvailableFilter{})
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	for _, a := range avail {
		if a.ID == task.ID {
			t.Fatal("task behind an unresolved dependency is available")
		}
	}
	report, err := s.Audit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if len(report.DanglingDeps) != 1 || report.DanglingDeps[0] != task.ID+" -> "+future {
		t.Fatalf("dangling deps = %v", report.DanglingDeps)
	}
}

func TestDependencyOpsAreIdempotent(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}
	a := mustCreate(t, s, "a", 0)
	b := mustCreate(t, s, "b", 0)

	if err := s.AddDependency(ctx, a.ID, b.ID, alice); err != nil {
		t.Fatalf("add: %v", err)
	}
	before, _ := s.Store.LatestSequence(ctx)
	if err := s.AddDependency(ctx, a.ID, b.ID, alice); err != nil {
		t.Fatalf("re-add: %v", err)
	}
	if err := s.RemoveDependency(ctx, a.ID, b.ID, alice); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := s.RemoveDependency(ctx, a.ID, b.ID, alice); err != nil {
		t.Fatalf("re-remove: %v", err)
	}
	after, _ := s.Store.LatestSequence(ctx)
	// Only the real removal appends; the duplicate add and the second
	// removal are no-ops.
	if after != before+1 {
		t.Fatalf("sequence moved %d -> %d, want exactly one new event", before, after)
	}
}

func TestAvailableTasksOrderingAndGating(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}

	low := mustCreate(t, s, "low", 1)
	high := mustCreate(t, s, "high", 9)
	gated := mustCreate(t, s, "gated", 5)
	dep := mustCreate(t, s, "dep", 0)
	for _, id := range []string{low.ID, high.ID, gated.ID, dep.ID} {
		mustReady(t, s, id)
	}
	if err := s.AddDependency(ctx, gated.ID, dep.ID, alice); err != nil {
		t.Fatalf("dep: %v", err)
	}

	tasks, err := s.GetAvailableTasks(ctx, repo.AvailableFilter{})
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	ids := map[string]bool{}
	for _, task := range tasks {
		ids[task.ID] = true
	}
	if ids[gated.ID] {
		t.Fatal("task with unfinished dependency is available")
	}
	if len(tasks) == 0 || tasks[0].ID != high.ID {
		t.Fatalf("first available is not the highest priority: %+v", tasks)
	}

	// Finishing the dependency unlocks the gated task.
	if _, err := s.Claim(ctx, dep.ID, ClaimInput{Prov: alice}); err != nil {
		t.Fatalf("claim dep: %v", err)
	}
	if _, err := s.Complete(ctx, dep.ID, "", alice); err != nil {
		t.Fatalf("complete dep: %v", err)
	}
	tasks, err = s.GetAvailableTasks(ctx, repo.AvailableFilter{})
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	found := false
	for _, task := range tasks {
		if task.ID == gated.ID {
			found = true
		}
	}
	if !found {
		t.Fatal("gated task still unavailable after its dependency finished")
	}
}

func TestAvailableExcludesLiveClaims(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, s, "held", 0)
	mustReady(t, s, task.ID)
	if _, err := s.Claim(ctx, task.ID, ClaimInput{LeaseMinutes: 10, Prov: domain.Provenance{Author: "alice"}}); err != nil {
		t.Fatalf("claim: %v", err)
	}
	tasks, err := s.GetAvailableTasks(ctx, repo.AvailableFilter{})
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(tasks) != 0 {
		t.Fatalf("claimed task is listed as available: %+v", tasks)
	}
	// Releasing puts it straight back on the queue.
	if _, err := s.Release(ctx, task.ID, domain.Provenance{Author: "alice"}); err != nil {
		t.Fatalf("release: %v", err)
	}
	tasks, err = s.GetAvailableTasks(ctx, repo.AvailableFilter{})
	if err != nil {
		t.Fatalf("available: %v", err)
	}
	if len(tasks) != 1 || tasks[0].ID != task.ID {
		t.Fatalf("released task missing from the queue: %+v", tasks)
	}
}

func TestProjectLifecycle(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}

	if err := s.DeleteProject(ctx, domain.DefaultProject, alice); !errors.Is(err, ErrProtected) {
		t.Fatalf("delete inbox err = %v, want ErrProtected", err)
	}

	p, err := s.CreateProject(ctx, "rollout", "Q2 rollout", alice)
	if err != nil {
		t.Fatalf("create project: %v", err)
	}
	if p.IsProtected {
		t.Fatal("user project marked protected")
	}
	if _, err := s.CreateProject(ctx, "rollout", "", alice); err == nil {
		t.Fatal("duplicate project accepted")
	}

	task, err := s.CreateTask(ctx, CreateTaskInput{Title: "migrate db", Project: "rollout", Prov: alice})
	if err != nil {
		t.Fatalf("create task: %v", err)
	}
	if err := s.DeleteProject(ctx, "rollout", alice); !errors.Is(err, ErrProjectNotEmpty) {
		t.Fatalf("delete non-empty err = %v, want ErrProjectNotEmpty", err)
	}

	if _, err := s.Move(ctx, task.ID, domain.DefaultProject, alice); err != nil {
		t.Fatalf("move: %v", err)
	}
	if err := s.DeleteProject(ctx, "rollout", alice); err != nil {
		t.Fatalf("delete empty project: %v", err)
	}
	if _, err := s.Repo.GetProject(ctx, "rollout"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("deleted project still present: %v", err)
	}
}

func TestUpdateProgressBounds(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, s, "measured", 0)
	bad := 120
	if _, err := s.UpdateTask(ctx, task.ID, UpdateTaskInput{Progress: &bad}); err == nil {
		t.Fatal("progress 120 accepted")
	}
	ok := 40
	got, err := s.UpdateTask(ctx, task.ID, UpdateTaskInput{Progress: &ok})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if got.Progress == nil || *got.Progress != 40 {
		t.Fatalf("progress = %v, want 40", got.Progress)
	}
}

func TestResolveShortID(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	task := mustCreate(t, s, "findable", 0)

	id, err := s.Repo.ResolveTaskID(ctx, task.ID[:8])
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if id != task.ID {
		t.Fatalf("resolved %s, want %s", id, task.ID)
	}
	if _, err := s.Repo.ResolveTaskID(ctx, "zzzz"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("missing prefix err = %v, want ErrNotFound", err)
	}
}

func TestAuditCleanGraph(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}
	a := mustCreate(t, s, "a", 0)
	b := mustCreate(t, s, "b", 0)
	if err := s.AddDependency(ctx, a.ID, b.ID, alice); err != nil {
		t.Fatalf("dep: %v", err)
	}
	report, err := s.Audit(ctx)
	if err != nil {
		t.Fatalf("audit: %v", err)
	}
	if !report.Clean() {
		t.Fatalf("clean graph reported dirty: %+v", report)
	}
	if report.Tasks != 2 || report.Edges != 1 {
		t.Fatalf("report = %+v, want 2 tasks 1 edge", report)
	}
}

func TestCommentsAndCheckpoints(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}
	task := mustCreate(t, s, "annotated", 0)

	if _, err := s.AddComment(ctx, task.ID, "first note", alice); err != nil {
		t.Fatalf("comment: %v", err)
	}
	if _, err := s.RecordCheckpoint(ctx, task.ID, "design", "schema agreed", alice); err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	comments, err := s.Repo.Comments(ctx, task.ID)
	if err != nil {
		t.Fatalf("comments: %v", err)
	}
	if len(comments) != 1 || comments[0].Text != "first note" || comments[0].Author != "alice" {
		t.Fatalf("comments = %+v", comments)
	}
	checkpoints, err := s.Repo.Checkpoints(ctx, task.ID)
	if err != nil {
		t.Fatalf("checkpoints: %v", err)
	}
	if len(checkpoints) != 1 || checkpoints[0].Name != "design" {
		t.Fatalf("checkpoints = %+v", checkpoints)
	}
}

func TestTagsRoundTrip(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	alice := domain.Provenance{Author: "alice"}
	task := mustCreate(t, s, "labelled", 0)

	if err := s.AddTag(ctx, task.ID, "infra", alice); err != nil {
		t.Fatalf("tag: %v", err)
	}
	before, _ := s.Store.LatestSequence(ctx)
	if err := s.AddTag(ctx, task.ID, "infra", alice); err != nil {
		t.Fatalf("re-tag: %v", err)
	}
	after, _ := s.Store.LatestSequence(ctx)
	if after != before {
		t.Fatal("duplicate tag appended an event")
	}
	if err := s.RemoveTag(ctx, task.ID, "infra", alice); err != nil {
		t.Fatalf("untag: %v", err)
	}
	got, err := s.Repo.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if len(got.Tags) != 0 {
		t.Fatalf("tags = %v after removal", got.Tags)
	}
}
