package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/tmchow/hzl-sub002/internal/domain"
)

var (
	ErrNotFound    = errors.New("not found")
	ErrAmbiguousID = errors.New("ambiguous id prefix")
)

// Repo is the query side over the cache store. Everything it serves is
// derived, so reads never touch the event log.
type Repo struct {
	DB *sql.DB
}

func New(db *sql.DB) *Repo { return &Repo{DB: db} }

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const taskColumns = `task_id, title, project, status, priority, description,
claimed_by_author, claimed_by_agent_id, lease_until, progress, terminal_at,
created_at, updated_at, last_event_sequence`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var desc, author, agent, lease, terminal sql.NullString
	var progress sql.NullInt64
	err := row.Scan(&t.ID, &t.Title, &t.Project, &t.Status, &t.Priority, &desc,
		&author, &agent, &lease, &progress, &terminal,
		&t.CreatedAt, &t.UpdatedAt, &t.LastEventSequence)
	if err != nil {
		return t, err
	}
	t.Description = desc.String
	if author.Valid {
		t.ClaimedByAuthor = &author.String
	}
	if agent.Valid {
		t.ClaimedByAgentID = &agent.String
	}
	if lease.Valid {
		t.LeaseUntil = &lease.String
	}
	if progress.Valid {
		v := int(progress.Int64)
		t.Progress = &v
	}
	if terminal.Valid {
		t.TerminalAt = &terminal.String
	}
	return t, nil
}

// GetTask loads one task with its dependency and tag sets.
func (r *Repo) GetTask(ctx context.Context, id string) (domain.Task, error) {
	return r.getTask(ctx, r.DB, id)
}

// GetTaskTx is GetTask inside a caller-owned transaction, for commands that
// must read current state under the write lock.
func (r *Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id string) (domain.Task, error) {
	return r.getTask(ctx, tx, id)
}

func (r *Repo) getTask(ctx context.Context, q querier, id string) (domain.Task, error) {
	t, err := scanTask(q.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM cache.tasks_current WHERE task_id = ?`, id))
	if err == sql.ErrNoRows {
		return t, fmt.Errorf("task %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return t, err
	}
	if t.DependsOn, err = r.deps(ctx, q, id); err != nil {
		return t, err
	}
	if t.Tags, err = r.tags(ctx, q, id); err != nil {
		return t, err
	}
	return t, nil
}

func (r *Repo) deps(ctx context.Context, q querier, id string) ([]string, error) {
	return stringColumn(ctx, q,
		`SELECT depends_on_id FROM cache.task_deps WHERE task_id = ? ORDER BY depends_on_id`, id)
}

func (r *Repo) tags(ctx context.Context, q querier, id string) ([]string, error) {
	return stringColumn(ctx, q,
		`SELECT tag FROM cache.task_tags WHERE task_id = ? ORDER BY tag`, id)
}

func stringColumn(ctx context.Context, q querier, query string, args ...any) ([]string, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var s string
		if err := rows.Scan(&s); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ResolveTaskID expands a unique task id prefix to the full id. Short ids
// are a CLI convenience; an ambiguous prefix is an error, not a guess.
func (r *Repo) ResolveTaskID(ctx context.Context, prefix string) (string, error) {
	ids, err := stringColumn(ctx, r.DB,
		`SELECT task_id FROM cache.tasks_current WHERE task_id = ? OR task_id LIKE ? ORDER BY task_id LIMIT 5`,
		prefix, prefix+"%")
	if err != nil {
		return "", err
	}
	switch {
	case len(ids) == 0:
		return "", fmt.Errorf("task %s: %w", prefix, ErrNotFound)
	case len(ids) == 1 || ids[0] == prefix:
		return ids[0], nil
	default:
		return "", fmt.Errorf("%w: %s matches %s", ErrAmbiguousID, prefix, strings.Join(ids, ", "))
	}
}

// ListFilter narrows ListTasks. Zero values mean no filter.
type ListFilter struct {
	Status  string
	Project string
	Tag     string
	Holder  string
	Limit   int
}

// ListTasks returns tasks matching the filter, highest priority first, then
// oldest first.
func (r *Repo) ListTasks(ctx context.Context, f ListFilter) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM cache.tasks_current WHERE 1=1`
	var args []any
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(f.Status))
	}
	if f.Project != "" {
		query += ` AND project = ?`
		args = append(args, f.Project)
	}
	if f.Tag != "" {
		query += ` AND task_id IN (SELECT task_id FROM cache.task_tags WHERE tag = ?)`
		args = append(args, f.Tag)
	}
	if f.Holder != "" {
		query += ` AND (claimed_by_author = ? OR claimed_by_agent_id = ?)`
		args = append(args, f.Holder, f.Holder)
	}
	query += ` ORDER BY priority DESC, last_event_sequence ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return r.listTasks(ctx, r.DB, query, args...)
}

func (r *Repo) listTasks(ctx context.Context, q querier, query string, args ...any) ([]domain.Task, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var tasks []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, t)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for i := range tasks {
		if tasks[i].DependsOn, err = r.deps(ctx, q, tasks[i].ID); err != nil {
			return nil, err
		}
		if tasks[i].Tags, err = r.tags(ctx, q, tasks[i].ID); err != nil {
			return nil, err
		}
	}
	return tasks, nil
}

// AvailableFilter narrows AvailableTasks.
type AvailableFilter struct {
	Project string
	Tags    []string
	Limit   int
}

// AvailableTasks returns unblocked ready work: status ready, unclaimed or
// lease expired, and every dependency finished successfully. Ordered by
// priority, then by age so older tasks of equal priority go first.
func (r *Repo) AvailableTasks(ctx context.Context, nowRFC3339 string, f AvailableFilter) ([]domain.Task, error) {
	query := `SELECT ` + taskColumns + ` FROM cache.tasks_current t
WHERE t.status = 'ready'
AND (t.claimed_by_author IS NULL AND t.claimed_by_agent_id IS NULL OR (t.lease_until IS NOT NULL AND t.lease_until <= ?))
AND NOT EXISTS (
	SELECT 1 FROM cache.task_deps d
	JOIN cache.tasks_current dt ON dt.task_id = d.depends_on_id
	WHERE d.task_id = t.task_id
	AND NOT (dt.status = 'done' OR (dt.status = 'archived' AND dt.terminal_at IS NOT NULL))
)
AND NOT EXISTS (
	SELECT 1 FROM cache.task_deps d
	WHERE d.task_id = t.task_id
	AND d.depends_on_id NOT IN (SELECT task_id FROM cache.tasks_current)
)`
	args := []any{nowRFC3339}
	if f.Project != "" {
		query += ` AND t.project = ?`
		args = append(args, f.Project)
	}
	for _, tag := range f.Tags {
		query += ` AND t.task_id IN (SELECT task_id FROM cache.task_tags WHERE tag = ?)`
		args = append(args, tag)
	}
	query += ` ORDER BY t.priority DESC, t.task_id ASC`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	return r.listTasks(ctx, r.DB, query, args...)
}

// SearchTasks does a case-insensitive substring match over the denormalized
// search index.
func (r *Repo) SearchTasks(ctx context.Context, term string, limit int) ([]domain.Task, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.ToLower(term) + "%"
	query := `SELECT ` + taskColumns + ` FROM cache.tasks_current
WHERE task_id IN (
	SELECT task_id FROM cache.search_index
	WHERE lower(title) LIKE ? OR lower(project) LIKE ? OR lower(tags) LIKE ? OR lower(last_comment) LIKE ?
)
ORDER BY priority DESC, last_event_sequence ASC LIMIT ?`
	return r.listTasks(ctx, r.DB, query, pattern, pattern, pattern, pattern, limit)
}

// Comments returns a task's comments oldest first.
func (r *Repo) Comments(ctx context.Context, taskID string) ([]domain.Comment, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT event_sequence, task_id, COALESCE(author,''), text, ts FROM cache.comments WHERE task_id = ? ORDER BY event_sequence ASC`,
		taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Comment
	for rows.Next() {
		var c domain.Comment
		if err := rows.Scan(&c.EventSequence, &c.TaskID, &c.Author, &c.Text, &c.TS); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// Checkpoints returns a task's checkpoints oldest first.
func (r *Repo) Checkpoints(ctx context.Context, taskID string) ([]domain.Checkpoint, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT event_sequence, task_id, name, COALESCE(note,''), ts FROM cache.checkpoints WHERE task_id = ? ORDER BY event_sequence ASC`,
		taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Checkpoint
	for rows.Next() {
		var c domain.Checkpoint
		if err := rows.Scan(&c.EventSequence, &c.TaskID, &c.Name, &c.Note, &c.TS); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetProject loads one project by name.
func (r *Repo) GetProject(ctx context.Context, name string) (domain.Project, error) {
	return r.getProject(ctx, r.DB, name)
}

// GetProjectTx is GetProject inside a caller-owned transaction.
func (r *Repo) GetProjectTx(ctx context.Context, tx *sql.Tx, name string) (domain.Project, error) {
	return r.getProject(ctx, tx, name)
}

func (r *Repo) getProject(ctx context.Context, q querier, name string) (domain.Project, error) {
	var p domain.Project
	var desc sql.NullString
	var protected int
	err := q.QueryRowContext(ctx,
		`SELECT name, description, is_protected, created_at FROM cache.projects WHERE name = ?`, name).
		Scan(&p.Name, &desc, &protected, &p.CreatedAt)
	if err == sql.ErrNoRows {
		return p, fmt.Errorf("project %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return p, err
	}
	p.Description = desc.String
	p.IsProtected = protected != 0
	return p, nil
}

// ListProjects returns all projects with task counts, name order.
func (r *Repo) ListProjects(ctx context.Context) ([]domain.Project, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT p.name, p.description, p.is_protected, p.created_at,
(SELECT COUNT(*) FROM cache.tasks_current t WHERE t.project = p.name) AS task_count
FROM cache.projects p ORDER BY p.name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Project
	for rows.Next() {
		var p domain.Project
		var desc sql.NullString
		var protected int
		if err := rows.Scan(&p.Name, &desc, &protected, &p.CreatedAt, &p.TaskCount); err != nil {
			return nil, err
		}
		p.Description = desc.String
		p.IsProtected = protected != 0
		out = append(out, p)
	}
	return out, rows.Err()
}

// ProjectTaskCount returns the number of tasks in a project, inside tx.
func (r *Repo) ProjectTaskCount(ctx context.Context, tx *sql.Tx, name string) (int, error) {
	var n int
	err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM cache.tasks_current WHERE project = ?`, name).Scan(&n)
	return n, err
}

// DepEdgesTx returns every dependency edge, inside tx. Used for cycle
// checks under the write lock.
func (r *Repo) DepEdgesTx(ctx context.Context, tx *sql.Tx) (map[string][]string, error) {
	rows, err := tx.QueryContext(ctx, `SELECT task_id, depends_on_id FROM cache.task_deps`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edges := map[string][]string{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		edges[from] = append(edges[from], to)
	}
	return edges, rows.Err()
}

// DepEdges is DepEdgesTx outside a transaction, for audits.
func (r *Repo) DepEdges(ctx context.Context) (map[string][]string, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT task_id, depends_on_id FROM cache.task_deps`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	edges := map[string][]string{}
	for rows.Next() {
		var from, to string
		if err := rows.Scan(&from, &to); err != nil {
			return nil, err
		}
		edges[from] = append(edges[from], to)
	}
	return edges, rows.Err()
}

// TaskIDs returns the id of every known task.
func (r *Repo) TaskIDs(ctx context.Context) ([]string, error) {
	return stringColumn(ctx, r.DB, `SELECT task_id FROM cache.tasks_current ORDER BY task_id`)
}
