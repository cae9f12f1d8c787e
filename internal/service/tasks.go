package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/oklog/ulid/v2"

	"github.com/tmchow/hzl-sub002/internal/domain"
	"github.com/tmchow/hzl-sub002/internal/eventstore"
)

// CreateTaskInput carries the caller's fields for a new task. Project
// defaults to the inbox.
type CreateTaskInput struct {
	Title       string
	Project     string
	Priority    int
	Description string
	DependsOn   []string
	Tags        []string
	Prov        domain.Provenance
}

// CreateTask records a new task in backlog. Declared dependencies may
// point at tasks that do not exist yet; Audit surfaces dangling references
// and the availability queue ignores tasks behind them. A new task has no
// dependents, so its edges cannot close a cycle.
func (s *Service) CreateTask(ctx context.Context, in CreateTaskInput) (domain.Task, error) {
	if in.Title == "" {
		return domain.Task{}, fmt.Errorf("title is required")
	}
	if in.Project == "" {
		in.Project = domain.DefaultProject
	}
	taskID := ulid.Make().String()
	envs, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		if _, err := s.Repo.GetProjectTx(ctx, tx, in.Project); err != nil {
			return nil, err
		}
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventTaskCreated,
			Data: domain.TaskCreatedData{
				Title:       in.Title,
				Project:     in.Project,
				Priority:    in.Priority,
				Description: in.Description,
				DependsOn:   in.DependsOn,
				Tags:        in.Tags,
			},
			Prov: in.Prov,
		}}, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.Repo.GetTask(ctx, envs[0].TaskID)
}

// UpdateTaskInput carries partial updates; nil fields are untouched.
type UpdateTaskInput struct {
	Title       *string
	Description *string
	Priority    *int
	Progress    *int
	Prov        domain.Provenance
}

// UpdateTask records field changes on a task.
func (s *Service) UpdateTask(ctx context.Context, taskID string, in UpdateTaskInput) (domain.Task, error) {
	if in.Title == nil && in.Description == nil && in.Priority == nil && in.Progress == nil {
		return s.Repo.GetTask(ctx, taskID)
	}
	if in.Progress != nil && (*in.Progress < 0 || *in.Progress > 100) {
		return domain.Task{}, fmt.Errorf("progress must be between 0 and 100")
	}
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		if _, err := s.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
			return nil, err
		}
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventTaskUpdated,
			Data: domain.TaskUpdatedData{
				Title:       in.Title,
				Description: in.Description,
				Priority:    in.Priority,
				Progress:    in.Progress,
			},
			Prov: in.Prov,
		}}, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.Repo.GetTask(ctx, taskID)
}

// SetStatus moves a task through the transition table. Moves into a
// non-claimed status clear the holder.
func (s *Service) SetStatus(ctx context.Context, taskID, to, reason string, prov domain.Provenance) (domain.Task, error) {
	if !domain.ValidStatus(to) {
		return domain.Task{}, fmt.Errorf("invalid status %q", to)
	}
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		t, err := s.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return nil, err
		}
		if t.Status == to {
			return nil, nil
		}
		if !domain.CanTransition(t.Status, to) {
			return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, t.Status, to)
		}
		clear := t.Claimed() && to != domain.StatusInProgress && to != domain.StatusBlocked
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventStatusChanged,
			Data: domain.StatusChangedData{
				From:       t.Status,
				To:         to,
				Reason:     reason,
				ClearOwner: clear,
			},
			Prov: prov,
		}}, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.Repo.GetTask(ctx, taskID)
}

// Ready moves a backlog task into the ready queue.
func (s *Service) Ready(ctx context.Context, taskID string, prov domain.Provenance) (domain.Task, error) {
	return s.SetStatus(ctx, taskID, domain.StatusReady, "", prov)
}

// ClaimInput identifies the claimant and the lease to take.
type ClaimInput struct {
	LeaseMinutes int
	Prov         domain.Provenance
}

// Claim takes a ready or blocked task for the caller. It fails with
// ErrConflict if another holder has a live lease. At most one concurrent
// claimer wins because the check and the append share one immediate write
// transaction.
func (s *Service) Claim(ctx context.Context, taskID string, in ClaimInput) (domain.Task, error) {
	if in.Prov.Author == "" && in.Prov.AgentID == "" {
		return domain.Task{}, fmt.Errorf("claim requires an author or agent identity")
	}
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		t, err := s.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return nil, err
		}
		if t.Status != domain.StatusReady && t.Status != domain.StatusBlocked {
			return nil, fmt.Errorf("%w: cannot claim from %s", ErrInvalidTransition, t.Status)
		}
		if t.Claimed() && !t.HolderMatches(in.Prov.Author, in.Prov.AgentID) && !s.leaseExpired(t) {
			return nil, fmt.Errorf("%w by %s", ErrConflict, holderName(t))
		}
		// A claim from blocked keeps the task blocked; the claimant owns
		// resolving the blocker.
		status := domain.StatusInProgress
		if t.Status == domain.StatusBlocked {
			status = domain.StatusBlocked
		}
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventTaskClaimed,
			Data: domain.TaskClaimedData{
				Author:     in.Prov.Author,
				AgentID:    in.Prov.AgentID,
				Status:     status,
				LeaseUntil: s.leaseFor(in.LeaseMinutes),
			},
			Prov: in.Prov,
		}}, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.Repo.GetTask(ctx, taskID)
}

// Steal modes.
const (
	StealForce     = "force"
	StealIfExpired = "if_expired"
)

// Steal transfers a claimed task to the caller. Mode if_expired requires
// the current lease to have lapsed; force always wins and is meant for a
// human operator.
func (s *Service) Steal(ctx context.Context, taskID, mode string, in ClaimInput) (domain.Task, error) {
	if mode != StealForce && mode != StealIfExpired {
		return domain.Task{}, fmt.Errorf("invalid steal mode %q", mode)
	}
	if in.Prov.Author == "" && in.Prov.AgentID == "" {
		return domain.Task{}, fmt.Errorf("steal requires an author or agent identity")
	}
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		t, err := s.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return nil, err
		}
		if !t.Claimed() {
			return nil, fmt.Errorf("task %s is not claimed", taskID)
		}
		if mode == StealIfExpired && !s.leaseExpired(t) {
			return nil, fmt.Errorf("%w until %s", ErrLeaseActive, leaseString(t))
		}
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventTaskStolen,
			Data: domain.TaskStolenData{
				Author:     in.Prov.Author,
				AgentID:    in.Prov.AgentID,
				Mode:       mode,
				LeaseUntil: s.leaseFor(in.LeaseMinutes),
			},
			Prov: in.Prov,
		}}, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.Repo.GetTask(ctx, taskID)
}

// Release drops the caller's claim and returns the task to ready. Blocked
// tasks stay blocked.
func (s *Service) Release(ctx context.Context, taskID string, prov domain.Provenance) (domain.Task, error) {
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		t, err := s.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return nil, err
		}
		if !t.Claimed() {
			return nil, nil
		}
		if !t.HolderMatches(prov.Author, prov.AgentID) {
			return nil, fmt.Errorf("%w by %s", ErrConflict, holderName(t))
		}
		status := domain.StatusReady
		if t.Status == domain.StatusBlocked {
			status = domain.StatusBlocked
		}
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventTaskReleased,
			Data:   domain.TaskReleasedData{Status: status},
			Prov:   prov,
		}}, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.Repo.GetTask(ctx, taskID)
}

// Complete finishes an in-progress or blocked task and clears the holder.
func (s *Service) Complete(ctx context.Context, taskID, reason string, prov domain.Provenance) (domain.Task, error) {
	return s.SetStatus(ctx, taskID, domain.StatusDone, reason, prov)
}

// Block marks an in-progress task blocked with a reason, keeping the holder.
func (s *Service) Block(ctx context.Context, taskID, reason string, prov domain.Provenance) (domain.Task, error) {
	if reason == "" {
		return domain.Task{}, fmt.Errorf("a block reason is required")
	}
	return s.SetStatus(ctx, taskID, domain.StatusBlocked, reason, prov)
}

// Unblock returns a blocked task to in_progress when it still has a holder,
// otherwise to ready.
func (s *Service) Unblock(ctx context.Context, taskID string, prov domain.Provenance) (domain.Task, error) {
	t, err := s.Repo.GetTask(ctx, taskID)
	if err != nil {
		return domain.Task{}, err
	}
	to := domain.StatusReady
	if t.Claimed() {
		to = domain.StatusInProgress
	}
	return s.SetStatus(ctx, taskID, to, "", prov)
}

// Archive moves a done task to archived.
func (s *Service) Archive(ctx context.Context, taskID string, prov domain.Provenance) (domain.Task, error) {
	return s.SetStatus(ctx, taskID, domain.StatusArchived, "", prov)
}

// Reopen returns a finished task to the ready queue.
func (s *Service) Reopen(ctx context.Context, taskID string, prov domain.Provenance) (domain.Task, error) {
	return s.SetStatus(ctx, taskID, domain.StatusReady, "reopened", prov)
}

// Move reassigns a task to another project.
func (s *Service) Move(ctx context.Context, taskID, project string, prov domain.Provenance) (domain.Task, error) {
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		t, err := s.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return nil, err
		}
		if t.Project == project {
			return nil, nil
		}
		if _, err := s.Repo.GetProjectTx(ctx, tx, project); err != nil {
			return nil, err
		}
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventTaskMoved,
			Data:   domain.TaskMovedData{From: t.Project, To: project},
			Prov:   prov,
		}}, nil
	})
	if err != nil {
		return domain.Task{}, err
	}
	return s.Repo.GetTask(ctx, taskID)
}

// AddComment appends a comment to a task.
func (s *Service) AddComment(ctx context.Context, taskID, text string, prov domain.Provenance) (domain.Envelope, error) {
	return first(s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		if _, err := s.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
			return nil, err
		}
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventCommentAdded,
			Data:   domain.CommentAddedData{Text: text},
			Prov:   prov,
		}}, nil
	}))
}

// RecordCheckpoint appends a named progress marker to a task.
func (s *Service) RecordCheckpoint(ctx context.Context, taskID, name, note string, prov domain.Provenance) (domain.Envelope, error) {
	return first(s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		if _, err := s.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
			return nil, err
		}
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventCheckpoint,
			Data:   domain.CheckpointData{Name: name, Note: note},
			Prov:   prov,
		}}, nil
	}))
}

// AddTag tags a task. Adding an existing tag is a no-op.
func (s *Service) AddTag(ctx context.Context, taskID, tag string, prov domain.Provenance) error {
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		t, err := s.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return nil, err
		}
		for _, existing := range t.Tags {
			if existing == tag {
				return nil, nil
			}
		}
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventTagAdded,
			Data:   domain.TagData{Tag: tag},
			Prov:   prov,
		}}, nil
	})
	return err
}

// RemoveTag untags a task. Removing an absent tag is a no-op.
func (s *Service) RemoveTag(ctx context.Context, taskID, tag string, prov domain.Provenance) error {
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		t, err := s.Repo.GetTaskTx(ctx, tx, taskID)
		if err != nil {
			return nil, err
		}
		for _, existing := range t.Tags {
			if existing == tag {
				return []eventstore.AppendInput{{
					TaskID: taskID,
					Type:   domain.EventTagRemoved,
					Data:   domain.TagData{Tag: tag},
					Prov:   prov,
				}}, nil
			}
		}
		return nil, nil
	})
	return err
}

func holderName(t domain.Task) string {
	switch {
	case t.ClaimedByAuthor != nil:
		return *t.ClaimedByAuthor
	case t.ClaimedByAgentID != nil:
		return *t.ClaimedByAgentID
	default:
		return "unknown"
	}
}

func leaseString(t domain.Task) string {
	if t.LeaseUntil == nil {
		return "(no lease)"
	}
	return *t.LeaseUntil
}
