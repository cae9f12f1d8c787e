package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tmchow/hzl-sub002/internal/domain"
	"github.com/tmchow/hzl-sub002/internal/eventstore"
)

// AddDependency makes taskID depend on dependsOnID. Self-edges and edges
// that would close a cycle are rejected; adding an existing edge is a
// no-op. The reachability check runs under the write lock against the same
// snapshot the event appends into, so no interleaved add can sneak a cycle
// in.
func (s *Service) AddDependency(ctx context.Context, taskID, dependsOnID string, prov domain.Provenance) error {
	if taskID == dependsOnID {
		return fmt.Errorf("%w: task cannot depend on itself", ErrCycle)
	}
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		if _, err := s.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
			return nil, err
		}
		if _, err := s.Repo.GetTaskTx(ctx, tx, dependsOnID); err != nil {
			return nil, fmt.Errorf("dependency %s: %w", dependsOnID, err)
		}
		edges, err := s.Repo.DepEdgesTx(ctx, tx)
		if err != nil {
			return nil, err
		}
		for _, to := range edges[taskID] {
			if to == dependsOnID {
				return nil, nil
			}
		}
		// The new edge taskID -> dependsOnID closes a cycle exactly when
		// taskID is already reachable from dependsOnID.
		if reachable(edges, dependsOnID, taskID) {
			return nil, fmt.Errorf("%w: %s already depends on %s", ErrCycle, dependsOnID, taskID)
		}
		return []eventstore.AppendInput{{
			TaskID: taskID,
			Type:   domain.EventDepAdded,
			Data:   domain.DependencyData{DependsOnID: dependsOnID},
			Prov:   prov,
		}}, nil
	})
	return err
}

// RemoveDependency drops the edge if present; removing an absent edge is a
// no-op and records nothing.
func (s *Service) RemoveDependency(ctx context.Context, taskID, dependsOnID string, prov domain.Provenance) error {
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		if _, err := s.Repo.GetTaskTx(ctx, tx, taskID); err != nil {
			return nil, err
		}
		edges, err := s.Repo.DepEdgesTx(ctx, tx)
		if err != nil {
			return nil, err
		}
		for _, to := range edges[taskID] {
			if to == dependsOnID {
				return []eventstore.AppendInput{{
					TaskID: taskID,
					Type:   domain.EventDepRemoved,
					Data:   domain.DependencyData{DependsOnID: dependsOnID},
					Prov:   prov,
				}}, nil
			}
		}
		return nil, nil
	})
	return err
}

// reachable walks the dependency graph depth-first from start looking for
// target.
func reachable(edges map[string][]string, start, target string) bool {
	seen := map[string]bool{}
	stack := []string{start}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == target {
			return true
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		stack = append(stack, edges[n]...)
	}
	return false
}
