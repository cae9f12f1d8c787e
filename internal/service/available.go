package service

import (
	"context"

	"github.com/tmchow/hzl-sub002/internal/domain"
	"github.com/tmchow/hzl-sub002/internal/repo"
)

// GetAvailableTasks returns ready tasks with every dependency finished
// successfully and no live claim, highest priority first. Lease expiry is
// evaluated against the service clock so an expired holder does not keep
// work off the queue.
func (s *Service) GetAvailableTasks(ctx context.Context, f repo.AvailableFilter) ([]domain.Task, error) {
	return s.Repo.AvailableTasks(ctx, s.nowRFC3339(), f)
}

// Next returns the single best claimable task, or ErrNotFound via the
// repository when nothing is available.
func (s *Service) Next(ctx context.Context, f repo.AvailableFilter) (domain.Task, bool, error) {
	f.Limit = 1
	tasks, err := s.GetAvailableTasks(ctx, f)
	if err != nil || len(tasks) == 0 {
		return domain.Task{}, false, err
	}
	return tasks[0], true, nil
}
