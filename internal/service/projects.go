package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/tmchow/hzl-sub002/internal/domain"
	"github.com/tmchow/hzl-sub002/internal/eventstore"
	"github.com/tmchow/hzl-sub002/internal/repo"
)

// CreateProject records a new project. Creating one that already exists is
// an error.
func (s *Service) CreateProject(ctx context.Context, name, description string, prov domain.Provenance) (domain.Project, error) {
	if name == "" {
		return domain.Project{}, fmt.Errorf("project name is required")
	}
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		_, err := s.Repo.GetProjectTx(ctx, tx, name)
		if err == nil {
			return nil, fmt.Errorf("project %s already exists", name)
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		return []eventstore.AppendInput{{
			Type: domain.EventProjectCreated,
			Data: domain.ProjectCreatedData{Name: name, Description: description},
			Prov: prov,
		}}, nil
	})
	if err != nil {
		return domain.Project{}, err
	}
	return s.Repo.GetProject(ctx, name)
}

// DeleteProject removes an empty, unprotected project. The inbox can never
// be deleted.
func (s *Service) DeleteProject(ctx context.Context, name string, prov domain.Provenance) error {
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		p, err := s.Repo.GetProjectTx(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		if p.IsProtected || p.Name == domain.DefaultProject {
			return nil, fmt.Errorf("%w: %s", ErrProtected, name)
		}
		n, err := s.Repo.ProjectTaskCount(ctx, tx, name)
		if err != nil {
			return nil, err
		}
		if n > 0 {
			return nil, fmt.Errorf("%w: %s has %d tasks", ErrProjectNotEmpty, name, n)
		}
		return []eventstore.AppendInput{{
			Type: domain.EventProjectDeleted,
			Data: domain.ProjectDeletedData{Name: name},
			Prov: prov,
		}}, nil
	})
	return err
}

// EnsureDefaultProject records the protected inbox project if the workspace
// does not have it yet. Called once at bootstrap.
func (s *Service) EnsureDefaultProject(ctx context.Context) error {
	_, err := s.command(ctx, func(tx *sql.Tx) ([]eventstore.AppendInput, error) {
		_, err := s.Repo.GetProjectTx(ctx, tx, domain.DefaultProject)
		if err == nil {
			return nil, nil
		}
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		return []eventstore.AppendInput{{
			Type: domain.EventProjectCreated,
			Data: domain.ProjectCreatedData{
				Name:        domain.DefaultProject,
				Description: "Default project",
				IsProtected: true,
			},
		}}, nil
	})
	return err
}
