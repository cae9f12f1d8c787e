package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/tmchow/hzl-sub002/internal/db"
	"github.com/tmchow/hzl-sub002/internal/domain"
	"github.com/tmchow/hzl-sub002/internal/eventstore"
	"github.com/tmchow/hzl-sub002/internal/projection"
	"github.com/tmchow/hzl-sub002/internal/repo"
)

var (
	// ErrConflict means another holder owns the task and its lease has not
	// expired.
	ErrConflict = errors.New("task is claimed")
	// ErrLeaseActive means a steal with if_expired mode found a live lease.
	ErrLeaseActive = errors.New("lease has not expired")
	// ErrCycle means a dependency edge would make the graph cyclic.
	ErrCycle = errors.New("dependency cycle")
	// ErrInvalidTransition means the requested status move is not in the
	// transition table.
	ErrInvalidTransition = errors.New("invalid status transition")
	// ErrProtected means the operation targets a protected project.
	ErrProtected = errors.New("project is protected")
	// ErrProjectNotEmpty means a delete targeted a project that still has
	// tasks.
	ErrProjectNotEmpty = errors.New("project is not empty")
)

// DefaultLeaseMinutes is the built-in lease duration for services
// constructed without config.
const DefaultLeaseMinutes = 60

// Service is the command side: every mutation validates against current
// state, appends events, and projects them, all in one write transaction.
type Service struct {
	DB           *db.DB
	Store        *eventstore.Store
	Engine       *projection.Engine
	Repo         *repo.Repo
	LeaseMinutes int
	Now          func() time.Time
}

func New(d *db.DB, store *eventstore.Store, eng *projection.Engine, r *repo.Repo) *Service {
	return &Service{DB: d, Store: store, Engine: eng, Repo: r, LeaseMinutes: DefaultLeaseMinutes}
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) nowRFC3339() string {
	return s.now().UTC().Format(time.RFC3339)
}

// command runs decide inside one write transaction and appends and projects
// whatever events it returns. decide sees state as of the transaction
// snapshot, under the write lock, so check-then-append races cannot happen.
func (s *Service) command(ctx context.Context, decide func(tx *sql.Tx) ([]eventstore.AppendInput, error)) ([]domain.Envelope, error) {
	var out []domain.Envelope
	err := s.DB.WithWriteTx(ctx, func(tx *sql.Tx) error {
		out = out[:0]
		inputs, err := decide(tx)
		if err != nil {
			return err
		}
		for _, in := range inputs {
			env, err := s.Store.Append(ctx, tx, in)
			if err != nil {
				return err
			}
			if err := s.Engine.Apply(ctx, tx, env); err != nil {
				return err
			}
			out = append(out, env)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// leaseExpired reports whether the task's lease has passed. A missing lease
// on a claimed task never expires on its own.
func (s *Service) leaseExpired(t domain.Task) bool {
	if t.LeaseUntil == nil {
		return false
	}
	until, err := time.Parse(time.RFC3339, *t.LeaseUntil)
	if err != nil {
		return false
	}
	return !s.now().UTC().Before(until)
}

// leaseFor computes the lease expiry for a claim or steal. Zero caller
// minutes fall back to the configured default; when that is also unset the
// claim carries no lease, so it neither expires nor frees up on its own.
func (s *Service) leaseFor(minutes int) string {
	if minutes <= 0 {
		minutes = s.LeaseMinutes
	}
	if minutes <= 0 {
		return ""
	}
	return s.now().UTC().Add(time.Duration(minutes) * time.Minute).Format(time.RFC3339)
}

func first(envs []domain.Envelope, err error) (domain.Envelope, error) {
	if err != nil {
		return domain.Envelope{}, err
	}
	if len(envs) == 0 {
		return domain.Envelope{}, fmt.Errorf("no event recorded")
	}
	return envs[0], nil
}
