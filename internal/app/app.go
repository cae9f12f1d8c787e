package app

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/tmchow/hzl-sub002/internal/config"
	"github.com/tmchow/hzl-sub002/internal/db"
	"github.com/tmchow/hzl-sub002/internal/eventstore"
	"github.com/tmchow/hzl-sub002/internal/migrate"
	"github.com/tmchow/hzl-sub002/internal/projection"
	"github.com/tmchow/hzl-sub002/internal/repo"
	"github.com/tmchow/hzl-sub002/internal/service"
	"github.com/tmchow/hzl-sub002/internal/upcast"
)

// App wires the stores, the projection engine and the command service for
// one workspace. Opening an App migrates both stores and catches the cache
// up to the log, so a deleted cache file heals on the next run.
type App struct {
	Config     *config.Config
	DB         *db.DB
	Store      *eventstore.Store
	Engine     *projection.Engine
	Repo       *repo.Repo
	Service    *service.Service
	InstanceID string
}

// Open bootstraps a workspace.
func Open(ctx context.Context, workspace string) (*App, error) {
	cfg, err := config.Load(workspace)
	if err != nil {
		return nil, err
	}
	d, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	a, err := build(ctx, cfg, d)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	return a, nil
}

func build(ctx context.Context, cfg *config.Config, d *db.DB) (*App, error) {
	if err := migrate.Run(ctx, d.DB); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	store := &eventstore.Store{DB: d.DB}
	eng := projection.NewEngine(d, store, upcast.NewRegistry())
	r := repo.New(d.DB)
	svc := service.New(d, store, eng, r)
	svc.LeaseMinutes = cfg.Defaults.LeaseMinutes

	a := &App{Config: cfg, DB: d, Store: store, Engine: eng, Repo: r, Service: svc}
	err := d.WithWriteTx(ctx, func(tx *sql.Tx) error {
		id, err := store.EnsureInstance(ctx, tx)
		if err != nil {
			return err
		}
		a.InstanceID = id
		return nil
	})
	if err != nil {
		return nil, err
	}
	// Catch up before seeding: a wiped cache must be replayed first or the
	// inbox seed would re-append an event that is already in the log.
	if err := eng.CatchUp(ctx); err != nil {
		return nil, fmt.Errorf("catch up cache: %w", err)
	}
	if err := svc.EnsureDefaultProject(ctx); err != nil {
		return nil, err
	}
	return a, nil
}

// Close releases the shared connection.
func (a *App) Close() error {
	return a.DB.Close()
}
