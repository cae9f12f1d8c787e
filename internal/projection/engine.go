package projection

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmchow/hzl-sub002/internal/db"
	"github.com/tmchow/hzl-sub002/internal/domain"
	"github.com/tmchow/hzl-sub002/internal/eventstore"
	"github.com/tmchow/hzl-sub002/internal/upcast"
)

// Projector folds one event into its slice of the cache. Apply runs inside
// the same write transaction as the append, so a projector error rolls the
// whole command back.
type Projector interface {
	Name() string
	Apply(ctx context.Context, tx *sql.Tx, env domain.Envelope) error
}

// Resetter is implemented by projectors that can clear their cache tables
// for a rebuild.
type Resetter interface {
	Reset(ctx context.Context, tx *sql.Tx) error
}

const rebuildBatch = 500

// Engine fans events out to registered projectors and tracks each
// projector's high-water mark durably in projection_state.
type Engine struct {
	DB         *db.DB
	Store      *eventstore.Store
	Upcasters  *upcast.Registry
	projectors []Projector
}

func NewEngine(d *db.DB, store *eventstore.Store, reg *upcast.Registry) *Engine {
	e := &Engine{DB: d, Store: store, Upcasters: reg}
	e.Register(&TasksProjector{})
	e.Register(&DepsProjector{})
	e.Register(&TagsProjector{})
	e.Register(&CommentsProjector{})
	e.Register(&SearchProjector{})
	return e
}

func (e *Engine) Register(p Projector) {
	e.projectors = append(e.projectors, p)
}

// Apply upcasts env once, feeds it to every projector, and advances their
// marks, all inside tx.
func (e *Engine) Apply(ctx context.Context, tx *sql.Tx, env domain.Envelope) error {
	up, err := e.Upcasters.Apply(env)
	if err != nil {
		return err
	}
	for _, p := range e.projectors {
		if err := p.Apply(ctx, tx, up); err != nil {
			return fmt.Errorf("projector %s at sequence %d: %w", p.Name(), env.Sequence, err)
		}
		if err := e.mark(ctx, tx, p.Name(), env.Sequence); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) mark(ctx context.Context, tx *sql.Tx, name string, seq int64) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO cache.projection_state(name, last_applied_sequence, updated_at)
VALUES (?,?,?)
ON CONFLICT(name) DO UPDATE SET last_applied_sequence = excluded.last_applied_sequence, updated_at = excluded.updated_at`,
		name, seq, time.Now().UTC().Format(time.RFC3339))
	return err
}

// Rebuild clears every resettable projector and replays the full log in
// batches, each batch in its own write transaction. Because projectors are
// deterministic, the rebuilt cache matches the incrementally maintained one.
func (e *Engine) Rebuild(ctx context.Context) (int64, error) {
	start := time.Now()
	err := e.DB.WithWriteTx(ctx, func(tx *sql.Tx) error {
		for _, p := range e.projectors {
			r, ok := p.(Resetter)
			if !ok {
				continue
			}
			if err := r.Reset(ctx, tx); err != nil {
				return fmt.Errorf("reset %s: %w", p.Name(), err)
			}
			if err := e.mark(ctx, tx, p.Name(), 0); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	var cursor int64
	var applied int64
	for {
		batch, err := e.Store.ReadSince(ctx, e.DB, cursor, rebuildBatch)
		if err != nil {
			return applied, err
		}
		if len(batch) == 0 {
			break
		}
		err = e.DB.WithWriteTx(ctx, func(tx *sql.Tx) error {
			for _, env := range batch {
				if err := e.Apply(ctx, tx, env); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return applied, err
		}
		applied += int64(len(batch))
		cursor = batch[len(batch)-1].Sequence
	}
	slog.Info("cache rebuilt", "events", applied, "took", time.Since(start).Round(time.Millisecond))
	return applied, nil
}

// CatchUp applies any events past the tasks projector's mark. Used after
// opening a workspace whose cache file was deleted or is stale.
func (e *Engine) CatchUp(ctx context.Context) error {
	var mark int64
	err := e.DB.QueryRowContext(ctx,
		`SELECT COALESCE(MIN(last_applied_sequence),0) FROM cache.projection_state`).Scan(&mark)
	if err != nil {
		return err
	}
	latest, err := e.Store.LatestSequence(ctx)
	if err != nil {
		return err
	}
	if mark >= latest {
		return nil
	}
	if mark == 0 {
		_, err := e.Rebuild(ctx)
		return err
	}
	for {
		batch, err := e.Store.ReadSince(ctx, e.DB, mark, rebuildBatch)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}
		err = e.DB.WithWriteTx(ctx, func(tx *sql.Tx) error {
			for _, env := range batch {
				if err := e.Apply(ctx, tx, env); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			return err
		}
		mark = batch[len(batch)-1].Sequence
	}
}
