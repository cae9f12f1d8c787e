package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"github.com/tmchow/hzl-sub002/internal/app"
	"github.com/tmchow/hzl-sub002/internal/domain"
	"github.com/tmchow/hzl-sub002/internal/repo"
	"github.com/tmchow/hzl-sub002/internal/service"
)

// Config for the HTTP API handler.
type Config struct {
	App      *app.App
	BasePath string
}

// New returns an HTTP handler exposing the read-only workspace API and the
// JSONL export. Mutations stay on the CLI; the API exists for dashboards
// and hook tooling.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}

	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("hzl API", "0.1.0")
	hcfg.Servers = []*huma.Server{{URL: basePath}}
	api := humachi.New(router, hcfg)

	a := cfg.App
	registerRoutes(api, basePath, a)

	// The export endpoint streams raw JSONL, which does not fit huma's
	// schema-first responses, so it mounts straight on the router.
	router.Get(basePath+"/export", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		if _, err := a.Store.ExportJSONL(r.Context(), w, 0); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	return router, nil
}

type healthOutput struct {
	Body struct {
		Status     string `json:"status" example:"ok"`
		InstanceID string `json:"instance_id"`
		Sequence   int64  `json:"sequence"`
	}
}

type taskOutput struct {
	Body domain.Task
}

type tasksOutput struct {
	Body struct {
		Tasks []domain.Task `json:"tasks"`
	}
}

type eventsOutput struct {
	Body struct {
		Events []domain.Envelope `json:"events"`
	}
}

type projectsOutput struct {
	Body struct {
		Projects []domain.Project `json:"projects"`
	}
}

type auditOutput struct {
	Body service.AuditReport
}

func registerRoutes(api huma.API, basePath string, a *app.App) {
	huma.Register(api, huma.Operation{
		OperationID: "get-health",
		Method:      http.MethodGet,
		Path:        basePath + "/health",
		Summary:     "Workspace health",
	}, func(ctx context.Context, _ *struct{}) (*healthOutput, error) {
		seq, err := a.Store.LatestSequence(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		out := &healthOutput{}
		out.Body.Status = "ok"
		out.Body.InstanceID = a.InstanceID
		out.Body.Sequence = seq
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-tasks",
		Method:      http.MethodGet,
		Path:        basePath + "/tasks",
		Summary:     "List tasks",
	}, func(ctx context.Context, in *struct {
		Status  string `query:"status" enum:"backlog,ready,in_progress,blocked,done,archived" required:"false"`
		Project string `query:"project" required:"false"`
		Tag     string `query:"tag" required:"false"`
		Holder  string `query:"holder" required:"false"`
		Limit   int    `query:"limit" minimum:"0" maximum:"500" required:"false"`
	}) (*tasksOutput, error) {
		tasks, err := a.Repo.ListTasks(ctx, repo.ListFilter{
			Status:  in.Status,
			Project: in.Project,
			Tag:     in.Tag,
			Holder:  in.Holder,
			Limit:   in.Limit,
		})
		if err != nil {
			return nil, mapError(err)
		}
		out := &tasksOutput{}
		out.Body.Tasks = tasks
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task",
		Method:      http.MethodGet,
		Path:        basePath + "/tasks/{id}",
		Summary:     "Get one task",
	}, func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*taskOutput, error) {
		id, err := a.Repo.ResolveTaskID(ctx, in.ID)
		if err != nil {
			return nil, mapError(err)
		}
		t, err := a.Repo.GetTask(ctx, id)
		if err != nil {
			return nil, mapError(err)
		}
		return &taskOutput{Body: t}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-task-events",
		Method:      http.MethodGet,
		Path:        basePath + "/tasks/{id}/events",
		Summary:     "Get one task's event history",
	}, func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*eventsOutput, error) {
		id, err := a.Repo.ResolveTaskID(ctx, in.ID)
		if err != nil {
			return nil, mapError(err)
		}
		events, err := a.Store.ReadByTask(ctx, id)
		if err != nil {
			return nil, mapError(err)
		}
		out := &eventsOutput{}
		out.Body.Events = events
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-available-tasks",
		Method:      http.MethodGet,
		Path:        basePath + "/tasks/available",
		Summary:     "List claimable tasks",
		Description: "Ready tasks whose dependencies all finished successfully, unclaimed or with an expired lease.",
	}, func(ctx context.Context, in *struct {
		Project string   `query:"project" required:"false"`
		Tags    []string `query:"tag" required:"false"`
		Limit   int      `query:"limit" minimum:"0" maximum:"500" required:"false"`
	}) (*tasksOutput, error) {
		tasks, err := a.Service.GetAvailableTasks(ctx, repo.AvailableFilter{
			Project: in.Project,
			Tags:    in.Tags,
			Limit:   in.Limit,
		})
		if err != nil {
			return nil, mapError(err)
		}
		out := &tasksOutput{}
		out.Body.Tasks = tasks
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "search-tasks",
		Method:      http.MethodGet,
		Path:        basePath + "/search",
		Summary:     "Search tasks",
	}, func(ctx context.Context, in *struct {
		Q     string `query:"q" minLength:"1"`
		Limit int    `query:"limit" minimum:"0" maximum:"500" required:"false"`
	}) (*tasksOutput, error) {
		tasks, err := a.Repo.SearchTasks(ctx, in.Q, in.Limit)
		if err != nil {
			return nil, mapError(err)
		}
		out := &tasksOutput{}
		out.Body.Tasks = tasks
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        basePath + "/projects",
		Summary:     "List projects",
	}, func(ctx context.Context, _ *struct{}) (*projectsOutput, error) {
		projects, err := a.Repo.ListProjects(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		out := &projectsOutput{}
		out.Body.Projects = projects
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-log",
		Method:      http.MethodGet,
		Path:        basePath + "/log",
		Summary:     "Read the event log",
	}, func(ctx context.Context, in *struct {
		Since int64 `query:"since" minimum:"0" required:"false"`
		Limit int   `query:"limit" minimum:"0" maximum:"500" required:"false"`
	}) (*eventsOutput, error) {
		events, err := a.Store.ReadSince(ctx, a.DB, in.Since, in.Limit)
		if err != nil {
			return nil, mapError(err)
		}
		out := &eventsOutput{}
		out.Body.Events = events
		return out, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-audit",
		Method:      http.MethodGet,
		Path:        basePath + "/audit",
		Summary:     "Dependency graph integrity report",
	}, func(ctx context.Context, _ *struct{}) (*auditOutput, error) {
		report, err := a.Service.Audit(ctx)
		if err != nil {
			return nil, mapError(err)
		}
		return &auditOutput{Body: report}, nil
	})
}

func mapError(err error) error {
	switch {
	case errors.Is(err, repo.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, repo.ErrAmbiguousID):
		return huma.Error400BadRequest(err.Error())
	default:
		return huma.Error500InternalServerError(fmt.Sprintf("internal error: %v", err))
	}
}
