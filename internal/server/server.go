// Package server exposes a read-only local HTTP view of the registry. It
// never writes; every mutation goes through the command front-end.
package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"regline/internal/domain"
	"regline/internal/export"
	"regline/internal/registry"
	"regline/internal/repo"
)

// Config for the HTTP handler.
type Config struct {
	Registry *registry.Registry
	BasePath string
}

type apiErrorBody struct {
	Code    string `json:"code" example:"not_found"`
	Message string `json:"message" example:"project not found"`
}

type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

func newAPIError(status int, code, message string) huma.StatusError {
	if code == "" {
		code = strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
	return &apiError{status: status, Body: apiErrorBody{Code: code, Message: message}}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error())
	}
	var ve registry.ValidationError
	if errors.As(err, &ve) {
		return newAPIError(http.StatusBadRequest, "bad_request", err.Error())
	}
	return newAPIError(http.StatusInternalServerError, "internal_error", err.Error())
}

// New returns an HTTP handler exposing the read-only registry API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg)
	}
	router := chi.NewRouter()
	hcfg := huma.DefaultConfig("Regline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerProjects(group, cfg.Registry)
	registerGraph(group, cfg.Registry)
	registerExport(group, cfg.Registry)
	registerStats(group, cfg.Registry)

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

// ProjectDetail is the show payload: the project with its attachments.
type ProjectDetail struct {
	domain.Project
	Deliverables []domain.Deliverable `json:"deliverables"`
	Dependencies []domain.Dependency  `json:"dependencies"`
	Updates      []domain.Update      `json:"updates"`
}

func registerProjects(api huma.API, reg *registry.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "list-projects",
		Method:      http.MethodGet,
		Path:        "/projects",
		Summary:     "List projects",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status   string `query:"status"`
		Priority string `query:"priority"`
		Category string `query:"category"`
	}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		if input.Status != "" && !domain.ValidStatus(input.Status) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status "+input.Status)
		}
		if input.Priority != "" && !domain.ValidPriority(input.Priority) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown priority "+input.Priority)
		}
		projects, err := reg.Repo.ListProjects(ctx, repo.ProjectFilters{
			Status:   input.Status,
			Priority: input.Priority,
			Category: input.Category,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: projects}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-project",
		Method:      http.MethodGet,
		Path:        "/projects/{id}",
		Summary:     "Show one project with deliverables, dependencies and audit trail",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ProjectDetail `json:"body"`
	}, error) {
		p, err := reg.Repo.GetProject(ctx, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		deliverables, err := reg.Repo.ListDeliverables(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		deps, err := reg.Repo.ListDependencies(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		updates, err := reg.Repo.ListUpdates(ctx, p.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ProjectDetail `json:"body"`
		}{Body: ProjectDetail{
			Project:      p,
			Deliverables: deliverables,
			Dependencies: deps,
			Updates:      updates,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "backlog",
		Method:      http.MethodGet,
		Path:        "/backlog",
		Summary:     "Unfinished projects in working order",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Project `json:"body"`
	}, error) {
		projects, err := reg.Backlog(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Project `json:"body"`
		}{Body: projects}, nil
	})
}

// GraphResponse is the dependency graph: every edge plus a topological
// ordering with dependencies first.
type GraphResponse struct {
	Edges []domain.Dependency `json:"edges"`
	Order []string            `json:"order"`
}

func registerGraph(api huma.API, reg *registry.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "dependency-graph",
		Method:      http.MethodGet,
		Path:        "/graph",
		Summary:     "Dependency graph",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body GraphResponse `json:"body"`
	}, error) {
		edges, err := reg.Repo.ListAllDependencies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		order, err := reg.TopoOrder(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body GraphResponse `json:"body"`
		}{Body: GraphResponse{Edges: edges, Order: order}}, nil
	})
}

func registerExport(api huma.API, reg *registry.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "export",
		Method:      http.MethodGet,
		Path:        "/export",
		Summary:     "Full registry snapshot",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Status string `query:"status"`
	}) (*struct {
		Body export.Snapshot `json:"body"`
	}, error) {
		if input.Status != "" && !domain.ValidStatus(input.Status) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "unknown status "+input.Status)
		}
		snap, err := export.Load(ctx, reg.Repo, input.Status, reg.NowString())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body export.Snapshot `json:"body"`
		}{Body: *snap}, nil
	})
}

func registerStats(api huma.API, reg *registry.Registry) {
	huma.Register(api, huma.Operation{
		OperationID: "stats",
		Method:      http.MethodGet,
		Path:        "/stats",
		Summary:     "Aggregate counts and effort variance",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body registry.Stats `json:"body"`
	}, error) {
		stats, err := reg.ComputeStats(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body registry.Stats `json:"body"`
		}{Body: stats}, nil
	})
}
