package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"prodline/internal/domain"
	"prodline/internal/engine"
	"prodline/internal/repo"
	"prodline/internal/schedule"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"no_substation"`
	Message string         `json:"message" example:"No substation for node weld"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError is the error envelope every endpoint returns.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Prodline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Prodline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerPlans(group, cfg.Engine)
	registerNodes(group, cfg.Engine)
	registerLaunch(group, cfg.Engine)
	registerQueue(group, cfg.Engine)
	registerWorkers(group, cfg.Engine)
	registerStations(group, cfg.Engine)
	registerMaterials(group, cfg.Engine)
	registerCalendar(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerMetrics(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	var cerr *schedule.CycleError
	if errors.As(err, &cerr) {
		return newAPIError(http.StatusUnprocessableEntity, "dependency_cycle", err.Error(), map[string]any{"nodes": cerr.Nodes})
	}
	var serr *schedule.NoSubstationError
	if errors.As(err, &serr) {
		return newAPIError(http.StatusUnprocessableEntity, "no_substation", err.Error(), map[string]any{"node": serr.NodeName})
	}
	var werr *schedule.NoWorkerError
	if errors.As(err, &werr) {
		details := map[string]any{"node": werr.NodeName}
		if len(werr.MissingSkills) > 0 {
			details["missing_skills"] = werr.MissingSkills
		}
		return newAPIError(http.StatusUnprocessableEntity, "no_worker", err.Error(), details)
	}
	if errors.Is(err, schedule.ErrScheduleExhausted) {
		return newAPIError(http.StatusUnprocessableEntity, "schedule_exhausted", err.Error(), nil)
	}
	var ierr *engine.InvalidStatusError
	if errors.As(err, &ierr) {
		return newAPIError(http.StatusConflict, "invalid_status", err.Error(), map[string]any{"status": ierr.Status})
	}
	var aerr *engine.InvalidAssignmentError
	if errors.As(err, &aerr) {
		return newAPIError(http.StatusConflict, "invalid_status", err.Error(), map[string]any{"status": aerr.Status})
	}
	var rerr *engine.NotReadyError
	if errors.As(err, &rerr) {
		return newAPIError(http.StatusConflict, "not_ready", err.Error(), map[string]any{"reason": rerr.Reason})
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "not found"):
		return newAPIError(http.StatusNotFound, "not_found", msg, nil)
	case strings.Contains(lowered, "database is locked") || strings.Contains(lowered, "busy"):
		return newAPIError(http.StatusConflict, "launch_in_progress", "another launch is in progress", nil)
	case strings.Contains(lowered, "transition") || strings.Contains(lowered, "head of") ||
		strings.Contains(lowered, "can only"):
		return newAPIError(http.StatusConflict, "conflict", msg, nil)
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") ||
		strings.Contains(lowered, "required") || strings.Contains(lowered, "must") ||
		strings.Contains(lowered, "no nodes") || strings.Contains(lowered, "cannot") ||
		strings.Contains(lowered, "different plan"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Prodline API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
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

func registerPlans(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-plan",
		Method:        http.MethodPost,
		Path:          "/plans",
		Summary:       "Create plan",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusConflict, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body CreatePlanRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		p, err := e.CreatePlan(ctx, engine.PlanCreateOptions{
			ID:         input.Body.ID,
			Name:       input.Body.Name,
			Quantity:   input.Body.Quantity,
			DefectRate: input.Body.DefectRate,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plans",
		Method:      http.MethodGet,
		Path:        "/plans",
		Summary:     "List plans",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []PlanResponse `json:"body"`
	}, error) {
		items, err := e.Repo.ListPlans(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []PlanResponse `json:"body"`
		}{Body: mapPlans(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-plan",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}",
		Summary:     "Get plan",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		p, err := e.Repo.GetPlan(ctx, nil, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-plan-status",
		Method:      http.MethodPatch,
		Path:        "/plans/{plan_id}/status",
		Summary:     "Update plan status",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		PlanID string               `path:"plan_id"`
		Body   SetPlanStatusRequest `json:"body"`
	}) (*struct {
		Body PlanResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		p, err := e.SetPlanStatus(ctx, input.PlanID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PlanResponse `json:"body"`
		}{Body: planResponse(p)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-plan-assignments",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}/assignments",
		Summary:     "List plan assignments",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*struct {
		Body []AssignmentResponse `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPlan(ctx, nil, input.PlanID); err != nil {
			return nil, handleError(err)
		}
		items, err := e.Repo.ListPlanAssignments(ctx, nil, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []AssignmentResponse `json:"body"`
		}{Body: mapAssignments(items)}, nil
	})
}

func registerNodes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-node",
		Method:        http.MethodPost,
		Path:          "/plans/{plan_id}/nodes",
		Summary:       "Add node to plan",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		PlanID string            `path:"plan_id"`
		Body   CreateNodeRequest `json:"body"`
	}) (*struct {
		Body domain.Node `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.AddNode(ctx, engine.NodeCreateOptions{
			ID:          input.Body.ID,
			PlanID:      input.PlanID,
			Name:        input.Body.Name,
			OperationID: input.Body.OperationID,
			NominalTime: input.Body.NominalTime,
			Efficiency:  input.Body.Efficiency,
			OutputCode:  input.Body.OutputCode,
			OutputQty:   input.Body.OutputQty,
			OutputUnit:  input.Body.OutputUnit,
			Materials:   input.Body.Materials,
			Stations:    input.Body.Stations,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Node `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-nodes",
		Method:      http.MethodGet,
		Path:        "/plans/{plan_id}/nodes",
		Summary:     "List plan nodes",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*struct {
		Body []domain.Node `json:"body"`
	}, error) {
		if _, err := e.Repo.GetPlan(ctx, nil, input.PlanID); err != nil {
			return nil, handleError(err)
		}
		nodes, err := e.Repo.ListNodes(ctx, nil, input.PlanID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Node `json:"body"`
		}{Body: nodes}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-edge",
		Method:        http.MethodPost,
		Path:          "/plans/{plan_id}/edges",
		Summary:       "Add dependency edge",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		PlanID string            `path:"plan_id"`
		Body   CreateEdgeRequest `json:"body"`
	}) (*struct {
		Body domain.Edge `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if input.Body.NodeID == "" || input.Body.PredecessorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "node_id and predecessor_id are required", nil)
		}
		if err := e.AddEdge(ctx, input.Body.NodeID, input.Body.PredecessorID, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Edge `json:"body"`
		}{Body: domain.Edge{NodeID: input.Body.NodeID, PredecessorID: input.Body.PredecessorID}}, nil
	})
}

func registerLaunch(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "launch-plan",
		Method:      http.MethodPost,
		Path:        "/plans/{plan_id}/launch",
		Summary:     "Launch plan",
		Description: "Schedules every node onto a worker and substation and activates the plan atomically.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		PlanID string `path:"plan_id"`
	}) (*struct {
		Body domain.LaunchResult `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		res, err := e.Launch(ctx, input.PlanID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.LaunchResult `json:"body"`
		}{Body: res}, nil
	})
}

func registerQueue(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "worker-queue",
		Method:      http.MethodGet,
		Path:        "/workers/{worker_id}/queue",
		Summary:     "Worker task queue",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkerID string `path:"worker_id"`
	}) (*struct {
		Body []QueueItemResponse `json:"body"`
	}, error) {
		items, err := e.TaskQueue(ctx, input.WorkerID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []QueueItemResponse `json:"body"`
		}{Body: queueResponse(items)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "start-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/start",
		Summary:     "Start assignment",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.StartAssignment(ctx, input.AssignmentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "complete-assignment",
		Method:      http.MethodPost,
		Path:        "/assignments/{assignment_id}/complete",
		Summary:     "Complete assignment",
		Errors:      []int{http.StatusNotFound, http.StatusConflict},
	}, func(ctx context.Context, input *struct {
		AssignmentID string `path:"assignment_id"`
	}) (*struct {
		Body AssignmentResponse `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		a, err := e.CompleteAssignment(ctx, input.AssignmentID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body AssignmentResponse `json:"body"`
		}{Body: assignmentResponse(a)}, nil
	})
}

func registerWorkers(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-workers",
		Method:      http.MethodGet,
		Path:        "/workers",
		Summary:     "List workers",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Worker `json:"body"`
	}, error) {
		items, err := e.Repo.ListWorkers(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Worker `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-worker",
		Method:      http.MethodPut,
		Path:        "/workers/{worker_id}",
		Summary:     "Create or update worker",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		WorkerID string              `path:"worker_id"`
		Body     UpsertWorkerRequest `json:"body"`
	}) (*struct {
		Body domain.Worker `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		w := domain.Worker{
			ID:             input.WorkerID,
			Name:           input.Body.Name,
			Status:         input.Body.Status,
			SkillIDs:       input.Body.SkillIDs,
			ScheduleMode:   input.Body.ScheduleMode,
			ShiftLane:      input.Body.ShiftLane,
			PersonalBlocks: input.Body.PersonalBlocks,
		}
		if w.Status == "" {
			w.Status = domain.WorkerAvailable
		}
		if w.ScheduleMode == "" {
			w.ScheduleMode = domain.ScheduleCompany
		}
		if err := e.Repo.UpsertWorker(ctx, w); err != nil {
			return nil, handleError(err)
		}
		stored, err := e.Repo.GetWorker(ctx, nil, w.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Worker `json:"body"`
		}{Body: stored}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-absence",
		Method:        http.MethodPost,
		Path:          "/workers/{worker_id}/absences",
		Summary:       "Record worker absence",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		WorkerID string         `path:"worker_id"`
		Body     AbsenceRequest `json:"body"`
	}) (*struct {
		Body domain.Absence `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if _, err := e.Repo.GetWorker(ctx, nil, input.WorkerID); err != nil {
			return nil, handleError(err)
		}
		if input.Body.To.Before(input.Body.From) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "absence ends before it starts", nil)
		}
		a := domain.Absence{
			WorkerID: input.WorkerID,
			From:     input.Body.From,
			To:       input.Body.To,
			Reason:   input.Body.Reason,
		}
		if err := e.Repo.AddAbsence(ctx, a); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Absence `json:"body"`
		}{Body: a}, nil
	})
}

func registerStations(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-stations",
		Method:      http.MethodGet,
		Path:        "/stations",
		Summary:     "List stations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Station `json:"body"`
	}, error) {
		items, err := e.Repo.ListStations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Station `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-station",
		Method:      http.MethodPut,
		Path:        "/stations/{station_id}",
		Summary:     "Create or update station",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		StationID string               `path:"station_id"`
		Body      UpsertStationRequest `json:"body"`
	}) (*struct {
		Body domain.Station `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		s := domain.Station{ID: input.StationID, Name: input.Body.Name, SkillIDs: input.Body.SkillIDs}
		if err := e.Repo.UpsertStation(ctx, s); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Station `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-substations",
		Method:      http.MethodGet,
		Path:        "/substations",
		Summary:     "List substations",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Substation `json:"body"`
	}, error) {
		items, err := e.Repo.ListSubstations(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Substation `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-substation",
		Method:      http.MethodPut,
		Path:        "/substations/{substation_id}",
		Summary:     "Create or update substation",
		Errors:      []int{http.StatusBadRequest, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SubstationID string                  `path:"substation_id"`
		Body         UpsertSubstationRequest `json:"body"`
	}) (*struct {
		Body domain.Substation `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.StationID == "" || input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "station_id and name are required", nil)
		}
		if _, err := e.Repo.GetStation(ctx, nil, input.Body.StationID); err != nil {
			return nil, handleError(err)
		}
		active := true
		if input.Body.IsActive != nil {
			active = *input.Body.IsActive
		}
		s := domain.Substation{
			ID:        input.SubstationID,
			StationID: input.Body.StationID,
			Name:      input.Body.Name,
			IsActive:  active,
			Status:    domain.SubstationAvailable,
		}
		if err := e.Repo.UpsertSubstation(ctx, s); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Substation `json:"body"`
		}{Body: s}, nil
	})
}

func registerMaterials(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-materials",
		Method:      http.MethodGet,
		Path:        "/materials",
		Summary:     "List materials",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Material `json:"body"`
	}, error) {
		items, err := e.Repo.ListMaterials(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Material `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "upsert-material",
		Method:      http.MethodPut,
		Path:        "/materials/{code}",
		Summary:     "Create or update material stock",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Code string                `path:"code"`
		Body UpsertMaterialRequest `json:"body"`
	}) (*struct {
		Body domain.Material `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		m := domain.Material{Code: input.Code, Name: input.Body.Name, Unit: input.Body.Unit, Stock: input.Body.Stock}
		if err := e.Repo.UpsertMaterial(ctx, m); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Material `json:"body"`
		}{Body: m}, nil
	})
}

func registerCalendar(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "import-calendar",
		Method:      http.MethodPut,
		Path:        "/calendar",
		Summary:     "Import default calendar",
		Description: "Accepts any of the legacy calendar shapes and normalizes it at ingestion.",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		RawBody []byte
	}) (*struct {
		Body map[string]any `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ImportCalendar(ctx, input.RawBody, actorID); err != nil {
			return nil, newAPIError(http.StatusBadRequest, "invalid_calendar", err.Error(), nil)
		}
		week, err := e.DefaultCalendar(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]any `json:"body"`
		}{Body: map[string]any{"status": "imported", "lanes": week.Lanes()}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-holiday",
		Method:        http.MethodPost,
		Path:          "/holidays",
		Summary:       "Add holiday",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Body HolidayRequest `json:"body"`
	}) (*struct {
		Body domain.Holiday `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if input.Body.To.Before(input.Body.From) {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "holiday ends before it starts", nil)
		}
		if len(input.Body.Blocks) > 0 {
			if _, err := schedule.NormalizeBlocks(input.Body.Blocks); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
		}
		h := domain.Holiday{
			ID:           input.Body.ID,
			From:         input.Body.From,
			To:           input.Body.To,
			Name:         input.Body.Name,
			IsWorkingDay: input.Body.IsWorkingDay,
			Blocks:       input.Body.Blocks,
		}
		if h.ID == "" {
			h.ID = uuid.New().String()
		}
		if err := e.Repo.InsertHoliday(ctx, h); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Holiday `json:"body"`
		}{Body: h}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-holidays",
		Method:      http.MethodGet,
		Path:        "/holidays",
		Summary:     "List holidays",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Holiday `json:"body"`
	}, error) {
		items, err := e.Repo.ListHolidays(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Holiday `json:"body"`
		}{Body: items}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List events",
	}, func(ctx context.Context, input *struct {
		PlanID string `query:"plan_id"`
		Limit  int    `query:"limit" default:"100"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		items, err := e.Repo.ListEvents(ctx, input.PlanID, input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerMetrics(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "metrics",
		Method:      http.MethodGet,
		Path:        "/metrics",
		Summary:     "Scheduling counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: e.MetricsSnapshot()}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "reset-metrics",
		Method:      http.MethodPost,
		Path:        "/metrics/reset",
		Summary:     "Reset scheduling counters",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]int64 `json:"body"`
	}, error) {
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if err := e.ResetMetrics(ctx, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body map[string]int64 `json:"body"`
		}{Body: e.MetricsSnapshot()}, nil
	})
}
