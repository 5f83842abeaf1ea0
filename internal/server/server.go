package server

import (
	"bytes"
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

	"siteline/internal/domain"
	"siteline/internal/engine"
	"siteline/internal/pipeline"
	"siteline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"missing_contact"`
	Message string         `json:"message" example:"no purchaser email on record"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true" example:"{\"unit_id\":\"u-14\"}"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the required error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Siteline API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the requested envelope.
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
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Siteline API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerDevelopments(group, cfg.Engine)
	registerUnits(group, cfg.Engine)
	registerPipeline(group, cfg.Engine)
	registerKitchen(group, cfg.Engine)
	registerNotes(group, cfg.Engine)
	registerCompliance(group, cfg.Engine)
	registerSnags(group, cfg.Engine)
	registerAttention(group, cfg.Engine)
	registerChase(group, cfg.Engine)
	registerEvents(group, cfg.Engine)
	registerAPIKeys(group, cfg.Engine)
	registerRoles(group, cfg.Engine)
	registerMe(group, cfg.Engine)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg.Engine)

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
	var mc pipeline.MissingContactError
	if errors.As(err, &mc) {
		return newAPIError(http.StatusUnprocessableEntity, "missing_contact", err.Error(), map[string]any{"unit_id": mc.UnitID})
	}
	var fe ForbiddenError
	if errors.As(err, &fe) {
		return newAPIError(http.StatusForbidden, "forbidden", err.Error(), map[string]any{"role": fe.Role})
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "transition"):
		return newAPIError(http.StatusConflict, "invalid_transition", msg, nil)
	case strings.Contains(lowered, "authentication required"):
		return newAPIError(http.StatusUnauthorized, "unauthorized", msg, nil)
	case strings.Contains(lowered, "invalid"),
		strings.Contains(lowered, "unknown"),
		strings.Contains(lowered, "required"),
		strings.Contains(lowered, "missing"),
		strings.Contains(lowered, "not specified"):
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
			ensureDefaultErrorResponses(oas)
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func ensureDefaultErrorResponses(oas *huma.OpenAPI) {
	if oas == nil || oas.Paths == nil {
		return
	}
	for _, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if op.Responses == nil {
				op.Responses = map[string]*huma.Response{}
			}
			op.Responses["default"] = &huma.Response{
				Description: "Error",
				Content: map[string]*huma.MediaType{
					"application/json": {
						Schema: &huma.Schema{Ref: "#/components/schemas/ApiError"},
					},
				},
			}
		}
	}
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
	devLoginPath := path.Join(basePath, "auth/dev/login")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	if !strings.HasPrefix(devLoginPath, "/") {
		devLoginPath = "/" + devLoginPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath || route == devLoginPath {
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
    <title>Siteline API Docs</title>
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

func registerDevelopments(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-development",
		Method:        http.MethodPost,
		Path:          "/developments",
		Summary:       "Create development",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateDevelopmentRequest `json:"body"`
	}) (*struct {
		Body domain.Development `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Name == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "name is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		d, err := e.CreateDevelopment(ctx, tenantID, input.Body.Name, input.Body.Code, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Development `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-developments",
		Method:      http.MethodGet,
		Path:        "/developments",
		Summary:     "List developments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.Development `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListDevelopments(ctx, tenantFrom(ctx, e))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Development{}
		}
		return &struct {
			Body []domain.Development `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-development",
		Method:      http.MethodGet,
		Path:        "/developments/{id}",
		Summary:     "Get development",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Development `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		d, err := e.Repo.GetDevelopment(ctx, tenantFrom(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Development `json:"body"`
		}{Body: d}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "pipeline-board",
		Method:      http.MethodGet,
		Path:        "/developments/{id}/board",
		Summary:     "Pipeline board for a development",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		board, err := e.PipelineBoard(ctx, tenantFrom(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: boardResponse(board)}, nil
	})
}

func registerUnits(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-unit",
		Method:        http.MethodPost,
		Path:          "/units",
		Summary:       "Create unit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateUnitRequest `json:"body"`
	}) (*struct {
		Body domain.Unit `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.DevelopmentID == "" || input.Body.UnitNumber == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "development_id and unit_number are required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		u, err := e.CreateUnit(ctx, engine.UnitCreateOptions{
			TenantID:      tenantID,
			DevelopmentID: input.Body.DevelopmentID,
			UnitNumber:    input.Body.UnitNumber,
			Address:       input.Body.Address,
			HouseType:     input.Body.HouseType,
			Bedrooms:      input.Body.Bedrooms,
			ActorID:       actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Unit `json:"body"`
		}{Body: u}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-units",
		Method:      http.MethodGet,
		Path:        "/units",
		Summary:     "List units",
	}, func(ctx context.Context, input *struct {
		DevelopmentID string `query:"development_id"`
	}) (*struct {
		Body []domain.Unit `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListUnits(ctx, tenantFrom(ctx, e), repo.UnitFilters{DevelopmentID: input.DevelopmentID})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Unit{}
		}
		return &struct {
			Body []domain.Unit `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-unit",
		Method:      http.MethodGet,
		Path:        "/units/{id}",
		Summary:     "Get unit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body domain.Unit `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		u, err := e.Repo.GetUnit(ctx, tenantFrom(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.Unit `json:"body"`
		}{Body: u}, nil
	})
}

func registerPipeline(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "get-pipeline",
		Method:      http.MethodGet,
		Path:        "/units/{id}/pipeline",
		Summary:     "Unit pipeline with derived stage and dwell",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body PipelineResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		ann, err := e.GetPipeline(ctx, tenantFrom(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PipelineResponse `json:"body"`
		}{Body: pipelineResponse(ann)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "set-milestone",
		Method:      http.MethodPatch,
		Path:        "/units/{id}/pipeline/milestones",
		Summary:     "Set or clear a milestone timestamp",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string           `path:"id"`
		Body MilestoneRequest `json:"body"`
	}) (*struct {
		Body PipelineResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Field == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "field is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		_, err := e.RecordMilestone(ctx, engine.MilestoneOptions{
			TenantID: tenantID,
			UnitID:   input.ID,
			Field:    input.Body.Field,
			Value:    input.Body.Value,
			Clear:    input.Body.Clear,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		ann, err := e.GetPipeline(ctx, tenantID, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body PipelineResponse `json:"body"`
		}{Body: pipelineResponse(ann)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-contact",
		Method:      http.MethodPatch,
		Path:        "/units/{id}/pipeline/contact",
		Summary:     "Update purchaser and solicitor details",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body ContactRequest `json:"body"`
	}) (*struct {
		Body domain.PipelineRecord `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		rec, err := e.UpdateContact(ctx, engine.ContactOptions{
			TenantID:       tenantID,
			UnitID:         input.ID,
			PurchaserName:  input.Body.PurchaserName,
			PurchaserEmail: input.Body.PurchaserEmail,
			PurchaserPhone: input.Body.PurchaserPhone,
			SolicitorFirm:  input.Body.SolicitorFirm,
			ActorID:        actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PipelineRecord `json:"body"`
		}{Body: rec}, nil
	})
}

func registerKitchen(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "update-kitchen-selection",
		Method:      http.MethodPatch,
		Path:        "/units/{id}/pipeline/kitchen",
		Summary:     "Update one kitchen selection field",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string         `path:"id"`
		Body KitchenRequest `json:"body"`
	}) (*struct {
		Body domain.PipelineRecord `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Field == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "field is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		rec, err := e.UpdateKitchenSelection(ctx, engine.KitchenOptions{
			TenantID:  tenantID,
			UnitID:    input.ID,
			Field:     input.Body.Field,
			Value:     input.Body.Value,
			BoolValue: input.Body.BoolValue,
			ActorID:   actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PipelineRecord `json:"body"`
		}{Body: rec}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "kitchen-schedule",
		Method:      http.MethodGet,
		Path:        "/developments/{id}/kitchen-schedule",
		Summary:     "Kitchen selection schedule for a development",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body KitchenScheduleResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		schedule, err := e.KitchenSchedule(ctx, tenantFrom(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body KitchenScheduleResponse `json:"body"`
		}{Body: kitchenScheduleResponse(schedule)}, nil
	})
}

func registerNotes(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "add-note",
		Method:        http.MethodPost,
		Path:          "/units/{id}/notes",
		Summary:       "Add note to a unit",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CreateNoteRequest `json:"body"`
	}) (*struct {
		Body domain.PipelineNote `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		n, err := e.AddNote(ctx, engine.NoteOptions{
			TenantID: tenantID,
			UnitID:   input.ID,
			NoteType: input.Body.NoteType,
			Content:  input.Body.Content,
			ActorID:  actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PipelineNote `json:"body"`
		}{Body: n}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-notes",
		Method:      http.MethodGet,
		Path:        "/units/{id}/notes",
		Summary:     "List notes for a unit",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body NotesResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		view, err := e.ListNotes(ctx, tenantFrom(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NotesResponse `json:"body"`
		}{Body: notesResponse(view)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-note",
		Method:      http.MethodPost,
		Path:        "/notes/{id}/resolve",
		Summary:     "Resolve or reopen a note",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string             `path:"id"`
		Body ResolveNoteRequest `json:"body"`
	}) (*struct {
		Body domain.PipelineNote `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		n, err := e.ResolveNote(ctx, tenantID, input.ID, input.Body.Resolved, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.PipelineNote `json:"body"`
		}{Body: n}, nil
	})
}

func registerCompliance(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "set-compliance-document",
		Method:      http.MethodPut,
		Path:        "/units/{id}/compliance/{kind}",
		Summary:     "Set the status of a compliance document",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Kind string            `path:"kind"`
		Body ComplianceRequest `json:"body"`
	}) (*struct {
		Body domain.ComplianceDocument `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		doc, err := e.SetCompliance(ctx, engine.ComplianceOptions{
			TenantID:   tenantID,
			UnitID:     input.ID,
			Kind:       input.Kind,
			Status:     input.Body.Status,
			ExpiryDate: input.Body.ExpiryDate,
			ActorID:    actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ComplianceDocument `json:"body"`
		}{Body: doc}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "compliance-register",
		Method:      http.MethodGet,
		Path:        "/developments/{id}/compliance",
		Summary:     "Compliance register for a development",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct {
		Body ComplianceRegisterResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		register, err := e.Compliance(ctx, tenantFrom(ctx, e), input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body ComplianceRegisterResponse `json:"body"`
		}{Body: complianceRegisterResponse(register)}, nil
	})
}

func registerSnags(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-snag",
		Method:        http.MethodPost,
		Path:          "/units/{id}/snags",
		Summary:       "Raise a snag item",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body CreateSnagRequest `json:"body"`
	}) (*struct {
		Body domain.SnagItem `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		s, err := e.CreateSnag(ctx, engine.SnagOptions{
			TenantID:    tenantID,
			UnitID:      input.ID,
			Description: input.Body.Description,
			Location:    input.Body.Location,
			ActorID:     actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SnagItem `json:"body"`
		}{Body: s}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-snags",
		Method:      http.MethodGet,
		Path:        "/snags",
		Summary:     "List snag items",
	}, func(ctx context.Context, input *struct {
		DevelopmentID string `query:"development_id"`
		UnitID        string `query:"unit_id"`
		Status        string `query:"status" enum:",open,in_progress,resolved,closed"`
	}) (*struct {
		Body []domain.SnagItem `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListSnags(ctx, tenantFrom(ctx, e), repo.SnagFilters{
			DevelopmentID: input.DevelopmentID,
			UnitID:        input.UnitID,
			Status:        input.Status,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.SnagItem{}
		}
		return &struct {
			Body []domain.SnagItem `json:"body"`
		}{Body: items}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-snag-status",
		Method:      http.MethodPatch,
		Path:        "/snags/{id}/status",
		Summary:     "Update snag status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string            `path:"id"`
		Body SnagStatusRequest `json:"body"`
	}) (*struct {
		Body domain.SnagItem `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		s, err := e.UpdateSnagStatus(ctx, tenantID, input.ID, input.Body.Status, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.SnagItem `json:"body"`
		}{Body: s}, nil
	})
}

func registerAttention(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "attention",
		Method:      http.MethodGet,
		Path:        "/attention",
		Summary:     "Needs-attention list across all developments",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body []domain.AttentionItem `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Attention(ctx, tenantFrom(ctx, e))
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.AttentionItem{}
		}
		return &struct {
			Body []domain.AttentionItem `json:"body"`
		}{Body: items}, nil
	})
}

func registerChase(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "generate-chase",
		Method:      http.MethodPost,
		Path:        "/units/{id}/chase",
		Summary:     "Generate a chase message for a pending stage",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		ID   string       `path:"id"`
		Body ChaseRequest `json:"body"`
	}) (*struct {
		Body domain.ChaseMessage `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Stage == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "stage is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "developer", "admin"); err != nil {
			return nil, handleError(err)
		}
		msg, err := e.Chase(ctx, tenantID, input.ID, input.Body.Stage, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body domain.ChaseMessage `json:"body"`
		}{Body: msg}, nil
	})
}

func registerEvents(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/events",
		Summary:     "List recent events",
	}, func(ctx context.Context, input *struct {
		Limit int `query:"limit" default:"50"`
	}) (*struct {
		Body []domain.Event `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		items, err := e.Repo.ListEvents(ctx, tenantFrom(ctx, e), input.Limit)
		if err != nil {
			return nil, handleError(err)
		}
		if items == nil {
			items = []domain.Event{}
		}
		return &struct {
			Body []domain.Event `json:"body"`
		}{Body: items}, nil
	})
}

func registerAPIKeys(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-api-key",
		Method:        http.MethodPost,
		Path:          "/api-keys",
		Summary:       "Create API key",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateAPIKeyRequest `json:"body"`
	}) (*struct {
		Body APIKeyResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ActorID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, tenantFrom(ctx, e), "admin"); err != nil {
			return nil, handleError(err)
		}
		key, plain, err := e.CreateAPIKey(ctx, input.Body.ActorID, input.Body.Name)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body APIKeyResponse `json:"body"`
		}{Body: apiKeyResponse(key, plain)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-api-keys",
		Method:      http.MethodGet,
		Path:        "/api-keys",
		Summary:     "List API keys",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		ActorID string `query:"actor_id"`
	}) (*struct {
		Body []APIKeyResponse `json:"body"`
	}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, tenantFrom(ctx, e), "admin"); err != nil {
			return nil, handleError(err)
		}
		keys, err := e.Repo.ListAPIKeys(ctx, input.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		res := []APIKeyResponse{}
		for _, k := range keys {
			res = append(res, apiKeyResponse(k, ""))
		}
		return &struct {
			Body []APIKeyResponse `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "delete-api-key",
		Method:      http.MethodDelete,
		Path:        "/api-keys/{id}",
		Summary:     "Delete API key",
		Errors: []int{
			http.StatusForbidden,
			http.StatusNotFound,
		},
	}, func(ctx context.Context, input *struct {
		ID string `path:"id"`
	}) (*struct{}, error) {
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		if err := requireRole(ctx, e, tenantFrom(ctx, e), "admin"); err != nil {
			return nil, handleError(err)
		}
		if err := e.Repo.DeleteAPIKey(ctx, input.ID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerRoles(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "assign-role",
		Method:      http.MethodPost,
		Path:        "/roles/assign",
		Summary:     "Assign role to an actor",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body RoleChangeRequest `json:"body"`
	}) (*struct{}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tenantID := tenantFrom(ctx, e)
		if err := requireRole(ctx, e, tenantID, "admin"); err != nil {
			return nil, handleError(err)
		}
		if err := e.AssignRole(ctx, tenantID, input.Body.ActorID, input.Body.Role, actorID); err != nil {
			return nil, handleError(err)
		}
		return &struct{}{}, nil
	})
}

func registerMe(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors: []int{
			http.StatusUnauthorized,
		},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		principal, ok := principalFromContext(ctx)
		if !ok || principal.ActorID == "" {
			return nil, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
		}
		roles := principal.Roles
		if len(roles) == 0 && e.Config != nil {
			if granted, err := e.Repo.ActorRoles(ctx, tenantFrom(ctx, e), principal.ActorID); err == nil {
				roles = granted
			}
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{
			ActorID: principal.ActorID,
			Roles:   nonNilSlice(roles),
			Source:  principal.Source,
		}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := signDevToken(authCfg.JWTSecret, actor, input.Body.Roles)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func bodyBytes(ctx context.Context) []byte {
	if buf, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return buf
	}
	req, ok := ctx.Value(requestKey{}).(*http.Request)
	if !ok || req == nil {
		return nil
	}
	data, _ := io.ReadAll(req.Body)
	return data
}

// tenantFrom resolves the acting tenant: X-Tenant-Id header when present,
// otherwise the configured default.
func tenantFrom(ctx context.Context, e engine.Engine) string {
	if req, ok := ctx.Value(requestKey{}).(*http.Request); ok && req != nil {
		if v := strings.TrimSpace(req.Header.Get("X-Tenant-Id")); v != "" {
			return v
		}
	}
	if e.Config != nil {
		return e.Config.Tenant.ID
	}
	return ""
}
