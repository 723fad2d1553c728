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
	"time"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"osrsbingo/internal/domain"
	"osrsbingo/internal/engine"
	"osrsbingo/internal/repo"
	"osrsbingo/internal/requirement"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
	Log      *zap.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"invalid_state"`
	Message string         `json:"message" example:"grant cannot activate: already consumed"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the bingo API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v1"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	log := cfg.Log
	if log == nil {
		log = zap.NewNop()
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.Recoverer)
	router.Use(accessLog(log))
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("OSRS Bingo API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = ""
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	h := handlers{e: cfg.Engine, log: log}
	registerDocs(router, basePath)
	registerHealth(group)
	h.registerEvents(group)
	h.registerTiles(group)
	h.registerGrants(group)
	h.registerBoards(group)
	h.registerAudit(group)
	registerMe(group)
	registerDevAuth(group, cfg.Auth)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

type handlers struct {
	e   engine.Engine
	log *zap.Logger
}

func accessLog(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)
			log.Debug("request",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("elapsed", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
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
	var se huma.StatusError
	if errors.As(err, &se) {
		return se
	}
	var (
		ve  engine.ValidationError
		nf  engine.NotFoundError
		ise engine.InvalidStateError
		pf  engine.ProcessingFailedError
	)
	switch {
	case errors.As(err, &ve):
		return newAPIError(http.StatusBadRequest, "validation_failed", ve.Reason, nil)
	case errors.As(err, &nf):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), map[string]any{"entity": nf.Entity, "id": nf.ID})
	case errors.Is(err, repo.ErrNotFound):
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	case errors.As(err, &ise):
		return newAPIError(http.StatusConflict, "invalid_state", err.Error(), map[string]any{"grant_id": ise.GrantID, "state": string(ise.State)})
	case errors.As(err, &pf):
		return newAPIError(http.StatusServiceUnavailable, "processing_failed", "not applied, safe to retry", map[string]any{"attempts": pf.Attempts})
	case errors.Is(err, engine.ErrConflict):
		return newAPIError(http.StatusConflict, "conflict", err.Error(), nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": err.Error()})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusUnauthorized:
		return "unauthorized"
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
	security := []map[string][]string{{"bearerAuth": {}}}
	oas.Security = security
	open := map[string]bool{
		path.Join("/", basePath, "health"):         true,
		path.Join("/", basePath, "auth/dev/login"): true,
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if open[route] {
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
    <title>OSRS Bingo API Docs</title>
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
      Authenticate with Authorization: Bearer &lt;token&gt;.
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

func (h handlers) registerEvents(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "submit-event",
		Method:      http.MethodPost,
		Path:        "/events",
		Summary:     "Submit a gameplay event",
		Description: "Folds the event into every matching tile on the team's board, or only into board_tile_id when set. Redeliveries are reported as duplicates.",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		Body GameEventRequest `json:"body"`
	}) (*struct {
		Body ProcessEventResponse `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleIngest)
		if authErr != nil {
			return nil, authErr
		}
		if !p.Admin() && p.TeamID != "" && p.TeamID != input.Body.TeamID {
			return nil, forbidTeam(input.Body.TeamID)
		}
		payload, err := json.Marshal(input.Body.Payload)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid payload", nil)
		}
		res, err := h.e.ProcessEvent(ctx, domain.GameEvent{
			Kind:        requirement.Kind(input.Body.Kind),
			Timestamp:   input.Body.Timestamp,
			AccountID:   input.Body.OsrsAccountID,
			TeamID:      input.Body.TeamID,
			DedupKey:    input.Body.DedupKey,
			BoardTileID: input.Body.BoardTileID,
			Payload:     payload,
		})
		if err != nil {
			return nil, handleError(err)
		}
		if !p.Admin() {
			if res.Tiles, err = h.visibleOutcomes(ctx, res.Tiles); err != nil {
				return nil, handleError(err)
			}
		}
		return &struct {
			Body ProcessEventResponse `json:"body"`
		}{Body: ProcessEventResponse{DedupKey: res.DedupKey, Duplicate: res.Duplicate(), Tiles: nonNilSlice(res.Tiles)}}, nil
	})
}

// visibleOutcomes drops outcomes on tiles with an unsolved puzzle so an event
// does not reveal what a hidden requirement accepts.
func (h handlers) visibleOutcomes(ctx context.Context, outs []engine.TileOutcome) ([]engine.TileOutcome, error) {
	puzzles := map[string]bool{}
	kept := outs[:0]
	for _, out := range outs {
		if out.IsCompleted {
			kept = append(kept, out)
			continue
		}
		puzzle, ok := puzzles[out.TileID]
		if !ok {
			tile, err := h.e.Repo.GetTile(ctx, out.TileID)
			if err != nil {
				return nil, err
			}
			puzzle = hasPuzzle(tile.Requirements)
			puzzles[out.TileID] = puzzle
		}
		if !puzzle {
			kept = append(kept, out)
		}
	}
	return kept, nil
}

func (h handlers) registerTiles(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "complete-board-tile",
		Method:      http.MethodPost,
		Path:        "/board-tiles/{board_tile_id}/complete",
		Summary:     "Complete a board tile as an administrator",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		BoardTileID string `path:"board_tile_id"`
	}) (*struct {
		Body engine.TileOutcome `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		out, err := h.e.ForceCompleteTile(ctx, input.BoardTileID, p.ActorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.TileOutcome `json:"body"`
		}{Body: out}, nil
	})
}

func (h handlers) registerGrants(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "activate-grant",
		Method:      http.MethodPost,
		Path:        "/grants/{grant_id}/activate",
		Summary:     "Activate a manual effect grant",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusUnauthorized,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusServiceUnavailable,
		},
	}, func(ctx context.Context, input *struct {
		GrantID string               `path:"grant_id"`
		Body    ActivateGrantRequest `json:"body"`
	}) (*struct {
		Body engine.ActivationResult `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RolePlayer)
		if authErr != nil {
			return nil, authErr
		}
		acting := input.Body.ActingTeamID
		if acting == "" {
			acting = p.TeamID
		}
		if acting == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "acting_team_id is required", nil)
		}
		if !p.CanActFor(acting) {
			return nil, forbidTeam(acting)
		}
		res, err := h.e.ActivateGrant(ctx, engine.ActivateRequest{
			GrantID:        input.GrantID,
			ActingTeamID:   acting,
			TargetTeamID:   input.Body.TargetTeamID,
			TargetPosition: input.Body.TargetPosition,
			ActorID:        p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.ActivationResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "grant-effect",
		Method:        http.MethodPost,
		Path:          "/teams/{team_id}/grants",
		Summary:       "Grant an effect to a team",
		DefaultStatus: http.StatusCreated,
		Errors:        []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamID string            `path:"team_id"`
		Body   AdminGrantRequest `json:"body"`
	}) (*struct {
		Body engine.GrantResult `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.e.GrantEffect(ctx, engine.GrantRequest{
			TeamID:   input.TeamID,
			EffectID: input.Body.EffectID,
			Ref:      input.Body.Ref,
			ActorID:  p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.GrantResult `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-grant",
		Method:      http.MethodGet,
		Path:        "/grants/{grant_id}",
		Summary:     "Get one effect grant",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		GrantID string `path:"grant_id"`
	}) (*struct {
		Body engine.GrantView `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		g, err := h.e.Grant(ctx, input.GrantID)
		if err != nil {
			return nil, handleError(err)
		}
		if !p.CanActFor(g.TeamID) {
			return nil, forbidTeam(g.TeamID)
		}
		return &struct {
			Body engine.GrantView `json:"body"`
		}{Body: g}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-team-grants",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/grants",
		Summary:     "List a team's effect grants",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamID string `path:"team_id"`
	}) (*struct {
		Body []engine.GrantView `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if !p.CanActFor(input.TeamID) {
			return nil, forbidTeam(input.TeamID)
		}
		grants, err := h.e.TeamGrants(ctx, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []engine.GrantView `json:"body"`
		}{Body: nonNilSlice(grants)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "resolve-incoming",
		Method:      http.MethodPost,
		Path:        "/effects/incoming",
		Summary:     "Resolve an offensive effect against a team's defenses",
		Errors:      []int{http.StatusBadRequest, http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound, http.StatusServiceUnavailable},
	}, func(ctx context.Context, input *struct {
		Body IncomingRequest `json:"body"`
	}) (*struct {
		Body engine.Resolution `json:"body"`
	}, error) {
		p, authErr := requireRole(ctx, RoleAdmin)
		if authErr != nil {
			return nil, authErr
		}
		res, err := h.e.ResolveIncoming(ctx, engine.IncomingRequest{
			EffectID:       input.Body.EffectID,
			SourceTeamID:   input.Body.SourceTeamID,
			TargetTeamID:   input.Body.TargetTeamID,
			TargetPosition: input.Body.TargetPosition,
			ActorID:        p.ActorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body engine.Resolution `json:"body"`
		}{Body: res}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "sweep-grants",
		Method:      http.MethodPost,
		Path:        "/grants/sweep",
		Summary:     "Expire idle grants past their expiry",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden, http.StatusServiceUnavailable},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body SweepResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleAdmin); authErr != nil {
			return nil, authErr
		}
		n, err := h.e.SweepExpired(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SweepResponse `json:"body"`
		}{Body: SweepResponse{Expired: n}}, nil
	})
}

func (h handlers) registerBoards(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "team-board",
		Method:      http.MethodGet,
		Path:        "/teams/{team_id}/board",
		Summary:     "A team's board with progress",
		Description: "Administrators receive the stored requirement form, including hidden puzzle requirements.",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		TeamID string `path:"team_id"`
	}) (*struct {
		Body BoardResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		view, err := h.e.Board(ctx, input.TeamID)
		if err != nil {
			return nil, handleError(err)
		}
		resp, err := boardResponse(view, p.Admin())
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body BoardResponse `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "leaderboard",
		Method:      http.MethodGet,
		Path:        "/competitions/{competition_id}/leaderboard",
		Summary:     "Team standings",
		Errors:      []int{http.StatusUnauthorized, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		CompetitionID string `path:"competition_id"`
	}) (*struct {
		Body []domain.LeaderboardEntry `json:"body"`
	}, error) {
		if _, authErr := principalFromRequest(ctx); authErr != nil {
			return nil, authErr
		}
		entries, err := h.e.Leaderboard(ctx, input.CompetitionID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body []domain.LeaderboardEntry `json:"body"`
		}{Body: nonNilSlice(entries)}, nil
	})
}

func (h handlers) registerAudit(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "list-events",
		Method:      http.MethodGet,
		Path:        "/competitions/{competition_id}/events",
		Summary:     "List recent audit events",
		Errors:      []int{http.StatusUnauthorized, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		CompetitionID string `path:"competition_id"`
		Type          string `query:"type"`
		EntityKind    string `query:"entity_kind" enum:"competition,team,board_tile,grant"`
		EntityID      string `query:"entity_id"`
		Limit         int    `query:"limit" default:"50"`
	}) (*struct {
		Body []EventResponse `json:"body"`
	}, error) {
		if _, authErr := requireRole(ctx, RoleAdmin); authErr != nil {
			return nil, authErr
		}
		items, err := h.e.Repo.LatestEvents(ctx, normalizeLimit(input.Limit), input.CompetitionID, input.Type, input.EntityKind, input.EntityID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]EventResponse, 0, len(items))
		for _, evt := range items {
			out = append(out, eventResponse(evt))
		}
		return &struct {
			Body []EventResponse `json:"body"`
		}{Body: out}, nil
	})
}

func registerMe(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "me",
		Method:      http.MethodGet,
		Path:        "/me",
		Summary:     "Current principal",
		Errors:      []int{http.StatusUnauthorized},
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body WhoAmIResponse `json:"body"`
	}, error) {
		p, authErr := principalFromRequest(ctx)
		if authErr != nil {
			return nil, authErr
		}
		return &struct {
			Body WhoAmIResponse `json:"body"`
		}{Body: WhoAmIResponse{ActorID: p.ActorID, Roles: nonNilSlice(p.Roles), TeamID: p.TeamID}}, nil
	})
}

func registerDevAuth(api huma.API, authCfg AuthConfig) {
	if !authCfg.AllowDevLogin {
		return
	}
	huma.Register(api, huma.Operation{
		OperationID: "dev-login",
		Method:      http.MethodPost,
		Path:        "/auth/dev/login",
		Summary:     "DEV ONLY: mint a JWT for local testing",
		Errors:      []int{http.StatusBadRequest, http.StatusInternalServerError},
	}, func(ctx context.Context, input *struct {
		Body DevLoginRequest `json:"body"`
	}) (*struct {
		Body DevLoginResponse `json:"body"`
	}, error) {
		actor := strings.TrimSpace(input.Body.ActorID)
		if actor == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "actor_id is required", nil)
		}
		token, err := SignToken(authCfg.JWTSecret, actor, input.Body.Roles, input.Body.TeamID, 12*time.Hour)
		if err != nil {
			return nil, newAPIError(http.StatusInternalServerError, "internal_error", err.Error(), nil)
		}
		return &struct {
			Body DevLoginResponse `json:"body"`
		}{Body: DevLoginResponse{Token: token}}, nil
	})
}

func normalizeLimit(in int) int {
	if in <= 0 {
		return 50
	}
	if in > 200 {
		return 200
	}
	return in
}
