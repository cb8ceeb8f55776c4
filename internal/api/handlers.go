package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/sells-group/conduit/internal/generate"
	"github.com/sells-group/conduit/internal/resilience"
)

type healthResponse struct {
	Status         string                  `json:"status"`
	ActiveProvider string                  `json:"active_provider"`
	ActiveModel    string                  `json:"active_model"`
	Genre          *string                 `json:"genre"`
	CircuitState   resilience.CircuitState `json:"circuit_state"`
	HealthScore    int                     `json:"health_score"`
	AvgResponseMs  float64                 `json:"avg_response_ms"`
	Timestamp      time.Time               `json:"timestamp"`
}

func handleHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := healthResponse{
			Status:    "ok",
			Genre:     optionalString(deps.Orchestrator.Session().Genre()),
			Timestamp: time.Now().UTC(),
		}
		if active, err := deps.Registry.Active(); err == nil {
			h := deps.Registry.Breaker().Health(active.Name())
			resp.ActiveProvider = active.Name()
			resp.ActiveModel = active.Model()
			resp.CircuitState = h.State
			resp.HealthScore = h.HealthScore
			resp.AvgResponseMs = h.AvgResponseMs
		} else {
			resp.Status = "no_provider"
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

type askResponse struct {
	*generate.Response
	RequestID string `json:"request_id"`
}

func handleAsk(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req generate.Request
		if !decodeBody(w, r, &req) {
			return
		}
		reqID := RequestIDFrom(r.Context())

		ctx, span := deps.Reporter.StartTransaction(r.Context(), "ask")
		span.SetTag("mode", string(req.Mode))
		defer span.Finish()

		resp, err := deps.Orchestrator.Ask(ctx, req)
		if err != nil {
			if errors.Is(err, generate.ErrUpstreamUnavailable) {
				deps.Reporter.CaptureError(err, map[string]string{
					"request_id": reqID,
					"mode":       string(req.Mode),
				})
			}
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, askResponse{Response: resp, RequestID: reqID})
	}
}

func handleWarmup(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		results, err := deps.Orchestrator.Warmup(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":    "warmed",
			"providers": results,
		})
	}
}

func handleGetGenre(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"genre": optionalString(deps.Orchestrator.Session().Genre()),
		})
	}
}

type genreRequest struct {
	Genre *string `json:"genre"`
}

func handleSetGenre(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req genreRequest
		if !decodeBody(w, r, &req) {
			return
		}
		genre := ""
		if req.Genre != nil {
			genre = strings.TrimSpace(*req.Genre)
		}
		deps.Orchestrator.Session().SetGenre(genre)
		zap.L().Info("genre set", zap.String("component", "api"), zap.String("genre", genre))
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "ok",
			"genre":  optionalString(genre),
		})
	}
}

func handleReset(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Orchestrator.Session().History.Clear()
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}

func handleHistory(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		msgs := deps.Orchestrator.Session().History.Messages()
		writeJSON(w, http.StatusOK, map[string]any{
			"messages": msgs,
			"count":    len(msgs),
		})
	}
}

func handleListPatterns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list := deps.Orchestrator.Session().Patterns.List()
		writeJSON(w, http.StatusOK, map[string]any{
			"patterns": list,
			"count":    len(list),
		})
	}
}

func handleLatestPattern(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, ok := deps.Orchestrator.Session().Patterns.Latest()
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "no patterns saved yet")
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleGetPattern(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(chi.URLParam(r, "id"))
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "pattern id must be an integer")
			return
		}
		p, ok := deps.Orchestrator.Session().Patterns.Get(id)
		if !ok {
			httpError(w, http.StatusNotFound, "not_found", "pattern %d not found", id)
			return
		}
		writeJSON(w, http.StatusOK, p)
	}
}

func handleClearPatterns(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		deps.Orchestrator.Session().Patterns.Clear()
		writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
	}
}

func optionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func handleUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Usage == nil {
			httpError(w, http.StatusNotFound, "not_found", "usage tracking disabled")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"providers": deps.Usage.Snapshot(),
			"total":     deps.Usage.Total(),
		})
	}
}

func handleResetUsage(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Usage == nil {
			httpError(w, http.StatusNotFound, "not_found", "usage tracking disabled")
			return
		}
		deps.Usage.Reset()
		writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
	}
}
