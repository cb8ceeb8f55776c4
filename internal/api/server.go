// Package api exposes the orchestrator and provider registry over a small
// JSON HTTP API.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sells-group/conduit/internal/config"
	"github.com/sells-group/conduit/internal/cost"
	"github.com/sells-group/conduit/internal/generate"
	"github.com/sells-group/conduit/internal/monitoring"
	"github.com/sells-group/conduit/internal/provider"
)

const maxRequestBodySize = 1 << 20 // 1MB

// RequestIDHeader carries the per-request id on responses.
const RequestIDHeader = "X-Request-ID"

// Deps are the collaborators the handlers share.
type Deps struct {
	Orchestrator *generate.Orchestrator
	Registry     *provider.Registry
	// Reporter is optional; a nil Reporter drops events.
	Reporter *monitoring.Reporter
	// Usage is optional; without it /usage answers 404.
	Usage  *cost.Tracker
	Server config.ServerConfig
	// ProviderTimeout bounds chat calls of providers added at runtime.
	ProviderTimeout time.Duration
}

// NewHandler builds the router with CORS, request ids, request logging and
// rate limiting in front of every route.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	origins := deps.Server.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", RequestIDHeader},
		ExposedHeaders: []string{RequestIDHeader},
		MaxAge:         300,
	}))
	r.Use(requestID)
	r.Use(requestLogger)
	r.Use(rateLimit(deps.Server.RateLimit, deps.Server.RateBurst))

	r.Get("/health", handleHealth(deps))
	r.Post("/ask", handleAsk(deps))
	r.Post("/warmup", handleWarmup(deps))

	r.Route("/providers", func(r chi.Router) {
		r.Get("/", handleListProviders(deps))
		r.Post("/switch", handleSwitchProvider(deps))
		r.Post("/add", handleAddProvider(deps))
		r.Get("/health", handleProviderHealth(deps))
		r.Post("/reset-circuit/{name}", handleResetCircuit(deps))
		r.Get("/ollama/models", handleOllamaModels(deps))
	})

	r.Get("/genre", handleGetGenre(deps))
	r.Post("/genre", handleSetGenre(deps))
	r.Post("/reset", handleReset(deps))
	r.Get("/history", handleHistory(deps))
	r.Get("/usage", handleUsage(deps))
	r.Delete("/usage", handleResetUsage(deps))

	r.Route("/patterns", func(r chi.Router) {
		r.Get("/", handleListPatterns(deps))
		r.Delete("/", handleClearPatterns(deps))
		r.Get("/latest", handleLatestPattern(deps))
		r.Get("/{id}", handleGetPattern(deps))
	})

	return r
}

type ctxKey int

const requestIDKey ctxKey = iota

// RequestIDFrom returns the request id set by the middleware, or "".
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// requestID keeps a client-supplied X-Request-ID or assigns a new uuid.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), requestIDKey, id)))
	})
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		zap.L().Info("http request",
			zap.String("component", "api"),
			zap.String("request_id", RequestIDFrom(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

// rateLimit answers 429 once the server-wide token bucket is empty. A
// non-positive limit disables it.
func rateLimit(perSec float64, burst int) func(http.Handler) http.Handler {
	if perSec <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(perSec), burst)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !limiter.Allow() {
				w.Header().Set("Retry-After", "1")
				httpError(w, http.StatusTooManyRequests, "rate_limited", "too many requests")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
