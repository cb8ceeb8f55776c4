package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/sells-group/conduit/internal/generate"
	"github.com/sells-group/conduit/internal/provider"
)

// statusFor maps domain errors to HTTP status codes and error types.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, generate.ErrInvalidRequest):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, provider.ErrUnknownKind), errors.Is(err, provider.ErrMissingBaseURL):
		return http.StatusBadRequest, "invalid_request_error"
	case errors.Is(err, provider.ErrUnknownProvider):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, provider.ErrDuplicateProvider):
		return http.StatusConflict, "conflict"
	case errors.Is(err, provider.ErrNoActiveProvider):
		return http.StatusServiceUnavailable, "no_provider"
	case errors.Is(err, generate.ErrUpstreamUnavailable):
		return http.StatusBadGateway, "upstream_unavailable"
	default:
		return http.StatusInternalServerError, "api_error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	code, errType := statusFor(err)
	if code >= http.StatusInternalServerError {
		zap.L().Error("request failed", zap.String("component", "api"), zap.Int("status", code), zap.Error(err))
	}
	httpError(w, code, errType, "%s", err.Error())
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("encode response", zap.String("component", "api"), zap.Error(err))
	}
}

// decodeBody reads a JSON body capped at maxRequestBodySize.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close() //nolint:errcheck

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}
