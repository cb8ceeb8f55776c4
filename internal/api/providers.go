package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sells-group/conduit/internal/provider"
)

func handleListProviders(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		active := ""
		if a, err := deps.Registry.Active(); err == nil {
			active = a.Name()
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"active":    active,
			"providers": deps.Registry.ListAvailable(r.Context()),
		})
	}
}

type switchRequest struct {
	Provider string `json:"provider"`
	Model    string `json:"model,omitempty"`
}

func handleSwitchProvider(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req switchRequest
		if !decodeBody(w, r, &req) {
			return
		}
		if strings.TrimSpace(req.Provider) == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "provider is required")
			return
		}
		a, err := deps.Registry.Switch(req.Provider)
		if err != nil {
			writeError(w, err)
			return
		}
		if req.Model != "" {
			a.SetModel(req.Model)
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "switched",
			"provider": a.Name(),
			"model":    a.Model(),
		})
	}
}

type addRequest struct {
	Name    string `json:"name"`
	Type    string `json:"type"`
	Model   string `json:"model"`
	BaseURL string `json:"base_url,omitempty"`
	APIKey  string `json:"api_key,omitempty"`
}

func handleAddProvider(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addRequest
		if !decodeBody(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "name is required")
			return
		}
		kind, err := provider.ParseKind(req.Type)
		if err != nil {
			writeError(w, err)
			return
		}
		if _, exists := deps.Registry.Get(req.Name); exists {
			httpError(w, http.StatusConflict, "conflict", "provider %q already registered", req.Name)
			return
		}
		a, err := provider.New(kind, provider.Options{
			Name:    req.Name,
			Model:   req.Model,
			BaseURL: req.BaseURL,
			APIKey:  req.APIKey,
			Timeout: deps.ProviderTimeout,
		})
		if err != nil {
			writeError(w, err)
			return
		}
		if err := deps.Registry.Register(a, false); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{
			"status":   "added",
			"provider": a.Name(),
			"type":     a.Kind().String(),
			"model":    a.Model(),
		})
	}
}

func handleProviderHealth(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"health": deps.Registry.Breaker().AllHealth(),
		})
	}
}

func handleResetCircuit(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "name")
		if err := deps.Registry.ResetCircuit(name); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status":   "reset",
			"provider": name,
			"health":   deps.Registry.Breaker().Health(name),
		})
	}
}

// handleOllamaModels lists models from the first registered Ollama provider.
func handleOllamaModels(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		for _, name := range deps.Registry.Names() {
			a, ok := deps.Registry.Get(name)
			if !ok || a.Kind() != provider.KindOllama {
				continue
			}
			lister, ok := a.(provider.ModelLister)
			if !ok {
				continue
			}
			models, err := lister.ListModels(r.Context())
			if err != nil {
				httpError(w, http.StatusBadGateway, "upstream_unavailable", "list models from %s: %v", name, err)
				return
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"provider": name,
				"models":   models,
			})
			return
		}
		httpError(w, http.StatusNotFound, "not_found", "no ollama provider registered")
	}
}
