// Package httpapi exposes the model lifecycle over HTTP: catalog listing,
// download jobs with polling, load/unload, removal, and an OpenAI-style
// completion surface.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"locallm/pkg/types"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// Service defines the lifecycle operations the HTTP layer exposes.
type Service interface {
	List() ([]types.ModelSummary, error)
	Download(name string) (types.DownloadResponse, error)
	Progress(name string) (types.ProgressResponse, error)
	CancelDownload(name string) error
	Load(ctx context.Context, name string) error
	Unload(ctx context.Context, name string) error
	Remove(ctx context.Context, name string) error
	Loaded() []types.LoadedModel
	OpenAIModels() (types.OpenAIModelsResponse, error)
	Complete(ctx context.Context, req types.CompletionRequest) (types.CompletionResponse, error)
	ChatComplete(ctx context.Context, req types.ChatCompletionRequest) (types.ChatCompletionResponse, error)
}

// NewMux builds the router.
func NewMux(svc Service, log zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
	}))
	r.Use(MetricsMiddleware)
	r.Use(RequestLogger(log))
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})

	r.Get("/models", func(w http.ResponseWriter, r *http.Request) {
		models, err := svc.List()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.ModelsResponse{Models: models})
	})

	r.Post("/models/download", func(w http.ResponseWriter, r *http.Request) {
		var req types.DownloadRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := svc.Download(req.Model)
		if err != nil {
			writeError(w, err)
			return
		}
		status := http.StatusOK
		switch resp.Status {
		case types.DownloadStarted:
			status = http.StatusAccepted
		case types.DownloadInProgress:
			status = http.StatusConflict
		}
		writeJSON(w, status, resp)
	})

	r.Get("/models/download/{name}/progress", func(w http.ResponseWriter, r *http.Request) {
		resp, err := svc.Progress(chi.URLParam(r, "name"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Delete("/models/download/{name}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.CancelDownload(chi.URLParam(r, "name")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.MessageResponse{Message: "download cancelled"})
	})

	r.Post("/models/load", func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.Load(r.Context(), req.Model); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.MessageResponse{Message: "model loaded"})
	})

	r.Post("/models/unload", func(w http.ResponseWriter, r *http.Request) {
		var req types.LoadRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if err := svc.Unload(r.Context(), req.Model); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.MessageResponse{Message: "model unloaded"})
	})

	r.Delete("/models/{name}", func(w http.ResponseWriter, r *http.Request) {
		if err := svc.Remove(r.Context(), chi.URLParam(r, "name")); err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, types.MessageResponse{Message: "model removed"})
	})

	r.Get("/v1/models", func(w http.ResponseWriter, r *http.Request) {
		resp, err := svc.OpenAIModels()
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/v1/completions", func(w http.ResponseWriter, r *http.Request) {
		var req types.CompletionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := svc.Complete(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Post("/v1/chat/completions", func(w http.ResponseWriter, r *http.Request) {
		var req types.ChatCompletionRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		resp, err := svc.ChatComplete(r.Context(), req)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, types.HealthResponse{Status: "ok", LoadedModels: len(svc.Loaded())})
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if _, err := svc.List(); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("catalog unavailable"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ready"))
	})

	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// decodeJSON enforces content type and body size, writing the error response
// itself on failure.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "invalid_request", "Content-Type must be application/json")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return false
	}
	return true
}
