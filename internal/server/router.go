package server

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/cloo-solutions/docvec/internal/api"
	"github.com/cloo-solutions/docvec/internal/api/handlers"
	"github.com/cloo-solutions/docvec/internal/api/middleware"
)

// MaxBodyBytes caps request bodies. Documents may be posted inline as base64.
const MaxBodyBytes int64 = 10 * 1024 * 1024

type RouterConfig struct {
	DocumentHandler *handlers.DocumentHandler
	SearchHandler   *handlers.SearchHandler
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.SentryMiddleware)
	r.Use(middleware.AccessLog("/health"))
	r.Use(middleware.MaxBodyBytes(MaxBodyBytes))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		api.Success(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/documents", func(r chi.Router) {
		r.Post("/", cfg.DocumentHandler.Create)
		r.Get("/", cfg.DocumentHandler.List)
		r.Get("/{id}", cfg.DocumentHandler.Get)
		r.Get("/{id}/chunks", cfg.DocumentHandler.ListChunks)
		r.Post("/{id}/reprocess", cfg.DocumentHandler.Reprocess)
		r.Delete("/{id}", cfg.DocumentHandler.Delete)
	})

	r.Post("/search", cfg.SearchHandler.Search)

	return r
}
