package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(accessLog(h.logger))
	r.Use(middleware.Recoverer)

	r.Get("/health", h.HealthCheck)

	r.Post("/add", h.AddLink)
	r.Post("/search", h.Search)

	r.Route("/tasks", func(r chi.Router) {
		r.Get("/{id}", h.GetTask)
		r.Delete("/{id}", h.CancelTask)
	})

	r.Get("/files/{cid}", h.GetFile)

	return r
}
