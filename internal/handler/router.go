package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	custommiddleware "github.com/Policy-Guru-za/chipin/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	if h.cfg.TrustProxy {
		r.Use(chimiddleware.RealIP)
	}
	r.Use(custommiddleware.Logger(h.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(custommiddleware.GzipMiddleware)

	r.Get("/healthz", h.Healthz)
	r.Get("/readyz", h.Readyz)

	r.Route("/api", func(r chi.Router) {
		r.Route("/webhooks", func(r chi.Router) {
			for _, p := range h.cfg.Providers {
				route := r.With()
				if h.cfg.Limiter != nil {
					route = r.With(custommiddleware.RateLimit(
						h.cfg.Limiter, "webhook:"+string(p), h.cfg.HourLimit, h.cfg.MinuteBurstLimit, h.logger,
					))
				}
				route.Post("/"+string(p), h.Webhook(p))
			}
		})

		r.With(h.auth.Middleware).Post("/internal/reconcile", h.Reconcile)
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not_found"})
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Error: "method_not_allowed"})
	})

	return r
}
