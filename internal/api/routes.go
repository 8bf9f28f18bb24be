package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// SetupRoutes configures the API router.
func SetupRoutes(h *Handlers) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"http://localhost:5173", "http://localhost:8080"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Get("/health", h.HealthCheck)

	r.Route("/api", func(r chi.Router) {
		r.Route("/campaigns/{campaignID}", func(r chi.Router) {
			r.Get("/", h.GetCampaign)
			r.Post("/start", h.StartCampaign)
			r.Post("/pause", h.PauseCampaign)
			r.Post("/resume", h.ResumeCampaign)
		})

		if h.webhooks != nil {
			r.Route("/teams/{teamID}/webhooks", func(r chi.Router) {
				r.Get("/", h.ListWebhooks)
				r.Post("/", h.CreateWebhook)
				r.Delete("/{webhookID}", h.DeleteWebhook)
				r.Get("/{webhookID}/deliveries", h.ListWebhookDeliveries)
			})
		}
	})

	return r
}
