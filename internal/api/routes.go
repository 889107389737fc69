package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Deps are the services the router dispatches to. Tracking and Health may be
// nil, which leaves their routes unmounted.
type Deps struct {
	Keys         KeyResolver
	Messages     MessageService
	Events       EventService
	Suppressions SuppressionService
	Webhooks     WebhookService
	Analytics    AnalyticsService
	Tracking     http.Handler
	Health       *HealthChecker
}

// NewRouter configures all routes.
func NewRouter(d Deps, allowedOrigins []string) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(instrument)

	if len(allowedOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: allowedOrigins,
			AllowedMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
			MaxAge:         300,
		}))
	}

	if d.Health != nil {
		r.Get("/health", d.Health.HandleHealth)
		r.Get("/health/live", d.Health.HandleLiveness)
		r.Get("/health/ready", d.Health.HandleReadiness)
	}
	r.Handle("/metrics", promhttp.Handler())

	if d.Tracking != nil {
		r.Mount("/t", d.Tracking)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireAPIKey(d.Keys))
		r.Use(middleware.Timeout(30 * time.Second))

		mh := &messageHandlers{svc: d.Messages}
		r.Route("/messages", func(r chi.Router) {
			r.Post("/", mh.create)
			r.Get("/", mh.list)
			r.Get("/{id}", mh.get)
			r.Get("/{id}/events", mh.timeline)
			r.Post("/{id}/cancel", mh.cancel)
		})

		eh := &eventHandlers{svc: d.Events}
		r.Post("/events", eh.ingest)

		sh := &suppressionHandlers{svc: d.Suppressions}
		r.Route("/suppressions", func(r chi.Router) {
			r.Post("/", sh.add)
			r.Get("/", sh.list)
			r.Post("/bulk", sh.bulkAdd)
			r.Post("/bulk-delete", sh.bulkRemove)
			r.Get("/stats", sh.stats)
			r.Post("/check", sh.check)
			r.Get("/{email}", sh.get)
			r.Delete("/{email}", sh.remove)
		})

		wh := &webhookHandlers{svc: d.Webhooks}
		r.Route("/webhooks", func(r chi.Router) {
			r.Post("/", wh.create)
			r.Get("/", wh.list)
			r.Get("/{id}", wh.get)
			r.Patch("/{id}", wh.update)
			r.Delete("/{id}", wh.remove)
			r.Post("/{id}/rotate-secret", wh.rotate)
			r.Post("/{id}/test", wh.test)
			r.Get("/{id}/deliveries", wh.deliveries)
		})

		ah := &analyticsHandlers{svc: d.Analytics}
		r.Route("/analytics", func(r chi.Router) {
			r.Get("/overview", ah.overview)
			r.Get("/timeseries", ah.timeSeries)
			r.Get("/bounces", ah.bounces)
			r.Get("/categories", ah.categories)
			r.Get("/links", ah.links)
			r.Get("/geo", ah.geo)
			r.Get("/devices", ah.devices)
		})
	})

	return r
}
