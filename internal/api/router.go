package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/stationnotify/internal/metrics"
	"github.com/lalithlochan/stationnotify/internal/redis"
)

// NewRouter wires every route. limiter may be nil.
func NewRouter(h *Handler, limiter *redis.RateLimiter, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(RateLimitMiddleware(limiter, logger, IPKeyFunc))

		r.Route("/sms", func(r chi.Router) {
			r.Post("/", h.SendSMS)
			r.Get("/validate", h.ValidatePhone)
			r.Get("/analytics", h.GetAnalytics)
			r.Delete("/scheduled/{id}", h.CancelScheduled)

			r.Post("/bulk", h.SubmitBulk)
			r.Get("/bulk", h.ListBulkJobs)
			r.Get("/bulk/{id}", h.GetBulkJob)
			r.Delete("/bulk/{id}", h.CancelBulkJob)

			r.Get("/retry", h.ListRetryQueue)
			r.Post("/retry/sweep", h.SweepRetryQueue)
		})

		r.Route("/alerts", func(r chi.Router) {
			r.Post("/scan", h.RunAlertScan)
			r.Post("/licenses/{id}/trigger", h.TriggerLicenseAlert)
		})
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}
