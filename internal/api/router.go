package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/lalithlochan/herdwatch/internal/metrics"
	"github.com/lalithlochan/herdwatch/internal/redis"
)

// RouterConfig holds the HTTP surface settings.
type RouterConfig struct {
	RequestTimeout time.Duration
	RateLimit      RateLimit
}

// NewRouter builds the HTTP routes. limiter may be nil.
func NewRouter(h *Handler, limiter *redis.RateLimiter, cfg RouterConfig, logger *zap.Logger) http.Handler {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(RequestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(OwnerMiddleware)
		r.Use(RateLimitMiddleware(limiter, logger, OwnerKeyFunc, cfg.RateLimit))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(cfg.RequestTimeout))

			r.Get("/notifications", h.ListNotifications)
			r.Get("/notifications/stats", h.NotificationStats)
			r.Post("/notifications/read-all", h.MarkAllRead)
			r.Post("/notifications/cleanup", h.CleanupNotifications)
			r.Get("/notifications/{id}", h.GetNotification)
			r.Post("/notifications/{id}/read", h.MarkRead)
			r.Delete("/notifications/{id}", h.DeleteNotification)

			r.Get("/digests/current", h.CurrentDigest)
			r.Get("/digests/{year}/{week}", h.GetDigest)

			r.Get("/preferences", h.GetPreferences)
			r.Put("/preferences", h.UpdatePreferences)

			r.Get("/jobs", h.ListJobs)
		})

		// Manual job runs are not bound by the request timeout.
		r.Post("/jobs/{name}/run", h.RunJob)
	})

	r.Get("/health", h.Health)
	r.Handle("/metrics", metrics.Handler())

	return r
}
