// Package httptransport exposes the ledger and notification operations as a
// JSON API. Handlers decode and authorize the caller, then delegate.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"reliefhub/internal/platform/middleware"
	"reliefhub/pkg/platform/httputil"
)

// HealthCheck reports whether a backing dependency is reachable.
type HealthCheck func(ctx context.Context) error

// Deps is everything the router needs.
type Deps struct {
	Requests      RequestService
	Notifications NotificationService
	Tokens        middleware.TokenValidator
	Limiter       *middleware.LimiterStore
	Gatherer      prometheus.Gatherer
	Health        map[string]HealthCheck
	Logger        *slog.Logger
}

// NewRouter wires every public endpoint. /healthz and /metrics are
// unauthenticated; everything else requires a bearer token.
func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{requests: d.Requests, notifications: d.Notifications, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))

	r.Get("/healthz", healthHandler(d.Health))
	if d.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireAuth(d.Tokens, logger))
		if d.Limiter != nil {
			r.Use(middleware.RateLimitWrites(d.Limiter))
		}

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", h.handleCreateRequest)
			r.Get("/", h.handleListRequests)
			r.Get("/{id}", h.handleGetRequest)
			r.Patch("/{id}", h.handleUpdateRequest)
			r.Delete("/{id}", h.handleDeleteRequest)
			r.Post("/{id}/contributions", h.handleContribute)
			r.Get("/{id}/contributions", h.handleListRequestContributions)
		})
		r.Get("/contributions", h.handleListContributions)
		r.Delete("/contributions/{id}", h.handleRetract)

		r.Route("/notifications", func(r chi.Router) {
			r.Get("/", h.handleListNotifications)
			r.Get("/unread", h.handleListUnread)
			r.Put("/{id}/read", h.handleMarkRead)
			r.Delete("/{id}", h.handleDeleteNotification)
		})
		r.Get("/admin/notifications", h.handleListBroadcasts)
		r.Get("/admin/summary", h.handleSummary)
	})
	return r
}

func healthHandler(checks map[string]HealthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		body := map[string]string{"status": "ok"}
		for name, check := range checks {
			if err := check(ctx); err != nil {
				status = http.StatusServiceUnavailable
				body["status"] = "degraded"
				body[name] = err.Error()
				continue
			}
			body[name] = "ok"
		}
		httputil.WriteJSON(w, status, body)
	}
}
