package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bimakw/walletsync/internal/presentation/handlers"
	"github.com/bimakw/walletsync/internal/presentation/middleware"
)

// Handlers groups the HTTP handlers mounted by the router
type Handlers struct {
	Tokens   *handlers.TokenHandler
	Activity *handlers.ActivityHandler
	Health   *handlers.HealthHandler
}

// New builds the API router
func New(h Handlers, rateLimitRPS int, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	// Middleware stack
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Metrics())
	r.Use(chimiddleware.Recoverer)

	// Health endpoints (no rate limiting)
	r.Get("/health", h.Health.Health)
	r.Get("/ready", h.Health.Ready)
	r.Get("/live", h.Health.Live)
	r.Handle("/metrics", promhttp.Handler())

	// API routes
	r.Route("/api/v1", func(r chi.Router) {
		if rateLimitRPS > 0 {
			r.Use(middleware.RateLimiter(rateLimitRPS))
		}
		r.Route("/networks/{network}/wallets/{wallet}", func(r chi.Router) {
			h.Tokens.RegisterRoutes(r)
			if h.Activity != nil {
				h.Activity.RegisterRoutes(r)
			}
		})
	})

	return r
}
