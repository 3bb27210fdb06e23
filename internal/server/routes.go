package server

import (
	"github.com/fulmenhq/gofulmen/signals"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fairwayhq/fairway/internal/observability"
	"github.com/fairwayhq/fairway/internal/server/handlers"
	servermw "github.com/fairwayhq/fairway/internal/server/middleware"
)

// registerRoutes registers all HTTP routes
func (s *Server) registerRoutes() {
	s.router.Get("/health", handlers.HealthHandler)
	s.router.Get("/health/live", handlers.LivenessHandler)
	s.router.Get("/health/ready", handlers.ReadinessHandler)
	s.router.Get("/health/startup", handlers.StartupHandler)

	s.router.Get("/version", handlers.VersionHandler)

	// Prometheus page relayed from the exporter port
	s.router.Get("/metrics", MetricsHandler)

	s.registerAPI()
	s.registerAdminEndpoints()
}

// registerAPI creates the guarded application route group.
func (s *Server) registerAPI() {
	s.router.Route(APIPrefix, func(api chi.Router) {
		if s.opts.Limiter != nil && s.opts.GlobalPolicy != "" {
			api.Use(servermw.RateLimit(s.opts.Limiter, s.opts.GlobalPolicy, s.opts.Recorder))
		}
		if s.opts.Limiter != nil {
			admin := handlers.NewRateLimitAdmin(s.opts.Limiter)
			api.Get("/quota", admin.Quota)
		}
		s.api = api
	})

	if s.opts.Limiter == nil {
		return
	}
	handlers.SetRateLimitPolicies(s.opts.Limiter.Registry.Names())
	if hm := handlers.GetHealthManager(); hm != nil {
		hm.RegisterChecker("rate_limiter", handlers.NewRateLimitAdmin(s.opts.Limiter))
	}
}

// registerAdminEndpoints registers the bearer-protected admin routes when a token is configured
func (s *Server) registerAdminEndpoints() {
	logger := observability.ServerLogger

	if s.opts.AdminToken == "" {
		if logger != nil {
			logger.Debug("Admin endpoints disabled (no admin token configured)")
		}
		return
	}

	signalHandler := signals.NewHTTPHandler(signals.HTTPConfig{
		TokenAuth: s.opts.AdminToken,
		RateLimit: 10,  // 10 requests per minute
		RateBurst: 5,   // burst size
		Manager:   nil, // use default global manager
	})
	s.router.Post("/admin/signal", signalHandler.ServeHTTP)

	if s.opts.Limiter != nil {
		admin := handlers.NewRateLimitAdmin(s.opts.Limiter)
		s.router.Route("/admin/rate-limits", func(r chi.Router) {
			r.Use(servermw.BearerToken(s.opts.AdminToken))
			r.Get("/", admin.ListPolicies)
			r.Get("/{policy}/{key}", admin.GetEntry)
			r.Delete("/{policy}/{key}", admin.ResetEntry)
		})
	}

	if logger != nil {
		logger.Info("Admin endpoints enabled",
			zap.Strings("paths", []string{"/admin/signal", "/admin/rate-limits"}),
			zap.String("auth", "bearer token"))
		logger.Warn("Admin endpoint enabled - ensure this server is not exposed to public internet")
	}
}
