package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/fairwayhq/fairway/internal/core/engine"
	apperrors "github.com/fairwayhq/fairway/internal/errors"
	"github.com/fairwayhq/fairway/internal/observability"
	servermw "github.com/fairwayhq/fairway/internal/server/middleware"
)

// APIPrefix is the route group every guarded application route lives under.
const APIPrefix = "/v1"

// Options configures admission control and the admin surface.
type Options struct {
	// Limiter enforces policies; nil disables rate limiting entirely.
	Limiter *engine.RateLimiter
	// GlobalPolicy guards every route under APIPrefix. Empty disables the group guard.
	GlobalPolicy string
	// Recorder receives first denials; may be nil.
	Recorder servermw.DenialRecorder

	PrincipalHeader string
	AdminToken      string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server represents the HTTP server
type Server struct {
	router *chi.Mux
	api    chi.Router
	server *http.Server
	host   string
	port   int
	opts   Options
}

// New creates a new HTTP server instance. Every policy the server will enforce is
// checked against the limiter's registry here, so a misnamed policy fails startup.
func New(host string, port int, opts Options) (*Server, error) {
	if opts.Limiter != nil && opts.GlobalPolicy != "" {
		if err := opts.Limiter.Registry.Require(opts.GlobalPolicy); err != nil {
			return nil, fmt.Errorf("global policy: %w", err)
		}
	}

	r := chi.NewRouter()

	// RequestID → Metrics → Recovery → Principal. RemoteAddr is left as the
	// connection peer; only the key deriver reads forwarded headers.
	r.Use(servermw.RequestID)
	r.Use(servermw.RequestMetrics)
	r.Use(servermw.Recovery)
	r.Use(servermw.PrincipalHeader(opts.PrincipalHeader))

	r.NotFound(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewNotFoundError("The requested resource was not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, req *http.Request) {
		apperrors.RespondWithError(w, req, apperrors.NewMethodNotAllowedError("The requested method is not allowed for this resource"))
	})

	s := &Server{
		router: r,
		host:   host,
		port:   port,
		opts:   opts,
	}

	s.registerRoutes()

	return s, nil
}

// Guard returns middleware enforcing policy. Without a limiter it passes requests through.
func (s *Server) Guard(policy string) (func(http.Handler) http.Handler, error) {
	if s.opts.Limiter == nil {
		return func(next http.Handler) http.Handler { return next }, nil
	}
	if err := s.opts.Limiter.Registry.Require(policy); err != nil {
		return nil, err
	}
	return servermw.RateLimit(s.opts.Limiter, policy, s.opts.Recorder), nil
}

// Mount attaches h under APIPrefix+pattern. Requests pass the global policy and then
// each of policies in order; the first denial stops the chain.
func (s *Server) Mount(pattern string, h http.Handler, policies ...string) error {
	if !strings.HasPrefix(pattern, "/") {
		return errors.New("mount pattern must start with /")
	}

	guards := make([]func(http.Handler) http.Handler, 0, len(policies))
	for _, policy := range policies {
		guard, err := s.Guard(policy)
		if err != nil {
			return fmt.Errorf("mount %s: %w", pattern, err)
		}
		guards = append(guards, guard)
	}

	s.api.With(guards...).Mount(pattern, h)
	return nil
}

// Start starts the HTTP server
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.host, s.port)

	s.server = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  durationOr(s.opts.ReadTimeout, 30*time.Second),
		WriteTimeout: durationOr(s.opts.WriteTimeout, 30*time.Second),
		IdleTimeout:  durationOr(s.opts.IdleTimeout, 120*time.Second),
	}

	observability.ServerLogger.Info("Starting HTTP server",
		zap.String("host", s.host),
		zap.Int("port", s.port),
		zap.String("addr", addr),
		zap.Bool("rate_limit", s.opts.Limiter != nil))

	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	if observability.ServerLogger != nil {
		observability.ServerLogger.Info("Shutting down HTTP server")
	}
	return s.server.Shutdown(ctx)
}

// Handler exposes the underlying router for testing and instrumentation
func (s *Server) Handler() http.Handler {
	return s.router
}

// Port returns the server port for testing
func (s *Server) Port() int {
	return s.port
}

func durationOr(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
