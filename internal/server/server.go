package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jonboulle/clockwork"

	"github.com/jonathan/appraisal-agent/internal/pipeline"
	"github.com/jonathan/appraisal-agent/internal/records"
	"github.com/jonathan/appraisal-agent/internal/server/middleware"
	"github.com/jonathan/appraisal-agent/internal/server/ratelimit"
	"github.com/jonathan/appraisal-agent/internal/storage"
)

// shutdownTimeout bounds graceful shutdown, including in-flight streams.
const shutdownTimeout = 30 * time.Second

// Pinger is a dependency the health check can ping.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config holds server configuration
type Config struct {
	Port           int
	AllowedOrigins []string
	// PresignTTL is the lifetime of image URLs in responses.
	PresignTTL time.Duration
}

// Deps are the services the handlers use. Orchestrator, Records, Images and
// JWT are required.
type Deps struct {
	Orchestrator *pipeline.Orchestrator
	Records      records.Store
	Images       storage.ImageStore
	// Policy defaults to the new_record policy.
	Policy    records.ReappraisalPolicy
	JWT       *JWTService
	RateLimit *ratelimit.Config
	// Database and Cache are reported by /health when set.
	Database Pinger
	Cache    Pinger
	Logger   *slog.Logger
	Clock    clockwork.Clock
}

// Server represents the HTTP server
type Server struct {
	httpServer     *http.Server
	router         chi.Router
	orchestrator   *pipeline.Orchestrator
	records        records.Store
	images         storage.ImageStore
	policy         records.ReappraisalPolicy
	jwtService     *JWTService
	rateLimiter    *ratelimit.Limiter
	database       Pinger
	cache          Pinger
	logger         *slog.Logger
	clock          clockwork.Clock
	presignTTL     time.Duration
	allowedOrigins []string
}

// New creates a new server instance
func New(cfg Config, deps Deps) (*Server, error) {
	switch {
	case deps.Orchestrator == nil:
		return nil, errors.New("orchestrator is required")
	case deps.Records == nil:
		return nil, errors.New("record store is required")
	case deps.Images == nil:
		return nil, errors.New("image store is required")
	case deps.JWT == nil:
		return nil, errors.New("JWT service is required")
	}

	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Policy == nil {
		policy, err := records.NewPolicy("", deps.Records, deps.Clock)
		if err != nil {
			return nil, fmt.Errorf("failed to create reappraisal policy: %w", err)
		}
		deps.Policy = policy
	}
	if deps.RateLimit == nil {
		deps.RateLimit = ratelimit.LoadConfig()
	}
	if deps.RateLimit.Clock == nil {
		deps.RateLimit.Clock = deps.Clock
	}
	if cfg.PresignTTL <= 0 {
		cfg.PresignTTL = time.Hour
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{"*"}
	}

	s := &Server{
		orchestrator:   deps.Orchestrator,
		records:        deps.Records,
		images:         deps.Images,
		policy:         deps.Policy,
		jwtService:     deps.JWT,
		rateLimiter:    ratelimit.NewLimiter(deps.RateLimit),
		database:       deps.Database,
		cache:          deps.Cache,
		logger:         deps.Logger,
		clock:          deps.Clock,
		presignTTL:     cfg.PresignTTL,
		allowedOrigins: cfg.AllowedOrigins,
	}
	s.router = s.routes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 300 * time.Second, // Long timeout for streamed appraisals
		IdleTimeout:  60 * time.Second,
	}

	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(s.withLogging)
	r.Use(metricsMiddleware)
	r.Use(s.withCORS)
	r.Use(s.withRateLimit)

	r.Get("/health", s.handleHealth)

	tokens := s.jwtService.AsTokenValidator()
	r.Route("/api/v1", func(r chi.Router) {
		r.With(middleware.OptionalAuth(tokens)).Post("/analyze/stream", s.handleAnalyzeStream)

		r.Group(func(r chi.Router) {
			r.Use(middleware.AuthMiddleware(tokens))
			r.Get("/appraisals", s.handleListAppraisals)
			r.Get("/appraisals/{id}", s.handleGetAppraisal)
			r.Post("/appraisals/{id}/reappraise", s.handleReappraise)
		})
	})

	return r
}

// Handler returns the routed handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.httpServer.Addr
}

// Run serves until ctx is done, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	defer s.Close()
	return ServeUntilDone(ctx, s.httpServer, s.logger)
}

// Close releases background resources. It does not stop a running listener.
func (s *Server) Close() {
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
}

// ServeUntilDone runs srv until ctx is done and then shuts it down.
func ServeUntilDone(ctx context.Context, srv *http.Server, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("server error on %s: %w", srv.Addr, err)
	case <-ctx.Done():
	}

	logger.Info("shutting down server", "addr", srv.Addr)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info("server stopped", "addr", srv.Addr)
	return nil
}

// withCORS adds CORS headers for the configured origins
func (s *Server) withCORS(next http.Handler) http.Handler {
	wildcard := slices.Contains(s.allowedOrigins, "*")
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case wildcard:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && slices.Contains(s.allowedOrigins, origin):
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type")
		w.Header().Set("Access-Control-Max-Age", "300")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)

		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, r, info)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withLogging logs each request once it has been served.
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := s.clock.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		s.requestLogger(r).Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", s.clock.Since(start))
	})
}

// requestLogger returns the server logger tagged with the request ID.
func (s *Server) requestLogger(r *http.Request) *slog.Logger {
	if id := chimw.GetReqID(r.Context()); id != "" {
		return s.logger.With("request_id", id)
	}
	return s.logger
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("failed to encode JSON response", "error", err)
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// fail maps err to a status and writes it, logging server-side failures.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		s.requestLogger(r).Error("request failed", "path", r.URL.Path, "error", err)
	}
	s.errorResponse(w, status, publicMessage(err))
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr; X-Forwarded-For is not trusted.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", fmt.Sprintf("%d", info.Limit))
		w.Header().Set("X-RateLimit-Remaining", fmt.Sprintf("%d", info.Remaining))
		w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", info.ResetTime.Unix()))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, r *http.Request, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		seconds := int(info.RetryAfter.Seconds())
		response["retry_after"] = seconds
		w.Header().Set("Retry-After", fmt.Sprintf("%d", seconds))
	}

	s.requestLogger(r).Warn("rate limit exceeded",
		"client", s.extractClientID(r),
		"path", r.URL.Path,
		"limit", info.Limit,
		"reset_at", info.ResetTime.Format(time.RFC3339))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}

// imageURL presigns key, returning "" when there is no image or signing fails.
func (s *Server) imageURL(ctx context.Context, key string) string {
	if key == "" {
		return ""
	}
	url, err := s.images.PresignGet(ctx, key, s.presignTTL)
	if err != nil {
		s.logger.Warn("failed to presign image URL", "key", key, "error", err)
		return ""
	}
	return url
}

// handleHealth reports the state of the database and the price cache.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := map[string]string{
		"status":   "ok",
		"database": dependencyStatus(ctx, s.database),
		"cache":    dependencyStatus(ctx, s.cache),
	}
	status := http.StatusOK
	if resp["database"] == "error" || resp["cache"] == "error" {
		resp["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	s.jsonResponse(w, status, resp)
}

func dependencyStatus(ctx context.Context, p Pinger) string {
	if p == nil {
		return "disabled"
	}
	if err := p.Ping(ctx); err != nil {
		return "error"
	}
	return "ok"
}

// isDisconnect reports whether err came from the client going away.
func isDisconnect(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, net.ErrClosed) ||
		strings.Contains(err.Error(), "broken pipe") || strings.Contains(err.Error(), "connection reset")
}
