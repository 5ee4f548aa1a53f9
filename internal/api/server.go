// Package api provides the HTTP API server for tagmail.
package api

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/wesm/tagmail/internal/compose"
	"github.com/wesm/tagmail/internal/config"
	"github.com/wesm/tagmail/internal/engine"
	"github.com/wesm/tagmail/internal/scheduler"
	"github.com/wesm/tagmail/internal/store"
)

// Engine defines the engine operations the API exposes. *engine.Engine
// implements it.
type Engine interface {
	List(ctx context.Context, q string, opts engine.ListOptions) ([]store.Summary, error)
	Count(ctx context.Context, q string) (int, error)
	ApplyTag(ctx context.Context, q, tag string) (int, error)
	RemoveTag(ctx context.Context, q, tag string) (int, error)
	ListTags(ctx context.Context) []string
	View(ctx context.Context, id string) (*store.Message, error)
	ReplyTemplate(ctx context.Context, id string) (*compose.Draft, error)
	Preview(ctx context.Context, d *compose.Draft) ([]byte, error)
	Send(ctx context.Context, d *compose.Draft) (*store.Message, error)
	Stats(ctx context.Context) (*store.Stats, error)
}

// ImportScheduler defines the scheduler operations the API needs.
type ImportScheduler interface {
	IsScheduled(source string) bool
	TriggerRun(source string) error
	Status() []SourceStatus
	IsRunning() bool
}

// SourceStatus is an alias for scheduler.SourceStatus.
type SourceStatus = scheduler.SourceStatus

// maxBodyBytes bounds JSON request bodies; drafts carry base64 attachments.
const maxBodyBytes = 32 << 20

// Server represents the HTTP API server.
type Server struct {
	cfg         *config.Config
	engine      Engine
	scheduler   ImportScheduler
	logger      *slog.Logger
	router      chi.Router
	server      *http.Server
	rateLimiter *RateLimiter
}

// NewServer creates a new API server. eng and sched may be nil; the routes
// that need them then answer 503.
func NewServer(cfg *config.Config, eng Engine, sched ImportScheduler, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:       cfg,
		engine:    eng,
		scheduler: sched,
		logger:    logger,
	}
	s.router = s.setupRouter()

	bindAddr := cfg.Server.BindAddr
	if bindAddr == "" {
		bindAddr = "127.0.0.1"
	}
	s.server = &http.Server{
		Addr:         net.JoinHostPort(bindAddr, strconv.Itoa(cfg.Server.APIPort)),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// setupRouter configures the chi router with all routes and middleware.
func (s *Server) setupRouter() chi.Router {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(s.loggerMiddleware)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))

	// CORS is disabled when no origins are configured.
	corsConfig := CORSConfig{
		AllowedOrigins:   s.cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: s.cfg.Server.CORSCredentials,
		MaxAge:           s.cfg.Server.CORSMaxAge,
	}
	if corsConfig.MaxAge == 0 && len(corsConfig.AllowedOrigins) > 0 {
		corsConfig.MaxAge = 86400
	}
	r.Use(CORSMiddleware(corsConfig))

	// 10 req/sec with burst of 20
	s.rateLimiter = NewRateLimiter(10, 20)
	r.Use(RateLimitMiddleware(s.rateLimiter))

	r.Get("/health", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/stats", s.handleStats)

		r.Get("/messages", s.handleListMessages)
		r.Get("/messages/{id}", s.handleGetMessage)
		r.Get("/messages/{id}/reply", s.handleReplyTemplate)
		r.Get("/count", s.handleCount)

		r.Get("/tags", s.handleListTags)
		r.Post("/tags/apply", s.handleApplyTag)
		r.Post("/tags/remove", s.handleRemoveTag)

		r.Post("/preview", s.handlePreview)
		r.Post("/send", s.handleSend)

		r.Get("/sources", s.handleListSources)
		r.Post("/sources/{name}/import", s.handleTriggerImport)
		r.Get("/scheduler/status", s.handleSchedulerStatus)
	})

	return r
}

// Start begins listening for HTTP requests.
// Returns an error if the security posture is invalid.
func (s *Server) Start() error {
	if err := s.cfg.Server.ValidateSecure(); err != nil {
		return err
	}

	if s.cfg.Server.APIKey == "" {
		s.logger.Warn("API server running without authentication; set [server] api_key in config.toml")
	}

	s.logger.Info("starting API server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rateLimiter != nil {
		s.rateLimiter.Close()
	}
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// Router returns the chi router for testing.
func (s *Server) Router() chi.Router {
	return s.router
}

// loggerMiddleware logs HTTP requests.
func (s *Server) loggerMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)

		defer func() {
			s.logger.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", chimw.GetReqID(r.Context()),
			)
		}()

		next.ServeHTTP(ww, r)
	})
}

// authMiddleware validates the API key.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cfg.Server.APIKey == "" {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			authHeader = r.Header.Get("X-API-Key")
		}
		if len(authHeader) > 7 && authHeader[:7] == "Bearer " {
			authHeader = authHeader[7:]
		}

		if subtle.ConstantTimeCompare([]byte(authHeader), []byte(s.cfg.Server.APIKey)) != 1 {
			s.logger.Warn("unauthorized API request",
				"path", r.URL.Path,
				"remote_addr", r.RemoteAddr,
			)
			writeError(w, http.StatusUnauthorized, "unauthorized", "Invalid or missing API key")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// handleHealth returns a simple health check response.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}
