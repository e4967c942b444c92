package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"

	"github.com/mattjoyce/devbench/internal/auth"
	"github.com/mattjoyce/devbench/internal/devbench"
	"github.com/mattjoyce/devbench/internal/metrics"
	"github.com/mattjoyce/devbench/internal/notify"
)

// Lifecycle is the reconciler surface the handlers drive.
type Lifecycle interface {
	Create(ctx context.Context, ownerID, name string) (*devbench.Devbench, error)
	Retry(ctx context.Context, ownerID, id string) error
	Activate(ctx context.Context, ownerID, id string) error
	CheckStatus(ctx context.Context, ownerID, id string) (devbench.State, error)
	Delete(ctx context.Context, ownerID, id string) error
	Busy(id string) bool
}

// Store is the read and user-admin surface of the persistence layer.
type Store interface {
	GetUser(ctx context.Context, id string) (*devbench.User, error)
	ListUsers(ctx context.Context) ([]*devbench.User, error)
	CreateUser(ctx context.Context, u *devbench.User) error
	SetUserDisabled(ctx context.Context, id string, disabled bool) error
	DeleteUser(ctx context.Context, id string) error

	GetOwnedDevbench(ctx context.Context, ownerID, id string) (*devbench.Devbench, error)
	ListDevbenches(ctx context.Context, ownerID string) ([]*devbench.Devbench, error)
	ListAllDevbenches(ctx context.Context) ([]*devbench.Devbench, error)
	CountByState(ctx context.Context) (map[devbench.State]int, error)
	ListOperations(ctx context.Context, devbenchID string, limit int) ([]*devbench.OperationRecord, error)
}

// LiveHub registers per-user live channels.
type LiveHub interface {
	Register(userID string, ch notify.Channel) (release func())
	Connected() int
}

// Config holds API server configuration
type Config struct {
	Listen         string
	CookieName     string
	CookieSecure   bool
	AllowedOrigins []string
	// LiveBuffer is the per-connection event queue size.
	LiveBuffer int
	// PingInterval is how often the websocket pump pings. Pongs must arrive
	// within twice this interval.
	PingInterval    time.Duration
	ShutdownTimeout time.Duration
	// LoginPerMinute and LoginBurst throttle POST /login per client address.
	// Zero LoginPerMinute disables the throttle.
	LoginPerMinute int
	LoginBurst     int
}

// Server represents the HTTP API server
type Server struct {
	config    Config
	lifecycle Lifecycle
	store     Store
	hub       LiveHub
	issuer    *auth.Issuer
	metrics   *metrics.Metrics
	logger    *slog.Logger
	server    *http.Server
	startedAt time.Time
	upgrader  websocket.Upgrader
	limiter   *loginLimiter
	// liveCtx ends open websocket sessions, which Shutdown does not track.
	liveCtx context.Context
}

// New creates a new API server instance. m may be nil.
func New(config Config, lc Lifecycle, st Store, hub LiveHub, issuer *auth.Issuer, m *metrics.Metrics, logger *slog.Logger) *Server {
	if config.CookieName == "" {
		config.CookieName = "devbench_session"
	}
	if config.LiveBuffer <= 0 {
		config.LiveBuffer = 256
	}
	if config.PingInterval <= 0 {
		config.PingInterval = 30 * time.Second
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 5 * time.Second
	}
	s := &Server{
		config:    config,
		lifecycle: lc,
		store:     st,
		hub:       hub,
		issuer:    issuer,
		metrics:   m,
		logger:    logger.With("component", "api"),
		startedAt: time.Now(),
		liveCtx:   context.Background(),
		limiter:   newLoginLimiter(config.LoginPerMinute, config.LoginBurst),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  4096,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin:      s.checkOrigin,
	}
	return s
}

// Handler returns the routed handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.setupRoutes()
}

// Start starts the HTTP server (blocking)
func (s *Server) Start(ctx context.Context) error {
	s.liveCtx = ctx
	s.server = &http.Server{
		Addr:              s.config.Listen,
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	s.logger.Info("API server starting", "listen", s.config.Listen)

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("API server shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()
		if err := s.server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown failed: %w", err)
		}
		return nil
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
}

// setupRoutes configures the HTTP router
func (s *Server) setupRoutes() *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.loggingMiddleware)
	r.Use(middleware.Recoverer)

	// Unauthenticated.
	r.Get("/healthz", s.handleHealthz)
	r.Handle("/metrics", s.metrics.Handler())
	r.Get("/openapi.json", s.handleOpenAPI)
	r.With(s.throttleLogin).Post("/login", s.handleLogin)
	r.Get("/logout", s.handleLogout)
	r.Post("/logout", s.handleLogout)

	r.Group(func(r chi.Router) {
		r.Use(s.authMiddleware)

		r.Get("/dashboard", s.handleDashboard)
		r.Get("/devbenches", s.handleListDevbenches)
		r.Get("/devbenches/{id}", s.handleGetDevbench)
		r.Get("/devbenches/{id}/logs", s.handleDevbenchLogs)
		r.Post("/create-devbench", s.handleCreate)
		r.Post("/activate-devbench/{id}", s.handleActivate)
		r.Post("/retry-devbench/{id}", s.handleRetry)
		r.Post("/delete-devbench/{id}", s.handleDelete)
		r.Get("/check-status/{id}", s.handleCheckStatus)
		r.Get("/ws", s.handleLive)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAdmin)
			r.Get("/admin", s.handleAdminOverview)
			r.Get("/admin/users", s.handleAdminListUsers)
			r.Post("/admin/users", s.handleAdminCreateUser)
			r.Post("/admin/users/{id}/disable", s.handleAdminSetDisabled(true))
			r.Post("/admin/users/{id}/enable", s.handleAdminSetDisabled(false))
			r.Delete("/admin/users/{id}", s.handleAdminDeleteUser)
		})
	})

	return r
}

// loggingMiddleware logs HTTP requests
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}
