// Package server sets up the HTTP server, router, and all route definitions.
//
// This package is the "wiring" layer. It decides:
//   - which store backs the service (MySQL or SQLite)
//   - which optional infrastructure is live (Redis rate limiting, RabbitMQ events)
//   - which URL patterns map to which handlers, and behind which middleware
//   - how the server starts and stops gracefully
//
// DEPENDENCY INJECTION FLOW:
//
//	config.Config → Store (sqlstore over mysql|sqlite)
//	             → PasswordService, TokenService
//	             → AuthService, UserAdminService
//	             → AuthHandler, UsersHandler
//	             → chi router
//
// All dependencies are wired in New; nothing below it reaches for globals.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/sakif/user-manager/internal/auth"
	"github.com/sakif/user-manager/internal/config"
	"github.com/sakif/user-manager/internal/events"
	"github.com/sakif/user-manager/internal/handler"
	"github.com/sakif/user-manager/internal/middleware"
	rabbitmqPlatform "github.com/sakif/user-manager/internal/platform/rabbitmq"
	redisPlatform "github.com/sakif/user-manager/internal/platform/redis"
	"github.com/sakif/user-manager/internal/repository"
	mysqlRepo "github.com/sakif/user-manager/internal/repository/mysql"
	sqliteRepo "github.com/sakif/user-manager/internal/repository/sqlite"
	"github.com/sakif/user-manager/internal/repository/sqlstore"
	"github.com/sakif/user-manager/internal/service"
)

// Server owns the store and the optional broker connections, and closes
// them on shutdown.
type Server struct {
	router  chi.Router
	config  *config.Config
	logger  *slog.Logger
	store   *sqlstore.Store
	adminID int64
	closers []func() error
}

// Option overrides a piece of infrastructure New would otherwise build
// from the configuration.
type Option func(*options)

type options struct {
	counter   middleware.Counter
	publisher events.Publisher
	now       func() time.Time
}

// WithRateLimitCounter enables auth rate limiting with c, regardless of
// the redis configuration.
func WithRateLimitCounter(c middleware.Counter) Option {
	return func(o *options) { o.counter = c }
}

// WithPublisher sends lifecycle events to p instead of RabbitMQ.
func WithPublisher(p events.Publisher) Option {
	return func(o *options) { o.publisher = p }
}

// WithClock fixes the health endpoint's timestamp source.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New builds the server from cfg: it opens the store and runs migrations,
// connects the optional brokers, seeds the administrator, and sets up the
// routes. Any failure releases what was already opened.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts ...Option) (_ *Server, err error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	s := &Server{
		router: chi.NewRouter(),
		config: cfg,
		logger: logger,
	}
	defer func() {
		if err != nil {
			s.closeAll()
		}
	}()

	// === STORE ===
	s.store, err = openStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s.closers = append(s.closers, s.store.Close)

	// === OPTIONAL INFRASTRUCTURE ===
	counter := o.counter
	if counter == nil && cfg.Redis.Addr != "" {
		client, err := redisPlatform.New(ctx, cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			return nil, fmt.Errorf("connecting to redis: %w", err)
		}
		s.closers = append(s.closers, client.Close)
		counter = redisPlatform.NewCounter(client)
		logger.Info("auth rate limiting enabled", slog.String("redis", cfg.Redis.Addr))
	}

	publisher := o.publisher
	if publisher == nil && cfg.RabbitMQ.URL != "" {
		conn, err := rabbitmqPlatform.New(ctx, cfg.RabbitMQ.URL)
		if err != nil {
			return nil, fmt.Errorf("connecting to rabbitmq: %w", err)
		}
		s.closers = append(s.closers, conn.Close)
		publisher, err = rabbitmqPlatform.NewEventPublisher(conn, cfg.RabbitMQ.Queue)
		if err != nil {
			return nil, err
		}
		logger.Info("lifecycle events enabled", slog.String("queue", cfg.RabbitMQ.Queue))
	}

	// === SERVICES ===
	tokens, err := auth.NewTokenService(cfg.Auth.JWTSecret)
	if err != nil {
		return nil, fmt.Errorf("creating token service: %w", err)
	}
	passwords := auth.NewPasswordService(cfg.Auth.BcryptCost)

	authService := service.NewAuthService(s.store, passwords, tokens, publisher, logger)
	if cfg.Auth.DisableAdminSignup {
		authService.DisableAdminSignup()
	}

	admin, err := authService.EnsureAdmin(ctx, service.AdminAccount{
		Username: cfg.Admin.Username,
		Email:    cfg.Admin.Email,
		Password: cfg.Admin.Password,
		FullName: cfg.Admin.FullName,
	})
	if err != nil {
		return nil, fmt.Errorf("seeding administrator: %w", err)
	}
	s.adminID = admin.ID

	userService := service.NewUserAdminService(s.store, s.adminID, publisher, logger)

	s.setupRoutes(tokens, authService, userService, counter, o.now)
	return s, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*sqlstore.Store, error) {
	policy := repository.RetryPolicy{
		MaxRetries: uint64(cfg.Database.RetryMax),
		BaseDelay:  cfg.RetryBase(),
	}

	switch cfg.Database.Driver {
	case config.DriverMySQL:
		store, err := mysqlRepo.New(ctx, cfg.MySQLDSN(), mysqlRepo.DefaultPoolConfig(), policy, logger)
		if err != nil {
			return nil, fmt.Errorf("opening mysql store: %w", err)
		}
		return store, nil
	case config.DriverSQLite:
		store, err := sqliteRepo.New(ctx, cfg.Database.SQLitePath, policy, logger)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite store: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}

// setupRoutes configures all middleware and route handlers.
//
// ROUTE STRUCTURE:
//
//	GET    /api/health       → liveness
//	POST   /api/register     → create account       (rate limited)
//	POST   /api/login        → issue bearer token   (rate limited)
//	GET    /api/users        → list users           (bearer)
//	GET    /api/users/{id}   → get user             (bearer)
//	PUT    /api/users/{id}   → partial update       (bearer)
//	DELETE /api/users/{id}   → delete user          (bearer)
//
// MIDDLEWARE ORDER:
//  1. RequestID assigns an id to each request
//  2. RealIP takes the client address from proxy headers
//  3. Logger logs each request with timing info
//  4. Recoverer turns panics into 500s
//  5. CORS answers preflights before any route runs
func (s *Server) setupRoutes(
	tokens *auth.TokenService,
	authService *service.AuthService,
	userService *service.UserAdminService,
	counter middleware.Counter,
	now func() time.Time,
) {
	r := s.router

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(s.logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.config.App.CORSOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"X-Request-Id", "X-RateLimit-Limit", "X-RateLimit-Remaining", "Retry-After"},
		MaxAge:         300,
	}))

	r.NotFound(handler.NotFound)
	r.MethodNotAllowed(handler.MethodNotAllowed)

	authHandler := handler.NewAuthHandler(authService, s.logger)
	usersHandler := handler.NewUsersHandler(userService, s.logger)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handler.Health(now))

		r.Group(func(r chi.Router) {
			if counter != nil {
				r.Use(middleware.RateLimit(counter, int64(s.config.Redis.AuthLimit), s.config.AuthWindow(), handler.WriteError, s.logger))
			}
			r.Post("/register", authHandler.HandleRegister)
			r.Post("/login", authHandler.HandleLogin)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAuth(tokens, handler.WriteError))
			r.Get("/users", usersHandler.HandleList)
			r.Get("/users/{id}", usersHandler.HandleGet)
			r.Put("/users/{id}", usersHandler.HandleUpdate)
			r.Delete("/users/{id}", usersHandler.HandleDelete)
		})
	})
}

// Handler exposes the router, for httptest.
func (s *Server) Handler() http.Handler {
	return s.router
}

// AdminID is the id of the protected administrator.
func (s *Server) AdminID() int64 {
	return s.adminID
}

// Close releases the store and broker connections.
func (s *Server) Close() error {
	return s.closeAll()
}

func (s *Server) closeAll() error {
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}

// Start serves HTTP until SIGINT or SIGTERM, then shuts down gracefully:
//  1. stop accepting new connections
//  2. wait up to 30s for in-flight requests
//  3. close the store and broker connections
func (s *Server) Start() error {
	defer s.Close()

	srv := &http.Server{
		Addr:              s.config.HTTPAddr(),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)

	go func() {
		s.logger.Info("server starting",
			slog.String("addr", srv.Addr),
			slog.String("database", s.config.Database.Driver),
			slog.Int64("adminID", s.adminID),
		)
		serverErrors <- srv.ListenAndServe()
	}()

	select {
	case err := <-serverErrors:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}

	case sig := <-quit:
		s.logger.Info("shutdown signal received", slog.String("signal", sig.String()))

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}

	return nil
}
