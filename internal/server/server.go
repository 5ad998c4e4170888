// Package server is the composition root: it opens the store, builds the
// services and handlers, mounts the routes and runs the HTTP server until a
// shutdown signal arrives.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/sakif/journal/internal/auth"
	"github.com/sakif/journal/internal/config"
	"github.com/sakif/journal/internal/handler"
	"github.com/sakif/journal/internal/middleware"
	"github.com/sakif/journal/internal/repository"
	mongoRepo "github.com/sakif/journal/internal/repository/mongo"
	postgresRepo "github.com/sakif/journal/internal/repository/postgres"
	sqliteRepo "github.com/sakif/journal/internal/repository/sqlite"
	"github.com/sakif/journal/internal/service"
)

const (
	connectTimeout  = 30 * time.Second
	shutdownTimeout = 30 * time.Second
)

// Deps is everything the router needs. Tests build it directly around an
// in-memory store.
type Deps struct {
	Entries        *service.EntryService
	Auth           *service.AuthService
	GitHub         *auth.GitHubProvider // nil disables the GitHub routes
	SecureCookies  bool
	AllowedOrigins []string
	Logger         *slog.Logger
}

// Server owns the store handle and the revocation backend, and closes both
// on shutdown.
type Server struct {
	config  *config.Config
	logger  *slog.Logger
	router  http.Handler
	store   *repository.Handle
	closers []io.Closer
}

// New connects to the configured store (and Redis, when configured) and
// wires the application. Connection failures are returned so startup fails
// fast.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	s := &Server{
		config: cfg,
		logger: logger,
		store:  repository.NewHandle(Opener(cfg)),
	}

	connectCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	if _, err := s.store.Get(connectCtx); err != nil {
		return nil, fmt.Errorf("server: %w", err)
	}

	var denylist auth.Denylist = auth.NewMemoryDenylist()
	if cfg.RedisURI != "" {
		client, err := auth.ConnectRedis(connectCtx, cfg.RedisURI)
		if err != nil {
			s.store.Close()
			return nil, fmt.Errorf("server: %w", err)
		}
		s.closers = append(s.closers, client)
		denylist = auth.NewRedisDenylist(client)
	} else {
		logger.Warn("REDIS_URI not set; logouts are remembered in memory only")
	}

	tokens, err := auth.NewTokenService(cfg.JWTSecret, cfg.TokenTTL)
	if err != nil {
		s.Close()
		return nil, fmt.Errorf("server: %w", err)
	}

	var github *auth.GitHubProvider
	if cfg.GitHubEnabled() {
		github = auth.NewGitHubProvider(cfg.GitHubClientID, cfg.GitHubClientSecret, cfg.GitHubCallbackURL)
	} else {
		logger.Info("GitHub credentials not set; GitHub login is disabled")
	}

	s.router = NewRouter(Deps{
		Entries:        service.NewEntryService(s.store, logger),
		Auth:           service.NewAuthService(s.store, tokens, auth.NewPasswordService(), denylist, logger),
		GitHub:         github,
		SecureCookies:  cfg.IsProduction(),
		AllowedOrigins: cfg.AllowedOrigins,
		Logger:         logger,
	})
	return s, nil
}

// Opener returns the store opener for cfg.StoreDriver.
func Opener(cfg *config.Config) repository.Opener {
	switch cfg.StoreDriver {
	case config.DriverMongo:
		return func(ctx context.Context) (repository.Store, error) {
			store, err := mongoRepo.Connect(ctx, cfg.MongoURI, cfg.MongoDatabase)
			if err != nil {
				return nil, err
			}
			return store, nil
		}
	case config.DriverPostgres:
		return func(ctx context.Context) (repository.Store, error) {
			store, err := postgresRepo.Open(ctx, cfg.PostgresURI)
			if err != nil {
				return nil, err
			}
			return store, nil
		}
	default:
		return func(context.Context) (repository.Store, error) {
			if cfg.DBPath != ":memory:" {
				if err := os.MkdirAll(filepath.Dir(cfg.DBPath), 0o755); err != nil {
					return nil, fmt.Errorf("creating database directory: %w", err)
				}
			}
			db, err := sqliteRepo.New(cfg.DBPath)
			if err != nil {
				return nil, err
			}
			return db, nil
		}
	}
}

// NewRouter mounts every route on a chi router.
//
// Middleware order: request ID first so every later log line can carry it,
// the panic recoverer inside the logger so recovered panics log as 500s.
func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logger(d.Logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.CORS(d.AllowedOrigins))

	entryHandler := handler.NewEntryHandler(d.Entries, d.Logger)
	authHandler := handler.NewAuthHandler(d.Auth, d.GitHub, d.SecureCookies, d.Logger)
	requireAuth := auth.RequireAuth(d.Auth)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Write([]byte("OK"))
	})

	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", authHandler.HandleRegister)
		r.Post("/login", authHandler.HandleLogin)
		r.With(requireAuth).Post("/logout", authHandler.HandleLogout)

		if d.GitHub != nil {
			r.Get("/github/login", authHandler.HandleGitHubLogin)
			r.Get("/github/callback", authHandler.HandleGitHubCallback)
		}
	})

	r.Route("/api", func(r chi.Router) {
		r.Use(requireAuth)

		r.Get("/me", authHandler.HandleMe)

		r.Route("/entries", func(r chi.Router) {
			r.Get("/", entryHandler.HandleList)
			r.Post("/", entryHandler.HandleCreate)
			// Registered before /{id} so "export" is never taken for an ID.
			r.Get("/export", entryHandler.HandleExport)
			r.Get("/{id}", entryHandler.HandleGetByID)
			r.Put("/{id}", entryHandler.HandleUpdate)
			r.Delete("/{id}", entryHandler.HandleDelete)
		})
	})

	return r
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Close releases the store and the Redis client.
func (s *Server) Close() error {
	errs := []error{s.store.Close()}
	for _, c := range s.closers {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}

// Start serves HTTP until SIGINT or SIGTERM, then drains in-flight requests
// for up to shutdownTimeout and closes the store.
func (s *Server) Start() error {
	defer func() {
		if err := s.Close(); err != nil {
			s.logger.Error("closing resources", slog.String("error", err.Error()))
		}
	}()

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.config.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	serverErrors := make(chan error, 1)
	go func() {
		s.logger.Info("server starting",
			slog.Int("port", s.config.Port),
			slog.String("store", s.config.StoreDriver),
			slog.String("env", s.config.Env),
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

		ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.logger.Info("server stopped gracefully")
	}
	return nil
}
