package server

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gotours/apiserver/config"
	"github.com/gotours/apiserver/internal/auth"
	"github.com/gotours/apiserver/internal/db"
	"github.com/gotours/apiserver/internal/handlers"
	"github.com/gotours/apiserver/internal/mail"
	"github.com/gotours/apiserver/internal/mq"
	"github.com/gotours/apiserver/internal/store"
	"go.uber.org/zap"
)

// Server wraps the HTTP server and the connections it owns.
type Server struct {
	httpServer *http.Server
	db         *sql.DB
	broker     mq.Backend
	logger     *zap.Logger
}

// New constructs a Server with all services wired.
func New(ctx context.Context, cfg config.Config, log *zap.Logger) (*Server, error) {
	dbConn, err := db.Open(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	broker, err := mq.Open(ctx, cfg)
	if err != nil {
		_ = dbConn.Close()
		return nil, fmt.Errorf("open mail broker: %w", err)
	}

	userRepo := store.NewUserRepository(dbConn)
	tokenSvc := auth.NewTokenService(cfg.JWT)
	resetSvc := auth.NewResetTokenService(userRepo)
	mailer := mail.NewQueueMailer(broker, cfg.Mail)
	authSvc := auth.NewService(userRepo, tokenSvc, resetSvc, mailer, cfg.BaseURL, log)

	mw := handlers.NewMiddleware(authSvc, log, !cfg.IsProduction())

	router := chi.NewRouter()
	router.Use(
		middleware.RequestID,
		middleware.RealIP,
		middleware.Recoverer,
		handlers.RequestLogger(log),
		middleware.Timeout(60*time.Second),
	)
	router.Get("/healthz", handlers.Healthz)
	router.Route("/api/v1/users", func(r chi.Router) {
		handlers.AuthRouter(r, authSvc, mw, cfg)
		handlers.UserRouter(r, authSvc, mw, cfg)
	})

	port := cfg.ServerPort
	if port == 0 {
		port = 8080
	}

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return &Server{
		httpServer: httpServer,
		db:         dbConn,
		broker:     broker,
		logger:     log,
	}, nil
}

// Start runs the HTTP server.
func (s *Server) Start() error {
	s.logger.Info("server listening", zap.String("addr", s.httpServer.Addr))
	return s.httpServer.ListenAndServe()
}

// Shutdown drains in-flight requests, then closes the broker and the pool.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.httpServer.Shutdown(ctx)
	if s.broker != nil {
		_ = s.broker.Close()
	}
	if s.db != nil {
		_ = s.db.Close()
	}
	return err
}
