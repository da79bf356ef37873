// Package api exposes the containment engine over HTTP: a finding intake
// webhook for the event router and the browser-facing approval endpoint the
// operator clicks.
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cloudfence/containment-engine/internal/approval"
	"github.com/cloudfence/containment-engine/internal/config"
	"github.com/cloudfence/containment-engine/internal/notify"
	"github.com/cloudfence/containment-engine/internal/services"
)

// Server wraps the HTTP listener and lifecycle helpers.
type Server struct {
	cfg         config.ServerConfig
	logger      *slog.Logger
	httpServer  *http.Server
	containment *services.ContainmentService
	verifier    *approval.Verifier
	restoration *services.RestorationService
	notifier    notify.Publisher
}

// NewServer constructs an HTTP server bound to the configured address.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, containment *services.ContainmentService, verifier *approval.Verifier, restoration *services.RestorationService, notifier notify.Publisher) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:         cfg,
		logger:      logger,
		containment: containment,
		verifier:    verifier,
		restoration: restoration,
		notifier:    notifier,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/findings", s.handleFinding)
	mux.HandleFunc("GET /api/v1/resources/{id}", s.handleResourceStatus)
	mux.HandleFunc("GET /approve", s.handleApprove)
	mux.HandleFunc("GET /favicon.ico", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}
	return s
}

// Handler returns the server's HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start serves incoming requests until Shutdown is invoked.
func (s *Server) Start() error {
	s.logger.Info("api server listening", slog.String("address", s.cfg.Address))
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown attempts a graceful shutdown within the context deadline.
func (s *Server) Shutdown(ctx context.Context) {
	if err := s.httpServer.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Warn("api server shutdown", slog.Any("error", err))
	}
}
