package daemon

import (
	"context"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/EmirPirija/lmx-chat/internal/config"
	"github.com/EmirPirija/lmx-chat/internal/localapi"
)

// Server manages the loopback HTTP server lifecycle for a session daemon.
type Server struct {
	httpServer *http.Server
	addr       string
	logger     *zap.Logger
}

// NewServer creates the local API server bound to the configured loopback
// address.
func NewServer(p Params, cfg *config.Config, logger *zap.Logger, handler *localapi.Handler) *Server {
	addr := p.ListenAddr
	if addr == "" {
		addr = cfg.ListenAddr
	}
	return &Server{
		httpServer: &http.Server{
			Addr:    addr,
			Handler: localapi.NewRouter(handler),
		},
		addr:   addr,
		logger: logger,
	}
}

// Start begins serving HTTP requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("local API server starting", zap.String("addr", s.addr))
	err := s.httpServer.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("local API server stopping")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		s.logger.Warn("shutdown error", zap.Error(err))
	}
}
