package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/sergeydz/perpmm/internal/domain"
)

// StatusSource is anything that can report the trading loop's last snapshot.
type StatusSource interface {
	Status() domain.ServiceStatus
}

// Server exposes the operator surface: status snapshot, recent trades and
// Prometheus metrics. It is read-only; control stays with signals and config.
type Server struct {
	router  *http.ServeMux
	server  *http.Server
	source  StatusSource
	journal domain.TradeJournal
	logger  *zap.Logger
}

func NewServer(port int, source StatusSource, journal domain.TradeJournal, metricsHandler http.Handler, logger *zap.Logger) *Server {
	s := &Server{
		router:  http.NewServeMux(),
		source:  source,
		journal: journal,
		logger:  logger,
	}
	s.routes(metricsHandler)
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes(metricsHandler http.Handler) {
	s.router.HandleFunc("GET /status", s.handleStatus)
	s.router.HandleFunc("GET /api/trades", s.handleTrades)
	s.router.HandleFunc("GET /api/sessions", s.handleSessions)
	if metricsHandler != nil {
		s.router.Handle("GET /metrics", metricsHandler)
	}
}

func (s *Server) Start() error {
	s.logger.Info("Starting status server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
