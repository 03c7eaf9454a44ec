package web

import (
	"context"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/vitos/okx_mark_pilot/internal/history"
	"github.com/vitos/okx_mark_pilot/internal/infrastructure/exchange"
	"github.com/vitos/okx_mark_pilot/internal/infrastructure/logstore"
	"github.com/vitos/okx_mark_pilot/internal/usecase"
)

// Server exposes a read-only JSON view of the bot: live prices, log tails
// and connection status. It never mutates state; all writes go through the
// bus and the executor.
type Server struct {
	router *http.ServeMux
	server *http.Server
	store  *history.Store
	stream *exchange.MarkPriceStream
	aiLoop *usecase.AILoop
	trades *logstore.TradeLog
	ai     *logstore.DecisionLog
	errs   *logstore.ErrorLog
	logger *zap.Logger
}

func NewServer(
	port int,
	store *history.Store,
	stream *exchange.MarkPriceStream,
	aiLoop *usecase.AILoop,
	trades *logstore.TradeLog,
	ai *logstore.DecisionLog,
	errs *logstore.ErrorLog,
	logger *zap.Logger,
) *Server {
	s := &Server{
		router: http.NewServeMux(),
		store:  store,
		stream: stream,
		aiLoop: aiLoop,
		trades: trades,
		ai:     ai,
		errs:   errs,
		logger: logger,
	}
	s.routes()
	s.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	return s
}

func (s *Server) routes() {
	s.router.HandleFunc("GET /api/status", s.handleStatus)
	s.router.HandleFunc("GET /api/history/{instId}", s.handleHistory)
	s.router.HandleFunc("GET /api/trades", s.handleTrades)
	s.router.HandleFunc("GET /api/ai", s.handleAIRecords)
	s.router.HandleFunc("GET /api/errors", s.handleErrors)
}

func (s *Server) Start() error {
	s.logger.Info("Starting web server", zap.String("addr", s.server.Addr))
	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
