// Package api exposes the trading operations over HTTP.
//
// The caller's user id comes from the X-User-ID header set by the upstream
// gateway that authenticates requests.
package api

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rovshanmuradov/spot-trading-bot/internal/bot"
	"github.com/rovshanmuradov/spot-trading-bot/internal/storage"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// UserHeader carries the authenticated user id.
const UserHeader = "X-User-ID"

// Commands executes trading commands.
type Commands interface {
	Send(ctx context.Context, cmd bot.TradingCommand) (any, error)
}

// Reader answers the read-only queries.
type Reader interface {
	GetStatus(ctx context.Context, userID string) bot.Status
	GetAccumulatedProfit(ctx context.Context, userID string) decimal.Decimal
	GetProfitTarget(ctx context.Context, userID string) decimal.Decimal
}

// Server is the HTTP front end.
type Server struct {
	engine   *gin.Engine
	srv      *http.Server
	commands Commands
	reader   Reader
	journal  storage.Journal
	logger   *zap.Logger
}

// NewServer builds the router. journal may be nil, which disables history.
func NewServer(listen string, commands Commands, reader Reader, journal storage.Journal, logger *zap.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		engine:   gin.New(),
		commands: commands,
		reader:   reader,
		journal:  journal,
		logger:   logger.Named("api"),
	}
	s.engine.Use(s.recovery(), s.requestLogger())
	s.routes()

	s.srv = &http.Server{
		Addr:              listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

func (s *Server) routes() {
	s.engine.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := s.engine.Group("/v1", requireUser())
	{
		v1.POST("/trades/start", s.startTrade)
		v1.POST("/trades/buy", s.buyNow)
		v1.POST("/trades/sell", s.sellNow)
		v1.POST("/trades/stop", s.stopTrade)

		v1.GET("/status", s.status)
		v1.GET("/profit", s.profit)
		v1.GET("/profit-target", s.profitTarget)
		v1.GET("/history", s.history)
	}
}

// Mount serves h for GET path outside the user-scoped group.
func (s *Server) Mount(path string, h http.Handler) {
	s.engine.GET(path, gin.WrapH(h))
}

// Handler returns the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start listens in the background. Listen errors are returned immediately.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	s.logger.Info("🌐 HTTP API listening", zap.String("addr", ln.Addr().String()))

	go func() {
		if err := s.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("HTTP server stopped", zap.Error(err))
		}
	}()
	return nil
}

// Shutdown stops accepting requests and waits for in-flight ones.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
