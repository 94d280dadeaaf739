package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rovshanmuradov/spot-trading-bot/internal/bot"
	"github.com/rovshanmuradov/spot-trading-bot/internal/exchange"
	"github.com/rovshanmuradov/spot-trading-bot/internal/state"
	"github.com/rovshanmuradov/spot-trading-bot/internal/storage"
	"go.uber.org/zap"
)

const maxHistory = 500

type errorResponse struct {
	Error string `json:"error"`
}

func userID(c *gin.Context) string {
	return c.GetString("user_id")
}

func (s *Server) startTrade(c *gin.Context) {
	var cmd bot.StartTradeCommand
	if !bind(c, &cmd) {
		return
	}
	cmd.UserID = userID(c)
	s.send(c, cmd, http.StatusCreated)
}

func (s *Server) buyNow(c *gin.Context) {
	var cmd bot.BuyNowCommand
	if !bind(c, &cmd) {
		return
	}
	cmd.UserID = userID(c)
	s.send(c, cmd, http.StatusOK)
}

func (s *Server) sellNow(c *gin.Context) {
	var cmd bot.SellNowCommand
	if !bind(c, &cmd) {
		return
	}
	cmd.UserID = userID(c)
	s.send(c, cmd, http.StatusAccepted)
}

func (s *Server) stopTrade(c *gin.Context) {
	s.send(c, bot.StopTradeCommand{UserID: userID(c)}, http.StatusAccepted)
}

func (s *Server) send(c *gin.Context, cmd bot.TradingCommand, okStatus int) {
	result, err := s.commands.Send(c.Request.Context(), cmd)
	if err != nil {
		s.fail(c, err)
		return
	}
	if result == nil {
		c.JSON(okStatus, gin.H{"status": "ok"})
		return
	}
	c.JSON(okStatus, result)
}

func (s *Server) status(c *gin.Context) {
	c.JSON(http.StatusOK, s.reader.GetStatus(c.Request.Context(), userID(c)))
}

func (s *Server) profit(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"accumulated_profit": s.reader.GetAccumulatedProfit(c.Request.Context(), userID(c)),
	})
}

func (s *Server) profitTarget(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"profit_target": s.reader.GetProfitTarget(c.Request.Context(), userID(c)),
	})
}

func (s *Server) history(c *gin.Context) {
	if s.journal == nil {
		c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "trade journal disabled"})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be a positive integer"})
			return
		}
		limit = min(n, maxHistory)
	}

	trades, err := s.journal.ListTrades(c.Request.Context(), userID(c), limit)
	if err != nil {
		s.fail(c, err)
		return
	}

	if c.Query("format") == "csv" {
		c.Header("Content-Type", "text/csv")
		c.Header("Content-Disposition", `attachment; filename="trades.csv"`)
		c.Status(http.StatusOK)
		if err := storage.WriteCSV(c.Writer, trades); err != nil {
			s.logger.Error("CSV export failed", zap.Error(err))
		}
		return
	}
	c.JSON(http.StatusOK, gin.H{"trades": trades})
}

func bind(c *gin.Context, dst any) bool {
	if err := c.ShouldBindJSON(dst); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, errorResponse{Error: "malformed request body: " + err.Error()})
		return false
	}
	return true
}

func (s *Server) fail(c *gin.Context, err error) {
	code := statusFor(err)
	if code >= http.StatusInternalServerError {
		s.logger.Error("Request failed",
			zap.String("path", c.FullPath()),
			zap.String("user_id", userID(c)),
			zap.Error(err))
	}
	c.AbortWithStatusJSON(code, errorResponse{Error: err.Error()})
}

// statusFor maps the error taxonomy onto HTTP codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, bot.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, exchange.ErrCredentialsMissing):
		return http.StatusForbidden
	case errors.Is(err, bot.ErrInsufficientBalance), errors.Is(err, exchange.ErrInsufficientFunds):
		return http.StatusUnprocessableEntity
	case errors.Is(err, exchange.ErrSymbolUnavailable):
		return http.StatusNotFound
	case errors.Is(err, exchange.ErrExchangeRejected):
		return http.StatusBadGateway
	case errors.Is(err, exchange.ErrNetwork), errors.Is(err, exchange.ErrInvalidPriceData):
		return http.StatusServiceUnavailable
	case errors.Is(err, state.ErrSellInProgress), errors.Is(err, state.ErrBuyInProgress):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
