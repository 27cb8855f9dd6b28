package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/AfshinJalili/stocktrade/libs/auth"
	"github.com/AfshinJalili/stocktrade/libs/httpmiddleware"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/service"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/storage"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const defaultTradeTimeout = 5 * time.Second

type TradeService interface {
	Buy(ctx context.Context, in service.TradeInput) (*service.TradeReceipt, error)
	Sell(ctx context.Context, in service.TradeInput) (*service.TradeReceipt, error)
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	GetHoldings(ctx context.Context, userID uuid.UUID) ([]storage.HoldingView, error)
	GetInstrument(ctx context.Context, id uuid.UUID) (storage.Instrument, error)
	SearchInstruments(ctx context.Context, fragment string) ([]storage.Instrument, error)
	ListInstruments(ctx context.Context) ([]storage.Instrument, error)
}

type Handler struct {
	Service      TradeService
	Logger       *slog.Logger
	TradeTimeout time.Duration
}

type tradeRequest struct {
	InstrumentID string `json:"instrument_id"`
	Quantity     int64  `json:"quantity"`
}

type tradeResponse struct {
	TradeID      string `json:"trade_id"`
	Side         string `json:"side"`
	InstrumentID string `json:"instrument_id"`
	Symbol       string `json:"symbol"`
	Quantity     int64  `json:"quantity"`
	Price        string `json:"price"`
	Amount       string `json:"amount"`
	Balance      string `json:"balance"`
	ExecutedAt   string `json:"executed_at"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

type holdingItem struct {
	InstrumentID string `json:"instrument_id"`
	Symbol       string `json:"symbol"`
	Name         string `json:"name"`
	Quantity     int64  `json:"quantity"`
	AverageCost  string `json:"average_cost"`
}

type holdingsResponse struct {
	Holdings []holdingItem `json:"holdings"`
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func New(svc TradeService, logger *slog.Logger, tradeTimeout time.Duration) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if tradeTimeout <= 0 {
		tradeTimeout = defaultTradeTimeout
	}
	return &Handler{Service: svc, Logger: logger, TradeTimeout: tradeTimeout}
}

// Register mounts the public instrument routes and the authenticated account
// routes. tradeLimit, when set, guards only the trade endpoints.
func (h *Handler) Register(r gin.IRouter, jwtSecret []byte, tradeLimit gin.HandlerFunc) {
	r.GET("/instruments", h.ListInstruments)
	r.GET("/instruments/search", h.SearchInstruments)
	r.GET("/instruments/:id", h.GetInstrument)

	authed := r.Group("/", auth.Middleware(jwtSecret))
	authed.GET("/account/balance", h.GetBalance)
	authed.GET("/account/holdings", h.GetHoldings)

	trades := authed.Group("/trades")
	if tradeLimit != nil {
		trades.Use(tradeLimit)
	}
	trades.POST("/buy", h.Buy)
	trades.POST("/sell", h.Sell)
}

// UserKey keys the rate limiter by authenticated user.
func UserKey(c *gin.Context) string {
	if userID, ok := auth.UserIDFromContext(c); ok {
		return userID.String()
	}
	return ""
}

func (h *Handler) Buy(c *gin.Context) {
	h.trade(c, service.SideBuy, h.Service.Buy)
}

func (h *Handler) Sell(c *gin.Context) {
	h.trade(c, service.SideSell, h.Service.Sell)
}

type tradeFunc func(ctx context.Context, in service.TradeInput) (*service.TradeReceipt, error)

func (h *Handler) trade(c *gin.Context, side string, exec tradeFunc) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}

	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, http.StatusBadRequest, service.CodeInvalidInput, "invalid payload")
		return
	}
	instrumentID, err := uuid.Parse(req.InstrumentID)
	if err != nil || instrumentID == uuid.Nil {
		writeError(c, http.StatusBadRequest, service.CodeInvalidInput, "instrument_id must be a UUID")
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), h.TradeTimeout)
	defer cancel()
	ctx = service.WithCorrelationID(ctx, httpmiddleware.RequestIDFrom(c))

	receipt, err := exec(ctx, service.TradeInput{UserID: userID, InstrumentID: instrumentID, Quantity: req.Quantity})
	if err != nil {
		h.writeServiceError(c, side, err)
		return
	}

	c.JSON(http.StatusOK, tradeResponse{
		TradeID:      receipt.TradeID.String(),
		Side:         receipt.Side,
		InstrumentID: receipt.InstrumentID.String(),
		Symbol:       receipt.Symbol,
		Quantity:     receipt.Quantity,
		Price:        receipt.Price.StringFixed(2),
		Amount:       receipt.Amount.StringFixed(2),
		Balance:      receipt.Balance.StringFixed(2),
		ExecutedAt:   receipt.ExecutedAt.UTC().Format(time.RFC3339Nano),
	})
}

func (h *Handler) GetBalance(c *gin.Context) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	balance, err := h.Service.GetBalance(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "balance", err)
		return
	}
	c.JSON(http.StatusOK, balanceResponse{Balance: balance.StringFixed(2)})
}

func (h *Handler) GetHoldings(c *gin.Context) {
	userID, ok := auth.UserIDFromContext(c)
	if !ok {
		writeError(c, http.StatusUnauthorized, "UNAUTHORIZED", "missing user")
		return
	}
	views, err := h.Service.GetHoldings(c.Request.Context(), userID)
	if err != nil {
		h.writeServiceError(c, "holdings", err)
		return
	}
	items := make([]holdingItem, 0, len(views))
	for _, v := range views {
		items = append(items, holdingItem{
			InstrumentID: v.InstrumentID.String(),
			Symbol:       v.Symbol,
			Name:         v.Name,
			Quantity:     v.Quantity,
			AverageCost:  v.AverageCost.String(),
		})
	}
	c.JSON(http.StatusOK, holdingsResponse{Holdings: items})
}

func (h *Handler) writeServiceError(c *gin.Context, op string, err error) {
	code := service.Code(err)
	status := statusForCode(code)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		h.Logger.Error("request failed", "op", op, "request_id", httpmiddleware.RequestIDFrom(c), "error", err)
		message = "storage unavailable"
		if errors.Is(err, context.DeadlineExceeded) {
			message = "trade timed out"
		}
	}
	writeError(c, status, code, message)
}

func statusForCode(code string) int {
	switch code {
	case service.CodeInvalidInput:
		return http.StatusBadRequest
	case service.CodeInstrumentNotFound, service.CodeAccountNotFound:
		return http.StatusNotFound
	case service.CodeInsufficientBalance, service.CodeInsufficientHolding,
		service.CodeBalanceCeilingExceeded, service.CodeNegativeBalance:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusServiceUnavailable
	}
}

func writeError(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{Code: code, Message: message})
}
