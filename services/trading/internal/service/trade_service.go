package service

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/AfshinJalili/stocktrade/libs/trace"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"
)

const (
	SideBuy  = "buy"
	SideSell = "sell"

	averageCostScale = 8
	publishTimeout   = 2 * time.Second
)

type Ledger interface {
	RunInTx(ctx context.Context, userID uuid.UUID, fn func(storage.Tx) error) error
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ListHoldings(ctx context.Context, userID uuid.UUID) ([]storage.HoldingView, error)
}

type Catalog interface {
	LookupByID(ctx context.Context, id uuid.UUID) (storage.Instrument, error)
	SearchBySymbol(ctx context.Context, fragment string) ([]storage.Instrument, error)
	ListAll(ctx context.Context) ([]storage.Instrument, error)
}

type Publisher interface {
	PublishJSON(ctx context.Context, topic, key string, value any) (int32, int64, error)
}

type TradeInput struct {
	UserID       uuid.UUID
	InstrumentID uuid.UUID
	Quantity     int64
}

// TradeReceipt describes a committed trade. Amount is the cost of a buy or
// the proceeds of a sell; Balance is the cash balance after the trade.
type TradeReceipt struct {
	TradeID      uuid.UUID
	Side         string
	UserID       uuid.UUID
	InstrumentID uuid.UUID
	Symbol       string
	Quantity     int64
	Price        decimal.Decimal
	Amount       decimal.Decimal
	Balance      decimal.Decimal
	ExecutedAt   time.Time
}

type TradeService struct {
	ledger     Ledger
	catalog    Catalog
	publisher  Publisher
	tradeTopic string
	logger     *slog.Logger
	metrics    *Metrics
	tracer     oteltrace.Tracer
	now        func() time.Time
}

func NewTradeService(ledger Ledger, catalog Catalog, logger *slog.Logger, metrics *Metrics) *TradeService {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeService{
		ledger:  ledger,
		catalog: catalog,
		logger:  logger,
		metrics: metrics,
		tracer:  trace.Tracer("trading/service"),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// WithEvents enables trade.executed publishing to topic.
func (s *TradeService) WithEvents(publisher Publisher, topic string) *TradeService {
	s.publisher = publisher
	s.tradeTopic = topic
	return s
}

type correlationKey struct{}

// WithCorrelationID tags ctx so published events carry the request id.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, correlationKey{}, id)
}

func correlationID(ctx context.Context) string {
	id, _ := ctx.Value(correlationKey{}).(string)
	return id
}

func (s *TradeService) Buy(ctx context.Context, in TradeInput) (*TradeReceipt, error) {
	return s.execute(ctx, SideBuy, in, s.applyBuy)
}

func (s *TradeService) Sell(ctx context.Context, in TradeInput) (*TradeReceipt, error) {
	return s.execute(ctx, SideSell, in, s.applySell)
}

type applyFunc func(ctx context.Context, tx storage.Tx, in TradeInput, price decimal.Decimal) (amount, balance decimal.Decimal, err error)

func (s *TradeService) execute(ctx context.Context, side string, in TradeInput, apply applyFunc) (*TradeReceipt, error) {
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "trade."+side, oteltrace.WithAttributes(
		attribute.String("user_id", in.UserID.String()),
		attribute.String("instrument_id", in.InstrumentID.String()),
		attribute.Int64("quantity", in.Quantity),
	))
	defer span.End()

	receipt, err := s.run(ctx, side, in, apply)
	if err != nil {
		code := Code(err)
		span.SetAttributes(attribute.String("result", code))
		if code == CodeStorageFailure {
			span.RecordError(err)
			span.SetStatus(codes.Error, code)
			s.logger.Error("trade failed", "side", side, "user_id", in.UserID, "instrument_id", in.InstrumentID, "error", err)
		} else {
			s.logger.Info("trade rejected", "side", side, "user_id", in.UserID, "instrument_id", in.InstrumentID, "quantity", in.Quantity, "reason", code)
		}
		s.metrics.ObserveTrade(side, code, 0, time.Since(start))
		return nil, err
	}

	amount, _ := receipt.Amount.Float64()
	s.metrics.ObserveTrade(side, "ok", amount, time.Since(start))
	span.SetAttributes(attribute.String("trade_id", receipt.TradeID.String()))
	s.logger.Info("trade executed",
		"trade_id", receipt.TradeID,
		"side", side,
		"user_id", in.UserID,
		"symbol", receipt.Symbol,
		"quantity", receipt.Quantity,
		"amount", receipt.Amount.StringFixed(2),
	)
	s.publish(ctx, receipt)
	return receipt, nil
}

func (s *TradeService) run(ctx context.Context, side string, in TradeInput, apply applyFunc) (*TradeReceipt, error) {
	if err := validateTrade(in); err != nil {
		return nil, err
	}

	inst, err := s.catalog.LookupByID(ctx, in.InstrumentID)
	if err != nil {
		return nil, classify(err)
	}

	var amount, balance decimal.Decimal
	err = s.ledger.RunInTx(ctx, in.UserID, func(tx storage.Tx) error {
		var applyErr error
		amount, balance, applyErr = apply(ctx, tx, in, inst.ReferencePrice)
		return applyErr
	})
	if err != nil {
		return nil, classify(err)
	}

	return &TradeReceipt{
		TradeID:      uuid.New(),
		Side:         side,
		UserID:       in.UserID,
		InstrumentID: inst.ID,
		Symbol:       inst.Symbol,
		Quantity:     in.Quantity,
		Price:        inst.ReferencePrice,
		Amount:       amount,
		Balance:      balance,
		ExecutedAt:   s.now(),
	}, nil
}

func (s *TradeService) applyBuy(ctx context.Context, tx storage.Tx, in TradeInput, price decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	balance, err := tx.GetBalance(ctx, in.UserID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	qty := decimal.NewFromInt(in.Quantity)
	totalCost := price.Mul(qty)
	if balance.LessThan(totalCost) {
		return decimal.Zero, decimal.Zero, ErrInsufficientBalance
	}
	newBalance := balance.Sub(totalCost)
	if err := tx.SetBalance(ctx, in.UserID, newBalance); err != nil {
		return decimal.Zero, decimal.Zero, err
	}

	holding, err := tx.GetHolding(ctx, in.UserID, in.InstrumentID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	newQty, avgCost := in.Quantity, price
	if holding != nil {
		newQty = holding.Quantity + in.Quantity
		if newQty < holding.Quantity {
			return decimal.Zero, decimal.Zero, invalid("quantity overflows holding")
		}
		avgCost = weightedAverage(holding.Quantity, holding.AverageCost, totalCost, newQty)
	}
	if err := tx.UpsertHolding(ctx, in.UserID, in.InstrumentID, newQty, avgCost); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return totalCost, newBalance, nil
}

func (s *TradeService) applySell(ctx context.Context, tx storage.Tx, in TradeInput, price decimal.Decimal) (decimal.Decimal, decimal.Decimal, error) {
	holding, err := tx.GetHolding(ctx, in.UserID, in.InstrumentID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	if holding == nil || holding.Quantity < in.Quantity {
		return decimal.Zero, decimal.Zero, ErrInsufficientHolding
	}

	balance, err := tx.GetBalance(ctx, in.UserID)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	proceeds := price.Mul(decimal.NewFromInt(in.Quantity))
	newBalance := balance.Add(proceeds)
	if err := tx.SetBalance(ctx, in.UserID, newBalance); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	// Average cost is unchanged by a sell; zero quantity removes the row.
	if err := tx.UpsertHolding(ctx, in.UserID, in.InstrumentID, holding.Quantity-in.Quantity, holding.AverageCost); err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	return proceeds, newBalance, nil
}

// weightedAverage returns (oldQty*oldAvg + cost) / newQty at column scale.
func weightedAverage(oldQty int64, oldAvg, cost decimal.Decimal, newQty int64) decimal.Decimal {
	total := oldAvg.Mul(decimal.NewFromInt(oldQty)).Add(cost)
	return total.DivRound(decimal.NewFromInt(newQty), averageCostScale)
}

func validateTrade(in TradeInput) error {
	if in.UserID == uuid.Nil {
		return invalid("user_id is required")
	}
	if in.InstrumentID == uuid.Nil {
		return invalid("instrument_id is required")
	}
	if in.Quantity <= 0 {
		return invalid("quantity must be positive")
	}
	return nil
}

func (s *TradeService) publish(ctx context.Context, receipt *TradeReceipt) {
	if s.publisher == nil || s.tradeTopic == "" {
		return
	}
	event, err := newTradeExecutedEvent(receipt, correlationID(ctx))
	if err != nil {
		s.metrics.IncEventPublish("error")
		s.logger.Error("build trade event failed", "trade_id", receipt.TradeID, "error", err)
		return
	}

	// The trade is already committed, so the caller's cancellation must not
	// abort the publish.
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), publishTimeout)
	defer cancel()
	if _, _, err := s.publisher.PublishJSON(pubCtx, s.tradeTopic, receipt.UserID.String(), event); err != nil {
		s.metrics.IncEventPublish("error")
		s.logger.Warn("trade event publish failed", "trade_id", receipt.TradeID, "topic", s.tradeTopic, "error", err)
		return
	}
	s.metrics.IncEventPublish("success")
}

func (s *TradeService) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if userID == uuid.Nil {
		return decimal.Zero, invalid("user_id is required")
	}
	balance, err := s.ledger.GetBalance(ctx, userID)
	if err != nil {
		s.metrics.IncBalanceLookup("error")
		return decimal.Zero, classify(err)
	}
	s.metrics.IncBalanceLookup("success")
	return balance, nil
}

func (s *TradeService) GetHoldings(ctx context.Context, userID uuid.UUID) ([]storage.HoldingView, error) {
	if userID == uuid.Nil {
		return nil, invalid("user_id is required")
	}
	views, err := s.ledger.ListHoldings(ctx, userID)
	if err != nil {
		return nil, classify(err)
	}
	return views, nil
}

func (s *TradeService) GetInstrument(ctx context.Context, id uuid.UUID) (storage.Instrument, error) {
	if id == uuid.Nil {
		return storage.Instrument{}, invalid("instrument_id is required")
	}
	inst, err := s.catalog.LookupByID(ctx, id)
	if err != nil {
		return storage.Instrument{}, classify(err)
	}
	return inst, nil
}

func (s *TradeService) SearchInstruments(ctx context.Context, fragment string) ([]storage.Instrument, error) {
	fragment = strings.TrimSpace(fragment)
	if fragment == "" {
		return nil, invalid("symbol is required")
	}
	out, err := s.catalog.SearchBySymbol(ctx, fragment)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}

func (s *TradeService) ListInstruments(ctx context.Context) ([]storage.Instrument, error) {
	out, err := s.catalog.ListAll(ctx)
	if err != nil {
		return nil, classify(err)
	}
	return out, nil
}
