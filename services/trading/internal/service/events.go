package service

import (
	"time"

	"github.com/AfshinJalili/stocktrade/libs/kafka"
)

const (
	EventTypeTradeExecuted    = "trade.executed"
	tradeExecutedEventVersion = 1
)

// TradeExecutedEvent is published after a trade commits. Amounts are decimal
// strings.
type TradeExecutedEvent struct {
	kafka.Envelope
	TradeID      string    `json:"trade_id"`
	UserID       string    `json:"user_id"`
	InstrumentID string    `json:"instrument_id"`
	Symbol       string    `json:"symbol"`
	Side         string    `json:"side"`
	Quantity     int64     `json:"quantity"`
	Price        string    `json:"price"`
	Amount       string    `json:"amount"`
	Balance      string    `json:"balance"`
	ExecutedAt   time.Time `json:"executed_at"`
}

func newTradeExecutedEvent(r *TradeReceipt, correlationID string) (TradeExecutedEvent, error) {
	env, err := kafka.NewEnvelope(
		kafka.DeterministicEventID(EventTypeTradeExecuted, r.TradeID.String()),
		EventTypeTradeExecuted,
		tradeExecutedEventVersion,
		correlationID,
		r.ExecutedAt,
	)
	if err != nil {
		return TradeExecutedEvent{}, err
	}
	return TradeExecutedEvent{
		Envelope:     env,
		TradeID:      r.TradeID.String(),
		UserID:       r.UserID.String(),
		InstrumentID: r.InstrumentID.String(),
		Symbol:       r.Symbol,
		Side:         r.Side,
		Quantity:     r.Quantity,
		Price:        r.Price.StringFixed(2),
		Amount:       r.Amount.StringFixed(2),
		Balance:      r.Balance.StringFixed(2),
		ExecutedAt:   r.ExecutedAt,
	}, nil
}
