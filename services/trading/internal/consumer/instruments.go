package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/AfshinJalili/stocktrade/libs/kafka"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// InstrumentUpdatedEvent announces a reference price change made outside
// this service.
type InstrumentUpdatedEvent struct {
	InstrumentID   string `json:"instrument_id"`
	Symbol         string `json:"symbol"`
	ReferencePrice string `json:"reference_price"`
}

type Invalidator interface {
	Invalidate(id uuid.UUID)
}

type InstrumentHandler struct {
	cache  Invalidator
	logger *slog.Logger
}

func NewInstrumentHandler(cache Invalidator, logger *slog.Logger) *InstrumentHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &InstrumentHandler{cache: cache, logger: logger}
}

// HandleMessage drops the cached instrument. Malformed payloads are sent to
// the dead-letter topic since redelivery cannot fix them.
func (h *InstrumentHandler) HandleMessage(_ context.Context, msg *sarama.ConsumerMessage) error {
	var event InstrumentUpdatedEvent
	if err := json.Unmarshal(msg.Value, &event); err != nil {
		return kafka.DLQ(fmt.Errorf("decode instrument event: %w", err), "decode")
	}
	id, err := uuid.Parse(event.InstrumentID)
	if err != nil || id == uuid.Nil {
		return kafka.DLQ(fmt.Errorf("invalid instrument_id %q", event.InstrumentID), "validation")
	}
	if event.ReferencePrice != "" {
		if price, err := decimal.NewFromString(event.ReferencePrice); err != nil || !price.IsPositive() {
			return kafka.DLQ(fmt.Errorf("invalid reference_price %q", event.ReferencePrice), "validation")
		}
	}

	h.cache.Invalidate(id)
	h.logger.Info("instrument updated", "instrument_id", id, "symbol", event.Symbol, "reference_price", event.ReferencePrice)
	return nil
}
