package consumer

import (
	"context"
	"errors"
	"testing"

	"github.com/AfshinJalili/stocktrade/libs/kafka"
	"github.com/IBM/sarama"
	"github.com/google/uuid"
)

type recordingCache struct {
	ids []uuid.UUID
}

func (r *recordingCache) Invalidate(id uuid.UUID) { r.ids = append(r.ids, id) }

func TestInstrumentHandlerInvalidates(t *testing.T) {
	cache := &recordingCache{}
	h := NewInstrumentHandler(cache, nil)
	id := uuid.New()

	msg := &sarama.ConsumerMessage{Value: []byte(`{"instrument_id":"` + id.String() + `","symbol":"AAPL","reference_price":"12.34"}`)}
	if err := h.HandleMessage(context.Background(), msg); err != nil {
		t.Fatalf("HandleMessage: %v", err)
	}
	if len(cache.ids) != 1 || cache.ids[0] != id {
		t.Fatalf("expected invalidation of %s, got %v", id, cache.ids)
	}
}

func TestInstrumentHandlerRejectsBadPayloads(t *testing.T) {
	cases := map[string]string{
		"not json":   `{`,
		"bad id":     `{"instrument_id":"abc"}`,
		"nil id":     `{"instrument_id":"00000000-0000-0000-0000-000000000000"}`,
		"bad price":  `{"instrument_id":"` + uuid.NewString() + `","reference_price":"x"}`,
		"zero price": `{"instrument_id":"` + uuid.NewString() + `","reference_price":"0"}`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			cache := &recordingCache{}
			h := NewInstrumentHandler(cache, nil)
			err := h.HandleMessage(context.Background(), &sarama.ConsumerMessage{Value: []byte(payload)})
			var dlqErr *kafka.DLQError
			if !errors.As(err, &dlqErr) {
				t.Fatalf("expected DLQError, got %v", err)
			}
			if len(cache.ids) != 0 {
				t.Fatalf("expected no invalidation")
			}
		})
	}
}
