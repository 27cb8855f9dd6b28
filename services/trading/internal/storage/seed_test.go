package storage

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
)

func TestSeedDemoIsRepeatable(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore(DefaultBalanceCeiling)
	balance := decimal.RequireFromString("10000.00")

	for i := 0; i < 2; i++ {
		if err := SeedDemo(ctx, store, balance); err != nil {
			t.Fatalf("SeedDemo run %d: %v", i, err)
		}
	}

	got, err := store.GetBalance(ctx, DemoUserID)
	if err != nil || !got.Equal(balance) {
		t.Fatalf("expected seeded balance, got %s (%v)", got, err)
	}
	all, _ := store.ListInstruments(ctx)
	if len(all) != len(DemoInstruments) {
		t.Fatalf("expected %d instruments, got %d", len(DemoInstruments), len(all))
	}
	inst, err := store.GetInstrument(ctx, DemoInstruments[0].ID)
	if err != nil || inst.Symbol != "AAPL" {
		t.Fatalf("expected fixed demo id, got %+v (%v)", inst, err)
	}
}
