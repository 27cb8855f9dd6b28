package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	DemoUserID   = uuid.MustParse("00000000-0000-0000-0000-000000000001")
	TraderUserID = uuid.MustParse("00000000-0000-0000-0000-000000000002")
)

// DemoInstruments is the dev catalog loaded by SeedDemo.
var DemoInstruments = []Instrument{
	{ID: uuid.MustParse("10000000-0000-0000-0000-000000000001"), Symbol: "AAPL", Name: "Apple Inc.", ReferencePrice: decimal.RequireFromString("189.50")},
	{ID: uuid.MustParse("10000000-0000-0000-0000-000000000002"), Symbol: "MSFT", Name: "Microsoft Corporation", ReferencePrice: decimal.RequireFromString("415.20")},
	{ID: uuid.MustParse("10000000-0000-0000-0000-000000000003"), Symbol: "GOOGL", Name: "Alphabet Inc.", ReferencePrice: decimal.RequireFromString("172.35")},
	{ID: uuid.MustParse("10000000-0000-0000-0000-000000000004"), Symbol: "AMZN", Name: "Amazon.com, Inc.", ReferencePrice: decimal.RequireFromString("181.05")},
	{ID: uuid.MustParse("10000000-0000-0000-0000-000000000005"), Symbol: "TSLA", Name: "Tesla, Inc.", ReferencePrice: decimal.RequireFromString("248.42")},
}

type Seeder interface {
	CreateAccount(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error
	UpsertInstrument(ctx context.Context, inst Instrument) (Instrument, error)
}

// SeedDemo creates the demo accounts and instruments. Existing accounts are
// left untouched, so it can run repeatedly.
func SeedDemo(ctx context.Context, s Seeder, balance decimal.Decimal) error {
	for _, userID := range []uuid.UUID{DemoUserID, TraderUserID} {
		if err := s.CreateAccount(ctx, userID, balance); err != nil && !errors.Is(err, ErrAccountExists) {
			return fmt.Errorf("seed account %s: %w", userID, err)
		}
	}
	for _, inst := range DemoInstruments {
		if _, err := s.UpsertInstrument(ctx, inst); err != nil {
			return fmt.Errorf("seed instrument %s: %w", inst.Symbol, err)
		}
	}
	return nil
}
