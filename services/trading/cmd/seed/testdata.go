package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/AfshinJalili/stocktrade/services/trading/internal/storage"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	// nearCeilingUserID holds a balance one unit below the default ceiling
	// and 10 AAPL, so selling a single share trips the ceiling.
	nearCeilingUserID = uuid.MustParse("00000000-0000-0000-0000-000000000003")
	emptyUserID       = uuid.MustParse("00000000-0000-0000-0000-000000000004")

	nearCeilingBalance = decimal.RequireFromString("999999999999.00")
	nearCeilingShares  = int64(10)
)

type testDataStore interface {
	storage.Seeder
	RunInTx(ctx context.Context, userID uuid.UUID, fn func(storage.Tx) error) error
}

func seedTestData(ctx context.Context, s testDataStore) error {
	if err := createAccount(ctx, s, nearCeilingUserID, nearCeilingBalance); err != nil {
		return err
	}
	aapl := storage.DemoInstruments[0]
	err := s.RunInTx(ctx, nearCeilingUserID, func(tx storage.Tx) error {
		return tx.UpsertHolding(ctx, nearCeilingUserID, aapl.ID, nearCeilingShares, aapl.ReferencePrice)
	})
	if err != nil {
		return fmt.Errorf("seed holding for %s: %w", nearCeilingUserID, err)
	}

	return createAccount(ctx, s, emptyUserID, decimal.Zero)
}

func createAccount(ctx context.Context, s storage.Seeder, userID uuid.UUID, balance decimal.Decimal) error {
	if err := s.CreateAccount(ctx, userID, balance); err != nil && !errors.Is(err, storage.ErrAccountExists) {
		return fmt.Errorf("seed account %s: %w", userID, err)
	}
	return nil
}
