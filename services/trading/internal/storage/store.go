package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var (
	ErrAccountNotFound        = errors.New("account not found")
	ErrAccountExists          = errors.New("account already exists")
	ErrInstrumentNotFound     = errors.New("instrument not found")
	ErrBalanceCeilingExceeded = errors.New("balance ceiling exceeded")
	ErrNegativeBalance        = errors.New("negative balance")
	ErrInvalidHolding         = errors.New("invalid holding")
	ErrAccountNotLocked       = errors.New("account not locked by transaction")
)

// DefaultBalanceCeiling is the largest value NUMERIC(14,2) can hold.
var DefaultBalanceCeiling = decimal.RequireFromString("999999999999.99")

// Tx is a unit of work scoped to one locked account. Writes become visible
// only when the enclosing RunInTx commits.
type Tx interface {
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	SetBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error
	// GetHolding returns nil, nil when the user holds none of the instrument.
	GetHolding(ctx context.Context, userID, instrumentID uuid.UUID) (*Holding, error)
	// UpsertHolding deletes the row when quantity is zero.
	UpsertHolding(ctx context.Context, userID, instrumentID uuid.UUID, quantity int64, averageCost decimal.Decimal) error
}

// Store is implemented by PostgresStore and MemoryStore.
type Store interface {
	RunInTx(ctx context.Context, userID uuid.UUID, fn func(Tx) error) error
	GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error)
	ListHoldings(ctx context.Context, userID uuid.UUID) ([]HoldingView, error)
	GetInstrument(ctx context.Context, id uuid.UUID) (Instrument, error)
	SearchInstruments(ctx context.Context, fragment string) ([]Instrument, error)
	ListInstruments(ctx context.Context) ([]Instrument, error)
	CreateAccount(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error
	UpsertInstrument(ctx context.Context, inst Instrument) (Instrument, error)
}

// normalizeBalance rounds to cents the way a NUMERIC(14,2) column stores the
// value and bounds-checks the rounded result.
func normalizeBalance(balance, ceiling decimal.Decimal) (decimal.Decimal, error) {
	rounded := balance.Round(2)
	if rounded.IsNegative() {
		return decimal.Zero, ErrNegativeBalance
	}
	if rounded.GreaterThan(ceiling) {
		return decimal.Zero, ErrBalanceCeilingExceeded
	}
	return rounded, nil
}

func checkHolding(quantity int64, averageCost decimal.Decimal) error {
	if quantity < 0 {
		return fmt.Errorf("%w: quantity %d", ErrInvalidHolding, quantity)
	}
	if quantity > 0 && !averageCost.IsPositive() {
		return fmt.Errorf("%w: average cost %s", ErrInvalidHolding, averageCost)
	}
	return nil
}

func normalizeInstrument(inst Instrument) (Instrument, error) {
	inst.Symbol = strings.ToUpper(strings.TrimSpace(inst.Symbol))
	inst.Name = strings.TrimSpace(inst.Name)
	if inst.Symbol == "" {
		return Instrument{}, fmt.Errorf("symbol is required")
	}
	if !inst.ReferencePrice.IsPositive() {
		return Instrument{}, fmt.Errorf("reference price must be positive")
	}
	if inst.ID == uuid.Nil {
		inst.ID = uuid.New()
	}
	return inst, nil
}
