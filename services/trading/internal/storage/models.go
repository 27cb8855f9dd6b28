package storage

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Account struct {
	UserID      uuid.UUID
	CashBalance decimal.Decimal
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

type Instrument struct {
	ID             uuid.UUID
	Symbol         string
	Name           string
	ReferencePrice decimal.Decimal
	UpdatedAt      time.Time
}

// Holding exists only while Quantity is positive.
type Holding struct {
	UserID       uuid.UUID
	InstrumentID uuid.UUID
	Quantity     int64
	AverageCost  decimal.Decimal
	UpdatedAt    time.Time
}

// HoldingView is a holding joined with its instrument for display.
type HoldingView struct {
	InstrumentID uuid.UUID
	Symbol       string
	Name         string
	Quantity     int64
	AverageCost  decimal.Decimal
	UpdatedAt    time.Time
}
