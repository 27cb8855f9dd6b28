package service

import (
	"errors"
	"fmt"

	"github.com/AfshinJalili/stocktrade/services/trading/internal/storage"
)

var (
	ErrInvalidInput           = errors.New("invalid input")
	ErrInstrumentNotFound     = storage.ErrInstrumentNotFound
	ErrAccountNotFound        = storage.ErrAccountNotFound
	ErrInsufficientBalance    = errors.New("insufficient balance")
	ErrInsufficientHolding    = errors.New("insufficient holding")
	ErrBalanceCeilingExceeded = storage.ErrBalanceCeilingExceeded
	ErrNegativeBalance        = storage.ErrNegativeBalance
	ErrStorageFailure         = errors.New("storage failure")
)

const (
	CodeInvalidInput           = "INVALID_INPUT"
	CodeInstrumentNotFound     = "INSTRUMENT_NOT_FOUND"
	CodeAccountNotFound        = "ACCOUNT_NOT_FOUND"
	CodeInsufficientBalance    = "INSUFFICIENT_BALANCE"
	CodeInsufficientHolding    = "INSUFFICIENT_HOLDING"
	CodeBalanceCeilingExceeded = "BALANCE_CEILING_EXCEEDED"
	CodeNegativeBalance        = "NEGATIVE_BALANCE"
	CodeStorageFailure         = "STORAGE_FAILURE"
)

var taxonomy = []struct {
	err  error
	code string
}{
	{ErrInvalidInput, CodeInvalidInput},
	{ErrInstrumentNotFound, CodeInstrumentNotFound},
	{ErrAccountNotFound, CodeAccountNotFound},
	{ErrInsufficientBalance, CodeInsufficientBalance},
	{ErrInsufficientHolding, CodeInsufficientHolding},
	{ErrBalanceCeilingExceeded, CodeBalanceCeilingExceeded},
	{ErrNegativeBalance, CodeNegativeBalance},
	{ErrStorageFailure, CodeStorageFailure},
}

// Code maps err onto its stable failure code. Errors outside the taxonomy
// report STORAGE_FAILURE; nil reports "".
func Code(err error) string {
	if err == nil {
		return ""
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return t.code
		}
	}
	return CodeStorageFailure
}

// classify leaves taxonomy errors untouched and wraps everything else, such
// as driver errors and context cancellation, in ErrStorageFailure.
func classify(err error) error {
	if err == nil {
		return nil
	}
	for _, t := range taxonomy {
		if errors.Is(err, t.err) {
			return err
		}
	}
	return fmt.Errorf("%w: %w", ErrStorageFailure, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
