package storage

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

func newSeededMemory(t *testing.T, balance string) (*MemoryStore, uuid.UUID, Instrument) {
	t.Helper()
	ctx := context.Background()
	store := NewMemoryStore(decimal.RequireFromString("1000.00"))
	userID := uuid.New()
	if err := store.CreateAccount(ctx, userID, decimal.RequireFromString(balance)); err != nil {
		t.Fatalf("CreateAccount: %v", err)
	}
	inst, err := store.UpsertInstrument(ctx, Instrument{Symbol: "aapl", Name: "Apple Inc.", ReferencePrice: decimal.RequireFromString("10.00")})
	if err != nil {
		t.Fatalf("UpsertInstrument: %v", err)
	}
	return store, userID, inst
}

func TestMemoryRunInTxCommits(t *testing.T) {
	ctx := context.Background()
	store, userID, inst := newSeededMemory(t, "100.00")

	err := store.RunInTx(ctx, userID, func(tx Tx) error {
		if err := tx.SetBalance(ctx, userID, decimal.RequireFromString("80.00")); err != nil {
			return err
		}
		return tx.UpsertHolding(ctx, userID, inst.ID, 2, decimal.RequireFromString("10"))
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}

	balance, err := store.GetBalance(ctx, userID)
	if err != nil || !balance.Equal(decimal.RequireFromString("80")) {
		t.Fatalf("expected balance 80, got %s (%v)", balance, err)
	}
	views, err := store.ListHoldings(ctx, userID)
	if err != nil {
		t.Fatalf("ListHoldings: %v", err)
	}
	if len(views) != 1 || views[0].Symbol != "AAPL" || views[0].Quantity != 2 {
		t.Fatalf("unexpected holdings %+v", views)
	}
}

func TestMemoryRunInTxRollsBackOnError(t *testing.T) {
	ctx := context.Background()
	store, userID, inst := newSeededMemory(t, "100.00")
	boom := errors.New("boom")

	err := store.RunInTx(ctx, userID, func(tx Tx) error {
		_ = tx.SetBalance(ctx, userID, decimal.RequireFromString("1"))
		_ = tx.UpsertHolding(ctx, userID, inst.ID, 5, decimal.RequireFromString("10"))
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	balance, _ := store.GetBalance(ctx, userID)
	if !balance.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected unchanged balance, got %s", balance)
	}
	views, _ := store.ListHoldings(ctx, userID)
	if len(views) != 0 {
		t.Fatalf("expected no holdings, got %+v", views)
	}
}

func TestMemoryRunInTxRollsBackOnPanic(t *testing.T) {
	ctx := context.Background()
	store, userID, _ := newSeededMemory(t, "100.00")

	func() {
		defer func() { _ = recover() }()
		_ = store.RunInTx(ctx, userID, func(tx Tx) error {
			_ = tx.SetBalance(ctx, userID, decimal.RequireFromString("1"))
			panic("fn panicked")
		})
	}()

	balance, _ := store.GetBalance(ctx, userID)
	if !balance.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected unchanged balance, got %s", balance)
	}
	// The account lock must have been released.
	if err := store.RunInTx(ctx, userID, func(Tx) error { return nil }); err != nil {
		t.Fatalf("RunInTx after panic: %v", err)
	}
}

func TestMemoryRunInTxRollsBackOnCancel(t *testing.T) {
	store, userID, _ := newSeededMemory(t, "100.00")
	ctx, cancel := context.WithCancel(context.Background())

	err := store.RunInTx(ctx, userID, func(tx Tx) error {
		cancel()
		return tx.SetBalance(ctx, userID, decimal.RequireFromString("1"))
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	balance, _ := store.GetBalance(context.Background(), userID)
	if !balance.Equal(decimal.RequireFromString("100")) {
		t.Fatalf("expected unchanged balance, got %s", balance)
	}
}

func TestMemoryRunInTxMissingAccount(t *testing.T) {
	store, _, _ := newSeededMemory(t, "1")
	called := false
	err := store.RunInTx(context.Background(), uuid.New(), func(Tx) error {
		called = true
		return nil
	})
	if !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
	if called {
		t.Fatalf("fn must not run for a missing account")
	}
}

func TestMemorySetBalanceBounds(t *testing.T) {
	ctx := context.Background()
	store, userID, _ := newSeededMemory(t, "100.00")

	err := store.RunInTx(ctx, userID, func(tx Tx) error {
		return tx.SetBalance(ctx, userID, decimal.RequireFromString("1000.01"))
	})
	if !errors.Is(err, ErrBalanceCeilingExceeded) {
		t.Fatalf("expected ceiling error, got %v", err)
	}
	err = store.RunInTx(ctx, userID, func(tx Tx) error {
		return tx.SetBalance(ctx, userID, decimal.RequireFromString("-0.01"))
	})
	if !errors.Is(err, ErrNegativeBalance) {
		t.Fatalf("expected negative balance error, got %v", err)
	}
	err = store.RunInTx(ctx, userID, func(tx Tx) error {
		return tx.SetBalance(ctx, userID, decimal.RequireFromString("1000.00"))
	})
	if err != nil {
		t.Fatalf("expected balance at ceiling to be accepted, got %v", err)
	}
}

func TestMemorySetBalanceRoundsBeforeCeiling(t *testing.T) {
	ctx := context.Background()
	store, userID, _ := newSeededMemory(t, "100.00")

	err := store.RunInTx(ctx, userID, func(tx Tx) error {
		return tx.SetBalance(ctx, userID, decimal.RequireFromString("1000.005"))
	})
	if !errors.Is(err, ErrBalanceCeilingExceeded) {
		t.Fatalf("expected value rounding above the ceiling to be rejected, got %v", err)
	}

	err = store.RunInTx(ctx, userID, func(tx Tx) error {
		return tx.SetBalance(ctx, userID, decimal.RequireFromString("1000.004"))
	})
	if err != nil {
		t.Fatalf("expected value rounding to the ceiling to be accepted, got %v", err)
	}
	balance, err := store.GetBalance(ctx, userID)
	if err != nil {
		t.Fatalf("GetBalance: %v", err)
	}
	if balance.String() != "1000" {
		t.Fatalf("expected stored balance 1000.00, got %s", balance.StringFixed(2))
	}

	if err := store.CreateAccount(ctx, uuid.New(), decimal.RequireFromString("1000.005")); !errors.Is(err, ErrBalanceCeilingExceeded) {
		t.Fatalf("expected CreateAccount to round before the ceiling check, got %v", err)
	}
}

func TestMemoryUpsertHoldingZeroDeletes(t *testing.T) {
	ctx := context.Background()
	store, userID, inst := newSeededMemory(t, "100.00")

	_ = store.RunInTx(ctx, userID, func(tx Tx) error {
		return tx.UpsertHolding(ctx, userID, inst.ID, 3, decimal.RequireFromString("10"))
	})
	err := store.RunInTx(ctx, userID, func(tx Tx) error {
		if err := tx.UpsertHolding(ctx, userID, inst.ID, 0, decimal.RequireFromString("10")); err != nil {
			return err
		}
		h, err := tx.GetHolding(ctx, userID, inst.ID)
		if err != nil {
			return err
		}
		if h != nil {
			t.Errorf("expected staged delete to hide holding, got %+v", h)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("RunInTx: %v", err)
	}
	views, _ := store.ListHoldings(ctx, userID)
	if len(views) != 0 {
		t.Fatalf("expected holding row removed, got %+v", views)
	}
}

func TestMemoryUpsertHoldingRejectsInvalid(t *testing.T) {
	ctx := context.Background()
	store, userID, inst := newSeededMemory(t, "100.00")

	err := store.RunInTx(ctx, userID, func(tx Tx) error {
		return tx.UpsertHolding(ctx, userID, inst.ID, -1, decimal.RequireFromString("10"))
	})
	if !errors.Is(err, ErrInvalidHolding) {
		t.Fatalf("expected invalid holding, got %v", err)
	}
	err = store.RunInTx(ctx, userID, func(tx Tx) error {
		return tx.UpsertHolding(ctx, userID, inst.ID, 1, decimal.Zero)
	})
	if !errors.Is(err, ErrInvalidHolding) {
		t.Fatalf("expected invalid holding for zero cost, got %v", err)
	}
}

func TestMemoryTxRejectsOtherAccount(t *testing.T) {
	ctx := context.Background()
	store, userID, _ := newSeededMemory(t, "100.00")
	err := store.RunInTx(ctx, userID, func(tx Tx) error {
		_, err := tx.GetBalance(ctx, uuid.New())
		return err
	})
	if !errors.Is(err, ErrAccountNotLocked) {
		t.Fatalf("expected ErrAccountNotLocked, got %v", err)
	}
}

func TestMemoryRunInTxSerializesPerAccount(t *testing.T) {
	ctx := context.Background()
	store, userID, _ := newSeededMemory(t, "0")

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = store.RunInTx(ctx, userID, func(tx Tx) error {
				b, err := tx.GetBalance(ctx, userID)
				if err != nil {
					return err
				}
				return tx.SetBalance(ctx, userID, b.Add(decimal.NewFromInt(1)))
			})
		}()
	}
	wg.Wait()

	balance, _ := store.GetBalance(ctx, userID)
	if !balance.Equal(decimal.NewFromInt(workers)) {
		t.Fatalf("expected %d, got %s", workers, balance)
	}
}

func TestMemoryRunInTxLockWaitHonoursContext(t *testing.T) {
	store, userID, _ := newSeededMemory(t, "1")
	hold := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = store.RunInTx(context.Background(), userID, func(Tx) error {
			close(started)
			<-hold
			return nil
		})
	}()
	<-started
	defer close(hold)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := store.RunInTx(ctx, userID, func(Tx) error { return nil })
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestMemoryInstruments(t *testing.T) {
	ctx := context.Background()
	store, _, aapl := newSeededMemory(t, "1")
	for _, sym := range []string{"MSFT", "AMZN", "ZZZ"} {
		if _, err := store.UpsertInstrument(ctx, Instrument{Symbol: sym, ReferencePrice: decimal.NewFromInt(1)}); err != nil {
			t.Fatalf("UpsertInstrument: %v", err)
		}
	}

	updated, err := store.UpsertInstrument(ctx, Instrument{Symbol: "AAPL", Name: "Apple", ReferencePrice: decimal.RequireFromString("11.50")})
	if err != nil {
		t.Fatalf("UpsertInstrument: %v", err)
	}
	if updated.ID != aapl.ID {
		t.Fatalf("expected upsert by symbol to keep id")
	}

	found, err := store.SearchInstruments(ctx, "a")
	if err != nil {
		t.Fatalf("SearchInstruments: %v", err)
	}
	if len(found) != 2 || found[0].Symbol != "AAPL" || found[1].Symbol != "AMZN" {
		t.Fatalf("unexpected search result %+v", found)
	}

	none, _ := store.SearchInstruments(ctx, "QQQ")
	if none == nil || len(none) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", none)
	}

	all, _ := store.ListInstruments(ctx)
	if len(all) != 4 || all[3].Symbol != "ZZZ" {
		t.Fatalf("unexpected list %+v", all)
	}

	if _, err := store.GetInstrument(ctx, uuid.New()); !errors.Is(err, ErrInstrumentNotFound) {
		t.Fatalf("expected ErrInstrumentNotFound, got %v", err)
	}
	if _, err := store.UpsertInstrument(ctx, Instrument{Symbol: "BAD"}); err == nil {
		t.Fatalf("expected error for zero price")
	}
}

func TestMemoryCreateAccountDuplicate(t *testing.T) {
	store, userID, _ := newSeededMemory(t, "1")
	if err := store.CreateAccount(context.Background(), userID, decimal.Zero); !errors.Is(err, ErrAccountExists) {
		t.Fatalf("expected ErrAccountExists, got %v", err)
	}
	if err := store.CreateAccount(context.Background(), uuid.New(), decimal.RequireFromString("1000.01")); !errors.Is(err, ErrBalanceCeilingExceeded) {
		t.Fatalf("expected ceiling error, got %v", err)
	}
	if _, err := store.ListHoldings(context.Background(), uuid.New()); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
