package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type holdingKey struct {
	userID       uuid.UUID
	instrumentID uuid.UUID
}

type memAccount struct {
	// lock is a one-slot semaphore so waiters can give up on ctx.
	lock      chan struct{}
	balance   decimal.Decimal
	createdAt time.Time
	updatedAt time.Time
}

// MemoryStore keeps ledger state in process. Transactions stage their writes
// and apply them on commit while holding the account lock.
type MemoryStore struct {
	mu          sync.RWMutex
	ceiling     decimal.Decimal
	accounts    map[uuid.UUID]*memAccount
	holdings    map[holdingKey]Holding
	instruments map[uuid.UUID]Instrument
	now         func() time.Time
}

func NewMemoryStore(ceiling decimal.Decimal) *MemoryStore {
	if !ceiling.IsPositive() {
		ceiling = DefaultBalanceCeiling
	}
	return &MemoryStore{
		ceiling:     ceiling,
		accounts:    map[uuid.UUID]*memAccount{},
		holdings:    map[holdingKey]Holding{},
		instruments: map[uuid.UUID]Instrument{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) account(userID uuid.UUID) (*memAccount, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[userID]
	return acct, ok
}

func (s *MemoryStore) RunInTx(ctx context.Context, userID uuid.UUID, fn func(Tx) error) error {
	acct, ok := s.account(userID)
	if !ok {
		return ErrAccountNotFound
	}

	select {
	case acct.lock <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-acct.lock }()

	tx := &memTx{store: s, userID: userID, holdings: map[uuid.UUID]*Holding{}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.commit(acct, tx)
	return nil
}

func (s *MemoryStore) commit(acct *memAccount, tx *memTx) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if tx.balance != nil {
		acct.balance = *tx.balance
		acct.updatedAt = now
	}
	for instrumentID, h := range tx.holdings {
		key := holdingKey{userID: tx.userID, instrumentID: instrumentID}
		if h == nil {
			delete(s.holdings, key)
			continue
		}
		stored := *h
		stored.UpdatedAt = now
		s.holdings[key] = stored
	}
}

func (s *MemoryStore) GetBalance(_ context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acct, ok := s.accounts[userID]
	if !ok {
		return decimal.Zero, ErrAccountNotFound
	}
	return acct.balance, nil
}

func (s *MemoryStore) ListHoldings(_ context.Context, userID uuid.UUID) ([]HoldingView, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.accounts[userID]; !ok {
		return nil, ErrAccountNotFound
	}

	out := []HoldingView{}
	for key, h := range s.holdings {
		if key.userID != userID {
			continue
		}
		inst := s.instruments[key.instrumentID]
		out = append(out, HoldingView{
			InstrumentID: key.instrumentID,
			Symbol:       inst.Symbol,
			Name:         inst.Name,
			Quantity:     h.Quantity,
			AverageCost:  h.AverageCost,
			UpdatedAt:    h.UpdatedAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (s *MemoryStore) GetInstrument(_ context.Context, id uuid.UUID) (Instrument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inst, ok := s.instruments[id]
	if !ok {
		return Instrument{}, ErrInstrumentNotFound
	}
	return inst, nil
}

func (s *MemoryStore) SearchInstruments(_ context.Context, fragment string) ([]Instrument, error) {
	needle := strings.ToUpper(strings.TrimSpace(fragment))
	return s.filterInstruments(func(inst Instrument) bool {
		return strings.Contains(inst.Symbol, needle)
	}), nil
}

func (s *MemoryStore) ListInstruments(context.Context) ([]Instrument, error) {
	return s.filterInstruments(func(Instrument) bool { return true }), nil
}

func (s *MemoryStore) filterInstruments(keep func(Instrument) bool) []Instrument {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []Instrument{}
	for _, inst := range s.instruments {
		if keep(inst) {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

func (s *MemoryStore) CreateAccount(_ context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	balance, err := normalizeBalance(balance, s.ceiling)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[userID]; ok {
		return ErrAccountExists
	}
	now := s.now()
	s.accounts[userID] = &memAccount{
		lock:      make(chan struct{}, 1),
		balance:   balance,
		createdAt: now,
		updatedAt: now,
	}
	return nil
}

func (s *MemoryStore) UpsertInstrument(_ context.Context, inst Instrument) (Instrument, error) {
	inst, err := normalizeInstrument(inst)
	if err != nil {
		return Instrument{}, err
	}
	inst.ReferencePrice = inst.ReferencePrice.Round(2)
	inst.UpdatedAt = s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.instruments {
		if existing.Symbol == inst.Symbol {
			inst.ID = id
			break
		}
	}
	s.instruments[inst.ID] = inst
	return inst, nil
}

// memTx stages writes for one account. A nil entry in holdings marks a delete.
type memTx struct {
	store    *MemoryStore
	userID   uuid.UUID
	balance  *decimal.Decimal
	holdings map[uuid.UUID]*Holding
}

func (t *memTx) locked(userID uuid.UUID) error {
	if userID != t.userID {
		return fmt.Errorf("%w: %s", ErrAccountNotLocked, userID)
	}
	return nil
}

func (t *memTx) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if err := t.locked(userID); err != nil {
		return decimal.Zero, err
	}
	if t.balance != nil {
		return *t.balance, nil
	}
	return t.store.GetBalance(ctx, userID)
}

func (t *memTx) SetBalance(_ context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	if err := t.locked(userID); err != nil {
		return err
	}
	b, err := normalizeBalance(balance, t.store.ceiling)
	if err != nil {
		return err
	}
	t.balance = &b
	return nil
}

func (t *memTx) GetHolding(_ context.Context, userID, instrumentID uuid.UUID) (*Holding, error) {
	if err := t.locked(userID); err != nil {
		return nil, err
	}
	if staged, ok := t.holdings[instrumentID]; ok {
		if staged == nil {
			return nil, nil
		}
		h := *staged
		return &h, nil
	}

	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	h, ok := t.store.holdings[holdingKey{userID: userID, instrumentID: instrumentID}]
	if !ok {
		return nil, nil
	}
	return &h, nil
}

func (t *memTx) UpsertHolding(_ context.Context, userID, instrumentID uuid.UUID, quantity int64, averageCost decimal.Decimal) error {
	if err := t.locked(userID); err != nil {
		return err
	}
	if err := checkHolding(quantity, averageCost); err != nil {
		return err
	}
	if quantity == 0 {
		t.holdings[instrumentID] = nil
		return nil
	}

	t.store.mu.RLock()
	_, known := t.store.instruments[instrumentID]
	t.store.mu.RUnlock()
	if !known {
		return ErrInstrumentNotFound
	}

	t.holdings[instrumentID] = &Holding{
		UserID:       userID,
		InstrumentID: instrumentID,
		Quantity:     quantity,
		AverageCost:  averageCost.Round(8),
	}
	return nil
}
