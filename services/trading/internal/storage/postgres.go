package storage

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed schema.sql
var schemaSQL string

// Migrate creates the ledger tables when they are missing.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Connect opens a pool for dsn and verifies it with a ping. maxConns <= 0
// keeps the pgxpool default.
func Connect(ctx context.Context, dsn string, maxConns int32) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = maxConns
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return pool, nil
}

type PostgresStore struct {
	pool    *pgxpool.Pool
	ceiling decimal.Decimal
	logger  *slog.Logger
}

func NewPostgresStore(pool *pgxpool.Pool, ceiling decimal.Decimal, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	if !ceiling.IsPositive() {
		ceiling = DefaultBalanceCeiling
	}
	return &PostgresStore{pool: pool, ceiling: ceiling, logger: logger}
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// RunInTx locks the account row for the lifetime of fn. Every trade on the
// account serializes on that lock, so buy and sell take the same lock in the
// same order.
func (s *PostgresStore) RunInTx(ctx context.Context, userID uuid.UUID, fn func(Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			if rbErr := tx.Rollback(context.WithoutCancel(ctx)); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				s.logger.Warn("rollback failed", "user_id", userID, "error", rbErr)
			}
		}
	}()

	var balanceStr string
	err = tx.QueryRow(ctx, `
		SELECT cash_balance::text
		FROM accounts
		WHERE user_id = $1
		FOR UPDATE
	`, userID).Scan(&balanceStr)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAccountNotFound
		}
		return fmt.Errorf("lock account: %w", err)
	}

	if err := fn(&pgTx{tx: tx, userID: userID, ceiling: s.ceiling}); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	return queryBalance(ctx, s.pool, userID)
}

func (s *PostgresStore) ListHoldings(ctx context.Context, userID uuid.UUID) ([]HoldingView, error) {
	var exists bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM accounts WHERE user_id = $1)`, userID).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return nil, ErrAccountNotFound
	}

	rows, err := s.pool.Query(ctx, `
		SELECT h.instrument_id, i.symbol, i.name, h.quantity, h.average_cost::text, h.updated_at
		FROM holdings h
		JOIN instruments i ON i.id = h.instrument_id
		WHERE h.user_id = $1
		ORDER BY i.symbol
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []HoldingView{}
	for rows.Next() {
		var view HoldingView
		var avgStr string
		if err := rows.Scan(&view.InstrumentID, &view.Symbol, &view.Name, &view.Quantity, &avgStr, &view.UpdatedAt); err != nil {
			return nil, err
		}
		if view.AverageCost, err = decimal.NewFromString(avgStr); err != nil {
			return nil, fmt.Errorf("parse average cost: %w", err)
		}
		out = append(out, view)
	}
	return out, rows.Err()
}

func (s *PostgresStore) GetInstrument(ctx context.Context, id uuid.UUID) (Instrument, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, symbol, name, reference_price::text, updated_at
		FROM instruments
		WHERE id = $1
	`, id)
	inst, err := scanInstrument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Instrument{}, ErrInstrumentNotFound
		}
		return Instrument{}, err
	}
	return inst, nil
}

// SearchInstruments matches fragment anywhere in the symbol, ignoring case.
// strpos is used instead of LIKE so % and _ in the fragment match literally.
func (s *PostgresStore) SearchInstruments(ctx context.Context, fragment string) ([]Instrument, error) {
	return s.queryInstruments(ctx, `
		SELECT id, symbol, name, reference_price::text, updated_at
		FROM instruments
		WHERE strpos(upper(symbol), upper($1)) > 0
		ORDER BY symbol
	`, strings.TrimSpace(fragment))
}

func (s *PostgresStore) ListInstruments(ctx context.Context) ([]Instrument, error) {
	return s.queryInstruments(ctx, `
		SELECT id, symbol, name, reference_price::text, updated_at
		FROM instruments
		ORDER BY symbol
	`)
}

func (s *PostgresStore) CreateAccount(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	balance, err := normalizeBalance(balance, s.ceiling)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO accounts (user_id, cash_balance, created_at, updated_at)
		VALUES ($1, $2, $3, $3)
	`, userID, balance.StringFixed(2), time.Now().UTC())
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAccountExists
		}
		return err
	}
	return nil
}

// UpsertInstrument inserts or updates by symbol and returns the stored row.
func (s *PostgresStore) UpsertInstrument(ctx context.Context, inst Instrument) (Instrument, error) {
	inst, err := normalizeInstrument(inst)
	if err != nil {
		return Instrument{}, err
	}
	row := s.pool.QueryRow(ctx, `
		INSERT INTO instruments (id, symbol, name, reference_price, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (symbol) DO UPDATE
		SET name = EXCLUDED.name, reference_price = EXCLUDED.reference_price, updated_at = EXCLUDED.updated_at
		RETURNING id, symbol, name, reference_price::text, updated_at
	`, inst.ID, inst.Symbol, inst.Name, inst.ReferencePrice.StringFixed(2), time.Now().UTC())
	return scanInstrument(row)
}

func (s *PostgresStore) queryInstruments(ctx context.Context, query string, args ...any) ([]Instrument, error) {
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Instrument{}
	for rows.Next() {
		inst, err := scanInstrument(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

type pgTx struct {
	tx      pgx.Tx
	userID  uuid.UUID
	ceiling decimal.Decimal
}

func (t *pgTx) locked(userID uuid.UUID) error {
	if userID != t.userID {
		return fmt.Errorf("%w: %s", ErrAccountNotLocked, userID)
	}
	return nil
}

func (t *pgTx) GetBalance(ctx context.Context, userID uuid.UUID) (decimal.Decimal, error) {
	if err := t.locked(userID); err != nil {
		return decimal.Zero, err
	}
	return queryBalance(ctx, t.tx, userID)
}

func (t *pgTx) SetBalance(ctx context.Context, userID uuid.UUID, balance decimal.Decimal) error {
	if err := t.locked(userID); err != nil {
		return err
	}
	balance, err := normalizeBalance(balance, t.ceiling)
	if err != nil {
		return err
	}
	tag, err := t.tx.Exec(ctx, `
		UPDATE accounts
		SET cash_balance = $1, updated_at = $2
		WHERE user_id = $3
	`, balance.StringFixed(2), time.Now().UTC(), userID)
	if err != nil {
		if isNumericOverflow(err) {
			return ErrBalanceCeilingExceeded
		}
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrAccountNotFound
	}
	return nil
}

func (t *pgTx) GetHolding(ctx context.Context, userID, instrumentID uuid.UUID) (*Holding, error) {
	if err := t.locked(userID); err != nil {
		return nil, err
	}
	var h Holding
	var avgStr string
	err := t.tx.QueryRow(ctx, `
		SELECT user_id, instrument_id, quantity, average_cost::text, updated_at
		FROM holdings
		WHERE user_id = $1 AND instrument_id = $2
	`, userID, instrumentID).Scan(&h.UserID, &h.InstrumentID, &h.Quantity, &avgStr, &h.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if h.AverageCost, err = decimal.NewFromString(avgStr); err != nil {
		return nil, fmt.Errorf("parse average cost: %w", err)
	}
	return &h, nil
}

func (t *pgTx) UpsertHolding(ctx context.Context, userID, instrumentID uuid.UUID, quantity int64, averageCost decimal.Decimal) error {
	if err := t.locked(userID); err != nil {
		return err
	}
	if err := checkHolding(quantity, averageCost); err != nil {
		return err
	}
	if quantity == 0 {
		_, err := t.tx.Exec(ctx, `DELETE FROM holdings WHERE user_id = $1 AND instrument_id = $2`, userID, instrumentID)
		return err
	}
	_, err := t.tx.Exec(ctx, `
		INSERT INTO holdings (user_id, instrument_id, quantity, average_cost, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, instrument_id) DO UPDATE
		SET quantity = EXCLUDED.quantity, average_cost = EXCLUDED.average_cost, updated_at = EXCLUDED.updated_at
	`, userID, instrumentID, quantity, averageCost.String(), time.Now().UTC())
	if isForeignKeyViolation(err) {
		return ErrInstrumentNotFound
	}
	return err
}

type queryer interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func queryBalance(ctx context.Context, q queryer, userID uuid.UUID) (decimal.Decimal, error) {
	var balanceStr string
	if err := q.QueryRow(ctx, `SELECT cash_balance::text FROM accounts WHERE user_id = $1`, userID).Scan(&balanceStr); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return decimal.Zero, ErrAccountNotFound
		}
		return decimal.Zero, err
	}
	balance, err := decimal.NewFromString(balanceStr)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse balance: %w", err)
	}
	return balance, nil
}

func scanInstrument(row pgx.Row) (Instrument, error) {
	var inst Instrument
	var priceStr string
	if err := row.Scan(&inst.ID, &inst.Symbol, &inst.Name, &priceStr, &inst.UpdatedAt); err != nil {
		return Instrument{}, err
	}
	price, err := decimal.NewFromString(priceStr)
	if err != nil {
		return Instrument{}, fmt.Errorf("parse reference price: %w", err)
	}
	inst.ReferencePrice = price
	return inst, nil
}

func pgErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return ""
}

func isUniqueViolation(err error) bool {
	return pgErrorCode(err) == "23505"
}

func isForeignKeyViolation(err error) bool {
	return pgErrorCode(err) == "23503"
}

func isNumericOverflow(err error) bool {
	return pgErrorCode(err) == "22003"
}
