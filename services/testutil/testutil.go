package testutil

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

func SetupTestDB() (*pgxpool.Pool, error) {
	dsn := fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		getEnv("POSTGRES_USER", "stocktrade"),
		getEnv("POSTGRES_PASSWORD", "stocktrade"),
		getEnv("POSTGRES_HOST", "localhost"),
		getEnv("POSTGRES_PORT", "5432"),
		getEnv("POSTGRES_DB", "stocktrade"),
		getEnv("POSTGRES_SSLMODE", "disable"),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect db: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}

	return pool, nil
}

// CleanupTestData removes rows created by a test. Holdings go with their
// account through ON DELETE CASCADE.
func CleanupTestData(ctx context.Context, pool *pgxpool.Pool, userIDs, instrumentIDs []uuid.UUID) error {
	queries := []struct {
		sql string
		ids []uuid.UUID
	}{
		{"DELETE FROM holdings WHERE instrument_id = ANY($1::uuid[])", instrumentIDs},
		{"DELETE FROM accounts WHERE user_id = ANY($1::uuid[])", userIDs},
		{"DELETE FROM instruments WHERE id = ANY($1::uuid[])", instrumentIDs},
	}

	for _, q := range queries {
		if len(q.ids) == 0 {
			continue
		}
		ids := make([]string, 0, len(q.ids))
		for _, id := range q.ids {
			ids = append(ids, id.String())
		}
		if _, err := pool.Exec(ctx, q.sql, ids); err != nil {
			return fmt.Errorf("cleanup %q: %w", q.sql, err)
		}
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}
