// Command seed creates the ledger schema and loads demo accounts and
// instruments. It only runs when CEX_ENV is dev or test.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/AfshinJalili/stocktrade/services/trading/internal/config"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/storage"
	"github.com/shopspring/decimal"
)

var demoBalance = decimal.RequireFromString("10000.00")

func main() {
	cfg, err := config.LoadForTools()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := checkEnv(cfg.App.Env); err != nil {
		log.Fatal(err)
	}
	if cfg.Storage.Driver != config.DriverPostgres {
		log.Fatalf("refusing to seed: storage.driver is %q, seed only targets postgres", cfg.Storage.Driver)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pool, err := storage.Connect(ctx, cfg.DB.DSN(), cfg.DB.MaxConns)
	if err != nil {
		log.Fatal(err)
	}
	defer pool.Close()

	fmt.Println("Seeding database...")

	if err := storage.Migrate(ctx, pool); err != nil {
		log.Fatalf("migrate: %v", err)
	}
	fmt.Println("✓ Schema applied")

	store := storage.NewPostgresStore(pool, cfg.Ledger.BalanceCeiling, nil)
	if err := storage.SeedDemo(ctx, store, demoBalance); err != nil {
		log.Fatalf("seed demo: %v", err)
	}
	fmt.Println("✓ Accounts and instruments seeded")

	if os.Getenv("SEED_TESTDATA") == "1" {
		if err := seedTestData(ctx, store); err != nil {
			log.Fatalf("seed test data: %v", err)
		}
		fmt.Println("✓ Test data seeded")
	}

	fmt.Println("\nDemo accounts:")
	fmt.Printf("  demo    %s  balance %s\n", storage.DemoUserID, demoBalance.StringFixed(2))
	fmt.Printf("  trader  %s  balance %s\n", storage.TraderUserID, demoBalance.StringFixed(2))
	fmt.Println("\nInstruments:")
	for _, inst := range storage.DemoInstruments {
		fmt.Printf("  %-6s %s  %s\n", inst.Symbol, inst.ID, inst.ReferencePrice.StringFixed(2))
	}
}

func checkEnv(env string) error {
	if env != "dev" && env != "test" {
		return fmt.Errorf("refusing to seed: CEX_ENV must be 'dev' or 'test' (got '%s')", env)
	}
	return nil
}
