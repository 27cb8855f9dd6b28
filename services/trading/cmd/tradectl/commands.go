package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/AfshinJalili/stocktrade/services/trading/internal/catalog"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/config"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/service"
	"github.com/AfshinJalili/stocktrade/services/trading/internal/storage"
	"github.com/google/subcommands"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

var commands = []subcommands.Command{
	&balanceCmd{},
	&holdingsCmd{},
	&tradeCmd{side: service.SideBuy},
	&tradeCmd{side: service.SideSell},
	&instrumentsCmd{},
}

var stdout io.Writer = os.Stdout

var demoBalance = decimal.RequireFromString("10000.00")

// openLedger builds the store named by storage.driver. The memory driver
// starts from the demo seed on every invocation.
func openLedger(ctx context.Context, cfg *config.Config) (storage.Store, func(), error) {
	if cfg.Storage.Driver == config.DriverMemory {
		store := storage.NewMemoryStore(cfg.Ledger.BalanceCeiling)
		if err := storage.SeedDemo(ctx, store, demoBalance); err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}

	pool, err := storage.Connect(ctx, cfg.DB.DSN(), cfg.DB.MaxConns)
	if err != nil {
		return nil, nil, err
	}
	return storage.NewPostgresStore(pool, cfg.Ledger.BalanceCeiling, nil), pool.Close, nil
}

// openService wires the trade engine from the trading service configuration
// without an instrument cache, so every command sees current prices.
func openService(ctx context.Context) (*service.TradeService, func(), error) {
	cfg, err := config.LoadForTools()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}
	store, closeFn, err := openLedger(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}
	cat, err := catalog.New(store, catalog.Options{}, nil, nil)
	if err != nil {
		closeFn()
		return nil, nil, err
	}
	return service.NewTradeService(store, cat, nil, nil), closeFn, nil
}

// run opens the service, executes fn with a timeout and maps failures to an
// exit status.
func run(timeout time.Duration, fn func(ctx context.Context, svc *service.TradeService) error) subcommands.ExitStatus {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	svc, closeFn, err := openService(ctx)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitFailure
	}
	defer closeFn()

	if err := fn(ctx, svc); err != nil {
		if code := service.Code(err); code != "" {
			fmt.Fprintf(os.Stderr, "%s: %v\n", code, err)
		} else {
			fmt.Fprintln(os.Stderr, err)
		}
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func parseID(name, value string) (uuid.UUID, error) {
	id, err := uuid.Parse(value)
	if err != nil {
		return uuid.Nil, fmt.Errorf("-%s must be a UUID", name)
	}
	return id, nil
}

type balanceCmd struct {
	user string
}

func (*balanceCmd) Name() string     { return "balance" }
func (*balanceCmd) Synopsis() string { return "print the cash balance of an account" }
func (*balanceCmd) Usage() string {
	return `tradectl balance -user <uuid>
`
}

func (c *balanceCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "Account user id.")
}

func (c *balanceCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	userID, err := parseID("user", c.user)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(10*time.Second, func(ctx context.Context, svc *service.TradeService) error {
		balance, err := svc.GetBalance(ctx, userID)
		if err != nil {
			return err
		}
		fmt.Fprintln(stdout, balance.StringFixed(2))
		return nil
	})
}

type holdingsCmd struct {
	user string
}

func (*holdingsCmd) Name() string     { return "holdings" }
func (*holdingsCmd) Synopsis() string { return "list the positions of an account" }
func (*holdingsCmd) Usage() string {
	return `tradectl holdings -user <uuid>
`
}

func (c *holdingsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "Account user id.")
}

func (c *holdingsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	userID, err := parseID("user", c.user)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	return run(10*time.Second, func(ctx context.Context, svc *service.TradeService) error {
		views, err := svc.GetHoldings(ctx, userID)
		if err != nil {
			return err
		}
		writeHoldings(stdout, views)
		return nil
	})
}

func writeHoldings(w io.Writer, views []storage.HoldingView) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "SYMBOL\tQUANTITY\tAVERAGE COST\tNAME")
	for _, v := range views {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\n", v.Symbol, v.Quantity, v.AverageCost.String(), v.Name)
	}
	_ = tw.Flush()
}

type tradeCmd struct {
	side       string
	user       string
	instrument string
	quantity   int64
	timeout    time.Duration
}

func (c *tradeCmd) Name() string { return c.side }
func (c *tradeCmd) Synopsis() string {
	if c.side == service.SideBuy {
		return "buy shares at the current reference price"
	}
	return "sell shares at the current reference price"
}
func (c *tradeCmd) Usage() string {
	return fmt.Sprintf(`tradectl %s -user <uuid> -instrument <uuid> -qty <n>
`, c.side)
}

func (c *tradeCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "Account user id.")
	f.StringVar(&c.instrument, "instrument", "", "Instrument id.")
	f.Int64Var(&c.quantity, "qty", 0, "Number of shares.")
	f.DurationVar(&c.timeout, "timeout", 5*time.Second, "Trade timeout.")
}

func (c *tradeCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	userID, err := parseID("user", c.user)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	instrumentID, err := parseID("instrument", c.instrument)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return subcommands.ExitUsageError
	}
	in := service.TradeInput{UserID: userID, InstrumentID: instrumentID, Quantity: c.quantity}

	return run(c.timeout, func(ctx context.Context, svc *service.TradeService) error {
		exec := svc.Buy
		if c.side == service.SideSell {
			exec = svc.Sell
		}
		receipt, err := exec(ctx, in)
		if err != nil {
			return err
		}
		writeReceipt(stdout, receipt)
		return nil
	})
}

func writeReceipt(w io.Writer, r *service.TradeReceipt) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "trade\t%s\n", r.TradeID)
	fmt.Fprintf(tw, "side\t%s\n", r.Side)
	fmt.Fprintf(tw, "symbol\t%s\n", r.Symbol)
	fmt.Fprintf(tw, "quantity\t%d\n", r.Quantity)
	fmt.Fprintf(tw, "price\t%s\n", r.Price.StringFixed(2))
	fmt.Fprintf(tw, "amount\t%s\n", r.Amount.StringFixed(2))
	fmt.Fprintf(tw, "balance\t%s\n", r.Balance.StringFixed(2))
	_ = tw.Flush()
}

type instrumentsCmd struct {
	search string
}

func (*instrumentsCmd) Name() string     { return "instruments" }
func (*instrumentsCmd) Synopsis() string { return "list or search tradable instruments" }
func (*instrumentsCmd) Usage() string {
	return `tradectl instruments [-search <fragment>]
`
}

func (c *instrumentsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.search, "search", "", "Only show symbols containing this fragment.")
}

func (c *instrumentsCmd) Execute(_ context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	return run(10*time.Second, func(ctx context.Context, svc *service.TradeService) error {
		var list []storage.Instrument
		var err error
		if c.search != "" {
			list, err = svc.SearchInstruments(ctx, c.search)
		} else {
			list, err = svc.ListInstruments(ctx)
		}
		if err != nil {
			return err
		}
		writeInstruments(stdout, list)
		return nil
	})
}

func writeInstruments(w io.Writer, list []storage.Instrument) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOL\tPRICE\tNAME")
	for _, inst := range list {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", inst.ID, inst.Symbol, inst.ReferencePrice.StringFixed(2), inst.Name)
	}
	_ = tw.Flush()
}
