package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/valyalkin/piggy-backend/internal/ledger"
	"github.com/valyalkin/piggy-backend/internal/model"
)

type recordCmd struct {
	user     string
	ticker   string
	currency string
	date     string
	kind     string
	qty      int64
	price    string
}

func (*recordCmd) Name() string     { return "record" }
func (*recordCmd) Synopsis() string { return "record a BUY or SELL transaction" }
func (*recordCmd) Usage() string {
	return `record -user <id> -ticker <ticker> -currency <USD|SGD> -type <BUY|SELL> -qty <n> -price <p> [-date <RFC3339>]

  Records one transaction and prints the resulting holding. The date
  defaults to now; a past date replays the ledger from that point.
`
}

func (c *recordCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "owner id (required)")
	f.StringVar(&c.ticker, "ticker", "", "instrument ticker (required)")
	f.StringVar(&c.currency, "currency", "USD", "settlement currency")
	f.StringVar(&c.date, "date", "", "execution time, RFC3339 (default now)")
	f.StringVar(&c.kind, "type", "BUY", "BUY or SELL")
	f.Int64Var(&c.qty, "qty", 0, "whole number of units (required)")
	f.StringVar(&c.price, "price", "", "price per unit (required)")
}

func (c *recordCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" || c.ticker == "" || c.qty == 0 || c.price == "" {
		fmt.Fprintln(os.Stderr, "Error: -user, -ticker, -qty and -price are required.")
		return subcommands.ExitUsageError
	}
	price, err := decimal.NewFromString(c.price)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error parsing price %q: %v\n", c.price, err)
		return subcommands.ExitUsageError
	}
	ts := time.Now().UTC()
	if c.date != "" {
		if ts, err = time.Parse(time.RFC3339, c.date); err != nil {
			fmt.Fprintf(os.Stderr, "Error parsing date %q: %v\n", c.date, err)
			return subcommands.ExitUsageError
		}
	}

	svc, cleanup, err := openService(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	t, err := svc.RecordTransaction(ctx, ledger.Request{
		UserID:    c.user,
		Ticker:    c.ticker,
		Currency:  c.currency,
		Timestamp: ts,
		Kind:      c.kind,
		Quantity:  c.qty,
		Price:     price,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		return subcommands.ExitFailure
	}

	h, err := svc.Holding(ctx, t.Key())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error reading holding: %v\n", err)
		return subcommands.ExitFailure
	}
	fmt.Printf("recorded %s %s %d @ %s (id %s)\n", t.Kind, t.Ticker, t.Quantity, model.FormatDecimal(t.Price), t.ID)
	fmt.Printf("holding %s: %d @ %s\n", h.Key(), h.Quantity, model.FormatDecimal(h.AverageCost))
	return subcommands.ExitSuccess
}
