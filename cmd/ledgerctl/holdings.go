package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/google/subcommands"
	"github.com/shopspring/decimal"

	"github.com/valyalkin/piggy-backend/internal/instrument"
	"github.com/valyalkin/piggy-backend/internal/model"
)

type holdingsCmd struct {
	user     string
	currency string
}

func (*holdingsCmd) Name() string     { return "holdings" }
func (*holdingsCmd) Synopsis() string { return "list a user's holdings and realized P/L" }
func (*holdingsCmd) Usage() string {
	return `holdings -user <id> [-currency <USD|SGD>]

  Without -currency every supported currency is listed.
`
}

func (c *holdingsCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "owner id (required)")
	f.StringVar(&c.currency, "currency", "", "settlement currency (default all)")
}

func (c *holdingsCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required.")
		return subcommands.ExitUsageError
	}
	currencies := instrument.Currencies()
	if c.currency != "" {
		ccy, err := instrument.ParseCurrency(c.currency)
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return subcommands.ExitUsageError
		}
		currencies = []model.Currency{ccy}
	}

	svc, cleanup, err := openService(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	var holdings []model.Holding
	for _, ccy := range currencies {
		hs, err := svc.Holdings(ctx, c.user, ccy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		holdings = append(holdings, hs...)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', tabwriter.AlignRight)
	fmt.Fprintln(w, "TICKER\tCCY\tQUANTITY\tAVG COST\tREALIZED\t")
	for _, h := range holdings {
		events, err := svc.RealizedEvents(ctx, h.Key())
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		realized := decimal.New(0, -model.PriceScale)
		for _, e := range events {
			realized = realized.Add(e.Amount)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t\n", h.Ticker, h.Currency, h.Quantity,
			model.FormatDecimal(h.AverageCost), model.FormatDecimal(realized))
	}
	w.Flush()
	return subcommands.ExitSuccess
}
