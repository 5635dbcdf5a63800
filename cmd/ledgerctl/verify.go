package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/subcommands"

	"github.com/valyalkin/piggy-backend/internal/instrument"
	"github.com/valyalkin/piggy-backend/internal/model"
)

type verifyCmd struct {
	user     string
	ticker   string
	currency string
}

func (*verifyCmd) Name() string     { return "verify" }
func (*verifyCmd) Synopsis() string { return "check stored holdings against a full replay" }
func (*verifyCmd) Usage() string {
	return `verify -user <id> [-ticker <ticker>] [-currency <USD|SGD>]

  Replays every transaction from empty and compares the result with the
  stored holding and realized events. Without -ticker every holding of the
  user in the currency is checked. Exits non-zero on any mismatch.
`
}

func (c *verifyCmd) SetFlags(f *flag.FlagSet) {
	f.StringVar(&c.user, "user", "", "owner id (required)")
	f.StringVar(&c.ticker, "ticker", "", "instrument ticker (default all)")
	f.StringVar(&c.currency, "currency", "USD", "settlement currency")
}

func (c *verifyCmd) Execute(ctx context.Context, _ *flag.FlagSet, _ ...interface{}) subcommands.ExitStatus {
	if c.user == "" {
		fmt.Fprintln(os.Stderr, "Error: -user is required.")
		return subcommands.ExitUsageError
	}
	ccy, err := instrument.ParseCurrency(c.currency)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return subcommands.ExitUsageError
	}

	svc, cleanup, err := openService(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		return subcommands.ExitFailure
	}
	defer cleanup()

	var keys []model.Key
	if c.ticker != "" {
		key, err := instrument.ParseKey(c.user, c.ticker, string(ccy))
		if err != nil {
			fmt.Fprintln(os.Stderr, "Error:", err)
			return subcommands.ExitUsageError
		}
		keys = append(keys, key)
	} else {
		holdings, err := svc.Holdings(ctx, c.user, ccy)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			return subcommands.ExitFailure
		}
		for _, h := range holdings {
			keys = append(keys, h.Key())
		}
	}

	failed := 0
	for _, key := range keys {
		if err := svc.Verify(ctx, key); err != nil {
			failed++
			fmt.Printf("FAIL %s: %v\n", key, err)
			continue
		}
		fmt.Printf("ok   %s\n", key)
	}
	if failed > 0 {
		fmt.Fprintf(os.Stderr, "%d of %d ledgers failed verification\n", failed, len(keys))
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}
