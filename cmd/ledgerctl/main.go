// Command ledgerctl records and inspects position ledgers directly against
// the configured store, bypassing the HTTP server.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"path"

	"github.com/google/subcommands"

	"github.com/valyalkin/piggy-backend/internal/config"
	"github.com/valyalkin/piggy-backend/internal/ledger"
	"github.com/valyalkin/piggy-backend/internal/store"
)

var commands = []subcommands.Command{
	&recordCmd{},
	&holdingsCmd{},
	&verifyCmd{},
}

func main() {
	commander := subcommands.NewCommander(flag.CommandLine, path.Base(os.Args[0]))
	commander.Register(commander.HelpCommand(), "")
	commander.Register(commander.FlagsCommand(), "")
	for _, c := range commands {
		commander.Register(c, "ledger")
	}

	flag.Parse()
	os.Exit(int(commander.Execute(context.Background())))
}

// openService builds a ledger service over the store selected by the
// environment. The returned func releases the store.
func openService(ctx context.Context) (*ledger.Service, func(), error) {
	cfg := config.Load()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	st, cleanup, err := store.Open(ctx, cfg)
	if err != nil {
		cleanup()
		return nil, func() {}, err
	}
	svc := ledger.NewService(st, ledger.WithLogger(logger), ledger.WithRequestTimeout(cfg.RequestTimeout))
	return svc, cleanup, nil
}
