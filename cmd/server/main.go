package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/valyalkin/piggy-backend/internal/api"
	"github.com/valyalkin/piggy-backend/internal/config"
	"github.com/valyalkin/piggy-backend/internal/ledger"
	"github.com/valyalkin/piggy-backend/internal/store"
)

func main() {
	cfg := config.Load()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store ---
	st, cleanup, err := store.Open(ctx, cfg)
	defer cleanup()
	if err != nil {
		slog.Error("store initialisation failed", "err", err)
		cleanup()
		os.Exit(1)
	}

	// --- WebSocket hub ---
	wsHub := api.NewWSHub()

	// --- Ledger service ---
	svc := ledger.NewService(st,
		ledger.WithNotifier(wsHub),
		ledger.WithLogger(logger),
		ledger.WithRequestTimeout(cfg.RequestTimeout),
	)

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      api.NewRouter(api.NewHandler(svc, logger), wsHub, st),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		wsHub.Run(gctx)
		return nil
	})
	g.Go(func() error {
		slog.Info("piggy-backend listening", "port", cfg.Port, "store", cfg.Store(), "env", cfg.Environment)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	// Graceful shutdown.
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down piggy-backend...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		slog.Error("server error", "err", err)
		cleanup()
		os.Exit(1)
	}
	slog.Info("piggy-backend stopped")
}
