// Package main is the entry point for the betledger back-office admin
// server. It exposes operator-only endpoints behind an IP allow-list and
// admin JWTs and runs no scheduler; the API server owns the background loops.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/betledger/internal/app"
	"github.com/evetabi/betledger/internal/backoffice"
	"github.com/evetabi/betledger/internal/config"
)

func main() {
	// ── Config + logger ──────────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := app.NewLogger(cfg).With("process", "backoffice")
	slog.SetDefault(logger)

	logger.Info("starting betledger backoffice", "env", cfg.Server.Env, "port", cfg.Server.BackofficePort)

	// The ops server belongs to the API process.
	cfg.Metrics.Port = ""

	// ── Signal context ───────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// ── Router ───────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		Auth:       a.Auth,
		Events:     a.Events,
		Bets:       a.Bets,
		Ledger:     a.Ledger,
		Settlement: a.Settlement,
		Oracle:     a.Oracle,
		Store:      a.Store,
		Cfg:        cfg,
		Logger:     logger,
	})

	// Auto-resolve holds the request until the oracle answers or times out.
	writeTimeout := max(cfg.Server.WriteTimeout, cfg.Oracle.Timeout+10*time.Second)
	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: writeTimeout,
	}

	if err := a.Run(ctx, srv); err != nil {
		logger.Error("backoffice stopped with error", "err", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("backoffice server stopped cleanly")
}
