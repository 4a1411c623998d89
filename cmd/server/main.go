// Package main is the entry point for the betledger API server: the Mini App
// REST API, the payment webhook, the pool-update WebSocket and the
// background scheduler.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/evetabi/betledger/internal/api"
	"github.com/evetabi/betledger/internal/app"
	"github.com/evetabi/betledger/internal/config"
)

func main() {
	// ── 1. Config + logger ───────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := app.NewLogger(cfg)
	slog.SetDefault(logger)

	logger.Info("starting betledger server", "env", cfg.Server.Env, "port", cfg.Server.Port)

	// ── 2. Root context + signal handling ────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Object graph ──────────────────────────────────────────────────────
	a, err := app.New(ctx, cfg, logger, app.Options{WithHub: true, WithScheduler: true})
	if err != nil {
		logger.Error("startup failed", "err", err)
		os.Exit(1)
	}
	defer a.Close()

	// ── 4. HTTP router ───────────────────────────────────────────────────────
	router := api.SetupRouter(api.RouterDeps{
		Ctx:      ctx,
		Auth:     a.Auth,
		Events:   a.Events,
		Bets:     a.Bets,
		Ledger:   a.Ledger,
		Dialogue: a.Dialogue,
		Reader:   a.Store,
		Hub:      a.Hub,
		Cfg:      cfg,
		Logger:   logger,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 5. Serve until signalled, then drain ─────────────────────────────────
	if err := a.Run(ctx, srv); err != nil {
		logger.Error("server stopped with error", "err", err)
		a.Close()
		os.Exit(1)
	}
	logger.Info("server stopped cleanly")
}
