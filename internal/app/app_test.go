package app_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"testing"
	"time"

	"github.com/evetabi/betledger/internal/app"
	"github.com/evetabi/betledger/internal/config"
)

func memoryConfig() *config.Config {
	cfg := config.Defaults()
	cfg.DB.Driver = "memory"
	cfg.JWT.AccessSecret = "app-test-secret-0123456789abcdef"
	cfg.Metrics.Port = ""
	cfg.Notify.DrainTimeout = 100 * time.Millisecond
	return &cfg
}

func TestNew_MemoryGraph(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(context.Background(), memoryConfig(), log, app.Options{WithHub: true, WithScheduler: true})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer a.Close()

	if a.Hub == nil || a.Oracle == nil || a.Dialogue == nil {
		t.Fatalf("graph incomplete: %+v", a)
	}
}

func TestNew_UnknownDriver(t *testing.T) {
	cfg := memoryConfig()
	cfg.DB.Driver = "sqlite"
	_, err := app.New(context.Background(), cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), app.Options{})
	if err == nil {
		t.Fatal("expected error for unknown driver")
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	a, err := app.New(context.Background(), memoryConfig(), log, app.Options{WithHub: true, WithScheduler: true})
	if err != nil {
		t.Fatal(err)
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(context.Background())
	srv := &http.Server{Addr: "127.0.0.1:0", Handler: http.NotFoundHandler()}
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx, srv) }()

	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v, want nil", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
