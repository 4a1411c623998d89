// Package app builds the object graph shared by cmd/server and
// cmd/backoffice and runs its background workers under one errgroup.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evetabi/betledger/internal/api"
	"github.com/evetabi/betledger/internal/archive"
	"github.com/evetabi/betledger/internal/cache/redis"
	"github.com/evetabi/betledger/internal/config"
	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/metrics"
	"github.com/evetabi/betledger/internal/notify"
	"github.com/evetabi/betledger/internal/oracle"
	"github.com/evetabi/betledger/internal/publish"
	"github.com/evetabi/betledger/internal/repository"
	"github.com/evetabi/betledger/internal/repository/memstore"
	"github.com/evetabi/betledger/internal/scheduler"
	"github.com/evetabi/betledger/internal/service"
	"github.com/evetabi/betledger/internal/telegram"
	"github.com/evetabi/betledger/internal/ws"
)

// Options selects the optional parts of the graph.
type Options struct {
	// WithHub creates the WebSocket hub and makes it the pool broadcaster.
	WithHub bool
	// WithScheduler runs the auto-resolve, charge follow-up and cache loops.
	// Only one process per deployment should set it.
	WithScheduler bool
}

// App is the wired application.
type App struct {
	Cfg    *config.Config
	Logger *slog.Logger

	Store      repository.Store
	Auth       *service.AuthService
	Ledger     *service.LedgerService
	Events     *service.EventService
	Bets       *service.BetService
	Settlement *service.SettlementService
	Oracle     *service.OracleService
	Dialogue   *service.DialogueService
	Hub        *ws.Hub

	notifier  *notify.Dispatcher
	publisher *publish.Publisher
	scheduler *scheduler.Scheduler
	checks    map[string]metrics.HealthFunc
	closers   []func() error
}

// NewLogger returns a JSON logger in production and a debug text logger
// elsewhere.
func NewLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler
	if cfg.IsProd() {
		h = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo})
	} else {
		h = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug})
	}
	return slog.New(h)
}

// New connects every configured backend and wires the services. On error
// whatever was already opened is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger, opts Options) (_ *App, err error) {
	a := &App{Cfg: cfg, Logger: logger, checks: make(map[string]metrics.HealthFunc)}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	// ── Store ────────────────────────────────────────────────────────────────
	if a.Store, err = openStore(ctx, cfg, logger); err != nil {
		return nil, err
	}
	a.closers = append(a.closers, a.Store.Close)
	a.checks["db"] = a.Store.Ping

	// ── Redis (optional) ─────────────────────────────────────────────────────
	var (
		dialogues service.DialogueStore = service.NewMemoryDialogueStore()
		locker    service.Locker        = service.NewLocalLocker()
	)
	if cfg.Redis.Addr != "" {
		rc, err := redis.New(ctx, redis.Options{
			Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB, PoolSize: cfg.Redis.PoolSize,
		})
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		a.closers = append(a.closers, rc.Close)
		a.checks["redis"] = rc.Ping
		dialogues, locker = redis.NewDialogueStore(rc), redis.NewLocker(rc)
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// ── Telegram (optional) ──────────────────────────────────────────────────
	var (
		sender  notify.Sender = notify.NewLogSender(logger)
		gateway service.PaymentGateway
	)
	if cfg.Payment.TelegramToken != "" {
		tg, err := telegram.New(cfg.Payment.TelegramToken, logger)
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		sender, gateway = telegram.NewSender(tg), telegram.NewStarsGateway(tg)
	} else {
		logger.Warn("no telegram token: notifications go to the log, external payments disabled")
	}

	// ── Queues ───────────────────────────────────────────────────────────────
	a.notifier = notify.NewDispatcher(sender, cfg.Notify.QueueSize, cfg.Notify.DrainTimeout, logger)
	sink, err := publish.NewSink(ctx, publish.Options{
		Driver:  cfg.Publish.Driver,
		Brokers: config.SplitList(cfg.Publish.Brokers),
		Topic:   cfg.Publish.Topic,
		Stream:  cfg.Publish.Stream,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("app.New: %w", err)
	}
	a.publisher = publish.NewPublisher(sink, cfg.Notify.QueueSize, cfg.Notify.DrainTimeout, logger)

	// ── Services (order matters for injection) ───────────────────────────────
	a.Auth = service.NewAuthService(a.Store, cfg)
	a.Ledger = service.NewLedgerService(a.Store, logger)
	a.Events = service.NewEventService(a.Store, service.EventServiceOptions{
		CacheTTL:        cfg.Betting.EventCacheTTL,
		DefaultMinStake: cfg.Betting.DefaultMinStake,
		DefaultMaxStake: cfg.Betting.DefaultMaxStake,
	}, logger)
	a.Bets = service.NewBetService(a.Store, a.Ledger, a.Events, gateway, cfg.Betting.CommissionRate, logger)
	a.Settlement = service.NewSettlementService(a.Store, a.Ledger, a.Events, logger)
	a.Events.SetRefunder(a.Settlement)

	a.Events.SetPublisher(a.publisher)
	a.Bets.SetPublisher(a.publisher)
	a.Settlement.SetPublisher(a.publisher)
	a.Settlement.SetNotifier(a.notifier)

	a.Dialogue = service.NewDialogueService(dialogues, a.Bets, a.Events, dialogueTTL(cfg), logger)
	a.Dialogue.SetNotifier(a.notifier)

	if a.Oracle, err = newOracle(ctx, a, locker); err != nil {
		return nil, err
	}

	// ── Hub ──────────────────────────────────────────────────────────────────
	if opts.WithHub {
		a.Hub = ws.NewHub(api.HubAuthenticator(a.Auth), config.SplitList(cfg.Server.WSAllowedOrigins), logger)
		a.Bets.SetBroadcaster(a.Hub)
		a.Settlement.SetBroadcaster(a.Hub)
	}

	// ── Scheduler ────────────────────────────────────────────────────────────
	if opts.WithScheduler {
		var resolver scheduler.AutoResolver
		if cfg.Oracle.BaseURL != "" {
			resolver = a.Oracle
		}
		a.scheduler = scheduler.NewScheduler(resolver, a.Bets, a.Events, scheduler.IntervalsFromConfig(cfg), logger)
	}

	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (repository.Store, error) {
	switch cfg.DB.Driver {
	case "memory":
		logger.Warn("using the in-memory store: state is lost on restart and not shared between processes")
		return memstore.New(), nil
	case "postgres", "pgx":
		pg, err := repository.OpenPostgres(ctx, cfg.DB.Driver, cfg.DB.DSN, repository.PoolConfig{
			MaxOpenConns:    cfg.DB.MaxOpenConns,
			MaxIdleConns:    cfg.DB.MaxIdleConns,
			ConnMaxLifetime: cfg.DB.ConnMaxLifetime,
		})
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		if err := repository.RunMigrations(ctx, pg.DB(), cfg.DB.MigrationsDir, logger); err != nil {
			_ = pg.Close()
			return nil, fmt.Errorf("app.New: %w", err)
		}
		logger.Info("database connected", "driver", cfg.DB.Driver)
		return pg, nil
	default:
		return nil, fmt.Errorf("app.New: unknown db driver %q", cfg.DB.Driver)
	}
}

func newOracle(ctx context.Context, a *App, locker service.Locker) (*service.OracleService, error) {
	cfg := a.Cfg
	var client service.OracleClient
	if cfg.Oracle.BaseURL != "" {
		c, err := oracle.NewClient(oracle.Options{
			BaseURL: cfg.Oracle.BaseURL,
			APIKey:  cfg.Oracle.APIKey,
			Timeout: cfg.Oracle.HTTPTimeout,
			Retries: cfg.Oracle.HTTPRetries,
		})
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		client = c
	}
	svc := service.NewOracleService(client, a.Settlement, a.Events, a.Store, locker, service.OracleOptions{
		PollInterval:        cfg.Oracle.PollInterval,
		MaxAttempts:         cfg.Oracle.MaxAttempts,
		Timeout:             cfg.Oracle.Timeout,
		ConfidenceThreshold: cfg.Oracle.ConfidenceThreshold,
	}, a.Logger)

	if cfg.Archive.Bucket != "" {
		s3, err := archive.NewS3(ctx, archive.Options{
			Endpoint:       cfg.Archive.Endpoint,
			Region:         cfg.Archive.Region,
			Bucket:         cfg.Archive.Bucket,
			AccessKey:      cfg.Archive.AccessKey,
			SecretKey:      cfg.Archive.SecretKey,
			ForcePathStyle: cfg.Archive.ForcePathStyle,
		})
		if err != nil {
			return nil, fmt.Errorf("app.New: %w", err)
		}
		svc.SetArchiver(s3)
		a.checks["archive"] = s3.Health
	}
	return svc, nil
}

func dialogueTTL(cfg *config.Config) domain.DialogueTTL {
	ttl := domain.DefaultDialogueTTL
	if cfg.Dialogue.SelectingTTL > 0 {
		ttl.SelectingOption = cfg.Dialogue.SelectingTTL
	}
	if cfg.Dialogue.AmountTTL > 0 {
		ttl.WaitingAmount = cfg.Dialogue.AmountTTL
	}
	if cfg.Dialogue.PaymentTTL > 0 {
		ttl.WaitingPayment = cfg.Dialogue.PaymentTTL
	}
	return ttl
}

// ──────────────────────────────────────────────────────────────────────────────
// Run
// ──────────────────────────────────────────────────────────────────────────────

// Run serves srv and every background worker until ctx is cancelled or one
// of them fails. The HTTP servers are shut down first so no new work is
// queued, then the queues drain within Notify.DrainTimeout.
func (a *App) Run(ctx context.Context, srv *http.Server) error {
	g, gctx := errgroup.WithContext(ctx)

	// Workers stop on their own context, cancelled after the servers are down.
	workCtx, stopWork := context.WithCancel(context.WithoutCancel(ctx))
	defer stopWork()

	var workers errgroup.Group
	workers.Go(func() error { return a.notifier.Run(workCtx) })
	workers.Go(func() error { return a.publisher.Run(workCtx) })
	if a.Hub != nil {
		workers.Go(func() error { return a.Hub.Run(workCtx) })
	}
	if a.scheduler != nil {
		// The scheduler stops with the servers: no new settlements while draining.
		g.Go(func() error { return a.scheduler.Run(gctx) })
	}

	servers := []*http.Server{srv}
	if a.Cfg.Metrics.Port != "" {
		servers = append(servers, metrics.NewOpsServer(a.Cfg.Metrics.Port, a.checks))
	}
	for _, s := range servers {
		s := s
		g.Go(func() error {
			a.Logger.Info("http server listening", "addr", s.Addr)
			if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("listen %s: %w", s.Addr, err)
			}
			return nil
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info("shutting down http servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout())
		defer cancel()
		var errs []error
		for _, s := range servers {
			if err := s.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("shutdown %s: %w", s.Addr, err))
			}
		}
		return errors.Join(errs...)
	})

	err := g.Wait()
	stopWork()
	if werr := workers.Wait(); werr != nil {
		a.Logger.Warn("worker stopped with error", "err", werr)
	}
	return err
}

func (a *App) shutdownTimeout() time.Duration {
	if a.Cfg.Server.ShutdownTimeout > 0 {
		return a.Cfg.Server.ShutdownTimeout
	}
	return 10 * time.Second
}

// Close releases every backend in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.Logger.Warn("close failed", "err", err)
		}
	}
	a.closers = nil
}
