// Package scheduler runs the background loops of the engine:
//  1. autoResolveLoop    – asks the oracle to settle events past their resolution date.
//  2. chargeFollowUpLoop – expires abandoned top-up charges.
//  3. eventCacheLoop     – reloads the active-event cache.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/evetabi/betledger/internal/config"
	"github.com/evetabi/betledger/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dependencies, declared here so tests can drive the loops with fakes
// ──────────────────────────────────────────────────────────────────────────────

// AutoResolver is implemented by service.OracleService.
type AutoResolver interface {
	AutoResolveDue(ctx context.Context) (int, error)
}

// ChargeExpirer is implemented by service.BetService.
type ChargeExpirer interface {
	ExpireStaleCharges(ctx context.Context, olderThan time.Time) (int, []*domain.Charge, error)
}

// CacheRefresher is implemented by service.EventService.
type CacheRefresher interface {
	Refresh(ctx context.Context) error
}

// Intervals holds the tick of each loop. A zero interval disables the loop.
type Intervals struct {
	AutoResolve    time.Duration
	ChargeFollowUp time.Duration
	ChargeTTL      time.Duration
	EventCache     time.Duration
}

// IntervalsFromConfig picks the loop intervals out of cfg.
func IntervalsFromConfig(cfg *config.Config) Intervals {
	iv := Intervals{
		ChargeFollowUp: cfg.Payment.FollowUpEvery,
		ChargeTTL:      cfg.Payment.ChargeTTL,
		EventCache:     cfg.Betting.EventCacheTTL,
	}
	if cfg.Oracle.BaseURL != "" {
		iv.AutoResolve = cfg.Oracle.AutoResolveInterval
	}
	return iv
}

// ──────────────────────────────────────────────────────────────────────────────
// Scheduler
// ──────────────────────────────────────────────────────────────────────────────

// Scheduler owns the background loops. Any dependency may be nil, which
// disables its loop.
type Scheduler struct {
	oracle    AutoResolver
	charges   ChargeExpirer
	events    CacheRefresher
	intervals Intervals
	logger    *slog.Logger
	now       func() time.Time
}

// NewScheduler creates a Scheduler.
func NewScheduler(oracle AutoResolver, charges ChargeExpirer, events CacheRefresher, iv Intervals, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		oracle:    oracle,
		charges:   charges,
		events:    events,
		intervals: iv,
		logger:    logger.With("component", "scheduler"),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// Run starts the enabled loops and blocks until ctx is cancelled and every
// loop has returned. It always returns nil so it can sit in an errgroup.
func (s *Scheduler) Run(ctx context.Context) error {
	var wg sync.WaitGroup
	start := func(name string, every time.Duration, tick func(context.Context)) {
		if every <= 0 {
			s.logger.Info("loop disabled", "loop", name)
			return
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.loop(ctx, name, every, tick)
		}()
	}

	if s.oracle != nil {
		start("autoResolveLoop", s.intervals.AutoResolve, s.autoResolve)
	}
	if s.charges != nil {
		start("chargeFollowUpLoop", s.intervals.ChargeFollowUp, s.chargeFollowUp)
	}
	if s.events != nil {
		start("eventCacheLoop", s.intervals.EventCache, s.refreshCache)
	}
	s.logger.Info("scheduler started")

	wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

// loop runs tick every interval until ctx is cancelled. A panicking tick is
// logged and the loop keeps going.
func (s *Scheduler) loop(ctx context.Context, name string, every time.Duration, tick func(context.Context)) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("loop shutting down", "loop", name)
			return
		case <-ticker.C:
			s.safeTick(ctx, name, tick)
		}
	}
}

func (s *Scheduler) safeTick(ctx context.Context, name string, tick func(context.Context)) {
	defer s.recoverAndLog(name)
	tick(ctx)
}

// ──────────────────────────────────────────────────────────────────────────────
// Loop bodies
// ──────────────────────────────────────────────────────────────────────────────

func (s *Scheduler) autoResolve(ctx context.Context) {
	n, err := s.oracle.AutoResolveDue(ctx)
	if err != nil {
		s.logger.Error("autoResolveLoop: AutoResolveDue", "err", err)
		return
	}
	if n > 0 {
		s.logger.Info("events auto-resolved", "count", n)
	}
}

func (s *Scheduler) chargeFollowUp(ctx context.Context) {
	ttl := s.intervals.ChargeTTL
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	expired, stale, err := s.charges.ExpireStaleCharges(ctx, s.now().Add(-ttl))
	if err != nil {
		s.logger.Error("chargeFollowUpLoop: ExpireStaleCharges", "err", err)
		return
	}
	if expired > 0 {
		s.logger.Info("stale top-ups expired", "count", expired)
	}
	for _, c := range stale {
		s.logger.Warn("stake charge still unconfirmed",
			"reference", c.Reference, "user_id", c.UserID, "amount", c.Amount, "created_at", c.CreatedAt)
	}
}

func (s *Scheduler) refreshCache(ctx context.Context) {
	if err := s.events.Refresh(ctx); err != nil {
		s.logger.Warn("eventCacheLoop: Refresh", "err", err)
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Panic recovery
// ──────────────────────────────────────────────────────────────────────────────

// recoverAndLog is deferred around each tick to catch unexpected panics,
// log them, and allow the scheduler to continue running.
func (s *Scheduler) recoverAndLog(loop string) {
	if r := recover(); r != nil {
		s.logger.Error("PANIC recovered in scheduler loop",
			"loop", loop, "panic", r)
	}
}
