package service

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/metrics"
	"github.com/evetabi/betledger/internal/publish"
	"github.com/evetabi/betledger/internal/repository"
)

// SettlementService settles events exactly once: it pays winners pro rata,
// marks losers, refunds everyone when nobody won, and handles cancellation.
//
// It implements the Refunder interface declared in event_service.go.
type SettlementService struct {
	store       repository.Store
	ledger      *LedgerService
	events      *EventService
	notifier    Notifier
	broadcaster Broadcaster
	publisher   EventPublisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewSettlementService builds a SettlementService.
func NewSettlementService(store repository.Store, ledger *LedgerService, events *EventService, logger *slog.Logger) *SettlementService {
	return &SettlementService{
		store:  store,
		ledger: ledger,
		events: events,
		logger: logger.With("component", "settlement"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier injects the notification dispatcher.
func (s *SettlementService) SetNotifier(n Notifier) { s.notifier = n }

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *SettlementService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetPublisher injects the domain event publisher.
func (s *SettlementService) SetPublisher(p EventPublisher) { s.publisher = p }

// ──────────────────────────────────────────────────────────────────────────────
// Resolve
// ──────────────────────────────────────────────────────────────────────────────

// Resolve declares the winning options of an event and distributes its pool.
//
// Unknown option ids fail before any write. Everything else happens in one
// unit of work: the event row is locked, a resolved or cancelled event yields
// ErrAlreadyResolved, bets are paid (floor(stake*pool/W)) or refunded, losers
// are marked, the Resolution is written and the status flips last. The
// truncation remainder (dust) stays in the pool and is only logged.
//
// External stakes whose charge was never paid are not in the pool: they are
// voided with their charge expired and are left out of W and of any refund.
func (s *SettlementService) Resolve(ctx context.Context, req domain.ResolveRequest) (*domain.Resolution, error) {
	if req.Source == "" {
		req.Source = domain.ResolutionManual
	}
	if !req.Source.IsValid() {
		return nil, fmt.Errorf("settlement_service.Resolve: %w",
			domain.Invalid("source", fmt.Sprintf("unknown source %q", req.Source)))
	}
	detail, err := loadDetail(ctx, s.store, req.EventID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Resolve: %w", err)
	}
	winning, err := normalizeWinners(detail, req.WinningOptionIDs)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Resolve: %w", err)
	}
	data := req.Data
	if len(data) == 0 {
		data = json.RawMessage(`{}`)
	}

	start := time.Now()
	var (
		ev     *domain.Event
		plan   *domain.PayoutPlan
		bets   []*domain.Bet
		unpaid []*domain.Bet
		res    *domain.Resolution
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		ev, err = tx.LockEvent(ctx, req.EventID)
		if err != nil {
			return err
		}
		if !ev.IsActive() {
			return domain.ErrAlreadyResolved
		}
		active, err := tx.ActiveBets(ctx, ev.ID)
		if err != nil {
			return fmt.Errorf("active bets: %w", err)
		}

		now := s.now()
		bets, unpaid = domain.SplitFunded(active)
		if err := voidUnpaid(ctx, tx, unpaid, now); err != nil {
			return err
		}
		plan = domain.PlanPayouts(bets, winning, ev.TotalPool)
		if plan.Refund {
			if err := s.refundBets(ctx, tx, bets, "No winning stakes", now); err != nil {
				return err
			}
		} else {
			if err := s.payWinners(ctx, tx, ev, plan, now); err != nil {
				return err
			}
			for _, b := range plan.Losers {
				if err := tx.SettleBet(ctx, b.ID, domain.BetStatusLost, nil, now); err != nil {
					return fmt.Errorf("settle loser %s: %w", b.ID, err)
				}
				if err := tx.AddToCounter(ctx, b.UserID, domain.CounterLost, b.Amount); err != nil {
					return fmt.Errorf("loss counter %s: %w", b.ID, err)
				}
			}
		}

		res = &domain.Resolution{
			ID:               uuid.New(),
			EventID:          ev.ID,
			WinningOptionIDs: winning,
			Source:           req.Source,
			Data:             data,
			TotalWinners:     len(plan.Winners),
			TotalPayout:      plan.TotalPayout,
			ResolvedAt:       now,
		}
		if err := tx.InsertResolution(ctx, res); err != nil {
			return fmt.Errorf("insert resolution: %w", err)
		}
		return tx.MarkEventResolved(ctx, ev.ID, now)
	})
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Resolve: %w", err)
	}

	outcome := "paid"
	if plan.Refund {
		outcome = "refund"
	}
	metrics.Settlements.WithLabelValues(string(req.Source), outcome).Inc()
	metrics.SettlementDuration.Observe(time.Since(start).Seconds())
	if plan.Dust.IsPositive() {
		metrics.PayoutDust.Add(plan.Dust.InexactFloat64())
	}
	s.logger.Info("event resolved", "event_id", ev.ID, "source", req.Source, "outcome", outcome,
		"bets", len(bets), "voided", len(unpaid), "winners", res.TotalWinners,
		"total_payout", res.TotalPayout, "pool", ev.TotalPool, "dust", plan.Dust)

	ev.Status = domain.EventStatusResolved
	ev.ResolvedAt = &res.ResolvedAt
	s.afterResolve(ctx, ev, res, plan, bets)
	return res, nil
}

// normalizeWinners drops duplicates and rejects ids that are not options of
// the event.
func normalizeWinners(detail *domain.EventDetail, ids []string) ([]string, error) {
	out := make([]string, 0, len(ids))
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		if detail.Option(id) == nil {
			return nil, &domain.ValidationError{
				Field:  "winning_option_ids",
				Detail: fmt.Sprintf("%q is not an option of this event", id),
				Err:    domain.ErrOptionNotFound,
			}
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out, nil
}

func (s *SettlementService) payWinners(ctx context.Context, tx repository.Tx, ev *domain.Event, plan *domain.PayoutPlan, now time.Time) error {
	for _, b := range plan.Winners {
		payout := plan.Payouts[b.ID.String()]
		if payout.IsPositive() {
			if _, err := s.ledger.CreditTx(ctx, tx, domain.LedgerEntry{
				UserID:      b.UserID,
				Amount:      payout,
				Type:        domain.TxPayout,
				Reference:   b.ID.String(),
				Description: fmt.Sprintf("Payout for %q", ev.Title),
			}); err != nil {
				return fmt.Errorf("pay bet %s: %w", b.ID, err)
			}
		}
		if err := tx.SettleBet(ctx, b.ID, domain.BetStatusWon, &payout, now); err != nil {
			return fmt.Errorf("settle winner %s: %w", b.ID, err)
		}
	}
	return nil
}

// voidUnpaid closes external stakes that were never paid for. No money moves:
// the bet becomes void and its charge expires, so a payment that still
// arrives is credited to the balance by ConfirmPayment.
func voidUnpaid(ctx context.Context, tx repository.Tx, bets []*domain.Bet, now time.Time) error {
	for _, b := range bets {
		if err := tx.SettleBet(ctx, b.ID, domain.BetStatusVoid, nil, now); err != nil {
			return fmt.Errorf("void bet %s: %w", b.ID, err)
		}
		if b.ExternalRef == nil {
			continue
		}
		if err := tx.UpdateChargeStatus(ctx, *b.ExternalRef, domain.ChargePending, domain.ChargeExpired); err != nil {
			return fmt.Errorf("expire charge of bet %s: %w", b.ID, err)
		}
	}
	return nil
}

// refundBets credits every bet its stake back and marks it refunded.
func (s *SettlementService) refundBets(ctx context.Context, tx repository.Tx, bets []*domain.Bet, why string, now time.Time) error {
	for _, b := range bets {
		amount := b.Amount
		if _, err := s.ledger.CreditTx(ctx, tx, domain.LedgerEntry{
			UserID:      b.UserID,
			Amount:      amount,
			Type:        domain.TxRefund,
			Reference:   b.ID.String(),
			Description: why,
		}); err != nil {
			return fmt.Errorf("refund bet %s: %w", b.ID, err)
		}
		if err := tx.SettleBet(ctx, b.ID, domain.BetStatusRefunded, &amount, now); err != nil {
			return fmt.Errorf("mark refunded %s: %w", b.ID, err)
		}
	}
	return nil
}

// afterResolve runs the best-effort side effects. Nothing here can undo the
// committed settlement.
func (s *SettlementService) afterResolve(ctx context.Context, ev *domain.Event, res *domain.Resolution, plan *domain.PayoutPlan, bets []*domain.Bet) {
	if s.events != nil {
		s.events.Invalidate()
	}
	if s.broadcaster != nil {
		s.broadcaster.BroadcastResolution(ev, res)
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, publish.TypeEventResolved, ev.ID.String(), res)
	}
	if s.notifier == nil {
		return
	}

	won := make(map[int64]decimal.Decimal)
	refunded := make(map[int64]decimal.Decimal)
	lost := make(map[int64]decimal.Decimal)
	if plan.Refund {
		for _, b := range bets {
			refunded[b.UserID] = refunded[b.UserID].Add(b.Amount)
		}
	} else {
		for _, b := range plan.Winners {
			won[b.UserID] = won[b.UserID].Add(plan.Payouts[b.ID.String()])
		}
		for _, b := range plan.Losers {
			lost[b.UserID] = lost[b.UserID].Add(b.Amount)
		}
	}
	for user, amt := range won {
		s.notifier.Notify(ctx, user, fmt.Sprintf("🏆 %q is settled. You won %s %s.", ev.Title, amt, ev.Currency))
	}
	for user, amt := range refunded {
		s.notifier.Notify(ctx, user, fmt.Sprintf("↩️ %q had no winning stakes. %s %s refunded.", ev.Title, amt, ev.Currency))
	}
	for user, amt := range lost {
		if _, alsoWon := won[user]; alsoWon {
			continue
		}
		s.notifier.Notify(ctx, user, fmt.Sprintf("%q is settled. Your stake of %s %s did not win.", ev.Title, amt, ev.Currency))
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// CancelEvent: implements the Refunder interface
// ──────────────────────────────────────────────────────────────────────────────

// CancelEvent refunds every funded active bet of the event, voids the unpaid
// ones and marks it cancelled, all in one unit of work. No Resolution is
// written.
func (s *SettlementService) CancelEvent(ctx context.Context, eventID uuid.UUID, reason string) (int, error) {
	if reason == "" {
		reason = "Event cancelled"
	}
	var (
		ev     *domain.Event
		bets   []*domain.Bet
		unpaid []*domain.Bet
	)
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		ev, err = tx.LockEvent(ctx, eventID)
		if err != nil {
			return err
		}
		if !ev.IsActive() {
			return domain.ErrAlreadyResolved
		}
		active, err := tx.ActiveBets(ctx, eventID)
		if err != nil {
			return fmt.Errorf("active bets: %w", err)
		}
		now := s.now()
		bets, unpaid = domain.SplitFunded(active)
		if err := voidUnpaid(ctx, tx, unpaid, now); err != nil {
			return err
		}
		if err := s.refundBets(ctx, tx, bets, "Refund: "+reason, now); err != nil {
			return err
		}
		return tx.MarkEventCancelled(ctx, eventID, now)
	})
	if err != nil {
		return 0, fmt.Errorf("settlement_service.CancelEvent: %w", err)
	}

	metrics.Settlements.WithLabelValues("cancel", "refund").Inc()
	s.logger.Info("event cancelled", "event_id", eventID, "refunded_bets", len(bets),
		"voided", len(unpaid), "reason", reason)

	ev.Status = domain.EventStatusCancelled
	if s.events != nil {
		s.events.Invalidate()
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, publish.TypeEventCancelled, eventID.String(), map[string]any{
			"event_id": eventID, "reason": reason, "refunded_bets": len(bets),
		})
	}
	if s.broadcaster != nil {
		if detail, err := loadDetail(ctx, s.store, eventID); err == nil {
			s.broadcaster.BroadcastPoolUpdate(detail)
		}
	}
	if s.notifier != nil {
		refunded := make(map[int64]decimal.Decimal)
		for _, b := range bets {
			refunded[b.UserID] = refunded[b.UserID].Add(b.Amount)
		}
		for user, amt := range refunded {
			s.notifier.Notify(ctx, user, fmt.Sprintf("↩️ %q was cancelled (%s). %s %s refunded.", ev.Title, reason, amt, ev.Currency))
		}
	}
	return len(bets), nil
}
