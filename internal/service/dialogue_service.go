package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/evetabi/betledger/internal/metrics"
)

// DialogueStep is the outcome of one dialogue input: the state the user is
// now in plus whatever the step produced.
type DialogueStep struct {
	State  domain.DialogueState
	Prompt string
	Event  *domain.EventDetail
	Bet    *domain.Bet
	Charge *domain.Charge
}

// PaymentOutcome is returned by OnPaymentConfirmed. Bet is set when a waiting
// dialogue was resumed and the bet went through.
type PaymentOutcome struct {
	Confirmation *domain.PaymentConfirmation
	Bet          *domain.Bet
	Resumed      bool
}

// DialogueService drives the per-user bet-entry conversation. Every state
// change goes through domain.Transition; the store only ever sees states it
// produced.
type DialogueService struct {
	store    DialogueStore
	bets     *BetService
	events   *EventService
	notifier Notifier
	ttl      domain.DialogueTTL
	logger   *slog.Logger
	now      func() time.Time
}

// NewDialogueService creates a DialogueService.
func NewDialogueService(store DialogueStore, bets *BetService, events *EventService, ttl domain.DialogueTTL, logger *slog.Logger) *DialogueService {
	return &DialogueService{
		store:  store,
		bets:   bets,
		events: events,
		ttl:    ttl,
		logger: logger.With("component", "dialogue"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// SetNotifier injects the notification dispatcher.
func (s *DialogueService) SetNotifier(n Notifier) { s.notifier = n }

// ──────────────────────────────────────────────────────────────────────────────
// Entry points
// ──────────────────────────────────────────────────────────────────────────────

// StartBetSelection begins a new conversation about eventID, replacing any
// dialogue the user had. When optionID is set the option is selected in the
// same call.
func (s *DialogueService) StartBetSelection(ctx context.Context, userID int64, eventID uuid.UUID, optionID string) (*DialogueStep, error) {
	detail, err := s.events.GetEvent(ctx, eventID)
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.StartBetSelection: %w", err)
	}
	if !detail.Event.AcceptsBetsAt(s.now()) {
		return nil, fmt.Errorf("dialogue_service.StartBetSelection: %w", domain.ErrEventNotActive)
	}

	next, err := s.apply(ctx, userID, domain.Idle{}, domain.Begin{EventID: eventID})
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.StartBetSelection: %w", err)
	}
	if optionID != "" {
		return s.selectOption(ctx, userID, next, detail, optionID)
	}
	return &DialogueStep{State: next, Event: detail, Prompt: "Pick an option."}, nil
}

// SelectOption records the option of the event being discussed and asks for
// the stake.
func (s *DialogueService) SelectOption(ctx context.Context, userID int64, optionID string) (*DialogueStep, error) {
	cur, err := s.current(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.SelectOption: %w", err)
	}
	sel, ok := cur.(domain.SelectingOption)
	if !ok {
		if cur.Kind() == domain.KindIdle {
			return nil, fmt.Errorf("dialogue_service.SelectOption: %w", domain.ErrDialogueNotFound)
		}
		return nil, fmt.Errorf("dialogue_service.SelectOption: %w: option while %s", domain.ErrIllegalTransition, cur.Kind())
	}
	detail, err := s.events.GetEvent(ctx, sel.EventID)
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.SelectOption: %w", err)
	}
	return s.selectOption(ctx, userID, cur, detail, optionID)
}

func (s *DialogueService) selectOption(ctx context.Context, userID int64, cur domain.DialogueState, detail *domain.EventDetail, optionID string) (*DialogueStep, error) {
	opt := detail.Option(optionID)
	if opt == nil {
		return nil, fmt.Errorf("dialogue_service.SelectOption: %w", domain.ErrOptionNotFound)
	}
	ev := detail.Event
	next, err := s.apply(ctx, userID, cur, domain.AskAmount{OptionID: opt.ID, Min: ev.MinStake, Max: ev.MaxStake})
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.SelectOption: %w", err)
	}
	return &DialogueStep{
		State:  next,
		Event:  detail,
		Prompt: fmt.Sprintf("How much on %q? Enter %s to %s %s.", opt.Text, ev.MinStake, ev.MaxStake, ev.Currency),
	}, nil
}

// SubmitAmount parses the stake and places the bet from the balance.
//
// A malformed or out-of-range amount leaves the dialogue where it is so the
// user can try again. When the balance is short and the event's currency can
// be paid externally, a top-up charge for the shortfall is created and the
// dialogue waits for it; any other placement failure ends the dialogue.
func (s *DialogueService) SubmitAmount(ctx context.Context, userID int64, text string) (*DialogueStep, error) {
	cur, err := s.current(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w", err)
	}
	wa, ok := cur.(domain.WaitingAmount)
	if !ok {
		if cur.Kind() == domain.KindIdle {
			return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w", domain.ErrDialogueNotFound)
		}
		return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w: amount while %s", domain.ErrIllegalTransition, cur.Kind())
	}

	amount, err := parseAmount(text)
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w", err)
	}
	if amount.LessThan(wa.Min) || amount.GreaterThan(wa.Max) {
		return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w: enter %s to %s",
			domain.ErrAmountOutOfRange, wa.Min, wa.Max)
	}

	res, err := s.bets.PlaceBet(ctx, domain.PlaceBetRequest{
		EventID:  wa.EventID,
		OptionID: wa.OptionID,
		UserID:   userID,
		Amount:   amount,
		Source:   domain.SourceBalance,
	})
	if err == nil {
		next, terr := s.apply(ctx, userID, cur, domain.BetPlaced{})
		if terr != nil {
			return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w", terr)
		}
		return &DialogueStep{State: next, Bet: res.Bet, Prompt: fmt.Sprintf("Bet placed: %s.", amount)}, nil
	}

	var short *domain.InsufficientFundsError
	if errors.As(err, &short) {
		return s.awaitTopUp(ctx, userID, wa, amount, short, err)
	}

	// The event closed or something else went wrong: the dialogue is over.
	if _, terr := s.apply(ctx, userID, cur, domain.Cancel{}); terr != nil {
		s.logger.Warn("dialogue reset failed", "user_id", userID, "err", terr)
	}
	return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w", err)
}

func (s *DialogueService) awaitTopUp(ctx context.Context, userID int64, wa domain.WaitingAmount, amount decimal.Decimal, short *domain.InsufficientFundsError, placeErr error) (*DialogueStep, error) {
	detail, err := s.events.GetEvent(ctx, wa.EventID)
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w", err)
	}
	if !detail.Event.Currency.AllowsExternalPayment() {
		return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w", placeErr)
	}

	shortfall := short.Shortfall()
	eventID, optionID := wa.EventID, wa.OptionID
	charge, err := s.bets.RequestTopUp(ctx, TopUpRequest{
		UserID:   userID,
		Amount:   shortfall,
		Currency: detail.Event.Currency,
		EventID:  &eventID,
		OptionID: &optionID,
		Title:    detail.Event.Title,
	})
	if err != nil {
		// No invoice: stay in WaitingAmount and report the shortfall.
		s.logger.Warn("top-up invoice failed", "user_id", userID, "err", err)
		return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w", placeErr)
	}

	next, err := s.apply(ctx, userID, wa, domain.AwaitPayment{
		Amount:    amount,
		Shortfall: shortfall,
		ChargeRef: charge.Reference,
	})
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.SubmitAmount: %w", err)
	}
	return &DialogueStep{
		State:  next,
		Charge: charge,
		Prompt: fmt.Sprintf("Your balance is %s short. Pay %s %s to place the bet.",
			shortfall, shortfall, detail.Event.Currency),
	}, nil
}

// Cancel ends the user's dialogue.
func (s *DialogueService) Cancel(ctx context.Context, userID int64) error {
	cur, err := s.current(ctx, userID)
	if err != nil {
		return fmt.Errorf("dialogue_service.Cancel: %w", err)
	}
	if _, err := s.apply(ctx, userID, cur, domain.Cancel{}); err != nil {
		return fmt.Errorf("dialogue_service.Cancel: %w", err)
	}
	return nil
}

// Current returns the user's live dialogue state; expired states read as Idle.
func (s *DialogueService) Current(ctx context.Context, userID int64) (domain.DialogueState, error) {
	st, err := s.current(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.Current: %w", err)
	}
	return st, nil
}

// OnPaymentConfirmed applies the provider confirmation and, for a top-up
// that a live dialogue is waiting on, places the parked bet without asking
// the user again. A replayed confirmation does nothing. If the dialogue has
// expired the credited top-up stays on the balance.
func (s *DialogueService) OnPaymentConfirmed(ctx context.Context, reference, providerChargeID string) (*PaymentOutcome, error) {
	conf, err := s.bets.ConfirmPayment(ctx, reference, providerChargeID)
	if err != nil {
		return nil, fmt.Errorf("dialogue_service.OnPaymentConfirmed: %w", err)
	}
	out := &PaymentOutcome{Confirmation: conf}
	if conf.Replayed {
		return out, nil
	}
	if conf.Charge.Purpose != domain.PurposeTopUp {
		if conf.Late {
			s.notify(ctx, conf.Charge.UserID, fmt.Sprintf("Your payment of %s %s arrived after betting closed. It was added to your balance.",
				conf.Charge.Amount, conf.Charge.Currency))
		}
		return out, nil
	}

	charge := conf.Charge
	cur, err := s.current(ctx, charge.UserID)
	if err != nil {
		return out, fmt.Errorf("dialogue_service.OnPaymentConfirmed: %w", err)
	}
	wp, ok := cur.(domain.WaitingPayment)
	if !ok || wp.ChargeRef != charge.Reference {
		s.notify(ctx, charge.UserID, fmt.Sprintf("✅ %s %s added to your balance. The bet dialogue had expired, so no bet was placed.",
			charge.Amount, charge.Currency))
		return out, nil
	}

	res, err := s.bets.PlaceBet(ctx, domain.PlaceBetRequest{
		EventID:  wp.EventID,
		OptionID: wp.OptionID,
		UserID:   charge.UserID,
		Amount:   wp.Amount,
		Source:   domain.SourceBalance,
	})
	if err != nil {
		if _, terr := s.apply(ctx, charge.UserID, cur, domain.Cancel{}); terr != nil {
			s.logger.Warn("dialogue reset failed", "user_id", charge.UserID, "err", terr)
		}
		s.logger.Warn("resumed bet failed", "user_id", charge.UserID, "reference", reference, "err", err)
		s.notify(ctx, charge.UserID, fmt.Sprintf("✅ %s %s added to your balance, but the bet could not be placed: %v",
			charge.Amount, charge.Currency, err))
		return out, nil
	}

	if _, err := s.apply(ctx, charge.UserID, cur, domain.BetPlaced{}); err != nil {
		s.logger.Warn("dialogue close failed", "user_id", charge.UserID, "err", err)
	}
	out.Bet, out.Resumed = res.Bet, true
	s.notify(ctx, charge.UserID, fmt.Sprintf("✅ Payment received. Bet of %s placed.", wp.Amount))
	return out, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────────────────────────────────

func (s *DialogueService) current(ctx context.Context, userID int64) (domain.DialogueState, error) {
	st, err := s.store.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	return domain.Live(st, s.now()), nil
}

// apply runs the transition table and persists the result.
func (s *DialogueService) apply(ctx context.Context, userID int64, cur domain.DialogueState, in domain.DialogueInput) (domain.DialogueState, error) {
	next, err := domain.Transition(cur, in, s.now(), s.ttl)
	if err != nil {
		return cur, err
	}
	if err := s.store.Put(ctx, userID, next); err != nil {
		return cur, fmt.Errorf("save dialogue: %w", err)
	}
	metrics.DialogueTransitions.WithLabelValues(string(next.Kind())).Inc()
	s.logger.Debug("dialogue transition", "user_id", userID, "from", cur.Kind(), "to", next.Kind())
	return next, nil
}

func (s *DialogueService) notify(ctx context.Context, userID int64, text string) {
	if s.notifier != nil {
		s.notifier.Notify(ctx, userID, text)
	}
}

// parseAmount accepts a positive whole number, tolerating spaces and a
// leading plus sign.
func parseAmount(text string) (decimal.Decimal, error) {
	t := strings.TrimPrefix(strings.ReplaceAll(strings.TrimSpace(text), " ", ""), "+")
	if t == "" {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	d, err := decimal.NewFromString(t)
	if err != nil || !d.IsPositive() || !d.IsInteger() {
		return decimal.Zero, domain.ErrInvalidAmount
	}
	return d, nil
}
