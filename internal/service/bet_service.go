package service

import (
	"context"
	"errors"
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

var errNoGateway = errors.New("payment gateway is not configured")

// TopUpRequest asks for an external charge that credits the ledger.
type TopUpRequest struct {
	UserID   int64
	Amount   decimal.Decimal
	Currency domain.Currency
	EventID  *uuid.UUID
	OptionID *string
	Title    string
}

// ──────────────────────────────────────────────────────────────────────────────
// BetService
// ──────────────────────────────────────────────────────────────────────────────

// BetService orchestrates bet placement and external payments.
// All money movement happens inside a single unit of work.
type BetService struct {
	store          repository.Store
	ledger         *LedgerService
	events         *EventService
	gateway        PaymentGateway // nil disables external funding
	broadcaster    Broadcaster    // injected after the WS hub is built
	publisher      EventPublisher // injected after the publisher is built
	logger         *slog.Logger
	now            func() time.Time
	commissionRate decimal.Decimal
}

// NewBetService creates a BetService. gateway may be nil.
func NewBetService(
	store repository.Store,
	ledger *LedgerService,
	events *EventService,
	gateway PaymentGateway,
	commissionRate float64,
	logger *slog.Logger,
) *BetService {
	return &BetService{
		store:          store,
		ledger:         ledger,
		events:         events,
		gateway:        gateway,
		logger:         logger.With("component", "bets"),
		now:            func() time.Time { return time.Now().UTC() },
		commissionRate: decimal.NewFromFloat(commissionRate),
	}
}

// SetBroadcaster injects the WS Hub dependency post-construction.
func (s *BetService) SetBroadcaster(b Broadcaster) { s.broadcaster = b }

// SetPublisher injects the domain event publisher.
func (s *BetService) SetPublisher(p EventPublisher) { s.publisher = p }

// ──────────────────────────────────────────────────────────────────────────────
// PlaceBet
// ──────────────────────────────────────────────────────────────────────────────

// PlaceBet validates the request and records the bet.
//
// Validation fails fast in this order: ErrEventNotActive, ErrOptionNotFound,
// ErrAmountOutOfRange. A balance-funded bet debits the ledger, inserts the bet
// and bumps the pool in one unit of work and returns
// *domain.InsufficientFundsError when the balance is short. An externally
// funded bet is recorded unfunded next to a pending charge, and only then is
// the gateway asked for an invoice. Its stake joins the pool when
// ConfirmPayment sees the charge paid.
func (s *BetService) PlaceBet(ctx context.Context, req domain.PlaceBetRequest) (*domain.PlaceBetResult, error) {
	if req.Source == "" {
		req.Source = domain.SourceBalance
	}
	detail, opt, err := s.validateBet(ctx, req)
	if err != nil {
		metrics.BetsRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, fmt.Errorf("bet_service.PlaceBet: %w", err)
	}
	ev := detail.Event

	var res *domain.PlaceBetResult
	switch req.Source {
	case domain.SourceExternalPayment:
		res, err = s.placeExternal(ctx, ev, opt, req)
	default:
		res, err = s.placeFromBalance(ctx, ev, opt, req)
	}
	if err != nil {
		metrics.BetsRejected.WithLabelValues(rejectReason(err)).Inc()
		return nil, fmt.Errorf("bet_service.PlaceBet: %w", err)
	}

	metrics.BetsPlaced.WithLabelValues(string(req.Source), string(ev.Currency)).Inc()
	metrics.StakeVolume.WithLabelValues(string(ev.Currency)).Add(req.Amount.InexactFloat64())
	s.logger.Info("bet placed", "bet_id", res.Bet.ID, "event_id", ev.ID, "option_id", opt.ID,
		"user_id", req.UserID, "amount", req.Amount, "source", req.Source)

	s.afterBet(ctx, res.Bet)
	return res, nil
}

func (s *BetService) validateBet(ctx context.Context, req domain.PlaceBetRequest) (*domain.EventDetail, *domain.Option, error) {
	if req.UserID == 0 {
		return nil, nil, domain.Invalid("user_id", "required")
	}
	if !req.Source.IsValid() {
		return nil, nil, domain.Invalid("source", fmt.Sprintf("unknown source %q", req.Source))
	}
	detail, err := loadDetail(ctx, s.store, req.EventID)
	if err != nil {
		if errors.Is(err, domain.ErrEventNotFound) {
			return nil, nil, domain.ErrEventNotActive
		}
		return nil, nil, err
	}
	if !detail.Event.AcceptsBetsAt(s.now()) {
		return nil, nil, domain.ErrEventNotActive
	}
	opt := detail.Option(req.OptionID)
	if opt == nil {
		return nil, nil, domain.ErrOptionNotFound
	}
	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		return nil, nil, domain.ErrInvalidAmount
	}
	if !detail.Event.StakeInRange(req.Amount) {
		return nil, nil, fmt.Errorf("%w: %s not in [%s, %s]", domain.ErrAmountOutOfRange,
			req.Amount, detail.Event.MinStake, detail.Event.MaxStake)
	}
	if req.Source == domain.SourceExternalPayment && !detail.Event.Currency.AllowsExternalPayment() {
		return nil, nil, domain.ErrExternalPaymentUnsupported
	}
	return detail, opt, nil
}

func (s *BetService) newBet(req domain.PlaceBetRequest, now time.Time) *domain.Bet {
	return &domain.Bet{
		ID:       uuid.New(),
		EventID:  req.EventID,
		OptionID: req.OptionID,
		UserID:   req.UserID,
		Amount:   req.Amount,
		Status:   domain.BetStatusActive,
		Source:   req.Source,
		Funded:   req.Source == domain.SourceBalance,
		PlacedAt: now,
	}
}

func (s *BetService) placeFromBalance(ctx context.Context, ev *domain.Event, opt *domain.Option, req domain.PlaceBetRequest) (*domain.PlaceBetResult, error) {
	now := s.now()
	bet := s.newBet(req, now)
	commission := domain.Commission(req.Amount, s.commissionRate)

	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if _, err := s.ledger.DebitTx(ctx, tx, domain.LedgerEntry{
			UserID:      req.UserID,
			Amount:      req.Amount,
			Type:        domain.TxBet,
			Reference:   bet.ID.String(),
			Description: fmt.Sprintf("Bet on %q: %s", ev.Title, opt.Text),
		}); err != nil {
			return err
		}
		// Re-checks status and deadline under the unit of work.
		if err := tx.IncrementPool(ctx, ev.ID, opt.ID, req.Amount, commission, now); err != nil {
			return err
		}
		return tx.InsertBet(ctx, bet)
	})
	if err != nil {
		return nil, err
	}
	return &domain.PlaceBetResult{Bet: bet}, nil
}

func (s *BetService) placeExternal(ctx context.Context, ev *domain.Event, opt *domain.Option, req domain.PlaceBetRequest) (*domain.PlaceBetResult, error) {
	if s.gateway == nil {
		return nil, domain.External("payments", errNoGateway)
	}
	now := s.now()
	bet := s.newBet(req, now)
	ref := domain.NewChargeReference(domain.PurposeBetStake)
	bet.ExternalRef = &ref
	eventID, optionID, betID := ev.ID, opt.ID, bet.ID
	charge := &domain.Charge{
		ID:        uuid.New(),
		Reference: ref,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Currency:  ev.Currency,
		Purpose:   domain.PurposeBetStake,
		Status:    domain.ChargePending,
		EventID:   &eventID,
		OptionID:  &optionID,
		BetID:     &betID,
		CreatedAt: now,
	}

	// The charge row exists before any invoice does, so every payable link
	// has a record to confirm against.
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		locked, err := tx.LockEvent(ctx, ev.ID)
		if err != nil {
			return err
		}
		if !locked.AcceptsBetsAt(now) {
			return domain.ErrEventNotActive
		}
		if err := tx.InsertBet(ctx, bet); err != nil {
			return err
		}
		return tx.InsertCharge(ctx, charge)
	})
	if err != nil {
		return nil, err
	}

	if err := s.attachInvoice(ctx, charge, domain.InvoiceRequest{
		Reference:   ref,
		UserID:      req.UserID,
		Title:       truncate(ev.Title, 32),
		Description: truncate(fmt.Sprintf("Stake on %q", opt.Text), 255),
		Amount:      req.Amount,
		Currency:    ev.Currency,
	}); err != nil {
		return nil, err
	}
	return &domain.PlaceBetResult{Bet: bet, Charge: charge}, nil
}

// attachInvoice asks the gateway for the checkout link of a recorded charge.
// When the gateway fails the charge is expired (and its bet voided) so it
// never funds anything unless a payment still arrives.
func (s *BetService) attachInvoice(ctx context.Context, charge *domain.Charge, req domain.InvoiceRequest) error {
	url, err := s.gateway.CreateInvoice(ctx, req)
	if err != nil {
		s.abandonCharge(ctx, charge)
		return asExternal("payments", err)
	}
	charge.InvoiceURL = url
	if err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.SetChargeInvoice(ctx, charge.Reference, url)
	}); err != nil {
		s.logger.Warn("invoice link not stored", "reference", charge.Reference, "err", err)
	}
	return nil
}

func (s *BetService) abandonCharge(ctx context.Context, charge *domain.Charge) {
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.UpdateChargeStatus(ctx, charge.Reference, domain.ChargePending, domain.ChargeExpired); err != nil {
			return err
		}
		if charge.BetID == nil {
			return nil
		}
		return tx.SettleBet(ctx, *charge.BetID, domain.BetStatusVoid, nil, s.now())
	})
	if err != nil {
		// Left pending: the follow-up loop reports it.
		s.logger.Error("abandon charge failed", "reference", charge.Reference, "err", err)
		return
	}
	charge.Status = domain.ChargeExpired
}

// afterBet runs the best-effort post-commit side effects of a bet.
func (s *BetService) afterBet(ctx context.Context, bet *domain.Bet) {
	if s.events != nil {
		s.events.Invalidate()
	}
	if s.publisher != nil {
		s.publisher.Publish(ctx, publish.TypeBetPlaced, bet.EventID.String(), bet)
	}
	if bet.Funded {
		s.broadcastPool(ctx, bet.EventID)
	}
}

func (s *BetService) broadcastPool(ctx context.Context, eventID uuid.UUID) {
	if s.broadcaster == nil {
		return
	}
	detail, err := loadDetail(ctx, s.store, eventID)
	if err != nil {
		s.logger.Warn("pool broadcast skipped", "event_id", eventID, "err", err)
		return
	}
	s.broadcaster.BroadcastPoolUpdate(detail)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, domain.ErrEventNotActive):
		return "event_not_active"
	case errors.Is(err, domain.ErrOptionNotFound):
		return "option_not_found"
	case errors.Is(err, domain.ErrAmountOutOfRange), errors.Is(err, domain.ErrInvalidAmount):
		return "amount"
	case errors.Is(err, domain.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, domain.ErrExternalPaymentUnsupported):
		return "external_unsupported"
	case errors.Is(err, domain.ErrExternalService):
		return "external_service"
	case errors.Is(err, domain.ErrInvalidInput):
		return "invalid"
	default:
		return "internal"
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// External payments
// ──────────────────────────────────────────────────────────────────────────────

// RequestTopUp creates a pending top-up charge and returns it with the
// invoice URL the user has to pay.
func (s *BetService) RequestTopUp(ctx context.Context, req TopUpRequest) (*domain.Charge, error) {
	if req.UserID == 0 {
		return nil, fmt.Errorf("bet_service.RequestTopUp: %w", domain.Invalid("user_id", "required"))
	}
	if !req.Amount.IsPositive() || !req.Amount.IsInteger() {
		return nil, fmt.Errorf("bet_service.RequestTopUp: %w", domain.ErrInvalidAmount)
	}
	if req.Currency == "" {
		req.Currency = domain.CurrencyStars
	}
	if !req.Currency.AllowsExternalPayment() {
		return nil, fmt.Errorf("bet_service.RequestTopUp: %w", domain.ErrExternalPaymentUnsupported)
	}
	if s.gateway == nil {
		return nil, fmt.Errorf("bet_service.RequestTopUp: %w", domain.External("payments", errNoGateway))
	}
	title := req.Title
	if title == "" {
		title = "Balance top-up"
	}

	ref := domain.NewChargeReference(domain.PurposeTopUp)
	charge := &domain.Charge{
		ID:        uuid.New(),
		Reference: ref,
		UserID:    req.UserID,
		Amount:    req.Amount,
		Currency:  req.Currency,
		Purpose:   domain.PurposeTopUp,
		Status:    domain.ChargePending,
		EventID:   req.EventID,
		OptionID:  req.OptionID,
		CreatedAt: s.now(),
	}
	if err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		return tx.InsertCharge(ctx, charge)
	}); err != nil {
		return nil, fmt.Errorf("bet_service.RequestTopUp: %w", err)
	}
	if err := s.attachInvoice(ctx, charge, domain.InvoiceRequest{
		Reference:   ref,
		UserID:      req.UserID,
		Title:       truncate(title, 32),
		Description: fmt.Sprintf("Top up %s %s", req.Amount, req.Currency),
		Amount:      req.Amount,
		Currency:    req.Currency,
	}); err != nil {
		return nil, fmt.Errorf("bet_service.RequestTopUp: %w", err)
	}
	s.logger.Info("top-up requested", "reference", ref, "user_id", req.UserID, "amount", req.Amount)
	return charge, nil
}

// ConfirmPayment applies a provider confirmation. It is idempotent on
// reference: the first call moves the charge to confirmed in one unit of work
// with its effect, and every later call changes nothing and reports
// Replayed=true.
//
// A top-up credits the ledger. A bet stake funds its bet and adds the stake to
// the pool. A payment that arrives after its charge expired, or after the
// event of its bet closed, is credited to the balance and reported Late.
func (s *BetService) ConfirmPayment(ctx context.Context, reference, providerChargeID string) (*domain.PaymentConfirmation, error) {
	if reference == "" {
		return nil, fmt.Errorf("bet_service.ConfirmPayment: %w", domain.Invalid("reference", "required"))
	}
	pre, err := s.store.GetCharge(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("bet_service.ConfirmPayment: %w", err)
	}

	var (
		charge   *domain.Charge
		replayed bool
		late     bool
	)
	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		// Same lock order as settlement: event first, then the charge.
		if pre.Purpose == domain.PurposeBetStake && pre.EventID != nil {
			if _, err := tx.LockEvent(ctx, *pre.EventID); err != nil {
				return err
			}
		}
		c, prev, err := tx.ConfirmCharge(ctx, reference, providerChargeID, s.now())
		if errors.Is(err, domain.ErrChargeNotPending) {
			charge, replayed = c, true
			return nil
		}
		if err != nil {
			return err
		}
		charge = c

		switch {
		case prev == domain.ChargeExpired:
			late = true
		case c.Purpose == domain.PurposeBetStake:
			funded, err := s.fundStake(ctx, tx, c)
			if err != nil || funded {
				return err
			}
			late = true
		}
		description := "Top-up via " + string(c.Currency)
		if late {
			description = "Late payment via " + string(c.Currency)
		}
		_, err = s.ledger.CreditTx(ctx, tx, domain.LedgerEntry{
			UserID:      c.UserID,
			Amount:      c.Amount,
			Type:        domain.TxDeposit,
			Reference:   c.Reference,
			Description: description,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("bet_service.ConfirmPayment: %w", err)
	}

	metrics.PaymentConfirmations.WithLabelValues(string(charge.Purpose), fmt.Sprint(replayed)).Inc()
	if replayed {
		s.logger.Info("payment confirmation replayed", "reference", reference, "status", charge.Status)
		return &domain.PaymentConfirmation{Charge: charge, Replayed: true}, nil
	}

	s.logger.Info("payment confirmed", "reference", reference, "purpose", charge.Purpose,
		"user_id", charge.UserID, "amount", charge.Amount, "late", late)
	if s.publisher != nil {
		s.publisher.Publish(ctx, publish.TypePaymentConfirmed, charge.Reference, charge)
	}
	if charge.Purpose == domain.PurposeBetStake && !late && charge.EventID != nil {
		if s.events != nil {
			s.events.Invalidate()
		}
		s.broadcastPool(ctx, *charge.EventID)
	}
	return &domain.PaymentConfirmation{Charge: charge, Late: late}, nil
}

// fundStake adds a paid stake to the pool and marks its bet funded. It returns
// false, with the bet voided, when the event no longer takes the stake.
func (s *BetService) fundStake(ctx context.Context, tx repository.Tx, c *domain.Charge) (bool, error) {
	if c.BetID == nil || c.EventID == nil || c.OptionID == nil {
		return false, fmt.Errorf("charge %s has no bet", c.Reference)
	}
	commission := domain.Commission(c.Amount, s.commissionRate)
	// The deadline is checked against the placement time: the stake was
	// accepted before the deadline and only the payment is late.
	err := tx.IncrementPool(ctx, *c.EventID, *c.OptionID, c.Amount, commission, c.CreatedAt)
	if errors.Is(err, domain.ErrEventNotActive) {
		if err := tx.SettleBet(ctx, *c.BetID, domain.BetStatusVoid, nil, s.now()); err != nil {
			return false, fmt.Errorf("void bet %s: %w", *c.BetID, err)
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := tx.FundBet(ctx, *c.BetID); err != nil {
		return false, err
	}
	return true, nil
}

// RefundCharge returns a confirmed top-up to the user through the gateway.
// The credited amount is debited first, so a top-up that was already spent
// fails with *domain.InsufficientFundsError and nothing changes.
func (s *BetService) RefundCharge(ctx context.Context, reference string) (*domain.Charge, error) {
	if s.gateway == nil {
		return nil, fmt.Errorf("bet_service.RefundCharge: %w", domain.External("payments", errNoGateway))
	}
	c, err := s.store.GetCharge(ctx, reference)
	if err != nil {
		return nil, fmt.Errorf("bet_service.RefundCharge: %w", err)
	}
	if c.Purpose != domain.PurposeTopUp {
		return nil, fmt.Errorf("bet_service.RefundCharge: %w",
			domain.Invalid("reference", "only top-up charges can be refunded"))
	}
	if c.Status != domain.ChargeConfirmed || c.ProviderChargeID == nil {
		return nil, fmt.Errorf("bet_service.RefundCharge: %w", domain.ErrChargeNotPending)
	}

	err = s.store.WithTx(ctx, func(tx repository.Tx) error {
		if err := tx.UpdateChargeStatus(ctx, reference, domain.ChargeConfirmed, domain.ChargeRefunded); err != nil {
			return err
		}
		if _, err := s.ledger.DebitTx(ctx, tx, domain.LedgerEntry{
			UserID:      c.UserID,
			Amount:      c.Amount,
			Type:        domain.TxWithdrawal,
			Reference:   c.Reference,
			Description: "Top-up refunded",
		}); err != nil {
			return err
		}
		// The provider call is last so any earlier failure leaves the
		// charge and the balance untouched.
		return asExternal("payments", s.gateway.Refund(ctx, c.UserID, *c.ProviderChargeID))
	})
	if err != nil {
		return nil, fmt.Errorf("bet_service.RefundCharge: %w", err)
	}

	c.Status = domain.ChargeRefunded
	s.logger.Info("charge refunded", "reference", reference, "user_id", c.UserID, "amount", c.Amount)
	return c, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// ListMyBets returns the user's bets, newest first.
func (s *BetService) ListMyBets(ctx context.Context, userID int64, limit, offset int) ([]*domain.Bet, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	bets, err := s.store.ListBetsByUser(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("bet_service.ListMyBets: %w", err)
	}
	return bets, nil
}

// ListCharges returns a page of charges in the given status.
func (s *BetService) ListCharges(ctx context.Context, status domain.ChargeStatus, limit, offset int) ([]*domain.Charge, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	charges, err := s.store.ListCharges(ctx, status, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("bet_service.ListCharges: %w", err)
	}
	return charges, nil
}

// ExpireStaleCharges moves pending top-up charges created before olderThan
// to expired and returns the stale bet-stake charges, which stay pending for
// manual follow-up.
func (s *BetService) ExpireStaleCharges(ctx context.Context, olderThan time.Time) (expired int, stale []*domain.Charge, err error) {
	pending, err := s.store.ListPendingCharges(ctx, olderThan)
	if err != nil {
		return 0, nil, fmt.Errorf("bet_service.ExpireStaleCharges: %w", err)
	}
	for _, c := range pending {
		if c.Purpose != domain.PurposeTopUp {
			stale = append(stale, c)
			continue
		}
		err := s.store.WithTx(ctx, func(tx repository.Tx) error {
			return tx.UpdateChargeStatus(ctx, c.Reference, domain.ChargePending, domain.ChargeExpired)
		})
		switch {
		case errors.Is(err, domain.ErrChargeNotPending):
			// confirmed between the list and the update
		case err != nil:
			return expired, stale, fmt.Errorf("bet_service.ExpireStaleCharges: %s: %w", c.Reference, err)
		default:
			expired++
		}
	}
	return expired, stale, nil
}

// ──────────────────────────────────────────────────────────────────────────────
// helpers
// ──────────────────────────────────────────────────────────────────────────────

// asExternal wraps err as an ExternalServiceError unless it already is one.
func asExternal(service string, err error) error {
	if err == nil || errors.Is(err, domain.ErrExternalService) {
		return err
	}
	return domain.External(service, err)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
