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
	"github.com/evetabi/betledger/internal/repository"
)

// LedgerService owns every balance change. A credit or debit is one account
// update plus one LedgerTransaction row, always in the same unit of work.
type LedgerService struct {
	store  repository.Store
	logger *slog.Logger
	now    func() time.Time
}

// NewLedgerService creates a LedgerService.
func NewLedgerService(store repository.Store, logger *slog.Logger) *LedgerService {
	return &LedgerService{
		store:  store,
		logger: logger.With("component", "ledger"),
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Credit / Debit
// ──────────────────────────────────────────────────────────────────────────────

// Credit adds entry.Amount to the user's balance and returns the new balance.
func (s *LedgerService) Credit(ctx context.Context, e domain.LedgerEntry) (decimal.Decimal, error) {
	var after decimal.Decimal
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		after, err = s.CreditTx(ctx, tx, e)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger_service.Credit: %w", err)
	}
	return after, nil
}

// Debit removes entry.Amount from the user's balance. It fails with
// *domain.InsufficientFundsError, leaving the balance untouched, when the
// balance is lower than the amount.
func (s *LedgerService) Debit(ctx context.Context, e domain.LedgerEntry) (decimal.Decimal, error) {
	var after decimal.Decimal
	err := s.store.WithTx(ctx, func(tx repository.Tx) error {
		var err error
		after, err = s.DebitTx(ctx, tx, e)
		return err
	})
	if err != nil {
		return decimal.Zero, fmt.Errorf("ledger_service.Debit: %w", err)
	}
	return after, nil
}

// CreditTx is Credit inside the caller's unit of work.
func (s *LedgerService) CreditTx(ctx context.Context, tx repository.Tx, e domain.LedgerEntry) (decimal.Decimal, error) {
	if err := validateEntry(e); err != nil {
		return decimal.Zero, err
	}
	before, after, err := tx.CreditAccount(ctx, e.UserID, e.Amount, e.Type.Counter())
	if err != nil {
		return decimal.Zero, fmt.Errorf("credit account %d: %w", e.UserID, err)
	}
	if err := s.record(ctx, tx, e, e.Amount, before, after); err != nil {
		return decimal.Zero, err
	}
	metrics.LedgerOps.WithLabelValues("credit", string(e.Type)).Inc()
	return after, nil
}

// DebitTx is Debit inside the caller's unit of work.
func (s *LedgerService) DebitTx(ctx context.Context, tx repository.Tx, e domain.LedgerEntry) (decimal.Decimal, error) {
	if err := validateEntry(e); err != nil {
		return decimal.Zero, err
	}
	before, after, err := tx.DebitAccount(ctx, e.UserID, e.Amount, e.Type.Counter())
	if err != nil {
		if errors.Is(err, domain.ErrInsufficientFunds) {
			metrics.InsufficientFunds.Inc()
			return decimal.Zero, err
		}
		return decimal.Zero, fmt.Errorf("debit account %d: %w", e.UserID, err)
	}
	if err := s.record(ctx, tx, e, e.Amount.Neg(), before, after); err != nil {
		return decimal.Zero, err
	}
	metrics.LedgerOps.WithLabelValues("debit", string(e.Type)).Inc()
	return after, nil
}

func (s *LedgerService) record(ctx context.Context, tx repository.Tx, e domain.LedgerEntry, signed, before, after decimal.Decimal) error {
	lt := &domain.LedgerTransaction{
		ID:            uuid.New(),
		UserID:        e.UserID,
		Type:          e.Type,
		Amount:        signed,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     e.Reference,
		Description:   e.Description,
		CreatedAt:     s.now(),
	}
	if err := tx.InsertTransaction(ctx, lt); err != nil {
		return fmt.Errorf("log transaction: %w", err)
	}
	return nil
}

func validateEntry(e domain.LedgerEntry) error {
	if e.UserID == 0 {
		return domain.Invalid("user_id", "required")
	}
	if !e.Type.IsValid() {
		return domain.Invalid("type", fmt.Sprintf("unknown transaction type %q", e.Type))
	}
	if !e.Amount.IsPositive() || !e.Amount.IsInteger() {
		return domain.ErrInvalidAmount
	}
	return nil
}

// ──────────────────────────────────────────────────────────────────────────────
// Queries
// ──────────────────────────────────────────────────────────────────────────────

// Balance returns the user's account, or a zero account if none exists yet.
func (s *LedgerService) Balance(ctx context.Context, userID int64) (*domain.LedgerAccount, error) {
	acc, err := s.store.GetAccount(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.Balance: %w", err)
	}
	return acc, nil
}

// History returns the user's transactions, newest first.
func (s *LedgerService) History(ctx context.Context, userID int64, limit, offset int) ([]*domain.LedgerTransaction, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	txns, err := s.store.ListTransactions(ctx, userID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("ledger_service.History: %w", err)
	}
	return txns, nil
}
