// Package repository holds the persistence contracts used by the services and
// their PostgreSQL implementation (sqlx). An in-memory implementation with the
// same conditional-update semantics lives in repository/memstore.
package repository

import (
	"context"
	"time"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// EventFilter narrows ListEvents. A zero Status lists every status.
type EventFilter struct {
	Status domain.EventStatus
	ChatID int64
	Limit  int
	Offset int
}

// Reader is the read-only view of the store. Reads outside a unit of work may
// observe state that is about to change; anything that decides a write must
// re-read through Tx.
type Reader interface {
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	ListOptions(ctx context.Context, eventID uuid.UUID) ([]*domain.Option, error)
	ListEvents(ctx context.Context, f EventFilter) ([]*domain.Event, error)
	// ListDueEvents returns active auto-resolve events whose resolution date
	// is at or before now.
	ListDueEvents(ctx context.Context, now time.Time) ([]*domain.Event, error)

	// GetAccount returns domain.EmptyAccount when the user was never credited.
	GetAccount(ctx context.Context, userID int64) (*domain.LedgerAccount, error)
	ListTransactions(ctx context.Context, userID int64, limit, offset int) ([]*domain.LedgerTransaction, error)

	ListBetsByUser(ctx context.Context, userID int64, limit, offset int) ([]*domain.Bet, error)
	ListBetsByEvent(ctx context.Context, eventID uuid.UUID) ([]*domain.Bet, error)

	GetResolution(ctx context.Context, eventID uuid.UUID) (*domain.Resolution, error)

	GetCharge(ctx context.Context, reference string) (*domain.Charge, error)
	ListCharges(ctx context.Context, status domain.ChargeStatus, limit, offset int) ([]*domain.Charge, error)
	// ListPendingCharges returns pending charges created before olderThan.
	ListPendingCharges(ctx context.Context, olderThan time.Time) ([]*domain.Charge, error)

	GetUser(ctx context.Context, id int64) (*domain.User, error)
	// ListUsers returns a page of users plus the total count.
	ListUsers(ctx context.Context, limit, offset int) ([]*domain.User, int, error)
}

// Store is the entry point for the services: reads plus an all-or-nothing
// unit of work.
type Store interface {
	Reader
	// WithTx runs fn in one transaction. Any error returned by fn rolls back
	// every write made through tx; nil commits them together.
	WithTx(ctx context.Context, fn func(tx Tx) error) error
	// UpsertUser refreshes the Telegram profile fields, keeping role and
	// is_active of an existing row.
	UpsertUser(ctx context.Context, u *domain.User) (*domain.User, error)
	SetUserActive(ctx context.Context, id int64, active bool) error
	Ping(ctx context.Context) error
	Close() error
}

// Tx exposes the write primitives. All of them are narrow conditional or
// delta updates so callers never read-modify-write.
type Tx interface {
	// ── ledger ──

	// CreditAccount adds amount to the balance (creating the account lazily)
	// and to counter when it is not CounterNone.
	CreditAccount(ctx context.Context, userID int64, amount decimal.Decimal, counter domain.Counter) (before, after decimal.Decimal, err error)
	// DebitAccount subtracts amount only if balance >= amount. Otherwise it
	// returns *domain.InsufficientFundsError and changes nothing.
	DebitAccount(ctx context.Context, userID int64, amount decimal.Decimal, counter domain.Counter) (before, after decimal.Decimal, err error)
	// AddToCounter bumps a cumulative counter without touching the balance.
	AddToCounter(ctx context.Context, userID int64, counter domain.Counter, amount decimal.Decimal) error
	InsertTransaction(ctx context.Context, t *domain.LedgerTransaction) error

	// ── events ──

	InsertEvent(ctx context.Context, e *domain.Event) error
	InsertOption(ctx context.Context, o *domain.Option) error
	GetEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	// LockEvent reads the event and holds it until the unit of work ends.
	LockEvent(ctx context.Context, id uuid.UUID) (*domain.Event, error)
	GetOption(ctx context.Context, eventID uuid.UUID, optionID string) (*domain.Option, error)
	// IncrementPool applies the stake delta to the option and the event. The
	// event update is conditional on status=active and deadline > now and
	// returns domain.ErrEventNotActive when it matches nothing.
	IncrementPool(ctx context.Context, eventID uuid.UUID, optionID string, stake, commission decimal.Decimal, now time.Time) error
	// MarkEventResolved flips active→resolved; domain.ErrAlreadyResolved when
	// the event is no longer active.
	MarkEventResolved(ctx context.Context, id uuid.UUID, now time.Time) error
	// MarkEventCancelled flips active→cancelled with the same guard.
	MarkEventCancelled(ctx context.Context, id uuid.UUID, now time.Time) error

	// ── bets ──

	InsertBet(ctx context.Context, b *domain.Bet) error
	// FundBet marks an active, unfunded bet as paid for. domain.ErrAlreadyResolved
	// when the bet is settled or already funded.
	FundBet(ctx context.Context, betID uuid.UUID) error
	ActiveBets(ctx context.Context, eventID uuid.UUID) ([]*domain.Bet, error)
	// SettleBet moves an active bet to a terminal status exactly once.
	SettleBet(ctx context.Context, betID uuid.UUID, status domain.BetStatus, payout *decimal.Decimal, now time.Time) error

	// ── resolutions ──

	InsertResolution(ctx context.Context, r *domain.Resolution) error

	// ── charges ──

	InsertCharge(ctx context.Context, c *domain.Charge) error
	// ConfirmCharge moves a pending or expired charge to confirmed and returns
	// the row together with the status it left. A confirmed or refunded charge
	// returns domain.ErrChargeNotPending alongside its current row.
	ConfirmCharge(ctx context.Context, reference, providerChargeID string, now time.Time) (c *domain.Charge, prev domain.ChargeStatus, err error)
	// SetChargeInvoice stores the checkout link obtained for a charge.
	SetChargeInvoice(ctx context.Context, reference, url string) error
	// UpdateChargeStatus moves a charge from one status to another, returning
	// domain.ErrChargeNotPending when it is not in from.
	UpdateChargeStatus(ctx context.Context, reference string, from, to domain.ChargeStatus) error
}
