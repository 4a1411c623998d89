package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// LedgerAccount
// ──────────────────────────────────────────────────────────────────────────────

// LedgerAccount is a user's balance plus cumulative counters. One row per
// user, created lazily on the first credit. Balance is never negative.
type LedgerAccount struct {
	UserID         int64           `json:"user_id"         db:"user_id"`
	Balance        decimal.Decimal `json:"balance"         db:"balance"`
	TotalDeposited decimal.Decimal `json:"total_deposited" db:"total_deposited"`
	TotalWon       decimal.Decimal `json:"total_won"       db:"total_won"`
	TotalLost      decimal.Decimal `json:"total_lost"      db:"total_lost"`
	TotalWithdrawn decimal.Decimal `json:"total_withdrawn" db:"total_withdrawn"`
	CreatedAt      time.Time       `json:"created_at"      db:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"      db:"updated_at"`
}

// EmptyAccount is the view of a user that has never been credited.
func EmptyAccount(userID int64) *LedgerAccount {
	return &LedgerAccount{
		UserID:         userID,
		Balance:        decimal.Zero,
		TotalDeposited: decimal.Zero,
		TotalWon:       decimal.Zero,
		TotalLost:      decimal.Zero,
		TotalWithdrawn: decimal.Zero,
	}
}

// Counter names one of the cumulative account counters.
type Counter string

const (
	CounterNone      Counter = ""
	CounterDeposited Counter = "total_deposited"
	CounterWon       Counter = "total_won"
	CounterLost      Counter = "total_lost"
	CounterWithdrawn Counter = "total_withdrawn"
)

// ──────────────────────────────────────────────────────────────────────────────
// LedgerTransaction
// ──────────────────────────────────────────────────────────────────────────────

// TxType enumerates ledger transaction types for reporting.
type TxType string

const (
	TxDeposit    TxType = "deposit"
	TxWithdrawal TxType = "withdrawal"
	TxBet        TxType = "bet"
	TxPayout     TxType = "payout"
	TxRefund     TxType = "refund"
	TxBonus      TxType = "bonus"
	TxAdjustment TxType = "adjustment"
)

// Counter returns the cumulative counter a transaction of this type feeds.
func (t TxType) Counter() Counter {
	switch t {
	case TxDeposit:
		return CounterDeposited
	case TxPayout:
		return CounterWon
	case TxWithdrawal:
		return CounterWithdrawn
	default:
		return CounterNone
	}
}

// IsValid returns true for known transaction types.
func (t TxType) IsValid() bool {
	switch t {
	case TxDeposit, TxWithdrawal, TxBet, TxPayout, TxRefund, TxBonus, TxAdjustment:
		return true
	}
	return false
}

// LedgerTransaction is an immutable audit record for every balance change.
// Amount is signed: positive for credits, negative for debits.
type LedgerTransaction struct {
	ID            uuid.UUID       `json:"id"             db:"id"`
	UserID        int64           `json:"user_id"        db:"user_id"`
	Type          TxType          `json:"type"           db:"type"`
	Amount        decimal.Decimal `json:"amount"         db:"amount"`
	BalanceBefore decimal.Decimal `json:"balance_before" db:"balance_before"`
	BalanceAfter  decimal.Decimal `json:"balance_after"  db:"balance_after"`
	Reference     string          `json:"reference"      db:"reference"` // bet id, charge ref, operator note
	Description   string          `json:"description"    db:"description"`
	CreatedAt     time.Time       `json:"created_at"     db:"created_at"`
}

// LedgerEntry is the request shape for one credit or debit.
type LedgerEntry struct {
	UserID      int64
	Amount      decimal.Decimal // always positive; the operation picks the sign
	Type        TxType
	Reference   string
	Description string
}
