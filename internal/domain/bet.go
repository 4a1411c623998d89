package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// BetStatus represents the current state of a user's bet.
type BetStatus string

const (
	BetStatusActive   BetStatus = "active"   // in play
	BetStatusWon      BetStatus = "won"      // on a winning option
	BetStatusLost     BetStatus = "lost"     // on a losing option
	BetStatusRefunded BetStatus = "refunded" // no winner or event cancelled
	BetStatusVoid     BetStatus = "void"     // external stake never paid before the event closed
)

// IsTerminal returns true for statuses a bet can never leave.
func (s BetStatus) IsTerminal() bool {
	return s == BetStatusWon || s == BetStatusLost || s == BetStatusRefunded || s == BetStatusVoid
}

// BetSource says how a stake was funded.
type BetSource string

const (
	SourceBalance         BetSource = "balance"
	SourceExternalPayment BetSource = "externalPayment"
)

// IsValid returns true if the source is a recognised funding path.
func (s BetSource) IsValid() bool {
	return s == SourceBalance || s == SourceExternalPayment
}

// ──────────────────────────────────────────────────────────────────────────────
// Bet
// ──────────────────────────────────────────────────────────────────────────────

// Bet is a single user stake on one option of an event. Payout stays nil
// until settlement, and stays nil for lost and void bets.
//
// Funded is false for an external stake until its charge is confirmed. Only
// funded stakes are counted in the pool and take part in settlement.
type Bet struct {
	ID          uuid.UUID        `json:"id"           db:"id"`
	EventID     uuid.UUID        `json:"event_id"     db:"event_id"`
	OptionID    string           `json:"option_id"    db:"option_id"`
	UserID      int64            `json:"user_id"      db:"user_id"`
	Amount      decimal.Decimal  `json:"amount"       db:"amount"`
	Status      BetStatus        `json:"status"       db:"status"`
	Payout      *decimal.Decimal `json:"payout"       db:"payout"`
	Source      BetSource        `json:"source"       db:"source"`
	ExternalRef *string          `json:"external_ref" db:"external_ref"`
	Funded      bool             `json:"funded"       db:"funded"`
	PlacedAt    time.Time        `json:"placed_at"    db:"placed_at"`
	SettledAt   *time.Time       `json:"settled_at"   db:"settled_at"`
}

// IsActive returns true while the bet still takes part in settlement.
func (b *Bet) IsActive() bool {
	return b.Status == BetStatusActive
}

// SplitFunded separates the stakes that were paid for from the external ones
// still waiting on their charge.
func SplitFunded(bets []*Bet) (funded, unpaid []*Bet) {
	for _, b := range bets {
		if b.Funded {
			funded = append(funded, b)
		} else {
			unpaid = append(unpaid, b)
		}
	}
	return funded, unpaid
}

// ──────────────────────────────────────────────────────────────────────────────
// PlaceBetRequest: value object used by BetService
// ──────────────────────────────────────────────────────────────────────────────

// PlaceBetRequest carries the inputs for placing a bet.
type PlaceBetRequest struct {
	EventID  uuid.UUID
	OptionID string
	UserID   int64
	Amount   decimal.Decimal
	Source   BetSource
}

// PlaceBetResult is returned by a successful placement. Charge is set only for
// externally funded bets and carries the invoice handle the user must pay.
type PlaceBetResult struct {
	Bet    *Bet    `json:"bet"`
	Charge *Charge `json:"charge,omitempty"`
}
