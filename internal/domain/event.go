// Package domain defines the core business entities and types for the
// prediction-market ledger: events, options, bets, the per-user ledger,
// resolutions, external charges and the bet-entry dialogue.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// EventStatus represents the lifecycle state of an event.
type EventStatus string

const (
	EventStatusActive    EventStatus = "active"    // accepting bets until the deadline
	EventStatusResolved  EventStatus = "resolved"  // settled exactly once, immutable
	EventStatusCancelled EventStatus = "cancelled" // voided; all bets refunded
)

// Currency identifies what an event's stakes are denominated in.
type Currency string

const (
	CurrencyPoints Currency = "PTS" // virtual points, funded from the ledger only
	CurrencyStars  Currency = "XTR" // Telegram Stars, may be funded by external payment
)

// IsValid returns true if the currency is one the engine knows how to fund.
func (c Currency) IsValid() bool {
	return c == CurrencyPoints || c == CurrencyStars
}

// AllowsExternalPayment reports whether stakes may be paid through the
// payment gateway instead of the ledger balance.
func (c Currency) AllowsExternalPayment() bool {
	return c == CurrencyStars
}

// ──────────────────────────────────────────────────────────────────────────────
// Event
// ──────────────────────────────────────────────────────────────────────────────

// Event is a question with a betting deadline and a set of options.
// TotalPool is net of commission; CommissionAccrued holds the difference.
type Event struct {
	ID                uuid.UUID       `json:"id"                 db:"id"`
	Title             string          `json:"title"              db:"title"`
	Description       string          `json:"description"        db:"description"`
	ChatID            int64           `json:"chat_id"            db:"chat_id"`
	CreatorID         int64           `json:"creator_id"         db:"creator_id"`
	Deadline          time.Time       `json:"deadline"           db:"deadline"`
	ResolutionDate    time.Time       `json:"resolution_date"    db:"resolution_date"`
	MinStake          decimal.Decimal `json:"min_stake"          db:"min_stake"`
	MaxStake          decimal.Decimal `json:"max_stake"          db:"max_stake"`
	Currency          Currency        `json:"currency"           db:"currency"`
	Status            EventStatus     `json:"status"             db:"status"`
	TotalPool         decimal.Decimal `json:"total_pool"         db:"total_pool"`
	CommissionAccrued decimal.Decimal `json:"commission_accrued" db:"commission_accrued"`
	AutoResolve       bool            `json:"auto_resolve"       db:"auto_resolve"`
	CreatedAt         time.Time       `json:"created_at"         db:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"         db:"updated_at"`
	ResolvedAt        *time.Time      `json:"resolved_at"        db:"resolved_at"`
}

// IsActive returns true while the event has not been resolved or cancelled.
func (e *Event) IsActive() bool {
	return e.Status == EventStatusActive
}

// AcceptsBetsAt returns true when the event is active and now is strictly
// before the betting deadline.
func (e *Event) AcceptsBetsAt(now time.Time) bool {
	return e.IsActive() && now.Before(e.Deadline)
}

// StakeInRange reports whether amount is a whole number of minor units within
// [MinStake, MaxStake].
func (e *Event) StakeInRange(amount decimal.Decimal) bool {
	if !amount.IsInteger() || !amount.IsPositive() {
		return false
	}
	return amount.GreaterThanOrEqual(e.MinStake) && amount.LessThanOrEqual(e.MaxStake)
}

// DueForResolution returns true once an active event has reached its
// resolution date.
func (e *Event) DueForResolution(now time.Time) bool {
	return e.IsActive() && !now.Before(e.ResolutionDate)
}

// ──────────────────────────────────────────────────────────────────────────────
// Option
// ──────────────────────────────────────────────────────────────────────────────

// Option is one possible outcome of an Event. ID is unique within the event.
type Option struct {
	EventID     uuid.UUID       `json:"event_id"     db:"event_id"`
	ID          string          `json:"id"           db:"id"`
	Text        string          `json:"text"         db:"text"`
	Value       *string         `json:"value"        db:"value"`
	Position    int             `json:"position"     db:"position"`
	TotalBets   int64           `json:"total_bets"   db:"total_bets"`
	TotalAmount decimal.Decimal `json:"total_amount" db:"total_amount"`
}

// EventDetail bundles an event with its options for read endpoints.
type EventDetail struct {
	Event   *Event    `json:"event"`
	Options []*Option `json:"options"`
}

// Option returns the option with the given id, or nil.
func (d *EventDetail) Option(id string) *Option {
	for _, o := range d.Options {
		if o.ID == id {
			return o
		}
	}
	return nil
}

// StakedTotal sums TotalAmount over all options. With a zero commission
// rate it equals Event.TotalPool; otherwise it equals
// TotalPool + CommissionAccrued.
func (d *EventDetail) StakedTotal() decimal.Decimal {
	total := decimal.Zero
	for _, o := range d.Options {
		total = total.Add(o.TotalAmount)
	}
	return total
}

// ──────────────────────────────────────────────────────────────────────────────
// CreateEventRequest: value object used by EventService
// ──────────────────────────────────────────────────────────────────────────────

// OptionSpec describes one option of a new event.
type OptionSpec struct {
	ID    string  `json:"id"    binding:"required,max=64"`
	Text  string  `json:"text"  binding:"required,max=256"`
	Value *string `json:"value"`
}

// CreateEventRequest carries the inputs for creating an event.
type CreateEventRequest struct {
	Title          string
	Description    string
	ChatID         int64
	CreatorID      int64
	Deadline       time.Time
	ResolutionDate time.Time
	MinStake       decimal.Decimal
	MaxStake       decimal.Decimal
	Currency       Currency
	AutoResolve    bool
	Options        []OptionSpec
}
