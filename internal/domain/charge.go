package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ChargeStatus is the lifecycle of an external payment.
type ChargeStatus string

const (
	ChargePending   ChargeStatus = "pending"
	ChargeConfirmed ChargeStatus = "confirmed"
	ChargeRefunded  ChargeStatus = "refunded"
	ChargeExpired   ChargeStatus = "expired"
)

// ChargePurpose says what a confirmed payment funds.
type ChargePurpose string

const (
	PurposeBetStake ChargePurpose = "bet_stake" // pays one externally funded bet
	PurposeTopUp    ChargePurpose = "top_up"    // credits the ledger, then resumes a dialogue
)

// Charge is the pending-then-confirmed record of one external payment.
// Reference is ours and unique; ProviderChargeID is assigned by the gateway
// on confirmation and is what a refund needs.
type Charge struct {
	ID               uuid.UUID       `json:"id"                 db:"id"`
	Reference        string          `json:"reference"          db:"reference"`
	UserID           int64           `json:"user_id"            db:"user_id"`
	Amount           decimal.Decimal `json:"amount"             db:"amount"`
	Currency         Currency        `json:"currency"           db:"currency"`
	Purpose          ChargePurpose   `json:"purpose"            db:"purpose"`
	Status           ChargeStatus    `json:"status"             db:"status"`
	EventID          *uuid.UUID      `json:"event_id"           db:"event_id"`
	OptionID         *string         `json:"option_id"          db:"option_id"`
	BetID            *uuid.UUID      `json:"bet_id"             db:"bet_id"`
	InvoiceURL       string          `json:"invoice_url"        db:"invoice_url"`
	ProviderChargeID *string         `json:"provider_charge_id" db:"provider_charge_id"`
	CreatedAt        time.Time       `json:"created_at"         db:"created_at"`
	ConfirmedAt      *time.Time      `json:"confirmed_at"       db:"confirmed_at"`
}

// IsPending returns true until the charge is confirmed, refunded or expired.
func (c *Charge) IsPending() bool {
	return c.Status == ChargePending
}

// Payable reports whether a provider confirmation can still be applied. An
// expired charge stays payable: the invoice link may be paid after we gave
// up on it.
func (s ChargeStatus) Payable() bool {
	return s == ChargePending || s == ChargeExpired
}

// ChargeHandle is what the payment gateway returns for a new charge.
type ChargeHandle struct {
	Reference string `json:"reference"`
	URL       string `json:"url"`
}

// NewChargeReference builds a unique reference for a charge payload.
func NewChargeReference(purpose ChargePurpose) string {
	return string(purpose) + ":" + uuid.NewString()
}

// PaymentConfirmation is the result of ConfirmPayment. Replayed is true when
// the reference had already been confirmed and nothing changed. Late is true
// when the payment arrived after the charge had expired or its event had
// closed; the amount was then credited to the balance instead.
type PaymentConfirmation struct {
	Charge   *Charge `json:"charge"`
	Replayed bool    `json:"replayed"`
	Late     bool    `json:"late,omitempty"`
}

// InvoiceRequest asks the payment gateway for a checkout link. Reference is
// echoed back by the provider in the confirmation payload.
type InvoiceRequest struct {
	Reference   string
	UserID      int64
	Title       string
	Description string
	Amount      decimal.Decimal
	Currency    Currency
}
