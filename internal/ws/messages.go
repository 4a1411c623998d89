// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/evetabi/betledger/internal/domain"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypePoolUpdate    MsgType = "pool_update"
	MsgTypeEventResolved MsgType = "event_resolved"
)

// ──────────────────────────────────────────────────────────────────────────────
// PoolUpdateMessage is sent after every accepted bet and on cancellation.
// ──────────────────────────────────────────────────────────────────────────────

// OptionPool is one option's share of the pool.
type OptionPool struct {
	ID          string          `json:"id"`
	Text        string          `json:"text"`
	TotalAmount decimal.Decimal `json:"total_amount"`
	TotalBets   int64           `json:"total_bets"`
	Percent     decimal.Decimal `json:"percent"` // share of all stakes, 0..100
}

// PoolUpdateMessage carries the current pool of one event.
type PoolUpdateMessage struct {
	Type      MsgType            `json:"type"`
	EventID   uuid.UUID          `json:"event_id"`
	Status    domain.EventStatus `json:"status"`
	TotalPool decimal.Decimal    `json:"total_pool"`
	Options   []OptionPool       `json:"options"`
	Timestamp time.Time          `json:"timestamp"`
}

// NewPoolUpdate builds the message for detail.
func NewPoolUpdate(detail *domain.EventDetail, now time.Time) PoolUpdateMessage {
	staked := detail.StakedTotal()
	opts := make([]OptionPool, 0, len(detail.Options))
	for _, o := range detail.Options {
		pct := decimal.Zero
		if staked.IsPositive() {
			pct = o.TotalAmount.Mul(decimal.NewFromInt(100)).Div(staked).Round(2)
		}
		opts = append(opts, OptionPool{
			ID:          o.ID,
			Text:        o.Text,
			TotalAmount: o.TotalAmount,
			TotalBets:   o.TotalBets,
			Percent:     pct,
		})
	}
	return PoolUpdateMessage{
		Type:      MsgTypePoolUpdate,
		EventID:   detail.Event.ID,
		Status:    detail.Event.Status,
		TotalPool: detail.Event.TotalPool,
		Options:   opts,
		Timestamp: now,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// EventResolvedMessage is broadcast when an event is settled.
// ──────────────────────────────────────────────────────────────────────────────

// EventResolvedMessage tells clients which options won and what was paid.
type EventResolvedMessage struct {
	Type             MsgType                 `json:"type"`
	EventID          uuid.UUID               `json:"event_id"`
	WinningOptionIDs []string                `json:"winning_option_ids"`
	Refund           bool                    `json:"refund"`
	Source           domain.ResolutionSource `json:"source"`
	TotalPool        decimal.Decimal         `json:"total_pool"`
	TotalPayout      decimal.Decimal         `json:"total_payout"`
	TotalWinners     int                     `json:"total_winners"`
	Timestamp        time.Time               `json:"timestamp"`
}
