package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ResolutionSource records who decided the outcome.
type ResolutionSource string

const (
	ResolutionManual ResolutionSource = "manual"
	ResolutionOracle ResolutionSource = "oracle"
)

// IsValid returns true for known sources.
func (s ResolutionSource) IsValid() bool {
	return s == ResolutionManual || s == ResolutionOracle
}

// Resolution is written exactly once per event, in the same unit of work as
// the event's transition to resolved. An empty WinningOptionIDs (or winners
// with no stakes) means every bet was refunded; TotalPayout then holds the
// refunded sum and TotalWinners is zero.
type Resolution struct {
	ID               uuid.UUID        `json:"id"`
	EventID          uuid.UUID        `json:"event_id"`
	WinningOptionIDs []string         `json:"winning_option_ids"`
	Source           ResolutionSource `json:"source"`
	Data             json.RawMessage  `json:"data"`
	TotalWinners     int              `json:"total_winners"`
	TotalPayout      decimal.Decimal  `json:"total_payout"`
	ResolvedAt       time.Time        `json:"resolved_at"`
}

// IsRefund reports whether the resolution refunded every stake.
func (r *Resolution) IsRefund() bool {
	return r.TotalWinners == 0
}

// ResolveRequest carries the inputs of a settlement call.
type ResolveRequest struct {
	EventID          uuid.UUID
	WinningOptionIDs []string
	Source           ResolutionSource
	Data             json.RawMessage
}
