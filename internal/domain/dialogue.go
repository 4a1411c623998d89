package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Dialogue states
// ──────────────────────────────────────────────────────────────────────────────

// DialogueKind names a dialogue state on the wire and in storage.
type DialogueKind string

const (
	KindIdle            DialogueKind = "idle"
	KindSelectingOption DialogueKind = "selectingOption"
	KindWaitingAmount   DialogueKind = "waitingAmount"
	KindWaitingPayment  DialogueKind = "waitingPayment"
)

// DialogueState is the closed set of per-user bet-entry states. Only the
// types in this file implement it.
type DialogueState interface {
	Kind() DialogueKind
	// Expiry returns the zero time for Idle.
	Expiry() time.Time
	sealedState()
}

// Idle means no conversation is in progress.
type Idle struct{}

// SelectingOption waits for the user to pick an option of EventID.
type SelectingOption struct {
	EventID   uuid.UUID `json:"event_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// WaitingAmount waits for a free-form stake amount within [Min, Max].
type WaitingAmount struct {
	EventID   uuid.UUID       `json:"event_id"`
	OptionID  string          `json:"option_id"`
	Min       decimal.Decimal `json:"min"`
	Max       decimal.Decimal `json:"max"`
	ExpiresAt time.Time       `json:"expires_at"`
}

// WaitingPayment waits for a top-up charge to be confirmed. It carries
// everything needed to place the bet without asking the user again.
type WaitingPayment struct {
	EventID   uuid.UUID       `json:"event_id"`
	OptionID  string          `json:"option_id"`
	Amount    decimal.Decimal `json:"amount"`
	Shortfall decimal.Decimal `json:"shortfall"`
	ChargeRef string          `json:"charge_ref"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (Idle) Kind() DialogueKind            { return KindIdle }
func (SelectingOption) Kind() DialogueKind { return KindSelectingOption }
func (WaitingAmount) Kind() DialogueKind   { return KindWaitingAmount }
func (WaitingPayment) Kind() DialogueKind  { return KindWaitingPayment }

func (Idle) Expiry() time.Time              { return time.Time{} }
func (s SelectingOption) Expiry() time.Time { return s.ExpiresAt }
func (s WaitingAmount) Expiry() time.Time   { return s.ExpiresAt }
func (s WaitingPayment) Expiry() time.Time  { return s.ExpiresAt }

func (Idle) sealedState()            {}
func (SelectingOption) sealedState() {}
func (WaitingAmount) sealedState()   {}
func (WaitingPayment) sealedState()  {}

// Live returns Idle when s is nil or has expired at now, otherwise s.
func Live(s DialogueState, now time.Time) DialogueState {
	if s == nil || s.Kind() == KindIdle {
		return Idle{}
	}
	if !now.Before(s.Expiry()) {
		return Idle{}
	}
	return s
}

// ──────────────────────────────────────────────────────────────────────────────
// Dialogue inputs
// ──────────────────────────────────────────────────────────────────────────────

// DialogueInput is the closed set of events that move a dialogue.
type DialogueInput interface {
	sealedInput()
}

// Begin starts a new conversation about EventID, overwriting any prior state.
type Begin struct{ EventID uuid.UUID }

// AskAmount records the chosen option and its stake bounds.
type AskAmount struct {
	OptionID string
	Min, Max decimal.Decimal
}

// AwaitPayment parks the dialogue until ChargeRef is paid.
type AwaitPayment struct {
	Amount    decimal.Decimal
	Shortfall decimal.Decimal
	ChargeRef string
}

// BetPlaced ends the dialogue successfully.
type BetPlaced struct{}

// Cancel ends the dialogue at the user's request.
type Cancel struct{}

func (Begin) sealedInput()        {}
func (AskAmount) sealedInput()    {}
func (AwaitPayment) sealedInput() {}
func (BetPlaced) sealedInput()    {}
func (Cancel) sealedInput()       {}

// DialogueTTL holds the lifetime of each non-idle state.
type DialogueTTL struct {
	SelectingOption time.Duration
	WaitingAmount   time.Duration
	WaitingPayment  time.Duration
}

// DefaultDialogueTTL is 5m for option and amount entry and 10m for payment.
var DefaultDialogueTTL = DialogueTTL{
	SelectingOption: 5 * time.Minute,
	WaitingAmount:   5 * time.Minute,
	WaitingPayment:  10 * time.Minute,
}

// ──────────────────────────────────────────────────────────────────────────────
// Transition table
// ──────────────────────────────────────────────────────────────────────────────

// Transition applies in to cur at now and returns the next state. Expired
// states count as Idle. Begin is accepted from any state; every other input
// on an idle dialogue returns ErrDialogueNotFound, and an input that does not
// apply to the live state returns ErrIllegalTransition.
//
//	Idle            --Begin-->        SelectingOption
//	SelectingOption --AskAmount-->    WaitingAmount
//	WaitingAmount   --BetPlaced-->    Idle
//	WaitingAmount   --AwaitPayment--> WaitingPayment
//	WaitingPayment  --BetPlaced-->    Idle
//	any live        --Cancel-->       Idle
func Transition(cur DialogueState, in DialogueInput, now time.Time, ttl DialogueTTL) (DialogueState, error) {
	cur = Live(cur, now)

	if b, ok := in.(Begin); ok {
		return SelectingOption{EventID: b.EventID, ExpiresAt: now.Add(ttl.SelectingOption)}, nil
	}
	if cur.Kind() == KindIdle {
		return cur, ErrDialogueNotFound
	}

	switch s := cur.(type) {
	case SelectingOption:
		switch i := in.(type) {
		case AskAmount:
			return WaitingAmount{
				EventID:   s.EventID,
				OptionID:  i.OptionID,
				Min:       i.Min,
				Max:       i.Max,
				ExpiresAt: now.Add(ttl.WaitingAmount),
			}, nil
		case Cancel:
			return Idle{}, nil
		}
	case WaitingAmount:
		switch i := in.(type) {
		case AwaitPayment:
			return WaitingPayment{
				EventID:   s.EventID,
				OptionID:  s.OptionID,
				Amount:    i.Amount,
				Shortfall: i.Shortfall,
				ChargeRef: i.ChargeRef,
				ExpiresAt: now.Add(ttl.WaitingPayment),
			}, nil
		case BetPlaced, Cancel:
			return Idle{}, nil
		}
	case WaitingPayment:
		switch in.(type) {
		case BetPlaced, Cancel:
			return Idle{}, nil
		}
	}
	return cur, fmt.Errorf("%w: %T in %s", ErrIllegalTransition, in, cur.Kind())
}

// ──────────────────────────────────────────────────────────────────────────────
// Codec
// ──────────────────────────────────────────────────────────────────────────────

type stateEnvelope struct {
	Kind DialogueKind    `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

// MarshalDialogueState encodes s as {"kind": ..., "data": {...}}.
func MarshalDialogueState(s DialogueState) ([]byte, error) {
	if s == nil {
		s = Idle{}
	}
	env := stateEnvelope{Kind: s.Kind()}
	if s.Kind() != KindIdle {
		data, err := json.Marshal(s)
		if err != nil {
			return nil, fmt.Errorf("domain.MarshalDialogueState: %w", err)
		}
		env.Data = data
	}
	return json.Marshal(env)
}

// UnmarshalDialogueState decodes the output of MarshalDialogueState.
func UnmarshalDialogueState(raw []byte) (DialogueState, error) {
	var env stateEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("domain.UnmarshalDialogueState: %w", err)
	}

	var (
		s   DialogueState
		err error
	)
	switch env.Kind {
	case KindIdle, "":
		return Idle{}, nil
	case KindSelectingOption:
		var v SelectingOption
		err = json.Unmarshal(env.Data, &v)
		s = v
	case KindWaitingAmount:
		var v WaitingAmount
		err = json.Unmarshal(env.Data, &v)
		s = v
	case KindWaitingPayment:
		var v WaitingPayment
		err = json.Unmarshal(env.Data, &v)
		s = v
	default:
		return nil, fmt.Errorf("domain.UnmarshalDialogueState: unknown kind %q", env.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("domain.UnmarshalDialogueState: %s: %w", env.Kind, err)
	}
	return s, nil
}
