package domain_test

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/evetabi/betledger/internal/domain"
	"github.com/shopspring/decimal"
)

// ── Event rules ───────────────────────────────────────────────────────────────

func TestEvent_AcceptsBetsAt(t *testing.T) {
	deadline := t0.Add(time.Hour)
	e := &domain.Event{Status: domain.EventStatusActive, Deadline: deadline}

	if !e.AcceptsBetsAt(t0) {
		t.Error("active event before deadline should accept bets")
	}
	if e.AcceptsBetsAt(deadline) {
		t.Error("event must stop accepting bets at the deadline")
	}
	e.Status = domain.EventStatusResolved
	if e.AcceptsBetsAt(t0) {
		t.Error("resolved event must not accept bets")
	}
}

func TestEvent_StakeInRange(t *testing.T) {
	e := &domain.Event{MinStake: d(10), MaxStake: d(100)}
	cases := map[string]bool{
		"10":   true,
		"100":  true,
		"55":   true,
		"9":    false,
		"101":  false,
		"10.5": false,
		"0":    false,
		"-20":  false,
	}
	for in, want := range cases {
		if got := e.StakeInRange(decimal.RequireFromString(in)); got != want {
			t.Errorf("StakeInRange(%s) = %v, want %v", in, got, want)
		}
	}
}

func TestEventDetail_StakedTotal(t *testing.T) {
	det := &domain.EventDetail{
		Event: &domain.Event{TotalPool: d(100)},
		Options: []*domain.Option{
			{ID: "X", TotalAmount: d(50)},
			{ID: "Y", TotalAmount: d(50)},
		},
	}
	if !det.StakedTotal().Equal(det.Event.TotalPool) {
		t.Errorf("StakedTotal = %s, want %s", det.StakedTotal(), det.Event.TotalPool)
	}
	if det.Option("Y") == nil || det.Option("Z") != nil {
		t.Error("Option lookup mismatch")
	}
}

// ── Error taxonomy ────────────────────────────────────────────────────────────

func TestInsufficientFundsError(t *testing.T) {
	var err error = &domain.InsufficientFundsError{UserID: 7, Balance: d(30), Required: d(50)}
	wrapped := fmt.Errorf("bet_service.PlaceBet: debit: %w", err)

	if !errors.Is(wrapped, domain.ErrInsufficientFunds) {
		t.Error("wrapped error should match ErrInsufficientFunds")
	}
	var ife *domain.InsufficientFundsError
	if !errors.As(wrapped, &ife) {
		t.Fatal("errors.As failed")
	}
	if !ife.Shortfall().Equal(d(20)) {
		t.Errorf("Shortfall = %s, want 20", ife.Shortfall())
	}
}

func TestErrorPredicates(t *testing.T) {
	if !domain.IsNotFound(fmt.Errorf("x: %w", domain.ErrEventNotFound)) {
		t.Error("IsNotFound(ErrEventNotFound) = false")
	}
	if !domain.IsConflict(domain.ErrAlreadyResolved) || !domain.IsConflict(domain.ErrEventNotActive) {
		t.Error("IsConflict mismatch")
	}
	if !domain.IsValidation(domain.ErrAmountOutOfRange) || !domain.IsValidation(domain.Invalid("title", "required")) {
		t.Error("IsValidation mismatch")
	}
	if domain.IsValidation(domain.ErrInsufficientFunds) {
		t.Error("insufficient funds is not a validation error")
	}

	ext := domain.External("oracle", errors.New("502"))
	if !errors.Is(ext, domain.ErrExternalService) {
		t.Error("ExternalServiceError should match ErrExternalService")
	}
	if domain.External("oracle", nil) != nil {
		t.Error("External(nil) should be nil")
	}
	if !domain.IsAuthError(domain.ErrTokenExpired) {
		t.Error("IsAuthError(ErrTokenExpired) = false")
	}
}
