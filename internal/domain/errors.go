package domain

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Sentinel errors, compare with errors.Is()
// ──────────────────────────────────────────────────────────────────────────────

// Event errors
var (
	// ErrEventNotFound is returned when no event matches the given id.
	ErrEventNotFound = errors.New("event not found")

	// ErrOptionNotFound is returned when the option id is not part of the event.
	ErrOptionNotFound = errors.New("option not found")

	// ErrEventNotActive is returned when a bet is attempted on an event that is
	// resolved, cancelled or past its deadline.
	ErrEventNotActive = errors.New("event is not accepting bets")

	// ErrAlreadyResolved is returned when settling an event that has already
	// been resolved or cancelled.
	ErrAlreadyResolved = errors.New("event is already resolved")

	// ErrResolutionNotFound is returned when an event has no resolution yet.
	ErrResolutionNotFound = errors.New("resolution not found")
)

// Stake / ledger errors
var (
	// ErrAmountOutOfRange is returned when a stake falls outside [min, max].
	ErrAmountOutOfRange = errors.New("amount is out of range")

	// ErrInvalidAmount is returned for zero, negative or fractional amounts.
	ErrInvalidAmount = errors.New("amount must be a positive whole number")

	// ErrInsufficientFunds is the sentinel matched by *InsufficientFundsError.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrInvalidInput is the sentinel matched by *ValidationError.
	ErrInvalidInput = errors.New("invalid input")
)

// Payment errors
var (
	// ErrChargeNotFound is returned when a payment reference is unknown.
	ErrChargeNotFound = errors.New("charge not found")

	// ErrChargeNotPending is returned when confirming or refunding a charge that
	// already left the pending state.
	ErrChargeNotPending = errors.New("charge is not pending")

	// ErrExternalPaymentUnsupported is returned when an external stake is
	// attempted on a currency that is only funded from the ledger.
	ErrExternalPaymentUnsupported = errors.New("external payment is not supported for this currency")
)

// Dialogue errors
var (
	// ErrDialogueNotFound is returned when input arrives for a user with no
	// live dialogue (never started, cancelled or expired).
	ErrDialogueNotFound = errors.New("no active dialogue")

	// ErrIllegalTransition is returned when the input does not apply to the
	// current dialogue state.
	ErrIllegalTransition = errors.New("illegal dialogue transition")
)

// Collaborator errors
var (
	// ErrExternalService is the sentinel matched by *ExternalServiceError.
	ErrExternalService = errors.New("external service failure")

	// ErrTimeout is returned when an oracle job does not finish in time.
	ErrTimeout = errors.New("operation timed out")

	// ErrLockNotAcquired is returned when another worker holds a distributed lock.
	ErrLockNotAcquired = errors.New("lock is held by another worker")
)

// User errors
var (
	// ErrUserNotFound is returned when no user matches the given id.
	ErrUserNotFound = errors.New("user not found")

	// ErrUserInactive is returned when a suspended user attempts an action.
	ErrUserInactive = errors.New("user account is inactive")
)

// Auth errors
var (
	// ErrUnauthorized is returned when a valid token is not present.
	ErrUnauthorized = errors.New("unauthorized")

	// ErrForbidden is returned when the caller lacks the required role.
	ErrForbidden = errors.New("forbidden: insufficient permissions")

	// ErrTokenExpired is returned when a JWT has passed its TTL.
	ErrTokenExpired = errors.New("token has expired")

	// ErrTokenInvalid is returned when a token cannot be parsed or its signature
	// does not match.
	ErrTokenInvalid = errors.New("token is invalid")

	// ErrInvalidCredentials is returned when operator credentials or Telegram
	// init data fail verification.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// ──────────────────────────────────────────────────────────────────────────────
// Typed errors
// ──────────────────────────────────────────────────────────────────────────────

// ValidationError reports a malformed request. It matches ErrInvalidInput and,
// when Err is set, the more specific sentinel too.
type ValidationError struct {
	Field  string
	Detail string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Detail)
	}
	return "invalid input: " + e.Detail
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidInput
}

func (e *ValidationError) Unwrap() error { return e.Err }

// Invalid builds a ValidationError for field.
func Invalid(field, detail string) error {
	return &ValidationError{Field: field, Detail: detail}
}

// InsufficientFundsError carries the balance seen at the moment of the failed
// debit so callers can compute the shortfall.
type InsufficientFundsError struct {
	UserID   int64
	Balance  decimal.Decimal
	Required decimal.Decimal
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient funds: user %d has %s, needs %s",
		e.UserID, e.Balance.String(), e.Required.String())
}

func (e *InsufficientFundsError) Is(target error) bool {
	return target == ErrInsufficientFunds
}

// Shortfall is the amount missing to cover Required.
func (e *InsufficientFundsError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Balance)
}

// ExternalServiceError wraps a failure of the oracle, payment gateway or
// messaging platform.
type ExternalServiceError struct {
	Service string
	Err     error
}

func (e *ExternalServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Service, e.Err)
}

func (e *ExternalServiceError) Is(target error) bool {
	return target == ErrExternalService
}

func (e *ExternalServiceError) Unwrap() error { return e.Err }

// External wraps err as an ExternalServiceError for service.
func External(service string, err error) error {
	if err == nil {
		return nil
	}
	return &ExternalServiceError{Service: service, Err: err}
}

// ──────────────────────────────────────────────────────────────────────────────
// Helper predicates
// ──────────────────────────────────────────────────────────────────────────────

// notFoundErrors collects all "entity not found" sentinel errors so that
// IsNotFound can stay in sync automatically.
var notFoundErrors = []error{
	ErrEventNotFound,
	ErrOptionNotFound,
	ErrResolutionNotFound,
	ErrChargeNotFound,
	ErrDialogueNotFound,
	ErrUserNotFound,
}

// IsNotFound returns true when err (or any error in its chain) is one of the
// domain "not found" errors.
func IsNotFound(err error) bool {
	for _, target := range notFoundErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsConflict returns true for errors that represent a state conflict such as
// betting on a closed event or double settlement.
func IsConflict(err error) bool {
	conflictErrors := []error{
		ErrEventNotActive,
		ErrAlreadyResolved,
		ErrChargeNotPending,
		ErrIllegalTransition,
		ErrLockNotAcquired,
	}
	for _, target := range conflictErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// IsValidation returns true for malformed input, including stake range and
// amount shape errors.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrAmountOutOfRange) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrExternalPaymentUnsupported)
}

// IsAuthError returns true for authentication/authorisation errors.
func IsAuthError(err error) bool {
	authErrors := []error{
		ErrUnauthorized,
		ErrForbidden,
		ErrTokenExpired,
		ErrTokenInvalid,
		ErrInvalidCredentials,
		ErrUserInactive,
	}
	for _, target := range authErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}
