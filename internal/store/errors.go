package store

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrValidation             = errors.New("validation failed")
	ErrInsufficientCredits    = errors.New("insufficient credits")
	ErrNotFound               = errors.New("not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
	ErrChainIntegrity         = errors.New("ledger chain integrity violation")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrDuplicateTransaction   = errors.New("duplicate transaction")
	// ErrReservationNotActive signals a settle attempt on a reservation
	// that was already confirmed, released or expired. Scheduled expiry
	// treats this as a no-op.
	ErrReservationNotActive = errors.New("reservation is not active")
)

// InsufficientCreditsError carries the shortfall detail so callers can build
// an actionable response. Unwraps to ErrInsufficientCredits.
type InsufficientCreditsError struct {
	UserId    string
	Required  decimal.Decimal
	Available decimal.Decimal
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for user %s: required %s, available %s",
		e.UserId, e.Required.String(), e.Available.String())
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

// Shortfall returns how many credits the user is missing.
func (e *InsufficientCreditsError) Shortfall() decimal.Decimal {
	return e.Required.Sub(e.Available)
}

// ValidationError reports malformed input with field detail. Unwraps to
// ErrValidation.
type ValidationError struct {
	Field  string
	Detail string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Detail)
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// ChainIntegrityError reports a hash/signature/sequence mismatch with the
// block it occurred at. Unwraps to ErrChainIntegrity.
type ChainIntegrityError struct {
	UserId     string
	BlockIndex int64
	Detail     string
}

func (e *ChainIntegrityError) Error() string {
	return fmt.Sprintf("chain integrity violation for user %s at block %d: %s",
		e.UserId, e.BlockIndex, e.Detail)
}

func (e *ChainIntegrityError) Unwrap() error { return ErrChainIntegrity }
