package cascade

import (
	"errors"
	"fmt"
)

// Error codes
const (
	ErrCodeValidation       = "VALIDATION_ERROR"
	ErrCodeNotFound         = "NOT_FOUND"
	ErrCodeAlreadyResolved  = "ALREADY_RESOLVED"
	ErrCodeStaleTransition  = "STALE_TRANSITION"
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeTokenMismatch    = "TOKEN_MISMATCH"
	ErrCodeInternalError    = "INTERNAL_ERROR"
)

// CoordinationError represents an error from the coordination subsystem
type CoordinationError struct {
	Code     string `json:"code"`
	Entity   string `json:"entity,omitempty"` // "session", "checkpoint", "signal"
	EntityID string `json:"entityId,omitempty"`
	Message  string `json:"message"`
	Cause    error  `json:"-"`
}

// Error implements the error interface
func (e *CoordinationError) Error() string {
	if e.Entity != "" && e.EntityID != "" {
		return fmt.Sprintf("[%s] %s (%s: %s)", e.Code, e.Message, e.Entity, e.EntityID)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap exposes the underlying cause for errors.Is/As chains
func (e *CoordinationError) Unwrap() error {
	return e.Cause
}

// NewNotFound reports an unknown entity id. Never retried automatically.
func NewNotFound(entity, id string) *CoordinationError {
	return &CoordinationError{
		Code:     ErrCodeNotFound,
		Entity:   entity,
		EntityID: id,
		Message:  entity + " not found",
	}
}

// NewAlreadyResolved reports a respond/cancel against an entity that has
// already left its waiting state. Callers must treat this as a benign race.
func NewAlreadyResolved(entity, id, status string) *CoordinationError {
	return &CoordinationError{
		Code:     ErrCodeAlreadyResolved,
		Entity:   entity,
		EntityID: id,
		Message:  fmt.Sprintf("%s already resolved with status %s", entity, status),
	}
}

// NewStaleTransition reports a compare-and-set write that lost the race:
// the row had already left the expected prior status when the write landed.
func NewStaleTransition(entity, id string) *CoordinationError {
	return &CoordinationError{
		Code:     ErrCodeStaleTransition,
		Entity:   entity,
		EntityID: id,
		Message:  entity + " transition lost the race to a concurrent writer",
	}
}

// NewStoreUnavailable wraps a failed store round-trip
func NewStoreUnavailable(operation string, cause error) *CoordinationError {
	return &CoordinationError{
		Code:    ErrCodeStoreUnavailable,
		Message: "store operation " + operation + " failed",
		Cause:   cause,
	}
}

// NewValidation reports invalid input to an operation
func NewValidation(message string) *CoordinationError {
	return &CoordinationError{
		Code:    ErrCodeValidation,
		Message: message,
	}
}

// NewTokenMismatch reports a push callback carrying a bad or reused token
func NewTokenMismatch(signalID string) *CoordinationError {
	return &CoordinationError{
		Code:     ErrCodeTokenMismatch,
		Entity:   "signal",
		EntityID: signalID,
		Message:  "callback token does not match",
	}
}

func hasCode(err error, code string) bool {
	var ce *CoordinationError
	if errors.As(err, &ce) {
		return ce.Code == code
	}
	return false
}

// IsValidation checks whether an error reports invalid input
func IsValidation(err error) bool {
	return hasCode(err, ErrCodeValidation)
}

// IsNotFound checks whether an error is a NOT_FOUND coordination error
func IsNotFound(err error) bool {
	return hasCode(err, ErrCodeNotFound)
}

// IsAlreadyResolved checks whether an error is the benign lost-race code
func IsAlreadyResolved(err error) bool {
	return hasCode(err, ErrCodeAlreadyResolved)
}

// IsStaleTransition checks whether a compare-and-set write lost its race
func IsStaleTransition(err error) bool {
	return hasCode(err, ErrCodeStaleTransition)
}

// IsStoreUnavailable checks whether an error is a failed store round-trip
func IsStoreUnavailable(err error) bool {
	return hasCode(err, ErrCodeStoreUnavailable)
}

// IsTokenMismatch checks whether a push callback was rejected for a bad token
func IsTokenMismatch(err error) bool {
	return hasCode(err, ErrCodeTokenMismatch)
}
