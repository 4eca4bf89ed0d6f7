// Package apperr defines the error kinds shared by the fulfillment services.
// Operations wrap one of the sentinels with context; callers branch with errors.Is.
package apperr

import (
	"errors"
	"fmt"
)

var (
	ErrValidation            = errors.New("validation failed")
	ErrNotFound              = errors.New("not found")
	ErrConflict              = errors.New("conflict")
	ErrInsufficientStock     = errors.New("insufficient stock")
	ErrDependencyUnavailable = errors.New("dependency unavailable")
	ErrDeductionDrift        = errors.New("stock changed between check and deduct")
)

// Wire codes carried in error response bodies.
const (
	CodeValidation            = "validation"
	CodeNotFound              = "not_found"
	CodeConflict              = "conflict"
	CodeInsufficientStock     = "insufficient_stock"
	CodeDependencyUnavailable = "dependency_unavailable"
	CodeDeductionDrift        = "deduction_drift"
	CodeInternal              = "internal"
)

// Validation returns an ErrValidation naming the offending field.
func Validation(field, msg string) error {
	return fmt.Errorf("%w: %s %s", ErrValidation, field, msg)
}

// Code maps an error to its wire code. Drift is checked before stock
// because a drift error usually wraps the ledger's insufficient-stock cause.
func Code(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDeductionDrift):
		return CodeDeductionDrift
	case errors.Is(err, ErrValidation):
		return CodeValidation
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrConflict):
		return CodeConflict
	case errors.Is(err, ErrInsufficientStock):
		return CodeInsufficientStock
	case errors.Is(err, ErrDependencyUnavailable):
		return CodeDependencyUnavailable
	default:
		return CodeInternal
	}
}

// FromCode is the inverse of Code, used by HTTP clients to rebuild a typed
// error from a peer's response body.
func FromCode(code, msg string) error {
	var base error
	switch code {
	case CodeValidation:
		base = ErrValidation
	case CodeNotFound:
		base = ErrNotFound
	case CodeConflict:
		base = ErrConflict
	case CodeInsufficientStock:
		base = ErrInsufficientStock
	case CodeDependencyUnavailable:
		base = ErrDependencyUnavailable
	case CodeDeductionDrift:
		base = ErrDeductionDrift
	default:
		return errors.New(msg)
	}
	if msg == "" {
		return base
	}
	return fmt.Errorf("%w: %s", base, msg)
}

// Terminal reports whether retrying the failed call cannot change its outcome.
func Terminal(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrConflict) ||
		errors.Is(err, ErrInsufficientStock)
}
