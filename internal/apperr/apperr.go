// Package apperr defines the error taxonomy shared by the service and
// API layers. Handlers map kinds to HTTP statuses; services decide
// retryability from them.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy.
type Kind int

const (
	// KindValidation is bad or missing caller input. Never retried.
	KindValidation Kind = iota
	// KindNotFound is an unknown order, session or product.
	KindNotFound
	// KindPermission means the caller is not the order's owner.
	KindPermission
	// KindGateway means the payment gateway failed or timed out. Retryable.
	KindGateway
	// KindStore means order/inventory persistence failed. Retryable for
	// inventory decrements; fatal if the conditional status update itself
	// cannot be committed.
	KindStore
)

func (k Kind) String() string {
	switch k {
	case KindValidation:
		return "validation"
	case KindNotFound:
		return "not_found"
	case KindPermission:
		return "permission"
	case KindGateway:
		return "gateway"
	case KindStore:
		return "store"
	default:
		return "unknown"
	}
}

// Error carries a kind, a caller-safe message and an optional cause.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a taxonomy error without a cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates a taxonomy error wrapping a cause.
func Wrap(kind Kind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Validation is shorthand for New(KindValidation, ...).
func Validation(message string) *Error {
	return New(KindValidation, message)
}

// NotFound is shorthand for New(KindNotFound, ...).
func NotFound(message string) *Error {
	return New(KindNotFound, message)
}

// Permission is shorthand for New(KindPermission, ...).
func Permission(message string) *Error {
	return New(KindPermission, message)
}

// KindOf extracts the kind of err, defaulting to KindStore for
// unclassified failures.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindStore
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == kind
}

// Retryable reports whether the caller may safely retry the operation.
// Reconciliation has no partial side effects before its conditional
// update commits, so gateway and store failures are safe to repeat.
func Retryable(err error) bool {
	switch KindOf(err) {
	case KindGateway, KindStore:
		return true
	default:
		return false
	}
}
