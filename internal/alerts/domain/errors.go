package alerts

import (
	"errors"
	"fmt"
)

// ErrorKind discriminates alert errors.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindAlreadyOpen     ErrorKind = "already_open"
	KindAlreadyResolved ErrorKind = "already_resolved"
	KindNotFound        ErrorKind = "not_found"
	KindConflict        ErrorKind = "conflict"
	KindCorruption      ErrorKind = "corruption"
	KindTenantMismatch  ErrorKind = "tenant_mismatch"
)

// Error is the tagged error type for the alert core.
type Error struct {
	Kind ErrorKind
	Op   string
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	msg := "alerts"
	if e.Op != "" {
		msg += ": " + e.Op
	}
	if e.Msg != "" {
		msg += ": " + e.Msg
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

// AlreadyOpenError reports that another evaluation opened the alert first.
type AlreadyOpenError struct {
	OrganizationID string
	UnitID         string
	RuleID         string
	// ExistingID is set when the store knows the winner's id.
	ExistingID string
	Err        error
}

func (e *AlreadyOpenError) Error() string {
	return fmt.Sprintf("alerts: open alert already exists for unit %s rule %s", e.UnitID, e.RuleID)
}

func (e *AlreadyOpenError) Unwrap() error { return e.Err }

// KindOf returns the discriminant of err, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var open *AlreadyOpenError
	if errors.As(err, &open) {
		return KindAlreadyOpen
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return ""
}

// IsKind reports whether err carries kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

func newError(kind ErrorKind, op, msg string) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg}
}

// Validation builds a validation error.
func Validation(op, msg string) error { return newError(KindValidation, op, msg) }

// NotFound builds a not-found error.
func NotFound(op, msg string) error { return newError(KindNotFound, op, msg) }

// Conflict builds a conflict error for lost compare-and-set races.
func Conflict(op, msg string) error { return newError(KindConflict, op, msg) }

// AlreadyResolved builds the error returned to humans acting on a resolved alert.
func AlreadyResolved(op, alertID string) error {
	return newError(KindAlreadyResolved, op, "alert "+alertID+" already resolved")
}

// Corruption wraps an invariant violation found in storage.
func Corruption(op, msg string) error { return newError(KindCorruption, op, msg) }

// TenantMismatch builds a cross-tenant access error.
func TenantMismatch(op string) error {
	return newError(KindTenantMismatch, op, "resource belongs to another organization")
}
