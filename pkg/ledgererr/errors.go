// Package ledgererr defines the error taxonomy shared across the ledger's
// components. Components report their own failures as a *Error with one of
// the Kinds below, and callers switch on Kind rather than on error string
// content. Errors from the database repositories (their sentinel errors and
// driver errors) are not *Error values, and the chain engine's block read
// methods return them unwrapped.
package ledgererr

import (
	"errors"
	"fmt"
)

// Kind identifies the category of a ledger error.
type Kind string

const (
	// Unauthorized: signer not active at timestamp, or password fails the KDF check.
	Unauthorized Kind = "unauthorized"
	// InvalidInput: a null/empty required field, size over cap, or malformed password.
	InvalidInput Kind = "invalid_input"
	// SignatureInvalid: cryptographic verification failed.
	SignatureInvalid Kind = "signature_invalid"
	// HashMismatch: recomputed content hash does not match the stored hash.
	HashMismatch Kind = "hash_mismatch"
	// IntegrityFailed: off-chain sha256/signature/size mismatch.
	IntegrityFailed Kind = "integrity_failed"
	// NotFound: block number, key, or blob missing.
	NotFound Kind = "not_found"
	// CapacityExceeded: a configured capacity guard was hit.
	CapacityExceeded Kind = "capacity_exceeded"
	// RecentlyExecuted: the coordinator's interval gate rejected a request.
	RecentlyExecuted Kind = "recently_executed"
	// StoreFailed: a persistence transaction or file I/O operation failed.
	StoreFailed Kind = "store_failed"
	// Cancelled: a deadline elapsed or the caller cancelled explicitly.
	Cancelled Kind = "cancelled"
)

// Error is the typed error carried across component boundaries.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates an *Error with no underlying cause.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap creates an *Error carrying cause, preserved for errors.Unwrap/errors.Is chains.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Is reports whether err is, or wraps, an *Error of the given kind.
func Is(err error, kind Kind) bool {
	var le *Error
	if errors.As(err, &le) {
		return le.Kind == kind
	}
	return false
}
