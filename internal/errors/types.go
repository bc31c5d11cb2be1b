package errors

import (
	"errors"
	"fmt"
)

// Kind classifies every failure the pool can produce. The distinction between
// QuotaExceeded and Unauthorized is load-bearing: quota-exhausted credentials
// are eligible for revalidation, unauthorized ones are not retried.
type Kind string

const (
	KindFormatInvalid     Kind = "format_invalid"
	KindUnauthorized      Kind = "unauthorized"
	KindQuotaExceeded     Kind = "quota_exceeded"
	KindTransient         Kind = "transient"
	KindEncryptionFailure Kind = "encryption_failure"
	KindDecryptionFailure Kind = "decryption_failure"
	KindNotFound          Kind = "not_found"
	KindInternal          Kind = "internal"
)

// Error is the standard error value carried across the pool's components.
type Error struct {
	Kind    Kind
	Message string
	Wrapped error
}

func (e *Error) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Wrapped)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Wrapped }

// E constructs a classified error.
func E(kind Kind, msg string) *Error {
	return &Error{Kind: kind, Message: msg}
}

// Ef constructs a classified error with a formatted message.
func Ef(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a kind and message to an underlying error.
func Wrap(kind Kind, msg string, err error) *Error {
	return &Error{Kind: kind, Message: msg, Wrapped: err}
}

// KindOf extracts the Kind from an error chain, defaulting to KindInternal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// IsKind reports whether err carries the given kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Terminal reports whether the kind marks a credential as unusable until
// revalidated (as opposed to a transient condition worth retrying in place).
func (k Kind) Terminal() bool {
	return k == KindQuotaExceeded || k == KindUnauthorized
}

