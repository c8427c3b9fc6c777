// Package apperr defines the engine-wide error taxonomy (spec §7). Local
// job failures are classified into one of these kinds and translated into
// state transitions rather than propagated as panics; only configuration
// and decryption failures halt the requesting call.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is one of the taxonomy categories from §7.
type Kind string

const (
	KindAuth          Kind = "auth"
	KindRateLimit     Kind = "rateLimit"
	KindNotFound      Kind = "notFound"
	KindServer        Kind = "server"
	KindNetwork       Kind = "network"
	KindTimeout       Kind = "timeout"
	KindSSL           Kind = "ssl"
	KindValidation    Kind = "validation"
	KindDecryption    Kind = "decryption"
	KindConfiguration Kind = "configuration"
	KindNoResults     Kind = "noResults"
	KindUnknown       Kind = "unknown"
)

// retryable holds the default retryability per kind, per §6/§7.
var retryable = map[Kind]bool{
	KindAuth:          false,
	KindRateLimit:     true,
	KindNotFound:      false,
	KindServer:        true,
	KindNetwork:       true,
	KindTimeout:       true,
	KindSSL:           false,
	KindValidation:    false,
	KindDecryption:    false,
	KindConfiguration: false,
	KindNoResults:     false,
	KindUnknown:       false,
}

// Error is the concrete error type for every kind in the taxonomy.
type Error struct {
	Kind       Kind
	Message    string
	Timestamp  time.Time
	Cause      error
	StatusCode int           // kind-specific: server/auth/notFound
	RetryAfter time.Duration // kind-specific: rateLimit
	NetworkErr string        // kind-specific: network (e.g. connection_refused, dns_failure)
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Retryable reports whether this error's kind is retryable per §7. The
// answer comes from the per-kind table above alone; there is no
// per-instance override.
func (e *Error) Retryable() bool {
	return retryable[e.Kind]
}

// New constructs a taxonomy error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message, Timestamp: time.Now().UTC()}
}

// Wrap constructs a taxonomy error wrapping cause.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Timestamp: time.Now().UTC(), Cause: cause}
}

// As extracts an *Error from err, if present in its chain.
func As(err error) (*Error, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e, true
	}
	return nil, false
}

// KindOf returns the taxonomy kind of err, or KindUnknown if err does not
// carry one.
func KindOf(err error) Kind {
	if e, ok := As(err); ok {
		return e.Kind
	}
	return KindUnknown
}
