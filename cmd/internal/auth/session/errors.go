package session

import (
	"errors"
	"fmt"
)

var (
	// ErrMalformedToken is returned when an access token cannot be decoded.
	// Callers treat it exactly like an expired token.
	ErrMalformedToken = errors.New("malformed access token")

	// ErrMissingCredential is returned when no renewal token is stored.
	// No network call is attempted; the caller must log out.
	ErrMissingCredential = errors.New("missing renewal credential")

	// ErrRenewalRejected is returned when the backend rejects the renewal token.
	// It is fatal to the session and is never retried.
	ErrRenewalRejected = errors.New("renewal rejected")

	// ErrPartialSession is returned when saving a session that has only one of the two tokens.
	ErrPartialSession = errors.New("partial session")

	// ErrConfig is returned for invalid configuration.
	ErrConfig = errors.New("invalid config")
)

// DecodeError describes why an access token could not be decoded.
type DecodeError struct {
	Reason string
	Err    error
}

func (e *DecodeError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", ErrMalformedToken.Error(), e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", ErrMalformedToken.Error(), e.Reason)
}

func (e *DecodeError) Unwrap() error { return ErrMalformedToken }

// RenewalError wraps the backend failure of a renewal call.
type RenewalError struct {
	Err error
}

func (e *RenewalError) Error() string {
	if e.Err == nil {
		return ErrRenewalRejected.Error()
	}
	return fmt.Sprintf("%s: %v", ErrRenewalRejected.Error(), e.Err)
}

// Unwrap exposes both the sentinel and the underlying cause to errors.Is/As.
func (e *RenewalError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrRenewalRejected}
	}
	return []error{ErrRenewalRejected, e.Err}
}
