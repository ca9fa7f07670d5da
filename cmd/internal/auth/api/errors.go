package authapi

import (
	"errors"
	"fmt"
	"net/http"
)

var (
	// ErrConfig indicates the client cannot be constructed from its configuration.
	ErrConfig = errors.New("authapi: invalid config")

	// ErrInvalidRequest indicates a request failed validation before any network call.
	ErrInvalidRequest = errors.New("authapi: invalid request")

	// ErrUnexpectedResponse indicates a 2xx response with a body that does not match the contract.
	ErrUnexpectedResponse = errors.New("authapi: unexpected response")
)

// Error is a non-2xx backend response.
type Error struct {
	Status  int
	Code    string
	Message string
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = http.StatusText(e.Status)
	}
	if e.Code != "" {
		return fmt.Sprintf("authapi: %d %s: %s", e.Status, e.Code, msg)
	}
	return fmt.Sprintf("authapi: %d: %s", e.Status, msg)
}

// Unauthorized reports whether the backend rejected the credentials.
func (e *Error) Unauthorized() bool {
	return e.Status == http.StatusUnauthorized || e.Status == http.StatusForbidden
}

// IsUnauthorized reports whether err carries a 401/403 backend response.
func IsUnauthorized(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr) && apiErr.Unauthorized()
}
