package gate

import (
	"errors"

	"storefront/cmd/internal/auth/expiry"
)

// ErrUnauthorized is returned to every caller whose 401 could not be recovered by a renewal.
// It is joined with the renewal error, so errors.Is also matches session.ErrRenewalRejected
// or session.ErrMissingCredential.
var ErrUnauthorized = errors.New("gate: unauthorized")

// Expiry reasons passed to the expire hook.
const (
	ReasonRenewalFailed     = expiry.ReasonRenewalFailed
	ReasonMissingCredential = expiry.ReasonMissingCredential
)
