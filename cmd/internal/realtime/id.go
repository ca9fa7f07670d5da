package realtime

import (
	"time"

	"storefront/cmd/internal/ids"
)

// NewEnvelopeID returns a ULID used as envelope id.
// ULID is preferable to random hex for tracing and ordering in logs.
func NewEnvelopeID(now time.Time) string {
	return ids.MustULID(now)
}
