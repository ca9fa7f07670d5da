package session

import "time"

// Config defines runtime configuration for the token lifecycle manager.
type Config struct {
	// ExpiryBuffer is how long before the real expiry a token is already treated as expired,
	// so it is renewed before a request can race the deadline.
	ExpiryBuffer time.Duration
}

// DefaultConfig returns the default lifecycle configuration.
func DefaultConfig() Config {
	return Config{
		ExpiryBuffer: 60 * time.Second,
	}
}
