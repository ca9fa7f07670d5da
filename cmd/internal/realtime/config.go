package realtime

import (
	"fmt"
	"net/url"
	"time"
)

// Config controls the push endpoint and the reconnect schedule.
type Config struct {
	URL string

	BaseDelay   time.Duration
	MaxDelay    time.Duration
	MaxAttempts int

	// ReadIdleTimeout without any frame counts as a dropped connection.
	ReadIdleTimeout time.Duration
	WriteTimeout    time.Duration
}

// DefaultConfig returns 1s/30s/10 backoff defaults. URL has no default.
func DefaultConfig() Config {
	return Config{
		BaseDelay:       time.Second,
		MaxDelay:        30 * time.Second,
		MaxAttempts:     10,
		ReadIdleTimeout: 2 * time.Minute,
		WriteTimeout:    5 * time.Second,
	}
}

// Validate checks the URL scheme and delay ordering.
func (c Config) Validate() error {
	if c.URL != "" {
		u, err := url.Parse(c.URL)
		if err != nil || (u.Scheme != "ws" && u.Scheme != "wss") || u.Host == "" {
			return fmt.Errorf("%w: realtime url must be ws:// or wss://, got %q", ErrConfig, c.URL)
		}
	}
	if c.BaseDelay <= 0 || c.MaxDelay < c.BaseDelay {
		return fmt.Errorf("%w: need 0 < base delay <= max delay", ErrConfig)
	}
	return nil
}
