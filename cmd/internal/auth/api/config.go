package authapi

import "time"

// Config controls the backend client.
type Config struct {
	BaseURL      string
	Timeout      time.Duration
	MaxBodyBytes int64
}

// DefaultConfig returns client defaults. BaseURL has no default.
func DefaultConfig() Config {
	return Config{
		Timeout:      15 * time.Second,
		MaxBodyBytes: 1 << 20, // 1 MiB
	}
}
