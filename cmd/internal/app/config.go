package app

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	authapi "storefront/cmd/internal/auth/api"
	"storefront/cmd/internal/auth/inactivity"
	"storefront/cmd/internal/auth/session"
	"storefront/cmd/internal/realtime"
	"storefront/cmd/security/seal"
)

// Store drivers.
const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

// Config contains all client configuration loaded from environment variables.
type Config struct {
	APIBaseURL      string        `validate:"required,url"`
	APIMaxBodyBytes int64         `validate:"gt=0"`
	HTTPTimeout     time.Duration `validate:"gt=0"`

	RealtimeURL       string        `validate:"omitempty,url"`
	RealtimeBaseDelay time.Duration `validate:"gt=0"`
	RealtimeMaxDelay  time.Duration `validate:"gtefield=RealtimeBaseDelay"`
	RealtimeAttempts  int           `validate:"gte=0"`
	RealtimeReadIdle  time.Duration `validate:"gt=0"`

	LogLevel  string `validate:"omitempty,oneof=debug info warn warning error"`
	LogFormat string `validate:"omitempty,oneof=json pretty text"`

	StoreDriver string `validate:"required,oneof=memory sqlite postgres"`
	StorePath   string `validate:"required_if=StoreDriver sqlite"`
	DatabaseURL string `validate:"required_if=StoreDriver postgres"`
	DBMaxConns  int32  `validate:"gte=0"`
	DBMinConns  int32  `validate:"gte=0"`

	// DeviceID keys the postgres session row. Empty means one is generated per process.
	DeviceID string

	// StoreKey seals tokens at rest when set.
	StoreKey string `validate:"omitempty,min=32"`

	ExpiryBuffer   time.Duration `validate:"gte=0"`
	IdleWindow     time.Duration `validate:"gt=0"`
	IdleWindowStay time.Duration `validate:"gt=0"`
}

// DefaultConfig returns defaults for every optional key. APIBaseURL has no default.
func DefaultConfig() Config {
	api := authapi.DefaultConfig()
	rt := realtime.DefaultConfig()
	idle := inactivity.DefaultConfig()
	return Config{
		APIMaxBodyBytes: api.MaxBodyBytes,
		HTTPTimeout:     api.Timeout,

		RealtimeBaseDelay: rt.BaseDelay,
		RealtimeMaxDelay:  rt.MaxDelay,
		RealtimeAttempts:  rt.MaxAttempts,
		RealtimeReadIdle:  rt.ReadIdleTimeout,

		LogLevel:  "info",
		LogFormat: "json",

		StoreDriver: StoreMemory,
		DBMaxConns:  4,

		ExpiryBuffer:   session.DefaultConfig().ExpiryBuffer,
		IdleWindow:     idle.Window,
		IdleWindowStay: idle.StaySignedInWindow,
	}
}

// LoadConfig loads Config from STOREFRONT_* environment variables.
// STOREFRONT_ENV_FILE names an optional .env file loaded first.
func LoadConfig() (Config, error) {
	if err := LoadEnvFiles(os.Getenv("STOREFRONT_ENV_FILE")); err != nil {
		return Config{}, fmt.Errorf("%w: %w", ErrConfig, err)
	}

	def := DefaultConfig()
	cfg := Config{
		APIBaseURL:      strings.TrimRight(EnvString("STOREFRONT_API_BASE_URL", ""), "/"),
		APIMaxBodyBytes: int64(EnvInt("STOREFRONT_API_MAX_BODY_BYTES", int(def.APIMaxBodyBytes))),
		HTTPTimeout:     EnvDuration("STOREFRONT_HTTP_TIMEOUT", def.HTTPTimeout),

		RealtimeURL:       EnvString("STOREFRONT_REALTIME_URL", ""),
		RealtimeBaseDelay: EnvDuration("STOREFRONT_RT_BASE_DELAY", def.RealtimeBaseDelay),
		RealtimeMaxDelay:  EnvDuration("STOREFRONT_RT_MAX_DELAY", def.RealtimeMaxDelay),
		RealtimeAttempts:  EnvInt("STOREFRONT_RT_MAX_ATTEMPTS", def.RealtimeAttempts),
		RealtimeReadIdle:  EnvDuration("STOREFRONT_RT_READ_IDLE", def.RealtimeReadIdle),

		LogLevel:  strings.ToLower(EnvString("STOREFRONT_LOG_LEVEL", def.LogLevel)),
		LogFormat: strings.ToLower(EnvString("STOREFRONT_LOG_FORMAT", def.LogFormat)),

		StoreDriver: strings.ToLower(EnvString("STOREFRONT_STORE_DRIVER", def.StoreDriver)),
		StorePath:   EnvString("STOREFRONT_STORE_PATH", ""),
		DatabaseURL: EnvString("STOREFRONT_DATABASE_URL", ""),
		DBMaxConns:  EnvInt32("STOREFRONT_DB_MAX_CONNS", def.DBMaxConns),
		DBMinConns:  EnvInt32("STOREFRONT_DB_MIN_CONNS", 0),
		DeviceID:    EnvString("STOREFRONT_DEVICE_ID", ""),
		StoreKey:    EnvString(seal.KeyEnv, ""),

		ExpiryBuffer:   EnvDuration("STOREFRONT_EXPIRY_BUFFER", def.ExpiryBuffer),
		IdleWindow:     EnvDuration("STOREFRONT_IDLE_WINDOW", def.IdleWindow),
		IdleWindowStay: EnvDuration("STOREFRONT_IDLE_WINDOW_STAY", def.IdleWindowStay),
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks struct constraints and the realtime URL scheme.
func (c Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	if err := c.RealtimeConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrConfig, err)
	}
	return nil
}

// APIConfig returns the backend client configuration.
func (c Config) APIConfig() authapi.Config {
	return authapi.Config{
		BaseURL:      c.APIBaseURL,
		Timeout:      c.HTTPTimeout,
		MaxBodyBytes: c.APIMaxBodyBytes,
	}
}

// SessionConfig returns the lifecycle manager configuration.
func (c Config) SessionConfig() session.Config {
	return session.Config{ExpiryBuffer: c.ExpiryBuffer}
}

// InactivityConfig returns the inactivity windows.
func (c Config) InactivityConfig() inactivity.Config {
	return inactivity.Config{
		Window:             c.IdleWindow,
		StaySignedInWindow: c.IdleWindowStay,
	}
}

// RealtimeConfig returns the push channel configuration.
func (c Config) RealtimeConfig() realtime.Config {
	cfg := realtime.DefaultConfig()
	cfg.URL = c.RealtimeURL
	cfg.BaseDelay = c.RealtimeBaseDelay
	cfg.MaxDelay = c.RealtimeMaxDelay
	cfg.MaxAttempts = c.RealtimeAttempts
	cfg.ReadIdleTimeout = c.RealtimeReadIdle
	return cfg
}
