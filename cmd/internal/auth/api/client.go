// Package authapi is the storefront backend client for the authentication endpoints.
package authapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"storefront/cmd/internal/auth/session"

	"github.com/go-playground/validator/v10"
)

// Client calls /auth/login, /auth/verify-code and /auth/refresh-token.
//
// It must be given an unauthenticated http.Client: renewal calls must not pass through the request gate.
type Client struct {
	base     *url.URL
	http     *http.Client
	validate *validator.Validate
	log      *slog.Logger
	maxBytes int64
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient overrides the transport client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.http = hc
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// New constructs a Client for cfg.BaseURL.
func New(cfg Config, opts ...Option) (*Client, error) {
	raw := strings.TrimSpace(cfg.BaseURL)
	if raw == "" {
		return nil, fmt.Errorf("%w: base url is required", ErrConfig)
	}
	base, err := url.Parse(strings.TrimRight(raw, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("%w: invalid base url %q", ErrConfig, raw)
	}

	def := DefaultConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = def.MaxBodyBytes
	}

	c := &Client{
		base:     base,
		http:     &http.Client{Timeout: cfg.Timeout},
		validate: validator.New(),
		log:      slog.Default(),
		maxBytes: cfg.MaxBodyBytes,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c, nil
}

// BaseURL returns the backend base URL.
func (c *Client) BaseURL() *url.URL {
	u := *c.base
	return &u
}

// Login posts credentials. A response with RequiresVerification set is not an error.
func (c *Client) Login(ctx context.Context, req LoginRequest) (AuthResponse, error) {
	if err := c.validate.Struct(req); err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return c.authenticate(ctx, "/auth/login", req)
}

// VerifyCode completes a login that required a verification code.
func (c *Client) VerifyCode(ctx context.Context, req VerifyRequest) (AuthResponse, error) {
	if err := c.validate.Struct(req); err != nil {
		return AuthResponse{}, fmt.Errorf("%w: %v", ErrInvalidRequest, err)
	}
	return c.authenticate(ctx, "/auth/verify-code", req)
}

func (c *Client) authenticate(ctx context.Context, path string, body any) (AuthResponse, error) {
	var out AuthResponse
	if err := c.postJSON(ctx, path, nil, body, &out); err != nil {
		c.log.Info("authapi.request.fail", "path", path, "err", err)
		return AuthResponse{}, err
	}
	if !out.HasTokens() && !out.RequiresVerification {
		return AuthResponse{}, fmt.Errorf("%w: neither tokens nor verification requirement", ErrUnexpectedResponse)
	}
	return out, nil
}

// RefreshToken exchanges a renewal token for a new access token. It implements session.Renewer.
//
// The renewal token travels as a query parameter as the backend expects.
func (c *Client) RefreshToken(ctx context.Context, renewalToken string) (session.Tokens, error) {
	if renewalToken == "" {
		return session.Tokens{}, session.ErrMissingCredential
	}

	q := url.Values{}
	q.Set("renewalToken", renewalToken)

	var out refreshResponse
	if err := c.postJSON(ctx, "/auth/refresh-token", q, nil, &out); err != nil {
		return session.Tokens{}, err
	}
	if out.AccessToken == "" {
		return session.Tokens{}, fmt.Errorf("%w: missing accessToken", ErrUnexpectedResponse)
	}
	return session.Tokens{AccessToken: out.AccessToken, RenewalToken: out.RenewalToken}, nil
}

func (c *Client) postJSON(ctx context.Context, path string, query url.Values, body, dst any) error {
	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return err
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.String(), bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
	}

	res, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer drain(res)

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return decodeError(res, c.maxBytes)
	}
	if dst == nil {
		return nil
	}
	return decodeJSON(res.Body, c.maxBytes, dst)
}

// IsRejection reports whether err is a definitive backend rejection rather than a transport failure.
func IsRejection(err error) bool {
	var apiErr *Error
	return errors.As(err, &apiErr)
}
