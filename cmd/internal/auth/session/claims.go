package session

import (
	"strings"

	"github.com/golang-jwt/jwt/v5"
)

// Claims is the advisory identity envelope read from an access token.
type Claims struct {
	Subject   string
	Role      string
	ExpiresAt int64 // epoch seconds
}

type accessClaims struct {
	jwt.RegisteredClaims

	Role   string `json:"role,omitempty"`
	UserID string `json:"userId,omitempty"`
}

// DecodeClaims reads the claims of a JWT access token without verifying its signature.
//
// It never panics; malformed input yields a *DecodeError.
func DecodeClaims(token string) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, &DecodeError{Reason: "empty token"}
	}
	if strings.Count(token, ".") != 2 {
		return Claims{}, &DecodeError{Reason: "expected three segments"}
	}

	var c accessClaims
	if _, _, err := jwt.NewParser().ParseUnverified(token, &c); err != nil {
		return Claims{}, &DecodeError{Reason: "parse", Err: err}
	}

	if c.ExpiresAt == nil {
		return Claims{}, &DecodeError{Reason: "missing exp"}
	}

	sub := c.Subject
	if sub == "" {
		sub = c.UserID
	}
	if sub == "" {
		return Claims{}, &DecodeError{Reason: "missing subject"}
	}

	return Claims{
		Subject:   sub,
		Role:      c.Role,
		ExpiresAt: c.ExpiresAt.Unix(),
	}, nil
}
