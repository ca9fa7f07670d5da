package authapi

import "encoding/json"

// LoginRequest is the body of POST /auth/login.
type LoginRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required"`
	StaySignedIn bool   `json:"staySignedIn"`
}

// VerifyRequest is the body of POST /auth/verify-code.
type VerifyRequest struct {
	Email        string `json:"email" validate:"required,email"`
	Password     string `json:"password" validate:"required"`
	StaySignedIn bool   `json:"staySignedIn"`
	Code         string `json:"code" validate:"required,max=16"`
}

// AuthResponse is returned by login and verify-code.
//
// Either the token pair is present, or RequiresVerification is set and Message explains the next step.
type AuthResponse struct {
	AccessToken          string          `json:"accessToken"`
	RenewalToken         string          `json:"renewalToken"`
	Role                 string          `json:"role"`
	User                 json.RawMessage `json:"user"`
	RequiresVerification bool            `json:"requiresVerification"`
	Message              string          `json:"message"`
}

// HasTokens reports whether the response established a session.
func (r AuthResponse) HasTokens() bool {
	return r.AccessToken != "" && r.RenewalToken != ""
}

type refreshResponse struct {
	AccessToken  string `json:"accessToken"`
	RenewalToken string `json:"renewalToken"`
}
