package session

import "encoding/json"

// Session is the persisted client session.
//
// AccessToken and RenewalToken are both present or both absent.
// Role and UserID mirror the access token's claims and are recomputed by Derive.
type Session struct {
	AccessToken  string
	RenewalToken string
	Role         string
	UserID       string
	StaySignedIn bool
	User         json.RawMessage
}

// Empty reports whether the session carries no credentials.
func (s Session) Empty() bool {
	return s.AccessToken == "" && s.RenewalToken == ""
}

// Partial reports whether exactly one of the two tokens is present.
func (s Session) Partial() bool {
	return (s.AccessToken == "") != (s.RenewalToken == "")
}

// Claims decodes the access token.
func (s Session) Claims() (Claims, error) {
	return DecodeClaims(s.AccessToken)
}

// Derive recomputes Role and UserID from the access token.
// An undecodable or absent token clears both.
func Derive(s Session) Session {
	c, err := DecodeClaims(s.AccessToken)
	if err != nil {
		s.Role = ""
		s.UserID = ""
		return s
	}
	s.Role = c.Role
	s.UserID = c.Subject
	return s
}
