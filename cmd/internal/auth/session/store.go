package session

import (
	"context"
	"encoding/json"
	"strconv"
)

// Persisted keys. All of them are cleared together.
const (
	KeyAccessToken  = "access_token"
	KeyRenewalToken = "renewal_token"
	KeyRole         = "role"
	KeyUser         = "user"
	KeyStaySignedIn = "stay_signed_in"
)

// Store is the durable credential store.
//
// Save is atomic from the caller's perspective. Load never fails: absent or
// unreadable data yields an empty Session. Only the lifecycle manager and the
// login/logout flows write; every other component only reads, and must re-read
// instead of caching.
//
// CompareAndSave writes s only while the stored renewal token still equals
// renewalToken, checking and writing as one step. It reports whether it wrote.
type Store interface {
	Save(ctx context.Context, s Session) error
	CompareAndSave(ctx context.Context, renewalToken string, s Session) (bool, error)
	Load(ctx context.Context) Session
	Clear(ctx context.Context) error
	Close() error
}

// Sealer encrypts token values at rest. *seal.Sealer implements it.
type Sealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// codec converts between a Session and its flat key/value form, sealing tokens when configured.
type codec struct {
	sealer Sealer
}

func (c codec) encode(s Session) (map[string]string, error) {
	at, rt := s.AccessToken, s.RenewalToken
	if c.sealer != nil {
		var err error
		if at, err = c.sealer.Seal(at); err != nil {
			return nil, err
		}
		if rt, err = c.sealer.Seal(rt); err != nil {
			return nil, err
		}
	}

	return map[string]string{
		KeyAccessToken:  at,
		KeyRenewalToken: rt,
		KeyRole:         s.Role,
		KeyUser:         string(s.User),
		KeyStaySignedIn: strconv.FormatBool(s.StaySignedIn),
	}, nil
}

// open returns the plaintext of one stored token value.
func (c codec) open(v string) (string, error) {
	if c.sealer == nil || v == "" {
		return v, nil
	}
	return c.sealer.Open(v)
}

// decode rebuilds a Session. Anything that cannot be opened or is partial yields an empty Session.
func (c codec) decode(kv map[string]string) (Session, error) {
	at, rt := kv[KeyAccessToken], kv[KeyRenewalToken]
	if c.sealer != nil {
		var err error
		if at, err = c.sealer.Open(at); err != nil {
			return Session{}, err
		}
		if rt, err = c.sealer.Open(rt); err != nil {
			return Session{}, err
		}
	}

	s := Session{
		AccessToken:  at,
		RenewalToken: rt,
		Role:         kv[KeyRole],
	}
	if b, err := strconv.ParseBool(kv[KeyStaySignedIn]); err == nil {
		s.StaySignedIn = b
	}
	if u := kv[KeyUser]; u != "" && json.Valid([]byte(u)) {
		s.User = json.RawMessage(u)
	}

	if s.Partial() {
		return Session{}, ErrPartialSession
	}
	return Derive(s), nil
}

func prepareSave(s Session) (Session, error) {
	if s.Partial() {
		return Session{}, ErrPartialSession
	}
	if s.Empty() {
		return Session{StaySignedIn: s.StaySignedIn}, nil
	}
	return Derive(s), nil
}
