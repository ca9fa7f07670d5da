package seal

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"io"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

const (
	// KeyEnv is the env var name for the store sealing secret.
	// #nosec G101 -- not a credential; it's an environment variable name.
	KeyEnv = "STOREFRONT_STORE_KEY"

	// MinKeyBytes is the minimum accepted secret length.
	MinKeyBytes = 32

	prefixV1 = "v1."
	hkdfInfo = "storefront.credential-store.v1"
)

// Sealer encrypts and decrypts short secrets for at-rest storage.
type Sealer struct {
	key []byte
}

// New derives a sealing key from secret. The secret must be at least MinKeyBytes long.
func New(secret []byte) (*Sealer, error) {
	if len(secret) == 0 {
		return nil, ErrKeyMissing
	}
	if len(secret) < MinKeyBytes {
		return nil, ErrKeyTooShort
	}

	key := make([]byte, chacha20poly1305.KeySize)
	h := hkdf.New(sha256.New, secret, nil, []byte(hkdfInfo))
	if _, err := io.ReadFull(h, key); err != nil {
		return nil, err
	}
	return &Sealer{key: key}, nil
}

// Seal encrypts plaintext. The empty string seals to the empty string.
func (s *Sealer) Seal(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}

	out := aead.Seal(nonce, nonce, []byte(plaintext), []byte(prefixV1))
	return prefixV1 + base64.RawURLEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if sealed == "" {
		return "", nil
	}
	if !strings.HasPrefix(sealed, prefixV1) {
		return "", ErrMalformed
	}

	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(sealed, prefixV1))
	if err != nil {
		return "", ErrMalformed
	}

	aead, err := chacha20poly1305.NewX(s.key)
	if err != nil {
		return "", err
	}
	if len(raw) < aead.NonceSize()+aead.Overhead() {
		return "", ErrMalformed
	}

	nonce, ct := raw[:aead.NonceSize()], raw[aead.NonceSize():]
	pt, err := aead.Open(nil, nonce, ct, []byte(prefixV1))
	if err != nil {
		return "", ErrOpen
	}
	return string(pt), nil
}

// Fingerprint returns the first 12 hex chars of SHA-256(token), or "" for an empty token.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])[:12]
}
