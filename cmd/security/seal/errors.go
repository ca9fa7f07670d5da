package seal

import "errors"

// Public, stable errors for callers.
var (
	ErrKeyMissing  = errors.New("store sealing key missing")
	ErrKeyTooShort = errors.New("store sealing key too short")
	ErrMalformed   = errors.New("sealed value malformed")
	ErrOpen        = errors.New("sealed value could not be opened")
)
