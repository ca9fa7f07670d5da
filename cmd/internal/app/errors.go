package app

import "errors"

var (
	// ErrConfig reports an invalid client configuration.
	ErrConfig = errors.New("app: invalid config")

	// ErrDisposed is returned by operations on a Client after Dispose.
	ErrDisposed = errors.New("app: client disposed")
)
