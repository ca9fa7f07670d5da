package realtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"

	"github.com/coder/websocket"
)

var (
	// ErrConnection wraps every dial, handshake or read failure. It is absorbed into the backoff schedule.
	ErrConnection = errors.New("realtime: connection failed")

	// ErrConfig indicates an unusable manager configuration.
	ErrConfig = errors.New("realtime: invalid config")
)

// ServerError is an error envelope received from the push service.
type ServerError struct {
	Code    string
	Message string
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("realtime: server error %s: %s", e.Code, e.Message)
}

// dropReason classifies read errors for logs.
func dropReason(err error) string {
	if websocket.CloseStatus(err) != -1 {
		return "close"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "read_idle"
	}
	if errors.Is(err, context.Canceled) {
		return "canceled"
	}
	if errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
		return "conn_closed"
	}
	var se *ServerError
	if errors.As(err, &se) {
		return "server_error"
	}
	return "unknown"
}
