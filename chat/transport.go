package chat

import (
	"context"
	"errors"
	"fmt"
)

// Close codes. Only CloseNormal suppresses an automatic reconnect.
const (
	CloseNormal         = 1000
	CloseAbnormal       = 1006
	CloseServiceRestart = 1012
)

// Dialer opens a protocol connection.
type Dialer interface {
	Dial(ctx context.Context, url string) (Conn, error)
}

// Conn is one protocol connection. ReadMessage blocks for the next frame, which may
// hold several CRLF-separated lines, and returns a *CloseError once the connection is
// gone. Send writes one line.
type Conn interface {
	ReadMessage() (string, error)
	Send(line string) error
	Close(code int, reason string) error
}

// CloseError reports why a connection ended.
type CloseError struct {
	Code int
	Text string
}

func (e *CloseError) Error() string {
	return fmt.Sprintf("connection closed (%d): %s", e.Code, e.Text)
}

// CloseCode extracts the close code from a ReadMessage error. Anything that is not a
// *CloseError counts as abnormal.
func CloseCode(err error) int {
	var ce *CloseError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CloseAbnormal
}
