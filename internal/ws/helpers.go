package ws

import (
	"errors"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

func newConnID() string {
	return uuid.NewString()
}

// isExpectedCloseError reports errors that simply mean the peer went away.
func isExpectedCloseError(err error) bool {
	if err == nil || errors.Is(err, io.EOF) {
		return true
	}
	if websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "websocket: close sent") ||
		strings.Contains(msg, "broken pipe")
}
