package websocket

import (
	"fmt"

	"golang.org/x/xerrors"
)

var (
	// ErrClosed is returned by Conn methods once the connection is closed.
	// Read loops treat it as the end of the connection rather than a failure.
	ErrClosed = xerrors.New("websocket: connection closed")

	// ErrTruncatedFrame is returned when the stream ends before a frame
	// is fully read.
	ErrTruncatedFrame = xerrors.New("websocket: truncated frame")

	// ErrUnexpectedFrame is returned when the peer violates the fragmentation
	// rules, e.g. a continuation frame without a preceding data frame or a new
	// message interleaved with a fragmented one.
	ErrUnexpectedFrame = xerrors.New("websocket: unexpected frame")

	// ErrInvalidLength is returned when a frame declares a payload length
	// that does not fit in an int.
	ErrInvalidLength = xerrors.New("websocket: invalid payload length")

	// ErrInvalidMask is returned when a masked frame is encoded with a
	// masking key that is not exactly 4 bytes.
	ErrInvalidMask = xerrors.New("websocket: masking key must be 4 bytes")

	// ErrPayloadTooLarge is returned when a control frame payload would
	// exceed 125 bytes.
	ErrPayloadTooLarge = xerrors.New("websocket: control frame payload too large")

	// ErrMessageTooBig is returned when a message exceeds the read limit.
	ErrMessageTooBig = xerrors.New("websocket: message too big")

	// ErrUsage is returned when a payload accessor does not match the
	// PayloadMode the connection was configured with.
	ErrUsage = xerrors.New("websocket: usage error")

	// ErrServerClosed is returned by Server.Serve after Server.Close.
	ErrServerClosed = xerrors.New("websocket: server closed")

	// ErrDuplicateHandler is returned when a handler id is registered twice.
	ErrDuplicateHandler = xerrors.New("websocket: duplicate handler id")
)

// HandshakeError is returned when the opening handshake fails.
// On the client it carries the server's HTTP response; on the server
// it carries the response that was sent before the socket was closed.
type HandshakeError struct {
	StatusCode int
	Status     string
	Body       string
	Reason     string
}

func (e *HandshakeError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("websocket: handshake failed: %v", e.Reason)
	}
	return fmt.Sprintf("websocket: handshake failed with status %v: %v", e.Status, e.Reason)
}
