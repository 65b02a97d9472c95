// Package wsecho contains the echo handlers served by cmd/wsecho.
package wsecho

import (
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/sockwire/websocket"
)

// HandlerBroadcast is the message id that is broadcast instead of echoed.
const HandlerBroadcast = "broadcast"

// Broadcaster is implemented by *websocket.Server and *wsredis.Relay wrappers.
type Broadcaster interface {
	Broadcast(typ websocket.DataType, p []byte) error
}

// Register registers the echo handlers on r. Messages identified by
// HandlerBroadcast are handed to b, every other message is echoed.
func Register(r *websocket.Router, b Broadcaster, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}

	err := r.HandleDefault(func(c *websocket.Conn) {
		err := Echo(c)
		if err != nil {
			log.Warn("failed to echo message", zap.String("conn", c.ID()), zap.Error(err))
		}
	})
	if err != nil {
		return err
	}

	return r.Handle(HandlerBroadcast, func(c *websocket.Conn) {
		m := c.Message()
		err := b.Broadcast(m.DataType, m.Payload)
		if err != nil {
			log.Warn("failed to broadcast message", zap.String("conn", c.ID()), zap.Error(err))
		}
	})
}

// Echo writes the last message read from c back to it
// following the connection's payload mode.
func Echo(c *websocket.Conn) error {
	m := c.Message()
	if m == nil {
		return xerrors.Errorf("nothing to echo: %w", websocket.ErrUsage)
	}

	switch c.Mode() {
	case websocket.ModeJSON:
		id, err := c.MessageID()
		if err != nil {
			return err
		}
		var v interface{}
		err = c.JSONPayload(&v)
		if err != nil {
			return err
		}
		return c.WriteJSON(id, v)
	default:
		return c.Write(m.DataType, m.Payload)
	}
}
