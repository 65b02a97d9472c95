package wsecho_test

import (
	"context"
	"net"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/sockwire/websocket"
	"github.com/sockwire/websocket/internal/test/assert"
	"github.com/sockwire/websocket/internal/test/wstest"
	"github.com/sockwire/websocket/internal/wsecho"
)

func TestEcho(t *testing.T) {
	t.Parallel()

	t.Run("noMessage", func(t *testing.T) {
		t.Parallel()

		c1, c2, err := wstest.Pipe(nil, nil)
		assert.Success(t, err)
		defer c1.Shutdown(websocket.StatusGoingAway, "")
		defer c2.Shutdown(websocket.StatusGoingAway, "")

		err = wsecho.Echo(c2)
		assert.ErrorIs(t, websocket.ErrUsage, err)
	})

	t.Run("json", func(t *testing.T) {
		t.Parallel()

		c1, c2, err := wstest.Pipe(&websocket.DialOptions{
			Mode: websocket.ModeJSON,
		}, &websocket.AcceptOptions{
			Mode: websocket.ModeJSON,
		})
		assert.Success(t, err)
		defer c1.Shutdown(websocket.StatusGoingAway, "")
		defer c2.Shutdown(websocket.StatusGoingAway, "")

		err = c1.WriteJSON("greet", []string{"a", "b"})
		assert.Success(t, err)
		_, err = c2.Read()
		assert.Success(t, err)

		err = wsecho.Echo(c2)
		assert.Success(t, err)

		_, err = c1.Read()
		assert.Success(t, err)
		id, err := c1.MessageID()
		assert.Success(t, err)
		assert.Equal(t, "id", "greet", id)

		var v []string
		err = c1.JSONPayload(&v)
		assert.Success(t, err)
		assert.Equal(t, "data", []string{"a", "b"}, v)
	})
}

func TestRegister(t *testing.T) {
	t.Parallel()

	s, err := websocket.NewServer(&websocket.ServerOptions{
		Subprotocols: []string{websocket.SubprotocolMessageID},
		Mode:         websocket.ModeText,
	})
	assert.Success(t, err)

	log := zaptest.NewLogger(t)
	err = wsecho.Register(s.Router, s, log)
	assert.Success(t, err)
	err = wsecho.Register(s.Router, s, log)
	assert.ErrorIs(t, websocket.ErrDuplicateHandler, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Success(t, err)
	go s.Serve(l)
	defer s.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second*10)
	defer cancel()

	var clients []*websocket.Conn
	for i := 0; i < 2; i++ {
		c, _, err := websocket.Dial(ctx, "ws://"+l.Addr().String(), &websocket.DialOptions{
			Subprotocols: []string{websocket.SubprotocolMessageID},
			Mode:         websocket.ModeText,
		})
		assert.Success(t, err)
		defer c.Close()
		clients = append(clients, c)
	}

	// Echo first so both connections are known to be registered
	// before broadcasting.
	for _, c := range clients {
		err = c.WriteText("ping")
		assert.Success(t, err)
		m, err := c.Read()
		assert.Success(t, err)
		assert.Equal(t, "echo", "ping", string(m.Payload))
	}

	err = clients[0].WriteMessageID(wsecho.HandlerBroadcast, "to all")
	assert.Success(t, err)
	for _, c := range clients {
		m, err := c.Read()
		assert.Success(t, err)
		assert.Equal(t, "broadcast", "broadcast to all", string(m.Payload))
	}
}
