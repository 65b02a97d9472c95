package thirdparty

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	gorilla "github.com/gorilla/websocket"

	"github.com/sockwire/websocket"
	"github.com/sockwire/websocket/internal/test/assert"
	"github.com/sockwire/websocket/internal/test/wstest"
)

func TestGorillaClient(t *testing.T) {
	t.Parallel()

	s := echoServer(t, &websocket.ServerOptions{
		Subprotocols: []string{websocket.SubprotocolMessageID},
		Mode:         websocket.ModeText,
	})
	addr := listen(t, s)

	d := &gorilla.Dialer{
		Subprotocols:     []string{websocket.SubprotocolMessageID},
		HandshakeTimeout: testTimeout,
	}
	c, resp, err := d.Dial("ws://"+addr, nil)
	assert.Success(t, err)
	defer c.Close()
	assert.Equal(t, "status", http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "subprotocol", websocket.SubprotocolMessageID, c.Subprotocol())

	for _, msg := range []string{"chat hello", "no-id", ""} {
		err = c.WriteMessage(gorilla.TextMessage, []byte(msg))
		assert.Success(t, err)

		typ, p, err := c.ReadMessage()
		assert.Success(t, err)
		assert.Equal(t, "type", gorilla.TextMessage, typ)
		assert.Equal(t, "echo", msg, string(p))
	}

	err = c.WriteMessage(gorilla.BinaryMessage, []byte{0, 1, 2})
	assert.Success(t, err)
	typ, p, err := c.ReadMessage()
	assert.Success(t, err)
	assert.Equal(t, "type", gorilla.BinaryMessage, typ)
	assert.Equal(t, "echo", []byte{0, 1, 2}, p)

	err = c.WriteMessage(gorilla.CloseMessage, gorilla.FormatCloseMessage(gorilla.CloseNormalClosure, "bye"))
	assert.Success(t, err)

	_, _, err = c.ReadMessage()
	var ce *gorilla.CloseError
	if !errors.As(err, &ce) {
		t.Fatalf("expected *gorilla.CloseError but got %v", err)
	}
	assert.Equal(t, "close code", gorilla.CloseNormalClosure, ce.Code)
}

// gorillaEcho starts a gorilla server that echoes every message.
func gorillaEcho(t *testing.T, subprotocol string) string {
	t.Helper()

	upgrader := gorilla.Upgrader{
		Subprotocols: []string{subprotocol},
	}
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer c.Close()

		for {
			typ, p, err := c.ReadMessage()
			if err != nil {
				return
			}
			err = c.WriteMessage(typ, p)
			if err != nil {
				return
			}
		}
	}))
	t.Cleanup(hs.Close)
	return wstest.URL(hs)
}

func TestGorillaServer(t *testing.T) {
	t.Parallel()

	url := gorillaEcho(t, websocket.SubprotocolJSON)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{websocket.SubprotocolJSON},
		Mode:         websocket.ModeJSON,
	})
	assert.Success(t, err)
	assert.Equal(t, "subprotocol", websocket.SubprotocolJSON, c.Subprotocol())

	err = c.Ping()
	assert.Success(t, err)

	err = c.WriteJSON("point", map[string]int{"x": 1, "y": 2})
	assert.Success(t, err)
	_, err = c.Read()
	assert.Success(t, err)

	id, err := c.MessageID()
	assert.Success(t, err)
	assert.Equal(t, "id", "point", id)

	var point map[string]int
	err = c.JSONPayload(&point)
	assert.Success(t, err)
	assert.Equal(t, "point", map[string]int{"x": 1, "y": 2}, point)

	err = c.Close()
	assert.Success(t, err)
	assert.Equal(t, "state", websocket.StateClosed, c.State())
}

func TestGorillaServerMessageID(t *testing.T) {
	t.Parallel()

	url := gorillaEcho(t, websocket.SubprotocolMessageID)

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()

	c, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		Subprotocols: []string{websocket.SubprotocolMessageID},
		Mode:         websocket.ModeText,
	})
	assert.Success(t, err)

	err = c.WriteMessageID("chat", "hello")
	assert.Success(t, err)
	m, err := c.Read()
	assert.Success(t, err)
	assert.Equal(t, "rsv1", false, m.StartFrame().RSV1)

	id, err := c.MessageID()
	assert.Success(t, err)
	assert.Equal(t, "id", "chat", id)
	p, err := c.Payload()
	assert.Success(t, err)
	assert.Equal(t, "payload", "chat hello", p)

	err = c.Close()
	assert.Success(t, err)
}
