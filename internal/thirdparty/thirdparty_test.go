// Package thirdparty tests interoperability with other WebSocket and HTTP libraries.
package thirdparty

import (
	"net"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/sockwire/websocket"
	"github.com/sockwire/websocket/internal/test/assert"
	"github.com/sockwire/websocket/internal/wsecho"
)

// echoServer returns a Server running the wsecho handlers.
func echoServer(t *testing.T, opts *websocket.ServerOptions) *websocket.Server {
	t.Helper()

	s, err := websocket.NewServer(opts)
	assert.Success(t, err)
	err = wsecho.Register(s.Router, s, zap.NewNop())
	assert.Success(t, err)
	t.Cleanup(func() {
		s.Close()
	})
	return s
}

// listen serves s on a loopback listener and returns its address.
func listen(t *testing.T, s *websocket.Server) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	assert.Success(t, err)
	go s.Serve(l)
	return l.Addr().String()
}

const testTimeout = 10 * time.Second
