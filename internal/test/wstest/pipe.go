// Package wstest contains helpers to test WebSocket connections.
package wstest

import (
	"context"
	"net"

	"github.com/sockwire/websocket"
	"github.com/sockwire/websocket/internal/errd"
	"github.com/sockwire/websocket/internal/xsync"
)

// Pipe returns a connected client and server Conn over a loopback TCP
// connection. net.Pipe is not used as its writes block until read which
// a peer that is not reading would turn into a deadlock.
func Pipe(dialOpts *websocket.DialOptions, acceptOpts *websocket.AcceptOptions) (client, server *websocket.Conn, err error) {
	defer errd.Wrap(&err, "failed to create ws pipe")

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, nil, err
	}
	defer l.Close()

	accepted := make(chan *websocket.Conn, 1)
	acceptErr := xsync.Go(func() error {
		netConn, err := l.Accept()
		if err != nil {
			return err
		}
		c, err := websocket.Accept(netConn, acceptOpts)
		if err != nil {
			return err
		}
		accepted <- c
		return nil
	})

	client, _, err = websocket.Dial(context.Background(), "ws://"+l.Addr().String(), dialOpts)
	if err != nil {
		return nil, nil, err
	}

	err = <-acceptErr
	if err != nil {
		return nil, nil, err
	}
	return client, <-accepted, nil
}
