// Package websocket implements the WebSocket protocol defined in RFC 6455.
//
// The package is layered bottom up. ReadFrame and WriteFrame encode single
// frames, MessageReader reassembles fragmented messages and FrameWriter
// writes frames with the masking required by the connection's role.
//
// Dial and Accept perform the opening handshake and return a Conn that
// answers pings, runs the closing handshake and force closes the socket when
// the peer stops answering. Server accepts many connections and dispatches
// their messages through a Router.
//
// See https://tools.ietf.org/html/rfc6455
package websocket
