package websocket

import (
	"bufio"
	"context"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/sockwire/websocket/internal/errd"
)

// DialOptions represents the options available to pass to Dial.
type DialOptions struct {
	// Dialer is used to open the TCP connection.
	// Defaults to a zero net.Dialer.
	Dialer *net.Dialer

	// Header specifies additional HTTP headers to send in the handshake request.
	Header http.Header

	// Subprotocols lists the subprotocols to offer to the server.
	Subprotocols []string

	// Mode is the payload convention of the dialed connection.
	Mode PayloadMode

	// CloseTimeout bounds how long Ping and Close wait for the peer.
	// Defaults to 10 seconds.
	CloseTimeout time.Duration

	// ReadLimit is the maximum size of a message in bytes.
	// Zero means no limit.
	ReadLimit int64

	// Logger defaults to a no-op logger.
	Logger *zap.Logger
}

func (opts *DialOptions) cloneWithDefaults() *DialOptions {
	var o DialOptions
	if opts != nil {
		o = *opts
	}
	if o.Dialer == nil {
		o.Dialer = &net.Dialer{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return &o
}

// Dial performs a WebSocket handshake on url.
//
// The response is the WebSocket handshake response from the server.
// If the handshake is rejected, the returned error is a *HandshakeError
// carrying the status and up to 1024 bytes of the body. ctx bounds the
// handshake only.
func Dial(ctx context.Context, u string, opts *DialOptions) (_ *Conn, _ *http.Response, err error) {
	defer errd.Wrap(&err, "failed to WebSocket dial")

	opts = opts.cloneWithDefaults()

	parsedURL, err := url.Parse(u)
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to parse url: %w", err)
	}

	switch parsedURL.Scheme {
	case "ws", "http":
		parsedURL.Scheme = "http"
	case "wss", "https":
		return nil, nil, xerrors.Errorf("TLS is not supported: %q", u)
	default:
		return nil, nil, xerrors.Errorf("unexpected url scheme: %q", parsedURL.Scheme)
	}

	addr := parsedURL.Host
	if parsedURL.Port() == "" {
		addr = net.JoinHostPort(parsedURL.Hostname(), "80")
	}

	netConn, err := opts.Dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, nil, err
	}
	defer func() {
		if err != nil {
			netConn.Close()
		}
	}()

	// Cancelling ctx unblocks the handshake.
	stop := context.AfterFunc(ctx, func() {
		netConn.SetDeadline(time.Now())
	})
	defer stop()

	key, err := secWebSocketKey()
	if err != nil {
		return nil, nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsedURL.String(), nil)
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to create handshake request: %w", err)
	}
	for k, v := range opts.Header {
		req.Header[k] = v
	}
	req.Header.Set("Connection", "Upgrade")
	req.Header.Set("Upgrade", "websocket")
	req.Header.Set("Sec-WebSocket-Version", "13")
	req.Header.Set("Sec-WebSocket-Key", key)
	if len(opts.Subprotocols) > 0 {
		req.Header.Set("Sec-WebSocket-Protocol", strings.Join(opts.Subprotocols, ","))
	}

	br := bufio.NewReader(netConn)
	bw := bufio.NewWriter(netConn)

	err = req.Write(bw)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to write handshake request: %w", err)
	}

	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, nil, xerrors.Errorf("failed to read handshake response: %w", err)
	}

	err = verifyServerResponse(resp, key, opts.Subprotocols)
	if err != nil {
		// We read a bit of the body for better debugging.
		b, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		resp.Body.Close()
		return nil, resp, &HandshakeError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Body:       string(b),
			Reason:     err.Error(),
		}
	}

	if !stop() {
		return nil, resp, xerrors.Errorf("handshake interrupted: %w", ctx.Err())
	}
	netConn.SetDeadline(time.Time{})

	c := newConn(connConfig{
		client:       true,
		subprotocol:  resp.Header.Get("Sec-WebSocket-Protocol"),
		mode:         opts.Mode,
		netConn:      netConn,
		br:           br,
		bw:           bw,
		closeTimeout: opts.CloseTimeout,
		readLimit:    opts.ReadLimit,
		logger:       opts.Logger,
	})
	c.open()
	return c, resp, nil
}
