package websocket

import (
	"bufio"
	"errors"
	"io"
	"net"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/sockwire/websocket/internal/errd"
)

const defaultHandshakeTimeout = 10 * time.Second

// AcceptOptions represents the options available to pass to Accept.
type AcceptOptions struct {
	// Subprotocols lists the subprotocols to negotiate with the client.
	// The empty subprotocol will always be negotiated as per RFC 6455.
	Subprotocols []string

	// RequiredSubprotocol rejects clients that do not offer it with
	// 426 Upgrade Required. It is negotiated before Subprotocols.
	RequiredSubprotocol string

	// Mode is the payload convention of the accepted connection.
	Mode PayloadMode

	// HandshakeTimeout bounds reading the request and writing the response.
	// Defaults to 10 seconds.
	HandshakeTimeout time.Duration

	// CloseTimeout bounds how long Ping and Close wait for the peer.
	// Defaults to 10 seconds.
	CloseTimeout time.Duration

	// ReadLimit is the maximum size of a message in bytes.
	// Larger messages close the connection with StatusMessageTooBig.
	// Zero means no limit.
	ReadLimit int64

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	metrics *metrics
}

func (opts *AcceptOptions) cloneWithDefaults() *AcceptOptions {
	var o AcceptOptions
	if opts != nil {
		o = *opts
	}
	if o.HandshakeTimeout <= 0 {
		o.HandshakeTimeout = defaultHandshakeTimeout
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.RequiredSubprotocol != "" {
		o.Subprotocols = append([]string{o.RequiredSubprotocol}, o.Subprotocols...)
	}
	return &o
}

// Accept performs the server side of the opening handshake on netConn.
//
// It reads the upgrade request, validates it and replies with 101 Switching
// Protocols. A request that fails validation is answered with 400 Bad Request
// or 426 Upgrade Required, netConn is closed and a *HandshakeError is returned.
func Accept(netConn net.Conn, opts *AcceptOptions) (_ *Conn, err error) {
	defer errd.Wrap(&err, "failed to accept WebSocket connection")

	opts = opts.cloneWithDefaults()

	netConn.SetDeadline(time.Now().Add(opts.HandshakeTimeout))
	br := bufio.NewReader(netConn)
	bw := bufio.NewWriter(netConn)

	r, err := http.ReadRequest(br)
	if err != nil {
		if !errors.Is(err, io.EOF) {
			werr := writeRejection(bw, &HandshakeError{
				StatusCode: http.StatusBadRequest,
				Reason:     "malformed handshake request",
			})
			if werr != nil {
				opts.Logger.Debug("failed to write handshake rejection", zap.Error(werr))
			}
		}
		netConn.Close()
		return nil, xerrors.Errorf("failed to read handshake request: %w", err)
	}

	err = verifyClientRequest(r, opts.RequiredSubprotocol)
	if err != nil {
		var he *HandshakeError
		if errors.As(err, &he) {
			werr := writeRejection(bw, he)
			if werr != nil {
				opts.Logger.Debug("failed to write handshake rejection", zap.Error(werr))
			}
		}
		netConn.Close()
		return nil, err
	}

	return upgrade(netConn, br, bw, r, opts)
}

// AcceptHTTP accepts a WebSocket handshake from a client and upgrades the
// connection to WebSocket through the http.Hijacker of w.
// A rejected handshake is answered through w.
func AcceptHTTP(w http.ResponseWriter, r *http.Request, opts *AcceptOptions) (_ *Conn, err error) {
	defer errd.Wrap(&err, "failed to accept WebSocket connection")

	opts = opts.cloneWithDefaults()

	err = verifyClientRequest(r, opts.RequiredSubprotocol)
	if err != nil {
		var he *HandshakeError
		if errors.As(err, &he) {
			for k, v := range rejectionHeader(he) {
				w.Header()[k] = v
			}
			w.WriteHeader(he.StatusCode)
			io.WriteString(w, he.Reason+"\n")
		}
		return nil, err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		err = xerrors.New("http.ResponseWriter does not implement http.Hijacker")
		http.Error(w, http.StatusText(http.StatusNotImplemented), http.StatusNotImplemented)
		return nil, err
	}

	netConn, brw, err := hj.Hijack()
	if err != nil {
		err = xerrors.Errorf("failed to hijack connection: %w", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return nil, err
	}

	netConn.SetDeadline(time.Now().Add(opts.HandshakeTimeout))
	return upgrade(netConn, brw.Reader, brw.Writer, r, opts)
}

func upgrade(netConn net.Conn, br *bufio.Reader, bw *bufio.Writer, r *http.Request, opts *AcceptOptions) (*Conn, error) {
	subprotocol := selectSubprotocol(r, opts.Subprotocols)

	err := writeResponse(bw, http.StatusSwitchingProtocols, switchingProtocolsHeader(r, subprotocol), "")
	if err != nil {
		netConn.Close()
		return nil, xerrors.Errorf("failed to write handshake response: %w", err)
	}
	netConn.SetDeadline(time.Time{})

	c := newConn(connConfig{
		subprotocol:  subprotocol,
		mode:         opts.Mode,
		netConn:      netConn,
		br:           br,
		bw:           bw,
		closeTimeout: opts.CloseTimeout,
		readLimit:    opts.ReadLimit,
		logger:       opts.Logger,
		metrics:      opts.metrics,
	})
	c.open()
	return c, nil
}
