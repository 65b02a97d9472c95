package websocket

import (
	"context"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"golang.org/x/xerrors"
)

// ServerOptions configures a Server.
type ServerOptions struct {
	// Subprotocols and RequiredSubprotocol are passed to Accept.
	Subprotocols        []string
	RequiredSubprotocol string

	Mode PayloadMode `validate:"gte=0,lte=2"`

	HandshakeTimeout time.Duration `validate:"gte=0"`
	CloseTimeout     time.Duration `validate:"gte=0"`
	ReadLimit        int64         `validate:"gte=0"`

	// MessageRate limits the data messages dispatched per second on each
	// connection. Zero disables the limit.
	MessageRate  rate.Limit `validate:"gte=0"`
	MessageBurst int        `validate:"gte=0"`

	// Logger defaults to a no-op logger.
	Logger *zap.Logger

	// Registerer, if set, receives the server's collectors.
	Registerer prometheus.Registerer
}

var validate = validator.New()

// Server accepts WebSocket connections and runs one worker goroutine per
// connection that dispatches its messages through the embedded Router.
type Server struct {
	*Router

	opts    ServerOptions
	log     *zap.Logger
	metrics *metrics

	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.Mutex
	conns     map[*Conn]*worker
	listeners map[net.Listener]struct{}
	closed    bool
}

type worker struct {
	done chan struct{}
}

// NewServer returns a Server configured with opts. A nil opts uses the defaults.
func NewServer(opts *ServerOptions) (*Server, error) {
	var o ServerOptions
	if opts != nil {
		o = *opts
	}

	err := validate.Struct(o)
	if err != nil {
		return nil, xerrors.Errorf("invalid server options: %w", err)
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	if o.MessageRate > 0 && o.MessageBurst == 0 {
		o.MessageBurst = 1
	}

	m, err := newMetrics(o.Registerer)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		Router:    NewRouter(),
		opts:      o,
		log:       o.Logger,
		metrics:   m,
		ctx:       ctx,
		cancel:    cancel,
		conns:     make(map[*Conn]*worker),
		listeners: make(map[net.Listener]struct{}),
	}, nil
}

func (s *Server) acceptOptions() *AcceptOptions {
	return &AcceptOptions{
		Subprotocols:        s.opts.Subprotocols,
		RequiredSubprotocol: s.opts.RequiredSubprotocol,
		Mode:                s.opts.Mode,
		HandshakeTimeout:    s.opts.HandshakeTimeout,
		CloseTimeout:        s.opts.CloseTimeout,
		ReadLimit:           s.opts.ReadLimit,
		Logger:              s.log,
		metrics:             s.metrics,
	}
}

// ListenAndServe listens on the TCP address addr and calls Serve.
func (s *Server) ListenAndServe(addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return xerrors.Errorf("failed to listen: %w", err)
	}
	return s.Serve(l)
}

// Serve accepts connections on l until l fails or the server is closed.
//
// The handshake of each connection runs on the accept loop. A failed
// handshake only closes that connection. Serve always closes l and
// returns ErrServerClosed after Close.
func (s *Server) Serve(l net.Listener) error {
	if !s.trackListener(l) {
		l.Close()
		return ErrServerClosed
	}
	defer s.untrackListener(l)

	s.log.Info("serving WebSocket connections", zap.Stringer("addr", l.Addr()))

	for {
		netConn, err := l.Accept()
		if err != nil {
			if s.isClosed() {
				return ErrServerClosed
			}
			return xerrors.Errorf("failed to accept connection: %w", err)
		}

		c, err := Accept(netConn, s.acceptOptions())
		s.metrics.handshake(err)
		if err != nil {
			s.log.Info("handshake failed", zap.Stringer("remote", netConn.RemoteAddr()), zap.Error(err))
			continue
		}
		s.register(c)
	}
}

// ServeHTTP upgrades an HTTP request and registers the connection as if it
// was accepted by Serve.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	c, err := AcceptHTTP(w, r, s.acceptOptions())
	s.metrics.handshake(err)
	if err != nil {
		s.log.Info("handshake failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	s.register(c)
}

func (s *Server) register(c *Conn) {
	w := &worker{
		done: make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		c.fail(StatusGoingAway, "server closed")
		return
	}
	s.conns[c] = w
	s.mu.Unlock()

	s.metrics.connOpened()
	c.OnClose(s.unregister)

	go s.work(c, w)
}

func (s *Server) unregister(c *Conn) {
	s.mu.Lock()
	_, ok := s.conns[c]
	delete(s.conns, c)
	s.mu.Unlock()

	if ok {
		s.metrics.connClosed()
	}
}

func (s *Server) work(c *Conn, w *worker) {
	defer close(w.done)

	var wait func() error
	if s.opts.MessageRate > 0 {
		lim := rate.NewLimiter(s.opts.MessageRate, s.opts.MessageBurst)
		wait = func() error {
			return lim.Wait(s.ctx)
		}
	}

	err := s.Router.serve(c, wait)
	if err != nil && s.ctx.Err() == nil {
		c.log.Warn("connection failed", zap.Error(err))
	}
	// The socket is closed once the worker returns.
	c.closeNow()
}

// Conns returns a snapshot of the open connections.
func (s *Server) Conns() []*Conn {
	s.mu.Lock()
	defer s.mu.Unlock()

	conns := make([]*Conn, 0, len(s.conns))
	for c := range s.conns {
		conns = append(conns, c)
	}
	return conns
}

// Broadcast writes p as a single message of type typ to every open connection.
//
// A failed write does not stop the others. The failures are logged and
// returned combined, use multierr.Errors to inspect each of them.
func (s *Server) Broadcast(typ DataType, p []byte) error {
	var err error
	for _, c := range s.Conns() {
		werr := c.Write(typ, p)
		if werr != nil {
			s.metrics.broadcastError()
			c.log.Warn("failed to broadcast message", zap.Error(werr))
			err = multierr.Append(err, xerrors.Errorf("conn %v: %w", c.ID(), werr))
		}
	}
	return err
}

// Close stops every listener and closes every connection with
// StatusGoingAway, waiting for their workers to exit. Connections whose
// peers do not acknowledge the close are force closed after the close timeout.
func (s *Server) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrServerClosed
	}
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	workers := make(map[*Conn]*worker, len(s.conns))
	for c, w := range s.conns {
		workers[c] = w
	}
	s.mu.Unlock()

	var err error
	for l := range listeners {
		err = multierr.Append(err, l.Close())
	}

	var g errgroup.Group
	for c := range workers {
		c := c
		g.Go(func() error {
			serr := c.Shutdown(StatusGoingAway, "server closed")
			if serr != nil && !errors.Is(serr, ErrClosed) {
				c.log.Debug("failed to shut down connection", zap.Error(serr))
			}
			return nil
		})
	}
	err = multierr.Append(err, g.Wait())

	// Wakes workers throttled by the rate limiter once every close frame
	// is on its way.
	s.cancel()
	for _, w := range workers {
		<-w.done
	}

	s.log.Info("server closed")
	return err
}

func (s *Server) trackListener(l net.Listener) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return false
	}
	s.listeners[l] = struct{}{}
	return true
}

func (s *Server) untrackListener(l net.Listener) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.listeners, l)
}

func (s *Server) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.closed
}
