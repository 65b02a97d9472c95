package websocket

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/xerrors"

	"github.com/sockwire/websocket/internal/errd"
)

// ConnState is the state of a Conn.
type ConnState int32

// ConnState constants.
const (
	StateHandshaking ConnState = iota
	StateOpen
	StateClosing
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateHandshaking:
		return "StateHandshaking"
	case StateOpen:
		return "StateOpen"
	case StateClosing:
		return "StateClosing"
	case StateClosed:
		return "StateClosed"
	}
	return fmt.Sprintf("ConnState(%d)", int(s))
}

const defaultCloseTimeout = 10 * time.Second

// PingHandler replaces the automatic pong reply to a ping.
// It runs on the goroutine reading from the connection.
type PingHandler func(c *Conn, payload []byte) error

// Conn represents a WebSocket connection.
//
// Read, Ping, Close and CloseWithStatus read from the connection and must only
// be called from the one goroutine that owns it. The Write methods, Shutdown
// and the accessors that do not touch the last message may be called
// concurrently.
//
// Ping and Close arm a timeout that force closes the socket if the peer does
// not answer. Closing happens exactly once; the close callbacks fire once too.
type Conn struct {
	id           string
	client       bool
	subprotocol  string
	mode         PayloadMode
	log          *zap.Logger
	netConn      net.Conn
	closeTimeout time.Duration
	metrics      *metrics

	fw *FrameWriter
	mr *MessageReader

	mu          sync.Mutex
	state       ConnState
	timer       *time.Timer
	onClose     []func(*Conn)
	pingHandler PingHandler

	closeOnce sync.Once
	closed    chan struct{}

	pingCounter int32

	// Owned by the reading goroutine.
	pending []*Message
	msg     *Message
}

type connConfig struct {
	client       bool
	subprotocol  string
	mode         PayloadMode
	netConn      net.Conn
	br           *bufio.Reader
	bw           *bufio.Writer
	closeTimeout time.Duration
	readLimit    int64
	logger       *zap.Logger
	metrics      *metrics
}

func newConn(cfg connConfig) *Conn {
	c := &Conn{
		id:           uuid.NewString(),
		client:       cfg.client,
		subprotocol:  cfg.subprotocol,
		mode:         cfg.mode,
		netConn:      cfg.netConn,
		closeTimeout: cfg.closeTimeout,
		metrics:      cfg.metrics,
		state:        StateHandshaking,
		closed:       make(chan struct{}),
	}
	if c.closeTimeout <= 0 {
		c.closeTimeout = defaultCloseTimeout
	}

	logger := cfg.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	c.log = logger.With(zap.String("conn", c.id), zap.Bool("client", c.client))

	c.fw = NewFrameWriter(cfg.bw, c.client)
	c.mr = NewMessageReader(cfg.br)
	c.mr.SetLimit(cfg.readLimit)

	return c
}

func (c *Conn) open() {
	c.mu.Lock()
	c.state = StateOpen
	c.mu.Unlock()

	c.log.Debug("connection open",
		zap.Stringer("remote", c.netConn.RemoteAddr()),
		zap.String("subprotocol", c.subprotocol),
		zap.Stringer("mode", c.mode),
	)
}

// ID returns a unique id for the connection. It is attached to every log line.
func (c *Conn) ID() string {
	return c.id
}

// Subprotocol returns the negotiated subprotocol.
// An empty string means the default protocol.
func (c *Conn) Subprotocol() string {
	return c.subprotocol
}

// Mode returns the payload convention of the connection.
func (c *Conn) Mode() PayloadMode {
	return c.mode
}

// RemoteAddr returns the address of the peer.
func (c *Conn) RemoteAddr() net.Addr {
	return c.netConn.RemoteAddr()
}

// State returns the current state of the connection.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Done returns a channel that is closed once the connection is closed.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// SetPingHandler installs h in place of the automatic pong reply.
// A nil h restores the automatic reply.
func (c *Conn) SetPingHandler(h PingHandler) {
	c.mu.Lock()
	c.pingHandler = h
	c.mu.Unlock()
}

// OnClose registers fn to be called once the connection is closed.
// fn is called immediately if the connection is already closed.
func (c *Conn) OnClose(fn func(*Conn)) {
	c.mu.Lock()
	if c.state != StateClosed {
		c.onClose = append(c.onClose, fn)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	fn(c)
}

// Read reads the next message.
//
// Pings are answered and returned, pongs are returned as is and a close frame
// from the peer is echoed before the socket is closed and the close message is
// returned. Frames with reserved opcodes are skipped. Once the connection is
// closed Read returns an error wrapping ErrClosed.
//
// Any protocol violation by the peer closes the connection, a courtesy close
// frame is sent first when possible.
func (c *Conn) Read() (*Message, error) {
	if len(c.pending) > 0 {
		m := c.pending[0]
		c.pending = c.pending[1:]
		c.msg = m
		return m, nil
	}

	for {
		m, err := c.next()
		if err != nil {
			return nil, err
		}
		if m.Opcode.Reserved() {
			c.log.Debug("ignoring frame with reserved opcode", zap.Stringer("opcode", m.Opcode))
			continue
		}
		c.msg = m
		return m, nil
	}
}

// next reads a message and runs the control frame logic on it.
func (c *Conn) next() (*Message, error) {
	if c.State() == StateClosed {
		return nil, ErrClosed
	}

	m, err := c.mr.Read()
	if err != nil {
		return nil, c.readError(err)
	}
	c.metrics.message(m.Opcode)

	switch m.Opcode {
	case OpPing:
		err = c.handlePing(m.Payload)
	case OpClose:
		err = c.handleClose(m.Payload)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func (c *Conn) readError(err error) error {
	if c.State() == StateClosed {
		// The socket was closed under the reader by a timeout or a close.
		c.log.Debug("read interrupted by close", zap.Error(err))
		return ErrClosed
	}

	switch {
	case errors.Is(err, io.EOF):
		c.closeNow()
		return xerrors.Errorf("peer went away without a close frame: %w", ErrClosed)
	case errors.Is(err, ErrMessageTooBig):
		c.fail(StatusMessageTooBig, "")
	case errors.Is(err, ErrUnexpectedFrame), errors.Is(err, ErrTruncatedFrame), errors.Is(err, ErrInvalidLength):
		c.fail(StatusProtocolError, "")
	default:
		c.closeNow()
	}
	return err
}

func (c *Conn) handlePing(p []byte) error {
	c.mu.Lock()
	h := c.pingHandler
	c.mu.Unlock()

	if h != nil {
		return h(c, p)
	}

	err := c.fw.Pong(p)
	if err != nil {
		return c.writeError(err)
	}
	return nil
}

func (c *Conn) handleClose(p []byte) error {
	ce, err := parseClosePayload(p)
	if err != nil {
		c.fail(StatusProtocolError, "")
		return xerrors.Errorf("received invalid close payload: %w", err)
	}

	c.mu.Lock()
	acknowledgement := c.state == StateClosing
	c.state = StateClosing
	c.mu.Unlock()

	c.log.Debug("received close frame",
		zap.Stringer("code", ce.Code),
		zap.String("reason", ce.Reason),
		zap.Bool("acknowledgement", acknowledgement),
	)

	if !acknowledgement {
		c.netConn.SetWriteDeadline(time.Now().Add(c.closeTimeout))
		err = c.fw.Close(ce.Code, "")
		if err != nil {
			c.log.Debug("failed to echo close frame", zap.Error(err))
		}
	}

	c.closeNow()
	return nil
}

// Ping sends a ping and blocks until the peer answers it with a pong.
//
// Data messages read while waiting are queued for the following Read calls.
// If no pong arrives within the close timeout the socket is force closed and
// Ping returns an error wrapping ErrClosed, the same error every other method
// returns on a closed connection. Callers that only care about liveness can
// filter it with errors.Is(err, ErrClosed).
func (c *Conn) Ping() (err error) {
	defer errd.Wrap(&err, "failed to ping")

	if c.State() != StateOpen {
		return ErrClosed
	}

	p := strconv.Itoa(int(atomic.AddInt32(&c.pingCounter, 1)))

	c.armTimer()
	err = c.fw.Ping([]byte(p))
	if err != nil {
		return c.writeError(err)
	}

	for {
		m, err := c.next()
		if err != nil {
			return err
		}

		switch {
		case m.Opcode == OpPong && string(m.Payload) == p:
			c.cancelPingTimer()
			return nil
		case m.Opcode == OpClose:
			return ErrClosed
		case m.Opcode.Data():
			c.pending = append(c.pending, m)
		}
	}
}

// Close sends an empty close frame and waits for the peer's acknowledgement.
// See CloseWithStatus.
func (c *Conn) Close() error {
	return c.CloseWithStatus(StatusNoStatusRcvd, "")
}

// CloseWithStatus sends a close frame with the given status code and reason
// and then waits for the peer's close frame or the close timeout, whichever
// comes first, before closing the socket.
//
// The reason may not be longer than 123 bytes, a longer reason fails with
// ErrPayloadTooLarge before anything is written. Closing an already closed
// connection is a no-op.
func (c *Conn) CloseWithStatus(code StatusCode, reason string) (err error) {
	defer errd.Wrap(&err, "failed to close WebSocket")

	err = c.Shutdown(code, reason)
	if err != nil && !errors.Is(err, ErrClosed) {
		return err
	}

	for c.State() != StateClosed {
		m, err := c.next()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}
		if m.Opcode == OpClose {
			return nil
		}
	}
	return nil
}

// Shutdown starts the closing handshake without waiting for the peer.
//
// It may be called from any goroutine. The goroutine reading from the
// connection observes the peer's acknowledgement and closes the socket,
// otherwise the close timeout does.
func (c *Conn) Shutdown(code StatusCode, reason string) error {
	p, err := closePayload(code, reason)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.state != StateOpen {
		c.mu.Unlock()
		return ErrClosed
	}
	c.state = StateClosing
	c.mu.Unlock()

	c.armTimer()
	err = c.fw.Write(true, OpClose, p)
	if err != nil {
		c.closeNow()
		return xerrors.Errorf("failed to write close frame: %w", err)
	}
	return nil
}

// fail sends a best effort close frame and closes the socket without waiting.
func (c *Conn) fail(code StatusCode, reason string) {
	c.mu.Lock()
	sendClose := c.state == StateOpen
	c.state = StateClosing
	c.mu.Unlock()

	if sendClose {
		c.netConn.SetWriteDeadline(time.Now().Add(time.Second))
		err := c.fw.Close(code, reason)
		if err != nil {
			c.log.Debug("failed to write courtesy close frame", zap.Error(err))
		}
	}
	c.closeNow()
}

func (c *Conn) armTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
	}
	c.timer = time.AfterFunc(c.closeTimeout, c.timeout)
}

// cancelPingTimer stops the ping timer unless a close armed it meanwhile.
func (c *Conn) cancelPingTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateOpen && c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Conn) stopTimer() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}

func (c *Conn) timeout() {
	if c.State() == StateClosed {
		return
	}
	c.log.Debug("timed out waiting for the peer", zap.Duration("timeout", c.closeTimeout))
	c.fail(StatusPolicyViolation, "timed out")
}

// closeNow closes the socket and fires the close callbacks.
// Only the first call has an effect.
func (c *Conn) closeNow() {
	c.closeOnce.Do(func() {
		c.stopTimer()

		c.mu.Lock()
		c.state = StateClosed
		callbacks := c.onClose
		c.onClose = nil
		c.mu.Unlock()

		close(c.closed)

		err := c.netConn.Close()
		if err != nil {
			c.log.Debug("failed to close net.Conn", zap.Error(err))
		}
		c.log.Debug("connection closed")

		for _, fn := range callbacks {
			fn(c)
		}
	})
}

func (c *Conn) writeError(err error) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	if errors.Is(err, ErrPayloadTooLarge) || errors.Is(err, ErrInvalidMask) {
		return err
	}
	c.closeNow()
	return err
}

func (c *Conn) write(fn func(fw *FrameWriter) error) error {
	if c.State() != StateOpen {
		return ErrClosed
	}
	err := fn(c.fw)
	if err != nil {
		return c.writeError(err)
	}
	return nil
}

// WriteFrame writes f as is. Use it to send fragmented messages manually.
// Client connections must set the mask themselves.
func (c *Conn) WriteFrame(f Frame) error {
	return c.write(func(fw *FrameWriter) error {
		return fw.WriteFrame(f)
	})
}

// Write writes p as a single message of the given type.
func (c *Conn) Write(typ DataType, p []byte) error {
	return c.write(func(fw *FrameWriter) error {
		return fw.Write(true, typ.opcode(), p)
	})
}

// WriteText writes s as a single text message.
func (c *Conn) WriteText(s string) error {
	return c.write(func(fw *FrameWriter) error {
		return fw.WriteText(s)
	})
}

// WriteBinary writes p as a single binary message.
func (c *Conn) WriteBinary(p []byte) error {
	return c.write(func(fw *FrameWriter) error {
		return fw.WriteBinary(p)
	})
}

// WriteMessageID writes payload as a text message identified by id.
// It is only available in ModeText.
func (c *Conn) WriteMessageID(id, payload string) error {
	if c.mode != ModeText {
		return xerrors.Errorf("cannot write message ids in %v: %w", c.mode, ErrUsage)
	}
	return c.write(func(fw *FrameWriter) error {
		return fw.WriteMessageID(id, payload)
	})
}

// WriteJSON writes v wrapped in an Envelope identified by id.
// It is only available in ModeJSON.
func (c *Conn) WriteJSON(id string, v interface{}) error {
	if c.mode != ModeJSON {
		return xerrors.Errorf("cannot write JSON envelopes in %v: %w", c.mode, ErrUsage)
	}
	p, err := encodeEnvelope(id, v)
	if err != nil {
		return err
	}
	return c.write(func(fw *FrameWriter) error {
		return fw.Write(true, OpText, p)
	})
}

// Message returns the last message returned by Read.
func (c *Conn) Message() *Message {
	return c.msg
}

func (c *Conn) lastMessage() (*Message, error) {
	if c.msg == nil {
		return nil, xerrors.Errorf("no message has been read: %w", ErrUsage)
	}
	return c.msg, nil
}

// BytePayload returns the payload of the last message.
// It is only available in ModeBinary.
func (c *Conn) BytePayload() ([]byte, error) {
	if c.mode != ModeBinary {
		return nil, xerrors.Errorf("cannot read the payload as bytes in %v: %w", c.mode, ErrUsage)
	}
	m, err := c.lastMessage()
	if err != nil {
		return nil, err
	}
	return m.Payload, nil
}

// Payload returns the payload of the last message as a string.
// In ModeText the message id prefix is included, see MessageID.
// It is not available in ModeJSON.
func (c *Conn) Payload() (string, error) {
	if c.mode == ModeJSON {
		return "", xerrors.Errorf("cannot read the payload as a string in %v: %w", c.mode, ErrUsage)
	}
	m, err := c.lastMessage()
	if err != nil {
		return "", err
	}
	return string(m.Payload), nil
}

// MessageID returns the message id of the last message.
// It is not available in ModeBinary.
func (c *Conn) MessageID() (string, error) {
	m, err := c.lastMessage()
	if err != nil {
		return "", err
	}

	switch c.mode {
	case ModeText:
		id, _, ok := splitMessageID(string(m.Payload))
		if !ok {
			return "", nil
		}
		return id, nil
	case ModeJSON:
		e, err := decodeEnvelope(m.Payload)
		if err != nil {
			return "", err
		}
		return e.MessageID, nil
	default:
		return "", xerrors.Errorf("messages carry no id in %v: %w", c.mode, ErrUsage)
	}
}

// FullJSONPayload returns the envelope of the last message.
// It is only available in ModeJSON.
func (c *Conn) FullJSONPayload() (Envelope, error) {
	if c.mode != ModeJSON {
		return Envelope{}, xerrors.Errorf("cannot read the payload as JSON in %v: %w", c.mode, ErrUsage)
	}
	m, err := c.lastMessage()
	if err != nil {
		return Envelope{}, err
	}
	return decodeEnvelope(m.Payload)
}

// JSONPayload decodes the data of the last message's envelope into v.
// It is only available in ModeJSON.
func (c *Conn) JSONPayload(v interface{}) error {
	e, err := c.FullJSONPayload()
	if err != nil {
		return err
	}
	err = json.Unmarshal(e.Data, v)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal envelope data: %w", err)
	}
	return nil
}
