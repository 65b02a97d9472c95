package websocket

import (
	"errors"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/xerrors"
)

// HandlerDefault is the id of the handler used for messages without a
// registered id.
const HandlerDefault = ""

// HandlerFunc handles the message last read from c, see Conn.Message.
type HandlerFunc func(c *Conn)

// Router maps message ids to handlers.
//
// In ModeText the id is the first space separated token of a text message,
// in ModeJSON it is the messageID of the envelope. Messages with an unknown
// id and every message in ModeBinary go to the default handler.
type Router struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc

	onConnect HandlerFunc
	onPing    HandlerFunc
	onClose   HandlerFunc
}

// NewRouter returns an empty Router.
func NewRouter() *Router {
	return &Router{
		handlers: make(map[string]HandlerFunc),
	}
}

// Handle registers h for messages identified by id.
// Registering an id twice fails with ErrDuplicateHandler.
func (r *Router) Handle(id string, h HandlerFunc) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.handlers[id]; ok {
		return xerrors.Errorf("handler %q: %w", id, ErrDuplicateHandler)
	}
	r.handlers[id] = h
	return nil
}

// HandleDefault registers the default handler.
func (r *Router) HandleDefault(h HandlerFunc) error {
	return r.Handle(HandlerDefault, h)
}

// OnConnect registers h to be called when a connection starts being served.
func (r *Router) OnConnect(h HandlerFunc) {
	r.mu.Lock()
	r.onConnect = h
	r.mu.Unlock()
}

// OnPing registers h to be called after a ping was handled.
// Use Conn.SetPingHandler to replace the automatic pong.
func (r *Router) OnPing(h HandlerFunc) {
	r.mu.Lock()
	r.onPing = h
	r.mu.Unlock()
}

// OnClose registers h to be called once a served connection is closed.
func (r *Router) OnClose(h HandlerFunc) {
	r.mu.Lock()
	r.onClose = h
	r.mu.Unlock()
}

// Dispatch calls the handler registered for id with c,
// falling back to the default handler.
func (r *Router) Dispatch(id string, c *Conn) {
	r.mu.RLock()
	h, ok := r.handlers[id]
	if !ok {
		h = r.handlers[HandlerDefault]
	}
	r.mu.RUnlock()

	if h != nil {
		h(c)
	}
}

func (r *Router) hook(c *Conn, get func() HandlerFunc) {
	r.mu.RLock()
	h := get()
	r.mu.RUnlock()

	if h != nil {
		h(c)
	}
}

// route returns the handler id of m.
func (r *Router) route(c *Conn, m *Message) (string, error) {
	if m.Opcode != OpText {
		return HandlerDefault, nil
	}

	switch c.Mode() {
	case ModeText:
		id, _, ok := splitMessageID(string(m.Payload))
		if !ok {
			return HandlerDefault, nil
		}
		return id, nil
	case ModeJSON:
		e, err := decodeEnvelope(m.Payload)
		if err != nil {
			return "", err
		}
		return e.MessageID, nil
	default:
		return HandlerDefault, nil
	}
}

// serve reads from c and dispatches until the connection is closed.
// wait, if set, is called before every data message is dispatched.
func (r *Router) serve(c *Conn, wait func() error) error {
	c.OnClose(func(c *Conn) {
		r.hook(c, func() HandlerFunc { return r.onClose })
	})
	r.hook(c, func() HandlerFunc { return r.onConnect })

	for {
		m, err := c.Read()
		if err != nil {
			if errors.Is(err, ErrClosed) {
				return nil
			}
			return err
		}

		switch m.Opcode {
		case OpPing:
			r.hook(c, func() HandlerFunc { return r.onPing })
			continue
		case OpPong:
			continue
		case OpClose:
			return nil
		}

		if c.State() != StateOpen {
			// Closing, the peer's acknowledgement is all that matters.
			continue
		}

		if wait != nil {
			err = wait()
			if err != nil {
				return err
			}
		}

		id, err := r.route(c, m)
		if err != nil {
			c.log.Info("closing connection after malformed JSON envelope", zap.Error(err))
			err = c.Shutdown(StatusInvalidFramePayloadData, "malformed JSON envelope")
			if err != nil && !errors.Is(err, ErrClosed) {
				return err
			}
			continue
		}
		r.Dispatch(id, c)
	}
}

// Listen serves c with r until the connection is closed.
// It is the client side counterpart of Server.
func (c *Conn) Listen(r *Router) error {
	return r.serve(c, nil)
}
