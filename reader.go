package websocket

import (
	"errors"
	"io"

	"golang.org/x/xerrors"

	"github.com/sockwire/websocket/internal/errd"
)

// Message is one logical message reassembled from one or more frames.
type Message struct {
	// Opcode is the opcode of the first frame.
	Opcode Opcode
	// DataType is only meaningful when Opcode is OpText or OpBinary.
	DataType DataType
	// Payload is the concatenation of every frame payload in arrival order.
	Payload []byte
	// Frames holds the frames that made up the message.
	Frames []Frame
}

// StartFrame returns the first frame of the message.
func (m *Message) StartFrame() Frame {
	if len(m.Frames) == 0 {
		return Frame{}
	}
	return m.Frames[0]
}

// MessageReader reassembles messages from a stream of frames.
// It is not safe for concurrent use.
type MessageReader struct {
	r     io.Reader
	limit int64
}

// NewMessageReader returns a MessageReader reading frames from r.
func NewMessageReader(r io.Reader) *MessageReader {
	return &MessageReader{
		r: r,
	}
}

// SetLimit sets the max number of bytes of a single message.
// A limit <= 0, the default, disables the check.
func (mr *MessageReader) SetLimit(n int64) {
	mr.limit = n
}

// ReadMessage reads a single message from r.
func ReadMessage(r io.Reader) (*Message, error) {
	return NewMessageReader(r).Read()
}

// Read blocks until a complete message is read.
//
// Control frames are a message on their own. A data frame without fin is
// followed by continuation frames until one has fin set; any other frame in
// between fails with ErrUnexpectedFrame as messages may not be interleaved.
// Frames with reserved opcodes are returned as a single frame message and
// left for the caller to ignore.
func (mr *MessageReader) Read() (_ *Message, err error) {
	defer errd.Wrap(&err, "failed to read message")

	f, err := readFrame(mr.r, mr.remaining(0))
	if err != nil {
		return nil, err
	}

	if f.Opcode == OpContinuation {
		return nil, xerrors.Errorf("received continuation frame without text or binary frame: %w", ErrUnexpectedFrame)
	}

	m := &Message{
		Opcode:  f.Opcode,
		Payload: f.Payload,
		Frames:  []Frame{f},
	}

	switch {
	case f.Opcode.Control():
		if !f.Fin {
			return nil, xerrors.Errorf("received fragmented control frame %v: %w", f.Opcode, ErrUnexpectedFrame)
		}
		if len(f.Payload) > maxControlPayload {
			return nil, xerrors.Errorf("received control frame %v with payload of %v bytes: %w", f.Opcode, len(f.Payload), ErrUnexpectedFrame)
		}
		return m, nil
	case f.Opcode.Reserved():
		return m, nil
	}

	m.DataType = DataType(f.Opcode - 1)

	for !f.Fin {
		f, err = readFrame(mr.r, mr.remaining(int64(len(m.Payload))))
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil, xerrors.Errorf("stream ended inside a fragmented message: %w", ErrTruncatedFrame)
			}
			return nil, err
		}
		if f.Opcode != OpContinuation {
			return nil, xerrors.Errorf("received %v frame before the previous message finished: %w", f.Opcode, ErrUnexpectedFrame)
		}

		m.Payload = append(m.Payload, f.Payload...)
		m.Frames = append(m.Frames, f)
	}

	return m, nil
}

// remaining returns the payload limit of the next frame given that read
// bytes of the message were already read.
func (mr *MessageReader) remaining(read int64) int64 {
	if mr.limit <= 0 {
		return noLimit
	}
	if read >= mr.limit {
		return 0
	}
	return mr.limit - read
}
