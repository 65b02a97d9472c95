package websocket

import (
	"bufio"
	"io"
	"sync"

	"golang.org/x/xerrors"

	"github.com/sockwire/websocket/internal/errd"
)

// FrameWriter serializes frames onto a stream.
//
// Client writers mask every frame with a fresh key and server writers never
// mask, as RFC 6455 requires. Writes are serialized so a FrameWriter may be
// shared by a connection's reader goroutine, broadcasts and timeout callbacks.
type FrameWriter struct {
	mu           sync.Mutex
	bw           *bufio.Writer
	maskOutgoing bool
}

// NewFrameWriter returns a FrameWriter writing to w.
// maskOutgoing must be true for the client side of a connection.
func NewFrameWriter(w io.Writer, maskOutgoing bool) *FrameWriter {
	bw, ok := w.(*bufio.Writer)
	if !ok {
		bw = bufio.NewWriter(w)
	}
	return &FrameWriter{
		bw:           bw,
		maskOutgoing: maskOutgoing,
	}
}

// WriteFrame writes f as is. Use it to send fragments manually.
func (fw *FrameWriter) WriteFrame(f Frame) error {
	fw.mu.Lock()
	defer fw.mu.Unlock()

	return WriteFrame(fw.bw, f)
}

// Write wraps p into a single frame and writes it.
// Outgoing messages are never fragmented automatically.
func (fw *FrameWriter) Write(fin bool, opcode Opcode, p []byte) error {
	return fw.write(Frame{
		Fin:     fin,
		Opcode:  opcode,
		Payload: p,
	})
}

func (fw *FrameWriter) write(f Frame) (err error) {
	defer errd.Wrap(&err, "failed to write %v frame", f.Opcode)

	if f.Opcode.Control() && len(f.Payload) > maxControlPayload {
		return xerrors.Errorf("payload of %v bytes: %w", len(f.Payload), ErrPayloadTooLarge)
	}

	if fw.maskOutgoing {
		f.Masked = true
		f.MaskingKey = GenerateMaskingKey()
	}

	return fw.WriteFrame(f)
}

// WriteBinary writes p as a single binary message.
func (fw *FrameWriter) WriteBinary(p []byte) error {
	return fw.Write(true, OpBinary, p)
}

// WriteText writes s as a single text message.
func (fw *FrameWriter) WriteText(s string) error {
	return fw.Write(true, OpText, []byte(s))
}

// WriteMessageID writes a text message prefixed with the message id.
func (fw *FrameWriter) WriteMessageID(id, payload string) error {
	return fw.WriteText(id + " " + payload)
}

// Ping writes a ping frame carrying p.
func (fw *FrameWriter) Ping(p []byte) error {
	return fw.Write(true, OpPing, p)
}

// Pong writes a pong frame carrying p.
func (fw *FrameWriter) Pong(p []byte) error {
	return fw.Write(true, OpPong, p)
}

// Close writes a close frame with the given status code and reason.
// StatusNoStatusRcvd writes an empty close frame. A reason longer than
// 123 bytes fails with ErrPayloadTooLarge before anything is written.
func (fw *FrameWriter) Close(code StatusCode, reason string) error {
	p, err := closePayload(code, reason)
	if err != nil {
		return err
	}
	return fw.Write(true, OpClose, p)
}
