package websocket

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"math"
	"math/rand"

	"golang.org/x/xerrors"

	"github.com/sockwire/websocket/internal/bpool"
	"github.com/sockwire/websocket/internal/errd"
)

// First byte contains fin, rsv1, rsv2, rsv3 and the opcode.
// Second byte contains mask flag and payload len.
// Next 8 bytes are the maximum extended payload length.
// Last 4 bytes are the mask key.
// https://tools.ietf.org/html/rfc6455#section-5.2
const maxHeaderSize = 1 + 1 + 8 + 4

// maxControlPayload is the maximum length of a control frame payload.
// See https://tools.ietf.org/html/rfc6455#section-5.5.
const maxControlPayload = 125

// Frame is a single WebSocket frame.
// See https://tools.ietf.org/html/rfc6455#section-5.2.
//
// A decoded Frame holds the unmasked payload. When Masked is set,
// MaskingKey is the key the payload was (or will be) masked with on the wire.
type Frame struct {
	Fin    bool
	RSV1   bool
	RSV2   bool
	RSV3   bool
	Opcode Opcode

	Masked     bool
	MaskingKey []byte

	Payload []byte
}

// PayloadLength returns the length of the frame payload.
func (f Frame) PayloadLength() int64 {
	return int64(len(f.Payload))
}

// ReadFrame reads exactly one frame from r and unmasks its payload.
// It returns io.EOF if r ends cleanly before the first byte of the frame
// and ErrTruncatedFrame if it ends anywhere inside it.
func ReadFrame(r io.Reader) (Frame, error) {
	return readFrame(r, noLimit)
}

// noLimit disables the payload limit of readFrame.
const noLimit = -1

// readFrame reads a frame whose payload may not exceed limit bytes.
func readFrame(r io.Reader, limit int64) (_ Frame, err error) {
	defer errd.Wrap(&err, "failed to read frame")

	// We read the first two bytes first so that we know
	// exactly how long the header is.
	b := make([]byte, maxHeaderSize)
	_, err = io.ReadFull(r, b[:2])
	if err != nil {
		if err == io.ErrUnexpectedEOF {
			return Frame{}, ErrTruncatedFrame
		}
		return Frame{}, err
	}

	var f Frame
	f.Fin = b[0]&(1<<7) != 0
	f.RSV1 = b[0]&(1<<6) != 0
	f.RSV2 = b[0]&(1<<5) != 0
	f.RSV3 = b[0]&(1<<4) != 0
	f.Opcode = Opcode(b[0] & 0xf)

	f.Masked = b[1]&(1<<7) != 0

	var extra int
	if f.Masked {
		extra += 4
	}

	var payloadLength int64
	lengthIndicator := b[1] &^ (1 << 7)
	switch {
	case lengthIndicator < 126:
		payloadLength = int64(lengthIndicator)
	case lengthIndicator == 126:
		extra += 2
	case lengthIndicator == 127:
		extra += 8
	}

	if extra > 0 {
		eb := b[2 : 2+extra]
		err = readFull(r, eb)
		if err != nil {
			return Frame{}, err
		}

		switch lengthIndicator {
		case 126:
			payloadLength = int64(binary.BigEndian.Uint16(eb))
			eb = eb[2:]
		case 127:
			l := binary.BigEndian.Uint64(eb)
			if l > uint64(math.MaxInt) {
				return Frame{}, xerrors.Errorf("payload length %v overflows int: %w", l, ErrInvalidLength)
			}
			payloadLength = int64(l)
			eb = eb[8:]
		}

		if f.Masked {
			f.MaskingKey = append([]byte(nil), eb[:4]...)
		}
	}

	if limit >= 0 && payloadLength > limit {
		return Frame{}, xerrors.Errorf("frame payload of %v bytes exceeds limit of %v: %w", payloadLength, limit, ErrMessageTooBig)
	}

	f.Payload, err = readPayload(r, payloadLength)
	if err != nil {
		return Frame{}, err
	}

	if f.Masked {
		mask(binary.LittleEndian.Uint32(f.MaskingKey), f.Payload)
	}

	return f, nil
}

// payloadChunk caps how much of a declared payload length is allocated
// before the bytes have arrived.
const payloadChunk = 1 << 16

// readPayload reads n payload bytes. The buffer grows with the bytes read
// instead of the length the peer declared.
func readPayload(r io.Reader, n int64) ([]byte, error) {
	if n <= payloadChunk {
		b := make([]byte, n)
		err := readFull(r, b)
		if err != nil {
			return nil, err
		}
		return b, nil
	}

	var buf bytes.Buffer
	buf.Grow(payloadChunk)
	_, err := io.CopyN(&buf, r, n)
	if err != nil {
		if err == io.EOF {
			return nil, ErrTruncatedFrame
		}
		return nil, err
	}
	return buf.Bytes(), nil
}

// readFull is io.ReadFull for the part of a frame after its first byte,
// where any EOF means the frame was truncated.
func readFull(r io.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	if err == io.EOF || err == io.ErrUnexpectedEOF {
		return ErrTruncatedFrame
	}
	return err
}

// Encode returns the wire representation of f.
// When f.Masked is set, the payload is masked into the returned buffer and
// f.Payload is left untouched.
func (f Frame) Encode() ([]byte, error) {
	return f.encode(make([]byte, 0, maxHeaderSize+len(f.Payload)))
}

// encode appends the wire representation of f to b.
func (f Frame) encode(b []byte) ([]byte, error) {
	if f.Masked && len(f.MaskingKey) != 4 {
		return nil, xerrors.Errorf("got key of %v bytes: %w", len(f.MaskingKey), ErrInvalidMask)
	}

	b = f.appendHeader(b)
	b = append(b, f.Payload...)

	if f.Masked {
		mask(binary.LittleEndian.Uint32(f.MaskingKey), b[len(b)-len(f.Payload):])
	}
	return b, nil
}

// appendHeader appends the header bytes of f, including the masking key, to b.
func (f Frame) appendHeader(b []byte) []byte {
	var b0 byte
	if f.Fin {
		b0 |= 1 << 7
	}
	if f.RSV1 {
		b0 |= 1 << 6
	}
	if f.RSV2 {
		b0 |= 1 << 5
	}
	if f.RSV3 {
		b0 |= 1 << 4
	}
	b0 |= byte(f.Opcode) & 0xf

	var b1 byte
	if f.Masked {
		b1 |= 1 << 7
	}

	n := len(f.Payload)
	switch {
	case n <= 125:
		b = append(b, b0, b1|byte(n))
	case n <= math.MaxUint16:
		b = append(b, b0, b1|126)
		b = binary.BigEndian.AppendUint16(b, uint16(n))
	default:
		b = append(b, b0, b1|127)
		b = binary.BigEndian.AppendUint64(b, uint64(n))
	}

	if f.Masked {
		b = append(b, f.MaskingKey...)
	}
	return b
}

// WriteFrame encodes f and writes it to w.
// w is flushed if it is a *bufio.Writer.
func WriteFrame(w io.Writer, f Frame) (err error) {
	defer errd.Wrap(&err, "failed to write frame")

	buf := bpool.Get()
	defer bpool.Put(buf)

	*buf, err = f.encode(*buf)
	if err != nil {
		return err
	}

	_, err = w.Write(*buf)
	if err != nil {
		return err
	}

	if bw, ok := w.(*bufio.Writer); ok {
		return bw.Flush()
	}
	return nil
}

// GenerateMaskingKey returns a new 4 byte masking key.
// Masking only protects intermediaries from cache poisoning so the key
// does not need to come from a cryptographic source.
// See https://tools.ietf.org/html/rfc6455#section-10.3.
func GenerateMaskingKey() []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, rand.Uint32())
	return b
}
