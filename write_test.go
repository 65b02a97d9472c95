package websocket

import (
	"bytes"
	"encoding/hex"
	"strings"
	"testing"

	"github.com/sockwire/websocket/internal/test/assert"
)

func TestFrameWriter(t *testing.T) {
	t.Parallel()

	t.Run("serverDoesNotMask", func(t *testing.T) {
		t.Parallel()

		b := &bytes.Buffer{}
		fw := NewFrameWriter(b, false)
		err := fw.WriteText("Hello")
		assert.Success(t, err)
		assert.Equal(t, "wire", "810548656c6c6f", hex.EncodeToString(b.Bytes()))
	})

	t.Run("clientMasks", func(t *testing.T) {
		t.Parallel()

		b := &bytes.Buffer{}
		fw := NewFrameWriter(b, true)
		for i := 0; i < 2; i++ {
			err := fw.WriteBinary([]byte("Hello"))
			assert.Success(t, err)
		}

		for i := 0; i < 2; i++ {
			f, err := ReadFrame(b)
			assert.Success(t, err)
			assert.Equal(t, "masked", true, f.Masked)
			assert.Equal(t, "key length", 4, len(f.MaskingKey))
			assert.Equal(t, "payload", "Hello", string(f.Payload))
		}
		// Masked payloads on the wire must not leak the plain text.
		assert.Equal(t, "plain text on wire", false, bytes.Contains(b.Bytes(), []byte("Hello")))
	})

	t.Run("messageID", func(t *testing.T) {
		t.Parallel()

		b := &bytes.Buffer{}
		fw := NewFrameWriter(b, false)
		err := fw.WriteMessageID("chat", "hi there")
		assert.Success(t, err)

		f, err := ReadFrame(b)
		assert.Success(t, err)
		assert.Equal(t, "frame", Frame{
			Fin:     true,
			Opcode:  OpText,
			Payload: []byte("chat hi there"),
		}, f)
	})

	t.Run("fragments", func(t *testing.T) {
		t.Parallel()

		b := &bytes.Buffer{}
		fw := NewFrameWriter(b, true)
		assert.Success(t, fw.Write(false, OpText, []byte("Hello, ")))
		assert.Success(t, fw.Write(true, OpContinuation, []byte("world")))

		m, err := ReadMessage(b)
		assert.Success(t, err)
		assert.Equal(t, "payload", "Hello, world", string(m.Payload))
	})
}

func TestFrameWriterControl(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name  string
		write func(fw *FrameWriter) error
		wire  string
		err   error
	}{
		{
			name: "ping",
			write: func(fw *FrameWriter) error {
				return fw.Ping([]byte("1"))
			},
			wire: "890131",
		},
		{
			name: "pong",
			write: func(fw *FrameWriter) error {
				return fw.Pong(nil)
			},
			wire: "8a00",
		},
		{
			name: "closeEmpty",
			write: func(fw *FrameWriter) error {
				return fw.Close(StatusNoStatusRcvd, "")
			},
			wire: "8800",
		},
		{
			name: "closeStatus",
			write: func(fw *FrameWriter) error {
				return fw.Close(StatusNormalClosure, "bye")
			},
			wire: "880503e8627965",
		},
		{
			name: "closeMaxReason",
			write: func(fw *FrameWriter) error {
				return fw.Close(StatusGoingAway, strings.Repeat("x", 123))
			},
			wire: "887d03e9" + hex.EncodeToString([]byte(strings.Repeat("x", 123))),
		},
		{
			name: "closeReasonTooLong",
			write: func(fw *FrameWriter) error {
				return fw.Close(StatusNormalClosure, strings.Repeat("x", 124))
			},
			err: ErrPayloadTooLarge,
		},
		{
			name: "pingTooLarge",
			write: func(fw *FrameWriter) error {
				return fw.Ping(make([]byte, 126))
			},
			err: ErrPayloadTooLarge,
		},
		{
			name: "closeReservedCode",
			write: func(fw *FrameWriter) error {
				return fw.Close(StatusAbnormalClosure, "")
			},
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			b := &bytes.Buffer{}
			fw := NewFrameWriter(b, false)
			err := tc.write(fw)
			if tc.wire == "" {
				assert.Error(t, err)
				if tc.err != nil {
					assert.ErrorIs(t, tc.err, err)
				}
				assert.Equal(t, "bytes written", 0, b.Len())
				return
			}
			assert.Success(t, err)
			assert.Equal(t, "wire", tc.wire, hex.EncodeToString(b.Bytes()))
		})
	}
}
