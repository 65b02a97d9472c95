// Package wspb provides helpers for protobuf messages.
package wspb

import (
	"github.com/golang/protobuf/proto"
	"golang.org/x/xerrors"

	"github.com/sockwire/websocket"
)

// Read reads the next data message from c and unmarshals it into v.
func Read(c *websocket.Conn, v proto.Message) error {
	err := read(c, v)
	if err != nil {
		return xerrors.Errorf("failed to read protobuf: %w", err)
	}
	return nil
}

func read(c *websocket.Conn, v proto.Message) error {
	var m *websocket.Message
	for m == nil {
		next, err := c.Read()
		if err != nil {
			return err
		}
		switch {
		case next.Opcode == websocket.OpClose:
			return websocket.ErrClosed
		case next.Opcode.Data():
			m = next
		}
	}

	if m.DataType != websocket.DataBinary {
		return xerrors.Errorf("unexpected frame type for protobuf (expected %v): %v", websocket.DataBinary, m.DataType)
	}

	err := proto.Unmarshal(m.Payload, v)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal protobuf: %w", err)
	}
	return nil
}

// Write writes the protobuf message v to c.
func Write(c *websocket.Conn, v proto.Message) error {
	err := write(c, v)
	if err != nil {
		return xerrors.Errorf("failed to write protobuf: %w", err)
	}
	return nil
}

func write(c *websocket.Conn, v proto.Message) error {
	b, err := proto.Marshal(v)
	if err != nil {
		return xerrors.Errorf("failed to marshal protobuf: %w", err)
	}
	return c.WriteBinary(b)
}
