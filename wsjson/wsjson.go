// Package wsjson provides helpers for JSON messages.
package wsjson

import (
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/xerrors"

	"github.com/sockwire/websocket"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Read reads the next data message from c and unmarshals it into v.
// Control messages read meanwhile are handled by c as usual.
func Read(c *websocket.Conn, v interface{}) error {
	err := read(c, v)
	if err != nil {
		return xerrors.Errorf("failed to read json: %w", err)
	}
	return nil
}

func read(c *websocket.Conn, v interface{}) error {
	m, err := nextData(c)
	if err != nil {
		return err
	}

	if m.DataType != websocket.DataText {
		return xerrors.Errorf("unexpected frame type for json (expected %v): %v", websocket.DataText, m.DataType)
	}

	err = json.Unmarshal(m.Payload, v)
	if err != nil {
		return xerrors.Errorf("failed to unmarshal json: %w", err)
	}
	return nil
}

func nextData(c *websocket.Conn) (*websocket.Message, error) {
	for {
		m, err := c.Read()
		if err != nil {
			return nil, err
		}
		if m.Opcode == websocket.OpClose {
			return nil, websocket.ErrClosed
		}
		if m.Opcode.Data() {
			return m, nil
		}
	}
}

// Write writes the json message v to c.
func Write(c *websocket.Conn, v interface{}) error {
	err := write(c, v)
	if err != nil {
		return xerrors.Errorf("failed to write json: %w", err)
	}
	return nil
}

func write(c *websocket.Conn, v interface{}) error {
	b, err := json.Marshal(v)
	if err != nil {
		return xerrors.Errorf("failed to marshal json: %w", err)
	}
	return c.Write(websocket.DataText, b)
}
