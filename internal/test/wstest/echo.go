package wstest

import (
	"errors"

	"github.com/sockwire/websocket"
)

// EchoLoop writes every data message read from c back to it
// until the connection is closed.
func EchoLoop(c *websocket.Conn) error {
	for {
		m, err := c.Read()
		if err != nil {
			if errors.Is(err, websocket.ErrClosed) {
				return nil
			}
			return err
		}
		if !m.Opcode.Data() {
			continue
		}

		err = c.Write(m.DataType, m.Payload)
		if err != nil {
			return err
		}
	}
}
