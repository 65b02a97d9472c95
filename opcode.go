package websocket

import "fmt"

// Opcode represents a WebSocket opcode.
// See https://tools.ietf.org/html/rfc6455#section-11.8.
type Opcode int

// Opcode constants.
const (
	OpContinuation Opcode = iota
	OpText
	OpBinary
	// 3 - 7 are reserved for further non-control frames.
	_
	_
	_
	_
	_
	OpClose
	OpPing
	OpPong
	// 11-16 are reserved for further control frames.
)

// Control reports whether o is a control opcode.
func (o Opcode) Control() bool {
	switch o {
	case OpClose, OpPing, OpPong:
		return true
	}
	return false
}

// Data reports whether o starts a data message.
func (o Opcode) Data() bool {
	switch o {
	case OpText, OpBinary:
		return true
	}
	return false
}

// Reserved reports whether o is one of the opcodes RFC 6455 leaves unused.
// Frames with reserved opcodes are decoded as-is and ignored by Conn.
func (o Opcode) Reserved() bool {
	return o != OpContinuation && !o.Data() && !o.Control()
}

func (o Opcode) String() string {
	switch o {
	case OpContinuation:
		return "OpContinuation"
	case OpText:
		return "OpText"
	case OpBinary:
		return "OpBinary"
	case OpClose:
		return "OpClose"
	case OpPing:
		return "OpPing"
	case OpPong:
		return "OpPong"
	}
	return fmt.Sprintf("Opcode(%d)", int(o))
}

// DataType is the type of a data message.
// It is the opcode of the message's first frame minus one.
type DataType int

// DataType constants.
const (
	// DataText is for UTF-8 encoded text messages like JSON.
	DataText DataType = iota
	// DataBinary is for binary messages like protobufs.
	DataBinary
)

func (dt DataType) String() string {
	switch dt {
	case DataText:
		return "DataText"
	case DataBinary:
		return "DataBinary"
	}
	return fmt.Sprintf("DataType(%d)", int(dt))
}

func (dt DataType) opcode() Opcode {
	return Opcode(dt + 1)
}
