package websocket

import (
	"fmt"
	"strings"
)

// PayloadMode selects the payload convention a connection speaks.
// It decides which payload accessors are usable and how the router
// picks a handler for a data message.
type PayloadMode int

// PayloadMode constants.
const (
	// ModeBinary is plain WebSocket. Every data message goes to the default handler.
	ModeBinary PayloadMode = iota
	// ModeText prefixes text messages with a message id, "<id> <payload>".
	ModeText
	// ModeJSON wraps text messages in a JSON envelope, see Envelope.
	ModeJSON
)

func (m PayloadMode) String() string {
	switch m {
	case ModeBinary:
		return "ModeBinary"
	case ModeText:
		return "ModeText"
	case ModeJSON:
		return "ModeJSON"
	}
	return fmt.Sprintf("PayloadMode(%d)", int(m))
}

// splitMessageID splits a "<id> <payload>" text payload.
// ok is false when p carries no id.
func splitMessageID(p string) (id, payload string, ok bool) {
	return strings.Cut(p, " ")
}
