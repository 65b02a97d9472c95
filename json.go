package websocket

import (
	jsoniter "github.com/json-iterator/go"
	"golang.org/x/xerrors"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Envelope is the text payload of a ModeJSON message.
type Envelope struct {
	MessageID string              `json:"messageID"`
	Data      jsoniter.RawMessage `json:"__data"`
}

func encodeEnvelope(id string, v interface{}) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal payload: %w", err)
	}
	b, err := json.Marshal(Envelope{
		MessageID: id,
		Data:      data,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to marshal envelope: %w", err)
	}
	return b, nil
}

func decodeEnvelope(p []byte) (Envelope, error) {
	var e Envelope
	err := json.Unmarshal(p, &e)
	if err != nil {
		return Envelope{}, xerrors.Errorf("failed to unmarshal envelope: %w", err)
	}
	return e, nil
}
