package core

import (
	"encoding/json"

	"github.com/dkeye/VoiceCall/internal/domain"
)

// Envelope is the wire format of every signaling message.
// Requests carry an ID; the matching ack echoes it. Pushes have no ID.
type Envelope struct {
	ID    *uint64         `json:"id,omitempty"`
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
	OK    *bool           `json:"ok,omitempty"`
	Error *WireError      `json:"error,omitempty"`
}

type WireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

const EventAck = "ack"

func EncodePush(event string, data any) (Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

func EncodeAck(id uint64, data any) (Frame, error) {
	ok := true
	env := Envelope{ID: &id, Event: EventAck, OK: &ok}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return json.Marshal(env)
}

func EncodeNack(id uint64, err error) (Frame, error) {
	ok := false
	return json.Marshal(Envelope{
		ID:    &id,
		Event: EventAck,
		OK:    &ok,
		Error: &WireError{Code: domain.ErrorCode(err), Message: err.Error()},
	})
}
