package channel

import "encoding/json"

// Frame is the wire envelope both directions: a named event, an optional
// ack correlation id, and an event-specific payload.
type Frame struct {
	Event   string          `json:"event"`
	Ack     int64           `json:"ack,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// EventAck is the reserved event name the server answers join requests
// with, echoing the request's ack id.
const EventAck = "_ack"

// AckPayload is the body of an EventAck frame.
type AckPayload struct {
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// EncodeFrame marshals an outbound frame with its payload.
func EncodeFrame(event string, ack int64, payload interface{}) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Frame{Event: event, Ack: ack, Payload: raw})
}
