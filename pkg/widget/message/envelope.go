package message

import "encoding/json"

// Direction selects which half of the action union ("widget -> client" or
// "client -> widget") an envelope's action discriminant belongs to.
type Direction string

const (
	FromWidget Direction = "fromWidget"
	ToWidget   Direction = "toWidget"
)

// Kind distinguishes a request payload from a response payload.
type Kind string

const (
	KindRequest  Kind = "request"
	KindResponse Kind = "response"
)

// Empty is the payload for actions that carry no data.
type Empty struct{}

// envelope is the wire shape of every frame exchanged with the widget.
type envelope struct {
	Header Header          `json:"header"`
	API    Direction       `json:"api"`
	Action string          `json:"action"`
	Data   json.RawMessage `json:"data"`
	Kind   Kind            `json:"kind"`
}

// Frame is a decoded envelope with its payload left unparsed, so that the
// caller can decide how to interpret Data based on Action and Kind.
type Frame struct {
	Header Header
	API    Direction
	Action string
	Kind   Kind
	Data   json.RawMessage
}

// Decode parses a raw JSON frame. It never silently reinterprets malformed
// input: any structural problem (bad JSON, missing/unknown api or kind,
// empty action) is reported as an error rather than guessed at.
func Decode(raw []byte) (Frame, error) {
	var e envelope
	if err := json.Unmarshal(raw, &e); err != nil {
		return Frame{}, &DecodeError{Reason: "malformed frame", Cause: err}
	}
	if e.API != FromWidget && e.API != ToWidget {
		return Frame{}, &DecodeError{Reason: "unknown api direction: " + string(e.API)}
	}
	if e.Kind != KindRequest && e.Kind != KindResponse {
		return Frame{}, &DecodeError{Reason: "unknown kind: " + string(e.Kind)}
	}
	if e.Action == "" {
		return Frame{}, &DecodeError{Reason: "missing action"}
	}
	return Frame{Header: e.Header, API: e.API, Action: e.Action, Kind: e.Kind, Data: e.Data}, nil
}

// Encode serializes a frame. payload may be nil, in which case an empty
// object is emitted.
func Encode(header Header, api Direction, action string, kind Kind, payload any) ([]byte, error) {
	var data json.RawMessage
	if payload == nil {
		data = json.RawMessage("{}")
	} else {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		data = encoded
	}

	return json.Marshal(envelope{
		Header: header,
		API:    api,
		Action: action,
		Data:   data,
		Kind:   kind,
	})
}

// DecodeError reports a malformed or unrecognized frame. It is the
// ProtocolError of §7: recovered locally by replying with an error string
// when the header is known, logged otherwise.
type DecodeError struct {
	Reason string
	Cause  error
}

func (e *DecodeError) Error() string {
	if e.Cause != nil {
		return "widget message: " + e.Reason + ": " + e.Cause.Error()
	}
	return "widget message: " + e.Reason
}

func (e *DecodeError) Unwrap() error { return e.Cause }
