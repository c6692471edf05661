// Package message implements the JSON wire framing shared by every widget
// API action: the envelope carrying a header, a direction tag, an action
// discriminant, and a request/response payload.
package message

import (
	"encoding/json"
	"errors"
)

// ErrMissingHeaderID is returned when a header object has no "id" field.
var ErrMissingHeaderID = errors.New("widget message: header missing \"id\"")

// Header is the envelope's opaque correlation identifier. Only "id" is
// interpreted; any other fields present on the wire are preserved verbatim
// so that a response can echo the request's exact header, as required by
// the header round-trip invariant.
type Header struct {
	ID    string
	Extra map[string]json.RawMessage
}

// NewHeader creates a header carrying only an id, no extra fields.
func NewHeader(id string) Header {
	return Header{ID: id}
}

// MarshalJSON implements json.Marshaler.
func (h Header) MarshalJSON() ([]byte, error) {
	m := make(map[string]json.RawMessage, len(h.Extra)+1)
	for k, v := range h.Extra {
		m[k] = v
	}
	id, err := json.Marshal(h.ID)
	if err != nil {
		return nil, err
	}
	m["id"] = id
	return json.Marshal(m)
}

// UnmarshalJSON implements json.Unmarshaler.
func (h *Header) UnmarshalJSON(data []byte) error {
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return err
	}

	idRaw, ok := m["id"]
	if !ok {
		return ErrMissingHeaderID
	}

	var id string
	if err := json.Unmarshal(idRaw, &id); err != nil {
		return err
	}

	delete(m, "id")
	h.ID = id
	if len(m) > 0 {
		h.Extra = m
	} else {
		h.Extra = nil
	}
	return nil
}
