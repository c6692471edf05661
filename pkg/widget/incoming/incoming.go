// Package incoming is the explicit discriminated union of fromWidget
// requests. Deliberately not generic: each action gets a concrete type and
// a concrete constructor, matching the state machine's own preference for
// explicit control flow over metaprogramming.
package incoming

import (
	"encoding/json"

	"github.com/kandev/widgetd/internal/werr"
	"github.com/kandev/widgetd/pkg/widget/message"
)

// Action discriminants, the "action" field of a fromWidget request.
const (
	ActionSupportedAPIVersions = "supported_api_versions"
	ActionContentLoaded        = "content_loaded"
	ActionGetOpenID            = "get_openid"
	ActionSendEvent            = "send_event"
	ActionReadEvent            = "read_event"
)

// Request is satisfied by every concrete fromWidget request type. Ok/Fail
// produce the response frame for that request, keeping the header and
// action discriminant binding in one place next to the payload type that
// needs it.
type Request interface {
	Header() message.Header
	Action() string
	Fail(errMessage string) ([]byte, error)
}

type base struct {
	hdr    message.Header
	action string
}

func (b base) Header() message.Header { return b.hdr }
func (b base) Action() string         { return b.action }

func (b base) Fail(errMessage string) ([]byte, error) {
	return message.EncodeErr(b.hdr, message.FromWidget, b.action, errMessage)
}

// GetSupportedAPIVersionRequest carries no data; it is the one request the
// machine answers outside the normal dispatch loop.
type GetSupportedAPIVersionRequest struct {
	base
}

// Ok replies with the list of api versions this implementation supports.
func (r GetSupportedAPIVersionRequest) Ok(versions []string) ([]byte, error) {
	return message.EncodeOk(r.hdr, message.FromWidget, r.action, struct {
		SupportedVersions []string `json:"supported_api_versions"`
	}{versions})
}

// ContentLoadedRequest signals the widget has finished its initial load.
// Carries no data.
type ContentLoadedRequest struct {
	base
}

// Ok acknowledges the content_loaded notification.
func (r ContentLoadedRequest) Ok() ([]byte, error) {
	return message.EncodeOk(r.hdr, message.FromWidget, r.action, message.Empty{})
}

// GetOpenIDRequest asks for an OpenID token. Carries no data.
type GetOpenIDRequest struct {
	base
}

// OpenIDState is the response's state tag: the request was decided
// immediately, or the widget should expect an out-of-band
// openid_credentials update once the user responds.
type OpenIDState string

const (
	OpenIDAllowed  OpenIDState = "allowed"
	OpenIDBlocked  OpenIDState = "blocked"
	OpenIDPending  OpenIDState = "request"
)

type openIDPayload struct {
	State            OpenIDState `json:"state"`
	OriginalMessageID string     `json:"original_message_id"`
}

// Ok replies with the immediate state: allowed/blocked for a Resolved
// decision, or "request" meaning the widget should wait for a follow-up
// openid_credentials message.
func (r GetOpenIDRequest) Ok(state OpenIDState) ([]byte, error) {
	return message.EncodeOk(r.hdr, message.FromWidget, r.action, openIDPayload{
		State:             state,
		OriginalMessageID: r.hdr.ID,
	})
}

// SendEventPayload is the fromWidget send_event request body. StateKey is
// nil for message-like events.
type SendEventPayload struct {
	Type     string          `json:"type"`
	StateKey *string         `json:"state_key,omitempty"`
	Content  json.RawMessage `json:"content"`
	RoomID   string          `json:"room_id,omitempty"`
}

// SendEventRequest asks to send a single Matrix event.
type SendEventRequest struct {
	base
	Payload SendEventPayload
}

// Ok replies with the sent event's id and room.
func (r SendEventRequest) Ok(eventID, roomID string) ([]byte, error) {
	return message.EncodeOk(r.hdr, message.FromWidget, r.action, struct {
		RoomID  string `json:"room_id"`
		EventID string `json:"event_id"`
	}{roomID, eventID})
}

// ReadEventPayload is the fromWidget read_event request body.
type ReadEventPayload struct {
	Type     string  `json:"type"`
	StateKey *string `json:"state_key,omitempty"`
	Limit    int     `json:"limit,omitempty"`
	RoomIDs  []string `json:"room_ids,omitempty"`
}

// ReadEventRequest asks to read back matching Matrix events.
type ReadEventRequest struct {
	base
	Payload ReadEventPayload
}

// ReadEventItem is one event in a read_event response.
type ReadEventItem struct {
	Type     string          `json:"type"`
	StateKey *string         `json:"state_key,omitempty"`
	Sender   string          `json:"sender"`
	EventID  string          `json:"event_id"`
	RoomID   string          `json:"room_id"`
	Content  json.RawMessage `json:"content"`
}

// Ok replies with the matched events.
func (r ReadEventRequest) Ok(events []ReadEventItem) ([]byte, error) {
	return message.EncodeOk(r.hdr, message.FromWidget, r.action, struct {
		Events []ReadEventItem `json:"events"`
	}{events})
}

// New validates a decoded frame against the known fromWidget action set and
// produces the corresponding concrete Request. An unrecognized action, or a
// request payload that fails to parse, is a ProtocolError.
func New(hdr message.Header, action string, kind message.Kind, data json.RawMessage) (Request, error) {
	if kind != message.KindRequest {
		return nil, werr.Protocol("expected a request frame, got " + string(kind))
	}

	b := base{hdr: hdr, action: action}

	switch action {
	case ActionSupportedAPIVersions:
		return GetSupportedAPIVersionRequest{base: b}, nil
	case ActionContentLoaded:
		return ContentLoadedRequest{base: b}, nil
	case ActionGetOpenID:
		return GetOpenIDRequest{base: b}, nil
	case ActionSendEvent:
		var p SendEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, werr.ProtocolWrap("malformed send_event payload", err)
		}
		return SendEventRequest{base: b, Payload: p}, nil
	case ActionReadEvent:
		var p ReadEventPayload
		if err := json.Unmarshal(data, &p); err != nil {
			return nil, werr.ProtocolWrap("malformed read_event payload", err)
		}
		return ReadEventRequest{base: b, Payload: p}, nil
	default:
		return nil, werr.Protocol("unknown action: " + action)
	}
}
