package incoming

import (
	"encoding/json"
	"testing"

	"github.com/kandev/widgetd/pkg/widget/message"
)

func TestNewGetSupportedAPIVersion(t *testing.T) {
	hdr := message.NewHeader("1")
	req, err := New(hdr, ActionSupportedAPIVersions, message.KindRequest, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := req.(GetSupportedAPIVersionRequest); !ok {
		t.Fatalf("expected GetSupportedAPIVersionRequest, got %T", req)
	}
}

func TestNewSendEventParsesPayload(t *testing.T) {
	hdr := message.NewHeader("2")
	data := json.RawMessage(`{"type":"m.room.message","content":{"msgtype":"m.text","body":"hi"}}`)
	req, err := New(hdr, ActionSendEvent, message.KindRequest, data)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	send, ok := req.(SendEventRequest)
	if !ok {
		t.Fatalf("expected SendEventRequest, got %T", req)
	}
	if send.Payload.Type != "m.room.message" {
		t.Fatalf("unexpected type: %q", send.Payload.Type)
	}
}

func TestNewRejectsUnknownAction(t *testing.T) {
	hdr := message.NewHeader("3")
	if _, err := New(hdr, "something_else", message.KindRequest, json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected error for unknown action")
	}
}

func TestNewRejectsMalformedPayload(t *testing.T) {
	hdr := message.NewHeader("4")
	if _, err := New(hdr, ActionSendEvent, message.KindRequest, json.RawMessage(`not json`)); err == nil {
		t.Fatal("expected error for malformed send_event payload")
	}
}

func TestFailEncodesErrorResponse(t *testing.T) {
	hdr := message.NewHeader("5")
	req, err := New(hdr, ActionContentLoaded, message.KindRequest, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	data, err := req.Fail("Already loaded")
	if err != nil {
		t.Fatalf("Fail failed: %v", err)
	}

	frame, err := message.Decode(data)
	if err != nil {
		t.Fatalf("decode of Fail output failed: %v", err)
	}
	if frame.Kind != message.KindResponse {
		t.Fatalf("expected response kind, got %q", frame.Kind)
	}
	if msg, isErr := message.AsError(frame.Data); !isErr || msg != "Already loaded" {
		t.Fatalf("expected error payload 'Already loaded', got (%q, %v)", msg, isErr)
	}
}

func TestGetSupportedAPIVersionOkRoundTrips(t *testing.T) {
	hdr := message.NewHeader("6")
	req, err := New(hdr, ActionSupportedAPIVersions, message.KindRequest, json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	gv := req.(GetSupportedAPIVersionRequest)

	data, err := gv.Ok([]string{"0.0.1"})
	if err != nil {
		t.Fatalf("Ok failed: %v", err)
	}
	frame, err := message.Decode(data)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if frame.Header.ID != "6" {
		t.Fatalf("expected header to round trip, got %q", frame.Header.ID)
	}
}
