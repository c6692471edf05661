package message

import (
	"encoding/json"
	"testing"
)

func TestDecodeRoundTrip(t *testing.T) {
	hdr := NewHeader("abc-123")
	data, err := Encode(hdr, FromWidget, "content_loaded", KindRequest, Empty{})
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}

	frame, err := Decode(data)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if frame.Header.ID != "abc-123" {
		t.Errorf("expected header id abc-123, got %q", frame.Header.ID)
	}
	if frame.API != FromWidget {
		t.Errorf("expected api fromWidget, got %q", frame.API)
	}
	if frame.Action != "content_loaded" {
		t.Errorf("expected action content_loaded, got %q", frame.Action)
	}
	if frame.Kind != KindRequest {
		t.Errorf("expected kind request, got %q", frame.Kind)
	}
}

func TestDecodeRejectsUnknownAPI(t *testing.T) {
	raw := []byte(`{"header":{"id":"1"},"api":"sideways","action":"x","kind":"request","data":{}}`)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for unknown api direction")
	}
}

func TestDecodeRejectsUnknownKind(t *testing.T) {
	raw := []byte(`{"header":{"id":"1"},"api":"fromWidget","action":"x","kind":"notify","data":{}}`)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}

func TestDecodeRejectsMissingAction(t *testing.T) {
	raw := []byte(`{"header":{"id":"1"},"api":"fromWidget","action":"","kind":"request","data":{}}`)
	if _, err := Decode(raw); err == nil {
		t.Fatal("expected error for missing action")
	}
}

func TestHeaderPreservesExtraFields(t *testing.T) {
	raw := []byte(`{"id":"abc","requestId":"xyz"}`)
	var hdr Header
	if err := json.Unmarshal(raw, &hdr); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if hdr.ID != "abc" {
		t.Fatalf("expected id abc, got %q", hdr.ID)
	}
	if _, ok := hdr.Extra["requestId"]; !ok {
		t.Fatal("expected requestId to be preserved in Extra")
	}

	out, err := json.Marshal(hdr)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var roundTripped map[string]json.RawMessage
	if err := json.Unmarshal(out, &roundTripped); err != nil {
		t.Fatalf("unmarshal round-trip failed: %v", err)
	}
	if _, ok := roundTripped["requestId"]; !ok {
		t.Fatal("expected requestId to survive round trip")
	}
}

func TestHeaderMissingIDFails(t *testing.T) {
	var hdr Header
	if err := json.Unmarshal([]byte(`{}`), &hdr); err != ErrMissingHeaderID {
		t.Fatalf("expected ErrMissingHeaderID, got %v", err)
	}
}

func TestAsErrorDistinguishesFailure(t *testing.T) {
	if msg, ok := AsError(json.RawMessage(`{"error":"nope"}`)); !ok || msg != "nope" {
		t.Fatalf("expected error=nope, got (%q, %v)", msg, ok)
	}
	if _, ok := AsError(json.RawMessage(`{"capabilities":[]}`)); ok {
		t.Fatal("expected success payload not to be treated as an error")
	}
}
