package outgoing

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kandev/widgetd/internal/werr"
	"github.com/kandev/widgetd/pkg/widget/message"
)

type fakeSender struct {
	sent chan []byte
}

func newFakeSender() *fakeSender {
	return &fakeSender{sent: make(chan []byte, 8)}
}

func (f *fakeSender) SendFrame(data []byte) error {
	f.sent <- data
	return nil
}

func TestCallRoutesMatchingResponse(t *testing.T) {
	sender := newFakeSender()
	tr := New(sender)

	done := make(chan struct{})
	var callErr error
	var resp message.Frame

	go func() {
		resp, callErr = tr.Call(context.Background(), ActionCapabilities, capabilitiesPayload{})
		close(done)
	}()

	var raw []byte
	select {
	case raw = <-sender.sent:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outgoing frame")
	}

	frame, err := message.Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	replyData, _ := json.Marshal(struct {
		Capabilities []string `json:"capabilities"`
	}{})
	reply := message.Frame{
		Header: frame.Header,
		API:    message.FromWidget,
		Action: frame.Action,
		Kind:   message.KindResponse,
		Data:   replyData,
	}
	if err := tr.HandleResponse(reply); err != nil {
		t.Fatalf("HandleResponse failed: %v", err)
	}

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Call to return")
	}
	if callErr != nil {
		t.Fatalf("Call returned error: %v", callErr)
	}
	if resp.Header.ID != frame.Header.ID {
		t.Fatalf("expected matching header id, got %q vs %q", resp.Header.ID, frame.Header.ID)
	}
}

func TestHandleResponseUnknownIDIsProtocolError(t *testing.T) {
	tr := New(newFakeSender())
	err := tr.HandleResponse(message.Frame{Header: message.NewHeader("ghost")})
	if !werr.IsCode(err, werr.CodeProtocolError) {
		t.Fatalf("expected ProtocolError, got %v", err)
	}
}

func TestCloseResolvesPendingAsDisconnected(t *testing.T) {
	sender := newFakeSender()
	tr := New(sender)

	done := make(chan struct{})
	var callErr error

	go func() {
		_, callErr = tr.Call(context.Background(), ActionCapabilities, capabilitiesPayload{})
		close(done)
	}()

	select {
	case <-sender.sent:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for outgoing frame")
	}

	tr.Close()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for Call to return after Close")
	}
	if !werr.IsWidgetDisconnected(callErr) {
		t.Fatalf("expected Call to fail with WidgetDisconnected, got %v", callErr)
	}
}

func TestCallAfterCloseFailsImmediately(t *testing.T) {
	tr := New(newFakeSender())
	tr.Close()

	if _, err := tr.Call(context.Background(), ActionCapabilities, capabilitiesPayload{}); !werr.IsWidgetDisconnected(err) {
		t.Fatalf("expected WidgetDisconnected, got %v", err)
	}
}

type capabilitiesPayload struct{}
