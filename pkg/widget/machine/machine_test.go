package machine

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/kandev/widgetd/internal/logging"
	"github.com/kandev/widgetd/pkg/widget/driver"
	"github.com/kandev/widgetd/pkg/widget/memorydriver"
	"github.com/kandev/widgetd/pkg/widget/message"
)

// pendingOpenIDProvider answers RequestOpenID with a Pending status whose
// decision the test controls by sending on resolve, exercising the
// handle.await branch of handleGetOpenID that memorydriver.OpenIDProvider
// (always Resolved) never reaches.
type pendingOpenIDProvider struct {
	resolve chan driver.OpenIDDecision
}

func newPendingOpenIDProvider() *pendingOpenIDProvider {
	return &pendingOpenIDProvider{resolve: make(chan driver.OpenIDDecision, 1)}
}

func (p *pendingOpenIDProvider) RequestOpenID(ctx context.Context) (driver.OpenIDStatus, error) {
	return driver.OpenIDStatus{Pending: p.resolve}, nil
}

func (p *pendingOpenIDProvider) IssueCredentials(ctx context.Context) (driver.OpenIDCredentials, error) {
	return driver.OpenIDCredentials{AccessToken: "tok", TokenType: "Bearer", MatrixServerName: "example.org", ExpiresIn: 3600}, nil
}

// fakeWidget stands in for the embedded widget: it answers toWidget
// requests automatically (as if a cooperative widget replied instantly)
// and records every fromWidget response it receives, plus every toWidget
// request it was sent (so tests can inspect e.g. an openid_credentials
// push) on outgoing.
type fakeWidget struct {
	m         *Machine
	capsReply []string // capabilities the fake widget claims to want
	responses chan message.Frame
	outgoing  chan message.Frame
}

func newFakeWidget(caps []string) *fakeWidget {
	return &fakeWidget{
		capsReply: caps,
		responses: make(chan message.Frame, 32),
		outgoing:  make(chan message.Frame, 32),
	}
}

func (w *fakeWidget) SendFrame(data []byte) error {
	frame, err := message.Decode(data)
	if err != nil {
		return err
	}

	if frame.API == message.FromWidget && frame.Kind == message.KindResponse {
		w.responses <- frame
		return nil
	}

	w.outgoing <- frame

	// toWidget request: answer it from another goroutine so we don't
	// deadlock the dispatch loop that's sending it.
	go func() {
		var payload any
		switch frame.Action {
		case "capabilities":
			payload = struct {
				Capabilities []string `json:"capabilities"`
			}{w.capsReply}
		default:
			payload = struct{}{}
		}
		data, _ := json.Marshal(struct {
			Header message.Header `json:"header"`
			API    string         `json:"api"`
			Action string         `json:"action"`
			Kind   string         `json:"kind"`
			Data   any            `json:"data"`
		}{frame.Header, "toWidget", frame.Action, "response", payload})
		_ = w.m.HandleFrame(data)
	}()
	return nil
}

func (w *fakeWidget) awaitResponse(t *testing.T) message.Frame {
	t.Helper()
	select {
	case f := <-w.responses:
		return f
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for a fromWidget response")
		return message.Frame{}
	}
}

func (w *fakeWidget) awaitOutgoing(t *testing.T, action string) message.Frame {
	t.Helper()
	for {
		select {
		case f := <-w.outgoing:
			if f.Action == action {
				return f
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for outgoing %q request", action)
			return message.Frame{}
		}
	}
}

func newTestMachine(widget *fakeWidget, initOnLoad bool) *Machine {
	return newTestMachineWithOpenID(widget, initOnLoad, memorydriver.OpenIDProvider{})
}

func newTestMachineWithOpenID(widget *fakeWidget, initOnLoad bool, openID driver.OpenIDProvider) *Machine {
	room := memorydriver.NewRoom()
	m := New(Config{
		RoomID:      "!room:example.org",
		InitOnLoad:  initOnLoad,
		Driver:      memorydriver.Driver{Room: room},
		Permissions: memorydriver.PermissionsProvider{Policy: memorydriver.AllowAllPolicy{}},
		OpenID:      openID,
		Sender:      widget,
		Logger:      logging.Nop(),
	})
	widget.m = m
	return m
}

func sendRequest(t *testing.T, m *Machine, action string, payload any) {
	t.Helper()
	hdr := message.NewHeader("req-" + action)
	data, err := message.Encode(hdr, message.FromWidget, action, message.KindRequest, payload)
	if err != nil {
		t.Fatalf("encode failed: %v", err)
	}
	if err := m.HandleFrame(data); err != nil {
		t.Fatalf("HandleFrame failed: %v", err)
	}
}

func TestGetSupportedAPIVersionBypassesDispatchLoop(t *testing.T) {
	widget := newFakeWidget(nil)
	m := newTestMachine(widget, true)

	sendRequest(t, m, "supported_api_versions", message.Empty{})

	resp := widget.awaitResponse(t)
	if resp.Action != "supported_api_versions" {
		t.Fatalf("expected supported_api_versions response, got %q", resp.Action)
	}
}

func TestInitOnLoadDefersNegotiationUntilContentLoaded(t *testing.T) {
	widget := newFakeWidget([]string{"org.matrix.msc2762.m.send.event:m.reaction"})
	m := newTestMachine(widget, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	sendRequest(t, m, "content_loaded", message.Empty{})

	resp := widget.awaitResponse(t)
	if resp.Action != "content_loaded" {
		t.Fatalf("expected content_loaded response first, got %q", resp.Action)
	}
	if _, isErr := message.AsError(resp.Data); isErr {
		t.Fatal("first content_loaded should succeed")
	}

	// Second content_loaded, after negotiation has happened, must fail.
	sendRequest(t, m, "content_loaded", message.Empty{})
	resp2 := widget.awaitResponse(t)
	msg, isErr := message.AsError(resp2.Data)
	if !isErr || msg != "Already loaded" {
		t.Fatalf("expected 'Already loaded' error, got (%q, %v)", msg, isErr)
	}
}

func TestSendEventDeniedWithoutNegotiation(t *testing.T) {
	widget := newFakeWidget(nil)
	m := newTestMachine(widget, true) // init_on_load, never content_loaded, so caps stay nil

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	sendRequest(t, m, "send_event", map[string]any{
		"type":    "m.reaction",
		"content": map[string]any{},
	})

	resp := widget.awaitResponse(t)
	msg, isErr := message.AsError(resp.Data)
	if !isErr {
		t.Fatal("expected an error response before capabilities are negotiated")
	}
	if msg == "" {
		t.Fatal("expected a non-empty error message")
	}
}

func TestSendEventGatedByApprovedCapabilities(t *testing.T) {
	widget := newFakeWidget([]string{"org.matrix.msc2762.m.send.event:m.reaction"})
	m := newTestMachine(widget, false) // negotiate immediately on Run

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	// Allow the capabilities/notify_capabilities round trip to settle.
	time.Sleep(50 * time.Millisecond)

	sendRequest(t, m, "send_event", map[string]any{
		"type":    "m.reaction",
		"content": map[string]any{},
	})
	resp := widget.awaitResponse(t)
	if _, isErr := message.AsError(resp.Data); isErr {
		t.Fatalf("expected approved m.reaction send to succeed, got error frame: %s", resp.Data)
	}

	sendRequest(t, m, "send_event", map[string]any{
		"type":    "m.room.power_levels",
		"content": map[string]any{},
	})
	resp2 := widget.awaitResponse(t)
	if _, isErr := message.AsError(resp2.Data); !isErr {
		t.Fatal("expected send of an un-approved event type to be denied")
	}
}

func TestGetOpenIDResolvedImmediately(t *testing.T) {
	widget := newFakeWidget(nil)
	m := newTestMachine(widget, true)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	sendRequest(t, m, "get_openid", message.Empty{})
	resp := widget.awaitResponse(t)
	if resp.Action != "get_openid" {
		t.Fatalf("expected get_openid response, got %q", resp.Action)
	}

	var payload struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		t.Fatalf("failed to parse get_openid response: %v", err)
	}
	if payload.State != "allowed" {
		t.Fatalf("expected state=allowed for a resolved decision, got %q", payload.State)
	}
}

func TestGetOpenIDPendingAllowedPushesCredentials(t *testing.T) {
	widget := newFakeWidget(nil)
	provider := newPendingOpenIDProvider()
	m := newTestMachineWithOpenID(widget, true, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	sendRequest(t, m, "get_openid", message.Empty{})
	resp := widget.awaitResponse(t)

	var immediate struct {
		State string `json:"state"`
	}
	if err := json.Unmarshal(resp.Data, &immediate); err != nil {
		t.Fatalf("failed to parse get_openid response: %v", err)
	}
	if immediate.State != "request" {
		t.Fatalf("expected state=request for a pending decision, got %q", immediate.State)
	}

	provider.resolve <- driver.OpenIDDecision{Allowed: true}

	update := widget.awaitOutgoing(t, "openid_credentials")
	var payload struct {
		State       string `json:"state"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(update.Data, &payload); err != nil {
		t.Fatalf("failed to parse openid_credentials push: %v", err)
	}
	if payload.State != "allowed" {
		t.Fatalf("expected state=allowed, got %q", payload.State)
	}
	if payload.AccessToken != "tok" {
		t.Fatalf("expected issued credentials to be attached, got %q", payload.AccessToken)
	}
}

func TestGetOpenIDPendingBlockedStillPushesUpdate(t *testing.T) {
	widget := newFakeWidget(nil)
	provider := newPendingOpenIDProvider()
	m := newTestMachineWithOpenID(widget, true, provider)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go m.Run(ctx)

	sendRequest(t, m, "get_openid", message.Empty{})
	widget.awaitResponse(t) // immediate "request" reply, not under test here

	provider.resolve <- driver.OpenIDDecision{Allowed: false}

	update := widget.awaitOutgoing(t, "openid_credentials")
	var payload struct {
		State       string `json:"state"`
		AccessToken string `json:"access_token"`
	}
	if err := json.Unmarshal(update.Data, &payload); err != nil {
		t.Fatalf("failed to parse openid_credentials push: %v", err)
	}
	if payload.State != "blocked" {
		t.Fatalf("expected state=blocked, got %q", payload.State)
	}
	if payload.AccessToken != "" {
		t.Fatalf("expected no credentials attached to a blocked decision, got %q", payload.AccessToken)
	}
}

var _ driver.OpenIDProvider = memorydriver.OpenIDProvider{}
