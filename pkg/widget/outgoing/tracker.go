// Package outgoing tracks client-to-widget requests: the handful of
// messages the machine itself initiates (capability notifications, OpenID
// credential pushes) rather than answers. Grounded on the pending-map/
// response-channel shape of pkg/acp/jsonrpc.Client.Call, adapted to the
// widget envelope's string ids and fromWidget/toWidget framing.
package outgoing

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kandev/widgetd/internal/werr"
	"github.com/kandev/widgetd/pkg/widget/message"
)

// Action discriminants, the "action" field of a toWidget request.
const (
	ActionCapabilities       = "capabilities"
	ActionNotifyCapabilities = "notify_capabilities"
	ActionOpenIDCredentials  = "openid_credentials"
)

// Sender is the one capability the tracker needs from its host: a way to
// push an encoded frame out over the transport.
type Sender interface {
	SendFrame(data []byte) error
}

// Tracker issues toWidget requests, correlates the widget's responses to
// them (which echo api toWidget) by header id, and resolves every outstanding call to WidgetDisconnected
// when the session ends.
type Tracker struct {
	mu      sync.Mutex
	pending map[string]chan message.Frame
	sender  Sender
	closed  bool
	done    chan struct{}
}

// New builds a Tracker that writes frames through sender.
func New(sender Sender) *Tracker {
	return &Tracker{
		pending: make(map[string]chan message.Frame),
		sender:  sender,
		done:    make(chan struct{}),
	}
}

// Call sends a toWidget request and blocks until the matching response
// arrives, the context is canceled, or the tracker is closed.
func (t *Tracker) Call(ctx context.Context, action string, payload any) (message.Frame, error) {
	hdr := message.NewHeader(uuid.NewString())

	data, err := message.Encode(hdr, message.ToWidget, action, message.KindRequest, payload)
	if err != nil {
		return message.Frame{}, werr.ProtocolWrap("failed to encode outgoing request", err)
	}

	ch := make(chan message.Frame, 1)

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return message.Frame{}, werr.WidgetDisconnected()
	}
	t.pending[hdr.ID] = ch
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.pending, hdr.ID)
		t.mu.Unlock()
	}()

	if err := t.sender.SendFrame(data); err != nil {
		return message.Frame{}, werr.CollaboratorFailure("failed to write outgoing frame", err)
	}

	select {
	case resp := <-ch:
		return resp, nil
	case <-ctx.Done():
		return message.Frame{}, ctx.Err()
	case <-t.done:
		return message.Frame{}, werr.WidgetDisconnected()
	}
}

// HandleResponse routes the widget's response frame to its waiting Call, if
// any. A response whose header id isn't tracked is a protocol error: the
// widget replied to something it was never asked.
func (t *Tracker) HandleResponse(frame message.Frame) error {
	t.mu.Lock()
	ch, ok := t.pending[frame.Header.ID]
	t.mu.Unlock()

	if !ok {
		return werr.Protocol("response for unknown request id: " + frame.Header.ID)
	}

	ch <- frame
	return nil
}

// Close resolves every outstanding Call with WidgetDisconnected and rejects
// any future one. Idempotent.
func (t *Tracker) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	close(t.done)
}
