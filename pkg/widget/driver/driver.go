// Package driver defines the collaborator interfaces the state machine
// depends on but never implements itself: the host chat client's permission
// prompt, its Matrix event I/O, and its OpenID token issuance. A real host
// application supplies concrete implementations; the machine package only
// ever sees these interfaces.
package driver

import (
	"context"

	"github.com/kandev/widgetd/pkg/widget/filter"
	"github.com/kandev/widgetd/pkg/widget/permission"
)

// PermissionsProvider prompts the user (or applies a standing policy) to
// approve some subset of the permissions a widget requested, for the given
// room. The returned Permissions need not be a subset of requested — a
// provider MAY grant more than was asked — the machine gates solely on
// what comes back.
type PermissionsProvider interface {
	Acquire(ctx context.Context, roomID string, requested permission.Permissions) (permission.Permissions, error)
}

// Capabilities is what initialization produces: the approved, already-split
// read/send filter sets, whether the client itself must be deferred to, and
// the live Reader/Sender the machine uses to actually gate and perform
// Matrix I/O for the remainder of the session.
type Capabilities struct {
	Read           []filter.Filter
	Send           []filter.Filter
	RequiresClient bool
	Reader         EventReader
	Sender         EventSender
}

// MatrixDriver builds Capabilities from a permission set the negotiator has
// already obtained approval for. It does not itself talk to the
// PermissionsProvider — see DESIGN.md's Open Question log for why that
// responsibility sits one level up, in the negotiator.
type MatrixDriver interface {
	Initialize(ctx context.Context, approved permission.Permissions) (Capabilities, error)
}

// SendEventRequest is what a widget asked to send.
type SendEventRequest struct {
	EventType string
	StateKey  *string
	Content   []byte // raw JSON
}

// SendEventResponse is the minimal ack a host returns for a sent event.
type SendEventResponse struct {
	EventID string
	RoomID  string
}

// EventSender performs a single already-capability-checked send.
type EventSender interface {
	Send(ctx context.Context, req SendEventRequest) (SendEventResponse, error)
}

// ReadEventQuery narrows a read request: event type plus an optional
// state key (state reads only) and an optional result limit (zero means
// unlimited).
type ReadEventQuery struct {
	EventType string
	StateKey  *string
	Limit     int
}

// MatrixEvent is a single event as read back from the room, general enough
// to answer both message-like and state queries.
type MatrixEvent struct {
	EventID   string
	EventType string
	StateKey  *string
	Sender    string
	Content   []byte // raw JSON
	Msgtype   string // "" if not m.room.message or absent
}

// EventReader performs a single already-capability-checked read.
type EventReader interface {
	Read(ctx context.Context, query ReadEventQuery) ([]MatrixEvent, error)
}

// OpenIDDecision is what the user ultimately decided about an OpenID token
// request, terminal either way.
type OpenIDDecision struct {
	Allowed bool
}

// OpenIDCredentials is the token bundle sent to the widget once a request
// is allowed.
type OpenIDCredentials struct {
	AccessToken      string
	TokenType        string
	MatrixServerName string
	ExpiresIn        int
}

// OpenIDStatus is the immediate outcome of asking for an OpenID decision:
// either it's already Resolved, or the caller must wait on Pending, which
// resolves exactly once.
type OpenIDStatus struct {
	Resolved *OpenIDDecision
	Pending  <-chan OpenIDDecision
}

// OpenIDProvider decides whether to mint OpenID credentials for a widget,
// synchronously or asynchronously (e.g. pending a user prompt).
type OpenIDProvider interface {
	RequestOpenID(ctx context.Context) (OpenIDStatus, error)
	IssueCredentials(ctx context.Context) (OpenIDCredentials, error)
}
