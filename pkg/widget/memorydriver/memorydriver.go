// Package memorydriver is a reference MatrixDriver/PermissionsProvider/
// OpenIDProvider implementation backed by an in-process room timeline. It
// exists to make cmd/widgetd runnable end to end; a real host application
// would back these interfaces with its actual Matrix client instead.
package memorydriver

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/kandev/widgetd/pkg/widget/driver"
	"github.com/kandev/widgetd/pkg/widget/permission"
)

// Policy decides which of a widget's requested permissions are granted.
// AllowAll grants everything requested, matching a host that fully trusts
// its own bundled widgets.
type Policy interface {
	Decide(ctx context.Context, roomID string, requested permission.Permissions) (permission.Permissions, error)
}

// AllowAllPolicy grants every requested permission unconditionally.
type AllowAllPolicy struct{}

// Decide implements Policy.
func (AllowAllPolicy) Decide(_ context.Context, _ string, requested permission.Permissions) (permission.Permissions, error) {
	return requested, nil
}

// PermissionsProvider adapts a Policy to driver.PermissionsProvider.
type PermissionsProvider struct {
	Policy Policy
}

// Acquire implements driver.PermissionsProvider.
func (p PermissionsProvider) Acquire(ctx context.Context, roomID string, requested permission.Permissions) (permission.Permissions, error) {
	if p.Policy == nil {
		return AllowAllPolicy{}.Decide(ctx, roomID, requested)
	}
	return p.Policy.Decide(ctx, roomID, requested)
}

// Room is an in-memory Matrix room timeline: just enough to exercise
// SendEvent/ReadEvent against real filter matching.
type Room struct {
	mu     sync.Mutex
	events []driver.MatrixEvent
}

// NewRoom builds an empty room.
func NewRoom() *Room { return &Room{} }

// Driver implements driver.MatrixDriver against a single Room.
type Driver struct {
	Room *Room
}

// Initialize builds Capabilities carrying the approved read/send filters,
// with a Reader/Sender backed by d.Room set only when at least one read/send
// filter was approved. The Reader/Sender do not apply the filters themselves.
func (d Driver) Initialize(_ context.Context, approved permission.Permissions) (driver.Capabilities, error) {
	caps := driver.Capabilities{
		Read:           approved.Read,
		Send:           approved.Send,
		RequiresClient: approved.RequiresClient,
	}
	if len(approved.Read) > 0 {
		caps.Reader = roomReader{room: d.Room}
	}
	if len(approved.Send) > 0 {
		caps.Sender = roomSender{room: d.Room}
	}
	return caps, nil
}

type roomSender struct {
	room *Room
}

func (s roomSender) Send(_ context.Context, req driver.SendEventRequest) (driver.SendEventResponse, error) {
	ev := driver.MatrixEvent{
		EventID:   "$" + uuid.NewString(),
		EventType: req.EventType,
		StateKey:  req.StateKey,
		Sender:    "@widget:local",
		Content:   req.Content,
	}

	s.room.mu.Lock()
	s.room.events = append(s.room.events, ev)
	s.room.mu.Unlock()

	return driver.SendEventResponse{EventID: ev.EventID, RoomID: "!local-room"}, nil
}

type roomReader struct {
	room *Room
}

func (r roomReader) Read(_ context.Context, query driver.ReadEventQuery) ([]driver.MatrixEvent, error) {
	r.room.mu.Lock()
	defer r.room.mu.Unlock()

	var out []driver.MatrixEvent
	for _, ev := range r.room.events {
		if ev.EventType != query.EventType {
			continue
		}
		if query.StateKey != nil {
			if ev.StateKey == nil || *ev.StateKey != *query.StateKey {
				continue
			}
		} else if ev.StateKey != nil {
			continue
		}
		out = append(out, ev)
		if query.Limit > 0 && len(out) >= query.Limit {
			break
		}
	}
	return out, nil
}

// OpenIDProvider always resolves immediately, allowing the request.
type OpenIDProvider struct{}

// RequestOpenID implements driver.OpenIDProvider.
func (OpenIDProvider) RequestOpenID(context.Context) (driver.OpenIDStatus, error) {
	return driver.OpenIDStatus{Resolved: &driver.OpenIDDecision{Allowed: true}}, nil
}

// IssueCredentials implements driver.OpenIDProvider.
func (OpenIDProvider) IssueCredentials(context.Context) (driver.OpenIDCredentials, error) {
	return driver.OpenIDCredentials{
		AccessToken:      uuid.NewString(),
		TokenType:        "Bearer",
		MatrixServerName: "local",
		ExpiresIn:        3600,
	}, nil
}
