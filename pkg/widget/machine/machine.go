// Package machine implements the client-side widget API state machine: it
// reads fromWidget requests off a buffered channel (capacity 64), negotiates
// capabilities with the host client, and gates every subsequent read/send
// request against what was approved. Grounded on
// widget/client/handler/{mod,state,incoming}.rs, restructured as a single
// dispatch goroutine per session rather than a per-message async task, the
// way internal/agent/acp.Session owns one JSON-RPC client per instance.
package machine

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/kandev/widgetd/internal/logging"
	"github.com/kandev/widgetd/internal/werr"
	"github.com/kandev/widgetd/pkg/widget/dmutex"
	"github.com/kandev/widgetd/pkg/widget/driver"
	"github.com/kandev/widgetd/pkg/widget/filter"
	"github.com/kandev/widgetd/pkg/widget/incoming"
	"github.com/kandev/widgetd/pkg/widget/message"
	"github.com/kandev/widgetd/pkg/widget/outgoing"
	"github.com/kandev/widgetd/pkg/widget/permission"
	"go.uber.org/zap"
)

// Supported api versions, answered verbatim on every GetSupportedApiVersion
// request regardless of session state.
var supportedAPIVersions = []string{
	"0.0.1",
	"0.0.2",
	"org.matrix.msc2762",
	"org.matrix.msc2871",
	"org.matrix.msc3819",
}

// FrameSender is the transport-facing half of a session: whatever delivers
// encoded frames back to the widget (a websocket write pump, an iframe
// postMessage bridge, or a test double).
type FrameSender interface {
	SendFrame(data []byte) error
}

// Config configures a single widget session.
type Config struct {
	RoomID       string
	InitOnLoad   bool
	Driver       driver.MatrixDriver
	Permissions  driver.PermissionsProvider
	OpenID       driver.OpenIDProvider
	Sender       FrameSender
	Logger       *logging.Logger
	MutexTimeout time.Duration // zero means dmutex.DefaultTimeout
}

// Machine is one widget session's state machine: exactly one goroutine
// (Run) owns it, reading off a channel fed by HandleFrame that buffers at
// most 64 requests.
type Machine struct {
	cfg     Config
	tracker *outgoing.Tracker
	log     *logging.Logger

	caps   *dmutex.Mutex
	loaded *driver.Capabilities // guarded by caps

	in   chan incoming.Request
	done chan struct{}

	// closeCtx/closeCancel let Close unblock the dispatch goroutine
	// regardless of what it's doing: a toWidget round trip in the tracker,
	// a pending OpenID wait, or the dispatch select itself. It's distinct
	// from whatever context Run is called with, because that context (e.g.
	// a hijacked HTTP request's) may never observe the disconnect that
	// Close is reporting — disconnect is usually detected by a transport
	// read loop running in a different goroutine than the one blocked
	// inside Run.
	closeCtx    context.Context
	closeCancel context.CancelFunc
	closeOnce   sync.Once
}

// New builds a Machine. Call Run to start its dispatch loop.
func New(cfg Config) *Machine {
	log := cfg.Logger
	if log == nil {
		log = logging.Nop()
	}
	closeCtx, closeCancel := context.WithCancel(context.Background())
	return &Machine{
		cfg:         cfg,
		tracker:     outgoing.New(cfg.Sender),
		log:         log,
		caps:        dmutex.New(cfg.MutexTimeout, log),
		in:          make(chan incoming.Request, 64),
		done:        make(chan struct{}),
		closeCtx:    closeCtx,
		closeCancel: closeCancel,
	}
}

// HandleFrame is the entry point for every frame arriving from the widget.
// It does not wait for requests to be processed: requests are validated and
// either answered immediately (the GetSupportedApiVersion fast path) or
// queued for the dispatch loop; responses to the machine's own outgoing
// requests (api toWidget, kind response) are routed to the Tracker. The
// queue is not unbounded: once 64 requests are waiting, HandleFrame blocks
// until the dispatch loop takes one or the session ends.
func (m *Machine) HandleFrame(raw []byte) error {
	frame, err := message.Decode(raw)
	if err != nil {
		m.log.Warn("dropping malformed frame", zap.Error(err))
		return err
	}

	if frame.API == message.ToWidget && frame.Kind == message.KindResponse {
		return m.tracker.HandleResponse(frame)
	}

	if frame.API != message.FromWidget || frame.Kind != message.KindRequest {
		return werr.Protocol("unexpected frame: api=" + string(frame.API) + " kind=" + string(frame.Kind))
	}

	req, err := incoming.New(frame.Header, frame.Action, frame.Kind, frame.Data)
	if err != nil {
		// The header is well-formed even though the payload wasn't: reply
		// with a protocol error instead of dropping it silently.
		data, encErr := message.EncodeErr(frame.Header, message.FromWidget, frame.Action, err.Error())
		if encErr == nil {
			_ = m.cfg.Sender.SendFrame(data)
		}
		return err
	}

	if gv, ok := req.(incoming.GetSupportedAPIVersionRequest); ok {
		data, err := gv.Ok(supportedAPIVersions)
		if err != nil {
			return err
		}
		return m.cfg.Sender.SendFrame(data)
	}

	select {
	case m.in <- req:
		return nil
	case <-m.done:
		return werr.WidgetDisconnected()
	}
}

// Run drives the dispatch loop until ctx is canceled or the widget
// disconnects. It is the single goroutine that ever touches session state.
// Every blocking operation inside the loop (toWidget round trips, the
// pending-OpenID wait) is given m.closeCtx rather than ctx directly, so that
// Close unblocks them even if ctx itself never fires.
func (m *Machine) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, m.closeCancel)
	defer stop()
	defer close(m.done)
	defer m.tracker.Close()
	defer m.closeCancel()

	workCtx := m.closeCtx

	if !m.cfg.InitOnLoad {
		if err := m.initialize(workCtx); err != nil {
			m.log.Warn("failed to initialize widget", zap.Error(err))
			return
		}
	}

	for {
		select {
		case <-workCtx.Done():
			return
		case req, ok := <-m.in:
			if !ok {
				return
			}
			if err := m.dispatch(workCtx, req); err != nil {
				data, encErr := message.EncodeErr(req.Header(), message.FromWidget, req.Action(), err.Error())
				if encErr != nil {
					continue
				}
				if sendErr := m.cfg.Sender.SendFrame(data); sendErr != nil {
					m.log.Info("dropped reply, widget is disconnected")
					return
				}
			}
		}
	}
}

// Close unblocks the dispatch goroutine wherever it is — the main select,
// a toWidget round trip, or a pending OpenID wait — and stops accepting new
// requests. Idempotent.
func (m *Machine) Close() {
	m.closeOnce.Do(func() {
		close(m.in)
	})
	m.closeCancel()
	m.tracker.Close()
}

func (m *Machine) dispatch(ctx context.Context, req incoming.Request) error {
	switch r := req.(type) {
	case incoming.ContentLoadedRequest:
		return m.handleContentLoaded(ctx, r)
	case incoming.GetOpenIDRequest:
		return m.handleGetOpenID(ctx, r)
	case incoming.SendEventRequest:
		return m.handleSendEvent(ctx, r)
	case incoming.ReadEventRequest:
		return m.handleReadEvent(ctx, r)
	default:
		return werr.Protocol("unhandled request type in dispatch loop")
	}
}

func (m *Machine) handleContentLoaded(ctx context.Context, r incoming.ContentLoadedRequest) error {
	release := m.caps.Lock()
	alreadyLoaded := m.loaded != nil
	release()

	var negotiate bool
	var replyErr string
	switch {
	case m.cfg.InitOnLoad && !alreadyLoaded:
		negotiate = true
	case m.cfg.InitOnLoad && alreadyLoaded:
		replyErr = "Already loaded"
	}

	var data []byte
	var err error
	if replyErr != "" {
		data, err = r.Fail(replyErr)
	} else {
		data, err = r.Ok()
	}
	if err != nil {
		return err
	}
	if sendErr := m.cfg.Sender.SendFrame(data); sendErr != nil {
		return werr.CollaboratorFailure("failed to reply", sendErr)
	}

	if negotiate {
		return m.initialize(ctx)
	}
	return nil
}

func (m *Machine) handleGetOpenID(ctx context.Context, r incoming.GetOpenIDRequest) error {
	status, err := m.cfg.OpenID.RequestOpenID(ctx)
	if err != nil {
		return werr.CollaboratorFailure("failed to request openid decision", err)
	}

	var state incoming.OpenIDState
	var pending <-chan driver.OpenIDDecision
	if status.Resolved != nil {
		if status.Resolved.Allowed {
			state = incoming.OpenIDAllowed
		} else {
			state = incoming.OpenIDBlocked
		}
	} else {
		state = incoming.OpenIDPending
		pending = status.Pending
	}

	data, err := r.Ok(state)
	if err != nil {
		return err
	}
	if sendErr := m.cfg.Sender.SendFrame(data); sendErr != nil {
		return werr.CollaboratorFailure("failed to reply", sendErr)
	}

	if pending == nil {
		return nil
	}

	// Blocks the dispatch loop until the decision lands, mirroring the
	// original's in-place `handle.await`: further requests queue on m.in
	// until this resolves. Either outcome pushes an OpenIdCredentialsUpdate;
	// Blocked carries no credentials, Allowed fetches and attaches them.
	select {
	case decision, ok := <-pending:
		if !ok {
			return werr.WidgetDisconnected()
		}
		if !decision.Allowed {
			_, err := m.tracker.Call(ctx, outgoing.ActionOpenIDCredentials, openIDCredentialsPayloadT{State: "blocked"})
			return err
		}
		creds, err := m.cfg.OpenID.IssueCredentials(ctx)
		if err != nil {
			return werr.CollaboratorFailure("failed to issue openid credentials", err)
		}
		_, err = m.tracker.Call(ctx, outgoing.ActionOpenIDCredentials, openIDCredentialsPayload(creds))
		return err
	case <-ctx.Done():
		return werr.WidgetDisconnected()
	}
}

type openIDCredentialsPayloadT struct {
	State            string `json:"state"`
	AccessToken      string `json:"access_token,omitempty"`
	TokenType        string `json:"token_type,omitempty"`
	MatrixServerName string `json:"matrix_server_name,omitempty"`
	ExpiresIn        int    `json:"expires_in,omitempty"`
}

func openIDCredentialsPayload(c driver.OpenIDCredentials) openIDCredentialsPayloadT {
	return openIDCredentialsPayloadT{
		State:            "allowed",
		AccessToken:      c.AccessToken,
		TokenType:        c.TokenType,
		MatrixServerName: c.MatrixServerName,
		ExpiresIn:        c.ExpiresIn,
	}
}

func (m *Machine) handleSendEvent(ctx context.Context, r incoming.SendEventRequest) error {
	caps, err := m.requireCapabilities()
	if err != nil {
		return err
	}
	if caps.Sender == nil {
		return werr.PermissionDenied("no permission to send events")
	}

	ev := filter.Event{
		EventType: r.Payload.Type,
		StateKey:  r.Payload.StateKey,
		Msgtype:   sendMsgtype(r.Payload),
	}
	if !filter.MatchAny(caps.Send, ev) {
		return werr.PermissionDenied("event is not covered by the approved send capabilities")
	}

	resp, err := caps.Sender.Send(ctx, driver.SendEventRequest{
		EventType: r.Payload.Type,
		StateKey:  r.Payload.StateKey,
		Content:   r.Payload.Content,
	})
	if err != nil {
		return werr.CollaboratorFailure("failed to send event", err)
	}

	data, err := r.Ok(resp.EventID, resp.RoomID)
	if err != nil {
		return err
	}
	if sendErr := m.cfg.Sender.SendFrame(data); sendErr != nil {
		return werr.CollaboratorFailure("failed to reply", sendErr)
	}
	return nil
}

// sendMsgtype extracts content.msgtype when present, treating any malformed
// or absent content as no msgtype rather than an error.
func sendMsgtype(p incoming.SendEventPayload) string {
	if p.Type != "m.room.message" {
		return ""
	}
	var c struct {
		Msgtype string `json:"msgtype"`
	}
	if err := json.Unmarshal(p.Content, &c); err != nil {
		return ""
	}
	return c.Msgtype
}

func (m *Machine) handleReadEvent(ctx context.Context, r incoming.ReadEventRequest) error {
	caps, err := m.requireCapabilities()
	if err != nil {
		return err
	}
	if caps.Reader == nil {
		return werr.PermissionDenied("no permission to read events")
	}

	ev := filter.Event{EventType: r.Payload.Type, StateKey: r.Payload.StateKey}
	if !filter.MatchAny(caps.Read, ev) {
		return werr.PermissionDenied("event type is not covered by the approved read capabilities")
	}

	events, err := caps.Reader.Read(ctx, driver.ReadEventQuery{
		EventType: r.Payload.Type,
		StateKey:  r.Payload.StateKey,
		Limit:     r.Payload.Limit,
	})
	if err != nil {
		return werr.CollaboratorFailure("failed to read events", err)
	}

	items := make([]incoming.ReadEventItem, 0, len(events))
	for _, ev := range events {
		items = append(items, incoming.ReadEventItem{
			Type:     ev.EventType,
			StateKey: ev.StateKey,
			Sender:   ev.Sender,
			EventID:  ev.EventID,
			Content:  ev.Content,
		})
	}

	data, err := r.Ok(items)
	if err != nil {
		return err
	}
	if sendErr := m.cfg.Sender.SendFrame(data); sendErr != nil {
		return werr.CollaboratorFailure("failed to reply", sendErr)
	}
	return nil
}

func (m *Machine) requireCapabilities() (driver.Capabilities, error) {
	release := m.caps.Lock()
	defer release()
	if m.loaded == nil {
		return driver.Capabilities{}, werr.CapabilitiesNotNegotiated()
	}
	return *m.loaded, nil
}

type capabilitiesRequestPayload struct{}

type capabilitiesResponsePayload struct {
	Capabilities []string `json:"capabilities"`
}

type capabilitiesUpdatePayload struct {
	Requested []string `json:"requested"`
	Approved  []string `json:"approved"`
}

// initialize performs capability negotiation: ask the widget what it
// wants, ask the permissions provider what's approved, build the driver's
// live Reader/Sender from that, then push the approved set back to the
// widget.
func (m *Machine) initialize(ctx context.Context) error {
	resp, err := m.tracker.Call(ctx, outgoing.ActionCapabilities, capabilitiesRequestPayload{})
	if err != nil {
		return err
	}
	if msg, isErr := message.AsError(resp.Data); isErr {
		return werr.WidgetErrorReply(msg)
	}

	var parsed capabilitiesResponsePayload
	if err := json.Unmarshal(resp.Data, &parsed); err != nil {
		return werr.ProtocolWrap("malformed capabilities response", err)
	}
	requested := permission.Parse(parsed.Capabilities)

	approved, err := m.cfg.Permissions.Acquire(ctx, m.cfg.RoomID, requested)
	if err != nil {
		return werr.CollaboratorFailure("permissions provider failed", err)
	}

	caps, err := m.cfg.Driver.Initialize(ctx, approved)
	if err != nil {
		return werr.CollaboratorFailure("driver initialization failed", err)
	}

	release := m.caps.Lock()
	m.loaded = &caps
	release()

	approvedStrings := permission.Serialize(permission.Permissions{
		Read:           caps.Read,
		Send:           caps.Send,
		RequiresClient: caps.RequiresClient,
	})

	update, err := m.tracker.Call(ctx, outgoing.ActionNotifyCapabilities, capabilitiesUpdatePayload{
		Requested: parsed.Capabilities,
		Approved:  approvedStrings,
	})
	if err != nil {
		return err
	}
	if msg, isErr := message.AsError(update.Data); isErr {
		return werr.WidgetErrorReply(msg)
	}
	return nil
}
