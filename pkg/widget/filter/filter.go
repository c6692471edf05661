// Package filter implements event filters: the predicates that decide
// whether a given Matrix event is admissible for a read or send capability.
package filter

// Kind discriminates the four concrete shapes a filter can take.
type Kind int

const (
	// MessageLikeWithType matches message-like events with a given type.
	MessageLikeWithType Kind = iota
	// MessageLikeRoomMessageWithMsgtype matches m.room.message events with
	// a given msgtype.
	MessageLikeRoomMessageWithMsgtype
	// StateWithType matches state events with a given type, any state key.
	StateWithType
	// StateWithTypeAndStateKey matches state events with a given type and
	// state key.
	StateWithTypeAndStateKey
)

// Filter is a single event filter, either message-like or state-shaped.
// Represented as a flat tagged struct rather than an interface hierarchy
// since it has no behavior beyond Matches and needs to be trivially
// comparable for the permission round-trip property.
type Filter struct {
	Kind      Kind
	EventType string
	Msgtype   string
	StateKey  string
}

// NewMessageLikeWithType builds a MessageLikeWithType filter.
func NewMessageLikeWithType(eventType string) Filter {
	return Filter{Kind: MessageLikeWithType, EventType: eventType}
}

// NewRoomMessageWithMsgtype builds a MessageLikeRoomMessageWithMsgtype filter.
func NewRoomMessageWithMsgtype(msgtype string) Filter {
	return Filter{Kind: MessageLikeRoomMessageWithMsgtype, Msgtype: msgtype}
}

// NewStateWithType builds a StateWithType filter.
func NewStateWithType(eventType string) Filter {
	return Filter{Kind: StateWithType, EventType: eventType}
}

// NewStateWithTypeAndStateKey builds a StateWithTypeAndStateKey filter.
func NewStateWithTypeAndStateKey(eventType, stateKey string) Filter {
	return Filter{Kind: StateWithTypeAndStateKey, EventType: eventType, StateKey: stateKey}
}

// IsState reports whether the filter is one of the state-event variants.
func (f Filter) IsState() bool {
	return f.Kind == StateWithType || f.Kind == StateWithTypeAndStateKey
}

// Event is the input a candidate Matrix event is matched against. StateKey
// is nil for message-like events and non-nil (possibly empty) for state
// events.
type Event struct {
	EventType string
	StateKey  *string
	Msgtype   string // absent is represented as ""
}

// Matches reports whether the event satisfies the filter, per §4.2:
//   - message-like filters never match an event carrying a state key;
//   - state filters never match an event without one.
func (f Filter) Matches(ev Event) bool {
	switch f.Kind {
	case MessageLikeWithType:
		return ev.StateKey == nil && ev.EventType == f.EventType
	case MessageLikeRoomMessageWithMsgtype:
		return ev.StateKey == nil && ev.EventType == "m.room.message" && ev.Msgtype == f.Msgtype
	case StateWithType:
		return ev.StateKey != nil && ev.EventType == f.EventType
	case StateWithTypeAndStateKey:
		return ev.StateKey != nil && ev.EventType == f.EventType && *ev.StateKey == f.StateKey
	default:
		return false
	}
}

// MatchAny reports whether any filter in the set matches the event.
func MatchAny(filters []Filter, ev Event) bool {
	for _, f := range filters {
		if f.Matches(ev) {
			return true
		}
	}
	return false
}
