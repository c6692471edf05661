package filter

import (
	"errors"
	"strings"
)

// ErrUnescapedHash is returned when a message-like event type contains a
// literal '#' that isn't part of an escape sequence. Open question from
// §4.2 resolved: unescaped '#' in a message-like type is rejected rather
// than guessed at, and the permission string is dropped as unknown by the
// caller.
var ErrUnescapedHash = errors.New("filter: unescaped '#' in event type")

// ErrDanglingEscape is returned when a trailing '\' has no following
// character to escape.
var ErrDanglingEscape = errors.New("filter: dangling '\\' escape")

const roomMessagePrefix = "m.room.message#"

// ParseMessageLike parses the tail of a READ_EVENT/SEND_EVENT permission
// string into a message-like filter.
func ParseMessageLike(s string) (Filter, error) {
	if msgtype, ok := strings.CutPrefix(s, roomMessagePrefix); ok {
		return NewRoomMessageWithMsgtype(msgtype), nil
	}

	eventType, err := unescape(s)
	if err != nil {
		return Filter{}, err
	}
	return NewMessageLikeWithType(eventType), nil
}

// ParseState parses the tail of a READ_STATE/SEND_STATE permission string
// into a state filter. Unlike the message-like grammar, where any unescaped
// '#' is an error, a state filter tail is split on its first unescaped '#'
// into event type and state key, and both segments are unescaped, so that
// a state key itself may contain '#'.
func ParseState(s string) (Filter, error) {
	head, tail, hasStateKey, err := splitUnescapedHash(s)
	if err != nil {
		return Filter{}, err
	}

	eventType, err := unescape(head)
	if err != nil {
		return Filter{}, err
	}

	if !hasStateKey {
		return NewStateWithType(eventType), nil
	}

	stateKey, err := unescape(tail)
	if err != nil {
		return Filter{}, err
	}
	return NewStateWithTypeAndStateKey(eventType, stateKey), nil
}

// Serialize renders the filter as the tail of a permission string, the
// inverse of ParseMessageLike/ParseState.
func (f Filter) Serialize() string {
	switch f.Kind {
	case MessageLikeWithType:
		return escape(f.EventType)
	case MessageLikeRoomMessageWithMsgtype:
		return roomMessagePrefix + f.Msgtype
	case StateWithType:
		return escape(f.EventType)
	case StateWithTypeAndStateKey:
		return escape(f.EventType) + "#" + escape(f.StateKey)
	default:
		return ""
	}
}

// unescape replaces "\\" with "\" and "\#" with "#", and rejects any
// unescaped '#' or dangling trailing backslash.
func unescape(s string) (string, error) {
	if !strings.ContainsAny(s, "\\#") {
		return s, nil
	}

	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return "", ErrDanglingEscape
			}
			switch s[i+1] {
			case '\\':
				b.WriteByte('\\')
			case '#':
				b.WriteByte('#')
			default:
				return "", ErrDanglingEscape
			}
			i++
		case '#':
			return "", ErrUnescapedHash
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String(), nil
}

// escape is the inverse of unescape: '\' -> '\\', '#' -> '\#'.
func escape(s string) string {
	if !strings.ContainsAny(s, "\\#") {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 2)
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			b.WriteString(`\\`)
		case '#':
			b.WriteString(`\#`)
		default:
			b.WriteByte(s[i])
		}
	}
	return b.String()
}

// splitUnescapedHash finds the first unescaped '#' in s, returning the
// segments before/after it. If none is found, hasHash is false and head==s.
func splitUnescapedHash(s string) (head, tail string, hasHash bool, err error) {
	for i := 0; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 >= len(s) {
				return "", "", false, ErrDanglingEscape
			}
			i++
		case '#':
			return s[:i], s[i+1:], true, nil
		}
	}
	return s, "", false, nil
}
