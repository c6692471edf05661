// Package permission parses and serializes the widget capability grammar:
// the flat list of strings a widget requests and a user approves, covering
// REQUIRES_CLIENT plus the four "<action_prefix>:<filter_string>" forms.
package permission

import (
	"strings"

	"github.com/kandev/widgetd/pkg/widget/filter"
)

const (
	prefixRequiresClient = "io.element.requires_client"
	prefixSendEvent      = "org.matrix.msc2762.m.send.event"
	prefixReceiveEvent   = "org.matrix.msc2762.m.receive.event"
	prefixSendState      = "org.matrix.msc2762.m.send.state_event"
	prefixReceiveState   = "org.matrix.msc2762.m.receive.state_event"
)

// Permissions is the parsed form of a capability list (duplicate filter
// entries are kept as they appear): the filters gating reads and sends, plus whether the
// widget asked to always defer to the host client instead of acting for
// itself.
type Permissions struct {
	Read           []filter.Filter
	Send           []filter.Filter
	RequiresClient bool
}

// Parse interprets a raw capability string list per §6's grammar. Any
// string that doesn't match a known prefix, or whose filter tail fails to
// parse, is silently dropped — the grammar explicitly tolerates unknown
// permissions so that older widgets and newer clients can coexist.
func Parse(raw []string) Permissions {
	var p Permissions
	for _, s := range raw {
		if s == prefixRequiresClient {
			p.RequiresClient = true
			continue
		}

		prefix, tail, ok := cutPrefixColon(s)
		if !ok {
			continue
		}

		switch prefix {
		case prefixSendEvent:
			if f, err := filter.ParseMessageLike(tail); err == nil {
				p.Send = append(p.Send, f)
			}
		case prefixReceiveEvent:
			if f, err := filter.ParseMessageLike(tail); err == nil {
				p.Read = append(p.Read, f)
			}
		case prefixSendState:
			if f, err := filter.ParseState(tail); err == nil {
				p.Send = append(p.Send, f)
			}
		case prefixReceiveState:
			if f, err := filter.ParseState(tail); err == nil {
				p.Read = append(p.Read, f)
			}
		}
		// anything else: unknown permission string, dropped.
	}
	return p
}

// cutPrefixColon splits "<prefix>:<tail>" on the first colon. It does not
// check the prefix; Parse matches it against the four known action prefixes.
func cutPrefixColon(s string) (prefix, tail string, ok bool) {
	i := strings.IndexByte(s, ':')
	if i < 0 {
		return "", "", false
	}
	return s[:i], s[i+1:], true
}

// Serialize renders Permissions back into the wire string list. Order is
// fixed so the output is deterministic: REQUIRES_CLIENT first (if set),
// then read filters, then send filters, each in declaration order. Filters
// round-trip through Parse/Serialize faithfully; unknown strings dropped by
// Parse do not reappear.
func Serialize(p Permissions) []string {
	out := make([]string, 0, len(p.Read)+len(p.Send)+1)
	if p.RequiresClient {
		out = append(out, prefixRequiresClient)
	}
	for _, f := range p.Read {
		out = append(out, serializeOne(f, true))
	}
	for _, f := range p.Send {
		out = append(out, serializeOne(f, false))
	}
	return out
}

func serializeOne(f filter.Filter, read bool) string {
	var prefix string
	if f.IsState() {
		if read {
			prefix = prefixReceiveState
		} else {
			prefix = prefixSendState
		}
	} else {
		if read {
			prefix = prefixReceiveEvent
		} else {
			prefix = prefixSendEvent
		}
	}
	return prefix + ":" + f.Serialize()
}
