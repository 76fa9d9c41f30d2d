package channel

import "strings"

// Type classifies a channel by its name prefix, Pusher style.
type Type int

const (
	Public Type = iota
	Private
	Presence
)

// TypeOf returns the channel type for a channel name.
func TypeOf(name string) Type {
	switch {
	case strings.HasPrefix(name, "presence-"):
		return Presence
	case strings.HasPrefix(name, "private-"):
		return Private
	default:
		return Public
	}
}

// RequiresAuth reports whether subscribing to this channel type needs
// authentication.
func (t Type) RequiresAuth() bool {
	return t == Private || t == Presence
}

func (t Type) String() string {
	switch t {
	case Private:
		return "private"
	case Presence:
		return "presence"
	default:
		return "public"
	}
}
