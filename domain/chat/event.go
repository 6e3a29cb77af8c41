package chat

// EventKind is the kind of a child event delivered by a store subscription.
type EventKind int

const (
	Added EventKind = iota
	Changed
	Removed
	// Synced marks the end of the initial snapshot of a subscription.
	Synced
)

func (k EventKind) String() string {
	switch k {
	case Added:
		return "added"
	case Changed:
		return "changed"
	case Removed:
		return "removed"
	case Synced:
		return "synced"
	}
	return "unknown"
}

// MessageEvent is a child event on a conversation's messages, decoded.
// Message is the zero value for Removed and Synced.
type MessageEvent struct {
	Kind    EventKind
	ID      string
	Message Message
}
