package chat

import "time"

const (
	// UnreadScanLimit bounds the fallback scan to the most recent messages.
	UnreadScanLimit = 100
	// UnreadMaxAge ignores older messages in the fallback scan.
	UnreadMaxAge = 7 * 24 * time.Hour
	// UnreadCap is the largest badge value ever reported.
	UnreadCap = 999
)

// UnreadCounters are the two independently written counters of a participant
// in a conversation. A nil field was never written.
type UnreadCounters struct {
	ConversationLevel *int
	UserLevel         *int
}

// ConversationSummary is an entry of a participant's conversation list.
type ConversationSummary struct {
	Key           ConversationKey
	Counterpart   string
	LastMessageID string
	LastMessageAt time.Time
}
