package chat

import "time"

// DefaultTypingStaleAfter is how long a typing signal stays valid without a refresh.
const DefaultTypingStaleAfter = 5000 * time.Millisecond

// PresenceRecord is the last known presence of a participant.
// Known is false when the record is hidden by privacy settings or a block;
// consumers must then show nothing rather than guess online or offline.
type PresenceRecord struct {
	Participant string
	Online      bool
	LastSeenAt  time.Time
	Known       bool
}

// TypingSignal is written while a participant types in a conversation.
type TypingSignal struct {
	Conversation ConversationKey
	Participant  string
	TypingSince  time.Time
}

// IsTyping applies the staleness timeout: a signal not refreshed within
// staleAfter is reported as not typing even if no stop was ever written.
func IsTyping(signal *TypingSignal, now time.Time, staleAfter time.Duration) bool {
	if signal == nil || signal.TypingSince.IsZero() {
		return false
	}
	return now.Sub(signal.TypingSince) < staleAfter
}

// TypingState is what a typing observer receives.
type TypingState struct {
	Participant string
	Typing      bool
	Since       time.Time
}

// Privacy holds the profile flags of a participant.
type Privacy struct {
	LastSeenVisible     bool
	ReadReceiptsEnabled bool
	ProfilePhotoVisible bool
	AboutVisible        bool
}

// DefaultPrivacy is used for participants that never saved their settings.
func DefaultPrivacy() Privacy {
	return Privacy{
		LastSeenVisible:     true,
		ReadReceiptsEnabled: true,
		ProfilePhotoVisible: true,
		AboutVisible:        true,
	}
}
