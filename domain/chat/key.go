// Package chat contains core concepts of the 1:1 conversation system.
// Values here are plain data plus pure rules; no store, runtime or UI logic.
package chat

import "strings"

// KeySeparator joins the two ordered participant ids of a conversation key.
const KeySeparator = "_"

// ConversationKey canonically identifies the conversation between two participants.
type ConversationKey string

func (k ConversationKey) String() string {
	return string(k)
}

// Key derives the conversation key of a and b.
// The ids are ordered lexicographically first so Key(a, b) == Key(b, a).
func Key(a, b string) ConversationKey {
	if b < a {
		a, b = b, a
	}
	return ConversationKey(a + KeySeparator + b)
}

// Conversation is the exchange between exactly two participants.
// Participants are kept explicitly so the key never has to be parsed back.
type Conversation struct {
	Key          ConversationKey
	Participants [2]string
}

func NewConversation(a, b string) Conversation {
	if b < a {
		a, b = b, a
	}
	return Conversation{Key: Key(a, b), Participants: [2]string{a, b}}
}

// Has reports whether p takes part in the conversation.
func (c Conversation) Has(p string) bool {
	return p != "" && (c.Participants[0] == p || c.Participants[1] == p)
}

// Counterpart returns the other participant, or "" when p is not a member.
func (c Conversation) Counterpart(p string) string {
	switch p {
	case c.Participants[0]:
		return c.Participants[1]
	case c.Participants[1]:
		return c.Participants[0]
	}
	return ""
}

// Valid is false for a conversation of a participant with itself or with an empty id.
func (c Conversation) Valid() bool {
	return strings.TrimSpace(c.Participants[0]) != "" &&
		strings.TrimSpace(c.Participants[1]) != "" &&
		c.Participants[0] != c.Participants[1]
}
