package repositories

import (
	"chat-core/domain/chat"
)

// UsersRoot is the parent of every participant's own nodes.
const UsersRoot = "users"

const (
	fieldCounterpart   = "counterpart"
	fieldLastMessageID = "lastMessageId"
	fieldLastMessageAt = "lastMessageAt"
)

// ConversationEntryField is UserConversationPath relative to UsersRoot.
func ConversationEntryField(participant string, key chat.ConversationKey) string {
	return joinPath(participant, "conversations", key.String())
}

func FromSummary(s chat.ConversationSummary) map[string]any {
	return map[string]any{
		fieldCounterpart:   s.Counterpart,
		fieldLastMessageID: s.LastMessageID,
		fieldLastMessageAt: Millis(s.LastMessageAt),
	}
}

// ToSummaries decodes a participant's conversation list. Entries without a
// counterpart are skipped.
func ToSummaries(value any) []chat.ConversationSummary {
	node := MapFrom(value)
	summaries := make([]chat.ConversationSummary, 0, len(node))
	for _, key := range sortedKeys(node) {
		entry := MapFrom(node[key])
		counterpart := StringFrom(entry[fieldCounterpart])
		if counterpart == "" {
			continue
		}
		at, _ := TimeFrom(entry[fieldLastMessageAt])
		summaries = append(summaries, chat.ConversationSummary{
			Key:           chat.ConversationKey(key),
			Counterpart:   counterpart,
			LastMessageID: StringFrom(entry[fieldLastMessageID]),
			LastMessageAt: at,
		})
	}
	return summaries
}
