package repositories

import (
	"chat-core/domain/chat"
	"chat-core/errors"
	"fmt"
	"strings"
)

const nodePrefix = "node:"

// NodeKeyPrefix starts every Badger key written by BadgerStore.
const NodeKeyPrefix = nodePrefix

// Paths of the conversation tree.
func MessagesPath(key chat.ConversationKey) string {
	return joinPath("conversations", key.String(), "messages")
}

func MessagePath(key chat.ConversationKey, id string) string {
	return joinPath(MessagesPath(key), id)
}

func ConversationUnreadPath(key chat.ConversationKey, participant string) string {
	return joinPath("conversations", key.String(), "unread", participant)
}

func UserUnreadPath(participant string, key chat.ConversationKey) string {
	return joinPath(UsersRoot, participant, "unread", key.String())
}

func UserConversationsPath(participant string) string {
	return joinPath(UsersRoot, participant, "conversations")
}

func UserConversationPath(participant string, key chat.ConversationKey) string {
	return joinPath(UserConversationsPath(participant), key.String())
}

func PresencePath(participant string) string {
	return joinPath("presence", participant)
}

func TypingPath(key chat.ConversationKey, participant string) string {
	return joinPath("typing", key.String(), participant)
}

func BlocksPath(blocker string) string {
	return joinPath("blocks", blocker)
}

func BlockPath(blocker, blocked string) string {
	return joinPath(BlocksPath(blocker), blocked)
}

func PrivacyPath(participant string) string {
	return joinPath("profiles", participant, "privacy")
}

func joinPath(segments ...string) string {
	return strings.Join(segments, "/")
}

// splitPath validates a path and returns its segments.
func splitPath(path string) ([]string, error) {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty path", errors.ErrInvalidPath)
	}
	segments := strings.Split(trimmed, "/")
	for _, s := range segments {
		if err := validateSegment(s); err != nil {
			return nil, fmt.Errorf("%w: %q", err, path)
		}
	}
	return segments, nil
}

func validateSegment(s string) error {
	if s == "" {
		return errors.ErrInvalidPath
	}
	if strings.ContainsAny(s, ".#$[]") {
		return errors.ErrInvalidPath
	}
	return nil
}

func nodeKey(segments []string) string {
	return nodePrefix + joinPath(segments...)
}

func hasPrefix(segments, prefix []string) bool {
	if len(prefix) > len(segments) {
		return false
	}
	for i := range prefix {
		if segments[i] != prefix[i] {
			return false
		}
	}
	return true
}
