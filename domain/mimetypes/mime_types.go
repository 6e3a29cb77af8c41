package mimetypes

import (
	"chat-core/domain/chat"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// Normalize strips parameters and resolves aliases of a declared MIME type.
// It returns false for a type that is malformed or not known.
func Normalize(declared string) (string, bool) {
	mt, _, err := mime.ParseMediaType(declared)
	if err != nil {
		return "", false
	}
	known := mimetype.Lookup(mt)
	if known == nil {
		return "", false
	}
	return known.String(), true
}

// Fits reports whether a payload of the given MIME type can be sent as t.
// Media types must match their family; a document may carry anything.
func Fits(t chat.MessageType, normalized string) bool {
	switch t {
	case chat.TypeImage, chat.TypeVideo, chat.TypeAudio:
		return strings.HasPrefix(normalized, string(t)+"/")
	case chat.TypeDocument:
		return true
	}
	return false
}
