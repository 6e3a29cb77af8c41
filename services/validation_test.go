package services

import (
	"chat-core/domain/chat"
	"chat-core/errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateSend(t *testing.T) {
	payload := func(url, mime string) *chat.Payload {
		return &chat.Payload{URL: url, MIME: mime, Size: 1024}
	}
	tests := []struct {
		name    string
		request SendRequest
		valid   bool
	}{
		{"text", SendRequest{Body: "hi", Type: chat.TypeText}, true},
		{"empty text", SendRequest{Type: chat.TypeText}, false},
		{"too long text", SendRequest{Body: strings.Repeat("a", MaxBodyLength+1), Type: chat.TypeText}, false},
		{"missing type", SendRequest{Body: "hi"}, false},
		{"image", SendRequest{Type: chat.TypeImage, Payload: payload("https://cdn.example.com/a.jpg", "image/jpeg")}, true},
		{"image with caption", SendRequest{Body: "look", Type: chat.TypeImage, Payload: payload("https://cdn.example.com/a.png", "image/png")}, true},
		{"image without payload", SendRequest{Type: chat.TypeImage}, false},
		{"video as audio", SendRequest{Type: chat.TypeAudio, Payload: payload("https://cdn.example.com/a.mp4", "video/mp4")}, false},
		{"unknown mime", SendRequest{Type: chat.TypeDocument, Payload: payload("https://cdn.example.com/a.bin", "application/x-made-up")}, false},
		{"pdf document", SendRequest{Type: chat.TypeDocument, Payload: payload("https://cdn.example.com/a.pdf", "application/pdf")}, true},
		{"payload without url", SendRequest{Type: chat.TypeDocument, Payload: payload("", "application/pdf")}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateSend(tt.request)
			if tt.valid {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, errors.ErrPolicyViolation)
		})
	}
}
