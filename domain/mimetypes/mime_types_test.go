package mimetypes

import (
	"chat-core/domain/chat"
	"testing"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name     string
		declared string
		want     string
		known    bool
	}{
		{"Plain text with charset", "text/plain; charset=utf-8", "text/plain", true},
		{"PDF", "application/pdf", "application/pdf", true},
		{"PNG", "image/png", "image/png", true},
		{"JPEG", "image/jpeg", "image/jpeg", true},
		{"MP4", "video/mp4", "video/mp4", true},
		{"Malformed", "image/", "", false},
		{"Made up", "application/x-made-up", "", false},
		{"Empty", "", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Normalize(tt.declared)
			if ok != tt.known || got != tt.want {
				t.Errorf("Normalize(%q) = %q, %v; want %q, %v", tt.declared, got, ok, tt.want, tt.known)
			}
		})
	}
}

func TestFits(t *testing.T) {
	tests := []struct {
		name string
		t    chat.MessageType
		mime string
		want bool
	}{
		{"Image as image", chat.TypeImage, "image/png", true},
		{"Video as image", chat.TypeImage, "video/mp4", false},
		{"Audio as audio", chat.TypeAudio, "audio/mpeg", true},
		{"PDF as document", chat.TypeDocument, "application/pdf", true},
		{"Image as document", chat.TypeDocument, "image/png", true},
		{"Anything as text", chat.TypeText, "text/plain", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Fits(tt.t, tt.mime); got != tt.want {
				t.Errorf("Fits(%s, %q) = %v; want %v", tt.t, tt.mime, got, tt.want)
			}
		})
	}
}
