package chat

import (
	"time"

	"github.com/samber/lo"
)

// TombstoneBody replaces the content of a message deleted for everyone.
const TombstoneBody = "This message was deleted"

type MessageType string

const (
	TypeText     MessageType = "text"
	TypeImage    MessageType = "image"
	TypeVideo    MessageType = "video"
	TypeAudio    MessageType = "audio"
	TypeDocument MessageType = "document"
)

var messageTypes = []MessageType{TypeText, TypeImage, TypeVideo, TypeAudio, TypeDocument}

func (t MessageType) Valid() bool {
	return lo.Contains(messageTypes, t)
}

// Payload references media stored elsewhere. The core never carries the bytes.
type Payload struct {
	URL  string
	MIME string
	Size int64
}

// Message is a snapshot of one message node as read from the store.
type Message struct {
	ID                   string
	SenderID             string
	Body                 string
	Type                 MessageType
	Payload              *Payload
	CreatedAt            time.Time
	Receipts             map[string]Receipt
	EditedBody           *string
	EditedAt             *time.Time
	DeletedForEveryoneAt *time.Time
	DeletedFor           map[string]time.Time
}

// Tombstoned reports whether the message was deleted for everyone.
func (m Message) Tombstoned() bool {
	return m.DeletedForEveryoneAt != nil
}

// HiddenFor reports whether participant deleted the message for themselves.
func (m Message) HiddenFor(participant string) bool {
	_, ok := m.DeletedFor[participant]
	return ok
}

// DisplayBody is what readers show: the tombstone marker, the edited body, or the body.
func (m Message) DisplayBody() string {
	switch {
	case m.Tombstoned():
		return TombstoneBody
	case m.EditedBody != nil:
		return *m.EditedBody
	default:
		return m.Body
	}
}

// ReceiptFor returns the receipt of recipient, zero when nothing was recorded yet.
func (m Message) ReceiptFor(recipient string) Receipt {
	return m.Receipts[recipient]
}

// StatusFor is the per-recipient state of the message.
func (m Message) StatusFor(recipient string) Status {
	return m.ReceiptFor(recipient).Status()
}
