package repositories

import (
	"chat-core/domain/chat"
	"chat-core/errors"
	"fmt"
	"time"

	"github.com/samber/lo"
)

// Field names of a message node.
const (
	FieldSenderID           = "senderId"
	FieldBody               = "body"
	FieldType               = "type"
	FieldCreatedAt          = "createdAt"
	FieldPayload            = "payload"
	FieldReceipts           = "receipts"
	FieldDeliveredAt        = "deliveredAt"
	FieldReadAt             = "readAt"
	FieldEditedBody         = "editedBody"
	FieldEditedAt           = "editedAt"
	FieldDeletedForEveryone = "deletedForEveryoneAt"
	FieldDeletedFor         = "deletedFor"
)

// DeliveredAtField is the relative path of a recipient's delivery time.
func DeliveredAtField(recipient string) string {
	return joinPath(FieldReceipts, recipient, FieldDeliveredAt)
}

func ReadAtField(recipient string) string {
	return joinPath(FieldReceipts, recipient, FieldReadAt)
}

func DeletedForField(participant string) string {
	return joinPath(FieldDeletedFor, participant)
}

// FromMessage builds the node written on send. Receipts start empty.
func FromMessage(m chat.Message) map[string]any {
	node := map[string]any{
		FieldSenderID:  m.SenderID,
		FieldType:      string(m.Type),
		FieldCreatedAt: Millis(m.CreatedAt),
	}
	if m.Body != "" {
		node[FieldBody] = m.Body
	}
	if m.Payload != nil {
		node[FieldPayload] = map[string]any{
			"url":  m.Payload.URL,
			"mime": m.Payload.MIME,
			"size": m.Payload.Size,
		}
	}
	return node
}

// ToMessage decodes a message node read from the store.
func ToMessage(id string, value any) (chat.Message, error) {
	node := MapFrom(value)
	if node == nil {
		return chat.Message{}, fmt.Errorf("%w: message %s", errors.ErrNotFound, id)
	}
	createdAt, _ := TimeFrom(node[FieldCreatedAt])
	m := chat.Message{
		ID:                   id,
		SenderID:             StringFrom(node[FieldSenderID]),
		Body:                 StringFrom(node[FieldBody]),
		Type:                 chat.MessageType(StringFrom(node[FieldType])),
		CreatedAt:            createdAt,
		EditedAt:             TimePtrFrom(node[FieldEditedAt]),
		DeletedForEveryoneAt: TimePtrFrom(node[FieldDeletedForEveryone]),
		Receipts:             toReceipts(MapFrom(node[FieldReceipts])),
		DeletedFor:           toDeletedFor(MapFrom(node[FieldDeletedFor])),
	}
	if edited, ok := node[FieldEditedBody].(string); ok {
		m.EditedBody = lo.ToPtr(edited)
	}
	if payload := MapFrom(node[FieldPayload]); payload != nil {
		size, _ := Int64From(payload["size"])
		m.Payload = &chat.Payload{
			URL:  StringFrom(payload["url"]),
			MIME: StringFrom(payload["mime"]),
			Size: size,
		}
	}
	if m.Type == "" {
		m.Type = chat.TypeText
	}
	return m, nil
}

func toReceipts(node map[string]any) map[string]chat.Receipt {
	receipts := make(map[string]chat.Receipt, len(node))
	for recipient, v := range node {
		r := MapFrom(v)
		receipts[recipient] = chat.Receipt{
			DeliveredAt: TimePtrFrom(r[FieldDeliveredAt]),
			ReadAt:      TimePtrFrom(r[FieldReadAt]),
		}
	}
	return receipts
}

func toDeletedFor(node map[string]any) map[string]time.Time {
	deleted := make(map[string]time.Time, len(node))
	for participant, v := range node {
		at, _ := TimeFrom(v)
		deleted[participant] = at
	}
	return deleted
}

// ToMessages decodes the children of a messages node, oldest id first.
func ToMessages(value any) ([]chat.Message, error) {
	node := MapFrom(value)
	messages := make([]chat.Message, 0, len(node))
	for _, id := range sortedKeys(node) {
		m, err := ToMessage(id, node[id])
		if err != nil {
			return nil, err
		}
		messages = append(messages, m)
	}
	return messages, nil
}

// MessageDeletedForField is DeletedForField relative to the messages node.
func MessageDeletedForField(messageID, participant string) string {
	return joinPath(messageID, DeletedForField(participant))
}
