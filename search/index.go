// Package search indexes message bodies so a conversation view can jump to a match.
package search

import (
	"chat-core/domain/chat"
	dsearch "chat-core/domain/search"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/blugelabs/bluge"
)

const (
	fieldOwner        = "owner"
	fieldConversation = "conversation"
	fieldSender       = "sender"
	fieldMessageID    = "messageId"
	fieldBody         = "body"
	fieldCreatedAt    = "createdAt"
)

// Index is an in-memory full text index of the messages each owner can see.
// Documents are scoped by owner so a deleted-for-me message never matches.
type Index struct {
	writer *bluge.Writer
	log    *slog.Logger
}

func NewIndex(log *slog.Logger) (*Index, error) {
	writer, err := bluge.OpenWriter(bluge.InMemoryOnlyConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open search index: %w", err)
	}
	return &Index{writer: writer, log: log}, nil
}

// Put indexes what owner sees of m. Tombstones, hidden and empty messages are removed instead.
func (i *Index) Put(owner string, key chat.ConversationKey, m chat.Message) error {
	body := m.DisplayBody()
	if m.Tombstoned() || m.HiddenFor(owner) || strings.TrimSpace(body) == "" {
		return i.Delete(owner, key, m.ID)
	}
	doc := bluge.NewDocument(docID(owner, key, m.ID)).
		AddField(bluge.NewKeywordField(fieldOwner, owner)).
		AddField(bluge.NewKeywordField(fieldConversation, key.String())).
		AddField(bluge.NewKeywordField(fieldSender, m.SenderID)).
		AddField(bluge.NewKeywordField(fieldMessageID, m.ID).StoreValue()).
		AddField(bluge.NewTextField(fieldBody, body)).
		AddField(bluge.NewDateTimeField(fieldCreatedAt, m.CreatedAt).Sortable())
	return i.writer.Update(doc.ID(), doc)
}

func (i *Index) Delete(owner string, key chat.ConversationKey, messageID string) error {
	return i.writer.Delete(bluge.Identifier(docID(owner, key, messageID)))
}

// Search returns the ids of the matching messages, newest first.
func (i *Index) Search(ctx context.Context, owner string, key chat.ConversationKey, q dsearch.Query) ([]string, error) {
	if q.Empty() {
		return nil, nil
	}
	query := bluge.NewBooleanQuery().
		AddMust(bluge.NewTermQuery(owner).SetField(fieldOwner)).
		AddMust(bluge.NewTermQuery(key.String()).SetField(fieldConversation)).
		AddMust(bluge.NewMatchQuery(q.Terms).SetField(fieldBody).SetOperator(bluge.MatchQueryOperatorAnd))
	if q.SenderID != "" {
		query.AddMust(bluge.NewTermQuery(q.SenderID).SetField(fieldSender))
	}
	limit := q.Limit
	if limit <= 0 {
		limit = dsearch.DefaultLimit
	}
	request := bluge.NewTopNSearch(limit, query).SortBy([]string{"-" + fieldCreatedAt})

	reader, err := i.writer.Reader()
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := reader.Close(); err != nil {
			i.log.Warn("Unable to close search reader", "error", err)
		}
	}()

	matches, err := reader.Search(ctx, request)
	if err != nil {
		return nil, err
	}
	var ids []string
	match, err := matches.Next()
	for err == nil && match != nil {
		err = match.VisitStoredFields(func(field string, value []byte) bool {
			if field == fieldMessageID {
				ids = append(ids, string(value))
			}
			return true
		})
		if err != nil {
			break
		}
		match, err = matches.Next()
	}
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func (i *Index) Close() error {
	return i.writer.Close()
}

func docID(owner string, key chat.ConversationKey, messageID string) string {
	return owner + "/" + key.String() + "/" + messageID
}
