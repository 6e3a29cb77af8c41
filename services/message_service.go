package services

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/domain/chat"
	"chat-core/errors"
	"chat-core/internal"
	"chat-core/observability"
	"chat-core/repositories"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sort"
	"time"
)

type IMessageService interface {
	Send(ctx context.Context, session auth.Session, conv chat.Conversation, req SendRequest) (chat.Message, error)
	MarkDelivered(ctx context.Context, session auth.Session, conv chat.Conversation, messageID string, at time.Time) (bool, error)
	MarkRead(ctx context.Context, session auth.Session, conv chat.Conversation, messageID string, at time.Time) (bool, error)
	Edit(ctx context.Context, session auth.Session, conv chat.Conversation, messageID, newBody string) error
	DeleteForUser(ctx context.Context, session auth.Session, conv chat.Conversation, messageID string) error
	DeleteForEveryone(ctx context.Context, session auth.Session, conv chat.Conversation, messageID string) error
	Get(ctx context.Context, session auth.Session, conv chat.Conversation, messageID string) (chat.Message, error)
	Recent(ctx context.Context, session auth.Session, conv chat.Conversation, limit int) ([]chat.Message, error)
	ClearConversation(ctx context.Context, session auth.Session, conv chat.Conversation) error
	DeleteConversation(ctx context.Context, session auth.Session, conv chat.Conversation) error
	Conversations(ctx context.Context, session auth.Session) ([]chat.ConversationSummary, error)
}

// MessageService creates messages and moves them through their lifecycle.
// Receipt writes are idempotent and never move a receipt backwards.
type MessageService struct {
	store        contract.Store
	blocks       IBlockService
	unread       IUnreadService
	clock        contract.Clock
	log          *slog.Logger
	metrics      *observability.Metrics
	deleteWindow time.Duration
}

func NewMessageService(
	store contract.Store,
	blocks IBlockService,
	unread IUnreadService,
	clock contract.Clock,
	log *slog.Logger,
	metrics *observability.Metrics,
	cfg internal.Config,
) *MessageService {
	return &MessageService{
		store:        store,
		blocks:       blocks,
		unread:       unread,
		clock:        clock,
		log:          log,
		metrics:      metrics,
		deleteWindow: cfg.DeleteForEveryoneWindow,
	}
}

// Send writes a new message. Nothing else is written when the creation fails;
// the counter and conversation list updates that follow are best effort.
func (s *MessageService) Send(ctx context.Context, session auth.Session, conv chat.Conversation, req SendRequest) (chat.Message, error) {
	msg, err := s.send(ctx, session, conv, req)
	if err != nil {
		s.metrics.Sends.WithLabelValues(sendResult(err)).Inc()
		return chat.Message{}, err
	}
	s.metrics.Sends.WithLabelValues("ok").Inc()
	return msg, nil
}

func (s *MessageService) send(ctx context.Context, session auth.Session, conv chat.Conversation, req SendRequest) (chat.Message, error) {
	now := s.clock.Now()
	if err := authorize(now, session, conv); err != nil {
		return chat.Message{}, err
	}
	if err := ValidateSend(req); err != nil {
		return chat.Message{}, err
	}
	sender := session.ParticipantID
	recipient := conv.Counterpart(sender)
	blocked, err := s.blocks.IsBlocked(ctx, sender, recipient)
	if err != nil {
		return chat.Message{}, err
	}
	if blocked {
		return chat.Message{}, fmt.Errorf("%w: %s", errors.ErrBlocked, conv.Key)
	}

	msg := chat.Message{
		SenderID:   sender,
		Body:       req.Body,
		Type:       req.Type,
		Payload:    req.Payload,
		CreatedAt:  time.UnixMilli(now.UnixMilli()).UTC(),
		Receipts:   map[string]chat.Receipt{},
		DeletedFor: map[string]time.Time{},
	}
	if req.Type == chat.TypeText {
		msg.Payload = nil
	}
	id, err := s.store.AppendChild(ctx, repositories.MessagesPath(conv.Key), repositories.FromMessage(msg))
	if err != nil {
		return chat.Message{}, err
	}
	msg.ID = id

	if err = s.unread.IncrementConversationLevel(ctx, conv, recipient); err != nil {
		s.log.Warn("Unable to increment unread counter", "conversation", conv.Key, "error", err)
	}
	if err = s.touchConversation(ctx, conv, msg); err != nil {
		s.log.Warn("Unable to update conversation list", "conversation", conv.Key, "error", err)
	}
	s.log.Debug("Message sent", "conversation", conv.Key, "id", id, "type", msg.Type)
	return msg, nil
}

// MarkDelivered records the delivery of an incoming message. It returns
// false when the message already was delivered or is the caller's own.
func (s *MessageService) MarkDelivered(ctx context.Context, session auth.Session, conv chat.Conversation, messageID string, at time.Time) (bool, error) {
	if err := authorize(s.clock.Now(), session, conv); err != nil {
		return false, err
	}
	recipient := session.ParticipantID
	m, err := s.load(ctx, conv, messageID)
	if err != nil {
		return false, err
	}
	if m.SenderID == recipient {
		return false, nil
	}
	if _, changed := m.ReceiptFor(recipient).Deliver(at); !changed {
		return false, nil
	}
	err = s.store.UpdateFields(ctx, repositories.MessagePath(conv.Key, messageID), map[string]any{
		repositories.DeliveredAtField(recipient): repositories.Millis(at),
	})
	if err != nil {
		return false, err
	}
	s.metrics.Receipts.WithLabelValues("delivered").Inc()
	return true, nil
}

// MarkRead records the read of an incoming message, and its delivery at the
// same time when none was recorded, in a single write.
func (s *MessageService) MarkRead(ctx context.Context, session auth.Session, conv chat.Conversation, messageID string, at time.Time) (bool, error) {
	if err := authorize(s.clock.Now(), session, conv); err != nil {
		return false, err
	}
	recipient := session.ParticipantID
	m, err := s.load(ctx, conv, messageID)
	if err != nil {
		return false, err
	}
	if m.SenderID == recipient {
		return false, nil
	}
	before := m.ReceiptFor(recipient)
	after, changed := before.Read(at)
	if !changed {
		return false, nil
	}
	fields := map[string]any{repositories.ReadAtField(recipient): repositories.Millis(*after.ReadAt)}
	if before.DeliveredAt == nil {
		fields[repositories.DeliveredAtField(recipient)] = repositories.Millis(*after.DeliveredAt)
	}
	if err = s.store.UpdateFields(ctx, repositories.MessagePath(conv.Key, messageID), fields); err != nil {
		return false, err
	}
	s.metrics.Receipts.WithLabelValues("read").Inc()
	return true, nil
}

// Edit replaces the displayed body of a text message. Only the sender may
// edit, and never once the message was deleted for everyone.
func (s *MessageService) Edit(ctx context.Context, session auth.Session, conv chat.Conversation, messageID, newBody string) error {
	now := s.clock.Now()
	if err := authorize(now, session, conv); err != nil {
		return err
	}
	if err := ValidateEdit(newBody); err != nil {
		return err
	}
	m, err := s.load(ctx, conv, messageID)
	if err != nil {
		return err
	}
	switch {
	case m.SenderID != session.ParticipantID:
		return fmt.Errorf("%w: only the sender can edit %s", errors.ErrPolicyViolation, messageID)
	case m.Type != chat.TypeText:
		return fmt.Errorf("%w: %s messages cannot be edited", errors.ErrPolicyViolation, m.Type)
	case m.Tombstoned():
		return fmt.Errorf("%w: %s was deleted", errors.ErrPolicyViolation, messageID)
	}
	return s.store.UpdateFields(ctx, repositories.MessagePath(conv.Key, messageID), map[string]any{
		repositories.FieldEditedBody: newBody,
		repositories.FieldEditedAt:   repositories.Millis(now),
	})
}

// DeleteForUser hides a message from the caller only.
func (s *MessageService) DeleteForUser(ctx context.Context, session auth.Session, conv chat.Conversation, messageID string) error {
	now := s.clock.Now()
	if err := authorize(now, session, conv); err != nil {
		return err
	}
	m, err := s.load(ctx, conv, messageID)
	if err != nil {
		return err
	}
	if m.HiddenFor(session.ParticipantID) {
		return nil
	}
	return s.store.UpdateFields(ctx, repositories.MessagePath(conv.Key, messageID), map[string]any{
		repositories.DeletedForField(session.ParticipantID): repositories.Millis(now),
	})
}

// DeleteForEveryone turns a message into a tombstone. Its content is removed
// from the store; the node stays so the position in the timeline is kept.
func (s *MessageService) DeleteForEveryone(ctx context.Context, session auth.Session, conv chat.Conversation, messageID string) error {
	now := s.clock.Now()
	if err := authorize(now, session, conv); err != nil {
		return err
	}
	m, err := s.load(ctx, conv, messageID)
	if err != nil {
		return err
	}
	if m.SenderID != session.ParticipantID {
		return fmt.Errorf("%w: only the sender can delete %s for everyone", errors.ErrPolicyViolation, messageID)
	}
	if m.Tombstoned() {
		return nil
	}
	if now.Sub(m.CreatedAt) >= s.deleteWindow {
		return fmt.Errorf("%w: %s is older than %s", errors.ErrPolicyViolation, messageID, s.deleteWindow)
	}
	return s.store.UpdateFields(ctx, repositories.MessagePath(conv.Key, messageID), map[string]any{
		repositories.FieldDeletedForEveryone: repositories.Millis(now),
		repositories.FieldBody:               nil,
		repositories.FieldEditedBody:         nil,
		repositories.FieldPayload:            nil,
	})
}

func (s *MessageService) Get(ctx context.Context, session auth.Session, conv chat.Conversation, messageID string) (chat.Message, error) {
	if err := authorize(s.clock.Now(), session, conv); err != nil {
		return chat.Message{}, err
	}
	m, err := s.load(ctx, conv, messageID)
	if err != nil {
		return chat.Message{}, err
	}
	if m.HiddenFor(session.ParticipantID) {
		return chat.Message{}, fmt.Errorf("%w: message %s", errors.ErrNotFound, messageID)
	}
	return m, nil
}

// Recent returns the last messages visible to the caller, oldest first.
func (s *MessageService) Recent(ctx context.Context, session auth.Session, conv chat.Conversation, limit int) ([]chat.Message, error) {
	if err := authorize(s.clock.Now(), session, conv); err != nil {
		return nil, err
	}
	value, err := s.store.ReadOnce(ctx, repositories.MessagesPath(conv.Key), contract.LimitToLast(limit))
	if err != nil {
		return nil, err
	}
	messages, err := repositories.ToMessages(value)
	if err != nil {
		return nil, err
	}
	visible := messages[:0]
	for _, m := range messages {
		if !m.HiddenFor(session.ParticipantID) {
			visible = append(visible, m)
		}
	}
	return visible, nil
}

// ClearConversation deletes every message for the caller in one write and
// resets the caller's unread counters.
func (s *MessageService) ClearConversation(ctx context.Context, session auth.Session, conv chat.Conversation) error {
	now := s.clock.Now()
	if err := authorize(now, session, conv); err != nil {
		return err
	}
	value, err := s.store.ReadOnce(ctx, repositories.MessagesPath(conv.Key))
	if err != nil {
		return err
	}
	messages, err := repositories.ToMessages(value)
	if err != nil {
		return err
	}
	fields := make(map[string]any)
	for _, m := range messages {
		if !m.HiddenFor(session.ParticipantID) {
			fields[repositories.MessageDeletedForField(m.ID, session.ParticipantID)] = repositories.Millis(now)
		}
	}
	if len(fields) > 0 {
		if err = s.store.UpdateFields(ctx, repositories.MessagesPath(conv.Key), fields); err != nil {
			return err
		}
	}
	if err = s.unread.MarkRead(ctx, session, conv); err != nil {
		s.log.Warn("Unable to reset unread counters", "conversation", conv.Key, "error", err)
	}
	return nil
}

// DeleteConversation clears the conversation and drops it from the caller's list.
func (s *MessageService) DeleteConversation(ctx context.Context, session auth.Session, conv chat.Conversation) error {
	if err := s.ClearConversation(ctx, session, conv); err != nil {
		return err
	}
	return s.store.SetValue(ctx, repositories.UserConversationPath(session.ParticipantID, conv.Key), nil)
}

// Conversations lists the caller's conversations, most recent activity first.
func (s *MessageService) Conversations(ctx context.Context, session auth.Session) ([]chat.ConversationSummary, error) {
	if err := session.Require(s.clock.Now()); err != nil {
		return nil, err
	}
	return listConversations(ctx, s.store, session.ParticipantID)
}

func (s *MessageService) load(ctx context.Context, conv chat.Conversation, messageID string) (chat.Message, error) {
	if messageID == "" {
		return chat.Message{}, fmt.Errorf("%w: empty message id", errors.ErrNotFound)
	}
	value, err := s.store.ReadOnce(ctx, repositories.MessagePath(conv.Key, messageID))
	if err != nil {
		return chat.Message{}, err
	}
	return repositories.ToMessage(messageID, value)
}

// touchConversation updates the list entry of both participants in one write.
func (s *MessageService) touchConversation(ctx context.Context, conv chat.Conversation, msg chat.Message) error {
	fields := make(map[string]any, 2)
	for _, p := range conv.Participants {
		fields[repositories.ConversationEntryField(p, conv.Key)] = repositories.FromSummary(chat.ConversationSummary{
			Key:           conv.Key,
			Counterpart:   conv.Counterpart(p),
			LastMessageID: msg.ID,
			LastMessageAt: msg.CreatedAt,
		})
	}
	return s.store.UpdateFields(ctx, repositories.UsersRoot, fields)
}

func listConversations(ctx context.Context, store contract.Store, participant string) ([]chat.ConversationSummary, error) {
	value, err := store.ReadOnce(ctx, repositories.UserConversationsPath(participant))
	if err != nil {
		return nil, err
	}
	summaries := repositories.ToSummaries(value)
	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].LastMessageAt.After(summaries[j].LastMessageAt)
	})
	return summaries, nil
}

// authorize checks the session and that its participant is a member of conv.
func authorize(now time.Time, session auth.Session, conv chat.Conversation) error {
	if err := session.Require(now); err != nil {
		return err
	}
	if !conv.Valid() || !conv.Has(session.ParticipantID) {
		return fmt.Errorf("%w: %q is not part of %s", errors.ErrPolicyViolation, session.ParticipantID, conv.Key)
	}
	for _, p := range conv.Participants {
		if err := auth.ValidateParticipantID(p); err != nil {
			return err
		}
	}
	return nil
}

func sendResult(err error) string {
	switch {
	case stderrors.Is(err, errors.ErrBlocked):
		return "blocked"
	case stderrors.Is(err, errors.ErrPolicyViolation):
		return "rejected"
	case stderrors.Is(err, errors.ErrUnauthenticated):
		return "unauthenticated"
	default:
		return "failed"
	}
}
