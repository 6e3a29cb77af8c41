package services

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/domain/chat"
	"chat-core/errors"
	"chat-core/internal"
	"chat-core/repositories"
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/samber/lo"
)

type IUnreadService interface {
	Resolve(ctx context.Context, session auth.Session, conv chat.Conversation) (int, error)
	Counters(ctx context.Context, session auth.Session, conv chat.Conversation) (chat.UnreadCounters, error)
	MarkRead(ctx context.Context, session auth.Session, conv chat.Conversation) error
	IncrementConversationLevel(ctx context.Context, conv chat.Conversation, recipient string) error
	IncrementUserLevel(ctx context.Context, session auth.Session, conv chat.Conversation) error
	IncrementUserLevelBy(ctx context.Context, session auth.Session, conv chat.Conversation, n int) error
	Total(ctx context.Context, session auth.Session) (int, error)
}

// UnreadService reconciles the unread count of a participant from two
// counters written by different clients, falling back to a bounded scan of
// recent messages when neither is usable.
type UnreadService struct {
	store     contract.Store
	clock     contract.Clock
	log       *slog.Logger
	scanLimit int
	maxAge    time.Duration
	limit     int
}

func NewUnreadService(store contract.Store, clock contract.Clock, log *slog.Logger, cfg internal.Config) *UnreadService {
	return &UnreadService{
		store:     store,
		clock:     clock,
		log:       log,
		scanLimit: cfg.UnreadScanLimit,
		maxAge:    cfg.UnreadMaxAge,
		limit:     cfg.UnreadCap,
	}
}

// Resolve prefers the user level counter whenever it was written, even when
// it is 0, then a positive conversation level counter, then the scan.
func (s *UnreadService) Resolve(ctx context.Context, session auth.Session, conv chat.Conversation) (int, error) {
	counters, err := s.Counters(ctx, session, conv)
	if err != nil {
		return 0, err
	}
	return s.resolve(ctx, session.ParticipantID, conv, counters)
}

func (s *UnreadService) Counters(ctx context.Context, session auth.Session, conv chat.Conversation) (chat.UnreadCounters, error) {
	if err := authorize(s.clock.Now(), session, conv); err != nil {
		return chat.UnreadCounters{}, err
	}
	p := session.ParticipantID
	userLevel, err := s.readCounter(ctx, repositories.UserUnreadPath(p, conv.Key))
	if err != nil {
		return chat.UnreadCounters{}, err
	}
	conversationLevel, err := s.readCounter(ctx, repositories.ConversationUnreadPath(conv.Key, p))
	if err != nil {
		return chat.UnreadCounters{}, err
	}
	return chat.UnreadCounters{ConversationLevel: conversationLevel, UserLevel: userLevel}, nil
}

// MarkRead zeroes both counters. Both writes are attempted even if one fails.
func (s *UnreadService) MarkRead(ctx context.Context, session auth.Session, conv chat.Conversation) error {
	if err := authorize(s.clock.Now(), session, conv); err != nil {
		return err
	}
	p := session.ParticipantID
	return stderrors.Join(
		s.store.SetValue(ctx, repositories.UserUnreadPath(p, conv.Key), 0),
		s.store.SetValue(ctx, repositories.ConversationUnreadPath(conv.Key, p), 0),
	)
}

// IncrementConversationLevel is called on the sender side after a send.
func (s *UnreadService) IncrementConversationLevel(ctx context.Context, conv chat.Conversation, recipient string) error {
	if !conv.Has(recipient) {
		return fmt.Errorf("%w: %q is not part of %s", errors.ErrPolicyViolation, recipient, conv.Key)
	}
	path := repositories.ConversationUnreadPath(conv.Key, recipient)
	current, err := s.readCounter(ctx, path)
	if err != nil {
		return err
	}
	return s.store.SetValue(ctx, path, lo.FromPtr(current)+1)
}

// IncrementUserLevel is called by the owner's client on the first delivery of
// a message while the conversation is not focused.
func (s *UnreadService) IncrementUserLevel(ctx context.Context, session auth.Session, conv chat.Conversation) error {
	return s.IncrementUserLevelBy(ctx, session, conv, 1)
}

// IncrementUserLevelBy adds n deliveries at once. The first write seeds the
// counter with the delivered messages still unread, which already include
// the new ones since deliveries are recorded before the counter moves.
func (s *UnreadService) IncrementUserLevelBy(ctx context.Context, session auth.Session, conv chat.Conversation, n int) error {
	counters, err := s.Counters(ctx, session, conv)
	if err != nil {
		return err
	}
	path := repositories.UserUnreadPath(session.ParticipantID, conv.Key)
	if counters.UserLevel != nil {
		return s.store.SetValue(ctx, path, *counters.UserLevel+n)
	}
	seed, err := s.scan(ctx, session.ParticipantID, conv, true)
	if err != nil {
		return err
	}
	return s.store.SetValue(ctx, path, seed)
}

// Total is the app badge: the resolved counts of every listed conversation.
func (s *UnreadService) Total(ctx context.Context, session auth.Session) (int, error) {
	if err := session.Require(s.clock.Now()); err != nil {
		return 0, err
	}
	summaries, err := listConversations(ctx, s.store, session.ParticipantID)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, summary := range summaries {
		n, err := s.Resolve(ctx, session, chat.NewConversation(session.ParticipantID, summary.Counterpart))
		if err != nil {
			return 0, err
		}
		total += n
		if total >= s.limit {
			return s.limit, nil
		}
	}
	return total, nil
}

func (s *UnreadService) resolve(ctx context.Context, participant string, conv chat.Conversation, counters chat.UnreadCounters) (int, error) {
	if counters.UserLevel != nil {
		return *counters.UserLevel, nil
	}
	if n := lo.FromPtr(counters.ConversationLevel); n > 0 {
		return n, nil
	}
	return s.scan(ctx, participant, conv, false)
}

// scan counts the recent incoming messages participant has not read.
// With deliveredOnly, messages not delivered yet are left out.
func (s *UnreadService) scan(ctx context.Context, participant string, conv chat.Conversation, deliveredOnly bool) (int, error) {
	value, err := s.store.ReadOnce(ctx, repositories.MessagesPath(conv.Key), contract.LimitToLast(s.scanLimit))
	if err != nil {
		return 0, err
	}
	messages, err := repositories.ToMessages(value)
	if err != nil {
		return 0, err
	}
	oldest := s.clock.Now().Add(-s.maxAge)
	count := lo.CountBy(messages, func(m chat.Message) bool {
		receipt := m.ReceiptFor(participant)
		return m.SenderID != participant &&
			receipt.ReadAt == nil &&
			(!deliveredOnly || receipt.DeliveredAt != nil) &&
			!m.CreatedAt.Before(oldest) &&
			!m.HiddenFor(participant)
	})
	return min(count, s.limit), nil
}

func (s *UnreadService) readCounter(ctx context.Context, path string) (*int, error) {
	value, err := s.store.ReadOnce(ctx, path)
	if err != nil {
		return nil, err
	}
	n, ok := repositories.IntFrom(value)
	if !ok {
		return nil, nil
	}
	return lo.ToPtr(n), nil
}
