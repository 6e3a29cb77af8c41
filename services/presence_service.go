package services

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/domain/chat"
	"chat-core/internal"
	"chat-core/repositories"
	"context"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	fieldOnline      = "online"
	fieldLastSeenAt  = "lastSeenAt"
	fieldTypingSince = "typingSince"
)

type IPresenceService interface {
	SetOnline(ctx context.Context, session auth.Session, online bool, at time.Time) error
	Observe(ctx context.Context, viewer auth.Session, target string) (*PresenceWatch, error)
	SetTyping(ctx context.Context, session auth.Session, conv chat.Conversation, isTyping bool, at time.Time) error
	ObserveTyping(ctx context.Context, viewer auth.Session, conv chat.Conversation) (*TypingWatch, error)
}

// PresenceService publishes online state and typing signals and lets a
// viewer observe them, subject to privacy settings and blocks.
type PresenceService struct {
	store      contract.Store
	profiles   contract.ProfileService
	blocks     IBlockService
	clock      contract.Clock
	log        *slog.Logger
	staleAfter time.Duration
	refresh    time.Duration

	mu     sync.Mutex
	typing map[typingKey]*typingThrottle
}

type typingKey struct {
	conversation chat.ConversationKey
	participant  string
}

// typingThrottle limits refreshes of an ongoing typing signal.
type typingThrottle struct {
	limiter *rate.Limiter
	active  bool
}

func NewPresenceService(
	store contract.Store,
	profiles contract.ProfileService,
	blocks IBlockService,
	clock contract.Clock,
	log *slog.Logger,
	cfg internal.Config,
) *PresenceService {
	return &PresenceService{
		store:      store,
		profiles:   profiles,
		blocks:     blocks,
		clock:      clock,
		log:        log,
		staleAfter: cfg.TypingStaleAfter,
		refresh:    cfg.TypingRefreshInterval,
		typing:     make(map[typingKey]*typingThrottle),
	}
}

// SetOnline is last write wins. Going offline also records lastSeenAt, once
// per transition: an offline event for a participant already offline is ignored.
func (s *PresenceService) SetOnline(ctx context.Context, session auth.Session, online bool, at time.Time) error {
	if err := session.Require(s.clock.Now()); err != nil {
		return err
	}
	path := repositories.PresencePath(session.ParticipantID)
	fields := map[string]any{fieldOnline: online}
	if !online {
		current, err := s.store.ReadOnce(ctx, path)
		if err != nil {
			return err
		}
		if node := repositories.MapFrom(current); node != nil && !repositories.BoolFrom(node[fieldOnline]) {
			return nil
		}
		fields[fieldLastSeenAt] = repositories.Millis(at)
	}
	return s.store.UpdateFields(ctx, path, fields)
}

// Observe streams the presence of target. The watch is hidden and yields
// nothing when target does not share its last seen or when a block exists.
// A block placed later turns the record unknown until it is lifted.
func (s *PresenceService) Observe(ctx context.Context, viewer auth.Session, target string) (*PresenceWatch, error) {
	if err := viewer.Require(s.clock.Now()); err != nil {
		return nil, err
	}
	if err := auth.ValidateParticipantID(target); err != nil {
		return nil, err
	}
	visible, err := s.visible(ctx, viewer.ParticipantID, target)
	if err != nil {
		return nil, err
	}
	if !visible {
		return hiddenWatch[chat.PresenceRecord](ctx), nil
	}
	sub, err := s.store.SubscribeValue(ctx, repositories.PresencePath(target))
	if err != nil {
		return nil, err
	}
	blocks, err := s.blocks.Observe(ctx, viewer.ParticipantID, target)
	if err != nil {
		sub.Close()
		return nil, err
	}
	w, wctx := newWatch[chat.PresenceRecord](ctx)
	w.run(wctx, func(ctx context.Context, emit func(chat.PresenceRecord) bool) error {
		defer sub.Close()
		defer blocks.Close()
		var (
			last                *chat.PresenceRecord
			blockKnown, blocked bool
		)
		for {
			select {
			case v, ok := <-sub.Events():
				if !ok {
					return sub.Err()
				}
				record := toPresence(target, v)
				last = &record
				if !blockKnown || blocked {
					continue
				}
				if !emit(record) {
					return nil
				}
			case state, ok := <-blocks.Updates():
				if !ok {
					return blocks.Err()
				}
				wasVisible := blockKnown && !blocked
				blockKnown, blocked = true, state.Blocked
				var record chat.PresenceRecord
				switch {
				case blocked && wasVisible:
					record = chat.PresenceRecord{Participant: target}
				case !blocked && !wasVisible && last != nil:
					record = *last
				default:
					continue
				}
				if !emit(record) {
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
	return w, nil
}

// SetTyping publishes a typing signal. Refreshes of an ongoing signal are
// throttled; a start after a stop and every stop always go through.
// Typing into a blocked conversation is silently dropped.
func (s *PresenceService) SetTyping(ctx context.Context, session auth.Session, conv chat.Conversation, isTyping bool, at time.Time) error {
	if err := authorize(s.clock.Now(), session, conv); err != nil {
		return err
	}
	p := session.ParticipantID
	key := typingKey{conversation: conv.Key, participant: p}
	path := repositories.TypingPath(conv.Key, p)
	if !isTyping {
		s.admitTyping(key, false, at)
		return s.store.SetValue(ctx, path, nil)
	}
	blocked, err := s.blocks.IsBlocked(ctx, p, conv.Counterpart(p))
	if err != nil {
		return err
	}
	if blocked || !s.admitTyping(key, true, at) {
		return nil
	}
	return s.store.SetValue(ctx, path, map[string]any{fieldTypingSince: repositories.Millis(at)})
}

func (s *PresenceService) admitTyping(key typingKey, isTyping bool, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.typing[key]
	if !ok {
		t = &typingThrottle{limiter: rate.NewLimiter(rate.Every(s.refresh), 1)}
		s.typing[key] = t
	}
	if !isTyping {
		delete(s.typing, key)
		return true
	}
	allowed := t.limiter.AllowN(at, 1)
	if !t.active {
		t.active = true
		return true
	}
	return allowed
}

// ObserveTyping streams whether the counterpart of viewer types in conv.
// A signal that is not refreshed expires after the stale timeout even if no
// stop is ever written. While the pair is blocked the counterpart reads as
// not typing.
func (s *PresenceService) ObserveTyping(ctx context.Context, viewer auth.Session, conv chat.Conversation) (*TypingWatch, error) {
	if err := authorize(s.clock.Now(), viewer, conv); err != nil {
		return nil, err
	}
	counterpart := conv.Counterpart(viewer.ParticipantID)
	blocked, err := s.blocks.IsBlocked(ctx, viewer.ParticipantID, counterpart)
	if err != nil {
		return nil, err
	}
	if blocked {
		return hiddenWatch[chat.TypingState](ctx), nil
	}
	sub, err := s.store.SubscribeValue(ctx, repositories.TypingPath(conv.Key, counterpart))
	if err != nil {
		return nil, err
	}
	blocks, err := s.blocks.Observe(ctx, viewer.ParticipantID, counterpart)
	if err != nil {
		sub.Close()
		return nil, err
	}
	w, wctx := newWatch[chat.TypingState](ctx)
	w.run(wctx, func(ctx context.Context, emit func(chat.TypingState) bool) error {
		defer sub.Close()
		defer blocks.Close()
		expiry := time.NewTimer(time.Hour)
		expiry.Stop()
		defer expiry.Stop()
		var (
			last                *chat.TypingState
			signal              *chat.TypingSignal
			blockKnown, blocked bool
		)
		publish := func(state chat.TypingState) bool {
			if last != nil && last.Typing == state.Typing && last.Since.Equal(state.Since) {
				return true
			}
			last = &state
			return emit(state)
		}
		evaluate := func() bool {
			now := s.clock.Now()
			state := chat.TypingState{Participant: counterpart, Typing: chat.IsTyping(signal, now, s.staleAfter)}
			expiry.Stop()
			if state.Typing {
				state.Since = signal.TypingSince
				expiry.Reset(signal.TypingSince.Add(s.staleAfter).Sub(now))
			}
			return publish(state)
		}
		for {
			select {
			case v, ok := <-sub.Events():
				if !ok {
					return sub.Err()
				}
				signal = toTypingSignal(conv.Key, counterpart, v)
				if !blockKnown || blocked {
					continue
				}
				if !evaluate() {
					return nil
				}
			case state, ok := <-blocks.Updates():
				if !ok {
					return blocks.Err()
				}
				wasVisible := blockKnown && !blocked
				blockKnown, blocked = true, state.Blocked
				switch {
				case blocked && wasVisible:
					expiry.Stop()
					if !publish(chat.TypingState{Participant: counterpart}) {
						return nil
					}
				case !blocked && !wasVisible:
					if !evaluate() {
						return nil
					}
				}
			case <-expiry.C:
				if blocked {
					continue
				}
				if !publish(chat.TypingState{Participant: counterpart}) {
					return nil
				}
			case <-ctx.Done():
				return nil
			}
		}
	})
	return w, nil
}

func (s *PresenceService) visible(ctx context.Context, viewer, target string) (bool, error) {
	if viewer == target {
		return true, nil
	}
	privacy, err := s.profiles.Privacy(ctx, target)
	if err != nil {
		return false, err
	}
	if !privacy.LastSeenVisible {
		return false, nil
	}
	blocked, err := s.blocks.IsBlocked(ctx, viewer, target)
	if err != nil {
		return false, err
	}
	return !blocked, nil
}

func toPresence(participant string, value any) chat.PresenceRecord {
	node := repositories.MapFrom(value)
	record := chat.PresenceRecord{Participant: participant, Known: true}
	if node == nil {
		return record
	}
	record.Online = repositories.BoolFrom(node[fieldOnline])
	record.LastSeenAt, _ = repositories.TimeFrom(node[fieldLastSeenAt])
	return record
}

func toTypingSignal(key chat.ConversationKey, participant string, value any) *chat.TypingSignal {
	since, ok := repositories.TimeFrom(repositories.MapFrom(value)[fieldTypingSince])
	if !ok {
		return nil
	}
	return &chat.TypingSignal{Conversation: key, Participant: participant, TypingSince: since}
}
