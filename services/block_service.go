package services

import (
	"chat-core/auth"
	"chat-core/contract"
	"chat-core/domain/chat"
	"chat-core/errors"
	"chat-core/repositories"
	"context"
	"fmt"
	"log/slog"
	"sort"
)

type IBlockService interface {
	IsBlocked(ctx context.Context, a, b string) (bool, error)
	State(ctx context.Context, a, b string) (chat.BlockState, error)
	Block(ctx context.Context, session auth.Session, target string) error
	Unblock(ctx context.Context, session auth.Session, target string) error
	Blocked(ctx context.Context, session auth.Session) ([]chat.BlockRelation, error)
	Observe(ctx context.Context, a, b string) (*BlockWatch, error)
}

// BlockService keeps the directed block edges. A pair is blocked when
// either participant blocks the other.
type BlockService struct {
	store contract.Store
	clock contract.Clock
	log   *slog.Logger
}

func NewBlockService(store contract.Store, clock contract.Clock, log *slog.Logger) *BlockService {
	return &BlockService{store: store, clock: clock, log: log}
}

func (s *BlockService) IsBlocked(ctx context.Context, a, b string) (bool, error) {
	state, err := s.State(ctx, a, b)
	return state.Blocked, err
}

func (s *BlockService) State(ctx context.Context, a, b string) (chat.BlockState, error) {
	ab, err := s.edge(ctx, a, b)
	if err != nil {
		return chat.BlockState{}, err
	}
	ba, err := s.edge(ctx, b, a)
	if err != nil {
		return chat.BlockState{}, err
	}
	return chat.Merge(ab, ba), nil
}

// Block is idempotent: an existing edge keeps its original creation time.
func (s *BlockService) Block(ctx context.Context, session auth.Session, target string) error {
	now := s.clock.Now()
	if err := session.Require(now); err != nil {
		return err
	}
	if err := auth.ValidateParticipantID(target); err != nil {
		return err
	}
	if target == session.ParticipantID {
		return fmt.Errorf("%w: cannot block %q", errors.ErrPolicyViolation, target)
	}
	existing, err := s.edge(ctx, session.ParticipantID, target)
	if err != nil {
		return err
	}
	if existing != nil {
		return nil
	}
	err = s.store.SetValue(ctx, repositories.BlockPath(session.ParticipantID, target), map[string]any{
		repositories.FieldCreatedAt: repositories.Millis(now),
	})
	if err != nil {
		return err
	}
	s.log.Debug("Participant blocked", "blocker", session.ParticipantID, "blocked", target)
	return nil
}

// Unblock removes the caller's edge only. Nothing else is deleted.
func (s *BlockService) Unblock(ctx context.Context, session auth.Session, target string) error {
	if err := session.Require(s.clock.Now()); err != nil {
		return err
	}
	if err := auth.ValidateParticipantID(target); err != nil {
		return err
	}
	if target == session.ParticipantID {
		return fmt.Errorf("%w: cannot unblock %q", errors.ErrPolicyViolation, target)
	}
	return s.store.SetValue(ctx, repositories.BlockPath(session.ParticipantID, target), nil)
}

// Blocked lists the participants the caller blocks, oldest first.
func (s *BlockService) Blocked(ctx context.Context, session auth.Session) ([]chat.BlockRelation, error) {
	if err := session.Require(s.clock.Now()); err != nil {
		return nil, err
	}
	value, err := s.store.ReadOnce(ctx, repositories.BlocksPath(session.ParticipantID))
	if err != nil {
		return nil, err
	}
	var relations []chat.BlockRelation
	for blocked, node := range repositories.MapFrom(value) {
		if r := toRelation(session.ParticipantID, blocked, node); r != nil {
			relations = append(relations, *r)
		}
	}
	sort.Slice(relations, func(i, j int) bool {
		if relations[i].CreatedAt.Equal(relations[j].CreatedAt) {
			return relations[i].Blocked < relations[j].Blocked
		}
		return relations[i].CreatedAt.Before(relations[j].CreatedAt)
	})
	return relations, nil
}

// Observe streams the effective block state of a and b. The first update
// is emitted once both edges were read, then one per change of state.
func (s *BlockService) Observe(ctx context.Context, a, b string) (*BlockWatch, error) {
	ab, err := s.store.SubscribeValue(ctx, repositories.BlockPath(a, b))
	if err != nil {
		return nil, err
	}
	ba, err := s.store.SubscribeValue(ctx, repositories.BlockPath(b, a))
	if err != nil {
		ab.Close()
		return nil, err
	}

	w, wctx := newWatch[chat.BlockState](ctx)
	w.run(wctx, func(ctx context.Context, emit func(chat.BlockState) bool) error {
		defer ab.Close()
		defer ba.Close()
		var (
			abEdge, baEdge *chat.BlockRelation
			seenAB, seenBA bool
			last           *chat.BlockState
		)
		for {
			select {
			case v, ok := <-ab.Events():
				if !ok {
					return ab.Err()
				}
				abEdge, seenAB = toRelation(a, b, v), true
			case v, ok := <-ba.Events():
				if !ok {
					return ba.Err()
				}
				baEdge, seenBA = toRelation(b, a, v), true
			case <-ctx.Done():
				return nil
			}
			if !seenAB || !seenBA {
				continue
			}
			state := chat.Merge(abEdge, baEdge)
			if last != nil && sameBlockState(*last, state) {
				continue
			}
			if !emit(state) {
				return nil
			}
			last = &state
		}
	})
	return w, nil
}

func (s *BlockService) edge(ctx context.Context, blocker, blocked string) (*chat.BlockRelation, error) {
	value, err := s.store.ReadOnce(ctx, repositories.BlockPath(blocker, blocked))
	if err != nil {
		return nil, err
	}
	return toRelation(blocker, blocked, value), nil
}

func toRelation(blocker, blocked string, value any) *chat.BlockRelation {
	node := repositories.MapFrom(value)
	if node == nil {
		return nil
	}
	createdAt, _ := repositories.TimeFrom(node[repositories.FieldCreatedAt])
	return &chat.BlockRelation{Blocker: blocker, Blocked: blocked, CreatedAt: createdAt}
}

func sameBlockState(a, b chat.BlockState) bool {
	return a.Blocked == b.Blocked && a.Since.Equal(b.Since)
}
