package services

import (
	"chat-core/auth"
	"chat-core/domain/chat"
	"chat-core/errors"
	"chat-core/internal"
	"chat-core/mocks"
	"chat-core/repositories"
	"context"
	"fmt"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestUnreadService_Resolve(t *testing.T) {
	ctx := context.Background()

	t.Run("should trust a user level counter even at zero", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())

		// Given userLevel=0 and conversationLevel=5
		req.NoError(f.store.SetValue(ctx, repositories.UserUnreadPath("bob", f.conv.Key), 0))
		req.NoError(f.store.SetValue(ctx, repositories.ConversationUnreadPath(f.conv.Key, "bob"), 5))

		// When resolving
		n, err := f.unread.Resolve(ctx, bob, f.conv)

		// Then the user level wins
		req.NoError(err)
		req.Equal(0, n)
	})

	t.Run("should prefer the user level counter", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())
		req.NoError(f.store.SetValue(ctx, repositories.UserUnreadPath("bob", f.conv.Key), 5))
		req.NoError(f.store.SetValue(ctx, repositories.ConversationUnreadPath(f.conv.Key, "bob"), 2))

		n, err := f.unread.Resolve(ctx, bob, f.conv)
		req.NoError(err)
		req.Equal(5, n)
	})

	t.Run("should use a positive conversation level counter", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())
		req.NoError(f.store.SetValue(ctx, repositories.ConversationUnreadPath(f.conv.Key, "bob"), 5))

		n, err := f.unread.Resolve(ctx, bob, f.conv)
		req.NoError(err)
		req.Equal(5, n)
	})

	t.Run("should scan recent messages when no counter helps", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())

		// Given an old message, a read one, a hidden one, an own one and two fresh ones
		_, err := f.messages.Send(ctx, alice, f.conv, text("last week"))
		req.NoError(err)
		f.clock.Advance(8 * 24 * time.Hour)
		read, err := f.messages.Send(ctx, alice, f.conv, text("read"))
		req.NoError(err)
		_, err = f.messages.MarkRead(ctx, bob, f.conv, read.ID, f.clock.Now())
		req.NoError(err)
		hidden, err := f.messages.Send(ctx, alice, f.conv, text("hidden"))
		req.NoError(err)
		req.NoError(f.messages.DeleteForUser(ctx, bob, f.conv, hidden.ID))
		_, err = f.messages.Send(ctx, bob, f.conv, text("own"))
		req.NoError(err)
		_, err = f.messages.Send(ctx, alice, f.conv, text("fresh 1"))
		req.NoError(err)
		_, err = f.messages.Send(ctx, alice, f.conv, text("fresh 2"))
		req.NoError(err)
		req.NoError(f.store.SetValue(ctx, repositories.ConversationUnreadPath(f.conv.Key, "bob"), 0))

		// When resolving
		n, err := f.unread.Resolve(ctx, bob, f.conv)

		// Then only the two fresh messages count
		req.NoError(err)
		req.Equal(2, n)
	})

	t.Run("should cap the scan", func(t *testing.T) {
		req := require.New(t)
		cfg := internal.DefaultConfig()
		cfg.UnreadCap = 3
		f := newFixture(t, cfg)
		for i := 0; i < 5; i++ {
			_, err := f.messages.Send(ctx, alice, f.conv, text(fmt.Sprintf("msg %d", i)))
			req.NoError(err)
		}
		req.NoError(f.store.SetValue(ctx, repositories.ConversationUnreadPath(f.conv.Key, "bob"), 0))

		n, err := f.unread.Resolve(ctx, bob, f.conv)
		req.NoError(err)
		req.Equal(3, n)
	})

	t.Run("should only scan the most recent messages", func(t *testing.T) {
		req := require.New(t)
		cfg := internal.DefaultConfig()
		cfg.UnreadScanLimit = 3
		f := newFixture(t, cfg)
		req.Equal(999, cfg.UnreadCap)

		// Given five unread messages and no usable counter
		for i := 0; i < 5; i++ {
			_, err := f.messages.Send(ctx, alice, f.conv, text(fmt.Sprintf("msg %d", i)))
			req.NoError(err)
		}
		req.NoError(f.store.SetValue(ctx, repositories.ConversationUnreadPath(f.conv.Key, "bob"), 0))

		// When resolving
		n, err := f.unread.Resolve(ctx, bob, f.conv)

		// Then only the window is counted, well below the cap
		req.NoError(err)
		req.Equal(3, n)
	})
}

func TestUnreadService_Counters(t *testing.T) {
	ctx := context.Background()

	t.Run("should count sends and seed the user level counter", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())

		// Given two messages sent to bob
		var sent []chat.Message
		for _, body := range []string{"a", "b"} {
			m, err := f.messages.Send(ctx, alice, f.conv, text(body))
			req.NoError(err)
			sent = append(sent, m)
		}
		counters, err := f.unread.Counters(ctx, bob, f.conv)
		req.NoError(err)
		req.Nil(counters.UserLevel)
		req.Equal(2, *counters.ConversationLevel)

		// When bob's client records each delivery then increments its own counter
		for _, m := range sent {
			_, err = f.messages.MarkDelivered(ctx, bob, f.conv, m.ID, f.clock.Now())
			req.NoError(err)
			req.NoError(f.unread.IncrementUserLevel(ctx, bob, f.conv))
		}

		// Then the first write was seeded from the delivered messages only
		counters, err = f.unread.Counters(ctx, bob, f.conv)
		req.NoError(err)
		req.Equal(2, *counters.UserLevel)

		// And marking read zeroes both
		req.NoError(f.unread.MarkRead(ctx, bob, f.conv))
		counters, err = f.unread.Counters(ctx, bob, f.conv)
		req.NoError(err)
		req.Equal(0, *counters.UserLevel)
		req.Equal(0, *counters.ConversationLevel)
	})

	t.Run("should attempt both resets when one fails", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		svc := NewUnreadService(store, &fakeClock{now: t0}, logs.GetLoggerFromLevel(slog.LevelDebug), internal.DefaultConfig())
		conv := chat.NewConversation("alice", "bob")

		store.EXPECT().SetValue(gomock.Any(), repositories.UserUnreadPath("bob", conv.Key), 0).
			Return(errors.Transient(fmt.Errorf("timeout")))
		store.EXPECT().SetValue(gomock.Any(), repositories.ConversationUnreadPath(conv.Key, "bob"), 0).
			Return(nil)

		err := svc.MarkRead(ctx, bob, conv)
		req.ErrorIs(err, errors.ErrTransient)
	})
}

func TestUnreadService_Total(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	cfg := internal.DefaultConfig()
	cfg.UnreadCap = 4
	f := newFixture(t, cfg)

	// Given bob has 3 unread from alice and 2 from carol
	for i := 0; i < 3; i++ {
		_, err := f.messages.Send(ctx, alice, f.conv, text("from alice"))
		req.NoError(err)
	}
	withCarol := chat.NewConversation("bob", "carol")
	for i := 0; i < 2; i++ {
		_, err := f.messages.Send(ctx, carol, withCarol, text("from carol"))
		req.NoError(err)
	}

	// Then alice's conversation alone is below the cap and the badge is capped
	n, err := f.unread.Resolve(ctx, bob, f.conv)
	req.NoError(err)
	req.Equal(3, n)
	total, err := f.unread.Total(ctx, bob)
	req.NoError(err)
	req.Equal(4, total)

	// And a participant without conversations has no badge
	total, err = f.unread.Total(ctx, auth.NewSession("dave"))
	req.NoError(err)
	req.Zero(total)
}
