package services

import (
	"chat-core/auth"
	"chat-core/domain/chat"
	"chat-core/errors"
	"chat-core/internal"
	"chat-core/mocks"
	"chat-core/observability"
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

func TestMessageService_Receipts(t *testing.T) {
	ctx := context.Background()

	t.Run("should move a message from sent to delivered to read", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())

		// Given alice sent a message to bob
		msg, err := f.messages.Send(ctx, alice, f.conv, text("hi"))
		req.NoError(err)
		req.NotEmpty(msg.ID)
		req.Equal(chat.StatusSent, msg.StatusFor("bob"))

		// When bob's device receives it, twice
		delivered, err := f.messages.MarkDelivered(ctx, bob, f.conv, msg.ID, t0.Add(time.Second))
		req.NoError(err)
		req.True(delivered)
		delivered, err = f.messages.MarkDelivered(ctx, bob, f.conv, msg.ID, t0.Add(2*time.Second))
		req.NoError(err)
		req.False(delivered)

		// And bob reads it
		read, err := f.messages.MarkRead(ctx, bob, f.conv, msg.ID, t0.Add(3*time.Second))
		req.NoError(err)
		req.True(read)

		// Then the first delivery time is kept and the status is read
		got, err := f.messages.Get(ctx, alice, f.conv, msg.ID)
		req.NoError(err)
		req.Equal(chat.StatusRead, got.StatusFor("bob"))
		req.True(got.ReceiptFor("bob").DeliveredAt.Equal(t0.Add(time.Second)))
		req.True(got.ReceiptFor("bob").ReadAt.Equal(t0.Add(3 * time.Second)))

		// And a late delivery does not move it back
		delivered, err = f.messages.MarkDelivered(ctx, bob, f.conv, msg.ID, t0.Add(4*time.Second))
		req.NoError(err)
		req.False(delivered)
		got, err = f.messages.Get(ctx, alice, f.conv, msg.ID)
		req.NoError(err)
		req.Equal(chat.StatusRead, got.StatusFor("bob"))
	})

	t.Run("should record the delivery when a message is read first", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())
		msg, err := f.messages.Send(ctx, alice, f.conv, text("hi"))
		req.NoError(err)

		read, err := f.messages.MarkRead(ctx, bob, f.conv, msg.ID, t0.Add(time.Minute))
		req.NoError(err)
		req.True(read)

		got, err := f.messages.Get(ctx, bob, f.conv, msg.ID)
		req.NoError(err)
		receipt := got.ReceiptFor("bob")
		req.NotNil(receipt.DeliveredAt)
		req.True(receipt.DeliveredAt.Equal(*receipt.ReadAt))
	})

	t.Run("should ignore receipts on own messages", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())
		msg, err := f.messages.Send(ctx, alice, f.conv, text("hi"))
		req.NoError(err)

		read, err := f.messages.MarkRead(ctx, alice, f.conv, msg.ID, t0)
		req.NoError(err)
		req.False(read)
	})

	t.Run("should fail on an unknown message", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())

		_, err := f.messages.MarkDelivered(ctx, bob, f.conv, "missing", t0)
		req.ErrorIs(err, errors.ErrNotFound)
	})
}

func TestMessageService_Send(t *testing.T) {
	ctx := context.Background()

	t.Run("should reject callers outside the conversation", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())

		_, err := f.messages.Send(ctx, carol, f.conv, text("hi"))
		req.ErrorIs(err, errors.ErrPolicyViolation)
	})

	t.Run("should reject pairs whose keys would collide", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())
		first := chat.NewConversation("a_b", "c")
		second := chat.NewConversation("a", "b_c")
		req.Equal(first.Key, second.Key)

		_, err := f.messages.Send(ctx, auth.NewSession("c"), first, text("hi"))
		req.ErrorIs(err, errors.ErrPolicyViolation)
		_, err = f.messages.Recent(ctx, auth.NewSession("a"), second, 10)
		req.ErrorIs(err, errors.ErrPolicyViolation)
	})

	t.Run("should reject an expired session", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())
		expired := auth.Session{ParticipantID: "alice", ExpiresAt: t0.Add(-time.Minute)}

		_, err := f.messages.Send(ctx, expired, f.conv, text("hi"))
		req.ErrorIs(err, errors.ErrUnauthenticated)
	})

	t.Run("should reject invalid requests", func(t *testing.T) {
		f := newFixture(t, internal.DefaultConfig())
		requests := []SendRequest{
			{Type: chat.TypeText},
			{Body: "hi", Type: "sticker"},
			{Type: chat.TypeImage},
			{Type: chat.TypeImage, Payload: &chat.Payload{URL: "https://cdn.example.com/a.mp3", MIME: "audio/mpeg"}},
		}
		for i, r := range requests {
			t.Run(fmt.Sprintf("request %d", i), func(t *testing.T) {
				_, err := f.messages.Send(ctx, alice, f.conv, r)
				require.ErrorIs(t, err, errors.ErrPolicyViolation)
			})
		}
	})

	t.Run("should list the conversation for both participants", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())

		// Given alice talks to bob, then to carol
		_, err := f.messages.Send(ctx, alice, f.conv, SendRequest{
			Type:    chat.TypeImage,
			Payload: &chat.Payload{URL: "https://cdn.example.com/cat.png", MIME: "image/png", Size: 2048},
		})
		req.NoError(err)
		f.clock.Advance(time.Minute)
		last, err := f.messages.Send(ctx, alice, chat.NewConversation("alice", "carol"), text("hey"))
		req.NoError(err)

		// Then alice sees the most recent conversation first
		summaries, err := f.messages.Conversations(ctx, alice)
		req.NoError(err)
		req.Len(summaries, 2)
		req.Equal("carol", summaries[0].Counterpart)
		req.Equal(last.ID, summaries[0].LastMessageID)
		req.Equal("bob", summaries[1].Counterpart)

		// And bob sees alice
		summaries, err = f.messages.Conversations(ctx, bob)
		req.NoError(err)
		req.Len(summaries, 1)
		req.Equal(f.conv.Key, summaries[0].Key)
		req.Equal("alice", summaries[0].Counterpart)
	})

	t.Run("should leave nothing behind when the creation fails", func(t *testing.T) {
		req := require.New(t)
		ctrl := gomock.NewController(t)
		store := mocks.NewMockStore(ctrl)
		clock := &fakeClock{now: t0}
		log := logs.GetLoggerFromLevel(slog.LevelDebug)
		cfg := internal.DefaultConfig()
		blocks := NewBlockService(store, clock, log)
		svc := NewMessageService(store, blocks, NewUnreadService(store, clock, log, cfg), clock, log, observability.NopMetrics(), cfg)
		conv := chat.NewConversation("alice", "bob")

		// Given no block and a store failing the write
		store.EXPECT().ReadOnce(gomock.Any(), repositories.BlockPath("alice", "bob")).Return(nil, nil)
		store.EXPECT().ReadOnce(gomock.Any(), repositories.BlockPath("bob", "alice")).Return(nil, nil)
		store.EXPECT().AppendChild(gomock.Any(), repositories.MessagesPath(conv.Key), gomock.Any()).
			Return("", errors.Transient(fmt.Errorf("connection reset")))

		// When alice sends
		_, err := svc.Send(ctx, alice, conv, text("hi"))

		// Then the error is retryable and no other write was attempted
		req.ErrorIs(err, errors.ErrTransient)
		req.True(errors.IsRetryable(err))
	})
}

func TestMessageService_Edit(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	f := newFixture(t, internal.DefaultConfig())
	msg, err := f.messages.Send(ctx, alice, f.conv, text("helo"))
	req.NoError(err)

	// Only the sender can edit
	req.ErrorIs(f.messages.Edit(ctx, bob, f.conv, msg.ID, "hello"), errors.ErrPolicyViolation)
	req.ErrorIs(f.messages.Edit(ctx, alice, f.conv, msg.ID, ""), errors.ErrPolicyViolation)

	// Days later the edit still goes through
	f.clock.Advance(72 * time.Hour)
	req.NoError(f.messages.Edit(ctx, alice, f.conv, msg.ID, "hello"))
	got, err := f.messages.Get(ctx, bob, f.conv, msg.ID)
	req.NoError(err)
	req.Equal("hello", got.DisplayBody())
	req.Equal("helo", got.Body)
	req.NotNil(got.EditedAt)

	// Non text messages cannot be edited
	image, err := f.messages.Send(ctx, alice, f.conv, SendRequest{
		Type:    chat.TypeImage,
		Payload: &chat.Payload{URL: "https://cdn.example.com/cat.png", MIME: "image/png"},
	})
	req.NoError(err)
	req.ErrorIs(f.messages.Edit(ctx, alice, f.conv, image.ID, "caption"), errors.ErrPolicyViolation)
}

func TestMessageService_DeleteForEveryone(t *testing.T) {
	ctx := context.Background()

	t.Run("should tombstone a recent message", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())
		msg, err := f.messages.Send(ctx, alice, f.conv, text("oops"))
		req.NoError(err)

		req.ErrorIs(f.messages.DeleteForEveryone(ctx, bob, f.conv, msg.ID), errors.ErrPolicyViolation)

		f.clock.Advance(time.Hour)
		req.NoError(f.messages.DeleteForEveryone(ctx, alice, f.conv, msg.ID))
		req.NoError(f.messages.DeleteForEveryone(ctx, alice, f.conv, msg.ID))

		got, err := f.messages.Get(ctx, bob, f.conv, msg.ID)
		req.NoError(err)
		req.True(got.Tombstoned())
		req.Equal(chat.TombstoneBody, got.DisplayBody())
		req.Empty(got.Body)

		// A tombstone cannot be edited
		req.ErrorIs(f.messages.Edit(ctx, alice, f.conv, msg.ID, "fixed"), errors.ErrPolicyViolation)
	})

	t.Run("should refuse once the window is over", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())
		msg, err := f.messages.Send(ctx, alice, f.conv, text("old news"))
		req.NoError(err)

		f.clock.Advance(25 * time.Hour)

		req.ErrorIs(f.messages.DeleteForEveryone(ctx, alice, f.conv, msg.ID), errors.ErrPolicyViolation)

		// Deleting it for herself is still allowed
		req.NoError(f.messages.DeleteForUser(ctx, alice, f.conv, msg.ID))
		_, err = f.messages.Get(ctx, alice, f.conv, msg.ID)
		req.ErrorIs(err, errors.ErrNotFound)
	})

	t.Run("should refuse exactly at the end of the window", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())
		msg, err := f.messages.Send(ctx, alice, f.conv, text("borderline"))
		req.NoError(err)

		f.clock.Advance(24 * time.Hour)

		req.ErrorIs(f.messages.DeleteForEveryone(ctx, alice, f.conv, msg.ID), errors.ErrPolicyViolation)
	})
}

func TestMessageService_DeleteForUser(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	f := newFixture(t, internal.DefaultConfig())
	msg, err := f.messages.Send(ctx, alice, f.conv, text("hi"))
	req.NoError(err)

	// When bob deletes it for himself, twice
	req.NoError(f.messages.DeleteForUser(ctx, bob, f.conv, msg.ID))
	req.NoError(f.messages.DeleteForUser(ctx, bob, f.conv, msg.ID))

	// Then only bob stops seeing it
	_, err = f.messages.Get(ctx, bob, f.conv, msg.ID)
	req.ErrorIs(err, errors.ErrNotFound)
	got, err := f.messages.Get(ctx, alice, f.conv, msg.ID)
	req.NoError(err)
	req.Equal("hi", got.DisplayBody())
}

func TestMessageService_ClearAndDeleteConversation(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	f := newFixture(t, internal.DefaultConfig())
	for _, body := range []string{"one", "two", "three"} {
		_, err := f.messages.Send(ctx, alice, f.conv, text(body))
		req.NoError(err)
	}

	// When bob clears the conversation
	req.NoError(f.messages.ClearConversation(ctx, bob, f.conv))

	// Then bob sees nothing, alice still sees everything, bob has nothing unread
	recent, err := f.messages.Recent(ctx, bob, f.conv, 10)
	req.NoError(err)
	req.Empty(recent)
	recent, err = f.messages.Recent(ctx, alice, f.conv, 10)
	req.NoError(err)
	req.Len(recent, 3)
	unread, err := f.unread.Resolve(ctx, bob, f.conv)
	req.NoError(err)
	req.Zero(unread)

	// When bob deletes the conversation
	req.NoError(f.messages.DeleteConversation(ctx, bob, f.conv))

	// Then it leaves bob's list only
	summaries, err := f.messages.Conversations(ctx, bob)
	req.NoError(err)
	req.Empty(summaries)
	summaries, err = f.messages.Conversations(ctx, alice)
	req.NoError(err)
	req.Len(summaries, 1)
}
