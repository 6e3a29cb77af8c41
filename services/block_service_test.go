package services

import (
	"chat-core/errors"
	"chat-core/internal"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlockService_Block(t *testing.T) {
	ctx := context.Background()

	t.Run("should stop sends in both directions", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())

		// Given alice blocks bob
		req.NoError(f.blocks.Block(ctx, alice, "bob"))

		// Then the block is symmetric
		blocked, err := f.blocks.IsBlocked(ctx, "bob", "alice")
		req.NoError(err)
		req.True(blocked)

		// And nobody can send
		_, err = f.messages.Send(ctx, bob, f.conv, text("hello?"))
		req.ErrorIs(err, errors.ErrBlocked)
		_, err = f.messages.Send(ctx, alice, f.conv, text("bye"))
		req.ErrorIs(err, errors.ErrBlocked)

		// And no message was created
		recent, err := f.messages.Recent(ctx, alice, f.conv, 10)
		req.NoError(err)
		req.Empty(recent)

		// When alice unblocks bob
		req.NoError(f.blocks.Unblock(ctx, alice, "bob"))

		// Then bob can send again
		_, err = f.messages.Send(ctx, bob, f.conv, text("hello?"))
		req.NoError(err)
	})

	t.Run("should keep the first block time", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())

		req.NoError(f.blocks.Block(ctx, alice, "bob"))
		f.clock.Advance(time.Hour)
		req.NoError(f.blocks.Block(ctx, alice, "bob"))

		relations, err := f.blocks.Blocked(ctx, alice)
		req.NoError(err)
		req.Len(relations, 1)
		req.Equal("bob", relations[0].Blocked)
		req.True(relations[0].CreatedAt.Equal(t0))
	})

	t.Run("should refuse to block oneself", func(t *testing.T) {
		f := newFixture(t, internal.DefaultConfig())
		require.ErrorIs(t, f.blocks.Block(ctx, alice, "alice"), errors.ErrPolicyViolation)
	})

	t.Run("should refuse a target that is not a participant id", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t, internal.DefaultConfig())

		req.ErrorIs(f.blocks.Block(ctx, alice, "bob/extra"), errors.ErrPolicyViolation)
		req.ErrorIs(f.blocks.Unblock(ctx, alice, "bob/extra"), errors.ErrPolicyViolation)

		// Nothing was written under bob's edge
		blocked, err := f.blocks.IsBlocked(ctx, "alice", "bob")
		req.NoError(err)
		req.False(blocked)
	})
}

func TestBlockService_Observe(t *testing.T) {
	ctx := context.Background()
	req := require.New(t)
	f := newFixture(t, internal.DefaultConfig())

	// Given bob watches his relation with alice
	watch, err := f.blocks.Observe(ctx, "bob", "alice")
	req.NoError(err)
	req.False(receive(t, watch.Updates()).Blocked)

	// When alice blocks bob, then bob blocks alice
	req.NoError(f.blocks.Block(ctx, alice, "bob"))
	state := receive(t, watch.Updates())
	req.True(state.Blocked)
	req.True(state.Since.Equal(t0))
	f.clock.Advance(time.Minute)
	req.NoError(f.blocks.Block(ctx, bob, "alice"))

	// Then the second edge changes nothing visible
	silent(t, watch.Updates(), 100*time.Millisecond)

	// When both edges are removed
	req.NoError(f.blocks.Unblock(ctx, alice, "bob"))
	req.True(receive(t, watch.Updates()).Blocked)
	req.NoError(f.blocks.Unblock(ctx, bob, "alice"))
	req.False(receive(t, watch.Updates()).Blocked)

	// And closing twice is harmless
	watch.Close()
	watch.Close()
	_, open := <-watch.Updates()
	req.False(open)
	req.NoError(watch.Err())
}
