package projection

import (
	"chat-core/domain/chat"
	"testing"
	"time"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func message(id, sender, body string, at time.Time) chat.Message {
	return chat.Message{
		ID:         id,
		SenderID:   sender,
		Body:       body,
		Type:       chat.TypeText,
		CreatedAt:  at,
		Receipts:   map[string]chat.Receipt{},
		DeletedFor: map[string]time.Time{},
	}
}

func added(m chat.Message) chat.MessageEvent {
	return chat.MessageEvent{Kind: chat.Added, ID: m.ID, Message: m}
}

func messageIDs(v View) []string {
	entries := lo.Filter(v.Entries, func(e Entry, _ int) bool { return e.Kind == EntryMessage })
	return lo.Map(entries, func(e Entry, _ int) string { return e.MessageID })
}

func TestTimeline_Apply(t *testing.T) {
	conv := chat.NewConversation("alice", "bob")

	t.Run("should ignore a duplicate added event", func(t *testing.T) {
		req := require.New(t)
		tl := NewTimeline(conv, "alice", time.UTC)
		m := message("m1", "bob", "hi", t0)

		first := tl.Apply(added(m))
		second := tl.Apply(added(m))

		req.True(first.Changed)
		req.True(first.ReceiptsDue)
		req.True(second.Duplicate)
		req.False(second.Changed)
		req.Equal(1, tl.Len())
	})

	t.Run("should not ask for receipts on own or read messages", func(t *testing.T) {
		req := require.New(t)
		tl := NewTimeline(conv, "alice", time.UTC)
		read := message("m2", "bob", "seen", t0)
		read.Receipts["alice"] = chat.Receipt{DeliveredAt: lo.ToPtr(t0), ReadAt: lo.ToPtr(t0)}

		req.False(tl.Apply(added(message("m1", "alice", "hi", t0))).ReceiptsDue)
		req.False(tl.Apply(added(read)).ReceiptsDue)
		req.Empty(tl.Unread())
	})

	t.Run("should replace a changed message without side effects", func(t *testing.T) {
		req := require.New(t)
		tl := NewTimeline(conv, "alice", time.UTC)
		m := message("m1", "alice", "helo", t0)
		tl.Apply(added(m))

		edited := m
		edited.EditedBody = lo.ToPtr("hello")
		outcome := tl.Apply(chat.MessageEvent{Kind: chat.Changed, ID: m.ID, Message: edited})

		req.True(outcome.Changed)
		req.False(outcome.ReceiptsDue)
		req.Equal("hello", tl.View().Entries[0].Body)
		req.True(tl.View().Entries[0].Edited)
	})

	t.Run("should purge a removed message", func(t *testing.T) {
		req := require.New(t)
		tl := NewTimeline(conv, "alice", time.UTC)
		tl.Apply(added(message("m1", "bob", "hi", t0)))

		req.True(tl.Apply(chat.MessageEvent{Kind: chat.Removed, ID: "m1"}).Changed)
		req.False(tl.Apply(chat.MessageEvent{Kind: chat.Removed, ID: "m1"}).Changed)
		req.Zero(tl.Len())
	})

	t.Run("should drop messages from a blocked counterpart", func(t *testing.T) {
		req := require.New(t)
		tl := NewTimeline(conv, "alice", time.UTC)
		tl.Apply(added(message("m1", "bob", "before", t0)))

		// Given alice blocked bob
		changed, purged := tl.SetBlock(chat.BlockState{Blocked: true, Since: t0.Add(time.Minute)})
		req.True(changed)
		req.Empty(purged)

		// When bob's message arrives anyway
		outcome := tl.Apply(added(message("m2", "bob", "hello", t0.Add(2*time.Minute))))

		// Then alice never sees it, but keeps the earlier history
		req.True(outcome.Dropped)
		req.False(outcome.ReceiptsDue)
		req.Equal([]string{"m1"}, messageIDs(tl.View()))
		req.True(tl.View().Blocked)
	})

	t.Run("should purge counterpart messages applied before a late block", func(t *testing.T) {
		req := require.New(t)
		tl := NewTimeline(conv, "alice", time.UTC)
		tl.Apply(added(message("m1", "bob", "before", t0)))
		tl.Apply(added(message("m2", "alice", "mine", t0.Add(2*time.Minute))))
		tl.Apply(added(message("m3", "bob", "hello", t0.Add(3*time.Minute))))

		// When the block committed earlier is applied after bob's message
		changed, purged := tl.SetBlock(chat.BlockState{Blocked: true, Since: t0.Add(time.Minute)})

		// Then bob's later message leaves the view and alice's own stays
		req.True(changed)
		req.Equal([]string{"m3"}, purged)
		req.Equal([]string{"m1", "m2"}, messageIDs(tl.View()))
		_, ok := tl.Message("m3")
		req.False(ok)

		// And setting the same state again purges nothing
		changed, purged = tl.SetBlock(chat.BlockState{Blocked: true, Since: t0.Add(time.Minute)})
		req.False(changed)
		req.Empty(purged)
	})

	t.Run("should drop a known blocked message replayed by a resync", func(t *testing.T) {
		req := require.New(t)
		tl := NewTimeline(conv, "alice", time.UTC)
		msg := message("m1", "bob", "hello", t0.Add(2*time.Minute))
		tl.Apply(added(msg))
		tl.block = chat.BlockState{Blocked: true, Since: t0.Add(time.Minute)}

		// When the snapshot replays the message
		tl.BeginResync()
		outcome := tl.Apply(added(msg))
		purged := tl.EndResync()

		// Then it is removed instead of refreshed
		req.True(outcome.Dropped)
		req.True(outcome.Changed)
		req.Empty(purged)
		req.Zero(tl.Len())
	})
}

func TestTimeline_Resync(t *testing.T) {
	req := require.New(t)
	conv := chat.NewConversation("alice", "bob")
	tl := NewTimeline(conv, "alice", time.UTC)
	tl.Apply(added(message("m1", "bob", "one", t0)))
	tl.Apply(added(message("m2", "bob", "two", t0.Add(time.Second))))

	// Given m2 was removed and m1 edited while the subscription was down
	edited := message("m1", "bob", "one", t0)
	edited.EditedBody = lo.ToPtr("uno")

	// When the fresh snapshot is replayed
	tl.BeginResync()
	outcome := tl.Apply(added(edited))
	fresh := tl.Apply(added(message("m3", "bob", "three", t0.Add(2*time.Second))))
	purged := tl.EndResync()

	// Then known messages are refreshed, new ones inserted and missing ones purged
	req.True(outcome.Changed)
	req.False(outcome.Duplicate)
	req.False(outcome.ReceiptsDue)
	req.True(fresh.ReceiptsDue)
	req.Equal([]string{"m2"}, purged)
	req.Equal([]string{"m1", "m3"}, messageIDs(tl.View()))
	req.Equal("uno", tl.View().Entries[0].Body)
	req.False(tl.Resyncing())
}

func TestTimeline_Unread(t *testing.T) {
	req := require.New(t)
	tl := NewTimeline(chat.NewConversation("alice", "bob"), "alice", time.UTC)
	hidden := message("m3", "bob", "hidden", t0.Add(2*time.Second))
	hidden.DeletedFor["alice"] = t0
	tl.Apply(added(message("m2", "bob", "two", t0.Add(time.Second))))
	tl.Apply(added(message("m1", "bob", "one", t0)))
	tl.Apply(added(hidden))
	tl.Apply(added(message("m4", "alice", "mine", t0.Add(3*time.Second))))

	unread := tl.Unread()

	req.Equal([]string{"m1", "m2"}, lo.Map(unread, func(m chat.Message, _ int) string { return m.ID }))
}
